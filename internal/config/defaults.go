package config

const (
	defaultConfigPath          = "~/.config/lipsync/config.toml"
	defaultStagingDir          = "~/.local/share/lipsync/staging"
	defaultLogDir              = "~/.local/share/lipsync/logs"
	defaultStagingMaxAgeHours  = 24
	defaultLogFormat           = "console"
	defaultLogLevel            = "info"
	defaultSidecarTimeout      = 120
	defaultFaceCacheFile       = "faces.db"
	defaultFFmpegBinary        = "ffmpeg"
	defaultFFprobeBinary       = "ffprobe"
	defaultFPS                 = 25.0
	defaultImageSize           = 96
	defaultBatchSize           = 1
	defaultFaceDetBatchSize    = 1
	defaultResizeFactor        = 1
	sidecarURLEnv              = "LIPSYNC_SIDECAR_URL"
	sidecarTimeoutSecondsLimit = 3600
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StagingDir:         defaultStagingDir,
			LogDir:             defaultLogDir,
			CacheDir:           defaultCacheDir(),
			StagingMaxAgeHours: defaultStagingMaxAgeHours,
		},
		Pipeline: DefaultPipeline(),
		Sidecar: Sidecar{
			TimeoutSeconds: defaultSidecarTimeout,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
		FFmpeg: FFmpeg{
			FFmpegBinary:  defaultFFmpegBinary,
			FFprobeBinary: defaultFFprobeBinary,
		},
	}
}

// DefaultPipeline returns the pipeline options used when nothing is configured.
func DefaultPipeline() Pipeline {
	return Pipeline{
		FPS:              defaultFPS,
		ImageSize:        defaultImageSize,
		Pads:             [4]int{0, 10, 0, 0},
		Smoothing:        true,
		Box:              [4]int{-1, -1, -1, -1},
		BatchSize:        defaultBatchSize,
		FaceDetBatchSize: defaultFaceDetBatchSize,
		Crop:             [4]int{0, -1, 0, -1},
		ResizeFactor:     defaultResizeFactor,
	}
}
