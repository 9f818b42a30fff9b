package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizePipeline()
	c.normalizeSidecar()
	if err := c.normalizeFaceCache(); err != nil {
		return err
	}
	c.normalizeLogging()
	c.normalizeFFmpeg()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.StagingDir) == "" {
		c.Paths.StagingDir = defaultStagingDir
	}
	if c.Paths.StagingDir, err = expandPath(c.Paths.StagingDir); err != nil {
		return fmt.Errorf("paths.staging_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.CacheDir) == "" {
		c.Paths.CacheDir = defaultCacheDir()
	}
	if c.Paths.CacheDir, err = expandPath(c.Paths.CacheDir); err != nil {
		return fmt.Errorf("paths.cache_dir: %w", err)
	}
	if c.Paths.StagingMaxAgeHours <= 0 {
		c.Paths.StagingMaxAgeHours = defaultStagingMaxAgeHours
	}
	return nil
}

func (c *Config) normalizePipeline() {
	var warnings []string
	c.Pipeline, warnings = c.Pipeline.Normalized()
	c.Warnings = append(c.Warnings, warnings...)
}

func (c *Config) normalizeSidecar() {
	c.Sidecar.URL = strings.TrimSpace(c.Sidecar.URL)
	if c.Sidecar.URL == "" {
		if value, ok := os.LookupEnv(sidecarURLEnv); ok {
			c.Sidecar.URL = strings.TrimSpace(value)
		}
	}
	if c.Sidecar.TimeoutSeconds <= 0 {
		c.Sidecar.TimeoutSeconds = defaultSidecarTimeout
	}
}

func (c *Config) normalizeFaceCache() error {
	var err error
	if strings.TrimSpace(c.FaceCache.Path) == "" {
		c.FaceCache.Path = filepath.Join(c.Paths.CacheDir, defaultFaceCacheFile)
	}
	if c.FaceCache.Path, err = expandPath(c.FaceCache.Path); err != nil {
		return fmt.Errorf("face_cache.path: %w", err)
	}
	return nil
}

func (c *Config) normalizeLogging() {
	format := strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch format {
	case "", "console", "pretty", "text":
		c.Logging.Format = defaultLogFormat
	default:
		c.Logging.Format = format
	}
	level := strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if level == "" {
		level = defaultLogLevel
	}
	c.Logging.Level = level
}

func (c *Config) normalizeFFmpeg() {
	c.FFmpeg.FFmpegBinary = strings.TrimSpace(c.FFmpeg.FFmpegBinary)
	if c.FFmpeg.FFmpegBinary == "" {
		c.FFmpeg.FFmpegBinary = defaultFFmpegBinary
	}
	c.FFmpeg.FFprobeBinary = strings.TrimSpace(c.FFmpeg.FFprobeBinary)
	if c.FFmpeg.FFprobeBinary == "" {
		c.FFmpeg.FFprobeBinary = defaultFFprobeBinary
	}
}
