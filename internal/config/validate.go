package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.Pipeline.Validate(); err != nil {
		return err
	}
	if err := c.validateSidecar(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	if c.FaceCache.Enabled && strings.TrimSpace(c.FaceCache.Path) == "" {
		return errors.New("face_cache.path must be set when face_cache.enabled is true")
	}
	if strings.TrimSpace(c.Paths.StagingDir) == "" {
		return errors.New("paths.staging_dir must be set")
	}
	return nil
}

func (c *Config) validateSidecar() error {
	if c.Sidecar.TimeoutSeconds <= 0 || c.Sidecar.TimeoutSeconds > sidecarTimeoutSecondsLimit {
		return fmt.Errorf("sidecar.timeout_seconds must be between 1 and %d", sidecarTimeoutSecondsLimit)
	}
	url := strings.ToLower(c.Sidecar.URL)
	if url != "" && !strings.HasPrefix(url, "ws://") && !strings.HasPrefix(url, "wss://") {
		return fmt.Errorf("sidecar.url %q must use ws:// or wss://", c.Sidecar.URL)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format %q must be console or json", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level %q must be debug, info, warn, or error", c.Logging.Level)
	}
	return nil
}

// RequireSidecar reports a configuration error when no sidecar URL is set.
func (c *Config) RequireSidecar() error {
	if strings.TrimSpace(c.Sidecar.URL) != "" {
		return nil
	}
	defaultPath, err := DefaultConfigPath()
	if err != nil {
		defaultPath = defaultConfigPath
	}
	return fmt.Errorf("sidecar.url is required. Set %s env var or edit %s (create with 'lipsync config init')", sidecarURLEnv, defaultPath)
}
