// Package config loads, normalizes, and validates lipsync configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours the LIPSYNC_SIDECAR_URL
// environment fallback. Pipeline options that can be repaired (a non-positive
// frame rate, for instance) are corrected during normalization and reported
// through Config.Warnings rather than failing the load.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
