// Package services defines shared utilities consumed by the pipeline stages
// and external integrations.
//
// Key responsibilities:
//   - Context helpers that stamp run identifiers, stage names, and correlation
//     identifiers for logging.
//   - Structured error markers plus the Wrap helper that classify failures
//     into the stable kinds reported to callers (invalid audio, detection
//     resource exhaustion, missing face, inference, mux).
//
// Use these helpers when wiring new stage logic so failure reporting stays
// uniform across the pipeline.
package services
