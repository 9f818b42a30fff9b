// Package main hosts the lipsync CLI entrypoint and command graph.
//
// The Cobra-based command tree runs lip-sync jobs, reports readiness of the
// external binaries and the sidecar, manages per-run staging directories and
// the face detection cache, and scaffolds configuration. It centralizes
// configuration resolution and logging setup so subcommands stay small.
//
// Add functionality to the internal packages first, then surface it here
// through a dedicated command or flag.
package main
