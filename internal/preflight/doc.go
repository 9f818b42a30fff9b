// Package preflight provides readiness checks for the binaries, directories
// and services a lipsync run depends on.
//
// The CLI "lipsync doctor" command renders every check. "lipsync run" only
// evaluates CheckSystemDeps and refuses to start when ffmpeg or ffprobe is
// missing.
//
// Optional features are only checked when enabled in the config.
package preflight
