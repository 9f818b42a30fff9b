// Package facecache persists raw face detections in SQLite so that running
// the pipeline again on the same video skips the detector.
//
// Entries are keyed by Key: a SHA-256 digest of the video file combined with
// the load options that change what the detector sees (crop, resize factor,
// rotation). The database lives at face_cache.path and uses the modernc.org
// pure-Go driver, so no cgo toolchain is needed.
package facecache
