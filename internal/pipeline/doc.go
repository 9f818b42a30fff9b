// Package pipeline is the caller-facing entry point of lipsync.
//
// Runner.Run takes a source video, a target audio track and an output path and
// produces a lip-synced video: audio features and video frames are decoded
// concurrently, faces are located and smoothed, batches are driven through the
// model, and the composited frames are muxed with the new audio. Each run owns
// a private staging directory that is removed on every exit path, and holds an
// exclusive lock on the output path while it runs.
//
// Failures carry a services sentinel; Classify maps them to the stable kind
// strings an orchestration layer records.
package pipeline
