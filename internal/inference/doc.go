// Package inference drives the lip-sync model over assembled batches and
// composites each predicted mouth region back into its frame.
//
// The model is an interface so the pipeline can run against the WebSocket
// sidecar in production and against fakes in tests. Predictions are
// [B, 3, S, S] BGR planes in [0, 1]; they are scaled to bytes, clamped,
// resized to the face box and pasted into the element's private frame copy
// before the frame is handed to the sink.
package inference
