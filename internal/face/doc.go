// Package face locates the single speaker's face in every frame and turns the
// raw detections into padded, clamped and temporally smoothed crop boxes.
//
// Detection itself is delegated to a Detector. The localizer owns batching:
// it starts at the configured detection batch size and halves it whenever the
// detector reports ErrResourceExhausted, restarting the pass until the batch
// size reaches one. A frame without a face aborts the run with a
// FaceNotDetectedError after the frame has been written to disk for
// inspection.
package face
