package face

import (
	"errors"
	"fmt"

	"lipsync/internal/services"
)

// ErrResourceExhausted is returned by a Detector when the batch it was handed
// does not fit in the memory available to it. The localizer retries with a
// smaller batch.
var ErrResourceExhausted = errors.New("detector resources exhausted")

// FaceNotDetectedError reports the first frame in which no face was found.
type FaceNotDetectedError struct {
	Frame        int
	ArtifactPath string
}

func (e *FaceNotDetectedError) Error() string {
	msg := fmt.Sprintf("face not detected in frame %d; ensure the video contains a face in all the frames", e.Frame)
	if e.ArtifactPath != "" {
		msg += " (frame saved to " + e.ArtifactPath + ")"
	}
	return msg
}

// Is lets errors.Is match services.ErrFaceNotDetected.
func (e *FaceNotDetectedError) Is(target error) bool {
	return target == services.ErrFaceNotDetected
}
