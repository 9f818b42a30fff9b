package facecache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"lipsync/internal/video"
)

// Key derives the cache key for a video decoded with opts.
func Key(videoPath string, opts video.Options) (string, error) {
	f, err := os.Open(videoPath)
	if err != nil {
		return "", fmt.Errorf("open video for digest: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("digest video: %w", err)
	}
	fmt.Fprintf(h, "|crop=%v|resize=%d|rotate=%t", opts.Crop, opts.ResizeFactor, opts.Rotate)
	return hex.EncodeToString(h.Sum(nil)), nil
}
