package config

import (
	"errors"
	"fmt"
)

// Pipeline holds the per-run options of the lip-sync pipeline. Rectangles use
// the [y1, y2, x1, x2] ordering; -1 on an upper bound means "to the edge".
type Pipeline struct {
	FPS              float64 `toml:"fps"`
	ImageSize        int     `toml:"image_size"`
	Pads             [4]int  `toml:"pads"` // top, bottom, left, right
	Smoothing        bool    `toml:"smoothing"`
	Box              [4]int  `toml:"box"`
	BatchSize        int     `toml:"batch_size"`
	FaceDetBatchSize int     `toml:"face_det_batch_size"`
	Crop             [4]int  `toml:"crop"`
	ResizeFactor     int     `toml:"resize_factor"`
	Rotate           bool    `toml:"rotate"`
}

// HasFixedBox reports whether a fixed face box replaces detection.
func (p Pipeline) HasFixedBox() bool {
	return p.Box[0] != -1
}

// Normalized returns a copy of p with correctable values repaired, along with
// a diagnostic for every correction. Applying it twice yields the same result.
func (p Pipeline) Normalized() (Pipeline, []string) {
	var warnings []string
	if !(p.FPS > 0) {
		warnings = append(warnings, fmt.Sprintf("pipeline.fps %v is not positive; using %v", p.FPS, defaultFPS))
		p.FPS = defaultFPS
	}
	if p.ImageSize <= 0 {
		p.ImageSize = defaultImageSize
	}
	if p.BatchSize <= 0 {
		p.BatchSize = defaultBatchSize
	}
	if p.FaceDetBatchSize <= 0 {
		p.FaceDetBatchSize = defaultFaceDetBatchSize
	}
	if p.ResizeFactor <= 0 {
		p.ResizeFactor = defaultResizeFactor
	}
	return p, warnings
}

// Validate ensures the pipeline options are usable.
func (p Pipeline) Validate() error {
	if !(p.FPS > 0) {
		return errors.New("pipeline.fps must be positive")
	}
	if p.ImageSize <= 0 || p.ImageSize%2 != 0 {
		return errors.New("pipeline.image_size must be a positive even number")
	}
	if p.BatchSize <= 0 {
		return errors.New("pipeline.batch_size must be positive")
	}
	if p.FaceDetBatchSize <= 0 {
		return errors.New("pipeline.face_det_batch_size must be positive")
	}
	if p.ResizeFactor <= 0 {
		return errors.New("pipeline.resize_factor must be positive")
	}
	for i, pad := range p.Pads {
		if pad < 0 {
			return fmt.Errorf("pipeline.pads[%d] must not be negative", i)
		}
	}
	if err := validateRect("pipeline.crop", p.Crop, true); err != nil {
		return err
	}
	if p.HasFixedBox() {
		if err := validateRect("pipeline.box", p.Box, false); err != nil {
			return err
		}
	}
	return nil
}

func validateRect(name string, rect [4]int, openEnded bool) error {
	y1, y2, x1, x2 := rect[0], rect[1], rect[2], rect[3]
	if y1 < 0 || x1 < 0 {
		return fmt.Errorf("%s lower bounds must not be negative", name)
	}
	if openEnded {
		if (y2 != -1 && y2 <= y1) || (x2 != -1 && x2 <= x1) {
			return fmt.Errorf("%s upper bounds must exceed lower bounds or be -1", name)
		}
		return nil
	}
	if y2 <= y1 || x2 <= x1 {
		return fmt.Errorf("%s upper bounds must exceed lower bounds", name)
	}
	return nil
}
