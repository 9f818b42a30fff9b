// Package tensor provides the dense float32 buffers exchanged with the
// lip-sync model. Layout is row-major with the batch dimension first.
package tensor

import (
	"fmt"
	"slices"
)

// Tensor is a dense row-major float32 array with an explicit shape.
type Tensor struct {
	Shape []int
	Data  []float32
}

// New allocates a zeroed tensor of the given shape.
func New(shape ...int) Tensor {
	return Tensor{Shape: slices.Clone(shape), Data: make([]float32, volume(shape))}
}

// FromData wraps data with shape, checking that the element counts agree.
func FromData(data []float32, shape ...int) (Tensor, error) {
	if n := volume(shape); n != len(data) {
		return Tensor{}, fmt.Errorf("tensor: shape %v needs %d values, got %d", shape, n, len(data))
	}
	return Tensor{Shape: slices.Clone(shape), Data: data}, nil
}

// Len returns the number of elements.
func (t Tensor) Len() int { return len(t.Data) }

// Dim returns the size of dimension i, or 0 when out of range.
func (t Tensor) Dim(i int) int {
	if i < 0 || i >= len(t.Shape) {
		return 0
	}
	return t.Shape[i]
}

// HasShape reports whether t has exactly the given shape.
func (t Tensor) HasShape(shape ...int) bool {
	return slices.Equal(t.Shape, shape) && len(t.Data) == volume(shape)
}

// Sample returns the contiguous slice holding batch element b.
func (t Tensor) Sample(b int) []float32 {
	if len(t.Shape) == 0 || t.Shape[0] == 0 {
		return nil
	}
	stride := len(t.Data) / t.Shape[0]
	return t.Data[b*stride : (b+1)*stride]
}

func volume(shape []int) int {
	if len(shape) == 0 {
		return 0
	}
	n := 1
	for _, d := range shape {
		if d < 0 {
			return 0
		}
		n *= d
	}
	return n
}
