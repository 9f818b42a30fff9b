package sidecar

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"image"
	"math"

	"lipsync/internal/face"
	"lipsync/internal/tensor"
)

const (
	OpDetect = "detect"
	OpInfer  = "infer"

	// CodeResourceExhausted is the error code a server uses when a batch does
	// not fit in its memory.
	CodeResourceExhausted = "resource_exhausted"
)

// Frame is an RGBA image on the wire.
type Frame struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	RGBA   string `json:"rgba"`
}

// Tensor is a float32 tensor on the wire.
type Tensor struct {
	Shape []int  `json:"shape"`
	Data  string `json:"data"`
}

// Request is a client-to-server message.
type Request struct {
	ID     string  `json:"id"`
	Op     string  `json:"op"`
	Frames []Frame `json:"frames,omitempty"`
	Mels   *Tensor `json:"mels,omitempty"`
	Images *Tensor `json:"images,omitempty"`
}

// Response is a server-to-client message.
type Response struct {
	ID         string           `json:"id"`
	Error      *ErrorBody       `json:"error,omitempty"`
	Detections []face.Detection `json:"detections,omitempty"`
	Prediction *Tensor          `json:"prediction,omitempty"`
}

// ErrorBody describes a failed request.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// EncodeFrame packs img into a wire frame.
func EncodeFrame(img *image.RGBA) Frame {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	pix := make([]byte, 0, w*h*4)
	for y := range h {
		off := img.PixOffset(b.Min.X, b.Min.Y+y)
		pix = append(pix, img.Pix[off:off+w*4]...)
	}
	return Frame{Width: w, Height: h, RGBA: base64.StdEncoding.EncodeToString(pix)}
}

// DecodeFrame unpacks a wire frame.
func DecodeFrame(f Frame) (*image.RGBA, error) {
	pix, err := base64.StdEncoding.DecodeString(f.RGBA)
	if err != nil {
		return nil, fmt.Errorf("decode frame pixels: %w", err)
	}
	if f.Width <= 0 || f.Height <= 0 || len(pix) != f.Width*f.Height*4 {
		return nil, fmt.Errorf("frame %dx%d carries %d bytes", f.Width, f.Height, len(pix))
	}
	img := image.NewRGBA(image.Rect(0, 0, f.Width, f.Height))
	copy(img.Pix, pix)
	return img, nil
}

// EncodeTensor packs t into its wire form.
func EncodeTensor(t tensor.Tensor) *Tensor {
	buf := make([]byte, 4*len(t.Data))
	for i, v := range t.Data {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return &Tensor{Shape: t.Shape, Data: base64.StdEncoding.EncodeToString(buf)}
}

// DecodeTensor unpacks a wire tensor, checking the shape against the payload.
func DecodeTensor(w *Tensor) (tensor.Tensor, error) {
	if w == nil {
		return tensor.Tensor{}, fmt.Errorf("missing tensor")
	}
	buf, err := base64.StdEncoding.DecodeString(w.Data)
	if err != nil {
		return tensor.Tensor{}, fmt.Errorf("decode tensor data: %w", err)
	}
	if len(buf)%4 != 0 {
		return tensor.Tensor{}, fmt.Errorf("tensor payload of %d bytes is not float32 aligned", len(buf))
	}
	data := make([]float32, len(buf)/4)
	for i := range data {
		data[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return tensor.FromData(data, w.Shape...)
}
