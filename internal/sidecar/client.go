package sidecar

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"

	"lipsync/internal/face"
	"lipsync/internal/logging"
	"lipsync/internal/tensor"
)

// maxMessageBytes bounds a single response; a prediction batch for a large
// image_size runs to tens of megabytes once base64 encoded.
const maxMessageBytes = 512 << 20

// ServerError is a request the server rejected.
type ServerError struct {
	Op      string
	Code    string
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("sidecar %s failed (%s): %s", e.Op, e.Code, e.Message)
}

// Is maps resource exhaustion onto face.ErrResourceExhausted.
func (e *ServerError) Is(target error) bool {
	return target == face.ErrResourceExhausted && e.Code == CodeResourceExhausted
}

// Client is one WebSocket connection to the sidecar.
type Client struct {
	conn    *websocket.Conn
	timeout time.Duration
	logger  *slog.Logger

	mu  sync.Mutex
	seq uint64
}

// Dial connects to url. timeout bounds each request round trip; zero means
// only the caller's context applies.
func Dial(ctx context.Context, url string, timeout time.Duration, logger *slog.Logger) (*Client, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("sidecar: dial %s: %w", url, err)
	}
	conn.SetReadLimit(maxMessageBytes)
	logger = logging.NewComponentLogger(logger, "sidecar")
	logger.Debug("sidecar connected", logging.String("url", url))
	return &Client{conn: conn, timeout: timeout, logger: logger}, nil
}

// Close ends the session.
func (c *Client) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "run finished")
}

// DetectBatch implements face.Detector.
func (c *Client) DetectBatch(ctx context.Context, frames []*image.RGBA) ([]face.Detection, error) {
	req := Request{Op: OpDetect, Frames: make([]Frame, len(frames))}
	for i, f := range frames {
		req.Frames[i] = EncodeFrame(f)
	}
	resp, err := c.roundTrip(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(resp.Detections) != len(frames) {
		return nil, fmt.Errorf("sidecar detect: %d detections for %d frames", len(resp.Detections), len(frames))
	}
	return resp.Detections, nil
}

// Infer implements inference.Model.
func (c *Client) Infer(ctx context.Context, mels, images tensor.Tensor) (tensor.Tensor, error) {
	resp, err := c.roundTrip(ctx, Request{Op: OpInfer, Mels: EncodeTensor(mels), Images: EncodeTensor(images)})
	if err != nil {
		return tensor.Tensor{}, err
	}
	pred, err := DecodeTensor(resp.Prediction)
	if err != nil {
		return tensor.Tensor{}, fmt.Errorf("sidecar infer: %w", err)
	}
	return pred, nil
}

func (c *Client) roundTrip(ctx context.Context, req Request) (Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	c.seq++
	req.ID = strconv.FormatUint(c.seq, 10)

	payload, err := json.Marshal(req)
	if err != nil {
		return Response{}, fmt.Errorf("sidecar %s: encode: %w", req.Op, err)
	}
	start := time.Now()
	if err := c.conn.Write(ctx, websocket.MessageText, payload); err != nil {
		return Response{}, fmt.Errorf("sidecar %s: write: %w", req.Op, err)
	}
	_, data, err := c.conn.Read(ctx)
	if err != nil {
		return Response{}, fmt.Errorf("sidecar %s: read: %w", req.Op, err)
	}
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return Response{}, fmt.Errorf("sidecar %s: decode: %w", req.Op, err)
	}
	if resp.ID != req.ID {
		return Response{}, fmt.Errorf("sidecar %s: response id %q does not match request %q", req.Op, resp.ID, req.ID)
	}
	if resp.Error != nil {
		return Response{}, &ServerError{Op: req.Op, Code: resp.Error.Code, Message: resp.Error.Message}
	}
	c.logger.Debug("sidecar request complete",
		logging.String("op", req.Op),
		logging.Int("request_bytes", len(payload)),
		logging.Int("response_bytes", len(data)),
		logging.Duration("elapsed", time.Since(start)),
	)
	return resp, nil
}
