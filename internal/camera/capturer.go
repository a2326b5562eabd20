// Package camera grabs still frames from a local webcam through the
// platform's command-line capture tools.
package camera

import (
	"context"
	"crypto/md5"
	"os"
	"sync"
)

// Capturer grabs JPEG frames with change detection.
type Capturer interface {
	// Capture returns a frame and whether it differs from the previous one.
	Capture(ctx context.Context) ([]byte, bool, error)
	// CaptureAlways returns a frame even when it is unchanged.
	CaptureAlways(ctx context.Context) ([]byte, error)
	Close()
}

// backend implements platform-specific raw capture
type backend interface {
	grab(ctx context.Context) ([]byte, error)
}

// Config selects the device. An empty Device uses the platform default.
type Config struct {
	Device string
}

type baseCapturer struct {
	backend
	mu       sync.Mutex
	lastHash [16]byte
	tempDir  string
}

func newBase(b backend, tempDir string) *baseCapturer {
	return &baseCapturer{backend: b, tempDir: tempDir}
}

func (c *baseCapturer) Capture(ctx context.Context) ([]byte, bool, error) {
	data, err := c.grab(ctx)
	if err != nil || len(data) == 0 {
		return nil, false, err
	}
	hash := md5.Sum(data)
	c.mu.Lock()
	defer c.mu.Unlock()
	if hash == c.lastHash {
		return nil, false, nil
	}
	c.lastHash = hash
	return data, true, nil
}

func (c *baseCapturer) CaptureAlways(ctx context.Context) ([]byte, error) {
	data, err := c.grab(ctx)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.lastHash = md5.Sum(data)
	c.mu.Unlock()
	return data, nil
}

func (c *baseCapturer) Close() {
	if c.tempDir != "" {
		os.RemoveAll(c.tempDir)
	}
}
