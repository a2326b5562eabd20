// Package frames prepares camera frames for the image channel: downsize,
// drop near-duplicates, re-encode as JPEG.
package frames

import (
	"bytes"
	"image"
	"image/jpeg"
	_ "image/png" // PNG decoder
	"log/slog"
	"sync"

	"github.com/corona10/goimagehash"
	"github.com/nfnt/resize"

	apperrors "github.com/GriffinCanCode/posecoach/platform/internal/errors"
)

// Frame processing defaults
const (
	DefaultWidth = 640

	// Hamming distance at or below which two frames count as the same
	DefaultMaxHashDistance = 5

	DefaultQuality = 75
)

// Config tunes the pipeline.
type Config struct {
	Width           int
	MaxHashDistance int
	Quality         int
}

// DefaultConfig returns the standard pipeline settings.
func DefaultConfig() Config {
	return Config{Width: DefaultWidth, MaxHashDistance: DefaultMaxHashDistance, Quality: DefaultQuality}
}

func (c Config) withDefaults() Config {
	if c.Width <= 0 {
		c.Width = DefaultWidth
	}
	if c.MaxHashDistance < 0 {
		c.MaxHashDistance = DefaultMaxHashDistance
	}
	if c.Quality <= 0 || c.Quality > 100 {
		c.Quality = DefaultQuality
	}
	return c
}

// Processor holds the hash of the last frame it let through.
type Processor struct {
	cfg      Config
	mu       sync.Mutex
	lastHash *goimagehash.ImageHash
}

// NewProcessor creates a frame processor.
func NewProcessor(cfg Config) *Processor {
	return &Processor{cfg: cfg.withDefaults()}
}

// Prepare decodes data (JPEG or PNG) and returns the JPEG to send. ok is
// false when the frame is a near-duplicate of the previous one.
func (p *Processor) Prepare(data []byte) (out []byte, ok bool, err error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, false, apperrors.Wrap(err, apperrors.InvalidArgument, "decode frame")
	}
	if p.similar(img) {
		return nil, false, nil
	}

	if img.Bounds().Dx() > p.cfg.Width {
		img = resize.Resize(uint(p.cfg.Width), 0, img, resize.Bilinear)
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: p.cfg.Quality}); err != nil {
		return nil, false, apperrors.Wrap(err, apperrors.Internal, "encode frame")
	}
	return buf.Bytes(), true, nil
}

// similar computes the pHash and reports whether it is within the distance
// threshold of the last accepted frame.
func (p *Processor) similar(img image.Image) bool {
	hash, err := goimagehash.PerceptionHash(img)
	if err != nil {
		return false
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.lastHash == nil {
		p.lastHash = hash
		return false
	}
	dist, err := p.lastHash.Distance(hash)
	if err != nil {
		p.lastHash = hash
		return false
	}
	if dist <= p.cfg.MaxHashDistance {
		slog.Debug("skipping similar frame", "distance", dist)
		return true
	}
	p.lastHash = hash
	return false
}

// Reset forgets the last frame so the next one is always sent.
func (p *Processor) Reset() {
	p.mu.Lock()
	p.lastHash = nil
	p.mu.Unlock()
}
