// Package posegate decides which detector results are worth sending as pose
// frames.
package posegate

import (
	"log/slog"
	"sync"
	"time"

	"github.com/GriffinCanCode/posecoach/platform/internal/clock"
	"github.com/GriffinCanCode/posecoach/platform/internal/protocol"
)

// Gate thresholds
const (
	// MinLandmarks is the full body-landmark model size; the backend drops
	// smaller sets.
	MinLandmarks = 33

	LeftAnkle  = 27
	RightAnkle = 28

	MinVisibility      = 0.5
	DefaultMinInterval = time.Second
)

// Reason explains a rejected landmark set.
type Reason string

// Rejection reasons, also used as metric labels.
const (
	Accepted      Reason = ""
	Disabled      Reason = "disabled"
	TooFew        Reason = "too_few_landmarks"
	FeetNotInView Reason = "feet_not_visible"
	TooSoon       Reason = "rate_limited"
)

// Gate rate limits and filters landmark sets.
type Gate struct {
	clk         clock.Clock
	mu          sync.Mutex
	enabled     bool
	minInterval time.Duration
	lastSent    time.Time
}

// New creates a gate. A non-positive interval uses DefaultMinInterval.
func New(minInterval time.Duration, clk clock.Clock) *Gate {
	if minInterval <= 0 {
		minInterval = DefaultMinInterval
	}
	return &Gate{clk: clock.OrReal(clk), enabled: true, minInterval: minInterval}
}

// Check reports whether kps should be sent now and records the send when it
// should. needFeet requires both ankles to be visible.
func (g *Gate) Check(kps []protocol.Keypoint, needFeet bool) Reason {
	if !g.IsEnabled() {
		return Disabled
	}
	if len(kps) < MinLandmarks {
		return TooFew
	}
	if needFeet && (kps[LeftAnkle].Vis() < MinVisibility || kps[RightAnkle].Vis() < MinVisibility) {
		return FeetNotInView
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.clk.Now()
	if !g.lastSent.IsZero() && now.Sub(g.lastSent) < g.minInterval {
		return TooSoon
	}
	g.lastSent = now
	return Accepted
}

// Reset forgets the last send so the next valid set passes immediately.
func (g *Gate) Reset() {
	g.mu.Lock()
	g.lastSent = time.Time{}
	g.mu.Unlock()
}

// SetEnabled enables/disables pose streaming
func (g *Gate) SetEnabled(enabled bool) {
	g.mu.Lock()
	g.enabled = enabled
	g.mu.Unlock()
	slog.Info("pose streaming state changed", "enabled", enabled)
}

// IsEnabled returns current enabled state
func (g *Gate) IsEnabled() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.enabled
}
