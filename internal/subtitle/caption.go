package subtitle

import (
	"sync"
	"time"

	"github.com/GriffinCanCode/posecoach/platform/internal/clock"
)

// State is the caption bar.
type State struct {
	Text       string    `json:"text"`
	Visible    bool      `json:"visible"`
	LastUpdate time.Time `json:"last_update"`
}

// CaptionSink receives caption snapshots.
type CaptionSink interface {
	SetSubtitle(State)
}

// CaptionConfig holds caption timings.
type CaptionConfig struct {
	ResetAfter time.Duration // gap that starts a fresh caption
	FadeAfter  time.Duration // idle time before hiding
	PurgeAfter time.Duration // delay between hiding and clearing text
}

// DefaultCaptionConfig returns the standard caption timings.
func DefaultCaptionConfig() CaptionConfig {
	return CaptionConfig{
		ResetAfter: DefaultResetAfter,
		FadeAfter:  DefaultFadeAfter,
		PurgeAfter: DefaultPurgeAfter,
	}
}

// Caption aggregates text fragments into one caption with a timed fade.
type Caption struct {
	cfg  CaptionConfig
	clk  clock.Clock
	sink CaptionSink

	mu    sync.Mutex
	state State
	gen   uint64
	timer clock.Timer // fade or purge, whichever is pending
}

// NewCaption creates a caption aggregator.
func NewCaption(cfg CaptionConfig, clk clock.Clock, sink CaptionSink) *Caption {
	def := DefaultCaptionConfig()
	if cfg.ResetAfter <= 0 {
		cfg.ResetAfter = def.ResetAfter
	}
	if cfg.FadeAfter <= 0 {
		cfg.FadeAfter = def.FadeAfter
	}
	if cfg.PurgeAfter < 0 {
		cfg.PurgeAfter = 0
	}
	return &Caption{cfg: cfg, clk: clock.OrReal(clk), sink: sink}
}

// Push appends text to the current caption, or replaces it when the last
// update is at least ResetAfter old, and restarts the fade timer.
func (c *Caption) Push(text string) State {
	c.mu.Lock()
	now := c.clk.Now()
	if c.state.LastUpdate.IsZero() || now.Sub(c.state.LastUpdate) >= c.cfg.ResetAfter {
		c.state.Text = text
	} else {
		c.state.Text += text
	}
	c.state.Visible = true
	c.state.LastUpdate = now

	c.gen++
	gen := c.gen
	c.stopTimerLocked()
	c.timer = c.clk.AfterFunc(c.cfg.FadeAfter, func() { c.fade(gen) })
	snap := c.state
	c.mu.Unlock()

	c.publish(snap)
	return snap
}

func (c *Caption) fade(gen uint64) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.state.Visible = false
	c.timer = c.clk.AfterFunc(c.cfg.PurgeAfter, func() { c.purge(gen) })
	snap := c.state
	c.mu.Unlock()

	c.publish(snap)
}

func (c *Caption) purge(gen uint64) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.state.Text = ""
	c.timer = nil
	snap := c.state
	c.mu.Unlock()

	c.publish(snap)
}

// Clear cancels pending timers and resets the caption immediately.
func (c *Caption) Clear() {
	c.mu.Lock()
	c.gen++
	c.stopTimerLocked()
	c.state = State{}
	c.mu.Unlock()

	c.publish(State{})
}

// State returns the current caption.
func (c *Caption) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Caption) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Caption) publish(s State) {
	if c.sink != nil {
		c.sink.SetSubtitle(s)
	}
}
