// Package playback schedules inbound coach audio for gapless sequential output
// and publishes the speaking level derived from it.
package playback

import (
	"errors"
	"sync"
	"time"

	"github.com/GriffinCanCode/posecoach/platform/internal/clock"
	apperrors "github.com/GriffinCanCode/posecoach/platform/internal/errors"
	"github.com/GriffinCanCode/posecoach/platform/internal/pcm"
)

// ErrEmptyChunk is returned for audio payloads that decode to no samples.
var ErrEmptyChunk = errors.New("playback: empty audio chunk")

// LevelSink receives the playback audio level and speaking flag.
type LevelSink interface {
	SetAudioLevel(level float64, speaking bool)
}

// Output plays sample buffers. Play must not block; buffers arrive in
// timeline order with start >= previous start + previous duration.
type Output interface {
	Play(samples []float32, start time.Time) error
}

// Observer is notified of each scheduled chunk (metrics).
type Observer interface {
	PlaybackScheduled(lead time.Duration)
}

// Slot is the position of one chunk on the playback timeline.
type Slot struct {
	Start    time.Time
	Duration time.Duration
}

// End returns Start + Duration.
func (s Slot) End() time.Time { return s.Start.Add(s.Duration) }

// AudioClock is the playback timeline cursor.
type AudioClock struct {
	next time.Time
}

// Schedule places a chunk of duration d at max(next, now) and advances the
// cursor past it.
func (c *AudioClock) Schedule(now time.Time, d time.Duration) Slot {
	start := c.next
	if start.Before(now) {
		start = now
	}
	c.next = start.Add(d)
	return Slot{Start: start, Duration: d}
}

// Next returns the cursor.
func (c *AudioClock) Next() time.Time { return c.next }

// Reset rewinds the cursor so the next chunk starts at "now".
func (c *AudioClock) Reset() { c.next = time.Time{} }

// Config for the scheduler.
type Config struct {
	SampleRate int     // inbound audio rate, Hz
	Gain       float64 // RMS multiplier for the published level
}

// DefaultConfig matches the backend's 24kHz speech output.
func DefaultConfig() Config {
	return Config{SampleRate: DefaultSampleRate, Gain: DefaultGain}
}

// Scheduler decodes inbound chunks and schedules them back to back.
type Scheduler struct {
	cfg  Config
	clk  clock.Clock
	out  Output
	sink LevelSink
	obs  Observer

	mu    sync.Mutex
	audio AudioClock
	gen   uint64
	reset clock.Timer
}

// New creates a scheduler. obs may be nil.
func New(cfg Config, clk clock.Clock, out Output, sink LevelSink, obs Observer) *Scheduler {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = DefaultSampleRate
	}
	if cfg.Gain <= 0 {
		cfg.Gain = DefaultGain
	}
	return &Scheduler{cfg: cfg, clk: clock.OrReal(clk), out: out, sink: sink, obs: obs}
}

// Enqueue decodes a base64 PCM16LE chunk and schedules it. Decode failures
// return an error and leave the timeline untouched.
func (s *Scheduler) Enqueue(b64 string) (Slot, error) {
	samples, err := pcm.DecodeBase64(b64)
	if err != nil {
		return Slot{}, err
	}
	return s.Schedule(samples)
}

// Schedule places decoded samples on the timeline. A chunk the output
// rejects does not advance the timeline or change the level.
func (s *Scheduler) Schedule(samples []float32) (Slot, error) {
	if len(samples) == 0 {
		return Slot{}, ErrEmptyChunk
	}
	level := pcm.Level(samples, s.cfg.Gain)

	s.mu.Lock()
	now := s.clk.Now()
	prev := s.audio
	slot := s.audio.Schedule(now, pcm.Duration(len(samples), s.cfg.SampleRate))
	if err := s.out.Play(samples, slot.Start); err != nil {
		s.audio = prev
		s.mu.Unlock()
		return Slot{}, apperrors.Wrap(err, apperrors.OutputFailed, "playback output rejected chunk")
	}
	s.gen++
	gen := s.gen
	if s.reset != nil {
		s.reset.Stop()
	}
	s.reset = s.clk.AfterFunc(slot.End().Sub(now), func() { s.finish(gen) })
	s.sink.SetAudioLevel(level, true)
	s.mu.Unlock()

	if s.obs != nil {
		s.obs.PlaybackScheduled(slot.Start.Sub(now))
	}
	return slot, nil
}

// finish clears the level unless a newer chunk was scheduled since. The
// level is published under the lock so it cannot overwrite a newer chunk's.
func (s *Scheduler) finish(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return
	}
	s.reset = nil
	s.sink.SetAudioLevel(0, false)
}

// Reset cancels the pending level reset, rewinds the timeline and clears
// the level.
func (s *Scheduler) Reset() {
	s.mu.Lock()
	s.gen++
	if s.reset != nil {
		s.reset.Stop()
		s.reset = nil
	}
	s.audio.Reset()
	s.sink.SetAudioLevel(0, false)
	s.mu.Unlock()
}

// NextStart returns the timeline cursor.
func (s *Scheduler) NextStart() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.audio.Next()
}
