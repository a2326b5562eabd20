// Package livestate holds the live session state read by the renderer.
// The session engine, playback scheduler, caption aggregator and pose
// detector write it through narrow sink methods; everyone else reads
// snapshots.
package livestate

import (
	"slices"

	"github.com/GriffinCanCode/posecoach/platform/internal/protocol"
	"github.com/GriffinCanCode/posecoach/platform/internal/session"
	"github.com/GriffinCanCode/posecoach/platform/internal/subtitle"
	"github.com/GriffinCanCode/posecoach/platform/internal/syncx"
)

// Snapshot is a copy of the live state. Mutating it does not affect the
// store.
type Snapshot struct {
	Status       session.Status             `json:"status"`
	LastError    string                     `json:"last_error,omitempty"`
	BackendError string                     `json:"backend_error,omitempty"`
	Landmarks    []protocol.Keypoint        `json:"landmarks"`
	AudioLevel   float64                    `json:"audio_level"`
	Speaking     bool                       `json:"speaking"`
	Subtitle     subtitle.State             `json:"subtitle"`
	Feedback     []subtitle.Item            `json:"feedback"`
	Coach        *protocol.CoachStateUpdate `json:"coach,omitempty"`
	TargetPoseID string                     `json:"target_pose_id,omitempty"`
	Version      uint64                     `json:"version"`
}

// Store is the single live state instance.
type Store struct {
	state  *syncx.RWGuard[Snapshot]
	notify *syncx.Notifier
}

var (
	_ session.Sink          = (*Store)(nil)
	_ subtitle.CaptionSink  = (*Store)(nil)
	_ subtitle.FeedbackSink = (*Store)(nil)
)

// New creates a store in the disconnected state.
func New() *Store {
	return &Store{
		state:  syncx.NewGuard(Snapshot{Status: session.StatusDisconnected}),
		notify: syncx.NewNotifier(),
	}
}

// Snapshot returns a deep copy of the current state.
func (s *Store) Snapshot() Snapshot {
	var out Snapshot
	s.state.Read(func(v *Snapshot) {
		out = *v
		out.Landmarks = cloneKeypoints(v.Landmarks)
		out.Feedback = slices.Clone(v.Feedback)
		if v.Coach != nil {
			c := *v.Coach
			c.CompletedSteps = slices.Clone(v.Coach.CompletedSteps)
			out.Coach = &c
		}
	})
	return out
}

// Subscribe returns a coalescing change signal and its cancel func.
func (s *Store) Subscribe() (<-chan struct{}, func()) {
	return s.notify.Subscribe()
}

func (s *Store) update(fn func(*Snapshot)) {
	s.state.Write(func(v *Snapshot) {
		fn(v)
		v.Version++
	})
	s.notify.Notify()
}

// SetStatus records a session status change. A new attempt clears the
// backend error; disconnecting clears the coach state.
func (s *Store) SetStatus(status session.Status, lastError string) {
	s.update(func(v *Snapshot) {
		v.Status = status
		v.LastError = lastError
		if status == session.StatusConnecting {
			v.BackendError = ""
		}
		if status == session.StatusDisconnected {
			v.Coach = nil
		}
	})
}

// SetBackendError records a backend-reported error message.
func (s *Store) SetBackendError(message string) {
	s.update(func(v *Snapshot) { v.BackendError = message })
}

// SetCoachState stores the latest coach step update as received.
func (s *Store) SetCoachState(u protocol.CoachStateUpdate) {
	u.CompletedSteps = slices.Clone(u.CompletedSteps)
	s.update(func(v *Snapshot) { v.Coach = &u })
}

// SetAudioLevel publishes the playback level.
func (s *Store) SetAudioLevel(level float64, speaking bool) {
	s.update(func(v *Snapshot) {
		v.AudioLevel = level
		v.Speaking = speaking
	})
}

// SetSubtitle publishes the caption bar.
func (s *Store) SetSubtitle(st subtitle.State) {
	s.update(func(v *Snapshot) { v.Subtitle = st })
}

// SetFeedback publishes the bubble list.
func (s *Store) SetFeedback(items []subtitle.Item) {
	items = slices.Clone(items)
	s.update(func(v *Snapshot) { v.Feedback = items })
}

// SetLandmarks publishes the latest detector output for the overlay. nil
// clears it.
func (s *Store) SetLandmarks(kps []protocol.Keypoint) {
	kps = cloneKeypoints(kps)
	s.update(func(v *Snapshot) { v.Landmarks = kps })
}

// SetTargetPose records the active target pose id.
func (s *Store) SetTargetPose(id string) {
	s.update(func(v *Snapshot) { v.TargetPoseID = id })
}

// cloneKeypoints copies kps including each visibility value.
func cloneKeypoints(kps []protocol.Keypoint) []protocol.Keypoint {
	out := slices.Clone(kps)
	for i, kp := range out {
		if kp.Visibility != nil {
			v := *kp.Visibility
			out[i].Visibility = &v
		}
	}
	return out
}
