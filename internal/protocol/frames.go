// Package protocol defines the JSON frames exchanged with the coaching backend.
//
// Every frame is an object tagged by "type". Outbound and inbound frames are
// sealed interfaces; callers switch over the concrete variants.
package protocol

import (
	"math"
)

// Type is the "type" tag of a frame.
type Type string

// Frame types.
const (
	TypeAudio         Type = "audio"
	TypeImage         Type = "image"
	TypePose          Type = "pose"
	TypeSetTargetPose Type = "set_target_pose"
	TypeText          Type = "text"
	TypeError         Type = "error"
	TypeCoachState    Type = "coach_state"
)

// Outbound is a frame sent to the backend.
type Outbound interface {
	Type() Type
	payload() any
}

// AudioFrame carries base64 PCM16LE mono 16kHz microphone audio.
type AudioFrame struct {
	Data string
}

// ImageFrame carries a base64 JPEG camera frame.
type ImageFrame struct {
	Data string
}

// PoseFrame carries one landmark set.
type PoseFrame struct {
	Landmarks []PoseLandmark
}

// SetTargetPoseFrame describes the pose the user is coached towards.
type SetTargetPoseFrame struct {
	Pose TargetPose
}

// TextFrame carries typed user text.
type TextFrame struct {
	Data string
}

func (AudioFrame) Type() Type         { return TypeAudio }
func (ImageFrame) Type() Type         { return TypeImage }
func (PoseFrame) Type() Type          { return TypePose }
func (SetTargetPoseFrame) Type() Type { return TypeSetTargetPose }
func (TextFrame) Type() Type          { return TypeText }

func (f AudioFrame) payload() any         { return f.Data }
func (f ImageFrame) payload() any         { return f.Data }
func (f PoseFrame) payload() any          { return f.Landmarks }
func (f SetTargetPoseFrame) payload() any { return f.Pose }
func (f TextFrame) payload() any          { return f.Data }

// Keypoint is one body landmark as produced by the local detector.
// Coordinates are normalized; Visibility is nil when the detector omits it.
type Keypoint struct {
	X          float64  `json:"x"`
	Y          float64  `json:"y"`
	Z          float64  `json:"z"`
	Visibility *float64 `json:"visibility,omitempty"`
}

// Vis returns the keypoint visibility, 1.0 when unknown.
func (k Keypoint) Vis() float64 {
	if k.Visibility == nil {
		return 1
	}
	return *k.Visibility
}

// PoseLandmark is the wire form of a keypoint.
type PoseLandmark struct {
	Idx int     `json:"idx"`
	X   float64 `json:"x"`
	Y   float64 `json:"y"`
	Z   float64 `json:"z"`
	V   float64 `json:"v"`
}

// NewPoseFrame converts detector keypoints to wire landmarks, rounding
// coordinates to 3 decimals and visibility to 2.
func NewPoseFrame(kps []Keypoint) PoseFrame {
	out := make([]PoseLandmark, len(kps))
	for i, k := range kps {
		out[i] = PoseLandmark{
			Idx: i,
			X:   round(k.X, 3),
			Y:   round(k.Y, 3),
			Z:   round(k.Z, 3),
			V:   round(k.Vis(), 2),
		}
	}
	return PoseFrame{Landmarks: out}
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

// TargetPose is the set_target_pose payload.
type TargetPose struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Head        string   `json:"head"`
	Hands       string   `json:"hands"`
	Feet        string   `json:"feet"`
	Tips        []string `json:"tips"`
}

// Inbound is a frame received from the backend.
type Inbound interface {
	inbound()
}

// AudioChunk carries base64 PCM16LE mono 24kHz coach speech.
type AudioChunk struct {
	Data string `validate:"required,base64"`
}

// Text is a caption fragment.
type Text struct {
	Data string
}

// Error is a backend-reported failure.
type Error struct {
	Message string
}

// CoachState routes a coach step update to the UI.
type CoachState struct {
	Update CoachStateUpdate
}

// Ignored is an inbound frame the engine does not act on: unknown type or
// a payload that failed validation.
type Ignored struct {
	Type   Type
	Reason string
}

func (AudioChunk) inbound() {}
func (Text) inbound()       {}
func (Error) inbound()      {}
func (CoachState) inbound() {}
func (Ignored) inbound()    {}

// CoachPhase is the coach state machine phase.
type CoachPhase string

// Coach phases.
const (
	PhaseIdle        CoachPhase = "idle"
	PhaseInstruction CoachPhase = "instruction"
	PhaseWatching    CoachPhase = "watching"
	PhaseConfirmed   CoachPhase = "confirmed"
	PhaseComplete    CoachPhase = "complete"
)

// CoachStateUpdate is coach step telemetry.
type CoachStateUpdate struct {
	Active         bool       `json:"active"`
	CurrentStep    int        `json:"current_step" validate:"gte=0"`
	TotalSteps     int        `json:"total_steps" validate:"gte=0"`
	State          CoachPhase `json:"state" validate:"oneof=idle instruction watching confirmed complete"`
	Attempt        int        `json:"attempt" validate:"gte=0"`
	CompletedSteps []int      `json:"completed_steps"`
}
