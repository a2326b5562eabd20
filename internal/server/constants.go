// Package server provides the renderer bridge: REST handlers for session
// control and a websocket that streams live state.
package server

import "time"

// Server configuration constants
const (
	// Per-connection sliding window for inbound websocket messages. Detector
	// output arrives at camera frame rate.
	RateLimitMessages = 60
	RateLimitWindow   = time.Second

	// Bound on a single state push to a slow renderer
	WriteTimeout = 2 * time.Second

	// Largest inbound websocket message (a base64 camera frame)
	MaxMessageBytes = 8 << 20
)

// Websocket message types
const (
	MsgState     = "state"
	MsgError     = "error"
	MsgLandmarks = "landmarks"
	MsgFrame     = "frame"
)
