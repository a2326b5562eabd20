// Package session runs the live coaching session: connection lifecycle,
// microphone uplink, inbound frame dispatch and outbound sends.
package session

import "time"

const (
	// DefaultURL is the coaching backend's live endpoint.
	DefaultURL = "ws://localhost:8000/ws/live"

	// CaptureSampleRate is the microphone rate sent to the backend.
	CaptureSampleRate = 16000

	// DefaultSendTimeout bounds a single transport write.
	DefaultSendTimeout = 2 * time.Second

	// DefaultReadLimit bounds inbound websocket messages (audio chunks are
	// well below this).
	DefaultReadLimit = 4 << 20
)
