package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/GriffinCanCode/posecoach/platform/internal/playback"
	"github.com/GriffinCanCode/posecoach/platform/internal/protocol"
)

// AudioBackend creates audio contexts (device host sessions).
type AudioBackend interface {
	NewContext(ctx context.Context, sampleRate int) (AudioContext, error)
}

// AudioContext owns the devices opened for one session.
type AudioContext interface {
	// Resume blocks until the context can process audio.
	Resume(ctx context.Context) error
	// OpenMicrophone acquires the input device. Denied access must be
	// reported as a PermissionDenied AppError.
	OpenMicrophone(ctx context.Context) (Microphone, error)
	// OpenOutput opens the speaker at sampleRate.
	OpenOutput(sampleRate int) (playback.Output, error)
	Close() error
}

// Microphone is an acquired input stream.
type Microphone interface {
	// Start begins capture. onWindow receives each full window on the
	// capture goroutine; the slice is owned by the callee.
	Start(onWindow func(window []float32)) error
	Close() error
}

// Dialer opens the duplex transport to the coaching backend.
type Dialer interface {
	Dial(ctx context.Context, url string, header http.Header) (Transport, error)
}

// Transport is a message-oriented duplex channel. Write may be called
// concurrently with Read.
type Transport interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Close(code int, reason string) error
}

// Close codes used by the engine.
const (
	CloseNormal        = 1000
	ClosePolicy        = 1008
	CloseInternalError = 1011
)

// CloseError reports the peer's close frame.
type CloseError struct {
	Code   int
	Reason string
}

func (e *CloseError) Error() string {
	return fmt.Sprintf("transport closed: %d %s", e.Code, e.Reason)
}

// CloseCode extracts the close code from err, or -1.
func CloseCode(err error) int {
	var ce *CloseError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return -1
}

// Sink receives lifecycle and coach updates. Methods are called with the
// engine lock held and must not call back into the Engine.
type Sink interface {
	SetStatus(status Status, lastError string)
	SetBackendError(message string)
	SetCoachState(update protocol.CoachStateUpdate)
}
