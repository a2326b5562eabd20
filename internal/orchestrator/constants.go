// Package orchestrator coordinates the live session, the pose catalog, the
// pose gate and the camera.
package orchestrator

import "time"

// Orchestrator configuration constants
const (
	// Camera frames per second when the local camera loop is enabled
	DefaultCameraRate = 1.0

	// Bound on a single camera grab
	CameraCaptureTimeout = 5 * time.Second

	// Drop reasons recorded against the frames-dropped counter
	DropDuplicate = "duplicate"
	DropInvalid   = "invalid_image"
)
