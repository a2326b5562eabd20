// Package audio captures the microphone and plays coach speech through
// portaudio.
package audio

import "time"

const (
	// WindowSamples is the uplink frame size.
	WindowSamples = 4096

	// FramesPerBuffer is the portaudio read/write block size.
	FramesPerBuffer = 1024

	// SpeakerQueue bounds chunks waiting for the output device.
	SpeakerQueue = 64

	// startSlack is how early a chunk may be written ahead of its slot.
	startSlack = 5 * time.Millisecond
)

// DefaultExcludedDevices are input devices never picked as the microphone.
var DefaultExcludedDevices = []string{"iphone", "teams", "blackhole", "loopback"}
