package playback

// Playback defaults
const (
	// Backend speech output rate
	DefaultSampleRate = 24000

	// Speech RMS rarely exceeds ~0.2; x5 maps it onto the full 0..1 range
	DefaultGain = 5.0
)
