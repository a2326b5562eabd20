package subtitle

import "time"

// Caption and bubble timings
const (
	DefaultResetAfter = 3 * time.Second
	DefaultFadeAfter  = 2 * time.Second
	DefaultPurgeAfter = 300 * time.Millisecond // exit animation window

	DefaultFeedbackTTL = 4 * time.Second
	DefaultFeedbackMax = 3
)
