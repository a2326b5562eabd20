package subtitle

// Feed routes accepted text to the caption bar and, when configured, the
// bubble queue. Thinking tokens never reach either.
type Feed struct {
	Caption *Caption
	Bubbles *Queue // optional
}

// Push filters text and forwards it. Returns false when text was discarded.
func (f *Feed) Push(text string) bool {
	if IsThinking(text) {
		return false
	}
	f.Caption.Push(text)
	if f.Bubbles != nil {
		f.Bubbles.Add(text)
	}
	return true
}

// Clear resets both presentations and cancels their timers.
func (f *Feed) Clear() {
	f.Caption.Clear()
	if f.Bubbles != nil {
		f.Bubbles.Clear()
	}
}
