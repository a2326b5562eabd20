package audio

// Windower cuts a continuous sample stream into fixed-size windows. There
// is no overlap and no window function; a trailing partial window is held
// until it fills.
type Windower struct {
	size int
	buf  []float32
	emit func([]float32)
}

// NewWindower creates a windower that calls emit with each full window.
// emit owns the slice it receives.
func NewWindower(size int, emit func([]float32)) *Windower {
	if size <= 0 {
		size = WindowSamples
	}
	return &Windower{size: size, buf: make([]float32, 0, size*2), emit: emit}
}

// Write appends samples and emits every window they complete.
func (w *Windower) Write(samples []float32) {
	w.buf = append(w.buf, samples...)
	for len(w.buf) >= w.size {
		window := make([]float32, w.size)
		copy(window, w.buf[:w.size])
		w.buf = w.buf[w.size:]
		w.emit(window)
	}
}

// Pending returns the number of buffered samples not yet emitted.
func (w *Windower) Pending() int { return len(w.buf) }

// Reset drops buffered samples.
func (w *Windower) Reset() { w.buf = w.buf[:0] }
