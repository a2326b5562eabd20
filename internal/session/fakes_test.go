package session

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/GriffinCanCode/posecoach/platform/internal/playback"
	"github.com/GriffinCanCode/posecoach/platform/internal/protocol"
	"github.com/GriffinCanCode/posecoach/platform/internal/subtitle"
)

var errTransportClosed = errors.New("transport closed locally")

type fakeTransport struct {
	in   chan []byte
	peer chan error
	done chan struct{}
	once sync.Once

	// blockWrites makes Write wait for its context, like a stalled socket.
	blockWrites  bool
	writeEntered chan struct{}

	mu        sync.Mutex
	writes    [][]byte
	closeCode int
	closes    int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		in:   make(chan []byte, 16),
		peer: make(chan error, 1),
		done: make(chan struct{}),
	}
}

func (f *fakeTransport) Read(ctx context.Context) ([]byte, error) {
	select {
	case b := <-f.in:
		return b, nil
	case err := <-f.peer:
		return nil, err
	case <-f.done:
		return nil, errTransportClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeTransport) Write(ctx context.Context, data []byte) error {
	if f.blockWrites {
		select {
		case f.writeEntered <- struct{}{}:
		default:
		}
		<-ctx.Done()
		return ctx.Err()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	select {
	case <-f.done:
		return errTransportClosed
	default:
	}
	f.writes = append(f.writes, append([]byte(nil), data...))
	return nil
}

func (f *fakeTransport) Close(code int, _ string) error {
	f.mu.Lock()
	f.closes++
	f.closeCode = code
	f.mu.Unlock()
	f.once.Do(func() { close(f.done) })
	return nil
}

func (f *fakeTransport) Writes() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.writes...)
}

func (f *fakeTransport) CloseCode() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeCode, f.closes
}

type fakeDialer struct {
	transport *fakeTransport
	err       error
	block     bool          // wait for ctx cancellation
	started   chan struct{} // closed when Dial is entered

	mu     sync.Mutex
	dials  int
	header http.Header
}

func (d *fakeDialer) Dial(ctx context.Context, _ string, header http.Header) (Transport, error) {
	d.mu.Lock()
	d.dials++
	d.header = header
	d.mu.Unlock()
	if d.started != nil {
		close(d.started)
	}
	if d.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if d.err != nil {
		return nil, d.err
	}
	return d.transport, nil
}

func (d *fakeDialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

type fakeOutput struct {
	mu     sync.Mutex
	chunks int
}

func (o *fakeOutput) Play([]float32, time.Time) error {
	o.mu.Lock()
	o.chunks++
	o.mu.Unlock()
	return nil
}

func (o *fakeOutput) Chunks() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.chunks
}

type fakeMic struct {
	startErr error
	// drain makes Close wait for in-flight windows, like the capture
	// goroutine join in the portaudio microphone.
	drain    bool
	inFlight sync.WaitGroup

	mu       sync.Mutex
	onWindow func([]float32)
	closes   int
}

func (m *fakeMic) Start(onWindow func([]float32)) error {
	if m.startErr != nil {
		return m.startErr
	}
	m.mu.Lock()
	m.onWindow = onWindow
	m.mu.Unlock()
	return nil
}

func (m *fakeMic) Close() error {
	if m.drain {
		m.inFlight.Wait()
	}
	m.mu.Lock()
	m.closes++
	m.mu.Unlock()
	return nil
}

func (m *fakeMic) Emit(window []float32) {
	m.inFlight.Add(1)
	defer m.inFlight.Done()
	m.mu.Lock()
	fn := m.onWindow
	m.mu.Unlock()
	if fn != nil {
		fn(window)
	}
}

func (m *fakeMic) Closes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closes
}

type fakeAudio struct {
	mic         *fakeMic
	out         *fakeOutput
	micErr      error
	blockResume bool
	resumed     chan struct{}

	mu     sync.Mutex
	closes int
	rate   int
}

func (a *fakeAudio) NewContext(_ context.Context, rate int) (AudioContext, error) {
	a.mu.Lock()
	a.rate = rate
	a.mu.Unlock()
	return a, nil
}

func (a *fakeAudio) Resume(ctx context.Context) error {
	if a.resumed != nil {
		close(a.resumed)
	}
	if a.blockResume {
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}

func (a *fakeAudio) OpenMicrophone(context.Context) (Microphone, error) {
	if a.micErr != nil {
		return nil, a.micErr
	}
	return a.mic, nil
}

func (a *fakeAudio) OpenOutput(int) (playback.Output, error) { return a.out, nil }

func (a *fakeAudio) Close() error {
	a.mu.Lock()
	a.closes++
	a.mu.Unlock()
	return nil
}

func (a *fakeAudio) Closes() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closes
}

type recordingSink struct {
	mu       sync.Mutex
	statuses []Status
	lastErr  string
	backend  []string
	coach    []protocol.CoachStateUpdate
	level    float64
	speaking bool
	caption  subtitle.State
}

func (s *recordingSink) SetStatus(st Status, lastErr string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses = append(s.statuses, st)
	s.lastErr = lastErr
}

func (s *recordingSink) SetBackendError(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.backend = append(s.backend, msg)
}

func (s *recordingSink) SetCoachState(u protocol.CoachStateUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.coach = append(s.coach, u)
}

func (s *recordingSink) SetAudioLevel(level float64, speaking bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.level, s.speaking = level, speaking
}

func (s *recordingSink) SetSubtitle(st subtitle.State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.caption = st
}

func (s *recordingSink) Statuses() []Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Status(nil), s.statuses...)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
