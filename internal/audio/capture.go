package audio

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/gordonklaus/portaudio"

	apperrors "github.com/GriffinCanCode/posecoach/platform/internal/errors"
	"github.com/GriffinCanCode/posecoach/platform/internal/playback"
	"github.com/GriffinCanCode/posecoach/platform/internal/session"
)

// Backend opens portaudio contexts for coaching sessions.
type Backend struct {
	ExcludedDevices []string
	FramesPerBuffer int
	WindowSamples   int
}

// NewBackend creates a backend that skips the given input device names.
func NewBackend(excluded []string) *Backend {
	return &Backend{
		ExcludedDevices: excluded,
		FramesPerBuffer: FramesPerBuffer,
		WindowSamples:   WindowSamples,
	}
}

// NewContext initializes portaudio for one session.
func (b *Backend) NewContext(ctx context.Context, sampleRate int) (session.AudioContext, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := portaudio.Initialize(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.AudioContextFailed, "initialize portaudio")
	}
	frames := b.FramesPerBuffer
	if frames <= 0 {
		frames = FramesPerBuffer
	}
	return &Context{
		sampleRate: sampleRate,
		frames:     frames,
		window:     b.WindowSamples,
		excluded:   b.ExcludedDevices,
	}, nil
}

// Context is a portaudio session. Close stops every stream it opened.
type Context struct {
	sampleRate int
	frames     int
	window     int
	excluded   []string

	mu       sync.Mutex
	closed   bool
	speakers []*Speaker
	once     sync.Once
}

// Resume is immediate: portaudio streams are not suspended by the host.
func (c *Context) Resume(ctx context.Context) error {
	return ctx.Err()
}

// OpenMicrophone opens the best input device at the context rate. The
// stream is opened here so a denied device fails before any dial.
func (c *Context) OpenMicrophone(ctx context.Context) (session.Microphone, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CaptureModuleFailed, "list audio devices")
	}
	def, _ := portaudio.DefaultInputDevice()
	dev := pickMicrophone(devices, def, c.excluded)
	if dev == nil {
		return nil, apperrors.New(apperrors.NotFound, "no microphone available")
	}

	buf := make([]float32, c.frames)
	stream, err := portaudio.OpenStream(portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: 1,
			Latency:  dev.DefaultLowInputLatency,
		},
		SampleRate:      float64(c.sampleRate),
		FramesPerBuffer: c.frames,
	}, buf)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.PermissionDenied, "open microphone").
			WithMetadata("device", dev.Name)
	}
	slog.Info("opened microphone", "device", dev.Name, "sample_rate", c.sampleRate)
	return &microphone{stream: stream, buf: buf, window: c.window, device: dev.Name}, nil
}

// OpenOutput opens the default output device.
func (c *Context) OpenOutput(sampleRate int) (playback.Output, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, apperrors.New(apperrors.OutputFailed, "audio context closed")
	}
	sp, err := openSpeaker(sampleRate, c.frames)
	if err != nil {
		return nil, err
	}
	c.speakers = append(c.speakers, sp)
	return sp, nil
}

// Close stops all speakers and releases portaudio.
func (c *Context) Close() error {
	var err error
	c.once.Do(func() {
		c.mu.Lock()
		c.closed = true
		speakers := c.speakers
		c.speakers = nil
		c.mu.Unlock()
		for _, sp := range speakers {
			sp.Close()
		}
		err = portaudio.Terminate()
	})
	return err
}

// microphone runs the blocking-read capture loop on its own goroutine.
type microphone struct {
	stream *portaudio.Stream
	buf    []float32
	window int
	device string

	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

func (m *microphone) Start(onWindow func([]float32)) error {
	if err := m.stream.Start(); err != nil {
		return apperrors.Wrap(err, apperrors.CaptureModuleFailed, "start input stream").
			WithMetadata("device", m.device)
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})
	w := NewWindower(m.window, onWindow)

	go func() {
		defer close(m.done)
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}
			if err := m.stream.Read(); err != nil {
				if !errors.Is(err, portaudio.InputOverflowed) {
					slog.Debug("audio read error", "device", m.device, "error", err)
					return
				}
			}
			w.Write(m.buf)
		}
	}()
	return nil
}

func (m *microphone) Close() error {
	var err error
	m.stopOnce.Do(func() {
		if m.cancel != nil {
			m.cancel()
			_ = m.stream.Stop()
			<-m.done
		}
		err = m.stream.Close()
	})
	return err
}
