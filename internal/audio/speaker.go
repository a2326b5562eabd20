package audio

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"

	apperrors "github.com/GriffinCanCode/posecoach/platform/internal/errors"
)

// ErrSpeakerBusy is returned by Play when the output queue is full.
var ErrSpeakerBusy = errors.New("audio: speaker queue full")

type chunk struct {
	samples []float32
	start   time.Time
}

// Speaker writes scheduled chunks to the output device strictly in the
// order they were queued, on one goroutine.
type Speaker struct {
	stream *portaudio.Stream
	buf    []float32
	queue  chan chunk
	done   chan struct{}
	quit   chan struct{}
	once   sync.Once
}

func openSpeaker(sampleRate, frames int) (*Speaker, error) {
	dev, err := portaudio.DefaultOutputDevice()
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.OutputFailed, "no output device")
	}
	buf := make([]float32, frames)
	stream, err := portaudio.OpenStream(portaudio.StreamParameters{
		Output: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: 1,
			Latency:  dev.DefaultLowOutputLatency,
		},
		SampleRate:      float64(sampleRate),
		FramesPerBuffer: frames,
	}, buf)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.OutputFailed, "open output stream").
			WithMetadata("device", dev.Name)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return nil, apperrors.Wrap(err, apperrors.OutputFailed, "start output stream")
	}

	sp := &Speaker{
		stream: stream,
		buf:    buf,
		queue:  make(chan chunk, SpeakerQueue),
		done:   make(chan struct{}),
		quit:   make(chan struct{}),
	}
	go sp.run()
	slog.Info("opened speaker", "device", dev.Name, "sample_rate", sampleRate)
	return sp, nil
}

// Play queues samples for playback at start. It never blocks.
func (s *Speaker) Play(samples []float32, start time.Time) error {
	select {
	case <-s.quit:
		return apperrors.New(apperrors.OutputFailed, "speaker closed")
	default:
	}
	select {
	case s.queue <- chunk{samples: samples, start: start}:
		return nil
	default:
		return ErrSpeakerBusy
	}
}

func (s *Speaker) run() {
	defer close(s.done)
	for {
		select {
		case <-s.quit:
			return
		case c := <-s.queue:
			if wait := time.Until(c.start) - startSlack; wait > 0 {
				select {
				case <-time.After(wait):
				case <-s.quit:
					return
				}
			}
			if !s.write(c.samples) {
				return
			}
		}
	}
}

// write blocks on the device, one buffer at a time; the final buffer is
// padded with silence.
func (s *Speaker) write(samples []float32) bool {
	for len(samples) > 0 {
		n := copy(s.buf, samples)
		clear(s.buf[n:])
		samples = samples[n:]
		if err := s.stream.Write(); err != nil && !errors.Is(err, portaudio.OutputUnderflowed) {
			slog.Warn("speaker write failed", "error", err)
			return false
		}
		select {
		case <-s.quit:
			return false
		default:
		}
	}
	return true
}

// Close stops playback and closes the stream.
func (s *Speaker) Close() {
	s.once.Do(func() {
		close(s.quit)
		<-s.done
		_ = s.stream.Stop()
		_ = s.stream.Close()
	})
}
