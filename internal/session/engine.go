package session

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/GriffinCanCode/posecoach/platform/internal/clock"
	apperrors "github.com/GriffinCanCode/posecoach/platform/internal/errors"
	"github.com/GriffinCanCode/posecoach/platform/internal/pcm"
	"github.com/GriffinCanCode/posecoach/platform/internal/playback"
	"github.com/GriffinCanCode/posecoach/platform/internal/protocol"
	"github.com/GriffinCanCode/posecoach/platform/internal/subtitle"
	"github.com/GriffinCanCode/posecoach/platform/internal/telemetry"
	"github.com/GriffinCanCode/posecoach/platform/internal/trace"
)

// ErrSuperseded is returned by Connect when Disconnect (or a newer
// attempt) cancelled it.
var ErrSuperseded = apperrors.New(apperrors.Cancelled, "connect attempt superseded")

// Config for the engine.
type Config struct {
	URL         string
	CaptureRate int // microphone rate, Hz
	Playback    playback.Config
	SendTimeout time.Duration
}

// DefaultConfig returns the backend defaults.
func DefaultConfig() Config {
	return Config{
		URL:         DefaultURL,
		CaptureRate: CaptureSampleRate,
		Playback:    playback.DefaultConfig(),
		SendTimeout: DefaultSendTimeout,
	}
}

// Deps are the engine's collaborators. Audio, Dialer, Sink and Level are
// required.
type Deps struct {
	Audio   AudioBackend
	Dialer  Dialer
	Sink    Sink
	Level   playback.LevelSink
	Feed    *subtitle.Feed // nil drops inbound text
	Clock   clock.Clock
	Metrics telemetry.Recorder
}

// Engine owns the transport, audio context and microphone of one live
// session at a time.
type Engine struct {
	cfg     Config
	audio   AudioBackend
	dialer  Dialer
	sink    Sink
	level   playback.LevelSink
	feed    *subtitle.Feed
	clk     clock.Clock
	metrics telemetry.Recorder

	mu       sync.Mutex
	status   Status
	lastErr  error
	attempt  uint64
	inflight bool
	cancel   context.CancelFunc
	res      *resources
}

// New creates a disconnected engine.
func New(cfg Config, deps Deps) *Engine {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.CaptureRate <= 0 {
		cfg.CaptureRate = CaptureSampleRate
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = DefaultSendTimeout
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = telemetry.Nop{}
	}
	sink := deps.Sink
	if sink == nil {
		sink = nopSink{}
	}
	return &Engine{
		cfg:     cfg,
		audio:   deps.Audio,
		dialer:  deps.Dialer,
		sink:    sink,
		level:   deps.Level,
		feed:    deps.Feed,
		clk:     clock.OrReal(deps.Clock),
		metrics: metrics,
		status:  StatusDisconnected,
	}
}

// Status returns the current status.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// LastError returns the error that last moved the session to error, or the
// last backend-reported error.
func (e *Engine) LastError() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastErr
}

// Connect runs one connect attempt. It returns nil without doing anything
// while a session is connecting, connected or already being set up. Setup
// failures leave the engine in StatusError and are returned.
func (e *Engine) Connect(ctx context.Context) error {
	e.mu.Lock()
	if e.inflight || e.status == StatusConnecting || e.status == StatusConnected {
		e.mu.Unlock()
		return nil
	}
	e.attempt++
	id := e.attempt
	e.inflight = true
	e.lastErr = nil
	stale := e.res
	e.res = nil
	cctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.mu.Unlock()

	defer cancel()
	defer e.endAttempt(id)

	if stale != nil {
		stale.release(CloseNormal, "stale session")
	}

	tc := trace.NewSession(uuid.NewString())
	cctx = trace.WithContext(cctx, tc)
	log := trace.Logger(cctx)
	log.Info("connecting to coaching backend", "url", e.cfg.URL)

	res := &resources{log: log}

	actx, err := e.audio.NewContext(cctx, e.cfg.CaptureRate)
	if err != nil {
		return e.fail(id, res, apperrors.Wrap(err, apperrors.AudioContextFailed, "create audio context"))
	}
	res.actx = actx
	if err := actx.Resume(cctx); err != nil {
		return e.fail(id, res, apperrors.Wrap(err, apperrors.AudioContextFailed, "resume audio context"))
	}
	if !e.current(id) {
		return e.abandon(res)
	}

	mic, err := actx.OpenMicrophone(cctx)
	if err != nil {
		if apperrors.CodeOf(err) == apperrors.Unknown {
			err = apperrors.Wrap(err, apperrors.CaptureModuleFailed, "open microphone")
		}
		return e.fail(id, res, err)
	}
	res.mic = mic
	if !e.current(id) {
		return e.abandon(res)
	}

	out, err := actx.OpenOutput(e.cfg.Playback.SampleRate)
	if err != nil {
		return e.fail(id, res, apperrors.Wrap(err, apperrors.OutputFailed, "open audio output"))
	}
	res.player = playback.New(e.cfg.Playback, e.clk, out, e.level, e.metrics)

	e.mu.Lock()
	if e.attempt != id {
		e.mu.Unlock()
		return e.abandon(res)
	}
	e.applyLocked(Event{Kind: EventDial})
	e.mu.Unlock()

	tr, err := e.dialer.Dial(cctx, e.cfg.URL, tc.Header())
	if err != nil {
		if apperrors.CodeOf(err) == apperrors.Unknown {
			err = apperrors.Wrap(err, apperrors.TransportFailed, "dial coaching backend")
		}
		return e.fail(id, res, err)
	}
	res.transport = tr
	res.ctx, res.cancel = context.WithCancel(trace.WithContext(context.Background(), tc))
	res.sendCtx, res.stopSend = context.WithCancel(res.ctx)

	e.mu.Lock()
	if e.attempt != id {
		e.mu.Unlock()
		return e.abandon(res)
	}
	e.res = res
	e.applyLocked(Event{Kind: EventOpened})
	e.mu.Unlock()

	if err := mic.Start(func(window []float32) { e.sendAudio(res, window) }); err != nil {
		err = apperrors.Wrap(err, apperrors.CaptureModuleFailed, "start capture")
		e.mu.Lock()
		if e.res == res {
			e.res = nil
			e.lastErr = err
			e.applyLocked(Event{Kind: EventSetupFailed})
		}
		e.mu.Unlock()
		log.Error("capture failed to start", "error", err)
		res.release(CloseInternalError, "capture failed")
		return err
	}
	if !e.isCurrent(res) {
		return e.abandon(res)
	}

	go e.readLoop(res)
	log.Info("coaching session connected")
	return nil
}

// Disconnect tears the session down and moves to StatusDisconnected. It is
// idempotent and cancels an in-flight Connect.
func (e *Engine) Disconnect() {
	e.mu.Lock()
	e.attempt++
	e.inflight = false
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	res := e.res
	e.res = nil
	e.lastErr = nil
	e.applyLocked(Event{Kind: EventDisconnect})
	e.mu.Unlock()

	if res != nil {
		res.log.Info("disconnecting coaching session")
		res.release(CloseNormal, "client disconnect")
	}
	if e.feed != nil {
		e.feed.Clear()
	}
}

// SendFrame sends a JPEG camera frame. Reports whether it was written.
func (e *Engine) SendFrame(jpeg []byte) bool {
	return e.send(protocol.ImageFrame{Data: pcm.BytesToBase64(jpeg)})
}

// SendPoseData sends a landmark set.
func (e *Engine) SendPoseData(kps []protocol.Keypoint) bool {
	return e.send(protocol.NewPoseFrame(kps))
}

// SetTargetPose tells the backend which pose to coach.
func (e *Engine) SetTargetPose(p protocol.TargetPose) bool {
	return e.send(protocol.SetTargetPoseFrame{Pose: p})
}

// SendText sends typed user text.
func (e *Engine) SendText(text string) bool {
	return e.send(protocol.TextFrame{Data: text})
}

func (e *Engine) send(f protocol.Outbound) bool {
	e.mu.Lock()
	res := e.res
	if e.status != StatusConnected {
		res = nil
	}
	e.mu.Unlock()
	if res == nil {
		e.metrics.FrameDropped(string(f.Type()), "not_connected")
		return false
	}
	return e.write(res, f)
}

func (e *Engine) sendAudio(res *resources, window []float32) {
	e.mu.Lock()
	ok := e.res == res && e.status == StatusConnected
	e.mu.Unlock()
	if !ok {
		e.metrics.FrameDropped(string(protocol.TypeAudio), "not_connected")
		return
	}
	e.write(res, protocol.AudioFrame{Data: pcm.EncodeBase64(window)})
}

func (e *Engine) write(res *resources, f protocol.Outbound) bool {
	data, err := protocol.Encode(f)
	if err != nil {
		res.log.Warn("failed to encode frame", "type", f.Type(), "error", err)
		e.metrics.FrameDropped(string(f.Type()), "encode")
		return false
	}
	if res.sendCtx.Err() != nil {
		e.metrics.FrameDropped(string(f.Type()), "closing")
		return false
	}
	ctx, cancel := context.WithTimeout(res.sendCtx, e.cfg.SendTimeout)
	defer cancel()
	if err := res.transport.Write(ctx, data); err != nil {
		res.log.Warn("failed to send frame", "type", f.Type(), "error", err)
		e.metrics.FrameDropped(string(f.Type()), "write")
		return false
	}
	e.metrics.FrameSent(string(f.Type()))
	return true
}

func (e *Engine) readLoop(res *resources) {
	for {
		raw, err := res.transport.Read(res.ctx)
		if err != nil {
			e.handleClose(res, err)
			return
		}
		if !e.isCurrent(res) {
			continue
		}
		e.dispatch(res, raw)
	}
}

func (e *Engine) dispatch(res *resources, raw []byte) {
	in, err := protocol.Decode(raw)
	if err != nil {
		res.log.Warn("dropping malformed frame", "error", err)
		e.metrics.DecodeFailed("json")
		return
	}

	switch f := in.(type) {
	case protocol.AudioChunk:
		e.metrics.FrameReceived(string(protocol.TypeAudio))
		if _, err := res.player.Enqueue(f.Data); err != nil {
			res.log.Warn("dropping audio chunk", "error", err)
			if !apperrors.IsCode(err, apperrors.OutputFailed) {
				e.metrics.DecodeFailed(string(protocol.TypeAudio))
			}
		}
	case protocol.Text:
		e.metrics.FrameReceived(string(protocol.TypeText))
		if e.feed != nil && !e.feed.Push(f.Data) {
			res.log.Debug("filtered thinking text", "len", len(f.Data))
		}
	case protocol.Error:
		e.metrics.FrameReceived(string(protocol.TypeError))
		res.log.Error("coaching backend reported error", "message", f.Message)
		e.mu.Lock()
		if e.res == res {
			e.lastErr = apperrors.New(apperrors.Unavailable, f.Message).WithMetadata("source", "backend")
			e.sink.SetBackendError(f.Message)
		}
		e.mu.Unlock()
	case protocol.CoachState:
		e.metrics.FrameReceived(string(protocol.TypeCoachState))
		e.mu.Lock()
		if e.res == res {
			e.sink.SetCoachState(f.Update)
		}
		e.mu.Unlock()
	case protocol.Ignored:
		res.log.Debug("ignoring frame", "type", f.Type, "reason", f.Reason)
	}
}

func (e *Engine) handleClose(res *resources, err error) {
	code := CloseCode(err)
	e.mu.Lock()
	if e.res != res {
		e.mu.Unlock()
		res.log.Debug("transport closed after teardown", "code", code)
		return
	}
	e.res = nil
	ev := Event{Kind: EventClosed, Intentional: res.closing.Load(), Code: code}
	if !ev.Intentional {
		e.lastErr = apperrors.Wrap(err, apperrors.TransportClosed, "coaching backend closed the session").
			WithMetadata("code", strconv.Itoa(code))
	}
	e.applyLocked(ev)
	e.mu.Unlock()

	if ev.Intentional {
		res.log.Info("transport closed", "code", code)
	} else {
		res.log.Error("transport closed unexpectedly", "code", code, "error", err)
	}
	res.release(CloseNormal, "")
}

// fail records err and moves to StatusError if attempt id is still current.
func (e *Engine) fail(id uint64, res *resources, err error) error {
	e.mu.Lock()
	current := e.attempt == id
	if current {
		e.lastErr = err
		e.applyLocked(Event{Kind: EventSetupFailed})
	}
	e.mu.Unlock()
	res.release(CloseInternalError, "setup failed")
	if !current {
		return ErrSuperseded
	}
	res.log.Error("session setup failed", "error", err)
	return err
}

func (e *Engine) abandon(res *resources) error {
	res.log.Info("connect attempt superseded")
	res.release(CloseNormal, "superseded")
	return ErrSuperseded
}

func (e *Engine) endAttempt(id uint64) {
	e.mu.Lock()
	if e.attempt == id {
		e.inflight = false
		e.cancel = nil
	}
	e.mu.Unlock()
}

func (e *Engine) current(id uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.attempt == id
}

func (e *Engine) isCurrent(res *resources) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.res == res
}

func (e *Engine) applyLocked(ev Event) {
	next, ok := Transition(e.status, ev)
	if !ok || next == e.status {
		return
	}
	slog.Debug("session transition", "from", e.status, "to", next, "event", ev.Kind)
	e.status = next
	e.metrics.StatusChanged(string(next))
	msg := ""
	if e.lastErr != nil {
		msg = e.lastErr.Error()
	}
	e.sink.SetStatus(next, msg)
}

// resources acquired by one connect attempt. release closes each exactly
// once, in reverse acquisition order after aborting pending sends and
// stopping capture.
type resources struct {
	log       *slog.Logger
	actx      AudioContext
	mic       Microphone
	player    *playback.Scheduler
	transport Transport
	ctx       context.Context
	cancel    context.CancelFunc
	// sendCtx is cancelled first on release so a write blocked on a slow
	// socket cannot hold up stopping the capture goroutine.
	sendCtx  context.Context
	stopSend context.CancelFunc

	closing atomic.Bool
	once    sync.Once
}

func (r *resources) release(code int, reason string) {
	r.once.Do(func() {
		r.closing.Store(true)
		if r.stopSend != nil {
			r.stopSend()
		}
		if r.mic != nil {
			if err := r.mic.Close(); err != nil {
				r.log.Warn("failed to close microphone", "error", err)
			}
		}
		if r.transport != nil {
			if err := r.transport.Close(code, reason); err != nil && !isClosed(err) {
				r.log.Debug("transport close", "error", err)
			}
		}
		if r.cancel != nil {
			r.cancel()
		}
		if r.player != nil {
			r.player.Reset()
		}
		if r.actx != nil {
			if err := r.actx.Close(); err != nil {
				r.log.Warn("failed to close audio context", "error", err)
			}
		}
	})
}

func isClosed(err error) bool {
	return errors.Is(err, context.Canceled) || CloseCode(err) != -1
}

type nopSink struct{}

func (nopSink) SetStatus(Status, string)                {}
func (nopSink) SetBackendError(string)                  {}
func (nopSink) SetCoachState(protocol.CoachStateUpdate) {}
