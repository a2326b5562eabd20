package orchestrator

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/GriffinCanCode/posecoach/platform/internal/camera"
	"github.com/GriffinCanCode/posecoach/platform/internal/clock"
	apperrors "github.com/GriffinCanCode/posecoach/platform/internal/errors"
	"github.com/GriffinCanCode/posecoach/platform/internal/livestate"
	"github.com/GriffinCanCode/posecoach/platform/internal/orchestrator/frames"
	"github.com/GriffinCanCode/posecoach/platform/internal/orchestrator/posegate"
	"github.com/GriffinCanCode/posecoach/platform/internal/poses"
	"github.com/GriffinCanCode/posecoach/platform/internal/protocol"
	"github.com/GriffinCanCode/posecoach/platform/internal/resilience"
	"github.com/GriffinCanCode/posecoach/platform/internal/session"
	"github.com/GriffinCanCode/posecoach/platform/internal/telemetry"
	"github.com/GriffinCanCode/posecoach/platform/internal/trace"
)

// Engine is the live session the manager drives. *session.Engine
// implements it.
type Engine interface {
	Connect(ctx context.Context) error
	Disconnect()
	Status() session.Status
	SendFrame(jpeg []byte) bool
	SendPoseData(kps []protocol.Keypoint) bool
	SetTargetPose(p protocol.TargetPose) bool
	SendText(text string) bool
}

// Config tunes the manager.
type Config struct {
	PoseInterval time.Duration
	Frames       frames.Config
	// CameraRate is in Hz; zero disables the camera loop.
	CameraRate float64
	// AutoReconnect re-dials with backoff when an established session ends
	// in error.
	AutoReconnect bool
	Retry         resilience.RetryConfig
	Breaker       resilience.Config
}

// DefaultConfig returns the standard manager settings.
func DefaultConfig() Config {
	return Config{
		PoseInterval: posegate.DefaultMinInterval,
		Frames:       frames.DefaultConfig(),
		Retry:        resilience.ReconnectRetryConfig(),
		Breaker:      resilience.ReconnectConfig(),
	}
}

// Deps are the manager's collaborators. Engine, State and Catalog are
// required; a nil Camera disables the camera loop.
type Deps struct {
	Engine  Engine
	State   *livestate.Store
	Catalog *poses.Catalog
	Camera  camera.Capturer
	Clock   clock.Clock
	Metrics telemetry.Recorder
}

// Manager coordinates the session with pose selection and capture inputs.
type Manager struct {
	cfg     Config
	engine  Engine
	state   *livestate.Store
	catalog *poses.Catalog
	camera  camera.Capturer
	gate    *posegate.Gate
	frames  *frames.Processor
	breaker *resilience.Breaker
	metrics telemetry.Recorder

	mu     sync.RWMutex
	active *poses.Pose

	// established is set by a successful Connect and cleared by the next
	// attempt, Disconnect, or a reconnect.
	established atomic.Bool
	// epoch advances on every Disconnect; a connect started under an older
	// epoch gives up instead of reopening the session.
	epoch atomic.Uint64

	connectMu sync.Mutex
	retryMu   sync.Mutex
	retryStop context.CancelFunc
	loopMu    sync.Mutex
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// New creates a manager.
func New(cfg Config, deps Deps) *Manager {
	metrics := deps.Metrics
	if metrics == nil {
		metrics = telemetry.Nop{}
	}
	breaker := resilience.New(cfg.Breaker, deps.Clock).WithHook(func(_, to resilience.State) {
		metrics.BreakerChanged(to.String())
	})
	return &Manager{
		cfg:     cfg,
		engine:  deps.Engine,
		state:   deps.State,
		catalog: deps.Catalog,
		camera:  deps.Camera,
		gate:    posegate.New(cfg.PoseInterval, deps.Clock),
		frames:  frames.NewProcessor(cfg.Frames),
		breaker: breaker,
		metrics: metrics,
	}
}

// Connect starts a session and, once connected, sends the active target
// pose. Fails fast while the reconnect breaker is open.
func (m *Manager) Connect(ctx context.Context) error {
	return m.connect(ctx, m.epoch.Load())
}

func (m *Manager) connect(ctx context.Context, epoch uint64) error {
	ctx, span := trace.StartSpan(ctx, "session_connect")
	defer span.End()

	m.connectMu.Lock()
	defer m.connectMu.Unlock()

	if m.epoch.Load() != epoch {
		err := errDisconnected()
		span.Fail(err)
		return err
	}
	m.established.Store(false)
	err := m.breaker.Execute(func() error { return m.engine.Connect(ctx) })
	if err != nil {
		span.Fail(err)
		trace.Logger(ctx).Warn("connect failed", "error", err, "code", apperrors.CodeOf(err))
		return err
	}
	if m.epoch.Load() != epoch {
		// Disconnect raced the dial and may have run before the engine
		// reached connected.
		m.engine.Disconnect()
		err := errDisconnected()
		span.Fail(err)
		return err
	}
	m.established.Store(true)
	m.gate.Reset()
	m.frames.Reset()
	m.sendTarget(ctx)
	return nil
}

func errDisconnected() error {
	return apperrors.New(apperrors.Cancelled, "session disconnected during connect")
}

// ConnectWithRetry calls Connect with exponential backoff while the failure
// is transient. Disconnect cancels it, including during a backoff sleep.
func (m *Manager) ConnectWithRetry(ctx context.Context) error {
	epoch := m.epoch.Load()
	ctx, stop := context.WithCancel(ctx)
	defer stop()
	m.retryMu.Lock()
	if m.epoch.Load() != epoch {
		m.retryMu.Unlock()
		return errDisconnected()
	}
	if m.retryStop != nil {
		m.retryStop()
	}
	m.retryStop = stop
	m.retryMu.Unlock()

	ctx, span := trace.StartSpan(ctx, "session_reconnect")
	defer span.End()

	log := trace.Logger(ctx)
	cfg := m.cfg.Retry
	cfg.OnRetry = func(attempt int, delay time.Duration, err error) {
		log.Info("retrying session connect", "attempt", attempt, "delay", delay, "error", err)
	}
	err := resilience.Retry(ctx, cfg, func() error { return m.connect(ctx, epoch) })
	if err != nil && m.epoch.Load() != epoch {
		err = errDisconnected()
	}
	span.Fail(err)
	return err
}

// Disconnect ends the session and cancels any reconnect in progress. The
// breaker is reset so the next explicit connect is attempted.
func (m *Manager) Disconnect() {
	m.retryMu.Lock()
	m.epoch.Add(1)
	if m.retryStop != nil {
		m.retryStop()
		m.retryStop = nil
	}
	m.retryMu.Unlock()

	m.established.Store(false)
	m.engine.Disconnect()
	m.breaker.Reset()
}

// SelectPose makes id the active target pose and sends it when a session
// is live. It is re-sent after every later connect.
func (m *Manager) SelectPose(ctx context.Context, id string) error {
	p, ok := m.catalog.Get(id)
	if !ok {
		return apperrors.Newf(apperrors.NotFound, "pose %q not found", id)
	}
	m.mu.Lock()
	m.active = &p
	m.mu.Unlock()

	m.state.SetTargetPose(id)
	m.gate.Reset()
	trace.Logger(ctx).Info("target pose selected", "pose", id, "category", p.Category)
	m.sendTarget(ctx)
	return nil
}

// ActivePose returns the selected target pose.
func (m *Manager) ActivePose() (poses.Pose, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.active == nil {
		return poses.Pose{}, false
	}
	return *m.active, true
}

// Catalog returns the pose catalog.
func (m *Manager) Catalog() *poses.Catalog { return m.catalog }

func (m *Manager) sendTarget(ctx context.Context) {
	p, ok := m.ActivePose()
	if !ok || m.engine.Status() != session.StatusConnected {
		return
	}
	if !m.engine.SetTargetPose(p.TargetPose()) {
		trace.Logger(ctx).Warn("failed to send target pose", "pose", p.ID)
	}
}

// SubmitLandmarks publishes a detector result to the overlay and sends it
// as a pose frame when the gate accepts it.
func (m *Manager) SubmitLandmarks(kps []protocol.Keypoint) bool {
	m.state.SetLandmarks(kps)
	if m.engine.Status() != session.StatusConnected {
		return false
	}
	needFeet := false
	if p, ok := m.ActivePose(); ok {
		needFeet = p.NeedsFeet()
	}
	if reason := m.gate.Check(kps, needFeet); reason != posegate.Accepted {
		m.metrics.FrameDropped(string(protocol.TypePose), string(reason))
		return false
	}
	return m.engine.SendPoseData(kps)
}

// SubmitFrame sends a camera frame (JPEG or PNG) after downsizing it.
// Near-duplicates of the last sent frame are dropped.
func (m *Manager) SubmitFrame(data []byte) (bool, error) {
	if m.engine.Status() != session.StatusConnected {
		return false, nil
	}
	out, ok, err := m.frames.Prepare(data)
	if err != nil {
		m.metrics.FrameDropped(string(protocol.TypeImage), DropInvalid)
		return false, err
	}
	if !ok {
		m.metrics.FrameDropped(string(protocol.TypeImage), DropDuplicate)
		return false, nil
	}
	return m.engine.SendFrame(out), nil
}

// SendText sends typed user text. Blank text is ignored.
func (m *Manager) SendText(text string) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return false
	}
	return m.engine.SendText(text)
}

// SetPoseStreaming enables/disables pose frames
func (m *Manager) SetPoseStreaming(enabled bool) {
	m.gate.SetEnabled(enabled)
}

// Start begins the camera and reconnect loops. Calling it again while
// running is a no-op.
func (m *Manager) Start(ctx context.Context) {
	m.loopMu.Lock()
	defer m.loopMu.Unlock()
	if m.cancel != nil {
		return
	}
	ctx, m.cancel = context.WithCancel(ctx)
	if m.camera != nil && m.cfg.CameraRate > 0 {
		m.wg.Add(1)
		go m.cameraLoop(ctx)
	}
	if m.cfg.AutoReconnect {
		m.wg.Add(1)
		go m.reconnectLoop(ctx)
	}
}

// Stop ends the loops and releases the camera. The session is left as is.
func (m *Manager) Stop() {
	m.loopMu.Lock()
	cancel := m.cancel
	m.cancel = nil
	m.loopMu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	m.wg.Wait()
	if m.camera != nil {
		m.camera.Close()
	}
}

func (m *Manager) cameraLoop(ctx context.Context) {
	defer m.wg.Done()
	interval := time.Duration(float64(time.Second) / m.cfg.CameraRate)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log := trace.Logger(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if m.engine.Status() != session.StatusConnected {
				continue
			}
			capCtx, cancel := context.WithTimeout(ctx, CameraCaptureTimeout)
			data, changed, err := m.camera.Capture(capCtx)
			cancel()
			if err != nil {
				log.Debug("camera capture error", "error", err)
				continue
			}
			if !changed {
				continue
			}
			if _, err := m.SubmitFrame(data); err != nil {
				log.Debug("camera frame rejected", "error", err)
			}
		}
	}
}

// reconnectLoop redials when an established session ends in error. Failed
// connect attempts do not trigger it, so an unreachable backend is not
// dialed in a loop.
func (m *Manager) reconnectLoop(ctx context.Context) {
	defer m.wg.Done()
	changes, cancel := m.state.Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case <-changes:
			if m.state.Snapshot().Status != session.StatusError || !m.established.CompareAndSwap(true, false) {
				continue
			}
			trace.Logger(ctx).Warn("session dropped, reconnecting")
			if err := m.ConnectWithRetry(ctx); err != nil {
				trace.Logger(ctx).Error("reconnect failed", "error", err)
			}
		}
	}
}
