package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/GriffinCanCode/posecoach/platform/internal/clock"
	apperrors "github.com/GriffinCanCode/posecoach/platform/internal/errors"
	"github.com/GriffinCanCode/posecoach/platform/internal/livestate"
	"github.com/GriffinCanCode/posecoach/platform/internal/orchestrator/posegate"
	"github.com/GriffinCanCode/posecoach/platform/internal/poses"
	"github.com/GriffinCanCode/posecoach/platform/internal/protocol"
	"github.com/GriffinCanCode/posecoach/platform/internal/resilience"
	"github.com/GriffinCanCode/posecoach/platform/internal/session"
	"github.com/GriffinCanCode/posecoach/platform/internal/telemetry"
)

type fakeEngine struct {
	state *livestate.Store

	mu          sync.Mutex
	status      session.Status
	connectErrs []error
	connects    int
	frames      [][]byte
	poses       [][]protocol.Keypoint
	targets     []protocol.TargetPose
	texts       []string
}

func (f *fakeEngine) Connect(context.Context) error {
	f.mu.Lock()
	f.connects++
	var err error
	if len(f.connectErrs) > 0 {
		err, f.connectErrs = f.connectErrs[0], f.connectErrs[1:]
	}
	f.status = session.StatusConnected
	if err != nil {
		f.status = session.StatusError
	}
	status := f.status
	f.mu.Unlock()
	if f.state != nil {
		f.state.SetStatus(session.StatusConnecting, "")
		f.state.SetStatus(status, "")
	}
	return err
}

func (f *fakeEngine) Disconnect() {
	f.mu.Lock()
	f.status = session.StatusDisconnected
	f.mu.Unlock()
}

func (f *fakeEngine) Status() session.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeEngine) SendFrame(jpeg []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, jpeg)
	return f.status == session.StatusConnected
}

func (f *fakeEngine) SendPoseData(kps []protocol.Keypoint) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.poses = append(f.poses, kps)
	return true
}

func (f *fakeEngine) SetTargetPose(p protocol.TargetPose) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.targets = append(f.targets, p)
	return true
}

func (f *fakeEngine) SendText(text string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	return true
}

func (f *fakeEngine) counts() (connects, frames, poses, targets int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects, len(f.frames), len(f.poses), len(f.targets)
}

type dropRecorder struct {
	telemetry.Nop
	mu       sync.Mutex
	drops    map[string]int
	breakers []string
}

func (d *dropRecorder) BreakerChanged(state string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.breakers = append(d.breakers, state)
}

func (d *dropRecorder) FrameDropped(kind, reason string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.drops == nil {
		d.drops = map[string]int{}
	}
	d.drops[kind+"/"+reason]++
}

func (d *dropRecorder) count(key string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.drops[key]
}

type fakeCamera struct {
	frame  []byte
	mu     sync.Mutex
	closed bool
}

func (c *fakeCamera) Capture(context.Context) ([]byte, bool, error) { return c.frame, true, nil }
func (c *fakeCamera) CaptureAlways(context.Context) ([]byte, error) { return c.frame, nil }
func (c *fakeCamera) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

type harness struct {
	m       *Manager
	engine  *fakeEngine
	state   *livestate.Store
	clk     *clock.Manual
	metrics *dropRecorder
}

func newHarness(cfg Config, cam *fakeCamera) *harness {
	h := &harness{
		state:   livestate.New(),
		clk:     clock.NewManual(time.Unix(1_700_000_000, 0)),
		metrics: &dropRecorder{},
	}
	h.engine = &fakeEngine{state: h.state, status: session.StatusDisconnected}
	deps := Deps{
		Engine:  h.engine,
		State:   h.state,
		Catalog: poses.Default(),
		Clock:   h.clk,
		Metrics: h.metrics,
	}
	if cam != nil {
		deps.Camera = cam
	}
	h.m = New(cfg, deps)
	return h
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func body(ankleVis float64) []protocol.Keypoint {
	kps := make([]protocol.Keypoint, posegate.MinLandmarks)
	kps[posegate.LeftAnkle].Visibility = &ankleVis
	kps[posegate.RightAnkle].Visibility = &ankleVis
	return kps
}

func testJPEG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			if (x/8+y/8)%2 == 0 {
				img.Set(x, y, color.White)
			} else {
				img.Set(x, y, color.Black)
			}
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestSelectPose(t *testing.T) {
	h := newHarness(DefaultConfig(), nil)
	ctx := context.Background()

	if err := h.m.SelectPose(ctx, "moonwalk"); !apperrors.IsCode(err, apperrors.NotFound) {
		t.Errorf("SelectPose(unknown) error = %v, want NotFound", err)
	}

	if err := h.m.SelectPose(ctx, "hands-on-hips"); err != nil {
		t.Fatalf("SelectPose() error = %v", err)
	}
	if got := h.state.Snapshot().TargetPoseID; got != "hands-on-hips" {
		t.Errorf("TargetPoseID = %q, want hands-on-hips", got)
	}
	if _, _, _, targets := h.engine.counts(); targets != 0 {
		t.Errorf("target sent while disconnected (%d)", targets)
	}

	if err := h.m.Connect(ctx); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if _, _, _, targets := h.engine.counts(); targets != 1 {
		t.Fatalf("targets after connect = %d, want 1", targets)
	}
	if got := h.engine.targets[0]; got.ID != "hands-on-hips" || got.Name != "Power Pose - Hands on Hips" {
		t.Errorf("target = %+v", got)
	}

	if err := h.m.SelectPose(ctx, "over-shoulder"); err != nil {
		t.Fatal(err)
	}
	if _, _, _, targets := h.engine.counts(); targets != 2 {
		t.Errorf("targets after reselect = %d, want 2", targets)
	}
	if p, ok := h.m.ActivePose(); !ok || p.ID != "over-shoulder" {
		t.Errorf("ActivePose() = %q, %v", p.ID, ok)
	}
}

func TestSubmitLandmarks(t *testing.T) {
	h := newHarness(DefaultConfig(), nil)
	ctx := context.Background()

	if h.m.SubmitLandmarks(body(1)) {
		t.Error("SubmitLandmarks() sent while disconnected")
	}
	if got := len(h.state.Snapshot().Landmarks); got != posegate.MinLandmarks {
		t.Errorf("overlay landmarks = %d, want %d", got, posegate.MinLandmarks)
	}

	h.m.Connect(ctx)
	h.m.SelectPose(ctx, "confident-stance")

	if h.m.SubmitLandmarks(body(0.1)) {
		t.Error("full-body pose sent with hidden ankles")
	}
	if got := h.metrics.count("pose/" + string(posegate.FeetNotInView)); got != 1 {
		t.Errorf("feet drops = %d, want 1", got)
	}
	if !h.m.SubmitLandmarks(body(0.9)) {
		t.Error("visible full body not sent")
	}
	if h.m.SubmitLandmarks(body(0.9)) {
		t.Error("second set within the interval was sent")
	}

	h.m.SelectPose(ctx, "over-shoulder")
	if !h.m.SubmitLandmarks(body(0.1)) {
		t.Error("portrait pose rejected for hidden ankles")
	}

	h.clk.Advance(time.Second)
	h.m.SetPoseStreaming(false)
	if h.m.SubmitLandmarks(body(1)) {
		t.Error("sent while pose streaming disabled")
	}
	if _, _, poses, _ := h.engine.counts(); poses != 2 {
		t.Errorf("pose frames = %d, want 2", poses)
	}
}

func TestSubmitFrame(t *testing.T) {
	h := newHarness(DefaultConfig(), nil)
	frame := testJPEG(t)

	if ok, err := h.m.SubmitFrame(frame); ok || err != nil {
		t.Errorf("SubmitFrame() while disconnected = %v, %v", ok, err)
	}
	h.m.Connect(context.Background())

	if _, err := h.m.SubmitFrame([]byte("junk")); !apperrors.IsCode(err, apperrors.InvalidArgument) {
		t.Errorf("SubmitFrame(junk) error = %v, want InvalidArgument", err)
	}
	if ok, err := h.m.SubmitFrame(frame); !ok || err != nil {
		t.Errorf("SubmitFrame() = %v, %v; want sent", ok, err)
	}
	if ok, _ := h.m.SubmitFrame(frame); ok {
		t.Error("duplicate frame was sent")
	}
	if got := h.metrics.count("image/" + DropDuplicate); got != 1 {
		t.Errorf("duplicate drops = %d, want 1", got)
	}
}

func TestSendText(t *testing.T) {
	h := newHarness(DefaultConfig(), nil)
	if h.m.SendText("   ") {
		t.Error("blank text was sent")
	}
	if !h.m.SendText("  how do I look?  ") {
		t.Fatal("text not sent")
	}
	if got := h.engine.texts[0]; got != "how do I look?" {
		t.Errorf("text = %q, want trimmed", got)
	}
}

func TestConnectBreaker(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Breaker = resilience.Config{Threshold: 2, ResetTimeout: time.Minute, HalfOpenSuccesses: 1}
	h := newHarness(cfg, nil)
	fail := apperrors.New(apperrors.TransportFailed, "dial refused")
	h.engine.connectErrs = []error{fail, fail}
	ctx := context.Background()

	h.m.Connect(ctx)
	h.m.Connect(ctx)
	if err := h.m.Connect(ctx); !errors.Is(err, resilience.ErrOpen) {
		t.Errorf("Connect() with open breaker = %v, want ErrOpen", err)
	}
	if connects, _, _, _ := h.engine.counts(); connects != 2 {
		t.Errorf("engine connects = %d, want 2", connects)
	}

	h.m.Disconnect()
	if err := h.m.Connect(ctx); err != nil {
		t.Errorf("Connect() after Disconnect = %v, want nil", err)
	}

	h.metrics.mu.Lock()
	got := strings.Join(h.metrics.breakers, ",")
	h.metrics.mu.Unlock()
	if got != "open,closed" {
		t.Errorf("breaker transitions = %q, want open,closed", got)
	}
}

func TestConnectWithRetry(t *testing.T) {
	fastRetry := resilience.RetryConfig{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
	tests := []struct {
		name      string
		errs      []error
		wantCalls int
		wantCode  apperrors.Code
	}{
		{
			name:      "transient failures",
			errs:      []error{apperrors.New(apperrors.TransportFailed, "x"), apperrors.New(apperrors.TransportClosed, "y")},
			wantCalls: 3,
		},
		{
			name:      "permission denied is final",
			errs:      []error{apperrors.New(apperrors.PermissionDenied, "mic blocked")},
			wantCalls: 1,
			wantCode:  apperrors.PermissionDenied,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Retry = fastRetry
			cfg.Breaker = resilience.Config{Threshold: 10}
			h := newHarness(cfg, nil)
			h.engine.connectErrs = tt.errs

			err := h.m.ConnectWithRetry(context.Background())
			if tt.wantCode == apperrors.Unknown && err != nil {
				t.Errorf("ConnectWithRetry() = %v, want nil", err)
			}
			if tt.wantCode != apperrors.Unknown && !apperrors.IsCode(err, tt.wantCode) {
				t.Errorf("ConnectWithRetry() = %v, want %s", err, tt.wantCode)
			}
			if connects, _, _, _ := h.engine.counts(); connects != tt.wantCalls {
				t.Errorf("connects = %d, want %d", connects, tt.wantCalls)
			}
		})
	}
}

func TestReconnectAfterDrop(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AutoReconnect = true
	cfg.Retry = resilience.RetryConfig{MaxRetries: 1, BaseDelay: time.Millisecond}
	h := newHarness(cfg, nil)
	h.m.Start(context.Background())
	defer h.m.Stop()

	// A failed first connect is not a drop.
	h.engine.connectErrs = []error{apperrors.New(apperrors.TransportFailed, "refused")}
	h.m.Connect(context.Background())
	time.Sleep(20 * time.Millisecond)
	if connects, _, _, _ := h.engine.counts(); connects != 1 {
		t.Fatalf("connects after failed dial = %d, want 1", connects)
	}

	h.m.Connect(context.Background())
	h.state.SetStatus(session.StatusError, "transport closed: 1011")
	waitFor(t, "reconnect", func() bool {
		connects, _, _, _ := h.engine.counts()
		return connects == 3
	})
	if got := h.engine.Status(); got != session.StatusConnected {
		t.Errorf("status after reconnect = %s, want connected", got)
	}
}

func TestDisconnectCancelsReconnectBackoff(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AutoReconnect = true
	cfg.Retry = resilience.RetryConfig{MaxRetries: 3, BaseDelay: 200 * time.Millisecond, MaxDelay: 200 * time.Millisecond}
	h := newHarness(cfg, nil)
	h.m.Start(context.Background())
	defer h.m.Stop()

	if err := h.m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	h.engine.mu.Lock()
	h.engine.connectErrs = []error{apperrors.New(apperrors.TransportFailed, "refused")}
	h.engine.mu.Unlock()
	h.state.SetStatus(session.StatusError, "transport closed: 1011")
	waitFor(t, "first reconnect attempt", func() bool {
		connects, _, _, _ := h.engine.counts()
		return connects == 2
	})

	h.m.Disconnect()
	time.Sleep(500 * time.Millisecond)

	if connects, _, _, _ := h.engine.counts(); connects != 2 {
		t.Errorf("connects after Disconnect = %d, want 2", connects)
	}
	if got := h.engine.Status(); got != session.StatusDisconnected {
		t.Errorf("status after Disconnect = %s, want disconnected", got)
	}

	if err := h.m.Connect(context.Background()); err != nil {
		t.Errorf("Connect() after Disconnect = %v, want nil", err)
	}
}

func TestConnectWithRetryAfterDisconnect(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Retry = resilience.RetryConfig{MaxRetries: 3, BaseDelay: 100 * time.Millisecond}
	h := newHarness(cfg, nil)
	h.engine.connectErrs = []error{
		apperrors.New(apperrors.TransportFailed, "refused"),
		apperrors.New(apperrors.TransportFailed, "refused"),
	}

	errCh := make(chan error, 1)
	go func() { errCh <- h.m.ConnectWithRetry(context.Background()) }()
	waitFor(t, "first attempt", func() bool {
		connects, _, _, _ := h.engine.counts()
		return connects == 1
	})
	h.m.Disconnect()

	select {
	case err := <-errCh:
		if !apperrors.IsCode(err, apperrors.Cancelled) {
			t.Errorf("ConnectWithRetry() = %v, want Cancelled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ConnectWithRetry did not return after Disconnect")
	}
	if connects, _, _, _ := h.engine.counts(); connects != 1 {
		t.Errorf("connects = %d, want 1", connects)
	}
}

func TestCameraLoop(t *testing.T) {
	cam := &fakeCamera{frame: testJPEG(t)}
	cfg := DefaultConfig()
	cfg.CameraRate = 200
	h := newHarness(cfg, cam)
	h.m.Connect(context.Background())

	h.m.Start(context.Background())
	waitFor(t, "camera frame", func() bool {
		_, frames, _, _ := h.engine.counts()
		return frames >= 1
	})
	h.m.Stop()

	cam.mu.Lock()
	closed := cam.closed
	cam.mu.Unlock()
	if !closed {
		t.Error("camera not closed on Stop")
	}
	if _, frames, _, _ := h.engine.counts(); frames != 1 {
		t.Errorf("frames = %d, want 1 (identical frames are deduplicated)", frames)
	}
	h.m.Stop()
}
