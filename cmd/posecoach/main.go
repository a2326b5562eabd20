// Platform process for the pose coach: runs the live coaching session
// against the backend and serves the renderer bridge.
package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/GriffinCanCode/posecoach/platform/internal/audio"
	"github.com/GriffinCanCode/posecoach/platform/internal/camera"
	"github.com/GriffinCanCode/posecoach/platform/internal/clock"
	"github.com/GriffinCanCode/posecoach/platform/internal/config"
	"github.com/GriffinCanCode/posecoach/platform/internal/livestate"
	"github.com/GriffinCanCode/posecoach/platform/internal/orchestrator"
	"github.com/GriffinCanCode/posecoach/platform/internal/orchestrator/frames"
	"github.com/GriffinCanCode/posecoach/platform/internal/playback"
	"github.com/GriffinCanCode/posecoach/platform/internal/poses"
	"github.com/GriffinCanCode/posecoach/platform/internal/server"
	"github.com/GriffinCanCode/posecoach/platform/internal/session"
	"github.com/GriffinCanCode/posecoach/platform/internal/subtitle"
	"github.com/GriffinCanCode/posecoach/platform/internal/telemetry"
)

const serviceName = "posecoach-platform"

func main() {
	cfg := config.Load()

	// Setup structured logging
	logger, closeLog := newLogger(cfg)
	slog.SetDefault(logger)
	defer closeLog()

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	tel, err := telemetry.Setup(serviceName)
	if err != nil {
		slog.Error("failed to set up telemetry", "error", err)
		os.Exit(1)
	}
	metrics, err := telemetry.NewMetrics(tel.Meter(serviceName))
	if err != nil {
		slog.Error("failed to create metrics", "error", err)
		os.Exit(1)
	}

	catalog, err := poses.Load(cfg.PosesFile)
	if err != nil {
		slog.Error("failed to load pose catalog", "path", cfg.PosesFile, "error", err)
		os.Exit(1)
	}

	clk := clock.Real{}
	store := livestate.New()
	feed := &subtitle.Feed{Caption: subtitle.NewCaption(subtitle.DefaultCaptionConfig(), clk, store)}
	if cfg.FeedbackBubbles {
		feed.Bubbles = subtitle.NewQueue(subtitle.DefaultFeedbackTTL, subtitle.DefaultFeedbackMax, clk, store)
	}

	engine := session.New(session.Config{
		URL:         cfg.BackendURL,
		CaptureRate: cfg.CaptureSampleRate,
		Playback:    playback.Config{SampleRate: cfg.PlaybackSampleRate, Gain: cfg.PlaybackGain},
		SendTimeout: cfg.SendTimeout,
	}, session.Deps{
		Audio:   audio.NewBackend(cfg.ExcludedAudioDevices),
		Dialer:  session.WSDialer{},
		Sink:    store,
		Level:   store,
		Feed:    feed,
		Clock:   clk,
		Metrics: metrics,
	})

	var cam camera.Capturer
	if cfg.CameraEnabled {
		cam = camera.New(camera.Config{Device: cfg.CameraDevice})
	}

	mcfg := orchestrator.DefaultConfig()
	mcfg.PoseInterval = cfg.PoseInterval
	mcfg.Frames = frames.Config{Width: cfg.FrameWidth, MaxHashDistance: cfg.FrameHashDistance, Quality: cfg.FrameQuality}
	mcfg.AutoReconnect = cfg.AutoReconnect
	if cam != nil {
		mcfg.CameraRate = cfg.CameraRate
	}
	mgr := orchestrator.New(mcfg, orchestrator.Deps{
		Engine:  engine,
		State:   store,
		Catalog: catalog,
		Camera:  cam,
		Clock:   clk,
		Metrics: metrics,
	})

	srv := server.New(server.Deps{Coach: mgr, State: store, Metrics: tel.Handler(), Clock: clk})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mgr.Start(ctx)

	// Websocket connections are long-lived, so only the header read is bounded.
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("platform server starting", "http", cfg.HTTPAddr, "backend", cfg.BackendURL, "poses", catalog.Len())
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error("http server error", "error", err)
		}
	}()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	slog.Info("shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}

	mgr.Stop()
	mgr.Disconnect()
	if err := tel.Shutdown(shutdownCtx); err != nil {
		slog.Error("telemetry shutdown error", "error", err)
	}
	slog.Info("shutdown complete")
}

// newLogger writes text logs to stdout and, when LOG_FILE is set, to a
// rotating file.
func newLogger(cfg *config.Config) (*slog.Logger, func()) {
	var out io.Writer = os.Stdout
	closeFn := func() {}
	if cfg.LogFile != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    cfg.LogMaxSizeMB,
			MaxBackups: cfg.LogMaxBackups,
			Compress:   true,
		}
		out = io.MultiWriter(os.Stdout, rotator)
		closeFn = func() { _ = rotator.Close() }
	}
	return slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: cfg.SlogLevel()})), closeFn
}
