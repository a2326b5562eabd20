package camera

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	apperrors "github.com/GriffinCanCode/posecoach/platform/internal/errors"
)

const frameFile = "frame.jpg"

// tool is one external capture command. args receives the output path.
type tool struct {
	name string
	args func(out string) []string
}

// commandBackend runs the first installed tool and reads the frame it wrote.
type commandBackend struct {
	tempDir  string
	tools    []tool
	lookPath func(string) (string, error)
}

func (b *commandBackend) grab(ctx context.Context) ([]byte, error) {
	lookPath := b.lookPath
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	var names []string
	for _, t := range b.tools {
		if _, err := lookPath(t.name); err != nil {
			names = append(names, t.name)
			continue
		}
		return runTool(ctx, t, filepath.Join(b.tempDir, frameFile))
	}
	return nil, apperrors.Newf(apperrors.NotFound, "no camera tool found (install %s)", strings.Join(names, " or "))
}

func runTool(ctx context.Context, t tool, out string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, t.name, t.args(out)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		slog.Debug("camera capture failed", "tool", t.name, "error", err, "stderr", stderr.String())
		return nil, apperrors.Wrap(err, apperrors.CaptureModuleFailed, "camera capture").
			WithMetadata("tool", t.name)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CaptureModuleFailed, "read camera frame")
	}
	os.Remove(out)
	return data, nil
}

func newCommandCapturer(tools []tool) Capturer {
	tmpDir, err := os.MkdirTemp("", "posecoach-camera-*")
	owned := tmpDir
	if err != nil {
		slog.Error("failed to create temp dir", "error", err)
		tmpDir, owned = os.TempDir(), ""
	}
	return newBase(&commandBackend{tempDir: tmpDir, tools: tools}, owned)
}

func ffmpeg(format, input string) tool {
	return tool{name: "ffmpeg", args: func(out string) []string {
		return []string{"-hide_banner", "-loglevel", "error", "-f", format, "-i", input,
			"-frames:v", "1", "-q:v", "4", "-y", out}
	}}
}
