//go:build linux

package camera

const defaultDevice = "/dev/video0"

// New creates a platform-specific camera capturer
func New(cfg Config) Capturer {
	dev := cfg.Device
	if dev == "" {
		dev = defaultDevice
	}
	return newCommandCapturer([]tool{
		ffmpeg("v4l2", dev),
		{name: "fswebcam", args: func(out string) []string {
			return []string{"-q", "-d", dev, "--no-banner", "--jpeg", "85", out}
		}},
	})
}
