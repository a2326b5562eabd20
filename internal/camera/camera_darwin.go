//go:build darwin

package camera

// New creates a platform-specific camera capturer
func New(cfg Config) Capturer {
	imagesnap := tool{name: "imagesnap", args: func(out string) []string {
		args := []string{"-q", "-w", "0.5"}
		if cfg.Device != "" {
			args = append(args, "-d", cfg.Device)
		}
		return append(args, out)
	}}
	dev := cfg.Device
	if dev == "" {
		dev = "0"
	}
	return newCommandCapturer([]tool{imagesnap, ffmpeg("avfoundation", dev)})
}
