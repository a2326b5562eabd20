//go:build windows

package camera

// New creates a platform-specific camera capturer. DirectShow needs a
// device name; without one every capture fails with NotFound.
func New(cfg Config) Capturer {
	if cfg.Device == "" {
		return newCommandCapturer(nil)
	}
	return newCommandCapturer([]tool{ffmpeg("dshow", "video="+cfg.Device)})
}
