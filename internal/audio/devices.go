package audio

import (
	"strings"

	"github.com/gordonklaus/portaudio"
)

var (
	loopbackKeywords = []string{"blackhole", "vb-cable", "loopback", "monitor", "soundflower"}
	micKeywords      = []string{"microphone", "input", "mic", "built-in", "camera"}
	preferredMics    = []string{"macbook", "built-in"}
)

// isMicrophone reports whether a device name looks like a user microphone.
// Loopback devices are never microphones.
func isMicrophone(name string) bool {
	for _, kw := range loopbackKeywords {
		if containsIgnoreCase(name, kw) {
			return false
		}
	}
	for _, kw := range micKeywords {
		if containsIgnoreCase(name, kw) {
			return true
		}
	}
	return false
}

func isExcluded(name string, excluded []string) bool {
	for _, ex := range excluded {
		if ex != "" && containsIgnoreCase(name, ex) {
			return true
		}
	}
	return false
}

// prefer reports whether name should replace current as the chosen mic.
func prefer(name, current string) bool {
	for _, p := range preferredMics {
		if containsIgnoreCase(name, p) && !containsIgnoreCase(current, p) {
			return true
		}
	}
	return false
}

// pickMicrophone chooses the input device. Named microphones win, built-in
// ones first; otherwise the default input is used unless excluded.
func pickMicrophone(devices []*portaudio.DeviceInfo, def *portaudio.DeviceInfo, excluded []string) *portaudio.DeviceInfo {
	var best *portaudio.DeviceInfo
	for _, dev := range devices {
		if dev == nil || dev.MaxInputChannels < 1 || isExcluded(dev.Name, excluded) {
			continue
		}
		if !isMicrophone(dev.Name) {
			continue
		}
		if best == nil || prefer(dev.Name, best.Name) {
			best = dev
		}
	}
	if best != nil {
		return best
	}
	if def != nil && def.MaxInputChannels > 0 && !isExcluded(def.Name, excluded) {
		return def
	}
	return nil
}

func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
