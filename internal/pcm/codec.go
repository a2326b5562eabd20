// Package pcm converts between float audio samples and 16-bit little-endian PCM.
package pcm

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// DecodeError reports a PCM buffer that cannot hold whole 16-bit samples.
type DecodeError struct {
	Len int
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("pcm: odd byte length %d for 16-bit samples", e.Len)
}

// FloatToPCM16LE clamps each sample to [-1,1] and encodes it as int16 LE.
// Positive samples scale by 32767, negative by 32768. NaN encodes as silence.
func FloatToPCM16LE(samples []float32) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		if math.IsNaN(float64(s)) {
			s = 0
		}
		v := max(-1, min(1, s))
		var q int16
		if v < 0 {
			q = int16(v * 32768)
		} else {
			q = int16(v * 32767)
		}
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(q))
	}
	return buf
}

// PCM16LEToFloat decodes int16 LE samples, dividing by 32768.
func PCM16LEToFloat(buf []byte) ([]float32, error) {
	if len(buf)%2 != 0 {
		return nil, &DecodeError{Len: len(buf)}
	}
	out := make([]float32, len(buf)/2)
	for i := range out {
		out[i] = float32(int16(binary.LittleEndian.Uint16(buf[i*2:]))) / 32768
	}
	return out, nil
}

// BytesToBase64 encodes with the standard alphabet.
func BytesToBase64(b []byte) string { return base64.StdEncoding.EncodeToString(b) }

// Base64ToBytes decodes with the standard alphabet.
func Base64ToBytes(s string) ([]byte, error) { return base64.StdEncoding.DecodeString(s) }

// EncodeBase64 is FloatToPCM16LE followed by BytesToBase64.
func EncodeBase64(samples []float32) string {
	return BytesToBase64(FloatToPCM16LE(samples))
}

// DecodeBase64 is Base64ToBytes followed by PCM16LEToFloat.
func DecodeBase64(s string) ([]float32, error) {
	raw, err := Base64ToBytes(s)
	if err != nil {
		return nil, err
	}
	return PCM16LEToFloat(raw)
}

// RMS returns the root mean square of samples, 0 for an empty slice.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// Level is RMS scaled by gain and clamped to [0,1].
func Level(samples []float32, gain float64) float64 {
	return max(0, min(1, RMS(samples)*gain))
}

// Duration is the playback time of n samples at rate Hz.
func Duration(n, rate int) time.Duration {
	if rate <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(rate)
}
