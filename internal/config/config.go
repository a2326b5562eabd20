// Package config handles platform configuration
package config

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	apperrors "github.com/GriffinCanCode/posecoach/platform/internal/errors"
)

type Config struct {
	BackendURL           string        `validate:"required,url"`
	HTTPAddr             string        `validate:"required"`
	CaptureSampleRate    int           `validate:"gt=0"`
	PlaybackSampleRate   int           `validate:"gt=0"`
	PlaybackGain         float64       `validate:"gt=0"`
	SendTimeout          time.Duration `validate:"gt=0"`
	ExcludedAudioDevices []string
	PosesFile            string
	PoseInterval         time.Duration `validate:"gt=0"`
	FeedbackBubbles      bool
	CameraEnabled        bool
	CameraDevice         string
	CameraRate           float64 `validate:"gt=0,lte=30"`
	FrameWidth           int     `validate:"gt=0"`
	FrameHashDistance    int     `validate:"gte=0,lte=64"`
	FrameQuality         int     `validate:"gt=0,lte=100"`
	AutoReconnect        bool
	LogLevel             string `validate:"oneof=debug info warn error"`
	LogFile              string
	LogMaxSizeMB         int `validate:"gt=0"`
	LogMaxBackups        int `validate:"gte=0"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load reads an optional .env file, then the environment.
func Load() *Config {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("failed to read .env", "error", err)
	}
	return &Config{
		BackendURL:           getEnv("BACKEND_URL", "ws://localhost:8000/ws/live"),
		HTTPAddr:             getEnv("HTTP_ADDR", ":8090"),
		CaptureSampleRate:    getEnvInt("CAPTURE_SAMPLE_RATE", 16000),
		PlaybackSampleRate:   getEnvInt("PLAYBACK_SAMPLE_RATE", 24000),
		PlaybackGain:         getEnvFloat("PLAYBACK_GAIN", 5.0),
		SendTimeout:          getEnvMillis("SEND_TIMEOUT_MS", 2*time.Second),
		ExcludedAudioDevices: getEnvList("EXCLUDED_AUDIO_DEVICES", []string{"iphone", "teams", "blackhole", "loopback"}),
		PosesFile:            getEnv("POSES_FILE", ""),
		PoseInterval:         getEnvMillis("POSE_INTERVAL_MS", time.Second),
		FeedbackBubbles:      getEnvBool("FEEDBACK_BUBBLES", true),
		CameraEnabled:        getEnvBool("CAMERA_ENABLED", false),
		CameraDevice:         getEnv("CAMERA_DEVICE", ""),
		CameraRate:           getEnvFloat("CAMERA_RATE", 1.0),
		FrameWidth:           getEnvInt("FRAME_WIDTH", 640),
		FrameHashDistance:    getEnvInt("FRAME_HASH_DISTANCE", 5),
		FrameQuality:         getEnvInt("FRAME_QUALITY", 75),
		AutoReconnect:        getEnvBool("AUTO_RECONNECT", false),
		LogLevel:             strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFile:              getEnv("LOG_FILE", ""),
		LogMaxSizeMB:         getEnvInt("LOG_MAX_SIZE_MB", 10),
		LogMaxBackups:        getEnvInt("LOG_MAX_BACKUPS", 3),
	}
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return apperrors.Wrap(err, apperrors.ConfigInvalid, "invalid configuration")
	}
	return nil
}

// SlogLevel maps LogLevel to a slog level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		return v == "true" || v == "1"
	}
	return def
}

func getEnvMillis(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return def
}

func getEnvList(key string, def []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if t := strings.TrimSpace(p); t != "" {
				result = append(result, t)
			}
		}
		return result
	}
	return def
}
