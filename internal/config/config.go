package config

import (
	"os"
	"strconv"
	"time"
)

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

// Config holds all runtime configuration, loaded from environment variables.
type Config struct {
	// Server
	Port     int
	OSCAddr  string // empty disables the OSC control surface
	LogLevel string

	// ElevenLabs synthesis
	ElevenLabsAPIKey  string
	ElevenLabsAPIURL  string
	ElevenLabsVoiceID string

	// OpenRouter scene analysis
	OpenRouterAPIKey string
	OpenRouterAPIURL string
	OpenRouterModel  string
	RequestTimeout   time.Duration // per upstream call

	// Engine tuning
	GraceSec          float64 // one-shot tail tolerance past window end
	DriftThresholdSec float64 // loop re-sync threshold
	MaxGain           float64 // per-cue gain ceiling
	NarratorGain      float64

	// Output encoding
	MP3Bitrate  string // ffmpeg -b:a value
	OpusBitrate int    // bits per second
}

// Load reads configuration from environment variables with sane defaults.
func Load() Config {
	return Config{
		Port:     envInt("LUCID_PORT", 8080),
		OSCAddr:  envStrAllowEmpty("LUCID_OSC_ADDR", ":9000"),
		LogLevel: envStr("LUCID_LOG_LEVEL", "info"),

		ElevenLabsAPIKey:  envStr("ELEVENLABS_API_KEY", ""),
		ElevenLabsAPIURL:  envStr("ELEVENLABS_API_URL", "https://api.elevenlabs.io"),
		ElevenLabsVoiceID: envStr("ELEVENLABS_VOICE_ID", "1ykC5GeLM4dP82qkyo91"),

		OpenRouterAPIKey: envStr("OPENROUTER_API_KEY", ""),
		OpenRouterAPIURL: envStr("OPENROUTER_API_URL", "https://openrouter.ai/api/v1"),
		OpenRouterModel:  envStr("OPENROUTER_MODEL", "google/gemini-2.5-flash"),
		RequestTimeout:   envDuration("LUCID_REQUEST_TIMEOUT", 90*time.Second),

		GraceSec:          envFloat("LUCID_GRACE_SEC", 0.12),
		DriftThresholdSec: envFloat("LUCID_DRIFT_THRESHOLD_SEC", 0.45),
		MaxGain:           envFloat("LUCID_MAX_GAIN", 3),
		NarratorGain:      envFloat("LUCID_NARRATOR_GAIN", 1.05),

		MP3Bitrate:  envStr("LUCID_MP3_BITRATE", "192k"),
		OpusBitrate: envInt("LUCID_OPUS_BITRATE", 128000),
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// envStrAllowEmpty distinguishes an unset variable from one set to "".
func envStrAllowEmpty(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

// envDuration accepts Go duration strings ("90s") or bare seconds ("90").
func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}
