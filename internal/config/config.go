package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the voice chat service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	AllowAnyOrigin bool

	DatabaseURL        string
	VectorEmbeddingDim int

	SpeechProvider     string
	SpeechSerialize    bool
	SpeechCallTimeout  time.Duration
	EmbeddingURL       string
	STTURL             string
	LLMURL             string
	TTSURL             string
	STTLanguage        string
	AudioSampleRate    int

	ContextRecentLimit   int
	ContextTopK          int
	ContextMinScore      float64
	ContextSessionScoped bool
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "voicechat"),
		AllowAnyOrigin:   false,
		DatabaseURL:      envTrimmed("DATABASE_URL"),
		SpeechProvider:   envOrDefault("SPEECH_PROVIDER", "auto"),
		EmbeddingURL:     envTrimmed("EMBEDDING_URL"),
		STTURL:           envTrimmed("STT_URL"),
		LLMURL:           envTrimmed("LLM_URL"),
		TTSURL:           envTrimmed("TTS_URL"),
		STTLanguage:      envOrDefault("STT_LANGUAGE", "ko"),

		ShutdownTimeout:   15 * time.Second,
		SpeechCallTimeout: 30 * time.Second,

		VectorEmbeddingDim:   384,
		AudioSampleRate:      16000,
		ContextRecentLimit:   4,
		ContextTopK:          3,
		ContextMinScore:      0.6,
		ContextSessionScoped: true,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SpeechCallTimeout, err = durationFromEnv("SPEECH_CALL_TIMEOUT", cfg.SpeechCallTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.SpeechSerialize, err = boolFromEnv("SPEECH_SERIALIZE", cfg.SpeechSerialize)
	if err != nil {
		return Config{}, err
	}
	cfg.VectorEmbeddingDim, err = intFromEnv("VECTOR_EMBEDDING_DIM", cfg.VectorEmbeddingDim)
	if err != nil {
		return Config{}, err
	}
	cfg.AudioSampleRate, err = intFromEnv("AUDIO_SAMPLE_RATE", cfg.AudioSampleRate)
	if err != nil {
		return Config{}, err
	}
	cfg.ContextRecentLimit, err = intFromEnv("CONTEXT_RECENT_LIMIT", cfg.ContextRecentLimit)
	if err != nil {
		return Config{}, err
	}
	cfg.ContextTopK, err = intFromEnv("CONTEXT_TOP_K", cfg.ContextTopK)
	if err != nil {
		return Config{}, err
	}
	cfg.ContextMinScore, err = floatFromEnv("CONTEXT_MIN_SCORE", cfg.ContextMinScore)
	if err != nil {
		return Config{}, err
	}
	cfg.ContextSessionScoped, err = boolFromEnv("CONTEXT_SESSION_SCOPED", cfg.ContextSessionScoped)
	if err != nil {
		return Config{}, err
	}

	switch strings.ToLower(strings.TrimSpace(cfg.SpeechProvider)) {
	case "", "auto":
		cfg.SpeechProvider = "auto"
	case "http":
		cfg.SpeechProvider = "http"
	case "mock":
		cfg.SpeechProvider = "mock"
	default:
		return Config{}, fmt.Errorf("invalid SPEECH_PROVIDER: %q (expected auto|http|mock)", cfg.SpeechProvider)
	}

	if cfg.VectorEmbeddingDim <= 0 {
		return Config{}, fmt.Errorf("VECTOR_EMBEDDING_DIM must be positive")
	}
	if cfg.AudioSampleRate <= 0 {
		return Config{}, fmt.Errorf("AUDIO_SAMPLE_RATE must be positive")
	}
	if cfg.ContextRecentLimit < 0 {
		return Config{}, fmt.Errorf("CONTEXT_RECENT_LIMIT must be >= 0")
	}
	if cfg.ContextTopK < 0 {
		return Config{}, fmt.Errorf("CONTEXT_TOP_K must be >= 0")
	}
	if cfg.ContextMinScore < 0 || cfg.ContextMinScore > 1 {
		return Config{}, fmt.Errorf("CONTEXT_MIN_SCORE must be within [0,1]")
	}
	if cfg.SpeechCallTimeout < time.Second {
		return Config{}, fmt.Errorf("SPEECH_CALL_TIMEOUT must be at least 1s")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envTrimmed(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := envTrimmed(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := envTrimmed(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := envTrimmed(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(envTrimmed(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
