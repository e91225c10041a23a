package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.BindAddr != ":8080" {
		t.Fatalf("BindAddr = %q, want %q", cfg.BindAddr, ":8080")
	}
	if cfg.SpeechProvider != "auto" {
		t.Fatalf("SpeechProvider = %q, want %q", cfg.SpeechProvider, "auto")
	}
	if cfg.ContextRecentLimit != 4 || cfg.ContextTopK != 3 {
		t.Fatalf("context limits = (%d, %d), want (4, 3)", cfg.ContextRecentLimit, cfg.ContextTopK)
	}
	if cfg.ContextMinScore != 0.6 {
		t.Fatalf("ContextMinScore = %v, want 0.6", cfg.ContextMinScore)
	}
	if !cfg.ContextSessionScoped {
		t.Fatalf("ContextSessionScoped = false, want true by default")
	}
	if cfg.AudioSampleRate != 16000 {
		t.Fatalf("AudioSampleRate = %d, want 16000", cfg.AudioSampleRate)
	}
}

func TestLoadOverrides(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("APP_BIND_ADDR", ":9191")
	t.Setenv("DATABASE_URL", "postgres://localhost/voicechat")
	t.Setenv("CONTEXT_SESSION_SCOPED", "false")
	t.Setenv("CONTEXT_MIN_SCORE", "0.75")
	t.Setenv("SPEECH_PROVIDER", "mock")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":9191" {
		t.Fatalf("BindAddr = %q, want %q", cfg.BindAddr, ":9191")
	}
	if cfg.DatabaseURL != "postgres://localhost/voicechat" {
		t.Fatalf("DatabaseURL = %q, want explicit value", cfg.DatabaseURL)
	}
	if cfg.ContextSessionScoped {
		t.Fatalf("ContextSessionScoped = true, want false")
	}
	if cfg.ContextMinScore != 0.75 {
		t.Fatalf("ContextMinScore = %v, want 0.75", cfg.ContextMinScore)
	}
	if cfg.SpeechProvider != "mock" {
		t.Fatalf("SpeechProvider = %q, want %q", cfg.SpeechProvider, "mock")
	}
}

func TestLoadRejectsInvalidProvider(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("SPEECH_PROVIDER", "carrier-pigeon")

	if _, err := Load(); err == nil {
		t.Fatalf("expected error for invalid SPEECH_PROVIDER")
	}
}

func TestLoadRejectsOutOfRangeMinScore(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("CONTEXT_MIN_SCORE", "1.5")

	if _, err := Load(); err == nil {
		t.Fatalf("expected error for CONTEXT_MIN_SCORE > 1")
	}
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"APP_BIND_ADDR",
		"APP_SHUTDOWN_TIMEOUT",
		"APP_METRICS_NAMESPACE",
		"APP_ALLOW_ANY_ORIGIN",
		"DATABASE_URL",
		"VECTOR_EMBEDDING_DIM",
		"SPEECH_PROVIDER",
		"SPEECH_SERIALIZE",
		"SPEECH_CALL_TIMEOUT",
		"EMBEDDING_URL",
		"STT_URL",
		"LLM_URL",
		"TTS_URL",
		"STT_LANGUAGE",
		"AUDIO_SAMPLE_RATE",
		"CONTEXT_RECENT_LIMIT",
		"CONTEXT_TOP_K",
		"CONTEXT_MIN_SCORE",
		"CONTEXT_SESSION_SCOPED",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}
