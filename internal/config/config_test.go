package config

import (
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"XIAOMA_CHAT_API_KEY", "SILICONFLOW_API_KEY", "OPENAI_API_KEY",
		"XIAOMA_SEARCH_API_KEY", "SERPER_API_KEY",
		"XIAOMA_STT", "XIAOMA_TTS", "XIAOMA_TRIGGERS", "XIAOMA_PAUSE",
		"XIAOMA_ENERGY_MULTIPLIER", "XIAOMA_CHAT_MAX_TOKENS", "XIAOMA_FAILURE_FORMAT",
		"XIAOMA_WAKE_PHRASE", "XIAOMA_BUS_URL", "XIAOMA_PROXY", "XIAOMA_DUCK",
		"XIAOMA_WAKE_SKIP_SILENCE",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Chat.Model != "deepseek-ai/DeepSeek-V3" || cfg.Chat.MaxTokens != 1024 {
		t.Fatalf("unexpected chat defaults: %+v", cfg.Chat)
	}
	if cfg.Chat.Temperature != 0.7 || cfg.Chat.Timeout != 30*time.Second {
		t.Fatalf("unexpected chat defaults: %+v", cfg.Chat)
	}
	if cfg.Search.APIKey != "" || cfg.Search.Country != "cn" || cfg.Search.Timeout != 15*time.Second {
		t.Fatalf("unexpected search defaults: %+v", cfg.Search)
	}
	if cfg.Wake.Phrase != "小马" || cfg.Wake.Ack != "我在" || cfg.Wake.Window != time.Second || cfg.Wake.SkipSilence {
		t.Fatalf("unexpected wake defaults: %+v", cfg.Wake)
	}
	if cfg.Audio.MaxSilence != 5*time.Second || cfg.Audio.MaxDuration != 10*time.Second || cfg.Audio.Pause != 3*time.Second {
		t.Fatalf("unexpected audio defaults: %+v", cfg.Audio)
	}
	if cfg.Audio.Multiplier != 2 || cfg.Audio.Calibration != 2*time.Second {
		t.Fatalf("unexpected calibration defaults: %+v", cfg.Audio)
	}
	if cfg.Assistant.Triggers != nil {
		t.Fatalf("expected built-in triggers, got %v", cfg.Assistant.Triggers)
	}
	if cfg.Assistant.FailureFormat != "request failed: %s" {
		t.Fatalf("unexpected failure format %q", cfg.Assistant.FailureFormat)
	}
	if cfg.STT.Backend != STTWhisper || cfg.TTS.Backend != TTSEspeak {
		t.Fatalf("unexpected backends: %s %s", cfg.STT.Backend, cfg.TTS.Backend)
	}
	if cfg.Control.BusURL != "" || cfg.Control.Proxy != "" || cfg.Duck.Enabled {
		t.Fatalf("optional features must default off: %+v %+v", cfg.Control, cfg.Duck)
	}
}

func TestLoadRespectsOverridesAndFallbacks(t *testing.T) {
	clearEnv(t)
	t.Setenv("SILICONFLOW_API_KEY", "sf-key")
	t.Setenv("SERPER_API_KEY", "serper-key")
	t.Setenv("XIAOMA_STT", "HTTP")
	t.Setenv("XIAOMA_TRIGGERS", " 股价, ,汇率 ")
	t.Setenv("XIAOMA_PAUSE", "1500")
	t.Setenv("XIAOMA_WAKE_PHRASE", "hey jarvis")
	t.Setenv("XIAOMA_ENERGY_MULTIPLIER", "not-a-number")
	t.Setenv("XIAOMA_CHAT_MAX_TOKENS", "-5")
	t.Setenv("XIAOMA_FAILURE_FORMAT", "no placeholder")
	t.Setenv("XIAOMA_DUCK", "true")
	t.Setenv("XIAOMA_WAKE_SKIP_SILENCE", "1")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Chat.APIKey != "sf-key" || cfg.Search.APIKey != "serper-key" {
		t.Fatalf("expected key fallbacks, got %q %q", cfg.Chat.APIKey, cfg.Search.APIKey)
	}
	if cfg.STT.Backend != STTHTTP {
		t.Fatalf("expected http recognizer, got %q", cfg.STT.Backend)
	}
	if len(cfg.Assistant.Triggers) != 2 || cfg.Assistant.Triggers[0] != "股价" || cfg.Assistant.Triggers[1] != "汇率" {
		t.Fatalf("unexpected triggers %v", cfg.Assistant.Triggers)
	}
	if cfg.Audio.Pause != 1500*time.Millisecond {
		t.Fatalf("expected millisecond pause, got %s", cfg.Audio.Pause)
	}
	if cfg.Wake.Phrase != "hey jarvis" {
		t.Fatalf("unexpected phrase %q", cfg.Wake.Phrase)
	}
	if cfg.Audio.Multiplier != 2 || cfg.Chat.MaxTokens != 1024 {
		t.Fatalf("invalid numbers must fall back: %v %d", cfg.Audio.Multiplier, cfg.Chat.MaxTokens)
	}
	if cfg.Assistant.FailureFormat != "request failed: %s" {
		t.Fatalf("format without placeholder must fall back, got %q", cfg.Assistant.FailureFormat)
	}
	if !cfg.Duck.Enabled || !cfg.Wake.SkipSilence {
		t.Fatalf("expected ducking and silence skipping enabled")
	}
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	clearEnv(t)
	t.Setenv("XIAOMA_TTS", "festival")

	if _, err := Load(); err == nil {
		t.Fatalf("expected error for unknown tts backend")
	}
}

func TestEnvOrDefaultDuration(t *testing.T) {
	for value, want := range map[string]time.Duration{
		"":      time.Second,
		"250":   250 * time.Millisecond,
		"1.5s":  1500 * time.Millisecond,
		"0":     time.Second,
		"-2s":   time.Second,
		"soon":  time.Second,
		"2m30s": 150 * time.Second,
	} {
		t.Setenv("XIAOMA_TEST_DURATION", value)
		if got := envOrDefaultDuration("XIAOMA_TEST_DURATION", time.Second); got != want {
			t.Fatalf("%q: got %s, want %s", value, got, want)
		}
	}
}
