// Package config resolves runtime settings from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Chat       ChatConfig
	Search     SearchConfig
	STT        STTConfig
	TTS        TTSConfig
	Wake       WakeConfig
	Audio      AudioConfig
	Duck       DuckConfig
	Assistant  AssistantConfig
	Transcript TranscriptConfig
	Control    ControlConfig
}

type ChatConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
}

type SearchConfig struct {
	URL     string
	APIKey  string // empty disables web search
	Country string
	Limit   int
	Timeout time.Duration
}

const (
	STTWhisper = "whisper"
	STTHTTP    = "http"

	TTSHTTP   = "http"
	TTSEspeak = "espeak"
)

type STTConfig struct {
	Backend      string // whisper or http
	WhisperModel string
	Threads      int
	Language     string
	BaseURL      string
	APIKey       string
	Model        string
	Timeout      time.Duration
}

type TTSConfig struct {
	Backend        string // http or espeak; http falls back to espeak
	BaseURL        string
	APIKey         string
	Model          string
	Voice          string
	Format         string
	SampleRate     int
	EspeakLanguage string
	EspeakRate     int
}

type WakeConfig struct {
	Phrase  string
	Ack     string
	Window  time.Duration
	Timeout time.Duration
	Chime   string // optional sound file played before Ack
	// SkipSilence leaves windows below the energy threshold unrecognized.
	SkipSilence bool
}

type AudioConfig struct {
	SampleRate  int
	FrameSize   int
	Threshold   float64
	Floor       float64
	Multiplier  float64
	Calibration time.Duration
	MaxSilence  time.Duration
	MaxDuration time.Duration
	Pause       time.Duration
}

type DuckConfig struct {
	Enabled   bool
	Factor    float64
	MinVolume int
	Fade      time.Duration
}

type AssistantConfig struct {
	SystemPrompt  string
	Triggers      []string // nil means the built-in list plus the current year
	FailureFormat string
}

type TranscriptConfig struct {
	Path string
	Echo bool
}

type ControlConfig struct {
	Socket string
	BusURL string // empty disables publishing
	Proxy  string // SOCKS5 address, empty for direct connections
}

// Load resolves configuration from environment variables and defaults.
// Malformed numbers fall back to the default; unknown backends are an error.
func Load() (Config, error) {
	cfg := Config{
		Chat: ChatConfig{
			BaseURL:     envOrDefault("XIAOMA_CHAT_BASE_URL", "https://api.siliconflow.cn/v1"),
			APIKey:      firstNonEmpty(os.Getenv("XIAOMA_CHAT_API_KEY"), os.Getenv("SILICONFLOW_API_KEY"), os.Getenv("OPENAI_API_KEY")),
			Model:       envOrDefault("XIAOMA_CHAT_MODEL", "deepseek-ai/DeepSeek-V3"),
			MaxTokens:   envOrDefaultInt("XIAOMA_CHAT_MAX_TOKENS", 1024),
			Temperature: envOrDefaultFloat("XIAOMA_CHAT_TEMPERATURE", 0.7),
			Timeout:     envOrDefaultDuration("XIAOMA_CHAT_TIMEOUT", 30*time.Second),
		},
		Search: SearchConfig{
			URL:     envOrDefault("XIAOMA_SEARCH_URL", "https://google.serper.dev/search"),
			APIKey:  firstNonEmpty(os.Getenv("XIAOMA_SEARCH_API_KEY"), os.Getenv("SERPER_API_KEY")),
			Country: envOrDefault("XIAOMA_SEARCH_COUNTRY", "cn"),
			Limit:   envOrDefaultInt("XIAOMA_SEARCH_LIMIT", 3),
			Timeout: envOrDefaultDuration("XIAOMA_SEARCH_TIMEOUT", 15*time.Second),
		},
		STT: STTConfig{
			Backend:      strings.ToLower(envOrDefault("XIAOMA_STT", STTWhisper)),
			WhisperModel: envOrDefault("XIAOMA_WHISPER_MODEL", "third_party/whisper.cpp/models/ggml-medium.bin"),
			Threads:      envOrDefaultInt("XIAOMA_WHISPER_THREADS", 0),
			Language:     envOrDefault("XIAOMA_STT_LANGUAGE", "zh"),
			BaseURL:      envOrDefault("XIAOMA_STT_BASE_URL", "https://api.openai.com/v1"),
			APIKey:       firstNonEmpty(os.Getenv("XIAOMA_STT_API_KEY"), os.Getenv("OPENAI_API_KEY")),
			Model:        envOrDefault("XIAOMA_STT_MODEL", "whisper-1"),
			Timeout:      envOrDefaultDuration("XIAOMA_STT_TIMEOUT", 30*time.Second),
		},
		TTS: TTSConfig{
			Backend:        strings.ToLower(envOrDefault("XIAOMA_TTS", TTSEspeak)),
			BaseURL:        envOrDefault("XIAOMA_TTS_BASE_URL", "https://api.openai.com/v1"),
			APIKey:         firstNonEmpty(os.Getenv("XIAOMA_TTS_API_KEY"), os.Getenv("OPENAI_API_KEY")),
			Model:          envOrDefault("XIAOMA_TTS_MODEL", "tts-1"),
			Voice:          envOrDefault("XIAOMA_TTS_VOICE", "alloy"),
			Format:         envOrDefault("XIAOMA_TTS_FORMAT", "mp3"),
			SampleRate:     envOrDefaultInt("XIAOMA_PLAYBACK_RATE", 24000),
			EspeakLanguage: envOrDefault("XIAOMA_ESPEAK_LANGUAGE", "cmn"),
			EspeakRate:     envOrDefaultInt("XIAOMA_ESPEAK_RATE", 175),
		},
		Wake: WakeConfig{
			Phrase:  envOrDefault("XIAOMA_WAKE_PHRASE", "小马"),
			Ack:     envOrDefault("XIAOMA_WAKE_ACK", "我在"),
			Window:  envOrDefaultDuration("XIAOMA_WAKE_WINDOW", time.Second),
			Timeout: envOrDefaultDuration("XIAOMA_WAKE_TIMEOUT", 5*time.Second),
			Chime:   strings.TrimSpace(os.Getenv("XIAOMA_WAKE_CHIME")),

			SkipSilence: envOrDefaultBool("XIAOMA_WAKE_SKIP_SILENCE", false),
		},
		Audio: AudioConfig{
			SampleRate:  envOrDefaultInt("XIAOMA_SAMPLE_RATE", 16000),
			FrameSize:   envOrDefaultInt("XIAOMA_FRAME_SIZE", 512),
			Threshold:   envOrDefaultFloat("XIAOMA_ENERGY_THRESHOLD", 0.01),
			Floor:       envOrDefaultFloat("XIAOMA_ENERGY_FLOOR", 0.005),
			Multiplier:  envOrDefaultFloat("XIAOMA_ENERGY_MULTIPLIER", 2),
			Calibration: envOrDefaultDuration("XIAOMA_CALIBRATION", 2*time.Second),
			MaxSilence:  envOrDefaultDuration("XIAOMA_LISTEN_TIMEOUT", 5*time.Second),
			MaxDuration: envOrDefaultDuration("XIAOMA_PHRASE_LIMIT", 10*time.Second),
			Pause:       envOrDefaultDuration("XIAOMA_PAUSE", 3*time.Second),
		},
		Duck: DuckConfig{
			Enabled:   envOrDefaultBool("XIAOMA_DUCK", false),
			Factor:    envOrDefaultFloat("XIAOMA_DUCK_FACTOR", 0.3),
			MinVolume: envOrDefaultInt("XIAOMA_DUCK_MIN_VOLUME", 10),
			Fade:      envOrDefaultDuration("XIAOMA_DUCK_FADE", 300*time.Millisecond),
		},
		Assistant: AssistantConfig{
			SystemPrompt:  strings.TrimSpace(os.Getenv("XIAOMA_SYSTEM_PROMPT")),
			Triggers:      splitList(os.Getenv("XIAOMA_TRIGGERS")),
			FailureFormat: envOrDefault("XIAOMA_FAILURE_FORMAT", "request failed: %s"),
		},
		Transcript: TranscriptConfig{
			Path: envOrDefault("XIAOMA_TRANSCRIPT", "conversation.txt"),
			Echo: envOrDefaultBool("XIAOMA_TRANSCRIPT_ECHO", true),
		},
		Control: ControlConfig{
			Socket: envOrDefault("XIAOMA_SOCKET", "/tmp/xiaoma.sock"),
			BusURL: strings.TrimSpace(os.Getenv("XIAOMA_BUS_URL")),
			Proxy:  strings.TrimSpace(os.Getenv("XIAOMA_PROXY")),
		},
	}

	if cfg.Audio.SampleRate <= 0 {
		cfg.Audio.SampleRate = 16000
	}
	if cfg.Audio.FrameSize < 64 {
		cfg.Audio.FrameSize = 512
	}
	if cfg.Audio.Multiplier <= 0 {
		cfg.Audio.Multiplier = 2
	}
	if cfg.Chat.MaxTokens <= 0 {
		cfg.Chat.MaxTokens = 1024
	}
	if !strings.Contains(cfg.Assistant.FailureFormat, "%s") {
		cfg.Assistant.FailureFormat = "request failed: %s"
	}

	switch cfg.STT.Backend {
	case STTWhisper, STTHTTP:
	default:
		return Config{}, fmt.Errorf("unknown XIAOMA_STT backend %q", cfg.STT.Backend)
	}
	switch cfg.TTS.Backend {
	case TTSHTTP, TTSEspeak:
	default:
		return Config{}, fmt.Errorf("unknown XIAOMA_TTS backend %q", cfg.TTS.Backend)
	}

	return cfg, nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func splitList(value string) []string {
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func envOrDefault(key string, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func envOrDefaultInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envOrDefaultFloat(key string, fallback float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil || parsed < 0 {
		return fallback
	}
	return parsed
}

func envOrDefaultBool(key string, fallback bool) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

// envOrDefaultDuration accepts Go durations ("1.5s") or bare milliseconds.
func envOrDefaultDuration(key string, fallback time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	if ms, err := strconv.Atoi(value); err == nil {
		if ms <= 0 {
			return fallback
		}
		return time.Duration(ms) * time.Millisecond
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}
