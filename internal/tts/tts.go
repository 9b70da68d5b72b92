// Package tts speaks text aloud.
package tts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	log "log/slog"
	"mime"
	"net/http"
	"strings"

	openai "github.com/openai/openai-go/v3"

	"xiaoma/internal/domain"
	"xiaoma/internal/oai"
	"xiaoma/pkg/audioconv"
)

// Speaker says text and returns once playback has finished.
type Speaker interface {
	Speak(ctx context.Context, text string) error
}

// Synthesizer renders text into an encoded audio stream.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (Audio, error)
}

// Audio is an encoded clip; Format is a file extension such as "mp3".
type Audio struct {
	Data   []byte
	Format string
}

// Player plays decoded PCM on the local output device.
type Player interface {
	Play(ctx context.Context, pcm audioconv.PCM) error
}

// Voice speaks through a remote Synthesizer and a local Player.
type Voice struct {
	synth  Synthesizer
	player Player
}

func NewVoice(synth Synthesizer, player Player) *Voice {
	return &Voice{synth: synth, player: player}
}

func (v *Voice) Speak(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	clip, err := v.synth.Synthesize(ctx, text)
	if err != nil {
		return domain.NewError(domain.KindSynthesis, err)
	}

	pcm, err := audioconv.Decode(bytes.NewReader(clip.Data), clip.Format, audioconv.Options{})
	if err != nil {
		return domain.NewError(domain.KindSynthesis, fmt.Errorf("decode %s: %w", clip.Format, err))
	}

	if err := v.player.Play(ctx, pcm); err != nil {
		return domain.NewError(domain.KindSynthesis, fmt.Errorf("play: %w", err))
	}

	return nil
}

type HTTPConfig struct {
	BaseURL string // OpenAI-compatible, e.g. https://api.openai.com/v1
	APIKey  string
	Model   string
	Voice   string
	Format  string // mp3, wav, opus
}

// HTTPSynthesizer calls an OpenAI-compatible /audio/speech endpoint.
type HTTPSynthesizer struct {
	cfg HTTPConfig
	api openai.Client
}

func NewHTTPSynthesizer(cfg HTTPConfig, client *http.Client) *HTTPSynthesizer {
	if cfg.Model == "" {
		cfg.Model = "tts-1"
	}
	if cfg.Voice == "" {
		cfg.Voice = "alloy"
	}
	if cfg.Format == "" {
		cfg.Format = "mp3"
	}
	return &HTTPSynthesizer{
		cfg: cfg,
		api: oai.NewClient(oai.Endpoint{BaseURL: cfg.BaseURL, APIKey: cfg.APIKey}, client),
	}
}

func (s *HTTPSynthesizer) Synthesize(ctx context.Context, text string) (Audio, error) {
	resp, err := s.api.Audio.Speech.New(ctx, openai.AudioSpeechNewParams{
		Input:          text,
		Model:          openai.SpeechModel(s.cfg.Model),
		Voice:          openai.AudioSpeechNewParamsVoice(s.cfg.Voice),
		ResponseFormat: openai.AudioSpeechNewParamsResponseFormat(s.cfg.Format),
	})
	if err != nil {
		if apiErr, ok := oai.APIError(err); ok {
			return Audio{}, fmt.Errorf("speech: HTTP %d", apiErr.StatusCode)
		}
		return Audio{}, fmt.Errorf("speech request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Audio{}, fmt.Errorf("read audio: %w", err)
	}
	if len(data) == 0 {
		return Audio{}, errors.New("speech: empty audio")
	}

	return Audio{Data: data, Format: formatOf(resp.Header.Get("Content-Type"), s.cfg.Format)}, nil
}

// formatOf prefers the response media type over the requested format.
func formatOf(contentType, fallback string) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil || !strings.HasPrefix(mt, "audio/") {
		return fallback
	}
	return strings.TrimPrefix(mt, "audio/")
}

// Ducker lowers other applications while we talk.
type Ducker interface {
	Duck(ctx context.Context) error
	Restore(ctx context.Context) error
}

type ducked struct {
	Speaker
	ducker Ducker
}

// WithDucking wraps s so other audio is faded down for the duration of Speak.
func WithDucking(s Speaker, d Ducker) Speaker {
	return &ducked{Speaker: s, ducker: d}
}

func (d *ducked) Speak(ctx context.Context, text string) error {
	if err := d.ducker.Duck(ctx); err != nil {
		log.Warn("Failed to duck other streams", "err", err)
	}
	defer func() {
		if err := d.ducker.Restore(context.WithoutCancel(ctx)); err != nil {
			log.Warn("Failed to restore other streams", "err", err)
		}
	}()

	return d.Speaker.Speak(ctx, text)
}

// Fallback tries each speaker in order until one succeeds.
type Fallback []Speaker

func (f Fallback) Speak(ctx context.Context, text string) error {
	var errs []error
	for _, s := range f {
		err := s.Speak(ctx, text)
		if err == nil {
			return nil
		}
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
