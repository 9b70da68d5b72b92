// Package remote recognises speech with an OpenAI-compatible transcription API.
package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	openai "github.com/openai/openai-go/v3"

	"xiaoma/internal/audio"
	"xiaoma/internal/oai"
	"xiaoma/internal/stt"
	"xiaoma/pkg/audioconv"
)

const recognizerRate = 16000

type HTTPConfig struct {
	BaseURL  string // e.g. https://api.openai.com/v1
	APIKey   string
	Model    string
	Language string // empty lets the service detect it
	Prompt   string
}

// HTTPRecognizer uploads clips to /audio/transcriptions as 16 kHz mono WAV.
type HTTPRecognizer struct {
	cfg HTTPConfig
	api openai.Client
}

func NewHTTPRecognizer(cfg HTTPConfig, client *http.Client) *HTTPRecognizer {
	if cfg.Model == "" {
		cfg.Model = "whisper-1"
	}
	return &HTTPRecognizer{
		cfg: cfg,
		api: oai.NewClient(oai.Endpoint{BaseURL: cfg.BaseURL, APIKey: cfg.APIKey}, client),
	}
}

// WithPrompt returns a recognizer sharing the same client that biases
// decoding towards prompt, e.g. the wake phrase.
func (r *HTTPRecognizer) WithPrompt(prompt string) *HTTPRecognizer {
	cp := *r
	cp.cfg.Prompt = prompt
	return &cp
}

func (r *HTTPRecognizer) Transcribe(ctx context.Context, clip audio.Clip) (stt.Transcript, error) {
	if clip.Empty() {
		return stt.Transcript{}, errors.New("no audio samples provided")
	}

	wav, err := audioconv.EncodeWAV(audioconv.PCM{
		Samples:    audioconv.Resample(clip.Samples, clip.SampleRate, recognizerRate),
		SampleRate: recognizerRate,
	})
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("encode wav: %w", err)
	}

	params := openai.AudioTranscriptionNewParams{
		File:  openai.File(bytes.NewReader(wav), "clip.wav", "audio/wav"),
		Model: openai.AudioModel(r.cfg.Model),
	}
	if r.cfg.Language != "" {
		params.Language = openai.String(r.cfg.Language)
	}
	if r.cfg.Prompt != "" {
		params.Prompt = openai.String(r.cfg.Prompt)
	}

	out, err := r.api.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		if apiErr, ok := oai.APIError(err); ok {
			return stt.Transcript{}, serviceError(apiErr)
		}
		return stt.Transcript{}, fmt.Errorf("transcription request: %w", err)
	}

	return stt.Transcript{Text: strings.TrimSpace(out.Text), Language: r.cfg.Language}, nil
}

func serviceError(apiErr *openai.Error) *stt.Error {
	code := apiErr.Code
	if code == "" {
		code = apiErr.Type
	}
	if code == "" {
		code = "HTTP " + strconv.Itoa(apiErr.StatusCode)
	}
	msg := apiErr.Message
	if msg == "" {
		msg = http.StatusText(apiErr.StatusCode)
	}
	return &stt.Error{Code: code, Message: msg}
}
