// Package whisper runs speech recognition locally with whisper.cpp.
package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"strings"

	"github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"xiaoma/internal/audio"
	"xiaoma/internal/stt"
	"xiaoma/pkg/audioconv"
)

const modelRate = 16000

type Options struct {
	Language      string  // "auto", "zh", "en", ...
	Threads       int     // <=0 => NumCPU()
	InitialPrompt string  // biases decoding, e.g. towards the wake phrase
	BeamSize      int     // 0 = greedy
	Temperature   float32 // 0 = default
}

type Transcriber struct {
	model whisper.Model
	opt   Options
}

func NewTranscriber(modelPath string, opt Options) (*Transcriber, error) {
	if modelPath == "" {
		return nil, errors.New("empty model path")
	}
	m, err := whisper.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("load model: %w", err)
	}
	if opt.Language == "" {
		opt.Language = "auto"
	}
	return &Transcriber{model: m, opt: opt}, nil
}

// WithPrompt returns a transcriber that shares t's model but decodes with
// prompt as the initial prompt. Only t owns the model and must be closed.
func (t *Transcriber) WithPrompt(prompt string) *Transcriber {
	c := *t
	c.opt.InitialPrompt = prompt
	return &c
}

func (t *Transcriber) Close() error {
	if t.model == nil {
		return nil
	}
	return t.model.Close()
}

// Transcribe resamples the clip to 16 kHz when needed and decodes it in one pass.
func (t *Transcriber) Transcribe(ctx context.Context, clip audio.Clip) (stt.Transcript, error) {
	if t.model == nil {
		return stt.Transcript{}, errors.New("nil model")
	}
	if clip.Empty() {
		return stt.Transcript{}, errors.New("no audio samples provided")
	}

	pcm := audioconv.Resample(clip.Samples, clip.SampleRate, modelRate)

	wctx, err := t.model.NewContext()
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("new context: %w", err)
	}

	if err := wctx.SetLanguage(t.opt.Language); err != nil {
		return stt.Transcript{}, fmt.Errorf("set language: %w", err)
	}

	threads := t.opt.Threads
	if threads <= 0 {
		threads = runtime.NumCPU()
	}
	wctx.SetThreads(uint(threads))

	if t.opt.BeamSize > 0 {
		wctx.SetBeamSize(t.opt.BeamSize)
	}
	if t.opt.InitialPrompt != "" {
		wctx.SetInitialPrompt(t.opt.InitialPrompt)
	}
	if t.opt.Temperature != 0 {
		wctx.SetTemperature(t.opt.Temperature)
	}

	if err := wctx.Process(pcm, nil, nil, nil); err != nil {
		return stt.Transcript{}, &stt.Error{Code: "process", Message: err.Error()}
	}

	var (
		parts []string
		probs []float32
	)
	for {
		select {
		case <-ctx.Done():
			return stt.Transcript{}, ctx.Err()
		default:
		}

		s, err := wctx.NextSegment()
		if err == io.EOF {
			break
		}
		if err != nil {
			return stt.Transcript{}, fmt.Errorf("next segment: %w", err)
		}
		parts = append(parts, strings.TrimSpace(s.Text))
		for _, tok := range s.Tokens {
			// skip control tokens such as [_BEG_] and [_TT_150]
			if strings.HasPrefix(tok.Text, "[_") {
				continue
			}
			probs = append(probs, tok.P)
		}
	}

	lang := wctx.DetectedLanguage()
	if lang == "" {
		lang = wctx.Language()
	}

	return stt.Transcript{
		Text:       strings.TrimSpace(strings.Join(parts, " ")),
		Confidence: stt.MeanConfidence(probs),
		Language:   lang,
	}, nil
}
