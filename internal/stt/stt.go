// Package stt turns recorded clips into text.
package stt

import (
	"context"
	"fmt"
	"strings"

	"xiaoma/internal/audio"
)

// Transcript is what a recognizer heard. Empty Text means nothing was recognised.
// Confidence is in [0, 1]; 0 means the recognizer did not report one.
type Transcript struct {
	Text       string
	Confidence float32
	Language   string
}

// MeanConfidence averages per-token probabilities, clamped to [0, 1].
func MeanConfidence(probs []float32) float32 {
	if len(probs) == 0 {
		return 0
	}
	var sum float64
	for _, p := range probs {
		sum += float64(min(max(p, 0), 1))
	}
	return float32(sum / float64(len(probs)))
}

func (t Transcript) Empty() bool { return strings.TrimSpace(t.Text) == "" }

// Recognizer is a one-shot, non-streaming speech-to-text service.
type Recognizer interface {
	Transcribe(ctx context.Context, clip audio.Clip) (Transcript, error)
}

// Error is a recognition failure reported by the service itself.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("recognizer error %s: %s", e.Code, e.Message)
}
