package audio

import (
	"context"
	log "log/slog"
	"time"
)

// Outcome says how a recording ended.
type Outcome int

const (
	OutcomeSpeech      Outcome = iota // speech followed by a pause
	OutcomeTruncated                  // speech hit MaxDuration
	OutcomeNoInput                    // nothing said within MaxSilence
	OutcomeDeviceError                // capture failed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSpeech:
		return "speech"
	case OutcomeTruncated:
		return "truncated"
	case OutcomeNoInput:
		return "no_input"
	case OutcomeDeviceError:
		return "device_error"
	default:
		return "unknown"
	}
}

// Utterance is the result of one recording. Clip is empty unless
// Outcome is OutcomeSpeech or OutcomeTruncated.
type Utterance struct {
	Clip    Clip
	Outcome Outcome
	Err     error
}

type RecorderConfig struct {
	MaxSilence  time.Duration // wait for speech to start
	MaxDuration time.Duration // hard cap on captured audio
	Pause       time.Duration // trailing silence that ends speech
}

type Recorder struct {
	gate *Gate
	cfg  RecorderConfig
}

func NewRecorder(gate *Gate, cfg RecorderConfig) *Recorder {
	if cfg.MaxSilence <= 0 {
		cfg.MaxSilence = 5 * time.Second
	}
	if cfg.MaxDuration <= 0 {
		cfg.MaxDuration = 10 * time.Second
	}
	if cfg.Pause <= 0 {
		cfg.Pause = 3 * time.Second
	}
	return &Recorder{gate: gate, cfg: cfg}
}

func (r *Recorder) Record(ctx context.Context) Utterance {
	return r.RecordWith(ctx, r.cfg.MaxSilence, r.cfg.MaxDuration)
}

// RecordWith captures one utterance starting now.
func (r *Recorder) RecordWith(ctx context.Context, maxSilence, maxDuration time.Duration) Utterance {
	src := r.gate.Source()
	sampleRate := src.SampleRate()
	frameDur := r.gate.FrameDuration()
	maxSamples := int(maxDuration * time.Duration(sampleRate) / time.Second)

	out := make([]float32, 0, maxSamples)

	var (
		speaking bool
		waited   time.Duration
		silence  time.Duration
	)

	for {
		if err := ctx.Err(); err != nil {
			return Utterance{Outcome: OutcomeDeviceError, Err: err}
		}

		frame, err := src.Next()
		if err != nil {
			log.Error("Failed to read audio frame", "err", err)
			return Utterance{Outcome: OutcomeDeviceError, Err: err}
		}

		if !speaking {
			if !r.gate.IsSpeech(frame) {
				waited += frameDur
				if waited >= maxSilence {
					return Utterance{Outcome: OutcomeNoInput}
				}
				continue
			}
			speaking = true
		}

		if r.gate.IsSpeech(frame) {
			silence = 0
		} else {
			silence += frameDur
		}

		out = append(out, frame...)

		if len(out) >= maxSamples {
			return Utterance{
				Clip:    Clip{Samples: out[:maxSamples], SampleRate: sampleRate},
				Outcome: OutcomeTruncated,
			}
		}

		if silence >= r.cfg.Pause {
			return Utterance{
				Clip:    Clip{Samples: out, SampleRate: sampleRate},
				Outcome: OutcomeSpeech,
			}
		}
	}
}
