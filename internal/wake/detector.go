// Package wake listens for the wake phrase.
package wake

import (
	"context"
	"errors"
	log "log/slog"
	"strings"
	"time"

	"xiaoma/internal/audio"
	"xiaoma/internal/domain"
	"xiaoma/internal/stt"
)

// Windower yields fixed-length capture windows; *audio.Gate implements it.
type Windower interface {
	Window(ctx context.Context, d time.Duration) (audio.Clip, bool, error)
}

type Speaker interface {
	Speak(ctx context.Context, text string) error
}

type Config struct {
	Phrase  string        // matched as a case-sensitive substring
	Ack     string        // spoken once the phrase is heard
	Window  time.Duration // length of each listening window
	Timeout time.Duration // recognition budget per window
	Backoff time.Duration // pause after a capture error
	// SkipSilence drops windows without speech energy instead of recognizing
	// them. Saves recognizer calls at the risk of missing a quiet phrase.
	SkipSilence bool
}

type Detector struct {
	gate    Windower
	rec     stt.Recognizer
	speaker Speaker
	chime   func(ctx context.Context) error
	trigger <-chan struct{}
	cfg     Config
}

func NewDetector(gate Windower, rec stt.Recognizer, speaker Speaker, cfg Config) *Detector {
	if cfg.Phrase == "" {
		cfg.Phrase = "小马"
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 200 * time.Millisecond
	}
	return &Detector{gate: gate, rec: rec, speaker: speaker, cfg: cfg}
}

// WithTrigger lets an external signal count as a wake, e.g. a control socket.
func (d *Detector) WithTrigger(trigger <-chan struct{}) *Detector {
	d.trigger = trigger
	return d
}

// WithChime plays a sound before the spoken acknowledgement.
func (d *Detector) WithChime(chime func(ctx context.Context) error) *Detector {
	d.chime = chime
	return d
}

// Detect blocks until the wake phrase is heard (true) or ctx is done (false).
// Recognition failures never end the loop.
func (d *Detector) Detect(ctx context.Context) bool {
	log.Info("Waiting for wake phrase", "phrase", d.cfg.Phrase)

	for {
		select {
		case <-ctx.Done():
			return false
		case <-d.trigger:
			log.Info("Woken by trigger")
			d.acknowledge(ctx)
			return true
		default:
		}

		clip, voiced, err := d.gate.Window(ctx, d.cfg.Window)
		if err != nil {
			if ctx.Err() != nil {
				return false
			}
			log.Warn("Failed to capture wake window", "err", err)
			d.sleep(ctx, d.cfg.Backoff)
			continue
		}
		if !voiced && d.cfg.SkipSilence {
			continue
		}

		text, ok := d.recognize(ctx, clip)
		if !ok {
			continue
		}

		log.Debug("Wake window", "text", text)

		if strings.Contains(text, d.cfg.Phrase) {
			log.Info("Wake phrase heard", "text", text)
			d.acknowledge(ctx)
			return true
		}
	}
}

func (d *Detector) recognize(ctx context.Context, clip audio.Clip) (string, bool) {
	rctx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	tr, err := d.rec.Transcribe(rctx, clip)
	if err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return "", false
		}
		log.Debug("Wake recognition failed", "err", domain.NewError(domain.KindRecognition, err))
		return "", false
	}
	if tr.Empty() {
		return "", false
	}

	return strings.TrimSpace(tr.Text), true
}

func (d *Detector) acknowledge(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	if d.chime != nil {
		if err := d.chime(ctx); err != nil {
			log.Warn("Failed to play chime", "err", err)
		}
	}
	if d.speaker == nil || d.cfg.Ack == "" {
		return
	}
	if err := d.speaker.Speak(ctx, d.cfg.Ack); err != nil {
		log.Error("Failed to acknowledge wake", "err", err)
	}
}

func (d *Detector) sleep(ctx context.Context, dur time.Duration) {
	t := time.NewTimer(dur)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
