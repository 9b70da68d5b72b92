// Package assistant runs the wake → listen → answer → speak loop.
package assistant

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"sync"
	"time"

	"xiaoma/internal/audio"
	"xiaoma/internal/domain"
	"xiaoma/internal/prompt"
	"xiaoma/internal/stt"
)

type WakeDetector interface {
	Detect(ctx context.Context) bool
}

type UtteranceRecorder interface {
	Record(ctx context.Context) audio.Utterance
}

type ContextBuilder interface {
	Build(ctx context.Context, question string, now time.Time) prompt.Messages
}

type ChatCompleter interface {
	Complete(ctx context.Context, msgs prompt.Messages) (string, error)
}

type Speaker interface {
	Speak(ctx context.Context, text string) error
}

// ErrNoSpeech is the recording failure of a turn where nothing was said.
var ErrNoSpeech = errors.New("no speech before timeout")

// TurnSink receives every transcript entry, in order.
type TurnSink interface {
	Append(turn domain.Turn) error
}

// Outcome is how a single turn ended.
type Outcome int

const (
	OutcomeNoInput           Outcome = iota // nothing recorded
	OutcomeNoTranscript                     // recorded, but nothing recognised
	OutcomeAnswered                         // model replied
	OutcomeAnsweredWithError                // model failed, the failure was spoken instead
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNoInput:
		return "no_input"
	case OutcomeNoTranscript:
		return "no_transcript"
	case OutcomeAnswered:
		return "answered"
	case OutcomeAnsweredWithError:
		return "answered_with_error"
	default:
		return "unknown"
	}
}

type Config struct {
	// FailureFormat renders a model failure for the user; %s is the reason.
	FailureFormat    string
	RecognizeTimeout time.Duration
	SpeakTimeout     time.Duration
}

type Deps struct {
	Wake       WakeDetector
	Recorder   UtteranceRecorder
	Recognizer stt.Recognizer
	Builder    ContextBuilder
	Chat       ChatCompleter
	Speaker    Speaker
	Sinks      []TurnSink
}

type Assistant struct {
	deps Deps
	cfg  Config

	clock    func() time.Time
	observer func(domain.State)

	mu       sync.Mutex
	state    domain.State
	lastTurn time.Time
	lastErr  error
}

func New(deps Deps, cfg Config) *Assistant {
	if cfg.FailureFormat == "" {
		cfg.FailureFormat = "request failed: %s"
	}
	if cfg.RecognizeTimeout <= 0 {
		cfg.RecognizeTimeout = 30 * time.Second
	}
	if cfg.SpeakTimeout <= 0 {
		cfg.SpeakTimeout = 2 * time.Minute
	}
	return &Assistant{
		deps:  deps,
		cfg:   cfg,
		clock: time.Now,
		state: domain.StateAwaitingWake,
	}
}

// WithClock replaces time.Now, for tests.
func (a *Assistant) WithClock(clock func() time.Time) *Assistant {
	a.clock = clock
	return a
}

// OnState registers a callback invoked on every state change.
func (a *Assistant) OnState(f func(domain.State)) *Assistant {
	a.observer = f
	return a
}

func (a *Assistant) State() domain.State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// LastError is the failure of the most recent turn, tagged with its
// domain.ErrorKind, or nil if that turn went through.
func (a *Assistant) LastError() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastErr
}

func (a *Assistant) fail(err error) error {
	a.mu.Lock()
	a.lastErr = err
	a.mu.Unlock()
	return err
}

func (a *Assistant) setState(s domain.State) {
	a.mu.Lock()
	changed := a.state != s
	a.state = s
	a.mu.Unlock()

	if changed {
		log.Debug("State", "state", s)
		if a.observer != nil {
			a.observer(s)
		}
	}
}

// Run loops until ctx is cancelled. Cancellation is only observed while
// waiting for the wake phrase; a turn in progress always completes.
func (a *Assistant) Run(ctx context.Context) error {
	log.Info("Assistant ready")

	for {
		a.setState(domain.StateAwaitingWake)

		if ctx.Err() != nil {
			log.Info("Assistant stopped")
			return nil
		}

		if !a.deps.Wake.Detect(ctx) {
			continue
		}

		outcome := a.Turn(context.WithoutCancel(ctx))
		log.Debug("Turn finished", "outcome", outcome)
	}
}

// Turn runs one exchange, starting right after the wake phrase.
func (a *Assistant) Turn(ctx context.Context) Outcome {
	defer a.setState(domain.StateAwaitingWake)

	a.setState(domain.StateRecording)
	a.fail(nil)

	utt := a.deps.Recorder.Record(ctx)
	if utt.Clip.Empty() {
		if utt.Outcome == audio.OutcomeDeviceError {
			err := a.fail(domain.NewError(domain.KindRecording, utt.Err))
			log.Error("Recording failed", "err", err)
		} else {
			log.Info("No speech detected", "err", a.fail(domain.NewError(domain.KindRecording, ErrNoSpeech)))
		}
		return OutcomeNoInput
	}

	log.Info("Recorded", "duration", utt.Clip.Duration(), "outcome", utt.Outcome)

	a.setState(domain.StateTranscribing)

	question, ok := a.transcribe(ctx, utt.Clip)
	if !ok {
		return OutcomeNoTranscript
	}
	a.record(domain.RoleUser, question)

	a.setState(domain.StateThinking)

	outcome := OutcomeAnswered
	answer, err := a.answer(ctx, question)
	if err != nil {
		kind, _ := domain.KindOf(a.fail(err))
		log.Error("Failed to get answer", "kind", kind, "err", err)
		answer = fmt.Sprintf(a.cfg.FailureFormat, reason(err))
		outcome = OutcomeAnsweredWithError
	}
	a.record(domain.RoleAssistant, answer)

	a.setState(domain.StateSpeaking)

	sctx, cancel := context.WithTimeout(ctx, a.cfg.SpeakTimeout)
	defer cancel()
	if err := a.deps.Speaker.Speak(sctx, answer); err != nil {
		log.Error("Failed to voice out", "err", a.fail(domain.NewError(domain.KindSynthesis, err)))
	}

	return outcome
}

func (a *Assistant) transcribe(ctx context.Context, clip audio.Clip) (string, bool) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.RecognizeTimeout)
	defer cancel()

	tr, err := a.deps.Recognizer.Transcribe(ctx, clip)
	if err != nil {
		log.Warn("Failed to transcribe", "err", a.fail(domain.NewError(domain.KindRecognition, err)))
		return "", false
	}
	if tr.Empty() {
		log.Info("Nothing recognised")
		return "", false
	}

	log.Info("Transcribed", "text", tr.Text, "confidence", tr.Confidence)

	return tr.Text, true
}

func (a *Assistant) answer(ctx context.Context, question string) (string, error) {
	msgs := a.deps.Builder.Build(ctx, question, a.clock())

	answer, err := a.deps.Chat.Complete(ctx, msgs)
	if err != nil {
		return "", err
	}
	if answer == "" {
		return "", domain.NewError(domain.KindModelRequest, errors.New("empty answer"))
	}

	return answer, nil
}

// record appends one turn to every sink. Timestamps never go backwards,
// even if the wall clock does.
func (a *Assistant) record(role domain.Role, content string) {
	a.mu.Lock()
	at := a.clock()
	if at.Before(a.lastTurn) {
		at = a.lastTurn
	}
	a.lastTurn = at
	a.mu.Unlock()

	turn := domain.NewTurn(role, content, at)
	for _, sink := range a.deps.Sinks {
		if err := sink.Append(turn); err != nil {
			log.Error("Failed to log turn", "role", role, "err", err)
		}
	}
}

func reason(err error) string {
	var de *domain.Error
	if errors.As(err, &de) {
		return de.Reason()
	}
	return err.Error()
}
