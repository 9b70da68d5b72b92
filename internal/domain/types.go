package domain

import (
	"errors"
	"fmt"
	"time"
)

// State is the phase of the conversation loop.
type State string

const (
	StateAwaitingWake State = "awaiting_wake"
	StateRecording    State = "recording"
	StateTranscribing State = "transcribing"
	StateThinking     State = "thinking"
	StateSpeaking     State = "speaking"
)

// Role tags who produced a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one entry of the conversation transcript.
// Turns are values: once built they are only copied, never changed.
type Turn struct {
	Timestamp time.Time `json:"timestamp"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
}

func NewTurn(role Role, content string, at time.Time) Turn {
	return Turn{Timestamp: at, Role: role, Content: content}
}

// ErrorKind classifies the recoverable failures of a turn.
type ErrorKind string

const (
	KindRecognition  ErrorKind = "recognition_failure"
	KindRecording    ErrorKind = "recording_timeout"
	KindSearch       ErrorKind = "search_failure"
	KindModelRequest ErrorKind = "model_request_failure"
	KindSynthesis    ErrorKind = "synthesis_failure"
)

// Error tags a failure with its kind.
type Error struct {
	Kind ErrorKind
	Err  error
}

func NewError(kind ErrorKind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Reason is the cause without the kind prefix; it is what gets spoken.
func (e *Error) Reason() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return e.Err.Error()
}

// KindOf reports the kind of the first *Error in err's chain.
func KindOf(err error) (ErrorKind, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind, true
	}
	return "", false
}
