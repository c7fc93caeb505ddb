package pipeline

import (
	"fmt"
	"time"

	"github.com/loqalabs/loqa-lyrics/internal/language"
)

// State is a step of the run state machine:
// START → SEPARATING → DETECTING → TRANSCRIBING → DONE | FAILED.
type State string

const (
	StateStart        State = "START"
	StateSeparating   State = "SEPARATING"
	StateDetecting    State = "DETECTING"
	StateTranscribing State = "TRANSCRIBING"
	StateDone         State = "DONE"
	StateFailed       State = "FAILED"
)

// Terminal reports whether s ends a run.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// Outcome distinguishes the three ways a run can end.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	// OutcomeEmpty is a completed run in which no lyrics were heard.
	OutcomeEmpty  Outcome = "empty"
	OutcomeFailed Outcome = "failed"
)

// Messages carried in Result.Error.
const (
	MsgSeparationFailed = "Failed to isolate vocals from the audio file."
	MsgNoLyrics         = "No lyrics were transcribed."
	MsgStagingFailed    = "Failed to prepare the audio file."
)

// Fatal stage failure reasons.
const (
	ReasonStaging       = "input staging failed"
	ReasonSeparation    = "vocal isolation failed"
	ReasonTranscription = "transcription failed"
)

// StageError is a failure that ended a run.
type StageError struct {
	Stage  State
	Reason string
	Err    error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Reason, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Result is the outcome of one run. Transcript is non-empty only on
// OutcomeSuccess and Error is set on every other outcome.
type Result struct {
	RunID        string        `json:"run_id"`
	Input        string        `json:"input"`
	Transcript   string        `json:"transcription"`
	Language     language.Code `json:"language"`
	LanguageName string        `json:"language_name"`
	// LanguageDegraded is set when Language is the fallback rather than a detection.
	LanguageDegraded bool          `json:"language_degraded,omitempty"`
	Outcome          Outcome       `json:"outcome"`
	State            State         `json:"state"`
	Stage            State         `json:"stage,omitempty"`
	Error            string        `json:"error,omitempty"`
	Duration         time.Duration `json:"duration"`

	// Err holds the typed failure for errors.As at the front ends.
	Err error `json:"-"`
}

func (r Result) Failed() bool { return r.Outcome == OutcomeFailed }

func (r Result) Empty() bool { return r.Outcome == OutcomeEmpty }

// Event is delivered to hooks on every state transition. Result is set
// only on terminal states.
type Event struct {
	RunID  string
	Input  string
	State  State
	At     time.Time
	Result *Result
}

// Hook observes run transitions. Hooks run synchronously on the run's goroutine.
type Hook func(Event)
