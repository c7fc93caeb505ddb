package audio

import (
	"fmt"

	"github.com/loqalabs/loqa-lyrics/internal/command"
)

// EncodingError reports a failed re-encode. Callers treat it as a stage
// failure, never as empty output.
type EncodingError struct {
	Input  string
	Output string
	Log    command.Log
	Err    error
}

func (e *EncodingError) Error() string {
	if e.Log.Command == "" {
		return fmt.Sprintf("encode %s: %v", e.Input, e.Err)
	}
	if e.Log.Stderr != "" {
		return fmt.Sprintf("encode %s: %s exited %d: %s", e.Input, e.Log.Command, e.Log.ExitCode, e.Log.Stderr)
	}
	return fmt.Sprintf("encode %s: %s exited %d: %v", e.Input, e.Log.Command, e.Log.ExitCode, e.Err)
}

func (e *EncodingError) Unwrap() error {
	return e.Err
}
