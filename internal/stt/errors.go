package stt

import (
	"errors"
	"fmt"
)

// StatusError is a non-2xx reply from the remote service.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("remote service returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("remote service returned status %d: %s", e.StatusCode, e.Body)
}

// DecodeError is a reply body that is not the expected JSON document.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string { return fmt.Sprintf("decode response: %v", e.Err) }

func (e *DecodeError) Unwrap() error { return e.Err }

// MalformedResponseError reports a missing field in an otherwise valid reply.
type MalformedResponseError struct {
	Path string
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("malformed response: missing %s", e.Path)
}

// TranscriptionError is a failed transcription call. Unlike detection
// failures it is fatal to the run.
type TranscriptionError struct {
	Err error
}

func (e *TranscriptionError) Error() string {
	return fmt.Sprintf("transcription failed: %v", e.Err)
}

func (e *TranscriptionError) Unwrap() error { return e.Err }

// StatusCode returns the remote status code, or 0 when the call never got a reply.
func (e *TranscriptionError) StatusCode() int {
	var se *StatusError
	if errors.As(e.Err, &se) {
		return se.StatusCode
	}
	return 0
}
