// Package protocol defines the JSON messages exchanged on the bus.
package protocol

import "time"

const (
	// SubjectTranscribeRequest carries TranscribeRequest; replies are TranscribeReply.
	SubjectTranscribeRequest = "lyrics.transcribe.request"
	SubjectRunCompleted      = "lyrics.run.completed"
	SubjectRunFailed         = "lyrics.run.failed"

	SubjectWorkerAnnounce = "lyrics.worker.announce"
	// SubjectWorkerHeartbeat is suffixed with the worker id.
	SubjectWorkerHeartbeat = "lyrics.worker.heartbeat"
)

// TranscribeRequest asks the service to process a file readable by the server.
type TranscribeRequest struct {
	RequestID string `json:"request_id,omitempty"`
	Path      string `json:"path"`
}

type TranscribeReply struct {
	RequestID     string `json:"request_id,omitempty"`
	RunID         string `json:"run_id,omitempty"`
	Transcription string `json:"transcription"`
	Language      string `json:"language,omitempty"`
	LanguageName  string `json:"language_name,omitempty"`
	Outcome       string `json:"outcome"`
	Stage         string `json:"stage,omitempty"`
	Error         string `json:"error,omitempty"`
}

// RunEvent is published once per finished run from any front end.
type RunEvent struct {
	RunID            string        `json:"run_id"`
	Input            string        `json:"input"`
	Outcome          string        `json:"outcome"`
	Stage            string        `json:"stage,omitempty"`
	Language         string        `json:"language,omitempty"`
	LanguageDegraded bool          `json:"language_degraded,omitempty"`
	TranscriptChars  int           `json:"transcript_chars"`
	Error            string        `json:"error,omitempty"`
	Duration         time.Duration `json:"duration_ns"`
	Timestamp        time.Time     `json:"timestamp"`
}

// WorkerAnnounce advertises a bus worker and what it can transcribe.
type WorkerAnnounce struct {
	WorkerID       string    `json:"worker_id"`
	Runtime        string    `json:"runtime"`
	STTMode        string    `json:"stt_mode"`
	Model          string    `json:"model,omitempty"`
	Languages      []string  `json:"languages"`
	MaxConcurrency int       `json:"max_concurrency"`
	Timestamp      time.Time `json:"timestamp"`
}

type WorkerHeartbeat struct {
	WorkerID  string    `json:"worker_id"`
	Timestamp time.Time `json:"timestamp"`
}
