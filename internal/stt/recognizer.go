package stt

import (
	"context"
	"encoding/json"
	"net/url"
)

// Options selects how the remote service treats one submission.
type Options struct {
	Model          string
	Language       string
	DetectLanguage bool
	Punctuate      bool
	SmartFormat    bool
}

// Query encodes the options as listen query parameters.
func (o Options) Query() url.Values {
	q := url.Values{}
	if o.Model != "" {
		q.Set("model", o.Model)
	}
	if o.Language != "" {
		q.Set("language", o.Language)
	}
	if o.DetectLanguage {
		q.Set("detect_language", "true")
	}
	if o.Punctuate {
		q.Set("punctuate", "true")
	}
	if o.SmartFormat {
		q.Set("smart_format", "true")
	}
	return q
}

// Response mirrors the listen API result. Optional fields are pointers so
// callers can tell an absent field from an empty one.
type Response struct {
	Metadata json.RawMessage `json:"metadata,omitempty"`
	Results  *Results        `json:"results,omitempty"`
}

type Results struct {
	Channels []Channel `json:"channels"`
}

type Channel struct {
	DetectedLanguage   *string       `json:"detected_language,omitempty"`
	LanguageConfidence float64       `json:"language_confidence,omitempty"`
	Alternatives       []Alternative `json:"alternatives"`
}

type Alternative struct {
	Transcript       *string `json:"transcript,omitempty"`
	Confidence       float64 `json:"confidence,omitempty"`
	DetectedLanguage *string `json:"detected_language,omitempty"`
	Language         *string `json:"language,omitempty"`
}

// FirstChannel returns results.channels[0], if present.
func (r *Response) FirstChannel() (*Channel, bool) {
	if r == nil || r.Results == nil || len(r.Results.Channels) == 0 {
		return nil, false
	}
	return &r.Results.Channels[0], true
}

// FirstAlternative returns the channel's alternatives[0], if present.
func (c *Channel) FirstAlternative() (*Alternative, bool) {
	if c == nil || len(c.Alternatives) == 0 {
		return nil, false
	}
	return &c.Alternatives[0], true
}

// FirstTranscript extracts results.channels[0].alternatives[0].transcript.
func FirstTranscript(resp *Response) (string, error) {
	ch, ok := resp.FirstChannel()
	if !ok {
		return "", &MalformedResponseError{Path: "results.channels[0]"}
	}
	alt, ok := ch.FirstAlternative()
	if !ok {
		return "", &MalformedResponseError{Path: "results.channels[0].alternatives[0]"}
	}
	if alt.Transcript == nil {
		return "", &MalformedResponseError{Path: "results.channels[0].alternatives[0].transcript"}
	}
	return *alt.Transcript, nil
}

// Recognizer abstracts the transcription/language-identification backend.
type Recognizer interface {
	Recognize(ctx context.Context, audioPath string, opts Options) (*Response, error)
}
