package stt

import (
	"context"
	"fmt"

	"github.com/loqalabs/loqa-lyrics/internal/audio"
)

// silenceThreshold is the normalized peak below which a file counts as silent.
const silenceThreshold = 0.01

type mockRecognizer struct {
	text     string
	language string
}

// NewMockRecognizer answers every request with text, or an empty transcript
// when the submitted audio is silent. Detection always reports language.
func NewMockRecognizer(text, language string) Recognizer {
	if language == "" {
		language = "en"
	}
	return &mockRecognizer{text: text, language: language}
}

func (m *mockRecognizer) Recognize(ctx context.Context, audioPath string, opts Options) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	peak, err := audio.PeakAmplitude(audioPath)
	if err != nil {
		return nil, fmt.Errorf("mock recognizer: %w", err)
	}
	text := m.text
	if peak < silenceThreshold {
		text = ""
	}

	ch := Channel{Alternatives: []Alternative{{Transcript: &text, Confidence: 1}}}
	if opts.DetectLanguage {
		lang := m.language
		ch.DetectedLanguage = &lang
	}
	return &Response{Results: &Results{Channels: []Channel{ch}}}, nil
}
