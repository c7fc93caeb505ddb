// Package stt talks to the speech-to-text backend and turns an isolated
// vocal stem into lyrics text.
package stt

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/loqalabs/loqa-lyrics/internal/audio"
	"github.com/loqalabs/loqa-lyrics/internal/command"
	"github.com/loqalabs/loqa-lyrics/internal/config"
)

// EnglishCode is the only language the model is pinned to; everything else
// goes through multilingual mode.
const (
	EnglishCode      = "en"
	MultilingualCode = "multi"
)

type normalizer interface {
	Normalize(ctx context.Context, input, output string, maxDuration time.Duration) (audio.Artifact, error)
}

// Transcriber re-encodes the vocal stem and submits it for transcription.
type Transcriber struct {
	normalizer normalizer
	recognizer Recognizer
	model      string
	logger     *slog.Logger
}

func NewTranscriber(n normalizer, r Recognizer, model string, logger *slog.Logger) *Transcriber {
	return &Transcriber{
		normalizer: n,
		recognizer: r,
		model:      model,
		logger:     logger.With(slog.String("component", "transcriber")),
	}
}

// ModelLanguage maps a resolved language code to the model's language parameter.
func ModelLanguage(code string) string {
	if code == EnglishCode {
		return EnglishCode
	}
	return MultilingualCode
}

// Transcribe returns the trimmed transcript. An empty string with a nil
// error means the service heard nothing. Remote failures come back as
// *TranscriptionError and re-encoding failures as *audio.EncodingError.
func (t *Transcriber) Transcribe(ctx context.Context, vocal audio.Artifact, languageCode string) (string, error) {
	reencoded, err := t.normalizer.Normalize(ctx, vocal.Path, vocal.Sibling("_reencoded"), 0)
	if err != nil {
		return "", err
	}

	opts := Options{Model: t.model, Language: ModelLanguage(languageCode), Punctuate: true}
	t.logger.Info("transcribing", slog.String("path", reencoded.Path), slog.String("language", opts.Language))

	start := time.Now()
	resp, err := t.recognizer.Recognize(ctx, reencoded.Path, opts)
	if err != nil {
		return "", &TranscriptionError{Err: err}
	}
	text, err := FirstTranscript(resp)
	if err != nil {
		return "", &TranscriptionError{Err: err}
	}
	text = strings.TrimSpace(text)
	t.logger.Info("transcription complete", slog.Int("chars", len(text)), slog.Duration("took", time.Since(start)))
	return text, nil
}

// NewRecognizer builds the backend selected by cfg.Mode.
func NewRecognizer(cfg config.STTConfig, runner command.Runner) (Recognizer, error) {
	switch cfg.Mode {
	case "", "deepgram":
		return NewDeepgramRecognizer(cfg, &http.Client{Timeout: time.Duration(cfg.TimeoutMS) * time.Millisecond}), nil
	case "exec":
		return NewExecRecognizer(cfg, runner)
	case "mock":
		return NewMockRecognizer(cfg.MockText, EnglishCode), nil
	default:
		return nil, fmt.Errorf("unknown stt mode %q", cfg.Mode)
	}
}
