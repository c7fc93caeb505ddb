package language

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/loqalabs/loqa-lyrics/internal/audio"
	"github.com/loqalabs/loqa-lyrics/internal/stt"
)

// DefaultWindow bounds how much audio is submitted for detection.
const DefaultWindow = 30 * time.Second

// Source records where in the response a language came from.
type Source string

const (
	SourceChannel             Source = "channel"
	SourceAlternative         Source = "alternative"
	SourceAlternativeLanguage Source = "alternative_language"
	SourceDefault             Source = "default"
)

// Reason classifies a degraded detection.
type Reason string

const (
	ReasonEncoding    Reason = "encoding"
	ReasonTransport   Reason = "transport"
	ReasonResponse    Reason = "response"
	ReasonUnsupported Reason = "unsupported"
	ReasonInternal    Reason = "internal"
)

// DetectionFailure explains why detection fell back to Default. It is
// never returned to pipeline callers.
type DetectionFailure struct {
	Reason Reason
	Raw    string
	Err    error
}

func (f *DetectionFailure) Error() string {
	switch {
	case f.Err != nil:
		return fmt.Sprintf("language detection degraded (%s): %v", f.Reason, f.Err)
	case f.Raw != "":
		return fmt.Sprintf("language detection degraded (%s): %q", f.Reason, f.Raw)
	default:
		return fmt.Sprintf("language detection degraded (%s)", f.Reason)
	}
}

func (f *DetectionFailure) Unwrap() error { return f.Err }

// Detection is the full outcome of one detection attempt. Code is always
// a supported language.
type Detection struct {
	Code    Code
	Raw     string
	Source  Source
	Failure *DetectionFailure
}

// Degraded reports whether Code is a fallback rather than a detected language.
func (d Detection) Degraded() bool { return d.Failure != nil }

type normalizer interface {
	Normalize(ctx context.Context, input, output string, maxDuration time.Duration) (audio.Artifact, error)
}

// Identifier submits a short vocal sample to the recognizer's detection mode.
type Identifier struct {
	normalizer normalizer
	recognizer stt.Recognizer
	model      string
	window     time.Duration
	logger     *slog.Logger
}

func NewIdentifier(n normalizer, r stt.Recognizer, model string, window time.Duration, logger *slog.Logger) *Identifier {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Identifier{
		normalizer: n,
		recognizer: r,
		model:      model,
		window:     window,
		logger:     logger.With(slog.String("component", "language")),
	}
}

// Detect returns the language of vocal, or Default when detection fails.
func (i *Identifier) Detect(ctx context.Context, vocal audio.Artifact) Code {
	return i.DetectDetailed(ctx, vocal).Code
}

// DetectDetailed never fails; failures are reported in Detection.Failure.
// The detection sample is removed before returning.
func (i *Identifier) DetectDetailed(ctx context.Context, vocal audio.Artifact) (det Detection) {
	samplePath := vocal.Sibling("_detection")
	defer func() {
		if err := os.Remove(samplePath); err != nil && !errors.Is(err, os.ErrNotExist) {
			i.logger.Warn("remove detection sample failed", slog.String("path", samplePath), slogError(err))
		}
	}()
	defer func() {
		if r := recover(); r != nil {
			det = degrade(ReasonInternal, "", fmt.Errorf("panic: %v", r))
		}
		if det.Failure != nil {
			i.logger.Warn("language detection degraded, using default",
				slog.String("reason", string(det.Failure.Reason)),
				slog.String("raw", det.Failure.Raw),
				slog.String("language", string(det.Code)),
				slogError(det.Failure.Err))
			return
		}
		i.logger.Info("language detected", slog.String("language", string(det.Code)), slog.String("source", string(det.Source)))
	}()

	sample, err := i.normalizer.Normalize(ctx, vocal.Path, samplePath, i.window)
	if err != nil {
		return degrade(ReasonEncoding, "", err)
	}
	if info, err := audio.Inspect(sample.Path); err == nil {
		i.logger.Debug("detection sample",
			slog.String("path", sample.Path),
			slog.Int("sample_rate", info.SampleRate),
			slog.Duration("duration", info.Duration),
			slog.Int64("bytes", info.Size))
	}

	resp, err := i.recognizer.Recognize(ctx, sample.Path, stt.Options{
		Model:          i.model,
		DetectLanguage: true,
		Punctuate:      true,
		SmartFormat:    true,
	})
	if err != nil {
		return degrade(ReasonTransport, "", err)
	}

	raw, source := ParseResponse(resp)
	if source == SourceDefault {
		return degrade(ReasonResponse, "", nil)
	}
	code, ok := Resolve(raw)
	if !ok {
		return degrade(ReasonUnsupported, raw, nil)
	}
	return Detection{Code: code, Raw: raw, Source: source}
}

// ParseResponse extracts the language field in priority order: the
// channel's detected_language, then the first alternative's
// detected_language, then its language. Anything else yields SourceDefault.
func ParseResponse(resp *stt.Response) (string, Source) {
	ch, ok := resp.FirstChannel()
	if !ok {
		return "", SourceDefault
	}
	if ch.DetectedLanguage != nil {
		return *ch.DetectedLanguage, SourceChannel
	}
	alt, ok := ch.FirstAlternative()
	if !ok {
		return "", SourceDefault
	}
	if alt.DetectedLanguage != nil {
		return *alt.DetectedLanguage, SourceAlternative
	}
	if alt.Language != nil {
		return *alt.Language, SourceAlternativeLanguage
	}
	return "", SourceDefault
}

func degrade(reason Reason, raw string, err error) Detection {
	return Detection{
		Code:    Default,
		Raw:     raw,
		Source:  SourceDefault,
		Failure: &DetectionFailure{Reason: reason, Raw: raw, Err: err},
	}
}

func slogError(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "")
	}
	return slog.String("error", err.Error())
}
