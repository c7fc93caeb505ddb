// Package pipeline runs the separate → detect → transcribe chain for one
// input file and guarantees the run's scratch files are removed on every
// exit path.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/loqalabs/loqa-lyrics/internal/audio"
	"github.com/loqalabs/loqa-lyrics/internal/language"
	"github.com/loqalabs/loqa-lyrics/internal/stt"
)

const instrumentationName = "github.com/loqalabs/loqa-lyrics/pipeline"

type stemSeparator interface {
	Separate(ctx context.Context, inputPath, outputDir string) (audio.Artifact, error)
}

type identifier interface {
	DetectDetailed(ctx context.Context, vocal audio.Artifact) language.Detection
}

type transcriber interface {
	Transcribe(ctx context.Context, vocal audio.Artifact, languageCode string) (string, error)
}

type Options struct {
	ScratchDir string
	Tracer     trace.Tracer
	Meter      metric.Meter
	// Now and NewRunID are overridable in tests.
	Now      func() time.Time
	NewRunID func() string
}

type Orchestrator struct {
	separator   stemSeparator
	identifier  identifier
	transcriber transcriber
	scratchDir  string
	tracer      trace.Tracer
	now         func() time.Time
	newRunID    func() string
	logger      *slog.Logger

	mu    sync.RWMutex
	hooks []Hook

	runs          metric.Int64Counter
	stageDuration metric.Float64Histogram
	degraded      metric.Int64Counter
}

func NewOrchestrator(sep stemSeparator, id identifier, tr transcriber, opts Options, logger *slog.Logger) (*Orchestrator, error) {
	if sep == nil || id == nil || tr == nil {
		return nil, errors.New("separator, identifier and transcriber are required")
	}
	if opts.ScratchDir == "" {
		return nil, errors.New("scratch dir is required")
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer(instrumentationName)
	}
	if opts.Meter == nil {
		opts.Meter = otel.Meter(instrumentationName)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewRunID == nil {
		opts.NewRunID = func() string { return strings.ReplaceAll(uuid.NewString(), "-", "") }
	}

	o := &Orchestrator{
		separator:   sep,
		identifier:  id,
		transcriber: tr,
		scratchDir:  opts.ScratchDir,
		tracer:      opts.Tracer,
		now:         opts.Now,
		newRunID:    opts.NewRunID,
		logger:      logger.With(slog.String("component", "pipeline")),
	}

	var err error
	if o.runs, err = opts.Meter.Int64Counter("loqa.lyrics.runs", metric.WithDescription("Completed pipeline runs by outcome")); err != nil {
		return nil, fmt.Errorf("runs counter: %w", err)
	}
	if o.stageDuration, err = opts.Meter.Float64Histogram("loqa.lyrics.stage.duration", metric.WithDescription("Stage latency"), metric.WithUnit("s")); err != nil {
		return nil, fmt.Errorf("stage histogram: %w", err)
	}
	if o.degraded, err = opts.Meter.Int64Counter("loqa.lyrics.detection.degraded", metric.WithDescription("Detections that fell back to the default language")); err != nil {
		return nil, fmt.Errorf("degraded counter: %w", err)
	}
	return o, nil
}

// AddHook registers a hook for every subsequent run.
func (o *Orchestrator) AddHook(h Hook) {
	o.mu.Lock()
	o.hooks = append(o.hooks, h)
	o.mu.Unlock()
}

// Run processes input and always returns a structurally valid Result.
// The caller's input file is never modified or removed.
func (o *Orchestrator) Run(ctx context.Context, input string) Result {
	return o.RunObserved(ctx, input, nil)
}

// RunObserved is Run with an extra hook scoped to this run.
func (o *Orchestrator) RunObserved(ctx context.Context, input string, hook Hook) Result {
	o.mu.RLock()
	hooks := append([]Hook(nil), o.hooks...)
	o.mu.RUnlock()
	if hook != nil {
		hooks = append(hooks, hook)
	}

	id := o.newRunID()
	r := &run{
		o:      o,
		id:     id,
		input:  input,
		start:  o.now(),
		hooks:  hooks,
		logger: o.logger.With(slog.String("run_id", id)),
	}

	ctx, span := o.tracer.Start(ctx, "pipeline.run", trace.WithAttributes(
		attribute.String("run.id", r.id),
		attribute.String("run.input", input),
	))
	defer span.End()

	r.emit(StateStart, nil)
	r.logger.Info("run started", slog.String("input", input))

	res := r.execute(ctx)
	res.Duration = o.now().Sub(r.start)

	span.SetAttributes(attribute.String("run.outcome", string(res.Outcome)))
	if res.Err != nil {
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, res.Error)
	}
	o.runs.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", string(res.Outcome))))

	switch res.Outcome {
	case OutcomeFailed:
		r.logger.Error("run failed", slog.String("stage", string(res.Stage)), slogError(res.Err))
	case OutcomeEmpty:
		r.logger.Warn("run finished without lyrics", slog.String("language", string(res.Language)))
	default:
		r.logger.Info("run finished",
			slog.String("language", string(res.Language)),
			slog.Int("chars", len(res.Transcript)),
			slog.Duration("took", res.Duration))
	}

	r.emit(res.State, &res)
	return res
}

type run struct {
	o      *Orchestrator
	id     string
	input  string
	start  time.Time
	hooks  []Hook
	logger *slog.Logger
}

func (r *run) emit(state State, res *Result) {
	ev := Event{RunID: r.id, Input: r.input, State: state, At: r.o.now(), Result: res}
	for _, h := range r.hooks {
		h(ev)
	}
}

// execute drives the state machine. The workspace is removed before the
// terminal state is emitted.
func (r *run) execute(ctx context.Context) Result {
	ws, err := NewWorkspace(r.o.scratchDir, r.id)
	if err != nil {
		return r.fail(StateStart, ReasonStaging, MsgStagingFailed, err, language.Detection{})
	}
	defer func() {
		if err := ws.Cleanup(); err != nil {
			r.logger.Warn("workspace cleanup failed", slog.String("dir", ws.Dir), slogError(err))
		}
	}()

	staged, err := ws.StageInput(r.input)
	if err != nil {
		return r.fail(StateStart, ReasonStaging, MsgStagingFailed, err, language.Detection{})
	}

	var vocal audio.Artifact
	err = r.stage(ctx, StateSeparating, func(ctx context.Context) error {
		var err error
		vocal, err = r.o.separator.Separate(ctx, staged, ws.SeparatedDir())
		return err
	})
	if err != nil {
		return r.fail(StateSeparating, ReasonSeparation, MsgSeparationFailed, err, language.Detection{})
	}

	var det language.Detection
	_ = r.stage(ctx, StateDetecting, func(ctx context.Context) error {
		det = r.o.identifier.DetectDetailed(ctx, vocal)
		if det.Failure != nil {
			r.o.degraded.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", string(det.Failure.Reason))))
		}
		return nil
	})

	var text string
	err = r.stage(ctx, StateTranscribing, func(ctx context.Context) error {
		var err error
		text, err = r.o.transcriber.Transcribe(ctx, vocal, string(det.Code))
		return err
	})
	if err != nil {
		return r.fail(StateTranscribing, ReasonTranscription, transcriptionMessage(err), err, det)
	}

	res := r.result(det)
	res.State = StateDone
	if text == "" {
		res.Outcome = OutcomeEmpty
		res.Error = MsgNoLyrics
		return res
	}
	res.Outcome = OutcomeSuccess
	res.Transcript = text
	return res
}

func (r *run) stage(ctx context.Context, state State, fn func(context.Context) error) error {
	r.emit(state, nil)
	ctx, span := r.o.tracer.Start(ctx, "pipeline."+strings.ToLower(string(state)))
	defer span.End()

	start := r.o.now()
	err := fn(ctx)
	r.o.stageDuration.Record(ctx, r.o.now().Sub(start).Seconds(), metric.WithAttributes(attribute.String("stage", string(state))))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (r *run) result(det language.Detection) Result {
	code := det.Code
	if code == "" {
		code = language.Default
	}
	return Result{
		RunID:            r.id,
		Input:            r.input,
		Language:         code,
		LanguageName:     language.Name(code),
		LanguageDegraded: det.Failure != nil,
	}
}

func (r *run) fail(stage State, reason, msg string, err error, det language.Detection) Result {
	res := r.result(det)
	res.State = StateFailed
	res.Outcome = OutcomeFailed
	res.Stage = stage
	res.Error = msg
	res.Err = &StageError{Stage: stage, Reason: reason, Err: err}
	return res
}

func transcriptionMessage(err error) string {
	cause := err
	var te *stt.TranscriptionError
	if errors.As(err, &te) && te.Err != nil {
		cause = te.Err
	}
	return "Transcription failed: " + cause.Error()
}

func slogError(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "")
	}
	return slog.String("error", err.Error())
}
