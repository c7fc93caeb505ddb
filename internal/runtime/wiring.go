package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/loqalabs/loqa-lyrics/internal/audio"
	"github.com/loqalabs/loqa-lyrics/internal/command"
	"github.com/loqalabs/loqa-lyrics/internal/config"
	"github.com/loqalabs/loqa-lyrics/internal/eventstore"
	"github.com/loqalabs/loqa-lyrics/internal/language"
	"github.com/loqalabs/loqa-lyrics/internal/pipeline"
	"github.com/loqalabs/loqa-lyrics/internal/protocol"
	"github.com/loqalabs/loqa-lyrics/internal/separator"
	"github.com/loqalabs/loqa-lyrics/internal/stt"
)

// BuildPipeline assembles the stages from configuration. A nil runner
// executes real subprocesses.
func BuildPipeline(cfg config.Config, runner command.Runner, logger *slog.Logger) (*pipeline.Orchestrator, error) {
	if runner == nil {
		runner = command.ExecRunner{}
	}
	norm, err := audio.NewNormalizer(cfg.Audio, runner, logger)
	if err != nil {
		return nil, err
	}
	sep, err := separator.New(cfg.Separator, runner, logger)
	if err != nil {
		return nil, err
	}
	rec, err := stt.NewRecognizer(cfg.STT, runner)
	if err != nil {
		return nil, fmt.Errorf("recognizer: %w", err)
	}
	window := time.Duration(cfg.Audio.DetectionWindowSec) * time.Second
	id := language.NewIdentifier(norm, rec, cfg.STT.Model, window, logger)
	tr := stt.NewTranscriber(norm, rec, cfg.STT.Model, logger)

	return pipeline.NewOrchestrator(sep, id, tr, pipeline.Options{ScratchDir: cfg.Pipeline.ScratchDir}, logger)
}

// JournalHook records every transition in the run journal. Write failures
// are logged and never affect the run.
func JournalHook(store *eventstore.Store, logger *slog.Logger) pipeline.Hook {
	return func(ev pipeline.Event) {
		if !store.Enabled() {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if ev.State == pipeline.StateStart {
			if err := store.StartRun(ctx, ev.RunID, ev.Input); err != nil {
				logger.Warn("journal start failed", slog.String("run_id", ev.RunID), slogError(err))
				return
			}
		}
		if err := store.AppendEvent(ctx, eventstore.Event{RunID: ev.RunID, State: string(ev.State), CreatedAt: ev.At}); err != nil {
			logger.Warn("journal event failed", slog.String("run_id", ev.RunID), slogError(err))
		}
		if ev.Result == nil {
			return
		}
		res := ev.Result
		err := store.FinishRun(ctx, eventstore.Run{
			RunID:            res.RunID,
			Outcome:          string(res.Outcome),
			State:            string(res.State),
			Stage:            string(res.Stage),
			Language:         string(res.Language),
			LanguageDegraded: res.LanguageDegraded,
			Error:            res.Error,
			TranscriptChars:  len(res.Transcript),
			FinishedAt:       ev.At,
		})
		if err != nil {
			logger.Warn("journal finish failed", slog.String("run_id", ev.RunID), slogError(err))
		}
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}

// workerAnnouncement describes this process to other bus workers.
func workerAnnouncement(cfg config.Config) protocol.WorkerAnnounce {
	codes := language.Supported()
	langs := make([]string, len(codes))
	for i, c := range codes {
		langs[i] = string(c)
	}
	return protocol.WorkerAnnounce{
		WorkerID:       cfg.Node.ID,
		Runtime:        cfg.RuntimeName,
		STTMode:        cfg.STT.Mode,
		Model:          cfg.STT.Model,
		Languages:      langs,
		MaxConcurrency: cfg.Bus.MaxConcurrency,
	}
}
