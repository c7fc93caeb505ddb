// Package busapi exposes the pipeline over NATS request/reply and fans
// out run events.
package busapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/loqalabs/loqa-lyrics/internal/bus"
	"github.com/loqalabs/loqa-lyrics/internal/config"
	"github.com/loqalabs/loqa-lyrics/internal/pipeline"
	"github.com/loqalabs/loqa-lyrics/internal/protocol"
	"github.com/nats-io/nats.go"
)

type runner interface {
	Run(ctx context.Context, input string) pipeline.Result
}

type Service struct {
	cfg    config.BusConfig
	bus    *bus.Client
	runner runner
	sub    *nats.Subscription
	sem    chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	ready  bool
	logger *slog.Logger

	// mu orders wg.Add in handlers against wg.Wait in Close.
	mu     sync.Mutex
	closed bool
}

func NewService(parent context.Context, cfg config.BusConfig, busClient *bus.Client, r runner, logger *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	limit := cfg.MaxConcurrency
	if limit <= 0 {
		limit = 1
	}
	return &Service{
		cfg:    cfg,
		bus:    busClient,
		runner: r,
		sem:    make(chan struct{}, limit),
		ctx:    ctx,
		cancel: cancel,
		logger: logger.With(slog.String("component", "bus-service")),
	}
}

// Start subscribes to transcription requests. Instances sharing a queue
// group split the request load.
func (s *Service) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	sub, err := s.bus.Conn().QueueSubscribe(protocol.SubjectTranscribeRequest, s.cfg.QueueGroup, s.handleRequest)
	if err != nil {
		return fmt.Errorf("subscribe transcribe requests: %w", err)
	}
	s.sub = sub
	s.ready = true
	s.logger.Info("listening for transcription requests",
		slog.String("subject", protocol.SubjectTranscribeRequest),
		slog.String("queue", s.cfg.QueueGroup),
		slog.Int("max_concurrency", cap(s.sem)))
	return nil
}

func (s *Service) Close() {
	s.mu.Lock()
	s.closed = true
	s.cancel()
	s.mu.Unlock()
	if s.sub != nil {
		_ = s.sub.Drain()
	}
	s.wg.Wait()
}

func (s *Service) Healthy() bool {
	return !s.cfg.Enabled || s.ready
}

func (s *Service) handleRequest(msg *nats.Msg) {
	var req protocol.TranscribeRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode transcribe request", slogError(err))
		s.reply(msg, protocol.TranscribeReply{Outcome: string(pipeline.OutcomeFailed), Error: "invalid request payload"})
		return
	}
	if req.Path == "" {
		s.reply(msg, protocol.TranscribeReply{RequestID: req.RequestID, Outcome: string(pipeline.OutcomeFailed), Error: "path is required"})
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.reply(msg, protocol.TranscribeReply{RequestID: req.RequestID, Outcome: string(pipeline.OutcomeFailed), Error: "service shutting down"})
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		if s.ctx.Err() != nil {
			return
		}
		select {
		case s.sem <- struct{}{}:
			defer func() { <-s.sem }()
		case <-s.ctx.Done():
			return
		}
		// select picks at random when a slot frees as the context is cancelled.
		if s.ctx.Err() != nil {
			return
		}

		start := time.Now()
		res := s.runner.Run(s.ctx, req.Path)
		s.reply(msg, protocol.TranscribeReply{
			RequestID:     req.RequestID,
			RunID:         res.RunID,
			Transcription: res.Transcript,
			Language:      string(res.Language),
			LanguageName:  res.LanguageName,
			Outcome:       string(res.Outcome),
			Stage:         string(res.Stage),
			Error:         res.Error,
		})
		s.logger.Info("transcribe request handled",
			slog.String("run_id", res.RunID),
			slog.String("outcome", string(res.Outcome)),
			slog.Duration("latency", time.Since(start)))
	}()
}

func (s *Service) reply(msg *nats.Msg, reply protocol.TranscribeReply) {
	if msg.Reply == "" {
		return
	}
	data, err := json.Marshal(reply)
	if err != nil {
		s.logger.Warn("failed to encode reply", slogError(err))
		return
	}
	if err := msg.Respond(data); err != nil {
		s.logger.Warn("failed to send reply", slogError(err))
	}
}

// RunEventHook publishes a RunEvent for every finished run.
func RunEventHook(busClient *bus.Client, logger *slog.Logger) pipeline.Hook {
	return func(ev pipeline.Event) {
		if !ev.State.Terminal() || ev.Result == nil {
			return
		}
		res := ev.Result
		subject := protocol.SubjectRunCompleted
		if res.Failed() {
			subject = protocol.SubjectRunFailed
		}
		msg := protocol.RunEvent{
			RunID:            res.RunID,
			Input:            res.Input,
			Outcome:          string(res.Outcome),
			Stage:            string(res.Stage),
			Language:         string(res.Language),
			LanguageDegraded: res.LanguageDegraded,
			TranscriptChars:  len(res.Transcript),
			Error:            res.Error,
			Duration:         res.Duration,
			Timestamp:        ev.At.UTC(),
		}
		if err := busClient.PublishJSON(subject, msg); err != nil {
			logger.Warn("failed to publish run event", slog.String("run_id", res.RunID), slogError(err))
		}
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
