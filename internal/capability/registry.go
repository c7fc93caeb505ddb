// Package capability tracks the transcription workers reachable on the bus.
// Each worker announces its STT mode and languages, then heartbeats; peers
// that miss heartbeats past the timeout are marked unhealthy.
package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/loqalabs/loqa-lyrics/internal/bus"
	"github.com/loqalabs/loqa-lyrics/internal/config"
	"github.com/loqalabs/loqa-lyrics/internal/protocol"
)

type Worker struct {
	ID             string
	Runtime        string
	STTMode        string
	Model          string
	Languages      []string
	MaxConcurrency int
	LastSeen       time.Time
	Healthy        bool
}

type Registry struct {
	cfg  config.NodeConfig
	self protocol.WorkerAnnounce
	log  *slog.Logger
	bus  *bus.Client
	now  func() time.Time

	mu      sync.RWMutex
	workers map[string]*Worker

	cancel context.CancelFunc
	wg     sync.WaitGroup
	subs   []*nats.Subscription
}

// NewRegistry subscribes to worker traffic, announces self and starts the
// heartbeat loop.
func NewRegistry(ctx context.Context, cfg config.NodeConfig, self protocol.WorkerAnnounce, busClient *bus.Client, log *slog.Logger) (*Registry, error) {
	ctx, cancel := context.WithCancel(ctx)
	self.WorkerID = cfg.ID
	r := &Registry{
		cfg:     cfg,
		self:    self,
		log:     log.With(slog.String("component", "worker-registry")),
		bus:     busClient,
		now:     time.Now,
		workers: make(map[string]*Worker),
		cancel:  cancel,
	}

	if err := r.initMetrics(); err != nil {
		r.log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}

	if err := r.subscribe(); err != nil {
		r.Close()
		return nil, err
	}

	if err := r.announce(); err != nil {
		r.log.Warn("failed to announce worker", slog.String("error", err.Error()))
	}

	r.wg.Add(1)
	go r.loop(ctx)
	return r, nil
}

func (r *Registry) Close() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
	for _, sub := range r.subs {
		_ = sub.Drain()
	}
	r.subs = nil
}

func (r *Registry) subscribe() error {
	conn := r.bus.Conn()
	announceSub, err := conn.Subscribe(protocol.SubjectWorkerAnnounce, r.handleAnnounce)
	if err != nil {
		return fmt.Errorf("subscribe announce: %w", err)
	}
	r.subs = append(r.subs, announceSub)

	heartbeatSub, err := conn.Subscribe(protocol.SubjectWorkerHeartbeat+".*", r.handleHeartbeat)
	if err != nil {
		return fmt.Errorf("subscribe heartbeat: %w", err)
	}
	r.subs = append(r.subs, heartbeatSub)
	return conn.Flush()
}

func (r *Registry) loop(ctx context.Context) {
	defer r.wg.Done()
	heartbeat := time.NewTicker(time.Duration(r.cfg.HeartbeatInterval) * time.Millisecond)
	defer heartbeat.Stop()
	health := time.NewTicker(time.Second)
	defer health.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			if err := r.publishHeartbeat(); err != nil {
				r.log.Warn("failed to publish heartbeat", slog.String("error", err.Error()))
			}
		case <-health.C:
			r.evaluateHealth()
		}
	}
}

func (r *Registry) announce() error {
	msg := r.self
	msg.Timestamp = r.now().UTC()
	if err := r.bus.PublishJSON(protocol.SubjectWorkerAnnounce, msg); err != nil {
		return err
	}
	r.observe(msg, msg.Timestamp)
	return nil
}

func (r *Registry) publishHeartbeat() error {
	msg := protocol.WorkerHeartbeat{WorkerID: r.cfg.ID, Timestamp: r.now().UTC()}
	if err := r.bus.PublishJSON(protocol.SubjectWorkerHeartbeat+"."+r.cfg.ID, msg); err != nil {
		return err
	}
	r.touch(msg.WorkerID, msg.Timestamp)
	return nil
}

func (r *Registry) handleAnnounce(msg *nats.Msg) {
	var a protocol.WorkerAnnounce
	if err := json.Unmarshal(msg.Data, &a); err != nil || a.WorkerID == "" {
		r.log.Warn("invalid announce message", slog.Int("bytes", len(msg.Data)))
		return
	}
	seen := a.Timestamp
	if seen.IsZero() {
		seen = r.now().UTC()
	}
	// Newcomers learn about existing workers from the reply announcement.
	if isNew := r.observe(a, seen); isNew && a.WorkerID != r.cfg.ID {
		if err := r.announce(); err != nil {
			r.log.Warn("failed to announce worker", slog.String("error", err.Error()))
		}
	}
}

func (r *Registry) handleHeartbeat(msg *nats.Msg) {
	var hb protocol.WorkerHeartbeat
	if err := json.Unmarshal(msg.Data, &hb); err != nil || hb.WorkerID == "" {
		r.log.Warn("invalid heartbeat message", slog.Int("bytes", len(msg.Data)))
		return
	}
	seen := hb.Timestamp
	if seen.IsZero() {
		seen = r.now().UTC()
	}
	if !r.touch(hb.WorkerID, seen) {
		r.log.Debug("heartbeat from unknown worker", slog.String("worker_id", hb.WorkerID))
	}
}

// observe records an announcement and reports whether the worker was new.
func (r *Registry) observe(a protocol.WorkerAnnounce, seen time.Time) bool {
	r.mu.Lock()
	w, known := r.workers[a.WorkerID]
	if !known {
		w = &Worker{ID: a.WorkerID}
		r.workers[a.WorkerID] = w
	}
	w.Runtime = a.Runtime
	w.STTMode = a.STTMode
	w.Model = a.Model
	w.Languages = append([]string(nil), a.Languages...)
	w.MaxConcurrency = a.MaxConcurrency
	w.LastSeen = seen
	w.Healthy = true
	r.mu.Unlock()

	if !known {
		r.log.Info("worker joined",
			slog.String("worker_id", a.WorkerID),
			slog.String("stt_mode", a.STTMode),
			slog.Int("max_concurrency", a.MaxConcurrency))
	}
	return !known
}

// touch refreshes a known worker and reports whether it was known.
func (r *Registry) touch(id string, seen time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.workers[id]
	if !ok {
		return false
	}
	w.LastSeen = seen
	w.Healthy = true
	return true
}

func (r *Registry) evaluateHealth() {
	timeout := time.Duration(r.cfg.HeartbeatTimeout) * time.Millisecond
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, w := range r.workers {
		if w.Healthy && now.Sub(w.LastSeen) > timeout {
			w.Healthy = false
			r.log.Warn("worker missed heartbeats", slog.String("worker_id", w.ID), slog.Time("last_seen", w.LastSeen))
		}
	}
}

// Healthy reports whether this worker's own announcement is current.
func (r *Registry) Healthy() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.workers[r.cfg.ID]
	return ok && w.Healthy
}

// Workers returns copies of the known workers matching filter.
func (r *Registry) Workers(filter func(Worker) bool) []Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Worker
	for _, w := range r.workers {
		c := *w
		c.Languages = slices.Clone(w.Languages)
		if filter == nil || filter(c) {
			out = append(out, c)
		}
	}
	slices.SortFunc(out, func(a, b Worker) int { return strings.Compare(a.ID, b.ID) })
	return out
}

func WithLanguage(code string) func(Worker) bool {
	return func(w Worker) bool {
		return w.Healthy && slices.Contains(w.Languages, code)
	}
}

func WithSTTMode(mode string) func(Worker) bool {
	return func(w Worker) bool {
		return w.Healthy && w.STTMode == mode
	}
}

func (r *Registry) initMetrics() error {
	meter := otel.Meter("github.com/loqalabs/loqa-lyrics/capability")
	workers, err := meter.Int64ObservableGauge("loqa.lyrics.workers", metric.WithDescription("Known transcription workers"))
	if err != nil {
		return err
	}
	healthy, err := meter.Int64ObservableGauge("loqa.lyrics.workers.healthy", metric.WithDescription("Workers with current heartbeats"))
	if err != nil {
		return err
	}
	_, err = meter.RegisterCallback(func(_ context.Context, obs metric.Observer) error {
		total, ok := r.snapshotCounts()
		obs.ObserveInt64(workers, total)
		obs.ObserveInt64(healthy, ok)
		return nil
	}, workers, healthy)
	return err
}

func (r *Registry) snapshotCounts() (total, healthy int64) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, w := range r.workers {
		total++
		if w.Healthy {
			healthy++
		}
	}
	return total, healthy
}
