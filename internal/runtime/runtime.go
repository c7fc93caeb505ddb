// Package runtime wires configuration into a running daemon: telemetry,
// run journal, bus, pipeline and the HTTP servers.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/loqalabs/loqa-lyrics/internal/bus"
	"github.com/loqalabs/loqa-lyrics/internal/busapi"
	"github.com/loqalabs/loqa-lyrics/internal/capability"
	"github.com/loqalabs/loqa-lyrics/internal/config"
	"github.com/loqalabs/loqa-lyrics/internal/eventstore"
	"github.com/loqalabs/loqa-lyrics/internal/httpapi"
	"github.com/loqalabs/loqa-lyrics/internal/natsserver"
)

type Runtime struct {
	cfg        config.Config
	version    string
	logger     *slog.Logger
	httpServer *http.Server
	metricsSrv *http.Server
	telemetry  *telemetry
	store      *eventstore.Store
	nats       *natsserver.EmbeddedServer
	bus        *bus.Client
	busService *busapi.Service
	workers    *capability.Registry
	ready      atomic.Bool
}

// New prepares a runtime; version is reported on telemetry resources.
func New(cfg config.Config, version string, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:     cfg,
		version: version,
		logger:  logger,
	}
}

// Start runs until ctx is cancelled or a server fails.
func (r *Runtime) Start(ctx context.Context) error {
	tel, err := setupTelemetry(ctx, r.cfg, r.version, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.telemetry = tel
	metricsHandler := tel.metrics
	defer r.shutdown()

	r.store, err = eventstore.Open(ctx, r.cfg.EventStore, r.logger)
	if err != nil {
		return fmt.Errorf("open event store: %w", err)
	}

	orch, err := BuildPipeline(r.cfg, nil, r.logger)
	if err != nil {
		return fmt.Errorf("build pipeline: %w", err)
	}
	orch.AddHook(JournalHook(r.store, r.logger))

	if err := r.startBus(ctx); err != nil {
		return err
	}
	if r.bus != nil {
		orch.AddHook(busapi.RunEventHook(r.bus, r.logger))
		r.busService = busapi.NewService(ctx, r.cfg.Bus, r.bus, orch, r.logger)
		if err := r.busService.Start(); err != nil {
			return err
		}
		r.workers, err = capability.NewRegistry(ctx, r.cfg.Node, workerAnnouncement(r.cfg), r.bus, r.logger)
		if err != nil {
			return fmt.Errorf("worker registry: %w", err)
		}
	}

	engine, err := httpapi.New(httpapi.Options{
		Upload:  r.cfg.Upload,
		CORS:    r.cfg.CORS,
		Debug:   r.cfg.Telemetry.LogLevel == "debug",
		Runner:  orch,
		Ready:   r.checkReady,
		Metrics: metricsHandler,
		Logger:  r.logger,
	})
	if err != nil {
		return err
	}

	addr := net.JoinHostPort(r.cfg.HTTP.Bind, strconv.Itoa(r.cfg.HTTP.Port))
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           engine,
		ReadHeaderTimeout: 5 * time.Second,
	}
	if metricsHandler != nil {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metricsHandler)
		r.metricsSrv = &http.Server{
			Addr:              r.cfg.Telemetry.PrometheusBind,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return serve(r.httpServer)
	})
	if r.metricsSrv != nil {
		g.Go(func() error {
			return serve(r.metricsSrv)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		r.ready.Store(false)
		r.logger.Info("runtime stopping")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		var errs []error
		if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
		if r.metricsSrv != nil {
			if err := r.metricsSrv.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("metrics shutdown: %w", err))
			}
		}
		return errors.Join(errs...)
	})

	r.ready.Store(true)
	r.logger.Info("runtime started",
		slog.String("addr", addr),
		slog.String("version", r.version),
		slog.String("metrics", r.cfg.Telemetry.PrometheusBind),
		slog.String("stt_mode", r.cfg.STT.Mode),
		slog.Bool("bus", r.bus != nil),
		slog.Bool("journal", r.store.Enabled()))

	return g.Wait()
}

func serve(srv *http.Server) error {
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve %s: %w", srv.Addr, err)
	}
	return nil
}

func (r *Runtime) startBus(ctx context.Context) error {
	if !r.cfg.Bus.Enabled {
		return nil
	}
	busCfg := r.cfg.Bus
	ns, err := natsserver.Start(busCfg, r.logger)
	if err != nil {
		return fmt.Errorf("start embedded nats: %w", err)
	}
	r.nats = ns
	if ns != nil {
		busCfg.Servers = []string{ns.ClientURL()}
	}

	client, err := bus.Connect(ctx, r.cfg.RuntimeName, busCfg, r.logger)
	if err != nil {
		return err
	}
	r.bus = client
	return nil
}

func (r *Runtime) checkReady(ctx context.Context) error {
	if !r.ready.Load() {
		return errors.New("starting")
	}
	if r.nats != nil && !r.nats.Running() {
		return errors.New("embedded bus stopped")
	}
	if r.bus != nil && !r.bus.Healthy() {
		return errors.New("bus disconnected")
	}
	if r.busService != nil && !r.busService.Healthy() {
		return errors.New("bus service not subscribed")
	}
	if r.workers != nil && !r.workers.Healthy() {
		return errors.New("worker heartbeat stale")
	}
	return r.store.Ping(ctx)
}

func (r *Runtime) shutdown() {
	if r.workers != nil {
		r.workers.Close()
	}
	if r.busService != nil {
		r.busService.Close()
	}
	if r.bus != nil {
		r.bus.Close()
	}
	r.nats.Shutdown()
	if r.store != nil {
		if err := r.store.Close(); err != nil {
			r.logger.Error("event store close error", slogError(err))
		}
	}
	if r.telemetry != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.telemetry.Shutdown(ctx); err != nil {
			r.logger.Error("telemetry shutdown error", slogError(err))
		}
	}
}
