package capability

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loqalabs/loqa-lyrics/internal/bus"
	"github.com/loqalabs/loqa-lyrics/internal/config"
	"github.com/loqalabs/loqa-lyrics/internal/natsserver"
	"github.com/loqalabs/loqa-lyrics/internal/protocol"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startBus(t *testing.T) config.BusConfig {
	t.Helper()
	cfg := config.Default().Bus
	cfg.Enabled = true
	cfg.Port = -1
	cfg.StoreDir = ""

	srv, err := natsserver.Start(cfg, newLogger())
	require.NoError(t, err)
	require.NotNil(t, srv)
	t.Cleanup(srv.Shutdown)
	cfg.Servers = []string{srv.ClientURL()}
	return cfg
}

func newRegistry(t *testing.T, busCfg config.BusConfig, id string, languages ...string) *Registry {
	t.Helper()
	client, err := bus.Connect(context.Background(), id, busCfg, newLogger())
	require.NoError(t, err)
	t.Cleanup(client.Close)

	node := config.NodeConfig{ID: id, HeartbeatInterval: 60000, HeartbeatTimeout: 120000}
	reg, err := NewRegistry(context.Background(), node, protocol.WorkerAnnounce{
		Runtime:        "loqa-lyrics",
		STTMode:        "mock",
		Languages:      languages,
		MaxConcurrency: 2,
	}, client, newLogger())
	require.NoError(t, err)
	t.Cleanup(reg.Close)
	return reg
}

func TestRegistriesDiscoverEachOther(t *testing.T) {
	busCfg := startBus(t)
	a := newRegistry(t, busCfg, "worker-a", "en", "es")
	b := newRegistry(t, busCfg, "worker-b", "en", "ja")

	require.Eventually(t, func() bool {
		return len(a.Workers(nil)) == 2 && len(b.Workers(nil)) == 2
	}, 5*time.Second, 20*time.Millisecond)

	assert.True(t, a.Healthy())
	assert.True(t, b.Healthy())

	workers := a.Workers(nil)
	assert.Equal(t, "worker-a", workers[0].ID)
	assert.Equal(t, "worker-b", workers[1].ID)
	assert.Equal(t, []string{"en", "ja"}, workers[1].Languages)
	assert.Equal(t, 2, workers[1].MaxConcurrency)
}

func TestFilters(t *testing.T) {
	r := &Registry{
		cfg:     config.NodeConfig{ID: "self", HeartbeatTimeout: 1000},
		log:     newLogger(),
		now:     time.Now,
		workers: make(map[string]*Worker),
	}
	now := time.Now()
	r.observe(protocol.WorkerAnnounce{WorkerID: "self", STTMode: "deepgram", Languages: []string{"en", "fr"}}, now)
	r.observe(protocol.WorkerAnnounce{WorkerID: "peer", STTMode: "exec", Languages: []string{"en", "ja"}}, now)

	ja := r.Workers(WithLanguage("ja"))
	require.Len(t, ja, 1)
	assert.Equal(t, "peer", ja[0].ID)

	assert.Len(t, r.Workers(WithLanguage("en")), 2)
	assert.Empty(t, r.Workers(WithLanguage("de")))

	deepgram := r.Workers(WithSTTMode("deepgram"))
	require.Len(t, deepgram, 1)
	assert.Equal(t, "self", deepgram[0].ID)
}

func TestEvaluateHealthMarksSilentWorkers(t *testing.T) {
	clock := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	r := &Registry{
		cfg:     config.NodeConfig{ID: "self", HeartbeatTimeout: 6000},
		log:     newLogger(),
		now:     func() time.Time { return clock },
		workers: make(map[string]*Worker),
	}
	r.observe(protocol.WorkerAnnounce{WorkerID: "self", Languages: []string{"en"}}, clock)
	r.observe(protocol.WorkerAnnounce{WorkerID: "peer", Languages: []string{"en"}}, clock)

	clock = clock.Add(5 * time.Second)
	require.True(t, r.touch("self", clock))
	assert.False(t, r.touch("stranger", clock))

	clock = clock.Add(2 * time.Second)
	r.evaluateHealth()

	assert.True(t, r.Healthy())
	assert.Len(t, r.Workers(WithLanguage("en")), 1)

	total, healthy := r.snapshotCounts()
	assert.Equal(t, int64(2), total)
	assert.Equal(t, int64(1), healthy)

	require.True(t, r.touch("peer", clock))
	r.evaluateHealth()
	assert.Len(t, r.Workers(WithLanguage("en")), 2)
}
