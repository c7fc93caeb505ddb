package natsserver

import (
	"io"
	"log/slog"
	"testing"

	"github.com/nats-io/nats.go"

	"github.com/loqalabs/loqa-lyrics/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestStartSkippedWhenNotEmbedded(t *testing.T) {
	cfg := config.Default().Bus
	srv, err := Start(cfg, newLogger())
	if err != nil || srv != nil {
		t.Fatalf("disabled bus should not start a server: %v %v", srv, err)
	}

	cfg.Enabled = true
	cfg.Embedded = false
	srv, err = Start(cfg, newLogger())
	if err != nil || srv != nil {
		t.Fatalf("external bus should not start a server: %v %v", srv, err)
	}
	srv.Shutdown()
	if srv.Running() {
		t.Fatal("nil server reported running")
	}
}

func TestStartAcceptsClients(t *testing.T) {
	cfg := config.Default().Bus
	cfg.Enabled = true
	cfg.Port = -1
	cfg.StoreDir = ""

	srv, err := Start(cfg, newLogger())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if !srv.Running() {
		t.Fatal("server not running")
	}

	nc, err := nats.Connect(srv.ClientURL())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	nc.Close()

	srv.Shutdown()
	if srv.Running() {
		t.Fatal("server still running after shutdown")
	}
}
