// Package bustest starts a throwaway in-process NATS server for tests.
package bustest

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/auralis-labs/auralis-core/internal/bus"
	"github.com/auralis-labs/auralis-core/internal/config"
	"github.com/nats-io/nats-server/v2/server"
)

// Connect spins up an embedded NATS server on a random port and returns a
// connected client. Everything is torn down with the test.
func Connect(t *testing.T) *bus.Client {
	t.Helper()

	opts := &server.Options{Host: "127.0.0.1", Port: -1}
	ns, err := server.NewServer(opts)
	if err != nil {
		t.Fatalf("create test NATS server: %v", err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		t.Fatal("test NATS server did not start")
	}
	t.Cleanup(ns.Shutdown)

	cfg := config.BusConfig{
		Servers:        []string{ns.ClientURL()},
		ConnectTimeout: 2000,
	}
	client, err := bus.Connect(context.Background(), cfg, Logger())
	if err != nil {
		t.Fatalf("connect test bus: %v", err)
	}
	t.Cleanup(client.Close)
	return client
}

// Logger returns a logger that discards everything.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}
