package journal

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/auralis-labs/auralis-core/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestOpenEphemeral(t *testing.T) {
	cfg := config.JournalConfig{RetentionMode: "ephemeral"}
	s, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	if err := s.Append(context.Background(), Entry{SessionID: "s1", Kind: KindTranscript}); err != nil {
		t.Fatalf("append should be a no-op: %v", err)
	}
	entries, err := s.List(context.Background(), "s1", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("ephemeral store must keep nothing, got %d entries", len(entries))
	}
}

func TestAppendAndList(t *testing.T) {
	tmp := t.TempDir()
	cfg := config.JournalConfig{Path: filepath.Join(tmp, "journal.db"), RetentionMode: "session"}
	s, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	sessionID := "run-123"
	if err := s.BeginSession(context.Background(), sessionID, "auralis-runtime"); err != nil {
		t.Fatalf("begin session: %v", err)
	}
	if err := s.Append(context.Background(), Entry{SessionID: sessionID, Kind: KindTranscript, Payload: []byte(`{"text":"stop"}`)}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.Append(context.Background(), Entry{SessionID: sessionID, Kind: KindEmergency, Payload: []byte(`{"transcript":"sos"}`)}); err != nil {
		t.Fatalf("append: %v", err)
	}

	entries, err := s.List(context.Background(), sessionID, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Kind != KindTranscript {
		t.Fatalf("unexpected first kind %q", entries[0].Kind)
	}
	if string(entries[1].Payload) != `{"transcript":"sos"}` {
		t.Fatalf("unexpected payload: %s", entries[1].Payload)
	}
}

func TestPruneByDaysAndSessions(t *testing.T) {
	tmp := t.TempDir()
	cfg := config.JournalConfig{
		Path:          filepath.Join(tmp, "journal.db"),
		RetentionMode: "persistent",
		RetentionDays: 1,
		MaxSessions:   1,
	}
	s, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	s.clock = func() time.Time { return time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC) }
	if err := s.BeginSession(context.Background(), "old-run", "auralis-runtime"); err != nil {
		t.Fatalf("begin session: %v", err)
	}
	if err := s.Append(context.Background(), Entry{SessionID: "old-run", Kind: KindNavigation}); err != nil {
		t.Fatalf("append: %v", err)
	}

	s.clock = func() time.Time { return time.Date(2026, 8, 25, 0, 0, 0, 0, time.UTC) }
	if err := s.BeginSession(context.Background(), "new-run", "auralis-runtime"); err != nil {
		t.Fatalf("begin session: %v", err)
	}
	if err := s.Prune(context.Background()); err != nil {
		t.Fatalf("prune: %v", err)
	}

	entries, err := s.List(context.Background(), "old-run", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected old run pruned, got %d entries", len(entries))
	}
}
