package eventstore

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/narrately/narrate-core/internal/config"
)

func testLogger() *slog.Logger {
	return slog.Default()
}

func openTestStore(t *testing.T, cfg config.EventStoreConfig) *Store {
	t.Helper()
	if cfg.Path == "" {
		cfg.Path = filepath.Join(t.TempDir(), "events.db")
	}
	s, err := Open(context.Background(), cfg, testLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAppendAndListEvents(t *testing.T) {
	s := openTestStore(t, config.EventStoreConfig{RetentionMode: "session", MaxJobs: 100})
	ctx := context.Background()

	if err := s.AppendJob(ctx, "job-1", "stream", "narrator"); err != nil {
		t.Fatalf("append job: %v", err)
	}
	for _, typ := range []string{"submitted", "segment_ready", "complete"} {
		err := s.AppendEvent(ctx, Event{JobID: "job-1", Type: typ, Payload: []byte(`{}`)})
		if err != nil {
			t.Fatalf("append event %s: %v", typ, err)
		}
	}

	events, err := s.ListJobEvents(ctx, "job-1", 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	if events[0].Type != "submitted" || events[2].Type != "complete" {
		t.Fatalf("events out of order: %v then %v", events[0].Type, events[2].Type)
	}
}

func TestEphemeralModeStoresNothing(t *testing.T) {
	s := openTestStore(t, config.EventStoreConfig{RetentionMode: "ephemeral", Path: "ignored"})
	ctx := context.Background()

	if err := s.AppendJob(ctx, "job-1", "stream", "narrator"); err != nil {
		t.Fatalf("append job: %v", err)
	}
	if err := s.AppendEvent(ctx, Event{JobID: "job-1", Type: "submitted"}); err != nil {
		t.Fatalf("append event: %v", err)
	}
	events, err := s.ListJobEvents(ctx, "job-1", 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("ephemeral store returned %d events", len(events))
	}
}

func TestPruneByAge(t *testing.T) {
	s := openTestStore(t, config.EventStoreConfig{RetentionMode: "session", RetentionDays: 7})
	ctx := context.Background()

	base := time.Now().UTC()
	s.clock = func() time.Time { return base.Add(-10 * 24 * time.Hour) }
	if err := s.AppendJob(ctx, "old", "stream", "narrator"); err != nil {
		t.Fatalf("append old job: %v", err)
	}
	if err := s.AppendEvent(ctx, Event{JobID: "old", Type: "submitted"}); err != nil {
		t.Fatalf("append old event: %v", err)
	}

	s.clock = func() time.Time { return base }
	if err := s.AppendJob(ctx, "fresh", "stream", "narrator"); err != nil {
		t.Fatalf("append fresh job: %v", err)
	}
	if err := s.AppendEvent(ctx, Event{JobID: "fresh", Type: "submitted"}); err != nil {
		t.Fatalf("append fresh event: %v", err)
	}

	if err := s.Prune(ctx); err != nil {
		t.Fatalf("prune: %v", err)
	}

	old, err := s.ListJobEvents(ctx, "old", 10)
	if err != nil {
		t.Fatalf("list old: %v", err)
	}
	if len(old) != 0 {
		t.Fatalf("expected old events pruned, got %d", len(old))
	}
	fresh, err := s.ListJobEvents(ctx, "fresh", 10)
	if err != nil {
		t.Fatalf("list fresh: %v", err)
	}
	if len(fresh) != 1 {
		t.Fatalf("expected fresh events kept, got %d", len(fresh))
	}
}
