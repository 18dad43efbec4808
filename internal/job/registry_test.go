package job

import (
	"errors"
	"fmt"
	"testing"
)

func newTestJob(t *testing.T, id string) *Job {
	t.Helper()
	j, err := New(id, testChunks(1), newFakeSynth(-1), 16, newLogger())
	if err != nil {
		t.Fatalf("new job: %v", err)
	}
	return j
}

func TestRegistryPutGet(t *testing.T) {
	r := NewRegistry(8)
	j := newTestJob(t, "a")
	r.Put(j)

	got, err := r.Get("a")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ID() != "a" {
		t.Fatalf("unexpected handle: %s", got.ID())
	}
	if _, err := r.Get("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRegistryLastWriterWins(t *testing.T) {
	r := NewRegistry(8)
	first := newTestJob(t, "a")
	second := newTestJob(t, "a")
	r.Put(first)
	r.Put(second)

	got, err := r.Get("a")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.(*Job) != second {
		t.Fatal("expected the later insert to win")
	}
	if r.Len() != 1 {
		t.Fatalf("expected 1 entry, got %d", r.Len())
	}
}

func TestRegistryEvictsOldest(t *testing.T) {
	r := NewRegistry(2)
	for i := 0; i < 3; i++ {
		r.Put(newTestJob(t, fmt.Sprintf("job-%d", i)))
	}
	if r.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", r.Len())
	}
	if _, err := r.Get("job-0"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected oldest evicted, got %v", err)
	}
	if _, err := r.Get("job-2"); err != nil {
		t.Fatalf("expected newest present: %v", err)
	}
}
