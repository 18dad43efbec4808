// Package job drives sequential synthesis pipelines: one outstanding
// synthesis call per job, per-segment events in strictly increasing index
// order, and a final combined container once the last chunk lands.
package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/narrately/narrate-core/internal/segment"
	"github.com/narrately/narrate-core/internal/synth"
	"github.com/narrately/narrate-core/internal/wav"
)

type Status string

const (
	StatusReady      Status = "ready"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusReplaying  Status = "replaying"
)

var (
	// ErrEmptyInput rejects a submission whose text segmented to nothing.
	ErrEmptyInput = errors.New("segmentation produced empty input")
	// ErrNotCompleted is returned when the combined result is requested
	// before the job reached the completed state.
	ErrNotCompleted = errors.New("result not yet available")
	// ErrNotFound is returned by the registry for unknown job ids.
	ErrNotFound = errors.New("job not found")
)

// SynthesisError marks a backend failure at a specific chunk. It is terminal
// for the job.
type SynthesisError struct {
	Index int
	Err   error
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("synthesis failed at chunk %d: %v", e.Index, e.Err)
}

func (e *SynthesisError) Unwrap() error { return e.Err }

// Segment is the synthesized audio for one chunk. Never mutated after
// creation.
type Segment struct {
	Index    int
	Audio    []byte
	Duration time.Duration // wall-clock synthesis time, informational
}

// Snapshot is a read-only copy of a job's state.
type Snapshot struct {
	ID             string `json:"id"`
	Status         Status `json:"status"`
	CurrentIndex   int    `json:"current_index"`
	TotalChunks    int    `json:"total_chunks"`
	CompletedCount int    `json:"completed_count"`
	Error          string `json:"error,omitempty"`
}

type EventType string

const (
	EventSegmentReady EventType = "segment_ready"
	EventStatus       EventType = "status"
	EventComplete     EventType = "complete"
	EventFailed       EventType = "failed"
)

// Event is what subscribers observe. Snapshot is always populated; Segment
// only on segment_ready, Audio only on complete, Err only on failed.
type Event struct {
	Type     EventType
	Snapshot Snapshot
	Segment  *Segment
	Audio    []byte
	Err      error
}

// Handle is the registry-facing surface shared by streaming and batch jobs.
type Handle interface {
	ID() string
	Snapshot() Snapshot
	Result() ([]byte, error)
}

// Job is a streaming pipeline instance. The Run loop is the single writer of
// all mutable state; snapshots and queries are read-only copies.
type Job struct {
	id     string
	chunks []segment.Chunk
	synth  synth.Synthesizer
	log    *slog.Logger

	listenerBuf int

	mu           sync.Mutex
	status       Status
	current      int
	segments     map[int]Segment
	combined     []byte
	err          error
	listeners    map[int]chan Event
	nextListener int
}

// New creates a streaming job over an already-segmented chunk list.
func New(id string, chunks []segment.Chunk, s synth.Synthesizer, listenerBuf int, log *slog.Logger) (*Job, error) {
	if len(chunks) == 0 {
		return nil, ErrEmptyInput
	}
	if listenerBuf <= 0 {
		listenerBuf = 16
	}
	return &Job{
		id:          id,
		chunks:      chunks,
		synth:       s,
		log:         log.With(slog.String("component", "job"), slog.String("job_id", id)),
		listenerBuf: listenerBuf,
		status:      StatusReady,
		segments:    make(map[int]Segment),
		listeners:   make(map[int]chan Event),
	}, nil
}

func (j *Job) ID() string { return j.id }

// Chunks returns the immutable chunk list computed at submission.
func (j *Job) Chunks() []segment.Chunk { return j.chunks }

// Subscribe registers a listener channel. Delivery is fire-and-forget: a
// full channel drops events rather than stalling the pipeline. The returned
// cancel func unregisters and closes the channel.
func (j *Job) Subscribe() (<-chan Event, func()) {
	j.mu.Lock()
	defer j.mu.Unlock()

	id := j.nextListener
	j.nextListener++
	ch := make(chan Event, j.listenerBuf)
	j.listeners[id] = ch

	cancel := func() {
		j.mu.Lock()
		defer j.mu.Unlock()
		if c, ok := j.listeners[id]; ok {
			delete(j.listeners, id)
			close(c)
		}
	}
	return ch, cancel
}

// Snapshot returns a read-only copy of the current state.
func (j *Job) Snapshot() Snapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.snapshotLocked()
}

func (j *Job) snapshotLocked() Snapshot {
	s := Snapshot{
		ID:             j.id,
		Status:         j.status,
		CurrentIndex:   j.current,
		TotalChunks:    len(j.chunks),
		CompletedCount: len(j.segments),
	}
	if j.err != nil {
		s.Error = j.err.Error()
	}
	return s
}

// Result returns the combined container bytes, only once completed.
func (j *Job) Result() ([]byte, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status != StatusCompleted {
		return nil, ErrNotCompleted
	}
	return j.combined, nil
}

// Run executes the sequential synthesis loop. Exactly one call per job; the
// loop is the only writer of job state. A chunk failure aborts the whole job
// with no retry and no partial download.
func (j *Job) Run(ctx context.Context) error {
	j.mu.Lock()
	j.status = StatusProcessing
	j.publishLocked(Event{Type: EventStatus, Snapshot: j.snapshotLocked()})
	j.mu.Unlock()

	for i, chunk := range j.chunks {
		start := time.Now()
		audio, err := j.synth.Synthesize(ctx, synth.Request{JobID: j.id, Text: chunk.Text, Speaker: chunk.Speaker})
		if err != nil {
			serr := &SynthesisError{Index: i, Err: err}
			j.fail(serr)
			return serr
		}
		seg := Segment{Index: i, Audio: audio, Duration: time.Since(start)}

		j.mu.Lock()
		j.segments[i] = seg
		j.current = i + 1
		j.publishLocked(Event{Type: EventSegmentReady, Snapshot: j.snapshotLocked(), Segment: &seg})
		j.publishLocked(Event{Type: EventStatus, Snapshot: j.snapshotLocked()})
		j.mu.Unlock()
	}

	combined, err := j.combine()
	if err != nil {
		j.fail(err)
		return err
	}

	j.mu.Lock()
	j.status = StatusCompleted
	j.combined = combined
	j.publishLocked(Event{Type: EventComplete, Snapshot: j.snapshotLocked(), Audio: combined})
	j.mu.Unlock()

	j.log.Info("job completed", slog.Int("chunks", len(j.chunks)), slog.Int("bytes", len(combined)))
	return nil
}

// Replay re-emits the stored segments of a completed job in index order and
// then the completion event, without touching the synthesis backend.
func (j *Job) Replay() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.status != StatusCompleted {
		return ErrNotCompleted
	}
	j.status = StatusReplaying

	for _, seg := range j.sortedSegmentsLocked() {
		seg := seg
		j.publishLocked(Event{Type: EventSegmentReady, Snapshot: j.snapshotLocked(), Segment: &seg})
	}
	j.status = StatusCompleted
	j.publishLocked(Event{Type: EventComplete, Snapshot: j.snapshotLocked(), Audio: j.combined})
	return nil
}

// Segments returns the stored segments sorted by index.
func (j *Job) Segments() []Segment {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.sortedSegmentsLocked()
}

func (j *Job) sortedSegmentsLocked() []Segment {
	out := make([]Segment, 0, len(j.segments))
	for _, seg := range j.segments {
		out = append(out, seg)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Index < out[b].Index })
	return out
}

// combine parses every stored segment in index order and stitches the
// payloads into one container.
func (j *Job) combine() ([]byte, error) {
	segs := j.Segments()
	parts := make([]wav.Audio, 0, len(segs))
	for _, seg := range segs {
		parsed, err := wav.Parse(seg.Audio)
		if err != nil {
			return nil, fmt.Errorf("parse segment %d: %w", seg.Index, err)
		}
		parts = append(parts, parsed)
	}
	combined, err := wav.Combine(parts)
	if err != nil {
		return nil, fmt.Errorf("combine segments: %w", err)
	}
	return combined, nil
}

func (j *Job) fail(err error) {
	j.mu.Lock()
	j.status = StatusFailed
	j.err = err
	j.publishLocked(Event{Type: EventFailed, Snapshot: j.snapshotLocked(), Err: err})
	j.mu.Unlock()

	j.log.Warn("job failed", slog.String("error", err.Error()))
}

// publishLocked delivers an event to every listener without blocking; a slow
// subscriber loses events instead of stalling the loop.
func (j *Job) publishLocked(evt Event) {
	for _, ch := range j.listeners {
		select {
		case ch <- evt:
		default:
		}
	}
}
