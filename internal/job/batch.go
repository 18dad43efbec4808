package job

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/narrately/narrate-core/internal/segment"
	"github.com/narrately/narrate-core/internal/synth"
	"github.com/narrately/narrate-core/internal/wav"
)

// BatchJob shares the streaming pipeline's sequential, abort-on-first-failure
// contract but emits no per-chunk events; it stitches once at the very end.
// Callers use it when they only want a final downloadable file.
type BatchJob struct {
	id     string
	chunks []segment.Chunk
	synth  synth.Synthesizer
	log    *slog.Logger

	mu       sync.Mutex
	status   Status
	current  int
	count    int
	combined []byte
	err      error
}

// NewBatch creates a batch job over size-bounded chunks (segment.Pack).
func NewBatch(id string, chunks []segment.Chunk, s synth.Synthesizer, log *slog.Logger) (*BatchJob, error) {
	if len(chunks) == 0 {
		return nil, ErrEmptyInput
	}
	return &BatchJob{
		id:     id,
		chunks: chunks,
		synth:  s,
		log:    log.With(slog.String("component", "batch-job"), slog.String("job_id", id)),
		status: StatusReady,
	}, nil
}

func (b *BatchJob) ID() string { return b.id }

func (b *BatchJob) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := Snapshot{
		ID:             b.id,
		Status:         b.status,
		CurrentIndex:   b.current,
		TotalChunks:    len(b.chunks),
		CompletedCount: b.count,
	}
	if b.err != nil {
		s.Error = b.err.Error()
	}
	return s
}

func (b *BatchJob) Result() ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.status != StatusCompleted {
		return nil, ErrNotCompleted
	}
	return b.combined, nil
}

// Run executes the sequential loop and stitches once at the end.
func (b *BatchJob) Run(ctx context.Context) error {
	b.mu.Lock()
	b.status = StatusProcessing
	b.mu.Unlock()

	parts := make([]wav.Audio, 0, len(b.chunks))
	for i, chunk := range b.chunks {
		start := time.Now()
		audio, err := b.synth.Synthesize(ctx, synth.Request{JobID: b.id, Text: chunk.Text, Speaker: chunk.Speaker})
		if err != nil {
			serr := &SynthesisError{Index: i, Err: err}
			b.fail(serr)
			return serr
		}
		parsed, err := wav.Parse(audio)
		if err != nil {
			perr := fmt.Errorf("parse segment %d: %w", i, err)
			b.fail(perr)
			return perr
		}
		parts = append(parts, parsed)

		b.mu.Lock()
		b.current = i + 1
		b.count++
		b.mu.Unlock()

		b.log.Debug("batch chunk synthesized",
			slog.Int("index", i),
			slog.Duration("took", time.Since(start)))
	}

	combined, err := wav.Combine(parts)
	if err != nil {
		cerr := fmt.Errorf("combine segments: %w", err)
		b.fail(cerr)
		return cerr
	}

	b.mu.Lock()
	b.status = StatusCompleted
	b.combined = combined
	b.mu.Unlock()
	return nil
}

func (b *BatchJob) fail(err error) {
	b.mu.Lock()
	b.status = StatusFailed
	b.err = err
	b.mu.Unlock()
	b.log.Warn("batch job failed", slog.String("error", err.Error()))
}
