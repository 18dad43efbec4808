// Package service is the bus-facing narration front. It accepts job
// requests, segments the text, drives the synthesis pipeline, and bridges
// per-job events onto NATS subjects and the persistent timeline.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/narrately/narrate-core/internal/bus"
	"github.com/narrately/narrate-core/internal/config"
	"github.com/narrately/narrate-core/internal/eventstore"
	"github.com/narrately/narrate-core/internal/job"
	"github.com/narrately/narrate-core/internal/protocol"
	"github.com/narrately/narrate-core/internal/segment"
	"github.com/narrately/narrate-core/internal/synth"
)

// ErrNoReplay is returned when replay is requested for a batch job.
var ErrNoReplay = errors.New("job does not support replay")

type Service struct {
	cfg      config.Config
	bus      *bus.Client
	synth    synth.Synthesizer
	registry *job.Registry
	store    *eventstore.Store
	logger   *slog.Logger

	sub    *nats.Subscription
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	meter         metric.Meter
	jobsStarted   metric.Int64Counter
	jobsCompleted metric.Int64Counter
	jobsFailed    metric.Int64Counter
	synthSeconds  metric.Float64Histogram
}

func NewService(parent context.Context, cfg config.Config, busClient *bus.Client, synthesizer synth.Synthesizer, store *eventstore.Store, log *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	s := &Service{
		cfg:      cfg,
		bus:      busClient,
		synth:    synthesizer,
		registry: job.NewRegistry(cfg.Jobs.MaxJobs),
		store:    store,
		logger:   log.With(slog.String("component", "narrate-service")),
		ctx:      ctx,
		cancel:   cancel,
		meter:    otel.Meter("github.com/narrately/narrate-core/service"),
	}
	if err := s.initMetrics(); err != nil {
		s.logger.Warn("failed to initialize metrics", slogError(err))
	}
	return s
}

func (s *Service) initMetrics() error {
	var err error
	s.jobsStarted, err = s.meter.Int64Counter("narrate.jobs.started", metric.WithDescription("Jobs accepted for synthesis"))
	if err != nil {
		return err
	}
	s.jobsCompleted, err = s.meter.Int64Counter("narrate.jobs.completed", metric.WithDescription("Jobs that produced a combined container"))
	if err != nil {
		return err
	}
	s.jobsFailed, err = s.meter.Int64Counter("narrate.jobs.failed", metric.WithDescription("Jobs aborted by a synthesis failure"))
	if err != nil {
		return err
	}
	s.synthSeconds, err = s.meter.Float64Histogram("narrate.synth.segment_seconds", metric.WithDescription("Per-segment synthesis wall time"))
	return err
}

// Start subscribes the bus submission subject. Without a bus the service
// still serves the HTTP path.
func (s *Service) Start() error {
	if s.bus == nil {
		return nil
	}
	sub, err := s.bus.Conn().Subscribe(protocol.SubjectJobSubmit, s.handleSubmit)
	if err != nil {
		return err
	}
	s.sub = sub
	return nil
}

func (s *Service) Close() {
	s.cancel()
	if s.sub != nil {
		_ = s.sub.Drain()
	}
	s.wg.Wait()
}

func (s *Service) Healthy() bool {
	return s.bus == nil || s.sub != nil
}

// Registry exposes job lookup to the HTTP layer.
func (s *Service) Registry() *job.Registry { return s.registry }

// Store exposes the persisted timeline to the HTTP layer. May be nil.
func (s *Service) Store() *eventstore.Store { return s.store }

func (s *Service) handleSubmit(msg *nats.Msg) {
	var req protocol.JobRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode job request", slogError(err))
		return
	}
	if req.Text == "" {
		return
	}
	if _, err := s.submit(req.JobID, req.Text, req.Voice, req.Stream); err != nil {
		s.logger.Warn("failed to start job", slogError(err))
	}
}

// Submit segments the text, registers a new job, and starts it in the
// background. Streaming jobs emit events while running; batch jobs only
// expose the final container.
func (s *Service) Submit(text, voice string, stream bool) (job.Handle, error) {
	return s.submit("", text, voice, stream)
}

func (s *Service) submit(id, text, voice string, stream bool) (job.Handle, error) {
	if id == "" {
		id = uuid.NewString()
	}
	segCfg := segment.Config{
		DefaultSpeaker: s.cfg.Segment.DefaultSpeaker,
		Speakers:       s.cfg.Segment.Speakers,
		MinChunkLen:    s.cfg.Segment.MinChunkLen,
	}
	if voice != "" {
		segCfg.DefaultSpeaker = voice
	}

	mode := "batch"
	if stream {
		mode = "stream"
	}

	var handle job.Handle
	if stream {
		chunks := segment.Segment(text, segCfg)
		j, err := job.New(id, chunks, s.synth, s.cfg.Jobs.ListenerBuffer, s.logger)
		if err != nil {
			return nil, fmt.Errorf("create job: %w", err)
		}
		events, cancel := j.Subscribe()
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer cancel()
			s.bridge(id, events)
		}()
		handle = j
	} else {
		budget := synth.RecommendedChunkSize(s.ctx, s.synth, s.cfg.Segment.MaxChunkBytes, s.logger)
		chunks := segment.Pack(text, budget, segCfg)
		b, err := job.NewBatch(id, chunks, s.synth, s.logger)
		if err != nil {
			return nil, fmt.Errorf("create batch job: %w", err)
		}
		handle = b
	}

	s.registry.Put(handle)
	s.recordSubmit(id, mode, segCfg.DefaultSpeaker)
	s.jobsStarted.Add(s.ctx, 1, metric.WithAttributes(attribute.String("mode", mode)))

	// No job-level deadline: the backend enforces its per-call timeout and a
	// job otherwise runs to completion or failure.
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		var err error
		switch h := handle.(type) {
		case *job.Job:
			err = h.Run(s.ctx)
		case *job.BatchJob:
			err = h.Run(s.ctx)
			s.recordBatchOutcome(h, err)
		}
		if err != nil {
			s.logger.Warn("job failed", slog.String("job_id", id), slogError(err))
		}
	}()

	return handle, nil
}

// Replay re-emits a completed streaming job's segments without touching the
// synthesis backend.
func (s *Service) Replay(id string) error {
	h, err := s.registry.Get(id)
	if err != nil {
		return err
	}
	j, ok := h.(*job.Job)
	if !ok {
		return ErrNoReplay
	}
	events, cancel := j.Subscribe()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		s.bridge(id, events)
	}()
	return j.Replay()
}

// bridge forwards a job's event stream onto the bus and the persisted
// timeline until the channel closes.
func (s *Service) bridge(id string, events <-chan job.Event) {
	for {
		select {
		case evt, ok := <-events:
			if !ok {
				return
			}
			s.forward(id, evt)
			if evt.Type == job.EventComplete || evt.Type == job.EventFailed {
				return
			}
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Service) forward(id string, evt job.Event) {
	switch evt.Type {
	case job.EventSegmentReady:
		if evt.Segment != nil {
			s.synthSeconds.Record(s.ctx, evt.Segment.Duration.Seconds())
			s.publish(protocol.SubjectSegmentReady, protocol.SegmentReady{
				JobID:      id,
				Index:      evt.Segment.Index,
				Audio:      evt.Segment.Audio,
				DurationMS: evt.Segment.Duration.Milliseconds(),
			})
		}
		s.recordEvent(id, "segment_ready", statusPayload(id, evt.Snapshot))
	case job.EventStatus:
		s.publish(protocol.SubjectJobStatus, statusMessage(id, evt.Snapshot))
		s.recordEvent(id, "status", statusPayload(id, evt.Snapshot))
	case job.EventComplete:
		s.jobsCompleted.Add(s.ctx, 1)
		s.publish(protocol.SubjectJobComplete, protocol.JobComplete{
			JobID:     id,
			Audio:     evt.Audio,
			Timestamp: time.Now().UTC(),
		})
		s.recordEvent(id, "complete", statusPayload(id, evt.Snapshot))
	case job.EventFailed:
		s.jobsFailed.Add(s.ctx, 1)
		s.publish(protocol.SubjectJobFailed, statusMessage(id, evt.Snapshot))
		s.recordEvent(id, "failed", statusPayload(id, evt.Snapshot))
	}
}

func (s *Service) recordBatchOutcome(b *job.BatchJob, err error) {
	snap := b.Snapshot()
	if err != nil || snap.Status == job.StatusFailed {
		s.jobsFailed.Add(s.ctx, 1)
		s.recordEvent(b.ID(), "failed", statusPayload(b.ID(), snap))
		return
	}
	s.jobsCompleted.Add(s.ctx, 1)
	s.recordEvent(b.ID(), "complete", statusPayload(b.ID(), snap))
}

func (s *Service) publish(subject string, payload any) {
	if s.bus == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Warn("failed to marshal bus payload", slogError(err))
		return
	}
	if err := s.bus.Conn().Publish(subject, data); err != nil {
		s.logger.Warn("failed to publish job event", slog.String("subject", subject), slogError(err))
	}
}

func (s *Service) recordSubmit(id, mode, voice string) {
	if s.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.store.AppendJob(ctx, id, mode, voice); err != nil {
		s.logger.Warn("failed to record job", slogError(err))
		return
	}
	if err := s.store.AppendEvent(ctx, eventstore.Event{JobID: id, Type: "submitted"}); err != nil {
		s.logger.Warn("failed to record job event", slogError(err))
	}
}

func (s *Service) recordEvent(id, typ string, payload []byte) {
	if s.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.store.AppendEvent(ctx, eventstore.Event{JobID: id, Type: typ, Payload: payload}); err != nil {
		s.logger.Warn("failed to record job event", slog.String("type", typ), slogError(err))
	}
}

func statusMessage(id string, snap job.Snapshot) protocol.JobStatus {
	return protocol.JobStatus{
		JobID:          id,
		Status:         string(snap.Status),
		CurrentIndex:   snap.CurrentIndex,
		TotalChunks:    snap.TotalChunks,
		CompletedCount: snap.CompletedCount,
		Error:          snap.Error,
		Timestamp:      time.Now().UTC(),
	}
}

func statusPayload(id string, snap job.Snapshot) []byte {
	data, err := json.Marshal(statusMessage(id, snap))
	if err != nil {
		return nil
	}
	return data
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
