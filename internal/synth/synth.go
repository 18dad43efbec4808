// Package synth abstracts the external speech synthesis backends. The job
// pipeline depends only on the Synthesizer interface; concrete backends are
// selected by configuration.
package synth

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/narrately/narrate-core/internal/config"
)

// Request carries one chunk of text to the backend.
type Request struct {
	JobID   string
	Text    string
	Speaker string
}

// Synthesizer converts one chunk of text into encoded audio. Implementations
// must be safe for concurrent use; the pipeline issues at most one call per
// job at a time, but multiple jobs share one backend.
type Synthesizer interface {
	Synthesize(ctx context.Context, req Request) ([]byte, error)
}

// Sizer is implemented by backends that can recommend a chunk byte budget,
// typically from a GPU-memory heuristic.
type Sizer interface {
	RecommendedChunkSize(ctx context.Context) (int, error)
}

// New builds the backend selected by cfg.Mode.
func New(cfg config.SynthConfig, log *slog.Logger) (Synthesizer, error) {
	switch cfg.Mode {
	case "mock":
		return NewMockSynth(cfg.SampleRate, cfg.Channels), nil
	case "exec":
		return NewExecSynth(cfg)
	case "http":
		return NewHTTPSynth(cfg, log)
	case "openai":
		return NewOpenAISynth(cfg)
	default:
		return nil, fmt.Errorf("unknown synth mode %q", cfg.Mode)
	}
}

// RecommendedChunkSize queries the backend when it implements Sizer. Any
// error falls back to the given default rather than failing the caller.
func RecommendedChunkSize(ctx context.Context, s Synthesizer, fallback int, log *slog.Logger) int {
	sizer, ok := s.(Sizer)
	if !ok {
		return fallback
	}
	size, err := sizer.RecommendedChunkSize(ctx)
	if err != nil || size <= 0 {
		if err != nil && log != nil {
			log.Warn("chunk size query failed, using fallback", slog.String("error", err.Error()), slog.Int("fallback", fallback))
		}
		return fallback
	}
	return size
}
