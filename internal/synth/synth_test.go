package synth

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/narrately/narrate-core/internal/config"
	"github.com/narrately/narrate-core/internal/wav"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestMockSynthProducesParseableWAV(t *testing.T) {
	s := NewMockSynth(22050, 1)
	out, err := s.Synthesize(context.Background(), Request{Text: "Hello there."})
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	audio, err := wav.Parse(out)
	if err != nil {
		t.Fatalf("mock output is not valid wav: %v", err)
	}
	if audio.Format.SampleRate != 22050 || audio.Format.NumChannels != 1 {
		t.Fatalf("unexpected format: %+v", audio.Format)
	}
	if len(audio.Data) == 0 {
		t.Fatal("expected non-empty payload")
	}
}

func TestMockSynthOutputsAreCombinable(t *testing.T) {
	s := NewMockSynth(22050, 1)
	first, err := s.Synthesize(context.Background(), Request{Text: "One."})
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	second, err := s.Synthesize(context.Background(), Request{Text: "Two."})
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	a, err := wav.Parse(first)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	b, err := wav.Parse(second)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if _, err := wav.Combine([]wav.Audio{a, b}); err != nil {
		t.Fatalf("combine: %v", err)
	}
}

func TestRecommendedChunkSizeFallback(t *testing.T) {
	s := NewMockSynth(22050, 1)
	if size := RecommendedChunkSize(context.Background(), s, 500, newLogger()); size != 500 {
		t.Fatalf("expected fallback 500, got %d", size)
	}
}

func TestHTTPSynthRecommendedChunkSize(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/capability" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`{"gpu_free_mb": 2048}`))
	}))
	defer server.Close()

	cfg := config.Default().Synth
	cfg.Mode = "http"
	cfg.Endpoint = server.URL
	s, err := NewHTTPSynth(cfg, newLogger())
	if err != nil {
		t.Fatalf("new http synth: %v", err)
	}
	if size := RecommendedChunkSize(context.Background(), s, 500, newLogger()); size != 512 {
		t.Fatalf("expected 512, got %d", size)
	}
}

func TestHTTPSynthRecommendedChunkSizeErrorFallsBack(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no gpu", http.StatusInternalServerError)
	}))
	defer server.Close()

	cfg := config.Default().Synth
	cfg.Mode = "http"
	cfg.Endpoint = server.URL
	s, err := NewHTTPSynth(cfg, newLogger())
	if err != nil {
		t.Fatalf("new http synth: %v", err)
	}
	if size := RecommendedChunkSize(context.Background(), s, 500, newLogger()); size != 500 {
		t.Fatalf("expected fallback 500, got %d", size)
	}
}

func TestHTTPSynthSynthesize(t *testing.T) {
	want := wav.Encode(wav.PCMFormat(22050, 1, 16), []byte{1, 2, 3, 4})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tts" {
			http.NotFound(w, r)
			return
		}
		w.Write(want)
	}))
	defer server.Close()

	cfg := config.Default().Synth
	cfg.Mode = "http"
	cfg.Endpoint = server.URL
	s, err := NewHTTPSynth(cfg, newLogger())
	if err != nil {
		t.Fatalf("new http synth: %v", err)
	}
	got, err := s.Synthesize(context.Background(), Request{Text: "Hello."})
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if string(got) != string(want) {
		t.Fatal("unexpected response body")
	}
}
