package synth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/narrately/narrate-core/internal/config"
)

// httpSynth talks to a local neural TTS server over HTTP. The server is also
// queried for a recommended chunk size, a heuristic derived from its free
// GPU memory.
type httpSynth struct {
	endpoint string
	voice    string
	timeout  time.Duration
	client   *http.Client
	log      *slog.Logger
}

type httpSynthRequest struct {
	Text    string `json:"text"`
	Speaker string `json:"speaker,omitempty"`
	Voice   string `json:"voice,omitempty"`
}

type httpCapabilityResponse struct {
	GPUFreeMB int `json:"gpu_free_mb"`
}

func NewHTTPSynth(cfg config.SynthConfig, log *slog.Logger) (Synthesizer, error) {
	endpoint := strings.TrimRight(cfg.Endpoint, "/")
	if endpoint == "" {
		return nil, fmt.Errorf("synth endpoint empty")
	}
	timeout := time.Duration(cfg.TimeoutMS) * time.Millisecond
	return &httpSynth{
		endpoint: endpoint,
		voice:    cfg.Voice,
		timeout:  timeout,
		client:   &http.Client{Timeout: timeout},
		log:      log.With(slog.String("component", "http-synth")),
	}, nil
}

func (h *httpSynth) Synthesize(ctx context.Context, req Request) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	body, err := json.Marshal(httpSynthRequest{Text: req.Text, Speaker: req.Speaker, Voice: h.voice})
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint+"/api/tts", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("synth request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("synth server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	return io.ReadAll(resp.Body)
}

// RecommendedChunkSize asks the engine for its free GPU memory and derives a
// chunk byte budget from it, clamped to a sane range.
func (h *httpSynth) RecommendedChunkSize(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, h.endpoint+"/api/capability", nil)
	if err != nil {
		return 0, err
	}
	resp, err := h.client.Do(httpReq)
	if err != nil {
		return 0, fmt.Errorf("capability request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("capability request returned %d", resp.StatusCode)
	}
	var caps httpCapabilityResponse
	if err := json.NewDecoder(resp.Body).Decode(&caps); err != nil {
		return 0, fmt.Errorf("decode capability response: %w", err)
	}
	if caps.GPUFreeMB <= 0 {
		return 0, fmt.Errorf("capability response missing gpu_free_mb")
	}

	size := caps.GPUFreeMB / 4
	if size < 150 {
		size = 150
	}
	if size > 2000 {
		size = 2000
	}
	return size, nil
}
