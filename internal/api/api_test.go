package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/narrately/narrate-core/internal/config"
	"github.com/narrately/narrate-core/internal/eventstore"
	"github.com/narrately/narrate-core/internal/job"
	"github.com/narrately/narrate-core/internal/service"
	"github.com/narrately/narrate-core/internal/synth"
	"github.com/narrately/narrate-core/internal/wav"
)

func testServer(t *testing.T) *httptest.Server {
	return testServerWith(t, nil)
}

func testServerWith(t *testing.T, store *eventstore.Store) *httptest.Server {
	t.Helper()
	cfg := config.Default()
	cfg.Synth.Mode = "mock"
	cfg.Synth.SampleRate = 8000

	synthesizer, err := synth.New(cfg.Synth, slog.Default())
	if err != nil {
		t.Fatalf("new synth: %v", err)
	}
	svc := service.NewService(context.Background(), cfg, nil, synthesizer, store, slog.Default())
	t.Cleanup(svc.Close)

	mux := http.NewServeMux()
	NewHandler(svc, slog.Default()).Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func submitJob(t *testing.T, srv *httptest.Server, body string) job.Snapshot {
	t.Helper()
	resp, err := http.Post(srv.URL+"/v1/jobs", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		raw, _ := io.ReadAll(resp.Body)
		t.Fatalf("submit status %d: %s", resp.StatusCode, raw)
	}
	var snap job.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snap.ID == "" {
		t.Fatal("snapshot missing id")
	}
	return snap
}

func waitCompleted(t *testing.T, srv *httptest.Server, id string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(srv.URL + "/v1/jobs/" + id)
		if err != nil {
			t.Fatalf("status: %v", err)
		}
		var snap job.Snapshot
		err = json.NewDecoder(resp.Body).Decode(&snap)
		resp.Body.Close()
		if err != nil {
			t.Fatalf("decode status: %v", err)
		}
		switch snap.Status {
		case job.StatusCompleted:
			return
		case job.StatusFailed:
			t.Fatalf("job failed: %s", snap.Error)
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("job never completed")
}

func TestSubmitAndDownloadAudio(t *testing.T) {
	srv := testServer(t)

	snap := submitJob(t, srv, `{"text":"First thing. Second thing entirely.","stream":false}`)
	waitCompleted(t, srv, snap.ID)

	resp, err := http.Get(srv.URL + "/v1/jobs/" + snap.ID + "/audio")
	if err != nil {
		t.Fatalf("audio: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("audio status %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "audio/wav" {
		t.Fatalf("unexpected content type %q", ct)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read audio: %v", err)
	}
	if _, err := wav.Parse(data); err != nil {
		t.Fatalf("downloaded audio invalid: %v", err)
	}
}

func TestUnknownJobIs404(t *testing.T) {
	srv := testServer(t)

	for _, path := range []string{"/v1/jobs/nope", "/v1/jobs/nope/audio", "/v1/jobs/nope/events"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("get %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Fatalf("%s status %d, want 404", path, resp.StatusCode)
		}
	}
	resp, err := http.Post(srv.URL+"/v1/jobs/nope/replay", "application/json", nil)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("replay status %d, want 404", resp.StatusCode)
	}
}

func TestSubmitRejectsBadBody(t *testing.T) {
	srv := testServer(t)

	for _, body := range []string{"{not json", `{"text":""}`} {
		resp, err := http.Post(srv.URL+"/v1/jobs", "application/json", bytes.NewReader([]byte(body)))
		if err != nil {
			t.Fatalf("submit: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("body %q status %d, want 400", body, resp.StatusCode)
		}
	}
}

func TestReplayBatchJobConflicts(t *testing.T) {
	srv := testServer(t)

	snap := submitJob(t, srv, `{"text":"No replay for the batch path.","stream":false}`)
	waitCompleted(t, srv, snap.ID)

	resp, err := http.Post(srv.URL+"/v1/jobs/"+snap.ID+"/replay", "application/json", nil)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("replay status %d, want 409", resp.StatusCode)
	}
}

func TestEventsStreamReportsSnapshot(t *testing.T) {
	srv := testServer(t)

	snap := submitJob(t, srv, `{"text":"Short line for the event stream.","stream":true}`)
	waitCompleted(t, srv, snap.ID)

	resp, err := http.Get(srv.URL + "/v1/jobs/" + snap.ID + "/events")
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read events: %v", err)
	}
	if !strings.Contains(string(body), "event: status") {
		t.Fatalf("missing status event in stream: %s", body)
	}
	if !strings.Contains(string(body), string(job.StatusCompleted)) {
		t.Fatalf("expected completed snapshot in stream: %s", body)
	}
}

func TestEventsStreamServesRecordedHistory(t *testing.T) {
	store, err := eventstore.Open(context.Background(), config.EventStoreConfig{
		RetentionMode: "session",
		Path:          filepath.Join(t.TempDir(), "events.db"),
	}, slog.Default())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	srv := testServerWith(t, store)

	snap := submitJob(t, srv, `{"text":"A sentence kept around for history.","stream":true}`)
	waitCompleted(t, srv, snap.ID)

	// The timeline is written by the bridge goroutine; poll until it lands.
	deadline := time.Now().Add(5 * time.Second)
	for {
		resp, err := http.Get(srv.URL + "/v1/jobs/" + snap.ID + "/events")
		if err != nil {
			t.Fatalf("events: %v", err)
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			t.Fatalf("read events: %v", err)
		}
		if strings.Contains(string(body), "event: segment_ready") &&
			strings.Contains(string(body), "event: complete") {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("recorded history never served: %s", body)
		}
		time.Sleep(20 * time.Millisecond)
	}
}
