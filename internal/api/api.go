// Package api exposes the narration service over HTTP: job submission,
// status, combined audio download, replay, and a server-sent event stream
// for browser playback.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/narrately/narrate-core/internal/job"
	"github.com/narrately/narrate-core/internal/service"
)

type Handler struct {
	svc    *service.Service
	logger *slog.Logger
}

func NewHandler(svc *service.Service, log *slog.Logger) *Handler {
	return &Handler{svc: svc, logger: log.With(slog.String("component", "http-api"))}
}

// Register mounts the API routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/jobs", h.handleSubmit)
	mux.HandleFunc("GET /v1/jobs/{id}", h.handleStatus)
	mux.HandleFunc("GET /v1/jobs/{id}/audio", h.handleAudio)
	mux.HandleFunc("POST /v1/jobs/{id}/replay", h.handleReplay)
	mux.HandleFunc("GET /v1/jobs/{id}/events", h.handleEvents)
}

type submitRequest struct {
	Text   string `json:"text"`
	Voice  string `json:"voice,omitempty"`
	Stream bool   `json:"stream"`
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, errors.New("text is required"))
		return
	}
	handle, err := h.svc.Submit(req.Text, req.Voice, req.Stream)
	if err != nil {
		if errors.Is(err, job.ErrEmptyInput) {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		h.logger.Warn("job submission failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusAccepted, handle.Snapshot())
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	handle, err := h.svc.Registry().Get(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, handle.Snapshot())
}

func (h *Handler) handleAudio(w http.ResponseWriter, r *http.Request) {
	handle, err := h.svc.Registry().Get(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	data, err := handle.Result()
	if err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Content-Length", fmt.Sprintf("%d", len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (h *Handler) handleReplay(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	err := h.svc.Replay(id)
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, map[string]string{"id": id, "status": "replaying"})
	case errors.Is(err, job.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, job.ErrNotCompleted), errors.Is(err, service.ErrNoReplay):
		writeError(w, http.StatusConflict, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

// handleEvents streams job events as SSE. The first event is always the
// current snapshot so late subscribers see where the job stands.
func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	handle, err := h.svc.Registry().Get(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, errors.New("streaming unsupported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	// Subscribe before reading the snapshot so a job finishing in between
	// still delivers its terminal event.
	var events <-chan job.Event
	if streamer, ok := handle.(interface {
		Subscribe() (<-chan job.Event, func())
	}); ok {
		var cancel func()
		events, cancel = streamer.Subscribe()
		defer cancel()
	}

	snap := handle.Snapshot()
	writeSSE(w, string(job.EventStatus), snap)
	flusher.Flush()
	if snap.Status == job.StatusCompleted || snap.Status == job.StatusFailed {
		h.writeHistory(r, w, flusher, handle.ID())
		return
	}
	if events == nil {
		return
	}

	for {
		select {
		case evt, open := <-events:
			if !open {
				return
			}
			writeSSE(w, string(evt.Type), sseBody(evt))
			flusher.Flush()
			if evt.Type == job.EventComplete || evt.Type == job.EventFailed {
				return
			}
		case <-r.Context().Done():
			return
		}
	}
}

// writeHistory replays a terminal job's recorded timeline so subscribers
// arriving after the fact still see what happened.
func (h *Handler) writeHistory(r *http.Request, w http.ResponseWriter, flusher http.Flusher, id string) {
	store := h.svc.Store()
	if store == nil {
		return
	}
	recorded, err := store.ListJobEvents(r.Context(), id, 100)
	if err != nil {
		h.logger.Warn("failed to read job timeline", slog.String("job_id", id), slog.String("error", err.Error()))
		return
	}
	for _, evt := range recorded {
		payload := evt.Payload
		if len(payload) == 0 {
			payload = []byte("{}")
		}
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Type, payload)
	}
	flusher.Flush()
}

type ssePayload struct {
	Snapshot job.Snapshot `json:"snapshot"`
	Index    *int         `json:"index,omitempty"`
	Error    string       `json:"error,omitempty"`
}

func sseBody(evt job.Event) ssePayload {
	p := ssePayload{Snapshot: evt.Snapshot}
	if evt.Segment != nil {
		idx := evt.Segment.Index
		p.Index = &idx
	}
	if evt.Err != nil {
		p.Error = evt.Err.Error()
	}
	return p
}

func writeSSE(w http.ResponseWriter, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
