package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"patrol-hub/core/incident"
)

const panelOpenFlag = "panel_open"

// BatchAssigner is the slice of the identity assigner the API needs: handing
// out display ids is idempotent, so handlers can re-run it on cached feed
// data.
type BatchAssigner interface {
	ProcessBatch(ctx context.Context, records []incident.Record) []incident.Record
}

type IncidentsHandler struct {
	deps ServerDeps
}

func NewIncidentsHandler(deps ServerDeps) *IncidentsHandler {
	return &IncidentsHandler{deps: deps}
}

func (h *IncidentsHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *IncidentsHandler) FeedStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.deps.Poller.Status())
}

// ListIncidents returns the current working set, newest first, with display
// ids attached.
func (h *IncidentsHandler) ListIncidents(w http.ResponseWriter, r *http.Request) {
	records := h.deps.Poller.Last()
	if h.deps.Assigner != nil {
		records = h.deps.Assigner.ProcessBatch(r.Context(), records)
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": records, "count": len(records)})
}

func (h *IncidentsHandler) ListUnviewed(w http.ResponseWriter, r *http.Request) {
	items := h.deps.Tracker.Unviewed()
	writeJSON(w, http.StatusOK, map[string]any{
		"items":         items,
		"count":         len(items),
		"last_clear_at": h.deps.Tracker.LastClearAt(),
	})
}

func (h *IncidentsHandler) MarkViewed(w http.ResponseWriter, r *http.Request) {
	remoteKey := strings.TrimSpace(chi.URLParam(r, "remoteKey"))
	if remoteKey == "" {
		http.Error(w, "remote key required", http.StatusBadRequest)
		return
	}
	// Unknown ids are a safe no-op, not an error.
	changed := h.deps.Tracker.MarkViewed(r.Context(), remoteKey)
	writeJSON(w, http.StatusOK, map[string]any{"changed": changed, "count": h.deps.Tracker.Count()})
}

func (h *IncidentsHandler) ClearAll(w http.ResponseWriter, r *http.Request) {
	changed := h.deps.Tracker.ClearAll(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"changed": changed, "last_clear_at": h.deps.Tracker.LastClearAt()})
}

// StreamEvents pushes unviewed-set changes to the browser as server-sent
// events, one JSON payload per change.
func (h *IncidentsHandler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch, cancel := h.deps.Events.Subscribe()
	defer cancel()

	// Send the current state first so a late-joining panel renders
	// immediately.
	h.writeEvent(w, Event{Kind: EventUnviewedChanged, Unviewed: h.deps.Tracker.Unviewed(), Count: h.deps.Tracker.Count()})
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-ch:
			if !open {
				return
			}
			h.writeEvent(w, ev)
			flusher.Flush()
		}
	}
}

func (h *IncidentsHandler) writeEvent(w http.ResponseWriter, ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Kind, payload)
}

func (h *IncidentsHandler) GetPanel(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"open": h.deps.Session.Get(panelOpenFlag)})
}

func (h *IncidentsHandler) SetPanel(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Open bool `json:"open"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	h.deps.Session.Set(panelOpenFlag, body.Open)
	writeJSON(w, http.StatusOK, map[string]bool{"open": body.Open})
}

const maxEnvelopeListLimit = 200

func (h *IncidentsHandler) ListEnvelopes(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > maxEnvelopeListLimit {
		limit = maxEnvelopeListLimit
	}
	items, err := h.deps.SyncStore.ListEnvelopes(r.Context(), limit)
	if err != nil {
		h.deps.Logger.Errorf("api: list envelopes: %v", err)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}
