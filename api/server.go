package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"patrol-hub/core/broadcast"
	"patrol-hub/core/feed"
	"patrol-hub/core/store"
	"patrol-hub/core/tracker"
	"patrol-hub/core/utils"
)

// ServerDeps carries everything the HTTP surface is allowed to touch. The
// tracker methods exposed here are the only entry points the UI may use to
// mutate core state.
type ServerDeps struct {
	Poller    *feed.Poller
	Assigner  BatchAssigner
	Tracker   *tracker.Tracker
	Session   *broadcast.SessionState
	SyncStore store.SyncStore
	Events    *EventHub
	Logger    *utils.Logger
}

func NewRouter(deps ServerDeps) http.Handler {
	h := NewIncidentsHandler(deps)
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(deps.Logger))
	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)
		r.Get("/feed/status", h.FeedStatus)
		r.Route("/incidents", func(r chi.Router) {
			r.Get("/", h.ListIncidents)
			r.Get("/unviewed", h.ListUnviewed)
			r.Get("/events", h.StreamEvents)
			r.Post("/clear", h.ClearAll)
			r.Post("/{remoteKey}/viewed", h.MarkViewed)
		})
		r.Route("/panel", func(r chi.Router) {
			r.Get("/", h.GetPanel)
			r.Put("/", h.SetPanel)
		})
		r.Get("/sync/envelopes", h.ListEnvelopes)
	})
	return r
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
