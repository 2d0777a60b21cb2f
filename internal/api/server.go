// Package api exposes the one internal HTTP surface this deployment
// keeps: a debug endpoint that replays a title through the Title &
// Quality Filter so a rejected candidate's reason can be inspected
// without re-running a full scan cycle.
package api

import (
	"encoding/json"
	"net/http"

	"brickwatch/internal/db"
	"brickwatch/internal/filter"
)

// Server holds the store the debug endpoint reads watch constraints from.
type Server struct {
	store *db.DB
}

// New builds a Server.
func New(store *db.DB) *Server {
	return &Server{store: store}
}

// Handler returns the HTTP handler for this deployment's internal surface.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /debug/filter-replay", s.handleFilterReplay)
	return mux
}

type filterReplayRequest struct {
	Title     string  `json:"title"`
	WatchID   int64   `json:"watch_id"`
	Price     float64 `json:"price"`
	Condition string  `json:"condition"`
}

func (s *Server) handleFilterReplay(w http.ResponseWriter, r *http.Request) {
	var req filterReplayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Title == "" || req.WatchID == 0 {
		writeError(w, http.StatusBadRequest, "title and watch_id are required")
		return
	}

	watch, err := s.store.GetWatch(req.WatchID)
	if err != nil {
		writeError(w, http.StatusNotFound, "watch not found")
		return
	}

	constraints := filter.Constraints{
		ItemKind: watch.ItemKind, MinTotal: watch.MinLandedPrice,
		ConditionPref: watch.Condition, ExcludeWords: watch.ExcludeWords,
	}
	if watch.ItemKind == "minifig" {
		constraints.CollectorCode = watch.ItemID
	} else {
		constraints.CatalogNumber = watch.ItemID
		constraints.CatalogName, _ = s.store.SetMeta(watch.ItemID)
	}

	decision := filter.Evaluate(req.Title, req.Price, req.Condition, constraints, filter.Batch{})
	writeJSON(w, decision)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
