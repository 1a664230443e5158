// Package api exposes the Run Control API (§6) over HTTP using go-chi/chi,
// the same router the teacher's own tool-calling HTTP surfaces would reach
// for: a thin, middleware-composed mux in front of plain handler funcs,
// with no framework-specific request/response types leaking past this
// package.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/worldforge/orchestrator/internal/domain"
	"github.com/worldforge/orchestrator/internal/orchestrator"
	"github.com/worldforge/orchestrator/internal/store"
)

// Orchestrator is the narrow subset of internal/orchestrator.Orchestrator
// the HTTP layer drives, so this package can be tested against a fake
// without constructing a full composition root.
type Orchestrator interface {
	Submit(ctx context.Context, issue domain.Issue) error
	Cancel(runID string) bool
	Status(ctx context.Context, runID string) (orchestrator.StatusView, error)
	ListRuns(ctx context.Context, filter store.RunFilter) ([]domain.Run, error)
	Stats() orchestrator.StatsView
}

// NewRouter builds the chi mux exposing submit/cancel/status/list/stats.
func NewRouter(orc Orchestrator) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Post("/runs", handleSubmit(orc))
	r.Post("/runs/{id}/cancel", handleCancel(orc))
	r.Get("/runs/{id}", handleStatus(orc))
	r.Get("/runs", handleList(orc))
	r.Get("/stats", handleStats(orc))

	return r
}

type submitRequest struct {
	ID        string   `json:"id"`
	Title     string   `json:"title"`
	Body      string   `json:"body"`
	Labels    []string `json:"labels"`
	DependsOn []string `json:"depends_on"`
}

type submitResponse struct {
	RunID string `json:"run_id"`
}

func handleSubmit(orc Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req submitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.ID == "" {
			writeError(w, http.StatusBadRequest, "id is required")
			return
		}

		dependsOn := make([]domain.IssueID, len(req.DependsOn))
		for i, d := range req.DependsOn {
			dependsOn[i] = domain.IssueID(d)
		}
		issue := domain.NewIssue(domain.IssueID(req.ID), req.Title, req.Labels, dependsOn, req.Body, time.Now())

		if err := orc.Submit(r.Context(), issue); err != nil {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeJSON(w, http.StatusAccepted, submitResponse{RunID: req.ID})
	}
}

type cancelResponse struct {
	Cancelled bool `json:"cancelled"`
}

func handleCancel(orc Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		ok := orc.Cancel(id)
		writeJSON(w, http.StatusOK, cancelResponse{Cancelled: ok})
	}
}

func handleStatus(orc Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		view, err := orc.Status(r.Context(), id)
		if err != nil {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, view)
	}
}

func handleList(orc Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var filter store.RunFilter
		if s := r.URL.Query().Get("status"); s != "" {
			status, ok := parseRunStatus(s)
			if !ok {
				writeError(w, http.StatusBadRequest, "unknown status: "+s)
				return
			}
			filter.Status = &status
		}
		runs, err := orc.ListRuns(r.Context(), filter)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, runs)
	}
}

// parseRunStatus inverts domain.RunStatus.String for the list endpoint's
// ?status= query filter.
func parseRunStatus(s string) (domain.RunStatus, bool) {
	for _, status := range []domain.RunStatus{domain.RunActive, domain.RunPublished, domain.RunFailed, domain.RunCancelled} {
		if status.String() == s {
			return status, true
		}
	}
	return 0, false
}

func handleStats(orc Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, orc.Stats())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
