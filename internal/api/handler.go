// Package api serves the local diagnostic HTTP surface: queue status, manual
// flushes, cached records and analytical queries. It binds to loopback by
// default and is not the sync transport — deliveries to the remote authority
// go through the remote client.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"fieldsync/internal/domain"
	"fieldsync/internal/middleware"
	"fieldsync/internal/service"
)

// Handler exposes the sync and analytics services over HTTP.
type Handler struct {
	sync      *service.SyncService
	analytics *service.AnalyticsService
	logger    *slog.Logger
}

func NewHandler(syncSvc *service.SyncService, analyticsSvc *service.AnalyticsService, logger *slog.Logger) *Handler {
	return &Handler{sync: syncSvc, analytics: analyticsSvc, logger: logger}
}

// Routes builds the chi router with the standard middleware chain.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(h.logger))
	r.Use(middleware.RateLimiter(middleware.RateLimitConfig{RequestsPerSecond: 50, Burst: 100}))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"http://localhost:*", "http://127.0.0.1:*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowedHeaders: []string{"Content-Type", "X-Request-ID"},
	}))

	r.Get("/health", h.health)
	r.Get("/status", h.status)
	r.Post("/flush", h.flush)
	r.Post("/pull", h.pull)
	r.Post("/audits/one-click", h.oneClickAudit)
	r.Post("/mutations", h.enqueueMutation)
	r.Get("/mutations", h.listMutations)
	r.Get("/records/{kind}/{id}", h.getRecord)
	r.Post("/query", h.query)
	r.Post("/analytics/warm", h.warmAnalytics)
	r.Get("/analytics/remote", h.remoteAnalytics)

	return r
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	status, err := h.sync.Status(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *Handler) flush(w http.ResponseWriter, r *http.Request) {
	report, err := h.sync.Flush(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) pull(w http.ResponseWriter, r *http.Request) {
	pulled, err := h.sync.Pull(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"pulled": pulled})
}

type oneClickRequest struct {
	Type       string `json:"type"`
	Department string `json:"department"`
}

func (h *Handler) oneClickAudit(w http.ResponseWriter, r *http.Request) {
	var req oneClickRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, domain.ErrValidation("decode one-click request: %v", err))
		return
	}

	rec, err := h.sync.OneClickAudit(r.Context(), req.Type, req.Department)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

type mutationRequest struct {
	Kind      domain.EntityKind `json:"kind"`
	Operation domain.Operation  `json:"operation"`
	TargetID  string            `json:"targetId"`
	Payload   json.RawMessage   `json:"payload,omitempty"`
}

func (h *Handler) enqueueMutation(w http.ResponseWriter, r *http.Request) {
	var req mutationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, domain.ErrValidation("decode mutation: %v", err))
		return
	}

	rec, err := h.sync.Enqueue(r.Context(), domain.MutationIntent{
		Kind:      req.Kind,
		Operation: req.Operation,
		TargetID:  req.TargetID,
		Payload:   req.Payload,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	// Accepted, not created: the remote authority has not seen it yet.
	writeJSON(w, http.StatusAccepted, rec)
}

func (h *Handler) listMutations(w http.ResponseWriter, r *http.Request) {
	status := domain.MutationStatus(r.URL.Query().Get("status"))
	if status == "" {
		status = domain.StatusPending
	}

	muts, err := h.sync.Mutations(r.Context(), status, 0)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"data": muts})
}

func (h *Handler) getRecord(w http.ResponseWriter, r *http.Request) {
	kind := domain.EntityKind(chi.URLParam(r, "kind"))
	rec, err := h.sync.Record(r.Context(), kind, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

type queryRequest struct {
	SQL string `json:"sql"`
}

func (h *Handler) query(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, domain.ErrValidation("decode query: %v", err))
		return
	}

	result, err := h.analytics.Query(r.Context(), req.SQL)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"columns":  result.Columns,
		"rows":     result.Rows,
		"rowCount": len(result.Rows),
	})
}

func (h *Handler) warmAnalytics(w http.ResponseWriter, r *http.Request) {
	if err := h.analytics.Warm(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "warmed"})
}

func (h *Handler) remoteAnalytics(w http.ResponseWriter, r *http.Request) {
	data, err := h.analytics.RemoteSummary(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"data": data})
}
