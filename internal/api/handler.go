// Package api exposes the planning pipeline and catalog over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"smartbi/internal/declarative"
	"smartbi/internal/domain"
	"smartbi/internal/service/semantic"
)

// maxRequestBytes caps a plan request body.
const maxRequestBytes = 1 << 20

// HandlerConfig holds the parameters needed to build the API handler.
type HandlerConfig struct {
	Service *semantic.Service
	Version string
	Logger  *slog.Logger
}

type handler struct {
	svc     *semantic.Service
	version string
	logger  *slog.Logger
}

// NewHandler builds the API routes:
//
//	GET  /healthz
//	POST /v1/query/plan
//	GET  /v1/catalog/datasets
//	GET  /v1/catalog/datasets/{name}
//	GET  /v1/catalog/governance
func NewHandler(cfg HandlerConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	h := &handler{svc: cfg.Service, version: cfg.Version, logger: logger}

	r := chi.NewRouter()
	r.Get("/healthz", h.health)
	r.Route("/v1", func(r chi.Router) {
		r.Post("/query/plan", h.plan)
		r.Get("/catalog/datasets", h.listDatasets)
		r.Get("/catalog/datasets/{name}", h.getDataset)
		r.Get("/catalog/governance", h.governance)
	})
	return r
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	cat := h.svc.Catalog()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"version":  h.version,
		"entities": len(cat.Entities()),
		"datasets": len(cat.Datasets()),
	})
}

func (h *handler) plan(w http.ResponseWriter, r *http.Request) {
	var req semantic.Request
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		h.writeError(w, r, domain.ErrValidation("invalid request body: %v", err))
		return
	}
	if dec.More() {
		h.writeError(w, r, domain.ErrValidation("invalid request body: trailing data"))
		return
	}

	res, err := h.svc.Plan(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handler) listDatasets(w http.ResponseWriter, _ *http.Request) {
	datasets := h.svc.Catalog().Datasets()
	out := make([]declarative.DatasetSummary, 0, len(datasets))
	for _, ds := range datasets {
		out = append(out, declarative.SummarizeDataset(ds))
	}
	writeJSON(w, http.StatusOK, map[string]any{"datasets": out})
}

func (h *handler) getDataset(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	ds, ok := h.svc.Catalog().Dataset(name)
	if !ok {
		h.writeError(w, r, domain.ErrNotFound("dataset %q not found", name))
		return
	}
	writeJSON(w, http.StatusOK, declarative.SummarizeDataset(ds))
}

func (h *handler) governance(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Catalog().Governance())
}

func (h *handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := httpStatusFromDomainError(err)
	requestID := domain.RequestIDFromContext(r.Context())
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", "path", r.URL.Path, "request_id", requestID, "error", err)
		var contract *domain.ContractError
		if !errors.As(err, &contract) {
			msg = http.StatusText(status)
		}
	}
	writeJSON(w, status, ErrorResponse{Code: status, Message: msg, RequestID: requestID})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
