// Package transport provides HTTP handlers for the verification domain.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pendergraft/contraverify/internal/verification/domain"
)

// Service defines the verification service interface for HTTP transport.
type Service interface {
	Verify(ctx context.Context, req domain.Request) (*domain.Report, error)
}

// Handler handles HTTP requests for verification.
type Handler struct {
	svc     Service
	history domain.History
}

// NewHandler creates a new verification HTTP handler. history may be nil,
// in which case the read routes answer 503.
func NewHandler(svc Service, history domain.History) *Handler {
	return &Handler{svc: svc, history: history}
}

// RegisterReadRoutes registers read-only report routes (no auth required).
func (h *Handler) RegisterReadRoutes(r chi.Router) {
	r.Get("/", h.handleList)
	r.Get("/{id}", h.handleGet)
}

// RegisterWriteRoutes registers the routes that start a verification (auth required).
func (h *Handler) RegisterWriteRoutes(r chi.Router) {
	r.Post("/", h.handleVerify)
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Failed to read request body")
		return
	}

	var req VerifyRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON")
		return
	}

	report, err := h.svc.Verify(r.Context(), req.ToDomain())
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, report)
		return
	case errors.Is(err, domain.ErrInvalidAddress), errors.Is(err, domain.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	case errors.Is(err, domain.ErrNoBackendsForChain):
		writeError(w, http.StatusBadRequest, "CHAIN_NOT_SUPPORTED", err.Error())
		return
	case errors.Is(err, domain.ErrChainContext):
		writeError(w, http.StatusBadGateway, "CHAIN_UNAVAILABLE", err.Error())
		return
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "TIMEOUT", "Verification did not finish in time")
		return
	}

	if report == nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to verify contract")
		return
	}
	// the run finished but did not verify everything
	writeJSON(w, http.StatusUnprocessableEntity, report)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeError(w, http.StatusServiceUnavailable, "STORAGE_DISABLED", "Report storage is not configured")
		return
	}

	limit := 20
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 100 {
			limit = parsed
		}
	}

	var success *bool
	if v := r.URL.Query().Get("success"); v != "" {
		b := v == "true"
		success = &b
	}

	page, err := h.history.List(r.Context(), domain.HistoryFilter{
		ChainID: r.URL.Query().Get("chain_id"),
		Address: r.URL.Query().Get("address"),
		Success: success,
	}, limit, r.URL.Query().Get("cursor"))
	if err != nil {
		if errors.Is(err, domain.ErrInvalidRequest) {
			writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid cursor")
			return
		}
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list reports")
		return
	}

	data := make([]ReportSummary, len(page.Reports))
	for i, rep := range page.Reports {
		data[i] = summarize(&rep)
	}

	writeJSON(w, http.StatusOK, ReportListResponse{
		Data: data,
		Pagination: Pagination{
			Limit:      limit,
			HasMore:    page.HasMore,
			NextCursor: page.NextCursor,
		},
	})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeError(w, http.StatusServiceUnavailable, "STORAGE_DISABLED", "Report storage is not configured")
		return
	}

	report, err := h.history.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, domain.ErrReportNotFound) {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Report not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to get report")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func summarize(r *domain.Report) ReportSummary {
	s := ReportSummary{
		ID:         r.ID,
		ChainID:    r.ChainID,
		Success:    r.Success,
		Error:      r.Error,
		StartedAt:  r.StartedAt.UTC().Format(time.RFC3339),
		FinishedAt: r.FinishedAt.UTC().Format(time.RFC3339),
	}
	if p := r.Primary(); p != nil {
		s.Contract = p.Name
		s.Address = p.Address
	}
	return s
}

// Helper functions

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: ErrorDetail{Code: code, Message: message}})
}
