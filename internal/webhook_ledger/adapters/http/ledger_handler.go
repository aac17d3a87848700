package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/whatsgate/golang_services/internal/webhook_ledger/domain"
)

const maxListLimit = 500

type LedgerReader interface {
	Get(ctx context.Context, key string) (*domain.WebhookRecord, error)
	ListFailed(ctx context.Context, limit int) ([]*domain.WebhookRecord, error)
}

// LedgerHandler exposes read-only ledger views for reconciliation.
type LedgerHandler struct {
	ledger LedgerReader
	logger *slog.Logger
}

func NewLedgerHandler(ledger LedgerReader, logger *slog.Logger) *LedgerHandler {
	return &LedgerHandler{ledger: ledger, logger: logger.With("component", "ledger_handler")}
}

func (h *LedgerHandler) RegisterRoutes(r chi.Router) {
	r.Get("/ledger/failed", h.ListFailed)
	r.Get("/ledger/{provider}/{reference}", h.GetRecord)
}

func respondWithJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			slog.Default().Error("Failed to write JSON response", "error", err)
		}
	}
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

func (h *LedgerHandler) ListFailed(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondWithError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxListLimit)
	}

	records, err := h.ledger.ListFailed(ctx, limit)
	if err != nil {
		h.logger.ErrorContext(ctx, "Listing failed ledger records failed", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to list ledger records")
		return
	}
	if records == nil {
		records = []*domain.WebhookRecord{}
	}
	respondWithJSON(w, http.StatusOK, records)
}

func (h *LedgerHandler) GetRecord(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	key := domain.Key(chi.URLParam(r, "provider"), chi.URLParam(r, "reference"))
	rec, err := h.ledger.Get(ctx, key)
	if errors.Is(err, domain.ErrNotFound) {
		respondWithError(w, http.StatusNotFound, "Ledger record not found")
		return
	}
	if err != nil {
		h.logger.ErrorContext(ctx, "Reading ledger record failed", "key", key, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to read ledger record")
		return
	}
	respondWithJSON(w, http.StatusOK, rec)
}
