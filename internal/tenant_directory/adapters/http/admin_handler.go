package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/whatsgate/golang_services/internal/tenant_directory/domain"
)

// ChannelAdmin is the part of the tenant directory the admin API drives.
type ChannelAdmin interface {
	Register(ctx context.Context, ch *domain.TenantChannel) (*domain.TenantChannel, error)
	Invalidate(ctx context.Context, tenantID string) error
	UpdateStatus(ctx context.Context, channelID uuid.UUID, status domain.ConnectionStatus) (*domain.TenantChannel, error)
	ListTenantChannels(ctx context.Context, tenantID string) ([]*domain.TenantChannel, error)
}

// AdminHandler serves the /admin channel endpoints. Authentication is applied
// by the router.
type AdminHandler struct {
	directory ChannelAdmin
	validate  *validator.Validate
	logger    *slog.Logger
}

func NewAdminHandler(directory ChannelAdmin, validate *validator.Validate, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{directory: directory, validate: validate, logger: logger.With("component", "channel_admin_handler")}
}

func (h *AdminHandler) RegisterRoutes(r chi.Router) {
	r.Post("/channels", h.RegisterChannel)
	r.Put("/channels/{channel_id}/status", h.UpdateStatus)
	r.Get("/tenants/{tenant_id}/channels", h.ListTenantChannels)
	r.Post("/tenants/{tenant_id}/invalidate", h.InvalidateTenant)
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

func errorStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidChannel), errors.Is(err, domain.ErrInvalidPhone):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (h *AdminHandler) RegisterChannel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	defer r.Body.Close()

	var req RegisterChannelRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request payload: "+err.Error())
		return
	}
	if err := h.validate.StructCtx(ctx, req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Validation failed: "+err.Error())
		return
	}

	ch, err := h.directory.Register(ctx, &domain.TenantChannel{
		TenantID:           req.TenantID,
		PhoneNumber:        req.PhoneNumber,
		Provider:           domain.Provider(req.Provider),
		ProviderInstanceID: req.ProviderInstanceID,
		ConnectionStatus:   domain.ConnectionStatus(req.ConnectionStatus),
		FallbackProvider:   domain.Provider(req.FallbackProvider),
		FallbackInstanceID: req.FallbackInstanceID,
		FallbackEnabled:    req.FallbackEnabled,
	})
	if err != nil {
		code := errorStatus(err)
		if code == http.StatusInternalServerError {
			h.logger.ErrorContext(ctx, "Channel registration failed", "tenant_id", req.TenantID, "error", err)
			respondWithError(w, code, "Failed to register channel")
			return
		}
		respondWithError(w, code, err.Error())
		return
	}
	respondWithJSON(w, http.StatusCreated, ch)
}

func (h *AdminHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	defer r.Body.Close()

	id, err := uuid.Parse(chi.URLParam(r, "channel_id"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid channel id")
		return
	}
	var req UpdateStatusRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request payload: "+err.Error())
		return
	}
	if err := h.validate.StructCtx(ctx, req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Validation failed: "+err.Error())
		return
	}

	ch, err := h.directory.UpdateStatus(ctx, id, domain.ConnectionStatus(req.Status))
	if err != nil {
		code := errorStatus(err)
		if code == http.StatusInternalServerError {
			h.logger.ErrorContext(ctx, "Channel status update failed", "channel_id", id, "error", err)
		}
		respondWithError(w, code, "Failed to update channel status")
		return
	}
	respondWithJSON(w, http.StatusOK, ch)
}

func (h *AdminHandler) ListTenantChannels(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := chi.URLParam(r, "tenant_id")
	channels, err := h.directory.ListTenantChannels(ctx, tenantID)
	if err != nil {
		h.logger.ErrorContext(ctx, "Listing tenant channels failed", "tenant_id", tenantID, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to list channels")
		return
	}
	if channels == nil {
		channels = []*domain.TenantChannel{}
	}
	respondWithJSON(w, http.StatusOK, channels)
}

// InvalidateTenant drops the cached directory entries of a tenant. It only
// fails when the tenant's channels cannot be listed.
func (h *AdminHandler) InvalidateTenant(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := chi.URLParam(r, "tenant_id")
	if err := h.directory.Invalidate(ctx, tenantID); err != nil {
		h.logger.ErrorContext(ctx, "Tenant invalidation failed", "tenant_id", tenantID, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to invalidate tenant")
		return
	}
	respondWithJSON(w, http.StatusOK, InvalidateResponseDTO{TenantID: tenantID, Invalidated: true})
}
