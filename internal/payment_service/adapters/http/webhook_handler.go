package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	chi_middleware "github.com/go-chi/chi/v5/middleware"

	"github.com/whatsgate/golang_services/internal/payment_service/app"
	"github.com/whatsgate/golang_services/internal/payment_service/domain"
	"github.com/whatsgate/golang_services/internal/platform/signature"
)

const MaxRequestBodySize = 1 << 20 // 1 MB

// PaymentWebhookProcessor is the part of app.Processor the handler needs.
type PaymentWebhookProcessor interface {
	Process(ctx context.Context, provider string, rawBody []byte, signatureHeader string) (app.Result, error)
}

type SchemeLookup interface {
	Scheme(provider string) (signature.Scheme, bool)
}

type WebhookHandler struct {
	processor PaymentWebhookProcessor
	schemes   SchemeLookup
	logger    *slog.Logger
}

func NewWebhookHandler(processor PaymentWebhookProcessor, schemes SchemeLookup, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		processor: processor,
		schemes:   schemes,
		logger:    logger.With("component", "payment_webhook_handler"),
	}
}

func (h *WebhookHandler) RegisterRoutes(r chi.Router) {
	r.Post("/webhooks/payments/{provider}", h.HandlePaymentWebhook)
}

type webhookResponse struct {
	Status  string `json:"status"`
	OrderID string `json:"order_id,omitempty"`
}

// HandlePaymentWebhook acknowledges only after the ledger-guarded mutation
// has finished. 5xx responses ask the provider to redeliver.
func (h *WebhookHandler) HandlePaymentWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	provider := chi.URLParam(r, "provider")
	logger := h.logger.With("request_id", chi_middleware.GetReqID(ctx), "provider", provider)

	scheme, ok := h.schemes.Scheme(provider)
	if !ok {
		http.Error(w, "Unknown payment provider", http.StatusNotFound)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)
	rawPayload, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			http.Error(w, "Request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		logger.ErrorContext(ctx, "Failed to read payment webhook body", "error", err)
		http.Error(w, "Error reading request body", http.StatusBadRequest)
		return
	}

	res, err := h.processor.Process(ctx, provider, rawPayload, r.Header.Get(scheme.Header))
	if err != nil {
		code, msg := errorResponse(err)
		if code >= http.StatusInternalServerError {
			logger.ErrorContext(ctx, "Payment webhook processing failed", "error", err)
		}
		http.Error(w, msg, code)
		return
	}

	if res.Outcome == app.OutcomeRetryDeferred {
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(res.RetryAfter.Seconds()))))
		http.Error(w, "Previous attempt failed, retry later", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(webhookResponse{Status: string(res.Outcome), OrderID: res.OrderID}); err != nil {
		logger.WarnContext(ctx, "Failed to write payment webhook response", "error", err)
	}
}

func errorResponse(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrUnknownProvider):
		return http.StatusNotFound, "Unknown payment provider"
	case errors.Is(err, domain.ErrInvalidSignature):
		return http.StatusUnauthorized, "Webhook signature verification failed"
	case errors.Is(err, domain.ErrMalformedPayload):
		return http.StatusBadRequest, "Malformed payment payload"
	case errors.Is(err, domain.ErrOrderNotFound):
		return http.StatusServiceUnavailable, "Order not available yet"
	default:
		return http.StatusInternalServerError, "Internal server error processing webhook"
	}
}
