package http

import (
	"crypto/subtle"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chi_middleware "github.com/go-chi/chi/v5/middleware"

	"github.com/whatsgate/golang_services/internal/messaging_service/app"
	"github.com/whatsgate/golang_services/internal/messaging_service/domain"
	"github.com/whatsgate/golang_services/internal/messaging_service/provider"
	"github.com/whatsgate/golang_services/internal/platform/signature"
	tdomain "github.com/whatsgate/golang_services/internal/tenant_directory/domain"
)

const MaxRequestBodySize = 1 << 20 // 1 MB

type AdapterLookup interface {
	Get(p tdomain.Provider) (provider.Adapter, error)
}

type SignatureVerifier interface {
	Scheme(provider string) (signature.Scheme, bool)
	Verify(provider, instanceID string, rawBody []byte, headerValue string) (bool, error)
}

// WebhookHandler is the acknowledge-fast intake for messaging providers. It
// authenticates the request and hands the raw body to the dispatcher; all
// further work happens off the request path.
type WebhookHandler struct {
	adapters    AdapterLookup
	verifier    SignatureVerifier
	dispatcher  app.InboundDispatcher
	verifyToken string
	logger      *slog.Logger
}

func NewWebhookHandler(adapters AdapterLookup, verifier SignatureVerifier, dispatcher app.InboundDispatcher, verifyToken string, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		adapters:    adapters,
		verifier:    verifier,
		dispatcher:  dispatcher,
		verifyToken: verifyToken,
		logger:      logger.With("component", "messaging_webhook_handler"),
	}
}

func (h *WebhookHandler) RegisterRoutes(r chi.Router) {
	r.Get("/webhooks/{provider}", h.HandleVerification)
	r.Post("/webhooks/{provider}", h.HandleInbound)
	r.Post("/webhooks/{provider}/tenant/{tenant_id}", h.HandleInbound)
}

// HandleInbound answers 200 once the event is queued, 401 on a bad signature,
// 404 for an unknown provider and 503 when the event could not be queued.
func (h *WebhookHandler) HandleInbound(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := chi_middleware.GetReqID(ctx)
	providerName := tdomain.Provider(strings.ToLower(chi.URLParam(r, "provider")))
	tenantID := chi.URLParam(r, "tenant_id")
	logger := h.logger.With("request_id", requestID, "provider", providerName)

	adapter, err := h.adapters.Get(providerName)
	if err != nil {
		logger.WarnContext(ctx, "Webhook for unknown provider")
		http.Error(w, "Unknown provider", http.StatusNotFound)
		return
	}
	scheme, ok := h.verifier.Scheme(string(providerName))
	if !ok {
		logger.ErrorContext(ctx, "No signature scheme configured for provider")
		http.Error(w, "Unknown provider", http.StatusNotFound)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			http.Error(w, "Request body too large", http.StatusRequestEntityTooLarge)
		} else {
			logger.ErrorContext(ctx, "Failed to read webhook request body", "error", err)
			http.Error(w, "Error reading request body", http.StatusBadRequest)
		}
		return
	}

	// Unroutable payloads are still verified against the provider default
	// secret so that unsigned junk gets a 401.
	instanceID, extractErr := adapter.ExtractInstanceID(body)
	valid, err := h.verifier.Verify(string(providerName), instanceID, body, r.Header.Get(scheme.Header))
	if err != nil || !valid {
		logger.WarnContext(ctx, "Webhook signature verification failed",
			"instance_id", instanceID, "signature_present", r.Header.Get(scheme.Header) != "")
		http.Error(w, "Invalid signature", http.StatusUnauthorized)
		return
	}
	if extractErr != nil {
		logger.WarnContext(ctx, "Signed webhook without routable instance", "error", extractErr)
		http.Error(w, "Malformed payload", http.StatusBadRequest)
		return
	}

	env := &domain.InboundEnvelope{
		Provider:   providerName,
		InstanceID: instanceID,
		TenantID:   tenantID,
		Body:       body,
		ReceivedAt: time.Now().UTC(),
		RequestID:  requestID,
	}
	if err := h.dispatcher.Dispatch(ctx, env); err != nil {
		logger.ErrorContext(ctx, "Failed to dispatch inbound webhook", "instance_id", instanceID, "error", err)
		http.Error(w, "Temporarily unavailable", http.StatusServiceUnavailable)
		return
	}

	logger.DebugContext(ctx, "Inbound webhook accepted", "instance_id", instanceID, "tenant_id", tenantID, "payload_size", len(body))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("EVENT_RECEIVED")); err != nil {
		logger.WarnContext(ctx, "Failed to write webhook response", "error", err)
	}
}

// HandleVerification echoes hub.challenge when hub.verify_token matches.
func (h *WebhookHandler) HandleVerification(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	providerName := tdomain.Provider(strings.ToLower(chi.URLParam(r, "provider")))
	if _, err := h.adapters.Get(providerName); err != nil {
		http.Error(w, "Unknown provider", http.StatusNotFound)
		return
	}

	q := r.URL.Query()
	mode, token, challenge := q.Get("hub.mode"), q.Get("hub.verify_token"), q.Get("hub.challenge")
	if mode != "subscribe" || h.verifyToken == "" ||
		subtle.ConstantTimeCompare([]byte(token), []byte(h.verifyToken)) != 1 {
		h.logger.WarnContext(ctx, "Webhook verification rejected", "provider", providerName, "mode", mode)
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(challenge))
}
