package http_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	adapter_http "github.com/whatsgate/golang_services/internal/messaging_service/adapters/http"
	"github.com/whatsgate/golang_services/internal/messaging_service/app"
	"github.com/whatsgate/golang_services/internal/messaging_service/domain"
	"github.com/whatsgate/golang_services/internal/messaging_service/provider"
	"github.com/whatsgate/golang_services/internal/platform/signature"
	tdomain "github.com/whatsgate/golang_services/internal/tenant_directory/domain"
)

const metaBody = `{"object":"whatsapp_business_account","entry":[{"id":"W","changes":[{"field":"messages","value":{"metadata":{"display_phone_number":"221770000001","phone_number_id":"PNID-1"},"messages":[{"from":"221771112233","id":"wamid.1","timestamp":"1700000000","type":"text","text":{"body":"Bonjour"}}]}}]}]}`

type recordingDispatcher struct {
	mu   sync.Mutex
	envs []*domain.InboundEnvelope
	err  error
}

func (d *recordingDispatcher) Dispatch(_ context.Context, env *domain.InboundEnvelope) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.envs = append(d.envs, env)
	return nil
}

func newTestRouter(d app.InboundDispatcher) http.Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	registry := provider.NewRegistry(
		provider.NewMetaAdapter(logger, "http://unused", "t", nil),
		provider.NewGreenAPIAdapter(logger, "http://unused", "t", nil, nil),
	)
	verifier := signature.NewRegistry(
		map[string]string{"meta": "meta-app-secret", "greenapi": "green-default"},
		map[string]string{"greenapi:1101": "green-1101"},
	)
	h := adapter_http.NewWebhookHandler(registry, verifier, d, "verify-me", logger)
	r := chi.NewRouter()
	h.RegisterRoutes(r)
	return r
}

func post(t *testing.T, router http.Handler, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func TestWebhookHandler_HandleInbound_Accepted(t *testing.T) {
	d := &recordingDispatcher{}
	router := newTestRouter(d)

	rr := post(t, router, "/webhooks/meta", metaBody, map[string]string{
		"X-Hub-Signature-256": signature.SignMeta([]byte(metaBody), "meta-app-secret"),
	})
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "EVENT_RECEIVED", rr.Body.String())

	require.Len(t, d.envs, 1)
	assert.Equal(t, tdomain.ProviderMeta, d.envs[0].Provider)
	assert.Equal(t, "PNID-1", d.envs[0].InstanceID)
	assert.Equal(t, "", d.envs[0].TenantID)
	assert.Equal(t, metaBody, string(d.envs[0].Body))
}

func TestWebhookHandler_HandleInbound_TenantScopedRoute(t *testing.T) {
	d := &recordingDispatcher{}
	router := newTestRouter(d)

	rr := post(t, router, "/webhooks/meta/tenant/tenant-x", metaBody, map[string]string{
		"X-Hub-Signature-256": signature.SignMeta([]byte(metaBody), "meta-app-secret"),
	})
	assert.Equal(t, http.StatusOK, rr.Code)
	require.Len(t, d.envs, 1)
	assert.Equal(t, "tenant-x", d.envs[0].TenantID)
}

func TestWebhookHandler_HandleInbound_InstanceSecret(t *testing.T) {
	d := &recordingDispatcher{}
	router := newTestRouter(d)
	body := `{"typeWebhook":"incomingMessageReceived","instanceData":{"idInstance":1101},"idMessage":"M1","senderData":{"chatId":"221771112233@c.us"},"messageData":{"typeMessage":"textMessage","textMessageData":{"textMessage":"hi"}}}`

	// The provider default secret is not accepted for an instance with its own.
	rr := post(t, router, "/webhooks/greenapi", body, map[string]string{
		"X-Greenapi-Signature": signature.SignGreenAPI([]byte(body), "green-default"),
	})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = post(t, router, "/webhooks/greenapi", body, map[string]string{
		"X-Greenapi-Signature": signature.SignGreenAPI([]byte(body), "green-1101"),
	})
	assert.Equal(t, http.StatusOK, rr.Code)
	require.Len(t, d.envs, 1)
	assert.Equal(t, "1101", d.envs[0].InstanceID)
}

func TestWebhookHandler_HandleInbound_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		body    string
		headers map[string]string
		want    int
	}{
		{"missing signature", "/webhooks/meta", metaBody, nil, http.StatusUnauthorized},
		{"wrong secret", "/webhooks/meta", metaBody,
			map[string]string{"X-Hub-Signature-256": signature.SignMeta([]byte(metaBody), "other")}, http.StatusUnauthorized},
		{"body altered after signing", "/webhooks/meta", metaBody + " ",
			map[string]string{"X-Hub-Signature-256": signature.SignMeta([]byte(metaBody), "meta-app-secret")}, http.StatusUnauthorized},
		{"unknown provider", "/webhooks/telegram", `{}`, nil, http.StatusNotFound},
		{"signed but unroutable", "/webhooks/meta", `{"entry":[]}`,
			map[string]string{"X-Hub-Signature-256": signature.SignMeta([]byte(`{"entry":[]}`), "meta-app-secret")}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &recordingDispatcher{}
			rr := post(t, newTestRouter(d), tt.path, tt.body, tt.headers)
			assert.Equal(t, tt.want, rr.Code)
			assert.Empty(t, d.envs)
		})
	}
}

func TestWebhookHandler_HandleInbound_BodyTooLarge(t *testing.T) {
	d := &recordingDispatcher{}
	large := string(make([]byte, adapter_http.MaxRequestBodySize+1))
	rr := post(t, newTestRouter(d), "/webhooks/meta", large, nil)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
}

func TestWebhookHandler_HandleInbound_DispatchFailure(t *testing.T) {
	d := &recordingDispatcher{err: errors.New("queue full")}
	rr := post(t, newTestRouter(d), "/webhooks/meta", metaBody, map[string]string{
		"X-Hub-Signature-256": signature.SignMeta([]byte(metaBody), "meta-app-secret"),
	})
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestWebhookHandler_HandleVerification(t *testing.T) {
	router := newTestRouter(&recordingDispatcher{})

	tests := []struct {
		name  string
		query string
		want  int
		body  string
	}{
		{"valid", "hub.mode=subscribe&hub.verify_token=verify-me&hub.challenge=1158201444", http.StatusOK, "1158201444"},
		{"wrong token", "hub.mode=subscribe&hub.verify_token=nope&hub.challenge=1", http.StatusForbidden, ""},
		{"wrong mode", "hub.mode=unsubscribe&hub.verify_token=verify-me&hub.challenge=1", http.StatusForbidden, ""},
		{"no token", "hub.mode=subscribe&hub.challenge=1", http.StatusForbidden, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/webhooks/meta?"+tt.query, nil)
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)
			assert.Equal(t, tt.want, rr.Code)
			if tt.body != "" {
				assert.Equal(t, tt.body, rr.Body.String())
			}
		})
	}

	req := httptest.NewRequest(http.MethodGet, "/webhooks/unknown?hub.mode=subscribe", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}
