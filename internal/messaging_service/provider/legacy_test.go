package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whatsgate/golang_services/internal/messaging_service/domain"
	tdomain "github.com/whatsgate/golang_services/internal/tenant_directory/domain"
)

func TestLegacyAdapter_Send(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/messages", r.URL.Path)
		assert.Equal(t, "legacy-key", r.Header.Get("X-Api-Key"))
		var body LegacySendRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "inst-9", body.InstanceID)
		assert.Equal(t, "text", body.Type)
		assert.Equal(t, "Salut", body.Text)
		_, _ = w.Write([]byte(`{"message_id":"lg-1","status":"queued"}`))
	}))
	defer server.Close()

	a := NewLegacyAdapter(discardLogger(), server.URL, "legacy-key", server.Client())
	id, err := a.Send(context.Background(), "inst-9", "+221771112233", domain.TextContent("Salut"))
	require.NoError(t, err)
	assert.Equal(t, "lg-1", id)
}

func TestLegacyAdapter_Send_MissingID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"queued"}`))
	}))
	defer server.Close()

	a := NewLegacyAdapter(discardLogger(), server.URL, "k", server.Client())
	_, err := a.Send(context.Background(), "inst-9", "221771112233", domain.TextContent("x"))
	var se *domain.SendError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, domain.SendPermanent, se.Kind)
}

func TestLegacyAdapter_ParseInbound(t *testing.T) {
	a := NewLegacyAdapter(discardLogger(), "http://unused", "k", nil)
	raw := []byte(`{"event_id":"ev-1","instance_id":"inst-9","from":"221771112233","to":"221770000003","type":"document","media_url":"https://x/f.pdf","filename":"f.pdf","timestamp":1700000400}`)

	id, err := a.ExtractInstanceID(raw)
	require.NoError(t, err)
	assert.Equal(t, "inst-9", id)

	msg, err := a.ParseInbound(raw)
	require.NoError(t, err)
	assert.Equal(t, tdomain.ProviderLegacy, msg.Provider)
	assert.Equal(t, "ev-1", msg.ProviderEventID)
	assert.Equal(t, domain.DocumentContent("https://x/f.pdf", "f.pdf", ""), msg.Content)

	_, err = a.ParseInbound([]byte(`{"instance_id":"inst-9","event":"delivery"}`))
	assert.ErrorIs(t, err, domain.ErrNoMessage)

	_, err = a.ParseInbound([]byte(`{"event_id":"ev-2","from":"1"}`))
	var pe *domain.ParseError
	assert.True(t, errors.As(err, &pe))
}

func TestLegacyAdapter_InstanceStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/instances/inst-9/status", r.URL.Path)
		_, _ = w.Write([]byte(`{"status":"disconnected"}`))
	}))
	defer server.Close()

	a := NewLegacyAdapter(discardLogger(), server.URL, "k", server.Client())
	s, err := a.InstanceStatus(context.Background(), "inst-9")
	require.NoError(t, err)
	assert.Equal(t, tdomain.StatusDisconnected, s)
}

func TestRegistry(t *testing.T) {
	meta := NewMetaAdapter(discardLogger(), "http://m", "t", nil)
	green := NewGreenAPIAdapter(discardLogger(), "http://g", "t", nil, nil)
	r := NewRegistry(meta, green)

	a, err := r.Get(tdomain.ProviderMeta)
	require.NoError(t, err)
	assert.Same(t, meta, a)

	_, err = r.Get(tdomain.ProviderLegacy)
	assert.ErrorIs(t, err, domain.ErrUnknownProvider)

	assert.Equal(t, []tdomain.Provider{tdomain.ProviderGreenAPI, tdomain.ProviderMeta}, r.Names())
}
