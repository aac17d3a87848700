package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/whatsgate/golang_services/internal/messaging_service/domain"
	tdomain "github.com/whatsgate/golang_services/internal/tenant_directory/domain"
)

// LegacyAdapter talks to the in-house gateway that predates the Cloud API
// integration.
type LegacyAdapter struct {
	logger     *slog.Logger
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewLegacyAdapter(logger *slog.Logger, baseURL, apiKey string, httpClient *http.Client) *LegacyAdapter {
	return &LegacyAdapter{
		logger:     logger.With("provider", string(tdomain.ProviderLegacy)),
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: defaultClient(httpClient),
	}
}

func (a *LegacyAdapter) Name() tdomain.Provider { return tdomain.ProviderLegacy }

type LegacySendRequest struct {
	InstanceID string `json:"instance_id"`
	To         string `json:"to"`
	Type       string `json:"type"`
	Text       string `json:"text,omitempty"`
	MediaURL   string `json:"media_url,omitempty"`
	Caption    string `json:"caption,omitempty"`
	Filename   string `json:"filename,omitempty"`
}

func (a *LegacyAdapter) headers() map[string]string {
	return map[string]string{"X-Api-Key": a.apiKey}
}

func (a *LegacyAdapter) Send(ctx context.Context, instanceID, to string, content domain.Content) (string, error) {
	if err := content.Validate(); err != nil {
		return "", &domain.SendError{Kind: domain.SendPermanent, Provider: a.Name(), Detail: err.Error()}
	}
	reqBody := LegacySendRequest{
		InstanceID: instanceID,
		To:         to,
		Type:       string(content.Kind),
		Text:       content.Text,
		MediaURL:   content.MediaURL,
		Caption:    content.Caption,
		Filename:   content.Filename,
	}
	var resp struct {
		MessageID string `json:"message_id"`
		Status    string `json:"status"`
	}
	if err := doJSON(ctx, a.httpClient, a.logger, a.Name(), http.MethodPost, a.baseURL+"/messages", a.headers(), reqBody, &resp); err != nil {
		return "", sendFailure(a.Name(), err)
	}
	if resp.MessageID == "" {
		return "", sendFailure(a.Name(), &domain.SendError{Kind: domain.SendPermanent, Provider: a.Name(), StatusCode: http.StatusOK, Detail: "response carries no message_id"})
	}
	return resp.MessageID, nil
}

type LegacyWebhook struct {
	EventID    string `json:"event_id"`
	InstanceID string `json:"instance_id"`
	Event      string `json:"event"`
	From       string `json:"from"`
	To         string `json:"to"`
	Name       string `json:"name"`
	Type       string `json:"type"`
	Text       string `json:"text"`
	MediaURL   string `json:"media_url"`
	Caption    string `json:"caption"`
	Filename   string `json:"filename"`
	Timestamp  int64  `json:"timestamp"`
}

func (a *LegacyAdapter) decode(raw []byte) (*LegacyWebhook, error) {
	var wh LegacyWebhook
	if err := json.Unmarshal(raw, &wh); err != nil {
		return nil, domain.NewParseError(a.Name(), "invalid json: %v", err)
	}
	if wh.InstanceID == "" {
		return nil, domain.NewParseError(a.Name(), "missing instance_id")
	}
	return &wh, nil
}

func (a *LegacyAdapter) ExtractInstanceID(raw []byte) (string, error) {
	wh, err := a.decode(raw)
	if err != nil {
		return "", err
	}
	return wh.InstanceID, nil
}

func (a *LegacyAdapter) ParseInbound(raw []byte) (*domain.InboundMessage, error) {
	wh, err := a.decode(raw)
	if err != nil {
		return nil, err
	}
	if wh.Event != "" && wh.Event != "message" {
		return nil, domain.ErrNoMessage
	}
	if wh.EventID == "" || wh.From == "" {
		return nil, domain.NewParseError(a.Name(), "message without event_id or from")
	}

	msg := &domain.InboundMessage{
		Provider:        a.Name(),
		InstanceID:      wh.InstanceID,
		From:            wh.From,
		To:              wh.To,
		SenderName:      wh.Name,
		ProviderEventID: wh.EventID,
		OccurredAt:      time.Now().UTC(),
	}
	if wh.Timestamp > 0 {
		msg.OccurredAt = time.Unix(wh.Timestamp, 0).UTC()
	}
	switch wh.Type {
	case "", "text":
		msg.Content = domain.TextContent(wh.Text)
	case "image":
		msg.Content = domain.ImageContent(wh.MediaURL, wh.Caption)
	case "document":
		msg.Content = domain.DocumentContent(wh.MediaURL, wh.Filename, wh.Caption)
	default:
		return nil, domain.NewParseError(a.Name(), "unsupported type %q", wh.Type)
	}
	return msg, nil
}

func (a *LegacyAdapter) InstanceStatus(ctx context.Context, instanceID string) (tdomain.ConnectionStatus, error) {
	var resp struct {
		Status string `json:"status"`
	}
	u := fmt.Sprintf("%s/instances/%s/status", a.baseURL, url.PathEscape(instanceID))
	if err := doJSON(ctx, a.httpClient, a.logger, a.Name(), http.MethodGet, u, a.headers(), nil, &resp); err != nil {
		if domain.IsTransient(err) {
			return "", err
		}
		return tdomain.StatusError, nil
	}
	s := tdomain.ConnectionStatus(resp.Status)
	if !s.Valid() {
		return tdomain.StatusError, nil
	}
	return s, nil
}
