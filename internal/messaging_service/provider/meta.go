package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/whatsgate/golang_services/internal/messaging_service/domain"
	tdomain "github.com/whatsgate/golang_services/internal/tenant_directory/domain"
)

// MetaAdapter talks to the WhatsApp Cloud API. The provider instance id is
// the phone_number_id.
type MetaAdapter struct {
	logger      *slog.Logger
	baseURL     string
	accessToken string
	httpClient  *http.Client
}

func NewMetaAdapter(logger *slog.Logger, baseURL, accessToken string, httpClient *http.Client) *MetaAdapter {
	return &MetaAdapter{
		logger:      logger.With("provider", string(tdomain.ProviderMeta)),
		baseURL:     strings.TrimRight(baseURL, "/"),
		accessToken: accessToken,
		httpClient:  defaultClient(httpClient),
	}
}

func (a *MetaAdapter) Name() tdomain.Provider { return tdomain.ProviderMeta }

type MetaSendRequest struct {
	MessagingProduct string        `json:"messaging_product"`
	RecipientType    string        `json:"recipient_type,omitempty"`
	To               string        `json:"to"`
	Type             string        `json:"type"`
	Text             *MetaText     `json:"text,omitempty"`
	Image            *MetaMedia    `json:"image,omitempty"`
	Document         *MetaDocument `json:"document,omitempty"`
}

type MetaText struct {
	Body string `json:"body"`
}

type MetaMedia struct {
	ID      string `json:"id,omitempty"`
	Link    string `json:"link,omitempty"`
	Caption string `json:"caption,omitempty"`
}

type MetaDocument struct {
	ID       string `json:"id,omitempty"`
	Link     string `json:"link,omitempty"`
	Caption  string `json:"caption,omitempty"`
	Filename string `json:"filename,omitempty"`
}

type MetaSendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

func (a *MetaAdapter) Send(ctx context.Context, instanceID, to string, content domain.Content) (string, error) {
	if err := content.Validate(); err != nil {
		return "", &domain.SendError{Kind: domain.SendPermanent, Provider: a.Name(), Detail: err.Error()}
	}
	reqBody := MetaSendRequest{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               strings.TrimPrefix(to, "+"),
		Type:             string(content.Kind),
	}
	switch content.Kind {
	case domain.ContentText:
		reqBody.Text = &MetaText{Body: content.Text}
	case domain.ContentImage:
		reqBody.Image = &MetaMedia{Link: content.MediaURL, Caption: content.Caption}
	case domain.ContentDocument:
		reqBody.Document = &MetaDocument{Link: content.MediaURL, Filename: content.Filename, Caption: content.Caption}
	}

	var resp MetaSendResponse
	url := fmt.Sprintf("%s/%s/messages", a.baseURL, instanceID)
	headers := map[string]string{"Authorization": "Bearer " + a.accessToken}
	if err := doJSON(ctx, a.httpClient, a.logger, a.Name(), http.MethodPost, url, headers, reqBody, &resp); err != nil {
		return "", sendFailure(a.Name(), err)
	}
	if len(resp.Messages) == 0 || resp.Messages[0].ID == "" {
		return "", sendFailure(a.Name(), &domain.SendError{Kind: domain.SendPermanent, Provider: a.Name(), StatusCode: http.StatusOK, Detail: "response carries no message id"})
	}
	a.logger.DebugContext(ctx, "Message sent", "instance_id", instanceID, "message_id", resp.Messages[0].ID)
	return resp.Messages[0].ID, nil
}

// MetaWebhook is the subset of the Cloud API notification payload we read.
type MetaWebhook struct {
	Object string `json:"object"`
	Entry  []struct {
		ID      string `json:"id"`
		Changes []struct {
			Field string `json:"field"`
			Value struct {
				MessagingProduct string `json:"messaging_product"`
				Metadata         struct {
					DisplayPhoneNumber string `json:"display_phone_number"`
					PhoneNumberID      string `json:"phone_number_id"`
				} `json:"metadata"`
				Contacts []struct {
					WaID    string `json:"wa_id"`
					Profile struct {
						Name string `json:"name"`
					} `json:"profile"`
				} `json:"contacts"`
				Messages []MetaInboundMessage `json:"messages"`
				Statuses []json.RawMessage    `json:"statuses"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type MetaInboundMessage struct {
	From      string `json:"from"`
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Text      *struct {
		Body string `json:"body"`
	} `json:"text"`
	Image    *MetaInboundMedia `json:"image"`
	Document *MetaInboundMedia `json:"document"`
}

type MetaInboundMedia struct {
	ID       string `json:"id"`
	Link     string `json:"link"`
	MimeType string `json:"mime_type"`
	Caption  string `json:"caption"`
	Filename string `json:"filename"`
}

func (a *MetaAdapter) decode(raw []byte) (*MetaWebhook, error) {
	var wh MetaWebhook
	if err := json.Unmarshal(raw, &wh); err != nil {
		return nil, domain.NewParseError(a.Name(), "invalid json: %v", err)
	}
	if len(wh.Entry) == 0 || len(wh.Entry[0].Changes) == 0 {
		return nil, domain.NewParseError(a.Name(), "no entry changes")
	}
	return &wh, nil
}

func (a *MetaAdapter) ExtractInstanceID(raw []byte) (string, error) {
	wh, err := a.decode(raw)
	if err != nil {
		return "", err
	}
	id := wh.Entry[0].Changes[0].Value.Metadata.PhoneNumberID
	if id == "" {
		return "", domain.NewParseError(a.Name(), "missing metadata.phone_number_id")
	}
	return id, nil
}

// ParseInbound returns the first customer message of the notification. Cloud
// API batches rarely carry more than one.
func (a *MetaAdapter) ParseInbound(raw []byte) (*domain.InboundMessage, error) {
	wh, err := a.decode(raw)
	if err != nil {
		return nil, err
	}
	value := wh.Entry[0].Changes[0].Value
	if value.Metadata.PhoneNumberID == "" {
		return nil, domain.NewParseError(a.Name(), "missing metadata.phone_number_id")
	}
	if len(value.Messages) == 0 {
		return nil, domain.ErrNoMessage
	}
	m := value.Messages[0]
	if m.ID == "" || m.From == "" {
		return nil, domain.NewParseError(a.Name(), "message without id or sender")
	}

	msg := &domain.InboundMessage{
		Provider:        a.Name(),
		InstanceID:      value.Metadata.PhoneNumberID,
		From:            m.From,
		To:              value.Metadata.DisplayPhoneNumber,
		ProviderEventID: m.ID,
		OccurredAt:      parseUnix(m.Timestamp),
	}
	if len(value.Contacts) > 0 {
		msg.SenderName = value.Contacts[0].Profile.Name
	}

	switch m.Type {
	case "text":
		if m.Text == nil {
			return nil, domain.NewParseError(a.Name(), "text message without body")
		}
		msg.Content = domain.TextContent(m.Text.Body)
	case "image":
		if m.Image == nil {
			return nil, domain.NewParseError(a.Name(), "image message without media")
		}
		msg.Content = domain.ImageContent(mediaRef(m.Image), m.Image.Caption)
		msg.Content.MimeType = m.Image.MimeType
	case "document":
		if m.Document == nil {
			return nil, domain.NewParseError(a.Name(), "document message without media")
		}
		msg.Content = domain.DocumentContent(mediaRef(m.Document), m.Document.Filename, m.Document.Caption)
		msg.Content.MimeType = m.Document.MimeType
	default:
		return nil, domain.ErrNoMessage
	}
	return msg, nil
}

func (a *MetaAdapter) InstanceStatus(ctx context.Context, instanceID string) (tdomain.ConnectionStatus, error) {
	var resp struct {
		ID            string `json:"id"`
		QualityRating string `json:"quality_rating"`
		PlatformType  string `json:"platform_type"`
	}
	url := fmt.Sprintf("%s/%s?fields=id,quality_rating,platform_type", a.baseURL, instanceID)
	headers := map[string]string{"Authorization": "Bearer " + a.accessToken}
	if err := doJSON(ctx, a.httpClient, a.logger, a.Name(), http.MethodGet, url, headers, nil, &resp); err != nil {
		if domain.IsTransient(err) {
			return "", err
		}
		return tdomain.StatusError, nil
	}
	if resp.PlatformType == "NOT_APPLICABLE" {
		return tdomain.StatusDisconnected, nil
	}
	return tdomain.StatusConnected, nil
}

func mediaRef(m *MetaInboundMedia) string {
	if m.Link != "" {
		return m.Link
	}
	return m.ID
}

func parseUnix(s string) time.Time {
	sec, err := strconv.ParseInt(s, 10, 64)
	if err != nil || sec <= 0 {
		return time.Now().UTC()
	}
	return time.Unix(sec, 0).UTC()
}
