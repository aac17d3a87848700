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

// GreenAPIAdapter talks to GREEN-API. Each instance has its own API token;
// instances missing from the token map use the default token.
type GreenAPIAdapter struct {
	logger       *slog.Logger
	baseURL      string
	defaultToken string
	tokens       map[string]string
	httpClient   *http.Client
}

func NewGreenAPIAdapter(logger *slog.Logger, baseURL, defaultToken string, instanceTokens map[string]string, httpClient *http.Client) *GreenAPIAdapter {
	if instanceTokens == nil {
		instanceTokens = map[string]string{}
	}
	return &GreenAPIAdapter{
		logger:       logger.With("provider", string(tdomain.ProviderGreenAPI)),
		baseURL:      strings.TrimRight(baseURL, "/"),
		defaultToken: defaultToken,
		tokens:       instanceTokens,
		httpClient:   defaultClient(httpClient),
	}
}

func (a *GreenAPIAdapter) Name() tdomain.Provider { return tdomain.ProviderGreenAPI }

func (a *GreenAPIAdapter) token(instanceID string) string {
	if t, ok := a.tokens[instanceID]; ok {
		return t
	}
	return a.defaultToken
}

func (a *GreenAPIAdapter) methodURL(instanceID, method string) string {
	return fmt.Sprintf("%s/waInstance%s/%s/%s", a.baseURL, instanceID, method, a.token(instanceID))
}

// ChatID converts an E.164 number to a GREEN-API personal chat id.
func ChatID(phone string) string {
	return strings.TrimPrefix(phone, "+") + "@c.us"
}

type GreenAPISendMessage struct {
	ChatID  string `json:"chatId"`
	Message string `json:"message"`
}

type GreenAPISendFileByURL struct {
	ChatID   string `json:"chatId"`
	URLFile  string `json:"urlFile"`
	FileName string `json:"fileName"`
	Caption  string `json:"caption,omitempty"`
}

func (a *GreenAPIAdapter) Send(ctx context.Context, instanceID, to string, content domain.Content) (string, error) {
	if err := content.Validate(); err != nil {
		return "", &domain.SendError{Kind: domain.SendPermanent, Provider: a.Name(), Detail: err.Error()}
	}

	var (
		method  string
		payload any
	)
	switch content.Kind {
	case domain.ContentText:
		method = "sendMessage"
		payload = GreenAPISendMessage{ChatID: ChatID(to), Message: content.Text}
	case domain.ContentImage, domain.ContentDocument:
		method = "sendFileByUrl"
		name := content.Filename
		if name == "" {
			name = fileNameFromURL(content.MediaURL)
		}
		payload = GreenAPISendFileByURL{ChatID: ChatID(to), URLFile: content.MediaURL, FileName: name, Caption: content.Caption}
	}

	var resp struct {
		IDMessage string `json:"idMessage"`
	}
	if err := doJSON(ctx, a.httpClient, a.logger, a.Name(), http.MethodPost, a.methodURL(instanceID, method), nil, payload, &resp); err != nil {
		return "", sendFailure(a.Name(), err)
	}
	if resp.IDMessage == "" {
		return "", sendFailure(a.Name(), &domain.SendError{Kind: domain.SendPermanent, Provider: a.Name(), StatusCode: http.StatusOK, Detail: "response carries no idMessage"})
	}
	a.logger.DebugContext(ctx, "Message sent", "instance_id", instanceID, "message_id", resp.IDMessage)
	return resp.IDMessage, nil
}

type GreenAPIWebhook struct {
	TypeWebhook  string `json:"typeWebhook"`
	InstanceData struct {
		IDInstance json.Number `json:"idInstance"`
		WID        string      `json:"wid"`
	} `json:"instanceData"`
	Timestamp     int64  `json:"timestamp"`
	IDMessage     string `json:"idMessage"`
	StateInstance string `json:"stateInstance"`
	SenderData    struct {
		ChatID     string `json:"chatId"`
		Sender     string `json:"sender"`
		SenderName string `json:"senderName"`
	} `json:"senderData"`
	MessageData struct {
		TypeMessage     string `json:"typeMessage"`
		TextMessageData *struct {
			TextMessage string `json:"textMessage"`
		} `json:"textMessageData"`
		ExtendedTextMessageData *struct {
			Text string `json:"text"`
		} `json:"extendedTextMessageData"`
		FileMessageData *struct {
			DownloadURL string `json:"downloadUrl"`
			Caption     string `json:"caption"`
			FileName    string `json:"fileName"`
			MimeType    string `json:"mimeType"`
		} `json:"fileMessageData"`
	} `json:"messageData"`
}

func (a *GreenAPIAdapter) decode(raw []byte) (*GreenAPIWebhook, error) {
	var wh GreenAPIWebhook
	if err := json.Unmarshal(raw, &wh); err != nil {
		return nil, domain.NewParseError(a.Name(), "invalid json: %v", err)
	}
	if wh.TypeWebhook == "" {
		return nil, domain.NewParseError(a.Name(), "missing typeWebhook")
	}
	if wh.InstanceData.IDInstance == "" {
		return nil, domain.NewParseError(a.Name(), "missing instanceData.idInstance")
	}
	return &wh, nil
}

func (a *GreenAPIAdapter) ExtractInstanceID(raw []byte) (string, error) {
	wh, err := a.decode(raw)
	if err != nil {
		return "", err
	}
	return wh.InstanceData.IDInstance.String(), nil
}

func (a *GreenAPIAdapter) ParseInbound(raw []byte) (*domain.InboundMessage, error) {
	wh, err := a.decode(raw)
	if err != nil {
		return nil, err
	}
	if wh.TypeWebhook != "incomingMessageReceived" {
		return nil, domain.ErrNoMessage
	}
	if wh.IDMessage == "" || wh.SenderData.ChatID == "" {
		return nil, domain.NewParseError(a.Name(), "message without idMessage or chatId")
	}
	if strings.HasSuffix(wh.SenderData.ChatID, "@g.us") {
		// group chats are not routed
		return nil, domain.ErrNoMessage
	}

	msg := &domain.InboundMessage{
		Provider:        a.Name(),
		InstanceID:      wh.InstanceData.IDInstance.String(),
		From:            strings.TrimSuffix(wh.SenderData.ChatID, "@c.us"),
		To:              strings.TrimSuffix(wh.InstanceData.WID, "@c.us"),
		SenderName:      wh.SenderData.SenderName,
		ProviderEventID: wh.IDMessage,
		OccurredAt:      time.Now().UTC(),
	}
	if wh.Timestamp > 0 {
		msg.OccurredAt = time.Unix(wh.Timestamp, 0).UTC()
	}

	md := wh.MessageData
	switch md.TypeMessage {
	case "textMessage":
		if md.TextMessageData == nil {
			return nil, domain.NewParseError(a.Name(), "textMessage without textMessageData")
		}
		msg.Content = domain.TextContent(md.TextMessageData.TextMessage)
	case "extendedTextMessage":
		if md.ExtendedTextMessageData == nil {
			return nil, domain.NewParseError(a.Name(), "extendedTextMessage without data")
		}
		msg.Content = domain.TextContent(md.ExtendedTextMessageData.Text)
	case "imageMessage":
		if md.FileMessageData == nil {
			return nil, domain.NewParseError(a.Name(), "imageMessage without fileMessageData")
		}
		msg.Content = domain.ImageContent(md.FileMessageData.DownloadURL, md.FileMessageData.Caption)
		msg.Content.MimeType = md.FileMessageData.MimeType
	case "documentMessage":
		if md.FileMessageData == nil {
			return nil, domain.NewParseError(a.Name(), "documentMessage without fileMessageData")
		}
		f := md.FileMessageData
		msg.Content = domain.DocumentContent(f.DownloadURL, f.FileName, f.Caption)
		msg.Content.MimeType = f.MimeType
	default:
		return nil, domain.ErrNoMessage
	}
	return msg, nil
}

// ParseStatusEvent recognises stateInstanceChanged notifications.
func (a *GreenAPIAdapter) ParseStatusEvent(raw []byte) (*domain.StatusChange, bool) {
	wh, err := a.decode(raw)
	if err != nil || wh.TypeWebhook != "stateInstanceChanged" {
		return nil, false
	}
	return &domain.StatusChange{
		Provider:   a.Name(),
		InstanceID: wh.InstanceData.IDInstance.String(),
		Status:     greenAPIState(wh.StateInstance),
		Raw:        wh.StateInstance,
	}, true
}

func (a *GreenAPIAdapter) InstanceStatus(ctx context.Context, instanceID string) (tdomain.ConnectionStatus, error) {
	var resp struct {
		StateInstance string `json:"stateInstance"`
	}
	if err := doJSON(ctx, a.httpClient, a.logger, a.Name(), http.MethodGet, a.methodURL(instanceID, "getStateInstance"), nil, nil, &resp); err != nil {
		if domain.IsTransient(err) {
			return "", err
		}
		return tdomain.StatusError, nil
	}
	return greenAPIState(resp.StateInstance), nil
}

func greenAPIState(state string) tdomain.ConnectionStatus {
	switch state {
	case "authorized":
		return tdomain.StatusConnected
	case "notAuthorized", "starting", "sleepMode":
		return tdomain.StatusDisconnected
	default:
		return tdomain.StatusError
	}
}

func fileNameFromURL(u string) string {
	if i := strings.LastIndex(u, "/"); i >= 0 && i < len(u)-1 {
		name := u[i+1:]
		if q := strings.IndexAny(name, "?#"); q >= 0 {
			name = name[:q]
		}
		if name != "" {
			return name
		}
	}
	return "file-" + strconv.FormatInt(time.Now().Unix(), 10)
}
