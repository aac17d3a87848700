package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/whatsgate/golang_services/internal/messaging_service/domain"
	tdomain "github.com/whatsgate/golang_services/internal/tenant_directory/domain"
)

// Adapter is the uniform capability set every messaging provider exposes.
type Adapter interface {
	Name() tdomain.Provider
	// Send delivers content and returns the provider message id. Failures
	// are *domain.SendError.
	Send(ctx context.Context, instanceID, to string, content domain.Content) (string, error)
	// ExtractInstanceID reads the provider instance id from a raw webhook
	// without fully parsing it.
	ExtractInstanceID(raw []byte) (string, error)
	// ParseInbound normalizes a raw webhook. It returns *domain.ParseError
	// for unrecognised shapes and domain.ErrNoMessage for events that carry
	// no customer message.
	ParseInbound(raw []byte) (*domain.InboundMessage, error)
	InstanceStatus(ctx context.Context, instanceID string) (tdomain.ConnectionStatus, error)
}

// StatusEventParser is implemented by providers that push connection state
// changes through the message webhook.
type StatusEventParser interface {
	ParseStatusEvent(raw []byte) (*domain.StatusChange, bool)
}

const defaultHTTPTimeout = 10 * time.Second

func defaultClient(c *http.Client) *http.Client {
	if c != nil {
		return c
	}
	return &http.Client{Timeout: defaultHTTPTimeout}
}

// classifyStatus maps a non-2xx provider response to a SendError.
func classifyStatus(provider tdomain.Provider, status int, body []byte) *domain.SendError {
	kind := domain.SendPermanent
	if status == http.StatusRequestTimeout || status == http.StatusTooManyRequests || status >= 500 {
		kind = domain.SendTransient
	}
	detail := string(body)
	if len(detail) > 512 {
		detail = detail[:512]
	}
	return &domain.SendError{Kind: kind, Provider: provider, StatusCode: status, Detail: detail}
}

// doJSON performs a JSON request and decodes a 2xx response into out.
// Transport failures are transient, status failures go through classifyStatus.
func doJSON(ctx context.Context, client *http.Client, logger *slog.Logger, provider tdomain.Provider,
	method, url string, headers map[string]string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return &domain.SendError{Kind: domain.SendPermanent, Provider: provider, Detail: fmt.Sprintf("marshal request: %v", err)}
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return &domain.SendError{Kind: domain.SendPermanent, Provider: provider, Detail: fmt.Sprintf("build request: %v", err)}
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := client.Do(req)
	providerRequestDuration.WithLabelValues(string(provider)).Observe(time.Since(start).Seconds())
	if err != nil {
		logger.WarnContext(ctx, "Provider request failed", "url", redact(url), "error", err)
		return &domain.SendError{Kind: domain.SendTransient, Provider: provider, Detail: err.Error()}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &domain.SendError{Kind: domain.SendTransient, Provider: provider, StatusCode: resp.StatusCode, Detail: fmt.Sprintf("read response: %v", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		se := classifyStatus(provider, resp.StatusCode, respBody)
		logger.WarnContext(ctx, "Provider returned error status", "status_code", resp.StatusCode, "kind", se.Kind)
		return se
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return &domain.SendError{Kind: domain.SendPermanent, Provider: provider, StatusCode: resp.StatusCode, Detail: fmt.Sprintf("decode response: %v", err)}
		}
	}
	return nil
}

// redact drops the path, which carries API tokens for some providers.
func redact(url string) string {
	for i := len("https://"); i < len(url); i++ {
		if url[i] == '/' {
			return url[:i] + "/..."
		}
	}
	return url
}

func sendFailure(provider tdomain.Provider, err error) error {
	var se *domain.SendError
	if errors.As(err, &se) {
		providerSendErrors.WithLabelValues(string(provider), string(se.Kind)).Inc()
	}
	return err
}
