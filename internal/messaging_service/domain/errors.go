package domain

import (
	"errors"
	"fmt"

	tdomain "github.com/whatsgate/golang_services/internal/tenant_directory/domain"
)

var (
	ErrUnknownProvider = errors.New("unknown provider")
	// ErrNoMessage marks well-formed webhooks that carry no customer message
	// (delivery receipts, read markers, outgoing echoes).
	ErrNoMessage = errors.New("webhook carries no inbound message")
)

type SendErrorKind string

const (
	SendTransient SendErrorKind = "transient"
	SendPermanent SendErrorKind = "permanent"
)

// SendError is returned by adapters when a send does not reach the provider
// or is rejected by it.
type SendError struct {
	Kind       SendErrorKind
	Provider   tdomain.Provider
	StatusCode int
	Detail     string
}

func (e *SendError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s send failed (%s, status %d): %s", e.Provider, e.Kind, e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("%s send failed (%s): %s", e.Provider, e.Kind, e.Detail)
}

// IsTransient reports whether err is a SendError worth retrying elsewhere.
func IsTransient(err error) bool {
	var se *SendError
	return errors.As(err, &se) && se.Kind == SendTransient
}

// ParseError is returned when a webhook payload does not have a recognised
// shape.
type ParseError struct {
	Provider tdomain.Provider
	Reason   string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("cannot parse %s webhook: %s", e.Provider, e.Reason)
}

func NewParseError(provider tdomain.Provider, format string, args ...any) *ParseError {
	return &ParseError{Provider: provider, Reason: fmt.Sprintf(format, args...)}
}

var ErrConversationNotFound = errors.New("conversation not found")
