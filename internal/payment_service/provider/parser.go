// Package provider turns payment-provider callbacks into domain.PaymentEvent.
// Parsers only see bytes whose signature has already been checked.
package provider

import (
	"fmt"
	"sort"
	"time"

	"github.com/whatsgate/golang_services/internal/payment_service/domain"
)

type Parser interface {
	Name() string
	Parse(raw []byte) (*domain.PaymentEvent, error)
}

type Registry struct {
	parsers map[string]Parser
}

func NewRegistry(parsers ...Parser) *Registry {
	r := &Registry{parsers: make(map[string]Parser, len(parsers))}
	for _, p := range parsers {
		r.parsers[p.Name()] = p
	}
	return r
}

func (r *Registry) Get(name string) (Parser, error) {
	p, ok := r.parsers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownProvider, name)
	}
	return p, nil
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.parsers))
	for n := range r.parsers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func parseTime(raw string, fallback time.Time) time.Time {
	if raw == "" {
		return fallback
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC()
		}
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
