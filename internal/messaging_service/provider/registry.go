package provider

import (
	"fmt"
	"sort"

	"github.com/whatsgate/golang_services/internal/messaging_service/domain"
	tdomain "github.com/whatsgate/golang_services/internal/tenant_directory/domain"
)

// Registry maps provider names to adapters. It is built once at startup and
// is read-only afterwards.
type Registry struct {
	adapters map[tdomain.Provider]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[tdomain.Provider]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Name()] = a
	}
	return r
}

func (r *Registry) Get(p tdomain.Provider) (Adapter, error) {
	a, ok := r.adapters[p]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownProvider, p)
	}
	return a, nil
}

func (r *Registry) Names() []tdomain.Provider {
	names := make([]tdomain.Provider, 0, len(r.adapters))
	for p := range r.adapters {
		names = append(names, p)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}
