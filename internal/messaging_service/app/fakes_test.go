package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/whatsgate/golang_services/internal/messaging_service/domain"
	"github.com/whatsgate/golang_services/internal/messaging_service/provider"
	tdomain "github.com/whatsgate/golang_services/internal/tenant_directory/domain"
)

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type sentMessage struct {
	InstanceID string
	To         string
	Content    domain.Content
}

// fakeAdapter parses flat legacy-style payloads and records sends.
type fakeAdapter struct {
	*provider.LegacyAdapter
	name tdomain.Provider

	mu        sync.Mutex
	sent      []sentMessage
	sendErr   error
	status    tdomain.ConnectionStatus
	statusErr error
}

func newFakeAdapter(name tdomain.Provider) *fakeAdapter {
	return &fakeAdapter{
		LegacyAdapter: provider.NewLegacyAdapter(testLogger(), "http://unused", "k", nil),
		name:          name,
		status:        tdomain.StatusConnected,
	}
}

func (f *fakeAdapter) Name() tdomain.Provider { return f.name }

func (f *fakeAdapter) Send(_ context.Context, instanceID, to string, content domain.Content) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{InstanceID: instanceID, To: to, Content: content})
	if f.sendErr != nil {
		return "", f.sendErr
	}
	return fmt.Sprintf("%s-msg-%d", f.name, len(f.sent)), nil
}

func (f *fakeAdapter) InstanceStatus(context.Context, string) (tdomain.ConnectionStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status, f.statusErr
}

func (f *fakeAdapter) Sent() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMessage(nil), f.sent...)
}

type fakeDirectory struct {
	mu       sync.Mutex
	channels []*tdomain.TenantChannel
	updates  map[uuid.UUID]tdomain.ConnectionStatus
}

func newFakeDirectory(channels ...*tdomain.TenantChannel) *fakeDirectory {
	return &fakeDirectory{channels: channels, updates: map[uuid.UUID]tdomain.ConnectionStatus{}}
}

func (d *fakeDirectory) ResolveByProviderInstance(_ context.Context, p tdomain.Provider, instanceID string) (*tdomain.TenantChannel, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, ch := range d.channels {
		if ch.Provider == p && ch.ProviderInstanceID == instanceID {
			cp := *ch
			return &cp, nil
		}
	}
	return nil, tdomain.ErrNotFound
}

func (d *fakeDirectory) UpdateStatus(_ context.Context, id uuid.UUID, status tdomain.ConnectionStatus) (*tdomain.TenantChannel, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, ch := range d.channels {
		if ch.ID == id {
			ch.ConnectionStatus = status
			d.updates[id] = status
			cp := *ch
			return &cp, nil
		}
	}
	return nil, tdomain.ErrNotFound
}

func (d *fakeDirectory) ListChannels(context.Context) ([]*tdomain.TenantChannel, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*tdomain.TenantChannel, 0, len(d.channels))
	for _, ch := range d.channels {
		cp := *ch
		out = append(out, &cp)
	}
	return out, nil
}

func (d *fakeDirectory) ListTenantChannels(ctx context.Context, tenantID string) ([]*tdomain.TenantChannel, error) {
	all, _ := d.ListChannels(ctx)
	var out []*tdomain.TenantChannel
	for _, ch := range all {
		if ch.TenantID == tenantID {
			out = append(out, ch)
		}
	}
	return out, nil
}

type fakeConversations struct {
	mu       sync.Mutex
	byID     map[string]*domain.ConversationContext
	touchErr error
}

func newFakeConversations() *fakeConversations {
	return &fakeConversations{byID: map[string]*domain.ConversationContext{}}
}

func (r *fakeConversations) Touch(_ context.Context, tenantID, phone string, at time.Time) (*domain.ConversationContext, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.touchErr != nil {
		return nil, r.touchErr
	}
	id := domain.SessionID(tenantID, phone)
	c, ok := r.byID[id]
	if !ok {
		c = &domain.ConversationContext{SessionID: id, TenantID: tenantID, CounterpartPhone: phone, Status: domain.ConversationActive}
		r.byID[id] = c
	}
	c.MessageCount++
	c.LastMessageAt = at
	if c.Status == domain.ConversationClosed {
		c.Status = domain.ConversationActive
	}
	cp := *c
	return &cp, nil
}

func (r *fakeConversations) Get(_ context.Context, sessionID string) (*domain.ConversationContext, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byID[sessionID]
	if !ok {
		return nil, domain.ErrConversationNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *fakeConversations) UpdateIntent(_ context.Context, sessionID string, intent domain.Intent, step string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byID[sessionID]
	if !ok {
		return domain.ErrConversationNotFound
	}
	c.CurrentIntent = intent
	c.CurrentStep = step
	return nil
}

func (r *fakeConversations) SetStatus(_ context.Context, sessionID string, status domain.ConversationStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byID[sessionID]
	if !ok {
		return domain.ErrConversationNotFound
	}
	c.Status = status
	return nil
}

func (r *fakeConversations) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}

type fakeDeliveries struct {
	mu      sync.Mutex
	records []domain.OutboundDelivery
}

func (r *fakeDeliveries) Record(_ context.Context, d *domain.OutboundDelivery) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, *d)
	return nil
}

func (r *fakeDeliveries) All() []domain.OutboundDelivery {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.OutboundDelivery(nil), r.records...)
}

type fakeEscalator struct {
	mu      sync.Mutex
	tickets []Ticket
}

func (e *fakeEscalator) Escalate(_ context.Context, t Ticket) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tickets = append(e.tickets, t)
	return nil
}

func (e *fakeEscalator) Tickets() []Ticket {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Ticket(nil), e.tickets...)
}

type fakePublisher struct {
	mu       sync.Mutex
	subjects []string
	payloads [][]byte
	err      error
}

func (p *fakePublisher) Publish(_ context.Context, subject string, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.subjects = append(p.subjects, subject)
	p.payloads = append(p.payloads, data)
	return nil
}

type fakeAlerter struct {
	mu    sync.Mutex
	texts []string
}

func (a *fakeAlerter) Alert(_ context.Context, text string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.texts = append(a.texts, text)
	return nil
}
