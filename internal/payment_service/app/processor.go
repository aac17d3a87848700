package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/whatsgate/golang_services/internal/payment_service/domain"
	"github.com/whatsgate/golang_services/internal/payment_service/provider"
	"github.com/whatsgate/golang_services/internal/payment_service/repository"
	"github.com/whatsgate/golang_services/internal/platform/effects"
	ldomain "github.com/whatsgate/golang_services/internal/webhook_ledger/domain"
)

type Outcome string

const (
	OutcomeApplied       Outcome = "applied"
	OutcomeUnchanged     Outcome = "unchanged"
	OutcomeDuplicate     Outcome = "duplicate"
	OutcomeIgnored       Outcome = "ignored"
	OutcomeUnderpaid     Outcome = "underpaid"
	OutcomeAbandoned     Outcome = "abandoned"
	OutcomeRetryDeferred Outcome = "retry_deferred"
	OutcomeRejected      Outcome = "rejected"
	OutcomeFailed        Outcome = "failed"
)

// Result describes a delivery that was accepted (or deferred). Errors are
// returned separately.
type Result struct {
	Outcome    Outcome
	Key        string
	OrderID    string
	RetryAfter time.Duration
}

type SignatureVerifier interface {
	Verify(provider, instanceID string, rawBody []byte, header string) (bool, error)
}

type PaymentLedger interface {
	Begin(ctx context.Context, provider, reference, subjectID string) (ldomain.BeginResult, error)
	Complete(ctx context.Context, key string, attempt int) error
	Fail(ctx context.Context, key string, attempt int, reason string) error
}

type Events interface {
	OrderTransitioned(ctx context.Context, ev OrderEvent) error
	Reconcile(ctx context.Context, c ReconciliationCase) error
}

type ProcessorDeps struct {
	Parsers  *provider.Registry
	Verifier SignatureVerifier
	Ledger   PaymentLedger
	Orders   repository.OrderRepository
	Events   Events
	Receipts ReceiptNotifier // optional
	Effects  effects.Enqueuer
	Logger   *slog.Logger
	// MaxOrderLookupAttempts bounds how many deliveries may find the order
	// missing before the payment is handed to reconciliation.
	MaxOrderLookupAttempts int
}

// Processor applies payment callbacks to orders at most once per
// (provider, reference).
type Processor struct {
	ProcessorDeps
	validate *validator.Validate
	now      func() time.Time
}

func NewProcessor(deps ProcessorDeps) *Processor {
	if deps.MaxOrderLookupAttempts <= 0 {
		deps.MaxOrderLookupAttempts = 10
	}
	deps.Logger = deps.Logger.With("component", "payment_processor")
	return &Processor{
		ProcessorDeps: deps,
		validate:      validator.New(),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Process verifies, deduplicates and applies one delivery. The returned
// error wraps ErrUnknownProvider, ErrInvalidSignature, ErrMalformedPayload
// or ErrOrderNotFound when one of those is the cause.
func (p *Processor) Process(ctx context.Context, providerName string, rawBody []byte, signatureHeader string) (Result, error) {
	res, err := p.process(ctx, providerName, rawBody, signatureHeader)
	outcome := res.Outcome
	if err != nil {
		outcome = OutcomeFailed
		if errors.Is(err, domain.ErrInvalidSignature) || errors.Is(err, domain.ErrMalformedPayload) {
			outcome = OutcomeRejected
		}
	}
	paymentWebhooksTotal.WithLabelValues(providerName, string(outcome)).Inc()
	return res, err
}

func (p *Processor) process(ctx context.Context, providerName string, rawBody []byte, signatureHeader string) (Result, error) {
	logger := p.Logger.With("provider", providerName)

	parser, err := p.Parsers.Get(providerName)
	if err != nil {
		return Result{}, err
	}

	// Nothing below runs for unsigned requests, the ledger included.
	ok, err := p.Verifier.Verify(providerName, "", rawBody, signatureHeader)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", domain.ErrInvalidSignature, err)
	}
	if !ok {
		logger.WarnContext(ctx, "Rejected payment webhook with invalid signature")
		return Result{}, domain.ErrInvalidSignature
	}

	ev, err := parser.Parse(rawBody)
	if err != nil {
		logger.WarnContext(ctx, "Rejected malformed payment webhook", "error", err)
		return Result{}, err
	}
	if err := p.validate.StructCtx(ctx, ev); err != nil {
		return Result{}, domain.Malformed(providerName, "%v", err)
	}
	logger = logger.With("reference", ev.Reference, "order_id", ev.OrderID, "outcome", ev.Outcome)

	if ev.Outcome == domain.OutcomePending {
		logger.InfoContext(ctx, "Payment still pending, nothing to apply")
		return Result{Outcome: OutcomeIgnored, OrderID: ev.OrderID}, nil
	}

	begin, err := p.Ledger.Begin(ctx, providerName, ev.Reference, ev.OrderID)
	if err != nil {
		logger.ErrorContext(ctx, "Ledger begin failed", "error", err)
		return Result{}, fmt.Errorf("ledger begin: %w", err)
	}
	res := Result{Key: begin.Key, OrderID: ev.OrderID}
	switch {
	case begin.Outcome.IsDuplicate():
		logger.InfoContext(ctx, "Duplicate payment webhook acknowledged", "ledger_outcome", begin.Outcome.String())
		res.Outcome = OutcomeDuplicate
		return res, nil
	case begin.Outcome == ldomain.RetryDeferred:
		logger.InfoContext(ctx, "Payment webhook retried inside the cool-down", "retry_after", begin.RetryAfter)
		res.Outcome = OutcomeRetryDeferred
		res.RetryAfter = begin.RetryAfter
		return res, nil
	}

	logger = logger.With("key", begin.Key, "attempt", begin.Attempt)
	outcome, err := p.apply(ctx, logger, begin, ev)
	res.Outcome = outcome
	return res, err
}

// apply runs while this delivery owns the ledger entry. Every path ends in
// Complete or Fail.
func (p *Processor) apply(ctx context.Context, logger *slog.Logger, begin ldomain.BeginResult, ev *domain.PaymentEvent) (Outcome, error) {
	order, err := p.Orders.GetOrder(ctx, ev.OrderID)
	if errors.Is(err, domain.ErrOrderNotFound) {
		if begin.Attempt >= p.MaxOrderLookupAttempts {
			reason := fmt.Sprintf("order not found after %d attempts", begin.Attempt)
			p.fail(ctx, logger, begin, reason)
			p.reconcile(ev, reason, 0, begin.Attempt)
			logger.ErrorContext(ctx, "Giving up on payment for missing order")
			return OutcomeAbandoned, nil
		}
		p.fail(ctx, logger, begin, "order not found")
		logger.WarnContext(ctx, "Order not found yet, asking provider to retry")
		return OutcomeFailed, fmt.Errorf("%w: %s", domain.ErrOrderNotFound, ev.OrderID)
	}
	if err != nil {
		p.fail(ctx, logger, begin, err.Error())
		return OutcomeFailed, err
	}

	if ev.Outcome == domain.OutcomeSucceeded {
		if reason := paymentMismatch(order, ev); reason != "" {
			p.fail(ctx, logger, begin, reason)
			p.reconcile(ev, reason, order.TotalAmount, begin.Attempt)
			logger.WarnContext(ctx, "Payment does not cover the order", "reason", reason)
			return OutcomeUnderpaid, nil
		}
	}

	tr, ok := domain.TransitionFor(order, ev)
	if !ok {
		logger.InfoContext(ctx, "Order already settled for this event", "order_status", order.Status)
		p.complete(ctx, logger, begin)
		return OutcomeUnchanged, nil
	}

	entry, err := p.Orders.ApplyTransition(ctx, tr)
	if errors.Is(err, domain.ErrTransitionNotAllowed) {
		logger.WarnContext(ctx, "Order changed before the transition was applied", "error", err)
		p.complete(ctx, logger, begin)
		return OutcomeUnchanged, nil
	}
	if err != nil {
		p.fail(ctx, logger, begin, err.Error())
		return OutcomeFailed, fmt.Errorf("applying transition: %w", err)
	}
	p.complete(ctx, logger, begin)

	logger.InfoContext(ctx, "Payment applied to order", "from", entry.FromStatus, "to", entry.ToStatus)
	p.afterCommit(order, entry, ev)
	return OutcomeApplied, nil
}

// paymentMismatch explains why a successful payment cannot settle order.
// Callbacks without an amount are trusted; a reported zero is an underpayment.
func paymentMismatch(order *domain.Order, ev *domain.PaymentEvent) string {
	if !ev.AmountReported {
		return ""
	}
	if ev.Currency != "" && order.Currency != "" && ev.Currency != order.Currency {
		return fmt.Sprintf("currency mismatch: paid %s, order in %s", ev.Currency, order.Currency)
	}
	if ev.Amount < order.TotalAmount {
		return fmt.Sprintf("underpaid: %s of %s",
			domain.FormatAmount(ev.Amount, order.Currency), domain.FormatAmount(order.TotalAmount, order.Currency))
	}
	return ""
}

func (p *Processor) complete(ctx context.Context, logger *slog.Logger, begin ldomain.BeginResult) {
	// The order mutation is already committed; a record left in processing
	// is taken over after the timeout and finds nothing left to apply.
	if err := p.Ledger.Complete(ctx, begin.Key, begin.Attempt); err != nil {
		logger.ErrorContext(ctx, "Failed to complete ledger record", "error", err)
	}
}

func (p *Processor) fail(ctx context.Context, logger *slog.Logger, begin ldomain.BeginResult, reason string) {
	if err := p.Ledger.Fail(ctx, begin.Key, begin.Attempt, reason); err != nil {
		logger.ErrorContext(ctx, "Failed to mark ledger record failed", "reason", reason, "error", err)
	}
}

func (p *Processor) reconcile(ev *domain.PaymentEvent, reason string, expected int64, attempts int) {
	c := ReconciliationCase{
		Provider:       ev.Provider,
		Reference:      ev.Reference,
		OrderID:        ev.OrderID,
		Reason:         reason,
		Amount:         ev.Amount,
		ExpectedAmount: expected,
		Currency:       ev.Currency,
		Attempts:       attempts,
		RaisedAt:       p.now(),
	}
	p.Effects.Enqueue("payment_reconciliation", func(ctx context.Context) error {
		return p.Events.Reconcile(ctx, c)
	})
}

func (p *Processor) afterCommit(order *domain.Order, entry *domain.AuditEntry, ev *domain.PaymentEvent) {
	event := OrderEvent{
		OrderID:    entry.OrderID,
		VendorID:   entry.VendorID,
		FromStatus: entry.FromStatus,
		ToStatus:   entry.ToStatus,
		Provider:   entry.Provider,
		Reference:  entry.Reference,
		Amount:     ev.Amount,
		Currency:   order.Currency,
		OccurredAt: entry.CreatedAt,
	}
	p.Effects.Enqueue("payment_order_event", func(ctx context.Context) error {
		return p.Events.OrderTransitioned(ctx, event)
	})

	if entry.ToStatus != domain.OrderPaid || p.Receipts == nil {
		return
	}
	phone := order.CustomerPhone
	if phone == "" {
		phone = ev.CustomerPhone
	}
	if phone == "" {
		return
	}
	receipt := Receipt{
		VendorID:      entry.VendorID,
		OrderID:       order.ID,
		CustomerPhone: phone,
		Amount:        domain.FormatAmount(order.TotalAmount, order.Currency),
		Reference:     entry.Reference,
	}
	p.Effects.Enqueue("payment_receipt", func(ctx context.Context) error {
		return p.Receipts.NotifyPaymentReceived(ctx, receipt)
	})
}
