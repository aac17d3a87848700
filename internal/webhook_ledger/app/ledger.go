package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/whatsgate/golang_services/internal/webhook_ledger/domain"
	"github.com/whatsgate/golang_services/internal/webhook_ledger/repository"
)

var beginOutcomesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "whatsgate",
		Subsystem: "ledger",
		Name:      "begin_outcomes_total",
		Help:      "Idempotency ledger Begin outcomes by provider.",
	},
	[]string{"provider", "outcome"},
)

// maxErrorLength bounds the diagnostic stored with a failed record.
const maxErrorLength = 2000

type Config struct {
	// ProcessingTimeout is how long a processing record blocks redeliveries
	// before it is considered abandoned.
	ProcessingTimeout time.Duration `mapstructure:"LEDGER_PROCESSING_TIMEOUT"`
	// RetryCooldown is how long a failed record waits before a redelivery may
	// retry it.
	RetryCooldown time.Duration `mapstructure:"LEDGER_RETRY_COOLDOWN"`
}

// Ledger guarantees that the work guarded by Begin runs at most once per
// (provider, reference) at any time, and never again once completed.
type Ledger struct {
	repo   repository.LedgerRepository
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

func NewLedger(repo repository.LedgerRepository, cfg Config, logger *slog.Logger) *Ledger {
	return &Ledger{
		repo:   repo,
		cfg:    cfg,
		logger: logger.With("component", "webhook_ledger"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (l *Ledger) Begin(ctx context.Context, provider, reference, subjectID string) (domain.BeginResult, error) {
	provider = strings.TrimSpace(provider)
	reference = strings.TrimSpace(reference)
	if provider == "" || reference == "" {
		return domain.BeginResult{}, domain.ErrInvalidKey
	}

	key := domain.Key(provider, reference)
	now := l.now()

	inserted, err := l.repo.Insert(ctx, &domain.WebhookRecord{
		IdempotencyKey: key,
		Provider:       provider,
		Reference:      reference,
		SubjectID:      subjectID,
		State:          domain.StateProcessing,
		ReceivedAt:     now,
		UpdatedAt:      now,
		AttemptCount:   1,
	})
	if err != nil {
		return domain.BeginResult{}, fmt.Errorf("creating ledger record %s: %w", key, err)
	}
	if inserted {
		return l.result(provider, domain.BeginResult{Outcome: domain.Started, Key: key, Attempt: 1}), nil
	}

	existing, err := l.repo.Get(ctx, key)
	if err != nil {
		return domain.BeginResult{}, fmt.Errorf("reading ledger record %s: %w", key, err)
	}

	res := domain.BeginResult{Key: key, Attempt: existing.AttemptCount}
	switch existing.State {
	case domain.StateCompleted:
		res.Outcome = domain.AlreadyCompleted
		return l.result(provider, res), nil

	case domain.StateProcessing:
		if age := now.Sub(existing.ReceivedAt); age < l.cfg.ProcessingTimeout {
			res.Outcome = domain.AlreadyProcessing
			return l.result(provider, res), nil
		}
		l.logger.WarnContext(ctx, "Taking over abandoned processing record",
			"key", key, "attempt", existing.AttemptCount, "started_at", existing.ReceivedAt)

	case domain.StateFailed:
		if age := now.Sub(existing.UpdatedAt); age < l.cfg.RetryCooldown {
			res.Outcome = domain.RetryDeferred
			res.RetryAfter = l.cfg.RetryCooldown - age
			return l.result(provider, res), nil
		}
		l.logger.InfoContext(ctx, "Retrying failed webhook", "key", key, "attempt", existing.AttemptCount+1, "last_error", existing.Error)

	default:
		return domain.BeginResult{}, fmt.Errorf("ledger record %s has unknown state %q", key, existing.State)
	}

	taken, ok, err := l.repo.Takeover(ctx, key, existing.State, existing.AttemptCount, now)
	if err != nil {
		return domain.BeginResult{}, fmt.Errorf("taking over ledger record %s: %w", key, err)
	}
	if !ok {
		// Another delivery won the takeover.
		res.Outcome = domain.AlreadyProcessing
		return l.result(provider, res), nil
	}
	return l.result(provider, domain.BeginResult{Outcome: domain.Started, Key: key, Attempt: taken.AttemptCount}), nil
}

func (l *Ledger) result(provider string, res domain.BeginResult) domain.BeginResult {
	beginOutcomesTotal.WithLabelValues(provider, res.Outcome.String()).Inc()
	return res
}

// Complete marks the given attempt on key completed. Completing twice is a
// no-op; an attempt that has been taken over gets ErrSuperseded.
func (l *Ledger) Complete(ctx context.Context, key string, attempt int) error {
	ok, err := l.repo.MarkCompleted(ctx, key, attempt, l.now())
	if err != nil {
		return fmt.Errorf("completing ledger record %s: %w", key, err)
	}
	if ok {
		return nil
	}

	rec, err := l.repo.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("completing ledger record %s: %w", key, err)
	}
	if rec.State == domain.StateCompleted {
		return nil
	}
	if rec.AttemptCount != attempt {
		return fmt.Errorf("%w: %s attempt %d, now at %d", domain.ErrSuperseded, key, attempt, rec.AttemptCount)
	}
	return fmt.Errorf("%w: %s is %s, cannot complete", domain.ErrInvalidTransition, key, rec.State)
}

// Fail records reason against the given processing attempt. A completed
// record is never moved back.
func (l *Ledger) Fail(ctx context.Context, key string, attempt int, reason string) error {
	reason = truncateUTF8(reason, maxErrorLength)
	ok, err := l.repo.MarkFailed(ctx, key, attempt, reason, l.now())
	if err != nil {
		return fmt.Errorf("failing ledger record %s: %w", key, err)
	}
	if ok {
		l.logger.WarnContext(ctx, "Webhook processing failed", "key", key, "error", reason)
		return nil
	}

	rec, err := l.repo.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("failing ledger record %s: %w", key, err)
	}
	if rec.AttemptCount != attempt && rec.State != domain.StateCompleted {
		return fmt.Errorf("%w: %s attempt %d, now at %d", domain.ErrSuperseded, key, attempt, rec.AttemptCount)
	}
	if rec.State == domain.StateFailed {
		return nil
	}
	return fmt.Errorf("%w: %s is %s, cannot fail", domain.ErrInvalidTransition, key, rec.State)
}

// truncateUTF8 cuts s to at most n bytes without splitting a rune.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func (l *Ledger) Get(ctx context.Context, key string) (*domain.WebhookRecord, error) {
	rec, err := l.repo.Get(ctx, key)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("reading ledger record %s: %w", key, err)
	}
	return rec, nil
}

// ListFailed returns failed records, most recent first, for reconciliation.
func (l *Ledger) ListFailed(ctx context.Context, limit int) ([]*domain.WebhookRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	return l.repo.ListFailed(ctx, limit)
}
