package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/whatsgate/golang_services/internal/messaging_service/domain"
	"github.com/whatsgate/golang_services/internal/messaging_service/provider"
	"github.com/whatsgate/golang_services/internal/messaging_service/repository"
	"github.com/whatsgate/golang_services/internal/platform/effects"
	tdomain "github.com/whatsgate/golang_services/internal/tenant_directory/domain"
	ldomain "github.com/whatsgate/golang_services/internal/webhook_ledger/domain"
)

// Outcome is the terminal state of one inbound event. Every outcome is
// acknowledged upstream; it only drives logs and metrics.
type Outcome string

const (
	OutcomeReplied              Outcome = "replied"
	OutcomeReplyFailed          Outcome = "reply_failed"
	OutcomeNoReply              Outcome = "no_reply"
	OutcomeDuplicate            Outcome = "duplicate"
	OutcomeStatusUpdated        Outcome = "status_updated"
	OutcomeIgnoredNonMessage    Outcome = "ignored_non_message"
	OutcomeDroppedUnknownTenant Outcome = "dropped_unknown_tenant"
	OutcomeDroppedUnparseable   Outcome = "dropped_unparseable"
	OutcomeFailed               Outcome = "failed"
)

type ChannelResolver interface {
	ResolveByProviderInstance(ctx context.Context, provider tdomain.Provider, instanceID string) (*tdomain.TenantChannel, error)
	UpdateStatus(ctx context.Context, channelID uuid.UUID, status tdomain.ConnectionStatus) (*tdomain.TenantChannel, error)
}

type InboundLedger interface {
	Begin(ctx context.Context, provider, reference, subjectID string) (ldomain.BeginResult, error)
	Complete(ctx context.Context, key string, attempt int) error
	Fail(ctx context.Context, key string, attempt int, reason string) error
}

type TicketEscalator interface {
	Escalate(ctx context.Context, t Ticket) error
}

type OrchestratorDeps struct {
	Registry      *provider.Registry
	Directory     ChannelResolver
	Ledger        InboundLedger
	Conversations repository.ConversationRepository
	Classifier    *IntentClassifier
	Responder     *Responder
	Sender        *OutboundSender
	Escalator     TicketEscalator
	Effects       effects.Enqueuer
	Logger        *slog.Logger
}

// Orchestrator reacts to verified inbound webhooks: tenant resolution,
// parsing, deduplication, conversation upkeep, classification, reply and
// escalation.
type Orchestrator struct {
	OrchestratorDeps
	validate *validator.Validate
}

func NewOrchestrator(deps OrchestratorDeps) *Orchestrator {
	if deps.Classifier == nil {
		deps.Classifier = NewIntentClassifier()
	}
	if deps.Responder == nil {
		deps.Responder = NewResponder(nil)
	}
	deps.Logger = deps.Logger.With("component", "orchestrator")
	return &Orchestrator{OrchestratorDeps: deps, validate: validator.New()}
}

// Process never returns an error: by the time it runs the webhook has been
// acknowledged, so every failure ends in a logged outcome.
func (o *Orchestrator) Process(ctx context.Context, env *domain.InboundEnvelope) Outcome {
	outcome := o.process(ctx, env)
	inboundOutcomesTotal.WithLabelValues(string(env.Provider), string(outcome)).Inc()
	return outcome
}

func (o *Orchestrator) process(ctx context.Context, env *domain.InboundEnvelope) Outcome {
	logger := o.Logger.With("provider", env.Provider, "request_id", env.RequestID)

	adapter, err := o.Registry.Get(env.Provider)
	if err != nil {
		logger.WarnContext(ctx, "Dropping event for unknown provider", "error", err)
		return OutcomeDroppedUnparseable
	}

	instanceID := env.InstanceID
	if instanceID == "" {
		if instanceID, err = adapter.ExtractInstanceID(env.Body); err != nil {
			logger.WarnContext(ctx, "Dropping event without provider instance", "error", err)
			return OutcomeDroppedUnparseable
		}
	}
	logger = logger.With("instance_id", instanceID)

	ch, err := o.Directory.ResolveByProviderInstance(ctx, env.Provider, instanceID)
	if errors.Is(err, tdomain.ErrNotFound) {
		logger.WarnContext(ctx, "Dropping event for unregistered provider instance")
		return OutcomeDroppedUnknownTenant
	}
	if err != nil {
		logger.ErrorContext(ctx, "Failed to resolve tenant channel", "error", err)
		return OutcomeFailed
	}
	if env.TenantID != "" && env.TenantID != ch.TenantID {
		logger.WarnContext(ctx, "Dropping event, instance belongs to another tenant",
			"route_tenant_id", env.TenantID, "channel_tenant_id", ch.TenantID)
		return OutcomeDroppedUnknownTenant
	}
	logger = logger.With("tenant_id", ch.TenantID)

	if sp, ok := adapter.(provider.StatusEventParser); ok {
		if change, ok := sp.ParseStatusEvent(env.Body); ok {
			return o.applyStatus(ctx, logger, ch, change)
		}
	}

	msg, err := adapter.ParseInbound(env.Body)
	if errors.Is(err, domain.ErrNoMessage) {
		logger.DebugContext(ctx, "Ignoring webhook without customer message")
		return OutcomeIgnoredNonMessage
	}
	if err != nil {
		logger.WarnContext(ctx, "Dropping unparseable webhook", "error", err)
		return OutcomeDroppedUnparseable
	}
	if err := o.validate.Struct(msg); err != nil {
		logger.WarnContext(ctx, "Dropping incomplete inbound message", "error", err)
		return OutcomeDroppedUnparseable
	}
	phone, err := tdomain.NormalizePhone(msg.From)
	if err != nil {
		logger.WarnContext(ctx, "Dropping message from invalid sender", "from", msg.From, "error", err)
		return OutcomeDroppedUnparseable
	}
	sessionID := domain.SessionID(ch.TenantID, phone)
	logger = logger.With("event_id", msg.ProviderEventID, "phone", phone)

	res, err := o.Ledger.Begin(ctx, string(env.Provider), msg.ProviderEventID, sessionID)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to begin inbound event", "error", err)
		return OutcomeFailed
	}
	if res.Outcome != ldomain.Started {
		logger.InfoContext(ctx, "Skipping redelivered inbound event", "ledger_outcome", res.Outcome.String())
		return OutcomeDuplicate
	}

	outcome, err := o.handle(ctx, logger, ch, msg, phone, sessionID)
	if err != nil {
		logger.ErrorContext(ctx, "Inbound message processing failed", "error", err)
		if failErr := o.Ledger.Fail(ctx, res.Key, res.Attempt, err.Error()); failErr != nil {
			logger.WarnContext(ctx, "Failed to mark inbound event failed", "error", failErr)
		}
		return OutcomeFailed
	}
	if err := o.Ledger.Complete(ctx, res.Key, res.Attempt); err != nil {
		logger.WarnContext(ctx, "Failed to complete inbound event", "error", err)
	}
	return outcome
}

func (o *Orchestrator) handle(ctx context.Context, logger *slog.Logger, ch *tdomain.TenantChannel,
	msg *domain.InboundMessage, phone, sessionID string) (Outcome, error) {
	conv, err := o.Conversations.Touch(ctx, ch.TenantID, phone, msg.OccurredAt)
	if err != nil {
		return "", err
	}

	intent := o.Classifier.Classify(msg.Content.Body(), conv)
	logger = logger.With("intent", intent, "session_id", sessionID)

	if conv.Status == domain.ConversationPaused {
		// an agent owns the conversation
		o.updateIntent(ctx, logger, sessionID, intent, conv.CurrentStep)
		logger.DebugContext(ctx, "Conversation paused, no automatic reply")
		return OutcomeNoReply, nil
	}

	reply, hasReply := o.Responder.Respond(intent)
	step := reply.Step
	if step == "" {
		step = conv.CurrentStep
	}
	o.updateIntent(ctx, logger, sessionID, intent, step)

	if intent.RequiresEscalation() {
		o.escalate(ctx, logger, ch, msg, phone, sessionID, intent)
		if intent == domain.IntentHumanAgent {
			if err := o.Conversations.SetStatus(ctx, sessionID, domain.ConversationPaused); err != nil {
				logger.WarnContext(ctx, "Failed to pause conversation", "error", err)
			}
		}
	}

	if !hasReply {
		return OutcomeNoReply, nil
	}
	if _, err := o.Sender.Send(ctx, SendRequest{Channel: ch, SessionID: sessionID, To: phone, Content: reply.Content}); err != nil {
		// already logged and recorded by the sender
		return OutcomeReplyFailed, nil
	}
	return OutcomeReplied, nil
}

func (o *Orchestrator) updateIntent(ctx context.Context, logger *slog.Logger, sessionID string, intent domain.Intent, step string) {
	if err := o.Conversations.UpdateIntent(ctx, sessionID, intent, step); err != nil {
		logger.WarnContext(ctx, "Failed to store conversation intent", "error", err)
	}
}

func (o *Orchestrator) escalate(ctx context.Context, logger *slog.Logger, ch *tdomain.TenantChannel,
	msg *domain.InboundMessage, phone, sessionID string, intent domain.Intent) {
	ticket := Ticket{
		TenantID:      ch.TenantID,
		SessionID:     sessionID,
		CustomerPhone: phone,
		CustomerName:  msg.SenderName,
		Provider:      string(msg.Provider),
		Intent:        string(intent),
		Message:       msg.Content.Body(),
		CreatedAt:     time.Now().UTC(),
	}
	if !o.Effects.Enqueue("support_ticket", func(ctx context.Context) error {
		return o.Escalator.Escalate(ctx, ticket)
	}) {
		logger.WarnContext(ctx, "Escalation dropped, effect queue full")
	}
}

func (o *Orchestrator) applyStatus(ctx context.Context, logger *slog.Logger, ch *tdomain.TenantChannel, change *domain.StatusChange) Outcome {
	if change.Status == ch.ConnectionStatus {
		return OutcomeStatusUpdated
	}
	if _, err := o.Directory.UpdateStatus(ctx, ch.ID, change.Status); err != nil {
		logger.ErrorContext(ctx, "Failed to apply pushed connection status", "status", change.Status, "error", err)
		return OutcomeFailed
	}
	channelStatusChangesTotal.WithLabelValues(string(ch.Provider), string(change.Status)).Inc()
	logger.InfoContext(ctx, "Channel connection status changed", "from", ch.ConnectionStatus, "to", change.Status, "raw_state", change.Raw)
	return OutcomeStatusUpdated
}
