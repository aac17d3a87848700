package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"golang.org/x/sync/errgroup"

	"github.com/whatsgate/golang_services/internal/messaging_service/domain"
	"github.com/whatsgate/golang_services/internal/platform/effects"
	"github.com/whatsgate/golang_services/internal/platform/messagebroker"
)

var ErrDispatchRejected = errors.New("inbound event could not be queued")

// InboundDispatcher hands a verified webhook off for asynchronous
// processing. A nil error means the event will be processed.
type InboundDispatcher interface {
	Dispatch(ctx context.Context, env *domain.InboundEnvelope) error
}

type Processor interface {
	Process(ctx context.Context, env *domain.InboundEnvelope) Outcome
}

// NATSDispatcher publishes envelopes to <prefix>.<provider> for the inbound
// worker pool.
type NATSDispatcher struct {
	publisher     messagebroker.Publisher
	subjectPrefix string
}

func NewNATSDispatcher(publisher messagebroker.Publisher, subjectPrefix string) *NATSDispatcher {
	return &NATSDispatcher{publisher: publisher, subjectPrefix: subjectPrefix}
}

func InboundSubject(prefix string, env *domain.InboundEnvelope) string {
	return prefix + "." + string(env.Provider)
}

func (d *NATSDispatcher) Dispatch(ctx context.Context, env *domain.InboundEnvelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshalling inbound envelope: %w", err)
	}
	if err := d.publisher.Publish(ctx, InboundSubject(d.subjectPrefix, env), data); err != nil {
		return fmt.Errorf("%w: %v", ErrDispatchRejected, err)
	}
	return nil
}

// InlineDispatcher processes in the gateway itself on the effect runner.
// Used for single-process deployments.
type InlineDispatcher struct {
	runner    effects.Enqueuer
	processor Processor
}

func NewInlineDispatcher(runner effects.Enqueuer, processor Processor) *InlineDispatcher {
	return &InlineDispatcher{runner: runner, processor: processor}
}

func (d *InlineDispatcher) Dispatch(_ context.Context, env *domain.InboundEnvelope) error {
	ok := d.runner.Enqueue("inbound_"+string(env.Provider), func(ctx context.Context) error {
		d.processor.Process(ctx, env)
		return nil
	})
	if !ok {
		return ErrDispatchRejected
	}
	return nil
}

// InboundConsumer is the worker side of NATSDispatcher. At most workers
// envelopes are processed concurrently; the NATS handler blocks beyond that.
type InboundConsumer struct {
	subscriber    messagebroker.QueueSubscriber
	processor     Processor
	subjectPrefix string
	queueGroup    string
	workers       int
	timeout       time.Duration
	logger        *slog.Logger
}

func NewInboundConsumer(subscriber messagebroker.QueueSubscriber, processor Processor, subjectPrefix, queueGroup string,
	workers int, timeout time.Duration, logger *slog.Logger) *InboundConsumer {
	if workers <= 0 {
		workers = 1
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &InboundConsumer{
		subscriber:    subscriber,
		processor:     processor,
		subjectPrefix: subjectPrefix,
		queueGroup:    queueGroup,
		workers:       workers,
		timeout:       timeout,
		logger:        logger.With("component", "inbound_consumer"),
	}
}

// Run blocks until ctx is cancelled and in-flight envelopes are done.
func (c *InboundConsumer) Run(ctx context.Context) error {
	var (
		g      errgroup.Group
		mu     sync.Mutex
		closed bool
	)
	g.SetLimit(c.workers)

	err := c.subscriber.SubscribeToSubjectWithQueue(ctx, c.subjectPrefix+".*", c.queueGroup, func(msg *nats.Msg) {
		env, err := DecodeEnvelope(msg.Data)
		if err != nil {
			c.logger.ErrorContext(ctx, "Discarding undecodable inbound envelope", "subject", msg.Subject, "error", err)
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if closed {
			c.logger.WarnContext(ctx, "Consumer stopped, inbound envelope not processed", "subject", msg.Subject)
			return
		}
		g.Go(func() error {
			pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
			defer cancel()
			c.processor.Process(pctx, env)
			return nil
		})
	})
	mu.Lock()
	closed = true
	mu.Unlock()
	_ = g.Wait()
	return err
}

func DecodeEnvelope(data []byte) (*domain.InboundEnvelope, error) {
	var env domain.InboundEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decoding inbound envelope: %w", err)
	}
	if env.Provider == "" || len(env.Body) == 0 {
		return nil, errors.New("decoding inbound envelope: provider and body are required")
	}
	return &env, nil
}
