package messagebroker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

const drainTimeout = 10 * time.Second

// Publisher is what components that only emit events depend on.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// QueueSubscriber is what worker processes depend on.
type QueueSubscriber interface {
	SubscribeToSubjectWithQueue(ctx context.Context, subject, queueGroup string, handler func(msg *nats.Msg)) error
}

// NATSClient wraps a core NATS connection.
type NATSClient struct {
	conn   *nats.Conn
	logger *slog.Logger
}

// NewNATSClient connects to natsURL with infinite reconnects.
func NewNATSClient(natsURL, appName string, logger *slog.Logger) (*NATSClient, error) {
	logger = logger.With("component", "nats_client")
	nc, err := nats.Connect(natsURL,
		nats.Name(appName),
		nats.Timeout(5*time.Second),
		nats.PingInterval(20*time.Second),
		nats.MaxPingsOutstanding(3),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logger.Info("NATS connection closed", "last_error", nc.LastError())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return &NATSClient{conn: nc, logger: logger}, nil
}

func (c *NATSClient) Publish(ctx context.Context, subject string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publishing to %s: %w", subject, err)
	}
	return nil
}

// SubscribeToSubjectWithQueue joins queueGroup on subject and blocks until ctx
// is cancelled, then drains the subscription.
func (c *NATSClient) SubscribeToSubjectWithQueue(ctx context.Context, subject, queueGroup string, handler func(msg *nats.Msg)) error {
	sub, err := c.conn.QueueSubscribe(subject, queueGroup, handler)
	if err != nil {
		return fmt.Errorf("subscribing to %s (queue %s): %w", subject, queueGroup, err)
	}
	c.logger.Info("Subscribed", "subject", subject, "queue_group", queueGroup)

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		c.logger.Warn("Draining subscription failed", "subject", subject, "error", err)
		return nil
	}
	for deadline := time.Now().Add(drainTimeout); sub.IsValid() && time.Now().Before(deadline); {
		time.Sleep(50 * time.Millisecond)
	}
	return nil
}

func (c *NATSClient) IsConnected() bool {
	return c.conn != nil && c.conn.IsConnected()
}

// Close drains pending publishes and closes the connection.
func (c *NATSClient) Close() {
	if c.conn != nil && !c.conn.IsClosed() {
		if err := c.conn.Drain(); err != nil {
			c.conn.Close()
		}
	}
}
