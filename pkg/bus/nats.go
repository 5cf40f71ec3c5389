package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/de-tools/aaflow/pkg/models/api"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

type NATSConfig struct {
	URL            string
	Subject        string
	QueueGroup     string
	HandlerTimeout time.Duration
	DrainTimeout   time.Duration
}

type NATSBus struct {
	conn   *nats.Conn
	config NATSConfig

	mu   sync.Mutex
	subs []*nats.Subscription
}

var _ Bus = (*NATSBus)(nil)

func NewNATSBus(cfg NATSConfig) (*NATSBus, error) {
	conn, err := nats.Connect(cfg.URL,
		nats.Name("aaflow"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DrainTimeout(cfg.drainTimeout()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats at %s: %w", cfg.URL, err)
	}
	return NewNATSBusFromConn(conn, cfg), nil
}

func NewNATSBusFromConn(conn *nats.Conn, cfg NATSConfig) *NATSBus {
	if cfg.Subject == "" {
		cfg.Subject = DefaultSubject
	}
	if cfg.HandlerTimeout == 0 {
		cfg.HandlerTimeout = 5 * time.Minute
	}
	return &NATSBus{conn: conn, config: cfg}
}

func (c NATSConfig) drainTimeout() time.Duration {
	if c.DrainTimeout == 0 {
		return 30 * time.Second
	}
	return c.DrainTimeout
}

func (b *NATSBus) Publish(_ context.Context, event api.ReadinessEvent) error {
	data, err := Encode(event)
	if err != nil {
		return err
	}
	if err := b.conn.Publish(b.config.Subject, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", b.config.Subject, err)
	}
	return nil
}

// Subscribe registers handler in the configured queue group so that replicas
// share the stream. Each message gets its own context bounded by HandlerTimeout.
func (b *NATSBus) Subscribe(ctx context.Context, handler Handler) error {
	logger := zerolog.Ctx(ctx).With().Str("subject", b.config.Subject).Logger()

	sub, err := b.conn.QueueSubscribe(b.config.Subject, b.config.QueueGroup, func(msg *nats.Msg) {
		msgCtx, cancel := context.WithTimeout(ctx, b.config.HandlerTimeout)
		defer cancel()

		event, err := Decode(msg.Data)
		if err != nil {
			logger.Warn().Err(err).Msg("ignoring readiness message")
			return
		}
		if err := handler(msgCtx, event); err != nil {
			logger.Error().Err(err).Str("workflow_id", event.WorkflowID).Msg("readiness handler failed")
		}
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", b.config.Subject, err)
	}

	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()
	return nil
}

// Close drains subscriptions so in-flight handlers finish, then closes the connection.
func (b *NATSBus) Close() error {
	if b.conn == nil || b.conn.IsClosed() {
		return nil
	}
	return b.conn.Drain()
}
