package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/ignite/sendfabric/internal/pkg/logger"
)

// ConsumerConfig tunes a durable pull consumer's redelivery behavior.
type ConsumerConfig struct {
	Durable       string
	FilterSubject string
	MaxAckPending int
	MaxDeliver    int
	AckWait       time.Duration
}

// Consumer is a durable JetStream pull consumer bound to one subject filter.
type Consumer struct {
	sub *nats.Subscription
}

// NewConsumer creates (or binds to an existing) durable pull consumer on
// the given stream, scoped to a single filter subject so a module's
// workers never see another module's jobs.
func NewConsumer(client *Client, stream string, cfg ConsumerConfig) (*Consumer, error) {
	if cfg.MaxAckPending <= 0 {
		cfg.MaxAckPending = 100
	}
	if cfg.MaxDeliver <= 0 {
		cfg.MaxDeliver = 5
	}
	if cfg.AckWait <= 0 {
		cfg.AckWait = 30 * time.Second
	}

	js := client.JetStream()
	_, err := js.AddConsumer(stream, &nats.ConsumerConfig{
		Durable:       cfg.Durable,
		FilterSubject: cfg.FilterSubject,
		AckPolicy:     nats.AckExplicitPolicy,
		MaxAckPending: cfg.MaxAckPending,
		MaxDeliver:    cfg.MaxDeliver,
		AckWait:       cfg.AckWait,
		DeliverPolicy: nats.DeliverAllPolicy,
	})
	if err != nil && err != nats.ErrConsumerNameAlreadyInUse {
		return nil, fmt.Errorf("create consumer %s: %w", cfg.Durable, err)
	}

	sub, err := js.PullSubscribe(cfg.FilterSubject, cfg.Durable, nats.Bind(stream, cfg.Durable))
	if err != nil {
		return nil, fmt.Errorf("bind pull subscription %s: %w", cfg.Durable, err)
	}

	return &Consumer{sub: sub}, nil
}

// Fetch pulls up to batchSize pending messages, blocking up to timeout
// for at least one to arrive.
func (c *Consumer) Fetch(ctx context.Context, batchSize int, timeout time.Duration) ([]*nats.Msg, error) {
	msgs, err := c.sub.Fetch(batchSize, nats.MaxWait(timeout), nats.Context(ctx))
	if err != nil && err != nats.ErrTimeout {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	return msgs, nil
}

// Ack and NakWithDelay are thin wrappers so callers don't reach past
// this package into the nats.Msg API directly.
func Ack(msg *nats.Msg) {
	if err := msg.Ack(); err != nil {
		logger.Warn("ack failed", "subject", msg.Subject, "error", err.Error())
	}
}

func NakWithDelay(msg *nats.Msg, delay time.Duration) {
	if err := msg.NakWithDelay(delay); err != nil {
		logger.Warn("nak failed", "subject", msg.Subject, "error", err.Error())
	}
}

// Deliveries reports how many times this message has been (re)delivered,
// used by the tenant worker and reconciler pools to size the backoff delay
// of the next NAK. No dead-letter routing is done on it.
func Deliveries(msg *nats.Msg) int {
	meta, err := msg.Metadata()
	if err != nil {
		return 1
	}
	return int(meta.NumDelivered)
}

// Close unsubscribes the consumer.
func (c *Consumer) Close() error {
	return c.sub.Unsubscribe()
}
