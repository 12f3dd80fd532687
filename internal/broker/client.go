// Package broker wraps NATS JetStream for the durable, at-least-once
// delivery the send pipeline needs between the orchestrator (publisher),
// the tenant workers (pull consumers) and the webhook ingestor.
package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/ignite/sendfabric/internal/pkg/logger"
)

// Config mirrors the connection tuning knobs the rest of the corpus
// exposes for its NATS client, extended with the JetStream stream
// retention settings this pipeline needs (dedup window, max age,
// max messages per subject).
type Config struct {
	URL                 string
	MaxReconnects       int
	ReconnectWait       time.Duration
	DedupWindow         time.Duration
	JobsMaxAge          time.Duration
	WebhooksMaxAge      time.Duration
	OrchestrationMaxAge time.Duration
	MaxMsgsPerSubject   int64
}

// Client owns the NATS connection and JetStream context used by every
// publisher and consumer in the pipeline.
type Client struct {
	conn *nats.Conn
	js   nats.JetStreamContext
}

// StreamJobs is the durable stream holding per-recipient send jobs.
const StreamJobs = "SENDFABRIC_JOBS"

// StreamWebhooks is the durable stream holding inbound provider webhook events.
const StreamWebhooks = "SENDFABRIC_WEBHOOKS"

// StreamOrchestration is the durable stream holding the discoverer's
// lightweight per-batch notices consumed by the orchestrator's processor.
const StreamOrchestration = "SENDFABRIC_ORCHESTRATION"

// Connect dials NATS, opens a JetStream context, and ensures the three
// streams this pipeline needs exist with the configured retention.
func Connect(cfg Config) (*Client, error) {
	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.ConnectHandler(func(c *nats.Conn) {
			logger.Info("broker connected", "url", c.ConnectedUrl())
		}),
		nats.DisconnectErrHandler(func(c *nats.Conn, err error) {
			if err != nil {
				logger.Warn("broker disconnected", "error", err.Error())
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("broker reconnected", "url", c.ConnectedUrl())
		}),
		nats.ErrorHandler(func(c *nats.Conn, s *nats.Subscription, err error) {
			logger.Error("broker error", "error", err.Error())
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open jetstream context: %w", err)
	}

	client := &Client{conn: conn, js: js}
	if err := client.ensureStream(StreamJobs, []string{SubjectJobsAll()}, cfg.JobsMaxAge, cfg.DedupWindow, cfg.MaxMsgsPerSubject); err != nil {
		conn.Close()
		return nil, err
	}
	if err := client.ensureStream(StreamWebhooks, []string{SubjectWebhooksAll()}, cfg.WebhooksMaxAge, cfg.DedupWindow, 0); err != nil {
		conn.Close()
		return nil, err
	}
	if err := client.ensureStream(StreamOrchestration, []string{SubjectOrchestrationBatch()}, cfg.OrchestrationMaxAge, cfg.DedupWindow, 0); err != nil {
		conn.Close()
		return nil, err
	}

	return client, nil
}

func (c *Client) ensureStream(name string, subjects []string, maxAge, dedupWindow time.Duration, maxMsgsPerSubject int64) error {
	_, err := c.js.StreamInfo(name)
	if err == nil {
		return nil
	}
	if err != nats.ErrStreamNotFound {
		return fmt.Errorf("inspect stream %s: %w", name, err)
	}

	_, err = c.js.AddStream(&nats.StreamConfig{
		Name:              name,
		Subjects:          subjects,
		Retention:         nats.LimitsPolicy,
		MaxAge:            maxAge,
		Duplicates:        dedupWindow,
		MaxMsgsPerSubject: maxMsgsPerSubject,
		Storage:           nats.FileStorage,
	})
	if err != nil {
		return fmt.Errorf("create stream %s: %w", name, err)
	}
	logger.Info("broker stream created", "stream", name, "subjects", fmt.Sprint(subjects))
	return nil
}

// JetStream exposes the underlying JetStream context for consumer setup.
func (c *Client) JetStream() nats.JetStreamContext { return c.js }

// Publish publishes to subject with a Nats-Msg-Id header for JetStream's
// built-in duplicate suppression over the stream's dedup window.
func (c *Client) Publish(ctx context.Context, subject string, dedupID string, data []byte) error {
	msg := nats.NewMsg(subject)
	msg.Data = data
	if dedupID != "" {
		msg.Header.Set(nats.MsgIdHdr, dedupID)
	}
	_, err := c.js.PublishMsg(msg, nats.Context(ctx))
	if err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}
	return nil
}

// IsConnected reports whether the underlying NATS connection is up.
func (c *Client) IsConnected() bool {
	return c.conn != nil && c.conn.IsConnected()
}

// Close drains and closes the connection.
func (c *Client) Close() {
	if c.conn != nil {
		_ = c.conn.Drain()
	}
}
