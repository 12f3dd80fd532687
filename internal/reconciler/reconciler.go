// Package reconciler consumes inbound webhook events off the broker and
// folds them into recipient status and batch counters. Grounded on the
// teacher's EventAggregator.processBatch (internal/worker/webhook_receiver.go):
// claim a micro-batch, group outcomes by message, apply a conditional
// update per message, log how many were processed. The teacher claims its
// batch from a Postgres staging table on a fixed ticker; this version pulls
// the same shape of batch off a durable broker consumer instead.
package reconciler

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/ignite/sendfabric/internal/broker"
	"github.com/ignite/sendfabric/internal/domain"
	"github.com/ignite/sendfabric/internal/hotstate"
	"github.com/ignite/sendfabric/internal/pkg/logger"
	"github.com/ignite/sendfabric/internal/repository"
)

// WebhookEvent mirrors internal/webhookingest.WebhookEvent's wire shape;
// kept as its own type rather than importing webhookingest so the
// reconciler only depends on the envelope, not the HTTP ingestion surface.
type WebhookEvent struct {
	Provider          string    `json:"provider"`
	ProviderMessageID string    `json:"providerMessageId"`
	EventType         string    `json:"eventType"`
	Timestamp         time.Time `json:"timestamp"`
}

// Outcome reports what the reconciler decided to do with the broker
// message, so the caller knows whether to Ack or NAK.
type Outcome int

const (
	OutcomeAck Outcome = iota
	OutcomeNak
)

// EventAppender buffers EventRecords for the periodic bulk flush;
// satisfied by *eventlog.Buffer.
type EventAppender interface {
	Append(ev domain.EventRecord)
}

// eventStatus maps a normalized webhook event type to the recipient status
// it drives and the batch counter field it bumps. opened/clicked events
// carry no recipient-status edge or counter in this schema, so they are
// acknowledged without further action.
var eventStatus = map[string]domain.RecipientStatus{
	"delivered":  domain.RecipientDelivered,
	"bounced":    domain.RecipientBounced,
	"complained": domain.RecipientComplained,
	"failed":     domain.RecipientFailed,
}

// Processor runs the dedup -> enrich -> transition -> count -> log
// pipeline described in SPEC_FULL §4.H for a single webhook event.
type Processor struct {
	hotstate   *hotstate.Store
	recipients repository.RecipientRepository
	batches    repository.BatchRepository
	events     EventAppender

	totalProcessed       int64
	totalDroppedTerminal int64
}

// NewProcessor creates a webhook reconciliation processor.
func NewProcessor(hs *hotstate.Store, recipients repository.RecipientRepository, batches repository.BatchRepository, events EventAppender) *Processor {
	return &Processor{hotstate: hs, recipients: recipients, batches: batches, events: events}
}

// Stats reports processor counters for observability.
func (p *Processor) Stats() map[string]int64 {
	return map[string]int64{
		"total_processed":          atomic.LoadInt64(&p.totalProcessed),
		"webhook_dropped_terminal": atomic.LoadInt64(&p.totalDroppedTerminal),
	}
}

// Process decodes and folds one webhook event into recipient and batch
// state, reporting whether the caller should Ack or NAK the broker message.
func (p *Processor) Process(ctx context.Context, raw []byte) Outcome {
	var ev WebhookEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		logger.Warn("reconciler: dropping malformed webhook event", "error", err.Error())
		return OutcomeAck // never redeliver an undecodable payload
	}

	// Step 1: dedup. A webhook can be delivered more than once by the
	// provider and the broker's own at-least-once redelivery can repeat a
	// message the reconciler already folded in; both are idempotent no-ops.
	dedupKey := broker.WebhookDedupKey(ev.Provider, ev.ProviderMessageID, ev.EventType)
	won, err := p.hotstate.MarkWebhookSeen(ctx, dedupKey)
	if err != nil {
		logger.Warn("reconciler: hotstate degraded, proceeding without dedup cache", "error", err.Error())
	} else if !won {
		return OutcomeAck
	}

	// Step 2: enrich. The recipient row carries its own batch id, so a
	// single lookup by provider message id resolves both.
	rec, err := p.recipients.GetByProviderMessageID(ctx, ev.Provider, ev.ProviderMessageID)
	if err == repository.ErrNotFound {
		logger.Warn("reconciler: no recipient for provider message id, dropping", "provider", ev.Provider, "provider_message_id", ev.ProviderMessageID)
		return OutcomeAck
	}
	if err != nil {
		logger.Warn("reconciler: failed to look up recipient, nak for redelivery", "error", err.Error())
		return OutcomeNak
	}

	atomic.AddInt64(&p.totalProcessed, 1)

	next, tracksStatus := eventStatus[ev.EventType]
	delta := repository.BatchCounterDelta{}
	applied := false

	if tracksStatus && !rec.CanTransitionTo(next) {
		atomic.AddInt64(&p.totalDroppedTerminal, 1)
		logger.Warn("reconciler: dropping webhook event, recipient already in a terminal state",
			"recipient_id", rec.ID, "current_status", string(rec.Status), "event_type", ev.EventType)
	}

	if tracksStatus && rec.CanTransitionTo(next) {
		if err := p.recipients.TransitionStatus(ctx, rec.ID, rec.Status, next, nil, nil); err != nil {
			if err == repository.ErrConflict {
				// Another reconciler replica (or a later event already
				// folded in) already moved this recipient; don't double-count.
			} else {
				logger.Warn("reconciler: failed to transition recipient, nak for redelivery", "recipient_id", rec.ID, "error", err.Error())
				return OutcomeNak
			}
		} else {
			applied = true
			applyCounterDelta(&delta, next)
		}
	}

	if applied {
		if err := p.batches.IncrementCounters(ctx, rec.BatchID, delta); err != nil {
			logger.Warn("reconciler: failed to increment batch counters", "batch_id", rec.BatchID, "error", err.Error())
		}
	}

	p.events.Append(domain.EventRecord{
		BatchID:     rec.BatchID,
		RecipientID: rec.ID,
		Type:        eventRecordType(ev.EventType),
		Provider:    ev.Provider,
		OccurredAt:  time.Now(),
	})

	return OutcomeAck
}

func applyCounterDelta(delta *repository.BatchCounterDelta, status domain.RecipientStatus) {
	switch status {
	case domain.RecipientDelivered:
		delta.Delivered = 1
	case domain.RecipientBounced:
		delta.Bounced = 1
	case domain.RecipientComplained:
		delta.Complained = 1
	case domain.RecipientFailed:
		delta.Failed = 1
	}
}

func eventRecordType(webhookEventType string) domain.EventType {
	switch webhookEventType {
	case "delivered":
		return domain.EventDelivered
	case "bounced":
		return domain.EventBounced
	case "complained":
		return domain.EventComplained
	case "failed":
		return domain.EventFailed
	default:
		return domain.EventType(webhookEventType)
	}
}
