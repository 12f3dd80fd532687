package domain

import "time"

// EventType enumerates the kinds of events appended to a batch's event log.
type EventType string

const (
	EventQueued     EventType = "queued"
	EventSent       EventType = "sent"
	EventDelivered  EventType = "delivered"
	EventBounced    EventType = "bounced"
	EventComplained EventType = "complained"
	EventFailed     EventType = "failed"
	EventClamped    EventType = "clamped"
	EventDeadLetter EventType = "dead_letter"
)

// EventRecord is an immutable, append-only record of something that
// happened to a recipient within a batch. Event records are the audit
// trail behind the batch's aggregate counters and are bulk-inserted by the
// event log buffer rather than written one row at a time.
type EventRecord struct {
	ID          string    `json:"id" db:"id"`
	BatchID     string    `json:"batch_id" db:"batch_id"`
	RecipientID string    `json:"recipient_id" db:"recipient_id"`
	Type        EventType `json:"type" db:"type"`
	Provider    string    `json:"provider" db:"provider"`
	Detail      string    `json:"detail" db:"detail"` // free-form provider reason/diagnostic, if any
	OccurredAt  time.Time `json:"occurred_at" db:"occurred_at"`
}

// MessageIndex maps a provider-assigned message ID back to the
// (batch, recipient) pair it belongs to, so inbound webhooks - which only
// ever carry the provider's own identifier - can be reconciled against the
// right recipient row.
type MessageIndex struct {
	ProviderMessageID string    `json:"provider_message_id" db:"provider_message_id"`
	Provider          string    `json:"provider" db:"provider"`
	BatchID           string    `json:"batch_id" db:"batch_id"`
	RecipientID       string    `json:"recipient_id" db:"recipient_id"`
	CreatedAt         time.Time `json:"created_at" db:"created_at"`
}
