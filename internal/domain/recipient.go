package domain

import "time"

// RecipientStatus enumerates the lifecycle of a single recipient within a batch.
type RecipientStatus string

const (
	RecipientPending    RecipientStatus = "pending"
	RecipientQueued     RecipientStatus = "queued"
	RecipientSent       RecipientStatus = "sent"
	RecipientDelivered  RecipientStatus = "delivered"
	RecipientBounced    RecipientStatus = "bounced"
	RecipientComplained RecipientStatus = "complained"
	RecipientFailed     RecipientStatus = "failed"
)

// IsTerminal reports whether a recipient in this status will never be
// touched by the tenant worker again. Delivered/bounced/complained are
// reachable only via webhook reconciliation, not the send path itself.
func (s RecipientStatus) IsTerminal() bool {
	switch s {
	case RecipientDelivered, RecipientBounced, RecipientComplained, RecipientFailed:
		return true
	}
	return false
}

// recipientTransitions enumerates the allowed status-to-status edges for a
// recipient. Notably there is no delivered -> bounced edge: once a webhook
// confirms delivery, a later bounce report is dropped rather than
// overwriting it (see the Open Question decision recorded in DESIGN.md).
// A complaint is different: providers apply it WHERE status IN ('sent',
// 'delivered'), so delivered -> complained stays a legal edge even though
// delivered is otherwise terminal to the send path.
var recipientTransitions = map[RecipientStatus][]RecipientStatus{
	RecipientPending:   {RecipientQueued, RecipientFailed},
	RecipientQueued:    {RecipientSent, RecipientFailed},
	RecipientSent:      {RecipientDelivered, RecipientBounced, RecipientComplained, RecipientFailed},
	RecipientDelivered: {RecipientComplained},
}

// Recipient is one addressee within a Batch, identified by a channel-opaque
// Identifier (email address, E.164 phone number, webhook URL, or push token).
type Recipient struct {
	ID                string          `json:"id" db:"id"`
	BatchID           string          `json:"batch_id" db:"batch_id"`
	Identifier        string          `json:"identifier" db:"identifier"`
	Variables         map[string]string `json:"variables" db:"variables"` // per-recipient {{key}} substitution values
	Status            RecipientStatus `json:"status" db:"status"`
	ProviderMessageID *string         `json:"provider_message_id" db:"provider_message_id"`
	Attempts          int             `json:"attempts" db:"attempts"`
	LastError         *string         `json:"last_error" db:"last_error"`
	QueuedAt          *time.Time      `json:"queued_at" db:"queued_at"`
	SentAt            *time.Time      `json:"sent_at" db:"sent_at"`
	ResolvedAt        *time.Time      `json:"resolved_at" db:"resolved_at"`
	CreatedAt         time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at" db:"updated_at"`
}

// CanTransitionTo reports whether moving from the recipient's current status
// to next is a legal edge in the recipient state machine.
func (r *Recipient) CanTransitionTo(next RecipientStatus) bool {
	for _, allowed := range recipientTransitions[r.Status] {
		if allowed == next {
			return true
		}
	}
	return false
}
