package domain

import "time"

// BatchStatus enumerates the lifecycle states of a batch.
type BatchStatus string

const (
	BatchDraft      BatchStatus = "draft"
	BatchScheduled  BatchStatus = "scheduled"
	BatchQueued     BatchStatus = "queued"
	BatchProcessing BatchStatus = "processing"
	BatchPaused     BatchStatus = "paused"
	BatchCompleted  BatchStatus = "completed"
	BatchFailed     BatchStatus = "failed"
	BatchCancelled  BatchStatus = "cancelled"
)

// IsTerminal reports whether a batch in this status will never transition again.
func (s BatchStatus) IsTerminal() bool {
	return s == BatchCompleted || s == BatchFailed || s == BatchCancelled
}

// batchTransitions enumerates the allowed status-to-status edges. An edge
// not present here is rejected by Batch.CanTransitionTo.
var batchTransitions = map[BatchStatus][]BatchStatus{
	BatchDraft:      {BatchScheduled, BatchQueued, BatchCancelled},
	BatchScheduled:  {BatchQueued, BatchCancelled},
	BatchQueued:     {BatchProcessing, BatchCancelled},
	BatchProcessing: {BatchPaused, BatchCompleted, BatchFailed, BatchCancelled},
	BatchPaused:     {BatchProcessing, BatchCancelled},
}

// Batch is a single send request: a SendConfig, a recipient set and a
// payload template, tracked through to completion.
type Batch struct {
	ID         string      `json:"id" db:"id"`
	UserID     string      `json:"user_id" db:"user_id"`
	SendConfigID string    `json:"send_config_id" db:"send_config_id"`
	Module     Module      `json:"module" db:"module"`
	Status     BatchStatus `json:"status" db:"status"`
	DryRun     bool        `json:"dry_run" db:"dry_run"`
	Payload    []byte      `json:"payload" db:"payload"` // JSON template shared by all recipients
	ScheduledAt *time.Time `json:"scheduled_at" db:"scheduled_at"`

	TotalRecipients int `json:"total_recipients" db:"total_recipients"`
	SentCount       int `json:"sent_count" db:"sent_count"`
	DeliveredCount  int `json:"delivered_count" db:"delivered_count"`
	BouncedCount    int `json:"bounced_count" db:"bounced_count"`
	ComplainedCount int `json:"complained_count" db:"complained_count"`
	FailedCount     int `json:"failed_count" db:"failed_count"`
	ClampCount      int `json:"clamp_count" db:"clamp_count"` // counter increments cut off by the LEAST(..., total_recipients) clamp

	StartedAt   *time.Time `json:"started_at" db:"started_at"`
	CompletedAt *time.Time `json:"completed_at" db:"completed_at"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
}

// IsTerminal reports true if the batch is in a final state.
func (b *Batch) IsTerminal() bool {
	return b.Status.IsTerminal()
}

// CanTransitionTo reports whether moving from the batch's current status to
// next is a legal edge in the batch state machine.
func (b *Batch) CanTransitionTo(next BatchStatus) bool {
	for _, allowed := range batchTransitions[b.Status] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsComplete reports whether every enumerated recipient has reached a
// terminal per-recipient outcome, i.e. the batch is done processing even
// though webhook reconciliation may still adjust delivered/bounced counts.
func (b *Batch) IsComplete() bool {
	return b.TotalRecipients > 0 &&
		b.SentCount+b.FailedCount >= b.TotalRecipients
}
