// Package tenantworker implements the per-tenant send pipeline job
// algorithm: idempotency gate, composed rate limiting, payload templating,
// module invocation, dry-run bypass, and the outcome write (a conditional
// recipient update followed by separate batch-counter, message-index and
// event writes; these steps do not share a transaction). It
// generalizes the teacher's internal/worker/send_worker.go processItem
// (suppression check → build message → select sender → send → mark
// outcome) from a single-ESP, Postgres-queue worker into a broker-consuming,
// multi-channel one.
package tenantworker

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/ignite/sendfabric/internal/domain"
	"github.com/ignite/sendfabric/internal/hotstate"
	"github.com/ignite/sendfabric/internal/modules"
	"github.com/ignite/sendfabric/internal/pkg/logger"
	"github.com/ignite/sendfabric/internal/ratelimit"
	"github.com/ignite/sendfabric/internal/repository"
)

// Job is the decoded broker message for a single recipient send.
type Job struct {
	BatchID     string `json:"batchId"`
	RecipientID string `json:"recipientId"`
	UserID      string `json:"userId"`
}

// Outcome reports what the job algorithm decided to do with the broker
// message, so the caller knows whether to Ack or NAK.
type Outcome int

const (
	OutcomeAck Outcome = iota
	OutcomeNak
)

var templateVarPattern = regexp.MustCompile(`\{\{(\w+)\}\}`)

// EventAppender buffers EventRecords for the periodic bulk flush;
// satisfied by *eventlog.Buffer.
type EventAppender interface {
	Append(ev domain.EventRecord)
}

// Processor runs the per-job algorithm described in SPEC_FULL §4.D.
type Processor struct {
	hotstate   *hotstate.Store
	rates      *ratelimit.Fabric
	registry   *modules.Registry
	recipients repository.RecipientRepository
	batches    repository.BatchRepository
	msgindex   repository.MessageIndexRepository
	events     EventAppender

	rateAcquireTimeout time.Duration
	moduleTimeout      time.Duration
}

// NewProcessor creates a per-tenant job processor.
func NewProcessor(
	hs *hotstate.Store,
	rates *ratelimit.Fabric,
	registry *modules.Registry,
	recipients repository.RecipientRepository,
	batches repository.BatchRepository,
	msgindex repository.MessageIndexRepository,
	events EventAppender,
) *Processor {
	return &Processor{
		hotstate:           hs,
		rates:              rates,
		registry:           registry,
		recipients:         recipients,
		batches:            batches,
		msgindex:           msgindex,
		events:             events,
		rateAcquireTimeout: 5 * time.Second,
		moduleTimeout:      30 * time.Second,
	}
}

// Process runs one job through the full algorithm and reports whether the
// caller should Ack or NAK the underlying broker message. batch and cfg are
// loaded by the caller (internal/tenantworker.Pool) once per fetch.
func (p *Processor) Process(ctx context.Context, job Job, batch *domain.Batch, cfg *domain.SendConfig) Outcome {
	rec, err := p.recipients.Get(ctx, job.RecipientID)
	if err != nil {
		logger.Warn("tenantworker: failed to load recipient, nak for redelivery", "recipient_id", job.RecipientID, "error", err.Error())
		return OutcomeNak
	}

	// Step 1: terminal-status gate only. The idempotency claim itself is
	// deferred until after rate limiting succeeds (step 2) - claiming it
	// here would burn the dedup key on a NAK that was only ever backpressure,
	// permanently dropping the recipient on the next redelivery.
	if rec.Status.IsTerminal() {
		return OutcomeAck
	}

	// Step 2: compose rate limit — system bucket, then (managed mode only)
	// the shared provider bucket, then the per-config bucket.
	systemBucket := ratelimit.SystemBucketName(string(cfg.Module))
	systemLimit := ratelimit.SystemLimits[string(cfg.Module)]
	res, err := p.rates.AcquireWithTimeout(ctx, systemBucket, systemLimit, 1, p.rateAcquireTimeout)
	if err != nil || !res.Allowed {
		return OutcomeNak
	}

	if cfg.Mode == domain.ModeManaged {
		providerBucket := ratelimit.ProviderBucketName(cfg.Provider)
		providerLimit := ratelimit.ProviderLimits[cfg.Provider]
		res, err = p.rates.AcquireWithTimeout(ctx, providerBucket, providerLimit, 1, p.rateAcquireTimeout)
		if err != nil || !res.Allowed {
			return OutcomeNak
		}
	}

	configBucket := ratelimit.ConfigBucketName(cfg.ID)
	configLimit := ratelimit.Bucket{RequestsPerSecond: cfg.RateLimit.RequestsPerSecond, DailyLimit: cfg.RateLimit.DailyLimit}
	res, err = p.rates.AcquireWithTimeout(ctx, configBucket, configLimit, 1, p.rateAcquireTimeout)
	if err != nil || !res.Allowed {
		return OutcomeNak
	}

	won, err := p.hotstate.MarkSent(ctx, job.BatchID+":"+job.RecipientID)
	if err != nil {
		logger.Warn("tenantworker: hotstate degraded, proceeding without idempotency cache", "error", err.Error())
	} else if !won {
		return OutcomeAck
	}

	// Step 3: build payload, merging batchPayload > sendConfig.config, then
	// substituting {{key}} template variables from the recipient.
	fields, err := mergePayloadFields(batch.Payload, cfg.Config)
	if err != nil {
		return p.writeOutcome(ctx, rec, batch, domain.RecipientFailed, "", "invalid payload: "+err.Error())
	}
	payload := modules.Payload{Identifier: rec.Identifier, Fields: substituteFields(fields, rec.Variables)}

	// Step 4 + 5: invoke module, with dry-run short-circuit.
	mod, err := p.registry.Lookup(cfg.Module)
	if err != nil {
		return p.writeOutcome(ctx, rec, batch, domain.RecipientFailed, "", err.Error())
	}

	var result modules.ExecResult
	if batch.DryRun {
		result = modules.ExecResult{Success: true, ProviderMessageID: "dryrun-" + rec.ID, StatusCode: 200}
	} else {
		execCtx, cancel := context.WithTimeout(ctx, p.moduleTimeout)
		result, err = mod.Execute(execCtx, payload, modules.ProviderConfig{Provider: cfg.Provider, Settings: payload.Fields})
		cancel()
		if err != nil {
			return p.writeOutcome(ctx, rec, batch, domain.RecipientFailed, "", err.Error())
		}
	}

	if !result.Success {
		return p.writeOutcome(ctx, rec, batch, domain.RecipientFailed, result.ProviderMessageID, result.Error)
	}
	return p.writeOutcome(ctx, rec, batch, domain.RecipientSent, result.ProviderMessageID, "")
}

// writeOutcome performs step 6: update the recipient, bump the batch
// counter, write the message index, and append an EventRecord. Persistent
// storage errors cause a NAK so the broker redelivers the job.
func (p *Processor) writeOutcome(ctx context.Context, rec *domain.Recipient, batch *domain.Batch, next domain.RecipientStatus, providerMessageID, errMsg string) Outcome {
	var msgIDPtr, errPtr *string
	if providerMessageID != "" {
		msgIDPtr = &providerMessageID
	}
	if errMsg != "" {
		errPtr = &errMsg
	}

	if err := p.recipients.TransitionStatus(ctx, rec.ID, rec.Status, next, msgIDPtr, errPtr); err != nil {
		if err == repository.ErrConflict {
			// Another replica already resolved this recipient; treat as success.
			return OutcomeAck
		}
		logger.Warn("tenantworker: failed to write recipient outcome, nak for redelivery", "recipient_id", rec.ID, "error", err.Error())
		return OutcomeNak
	}

	delta := repository.BatchCounterDelta{}
	if next == domain.RecipientSent {
		delta.Sent = 1
	} else {
		delta.Failed = 1
	}
	if err := p.batches.IncrementCounters(ctx, batch.ID, delta); err != nil {
		logger.Warn("tenantworker: failed to increment batch counters", "batch_id", batch.ID, "error", err.Error())
	}

	if next == domain.RecipientSent && providerMessageID != "" {
		if err := p.msgindex.Create(ctx, &domain.MessageIndex{
			ProviderMessageID: providerMessageID,
			Provider:          "",
			BatchID:           batch.ID,
			RecipientID:       rec.ID,
		}); err != nil {
			logger.Warn("tenantworker: failed to write message index", "recipient_id", rec.ID, "error", err.Error())
		}
	}

	eventType := domain.EventSent
	if next == domain.RecipientFailed {
		eventType = domain.EventFailed
	}
	p.events.Append(domain.EventRecord{
		BatchID:     batch.ID,
		RecipientID: rec.ID,
		Type:        eventType,
		Detail:      errMsg,
		OccurredAt:  time.Now(),
	})

	return OutcomeAck
}

// mergePayloadFields decodes the batch's payload template and the send
// config's provider settings into one field map, with batchPayload taking
// precedence over sendConfig.config per spec §4.D step 3.
func mergePayloadFields(batchPayload, sendConfigConfig []byte) (map[string]interface{}, error) {
	out := make(map[string]interface{})
	if len(sendConfigConfig) > 0 {
		var cfgFields map[string]interface{}
		if err := json.Unmarshal(sendConfigConfig, &cfgFields); err != nil {
			return nil, fmt.Errorf("decode send config fields: %w", err)
		}
		for k, v := range cfgFields {
			out[k] = v
		}
	}
	if len(batchPayload) > 0 {
		var batchFields map[string]interface{}
		if err := json.Unmarshal(batchPayload, &batchFields); err != nil {
			return nil, fmt.Errorf("decode batch payload: %w", err)
		}
		for k, v := range batchFields {
			out[k] = v
		}
	}
	return out, nil
}

// substituteFields fills `{{key}}` template placeholders in string-valued
// fields using recipient variables; missing keys are left literal per spec
// §4.D step 3.
func substituteFields(fields map[string]interface{}, variables map[string]string) map[string]interface{} {
	out := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		s, ok := v.(string)
		if !ok {
			out[k] = v
			continue
		}
		out[k] = templateVarPattern.ReplaceAllStringFunc(s, func(match string) string {
			key := templateVarPattern.FindStringSubmatch(match)[1]
			if val, ok := variables[key]; ok {
				return val
			}
			return match
		})
	}
	return out
}
