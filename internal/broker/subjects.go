package broker

import "fmt"

// Subjects for the jobs stream are scoped by module so a tenant worker can
// subscribe to only the channels it handles.
func SubjectJobsAll() string { return "sendfabric.jobs.>" }

// SubjectJob builds the publish subject for a single recipient job.
func SubjectJob(module string, batchID string) string {
	return fmt.Sprintf("sendfabric.jobs.%s.%s", module, batchID)
}

// SubjectJobsForModule builds the consumer filter subject for a module's
// durable pull consumer.
func SubjectJobsForModule(module string) string {
	return fmt.Sprintf("sendfabric.jobs.%s.*", module)
}

// SubjectWebhooksAll is the wildcard subject covering every provider's
// inbound webhook events.
func SubjectWebhooksAll() string { return "sendfabric.webhooks.>" }

// SubjectWebhook builds the publish subject for a single provider event,
// scoped by event type so the reconciler could filter per type if it ever
// needs to, though it currently subscribes to SubjectWebhooksAll, the
// wildcard covering every provider.
func SubjectWebhook(provider, eventType string) string {
	return fmt.Sprintf("sendfabric.webhooks.%s.%s", provider, eventType)
}

// SubjectWebhooksForProvider builds the reconciler's wildcard filter
// subject for a single provider's events.
func SubjectWebhooksForProvider(provider string) string {
	return fmt.Sprintf("sendfabric.webhooks.%s.*", provider)
}

// SubjectOrchestrationBatch is the subject the leader-only discoverer
// publishes one lightweight {batchId,userId} notice to per queued batch;
// any replica's processor claims it and does the actual recipient paging.
func SubjectOrchestrationBatch() string { return "sendfabric.orchestration.batch" }

// DedupKey builds the dedup identifier used as the broker's Nats-Msg-Id
// header, so a recipient job published twice (e.g. by the processor and
// then by a recovery-scan republish) is only ever delivered once within
// the stream's dedup window. The tenant worker's hot-state idempotency
// key is separate ({batchId}:{recipientId}).
func DedupKey(recipientID string) string {
	return "job:" + recipientID
}

// WebhookDedupKey builds the dedup identifier for an inbound webhook event,
// used both as the broker's Nats-Msg-Id header and the hot-state
// distributed dedup cache key.
func WebhookDedupKey(provider, providerMessageID, eventType string) string {
	return "webhook:" + provider + ":" + providerMessageID + ":" + eventType
}
