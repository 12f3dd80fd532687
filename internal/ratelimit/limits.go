package ratelimit

// SystemLimits gives the global per-channel throughput ceiling (§4.A point
// 1): the absolute cap the platform enforces on a module regardless of
// provider or tenant.
var SystemLimits = map[string]Bucket{
	"email":   {RequestsPerSecond: 200, Burst: 400, DailyLimit: 5000000},
	"sms":     {RequestsPerSecond: 100, Burst: 200, DailyLimit: 1000000},
	"webhook": {RequestsPerSecond: 500, Burst: 1000, DailyLimit: 10000000},
	"push":    {RequestsPerSecond: 300, Burst: 600, DailyLimit: 5000000},
}

// ProviderLimits gives the shared platform-credentials ceiling per provider
// (§4.A point 2), acquired only by SendConfigs running in managed mode:
// every managed-mode tenant sending through the platform's own ses/telnyx/
// resend/generic credentials draws from the same bucket, since they share
// that account's provider-side rate limit.
var ProviderLimits = map[string]Bucket{
	"ses":     {RequestsPerSecond: 14, Burst: 50, DailyLimit: 2000000},
	"telnyx":  {RequestsPerSecond: 50, Burst: 200, DailyLimit: 500000},
	"resend":  {RequestsPerSecond: 10, Burst: 40, DailyLimit: 1000000},
	"generic": {RequestsPerSecond: 25, Burst: 100, DailyLimit: 1000000},
}

// SystemBucketName builds the global per-channel bucket key.
func SystemBucketName(module string) string {
	return "system:" + module
}

// ProviderBucketName builds the shared managed-mode bucket key for a provider.
func ProviderBucketName(provider string) string {
	return "managed:" + provider
}

// ConfigBucketName builds the per-SendConfig bucket key.
func ConfigBucketName(sendConfigID string) string {
	return "config:" + sendConfigID
}
