package notifyhook

// Notification actions. Each constant corresponds to one ext lifecycle
// hook and becomes the Action field of the notice.
const (
	ActionStepFailed     = "step.failed"
	ActionStepDLQ        = "step.dlq"
	ActionStepRetrying   = "step.retrying"
	ActionStepThrottled  = "step.throttled"
	ActionProviderBanned = "provider.banned"
)

// Severity levels attached to notices.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// AllActions returns every action this extension can emit.
func AllActions() []string {
	return []string{
		ActionStepFailed,
		ActionStepDLQ,
		ActionStepRetrying,
		ActionStepThrottled,
		ActionProviderBanned,
	}
}
