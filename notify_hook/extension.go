package notifyhook

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/martingalian/stepflow/ext"
	"github.com/martingalian/stepflow/step"
)

// Compile-time interface checks.
var (
	_ ext.Extension      = (*Extension)(nil)
	_ ext.StepFailed     = (*Extension)(nil)
	_ ext.StepDLQ        = (*Extension)(nil)
	_ ext.StepRetrying   = (*Extension)(nil)
	_ ext.StepThrottled  = (*Extension)(nil)
	_ ext.ProviderBanned = (*Extension)(nil)
)

// Notice is one notification ready for delivery.
type Notice struct {
	Action   string         `json:"action"`
	Severity string         `json:"severity"`
	Message  string         `json:"message"`
	StepID   string         `json:"step_id,omitempty"`
	StepName string         `json:"step_name,omitempty"`
	Queue    string         `json:"queue,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Notifier is the delivery interface callers must implement. It is defined
// locally so this package has no dependency on any transport — callers
// inject their chat/email/pager client at wiring time.
type Notifier interface {
	Notify(ctx context.Context, n *Notice) error
}

// NotifierFunc is an adapter to use a plain function as a Notifier.
type NotifierFunc func(ctx context.Context, n *Notice) error

func (f NotifierFunc) Notify(ctx context.Context, n *Notice) error {
	return f(ctx, n)
}

// Extension forwards step lifecycle events to a Notifier.
type Extension struct {
	notifier Notifier
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that delivers notices through the provided
// Notifier.
func New(n Notifier, opts ...Option) *Extension {
	e := &Extension{
		notifier: n,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements ext.Extension.
func (e *Extension) Name() string { return "notify-hook" }

// OnStepFailed implements ext.StepFailed.
func (e *Extension) OnStepFailed(ctx context.Context, s *step.Step, stepErr error) error {
	return e.send(ctx, ActionStepFailed, SeverityCritical,
		fmt.Sprintf("step %s (%s) failed: %v", s.ID, s.Name, stepErr),
		s,
		"retry_count", s.RetryCount,
		"max_retries", s.MaxRetries,
	)
}

// OnStepDLQ implements ext.StepDLQ.
func (e *Extension) OnStepDLQ(ctx context.Context, s *step.Step, stepErr error) error {
	return e.send(ctx, ActionStepDLQ, SeverityCritical,
		fmt.Sprintf("step %s (%s) moved to dead letter queue: %v", s.ID, s.Name, stepErr),
		s,
		"retry_count", s.RetryCount,
	)
}

// OnStepRetrying implements ext.StepRetrying.
func (e *Extension) OnStepRetrying(ctx context.Context, s *step.Step, attempt int, nextRunAt time.Time) error {
	return e.send(ctx, ActionStepRetrying, SeverityWarning,
		fmt.Sprintf("step %s (%s) retrying, attempt %d", s.ID, s.Name, attempt),
		s,
		"attempt", attempt,
		"next_run_at", nextRunAt.Format(time.RFC3339),
	)
}

// OnStepThrottled implements ext.StepThrottled.
func (e *Extension) OnStepThrottled(ctx context.Context, s *step.Step, wait time.Duration) error {
	return e.send(ctx, ActionStepThrottled, SeverityInfo,
		fmt.Sprintf("step %s (%s) throttled for %s", s.ID, s.Name, wait),
		s,
		"wait_ms", wait.Milliseconds(),
	)
}

// OnProviderBanned implements ext.ProviderBanned.
func (e *Extension) OnProviderBanned(ctx context.Context, providerName string, until time.Time) error {
	if !e.actionEnabled(ActionProviderBanned) {
		return nil
	}
	n := &Notice{
		Action:   ActionProviderBanned,
		Severity: SeverityCritical,
		Message:  fmt.Sprintf("provider %s banned until %s", providerName, until.Format(time.RFC3339)),
		Metadata: map[string]any{
			"provider":  providerName,
			"ban_until": until.Format(time.RFC3339),
		},
	}
	e.deliver(ctx, n)
	return nil
}

// send builds a step-scoped notice if the action is enabled. The kvPairs
// argument is a list of key-value pairs added to Metadata.
func (e *Extension) send(ctx context.Context, action, severity, message string, s *step.Step, kvPairs ...any) error {
	if !e.actionEnabled(action) {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	e.deliver(ctx, &Notice{
		Action:   action,
		Severity: severity,
		Message:  message,
		StepID:   s.ID.String(),
		StepName: s.Name,
		Queue:    s.Queue,
		Metadata: meta,
	})
	return nil
}

func (e *Extension) actionEnabled(action string) bool {
	return e.enabled == nil || e.enabled[action]
}

func (e *Extension) deliver(ctx context.Context, n *Notice) {
	if err := e.notifier.Notify(ctx, n); err != nil {
		e.logger.Warn("notify_hook: failed to deliver notice",
			"action", n.Action,
			"step_id", n.StepID,
			"error", err,
		)
	}
}
