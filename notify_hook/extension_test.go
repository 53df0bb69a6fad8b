package notifyhook_test

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/martingalian/stepflow/ext"
	"github.com/martingalian/stepflow/id"
	nh "github.com/martingalian/stepflow/notify_hook"
	"github.com/martingalian/stepflow/step"
)

// mockNotifier captures notices for verification.
type mockNotifier struct {
	mu      sync.Mutex
	notices []*nh.Notice
}

func (m *mockNotifier) Notify(_ context.Context, n *nh.Notice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notices = append(m.notices, n)
	return nil
}

func (m *mockNotifier) last() *nh.Notice {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.notices) == 0 {
		return nil
	}
	return m.notices[len(m.notices)-1]
}

func (m *mockNotifier) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.notices)
}

func (m *mockNotifier) findByAction(action string) *nh.Notice {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, n := range m.notices {
		if n.Action == action {
			return n
		}
	}
	return nil
}

func newTestStep() *step.Step {
	return &step.Step{
		ID:         id.NewStepID(),
		Name:       "fetch-candles",
		Queue:      "default",
		MaxRetries: 3,
		RetryCount: 1,
	}
}

func TestExtension_Name(t *testing.T) {
	e := nh.New(&mockNotifier{})
	if e.Name() != "notify-hook" {
		t.Errorf("expected name %q, got %q", "notify-hook", e.Name())
	}
}

func TestExtension_StepFailed(t *testing.T) {
	notifier := &mockNotifier{}
	e := nh.New(notifier)
	s := newTestStep()

	if err := e.OnStepFailed(context.Background(), s, errors.New("invalid symbol")); err != nil {
		t.Fatalf("OnStepFailed: %v", err)
	}

	n := notifier.last()
	if n == nil {
		t.Fatal("no notice delivered")
	}
	if n.Action != nh.ActionStepFailed {
		t.Errorf("Action: want %q, got %q", nh.ActionStepFailed, n.Action)
	}
	if n.Severity != nh.SeverityCritical {
		t.Errorf("Severity: want %q, got %q", nh.SeverityCritical, n.Severity)
	}
	if n.StepID != s.ID.String() {
		t.Errorf("StepID: want %q, got %q", s.ID.String(), n.StepID)
	}
	if n.StepName != "fetch-candles" {
		t.Errorf("StepName: want %q, got %q", "fetch-candles", n.StepName)
	}
	if !strings.Contains(n.Message, "invalid symbol") {
		t.Errorf("Message should carry the error, got %q", n.Message)
	}
	if n.Metadata["retry_count"] != 1 {
		t.Errorf("Metadata[retry_count]: want 1, got %v", n.Metadata["retry_count"])
	}
}

func TestExtension_StepDLQ(t *testing.T) {
	notifier := &mockNotifier{}
	e := nh.New(notifier)
	s := newTestStep()

	if err := e.OnStepDLQ(context.Background(), s, errors.New("max retries exceeded")); err != nil {
		t.Fatalf("OnStepDLQ: %v", err)
	}

	n := notifier.last()
	if n.Action != nh.ActionStepDLQ {
		t.Errorf("Action: want %q, got %q", nh.ActionStepDLQ, n.Action)
	}
	if n.Severity != nh.SeverityCritical {
		t.Errorf("Severity: want %q, got %q", nh.SeverityCritical, n.Severity)
	}
}

func TestExtension_StepRetrying(t *testing.T) {
	notifier := &mockNotifier{}
	e := nh.New(notifier)
	s := newTestStep()
	nextRun := time.Now().Add(30 * time.Second)

	if err := e.OnStepRetrying(context.Background(), s, 2, nextRun); err != nil {
		t.Fatalf("OnStepRetrying: %v", err)
	}

	n := notifier.last()
	if n.Action != nh.ActionStepRetrying {
		t.Errorf("Action: want %q, got %q", nh.ActionStepRetrying, n.Action)
	}
	if n.Severity != nh.SeverityWarning {
		t.Errorf("Severity: want %q, got %q", nh.SeverityWarning, n.Severity)
	}
	if n.Metadata["attempt"] != 2 {
		t.Errorf("Metadata[attempt]: want 2, got %v", n.Metadata["attempt"])
	}
}

func TestExtension_StepThrottled(t *testing.T) {
	notifier := &mockNotifier{}
	e := nh.New(notifier)
	s := newTestStep()

	if err := e.OnStepThrottled(context.Background(), s, 5*time.Second); err != nil {
		t.Fatalf("OnStepThrottled: %v", err)
	}

	n := notifier.last()
	if n.Action != nh.ActionStepThrottled {
		t.Errorf("Action: want %q, got %q", nh.ActionStepThrottled, n.Action)
	}
	if n.Metadata["wait_ms"] != int64(5000) {
		t.Errorf("Metadata[wait_ms]: want 5000, got %v", n.Metadata["wait_ms"])
	}
}

func TestExtension_ProviderBanned(t *testing.T) {
	notifier := &mockNotifier{}
	e := nh.New(notifier)
	until := time.Now().Add(time.Hour)

	if err := e.OnProviderBanned(context.Background(), "venue", until); err != nil {
		t.Fatalf("OnProviderBanned: %v", err)
	}

	n := notifier.last()
	if n.Action != nh.ActionProviderBanned {
		t.Errorf("Action: want %q, got %q", nh.ActionProviderBanned, n.Action)
	}
	if n.Severity != nh.SeverityCritical {
		t.Errorf("Severity: want %q, got %q", nh.SeverityCritical, n.Severity)
	}
	if n.Metadata["provider"] != "venue" {
		t.Errorf("Metadata[provider]: want %q, got %v", "venue", n.Metadata["provider"])
	}
}

func TestExtension_WithActions_FiltersDisabled(t *testing.T) {
	notifier := &mockNotifier{}
	e := nh.New(notifier, nh.WithActions(nh.ActionStepFailed, nh.ActionStepDLQ))

	ctx := context.Background()
	s := newTestStep()

	// Throttled is NOT enabled — silently skipped.
	if err := e.OnStepThrottled(ctx, s, time.Second); err != nil {
		t.Fatalf("OnStepThrottled: %v", err)
	}
	if notifier.count() != 0 {
		t.Errorf("expected 0 notices (throttled disabled), got %d", notifier.count())
	}

	// Failed IS enabled.
	if err := e.OnStepFailed(ctx, s, errors.New("boom")); err != nil {
		t.Fatalf("OnStepFailed: %v", err)
	}
	if notifier.count() != 1 {
		t.Errorf("expected 1 notice (failed enabled), got %d", notifier.count())
	}
}

func TestNotifierFunc(t *testing.T) {
	var captured *nh.Notice
	fn := nh.NotifierFunc(func(_ context.Context, n *nh.Notice) error {
		captured = n
		return nil
	})

	e := nh.New(fn)
	if err := e.OnStepFailed(context.Background(), newTestStep(), errors.New("boom")); err != nil {
		t.Fatalf("OnStepFailed: %v", err)
	}
	if captured == nil {
		t.Fatal("NotifierFunc was not called")
	}
	if captured.Action != nh.ActionStepFailed {
		t.Errorf("Action: want %q, got %q", nh.ActionStepFailed, captured.Action)
	}
}

func TestExtension_NotifierError_DoesNotPropagate(t *testing.T) {
	failing := nh.NotifierFunc(func(_ context.Context, _ *nh.Notice) error {
		return errors.New("channel down")
	})

	e := nh.New(failing)

	// Hook must NOT return an error — delivery failures never block the
	// step pipeline.
	if err := e.OnStepFailed(context.Background(), newTestStep(), errors.New("boom")); err != nil {
		t.Fatalf("expected no error (delivery failure swallowed), got: %v", err)
	}
}

func TestExtension_ViaRegistry(t *testing.T) {
	notifier := &mockNotifier{}
	e := nh.New(notifier)

	reg := ext.NewRegistry(slog.Default())
	reg.Register(e)

	ctx := context.Background()
	s := newTestStep()

	reg.EmitStepFailed(ctx, s, errors.New("fail"))
	reg.EmitStepDLQ(ctx, s, errors.New("dead"))
	reg.EmitStepRetrying(ctx, s, 1, time.Now())
	reg.EmitStepThrottled(ctx, s, time.Second)
	reg.EmitProviderBanned(ctx, "venue", time.Now().Add(time.Hour))

	allActions := nh.AllActions()
	if notifier.count() != len(allActions) {
		t.Fatalf("expected %d notices, got %d", len(allActions), notifier.count())
	}
	for _, action := range allActions {
		if notifier.findByAction(action) == nil {
			t.Errorf("missing notice for action %q", action)
		}
	}
}
