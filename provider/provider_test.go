package provider_test

import (
	"errors"
	"testing"
	"time"

	"github.com/martingalian/stepflow"
	"github.com/martingalian/stepflow/classify"
	"github.com/martingalian/stepflow/provider"
	"github.com/martingalian/stepflow/throttle"
)

func binanceFactory() *provider.Handler {
	return &provider.Handler{
		Name: "binance",
		Throttle: throttle.Policy{
			Provider:          "binance",
			Window:            10 * time.Second,
			RequestsPerWindow: 3,
			MinDelay:          500 * time.Millisecond,
			QuotaLimits:       map[time.Duration]int64{time.Minute: 1200},
			SafetyThreshold:   0.9,
		},
		Classification: &classify.Table{
			RetryablePatterns: []string{"Internal error"},
			RateLimitCodes:    []int{429, 418},
		},
	}
}

func TestRegistry_RegisterAndResolve(t *testing.T) {
	r := provider.NewRegistry()
	r.Register("binance", binanceFactory)

	h, err := r.Resolve("binance")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h.Name != "binance" {
		t.Errorf("name = %q, want %q", h.Name, "binance")
	}
	if h.Throttle.RequestsPerWindow != 3 {
		t.Errorf("requests per window = %d, want 3", h.Throttle.RequestsPerWindow)
	}
	if h.Classification == nil {
		t.Error("classification table missing")
	}
}

func TestRegistry_ResolveUnknown(t *testing.T) {
	r := provider.NewRegistry()

	_, err := r.Resolve("nope")
	if !errors.Is(err, stepflow.ErrUnknownProvider) {
		t.Fatalf("expected ErrUnknownProvider, got %v", err)
	}
}

func TestRegistry_FreshHandlerPerResolve(t *testing.T) {
	r := provider.NewRegistry()
	r.Register("binance", binanceFactory)

	a, _ := r.Resolve("binance")
	b, _ := r.Resolve("binance")
	if a == b {
		t.Error("expected a fresh handler per resolution")
	}

	// Mutating one resolution must not leak into the next.
	a.Throttle.RequestsPerWindow = 999
	c, _ := r.Resolve("binance")
	if c.Throttle.RequestsPerWindow != 3 {
		t.Errorf("factory state leaked: requests per window = %d", c.Throttle.RequestsPerWindow)
	}
}

func TestRegistry_ReplaceFactory(t *testing.T) {
	r := provider.NewRegistry()
	r.Register("binance", binanceFactory)
	r.Register("binance", func() *provider.Handler {
		return &provider.Handler{Name: "binance", Throttle: throttle.Policy{Provider: "binance", RequestsPerWindow: 7}}
	})

	h, err := r.Resolve("binance")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h.Throttle.RequestsPerWindow != 7 {
		t.Errorf("requests per window = %d, want 7 after replacement", h.Throttle.RequestsPerWindow)
	}
}
