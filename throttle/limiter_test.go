package throttle_test

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/martingalian/stepflow/store/memory"
	"github.com/martingalian/stepflow/throttle"
)

// manualClock is a settable clock shared between the KV and the limiter.
type manualClock struct {
	t time.Time
}

func (c *manualClock) Now() time.Time { return c.t }

func (c *manualClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newClock(t time.Time) *manualClock { return &manualClock{t: t} }

func setupLimiter(t *testing.T) (*throttle.Limiter, *manualClock) {
	t.Helper()
	// Pin the clock just after a 10s window boundary so window math is
	// predictable.
	clock := newClock(time.Unix(1_000_000, 0).Add(time.Second))
	kv := memory.NewKV(memory.WithKVClock(clock.Now))
	lim := throttle.NewLimiter(kv,
		throttle.WithNow(clock.Now),
		throttle.WithJitter(func() float64 { return 0 }),
	)
	return lim, clock
}

var testIdent = throttle.Identity{SourceIP: "10.0.0.1", Account: "acct-1"}

func windowPolicy() throttle.Policy {
	return throttle.Policy{
		Provider:          "binance",
		Window:            10 * time.Second,
		RequestsPerWindow: 3,
	}
}

func TestLimiter_FixedWindow(t *testing.T) {
	lim, clock := setupLimiter(t)
	ctx := context.Background()
	p := windowPolicy()

	// Three dispatches fit in the window.
	for i := 0; i < 3; i++ {
		if wait := lim.CanDispatch(ctx, p, testIdent, 0); wait != 0 {
			t.Fatalf("dispatch %d: wait = %v, want 0", i+1, wait)
		}
		lim.RecordDispatch(ctx, p, testIdent)
	}

	// The fourth is throttled with a wait in (0, 10s].
	wait := lim.CanDispatch(ctx, p, testIdent, 0)
	if wait <= 0 || wait > 10*time.Second {
		t.Fatalf("4th dispatch wait = %v, want in (0, 10s]", wait)
	}

	// Checking again before the wait elapses still reports throttled.
	clock.Advance(wait / 2)
	if w := lim.CanDispatch(ctx, p, testIdent, 0); w <= 0 {
		t.Fatalf("dispatch before wait elapsed: wait = %v, want > 0", w)
	}

	// After the window boundary the budget resets.
	clock.Advance(wait)
	if w := lim.CanDispatch(ctx, p, testIdent, 0); w != 0 {
		t.Fatalf("dispatch after window reset: wait = %v, want 0", w)
	}
}

func TestLimiter_WindowMisconfigurationDefaultsToOneSecond(t *testing.T) {
	lim, clock := setupLimiter(t)
	ctx := context.Background()
	p := throttle.Policy{Provider: "x", Window: -5 * time.Second, RequestsPerWindow: 1}

	lim.RecordDispatch(ctx, p, testIdent)
	wait := lim.CanDispatch(ctx, p, testIdent, 0)
	if wait <= 0 || wait > time.Second {
		t.Fatalf("wait = %v, want in (0, 1s]", wait)
	}

	clock.Advance(time.Second)
	if w := lim.CanDispatch(ctx, p, testIdent, 0); w != 0 {
		t.Fatalf("wait after 1s = %v, want 0", w)
	}
}

func TestLimiter_MinDelay(t *testing.T) {
	lim, clock := setupLimiter(t)
	ctx := context.Background()
	p := throttle.Policy{Provider: "kraken", MinDelay: 500 * time.Millisecond}

	lim.RecordDispatch(ctx, p, testIdent)

	// A check under 500ms later reports a positive whole-second wait.
	clock.Advance(200 * time.Millisecond)
	wait := lim.CanDispatch(ctx, p, testIdent, 0)
	if wait != time.Second {
		t.Fatalf("wait = %v, want 1s (ceil of 300ms)", wait)
	}

	// At or past the floor, no wait.
	clock.Advance(300 * time.Millisecond)
	if w := lim.CanDispatch(ctx, p, testIdent, 0); w != 0 {
		t.Fatalf("wait at 500ms = %v, want 0", w)
	}
}

func TestLimiter_Ban(t *testing.T) {
	lim, clock := setupLimiter(t)
	ctx := context.Background()
	p := windowPolicy()

	lim.RecordBan(ctx, p, testIdent, 60*time.Second)

	wait := lim.CanDispatch(ctx, p, testIdent, 0)
	if wait <= 0 || wait > 60*time.Second {
		t.Fatalf("banned wait = %v, want in (0, 60s]", wait)
	}

	// The ban expires with its TTL.
	clock.Advance(61 * time.Second)
	if w := lim.CanDispatch(ctx, p, testIdent, 0); w != 0 {
		t.Fatalf("wait after ban expiry = %v, want 0", w)
	}
}

func TestLimiter_BanShortCircuitsOtherChecks(t *testing.T) {
	lim, _ := setupLimiter(t)
	ctx := context.Background()
	p := windowPolicy()

	// Exhaust the window, then ban for a shorter period than the window
	// wait would be. The ban wait must win because it short-circuits.
	for i := 0; i < 3; i++ {
		lim.RecordDispatch(ctx, p, testIdent)
	}
	lim.RecordBan(ctx, p, testIdent, 2*time.Second)

	wait := lim.CanDispatch(ctx, p, testIdent, 5)
	if wait <= 0 || wait > 2*time.Second {
		t.Fatalf("wait = %v, want the ban wait in (0, 2s] without backoff layering", wait)
	}
}

func TestLimiter_ClearBan(t *testing.T) {
	lim, _ := setupLimiter(t)
	ctx := context.Background()
	p := windowPolicy()

	lim.RecordBan(ctx, p, testIdent, time.Hour)
	lim.ClearBan(ctx, p, testIdent)

	if w := lim.CanDispatch(ctx, p, testIdent, 0); w != 0 {
		t.Fatalf("wait after ClearBan = %v, want 0", w)
	}
}

func TestLimiter_BanScopedPerIdentity(t *testing.T) {
	lim, _ := setupLimiter(t)
	ctx := context.Background()

	perIP := throttle.Policy{Provider: "binance", Window: 10 * time.Second}
	perAcct := perIP
	perAcct.AccountScoped = true

	other := throttle.Identity{SourceIP: "10.0.0.2", Account: "acct-2"}

	lim.RecordBan(ctx, perIP, testIdent, time.Minute)
	if w := lim.CanDispatch(ctx, perIP, other, 0); w != 0 {
		t.Errorf("ban leaked across source addresses: wait = %v", w)
	}

	lim.RecordBan(ctx, perAcct, testIdent, time.Minute)
	sameAcctOtherIP := throttle.Identity{SourceIP: "10.9.9.9", Account: "acct-1"}
	if w := lim.CanDispatch(ctx, perAcct, sameAcctOtherIP, 0); w <= 0 {
		t.Errorf("account-scoped ban should follow the account, got wait = %v", w)
	}
}

func TestLimiter_HeaderQuota(t *testing.T) {
	lim, clock := setupLimiter(t)
	ctx := context.Background()
	p := throttle.Policy{
		Provider:        "binance",
		QuotaLimits:     map[time.Duration]int64{time.Minute: 1200},
		SafetyThreshold: 0.9,
	}

	// Usage below the threshold does not throttle.
	lim.RecordSignal(ctx, p, testIdent, throttle.Signal{Interval: time.Minute, Used: 1000})
	if w := lim.CanDispatch(ctx, p, testIdent, 0); w != 0 {
		t.Fatalf("wait below threshold = %v, want 0", w)
	}

	// Usage at the threshold throttles until the interval resets.
	lim.RecordSignal(ctx, p, testIdent, throttle.Signal{Interval: time.Minute, Used: 1080})
	wait := lim.CanDispatch(ctx, p, testIdent, 0)
	if wait <= 0 || wait > time.Minute {
		t.Fatalf("wait at threshold = %v, want in (0, 1m]", wait)
	}

	// The stored usage expires with the interval.
	clock.Advance(time.Minute + time.Second)
	if w := lim.CanDispatch(ctx, p, testIdent, 0); w != 0 {
		t.Fatalf("wait after quota expiry = %v, want 0", w)
	}
}

func TestLimiter_BackoffLayeredOnThrottledWait(t *testing.T) {
	lim, _ := setupLimiter(t)
	ctx := context.Background()
	p := windowPolicy()

	for i := 0; i < 3; i++ {
		lim.RecordDispatch(ctx, p, testIdent)
	}

	base := lim.CanDispatch(ctx, p, testIdent, 0)
	withRetries := lim.CanDispatch(ctx, p, testIdent, 4)

	// ceil(4^1.5) = 8 extra seconds with zero jitter.
	if diff := withRetries - base; diff != 8*time.Second {
		t.Fatalf("backoff layer = %v, want 8s", diff)
	}
}

func TestLimiter_NoBackoffWhenNotThrottled(t *testing.T) {
	lim, _ := setupLimiter(t)
	p := windowPolicy()

	if w := lim.CanDispatch(context.Background(), p, testIdent, 10); w != 0 {
		t.Fatalf("unthrottled wait with retries = %v, want 0", w)
	}
}

// failingKV simulates a coordination store outage.
type failingKV struct{}

var errStoreDown = errors.New("store down")

func (failingKV) Get(context.Context, string) (string, error) { return "", errStoreDown }
func (failingKV) Put(context.Context, string, string, time.Duration) error {
	return errStoreDown
}
func (failingKV) Incr(context.Context, string, time.Duration) (int64, error) {
	return 0, errStoreDown
}
func (failingKV) Forget(context.Context, string) error { return errStoreDown }

func TestLimiter_FailsOpenOnStoreOutage(t *testing.T) {
	lim := throttle.NewLimiter(failingKV{},
		throttle.WithJitter(func() float64 { return 0 }),
	)
	ctx := context.Background()
	p := windowPolicy()
	p.MinDelay = 500 * time.Millisecond
	p.QuotaLimits = map[time.Duration]int64{time.Minute: 100}

	lim.RecordDispatch(ctx, p, testIdent)
	lim.RecordBan(ctx, p, testIdent, time.Minute)

	if w := lim.CanDispatch(ctx, p, testIdent, 3); w != 0 {
		t.Fatalf("wait during store outage = %v, want 0 (fail open)", w)
	}
}

func TestBackoff_Properties(t *testing.T) {
	// Ignoring jitter, the curve is non-decreasing and always at least
	// floor(n^1.5) seconds.
	prev := time.Duration(0)
	for n := 0; n <= 20; n++ {
		got := throttle.Backoff(n)
		floor := time.Duration(math.Floor(math.Pow(float64(n), 1.5))) * time.Second

		if got < floor {
			t.Errorf("Backoff(%d) = %v, want >= %v", n, got, floor)
		}
		// Jitter is bounded by 2s, so ceil(n^1.5)+2s bounds the value.
		ceil := time.Duration(math.Ceil(math.Pow(float64(n), 1.5)))*time.Second + 2*time.Second
		if got > ceil {
			t.Errorf("Backoff(%d) = %v, want <= %v", n, got, ceil)
		}
		// Non-decreasing ignoring jitter: compare lower bounds.
		if floor < prev {
			t.Errorf("floor shrank at n=%d", n)
		}
		prev = floor
	}
}
