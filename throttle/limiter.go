package throttle

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/martingalian/stepflow"
)

// keyPrefix namespaces all coordination keys.
const keyPrefix = "stepflow:throttle:"

// Limiter is the fleet-wide dispatch gate. It is stateless apart from the
// shared KV store, so every worker process constructs its own Limiter over
// the same store and observes the same budget.
type Limiter struct {
	kv     KV
	logger *slog.Logger

	// now and jitter are injectable for tests.
	now    func() time.Time
	jitter func() float64
}

// LimiterOption configures a Limiter.
type LimiterOption func(*Limiter)

// WithLogger sets the limiter's logger.
func WithLogger(l *slog.Logger) LimiterOption {
	return func(lim *Limiter) { lim.logger = l }
}

// WithNow injects the clock. Tests use this to pin window boundaries.
func WithNow(now func() time.Time) LimiterOption {
	return func(lim *Limiter) { lim.now = now }
}

// WithJitter injects the jitter source (values in [0,1)).
func WithJitter(jitter func() float64) LimiterOption {
	return func(lim *Limiter) { lim.jitter = jitter }
}

// NewLimiter creates a Limiter over the shared coordination store.
func NewLimiter(kv KV, opts ...LimiterOption) *Limiter {
	lim := &Limiter{
		kv:     kv,
		logger: slog.Default(),
		now:    time.Now,
		jitter: rand.Float64,
	}
	for _, opt := range opts {
		opt(lim)
	}
	return lim
}

// CanDispatch returns how long the caller must wait before dispatching to
// the provider, or zero if dispatch may proceed. The ban marker is checked
// first and short-circuits every other check. Any positive wait from the
// remaining checks is topped with Backoff(retryCount).
//
// Store errors never block dispatch: the limiter fails open.
func (lim *Limiter) CanDispatch(ctx context.Context, p Policy, ident Identity, retryCount int) time.Duration {
	now := lim.now()

	if wait := lim.banWait(ctx, p, ident, now); wait > 0 {
		return wait
	}

	wait := lim.windowWait(ctx, p, ident, now)
	if w := lim.quotaWait(ctx, p, ident, now); w > wait {
		wait = w
	}
	if w := lim.minDelayWait(ctx, p, ident, now); w > wait {
		wait = w
	}

	if wait > 0 {
		wait += backoffWithJitter(retryCount, lim.jitter)
	}
	return wait
}

// RecordDispatch reserves one unit of window budget and stamps the
// last-dispatch time. Call it before the provider call so concurrent
// workers see the consumed budget immediately.
func (lim *Limiter) RecordDispatch(ctx context.Context, p Policy, ident Identity) {
	now := lim.now()
	window := p.window()

	if p.RequestsPerWindow > 0 {
		if _, err := lim.kv.Incr(ctx, lim.windowKey(p, ident, now), window); err != nil {
			lim.failOpen("record dispatch counter", p, err)
		}
	}

	if p.MinDelay > 0 {
		ttl := window
		if 2*p.MinDelay > ttl {
			ttl = 2 * p.MinDelay
		}
		value := strconv.FormatInt(now.UnixMilli(), 10)
		if err := lim.kv.Put(ctx, lim.lastKey(p, ident), value, ttl); err != nil {
			lim.failOpen("record last dispatch", p, err)
		}
	}
}

// RecordSignal stores the used-quota-per-interval readings parsed from a
// provider response, each with a TTL equal to its interval.
func (lim *Limiter) RecordSignal(ctx context.Context, p Policy, ident Identity, signals ...Signal) {
	for _, sig := range signals {
		if sig.Interval <= 0 {
			continue
		}
		value := strconv.FormatInt(sig.Used, 10)
		if err := lim.kv.Put(ctx, lim.quotaKey(p, ident, sig.Interval), value, sig.Interval); err != nil {
			lim.failOpen("record quota signal", p, err)
		}
	}
}

// RecordBan marks the provider as banned for the shared source identity.
// Every worker using the same identity observes the ban on its next check.
func (lim *Limiter) RecordBan(ctx context.Context, p Policy, ident Identity, d time.Duration) {
	if d <= 0 {
		return
	}
	until := lim.now().Add(d)
	value := strconv.FormatInt(until.Unix(), 10)
	if err := lim.kv.Put(ctx, lim.banKey(p, ident), value, d); err != nil {
		lim.failOpen("record ban", p, err)
	}
	lim.logger.Warn("provider ban recorded",
		slog.String("provider", p.Provider),
		slog.String("scope", p.scope(ident)),
		slog.Time("banned_until", until),
	)
}

// ClearBan removes the ban marker, e.g. after the provider confirms the
// source is unblocked early.
func (lim *Limiter) ClearBan(ctx context.Context, p Policy, ident Identity) {
	if err := lim.kv.Forget(ctx, lim.banKey(p, ident)); err != nil {
		lim.failOpen("clear ban", p, err)
	}
}

// ──────────────────────────────────────────────────
// Individual checks
// ──────────────────────────────────────────────────

func (lim *Limiter) banWait(ctx context.Context, p Policy, ident Identity, now time.Time) time.Duration {
	value, err := lim.kv.Get(ctx, lim.banKey(p, ident))
	if err != nil {
		if !errors.Is(err, stepflow.ErrKeyNotFound) {
			lim.failOpen("ban check", p, err)
		}
		return 0
	}

	until, parseErr := strconv.ParseInt(value, 10, 64)
	if parseErr != nil {
		return 0
	}
	wait := time.Unix(until, 0).Sub(now)
	if wait < 0 {
		return 0
	}
	return wait
}

func (lim *Limiter) windowWait(ctx context.Context, p Policy, ident Identity, now time.Time) time.Duration {
	if p.RequestsPerWindow <= 0 {
		return 0
	}

	value, err := lim.kv.Get(ctx, lim.windowKey(p, ident, now))
	if err != nil {
		if !errors.Is(err, stepflow.ErrKeyNotFound) {
			lim.failOpen("window check", p, err)
		}
		return 0
	}

	count, parseErr := strconv.ParseInt(value, 10, 64)
	if parseErr != nil || count < int64(p.RequestsPerWindow) {
		return 0
	}

	// Budget exhausted: wait until the window boundary.
	window := p.window()
	windowStart := now.Truncate(window)
	return windowStart.Add(window).Sub(now)
}

func (lim *Limiter) quotaWait(ctx context.Context, p Policy, ident Identity, now time.Time) time.Duration {
	var wait time.Duration
	threshold := p.threshold()

	for interval, limit := range p.QuotaLimits {
		if interval <= 0 || limit <= 0 {
			continue
		}

		value, err := lim.kv.Get(ctx, lim.quotaKey(p, ident, interval))
		if err != nil {
			if !errors.Is(err, stepflow.ErrKeyNotFound) {
				lim.failOpen("quota check", p, err)
			}
			continue
		}

		used, parseErr := strconv.ParseInt(value, 10, 64)
		if parseErr != nil {
			continue
		}

		if float64(used) >= threshold*float64(limit) {
			// Capped wait: time until this interval resets.
			reset := now.Truncate(interval).Add(interval).Sub(now)
			if reset > wait {
				wait = reset
			}
		}
	}
	return wait
}

func (lim *Limiter) minDelayWait(ctx context.Context, p Policy, ident Identity, now time.Time) time.Duration {
	if p.MinDelay <= 0 {
		return 0
	}

	value, err := lim.kv.Get(ctx, lim.lastKey(p, ident))
	if err != nil {
		if !errors.Is(err, stepflow.ErrKeyNotFound) {
			lim.failOpen("min delay check", p, err)
		}
		return 0
	}

	lastMilli, parseErr := strconv.ParseInt(value, 10, 64)
	if parseErr != nil {
		return 0
	}

	elapsed := now.Sub(time.UnixMilli(lastMilli))
	if elapsed >= p.MinDelay {
		return 0
	}

	// Round the remainder up to whole seconds.
	remaining := p.MinDelay - elapsed
	secs := math.Ceil(float64(remaining.Milliseconds()) / 1000)
	return time.Duration(secs) * time.Second
}

// failOpen logs a coordination-store failure. The affected check reports
// "not throttled" — availability over strictness, so a store outage never
// stalls the fleet.
func (lim *Limiter) failOpen(check string, p Policy, err error) {
	lim.logger.Warn("throttle store unreachable, failing open",
		slog.String("check", check),
		slog.String("provider", p.Provider),
		slog.String("error", err.Error()),
	)
}

// ──────────────────────────────────────────────────
// Keys
// ──────────────────────────────────────────────────

func (lim *Limiter) banKey(p Policy, ident Identity) string {
	return keyPrefix + p.Provider + ":" + p.scope(ident) + ":ban"
}

func (lim *Limiter) windowKey(p Policy, ident Identity, now time.Time) string {
	window := p.window()
	windowStart := now.Truncate(window).Unix()
	return keyPrefix + p.Provider + ":" + p.scope(ident) + ":win:" + strconv.FormatInt(windowStart, 10)
}

func (lim *Limiter) quotaKey(p Policy, ident Identity, interval time.Duration) string {
	return keyPrefix + p.Provider + ":" + p.scope(ident) + ":quota:" + interval.String()
}

func (lim *Limiter) lastKey(p Policy, ident Identity) string {
	return keyPrefix + p.Provider + ":" + p.scope(ident) + ":last"
}
