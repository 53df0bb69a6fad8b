// Package classify turns caught errors into retry/ignore/permanent/
// rate-limited decisions. Each external provider supplies a typed [Table]
// of patterns and codes at construction time; a parallel persistence table
// covers deadlocks, lock-wait timeouts, and connection drops.
//
// Tables are pure and stateless: the same error always classifies the same
// way, so policies can be unit-tested without any engine wiring.
package classify

import (
	"errors"
	"math"
	"strings"
	"time"
)

// Outcome is the four-way classification vocabulary.
type Outcome int

const (
	// OutcomeUnclassified means no pattern matched; the caller treats the
	// error as a hard failure.
	OutcomeUnclassified Outcome = iota
	// OutcomeRetry marks a transient error worth retrying, consuming
	// retry budget.
	OutcomeRetry
	// OutcomeIgnore converts the error into a successful no-op (e.g. the
	// provider reports "no data").
	OutcomeIgnore
	// OutcomePermanent fails fast with no retry.
	OutcomePermanent
	// OutcomeRateLimited converts the error into a throttle delay that
	// does not consume retry budget.
	OutcomeRateLimited
)

// String returns the outcome name for logs.
func (o Outcome) String() string {
	switch o {
	case OutcomeRetry:
		return "retry"
	case OutcomeIgnore:
		return "ignore"
	case OutcomePermanent:
		return "permanent"
	case OutcomeRateLimited:
		return "rate_limited"
	default:
		return "unclassified"
	}
}

// Decision is the result of classifying one error.
type Decision struct {
	Outcome Outcome
	// Wait is the delay before the next attempt. Set for OutcomeRetry
	// (handler-specific backoff) and OutcomeRateLimited (throttle delay).
	Wait time.Duration
}

// BackoffParams computes retry delays as Base × Multiplier^attempt,
// capped at Max.
type BackoffParams struct {
	Base       time.Duration
	Multiplier float64
	Max        time.Duration
}

// Delay returns the backoff for the given attempt (0-indexed).
func (b BackoffParams) Delay(attempt int) time.Duration {
	if b.Base <= 0 {
		return 0
	}
	mult := b.Multiplier
	if mult <= 0 {
		mult = 1
	}
	d := time.Duration(float64(b.Base) * math.Pow(mult, float64(attempt)))
	if b.Max > 0 && d > b.Max {
		return b.Max
	}
	return d
}

// ProviderError is the structured error shape reported by provider clients.
// Msg carries the raw provider message, StatusCode the transport-level
// status, VendorCode the provider-specific sub-code nested under it, and
// RetryAfter any wait the provider announced alongside a rate limit.
type ProviderError struct {
	Msg        string
	StatusCode int
	VendorCode int
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *ProviderError) Error() string { return e.Msg }

// Table is one provider's (or the persistence layer's) classification
// policy: ordered pattern sets for messages, status codes, and vendor
// sub-codes, plus the backoff parameters applied to retryable matches.
//
// Matching precedence follows the message first (substring), then the
// status code (exact), then the vendor sub-code nested under a status
// code. Within one tier, permanent wins over ignorable when both match —
// the fail-fast default.
type Table struct {
	RetryablePatterns []string
	PermanentPatterns []string
	IgnorablePatterns []string

	RetryableCodes []int
	PermanentCodes []int
	IgnorableCodes []int
	RateLimitCodes []int

	// Sub-code sets keyed by the status code they nest under.
	RetryableSubCodes map[int][]int
	PermanentSubCodes map[int][]int
	IgnorableSubCodes map[int][]int
	RateLimitSubCodes map[int][]int

	// DefaultRateLimitWait applies when a rate-limit match carries no
	// RetryAfter from the provider.
	DefaultRateLimitWait time.Duration

	Backoff BackoffParams
}

// Classify decides the outcome for err on the given attempt (0-indexed,
// used only to size the retry backoff). A nil error is unclassified.
func (t *Table) Classify(err error, attempt int) Decision {
	if err == nil {
		return Decision{Outcome: OutcomeUnclassified}
	}

	msg := err.Error()

	// Tier 1: substring match on the message. Permanent beats ignorable.
	if matchSubstring(msg, t.PermanentPatterns) {
		return Decision{Outcome: OutcomePermanent}
	}
	if matchSubstring(msg, t.IgnorablePatterns) {
		return Decision{Outcome: OutcomeIgnore}
	}
	if matchSubstring(msg, t.RetryablePatterns) {
		return Decision{Outcome: OutcomeRetry, Wait: t.Backoff.Delay(attempt)}
	}

	var pe *ProviderError
	if !errors.As(err, &pe) {
		return Decision{Outcome: OutcomeUnclassified}
	}

	// Tier 2: exact match on the structured status code.
	if containsInt(t.PermanentCodes, pe.StatusCode) {
		return Decision{Outcome: OutcomePermanent}
	}
	if containsInt(t.IgnorableCodes, pe.StatusCode) {
		return Decision{Outcome: OutcomeIgnore}
	}
	if containsInt(t.RateLimitCodes, pe.StatusCode) {
		return Decision{Outcome: OutcomeRateLimited, Wait: t.rateLimitWait(pe)}
	}
	if containsInt(t.RetryableCodes, pe.StatusCode) {
		return Decision{Outcome: OutcomeRetry, Wait: t.Backoff.Delay(attempt)}
	}

	// Tier 3: vendor sub-code nested under the status code.
	if containsInt(t.PermanentSubCodes[pe.StatusCode], pe.VendorCode) {
		return Decision{Outcome: OutcomePermanent}
	}
	if containsInt(t.IgnorableSubCodes[pe.StatusCode], pe.VendorCode) {
		return Decision{Outcome: OutcomeIgnore}
	}
	if containsInt(t.RateLimitSubCodes[pe.StatusCode], pe.VendorCode) {
		return Decision{Outcome: OutcomeRateLimited, Wait: t.rateLimitWait(pe)}
	}
	if containsInt(t.RetryableSubCodes[pe.StatusCode], pe.VendorCode) {
		return Decision{Outcome: OutcomeRetry, Wait: t.Backoff.Delay(attempt)}
	}

	return Decision{Outcome: OutcomeUnclassified}
}

func (t *Table) rateLimitWait(pe *ProviderError) time.Duration {
	if pe.RetryAfter > 0 {
		return pe.RetryAfter
	}
	if t.DefaultRateLimitWait > 0 {
		return t.DefaultRateLimitWait
	}
	return time.Minute
}

func matchSubstring(msg string, patterns []string) bool {
	for _, p := range patterns {
		if p != "" && strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

func containsInt(set []int, v int) bool {
	for _, c := range set {
		if c == v {
			return true
		}
	}
	return false
}
