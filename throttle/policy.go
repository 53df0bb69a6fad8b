package throttle

import (
	"time"
)

// Identity is the source identity a quota binds to, resolved once by the
// calling context and passed explicitly into every limiter call. Some
// provider limits bind to the authenticated account rather than the
// source address; Policy.AccountScoped selects which.
type Identity struct {
	SourceIP string
	Account  string
}

// Policy parametrizes the limiter for one provider.
type Policy struct {
	// Provider is the canonical provider name used in coordination keys.
	Provider string

	// Window is the fixed-window length. Non-positive values are treated
	// as one second (misconfiguration guard).
	Window time.Duration

	// RequestsPerWindow is the dispatch budget per window. Zero disables
	// the fixed-window check.
	RequestsPerWindow int

	// MinDelay is the minimum time between two dispatches. Zero disables
	// the check.
	MinDelay time.Duration

	// QuotaLimits maps a quota interval to the provider's absolute limit
	// for that interval, fed by response-header usage signals. Empty
	// disables the header-quota check.
	QuotaLimits map[time.Duration]int64

	// SafetyThreshold is the fraction of a header quota that may be
	// consumed before dispatches wait for the interval to reset.
	// Non-positive values default to 0.85; typical providers run 0.80–0.92.
	SafetyThreshold float64

	// AccountScoped binds coordination keys (and bans) to the account
	// instead of the source address.
	AccountScoped bool
}

// window returns the guarded window length.
func (p Policy) window() time.Duration {
	if p.Window <= 0 {
		return time.Second
	}
	return p.Window
}

// threshold returns the guarded safety threshold.
func (p Policy) threshold() float64 {
	if p.SafetyThreshold <= 0 {
		return 0.85
	}
	return p.SafetyThreshold
}

// scope returns the identity component coordination keys bind to.
func (p Policy) scope(ident Identity) string {
	if p.AccountScoped {
		return "acct:" + ident.Account
	}
	return "ip:" + ident.SourceIP
}

// Signal is one "used quota per interval" reading parsed from provider
// response metadata after a successful call.
type Signal struct {
	// Interval is the quota interval the reading covers.
	Interval time.Duration
	// Used is the provider-reported consumed quota for the interval.
	Used int64
}
