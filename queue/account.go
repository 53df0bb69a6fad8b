package queue

import (
	"fmt"

	"golang.org/x/time/rate"
)

// AccountConfig defines rate limits and concurrency for a specific account
// on a specific queue. Accounts map to the throttle identity's account
// scope: a worker dispatching under one exchange account uses that account
// string here.
type AccountConfig struct {
	// QueueName is the queue this config applies to.
	QueueName string

	// Account is the account identifier.
	Account string

	// RateLimit is the sustained steps per second for this account.
	RateLimit float64

	// RateBurst is the burst size for the account's rate limiter.
	RateBurst int

	// MaxConcurrency limits simultaneous steps for this account on this
	// queue. Zero means no account-specific concurrency limit.
	MaxConcurrency int
}

// accountState tracks runtime state for a single queue+account pair.
type accountState struct {
	limiter        *rate.Limiter
	maxConcurrency int
	active         int
}

// accountKey builds the map key for a queue+account pair.
func accountKey(queue, account string) string {
	return fmt.Sprintf("%s:%s", queue, account)
}

// SetAccountConfig configures rate limits and concurrency for a specific
// account on a specific queue. Calling this multiple times for the same
// queue+account replaces the previous configuration.
func (m *Manager) SetAccountConfig(cfg AccountConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := accountKey(cfg.QueueName, cfg.Account)
	existing := m.accounts[key]

	as := &accountState{
		maxConcurrency: cfg.MaxConcurrency,
	}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		as.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	// Preserve current active count if reconfiguring.
	if existing != nil {
		as.active = existing.active
	}
	m.accounts[key] = as
}

// AccountActiveCount returns the current number of active steps for a
// queue+account pair.
func (m *Manager) AccountActiveCount(queue, account string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if as := m.accounts[accountKey(queue, account)]; as != nil {
		return as.active
	}
	return 0
}
