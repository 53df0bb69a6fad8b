package queue

import (
	"sync"
	"testing"
	"time"
)

// ---------------------------------------------------------------------------
// Manager basics
// ---------------------------------------------------------------------------

func TestNewManager_Empty(t *testing.T) {
	m := NewManager()
	// No configs; Acquire/Release should always succeed.
	if !m.Acquire("any-queue", "") {
		t.Fatal("expected Acquire to succeed for unconfigured queue")
	}
	m.Release("any-queue", "")
}

func TestNewManager_WithConfig(t *testing.T) {
	m := NewManager(Config{
		Name:           "orders",
		MaxConcurrency: 2,
	})
	if m.ActiveCount("orders") != 0 {
		t.Fatal("expected 0 active steps initially")
	}
}

// ---------------------------------------------------------------------------
// Concurrency limits
// ---------------------------------------------------------------------------

func TestManager_MaxConcurrency(t *testing.T) {
	m := NewManager(Config{
		Name:           "orders",
		MaxConcurrency: 2,
	})

	if !m.Acquire("orders", "") {
		t.Fatal("first Acquire should succeed")
	}
	if !m.Acquire("orders", "") {
		t.Fatal("second Acquire should succeed")
	}
	// Third should be blocked.
	if m.Acquire("orders", "") {
		t.Fatal("third Acquire should fail (max concurrency 2)")
	}

	// Release one slot.
	m.Release("orders", "")
	if !m.Acquire("orders", "") {
		t.Fatal("Acquire should succeed after Release")
	}
}

func TestManager_AcquireRelease_ActiveCount(t *testing.T) {
	m := NewManager(Config{
		Name:           "q",
		MaxConcurrency: 5,
	})

	for i := range 3 {
		if !m.Acquire("q", "") {
			t.Fatalf("Acquire %d should succeed", i)
		}
	}
	if m.ActiveCount("q") != 3 {
		t.Fatalf("expected 3 active, got %d", m.ActiveCount("q"))
	}

	m.Release("q", "")
	m.Release("q", "")
	if m.ActiveCount("q") != 1 {
		t.Fatalf("expected 1 active, got %d", m.ActiveCount("q"))
	}
}

func TestManager_ReleaseBelowZero(t *testing.T) {
	m := NewManager(Config{Name: "q", MaxConcurrency: 1})
	m.Release("q", "")
	if m.ActiveCount("q") != 0 {
		t.Fatalf("expected active count to stay at 0, got %d", m.ActiveCount("q"))
	}
}

// ---------------------------------------------------------------------------
// Rate limits
// ---------------------------------------------------------------------------

func TestManager_RateLimit(t *testing.T) {
	m := NewManager(Config{
		Name:      "q",
		RateLimit: 10, // 10/s, burst 1
	})

	if !m.Acquire("q", "") {
		t.Fatal("first Acquire should pass the rate limiter")
	}
	m.Release("q", "")

	// Burst of 1 exhausted; the next token arrives after ~100ms.
	if m.Acquire("q", "") {
		t.Fatal("second immediate Acquire should be rate limited")
	}

	time.Sleep(150 * time.Millisecond)
	if !m.Acquire("q", "") {
		t.Fatal("Acquire should succeed once a token is available")
	}
}

func TestManager_RateBurst(t *testing.T) {
	m := NewManager(Config{
		Name:      "q",
		RateLimit: 1,
		RateBurst: 3,
	})

	for i := range 3 {
		if !m.Acquire("q", "") {
			t.Fatalf("burst Acquire %d should succeed", i)
		}
		m.Release("q", "")
	}
	if m.Acquire("q", "") {
		t.Fatal("Acquire beyond burst should be rate limited")
	}
}

// ---------------------------------------------------------------------------
// Account limits
// ---------------------------------------------------------------------------

func TestManager_AccountConcurrency(t *testing.T) {
	m := NewManager(Config{Name: "q"})
	m.SetAccountConfig(AccountConfig{
		QueueName:      "q",
		Account:        "acct-1",
		MaxConcurrency: 1,
	})

	if !m.Acquire("q", "acct-1") {
		t.Fatal("first account Acquire should succeed")
	}
	if m.Acquire("q", "acct-1") {
		t.Fatal("second account Acquire should fail (max concurrency 1)")
	}
	// A different account on the same queue is unaffected.
	if !m.Acquire("q", "acct-2") {
		t.Fatal("other account should not be limited")
	}

	m.Release("q", "acct-1")
	if !m.Acquire("q", "acct-1") {
		t.Fatal("account Acquire should succeed after Release")
	}
}

func TestManager_AccountActiveCount(t *testing.T) {
	m := NewManager(Config{Name: "q"})
	m.SetAccountConfig(AccountConfig{
		QueueName:      "q",
		Account:        "acct-1",
		MaxConcurrency: 5,
	})

	m.Acquire("q", "acct-1")
	m.Acquire("q", "acct-1")
	if m.AccountActiveCount("q", "acct-1") != 2 {
		t.Fatalf("expected 2 active for account, got %d", m.AccountActiveCount("q", "acct-1"))
	}

	m.Release("q", "acct-1")
	if m.AccountActiveCount("q", "acct-1") != 1 {
		t.Fatalf("expected 1 active for account, got %d", m.AccountActiveCount("q", "acct-1"))
	}
}

func TestManager_SetQueueConfig_PreservesActive(t *testing.T) {
	m := NewManager(Config{Name: "q", MaxConcurrency: 2})
	m.Acquire("q", "")

	m.SetQueueConfig(Config{Name: "q", MaxConcurrency: 5})
	if m.ActiveCount("q") != 1 {
		t.Fatalf("expected active count preserved across reconfigure, got %d", m.ActiveCount("q"))
	}
}

// ---------------------------------------------------------------------------
// Concurrency safety
// ---------------------------------------------------------------------------

func TestManager_ConcurrentAcquireRelease(t *testing.T) {
	m := NewManager(Config{
		Name:           "q",
		MaxConcurrency: 50,
	})

	var wg sync.WaitGroup
	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if m.Acquire("q", "acct") {
				m.Release("q", "acct")
			}
		}()
	}
	wg.Wait()

	if m.ActiveCount("q") != 0 {
		t.Fatalf("expected 0 active after all releases, got %d", m.ActiveCount("q"))
	}
}
