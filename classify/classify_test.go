package classify_test

import (
	"errors"
	"testing"
	"time"

	"github.com/martingalian/stepflow/classify"
)

func testTable() *classify.Table {
	return &classify.Table{
		RetryablePatterns: []string{"timeout", "temporarily unavailable"},
		PermanentPatterns: []string{"invalid api key"},
		IgnorablePatterns: []string{"no data found"},
		RetryableCodes:    []int{502, 503},
		PermanentCodes:    []int{400, 401},
		IgnorableCodes:    []int{404},
		RateLimitCodes:    []int{429},
		RetryableSubCodes: map[int][]int{500: {-1001}},
		PermanentSubCodes: map[int][]int{500: {-2010}},
		RateLimitSubCodes: map[int][]int{418: {-1003}},
		Backoff: classify.BackoffParams{
			Base:       time.Second,
			Multiplier: 2,
			Max:        time.Minute,
		},
	}
}

func TestClassify_SubstringMatch(t *testing.T) {
	tbl := testTable()

	// A plain error (not a ProviderError) still classifies by message.
	d := tbl.Classify(errors.New("request timeout while fetching"), 0)
	if d.Outcome != classify.OutcomeRetry {
		t.Fatalf("outcome = %s, want retry", d.Outcome)
	}
	if d.Wait != time.Second {
		t.Errorf("wait = %v, want 1s", d.Wait)
	}
}

func TestClassify_PermanentWinsOverIgnorable(t *testing.T) {
	tbl := testTable()
	tbl.PermanentPatterns = []string{"no data"}

	// Both "no data" (permanent) and "no data found" (ignorable) match.
	d := tbl.Classify(errors.New("no data found for symbol"), 0)
	if d.Outcome != classify.OutcomePermanent {
		t.Fatalf("outcome = %s, want permanent (fail-fast precedence)", d.Outcome)
	}
}

func TestClassify_StatusCode(t *testing.T) {
	tbl := testTable()

	tests := []struct {
		code int
		want classify.Outcome
	}{
		{503, classify.OutcomeRetry},
		{401, classify.OutcomePermanent},
		{404, classify.OutcomeIgnore},
		{429, classify.OutcomeRateLimited},
	}
	for _, tt := range tests {
		d := tbl.Classify(&classify.ProviderError{Msg: "upstream error", StatusCode: tt.code}, 0)
		if d.Outcome != tt.want {
			t.Errorf("Classify(code=%d) = %s, want %s", tt.code, d.Outcome, tt.want)
		}
	}
}

func TestClassify_VendorSubCode(t *testing.T) {
	tbl := testTable()

	d := tbl.Classify(&classify.ProviderError{Msg: "err", StatusCode: 500, VendorCode: -1001}, 0)
	if d.Outcome != classify.OutcomeRetry {
		t.Errorf("sub-code -1001 under 500 = %s, want retry", d.Outcome)
	}

	d = tbl.Classify(&classify.ProviderError{Msg: "err", StatusCode: 500, VendorCode: -2010}, 0)
	if d.Outcome != classify.OutcomePermanent {
		t.Errorf("sub-code -2010 under 500 = %s, want permanent", d.Outcome)
	}

	// Same vendor code under a different status code must not match.
	d = tbl.Classify(&classify.ProviderError{Msg: "err", StatusCode: 502, VendorCode: -2010}, 0)
	if d.Outcome != classify.OutcomeRetry {
		t.Errorf("code 502 with unrelated sub-code = %s, want retry (status tier)", d.Outcome)
	}
}

func TestClassify_RateLimitWait(t *testing.T) {
	tbl := testTable()

	// Provider-announced wait wins.
	d := tbl.Classify(&classify.ProviderError{Msg: "rate", StatusCode: 429, RetryAfter: 17 * time.Second}, 0)
	if d.Wait != 17*time.Second {
		t.Errorf("wait = %v, want 17s", d.Wait)
	}

	// No announced wait falls back to the default.
	tbl.DefaultRateLimitWait = 45 * time.Second
	d = tbl.Classify(&classify.ProviderError{Msg: "rate", StatusCode: 429}, 0)
	if d.Wait != 45*time.Second {
		t.Errorf("wait = %v, want 45s", d.Wait)
	}
}

func TestClassify_Unclassified(t *testing.T) {
	tbl := testTable()

	d := tbl.Classify(errors.New("something novel"), 0)
	if d.Outcome != classify.OutcomeUnclassified {
		t.Errorf("outcome = %s, want unclassified", d.Outcome)
	}

	d = tbl.Classify(nil, 0)
	if d.Outcome != classify.OutcomeUnclassified {
		t.Errorf("Classify(nil) = %s, want unclassified", d.Outcome)
	}
}

func TestBackoffParams_Delay(t *testing.T) {
	b := classify.BackoffParams{Base: time.Second, Multiplier: 2, Max: 10 * time.Second}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 1 * time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 10 * time.Second}, // capped
		{8, 10 * time.Second}, // capped
	}
	for _, tt := range tests {
		if got := b.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestPersistence_Classifies(t *testing.T) {
	tbl := classify.Persistence()

	tests := []struct {
		msg  string
		want classify.Outcome
	}{
		{"ERROR: deadlock detected (SQLSTATE 40P01)", classify.OutcomeRetry},
		{"Lock wait timeout exceeded; try restarting transaction", classify.OutcomeRetry},
		{"read tcp: connection reset by peer", classify.OutcomeRetry},
		{"ERROR: duplicate key value violates unique constraint", classify.OutcomePermanent},
		{"some application error", classify.OutcomeUnclassified},
	}
	for _, tt := range tests {
		d := tbl.Classify(errors.New(tt.msg), 0)
		if d.Outcome != tt.want {
			t.Errorf("Classify(%q) = %s, want %s", tt.msg, d.Outcome, tt.want)
		}
	}
}

func TestPersistence_BackoffGrowsAndCaps(t *testing.T) {
	tbl := classify.Persistence()

	prev := time.Duration(0)
	for attempt := 0; attempt < 12; attempt++ {
		d := tbl.Classify(errors.New("deadlock detected"), attempt)
		if d.Wait < prev {
			t.Fatalf("backoff shrank at attempt %d: %v < %v", attempt, d.Wait, prev)
		}
		if d.Wait > 30*time.Second {
			t.Fatalf("backoff exceeded cap at attempt %d: %v", attempt, d.Wait)
		}
		prev = d.Wait
	}
	if prev != 30*time.Second {
		t.Errorf("backoff never reached cap: %v", prev)
	}
}
