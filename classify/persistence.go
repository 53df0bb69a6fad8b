package classify

import "time"

// Persistence returns the classification table for relational-store
// errors. Deadlocks, lock-wait timeouts, serialization failures, and
// connection drops retry with exponential backoff; constraint violations
// fail fast.
func Persistence() *Table {
	return &Table{
		RetryablePatterns: []string{
			"deadlock detected",
			"Deadlock found",
			"Lock wait timeout exceeded",
			"could not serialize access",
			"connection reset by peer",
			"connection refused",
			"broken pipe",
			"server closed the connection",
			"conn busy",
			"unexpected EOF",
		},
		PermanentPatterns: []string{
			"violates unique constraint",
			"violates foreign key constraint",
			"violates not-null constraint",
			"Duplicate entry",
		},
		Backoff: BackoffParams{
			Base:       500 * time.Millisecond,
			Multiplier: 2,
			Max:        30 * time.Second,
		},
	}
}
