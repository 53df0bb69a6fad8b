// Package postgres implements the composite store contract on PostgreSQL
// using pgx/v5. Dequeue uses SELECT FOR UPDATE SKIP LOCKED so concurrent
// workers never claim the same pending step; leadership and cron locks use
// plain row state with TTL columns. The BulkWriter serializes heavy batch
// writers per partition key with transaction-scoped advisory locks.
package postgres
