package stepflow

import "time"

// Entity carries the audit timestamps shared by every persisted record.
// Embed it in entity structs; stores are responsible for keeping UpdatedAt
// current on writes.
type Entity struct {
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewEntity returns an Entity with both timestamps set to now (UTC).
func NewEntity() Entity {
	now := time.Now().UTC()
	return Entity{CreatedAt: now, UpdatedAt: now}
}
