package models

import "time"

// ChangeEntry is one field-level diff inside an audit record.
type ChangeEntry struct {
	Field string `json:"field"`
	Old   string `json:"old"`
	New   string `json:"new"`
}

// AuditRecord aggregates all changes of a single booking update. One
// record is appended per update, never rewritten.
type AuditRecord struct {
	ID        int64         `json:"id"`
	BookingID int64         `json:"booking_id"`
	ActorID   int64         `json:"actor_id"`
	Entries   []ChangeEntry `json:"entries"`
	CreatedAt time.Time     `json:"created_at"`
}
