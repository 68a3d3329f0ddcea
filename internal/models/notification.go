package models

import "time"

// NotificationIntent is a deferred instruction to notify a party. The
// transition engine emits intents; the dispatcher resolves recipients and
// performs delivery strictly after the state change committed.
type NotificationIntent struct {
	Recipient    string            `json:"recipient"` // customer / translator / old_translator / broadcast
	TranslatorID int64             `json:"translator_id,omitempty"`
	Template     string            `json:"template"`
	Context      map[string]string `json:"context,omitempty"`
	DeliverAt    time.Time         `json:"deliver_at,omitempty"` // zero means immediately
}

// Outbox item states.
const (
	OutboxPending = "pending"
	OutboxDone    = "done"
	OutboxDead    = "dead"
)

// OutboxItem is a queued notification awaiting delivery or retry.
type OutboxItem struct {
	ID          int64      `json:"id"`
	BookingID   int64      `json:"booking_id"`
	Intent      string     `json:"intent"` // JSON-encoded NotificationIntent
	Status      string     `json:"status"`
	RetryCount  int        `json:"retry_count"`
	LastError   *string    `json:"last_error"`
	DeliverAt   time.Time  `json:"deliver_at"`
	CreatedAt   time.Time  `json:"created_at"`
	ProcessedAt *time.Time `json:"processed_at"`
}
