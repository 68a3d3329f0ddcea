package models

import "time"

// TranslatorAssignment links a translator to a booking for a bounded
// period. Supersession never deletes rows; the prior assignment keeps its
// cancel_at timestamp so the history stays reconstructable.
//
// Invariant: at most one assignment per booking is in state "active"
// (cancel_at and completed_at both null).
type TranslatorAssignment struct {
	ID          int64      `json:"id"`
	BookingID   int64      `json:"booking_id"`
	UserID      int64      `json:"user_id"`
	State       string     `json:"state"` // active / superseded / completed / withdrawn
	CancelAt    *time.Time `json:"cancel_at"`
	CompletedAt *time.Time `json:"completed_at"`
	CreatedAt   time.Time  `json:"created_at"`
}

func (a *TranslatorAssignment) IsActive() bool {
	return a.State == AssignmentActive
}
