package models

import "time"

type Booking struct {
	ID              int64      `json:"id"`
	CustomerID      int64      `json:"customer_id"`
	UserEmail       string     `json:"user_email"` // overrides the customer's account email when set
	Status          string     `json:"status"`     // see constants.go
	FromLanguageID  int64      `json:"from_language_id"`
	Due             time.Time  `json:"due"`
	Duration        int        `json:"duration"` // minutes
	SessionTime     string     `json:"session_time"`
	AdminComments   string     `json:"admin_comments"`
	Reference       string     `json:"reference"`
	AttendanceType  string     `json:"attendance_type"` // physical / phone
	Town            string     `json:"town"`
	Flagged         bool       `json:"flagged"`
	ManuallyHandled bool       `json:"manually_handled"`
	ByAdmin         bool       `json:"by_admin"`
	EmailSent       bool       `json:"email_sent"`
	PushSent        bool       `json:"push_sent"`
	EndAt           *time.Time `json:"end_at"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	Version         int64      `json:"version"`
}

// Terminal reports whether the booking's session already concluded.
func (b *Booking) Terminal() bool {
	return b.EndAt != nil
}

// UpdateRequest carries the proposed booking changes. It is transient and
// never persisted as-is.
type UpdateRequest struct {
	Status          string    `json:"status"`
	Due             time.Time `json:"due"`
	FromLanguageID  int64     `json:"from_language_id"`
	Translator      int64     `json:"translator"`
	TranslatorEmail string    `json:"translator_email"`
	AdminComments   string    `json:"admin_comments"`
	Reference       string    `json:"reference"`
	SessionTime     string    `json:"session_time"` // H:MM, required on completion
}

// DistanceFeed records the distance/time report for a finished session.
type DistanceFeed struct {
	BookingID       int64  `json:"booking_id"`
	Distance        string `json:"distance"`
	TravelTime      string `json:"travel_time"`
	SessionTime     string `json:"session_time"`
	Flagged         bool   `json:"flagged"`
	ManuallyHandled bool   `json:"manually_handled"`
	ByAdmin         bool   `json:"by_admin"`
	AdminComment    string `json:"admin_comment"`
}
