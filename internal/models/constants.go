package models

const (
	StatusPending          = "pending"
	StatusAssigned         = "assigned"
	StatusStarted          = "started"
	StatusCompleted        = "completed"
	StatusWithdrawBefore24 = "withdrawbefore24"
	StatusWithdrawAfter24  = "withdrawafter24"
	StatusTimedout         = "timedout"
)

const (
	AssignmentActive     = "active"
	AssignmentSuperseded = "superseded"
	AssignmentCompleted  = "completed"
	AssignmentWithdrawn  = "withdrawn"
)

const (
	RoleCustomer   = "customer"
	RoleTranslator = "translator"
	RoleAdmin      = "admin"
)

const (
	AttendancePhysical = "physical"
	AttendancePhone    = "phone"
)

// Notification recipients as seen by the dispatcher.
const (
	RecipientCustomer      = "customer"
	RecipientTranslator    = "translator"
	RecipientOldTranslator = "old_translator"
	RecipientBroadcast     = "broadcast"
)

// Notification template keys. Rendered copy lives with the mail templates,
// not in this repo.
const (
	TemplateBookingReopened        = "booking-reopened"
	TemplateTranslatorAccepted     = "translator-accepted"
	TemplateTranslatorReassignNew  = "translator-reassigned-new"
	TemplateTranslatorReassignOld  = "translator-reassigned-old"
	TemplateBookingCancelled       = "booking-cancelled"
	TemplateSessionEndedCustomer   = "session-ended-customer"
	TemplateSessionEndedTranslator = "session-ended-translator"
	TemplateDueDateChanged         = "due-date-changed"
	TemplateLanguageChanged        = "language-changed"
	TemplateSessionStartReminder   = "session-start-reminder"
)

const (
	// ReminderLeadMinutes how long before the session start reminders fire
	ReminderLeadMinutes = 90

	// WorkerQueueSize размер очереди воркера
	WorkerQueueSize = 1000

	// DefaultPrefsTTL время жизни настроек уведомлений в Redis
	DefaultPrefsTTL = 24 * 60 * 60 // 24 часа в секундах

	// NightStartHour / NightEndHour window during which delayed pushes are held
	NightStartHour = 22
	NightEndHour   = 7
)

var validStatuses = map[string]bool{
	StatusPending:          true,
	StatusAssigned:         true,
	StatusStarted:          true,
	StatusCompleted:        true,
	StatusWithdrawBefore24: true,
	StatusWithdrawAfter24:  true,
	StatusTimedout:         true,
}

func IsValidStatus(s string) bool {
	return validStatuses[s]
}

func IsWithdrawStatus(s string) bool {
	return s == StatusWithdrawBefore24 || s == StatusWithdrawAfter24
}
