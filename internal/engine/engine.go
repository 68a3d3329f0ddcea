// Package engine computes booking status transitions and their side
// effects. It is deliberately persistence-free: callers get back an
// Outcome describing what to persist and which notifications to send,
// and nothing here touches a store or a mail channel.
package engine

import (
	"fmt"
	"strconv"
	"time"

	"tolka/internal/domain"
	"tolka/internal/models"
)

// Outcome describes the applied transition. When Changed is false and no
// error was returned the requested status equaled the current one and the
// call was an accepted no-op.
type Outcome struct {
	Changed bool

	// StatusLog is the {old_status, new_status} audit entry.
	StatusLog *models.ChangeEntry

	// Intents are the notifications this transition calls for. Dispatch
	// is the caller's job, strictly after a successful commit.
	Intents []models.NotificationIntent

	// CompleteActive marks the active assignment completed (session end).
	CompleteActive bool

	// WithdrawActive marks the active assignment withdrawn.
	WithdrawActive bool
}

// ApplyStatusChange validates the requested transition against the
// booking's current status and, when the guards hold, mutates the booking
// in place. Rejected transitions return a ValidationError and leave the
// booking untouched.
func ApplyStatusChange(b *models.Booking, req models.UpdateRequest, translatorChanged bool, now time.Time) (Outcome, error) {
	if req.Status == "" || req.Status == b.Status {
		return Outcome{}, nil
	}
	if !models.IsValidStatus(req.Status) {
		return Outcome{}, domain.NewValidationError("status", fmt.Sprintf("unknown status %q", req.Status))
	}

	oldStatus := b.Status
	var (
		out Outcome
		err error
	)
	switch b.Status {
	case models.StatusTimedout:
		out, err = fromTimedout(b, req, translatorChanged, now)
	case models.StatusCompleted:
		out, err = fromCompleted(b, req)
	case models.StatusStarted:
		out, err = fromStarted(b, req, now)
	case models.StatusPending:
		out, err = fromPending(b, req, translatorChanged, now)
	case models.StatusWithdrawAfter24:
		out, err = fromWithdrawAfter24(b, req)
	case models.StatusAssigned:
		out, err = fromAssigned(b, req)
	default:
		return Outcome{}, domain.NewValidationError("status", fmt.Sprintf("no transitions defined from %q", b.Status))
	}
	if err != nil {
		return Outcome{}, err
	}

	out.Changed = true
	out.StatusLog = &models.ChangeEntry{Field: "status", Old: oldStatus, New: req.Status}
	return out, nil
}

// timedout → pending reopens the booking as if freshly created; any other
// target is only reachable when the translator changed in the same update.
func fromTimedout(b *models.Booking, req models.UpdateRequest, translatorChanged bool, now time.Time) (Outcome, error) {
	if req.Status == models.StatusPending {
		b.Status = models.StatusPending
		b.CreatedAt = now
		b.EmailSent = false
		b.PushSent = false
		return Outcome{
			Intents: []models.NotificationIntent{
				{Recipient: models.RecipientCustomer, Template: models.TemplateBookingReopened},
				{Recipient: models.RecipientBroadcast, Template: models.TemplateBookingReopened},
			},
		}, nil
	}
	if translatorChanged {
		b.Status = req.Status
		return Outcome{
			Intents: []models.NotificationIntent{
				{Recipient: models.RecipientCustomer, Template: models.TemplateTranslatorAccepted},
			},
		}, nil
	}
	return Outcome{}, domain.NewValidationError("status",
		"leaving timedout requires reopening to pending or a translator change")
}

func fromCompleted(b *models.Booking, req models.UpdateRequest) (Outcome, error) {
	if req.Status == models.StatusTimedout && req.AdminComments == "" {
		return Outcome{}, domain.NewValidationError("admin_comments",
			"a comment is required to time out a completed booking")
	}
	b.Status = req.Status
	b.AdminComments = req.AdminComments
	return Outcome{}, nil
}

func fromStarted(b *models.Booking, req models.UpdateRequest, now time.Time) (Outcome, error) {
	if req.AdminComments == "" {
		return Outcome{}, domain.NewValidationError("admin_comments",
			"a comment is required to leave the started status")
	}
	if req.Status == models.StatusCompleted {
		return completeSession(b, req, now)
	}
	b.Status = req.Status
	b.AdminComments = req.AdminComments
	return Outcome{}, nil
}

// completeSession closes the session: end_at is stamped, the reported
// session time stored, and customer/translator get the session-ended
// mails sharing one subject but differing context tags.
func completeSession(b *models.Booking, req models.UpdateRequest, now time.Time) (Outcome, error) {
	dur, err := ParseSessionTime(req.SessionTime)
	if err != nil {
		return Outcome{}, err
	}

	b.Status = models.StatusCompleted
	b.AdminComments = req.AdminComments
	b.SessionTime = req.SessionTime
	b.EndAt = &now

	sessionCtx := map[string]string{"session_time": FormatSessionTime(dur)}
	return Outcome{
		CompleteActive: true,
		Intents: []models.NotificationIntent{
			{Recipient: models.RecipientCustomer, Template: models.TemplateSessionEndedCustomer, Context: sessionCtx},
			{Recipient: models.RecipientTranslator, Template: models.TemplateSessionEndedTranslator, Context: sessionCtx},
		},
	}, nil
}

func fromPending(b *models.Booking, req models.UpdateRequest, translatorChanged bool, now time.Time) (Outcome, error) {
	if req.Status == models.StatusAssigned && translatorChanged {
		b.Status = models.StatusAssigned
		b.AdminComments = req.AdminComments

		reminderAt := b.Due.Add(-models.ReminderLeadMinutes * time.Minute)
		reminderCtx := map[string]string{
			"due":      b.Due.Format(time.RFC3339),
			"duration": strconv.Itoa(b.Duration),
		}
		return Outcome{
			Intents: []models.NotificationIntent{
				{Recipient: models.RecipientCustomer, Template: models.TemplateTranslatorAccepted},
				{Recipient: models.RecipientTranslator, Template: models.TemplateTranslatorReassignNew},
				{Recipient: models.RecipientCustomer, Template: models.TemplateSessionStartReminder, Context: reminderCtx, DeliverAt: reminderAt},
				{Recipient: models.RecipientTranslator, Template: models.TemplateSessionStartReminder, Context: reminderCtx, DeliverAt: reminderAt},
			},
		}, nil
	}

	if req.Status == models.StatusTimedout && req.AdminComments == "" {
		return Outcome{}, domain.NewValidationError("admin_comments",
			"a comment is required to time out a pending booking")
	}

	b.Status = req.Status
	b.AdminComments = req.AdminComments
	return Outcome{
		Intents: []models.NotificationIntent{
			{Recipient: models.RecipientCustomer, Template: models.TemplateBookingCancelled},
		},
	}, nil
}

func fromWithdrawAfter24(b *models.Booking, req models.UpdateRequest) (Outcome, error) {
	if req.Status != models.StatusTimedout {
		return Outcome{}, domain.NewValidationError("status",
			fmt.Sprintf("cannot change a withdrawn booking to %q", req.Status))
	}
	if req.AdminComments == "" {
		return Outcome{}, domain.NewValidationError("admin_comments",
			"a comment is required to time out a withdrawn booking")
	}
	b.Status = req.Status
	b.AdminComments = req.AdminComments
	return Outcome{}, nil
}

func fromAssigned(b *models.Booking, req models.UpdateRequest) (Outcome, error) {
	if req.Status != models.StatusTimedout && !models.IsWithdrawStatus(req.Status) {
		return Outcome{}, domain.NewValidationError("status",
			fmt.Sprintf("cannot change an assigned booking to %q", req.Status))
	}
	if req.Status == models.StatusTimedout && req.AdminComments == "" {
		return Outcome{}, domain.NewValidationError("admin_comments",
			"a comment is required to time out an assigned booking")
	}

	b.Status = req.Status
	b.AdminComments = req.AdminComments

	// Timing out an assigned booking is bookkeeping only; withdrawing it
	// tells both parties.
	if !models.IsWithdrawStatus(req.Status) {
		return Outcome{}, nil
	}
	return Outcome{
		WithdrawActive: true,
		Intents: []models.NotificationIntent{
			{Recipient: models.RecipientCustomer, Template: models.TemplateBookingCancelled},
			{Recipient: models.RecipientTranslator, Template: models.TemplateBookingCancelled},
		},
	}, nil
}

// ParseSessionTime parses the reported session duration in H:MM form.
func ParseSessionTime(s string) (time.Duration, error) {
	if s == "" {
		return 0, domain.NewValidationError("session_time", "session time is required to complete a booking")
	}
	var hours, minutes int
	if _, err := fmt.Sscanf(s, "%d:%d", &hours, &minutes); err != nil {
		return 0, domain.NewValidationError("session_time", fmt.Sprintf("malformed session time %q, want H:MM", s))
	}
	if hours < 0 || minutes < 0 || minutes > 59 {
		return 0, domain.NewValidationError("session_time", fmt.Sprintf("session time %q out of range", s))
	}
	return time.Duration(hours)*time.Hour + time.Duration(minutes)*time.Minute, nil
}

// FormatSessionTime renders a duration for notification context, e.g. "1h 30m".
func FormatSessionTime(d time.Duration) string {
	return fmt.Sprintf("%dh %02dm", int(d.Hours()), int(d.Minutes())%60)
}
