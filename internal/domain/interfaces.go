package domain

import (
	"context"
	"time"

	"tolka/internal/models"
)

// AssignmentChange is the assignment side effect of one booking update,
// applied in the same transaction as the booking save.
type AssignmentChange struct {
	New         *models.TranslatorAssignment
	SupersedeID int64 // prior active assignment to mark superseded
	CompleteID  int64 // active assignment to mark completed (session end)
	WithdrawID  int64 // active assignment to mark withdrawn
}

func (c *AssignmentChange) Empty() bool {
	return c == nil || (c.New == nil && c.SupersedeID == 0 && c.CompleteID == 0 && c.WithdrawID == 0)
}

type Repository interface {
	GetBooking(ctx context.Context, id int64) (*models.Booking, error)
	CreateBooking(ctx context.Context, booking *models.Booking) error
	GetBookingsByDateRange(ctx context.Context, start, end time.Time) ([]*models.Booking, error)

	// PersistUpdate writes the booking (guarded by its version), the
	// assignment change and the audit record in one transaction.
	PersistUpdate(ctx context.Context, booking *models.Booking, change *AssignmentChange, audit *models.AuditRecord) error

	SaveDistanceFeed(ctx context.Context, feed *models.DistanceFeed) error

	GetCurrentAssignment(ctx context.Context, bookingID int64) (*models.TranslatorAssignment, error)
	GetAssignmentsByBooking(ctx context.Context, bookingID int64) ([]*models.TranslatorAssignment, error)

	GetUserByID(ctx context.Context, id int64) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUsersByRole(ctx context.Context, role string) ([]*models.User, error)
	CreateUser(ctx context.Context, user *models.User) error

	GetAuditByBooking(ctx context.Context, bookingID int64) ([]*models.AuditRecord, error)
}

// Outbox queues notifications for deferred delivery and retries.
type Outbox interface {
	EnqueueNotification(ctx context.Context, item *models.OutboxItem) error
	PendingNotifications(ctx context.Context, now time.Time, limit int) ([]*models.OutboxItem, error)
	MarkNotificationDone(ctx context.Context, id int64) error
	MarkNotificationFailed(ctx context.Context, id int64, lastError string, nextRetry time.Time, dead bool) error
}

type Mailer interface {
	Send(ctx context.Context, to, name, subject, template string, data map[string]string) error
}

type PushSender interface {
	SendPush(ctx context.Context, users []*models.User, template string, data map[string]string) error
}

// PrefsRepository holds per-user notification preferences.
type PrefsRepository interface {
	IsPushEnabled(ctx context.Context, userID int64) (bool, error)
	IsDelayPush(ctx context.Context, userID int64) (bool, error)
	SetPushEnabled(ctx context.Context, userID int64, enabled bool) error
	SetDelayPush(ctx context.Context, userID int64, delay bool) error
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

// Dispatcher resolves notification intents to recipients and delivers
// them. Dispatch is fire-and-forget: delivery failures are logged and
// queued for retry, never returned to the caller.
type Dispatcher interface {
	Dispatch(ctx context.Context, booking *models.Booking, intents []models.NotificationIntent)
	Deliver(ctx context.Context, booking *models.Booking, intent models.NotificationIntent) error
}

// SheetsMirror keeps the external spreadsheet copy of the bookings ledger.
type SheetsMirror interface {
	UpsertBookingRow(ctx context.Context, booking *models.Booking) error
	UpdateBookingStatusRow(ctx context.Context, bookingID int64, status string) error
}

// MirrorWorker accepts mirror tasks from the update path.
type MirrorWorker interface {
	EnqueueMirror(ctx context.Context, booking *models.Booking) error
}
