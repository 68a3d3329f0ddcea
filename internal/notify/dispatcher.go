package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"tolka/internal/domain"
	"tolka/internal/metrics"
	"tolka/internal/models"

	"github.com/rs/zerolog"
)

const (
	channelMail = "mail"
	channelPush = "push"
)

// Dispatcher turns notification intents into mail and push deliveries.
// It is only invoked after the booking change has committed; a delivery
// failure never propagates back to the update that produced the intent.
type Dispatcher struct {
	repo      domain.Repository
	mailer    domain.Mailer
	push      domain.PushSender
	prefs     domain.PrefsRepository
	outbox    domain.Outbox
	templates *TemplateRegistry
	logger    *zerolog.Logger
}

func NewDispatcher(repo domain.Repository, mailer domain.Mailer, push domain.PushSender, prefs domain.PrefsRepository, outbox domain.Outbox, templates *TemplateRegistry, logger *zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		repo:      repo,
		mailer:    mailer,
		push:      push,
		prefs:     prefs,
		outbox:    outbox,
		templates: templates,
		logger:    logger,
	}
}

// Dispatch delivers each intent in turn. A failed recipient does not stop
// the rest: the failure is logged, counted and queued for retry. Intents
// scheduled for the future go straight to the outbox.
func (d *Dispatcher) Dispatch(ctx context.Context, booking *models.Booking, intents []models.NotificationIntent) {
	now := time.Now()
	for _, intent := range intents {
		if intent.DeliverAt.After(now) {
			if err := d.enqueue(ctx, booking.ID, intent, intent.DeliverAt); err != nil {
				d.logger.Error().Err(err).
					Int64("booking_id", booking.ID).
					Str("template", intent.Template).
					Msg("enqueue deferred notification")
			}
			continue
		}

		if err := d.Deliver(ctx, booking, intent); err != nil {
			d.logger.Error().Err(err).
				Int64("booking_id", booking.ID).
				Str("recipient", intent.Recipient).
				Str("template", intent.Template).
				Msg("notification delivery failed, queueing for retry")
			if qerr := d.enqueue(ctx, booking.ID, intent, now); qerr != nil {
				d.logger.Error().Err(qerr).Int64("booking_id", booking.ID).Msg("enqueue failed notification")
			}
		}
	}
}

// Deliver sends one intent right now. The outbox worker calls this for
// queued items.
func (d *Dispatcher) Deliver(ctx context.Context, booking *models.Booking, intent models.NotificationIntent) error {
	tmpl, err := d.templates.Lookup(intent.Template)
	if err != nil {
		return err
	}

	data := map[string]string{
		"booking_id": fmt.Sprintf("%d", booking.ID),
		"due":        booking.Due.Format(time.RFC3339),
		"town":       booking.Town,
	}
	for k, v := range intent.Context {
		data[k] = v
	}

	switch intent.Recipient {
	case models.RecipientCustomer:
		return d.deliverCustomer(ctx, booking, tmpl, data)
	case models.RecipientTranslator, models.RecipientOldTranslator:
		return d.deliverTranslator(ctx, intent.TranslatorID, tmpl, data)
	case models.RecipientBroadcast:
		return d.deliverBroadcast(ctx, booking, intent, data)
	default:
		return fmt.Errorf("unknown notification recipient: %s", intent.Recipient)
	}
}

// The booking's override email wins over the customer account's address.
func (d *Dispatcher) deliverCustomer(ctx context.Context, booking *models.Booking, tmpl Template, data map[string]string) error {
	to := booking.UserEmail
	name := ""
	if u, err := d.repo.GetUserByID(ctx, booking.CustomerID); err == nil {
		name = u.Name
		if to == "" {
			to = u.Email
		}
	}
	if to == "" {
		return fmt.Errorf("no customer email for booking %d", booking.ID)
	}

	if err := d.mailer.Send(ctx, to, name, tmpl.Subject, tmpl.Body, data); err != nil {
		metrics.IncNotificationFailed(channelMail)
		return fmt.Errorf("failed to mail customer: %w", err)
	}
	metrics.IncNotificationSent(channelMail)
	return nil
}

func (d *Dispatcher) deliverTranslator(ctx context.Context, translatorID int64, tmpl Template, data map[string]string) error {
	u, err := d.repo.GetUserByID(ctx, translatorID)
	if err != nil {
		return fmt.Errorf("failed to resolve translator %d: %w", translatorID, err)
	}

	if err := d.mailer.Send(ctx, u.Email, u.Name, tmpl.Subject, tmpl.Body, data); err != nil {
		metrics.IncNotificationFailed(channelMail)
		return fmt.Errorf("failed to mail translator: %w", err)
	}
	metrics.IncNotificationSent(channelMail)
	return nil
}

// deliverBroadcast pushes to translators who allow pushes. Translators
// who delay pushes overnight get their copy queued for the morning. A
// broadcast intent carrying a translator id targets that one user; the
// outbox worker uses this for the deferred copies.
func (d *Dispatcher) deliverBroadcast(ctx context.Context, booking *models.Booking, intent models.NotificationIntent, data map[string]string) error {
	if intent.TranslatorID != 0 {
		u, err := d.repo.GetUserByID(ctx, intent.TranslatorID)
		if err != nil {
			return fmt.Errorf("failed to resolve translator %d: %w", intent.TranslatorID, err)
		}
		return d.sendPush(ctx, []*models.User{u}, intent.Template, data)
	}

	users, err := d.repo.GetUsersByRole(ctx, models.RoleTranslator)
	if err != nil {
		return fmt.Errorf("failed to list translators: %w", err)
	}

	now := time.Now()
	var recipients []*models.User
	for _, u := range users {
		enabled, err := d.prefs.IsPushEnabled(ctx, u.ID)
		if err != nil {
			d.logger.Error().Err(err).Int64("user_id", u.ID).Msg("read push pref")
			enabled = true
		}
		if !enabled {
			continue
		}

		delay, err := d.prefs.IsDelayPush(ctx, u.ID)
		if err == nil && delay && isNightTime(now) {
			deferred := intent
			deferred.TranslatorID = u.ID
			deferred.DeliverAt = nextMorning(now)
			if qerr := d.enqueue(ctx, booking.ID, deferred, deferred.DeliverAt); qerr != nil {
				d.logger.Error().Err(qerr).Int64("user_id", u.ID).Msg("enqueue delayed push")
			}
			continue
		}

		recipients = append(recipients, u)
	}

	if len(recipients) == 0 {
		return nil
	}
	return d.sendPush(ctx, recipients, intent.Template, data)
}

func (d *Dispatcher) sendPush(ctx context.Context, users []*models.User, template string, data map[string]string) error {
	if err := d.push.SendPush(ctx, users, template, data); err != nil {
		metrics.IncNotificationFailed(channelPush)
		return fmt.Errorf("failed to push: %w", err)
	}
	metrics.IncNotificationSent(channelPush)
	return nil
}

func (d *Dispatcher) enqueue(ctx context.Context, bookingID int64, intent models.NotificationIntent, deliverAt time.Time) error {
	payload, err := json.Marshal(intent)
	if err != nil {
		return fmt.Errorf("failed to marshal intent: %w", err)
	}
	return d.outbox.EnqueueNotification(ctx, &models.OutboxItem{
		BookingID: bookingID,
		Intent:    string(payload),
		Status:    models.OutboxPending,
		DeliverAt: deliverAt,
	})
}

func isNightTime(t time.Time) bool {
	h := t.Hour()
	return h >= models.NightStartHour || h < models.NightEndHour
}

func nextMorning(t time.Time) time.Time {
	morning := time.Date(t.Year(), t.Month(), t.Day(), models.NightEndHour, 0, 0, 0, t.Location())
	if !morning.After(t) {
		morning = morning.Add(24 * time.Hour)
	}
	return morning
}
