package service

import (
	"context"
	"strconv"
	"time"

	"tolka/internal/domain"
	"tolka/internal/engine"
	"tolka/internal/events"
	"tolka/internal/metrics"
	"tolka/internal/models"

	"github.com/rs/zerolog"
)

// BookingView is what API callers get back for a booking.
type BookingView struct {
	Booking    *models.Booking              `json:"booking"`
	Assignment *models.TranslatorAssignment `json:"assignment,omitempty"`
	Translator *models.User                 `json:"translator,omitempty"`
}

type BookingService struct {
	repo       domain.Repository
	dispatcher domain.Dispatcher
	eventBus   domain.EventPublisher
	mirror     domain.MirrorWorker
	logger     *zerolog.Logger
}

func NewBookingService(repo domain.Repository, dispatcher domain.Dispatcher, eventBus domain.EventPublisher, mirror domain.MirrorWorker, logger *zerolog.Logger) *BookingService {
	return &BookingService{
		repo:       repo,
		dispatcher: dispatcher,
		eventBus:   eventBus,
		mirror:     mirror,
		logger:     logger,
	}
}

// UpdateBooking applies one booking update: field diffs are detected and
// staged, the status transition is validated and applied, everything is
// persisted in one version-guarded transaction, and only then do
// notifications go out, provided the booking's due time has not already
// passed.
func (s *BookingService) UpdateBooking(ctx context.Context, id int64, req models.UpdateRequest, actor *models.User) (*BookingView, error) {
	now := time.Now()

	b, err := s.repo.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}

	current, err := s.repo.GetCurrentAssignment(ctx, id)
	if err != nil {
		return nil, err
	}

	var logEntries []models.ChangeEntry
	change := &domain.AssignmentChange{}

	translatorChanged, newTranslator, oldTranslator, err := s.changeTranslator(ctx, current, req, b, change, &logEntries)
	if err != nil {
		return nil, err
	}

	dateChanged := !req.Due.IsZero() && !req.Due.Equal(b.Due)
	var oldDue time.Time
	if dateChanged {
		oldDue = b.Due
		logEntries = append(logEntries, models.ChangeEntry{
			Field: "due",
			Old:   oldDue.Format(time.RFC3339),
			New:   req.Due.Format(time.RFC3339),
		})
		b.Due = req.Due
	}

	langChanged := req.FromLanguageID != 0 && req.FromLanguageID != b.FromLanguageID
	var oldLang int64
	if langChanged {
		oldLang = b.FromLanguageID
		logEntries = append(logEntries, models.ChangeEntry{
			Field: "from_language_id",
			Old:   strconv.FormatInt(oldLang, 10),
			New:   strconv.FormatInt(req.FromLanguageID, 10),
		})
		b.FromLanguageID = req.FromLanguageID
	}

	outcome, err := engine.ApplyStatusChange(b, req, translatorChanged, now)
	if err != nil {
		if domain.IsValidationError(err) {
			metrics.IncTransitionRejected(b.Status)
		}
		return nil, err
	}
	if outcome.StatusLog != nil {
		logEntries = append(logEntries, *outcome.StatusLog)
	}

	b.AdminComments = req.AdminComments
	b.Reference = req.Reference

	s.applyAssignmentEffects(outcome, current, change, now)

	audit := &models.AuditRecord{BookingID: b.ID, ActorID: actorID(actor), Entries: logEntries}
	if err := s.repo.PersistUpdate(ctx, b, change, audit); err != nil {
		return nil, err
	}

	s.logger.Info().
		Int64("booking_id", b.ID).
		Int64("actor_id", audit.ActorID).
		Str("status", b.Status).
		Int("changes", len(logEntries)).
		Msg("booking updated")

	s.publishUpdateEvents(b, outcome, translatorChanged, audit.ActorID)
	s.enqueueMirror(ctx, b)

	view := &BookingView{Booking: b, Assignment: change.New, Translator: newTranslator}
	if view.Assignment == nil {
		view.Assignment = current
		if current != nil && newTranslator == nil {
			view.Translator, _ = s.repo.GetUserByID(ctx, current.UserID)
		}
	}

	// Already-elapsed bookings are not worth notifying about.
	if !b.Due.After(now) {
		return view, nil
	}

	intents := outcome.Intents
	if dateChanged {
		ctxData := map[string]string{"old_due": oldDue.Format(time.RFC3339)}
		intents = append(intents,
			models.NotificationIntent{Recipient: models.RecipientCustomer, Template: models.TemplateDueDateChanged, Context: ctxData},
			models.NotificationIntent{Recipient: models.RecipientTranslator, Template: models.TemplateDueDateChanged, Context: ctxData},
		)
	}
	if translatorChanged {
		intents = append(intents,
			models.NotificationIntent{Recipient: models.RecipientCustomer, Template: models.TemplateTranslatorAccepted},
			models.NotificationIntent{Recipient: models.RecipientTranslator, Template: models.TemplateTranslatorReassignNew},
		)
		if oldTranslator != nil {
			intents = append(intents, models.NotificationIntent{
				Recipient:    models.RecipientOldTranslator,
				TranslatorID: oldTranslator.ID,
				Template:     models.TemplateTranslatorReassignOld,
			})
		}
	}
	if langChanged {
		ctxData := map[string]string{"old_lang": strconv.FormatInt(oldLang, 10)}
		intents = append(intents,
			models.NotificationIntent{Recipient: models.RecipientCustomer, Template: models.TemplateLanguageChanged, Context: ctxData},
			models.NotificationIntent{Recipient: models.RecipientTranslator, Template: models.TemplateLanguageChanged, Context: ctxData},
		)
	}

	intents = s.resolveIntentTargets(intents, current, newTranslator)
	s.dispatcher.Dispatch(ctx, b, dedupeIntents(intents))

	return view, nil
}

// applyAssignmentEffects maps the engine outcome onto the assignment that
// is active after the translator step: the freshly created one when the
// update reassigned, otherwise the incumbent.
func (s *BookingService) applyAssignmentEffects(outcome engine.Outcome, current *models.TranslatorAssignment, change *domain.AssignmentChange, now time.Time) {
	if outcome.CompleteActive {
		if change.New != nil {
			change.New.State = models.AssignmentCompleted
			change.New.CompletedAt = &now
		} else if current != nil && current.IsActive() {
			change.CompleteID = current.ID
		}
	}
	if outcome.WithdrawActive {
		if change.New != nil {
			change.New.State = models.AssignmentWithdrawn
			change.New.CancelAt = &now
		} else if current != nil && current.IsActive() {
			change.WithdrawID = current.ID
		}
	}
}

// resolveIntentTargets fills in translator user ids the engine could not
// know: "translator" means whoever holds the booking after this update.
func (s *BookingService) resolveIntentTargets(intents []models.NotificationIntent, current *models.TranslatorAssignment, newTranslator *models.User) []models.NotificationIntent {
	var activeID int64
	if newTranslator != nil {
		activeID = newTranslator.ID
	} else if current != nil {
		activeID = current.UserID
	}

	resolved := intents[:0]
	for _, intent := range intents {
		if intent.Recipient == models.RecipientTranslator {
			if intent.TranslatorID == 0 {
				intent.TranslatorID = activeID
			}
			// No translator on the booking: nothing to address.
			if intent.TranslatorID == 0 {
				continue
			}
		}
		resolved = append(resolved, intent)
	}
	return resolved
}

// dedupeIntents drops duplicate notifications produced when a transition
// effect and the field-diff fan-out name the same recipient and template.
func dedupeIntents(intents []models.NotificationIntent) []models.NotificationIntent {
	type key struct {
		recipient string
		id        int64
		template  string
	}
	seen := make(map[key]bool, len(intents))
	out := intents[:0]
	for _, intent := range intents {
		k := key{intent.Recipient, intent.TranslatorID, intent.Template}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, intent)
	}
	return out
}

func (s *BookingService) publishUpdateEvents(b *models.Booking, outcome engine.Outcome, translatorChanged bool, actorID int64) {
	payload := events.BookingEventPayload{
		BookingID:      b.ID,
		CustomerID:     b.CustomerID,
		Status:         b.Status,
		FromLanguageID: b.FromLanguageID,
		Due:            b.Due,
		ActorID:        actorID,
	}
	s.publishEvent(events.EventBookingUpdated, payload)

	if translatorChanged {
		s.publishEvent(events.EventTranslatorChanged, payload)
	}
	if !outcome.Changed {
		return
	}
	switch {
	case b.Status == models.StatusPending:
		s.publishEvent(events.EventBookingReopened, payload)
	case b.Status == models.StatusCompleted && b.EndAt != nil:
		s.publishEvent(events.EventSessionEnded, payload)
	case models.IsWithdrawStatus(b.Status):
		s.publishEvent(events.EventBookingCancelled, payload)
	}
}

func (s *BookingService) publishEvent(eventType string, payload events.BookingEventPayload) {
	if s.eventBus == nil {
		return
	}
	if err := s.eventBus.PublishJSON(eventType, payload); err != nil {
		s.logger.Error().Err(err).Str("event_type", eventType).Int64("booking_id", payload.BookingID).Msg("publish event error")
	}
}

func (s *BookingService) enqueueMirror(ctx context.Context, b *models.Booking) {
	if s.mirror == nil {
		return
	}
	if err := s.mirror.EnqueueMirror(ctx, b); err != nil {
		s.logger.Error().Err(err).Int64("booking_id", b.ID).Msg("mirror enqueue error")
	}
}

func (s *BookingService) GetBooking(ctx context.Context, id int64) (*BookingView, error) {
	b, err := s.repo.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	view := &BookingView{Booking: b}
	if a, err := s.repo.GetCurrentAssignment(ctx, id); err == nil && a != nil {
		view.Assignment = a
		view.Translator, _ = s.repo.GetUserByID(ctx, a.UserID)
	}
	return view, nil
}

func (s *BookingService) GetHistory(ctx context.Context, bookingID int64) ([]*models.AuditRecord, error) {
	if _, err := s.repo.GetBooking(ctx, bookingID); err != nil {
		return nil, err
	}
	return s.repo.GetAuditByBooking(ctx, bookingID)
}

func (s *BookingService) GetBookingsByDateRange(ctx context.Context, start, end time.Time) ([]*models.Booking, error) {
	return s.repo.GetBookingsByDateRange(ctx, start, end)
}

// ReopenBooking is the timedout → pending shortcut. Comments and
// reference are carried over so the unconditional overwrite in
// UpdateBooking does not wipe them.
func (s *BookingService) ReopenBooking(ctx context.Context, id int64, actor *models.User) (*BookingView, error) {
	b, err := s.repo.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	req := models.UpdateRequest{
		Status:        models.StatusPending,
		AdminComments: b.AdminComments,
		Reference:     b.Reference,
	}
	return s.UpdateBooking(ctx, id, req, actor)
}

// ResendNotifications re-broadcasts the booking to translators.
func (s *BookingService) ResendNotifications(ctx context.Context, id int64) error {
	b, err := s.repo.GetBooking(ctx, id)
	if err != nil {
		return err
	}
	s.dispatcher.Dispatch(ctx, b, []models.NotificationIntent{
		{Recipient: models.RecipientBroadcast, Template: models.TemplateBookingReopened},
	})
	return nil
}

// SaveDistanceFeed records a distance/time report. Flagged reports must
// carry an admin comment.
func (s *BookingService) SaveDistanceFeed(ctx context.Context, feed *models.DistanceFeed) error {
	if feed.Flagged && feed.AdminComment == "" {
		return domain.NewValidationError("admincomment", "a comment is required for flagged reports")
	}
	return s.repo.SaveDistanceFeed(ctx, feed)
}

func actorID(actor *models.User) int64 {
	if actor == nil {
		return 0
	}
	return actor.ID
}
