package service

import (
	"context"
	"errors"

	"tolka/internal/database"
	"tolka/internal/domain"
	"tolka/internal/engine"
	"tolka/internal/models"
)

// changeTranslator decides whether the update reassigns the booking and,
// if so, stages the supersession: the incumbent assignment gets closed
// and a fresh active one is created for the new translator. An email in
// the request wins over the numeric id.
func (s *BookingService) changeTranslator(ctx context.Context, current *models.TranslatorAssignment, req models.UpdateRequest, b *models.Booking, change *domain.AssignmentChange, logEntries *[]models.ChangeEntry) (bool, *models.User, *models.User, error) {
	// The replacement decision looks at the raw request; the email is
	// only resolved once a replacement is actually triggered.
	if !engine.TranslatorChangeRequested(current, req) {
		return false, nil, nil, nil
	}

	if req.TranslatorEmail != "" {
		u, err := s.repo.GetUserByEmail(ctx, req.TranslatorEmail)
		if err != nil {
			if errors.Is(err, database.ErrUserNotFound) {
				return false, nil, nil, domain.NewValidationError("translator_email", "no translator with that email")
			}
			return false, nil, nil, err
		}
		req.Translator = u.ID
	}

	newTranslator, err := s.repo.GetUserByID(ctx, req.Translator)
	if err != nil {
		if errors.Is(err, database.ErrUserNotFound) {
			return false, nil, nil, domain.NewValidationError("translator", "no such translator")
		}
		return false, nil, nil, err
	}
	if newTranslator.Role != models.RoleTranslator {
		return false, nil, nil, domain.NewValidationError("translator", "user is not a translator")
	}

	var oldTranslator *models.User
	oldEmail := ""
	if current != nil {
		if current.IsActive() {
			change.SupersedeID = current.ID
		}
		if u, err := s.repo.GetUserByID(ctx, current.UserID); err == nil {
			oldTranslator = u
			oldEmail = u.Email
		}
	}

	change.New = &models.TranslatorAssignment{
		BookingID: b.ID,
		UserID:    newTranslator.ID,
	}

	*logEntries = append(*logEntries, models.ChangeEntry{
		Field: "translator",
		Old:   oldEmail,
		New:   newTranslator.Email,
	})

	return true, newTranslator, oldTranslator, nil
}
