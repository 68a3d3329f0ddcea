package service

import (
	"context"
	"io"
	"testing"
	"time"

	"tolka/internal/database"
	"tolka/internal/domain"
	"tolka/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockRepo struct {
	mock.Mock
}

func (m *mockRepo) GetBooking(ctx context.Context, id int64) (*models.Booking, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Booking), args.Error(1)
}
func (m *mockRepo) CreateBooking(ctx context.Context, b *models.Booking) error {
	return m.Called(ctx, b).Error(0)
}
func (m *mockRepo) GetBookingsByDateRange(ctx context.Context, s, e time.Time) ([]*models.Booking, error) {
	args := m.Called(ctx, s, e)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Booking), args.Error(1)
}
func (m *mockRepo) PersistUpdate(ctx context.Context, b *models.Booking, c *domain.AssignmentChange, a *models.AuditRecord) error {
	return m.Called(ctx, b, c, a).Error(0)
}
func (m *mockRepo) SaveDistanceFeed(ctx context.Context, f *models.DistanceFeed) error {
	return m.Called(ctx, f).Error(0)
}
func (m *mockRepo) GetCurrentAssignment(ctx context.Context, id int64) (*models.TranslatorAssignment, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.TranslatorAssignment), args.Error(1)
}
func (m *mockRepo) GetAssignmentsByBooking(ctx context.Context, id int64) ([]*models.TranslatorAssignment, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.TranslatorAssignment), args.Error(1)
}
func (m *mockRepo) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}
func (m *mockRepo) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}
func (m *mockRepo) GetUsersByRole(ctx context.Context, role string) ([]*models.User, error) {
	args := m.Called(ctx, role)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.User), args.Error(1)
}
func (m *mockRepo) CreateUser(ctx context.Context, u *models.User) error {
	return m.Called(ctx, u).Error(0)
}
func (m *mockRepo) GetAuditByBooking(ctx context.Context, id int64) ([]*models.AuditRecord, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.AuditRecord), args.Error(1)
}

type mockDispatcher struct {
	mock.Mock
}

func (m *mockDispatcher) Dispatch(ctx context.Context, b *models.Booking, intents []models.NotificationIntent) {
	m.Called(ctx, b, intents)
}
func (m *mockDispatcher) Deliver(ctx context.Context, b *models.Booking, intent models.NotificationIntent) error {
	return m.Called(ctx, b, intent).Error(0)
}

type mockEventBus struct {
	mock.Mock
}

func (m *mockEventBus) PublishJSON(et string, p interface{}) error { return m.Called(et, p).Error(0) }

type mockMirror struct {
	mock.Mock
}

func (m *mockMirror) EnqueueMirror(ctx context.Context, b *models.Booking) error {
	return m.Called(ctx, b).Error(0)
}

func newTestService() (*BookingService, *mockRepo, *mockDispatcher, *mockEventBus, *mockMirror) {
	repo := new(mockRepo)
	dispatcher := new(mockDispatcher)
	bus := new(mockEventBus)
	mirror := new(mockMirror)
	logger := zerolog.New(io.Discard)
	svc := NewBookingService(repo, dispatcher, bus, mirror, &logger)
	return svc, repo, dispatcher, bus, mirror
}

func futureBooking(status string) *models.Booking {
	return &models.Booking{
		ID:             7,
		CustomerID:     3,
		Status:         status,
		FromLanguageID: 11,
		Due:            time.Now().Add(48 * time.Hour),
		Duration:       60,
		Version:        1,
	}
}

func countIntents(intents []models.NotificationIntent, recipient, template string) int {
	n := 0
	for _, i := range intents {
		if i.Recipient == recipient && i.Template == template {
			n++
		}
	}
	return n
}

func TestUpdateBooking_DueDateChange(t *testing.T) {
	svc, repo, dispatcher, bus, mirror := newTestService()
	ctx := context.Background()

	b := futureBooking(models.StatusPending)
	newDue := b.Due.Add(24 * time.Hour)

	repo.On("GetBooking", ctx, int64(7)).Return(b, nil).Once()
	repo.On("GetCurrentAssignment", ctx, int64(7)).Return(nil, nil).Once()
	repo.On("PersistUpdate", ctx, b, mock.Anything, mock.Anything).Return(nil).Once()
	bus.On("PublishJSON", mock.Anything, mock.Anything).Return(nil)
	mirror.On("EnqueueMirror", ctx, b).Return(nil).Once()

	var sent []models.NotificationIntent
	dispatcher.On("Dispatch", ctx, b, mock.Anything).Run(func(args mock.Arguments) {
		sent = args.Get(2).([]models.NotificationIntent)
	}).Once()

	view, err := svc.UpdateBooking(ctx, 7, models.UpdateRequest{Due: newDue}, &models.User{ID: 99})
	require.NoError(t, err)
	assert.Equal(t, newDue, view.Booking.Due)

	// Exactly one audit entry and one customer notification; the booking
	// has no translator so no translator copy goes out.
	audit := repo.Calls[2].Arguments.Get(3).(*models.AuditRecord)
	require.Len(t, audit.Entries, 1)
	assert.Equal(t, "due", audit.Entries[0].Field)
	assert.Equal(t, int64(99), audit.ActorID)

	assert.Equal(t, 1, countIntents(sent, models.RecipientCustomer, models.TemplateDueDateChanged))
	assert.Equal(t, 0, countIntents(sent, models.RecipientTranslator, models.TemplateDueDateChanged))

	repo.AssertExpectations(t)
	dispatcher.AssertExpectations(t)
}

func TestUpdateBooking_PastDueSkipsNotifications(t *testing.T) {
	svc, repo, dispatcher, bus, mirror := newTestService()
	ctx := context.Background()

	b := futureBooking(models.StatusPending)
	b.Due = time.Now().Add(-2 * time.Hour)

	repo.On("GetBooking", ctx, int64(7)).Return(b, nil).Once()
	repo.On("GetCurrentAssignment", ctx, int64(7)).Return(nil, nil).Once()
	repo.On("PersistUpdate", ctx, b, mock.Anything, mock.Anything).Return(nil).Once()
	bus.On("PublishJSON", mock.Anything, mock.Anything).Return(nil)
	mirror.On("EnqueueMirror", ctx, b).Return(nil).Once()

	_, err := svc.UpdateBooking(ctx, 7, models.UpdateRequest{AdminComments: "note"}, nil)
	require.NoError(t, err)

	// The audit trail is written even though nothing is dispatched.
	dispatcher.AssertNotCalled(t, "Dispatch", mock.Anything, mock.Anything, mock.Anything)
	repo.AssertExpectations(t)
}

func TestUpdateBooking_TranslatorReassignment(t *testing.T) {
	svc, repo, dispatcher, bus, mirror := newTestService()
	ctx := context.Background()

	b := futureBooking(models.StatusAssigned)
	current := &models.TranslatorAssignment{ID: 5, BookingID: 7, UserID: 40, State: models.AssignmentActive}
	oldTranslator := &models.User{ID: 40, Email: "old@example.com", Role: models.RoleTranslator}
	newTranslator := &models.User{ID: 41, Email: "new@example.com", Role: models.RoleTranslator}

	repo.On("GetBooking", ctx, int64(7)).Return(b, nil).Once()
	repo.On("GetCurrentAssignment", ctx, int64(7)).Return(current, nil).Once()
	repo.On("GetUserByID", ctx, int64(41)).Return(newTranslator, nil).Once()
	repo.On("GetUserByID", ctx, int64(40)).Return(oldTranslator, nil).Once()
	bus.On("PublishJSON", mock.Anything, mock.Anything).Return(nil)
	mirror.On("EnqueueMirror", ctx, b).Return(nil).Once()

	var change *domain.AssignmentChange
	var audit *models.AuditRecord
	repo.On("PersistUpdate", ctx, b, mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		change = args.Get(2).(*domain.AssignmentChange)
		audit = args.Get(3).(*models.AuditRecord)
	}).Return(nil).Once()

	var sent []models.NotificationIntent
	dispatcher.On("Dispatch", ctx, b, mock.Anything).Run(func(args mock.Arguments) {
		sent = args.Get(2).([]models.NotificationIntent)
	}).Once()

	_, err := svc.UpdateBooking(ctx, 7, models.UpdateRequest{Translator: 41}, nil)
	require.NoError(t, err)

	// Supersession: old assignment closed, fresh active one created.
	require.NotNil(t, change)
	assert.Equal(t, int64(5), change.SupersedeID)
	require.NotNil(t, change.New)
	assert.Equal(t, int64(41), change.New.UserID)

	require.Len(t, audit.Entries, 1)
	assert.Equal(t, "translator", audit.Entries[0].Field)
	assert.Equal(t, "old@example.com", audit.Entries[0].Old)
	assert.Equal(t, "new@example.com", audit.Entries[0].New)

	assert.Equal(t, 1, countIntents(sent, models.RecipientCustomer, models.TemplateTranslatorAccepted))
	assert.Equal(t, 1, countIntents(sent, models.RecipientTranslator, models.TemplateTranslatorReassignNew))
	assert.Equal(t, 1, countIntents(sent, models.RecipientOldTranslator, models.TemplateTranslatorReassignOld))
	repo.AssertExpectations(t)
}

func TestUpdateBooking_PendingToAssignedNotifiesOnce(t *testing.T) {
	svc, repo, dispatcher, bus, mirror := newTestService()
	ctx := context.Background()

	b := futureBooking(models.StatusPending)
	translator := &models.User{ID: 41, Email: "new@example.com", Role: models.RoleTranslator}

	repo.On("GetBooking", ctx, int64(7)).Return(b, nil).Once()
	repo.On("GetCurrentAssignment", ctx, int64(7)).Return(nil, nil).Once()
	repo.On("GetUserByID", ctx, int64(41)).Return(translator, nil).Once()
	repo.On("PersistUpdate", ctx, b, mock.Anything, mock.Anything).Return(nil).Once()
	bus.On("PublishJSON", mock.Anything, mock.Anything).Return(nil)
	mirror.On("EnqueueMirror", ctx, b).Return(nil).Once()

	var sent []models.NotificationIntent
	dispatcher.On("Dispatch", ctx, b, mock.Anything).Run(func(args mock.Arguments) {
		sent = args.Get(2).([]models.NotificationIntent)
	}).Once()

	req := models.UpdateRequest{Status: models.StatusAssigned, Translator: 41}
	view, err := svc.UpdateBooking(ctx, 7, req, nil)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAssigned, view.Booking.Status)

	// The transition and the translator-change fan-out both want these
	// mails; each recipient still gets exactly one.
	assert.Equal(t, 1, countIntents(sent, models.RecipientCustomer, models.TemplateTranslatorAccepted))
	assert.Equal(t, 1, countIntents(sent, models.RecipientTranslator, models.TemplateTranslatorReassignNew))
	assert.Equal(t, 1, countIntents(sent, models.RecipientCustomer, models.TemplateSessionStartReminder))
	assert.Equal(t, 1, countIntents(sent, models.RecipientTranslator, models.TemplateSessionStartReminder))
}

func TestUpdateBooking_GuardRejectionSkipsPersist(t *testing.T) {
	svc, repo, _, _, _ := newTestService()
	ctx := context.Background()

	b := futureBooking(models.StatusStarted)
	repo.On("GetBooking", ctx, int64(7)).Return(b, nil).Once()
	repo.On("GetCurrentAssignment", ctx, int64(7)).Return(nil, nil).Once()

	_, err := svc.UpdateBooking(ctx, 7, models.UpdateRequest{Status: models.StatusCompleted, SessionTime: "1:00"}, nil)
	assert.True(t, domain.IsValidationError(err))
	repo.AssertNotCalled(t, "PersistUpdate", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestUpdateBooking_VersionConflict(t *testing.T) {
	svc, repo, _, _, _ := newTestService()
	ctx := context.Background()

	b := futureBooking(models.StatusPending)
	repo.On("GetBooking", ctx, int64(7)).Return(b, nil).Once()
	repo.On("GetCurrentAssignment", ctx, int64(7)).Return(nil, nil).Once()
	repo.On("PersistUpdate", ctx, b, mock.Anything, mock.Anything).
		Return(database.ErrConcurrentModification).Once()

	_, err := svc.UpdateBooking(ctx, 7, models.UpdateRequest{AdminComments: "x"}, nil)
	assert.ErrorIs(t, err, database.ErrConcurrentModification)
}

func TestUpdateBooking_TranslatorEmailResolution(t *testing.T) {
	svc, repo, dispatcher, bus, mirror := newTestService()
	ctx := context.Background()

	b := futureBooking(models.StatusPending)
	translator := &models.User{ID: 41, Email: "new@example.com", Role: models.RoleTranslator}

	repo.On("GetBooking", ctx, int64(7)).Return(b, nil).Once()
	repo.On("GetCurrentAssignment", ctx, int64(7)).Return(nil, nil).Once()
	repo.On("GetUserByEmail", ctx, "new@example.com").Return(translator, nil).Once()
	repo.On("GetUserByID", ctx, int64(41)).Return(translator, nil).Once()
	repo.On("PersistUpdate", ctx, b, mock.Anything, mock.Anything).Return(nil).Once()
	bus.On("PublishJSON", mock.Anything, mock.Anything).Return(nil)
	mirror.On("EnqueueMirror", ctx, b).Return(nil).Once()
	dispatcher.On("Dispatch", ctx, b, mock.Anything).Once()

	// The email wins even when a different numeric id is supplied.
	req := models.UpdateRequest{Translator: 999, TranslatorEmail: "new@example.com"}
	view, err := svc.UpdateBooking(ctx, 7, req, nil)
	require.NoError(t, err)
	require.NotNil(t, view.Assignment)
	assert.Equal(t, int64(41), view.Assignment.UserID)
	repo.AssertExpectations(t)
}

func TestUpdateBooking_EmailOnlyKeepsIncumbent(t *testing.T) {
	ctx := context.Background()

	// With an active assignment, an email alone (translator id zero) is
	// not a replacement request, whether it names a colleague or the
	// incumbent.
	for name, email := range map[string]string{
		"OtherTranslatorEmail": "new@example.com",
		"IncumbentEmail":       "old@example.com",
	} {
		t.Run(name, func(t *testing.T) {
			svc, repo, dispatcher, bus, mirror := newTestService()

			b := futureBooking(models.StatusAssigned)
			current := &models.TranslatorAssignment{ID: 5, BookingID: 7, UserID: 40, State: models.AssignmentActive}
			incumbent := &models.User{ID: 40, Email: "old@example.com", Role: models.RoleTranslator}

			repo.On("GetBooking", ctx, int64(7)).Return(b, nil).Once()
			repo.On("GetCurrentAssignment", ctx, int64(7)).Return(current, nil).Once()
			repo.On("GetUserByID", ctx, int64(40)).Return(incumbent, nil).Once()
			bus.On("PublishJSON", mock.Anything, mock.Anything).Return(nil)
			mirror.On("EnqueueMirror", ctx, b).Return(nil).Once()

			var change *domain.AssignmentChange
			repo.On("PersistUpdate", ctx, b, mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
				change = args.Get(2).(*domain.AssignmentChange)
			}).Return(nil).Once()

			var sent []models.NotificationIntent
			dispatcher.On("Dispatch", ctx, b, mock.Anything).Run(func(args mock.Arguments) {
				sent = args.Get(2).([]models.NotificationIntent)
			}).Once()

			view, err := svc.UpdateBooking(ctx, 7, models.UpdateRequest{TranslatorEmail: email}, nil)
			require.NoError(t, err)

			require.NotNil(t, change)
			assert.True(t, change.Empty())
			assert.Empty(t, sent)
			require.NotNil(t, view.Assignment)
			assert.Equal(t, int64(40), view.Assignment.UserID)
			repo.AssertNotCalled(t, "GetUserByEmail", mock.Anything, mock.Anything)
		})
	}
}

func TestUpdateBooking_UnknownTranslatorEmail(t *testing.T) {
	svc, repo, _, _, _ := newTestService()
	ctx := context.Background()

	b := futureBooking(models.StatusPending)
	repo.On("GetBooking", ctx, int64(7)).Return(b, nil).Once()
	repo.On("GetCurrentAssignment", ctx, int64(7)).Return(nil, nil).Once()
	repo.On("GetUserByEmail", ctx, "ghost@example.com").Return(nil, database.ErrUserNotFound).Once()

	_, err := svc.UpdateBooking(ctx, 7, models.UpdateRequest{TranslatorEmail: "ghost@example.com"}, nil)
	assert.True(t, domain.IsValidationError(err))
}

func TestReopenBooking_CarriesCommentsThrough(t *testing.T) {
	svc, repo, dispatcher, bus, mirror := newTestService()
	ctx := context.Background()

	b := futureBooking(models.StatusTimedout)
	b.AdminComments = "keep me"
	b.Reference = "REF-9"

	repo.On("GetBooking", ctx, int64(7)).Return(b, nil).Twice()
	repo.On("GetCurrentAssignment", ctx, int64(7)).Return(nil, nil).Once()
	repo.On("PersistUpdate", ctx, b, mock.Anything, mock.Anything).Return(nil).Once()
	bus.On("PublishJSON", mock.Anything, mock.Anything).Return(nil)
	mirror.On("EnqueueMirror", ctx, b).Return(nil).Once()
	dispatcher.On("Dispatch", ctx, b, mock.Anything).Once()

	view, err := svc.ReopenBooking(ctx, 7, nil)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, view.Booking.Status)
	assert.Equal(t, "keep me", view.Booking.AdminComments)
	assert.Equal(t, "REF-9", view.Booking.Reference)
}

func TestResendNotifications(t *testing.T) {
	svc, repo, dispatcher, _, _ := newTestService()
	ctx := context.Background()

	b := futureBooking(models.StatusPending)
	repo.On("GetBooking", ctx, int64(7)).Return(b, nil).Once()

	var sent []models.NotificationIntent
	dispatcher.On("Dispatch", ctx, b, mock.Anything).Run(func(args mock.Arguments) {
		sent = args.Get(2).([]models.NotificationIntent)
	}).Once()

	require.NoError(t, svc.ResendNotifications(ctx, 7))
	require.Len(t, sent, 1)
	assert.Equal(t, models.RecipientBroadcast, sent[0].Recipient)
	assert.Equal(t, models.TemplateBookingReopened, sent[0].Template)
}

func TestSaveDistanceFeed(t *testing.T) {
	svc, repo, _, _, _ := newTestService()
	ctx := context.Background()

	t.Run("FlaggedNeedsComment", func(t *testing.T) {
		err := svc.SaveDistanceFeed(ctx, &models.DistanceFeed{BookingID: 7, Flagged: true})
		assert.True(t, domain.IsValidationError(err))
	})

	t.Run("Saved", func(t *testing.T) {
		feed := &models.DistanceFeed{BookingID: 7, Distance: "12 km", Flagged: true, AdminComment: "long detour"}
		repo.On("SaveDistanceFeed", ctx, feed).Return(nil).Once()
		assert.NoError(t, svc.SaveDistanceFeed(ctx, feed))
		repo.AssertExpectations(t)
	})
}
