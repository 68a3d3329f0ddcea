package notify

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"tolka/internal/domain"
	"tolka/internal/models"
	"tolka/internal/repository"

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

type sentMail struct {
	To      string
	Subject string
	Data    map[string]string
}

type fakeMailer struct {
	sent    []sentMail
	failFor map[string]error
}

func (f *fakeMailer) Send(ctx context.Context, to, name, subject, template string, data map[string]string) error {
	if err, ok := f.failFor[to]; ok {
		return err
	}
	f.sent = append(f.sent, sentMail{To: to, Subject: subject, Data: data})
	return nil
}

type fakePush struct {
	pushed [][]*models.User
	err    error
}

func (f *fakePush) SendPush(ctx context.Context, users []*models.User, template string, data map[string]string) error {
	if f.err != nil {
		return f.err
	}
	f.pushed = append(f.pushed, users)
	return nil
}

type fakeOutbox struct {
	items []*models.OutboxItem
}

func (f *fakeOutbox) EnqueueNotification(ctx context.Context, item *models.OutboxItem) error {
	item.ID = int64(len(f.items) + 1)
	f.items = append(f.items, item)
	return nil
}
func (f *fakeOutbox) PendingNotifications(ctx context.Context, now time.Time, limit int) ([]*models.OutboxItem, error) {
	return nil, nil
}
func (f *fakeOutbox) MarkNotificationDone(ctx context.Context, id int64) error { return nil }
func (f *fakeOutbox) MarkNotificationFailed(ctx context.Context, id int64, lastError string, nextRetry time.Time, dead bool) error {
	return nil
}

func newTestDispatcher(t *testing.T, repo *mockRepo) (*Dispatcher, *fakeMailer, *fakePush, *fakeOutbox, *repository.MemoryPrefsRepository) {
	t.Helper()
	templates, err := NewTemplateRegistry("")
	require.NoError(t, err)
	mailer := &fakeMailer{failFor: map[string]error{}}
	push := &fakePush{}
	outbox := &fakeOutbox{}
	prefs := repository.NewMemoryPrefsRepository()
	logger := zerolog.New(io.Discard)
	d := NewDispatcher(repo, mailer, push, prefs, outbox, templates, &logger)
	return d, mailer, push, outbox, prefs
}

func testNotifyBooking() *models.Booking {
	return &models.Booking{
		ID:         7,
		CustomerID: 3,
		UserEmail:  "override@example.com",
		Status:     models.StatusPending,
		Due:        time.Now().Add(48 * time.Hour),
		Town:       "Umeå",
	}
}

func TestDeliver_CustomerUsesOverrideEmail(t *testing.T) {
	repo := new(mockRepo)
	d, mailer, _, _, _ := newTestDispatcher(t, repo)
	b := testNotifyBooking()

	repo.On("GetUserByID", mock.Anything, int64(3)).Return(&models.User{ID: 3, Name: "Kund", Email: "customer@example.com"}, nil)

	intent := models.NotificationIntent{
		Recipient: models.RecipientCustomer,
		Template:  models.TemplateDueDateChanged,
		Context:   map[string]string{"old_due": "2026-09-09T14:00:00Z"},
	}
	require.NoError(t, d.Deliver(context.Background(), b, intent))

	require.Len(t, mailer.sent, 1)
	assert.Equal(t, "override@example.com", mailer.sent[0].To)
	assert.Equal(t, "Booking time changed", mailer.sent[0].Subject)
	assert.Equal(t, "7", mailer.sent[0].Data["booking_id"])
	assert.Equal(t, "2026-09-09T14:00:00Z", mailer.sent[0].Data["old_due"])
}

func TestDeliver_UnknownTemplate(t *testing.T) {
	repo := new(mockRepo)
	d, mailer, _, _, _ := newTestDispatcher(t, repo)

	err := d.Deliver(context.Background(), testNotifyBooking(), models.NotificationIntent{
		Recipient: models.RecipientCustomer,
		Template:  "no-such-template",
	})
	assert.Error(t, err)
	assert.Empty(t, mailer.sent)
}

func TestDispatch_FailureIsolation(t *testing.T) {
	repo := new(mockRepo)
	d, mailer, _, outbox, _ := newTestDispatcher(t, repo)
	b := testNotifyBooking()

	repo.On("GetUserByID", mock.Anything, int64(3)).Return(&models.User{ID: 3, Email: "customer@example.com"}, nil)
	repo.On("GetUserByID", mock.Anything, int64(41)).Return(&models.User{ID: 41, Email: "translator@example.com"}, nil)
	mailer.failFor["override@example.com"] = errors.New("smtp timeout")

	d.Dispatch(context.Background(), b, []models.NotificationIntent{
		{Recipient: models.RecipientCustomer, Template: models.TemplateDueDateChanged},
		{Recipient: models.RecipientTranslator, TranslatorID: 41, Template: models.TemplateDueDateChanged},
	})

	// The translator copy still went out; the failed customer mail is
	// waiting in the outbox for the retry worker.
	require.Len(t, mailer.sent, 1)
	assert.Equal(t, "translator@example.com", mailer.sent[0].To)
	require.Len(t, outbox.items, 1)
	assert.Equal(t, models.OutboxPending, outbox.items[0].Status)
	assert.Contains(t, outbox.items[0].Intent, models.TemplateDueDateChanged)
}

func TestDispatch_DeferredIntentGoesToOutbox(t *testing.T) {
	repo := new(mockRepo)
	d, mailer, _, outbox, _ := newTestDispatcher(t, repo)
	b := testNotifyBooking()

	deliverAt := time.Now().Add(time.Hour)
	d.Dispatch(context.Background(), b, []models.NotificationIntent{
		{Recipient: models.RecipientCustomer, Template: models.TemplateSessionStartReminder, DeliverAt: deliverAt},
	})

	assert.Empty(t, mailer.sent)
	require.Len(t, outbox.items, 1)
	assert.WithinDuration(t, deliverAt, outbox.items[0].DeliverAt, time.Second)
}

func TestDeliver_BroadcastHonorsPushPrefs(t *testing.T) {
	repo := new(mockRepo)
	d, _, push, _, prefs := newTestDispatcher(t, repo)
	b := testNotifyBooking()
	ctx := context.Background()

	translators := []*models.User{
		{ID: 40, Email: "a@example.com", TelegramChatID: 100},
		{ID: 41, Email: "b@example.com", TelegramChatID: 101},
		{ID: 42, Email: "c@example.com", TelegramChatID: 102},
	}
	repo.On("GetUsersByRole", mock.Anything, models.RoleTranslator).Return(translators, nil)
	require.NoError(t, prefs.SetPushEnabled(ctx, 41, false))

	err := d.Deliver(ctx, b, models.NotificationIntent{
		Recipient: models.RecipientBroadcast,
		Template:  models.TemplateBookingReopened,
	})
	require.NoError(t, err)

	require.Len(t, push.pushed, 1)
	require.Len(t, push.pushed[0], 2)
	assert.Equal(t, int64(40), push.pushed[0][0].ID)
	assert.Equal(t, int64(42), push.pushed[0][1].ID)
}

func TestDeliver_BroadcastWithTargetPushesOneUser(t *testing.T) {
	repo := new(mockRepo)
	d, _, push, _, _ := newTestDispatcher(t, repo)
	b := testNotifyBooking()

	repo.On("GetUserByID", mock.Anything, int64(41)).Return(&models.User{ID: 41, TelegramChatID: 101}, nil)

	err := d.Deliver(context.Background(), b, models.NotificationIntent{
		Recipient:    models.RecipientBroadcast,
		TranslatorID: 41,
		Template:     models.TemplateBookingReopened,
	})
	require.NoError(t, err)
	require.Len(t, push.pushed, 1)
	require.Len(t, push.pushed[0], 1)
	assert.Equal(t, int64(41), push.pushed[0][0].ID)
}

func TestNightWindow(t *testing.T) {
	assert.True(t, isNightTime(time.Date(2026, 9, 10, 23, 15, 0, 0, time.UTC)))
	assert.True(t, isNightTime(time.Date(2026, 9, 10, 2, 0, 0, 0, time.UTC)))
	assert.False(t, isNightTime(time.Date(2026, 9, 10, 12, 0, 0, 0, time.UTC)))
	assert.False(t, isNightTime(time.Date(2026, 9, 10, 7, 0, 0, 0, time.UTC)))

	late := time.Date(2026, 9, 10, 23, 15, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 9, 11, 7, 0, 0, 0, time.UTC), nextMorning(late))

	early := time.Date(2026, 9, 10, 2, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 9, 10, 7, 0, 0, 0, time.UTC), nextMorning(early))
}
