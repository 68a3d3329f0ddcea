package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"tolka/internal/database"
	"tolka/internal/domain"
	"tolka/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// NotifierWorker drains the notification outbox: deferred intents whose
// time has come, and failed deliveries awaiting retry. Exhausted items go
// to the dead-letter list.
type NotifierWorker struct {
	repo          domain.Repository
	outbox        domain.Outbox
	dispatcher    domain.Dispatcher
	redis         *redis.Client
	retryPolicy   RetryPolicy
	deadLetterKey string
	pollInterval  time.Duration
	batchSize     int
	logger        *zerolog.Logger
}

func NewNotifierWorker(repo domain.Repository, outbox domain.Outbox, dispatcher domain.Dispatcher, redisClient *redis.Client, retry RetryPolicy, logger *zerolog.Logger) *NotifierWorker {
	return &NotifierWorker{
		repo:          repo,
		outbox:        outbox,
		dispatcher:    dispatcher,
		redis:         redisClient,
		retryPolicy:   retry.normalized(),
		deadLetterKey: "notify:deadletter",
		pollInterval:  30 * time.Second,
		batchSize:     50,
		logger:        logger,
	}
}

func (w *NotifierWorker) SetPollInterval(d time.Duration) {
	if d > 0 {
		w.pollInterval = d
	}
}

func (w *NotifierWorker) SetBatchSize(n int) {
	if n > 0 {
		w.batchSize = n
	}
}

// Start launches the poll loop; stops when ctx is done.
func (w *NotifierWorker) Start(ctx context.Context) {
	w.logger.Info().Msg("notifier worker started")
	defer w.logger.Info().Msg("notifier worker stopped")

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		w.drain(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (w *NotifierWorker) drain(ctx context.Context) {
	items, err := w.outbox.PendingNotifications(ctx, time.Now(), w.batchSize)
	if err != nil {
		w.logger.Error().Err(err).Msg("fetch pending notifications")
		return
	}

	for _, item := range items {
		select {
		case <-ctx.Done():
			return
		default:
		}
		w.processItem(ctx, item)
	}
}

func (w *NotifierWorker) processItem(ctx context.Context, item *models.OutboxItem) {
	var intent models.NotificationIntent
	if err := json.Unmarshal([]byte(item.Intent), &intent); err != nil {
		w.fail(ctx, item, fmt.Errorf("decode intent: %w", err))
		return
	}

	booking, err := w.repo.GetBooking(ctx, item.BookingID)
	if err != nil {
		if errors.Is(err, database.ErrBookingNotFound) {
			// Booking is gone, nothing to notify about.
			w.fail(ctx, item, err)
			return
		}
		w.retryOrFail(ctx, item, err)
		return
	}

	// A deferred intent's scheduled time already passed the outbox gate.
	intent.DeliverAt = time.Time{}

	if err := w.dispatcher.Deliver(ctx, booking, intent); err != nil {
		w.retryOrFail(ctx, item, err)
		return
	}

	if err := w.outbox.MarkNotificationDone(ctx, item.ID); err != nil {
		w.logger.Error().Err(err).Int64("item_id", item.ID).Msg("mark notification done")
	}
}

func (w *NotifierWorker) retryOrFail(ctx context.Context, item *models.OutboxItem, cause error) {
	attempt := item.RetryCount + 1
	if attempt >= w.retryPolicy.MaxRetries {
		w.fail(ctx, item, cause)
		return
	}

	nextRetry := time.Now().Add(w.retryPolicy.NextDelay(attempt))
	if err := w.outbox.MarkNotificationFailed(ctx, item.ID, cause.Error(), nextRetry, false); err != nil {
		w.logger.Error().Err(err).Int64("item_id", item.ID).Msg("mark notification retry")
	}
}

func (w *NotifierWorker) fail(ctx context.Context, item *models.OutboxItem, cause error) {
	w.logger.Error().Err(cause).
		Int64("item_id", item.ID).
		Int64("booking_id", item.BookingID).
		Msg("notification dead-lettered")

	if err := w.outbox.MarkNotificationFailed(ctx, item.ID, cause.Error(), time.Time{}, true); err != nil {
		w.logger.Error().Err(err).Int64("item_id", item.ID).Msg("mark notification dead")
	}
	w.pushDeadLetter(ctx, item)
}

func (w *NotifierWorker) pushDeadLetter(ctx context.Context, item *models.OutboxItem) {
	if w.redis == nil {
		return
	}
	data, err := json.Marshal(item)
	if err != nil {
		w.logger.Error().Err(err).Int64("item_id", item.ID).Msg("encode deadletter item")
		return
	}
	if err := w.redis.LPush(ctx, w.deadLetterKey, data).Err(); err != nil {
		w.logger.Error().Err(err).Int64("item_id", item.ID).Msg("deadletter push")
	}
}
