package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"tolka/internal/domain"
	"tolka/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// mirrorTask is the unit of work for the spreadsheet mirror.
type mirrorTask struct {
	BookingID int64           `json:"booking_id"`
	Booking   *models.Booking `json:"booking"`
	Attempts  int             `json:"attempts"`
}

// MirrorWorker keeps the Google Sheets copy of the bookings ledger in
// step with the database. Tasks go to redis for durability when it is
// available, the in-memory channel otherwise.
type MirrorWorker struct {
	sheets      domain.SheetsMirror
	redis       *redis.Client
	retryPolicy RetryPolicy
	queue       chan mirrorTask
	queueKey    string
	logger      *zerolog.Logger
}

func NewMirrorWorker(sheets domain.SheetsMirror, redisClient *redis.Client, retry RetryPolicy, logger *zerolog.Logger) *MirrorWorker {
	return &MirrorWorker{
		sheets:      sheets,
		redis:       redisClient,
		retryPolicy: retry.normalized(),
		queue:       make(chan mirrorTask, 128),
		queueKey:    "mirror:queue",
		logger:      logger,
	}
}

// EnqueueMirror schedules the booking's row for an upsert.
func (w *MirrorWorker) EnqueueMirror(ctx context.Context, booking *models.Booking) error {
	if booking == nil || booking.ID == 0 {
		return errors.New("booking id is required")
	}
	return w.enqueueTask(ctx, mirrorTask{BookingID: booking.ID, Booking: booking})
}

func (w *MirrorWorker) enqueueTask(ctx context.Context, task mirrorTask) error {
	if w.redis != nil {
		data, err := json.Marshal(task)
		if err == nil {
			if err := w.redis.LPush(ctx, w.queueKey, data).Err(); err == nil {
				return nil
			} else {
				w.logger.Error().Err(err).Msg("mirror redis push failed, fallback to memory queue")
			}
		}
	}

	select {
	case w.queue <- task:
	default:
		w.logger.Warn().Int64("booking_id", task.BookingID).Msg("mirror queue full, task dropped")
	}
	return nil
}

// Start launches the consume loop; stops when ctx is done.
func (w *MirrorWorker) Start(ctx context.Context) {
	w.logger.Info().Msg("mirror worker started")
	defer w.logger.Info().Msg("mirror worker stopped")

	for {
		select {
		case <-ctx.Done():
			return
		case task := <-w.queue:
			w.process(ctx, task)
		default:
			if task, ok := w.tryRedis(ctx); ok {
				w.process(ctx, task)
				continue
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
		}
	}
}

func (w *MirrorWorker) tryRedis(ctx context.Context) (mirrorTask, bool) {
	if w.redis == nil {
		return mirrorTask{}, false
	}
	res, err := w.redis.BRPop(ctx, time.Second, w.queueKey).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			w.logger.Error().Err(err).Msg("mirror redis BRPOP error")
		}
		return mirrorTask{}, false
	}
	if len(res) != 2 {
		return mirrorTask{}, false
	}
	var task mirrorTask
	if err := json.Unmarshal([]byte(res[1]), &task); err != nil {
		w.logger.Error().Err(err).Msg("decode mirror task")
		return mirrorTask{}, false
	}
	return task, true
}

func (w *MirrorWorker) process(ctx context.Context, task mirrorTask) {
	if task.Booking == nil {
		w.logger.Error().Int64("booking_id", task.BookingID).Msg("mirror task without booking payload")
		return
	}

	err := w.sheets.UpsertBookingRow(ctx, task.Booking)
	if err == nil {
		return
	}

	task.Attempts++
	if task.Attempts >= w.retryPolicy.MaxRetries {
		w.logger.Error().Err(err).
			Int64("booking_id", task.BookingID).
			Int("attempts", task.Attempts).
			Msg("mirror task abandoned")
		return
	}

	w.logger.Error().Err(err).Int64("booking_id", task.BookingID).Msg("mirror upsert failed, will retry")
	delay := w.retryPolicy.NextDelay(task.Attempts)

	go func() {
		select {
		case <-ctx.Done():
		case <-time.After(delay):
			if err := w.enqueueTask(ctx, task); err != nil {
				w.logger.Error().Err(err).Int64("booking_id", task.BookingID).Msg("mirror requeue failed")
			}
		}
	}()
}
