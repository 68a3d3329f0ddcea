package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"tolka/internal/models"
)

func (db *DB) EnqueueNotification(ctx context.Context, item *models.OutboxItem) error {
	now := time.Now()
	if item.Status == "" {
		item.Status = models.OutboxPending
	}
	if item.DeliverAt.IsZero() {
		item.DeliverAt = now
	}
	result, err := db.ExecContext(ctx,
		`INSERT INTO notify_outbox (booking_id, intent, status, retry_count, deliver_at, created_at)
         VALUES (?, ?, ?, ?, ?, ?)`,
		item.BookingID, item.Intent, item.Status, item.RetryCount, item.DeliverAt, now,
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue notification: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	item.ID = id
	item.CreatedAt = now
	return nil
}

func (db *DB) PendingNotifications(ctx context.Context, now time.Time, limit int) ([]*models.OutboxItem, error) {
	query := `SELECT id, booking_id, intent, status, retry_count, last_error, deliver_at, created_at, processed_at
              FROM notify_outbox
              WHERE status = ? AND deliver_at <= ?
              ORDER BY deliver_at ASC LIMIT ?`
	rows, err := db.QueryContext(ctx, query, models.OutboxPending, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending notifications: %w", err)
	}
	defer rows.Close()

	var items []*models.OutboxItem
	for rows.Next() {
		var item models.OutboxItem
		var lastError sql.NullString
		var processedAt sql.NullTime
		if err := rows.Scan(&item.ID, &item.BookingID, &item.Intent, &item.Status,
			&item.RetryCount, &lastError, &item.DeliverAt, &item.CreatedAt, &processedAt); err != nil {
			return nil, fmt.Errorf("failed to scan outbox item: %w", err)
		}
		if lastError.Valid {
			item.LastError = &lastError.String
		}
		if processedAt.Valid {
			item.ProcessedAt = &processedAt.Time
		}
		items = append(items, &item)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func (db *DB) MarkNotificationDone(ctx context.Context, id int64) error {
	_, err := db.ExecContext(ctx,
		`UPDATE notify_outbox SET status = ?, processed_at = ? WHERE id = ?`,
		models.OutboxDone, time.Now(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to mark notification done: %w", err)
	}
	return nil
}

func (db *DB) MarkNotificationFailed(ctx context.Context, id int64, lastError string, nextRetry time.Time, dead bool) error {
	status := models.OutboxPending
	if dead {
		status = models.OutboxDead
	}
	_, err := db.ExecContext(ctx,
		`UPDATE notify_outbox SET status = ?, retry_count = retry_count + 1, last_error = ?, deliver_at = ? WHERE id = ?`,
		status, lastError, nextRetry, id,
	)
	if err != nil {
		return fmt.Errorf("failed to mark notification failed: %w", err)
	}
	return nil
}
