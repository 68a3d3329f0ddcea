package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"tolka/internal/domain"
	"tolka/internal/models"
)

const bookingColumns = `id, customer_id, user_email, status, from_language_id, due, duration,
                 session_time, admin_comments, reference, attendance_type, town,
                 flagged, manually_handled, by_admin, email_sent, push_sent,
                 end_at, created_at, updated_at, version`

func scanBooking(row interface{ Scan(...interface{}) error }) (*models.Booking, error) {
	var b models.Booking
	var endAt sql.NullTime
	err := row.Scan(
		&b.ID, &b.CustomerID, &b.UserEmail, &b.Status, &b.FromLanguageID, &b.Due, &b.Duration,
		&b.SessionTime, &b.AdminComments, &b.Reference, &b.AttendanceType, &b.Town,
		&b.Flagged, &b.ManuallyHandled, &b.ByAdmin, &b.EmailSent, &b.PushSent,
		&endAt, &b.CreatedAt, &b.UpdatedAt, &b.Version,
	)
	if err != nil {
		return nil, err
	}
	if endAt.Valid {
		b.EndAt = &endAt.Time
	}
	return &b, nil
}

func (db *DB) GetBooking(ctx context.Context, id int64) (*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = ?`
	b, err := scanBooking(db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrBookingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	return b, nil
}

func (db *DB) CreateBooking(ctx context.Context, booking *models.Booking) error {
	query := `INSERT INTO bookings (
				customer_id, user_email, status, from_language_id, due, duration,
				session_time, admin_comments, reference, attendance_type, town,
				flagged, manually_handled, by_admin, email_sent, push_sent,
				end_at, created_at, updated_at, version
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	now := time.Now()
	if booking.Status == "" {
		booking.Status = models.StatusPending
	}
	result, err := db.ExecContext(ctx, query,
		booking.CustomerID,
		booking.UserEmail,
		booking.Status,
		booking.FromLanguageID,
		booking.Due,
		booking.Duration,
		booking.SessionTime,
		booking.AdminComments,
		booking.Reference,
		booking.AttendanceType,
		booking.Town,
		booking.Flagged,
		booking.ManuallyHandled,
		booking.ByAdmin,
		booking.EmailSent,
		booking.PushSent,
		booking.EndAt,
		now,
		now,
		1,
	)
	if err != nil {
		return fmt.Errorf("failed to create booking: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	booking.ID = id
	booking.CreatedAt = now
	booking.UpdatedAt = now
	booking.Version = 1

	return nil
}

// PersistUpdate applies one booking update atomically: the booking row is
// rewritten guarded by its version, the assignment change and the audit
// record land in the same transaction. A version mismatch rolls everything
// back and reports ErrConcurrentModification.
func (db *DB) PersistUpdate(ctx context.Context, booking *models.Booking, change *domain.AssignmentChange, audit *models.AuditRecord) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now()

	query := `UPDATE bookings SET
				user_email = ?, status = ?, from_language_id = ?, due = ?, duration = ?,
				session_time = ?, admin_comments = ?, reference = ?, attendance_type = ?,
				flagged = ?, manually_handled = ?, by_admin = ?, email_sent = ?, push_sent = ?,
				end_at = ?, created_at = ?, updated_at = ?, version = version + 1
			  WHERE id = ? AND version = ?`
	result, err := tx.ExecContext(ctx, query,
		booking.UserEmail, booking.Status, booking.FromLanguageID, booking.Due, booking.Duration,
		booking.SessionTime, booking.AdminComments, booking.Reference, booking.AttendanceType,
		booking.Flagged, booking.ManuallyHandled, booking.ByAdmin, booking.EmailSent, booking.PushSent,
		booking.EndAt, booking.CreatedAt, now,
		booking.ID, booking.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update booking: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrConcurrentModification
	}

	if !change.Empty() {
		if err := applyAssignmentChange(ctx, tx, change, now); err != nil {
			return err
		}
	}

	if audit != nil && len(audit.Entries) > 0 {
		entries, err := json.Marshal(audit.Entries)
		if err != nil {
			return fmt.Errorf("failed to marshal audit entries: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO audit_logs (booking_id, actor_id, entries, created_at) VALUES (?, ?, ?, ?)`,
			audit.BookingID, audit.ActorID, string(entries), now,
		); err != nil {
			return fmt.Errorf("failed to append audit record: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit booking update: %w", err)
	}

	booking.Version++
	booking.UpdatedAt = now
	return nil
}

func applyAssignmentChange(ctx context.Context, tx *sql.Tx, change *domain.AssignmentChange, now time.Time) error {
	if change.SupersedeID != 0 {
		if err := closeAssignment(ctx, tx, change.SupersedeID, models.AssignmentSuperseded, now); err != nil {
			return err
		}
	}
	if change.WithdrawID != 0 {
		if err := closeAssignment(ctx, tx, change.WithdrawID, models.AssignmentWithdrawn, now); err != nil {
			return err
		}
	}
	if change.CompleteID != 0 {
		result, err := tx.ExecContext(ctx,
			`UPDATE translator_assignments SET state = ?, completed_at = ? WHERE id = ? AND state = ?`,
			models.AssignmentCompleted, now, change.CompleteID, models.AssignmentActive,
		)
		if err != nil {
			return fmt.Errorf("failed to complete assignment: %w", err)
		}
		if rows, _ := result.RowsAffected(); rows == 0 {
			return ErrAssignmentNotFound
		}
	}
	if change.New != nil {
		a := change.New
		if a.State == "" {
			a.State = models.AssignmentActive
		}
		result, err := tx.ExecContext(ctx,
			`INSERT INTO translator_assignments (booking_id, user_id, state, cancel_at, completed_at, created_at)
             VALUES (?, ?, ?, ?, ?, ?)`,
			a.BookingID, a.UserID, a.State, a.CancelAt, a.CompletedAt, now,
		)
		if err != nil {
			return fmt.Errorf("failed to create assignment: %w", err)
		}
		id, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get last insert id: %w", err)
		}
		a.ID = id
		a.CreatedAt = now
	}
	return nil
}

func closeAssignment(ctx context.Context, tx *sql.Tx, id int64, state string, now time.Time) error {
	result, err := tx.ExecContext(ctx,
		`UPDATE translator_assignments SET state = ?, cancel_at = ? WHERE id = ? AND state = ?`,
		state, now, id, models.AssignmentActive,
	)
	if err != nil {
		return fmt.Errorf("failed to close assignment: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ErrAssignmentNotFound
	}
	return nil
}

func (db *DB) GetBookingsByDateRange(ctx context.Context, start, end time.Time) ([]*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings
              WHERE date(due) >= ? AND date(due) <= ? ORDER BY due ASC`
	rows, err := db.QueryContext(ctx, query, start.Format("2006-01-02"), end.Format("2006-01-02"))
	if err != nil {
		return nil, fmt.Errorf("failed to get bookings by date range: %w", err)
	}
	defer rows.Close()

	var bookings []*models.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan booking: %w", err)
		}
		bookings = append(bookings, b)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return bookings, nil
}

// SaveDistanceFeed records the distance/time report and the accompanying
// booking flags in one transaction.
func (db *DB) SaveDistanceFeed(ctx context.Context, feed *models.DistanceFeed) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now()
	if feed.Distance != "" || feed.TravelTime != "" {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO distance_feeds (booking_id, distance, travel_time, updated_at)
             VALUES (?, ?, ?, ?)
             ON CONFLICT(booking_id) DO UPDATE SET
                distance = excluded.distance,
                travel_time = excluded.travel_time,
                updated_at = excluded.updated_at`,
			feed.BookingID, feed.Distance, feed.TravelTime, now,
		); err != nil {
			return fmt.Errorf("failed to save distance feed: %w", err)
		}
	}

	if feed.AdminComment != "" || feed.SessionTime != "" || feed.Flagged || feed.ManuallyHandled || feed.ByAdmin {
		result, err := tx.ExecContext(ctx,
			`UPDATE bookings SET admin_comments = ?, flagged = ?, session_time = ?,
                manually_handled = ?, by_admin = ?, updated_at = ?
             WHERE id = ?`,
			feed.AdminComment, feed.Flagged, feed.SessionTime,
			feed.ManuallyHandled, feed.ByAdmin, now, feed.BookingID,
		)
		if err != nil {
			return fmt.Errorf("failed to update booking feed fields: %w", err)
		}
		if rows, _ := result.RowsAffected(); rows == 0 {
			return ErrBookingNotFound
		}
	}

	return tx.Commit()
}
