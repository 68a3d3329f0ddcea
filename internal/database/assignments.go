package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"tolka/internal/models"
)

const assignmentColumns = `id, booking_id, user_id, state, cancel_at, completed_at, created_at`

func scanAssignment(row interface{ Scan(...interface{}) error }) (*models.TranslatorAssignment, error) {
	var a models.TranslatorAssignment
	var cancelAt, completedAt sql.NullTime
	err := row.Scan(&a.ID, &a.BookingID, &a.UserID, &a.State, &cancelAt, &completedAt, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	if cancelAt.Valid {
		a.CancelAt = &cancelAt.Time
	}
	if completedAt.Valid {
		a.CompletedAt = &completedAt.Time
	}
	return &a, nil
}

// GetCurrentAssignment returns the single active assignment, falling back
// to the most recently completed one so post-session notifications still
// reach the translator who served the booking. Returns nil without error
// when the booking never had a translator.
func (db *DB) GetCurrentAssignment(ctx context.Context, bookingID int64) (*models.TranslatorAssignment, error) {
	query := `SELECT ` + assignmentColumns + ` FROM translator_assignments
              WHERE booking_id = ? AND state = ? ORDER BY created_at DESC LIMIT 1`
	a, err := scanAssignment(db.QueryRowContext(ctx, query, bookingID, models.AssignmentActive))
	if err == nil {
		return a, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to get active assignment: %w", err)
	}

	query = `SELECT ` + assignmentColumns + ` FROM translator_assignments
             WHERE booking_id = ? AND completed_at IS NOT NULL ORDER BY completed_at DESC LIMIT 1`
	a, err = scanAssignment(db.QueryRowContext(ctx, query, bookingID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get completed assignment: %w", err)
	}
	return a, nil
}

func (db *DB) GetAssignmentsByBooking(ctx context.Context, bookingID int64) ([]*models.TranslatorAssignment, error) {
	query := `SELECT ` + assignmentColumns + ` FROM translator_assignments
              WHERE booking_id = ? ORDER BY created_at ASC`
	rows, err := db.QueryContext(ctx, query, bookingID)
	if err != nil {
		return nil, fmt.Errorf("failed to get assignments: %w", err)
	}
	defer rows.Close()

	var assignments []*models.TranslatorAssignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan assignment: %w", err)
		}
		assignments = append(assignments, a)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return assignments, nil
}

// CreateAssignment inserts an active assignment outside of the update
// transaction. Used by seeding and tests; the update path goes through
// PersistUpdate.
func (db *DB) CreateAssignment(ctx context.Context, a *models.TranslatorAssignment) error {
	now := time.Now()
	if a.State == "" {
		a.State = models.AssignmentActive
	}
	result, err := db.ExecContext(ctx,
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
	return nil
}
