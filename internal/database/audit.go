package database

import (
	"context"
	"encoding/json"
	"fmt"

	"tolka/internal/models"
)

func (db *DB) GetAuditByBooking(ctx context.Context, bookingID int64) ([]*models.AuditRecord, error) {
	query := `SELECT id, booking_id, actor_id, entries, created_at
              FROM audit_logs WHERE booking_id = ? ORDER BY created_at ASC, id ASC`
	rows, err := db.QueryContext(ctx, query, bookingID)
	if err != nil {
		return nil, fmt.Errorf("failed to get audit records: %w", err)
	}
	defer rows.Close()

	var records []*models.AuditRecord
	for rows.Next() {
		var r models.AuditRecord
		var entries string
		if err := rows.Scan(&r.ID, &r.BookingID, &r.ActorID, &entries, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit record: %w", err)
		}
		if err := json.Unmarshal([]byte(entries), &r.Entries); err != nil {
			return nil, fmt.Errorf("failed to unmarshal audit entries: %w", err)
		}
		records = append(records, &r)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}
