package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/relatia/mailpipe/internal/models"
)

// RecordEvent persists a non-email CRM event (activity, ticket, offer,
// chat message) for the timeline.
func (s *Store) RecordEvent(ctx context.Context, accountID, businessID, contactID string, kind models.EventKind, title, preview string, occurredAt time.Time) (string, error) {
	id := uuid.New().String()
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO events (id, account_id, kind, business_id, contact_id, title, preview, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		id, accountID, string(kind), businessID, contactID, title, preview, occurredAt.UTC())
	if err != nil {
		return "", fmt.Errorf("recording %s event: %w", kind, err)
	}
	return id, nil
}

// ListEvents returns non-email events scoped to an account and, optionally,
// a business or contact, most recent first.
func (s *Store) ListEvents(ctx context.Context, accountID, businessID, contactID string) ([]models.TimelineEvent, error) {
	query := "SELECT id, kind, title, preview, occurred_at FROM events WHERE account_id = ?"
	args := []any{accountID}
	if businessID != "" {
		query += " AND business_id = ?"
		args = append(args, businessID)
	}
	if contactID != "" {
		query += " AND contact_id = ?"
		args = append(args, contactID)
	}
	query += " ORDER BY occurred_at DESC"

	rows, err := s.db.QueryxContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	var events []models.TimelineEvent
	for rows.Next() {
		var ev models.TimelineEvent
		var kind string
		var occurredAt time.Time
		if err := rows.Scan(&ev.ID, &kind, &ev.Title, &ev.Preview, &occurredAt); err != nil {
			return nil, fmt.Errorf("scanning event row: %w", err)
		}
		ev.Kind = models.EventKind(kind)
		ev.Timestamp = occurredAt
		events = append(events, ev)
	}
	return events, rows.Err()
}
