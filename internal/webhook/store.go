package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"artpay/internal/common/database"
)

// Store persists the webhook event audit trail.
type Store struct {
	db *database.DB
}

// NewStore creates a new webhook event store
func NewStore(db *database.DB) *Store {
	return &Store{db: db}
}

// Insert records a received event. Returns false without error when the
// event ID was already seen.
func (s *Store) Insert(ctx context.Context, eventID, eventType string, payload json.RawMessage) (bool, error) {
	_, err := s.db.Exec(ctx, `
		INSERT INTO webhook_events (id, event_type, payload, status, received_at)
		VALUES ($1, $2, $3, $4, $5)
	`, eventID, eventType, payload, EventReceived, time.Now().UTC())
	if err != nil {
		if database.IsUniqueViolation(err) {
			return false, nil
		}
		return false, fmt.Errorf("inserting webhook event: %w", err)
	}
	return true, nil
}

// Get retrieves a stored event by ID
func (s *Store) Get(ctx context.Context, eventID string) (*Event, error) {
	var e Event
	err := s.db.QueryRow(ctx, `
		SELECT id, event_type, payload, status, error, received_at, processed_at
		FROM webhook_events
		WHERE id = $1
	`, eventID).Scan(&e.ID, &e.EventType, &e.Payload, &e.Status, &e.Error, &e.ReceivedAt, &e.ProcessedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, database.ErrNotFound
		}
		return nil, fmt.Errorf("scanning webhook event: %w", err)
	}
	return &e, nil
}

// MarkProcessed records successful reconciliation of an event.
func (s *Store) MarkProcessed(ctx context.Context, eventID string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE webhook_events
		SET status = $1, error = '', processed_at = $2
		WHERE id = $3
	`, EventProcessed, time.Now().UTC(), eventID)
	if err != nil {
		return fmt.Errorf("marking event processed: %w", err)
	}
	return nil
}

// MarkFailed records a reconciliation failure for an event.
func (s *Store) MarkFailed(ctx context.Context, eventID, reason string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE webhook_events
		SET status = $1, error = $2, processed_at = $3
		WHERE id = $4
	`, EventFailed, reason, time.Now().UTC(), eventID)
	if err != nil {
		return fmt.Errorf("marking event failed: %w", err)
	}
	return nil
}
