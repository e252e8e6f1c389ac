package webhook

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// EventLog is the durable record of received gateway events. The unique
// event id gives exact-replay detection; unresolved rows feed the retry
// path for out-of-order deliveries.
type EventLog interface {
	Insert(ctx context.Context, evt *Event, payload []byte) (*StoredEvent, bool, error)
	SetOutcome(ctx context.Context, eventID string, outcome Outcome, note string) error
	ListUnresolved(ctx context.Context, limit int) ([]*StoredEvent, error)
}

// Repository is the Postgres-backed event log
type Repository struct {
	db *sql.DB
}

// NewRepository creates a new webhook event repository
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Insert stores a received event. The second return value reports whether
// the event is new; a redelivered event returns the existing row instead.
func (r *Repository) Insert(ctx context.Context, evt *Event, payload []byte) (*StoredEvent, bool, error) {
	query := `
		INSERT INTO webhook_events (event_id, event_type, payload, outcome)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`

	stored := &StoredEvent{
		EventID:   evt.ID,
		EventType: evt.Type,
		Payload:   payload,
		Outcome:   OutcomeReceived,
	}
	err := r.db.QueryRowContext(ctx, query, evt.ID, evt.Type, payload, OutcomeReceived).Scan(
		&stored.ID,
		&stored.CreatedAt,
	)
	if err == nil {
		return stored, true, nil
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		existing, getErr := r.getByEventID(ctx, evt.ID)
		if getErr != nil {
			return nil, false, getErr
		}
		return existing, false, nil
	}

	return nil, false, fmt.Errorf("failed to store webhook event: %w", err)
}

// SetOutcome records how an event was resolved
func (r *Repository) SetOutcome(ctx context.Context, eventID string, outcome Outcome, note string) error {
	query := `
		UPDATE webhook_events
		SET outcome = $2, note = $3, processed_at = NOW()
		WHERE event_id = $1
	`

	if _, err := r.db.ExecContext(ctx, query, eventID, outcome, note); err != nil {
		return fmt.Errorf("failed to update webhook event outcome: %w", err)
	}

	return nil
}

// ListUnresolved retrieves events still waiting on a matching payment
// record, oldest first
func (r *Repository) ListUnresolved(ctx context.Context, limit int) ([]*StoredEvent, error) {
	query := `
		SELECT id, event_id, event_type, payload, outcome, COALESCE(note, ''), created_at, processed_at
		FROM webhook_events
		WHERE outcome IN ($1, $2)
		ORDER BY created_at ASC
		LIMIT $3
	`

	rows, err := r.db.QueryContext(ctx, query, OutcomeReceived, OutcomeOrphaned, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list unresolved webhook events: %w", err)
	}
	defer rows.Close()

	var events []*StoredEvent
	for rows.Next() {
		stored := &StoredEvent{}
		if err := rows.Scan(
			&stored.ID,
			&stored.EventID,
			&stored.EventType,
			&stored.Payload,
			&stored.Outcome,
			&stored.Note,
			&stored.CreatedAt,
			&stored.ProcessedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan webhook event: %w", err)
		}
		events = append(events, stored)
	}

	return events, nil
}

func (r *Repository) getByEventID(ctx context.Context, eventID string) (*StoredEvent, error) {
	query := `
		SELECT id, event_id, event_type, payload, outcome, COALESCE(note, ''), created_at, processed_at
		FROM webhook_events
		WHERE event_id = $1
	`

	stored := &StoredEvent{}
	err := r.db.QueryRowContext(ctx, query, eventID).Scan(
		&stored.ID,
		&stored.EventID,
		&stored.EventType,
		&stored.Payload,
		&stored.Outcome,
		&stored.Note,
		&stored.CreatedAt,
		&stored.ProcessedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get webhook event: %w", err)
	}

	return stored, nil
}
