package activity

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// Repository handles activity log persistence
type Repository struct {
	db *sql.DB
}

// NewRepository creates a new activity repository
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Create inserts a new activity entry
func (r *Repository) Create(ctx context.Context, userID int64, eventType EventType, metadata map[string]string) (*Activity, error) {
	meta, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to encode activity metadata: %w", err)
	}

	query := `
		INSERT INTO activity_log (user_id, event_type, metadata)
		VALUES ($1, $2, $3)
		RETURNING id, created_at
	`

	activity := &Activity{
		UserID:    userID,
		EventType: eventType,
		Metadata:  metadata,
	}
	err = r.db.QueryRowContext(ctx, query, userID, eventType, meta).Scan(
		&activity.ID,
		&activity.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create activity: %w", err)
	}

	return activity, nil
}

// ListByUserID retrieves activity entries for a user, newest first
func (r *Repository) ListByUserID(ctx context.Context, userID int64, limit, offset int) ([]*Activity, int, error) {
	var total int
	countQuery := `SELECT COUNT(*) FROM activity_log WHERE user_id = $1`
	if err := r.db.QueryRowContext(ctx, countQuery, userID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count activity: %w", err)
	}

	query := `
		SELECT id, user_id, event_type, metadata, created_at
		FROM activity_log
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.QueryContext(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list activity: %w", err)
	}
	defer rows.Close()

	var activities []*Activity
	for rows.Next() {
		activity := &Activity{}
		var meta []byte
		if err := rows.Scan(
			&activity.ID,
			&activity.UserID,
			&activity.EventType,
			&meta,
			&activity.CreatedAt,
		); err != nil {
			return nil, 0, fmt.Errorf("failed to scan activity: %w", err)
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &activity.Metadata); err != nil {
				return nil, 0, fmt.Errorf("failed to decode activity metadata: %w", err)
			}
		}
		activities = append(activities, activity)
	}

	return activities, total, nil
}
