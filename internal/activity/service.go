package activity

import (
	"context"
	"log"
)

// Logger is the fire-and-forget activity boundary consumed by the payment
// flows. Implementations must never fail a caller: a lost log line must
// not roll back a payment transition.
type Logger interface {
	LogActivity(ctx context.Context, userID int64, eventType EventType, metadata map[string]string)
}

// Service handles activity log business logic
type Service struct {
	repo *Repository
}

// NewService creates a new activity service
func NewService(repo *Repository) *Service {
	return &Service{repo: repo}
}

// LogActivity records an activity entry, best effort. Failures are logged
// and swallowed.
func (s *Service) LogActivity(ctx context.Context, userID int64, eventType EventType, metadata map[string]string) {
	if _, err := s.repo.Create(ctx, userID, eventType, metadata); err != nil {
		log.Printf("activity: failed to log %s for user %d: %v", eventType, userID, err)
	}
}

// ListByUserID retrieves a user's activity feed
func (s *Service) ListByUserID(ctx context.Context, userID int64, page, perPage int) ([]*Activity, int, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}

	offset := (page - 1) * perPage
	return s.repo.ListByUserID(ctx, userID, perPage, offset)
}
