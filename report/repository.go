package report

import (
	"context"
	"time"
)

// Repository persists hazard reports
type Repository interface {
	// FindInBox returns the reports inside box with a timestamp at or after
	// since, newest first.  A zero since matches all times.
	FindInBox(ctx context.Context, box Box, since time.Time) ([]Report, error)
	// FindOlderThan returns the reports with a timestamp before t
	FindOlderThan(ctx context.Context, t time.Time) ([]Report, error)
	// Insert stores r and returns its ID
	Insert(ctx context.Context, r Report) (string, error)
	// List returns all reports newest first
	List(ctx context.Context) ([]Report, error)
	// Delete removes the report, returning ErrNotFound if it does not exist
	Delete(ctx context.Context, id string) error
}
