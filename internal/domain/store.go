package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// SubmissionStore persists the outcome of every handled action.
type SubmissionStore interface {
	Create(ctx context.Context, sub Submission) error
	GetByID(ctx context.Context, id string) (Submission, error)
	ListRecent(ctx context.Context, opts ListOpts) ([]Submission, error)
	ListBefore(ctx context.Context, before time.Time) ([]Submission, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
	CountByStatus(ctx context.Context) (map[SubmissionStatus]int64, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
