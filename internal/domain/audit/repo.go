package audit

import "context"

// Repository persists and queries audit records.
type Repository interface {
	Insert(ctx context.Context, rec *Record) error
	List(ctx context.Context, f ListFilter) ([]*Record, int, error)
}
