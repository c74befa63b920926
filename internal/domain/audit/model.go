// Package audit persists the request audit trail and serves it back to
// administrators. Entries are produced by the audit middleware and written
// asynchronously so recording never blocks a response.
package audit

import (
	"time"

	"github.com/google/uuid"
)

// Record is one audit trail row.
type Record struct {
	ID           uuid.UUID `db:"id" json:"id"`
	RequestID    string    `db:"request_id" json:"request_id"`
	Actor        string    `db:"actor" json:"actor"`
	Action       string    `db:"action" json:"action"`
	ResourceType string    `db:"resource_type" json:"resource_type"`
	ResourceID   string    `db:"resource_id" json:"resource_id,omitempty"`
	Method       string    `db:"method" json:"method"`
	Path         string    `db:"path" json:"path"`
	StatusCode   int       `db:"status_code" json:"status_code"`
	Outcome      string    `db:"outcome" json:"outcome"`
	IPAddress    string    `db:"ip_address" json:"ip_address,omitempty"`
	UserAgent    string    `db:"user_agent" json:"user_agent,omitempty"`
	DurationMS   int64     `db:"duration_ms" json:"duration_ms"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// ListFilter narrows the audit query. Zero-valued fields are ignored.
type ListFilter struct {
	Actor        string
	Action       string
	ResourceType string
	Outcome      string
	Since        *time.Time
	Until        *time.Time
	Page         int
	Limit        int
}

// Normalize applies paging defaults and caps.
func (f *ListFilter) Normalize() {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit <= 0 {
		f.Limit = 50
	}
	if f.Limit > 200 {
		f.Limit = 200
	}
}
