package batch

import (
	"time"

	"github.com/google/uuid"

	"github.com/ayushbridge/ayushbridge/internal/domain/mapping"
)

// Job lifecycle states. Transitions form the DAG
// PENDING → PROCESSING → {COMPLETED | FAILED | CANCELLED}.
const (
	StatusPending    = "PENDING"
	StatusProcessing = "PROCESSING"
	StatusCompleted  = "COMPLETED"
	StatusFailed     = "FAILED"
	StatusCancelled  = "CANCELLED"
)

// Per-item states.
const (
	ItemPending    = "pending"
	ItemProcessing = "processing"
	ItemCompleted  = "completed"
	ItemFailed     = "failed"
)

// Item is one code in a batch job.
type Item struct {
	Code   string                 `json:"code"`
	System string                 `json:"system"`
	Status string                 `json:"status"`
	Result *mapping.MappingResult `json:"result,omitempty"`
	Error  string                 `json:"error,omitempty"`
}

// Progress tracks job advancement. Completed counts items processed to
// success, Failed counts errored items, Successful counts completed items
// that found a target. Percentage is floor(100 * completed / total).
type Progress struct {
	Total      int `json:"total"`
	Completed  int `json:"completed"`
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
	Percentage int `json:"percentage"`
}

func (p *Progress) recompute() {
	if p.Total > 0 {
		p.Percentage = 100 * p.Completed / p.Total
	}
}

// Job is one asynchronous batch translation. Jobs live in memory only and
// do not survive a restart.
type Job struct {
	ID          uuid.UUID  `json:"job_id"`
	Status      string     `json:"status"`
	Items       []*Item    `json:"items"`
	Progress    Progress   `json:"progress"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Actor       string     `json:"actor,omitempty"`
	CallbackURL string     `json:"callback_url,omitempty"`
	SaveResults bool       `json:"save_results"`

	cancelled bool
}

func (j *Job) terminal() bool {
	switch j.Status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// snapshot deep-copies the job state visible to callers so the worker can
// keep mutating the original.
func (j *Job) snapshot() *Job {
	cp := *j
	cp.Items = make([]*Item, len(j.Items))
	for i, it := range j.Items {
		itemCopy := *it
		cp.Items[i] = &itemCopy
	}
	return &cp
}

// ProgressEvent is emitted to listeners after each processed item and on
// terminal transitions.
type ProgressEvent struct {
	JobID    uuid.UUID `json:"job_id"`
	Status   string    `json:"status"`
	Progress Progress  `json:"progress"`
	Item     *Item     `json:"item,omitempty"`
}

// CallbackPayload is the one-shot webhook body sent on terminal states.
type CallbackPayload struct {
	JobID       uuid.UUID  `json:"job_id"`
	Status      string     `json:"status"`
	Progress    Progress   `json:"progress"`
	CompletedAt *time.Time `json:"completed_at"`
}
