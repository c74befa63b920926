package audit

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ayushbridge/ayushbridge/internal/platform/middleware"
)

const defaultQueueSize = 1024

// Recorder buffers audit entries on a bounded channel and writes them from a
// single goroutine, so the request path never waits on the database. When the
// buffer is full the entry is dropped and a warning logged; the structured
// audit log line emitted by the middleware still records the request.
type Recorder struct {
	repo   Repository
	queue  chan middleware.AuditEntry
	logger zerolog.Logger

	closeOnce sync.Once
	done      chan struct{}
}

// NewRecorder starts the write loop. size <= 0 falls back to the default
// buffer of 1024 entries.
func NewRecorder(repo Repository, size int, logger zerolog.Logger) *Recorder {
	if size <= 0 {
		size = defaultQueueSize
	}
	r := &Recorder{
		repo:   repo,
		queue:  make(chan middleware.AuditEntry, size),
		logger: logger.With().Str("component", "audit").Logger(),
		done:   make(chan struct{}),
	}
	go r.loop()
	return r
}

// Record implements middleware.AuditRecorder. Never blocks.
func (r *Recorder) Record(entry middleware.AuditEntry) {
	select {
	case r.queue <- entry:
	default:
		r.logger.Warn().
			Str("request_id", entry.RequestID).
			Str("path", entry.Path).
			Msg("audit queue full, entry dropped")
	}
}

func (r *Recorder) loop() {
	defer close(r.done)
	for entry := range r.queue {
		rec := &Record{
			RequestID:    entry.RequestID,
			Actor:        entry.Actor,
			Action:       entry.Action,
			ResourceType: entry.ResourceType,
			ResourceID:   entry.ResourceID,
			Method:       entry.Method,
			Path:         entry.Path,
			StatusCode:   entry.StatusCode,
			Outcome:      entry.Outcome,
			IPAddress:    entry.IPAddress,
			UserAgent:    entry.UserAgent,
			DurationMS:   entry.Duration.Milliseconds(),
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := r.repo.Insert(ctx, rec); err != nil {
			r.logger.Error().Err(err).
				Str("request_id", rec.RequestID).
				Msg("audit record insert failed")
		}
		cancel()
	}
}

// Close stops accepting entries and drains the buffer, waiting up to the
// context deadline for the writer to finish.
func (r *Recorder) Close(ctx context.Context) error {
	r.closeOnce.Do(func() { close(r.queue) })
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
