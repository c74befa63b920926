package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ayushbridge/ayushbridge/internal/domain/mapping"
	"github.com/ayushbridge/ayushbridge/internal/domain/terminology"
	"github.com/ayushbridge/ayushbridge/internal/platform/telemetry"
)

// Queue errors.
var (
	ErrJobNotFound  = errors.New("job not found")
	ErrJobTerminal  = errors.New("job already finished")
	ErrQueueStopped = errors.New("queue is shutting down")
	ErrEmptyJob     = errors.New("job must contain at least one code")
	ErrTooManyCodes = errors.New("job exceeds the maximum of 100 codes")
)

const maxJobCodes = 100

// Translator is the slice of the mapping service the worker drives.
type Translator interface {
	Translate(ctx context.Context, code string, system terminology.System, persist bool) (*mapping.TranslateResponse, error)
}

// CallbackSender delivers the one-shot terminal webhook.
type CallbackSender interface {
	Deliver(ctx context.Context, url string, payload interface{}) error
}

// Options tunes the queue. Zero values fall back to production defaults.
type Options struct {
	MaxConcurrent int
	ItemDelay     time.Duration
	Retention     time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxConcurrent <= 0 {
		o.MaxConcurrent = 3
	}
	if o.ItemDelay < 0 {
		o.ItemDelay = 0
	}
	if o.Retention <= 0 {
		o.Retention = 24 * time.Hour
	}
	return o
}

// QueueStats is the admin/metrics snapshot of queue state.
type QueueStats struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Cancelled  int `json:"cancelled"`
}

// Queue is the in-memory batch job queue: FIFO admission, up to
// MaxConcurrent jobs running at once, strictly sequential items inside a
// job. All internal state is guarded by one mutex; events and webhooks are
// emitted outside it.
type Queue struct {
	mu      sync.Mutex
	jobs    map[uuid.UUID]*Job
	pending []uuid.UUID
	active  int
	stopped bool

	opts       Options
	translator Translator
	callbacks  CallbackSender
	listeners  []func(ProgressEvent)
	metrics    *telemetry.Metrics
	logger     zerolog.Logger

	wg sync.WaitGroup
}

// NewQueue creates the job queue. callbacks may be nil to disable webhook
// delivery.
func NewQueue(translator Translator, callbacks CallbackSender, opts Options,
	metrics *telemetry.Metrics, logger zerolog.Logger) *Queue {
	return &Queue{
		jobs:       make(map[uuid.UUID]*Job),
		opts:       opts.withDefaults(),
		translator: translator,
		callbacks:  callbacks,
		metrics:    metrics,
		logger:     logger.With().Str("component", "batch").Logger(),
	}
}

// Subscribe registers a progress listener. Must be called before jobs are
// enqueued; delivery is best-effort and synchronous.
func (q *Queue) Subscribe(fn func(ProgressEvent)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.listeners = append(q.listeners, fn)
}

// EnqueueRequest is the admission input.
type EnqueueRequest struct {
	Codes       []mapping.TranslateRequest
	Actor       string
	CallbackURL string
	SaveResults bool
}

// Enqueue admits a new job in PENDING state and starts it as soon as a
// worker slot frees up. Returns a snapshot safe for the 202 response.
func (q *Queue) Enqueue(req EnqueueRequest) (*Job, error) {
	if len(req.Codes) == 0 {
		return nil, ErrEmptyJob
	}
	if len(req.Codes) > maxJobCodes {
		return nil, ErrTooManyCodes
	}

	items := make([]*Item, len(req.Codes))
	for i, c := range req.Codes {
		items[i] = &Item{Code: c.Code, System: c.System, Status: ItemPending}
	}

	job := &Job{
		ID:          uuid.New(),
		Status:      StatusPending,
		Items:       items,
		Progress:    Progress{Total: len(items)},
		CreatedAt:   time.Now().UTC(),
		Actor:       req.Actor,
		CallbackURL: req.CallbackURL,
		SaveResults: req.SaveResults,
	}

	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return nil, ErrQueueStopped
	}
	q.jobs[job.ID] = job
	q.pending = append(q.pending, job.ID)
	q.dispatchLocked()
	snap := job.snapshot()
	q.mu.Unlock()

	return snap, nil
}

// dispatchLocked starts pending jobs while worker slots are available.
// Caller holds q.mu.
func (q *Queue) dispatchLocked() {
	for q.active < q.opts.MaxConcurrent && len(q.pending) > 0 {
		id := q.pending[0]
		q.pending = q.pending[1:]

		job, ok := q.jobs[id]
		if !ok || job.Status != StatusPending {
			continue
		}
		now := time.Now().UTC()
		job.Status = StatusProcessing
		job.StartedAt = &now
		q.active++
		q.metrics.BatchJobStarted()

		q.wg.Add(1)
		go q.run(job)
	}
}

// run processes one job's items strictly in order. It is the only goroutine
// mutating the job after dispatch.
func (q *Queue) run(job *Job) {
	defer q.wg.Done()
	ctx := context.Background()

	for i, item := range job.Items {
		if i > 0 {
			time.Sleep(q.opts.ItemDelay)
		}

		q.mu.Lock()
		if job.cancelled {
			q.mu.Unlock()
			break
		}
		item.Status = ItemProcessing
		q.mu.Unlock()

		result, err := q.processItem(ctx, job, item)

		q.mu.Lock()
		if err != nil {
			item.Status = ItemFailed
			item.Error = err.Error()
			job.Progress.Failed++
			q.metrics.RecordBatchItem("failed")
		} else {
			item.Status = ItemCompleted
			item.Result = result
			job.Progress.Completed++
			if result != nil && result.Target != nil {
				job.Progress.Successful++
			}
			q.metrics.RecordBatchItem("completed")
		}
		job.Progress.recompute()
		event := ProgressEvent{JobID: job.ID, Status: job.Status, Progress: job.Progress, Item: item}
		q.mu.Unlock()

		q.emit(event)
	}

	q.finish(job)
}

func (q *Queue) processItem(ctx context.Context, job *Job, item *Item) (*mapping.MappingResult, error) {
	system, err := terminology.ParseSystem(item.System)
	if err != nil {
		return nil, err
	}

	resp, err := q.translator.Translate(ctx, item.Code, system, job.SaveResults)
	if errors.Is(err, terminology.ErrNotFound) {
		return nil, fmt.Errorf("code not found")
	}
	if err != nil {
		return nil, err
	}
	return &resp.Mapping, nil
}

// finish applies the terminal rules and fires the one-shot callback.
func (q *Queue) finish(job *Job) {
	now := time.Now().UTC()

	q.mu.Lock()
	switch {
	case job.cancelled:
		job.Status = StatusCancelled
	case job.Progress.Completed >= 1:
		job.Status = StatusCompleted
	default:
		job.Status = StatusFailed
	}
	job.CompletedAt = &now
	q.active--
	q.metrics.BatchJobFinished()
	payload := CallbackPayload{
		JobID:       job.ID,
		Status:      job.Status,
		Progress:    job.Progress,
		CompletedAt: job.CompletedAt,
	}
	callbackURL := job.CallbackURL
	event := ProgressEvent{JobID: job.ID, Status: job.Status, Progress: job.Progress}
	q.dispatchLocked()
	q.mu.Unlock()

	q.emit(event)

	q.logger.Info().
		Str("job_id", job.ID.String()).
		Str("status", job.Status).
		Int("completed", payload.Progress.Completed).
		Int("failed", payload.Progress.Failed).
		Msg("batch job finished")

	q.deliver(callbackURL, payload)
}

// deliver fires the one-shot completion callback.
func (q *Queue) deliver(url string, payload CallbackPayload) {
	if url == "" || q.callbacks == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := q.callbacks.Deliver(ctx, url, payload); err != nil {
		// One shot only; failures are logged, never retried.
		q.logger.Warn().Err(err).
			Str("job_id", payload.JobID.String()).
			Str("url", url).
			Msg("callback delivery failed")
	}
}

func (q *Queue) emit(event ProgressEvent) {
	q.mu.Lock()
	listeners := append([]func(ProgressEvent){}, q.listeners...)
	q.mu.Unlock()
	for _, fn := range listeners {
		fn(event)
	}
}

// Get returns a snapshot of one job.
func (q *Queue) Get(id uuid.UUID) (*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return job.snapshot(), nil
}

// Cancel stops a PENDING or PROCESSING job. The in-flight item, if any, is
// allowed to complete; no further items are processed or persisted.
func (q *Queue) Cancel(id uuid.UUID) (*Job, error) {
	q.mu.Lock()

	job, ok := q.jobs[id]
	if !ok {
		q.mu.Unlock()
		return nil, ErrJobNotFound
	}
	if job.terminal() {
		q.mu.Unlock()
		return nil, ErrJobTerminal
	}

	job.cancelled = true
	var callbackURL string
	var payload CallbackPayload
	finalized := false
	if job.Status == StatusPending {
		// Never started; finalize in place and drop it from the FIFO. The
		// worker path fires the callback from finish, so this path must
		// fire it itself.
		now := time.Now().UTC()
		job.Status = StatusCancelled
		job.CompletedAt = &now
		for i, pid := range q.pending {
			if pid == id {
				q.pending = append(q.pending[:i], q.pending[i+1:]...)
				break
			}
		}
		finalized = true
		callbackURL = job.CallbackURL
		payload = CallbackPayload{
			JobID:       job.ID,
			Status:      job.Status,
			Progress:    job.Progress,
			CompletedAt: job.CompletedAt,
		}
	}
	snap := job.snapshot()
	q.mu.Unlock()

	if finalized {
		q.emit(ProgressEvent{JobID: snap.ID, Status: snap.Status, Progress: snap.Progress})
		q.deliver(callbackURL, payload)
	}
	return snap, nil
}

// Stats counts jobs by status.
func (q *Queue) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()

	stats := QueueStats{Total: len(q.jobs)}
	for _, job := range q.jobs {
		switch job.Status {
		case StatusPending:
			stats.Pending++
		case StatusProcessing:
			stats.Processing++
		case StatusCompleted:
			stats.Completed++
		case StatusFailed:
			stats.Failed++
		case StatusCancelled:
			stats.Cancelled++
		}
	}
	return stats
}

// Reap drops terminal jobs older than the retention window. Returns how many
// were removed.
func (q *Queue) Reap() int {
	cutoff := time.Now().UTC().Add(-q.opts.Retention)

	q.mu.Lock()
	defer q.mu.Unlock()

	removed := 0
	for id, job := range q.jobs {
		if job.terminal() && job.CompletedAt != nil && job.CompletedAt.Before(cutoff) {
			delete(q.jobs, id)
			removed++
		}
	}
	return removed
}

// StartReaper sweeps expired jobs periodically until ctx is cancelled.
func (q *Queue) StartReaper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := q.Reap(); n > 0 {
					q.logger.Debug().Int("reaped", n).Msg("expired batch jobs removed")
				}
			}
		}
	}()
}

// Shutdown stops admission and waits for running jobs to finish, up to the
// context deadline.
func (q *Queue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	q.stopped = true
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
