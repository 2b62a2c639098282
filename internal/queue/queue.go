// Package queue runs named background job queues with bounded retries, exponential backoff
// and bounded retention of finished jobs.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"talent-inbox/pkg/metrics"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrUnknownKind = errors.New("no handler registered for job kind")
	ErrStopped     = errors.New("queue stopped")
)

type Config struct {
	Concurrency   int
	Attempts      int
	Backoff       time.Duration
	KeepCompleted int
	KeepFailed    int
	JobTimeout    time.Duration
}

func (c Config) withDefaults() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = 3
	}
	if c.Attempts <= 0 {
		c.Attempts = 3
	}
	if c.Backoff <= 0 {
		c.Backoff = 2 * time.Second
	}
	if c.KeepCompleted <= 0 {
		c.KeepCompleted = 100
	}
	if c.KeepFailed <= 0 {
		c.KeepFailed = 500
	}
	return c
}

// BackoffDelay returns the wait before the next attempt after `attempt` failed attempts:
// base, 2*base, 4*base, ...
func BackoffDelay(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 20 {
		attempt = 20
	}
	return base * time.Duration(1<<uint(attempt-1))
}

type Stats struct {
	Waiting   int `json:"waiting"`
	Active    int `json:"active"`
	Delayed   int `json:"delayed"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

type kindState struct {
	handler   Handler
	waiting   int
	active    int
	delayed   int
	completed []*Job
	failed    []*Job
}

// Queue dispatches jobs from a Broker to registered handlers. Each kind gets its own worker pool.
type Queue struct {
	broker Broker
	cfg    Config
	logger *zap.Logger

	mu      sync.Mutex
	kinds   map[string]*kindState
	timers  map[*time.Timer]struct{}
	started bool
	stopped bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(broker Broker, cfg Config, log *zap.Logger) *Queue {
	if log == nil {
		log = zap.NewNop()
	}
	return &Queue{
		broker: broker,
		cfg:    cfg.withDefaults(),
		logger: log.Named("queue"),
		kinds:  make(map[string]*kindState),
		timers: make(map[*time.Timer]struct{}),
	}
}

// Register binds a handler to a job kind. It must be called before Start.
func (q *Queue) Register(kind string, h Handler) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started {
		return fmt.Errorf("register %s: queue already started", kind)
	}
	if err := q.broker.Declare(kind); err != nil {
		return err
	}
	q.kinds[kind] = &kindState{handler: h}
	return nil
}

// Enqueue publishes a job and returns its ID without waiting for it to run.
func (q *Queue) Enqueue(ctx context.Context, kind string, payload interface{}, opts ...Option) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal %s payload: %w", kind, err)
	}

	job := &Job{
		ID:          uuid.New().String(),
		Kind:        kind,
		Payload:     data,
		Priority:    PriorityNormal,
		MaxAttempts: q.cfg.Attempts,
		State:       StateWaiting,
		CreatedAt:   time.Now(),
	}
	for _, opt := range opts {
		opt(job)
	}

	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return "", ErrStopped
	}
	ks, ok := q.kinds[kind]
	if !ok {
		q.mu.Unlock()
		return "", fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	ks.waiting++
	q.mu.Unlock()
	q.publishGauges(kind)

	if err := q.broker.Publish(ctx, job); err != nil {
		q.mu.Lock()
		ks.waiting--
		q.mu.Unlock()
		q.publishGauges(kind)
		return "", err
	}

	q.logger.Debug("job enqueued",
		zap.String("kind", kind),
		zap.String("job_id", job.ID),
		zap.Int("priority", job.Priority),
	)
	return job.ID, nil
}

// Start launches Concurrency workers per registered kind.
func (q *Queue) Start(ctx context.Context) error {
	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		return nil
	}
	q.started = true
	ctx, q.cancel = context.WithCancel(ctx)
	kinds := make([]string, 0, len(q.kinds))
	for kind := range q.kinds {
		kinds = append(kinds, kind)
	}
	q.mu.Unlock()

	for _, kind := range kinds {
		deliveries, err := q.broker.Consume(ctx, kind)
		if err != nil {
			q.cancel()
			return fmt.Errorf("consume %s: %w", kind, err)
		}
		for i := 0; i < q.cfg.Concurrency; i++ {
			q.wg.Add(1)
			go q.worker(ctx, kind, deliveries)
		}
		q.logger.Info("queue workers started", zap.String("kind", kind), zap.Int("workers", q.cfg.Concurrency))
	}
	return nil
}

// Stop cancels workers, waits for in-flight jobs and drops pending retries.
func (q *Queue) Stop() {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	q.stopped = true
	for t := range q.timers {
		t.Stop()
	}
	q.timers = map[*time.Timer]struct{}{}
	cancel := q.cancel
	q.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	q.wg.Wait()
	if err := q.broker.Close(); err != nil {
		q.logger.Warn("broker close failed", zap.Error(err))
	}
	q.logger.Info("queue stopped")
}

func (q *Queue) Stats() map[string]Stats {
	q.mu.Lock()
	out := make(map[string]Stats, len(q.kinds))
	for kind, ks := range q.kinds {
		out[kind] = Stats{
			Waiting:   ks.waiting,
			Active:    ks.active,
			Delayed:   ks.delayed,
			Completed: len(ks.completed),
			Failed:    len(ks.failed),
		}
	}
	q.mu.Unlock()

	// A shared broker sees jobs enqueued by other instances too.
	if dr, ok := q.broker.(depthReporter); ok {
		for kind, s := range out {
			if depth, err := dr.Depth(kind); err == nil {
				s.Waiting = depth
				out[kind] = s
			}
		}
	}
	return out
}

// Failed returns the retained failed jobs of a kind, most recent first.
func (q *Queue) Failed(kind string) []Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	ks, ok := q.kinds[kind]
	if !ok {
		return nil
	}
	out := make([]Job, 0, len(ks.failed))
	for _, j := range ks.failed {
		out = append(out, *j)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].FinishedAt.After(*out[j].FinishedAt) })
	return out
}

func (q *Queue) worker(ctx context.Context, kind string, deliveries <-chan Delivery) {
	defer q.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				if ctx.Err() == nil {
					q.logger.Error("job deliveries closed, worker stopping", zap.String("kind", kind))
				}
				return
			}
			q.process(ctx, kind, d)
		}
	}
}

func (q *Queue) process(ctx context.Context, kind string, d Delivery) {
	job := d.Job

	q.mu.Lock()
	ks := q.kinds[kind]
	if ks.waiting > 0 {
		ks.waiting--
	}
	ks.active++
	handler := ks.handler
	q.mu.Unlock()
	q.publishGauges(kind)

	job.Attempt++
	job.State = StateActive
	started := time.Now()
	err := q.run(ctx, handler, job)

	if ackErr := d.Ack(); ackErr != nil {
		q.logger.Error("failed to ack job", zap.String("job_id", job.ID), zap.Error(ackErr))
	}

	q.mu.Lock()
	ks.active--
	now := time.Now()
	switch {
	case err == nil:
		job.State = StateCompleted
		job.LastError = ""
		job.FinishedAt = &now
		ks.completed = retain(ks.completed, job, q.cfg.KeepCompleted)
	case job.Attempt < job.MaxAttempts && !q.stopped:
		job.State = StateDelayed
		job.LastError = err.Error()
		ks.delayed++
		q.scheduleRetryLocked(kind, job, BackoffDelay(q.cfg.Backoff, job.Attempt))
	default:
		job.State = StateFailed
		job.LastError = err.Error()
		job.FinishedAt = &now
		ks.failed = retain(ks.failed, job, q.cfg.KeepFailed)
	}
	state := job.State
	q.mu.Unlock()
	q.publishGauges(kind)

	fields := []zap.Field{
		zap.String("kind", kind),
		zap.String("job_id", job.ID),
		zap.Int("attempt", job.Attempt),
		zap.Duration("took", time.Since(started)),
	}
	switch state {
	case StateCompleted:
		metrics.RecordJob(kind, "completed")
		q.logger.Debug("job completed", fields...)
	case StateDelayed:
		metrics.RecordJob(kind, "retried")
		q.logger.Warn("job failed, will retry", append(fields, zap.Error(err))...)
	default:
		metrics.RecordJob(kind, "failed")
		q.logger.Error("job failed permanently", append(fields, zap.Error(err))...)
	}
}

func (q *Queue) run(ctx context.Context, h Handler, job *Job) (err error) {
	if q.cfg.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.cfg.JobTimeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("job handler panic recovered",
				zap.String("kind", job.Kind),
				zap.String("job_id", job.ID),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()

	return h(ctx, job)
}

func (q *Queue) scheduleRetryLocked(kind string, job *Job, delay time.Duration) {
	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		q.mu.Lock()
		if _, pending := q.timers[t]; !pending {
			q.mu.Unlock()
			return
		}
		delete(q.timers, t)
		ks := q.kinds[kind]
		ks.delayed--
		ks.waiting++
		job.State = StateWaiting
		q.mu.Unlock()
		q.publishGauges(kind)

		if err := q.broker.Publish(context.Background(), job); err != nil {
			q.logger.Error("failed to requeue job", zap.String("job_id", job.ID), zap.Error(err))
			q.mu.Lock()
			ks.waiting--
			q.mu.Unlock()
			q.publishGauges(kind)
		}
	})
	q.timers[t] = struct{}{}
}

func (q *Queue) publishGauges(kind string) {
	q.mu.Lock()
	ks, ok := q.kinds[kind]
	if !ok {
		q.mu.Unlock()
		return
	}
	waiting, active, delayed := ks.waiting, ks.active, ks.delayed
	completed, failed := len(ks.completed), len(ks.failed)
	q.mu.Unlock()

	metrics.QueueDepth.WithLabelValues(kind, string(StateWaiting)).Set(float64(waiting))
	metrics.QueueDepth.WithLabelValues(kind, string(StateActive)).Set(float64(active))
	metrics.QueueDepth.WithLabelValues(kind, string(StateDelayed)).Set(float64(delayed))
	metrics.QueueDepth.WithLabelValues(kind, string(StateCompleted)).Set(float64(completed))
	metrics.QueueDepth.WithLabelValues(kind, string(StateFailed)).Set(float64(failed))
}

func retain(jobs []*Job, job *Job, keep int) []*Job {
	jobs = append(jobs, job)
	if len(jobs) > keep {
		jobs = jobs[len(jobs)-keep:]
	}
	return jobs
}
