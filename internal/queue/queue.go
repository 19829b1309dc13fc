package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jvkabum/vue3-izing-sub001/internal/apperr"
	"github.com/jvkabum/vue3-izing-sub001/internal/logger"
)

// Queue is the producer side: it knows each declared queue's policy and writes jobs to the broker.
type Queue struct {
	broker Broker
	logger *slog.Logger
	now    func() time.Time

	mu       sync.RWMutex
	declared map[string]Options
	notify   func(name string)
}

func New(log *slog.Logger, broker Broker) *Queue {
	return &Queue{
		broker:   broker,
		logger:   logger.OrDefault(log).With(slog.String("service", "queue")),
		now:      time.Now,
		declared: map[string]Options{},
	}
}

// Declare records the policy of a queue so producers can enqueue to it.
func (q *Queue) Declare(name string, opts Options) {
	q.mu.Lock()
	q.declared[name] = opts
	q.mu.Unlock()
}

// Options returns the declared policy of name.
func (q *Queue) Options(name string) (Options, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	opts, ok := q.declared[name]
	return opts, ok
}

// Broker exposes the underlying broker (used by the runner and operators).
func (q *Queue) Broker() Broker {
	return q.broker
}

func (q *Queue) setNotify(fn func(name string)) {
	q.mu.Lock()
	q.notify = fn
	q.mu.Unlock()
}

// EnqueueOption adjusts a single job.
type EnqueueOption func(*enqueueConfig)

type enqueueConfig struct {
	jobID    string
	delay    time.Duration
	runAt    time.Time
	attempts *int
	retain   bool
}

// WithJobID sets the de-duplication key: a second enqueue with the same key is a no-op while the first job is stored.
func WithJobID(id string) EnqueueOption {
	return func(c *enqueueConfig) { c.jobID = id }
}

// WithDelay defers the job by d, overriding the queue's declared delay.
func WithDelay(d time.Duration) EnqueueOption {
	return func(c *enqueueConfig) { c.delay = d }
}

// WithRunAt schedules the job for an absolute time.
func WithRunAt(t time.Time) EnqueueOption {
	return func(c *enqueueConfig) { c.runAt = t }
}

// WithAttempts overrides the queue's declared attempts for this job.
func WithAttempts(n int) EnqueueOption {
	return func(c *enqueueConfig) { c.attempts = &n }
}

// WithRetention keeps the job stored after it finishes, overriding the queue's removal
// policy. Its key stays taken until the runner prunes it.
func WithRetention() EnqueueOption {
	return func(c *enqueueConfig) { c.retain = true }
}

// Enqueue stores a job for the named queue with payload encoded as JSON.
func (q *Queue) Enqueue(ctx context.Context, name string, payload any, opts ...EnqueueOption) (Handle, error) {
	declared, ok := q.Options(name)
	if !ok {
		return Handle{}, apperr.Newf(apperr.KindConfiguration, "queue.enqueue", "queue %q is not declared", name)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Handle{}, apperr.New(apperr.KindInvalidPayload, "queue.enqueue", err)
	}

	cfg := enqueueConfig{delay: declared.Delay}
	for _, opt := range opts {
		opt(&cfg)
	}
	now := q.now()
	runAt := now.Add(cfg.delay)
	if !cfg.runAt.IsZero() {
		runAt = cfg.runAt
	}
	attempts := declared.Attempts
	if cfg.attempts != nil {
		attempts = *cfg.attempts
	}

	removeOnComplete, removeOnFail := declared.RemoveOnComplete, declared.RemoveOnFail
	if cfg.retain {
		removeOnComplete, removeOnFail = false, false
	}

	id := uuid.NewString()
	key := cfg.jobID
	if key == "" {
		key = id
	}
	job := Job{
		ID:               id,
		Queue:            name,
		Key:              key,
		Data:             data,
		Status:           StatusWaiting,
		MaxAttempts:      attempts,
		Backoff:          declared.Backoff.Delay,
		RemoveOnComplete: removeOnComplete,
		RemoveOnFail:     removeOnFail,
		RunAt:            runAt,
		CreatedAt:        now,
	}
	stored, created, err := q.broker.Add(ctx, job)
	if err != nil {
		return Handle{}, fmt.Errorf("enqueue %s: %w", name, err)
	}
	handle := Handle{ID: stored.ID, Queue: name, Key: stored.Key, Duplicate: !created}
	if !created {
		q.logger.Debug("duplicate job ignored", slog.String("queue", name), slog.String("job_key", key))
		return handle, nil
	}

	q.mu.RLock()
	notify := q.notify
	q.mu.RUnlock()
	if notify != nil && !runAt.After(now) {
		notify(name)
	}
	return handle, nil
}

// Remove deletes a job regardless of its state. It is the way to stop a job declared with unlimited attempts.
func (q *Queue) Remove(ctx context.Context, id string) error {
	if err := q.broker.Remove(ctx, id); err != nil {
		if errors.Is(err, ErrJobNotFound) {
			return apperr.New(apperr.KindNotFound, "queue.remove", err)
		}
		return err
	}
	return nil
}
