package queue

import (
	"context"
	"errors"
	"time"
)

// ErrJobNotFound is returned by brokers for unknown job ids.
var ErrJobNotFound = errors.New("job not found")

// Broker is durable FIFO-per-queue storage with delayed delivery and at-least-once redelivery.
type Broker interface {
	// Add stores job unless a job with the same (Queue, Key) exists; then it returns the existing job and created=false.
	Add(ctx context.Context, job Job) (stored Job, created bool, err error)
	// Claim moves up to limit waiting jobs with RunAt <= now to active, oldest first.
	Claim(ctx context.Context, queue string, limit int, now time.Time) ([]Job, error)
	// Touch extends the lock of an active job.
	Touch(ctx context.Context, id string, now time.Time) error
	// Complete marks an active job completed, or deletes it when remove is set.
	Complete(ctx context.Context, id string, remove bool, now time.Time) error
	// Retry returns an active job to waiting with AttemptsMade incremented.
	Retry(ctx context.Context, id string, runAt time.Time, lastError string) error
	// Fail marks an active job failed with AttemptsMade incremented, or deletes it when remove is set.
	Fail(ctx context.Context, id string, lastError string, remove bool, now time.Time) error
	// RecoverStalled moves active jobs locked before cutoff back to waiting.
	RecoverStalled(ctx context.Context, cutoff time.Time) (int, error)
	// Prune deletes completed and failed jobs finished before cutoff.
	Prune(ctx context.Context, cutoff time.Time) (int, error)
	Get(ctx context.Context, id string) (Job, error)
	Remove(ctx context.Context, id string) error
}
