// Package queue is a named, durable, retrying job queue with per-key serialization.
//
// Producers call Queue.Enqueue; a Runner pulls ready jobs from a Broker and
// invokes the handler registered for the queue name. Retry policy, repeat
// schedule and serialization key are declared once per queue.
package queue

import (
	"encoding/json"
	"errors"
	"time"
)

// Status is the lifecycle position of a job.
type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// BackoffType selects how the delay before a retry is computed.
type BackoffType string

const (
	BackoffNone        BackoffType = ""
	BackoffFixed       BackoffType = "fixed"
	BackoffExponential BackoffType = "exponential"
)

// Backoff is the retry delay policy of a queue.
type Backoff struct {
	Type  BackoffType
	Delay time.Duration
}

// After returns the delay before the retry that follows the given attempt (1-based).
func (b Backoff) After(attempt int) time.Duration {
	switch b.Type {
	case BackoffFixed:
		return b.Delay
	case BackoffExponential:
		if attempt < 1 {
			attempt = 1
		}
		d := b.Delay
		for i := 1; i < attempt && d < 24*time.Hour; i++ {
			d *= 2
		}
		return d
	default:
		return 0
	}
}

// Repeat re-arms a queue on a fixed interval or a cron pattern.
type Repeat struct {
	Every time.Duration
	Cron  string
}

// Options is the per-queue policy declared at registration time.
type Options struct {
	// Concurrency caps in-flight handler invocations per process. Zero means the runner default.
	Concurrency int
	// Attempts is the total number of handler invocations before a job fails. Zero means unlimited.
	Attempts int
	Backoff  Backoff
	// Delay defers the first run of every job.
	Delay            time.Duration
	RemoveOnComplete bool
	RemoveOnFail     bool
	Repeat           *Repeat
	// SerializeBy returns the exclusion key of a job; jobs sharing a key never run concurrently
	// and a job whose key is held is completed without running. Empty key means no exclusion.
	SerializeBy func(Job) string
}

// Job is one unit of deferred work.
type Job struct {
	ID               string
	Queue            string
	Key              string
	Data             json.RawMessage
	Status           Status
	AttemptsMade     int
	MaxAttempts      int
	Backoff          time.Duration
	RemoveOnComplete bool
	RemoveOnFail     bool
	RunAt            time.Time
	LockedAt         time.Time
	LastError        string
	CreatedAt        time.Time
	FinishedAt       time.Time
}

// Decode unmarshals the job payload into v.
func (j Job) Decode(v any) error {
	if len(j.Data) == 0 {
		return errors.New("empty job payload")
	}
	return json.Unmarshal(j.Data, v)
}

// Handle identifies an enqueued job.
type Handle struct {
	ID    string
	Queue string
	Key   string
	// Duplicate is true when a job with the same key already existed and no job was added.
	Duplicate bool
}
