package queue

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryBroker keeps jobs in process memory. It is safe for concurrent use
// but offers no durability and no exclusion across processes.
type MemoryBroker struct {
	mu   sync.Mutex
	jobs map[string]*Job
	keys map[string]string
}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		jobs: map[string]*Job{},
		keys: map[string]string{},
	}
}

func memKey(queue, key string) string {
	return queue + "\x00" + key
}

func (b *MemoryBroker) Add(_ context.Context, job Job) (Job, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if id, ok := b.keys[memKey(job.Queue, job.Key)]; ok {
		return *b.jobs[id], false, nil
	}
	if job.Status == "" {
		job.Status = StatusWaiting
	}
	stored := job
	b.jobs[job.ID] = &stored
	b.keys[memKey(job.Queue, job.Key)] = job.ID
	return stored, true, nil
}

func (b *MemoryBroker) Claim(_ context.Context, queue string, limit int, now time.Time) ([]Job, error) {
	if limit <= 0 {
		return nil, nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	ready := make([]*Job, 0)
	for _, job := range b.jobs {
		if job.Queue == queue && job.Status == StatusWaiting && !job.RunAt.After(now) {
			ready = append(ready, job)
		}
	}
	sort.Slice(ready, func(i, j int) bool {
		if ready[i].RunAt.Equal(ready[j].RunAt) {
			return ready[i].CreatedAt.Before(ready[j].CreatedAt)
		}
		return ready[i].RunAt.Before(ready[j].RunAt)
	})
	if len(ready) > limit {
		ready = ready[:limit]
	}
	out := make([]Job, 0, len(ready))
	for _, job := range ready {
		job.Status = StatusActive
		job.LockedAt = now
		out = append(out, *job)
	}
	return out, nil
}

func (b *MemoryBroker) Touch(_ context.Context, id string, now time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	job, ok := b.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	if job.Status == StatusActive {
		job.LockedAt = now
	}
	return nil
}

func (b *MemoryBroker) Complete(_ context.Context, id string, remove bool, now time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	job, ok := b.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	if remove {
		b.deleteLocked(job)
		return nil
	}
	job.Status = StatusCompleted
	job.LockedAt = time.Time{}
	job.FinishedAt = now
	return nil
}

func (b *MemoryBroker) Retry(_ context.Context, id string, runAt time.Time, lastError string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	job, ok := b.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	job.Status = StatusWaiting
	job.AttemptsMade++
	job.RunAt = runAt
	job.LockedAt = time.Time{}
	job.LastError = lastError
	return nil
}

func (b *MemoryBroker) Fail(_ context.Context, id string, lastError string, remove bool, now time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	job, ok := b.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	if remove {
		b.deleteLocked(job)
		return nil
	}
	job.Status = StatusFailed
	job.AttemptsMade++
	job.LockedAt = time.Time{}
	job.LastError = lastError
	job.FinishedAt = now
	return nil
}

func (b *MemoryBroker) RecoverStalled(_ context.Context, cutoff time.Time) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, job := range b.jobs {
		if job.Status == StatusActive && job.LockedAt.Before(cutoff) {
			job.Status = StatusWaiting
			job.LockedAt = time.Time{}
			n++
		}
	}
	return n, nil
}

func (b *MemoryBroker) Prune(_ context.Context, cutoff time.Time) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, job := range b.jobs {
		if (job.Status == StatusCompleted || job.Status == StatusFailed) && job.FinishedAt.Before(cutoff) {
			b.deleteLocked(job)
			n++
		}
	}
	return n, nil
}

func (b *MemoryBroker) Get(_ context.Context, id string) (Job, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	job, ok := b.jobs[id]
	if !ok {
		return Job{}, ErrJobNotFound
	}
	return *job, nil
}

func (b *MemoryBroker) Remove(_ context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	job, ok := b.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	b.deleteLocked(job)
	return nil
}

// Jobs returns a snapshot of every stored job of queue.
func (b *MemoryBroker) Jobs(queue string) []Job {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Job, 0)
	for _, job := range b.jobs {
		if job.Queue == queue {
			out = append(out, *job)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (b *MemoryBroker) deleteLocked(job *Job) {
	delete(b.keys, memKey(job.Queue, job.Key))
	delete(b.jobs, job.ID)
}
