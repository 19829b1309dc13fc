package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newJob(id, queue, key string, runAt time.Time) Job {
	return Job{ID: id, Queue: queue, Key: key, Status: StatusWaiting, RunAt: runAt, CreatedAt: runAt}
}

func TestMemoryBrokerDedupByKey(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBroker()
	now := time.Now()

	_, created, err := b.Add(ctx, newJob("1", "SendMessages", "tenant-1", now))
	require.NoError(t, err)
	assert.True(t, created)

	existing, created, err := b.Add(ctx, newJob("2", "SendMessages", "tenant-1", now))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "1", existing.ID)

	_, created, err = b.Add(ctx, newJob("3", "SendMessageSchenduled", "tenant-1", now))
	require.NoError(t, err)
	assert.True(t, created, "keys are scoped per queue")

	require.NoError(t, b.Remove(ctx, "1"))
	_, created, err = b.Add(ctx, newJob("4", "SendMessages", "tenant-1", now))
	require.NoError(t, err)
	assert.True(t, created, "a removed job frees its key")
}

func TestMemoryBrokerClaimOrderAndDelay(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBroker()
	now := time.Now()

	_, _, _ = b.Add(ctx, newJob("late", "q", "late", now.Add(time.Minute)))
	_, _, _ = b.Add(ctx, newJob("second", "q", "second", now.Add(-time.Second)))
	_, _, _ = b.Add(ctx, newJob("first", "q", "first", now.Add(-2*time.Second)))

	jobs, err := b.Claim(ctx, "q", 10, now)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "first", jobs[0].ID)
	assert.Equal(t, "second", jobs[1].ID)
	assert.Equal(t, StatusActive, jobs[0].Status)

	jobs, err = b.Claim(ctx, "q", 10, now)
	require.NoError(t, err)
	assert.Empty(t, jobs, "active jobs are not claimed twice")

	jobs, err = b.Claim(ctx, "q", 10, now.Add(2*time.Minute))
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "late", jobs[0].ID)
}

func TestMemoryBrokerRetryFailComplete(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBroker()
	now := time.Now()
	_, _, _ = b.Add(ctx, newJob("a", "q", "a", now))
	_, _, _ = b.Add(ctx, newJob("b", "q", "b", now))
	_, _ = b.Claim(ctx, "q", 2, now)

	require.NoError(t, b.Retry(ctx, "a", now.Add(time.Minute), "boom"))
	a, err := b.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, StatusWaiting, a.Status)
	assert.Equal(t, 1, a.AttemptsMade)
	assert.Equal(t, "boom", a.LastError)

	require.NoError(t, b.Fail(ctx, "b", "bad", false, now))
	fb, _ := b.Get(ctx, "b")
	assert.Equal(t, StatusFailed, fb.Status)
	assert.Equal(t, 1, fb.AttemptsMade)

	n, err := b.Prune(ctx, now.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, err = b.Get(ctx, "b")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestMemoryBrokerRecoverStalled(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBroker()
	t0 := time.Now()
	_, _, _ = b.Add(ctx, newJob("a", "q", "a", t0))
	_, _ = b.Claim(ctx, "q", 1, t0)

	n, err := b.RecoverStalled(ctx, t0.Add(-time.Second))
	require.NoError(t, err)
	assert.Equal(t, 0, n, "fresh lock is not stalled")

	require.NoError(t, b.Touch(ctx, "a", t0.Add(time.Minute)))
	n, _ = b.RecoverStalled(ctx, t0.Add(30*time.Second))
	assert.Equal(t, 0, n, "touched lock is not stalled")

	n, _ = b.RecoverStalled(ctx, t0.Add(2*time.Minute))
	assert.Equal(t, 1, n)
	job, _ := b.Get(ctx, "a")
	assert.Equal(t, StatusWaiting, job.Status)
	assert.Equal(t, 0, job.AttemptsMade, "stall recovery does not consume an attempt")
}
