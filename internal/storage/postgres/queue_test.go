package postgres

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/jvkabum/vue3-izing-sub001/internal/queue"
)

func TestSortJobsByRunAtThenCreation(t *testing.T) {
	t.Parallel()
	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	jobs := []queue.Job{
		{ID: "late", RunAt: base.Add(time.Minute), CreatedAt: base},
		{ID: "second", RunAt: base, CreatedAt: base.Add(time.Second)},
		{ID: "first", RunAt: base, CreatedAt: base},
	}
	sortJobs(jobs)
	ids := make([]string, len(jobs))
	for i, j := range jobs {
		ids[i] = j.ID
	}
	assert.Equal(t, []string{"first", "second", "late"}, ids)
}

func TestDueFilterBindsPlaceholder(t *testing.T) {
	t.Parallel()
	assert.Contains(t, dueFilter("$2"), "schedule_at <= $2")
	assert.Contains(t, dueFilter("$1"), "native_id IS NULL")
}
