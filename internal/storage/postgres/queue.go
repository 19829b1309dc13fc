package postgres

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jvkabum/vue3-izing-sub001/internal/db"
	"github.com/jvkabum/vue3-izing-sub001/internal/queue"
)

var (
	_ queue.Broker = (*JobBroker)(nil)
	_ queue.Guard  = (*AdvisoryGuard)(nil)
)

// JobBroker persists queue jobs in queue_jobs so they survive restarts and are
// shared by every worker process. Claims use FOR UPDATE SKIP LOCKED.
type JobBroker struct {
	pool *pgxpool.Pool
}

func NewJobBroker(pool *pgxpool.Pool) *JobBroker {
	return &JobBroker{pool: pool}
}

const jobColumns = `id, queue, job_key, data, status, attempts_made, max_attempts, backoff_ms,
	remove_on_complete, remove_on_fail, run_at, locked_at, last_error, created_at, finished_at`

func scanJob(row pgx.Row) (queue.Job, error) {
	var (
		j                    queue.Job
		status               string
		backoffMs            int64
		lockedAt, finishedAt pgtype.Timestamptz
	)
	err := row.Scan(&j.ID, &j.Queue, &j.Key, &j.Data, &status, &j.AttemptsMade, &j.MaxAttempts, &backoffMs,
		&j.RemoveOnComplete, &j.RemoveOnFail, &j.RunAt, &lockedAt, &j.LastError, &j.CreatedAt, &finishedAt)
	if err != nil {
		return queue.Job{}, err
	}
	j.Status = queue.Status(status)
	j.Backoff = time.Duration(backoffMs) * time.Millisecond
	j.LockedAt = db.TimeFromPg(lockedAt)
	j.FinishedAt = db.TimeFromPg(finishedAt)
	return j, nil
}

func (b *JobBroker) Add(ctx context.Context, job queue.Job) (queue.Job, bool, error) {
	if job.Status == "" {
		job.Status = queue.StatusWaiting
	}
	data := job.Data
	if len(data) == 0 {
		data = []byte("null")
	}
	stored, err := scanJob(b.pool.QueryRow(ctx, `
		INSERT INTO queue_jobs (id, queue, job_key, data, status, attempts_made, max_attempts, backoff_ms,
			remove_on_complete, remove_on_fail, run_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (queue, job_key) DO NOTHING
		RETURNING `+jobColumns,
		job.ID, job.Queue, job.Key, string(data), string(job.Status), job.AttemptsMade, job.MaxAttempts,
		job.Backoff.Milliseconds(), job.RemoveOnComplete, job.RemoveOnFail, job.RunAt, job.CreatedAt))
	if err == nil {
		return stored, true, nil
	}
	if !db.IsNoRows(err) {
		return queue.Job{}, false, fmt.Errorf("add job: %w", err)
	}
	existing, err := scanJob(b.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM queue_jobs WHERE queue = $1 AND job_key = $2`, job.Queue, job.Key))
	if err != nil {
		return queue.Job{}, false, fmt.Errorf("load existing job: %w", err)
	}
	return existing, false, nil
}

func (b *JobBroker) Claim(ctx context.Context, queueName string, limit int, now time.Time) ([]queue.Job, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := b.pool.Query(ctx, `
		UPDATE queue_jobs SET status = 'active', locked_at = $3
		WHERE id IN (
			SELECT id FROM queue_jobs
			WHERE queue = $1 AND status = 'waiting' AND run_at <= $3
			ORDER BY run_at, created_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+jobColumns, queueName, limit, now)
	if err != nil {
		return nil, fmt.Errorf("claim jobs: %w", err)
	}
	defer rows.Close()
	out := make([]queue.Job, 0, limit)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		out = append(out, job)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// RETURNING carries no order
	sortJobs(out)
	return out, nil
}

func sortJobs(jobs []queue.Job) {
	slices.SortFunc(jobs, func(a, b queue.Job) int {
		if c := a.RunAt.Compare(b.RunAt); c != 0 {
			return c
		}
		return a.CreatedAt.Compare(b.CreatedAt)
	})
}

func (b *JobBroker) exec(ctx context.Context, op, sql string, args ...any) error {
	tag, err := b.pool.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return queue.ErrJobNotFound
	}
	return nil
}

func (b *JobBroker) Touch(ctx context.Context, id string, now time.Time) error {
	return b.exec(ctx, "touch job", `
		UPDATE queue_jobs SET locked_at = CASE WHEN status = 'active' THEN $2 ELSE locked_at END
		WHERE id = $1`, id, now)
}

func (b *JobBroker) Complete(ctx context.Context, id string, remove bool, now time.Time) error {
	if remove {
		return b.Remove(ctx, id)
	}
	return b.exec(ctx, "complete job", `
		UPDATE queue_jobs SET status = 'completed', locked_at = NULL, finished_at = $2
		WHERE id = $1`, id, now)
}

func (b *JobBroker) Retry(ctx context.Context, id string, runAt time.Time, lastError string) error {
	return b.exec(ctx, "retry job", `
		UPDATE queue_jobs SET status = 'waiting', attempts_made = attempts_made + 1,
			run_at = $2, locked_at = NULL, last_error = $3
		WHERE id = $1`, id, runAt, lastError)
}

func (b *JobBroker) Fail(ctx context.Context, id string, lastError string, remove bool, now time.Time) error {
	if remove {
		return b.Remove(ctx, id)
	}
	return b.exec(ctx, "fail job", `
		UPDATE queue_jobs SET status = 'failed', attempts_made = attempts_made + 1,
			locked_at = NULL, last_error = $2, finished_at = $3
		WHERE id = $1`, id, lastError, now)
}

func (b *JobBroker) RecoverStalled(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := b.pool.Exec(ctx, `
		UPDATE queue_jobs SET status = 'waiting', locked_at = NULL
		WHERE status = 'active' AND locked_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("recover stalled jobs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (b *JobBroker) Prune(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := b.pool.Exec(ctx, `
		DELETE FROM queue_jobs
		WHERE status IN ('completed', 'failed') AND finished_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune jobs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (b *JobBroker) Get(ctx context.Context, id string) (queue.Job, error) {
	job, err := scanJob(b.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM queue_jobs WHERE id = $1`, id))
	if db.IsNoRows(err) {
		return queue.Job{}, queue.ErrJobNotFound
	}
	return job, err
}

func (b *JobBroker) Remove(ctx context.Context, id string) error {
	return b.exec(ctx, "remove job", `DELETE FROM queue_jobs WHERE id = $1`, id)
}

// AdvisoryGuard serializes per-tenant jobs across worker processes with
// session-level advisory locks.
type AdvisoryGuard struct {
	pool *pgxpool.Pool
}

func NewAdvisoryGuard(pool *pgxpool.Pool) *AdvisoryGuard {
	return &AdvisoryGuard{pool: pool}
}

func (g *AdvisoryGuard) TryAcquire(ctx context.Context, key string) (func(), bool, error) {
	return db.TryAdvisoryLock(ctx, g.pool, "queue-guard:"+key)
}
