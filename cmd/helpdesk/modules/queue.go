package modules

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/fx"

	"github.com/jvkabum/vue3-izing-sub001/internal/config"
	"github.com/jvkabum/vue3-izing-sub001/internal/jobs"
	"github.com/jvkabum/vue3-izing-sub001/internal/queue"
	"github.com/jvkabum/vue3-izing-sub001/internal/schedule"
	"github.com/jvkabum/vue3-izing-sub001/internal/storage/postgres"
)

// jobRetention is how long finished jobs stay queryable before pruning.
const jobRetention = 24 * time.Hour

var QueueModule = fx.Module(
	"queue",
	fx.Provide(
		provideBroker,
		provideGuard,
		provideQueue,
		provideScheduler,
		provideRunner,
	),
	fx.Invoke(
		registerJobs,
		startRunner,
	),
)

// ---------------------------------------------------------------------------
// job queue
// ---------------------------------------------------------------------------

func provideBroker(cfg config.Config, conn *pgxpool.Pool) queue.Broker {
	if cfg.Queue.Broker == "memory" {
		return queue.NewMemoryBroker()
	}
	return postgres.NewJobBroker(conn)
}

// provideGuard serializes per-tenant jobs in process, and across processes when advisory locks are enabled.
func provideGuard(cfg config.Config, conn *pgxpool.Pool) queue.Guard {
	local := queue.NewLocalGuard()
	if !cfg.Queue.AdvisoryLocks {
		return local
	}
	return queue.ChainGuard{local, postgres.NewAdvisoryGuard(conn)}
}

func provideQueue(log *slog.Logger, broker queue.Broker) *queue.Queue {
	return queue.New(log, broker)
}

func provideScheduler(log *slog.Logger) *schedule.Service {
	return schedule.NewService(log, time.Local)
}

func provideRunner(log *slog.Logger, q *queue.Queue, scheduler *schedule.Service, guard queue.Guard, cfg config.Config) *queue.Runner {
	return queue.NewRunner(log, q, scheduler, guard, queue.RunnerConfig{
		DefaultConcurrency: cfg.Queue.DefaultConcurrency,
		PollInterval:       cfg.Queue.PollInterval,
		StalledTimeout:     cfg.Queue.StalledTimeout,
		PruneAfter:         jobRetention,
	})
}

// registerJobs declares every queue. Producers need the declarations even when this
// process does not consume.
func registerJobs(j *jobs.Jobs, runner *queue.Runner) error {
	if err := j.Register(runner); err != nil {
		return fmt.Errorf("register jobs: %w", err)
	}
	return nil
}

func startRunner(lc fx.Lifecycle, role Role, runner *queue.Runner) {
	if !role.Workers {
		return
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return runner.Start(ctx)
		},
		OnStop: func(ctx context.Context) error {
			return runner.Stop(ctx)
		},
	})
}
