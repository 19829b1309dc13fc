package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jvkabum/vue3-izing-sub001/internal/apperr"
	"github.com/jvkabum/vue3-izing-sub001/internal/logger"
	"github.com/jvkabum/vue3-izing-sub001/internal/schedule"
)

// Handler processes one job. A returned error triggers the queue's retry policy;
// errors classified as permanent by apperr fail the job at once.
type Handler func(ctx context.Context, job Job) error

// RunnerConfig tunes the consumer side.
type RunnerConfig struct {
	DefaultConcurrency int
	PollInterval       time.Duration
	StalledTimeout     time.Duration
	// PruneAfter is how long completed and failed jobs are retained.
	PruneAfter time.Duration
}

func (c RunnerConfig) withDefaults() RunnerConfig {
	if c.DefaultConcurrency <= 0 {
		c.DefaultConcurrency = 200
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.StalledTimeout <= 0 {
		c.StalledTimeout = 5 * time.Minute
	}
	if c.PruneAfter <= 0 {
		c.PruneAfter = 24 * time.Hour
	}
	return c
}

type worker struct {
	name    string
	handler Handler
	opts    Options
	slots   chan struct{}
	wake    chan struct{}
}

// Runner pulls ready jobs from the broker and runs the registered handlers.
type Runner struct {
	queue     *Queue
	broker    Broker
	scheduler *schedule.Service
	guard     Guard
	logger    *slog.Logger
	cfg       RunnerConfig
	now       func() time.Time

	mu      sync.Mutex
	workers map[string]*worker
	started bool
	cancel  context.CancelFunc
	loops   sync.WaitGroup
	active  sync.WaitGroup
}

// NewRunner builds a runner. A nil guard means an in-process LocalGuard; a nil
// scheduler disables repeat queues.
func NewRunner(log *slog.Logger, q *Queue, scheduler *schedule.Service, guard Guard, cfg RunnerConfig) *Runner {
	if guard == nil {
		guard = NewLocalGuard()
	}
	return &Runner{
		queue:     q,
		broker:    q.Broker(),
		scheduler: scheduler,
		guard:     guard,
		logger:    logger.OrDefault(log).With(slog.String("service", "queue_runner")),
		cfg:       cfg.withDefaults(),
		now:       time.Now,
		workers:   map[string]*worker{},
	}
}

// Register declares the queue policy and binds its handler.
func (r *Runner) Register(name string, handler Handler, opts Options) error {
	if name == "" || handler == nil {
		return fmt.Errorf("register queue: name and handler are required")
	}
	if opts.Attempts < 0 {
		return fmt.Errorf("register queue %s: attempts must be >= 0", name)
	}
	if opts.Repeat != nil {
		if r.scheduler == nil {
			return fmt.Errorf("register queue %s: repeat requires a scheduler", name)
		}
		if opts.Repeat.Cron != "" {
			if err := r.scheduler.Validate(opts.Repeat.Cron); err != nil {
				return fmt.Errorf("register queue %s: %w", name, err)
			}
		} else if opts.Repeat.Every <= 0 {
			return fmt.Errorf("register queue %s: repeat needs every or cron", name)
		}
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = r.cfg.DefaultConcurrency
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return fmt.Errorf("register queue %s: runner already started", name)
	}
	if _, exists := r.workers[name]; exists {
		return fmt.Errorf("register queue %s: already registered", name)
	}
	r.workers[name] = &worker{
		name:    name,
		handler: handler,
		opts:    opts,
		slots:   make(chan struct{}, concurrency),
		wake:    make(chan struct{}, 1),
	}
	r.queue.Declare(name, opts)
	return nil
}

// Queues lists registered queue names.
func (r *Runner) Queues() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.workers))
	for name := range r.workers {
		names = append(names, name)
	}
	return names
}

// Start launches one poll loop per queue, the stalled-job sweeper and the repeat schedules.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return nil
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r.cancel = cancel
	r.started = true

	r.queue.setNotify(r.wake)
	for _, w := range r.workers {
		r.loops.Add(1)
		go r.loop(runCtx, w)
		if w.opts.Repeat != nil {
			if err := r.armRepeat(runCtx, w); err != nil {
				cancel()
				return err
			}
		}
	}
	r.loops.Add(1)
	go r.maintain(runCtx)
	if r.scheduler != nil {
		r.scheduler.Start()
	}
	r.logger.Info("queue runner started", slog.Int("queues", len(r.workers)))
	return nil
}

// Stop halts polling and waits for active handlers until ctx expires.
// Active jobs are never interrupted; ones still running at the deadline are recovered as stalled later.
func (r *Runner) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return nil
	}
	r.started = false
	cancel := r.cancel
	r.mu.Unlock()

	if r.scheduler != nil {
		r.scheduler.Stop()
	}
	r.queue.setNotify(nil)
	cancel()
	r.loops.Wait()

	done := make(chan struct{})
	go func() {
		r.active.Wait()
		close(done)
	}()
	select {
	case <-done:
		r.logger.Info("queue runner stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("stop queue runner: %w", ctx.Err())
	}
}

func (r *Runner) wake(name string) {
	r.mu.Lock()
	w, ok := r.workers[name]
	r.mu.Unlock()
	if !ok {
		return
	}
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (r *Runner) loop(ctx context.Context, w *worker) {
	defer r.loops.Done()
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()
	for {
		r.drain(ctx, w)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-w.wake:
		}
	}
}

// drain claims as many ready jobs as there are free slots.
func (r *Runner) drain(ctx context.Context, w *worker) {
	free := cap(w.slots) - len(w.slots)
	if free <= 0 {
		return
	}
	jobs, err := r.broker.Claim(ctx, w.name, free, r.now())
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			r.logger.Error("claim jobs failed", slog.String("queue", w.name), slog.Any("error", err))
		}
		return
	}
	for _, job := range jobs {
		w.slots <- struct{}{}
		r.active.Add(1)
		go func(job Job) {
			defer func() {
				<-w.slots
				r.active.Done()
				select {
				case w.wake <- struct{}{}:
				default:
				}
			}()
			// an active job runs to completion even if the runner is stopping
			r.process(context.WithoutCancel(ctx), w, job)
		}(job)
	}
}

func (r *Runner) process(ctx context.Context, w *worker, job Job) {
	attempt := job.AttemptsMade + 1
	log := r.logger.With(
		slog.String("queue", w.name),
		slog.String("job_id", job.ID),
		slog.Int("attempt", attempt),
	)
	ctx = logger.WithContext(ctx, log)

	stop := r.heartbeat(ctx, job.ID)
	err := r.invoke(ctx, w, job, log)
	stop()
	r.settle(ctx, w, job, attempt, err, log)
}

// invoke runs the handler under the queue's serializer guard. The guard is
// acquired before the handler and released by a deferred call on every path,
// including panics.
func (r *Runner) invoke(ctx context.Context, w *worker, job Job, log *slog.Logger) (err error) {
	if w.opts.SerializeBy != nil {
		if key := w.opts.SerializeBy(job); key != "" {
			release, ok, gerr := r.guard.TryAcquire(ctx, w.name+":"+key)
			if gerr != nil {
				return fmt.Errorf("acquire serializer %s: %w", key, gerr)
			}
			if !ok {
				log.Debug("serialized job skipped, key busy", slog.String("key", key))
				return nil
			}
			defer release()
		}
	}
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("handler panic: %v", rec)
		}
	}()
	return w.handler(ctx, job)
}

func (r *Runner) settle(ctx context.Context, w *worker, job Job, attempt int, err error, log *slog.Logger) {
	now := r.now()
	if err == nil {
		if cerr := r.broker.Complete(ctx, job.ID, job.RemoveOnComplete, now); cerr != nil {
			log.Error("complete job failed", slog.Any("error", cerr))
		}
		return
	}

	log.Error("job failed", slog.String("message", err.Error()), slog.Any("error", err))
	permanent := !apperr.Retryable(err)
	exhausted := job.MaxAttempts > 0 && attempt >= job.MaxAttempts
	if permanent || exhausted {
		if ferr := r.broker.Fail(ctx, job.ID, err.Error(), job.RemoveOnFail, now); ferr != nil {
			log.Error("fail job failed", slog.Any("error", ferr))
		}
		log.Warn("job marked failed", slog.Bool("permanent", permanent), slog.Int("max_attempts", job.MaxAttempts))
		return
	}
	runAt := now.Add(w.opts.Backoff.After(attempt))
	if rerr := r.broker.Retry(ctx, job.ID, runAt, err.Error()); rerr != nil {
		log.Error("retry job failed", slog.Any("error", rerr))
	}
}

// heartbeat keeps the job lock fresh so long handlers are not recovered as stalled.
func (r *Runner) heartbeat(ctx context.Context, id string) func() {
	interval := r.cfg.StalledTimeout / 3
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := r.broker.Touch(ctx, id, r.now()); err != nil && !errors.Is(err, context.Canceled) {
					r.logger.Warn("job heartbeat failed", slog.String("job_id", id), slog.Any("error", err))
				}
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

func (r *Runner) maintain(ctx context.Context) {
	defer r.loops.Done()
	stalled := time.NewTicker(r.cfg.StalledTimeout / 2)
	defer stalled.Stop()
	prune := time.NewTicker(time.Hour)
	defer prune.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stalled.C:
			r.RecoverStalled(ctx)
		case <-prune.C:
			n, err := r.broker.Prune(ctx, r.now().Add(-r.cfg.PruneAfter))
			if err != nil {
				r.logger.Error("prune jobs failed", slog.Any("error", err))
			} else if n > 0 {
				r.logger.Info("pruned finished jobs", slog.Int("count", n))
			}
		}
	}
}

// RecoverStalled returns jobs whose lock expired to waiting.
func (r *Runner) RecoverStalled(ctx context.Context) int {
	n, err := r.broker.RecoverStalled(ctx, r.now().Add(-r.cfg.StalledTimeout))
	if err != nil {
		r.logger.Error("recover stalled jobs failed", slog.Any("error", err))
		return 0
	}
	if n > 0 {
		r.logger.Warn("recovered stalled jobs", slog.Int("count", n))
	}
	return n
}

// Tick is the payload of a repeat job.
type Tick struct {
	At time.Time `json:"at"`
}

// armRepeat schedules the queue's recurring enqueue.
func (r *Runner) armRepeat(ctx context.Context, w *worker) error {
	spec := w.opts.Repeat
	fire := func(tick time.Time) {
		if err := r.enqueueTick(ctx, w, tick); err != nil {
			r.logger.Error("enqueue repeat job failed", slog.String("queue", w.name), slog.Any("error", err))
		}
	}
	if spec.Cron != "" {
		return r.scheduler.Cron(w.name, spec.Cron, fire)
	}
	return r.scheduler.Every(w.name, spec.Every, fire)
}

// enqueueTick stores the job of the slot containing tick. The slot key is retained past
// completion, so runner processes firing the same slot late still produce one job.
func (r *Runner) enqueueTick(ctx context.Context, w *worker, tick time.Time) error {
	slotSize := time.Minute
	if w.opts.Repeat.Cron == "" && w.opts.Repeat.Every > 0 {
		slotSize = w.opts.Repeat.Every
	}
	slot := tick.Truncate(slotSize)
	key := fmt.Sprintf("repeat:%d", slot.Unix())
	_, err := r.queue.Enqueue(ctx, w.name, Tick{At: slot}, WithJobID(key), WithRetention())
	return err
}
