package cron

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"

	"github.com/lokalbazaar/lokalbazaar-backend/pkg/logger"
	"github.com/lokalbazaar/lokalbazaar-backend/pkg/metrics"
	redispkg "github.com/lokalbazaar/lokalbazaar-backend/pkg/redis"
)

// Locker fences a job name across worker replicas.
type Locker interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (release func(), acquired bool, err error)
}

type redisLocker struct {
	client *redispkg.Client
}

// NewRedisLocker builds a Locker backed by Redis SETNX leases.
func NewRedisLocker(client *redispkg.Client) Locker {
	return &redisLocker{client: client}
}

func (l *redisLocker) Acquire(ctx context.Context, name string, ttl time.Duration) (func(), bool, error) {
	key := l.client.LockKey(name)
	ok, err := l.client.SetNX(ctx, key, "1", ttl)
	if err != nil {
		return nil, false, fmt.Errorf("acquiring lock %s: %w", name, err)
	}
	if !ok {
		return nil, false, nil
	}
	release := func() {
		// release with a fresh context so shutdown does not leave the lease
		// held until TTL expiry
		_ = l.client.Del(context.Background(), key)
	}
	return release, true, nil
}

// Job is one scheduled unit of work. Run must be safe to invoke repeatedly;
// the lock only guards against concurrent replicas, not replays.
type Job struct {
	Name    string
	Every   time.Duration
	LockTTL time.Duration
	Run     func(ctx context.Context) error
}

// Runner ticks registered jobs on their own intervals, one replica at a time
// per job.
type Runner struct {
	jobs    []Job
	locker  Locker
	metrics *metrics.CronJobMetrics
	logger  *logger.Logger
}

// NewRunner builds a job runner.
func NewRunner(locker Locker, jobMetrics *metrics.CronJobMetrics, logg *logger.Logger) (*Runner, error) {
	if locker == nil {
		return nil, fmt.Errorf("locker required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Runner{locker: locker, metrics: jobMetrics, logger: logg}, nil
}

// Register adds jobs to the runner. Not safe to call after Start.
func (r *Runner) Register(jobs ...Job) {
	r.jobs = append(r.jobs, jobs...)
}

// Start runs each job immediately and then on its interval, blocking until
// the context is cancelled.
func (r *Runner) Start(ctx context.Context) {
	var wg sync.WaitGroup
	for _, job := range r.jobs {
		wg.Add(1)
		go func(job Job) {
			defer wg.Done()
			r.runOne(ctx, job)

			ticker := time.NewTicker(job.Every)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					r.runOne(ctx, job)
				}
			}
		}(job)
	}
	wg.Wait()
}

// RunOnce executes every registered job a single time, collecting failures.
func (r *Runner) RunOnce(ctx context.Context) error {
	var errs error
	for _, job := range r.jobs {
		errs = multierr.Append(errs, r.runOne(ctx, job))
	}
	return errs
}

func (r *Runner) runOne(ctx context.Context, job Job) error {
	jctx := r.logger.WithField(ctx, "job", job.Name)

	release, acquired, err := r.locker.Acquire(ctx, job.Name, job.lockTTL())
	if err != nil {
		r.metrics.IncFailure(job.Name)
		r.logger.Error(jctx, "job lock acquisition failed", err)
		return err
	}
	if !acquired {
		r.logger.Info(jctx, "job lock held elsewhere, skipping")
		return nil
	}
	defer release()

	start := time.Now()
	err = job.Run(jctx)
	r.metrics.ObserveDuration(job.Name, time.Since(start))
	if err != nil {
		r.metrics.IncFailure(job.Name)
		r.logger.Error(jctx, "job failed", err)
		return fmt.Errorf("job %s: %w", job.Name, err)
	}
	r.metrics.IncSuccess(job.Name)
	r.logger.Info(jctx, "job completed")
	return nil
}

func (j Job) lockTTL() time.Duration {
	if j.LockTTL > 0 {
		return j.LockTTL
	}
	if j.Every > 0 {
		return j.Every
	}
	return time.Minute
}
