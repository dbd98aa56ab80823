// Package scheduler runs periodic jobs on a cron schedule. Every run is
// guarded by a distributed lock so one instance in the fleet does the work.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmehdipour/room-slots/internal/lock"
	"github.com/jmehdipour/room-slots/internal/logger"
	"github.com/jmehdipour/room-slots/internal/metrics"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

type Job struct {
	Name    string
	Spec    string        // cron expression or @every descriptor
	LockTTL time.Duration // lease length; extended every TTL/3 while Run executes
	Run     func(ctx context.Context) error
}

type Outcome string

const (
	OutcomeOK      Outcome = "ok"
	OutcomeError   Outcome = "error"
	OutcomeSkipped Outcome = "skipped"
)

const releaseTimeout = 5 * time.Second

type Scheduler struct {
	cron   *cron.Cron
	locker lock.Locker
	prefix string
	log    *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

func New(locker lock.Locker, lockPrefix string, log *zap.Logger) *Scheduler {
	log = logger.Or(log).Named("scheduler")
	cl := cronLogger{l: log.Sugar()}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		locker: locker,
		prefix: lockPrefix,
		log:    log,
		ctx:    ctx,
		cancel: cancel,
	}
}

func (s *Scheduler) LockName(job string) string {
	if s.prefix == "" {
		return job
	}
	return s.prefix + ":" + job
}

// Add registers j. It fails on an invalid schedule.
func (s *Scheduler) Add(j Job) error {
	if j.Name == "" || j.Run == nil {
		return errors.New("scheduler: job needs a name and a run func")
	}
	if j.LockTTL <= 0 {
		j.LockTTL = time.Minute
	}
	_, err := s.cron.AddFunc(j.Spec, func() { s.RunOnce(s.ctx, j) })
	if err != nil {
		return fmt.Errorf("schedule %s (%q): %w", j.Name, j.Spec, err)
	}
	return nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info("scheduler started", zap.Int("jobs", len(s.cron.Entries())))
}

// Stop cancels running jobs and waits for them to return.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
	s.log.Info("scheduler stopped")
}

// RunOnce executes j if its lock is free. The lock is extended while the job
// runs and released on every exit path, including a panic in j.Run.
func (s *Scheduler) RunOnce(ctx context.Context, j Job) (outcome Outcome) {
	name := s.LockName(j.Name)
	log := s.log.With(zap.String("job", j.Name))
	defer func() { metrics.SchedulerRunsTotal.WithLabelValues(j.Name, string(outcome)).Inc() }()

	ttl := j.LockTTL
	if ttl <= 0 {
		ttl = time.Minute
	}

	lease, ok, err := s.locker.TryAcquire(ctx, name, ttl)
	if err != nil {
		log.Error("acquire job lock", zap.Error(err))
		return OutcomeError
	}
	if !ok {
		log.Debug("job lock held elsewhere, skipping")
		return OutcomeSkipped
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go s.keepAlive(runCtx, cancel, lease, ttl/3, done, log)

	defer func() {
		cancel()
		<-done
		rctx, rcancel := context.WithTimeout(context.Background(), releaseTimeout)
		defer rcancel()
		if err := s.locker.Release(rctx, lease); err != nil {
			log.Warn("release job lock", zap.Error(err))
		}
	}()

	started := time.Now()
	if err := safeRun(runCtx, j.Run); err != nil {
		log.Error("job failed", zap.Error(err), zap.Duration("took", time.Since(started)))
		return OutcomeError
	}
	log.Debug("job finished", zap.Duration("took", time.Since(started)))
	return OutcomeOK
}

// keepAlive extends the lease until ctx ends. Losing the lease cancels the job.
func (s *Scheduler) keepAlive(ctx context.Context, cancel context.CancelFunc, lease lock.Lease, every time.Duration, done chan<- struct{}, log *zap.Logger) {
	defer close(done)
	if every <= 0 {
		every = time.Second
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := lease.Extend(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Warn("lost job lock, cancelling run", zap.Error(err))
				cancel()
				return
			}
		}
	}
}

func safeRun(ctx context.Context, run func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return run(ctx)
}

// cronLogger routes robfig/cron logs to zap.
type cronLogger struct {
	l *zap.SugaredLogger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debugw(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Errorw(msg, append(keysAndValues, "error", err)...)
}
