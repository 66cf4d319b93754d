// Package cron runs recurring background jobs on a robfig/cron schedule
package cron

import (
	"context"
	"fmt"
	"sync"
	"time"

	robfig "github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Job is a unit of recurring work. Errors are logged per tick.
type Job func(ctx context.Context) error

// Config holds cron runner configuration
type Config struct {
	Name       string        // Used in log fields
	Interval   time.Duration // Time between runs
	RunAtStart bool          // Run once immediately on Start
	Timeout    time.Duration // Per-run deadline, 0 disables
	Location   *time.Location
}

// Runner executes one job on a fixed interval
type Runner struct {
	config  Config
	job     Job
	logger  *zap.Logger
	cron    *robfig.Cron
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	mu      sync.RWMutex
	entry   robfig.EntryID
}

// NewRunner creates a new cron runner
func NewRunner(config Config, job Job, logger *zap.Logger) *Runner {
	if config.Interval <= 0 {
		config.Interval = 5 * time.Minute
	}
	if config.Name == "" {
		config.Name = "job"
	}
	if config.Location == nil {
		config.Location = time.Local
	}

	ctx, cancel := context.WithCancel(context.Background())
	l := NewLogger(logger)

	return &Runner{
		config: config,
		job:    job,
		logger: logger,
		cron: robfig.New(
			robfig.WithLocation(config.Location),
			robfig.WithLogger(l),
			robfig.WithChain(robfig.Recover(l), robfig.SkipIfStillRunning(l)),
		),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start starts the cron runner
func (r *Runner) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return fmt.Errorf("cron runner already running")
	}

	id, err := r.cron.AddJob(spec(r.config.Interval), robfig.FuncJob(r.tick))
	if err != nil {
		return fmt.Errorf("failed to schedule %s: %w", r.config.Name, err)
	}
	r.entry = id
	r.running = true
	r.cron.Start()

	if r.config.RunAtStart {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			r.tick()
		}()
	}

	r.logger.Info("Cron runner started",
		zap.String("job", r.config.Name),
		zap.Duration("interval", r.config.Interval),
	)
	return nil
}

// SetInterval reschedules the job. It is applied immediately if running.
func (r *Runner) SetInterval(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("interval must be positive")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if d == r.config.Interval {
		return nil
	}
	r.config.Interval = d
	if !r.running {
		return nil
	}

	r.cron.Remove(r.entry)
	id, err := r.cron.AddJob(spec(d), robfig.FuncJob(r.tick))
	if err != nil {
		return fmt.Errorf("failed to reschedule %s: %w", r.config.Name, err)
	}
	r.entry = id
	r.logger.Info("Cron interval changed", zap.String("job", r.config.Name), zap.Duration("interval", d))
	return nil
}

// Stop stops the cron runner and waits for an in-flight run to finish
func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.mu.Unlock()

	r.cancel()
	<-r.cron.Stop().Done()
	r.wg.Wait()
	r.logger.Info("Cron runner stopped", zap.String("job", r.config.Name))
}

// IsRunning returns whether the runner is active
func (r *Runner) IsRunning() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.running
}

// RunOnce executes the job synchronously, outside the schedule
func (r *Runner) RunOnce(ctx context.Context) error {
	if r.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.config.Timeout)
		defer cancel()
	}
	return r.job(ctx)
}

func (r *Runner) tick() {
	start := time.Now()
	err := r.RunOnce(r.ctx)
	if err != nil {
		r.logger.Error("Cron job failed",
			zap.String("job", r.config.Name),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err),
		)
		return
	}
	r.logger.Debug("Cron job completed",
		zap.String("job", r.config.Name),
		zap.Duration("elapsed", time.Since(start)),
	)
}

func spec(d time.Duration) string {
	return "@every " + d.String()
}
