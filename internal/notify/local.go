package notify

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/gmsas95/medtrack/internal/clock"
	cronutil "github.com/gmsas95/medtrack/internal/cron"
	apperrors "github.com/gmsas95/medtrack/internal/errors"
	"github.com/gmsas95/medtrack/internal/metrics"
)

const deliveryTimeout = 30 * time.Second

type job struct {
	req   Request
	entry cron.EntryID
	timer *time.Timer
}

// LocalScheduler fires notifications in-process. Wall-clock triggers run on
// a robfig/cron schedule; date triggers use a one-shot timer.
type LocalScheduler struct {
	cron   *cron.Cron
	clock  clock.Clock
	loc    *time.Location
	out    Deliverer
	logger *zap.Logger

	mu         sync.Mutex
	permission bool
	started    bool
	stopped    bool
	jobs       map[string]*job
}

// NewLocalScheduler creates a scheduler delivering to out. Nothing fires
// until Start is called.
func NewLocalScheduler(out Deliverer, clk clock.Clock, loc *time.Location, permissionGranted bool, logger *zap.Logger) *LocalScheduler {
	if loc == nil {
		loc = time.Local
	}
	if clk == nil {
		clk = clock.System{}
	}
	l := cronutil.NewLogger(logger)

	return &LocalScheduler{
		cron:       cron.New(cron.WithLocation(loc), cron.WithLogger(l), cron.WithChain(cron.Recover(l))),
		clock:      clk,
		loc:        loc,
		out:        out,
		logger:     logger,
		permission: permissionGranted,
		jobs:       make(map[string]*job),
	}
}

// Start begins firing scheduled notifications
func (s *LocalScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started || s.stopped {
		return
	}
	s.started = true
	s.cron.Start()
}

// Stop halts the scheduler and waits for running deliveries or ctx
func (s *LocalScheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	for _, j := range s.jobs {
		if j.timer != nil {
			j.timer.Stop()
		}
	}
	s.mu.Unlock()

	select {
	case <-s.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SetPermission grants or revokes notification permission
func (s *LocalScheduler) SetPermission(granted bool) {
	s.mu.Lock()
	s.permission = granted
	s.mu.Unlock()
}

// PermissionGranted reports the current permission state
func (s *LocalScheduler) PermissionGranted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.permission
}

func (s *LocalScheduler) Schedule(ctx context.Context, content Content, trigger Trigger) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return "", apperrors.ErrSchedulerStopped
	}
	if !s.permission {
		metrics.RecordNotification(metrics.NotifyDenied)
		return "", apperrors.ErrPermissionDenied
	}

	now := s.clock.Now().In(s.loc)
	if err := trigger.validate(now); err != nil {
		return "", err
	}

	handle := "ntf_" + uuid.NewString()
	j := &job{req: Request{
		Handle:    handle,
		Content:   content,
		Trigger:   trigger,
		CreatedAt: now,
	}}

	if trigger.IsDate() {
		j.req.NextFire = trigger.Date
		j.timer = time.AfterFunc(trigger.Date.Sub(now), func() { s.fire(handle) })
	} else {
		sched, err := cron.ParseStandard(trigger.cronSpec())
		if err != nil {
			return "", apperrors.WrapWith(apperrors.ErrInvalidTrigger, err)
		}
		j.entry = s.cron.Schedule(sched, cron.FuncJob(func() { s.fire(handle) }))
		j.req.NextFire = sched.Next(now)
	}

	s.jobs[handle] = j
	metrics.RecordNotification(metrics.NotifyScheduled)

	s.logger.Debug("Notification scheduled",
		zap.String("handle", handle),
		zap.String("title", content.Title),
		zap.Time("next_fire", j.req.NextFire),
		zap.Bool("repeats", trigger.Repeats),
	)
	return handle, nil
}

// Cancel removes a scheduled notification. Unknown handles are ignored.
func (s *LocalScheduler) Cancel(ctx context.Context, handle string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[handle]; !ok {
		return nil
	}
	s.removeLocked(handle)
	metrics.RecordNotification(metrics.NotifyCancelled)
	return nil
}

func (s *LocalScheduler) CancelAll(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for handle := range s.jobs {
		s.removeLocked(handle)
		metrics.RecordNotification(metrics.NotifyCancelled)
	}
	return nil
}

// Pending lists scheduled notifications ordered by next fire time
func (s *LocalScheduler) Pending(ctx context.Context) ([]Request, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	out := make([]Request, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j.req)
	}
	s.mu.Unlock()

	sort.Slice(out, func(a, b int) bool {
		if out[a].NextFire.Equal(out[b].NextFire) {
			return out[a].Handle < out[b].Handle
		}
		return out[a].NextFire.Before(out[b].NextFire)
	})
	return out, nil
}

func (s *LocalScheduler) removeLocked(handle string) {
	j := s.jobs[handle]
	if j.timer != nil {
		j.timer.Stop()
	} else {
		s.cron.Remove(j.entry)
	}
	delete(s.jobs, handle)
}

// fire delivers a notification. Non-repeating requests are removed first so
// they never fire twice.
func (s *LocalScheduler) fire(handle string) {
	s.mu.Lock()
	j, ok := s.jobs[handle]
	if !ok || s.stopped {
		s.mu.Unlock()
		return
	}
	content := j.req.Content
	if j.req.Trigger.Repeats {
		if sched, err := cron.ParseStandard(j.req.Trigger.cronSpec()); err == nil {
			j.req.NextFire = sched.Next(s.clock.Now().In(s.loc))
		}
	} else {
		s.removeLocked(handle)
	}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
	defer cancel()

	if err := s.out.Deliver(ctx, content); err != nil {
		metrics.RecordNotification(metrics.NotifyFailed)
		s.logger.Warn("Notification delivery failed",
			zap.String("handle", handle),
			zap.Error(err),
		)
		return
	}
	metrics.RecordNotification(metrics.NotifyDelivered)
}

