// Package tracker turns a medicine's dose times into per-day dose records,
// moves them through pending → taken | missed | skipped, and reports
// adherence.
package tracker

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/samber/lo"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/gmsas95/medtrack/internal/clock"
	apperrors "github.com/gmsas95/medtrack/internal/errors"
	"github.com/gmsas95/medtrack/internal/history"
	"github.com/gmsas95/medtrack/internal/metrics"
	"github.com/gmsas95/medtrack/internal/notify"
	"github.com/gmsas95/medtrack/internal/store"
)

// Tracker owns the medicine_schedules key. Read-modify-write cycles are
// serialized within the process.
type Tracker struct {
	kv        store.KV
	reminders *notify.Reminders
	history   *history.Ledger
	clock     clock.Clock
	loc       *time.Location
	logger    *zap.Logger

	mu sync.Mutex

	cfgMu sync.RWMutex
	cfg   Config
}

// New returns a Tracker that keeps its ledger in kv and registers dose
// reminders with scheduler. A nil loc means time.Local.
func New(kv store.KV, scheduler notify.Scheduler, ledger *history.Ledger, clk clock.Clock, loc *time.Location, cfg Config, logger *zap.Logger) *Tracker {
	if loc == nil {
		loc = time.Local
	}
	t := &Tracker{
		kv:        kv,
		reminders: notify.NewReminders(scheduler, clk, loc, logger),
		history:   ledger,
		clock:     clk,
		loc:       loc,
		logger:    logger,
	}
	t.SetConfig(cfg)
	return t
}

// SetConfig replaces the thresholds; zero fields fall back to defaults
func (t *Tracker) SetConfig(cfg Config) {
	def := DefaultConfig()
	if cfg.MissedThreshold <= 0 {
		cfg.MissedThreshold = def.MissedThreshold
	}
	if cfg.UpcomingWindow <= 0 {
		cfg.UpcomingWindow = def.UpcomingWindow
	}
	if cfg.AdherenceDays <= 0 {
		cfg.AdherenceDays = def.AdherenceDays
	}

	t.cfgMu.Lock()
	t.cfg = cfg
	t.cfgMu.Unlock()
}

func (t *Tracker) config() Config {
	t.cfgMu.RLock()
	defer t.cfgMu.RUnlock()
	return t.cfg
}

func (t *Tracker) now() time.Time {
	return t.clock.Now().In(t.loc)
}

// CreateSchedule adds one pending dose per time for today and registers a
// daily reminder for each. A slot whose reminder cannot be scheduled is
// skipped; its error is combined into the returned error while the other
// slots proceed. Existing records are kept.
func (t *Tracker) CreateSchedule(ctx context.Context, medicineID, medicineName, dosage string, times []string) ([]DoseSchedule, error) {
	if len(times) == 0 {
		return []DoseSchedule{}, nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	existing, err := store.LoadJSON[[]DoseSchedule](ctx, t.kv, store.KeySchedules)
	if err != nil {
		t.logger.Error("Failed to read schedules", zap.Error(err))
		return nil, err
	}

	today := clock.Today(t.now())
	var errs error

	valid := make([]string, 0, len(times))
	for _, tm := range times {
		if _, _, err := clock.ParseTimeOfDay(tm); err != nil {
			errs = multierr.Append(errs, apperrors.WrapWith(apperrors.ErrInvalidDoseTime, err))
			continue
		}
		valid = append(valid, tm)
	}

	items := notify.DailyReminders(medicineID, medicineName, dosage, valid)
	for i := range items {
		items[i].ScheduleID = ScheduleID(medicineID, items[i].Time, today)
	}
	handles, serr := t.reminders.ScheduleMultipleReminders(ctx, items)
	errs = multierr.Append(errs, serr)

	created := make([]DoseSchedule, 0, len(items))
	for i, handle := range handles {
		if handle == "" {
			continue
		}
		created = append(created, DoseSchedule{
			ID:             items[i].ScheduleID,
			MedicineID:     medicineID,
			MedicineName:   medicineName,
			Dosage:         dosage,
			ScheduledTime:  items[i].Time,
			Date:           today,
			Status:         StatusPending,
			NotificationID: handle,
		})
	}

	if len(created) == 0 {
		return created, errs
	}

	if err := store.SaveJSON(ctx, t.kv, store.KeySchedules, append(existing, created...)); err != nil {
		// nothing was recorded, so release the reminders
		for _, s := range created {
			_ = t.reminders.CancelReminder(ctx, s.NotificationID)
		}
		return nil, multierr.Append(errs, err)
	}

	t.logger.Info("Dose schedule created",
		zap.String("medicine_id", medicineID),
		zap.Int("doses", len(created)),
		zap.String("date", today),
	)
	return created, errs
}

// MarkAsTaken sets a dose to taken and records a "taken" history entry on
// every call. Unknown ids are ignored.
func (t *Tracker) MarkAsTaken(ctx context.Context, scheduleID string) error {
	rec, found, err := t.transition(ctx, scheduleID, StatusTaken)
	if err != nil || !found {
		return err
	}
	return t.history.Record(ctx, rec.MedicineID, history.ActionTaken, "")
}

// MarkAsSkipped sets a dose to skipped. No history entry is written.
func (t *Tracker) MarkAsSkipped(ctx context.Context, scheduleID string) error {
	_, _, err := t.transition(ctx, scheduleID, StatusSkipped)
	return err
}

func (t *Tracker) transition(ctx context.Context, scheduleID string, status Status) (DoseSchedule, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	schedules, err := store.LoadJSON[[]DoseSchedule](ctx, t.kv, store.KeySchedules)
	if err != nil {
		t.logger.Error("Failed to read schedules", zap.Error(err))
		return DoseSchedule{}, false, err
	}

	idx := -1
	for i := range schedules {
		if schedules[i].ID == scheduleID {
			idx = i
			break
		}
	}
	if idx < 0 {
		t.logger.Debug("Schedule not found", zap.String("schedule_id", scheduleID))
		return DoseSchedule{}, false, nil
	}

	rec := &schedules[idx]
	rec.Status = status
	if status == StatusTaken {
		now := t.now()
		rec.TakenAt = &now
	}

	if rec.NotificationID != "" {
		if err := t.reminders.CancelReminder(ctx, rec.NotificationID); err != nil {
			t.logger.Warn("Failed to cancel dose reminder",
				zap.String("schedule_id", scheduleID),
				zap.Error(err),
			)
		}
	}

	if err := store.SaveJSON(ctx, t.kv, store.KeySchedules, schedules); err != nil {
		return DoseSchedule{}, false, err
	}

	metrics.RecordDose(string(status))
	t.logger.Info("Dose updated",
		zap.String("schedule_id", scheduleID),
		zap.String("medicine_id", rec.MedicineID),
		zap.String("status", string(status)),
	)
	return *rec, true, nil
}

// CheckMissedDoses marks every pending dose whose scheduled instant is more
// than the missed threshold in the past. It returns only the doses changed
// by this call. A failure on one record does not stop the sweep.
func (t *Tracker) CheckMissedDoses(ctx context.Context) (missed []DoseSchedule, err error) {
	start := time.Now()
	defer func() { metrics.RecordSweep(time.Since(start), err) }()

	threshold := t.config().MissedThreshold

	t.mu.Lock()
	schedules, err := store.LoadJSON[[]DoseSchedule](ctx, t.kv, store.KeySchedules)
	if err != nil {
		t.mu.Unlock()
		t.logger.Error("Failed to read schedules", zap.Error(err))
		return nil, err
	}

	now := t.now()
	missed = []DoseSchedule{}
	var errs error

	for i := range schedules {
		s := &schedules[i]
		if s.Status != StatusPending {
			continue
		}
		at, perr := clock.Combine(s.Date, s.ScheduledTime, t.loc)
		if perr != nil {
			errs = multierr.Append(errs, fmt.Errorf("schedule %s: %w", s.ID, perr))
			continue
		}
		if now.Sub(at) > threshold {
			s.Status = StatusMissed
			missed = append(missed, *s)
		}
	}

	if len(missed) > 0 {
		if serr := store.SaveJSON(ctx, t.kv, store.KeySchedules, schedules); serr != nil {
			t.mu.Unlock()
			return nil, multierr.Append(errs, serr)
		}
	}
	t.mu.Unlock()

	for _, s := range missed {
		metrics.RecordDose(string(StatusMissed))
		if herr := t.history.Record(ctx, s.MedicineID, history.ActionMissed, ""); herr != nil {
			errs = multierr.Append(errs, fmt.Errorf("history for %s: %w", s.ID, herr))
		}
	}

	if len(missed) > 0 {
		t.logger.Info("Missed doses detected", zap.Int("count", len(missed)))
	}
	return missed, errs
}

// ReconcileResult counts the reminder changes made by ReconcileReminders
type ReconcileResult struct {
	Armed    int `json:"armed"`
	Released int `json:"released"`
}

// ReconcileReminders lines the scheduler up with the persisted ledger, which
// another process may have changed. Dose reminders whose record was taken,
// skipped or removed are cancelled. Pending doses for today whose handle the
// scheduler does not hold get a fresh daily reminder.
func (t *Tracker) ReconcileReminders(ctx context.Context) (ReconcileResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var res ReconcileResult
	schedules, err := store.LoadJSON[[]DoseSchedule](ctx, t.kv, store.KeySchedules)
	if err != nil {
		return res, err
	}
	pending, err := t.reminders.GetAllScheduledReminders(ctx)
	if err != nil {
		return res, err
	}

	byID := make(map[string]*DoseSchedule, len(schedules))
	for i := range schedules {
		if _, dup := byID[schedules[i].ID]; !dup {
			byID[schedules[i].ID] = &schedules[i]
		}
	}

	var errs error
	live := make(map[string]bool, len(pending))
	for _, p := range pending {
		scheduleID := p.Content.Data["scheduleId"]
		if scheduleID == "" {
			live[p.Handle] = true
			continue
		}
		rec, ok := byID[scheduleID]
		if ok && rec.Status != StatusTaken && rec.Status != StatusSkipped {
			live[p.Handle] = true
			continue
		}
		if cerr := t.reminders.CancelReminder(ctx, p.Handle); cerr != nil {
			errs = multierr.Append(errs, fmt.Errorf("cancel %s: %w", p.Handle, cerr))
			live[p.Handle] = true
			continue
		}
		res.Released++
	}

	today := clock.Today(t.now())
	var armed []string
	for i := range schedules {
		s := &schedules[i]
		if s.Status != StatusPending || s.Date != today || live[s.NotificationID] {
			continue
		}
		handle, serr := t.reminders.ScheduleReminder(ctx, notify.MedicineReminder{
			MedicineID:   s.MedicineID,
			ScheduleID:   s.ID,
			MedicineName: s.MedicineName,
			Dosage:       s.Dosage,
			Time:         s.ScheduledTime,
			Frequency:    "daily",
		})
		if serr != nil {
			errs = multierr.Append(errs, fmt.Errorf("schedule %s: %w", s.ID, serr))
			continue
		}
		s.NotificationID = handle
		live[handle] = true
		armed = append(armed, handle)
	}

	if len(armed) > 0 {
		if err := store.SaveJSON(ctx, t.kv, store.KeySchedules, schedules); err != nil {
			for _, h := range armed {
				_ = t.reminders.CancelReminder(ctx, h)
			}
			return res, multierr.Append(errs, err)
		}
		res.Armed = len(armed)
	}
	if res.Armed > 0 || res.Released > 0 {
		t.logger.Info("Dose reminders reconciled",
			zap.Int("armed", res.Armed),
			zap.Int("released", res.Released),
		)
	}
	return res, errs
}

// GetTodaysSchedules returns today's doses in ledger order
func (t *Tracker) GetTodaysSchedules(ctx context.Context) ([]DoseSchedule, error) {
	today := clock.Today(t.now())

	return lo.Filter(t.load(ctx), func(s DoseSchedule, _ int) bool {
		return s.Date == today
	}), nil
}

// GetUpcomingDoses returns today's pending doses scheduled within
// [now, now+window]. A non-positive window uses the configured default.
func (t *Tracker) GetUpcomingDoses(ctx context.Context, window time.Duration) ([]DoseSchedule, error) {
	if window <= 0 {
		window = t.config().UpcomingWindow
	}

	todays, err := t.GetTodaysSchedules(ctx)
	if err != nil {
		return nil, err
	}

	now := t.now()
	end := now.Add(window)

	out := []DoseSchedule{}
	for _, s := range todays {
		if s.Status != StatusPending {
			continue
		}
		at, err := clock.Combine(s.Date, s.ScheduledTime, t.loc)
		if err != nil {
			continue
		}
		if !at.Before(now) && !at.After(end) {
			out = append(out, s)
		}
	}
	return out, nil
}

// GetAdherenceStats counts doses dated from local midnight `days` days ago
// through now. A non-positive days uses the configured default.
func (t *Tracker) GetAdherenceStats(ctx context.Context, days int) (AdherenceStats, error) {
	if days <= 0 {
		days = t.config().AdherenceDays
	}

	now := t.now()
	from := clock.StartOfDay(now).AddDate(0, 0, -days)

	var stats AdherenceStats
	for _, s := range t.load(ctx) {
		day, err := time.ParseInLocation(clock.DateLayout, s.Date, t.loc)
		if err != nil || day.Before(from) || day.After(now) {
			continue
		}
		stats.TotalDoses++
		switch s.Status {
		case StatusTaken:
			stats.TakenDoses++
		case StatusMissed:
			stats.MissedDoses++
		case StatusSkipped:
			stats.SkippedDoses++
		}
	}

	if stats.TotalDoses > 0 {
		stats.AdherenceRate = int(math.Round(100 * float64(stats.TakenDoses) / float64(stats.TotalDoses)))
	}
	metrics.SetAdherenceRate(stats.AdherenceRate)
	return stats, nil
}

// GetAllSchedules returns the whole ledger
func (t *Tracker) GetAllSchedules(ctx context.Context) ([]DoseSchedule, error) {
	return t.load(ctx), nil
}

// ClearAll cancels every pending reminder and removes the ledger
func (t *Tracker) ClearAll(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	var errs error
	for _, s := range t.load(ctx) {
		if s.Status == StatusPending && s.NotificationID != "" {
			errs = multierr.Append(errs, t.reminders.CancelReminder(ctx, s.NotificationID))
		}
	}
	if err := t.kv.RemoveMany(ctx, store.KeySchedules); err != nil {
		errs = multierr.Append(errs, apperrors.WrapWith(apperrors.ErrStoreUnavailable, err))
	}
	return errs
}

// load reads the ledger for views. A failed read is logged and treated as
// an empty ledger.
func (t *Tracker) load(ctx context.Context) []DoseSchedule {
	schedules, err := store.LoadJSON[[]DoseSchedule](ctx, t.kv, store.KeySchedules)
	if err != nil {
		t.logger.Error("Failed to read schedules", zap.Error(err))
		return []DoseSchedule{}
	}
	return schedules
}
