package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gmsas95/medtrack/internal/clock"
	apperrors "github.com/gmsas95/medtrack/internal/errors"
	"github.com/gmsas95/medtrack/internal/history"
	"github.com/gmsas95/medtrack/internal/notify"
	"github.com/gmsas95/medtrack/internal/store"
)

// fakeScheduler records requests and can deny specific times of day
type fakeScheduler struct {
	mu        sync.Mutex
	next      int
	scheduled map[string]notify.Trigger
	contents  map[string]notify.Content
	cancelled []string
	deny      map[string]bool // "HH:MM"
	cancelErr error
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{
		scheduled: map[string]notify.Trigger{},
		contents:  map[string]notify.Content{},
		deny:      map[string]bool{},
	}
}

func (f *fakeScheduler) Schedule(_ context.Context, c notify.Content, tr notify.Trigger) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deny[fmt.Sprintf("%02d:%02d", tr.Hour, tr.Minute)] {
		return "", apperrors.ErrPermissionDenied
	}
	f.next++
	h := fmt.Sprintf("ntf_%d", f.next)
	f.scheduled[h] = tr
	f.contents[h] = c
	return h, nil
}

func (f *fakeScheduler) Cancel(_ context.Context, handle string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, handle)
	delete(f.scheduled, handle)
	return f.cancelErr
}

func (f *fakeScheduler) CancelAll(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scheduled = map[string]notify.Trigger{}
	return nil
}

func (f *fakeScheduler) Pending(context.Context) ([]notify.Request, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []notify.Request{}
	for h, tr := range f.scheduled {
		out = append(out, notify.Request{Handle: h, Trigger: tr, Content: f.contents[h]})
	}
	return out, nil
}

// failingKV fails every write after it is armed
type failingKV struct {
	*store.MemoryStore
	failSet bool
	failGet bool
}

func (f *failingKV) Get(ctx context.Context, key string) ([]byte, error) {
	if f.failGet {
		return nil, errors.New("disk unavailable")
	}
	return f.MemoryStore.Get(ctx, key)
}

func (f *failingKV) Set(ctx context.Context, key string, value []byte) error {
	if f.failSet {
		return errors.New("disk full")
	}
	return f.MemoryStore.Set(ctx, key, value)
}

type fixture struct {
	tracker *Tracker
	sched   *fakeScheduler
	kv      *failingKV
	clock   *clock.Manual
	ledger  *history.Ledger
}

func setup(t *testing.T, now time.Time) *fixture {
	t.Helper()
	kv := &failingKV{MemoryStore: store.NewMemoryStore()}
	clk := clock.NewManual(now)
	logger := zap.NewNop()
	ledger := history.NewLedger(kv, clk, 0, logger)
	sched := newFakeScheduler()
	tr := New(kv, sched, ledger, clk, time.UTC, DefaultConfig(), logger)
	return &fixture{tracker: tr, sched: sched, kv: kv, clock: clk, ledger: ledger}
}

func jan15(hour, minute, sec int) time.Time {
	return time.Date(2024, 1, 15, hour, minute, sec, 0, time.UTC)
}

func seed(t *testing.T, f *fixture, schedules []DoseSchedule) {
	t.Helper()
	require.NoError(t, store.SaveJSON(context.Background(), f.kv, store.KeySchedules, schedules))
}

func TestCreateSchedule(t *testing.T) {
	ctx := context.Background()
	f := setup(t, jan15(7, 0, 0))

	created, err := f.tracker.CreateSchedule(ctx, "med1", "Paracetamol", "500mg", []string{"08:00", "14:00", "20:00"})
	require.NoError(t, err)
	require.Len(t, created, 3)

	for i, tm := range []string{"08:00", "14:00", "20:00"} {
		s := created[i]
		assert.Equal(t, "med1_"+tm+"_2024-01-15", s.ID)
		assert.Equal(t, "2024-01-15", s.Date)
		assert.Equal(t, tm, s.ScheduledTime)
		assert.Equal(t, StatusPending, s.Status)
		assert.Equal(t, "Paracetamol", s.MedicineName)
		assert.Equal(t, "500mg", s.Dosage)
		assert.Nil(t, s.TakenAt)
		require.NotEmpty(t, s.NotificationID)
		assert.True(t, f.sched.scheduled[s.NotificationID].Repeats)
	}
	assert.Equal(t, notify.Daily(14, 0), f.sched.scheduled[created[1].NotificationID])

	all, _ := f.tracker.GetAllSchedules(ctx)
	assert.Len(t, all, 3)
}

func TestCreateSchedule_EmptyTimes(t *testing.T) {
	ctx := context.Background()
	f := setup(t, jan15(7, 0, 0))

	created, err := f.tracker.CreateSchedule(ctx, "med1", "Paracetamol", "500mg", nil)
	require.NoError(t, err)
	assert.Empty(t, created)
	assert.Empty(t, f.sched.scheduled)

	_, err = f.kv.Get(ctx, store.KeySchedules)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCreateSchedule_AppendsWithoutDedup(t *testing.T) {
	ctx := context.Background()
	f := setup(t, jan15(7, 0, 0))

	_, err := f.tracker.CreateSchedule(ctx, "med1", "Paracetamol", "500mg", []string{"08:00"})
	require.NoError(t, err)
	_, err = f.tracker.CreateSchedule(ctx, "med2", "Ibuprofen", "200mg", []string{"09:00"})
	require.NoError(t, err)
	_, err = f.tracker.CreateSchedule(ctx, "med1", "Paracetamol", "500mg", []string{"08:00"})
	require.NoError(t, err)

	all, _ := f.tracker.GetAllSchedules(ctx)
	require.Len(t, all, 3)
	assert.Equal(t, all[0].ID, all[2].ID)
	assert.Equal(t, "med2", all[1].MedicineID)
}

func TestCreateSchedule_PermissionDeniedSlotSkipped(t *testing.T) {
	ctx := context.Background()
	f := setup(t, jan15(7, 0, 0))
	f.sched.deny["14:00"] = true

	created, err := f.tracker.CreateSchedule(ctx, "med1", "Paracetamol", "500mg", []string{"08:00", "14:00", "20:00"})
	assert.ErrorIs(t, err, apperrors.ErrPermissionDenied)
	require.Len(t, created, 2)
	assert.Equal(t, "08:00", created[0].ScheduledTime)
	assert.Equal(t, "20:00", created[1].ScheduledTime)

	all, _ := f.tracker.GetAllSchedules(ctx)
	assert.Len(t, all, 2)
}

func TestCreateSchedule_InvalidTime(t *testing.T) {
	ctx := context.Background()
	f := setup(t, jan15(7, 0, 0))

	created, err := f.tracker.CreateSchedule(ctx, "med1", "Paracetamol", "500mg", []string{"noon", "12:00"})
	assert.ErrorIs(t, err, apperrors.ErrInvalidDoseTime)
	assert.Len(t, created, 1)
}

func TestCreateSchedule_SaveFailureReleasesReminders(t *testing.T) {
	ctx := context.Background()
	f := setup(t, jan15(7, 0, 0))
	f.kv.failSet = true

	created, err := f.tracker.CreateSchedule(ctx, "med1", "Paracetamol", "500mg", []string{"08:00", "20:00"})
	assert.ErrorIs(t, err, apperrors.ErrStoreUnavailable)
	assert.Nil(t, created)
	assert.Empty(t, f.sched.scheduled)
	assert.Len(t, f.sched.cancelled, 2)
}

func TestCreateSchedule_ReadFailureDoesNotOverwrite(t *testing.T) {
	ctx := context.Background()
	f := setup(t, jan15(7, 0, 0))
	seed(t, f, []DoseSchedule{{ID: "old", Status: StatusPending, Date: "2024-01-14", ScheduledTime: "08:00"}})
	f.kv.failGet = true

	_, err := f.tracker.CreateSchedule(ctx, "med1", "Paracetamol", "500mg", []string{"08:00"})
	assert.ErrorIs(t, err, apperrors.ErrStoreUnavailable)
	assert.Empty(t, f.sched.scheduled)

	f.kv.failGet = false
	all, _ := f.tracker.GetAllSchedules(ctx)
	require.Len(t, all, 1)
	assert.Equal(t, "old", all[0].ID)
}

func TestMarkAsTaken(t *testing.T) {
	ctx := context.Background()
	f := setup(t, jan15(7, 0, 0))
	created, err := f.tracker.CreateSchedule(ctx, "med1", "Paracetamol", "500mg", []string{"08:00"})
	require.NoError(t, err)

	f.clock.Set(jan15(8, 5, 0))
	require.NoError(t, f.tracker.MarkAsTaken(ctx, created[0].ID))

	all, _ := f.tracker.GetAllSchedules(ctx)
	require.Len(t, all, 1)
	assert.Equal(t, StatusTaken, all[0].Status)
	require.NotNil(t, all[0].TakenAt)
	assert.True(t, all[0].TakenAt.Equal(jan15(8, 5, 0)))
	assert.Contains(t, f.sched.cancelled, created[0].NotificationID)

	entries, _ := f.ledger.Get(ctx)
	require.Len(t, entries, 1)
	assert.Equal(t, history.ActionTaken, entries[0].Action)
	assert.Equal(t, "med1", entries[0].MedicineID)

	// repeat calls re-append history
	require.NoError(t, f.tracker.MarkAsTaken(ctx, created[0].ID))
	entries, _ = f.ledger.Get(ctx)
	assert.Len(t, entries, 2)
}

func TestMarkAsTaken_OverwritesMissed(t *testing.T) {
	ctx := context.Background()
	f := setup(t, jan15(12, 0, 0))
	seed(t, f, []DoseSchedule{{ID: "a", MedicineID: "med1", Date: "2024-01-15", ScheduledTime: "08:00", Status: StatusMissed}})

	require.NoError(t, f.tracker.MarkAsTaken(ctx, "a"))

	all, _ := f.tracker.GetAllSchedules(ctx)
	assert.Equal(t, StatusTaken, all[0].Status)
}

func TestMarkAsTaken_CancelFailureNotFatal(t *testing.T) {
	ctx := context.Background()
	f := setup(t, jan15(7, 0, 0))
	created, _ := f.tracker.CreateSchedule(ctx, "med1", "Paracetamol", "500mg", []string{"08:00"})
	f.sched.cancelErr = errors.New("scheduler gone")

	require.NoError(t, f.tracker.MarkAsTaken(ctx, created[0].ID))

	all, _ := f.tracker.GetAllSchedules(ctx)
	assert.Equal(t, StatusTaken, all[0].Status)
}

// Scenario B
func TestMarkAsTaken_UnknownIDIsNoop(t *testing.T) {
	ctx := context.Background()
	f := setup(t, jan15(7, 0, 0))
	seed(t, f, []DoseSchedule{{ID: "a", MedicineID: "med1", Date: "2024-01-15", ScheduledTime: "08:00", Status: StatusPending}})
	before, _ := f.kv.Get(ctx, store.KeySchedules)

	require.NoError(t, f.tracker.MarkAsTaken(ctx, "does-not-exist"))
	require.NoError(t, f.tracker.MarkAsSkipped(ctx, "does-not-exist"))

	after, _ := f.kv.Get(ctx, store.KeySchedules)
	assert.Equal(t, before, after)
	entries, _ := f.ledger.Get(ctx)
	assert.Empty(t, entries)
}

func TestMarkAsSkipped_NoHistory(t *testing.T) {
	ctx := context.Background()
	f := setup(t, jan15(7, 0, 0))
	created, _ := f.tracker.CreateSchedule(ctx, "med1", "Paracetamol", "500mg", []string{"08:00"})

	require.NoError(t, f.tracker.MarkAsSkipped(ctx, created[0].ID))

	all, _ := f.tracker.GetAllSchedules(ctx)
	assert.Equal(t, StatusSkipped, all[0].Status)
	assert.Nil(t, all[0].TakenAt)
	assert.Contains(t, f.sched.cancelled, created[0].NotificationID)

	entries, _ := f.ledger.Get(ctx)
	assert.Empty(t, entries)
}

func TestMarkAsTaken_ReadFailure(t *testing.T) {
	ctx := context.Background()
	f := setup(t, jan15(7, 0, 0))
	f.kv.failGet = true

	err := f.tracker.MarkAsTaken(ctx, "a")
	assert.ErrorIs(t, err, apperrors.ErrStoreUnavailable)
}

// Scenario A
func TestCheckMissedDoses_Scenario(t *testing.T) {
	ctx := context.Background()
	f := setup(t, jan15(7, 0, 0))
	_, err := f.tracker.CreateSchedule(ctx, "med1", "Paracetamol", "500mg", []string{"08:00", "14:00", "20:00"})
	require.NoError(t, err)
	require.NoError(t, f.tracker.MarkAsTaken(ctx, "med1_08:00_2024-01-15"))

	f.clock.Set(jan15(14, 31, 0))
	missed, err := f.tracker.CheckMissedDoses(ctx)
	require.NoError(t, err)
	require.Len(t, missed, 1)
	assert.Equal(t, "med1_14:00_2024-01-15", missed[0].ID)
	assert.Equal(t, StatusMissed, missed[0].Status)

	all, _ := f.tracker.GetAllSchedules(ctx)
	statuses := map[string]Status{}
	for _, s := range all {
		statuses[s.ScheduledTime] = s.Status
	}
	assert.Equal(t, StatusTaken, statuses["08:00"])
	assert.Equal(t, StatusMissed, statuses["14:00"])
	assert.Equal(t, StatusPending, statuses["20:00"])

	entries, _ := f.ledger.Get(ctx)
	require.Len(t, entries, 2)
	assert.Equal(t, history.ActionMissed, entries[0].Action)

	// already-missed records are not returned again
	missed, err = f.tracker.CheckMissedDoses(ctx)
	require.NoError(t, err)
	assert.Empty(t, missed)
}

func TestCheckMissedDoses_StrictThreshold(t *testing.T) {
	ctx := context.Background()
	f := setup(t, jan15(14, 30, 0))
	seed(t, f, []DoseSchedule{{ID: "a", MedicineID: "med1", Date: "2024-01-15", ScheduledTime: "14:00", Status: StatusPending}})

	missed, err := f.tracker.CheckMissedDoses(ctx)
	require.NoError(t, err)
	assert.Empty(t, missed, "exactly 30 minutes stays pending")

	f.clock.Set(jan15(14, 30, 1))
	missed, err = f.tracker.CheckMissedDoses(ctx)
	require.NoError(t, err)
	assert.Len(t, missed, 1)
}

func TestCheckMissedDoses_OnlyPending(t *testing.T) {
	ctx := context.Background()
	f := setup(t, jan15(23, 0, 0))
	seed(t, f, []DoseSchedule{
		{ID: "t", MedicineID: "m", Date: "2024-01-15", ScheduledTime: "08:00", Status: StatusTaken},
		{ID: "s", MedicineID: "m", Date: "2024-01-15", ScheduledTime: "09:00", Status: StatusSkipped},
		{ID: "x", MedicineID: "m", Date: "2024-01-15", ScheduledTime: "10:00", Status: StatusMissed},
		{ID: "p", MedicineID: "m", Date: "2024-01-14", ScheduledTime: "22:00", Status: StatusPending},
	})

	missed, err := f.tracker.CheckMissedDoses(ctx)
	require.NoError(t, err)
	require.Len(t, missed, 1)
	assert.Equal(t, "p", missed[0].ID)

	all, _ := f.tracker.GetAllSchedules(ctx)
	assert.Equal(t, StatusTaken, all[0].Status)
	assert.Equal(t, StatusSkipped, all[1].Status)
	assert.Equal(t, StatusMissed, all[2].Status)
}

func TestCheckMissedDoses_ConfigurableThreshold(t *testing.T) {
	ctx := context.Background()
	f := setup(t, jan15(14, 20, 0))
	seed(t, f, []DoseSchedule{{ID: "a", MedicineID: "med1", Date: "2024-01-15", ScheduledTime: "14:00", Status: StatusPending}})

	f.tracker.SetConfig(Config{MissedThreshold: 15 * time.Minute})
	missed, err := f.tracker.CheckMissedDoses(ctx)
	require.NoError(t, err)
	assert.Len(t, missed, 1)
}

func TestCheckMissedDoses_BadRecordDoesNotStopSweep(t *testing.T) {
	ctx := context.Background()
	f := setup(t, jan15(12, 0, 0))
	seed(t, f, []DoseSchedule{
		{ID: "bad", MedicineID: "m", Date: "15/01/2024", ScheduledTime: "08:00", Status: StatusPending},
		{ID: "good", MedicineID: "m", Date: "2024-01-15", ScheduledTime: "08:00", Status: StatusPending},
	})

	missed, err := f.tracker.CheckMissedDoses(ctx)
	assert.Error(t, err)
	require.Len(t, missed, 1)
	assert.Equal(t, "good", missed[0].ID)
}

func TestCheckMissedDoses_HistoryFailureCollected(t *testing.T) {
	ctx := context.Background()
	f := setup(t, jan15(12, 0, 0))
	seed(t, f, []DoseSchedule{
		{ID: "a", MedicineID: "m", Date: "2024-01-15", ScheduledTime: "08:00", Status: StatusPending},
		{ID: "b", MedicineID: "m", Date: "2024-01-15", ScheduledTime: "09:00", Status: StatusPending},
	})
	require.NoError(t, f.kv.Set(ctx, store.KeyHistory, []byte("corrupt")))

	missed, err := f.tracker.CheckMissedDoses(ctx)
	assert.ErrorIs(t, err, apperrors.ErrStoreCorrupted)
	assert.Len(t, missed, 2)

	all, _ := f.tracker.GetAllSchedules(ctx)
	assert.Equal(t, StatusMissed, all[0].Status)
	assert.Equal(t, StatusMissed, all[1].Status)
}

func TestGetTodaysSchedules_LedgerOrder(t *testing.T) {
	ctx := context.Background()
	f := setup(t, jan15(7, 0, 0))
	seed(t, f, []DoseSchedule{
		{ID: "c", Date: "2024-01-15", ScheduledTime: "20:00", Status: StatusPending},
		{ID: "old", Date: "2024-01-14", ScheduledTime: "08:00", Status: StatusPending},
		{ID: "a", Date: "2024-01-15", ScheduledTime: "08:00", Status: StatusPending},
	})

	todays, err := f.tracker.GetTodaysSchedules(ctx)
	require.NoError(t, err)
	require.Len(t, todays, 2)
	assert.Equal(t, "c", todays[0].ID)
	assert.Equal(t, "a", todays[1].ID)
}

func TestGetTodaysSchedules_ReadFailureIsEmpty(t *testing.T) {
	f := setup(t, jan15(7, 0, 0))
	f.kv.failGet = true

	todays, err := f.tracker.GetTodaysSchedules(context.Background())
	require.NoError(t, err)
	assert.Empty(t, todays)
}

func TestGetUpcomingDoses_InclusiveWindow(t *testing.T) {
	ctx := context.Background()
	f := setup(t, jan15(10, 0, 0))
	seed(t, f, []DoseSchedule{
		{ID: "past", Date: "2024-01-15", ScheduledTime: "09:59", Status: StatusPending},
		{ID: "now", Date: "2024-01-15", ScheduledTime: "10:00", Status: StatusPending},
		{ID: "mid", Date: "2024-01-15", ScheduledTime: "11:00", Status: StatusPending},
		{ID: "taken", Date: "2024-01-15", ScheduledTime: "11:30", Status: StatusTaken},
		{ID: "edge", Date: "2024-01-15", ScheduledTime: "12:00", Status: StatusPending},
		{ID: "late", Date: "2024-01-15", ScheduledTime: "12:01", Status: StatusPending},
		{ID: "tomorrow", Date: "2024-01-16", ScheduledTime: "10:30", Status: StatusPending},
	})

	upcoming, err := f.tracker.GetUpcomingDoses(ctx, 0)
	require.NoError(t, err)

	var got []string
	for _, s := range upcoming {
		got = append(got, s.ID)
	}
	assert.Equal(t, []string{"now", "mid", "edge"}, got)

	upcoming, _ = f.tracker.GetUpcomingDoses(ctx, 30*time.Minute)
	assert.Len(t, upcoming, 1)
}

func seedDays(t *testing.T, f *fixture, today time.Time, statuses []Status) {
	t.Helper()
	var schedules []DoseSchedule
	for i, st := range statuses {
		day := today.AddDate(0, 0, -(len(statuses) - 1 - i))
		schedules = append(schedules, DoseSchedule{
			ID:            fmt.Sprintf("d%d", i),
			MedicineID:    "med1",
			Date:          clock.Today(day),
			ScheduledTime: "08:00",
			Status:        st,
		})
	}
	seed(t, f, schedules)
}

// Scenario C
func TestGetAdherenceStats_Scenario(t *testing.T) {
	ctx := context.Background()
	now := jan15(12, 0, 0)
	f := setup(t, now)
	seedDays(t, f, now, []Status{
		StatusTaken, StatusTaken, StatusMissed, StatusTaken,
		StatusSkipped, StatusTaken, StatusTaken,
	})

	stats, err := f.tracker.GetAdherenceStats(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, AdherenceStats{
		TotalDoses:    7,
		TakenDoses:    5,
		MissedDoses:   1,
		SkippedDoses:  1,
		AdherenceRate: 71,
	}, stats)
}

func TestGetAdherenceStats_EmptyAndAllTaken(t *testing.T) {
	ctx := context.Background()
	now := jan15(12, 0, 0)
	f := setup(t, now)

	stats, err := f.tracker.GetAdherenceStats(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.AdherenceRate)
	assert.Equal(t, 0, stats.TotalDoses)

	seedDays(t, f, now, []Status{StatusTaken, StatusTaken, StatusTaken})
	stats, _ = f.tracker.GetAdherenceStats(ctx, 0)
	assert.Equal(t, 100, stats.AdherenceRate)
}

func TestGetAdherenceStats_WindowBounds(t *testing.T) {
	ctx := context.Background()
	now := jan15(12, 0, 0)
	f := setup(t, now)
	seed(t, f, []DoseSchedule{
		{ID: "too-old", Date: "2024-01-07", ScheduledTime: "08:00", Status: StatusTaken},
		{ID: "edge", Date: "2024-01-08", ScheduledTime: "23:00", Status: StatusTaken},
		{ID: "today", Date: "2024-01-15", ScheduledTime: "20:00", Status: StatusPending},
		{ID: "future", Date: "2024-01-16", ScheduledTime: "08:00", Status: StatusPending},
	})

	stats, err := f.tracker.GetAdherenceStats(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalDoses)
	assert.Equal(t, 1, stats.TakenDoses)
	assert.Equal(t, 50, stats.AdherenceRate)
}

func TestStatusMonotonic(t *testing.T) {
	ctx := context.Background()
	f := setup(t, jan15(7, 0, 0))
	created, _ := f.tracker.CreateSchedule(ctx, "med1", "Paracetamol", "500mg", []string{"08:00", "09:00"})

	require.NoError(t, f.tracker.MarkAsSkipped(ctx, created[0].ID))
	require.NoError(t, f.tracker.MarkAsTaken(ctx, created[1].ID))

	f.clock.Set(jan15(23, 0, 0))
	missed, err := f.tracker.CheckMissedDoses(ctx)
	require.NoError(t, err)
	assert.Empty(t, missed)

	all, _ := f.tracker.GetAllSchedules(ctx)
	for _, s := range all {
		assert.NotEqual(t, StatusPending, s.Status)
	}
}

func TestClearAll(t *testing.T) {
	ctx := context.Background()
	f := setup(t, jan15(7, 0, 0))
	created, _ := f.tracker.CreateSchedule(ctx, "med1", "Paracetamol", "500mg", []string{"08:00", "09:00"})
	require.NoError(t, f.tracker.MarkAsTaken(ctx, created[0].ID))

	require.NoError(t, f.tracker.ClearAll(ctx))

	all, _ := f.tracker.GetAllSchedules(ctx)
	assert.Empty(t, all)
	assert.Contains(t, f.sched.cancelled, created[1].NotificationID)
	assert.Empty(t, f.sched.scheduled)
}

func TestConcurrentMarks(t *testing.T) {
	ctx := context.Background()
	f := setup(t, jan15(7, 0, 0))
	times := []string{"08:00", "09:00", "10:00", "11:00", "12:00", "13:00"}
	created, err := f.tracker.CreateSchedule(ctx, "med1", "Paracetamol", "500mg", times)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for _, s := range created {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			assert.NoError(t, f.tracker.MarkAsTaken(ctx, id))
		}(s.ID)
	}
	wg.Wait()

	all, _ := f.tracker.GetAllSchedules(ctx)
	for _, s := range all {
		assert.Equal(t, StatusTaken, s.Status, s.ID)
	}
	entries, _ := f.ledger.Get(ctx)
	assert.Len(t, entries, len(times))
}

func TestReconcileReminders_ArmsTodaysPending(t *testing.T) {
	ctx := context.Background()
	f := setup(t, jan15(7, 0, 0))
	seed(t, f, []DoseSchedule{
		{ID: "gone", MedicineID: "m", MedicineName: "Aspirin", Date: "2024-01-15", ScheduledTime: "09:00", Status: StatusPending, NotificationID: "ntf_old"},
		{ID: "taken", MedicineID: "m", Date: "2024-01-15", ScheduledTime: "08:00", Status: StatusTaken, NotificationID: "ntf_x"},
		{ID: "yesterday", MedicineID: "m", Date: "2024-01-14", ScheduledTime: "09:00", Status: StatusPending, NotificationID: "ntf_y"},
	})

	res, err := f.tracker.ReconcileReminders(ctx)
	require.NoError(t, err)
	assert.Equal(t, ReconcileResult{Armed: 1}, res)

	all, _ := f.tracker.GetAllSchedules(ctx)
	assert.NotEqual(t, "ntf_old", all[0].NotificationID)
	assert.Equal(t, notify.Daily(9, 0), f.sched.scheduled[all[0].NotificationID])
	assert.Equal(t, "gone", f.sched.contents[all[0].NotificationID].Data["scheduleId"])
	assert.Equal(t, "ntf_x", all[1].NotificationID)

	// already live handles are left alone
	res, err = f.tracker.ReconcileReminders(ctx)
	require.NoError(t, err)
	assert.Equal(t, ReconcileResult{}, res)
}

func TestReconcileReminders_ReleasesSettledDoses(t *testing.T) {
	ctx := context.Background()
	f := setup(t, jan15(7, 0, 0))
	created, err := f.tracker.CreateSchedule(ctx, "med1", "Paracetamol", "500mg", []string{"08:00", "12:00", "20:00"})
	require.NoError(t, err)

	// another process settles two doses; its own scheduler never held the handles
	other := New(f.kv, newFakeScheduler(), f.ledger, f.clock, time.UTC, DefaultConfig(), zap.NewNop())
	require.NoError(t, other.MarkAsTaken(ctx, created[0].ID))
	require.NoError(t, other.MarkAsSkipped(ctx, created[1].ID))
	assert.Len(t, f.sched.scheduled, 3)

	res, err := f.tracker.ReconcileReminders(ctx)
	require.NoError(t, err)
	assert.Equal(t, ReconcileResult{Released: 2}, res)
	assert.ElementsMatch(t, []string{created[0].NotificationID, created[1].NotificationID}, f.sched.cancelled)
	assert.Contains(t, f.sched.scheduled, created[2].NotificationID)
}

func TestReconcileReminders_ReleasesRemovedDoses(t *testing.T) {
	ctx := context.Background()
	f := setup(t, jan15(7, 0, 0))
	created, err := f.tracker.CreateSchedule(ctx, "med1", "Paracetamol", "500mg", []string{"08:00"})
	require.NoError(t, err)
	_, err = f.sched.Schedule(ctx, notify.Content{Title: "Refill"}, notify.Daily(9, 0))
	require.NoError(t, err)

	require.NoError(t, f.kv.RemoveMany(ctx, store.KeySchedules))

	res, err := f.tracker.ReconcileReminders(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Released)
	assert.Equal(t, []string{created[0].NotificationID}, f.sched.cancelled)
	// reminders that are not tied to a dose stay
	assert.Len(t, f.sched.scheduled, 1)
}

func TestReconcileReminders_MissedKeepsReminder(t *testing.T) {
	ctx := context.Background()
	f := setup(t, jan15(7, 0, 0))
	created, err := f.tracker.CreateSchedule(ctx, "med1", "Paracetamol", "500mg", []string{"08:00"})
	require.NoError(t, err)

	f.clock.Set(jan15(9, 0, 0))
	missed, err := f.tracker.CheckMissedDoses(ctx)
	require.NoError(t, err)
	require.Len(t, missed, 1)

	res, err := f.tracker.ReconcileReminders(ctx)
	require.NoError(t, err)
	assert.Equal(t, ReconcileResult{}, res)
	assert.Contains(t, f.sched.scheduled, created[0].NotificationID)
}

func TestReconcileReminders_SaveFailureReleasesArmed(t *testing.T) {
	ctx := context.Background()
	f := setup(t, jan15(7, 0, 0))
	seed(t, f, []DoseSchedule{
		{ID: "a", MedicineID: "m", Date: "2024-01-15", ScheduledTime: "09:00", Status: StatusPending, NotificationID: "ntf_dead"},
	})
	f.kv.failSet = true

	res, err := f.tracker.ReconcileReminders(ctx)
	require.Error(t, err)
	assert.Equal(t, 0, res.Armed)
	assert.Empty(t, f.sched.scheduled)
}
