// Package catalog manages medicines, prescription scans and the simple
// per-medicine taken flags.
package catalog

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/gmsas95/medtrack/internal/clock"
	apperrors "github.com/gmsas95/medtrack/internal/errors"
	"github.com/gmsas95/medtrack/internal/history"
	"github.com/gmsas95/medtrack/internal/ids"
	"github.com/gmsas95/medtrack/internal/store"
)

// DefaultScanLimit is the number of scan results kept
const DefaultScanLimit = 50

var palette = []string{
	"#4A90E2", "#27AE60", "#E74C3C", "#F39C12",
	"#9B59B6", "#1ABC9C", "#E67E22", "#34495E",
}

// Service owns the medicines and scan_results keys
type Service struct {
	kv      store.KV
	history *history.Ledger
	clock   clock.Clock
	logger  *zap.Logger

	mu        sync.Mutex
	scanLimit int
}

// NewService returns a catalog backed by kv that logs dose actions to
// ledger and keeps at most scanLimit scan results.
func NewService(kv store.KV, ledger *history.Ledger, clk clock.Clock, scanLimit int, logger *zap.Logger) *Service {
	if scanLimit <= 0 {
		scanLimit = DefaultScanLimit
	}
	return &Service{kv: kv, history: ledger, clock: clk, logger: logger, scanLimit: scanLimit}
}

// SetScanLimit changes the bound applied on the next SaveScanResult
func (s *Service) SetScanLimit(limit int) {
	if limit <= 0 {
		return
	}
	s.mu.Lock()
	s.scanLimit = limit
	s.mu.Unlock()
}

// GetAll returns every medicine. A failed read is logged and treated as empty.
func (s *Service) GetAll(ctx context.Context) ([]Medicine, error) {
	meds, err := store.LoadJSON[[]Medicine](ctx, s.kv, store.KeyMedicines)
	if err != nil {
		s.logger.Error("Failed to read medicines", zap.Error(err))
		return []Medicine{}, nil
	}
	if meds == nil {
		meds = []Medicine{}
	}
	return meds, nil
}

func (s *Service) GetByID(ctx context.Context, id string) (*Medicine, error) {
	meds, err := s.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	for i := range meds {
		if meds[i].ID == id {
			return &meds[i], nil
		}
	}
	return nil, apperrors.ErrMedicineNotFound
}

// Add assigns an id and timestamps, sizes Taken to Times, and records an
// "added" history entry.
func (s *Service) Add(ctx context.Context, m Medicine) (Medicine, error) {
	if err := validate(&m); err != nil {
		return Medicine{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	meds, err := store.LoadJSON[[]Medicine](ctx, s.kv, store.KeyMedicines)
	if err != nil {
		return Medicine{}, err
	}

	now := s.clock.Now()
	m.ID = ids.New(now)
	m.CreatedAt = now
	m.UpdatedAt = now
	m.Taken = resizeTaken(m.Taken, len(m.Times))
	if m.Color == "" {
		m.Color = palette[rand.IntN(len(palette))]
	}
	if m.SideEffects == nil {
		m.SideEffects = []string{}
	}

	meds = append(meds, m)
	if err := store.SaveJSON(ctx, s.kv, store.KeyMedicines, meds); err != nil {
		return Medicine{}, err
	}

	s.record(ctx, m.ID, history.ActionAdded)
	s.logger.Info("Medicine added", zap.String("medicine_id", m.ID), zap.String("name", m.Name))
	return m, nil
}

// Update merges u into the medicine. Changing Times resizes Taken, keeping
// the existing prefix.
func (s *Service) Update(ctx context.Context, id string, u Update) (Medicine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.updateLocked(ctx, id, u)
}

func (s *Service) updateLocked(ctx context.Context, id string, u Update) (Medicine, error) {
	meds, err := store.LoadJSON[[]Medicine](ctx, s.kv, store.KeyMedicines)
	if err != nil {
		return Medicine{}, err
	}

	idx := indexOf(meds, id)
	if idx < 0 {
		return Medicine{}, apperrors.ErrMedicineNotFound
	}

	m := meds[idx]
	apply(&m, u)
	if err := validate(&m); err != nil {
		return Medicine{}, err
	}
	m.Taken = resizeTaken(m.Taken, len(m.Times))
	m.UpdatedAt = s.clock.Now()
	meds[idx] = m

	if err := store.SaveJSON(ctx, s.kv, store.KeyMedicines, meds); err != nil {
		return Medicine{}, err
	}

	s.record(ctx, id, history.ActionUpdated)
	return m, nil
}

// Delete removes a medicine. It reports false when the id is unknown.
func (s *Service) Delete(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	meds, err := store.LoadJSON[[]Medicine](ctx, s.kv, store.KeyMedicines)
	if err != nil {
		return false, err
	}

	idx := indexOf(meds, id)
	if idx < 0 {
		return false, nil
	}
	meds = append(meds[:idx], meds[idx+1:]...)

	if err := store.SaveJSON(ctx, s.kv, store.KeyMedicines, meds); err != nil {
		return false, err
	}

	s.record(ctx, id, history.ActionDeleted)
	s.logger.Info("Medicine deleted", zap.String("medicine_id", id))
	return true, nil
}

// MarkMedicineAsTaken flips one taken flag and records "taken" or "missed".
// This is independent of the per-day dose schedules.
func (s *Service) MarkMedicineAsTaken(ctx context.Context, id string, timeIndex int, taken bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	meds, err := store.LoadJSON[[]Medicine](ctx, s.kv, store.KeyMedicines)
	if err != nil {
		return false, err
	}
	idx := indexOf(meds, id)
	if idx < 0 {
		return false, nil
	}
	if timeIndex < 0 || timeIndex >= len(meds[idx].Times) {
		return false, apperrors.WrapWith(apperrors.ErrTimeIndexRange,
			fmt.Errorf("index %d, medicine has %d times", timeIndex, len(meds[idx].Times)))
	}

	flags := resizeTaken(meds[idx].Taken, len(meds[idx].Times))
	flags[timeIndex] = taken
	if _, err := s.updateLocked(ctx, id, Update{Taken: flags}); err != nil {
		return false, err
	}

	action := history.ActionTaken
	if !taken {
		action = history.ActionMissed
	}
	s.record(ctx, id, action)
	return true, nil
}

func (s *Service) GetHistory(ctx context.Context) ([]history.Entry, error) {
	return s.history.Get(ctx)
}

// SaveScanResult prepends a scan and keeps the newest scanLimit
func (s *Service) SaveScanResult(ctx context.Context, scan ScanResult) (ScanResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	scans, err := store.LoadJSON[[]ScanResult](ctx, s.kv, store.KeyScans)
	if err != nil {
		return ScanResult{}, err
	}

	now := s.clock.Now()
	scan.ID = ids.New(now)
	scan.Timestamp = now
	if scan.Medicines == nil {
		scan.Medicines = []Medicine{}
	}

	scans = append([]ScanResult{scan}, scans...)
	if len(scans) > s.scanLimit {
		scans = scans[:s.scanLimit]
	}

	if err := store.SaveJSON(ctx, s.kv, store.KeyScans, scans); err != nil {
		return ScanResult{}, err
	}
	return scan, nil
}

// GetAllScanResults returns scans newest first. A failed read is logged and
// treated as empty.
func (s *Service) GetAllScanResults(ctx context.Context) ([]ScanResult, error) {
	scans, err := store.LoadJSON[[]ScanResult](ctx, s.kv, store.KeyScans)
	if err != nil {
		s.logger.Error("Failed to read scan results", zap.Error(err))
		return []ScanResult{}, nil
	}
	if scans == nil {
		scans = []ScanResult{}
	}
	return scans, nil
}

// GetStatistics counts today's taken and missed history entries against
// the total number of configured dose times.
func (s *Service) GetStatistics(ctx context.Context) (Statistics, error) {
	meds, _ := s.GetAll(ctx)
	entries, _ := s.history.Get(ctx)
	scans, _ := s.GetAllScanResults(ctx)

	now := s.clock.Now()
	today := clock.Today(now)

	var stats Statistics
	for _, e := range entries {
		if clock.Today(e.Timestamp.In(now.Location())) != today {
			continue
		}
		switch e.Action {
		case history.ActionTaken:
			stats.TakenToday++
		case history.ActionMissed:
			stats.MissedToday++
		}
	}

	totalDoses := lo.SumBy(meds, func(m Medicine) int { return len(m.Times) })

	stats.TotalMedicines = len(meds)
	stats.TotalScans = len(scans)
	if totalDoses > 0 {
		stats.AdherenceRate = int(math.Round(float64(stats.TakenToday) / float64(totalDoses) * 100))
	}
	return stats, nil
}

// Search matches query case-insensitively against name, instructions and
// category.
func (s *Service) Search(ctx context.Context, query string) ([]Medicine, error) {
	meds, err := s.GetAll(ctx)
	if err != nil {
		return nil, err
	}

	q := strings.ToLower(query)
	return lo.Filter(meds, func(m Medicine, _ int) bool {
		return strings.Contains(strings.ToLower(m.Name), q) ||
			strings.Contains(strings.ToLower(m.Instructions), q) ||
			strings.Contains(strings.ToLower(string(m.Category)), q)
	}), nil
}

func (s *Service) Export(ctx context.Context) (Export, error) {
	meds, _ := s.GetAll(ctx)
	entries, _ := s.history.Get(ctx)
	scans, _ := s.GetAllScanResults(ctx)

	return Export{
		Medicines:  meds,
		History:    entries,
		Scans:      scans,
		ExportDate: s.clock.Now(),
	}, nil
}

// ClearAll removes medicines, history and scans
func (s *Service) ClearAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.kv.RemoveMany(ctx, store.KeyMedicines, store.KeyHistory, store.KeyScans); err != nil {
		return apperrors.WrapWith(apperrors.ErrStoreUnavailable, err)
	}
	s.logger.Info("Catalog cleared")
	return nil
}

// record appends a history entry; failures are logged and do not undo the
// change that triggered them.
func (s *Service) record(ctx context.Context, id string, action history.Action) {
	if err := s.history.Record(ctx, id, action, ""); err != nil {
		s.logger.Warn("Failed to record history",
			zap.String("medicine_id", id),
			zap.String("action", string(action)),
			zap.Error(err),
		)
	}
}

func validate(m *Medicine) error {
	var errs error
	m.Name = strings.TrimSpace(m.Name)
	if m.Name == "" {
		errs = multierr.Append(errs, fmt.Errorf("name is required"))
	}
	if m.Category == "" {
		m.Category = CategoryPrescription
	}
	if !m.Category.Valid() {
		errs = multierr.Append(errs, fmt.Errorf("unknown category %q", m.Category))
	}
	for _, t := range m.Times {
		if _, _, err := clock.ParseTimeOfDay(t); err != nil {
			errs = multierr.Append(errs, apperrors.WrapWith(apperrors.ErrInvalidDoseTime, err))
		}
	}
	if m.Appointment != "" {
		if _, err := time.Parse(AppointmentLayout, m.Appointment); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("appointment must look like %q", AppointmentLayout))
		}
	}
	if errs != nil {
		return apperrors.WrapWith(apperrors.ErrInvalidMedicine, errs)
	}
	return nil
}

func apply(m *Medicine, u Update) {
	if u.Name != nil {
		m.Name = *u.Name
	}
	if u.Dosage != nil {
		m.Dosage = *u.Dosage
	}
	if u.Frequency != nil {
		m.Frequency = *u.Frequency
	}
	if u.Times != nil {
		m.Times = u.Times
	}
	if u.Duration != nil {
		m.Duration = *u.Duration
	}
	if u.Instructions != nil {
		m.Instructions = *u.Instructions
	}
	if u.SideEffects != nil {
		m.SideEffects = u.SideEffects
	}
	if u.ReminderEnabled != nil {
		m.ReminderEnabled = *u.ReminderEnabled
	}
	if u.Color != nil {
		m.Color = *u.Color
	}
	if u.Taken != nil {
		m.Taken = u.Taken
	}
	if u.Category != nil {
		m.Category = *u.Category
	}
	if u.Manufacturer != nil {
		m.Manufacturer = *u.Manufacturer
	}
	if u.ExpiryDate != nil {
		m.ExpiryDate = *u.ExpiryDate
	}
	if u.StockQuantity != nil {
		m.StockQuantity = u.StockQuantity
	}
	if u.RefillReminder != nil {
		m.RefillReminder = *u.RefillReminder
	}
	if u.DoctorName != nil {
		m.DoctorName = *u.DoctorName
	}
	if u.Appointment != nil {
		m.Appointment = *u.Appointment
	}
	if u.Notes != nil {
		m.Notes = *u.Notes
	}
}

// resizeTaken returns a copy of taken with length n, padding with false
func resizeTaken(taken []bool, n int) []bool {
	out := make([]bool, n)
	copy(out, taken)
	return out
}

func indexOf(meds []Medicine, id string) int {
	_, i, _ := lo.FindIndexOf(meds, func(m Medicine) bool { return m.ID == id })
	return i
}
