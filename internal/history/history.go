// Package history keeps the bounded, newest-first medicine action log
package history

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gmsas95/medtrack/internal/clock"
	"github.com/gmsas95/medtrack/internal/ids"
	"github.com/gmsas95/medtrack/internal/metrics"
	"github.com/gmsas95/medtrack/internal/store"
)

// DefaultLimit is the number of entries kept
const DefaultLimit = 1000

// Action is what happened to a medicine
type Action string

const (
	ActionTaken   Action = "taken"
	ActionMissed  Action = "missed"
	ActionSkipped Action = "skipped"
	ActionAdded   Action = "added"
	ActionUpdated Action = "updated"
	ActionDeleted Action = "deleted"
)

// Entry is one ledger line
type Entry struct {
	ID         string    `json:"id" yaml:"id"`
	MedicineID string    `json:"medicineId" yaml:"medicine_id"`
	Action     Action    `json:"action" yaml:"action"`
	Timestamp  time.Time `json:"timestamp" yaml:"timestamp"`
	Notes      string    `json:"notes,omitempty" yaml:"notes,omitempty"`
}

// Ledger persists entries under store.KeyHistory
type Ledger struct {
	kv     store.KV
	clock  clock.Clock
	logger *zap.Logger

	mu    sync.Mutex
	limit int
}

// NewLedger returns a Ledger that keeps at most limit entries, newest
// first. A non-positive limit means DefaultLimit.
func NewLedger(kv store.KV, clk clock.Clock, limit int, logger *zap.Logger) *Ledger {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Ledger{kv: kv, clock: clk, logger: logger, limit: limit}
}

// SetLimit changes the bound applied on the next Add
func (l *Ledger) SetLimit(limit int) {
	if limit <= 0 {
		return
	}
	l.mu.Lock()
	l.limit = limit
	l.mu.Unlock()
}

// Add prepends e and truncates to the limit. Missing ID and timestamp are
// filled in. The ledger is left untouched when it cannot be read.
func (l *Ledger) Add(ctx context.Context, e Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries, err := store.LoadJSON[[]Entry](ctx, l.kv, store.KeyHistory)
	if err != nil {
		l.logger.Error("Failed to read history", zap.Error(err))
		return err
	}

	now := l.clock.Now()
	if e.ID == "" {
		e.ID = ids.New(now)
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = now
	}

	entries = append([]Entry{e}, entries...)
	if len(entries) > l.limit {
		entries = entries[:l.limit]
	}

	if err := store.SaveJSON(ctx, l.kv, store.KeyHistory, entries); err != nil {
		l.logger.Error("Failed to save history", zap.Error(err))
		return err
	}
	metrics.RecordHistoryAppend()
	return nil
}

// Record is shorthand for Add with a fresh entry
func (l *Ledger) Record(ctx context.Context, medicineID string, action Action, notes string) error {
	return l.Add(ctx, Entry{MedicineID: medicineID, Action: action, Notes: notes})
}

// Get returns entries newest first. A failed read is logged and treated as
// an empty ledger.
func (l *Ledger) Get(ctx context.Context) ([]Entry, error) {
	entries, err := store.LoadJSON[[]Entry](ctx, l.kv, store.KeyHistory)
	if err != nil {
		l.logger.Error("Failed to read history", zap.Error(err))
		return []Entry{}, nil
	}
	if entries == nil {
		entries = []Entry{}
	}
	return entries, nil
}
