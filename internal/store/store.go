package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gmsas95/medtrack/internal/config"
	apperrors "github.com/gmsas95/medtrack/internal/errors"
)

// Persisted keys. Each holds a JSON array.
const (
	KeyMedicines = "medicines"
	KeySchedules = "medicine_schedules"
	KeyHistory   = "medicine_history"
	KeyScans     = "scan_results"
)

// AllKeys lists every key the application writes
var AllKeys = []string{KeyMedicines, KeySchedules, KeyHistory, KeyScans}

// ErrNotFound is returned by Get when a key holds no value
var ErrNotFound = errors.New("store: key not found")

// KV is a string-keyed blob store
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	RemoveMany(ctx context.Context, keys ...string) error
	Close() error
}

// Open returns the backend selected by cfg.Backend. SQLite is the default
// and the only file backend the CLI and daemon can hold open together.
func Open(cfg config.StorageConfig) (KV, error) {
	switch cfg.Backend {
	case "sqlite", "":
		return NewSQLStore(cfg.SQLitePath)
	case "badger":
		return NewBadgerStore(cfg.BadgerPath)
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// LoadJSON decodes the value at key into T. A missing key yields the zero
// value and no error.
func LoadJSON[T any](ctx context.Context, kv KV, key string) (T, error) {
	var out T
	raw, err := kv.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return out, nil
	}
	if err != nil {
		return out, apperrors.WrapWith(apperrors.ErrStoreUnavailable, fmt.Errorf("get %s: %w", key, err))
	}
	if len(raw) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, apperrors.WrapWith(apperrors.ErrStoreCorrupted, fmt.Errorf("decode %s: %w", key, err))
	}
	return out, nil
}

// SaveJSON encodes v and writes it under key
func SaveJSON(ctx context.Context, kv KV, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := kv.Set(ctx, key, raw); err != nil {
		return apperrors.WrapWith(apperrors.ErrStoreUnavailable, fmt.Errorf("set %s: %w", key, err))
	}
	return nil
}
