package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/glebarez/go-sqlite" // Pure Go SQLite driver
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Entry is one row of the kv table
type Entry struct {
	Key       string    `gorm:"primaryKey;column:name"`
	Value     []byte    `gorm:"type:blob"`
	UpdatedAt time.Time
}

// TableName overrides the table name for Entry
func (Entry) TableName() string {
	return "kv"
}

// SQLStore keeps every key as a row in a SQLite kv table
type SQLStore struct {
	db  *gorm.DB
	sql *sql.DB
}

// NewSQLStore opens (or creates) a SQLite database at path. ":memory:"
// gives a private in-memory database.
func NewSQLStore(path string) (*SQLStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}

	dsn := path + "?_journal=WAL&_synchronous=NORMAL&_busy_timeout=5000&_cache_size=-64000"
	if path == ":memory:" {
		dsn = path
	}

	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	if path == ":memory:" {
		// every connection would otherwise see its own empty database
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(10)
		sqlDB.SetMaxIdleConns(5)
		sqlDB.SetConnMaxLifetime(time.Hour)
	}

	db, err := gorm.Open(sqlite.Dialector{Conn: sqlDB}, &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Silent),
		SkipDefaultTransaction: true,
		PrepareStmt:            true,
	})
	if err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	if err := db.AutoMigrate(&Entry{}); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}

	return &SQLStore{db: db, sql: sqlDB}, nil
}

func (s *SQLStore) Get(ctx context.Context, key string) ([]byte, error) {
	var e Entry
	err := s.db.WithContext(ctx).First(&e, "name = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return e.Value, nil
}

func (s *SQLStore) Set(ctx context.Context, key string, value []byte) error {
	e := Entry{Key: key, Value: value, UpdatedAt: time.Now()}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&e).Error
}

func (s *SQLStore) RemoveMany(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Where("name IN ?", keys).Delete(&Entry{}).Error
}

func (s *SQLStore) Close() error {
	return s.sql.Close()
}
