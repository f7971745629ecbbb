/*
Copyright The Ratify Authors.
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package postgres records replication outcomes in a PostgreSQL table, one
// row per image and tag.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/jackc/pgx/v5"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/ratify-project/imagesync-go"
)

// StoreType is the outcome store type of [Store].
const StoreType = "postgres"

// DefaultTable is the table outcomes are written to by default.
const DefaultTable = "image_sync_outcomes"

func init() {
	imagesync.RegisterOutcomeStore(StoreType, func(opts imagesync.CreateOutcomeStoreOptions) (imagesync.OutcomeStore, error) {
		cfg, err := ParseConfig(opts.Parameters)
		if err != nil {
			return nil, err
		}
		ctx := context.Background()
		db, err := Open(ctx, cfg)
		if err != nil {
			return nil, err
		}
		store, err := New(db, cfg.Table)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		if err := store.EnsureSchema(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
		return store, nil
	})
}

// Config configures the database connection.
type Config struct {
	URL             string        `mapstructure:"url"`
	Table           string        `mapstructure:"table"`
	PingTimeout     time.Duration `mapstructure:"pingTimeout"`
	MaxOpenConns    int           `mapstructure:"maxOpenConns"`
	MaxIdleConns    int           `mapstructure:"maxIdleConns"`
	ConnMaxLifetime time.Duration `mapstructure:"connMaxLifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"connMaxIdleTime"`
}

// DefaultConfig returns the connection defaults.
func DefaultConfig() Config {
	return Config{
		Table:           DefaultTable,
		PingTimeout:     2 * time.Second,
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
		ConnMaxIdleTime: 5 * time.Minute,
	}
}

// ParseConfig decodes the outcome store parameters on top of
// [DefaultConfig].
func ParseConfig(params any) (Config, error) {
	cfg := DefaultConfig()
	if params != nil {
		decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
			WeaklyTypedInput: true,
			Result:           &cfg,
		})
		if err != nil {
			return Config{}, err
		}
		if err := decoder.Decode(params); err != nil {
			return Config{}, fmt.Errorf("invalid postgres outcome store parameters: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.URL == "" {
		return errors.New("postgres url is required")
	}
	if c.PingTimeout <= 0 {
		return errors.New("postgres pingTimeout must be positive")
	}
	if c.MaxOpenConns < 1 {
		return errors.New("postgres maxOpenConns must be >= 1")
	}
	if c.MaxIdleConns < 0 || c.MaxIdleConns > c.MaxOpenConns {
		return errors.New("postgres maxIdleConns must be between 0 and maxOpenConns")
	}
	if c.ConnMaxLifetime < 0 || c.ConnMaxIdleTime < 0 {
		return errors.New("postgres connection lifetimes must be >= 0")
	}
	return nil
}

// Open opens the database and checks it is reachable.
func Open(ctx context.Context, cfg Config) (*sql.DB, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	db, err := sql.Open("pgx", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return db, nil
}

// DB is the subset of [sql.DB] used by [Store].
type DB interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Store is an outcome store writing to a PostgreSQL table.
type Store struct {
	db    DB
	table string

	// Now returns the time recorded for records without one.
	Now func() time.Time
}

// New returns a store writing to table, which may be schema qualified.
func New(db DB, table string) (*Store, error) {
	if db == nil {
		return nil, errors.New("postgres db is required")
	}
	if table == "" {
		table = DefaultTable
	}
	var ident pgx.Identifier
	for _, part := range strings.Split(table, ".") {
		if part == "" {
			return nil, fmt.Errorf("invalid table name %q", table)
		}
		ident = append(ident, part)
	}
	return &Store{
		db:    db,
		table: ident.Sanitize(),
		Now:   time.Now,
	}, nil
}

// EnsureSchema creates the outcome table if it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		image TEXT NOT NULL,
		tag TEXT NOT NULL,
		execution_id TEXT NOT NULL,
		status TEXT NOT NULL,
		error_message TEXT NOT NULL DEFAULT '',
		recorded_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (image, tag)
	)`, s.table))
	if err != nil {
		return fmt.Errorf("failed to create outcome table %s: %w", s.table, err)
	}
	return nil
}

// Put implements [imagesync.OutcomeStore]. The row of (image, tag) is
// replaced by the latest record.
func (s *Store) Put(ctx context.Context, record imagesync.OutcomeRecord) error {
	if record.Image == "" {
		return errors.New("outcome record image is required")
	}
	recordedAt := record.RecordedAt
	if recordedAt.IsZero() {
		recordedAt = s.Now()
	}
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`INSERT INTO %s (
			image,
			tag,
			execution_id,
			status,
			error_message,
			recorded_at
		) VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (image, tag) DO UPDATE SET
			execution_id = EXCLUDED.execution_id,
			status = EXCLUDED.status,
			error_message = EXCLUDED.error_message,
			recorded_at = EXCLUDED.recorded_at`, s.table),
		record.Image,
		record.Tag,
		record.ExecutionID,
		string(record.Status),
		record.ErrorMessage,
		recordedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to record outcome of %s:%s: %w", record.Image, record.Tag, err)
	}
	return nil
}
