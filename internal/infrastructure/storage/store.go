package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"

	"SleeperScout/internal/ports"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"

	maxTxAttempts = 3
)

// sqlitePragmas are applied per connection through the DSN so every pooled
// connection gets them, not only the first.
var sqlitePragmas = []string{
	"_journal_mode=WAL",
	"_busy_timeout=5000",
	"_foreign_keys=on",
	"_synchronous=NORMAL",
}

// RetryPolicy controls how long a structurally invalid ID stays hidden from
// the existence check before a sweep may look at it again.
type RetryPolicy struct {
	BaseBackoff time.Duration
	MaxAttempts int
}

// Option customises a Store.
type Option func(*Store)

// WithRetryPolicy overrides the default structural retry policy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(s *Store) { s.retry = p }
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger attaches a logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Store) { s.logger = log }
}

// Store persists admitted novels and rejected IDs in one SQL database.
type Store struct {
	db     *sql.DB
	driver string
	sb     sq.StatementBuilderType
	retry  RetryPolicy
	now    func() time.Time
	logger *slog.Logger
}

var (
	_ ports.NovelStore  = (*Store)(nil)
	_ ports.NovelReader = (*Store)(nil)
)

// Open connects to driver/dsn, applies migrations and returns a ready store.
func Open(ctx context.Context, driver, dsn string, opts ...Option) (*Store, error) {
	switch driver {
	case DriverSQLite:
		dsn = sqliteDSN(dsn)
	case DriverPostgres:
	default:
		return nil, fmt.Errorf("unsupported driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if driver == DriverSQLite && strings.Contains(dsn, ":memory:") {
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := New(db, driver, opts...)
	if err := store.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// New wraps an already opened database. The schema is not touched.
func New(db *sql.DB, driver string, opts ...Option) *Store {
	var format sq.PlaceholderFormat = sq.Question
	if driver == DriverPostgres {
		format = sq.Dollar
	}

	s := &Store{
		db:     db,
		driver: driver,
		sb:     sq.StatementBuilder.PlaceholderFormat(format),
		retry:  RetryPolicy{BaseBackoff: 24 * time.Hour, MaxAttempts: 3},
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Second)
}

// withTx runs fn in a transaction, retrying the whole unit when the database
// reports a lock conflict.
func (s *Store) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	var err error
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		err = s.runTx(ctx, nil, fn)
		if err == nil || !isRetryable(err) || attempt == maxTxAttempts {
			return err
		}
		s.debug("retrying transaction", "attempt", attempt, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(100*attempt) * time.Millisecond):
		}
	}
	return err
}

// readTx gives readers a single snapshot across several statements.
func (s *Store) readTx(ctx context.Context, fn func(*sql.Tx) error) error {
	return s.runTx(ctx, &sql.TxOptions{ReadOnly: true}, fn)
}

func (s *Store) runTx(ctx context.Context, opts *sql.TxOptions, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func isRetryable(err error) bool {
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code == sqlite3.ErrBusy || liteErr.Code == sqlite3.ErrLocked
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		// serialization_failure, deadlock_detected
		return pqErr.Code == "40001" || pqErr.Code == "40P01"
	}
	return false
}

func sqliteDSN(dsn string) string {
	if dsn == "" {
		dsn = "sleeperscout.db"
	}
	var missing []string
	for _, p := range sqlitePragmas {
		key, _, _ := strings.Cut(p, "=")
		if !strings.Contains(dsn, key+"=") {
			missing = append(missing, p)
		}
	}
	if len(missing) == 0 {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + strings.Join(missing, "&")
}

func (s *Store) debug(msg string, args ...interface{}) {
	if s.logger != nil {
		s.logger.Debug(msg, args...)
	}
}
