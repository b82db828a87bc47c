package storage

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"
)

// Migration is one forward step of the schema.
type Migration struct {
	Version int
	Name    string
	Up      string
}

// The DDL sticks to types both SQLite and Postgres accept. Timestamps are
// TIMESTAMP so the sqlite3 driver hands them back as time.Time.
var migrations = []Migration{
	{
		Version: 1,
		Name:    "create_novels_and_rejections",
		Up: `
		CREATE TABLE IF NOT EXISTS novels (
			novel_id BIGINT PRIMARY KEY,
			title TEXT NOT NULL,
			author TEXT NOT NULL,
			favorite_count BIGINT NOT NULL DEFAULT 0,
			episode_count BIGINT NOT NULL DEFAULT 0,
			alarm_count BIGINT NOT NULL DEFAULT 0,
			view_count BIGINT NOT NULL DEFAULT 0,
			recommendation_count BIGINT NOT NULL DEFAULT 0,
			sleeper_ratio DOUBLE PRECISION NOT NULL DEFAULT 0,
			is_mature BOOLEAN NOT NULL DEFAULT FALSE,
			is_premium BOOLEAN NOT NULL DEFAULT FALSE,
			is_completed BOOLEAN NOT NULL DEFAULT FALSE,
			source_url TEXT NOT NULL,
			first_seen_at TIMESTAMP NOT NULL,
			last_updated TIMESTAMP NOT NULL
		);
		CREATE TABLE IF NOT EXISTS novel_tags (
			novel_id BIGINT NOT NULL REFERENCES novels (novel_id) ON DELETE CASCADE,
			position INTEGER NOT NULL,
			tag TEXT NOT NULL,
			PRIMARY KEY (novel_id, position)
		);
		CREATE TABLE IF NOT EXISTS rejected_ids (
			novel_id BIGINT PRIMARY KEY,
			reason TEXT NOT NULL,
			recorded_at TIMESTAMP NOT NULL,
			attempts INTEGER NOT NULL DEFAULT 1,
			retry_after TIMESTAMP NULL
		);`,
	},
	{
		Version: 2,
		Name:    "reporting_indexes",
		Up: `
		CREATE INDEX IF NOT EXISTS idx_novels_ratio ON novels (sleeper_ratio DESC);
		CREATE INDEX IF NOT EXISTS idx_novel_tags_tag ON novel_tags (tag);
		CREATE INDEX IF NOT EXISTS idx_rejected_reason ON rejected_ids (reason);`,
	},
}

// MigrationStatus reports whether a migration has been applied.
type MigrationStatus struct {
	Version   int
	Name      string
	Applied   bool
	AppliedAt time.Time
}

// Migrate applies every pending migration. It is a no-op on a current schema.
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.ensureMigrationsTable(ctx); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	current, err := s.currentVersion(ctx)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for _, m := range sortedMigrations() {
		if m.Version <= current {
			continue
		}
		if err := s.runMigration(ctx, m); err != nil {
			return fmt.Errorf("run migration %d (%s): %w", m.Version, m.Name, err)
		}
		s.debug("applied migration", "version", m.Version, "name", m.Name)
	}

	return nil
}

// MigrationStatus lists every known migration and whether it is applied.
func (s *Store) MigrationStatus(ctx context.Context) ([]MigrationStatus, error) {
	if err := s.ensureMigrationsTable(ctx); err != nil {
		return nil, fmt.Errorf("create migrations table: %w", err)
	}

	query, args, err := s.sb.Select("version", "applied_at").From("schema_migrations").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build status query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query migrations: %w", err)
	}
	defer rows.Close()

	applied := map[int]time.Time{}
	for rows.Next() {
		var (
			version int
			at      time.Time
		)
		if err := rows.Scan(&version, &at); err != nil {
			return nil, fmt.Errorf("scan migration: %w", err)
		}
		applied[version] = at
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}

	var status []MigrationStatus
	for _, m := range sortedMigrations() {
		at, ok := applied[m.Version]
		status = append(status, MigrationStatus{Version: m.Version, Name: m.Name, Applied: ok, AppliedAt: at})
	}
	return status, nil
}

func (s *Store) ensureMigrationsTable(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL
		)`)
	return err
}

func (s *Store) currentVersion(ctx context.Context) (int, error) {
	var version int
	err := s.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	if err != nil {
		return 0, err
	}
	return version, nil
}

func (s *Store) runMigration(ctx context.Context, m Migration) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, m.Up); err != nil {
			return fmt.Errorf("execute migration sql: %w", err)
		}

		query, args, err := s.sb.Insert("schema_migrations").
			Columns("version", "name", "applied_at").
			Values(m.Version, m.Name, s.timestamp()).
			ToSql()
		if err != nil {
			return fmt.Errorf("build migration record: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("record migration: %w", err)
		}
		return nil
	})
}

func sortedMigrations() []Migration {
	sorted := make([]Migration, len(migrations))
	copy(sorted, migrations)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Version < sorted[j].Version
	})
	return sorted
}
