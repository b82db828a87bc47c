package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"SleeperScout/internal/domain"
)

// ErrAdmittedConflict is returned when a rejection targets an admitted ID.
var ErrAdmittedConflict = errors.New("id is already admitted")

const upsertNovelSuffix = `ON CONFLICT (novel_id) DO UPDATE SET
	title = EXCLUDED.title,
	author = EXCLUDED.author,
	favorite_count = EXCLUDED.favorite_count,
	episode_count = EXCLUDED.episode_count,
	alarm_count = EXCLUDED.alarm_count,
	view_count = EXCLUDED.view_count,
	recommendation_count = EXCLUDED.recommendation_count,
	sleeper_ratio = EXCLUDED.sleeper_ratio,
	is_mature = EXCLUDED.is_mature,
	is_premium = EXCLUDED.is_premium,
	is_completed = EXCLUDED.is_completed,
	last_updated = EXCLUDED.last_updated`

// Exists reports whether id is admitted or carries a rejection that is still
// in force. Both tables are read by one statement.
func (s *Store) Exists(ctx context.Context, id int64) (bool, error) {
	query, args, err := s.sb.Select("1").
		From("novels").
		Where(sq.Eq{"novel_id": id}).
		Suffix("UNION ALL SELECT 1 FROM rejected_ids WHERE novel_id = ? AND (retry_after IS NULL OR retry_after > ?)",
			id, s.timestamp()).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build exists query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("query exists: %w", err)
	}
	defer rows.Close()

	found := rows.Next()
	if err := rows.Err(); err != nil {
		return false, fmt.Errorf("rows iteration: %w", err)
	}
	return found, nil
}

// UpsertAdmitted inserts or refreshes an admitted novel. The ratio is always
// recomputed here; identity, source URL and first-seen time are kept on
// update. Any rejection left for the ID is dropped in the same transaction.
func (s *Store) UpsertAdmitted(ctx context.Context, record domain.NovelRecord) error {
	record.RecomputeRatio()
	now := s.timestamp()

	insert, insertArgs, err := s.sb.Insert("novels").
		Columns(
			"novel_id", "title", "author",
			"favorite_count", "episode_count", "alarm_count", "view_count", "recommendation_count",
			"sleeper_ratio", "is_mature", "is_premium", "is_completed",
			"source_url", "first_seen_at", "last_updated",
		).
		Values(
			record.ID, record.Title, record.Author,
			record.FavoriteCount, record.EpisodeCount, record.AlarmCount, record.ViewCount, record.RecommendationCount,
			record.SleeperRatio, record.IsMature, record.IsPremium, record.IsCompleted,
			record.SourceURL, now, now,
		).
		Suffix(upsertNovelSuffix).
		ToSql()
	if err != nil {
		return fmt.Errorf("build upsert: %w", err)
	}

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, insert, insertArgs...); err != nil {
			return fmt.Errorf("upsert novel: %w", err)
		}
		if err := s.replaceTags(ctx, tx, record.ID, record.Tags); err != nil {
			return err
		}
		return s.exec(ctx, tx, s.sb.Delete("rejected_ids").Where(sq.Eq{"novel_id": record.ID}))
	})
	if err != nil {
		return fmt.Errorf("upsert admitted %d: %w", record.ID, err)
	}
	return nil
}

func (s *Store) replaceTags(ctx context.Context, tx *sql.Tx, id int64, tags []string) error {
	if err := s.exec(ctx, tx, s.sb.Delete("novel_tags").Where(sq.Eq{"novel_id": id})); err != nil {
		return fmt.Errorf("clear tags: %w", err)
	}
	if len(tags) == 0 {
		return nil
	}

	insert := s.sb.Insert("novel_tags").Columns("novel_id", "position", "tag")
	for i, tag := range tags {
		insert = insert.Values(id, i, tag)
	}
	if err := s.exec(ctx, tx, insert); err != nil {
		return fmt.Errorf("insert tags: %w", err)
	}
	return nil
}

// InsertRejected records a rejection. Definitive reasons are insert-if-absent
// so the first reason wins. A structurally invalid ID is rescheduled with
// exponential backoff until the attempt budget is spent, and is replaced by
// a later definitive rejection.
func (s *Store) InsertRejected(ctx context.Context, id int64, reason domain.RejectReason) error {
	if !reason.Valid() {
		return fmt.Errorf("insert rejected %d: unknown reason %q", id, reason)
	}
	now := s.timestamp()

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		admitted, err := s.rowExists(ctx, tx, s.sb.Select("1").From("novels").Where(sq.Eq{"novel_id": id}))
		if err != nil {
			return err
		}
		if admitted {
			return ErrAdmittedConflict
		}

		prev, found, err := s.loadRejected(ctx, tx, id)
		if err != nil {
			return err
		}

		switch {
		case !found:
			return s.exec(ctx, tx, s.sb.Insert("rejected_ids").
				Columns("novel_id", "reason", "recorded_at", "attempts", "retry_after").
				Values(id, string(reason), now, 1, s.retryAfter(reason, 1, now)).
				Suffix("ON CONFLICT (novel_id) DO NOTHING"))
		case !prev.Reason.Retryable() || prev.RetryAfter == nil:
			// First definitive (or exhausted) reason stands.
			return nil
		default:
			attempts := prev.Attempts + 1
			return s.exec(ctx, tx, s.sb.Update("rejected_ids").
				Set("reason", string(reason)).
				Set("recorded_at", now).
				Set("attempts", attempts).
				Set("retry_after", s.retryAfter(reason, attempts, now)).
				Where(sq.Eq{"novel_id": id}))
		}
	})
	if err != nil {
		return fmt.Errorf("insert rejected %d: %w", id, err)
	}
	return nil
}

// retryAfter is nil for a permanent rejection.
func (s *Store) retryAfter(reason domain.RejectReason, attempts int, now time.Time) *time.Time {
	if !reason.Retryable() || attempts >= s.retry.MaxAttempts || s.retry.BaseBackoff <= 0 {
		return nil
	}
	at := now.Add(backoff(s.retry.BaseBackoff, attempts))
	return &at
}

// maxRetryDelay caps the doubling backoff.
const maxRetryDelay = 365 * 24 * time.Hour

func backoff(base time.Duration, attempts int) time.Duration {
	d := base
	for i := 1; i < attempts; i++ {
		if d >= maxRetryDelay/2 {
			return maxRetryDelay
		}
		d *= 2
	}
	return min(d, maxRetryDelay)
}

// ClearRejected bulk-deletes the rejection ledger.
func (s *Store) ClearRejected(ctx context.Context) (int64, error) {
	var n int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		n, err = s.execCount(ctx, tx, s.sb.Delete("rejected_ids"))
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("clear rejected: %w", err)
	}
	return n, nil
}

// ClearAdmitted bulk-deletes admitted novels and their tags.
func (s *Store) ClearAdmitted(ctx context.Context) (int64, error) {
	var n int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.exec(ctx, tx, s.sb.Delete("novel_tags")); err != nil {
			return err
		}
		var err error
		n, err = s.execCount(ctx, tx, s.sb.Delete("novels"))
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("clear admitted: %w", err)
	}
	return n, nil
}

func (s *Store) loadRejected(ctx context.Context, q queryer, id int64) (domain.RejectedID, bool, error) {
	rows, err := s.queryRows(ctx, q, s.sb.Select(rejectedColumns...).From("rejected_ids").Where(sq.Eq{"novel_id": id}))
	if err != nil {
		return domain.RejectedID{}, false, err
	}
	defer rows.Close()

	if !rows.Next() {
		return domain.RejectedID{}, false, rows.Err()
	}
	rec, err := scanRejected(rows)
	if err != nil {
		return domain.RejectedID{}, false, err
	}
	return rec, true, rows.Err()
}

func (s *Store) rowExists(ctx context.Context, q queryer, query sq.SelectBuilder) (bool, error) {
	rows, err := s.queryRows(ctx, q, query)
	if err != nil {
		return false, err
	}
	defer rows.Close()
	found := rows.Next()
	return found, rows.Err()
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

func (s *Store) queryRows(ctx context.Context, q queryer, query sq.SelectBuilder) (*sql.Rows, error) {
	sqlText, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	rows, err := q.QueryContext(ctx, sqlText, args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	return rows, nil
}

func (s *Store) exec(ctx context.Context, tx *sql.Tx, stmt sq.Sqlizer) error {
	_, err := s.execCount(ctx, tx, stmt)
	return err
}

func (s *Store) execCount(ctx context.Context, tx *sql.Tx, stmt sq.Sqlizer) (int64, error) {
	sqlText, args, err := stmt.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build statement: %w", err)
	}
	res, err := tx.ExecContext(ctx, sqlText, args...)
	if err != nil {
		return 0, fmt.Errorf("exec: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}
