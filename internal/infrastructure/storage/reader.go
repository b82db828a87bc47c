package storage

import (
	"context"
	"database/sql"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"SleeperScout/internal/domain"
	"SleeperScout/internal/ports"
)

var (
	novelColumns = []string{
		"novel_id", "title", "author",
		"favorite_count", "episode_count", "alarm_count", "view_count", "recommendation_count",
		"sleeper_ratio", "is_mature", "is_premium", "is_completed",
		"source_url", "first_seen_at", "last_updated",
	}
	rejectedColumns = []string{"novel_id", "reason", "recorded_at", "attempts", "retry_after"}
)

type scanner interface {
	Scan(dest ...interface{}) error
}

// ListNovels returns admitted novels ordered by sleeper ratio, best first.
// Novels and their tags are read inside one snapshot.
func (s *Store) ListNovels(ctx context.Context, filter ports.NovelFilter) ([]domain.NovelRecord, error) {
	query := s.sb.Select(novelColumns...).From("novels").OrderBy("sleeper_ratio DESC", "novel_id ASC")
	if filter.MatureOnly {
		query = query.Where(sq.Eq{"is_mature": true})
	}
	if filter.PremiumOnly {
		query = query.Where(sq.Eq{"is_premium": true})
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var novels []domain.NovelRecord
	err := s.readTx(ctx, func(tx *sql.Tx) error {
		var err error
		novels, err = s.queryNovels(ctx, tx, query)
		if err != nil {
			return err
		}
		return s.attachTags(ctx, tx, novels)
	})
	if err != nil {
		return nil, fmt.Errorf("list novels: %w", err)
	}
	return novels, nil
}

// GetNovel loads one admitted novel.
func (s *Store) GetNovel(ctx context.Context, id int64) (domain.NovelRecord, bool, error) {
	var novels []domain.NovelRecord
	err := s.readTx(ctx, func(tx *sql.Tx) error {
		var err error
		novels, err = s.queryNovels(ctx, tx, s.sb.Select(novelColumns...).From("novels").Where(sq.Eq{"novel_id": id}))
		if err != nil {
			return err
		}
		return s.attachTags(ctx, tx, novels)
	})
	if err != nil {
		return domain.NovelRecord{}, false, fmt.Errorf("get novel %d: %w", id, err)
	}
	if len(novels) == 0 {
		return domain.NovelRecord{}, false, nil
	}
	return novels[0], true, nil
}

// TagFrequencies counts admitted novels per tag, most frequent first.
func (s *Store) TagFrequencies(ctx context.Context, limit uint64) ([]ports.TagCount, error) {
	query := s.sb.Select("tag", "COUNT(*) AS n").
		From("novel_tags").
		GroupBy("tag").
		OrderBy("n DESC", "tag ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	rows, err := s.queryRows(ctx, s.db, query)
	if err != nil {
		return nil, fmt.Errorf("tag frequencies: %w", err)
	}
	defer rows.Close()

	var counts []ports.TagCount
	for rows.Next() {
		var tc ports.TagCount
		if err := rows.Scan(&tc.Tag, &tc.Count); err != nil {
			return nil, fmt.Errorf("scan tag count: %w", err)
		}
		counts = append(counts, tc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return counts, nil
}

// Counts summarizes both record classes from one snapshot.
func (s *Store) Counts(ctx context.Context) (ports.StoreCounts, error) {
	counts := ports.StoreCounts{Rejected: map[domain.RejectReason]int64{}}

	err := s.readTx(ctx, func(tx *sql.Tx) error {
		sqlText, args, err := s.sb.Select("COUNT(*)").From("novels").ToSql()
		if err != nil {
			return err
		}
		if err := tx.QueryRowContext(ctx, sqlText, args...).Scan(&counts.Admitted); err != nil {
			return fmt.Errorf("count novels: %w", err)
		}

		rows, err := s.queryRows(ctx, tx, s.sb.Select("reason", "COUNT(*)").From("rejected_ids").GroupBy("reason"))
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var (
				reason string
				n      int64
			)
			if err := rows.Scan(&reason, &n); err != nil {
				return fmt.Errorf("scan reason count: %w", err)
			}
			counts.Rejected[domain.RejectReason(reason)] = n
		}
		return rows.Err()
	})
	if err != nil {
		return ports.StoreCounts{}, fmt.Errorf("counts: %w", err)
	}
	return counts, nil
}

// ListRejected returns rejection entries in ID order, optionally for a single
// reason.
func (s *Store) ListRejected(ctx context.Context, reason domain.RejectReason, limit uint64) ([]domain.RejectedID, error) {
	query := s.sb.Select(rejectedColumns...).From("rejected_ids").OrderBy("novel_id ASC")
	if reason != "" {
		query = query.Where(sq.Eq{"reason": string(reason)})
	}
	if limit > 0 {
		query = query.Limit(limit)
	}

	rows, err := s.queryRows(ctx, s.db, query)
	if err != nil {
		return nil, fmt.Errorf("list rejected: %w", err)
	}
	defer rows.Close()

	var out []domain.RejectedID
	for rows.Next() {
		rec, err := scanRejected(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return out, nil
}

func (s *Store) queryNovels(ctx context.Context, q queryer, query sq.SelectBuilder) ([]domain.NovelRecord, error) {
	rows, err := s.queryRows(ctx, q, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var novels []domain.NovelRecord
	for rows.Next() {
		rec, err := scanNovel(rows)
		if err != nil {
			return nil, err
		}
		novels = append(novels, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return novels, nil
}

func (s *Store) attachTags(ctx context.Context, q queryer, novels []domain.NovelRecord) error {
	if len(novels) == 0 {
		return nil
	}

	ids := make([]int64, len(novels))
	index := make(map[int64]int, len(novels))
	for i := range novels {
		ids[i] = novels[i].ID
		index[novels[i].ID] = i
		novels[i].Tags = []string{}
	}

	rows, err := s.queryRows(ctx, q, s.sb.Select("novel_id", "tag").
		From("novel_tags").
		Where(sq.Eq{"novel_id": ids}).
		OrderBy("novel_id", "position"))
	if err != nil {
		return fmt.Errorf("load tags: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id  int64
			tag string
		)
		if err := rows.Scan(&id, &tag); err != nil {
			return fmt.Errorf("scan tag: %w", err)
		}
		if i, ok := index[id]; ok {
			novels[i].Tags = append(novels[i].Tags, tag)
		}
	}
	return rows.Err()
}

func scanNovel(row scanner) (domain.NovelRecord, error) {
	var rec domain.NovelRecord
	err := row.Scan(
		&rec.ID, &rec.Title, &rec.Author,
		&rec.FavoriteCount, &rec.EpisodeCount, &rec.AlarmCount, &rec.ViewCount, &rec.RecommendationCount,
		&rec.SleeperRatio, &rec.IsMature, &rec.IsPremium, &rec.IsCompleted,
		&rec.SourceURL, &rec.FirstSeenAt, &rec.LastUpdated,
	)
	if err != nil {
		return domain.NovelRecord{}, fmt.Errorf("scan novel: %w", err)
	}
	rec.FirstSeenAt = rec.FirstSeenAt.UTC()
	rec.LastUpdated = rec.LastUpdated.UTC()
	return rec, nil
}

func scanRejected(row scanner) (domain.RejectedID, error) {
	var (
		rec        domain.RejectedID
		reason     string
		retryAfter sql.NullTime
	)
	if err := row.Scan(&rec.ID, &reason, &rec.RecordedAt, &rec.Attempts, &retryAfter); err != nil {
		return domain.RejectedID{}, fmt.Errorf("scan rejected: %w", err)
	}
	rec.Reason = domain.RejectReason(reason)
	rec.RecordedAt = rec.RecordedAt.UTC()
	if retryAfter.Valid {
		at := retryAfter.Time.UTC()
		rec.RetryAfter = &at
	}
	return rec, nil
}
