package ports

import (
	"context"
	"time"

	"SleeperScout/internal/domain"
)

// PageFetcher retrieves a novel page from the upstream site. Non-2xx
// responses are returned as pages, not errors; err is reserved for
// transport failures (timeouts, resets, redirect loops).
type PageFetcher interface {
	Fetch(ctx context.Context, id int64) (domain.Page, error)
}

// Extractor classifies raw page content and turns it into a structurally
// complete extraction.
type Extractor interface {
	Classify(page domain.Page) domain.PageClass
	Extract(page domain.Page) domain.Extraction
}

// NovelStore is the write side of persistence used by the pipeline.
type NovelStore interface {
	Exists(ctx context.Context, id int64) (bool, error)
	UpsertAdmitted(ctx context.Context, record domain.NovelRecord) error
	InsertRejected(ctx context.Context, id int64, reason domain.RejectReason) error
	ClearRejected(ctx context.Context) (int64, error)
	ClearAdmitted(ctx context.Context) (int64, error)
}

// NovelFilter narrows the admitted table for reporting.
type NovelFilter struct {
	MatureOnly  bool
	PremiumOnly bool
	Limit       uint64
}

// TagCount is one row of the tag-frequency aggregate.
type TagCount struct {
	Tag   string
	Count int64
}

// StoreCounts summarizes both record classes.
type StoreCounts struct {
	Admitted int64
	Rejected map[domain.RejectReason]int64
}

// NovelReader is the read-only query surface consumed by reporting.
type NovelReader interface {
	Exists(ctx context.Context, id int64) (bool, error)
	ListNovels(ctx context.Context, filter NovelFilter) ([]domain.NovelRecord, error)
	GetNovel(ctx context.Context, id int64) (domain.NovelRecord, bool, error)
	TagFrequencies(ctx context.Context, limit uint64) ([]TagCount, error)
	Counts(ctx context.Context) (StoreCounts, error)
	ListRejected(ctx context.Context, reason domain.RejectReason, limit uint64) ([]domain.RejectedID, error)
}

// Dictionary translates scraped tag tokens for display.
type Dictionary interface {
	Translate(token string) string
}

// Pacer spaces out consecutive upstream requests.
type Pacer interface {
	Wait(ctx context.Context) error
}

// Notifier streams operator-facing sweep messages to Telegram or other channels.
type Notifier interface {
	PublishDigest(ctx context.Context, digest string) error
}

// OutcomeRecorder observes per-ID outcomes and fetch latency.
type OutcomeRecorder interface {
	RecordOutcome(outcome domain.Outcome)
	ObserveFetch(d time.Duration)
}

// SweepRecorder counts finished sweeps by result.
type SweepRecorder interface {
	RecordSweep(result string)
}

// TagTranslator proposes English names for untranslated tag tokens.
type TagTranslator interface {
	TranslateTags(ctx context.Context, tokens []string) (map[string]string, error)
}
