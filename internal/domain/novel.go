package domain

import (
	"errors"
	"math"
	"time"
)

const (
	// UntitledPlaceholder replaces a title no strategy could recover.
	UntitledPlaceholder = "(untitled)"
	// UnknownAuthorPlaceholder replaces an author no strategy could recover.
	UnknownAuthorPlaceholder = "(unknown)"
)

// ErrHardBlock marks an upstream anti-automation response. It aborts a sweep.
var ErrHardBlock = errors.New("upstream hard block")

// NovelRecord is an admitted novel. ID is assigned by the source site.
type NovelRecord struct {
	ID                  int64
	Title               string
	Author              string
	FavoriteCount       int64
	EpisodeCount        int64
	AlarmCount          int64
	ViewCount           int64
	RecommendationCount int64
	SleeperRatio        float64
	Tags                []string
	IsMature            bool
	IsPremium           bool
	IsCompleted         bool
	SourceURL           string
	FirstSeenAt         time.Time
	LastUpdated         time.Time
}

// RecomputeRatio derives SleeperRatio from the counters. Stores call it on
// every write so the ratio never drifts from favorites/episodes.
func (n *NovelRecord) RecomputeRatio() {
	n.SleeperRatio = SleeperRatio(n.FavoriteCount, n.EpisodeCount)
}

// SleeperRatio returns favorites/episodes rounded to two decimals, or 0 when
// there are no episodes.
func SleeperRatio(favorites, episodes int64) float64 {
	if episodes <= 0 {
		return 0
	}
	return math.Round(float64(favorites)/float64(episodes)*100) / 100
}

// RejectReason enumerates why an ID sits in the rejection ledger.
type RejectReason string

const (
	ReasonNotFound            RejectReason = "not-found"
	ReasonLowSignal           RejectReason = "low-signal"
	ReasonStructurallyInvalid RejectReason = "structurally-invalid"
	ReasonOther               RejectReason = "other"
)

// Valid reports whether r is one of the known reasons.
func (r RejectReason) Valid() bool {
	switch r {
	case ReasonNotFound, ReasonLowSignal, ReasonStructurallyInvalid, ReasonOther:
		return true
	}
	return false
}

// Retryable reports whether a rejection for r may be revisited by a later
// sweep. Markup drift is not content absence.
func (r RejectReason) Retryable() bool {
	return r == ReasonStructurallyInvalid
}

// RejectedID is an entry in the rejection ledger.
type RejectedID struct {
	ID         int64
	Reason     RejectReason
	RecordedAt time.Time
	Attempts   int
	RetryAfter *time.Time
}
