package domain

import "fmt"

// OutcomeKind is the per-ID result vocabulary reported by a sweep.
type OutcomeKind string

const (
	OutcomeSkipped  OutcomeKind = "SKIPPED"
	OutcomeAdmitted OutcomeKind = "ADMITTED"
	OutcomeRejected OutcomeKind = "REJECTED"
	OutcomeError    OutcomeKind = "ERROR"
)

// Outcome is what processing a single ID produced.
type Outcome struct {
	ID     int64
	Kind   OutcomeKind
	Reason RejectReason // set for OutcomeRejected
	Detail string       // set for OutcomeError
	Ratio  float64      // set for OutcomeAdmitted
}

// Fetched reports whether producing the outcome touched the network.
func (o Outcome) Fetched() bool {
	return o.Kind != OutcomeSkipped
}

func (o Outcome) String() string {
	switch o.Kind {
	case OutcomeRejected:
		return fmt.Sprintf("%d %s(%s)", o.ID, o.Kind, o.Reason)
	case OutcomeError:
		return fmt.Sprintf("%d %s(%s)", o.ID, o.Kind, o.Detail)
	case OutcomeAdmitted:
		return fmt.Sprintf("%d %s ratio=%.2f", o.ID, o.Kind, o.Ratio)
	default:
		return fmt.Sprintf("%d %s", o.ID, o.Kind)
	}
}

// Page is the raw result of fetching a novel's canonical address.
type Page struct {
	ID         int64
	URL        string
	FinalURL   string
	StatusCode int
	Body       []byte
}

// Extraction is the best-effort structured view of a page. Every field is
// always populated; the Resolved flags tell a real zero from a missing value.
type Extraction struct {
	Title               string
	Author              string
	FavoriteCount       int64
	EpisodeCount        int64
	AlarmCount          int64
	ViewCount           int64
	RecommendationCount int64
	Tags                []string
	IsMature            bool
	IsPremium           bool
	IsCompleted         bool

	FavoritesResolved bool
	EpisodesResolved  bool
}

// Failed is the extraction-failure sentinel: neither primary counter resolved.
func (e Extraction) Failed() bool {
	return !e.FavoritesResolved && !e.EpisodesResolved
}

// ToRecord converts an admitted extraction into a NovelRecord.
func (e Extraction) ToRecord(id int64, sourceURL string) NovelRecord {
	tags := e.Tags
	if tags == nil {
		tags = []string{}
	}
	rec := NovelRecord{
		ID:                  id,
		Title:               e.Title,
		Author:              e.Author,
		FavoriteCount:       e.FavoriteCount,
		EpisodeCount:        e.EpisodeCount,
		AlarmCount:          e.AlarmCount,
		ViewCount:           e.ViewCount,
		RecommendationCount: e.RecommendationCount,
		Tags:                tags,
		IsMature:            e.IsMature,
		IsPremium:           e.IsPremium,
		IsCompleted:         e.IsCompleted,
		SourceURL:           sourceURL,
	}
	rec.RecomputeRatio()
	return rec
}

// PageClass is the coarse verdict on a fetched page, taken before extraction.
type PageClass int

const (
	PageOK PageClass = iota
	PageNotFound
	PageBlocked
	PageUnexpected
)

func (c PageClass) String() string {
	switch c {
	case PageOK:
		return "ok"
	case PageNotFound:
		return "not-found"
	case PageBlocked:
		return "blocked"
	default:
		return "unexpected"
	}
}

// StatusError reports an upstream status that is neither success, absence nor
// a block.
type StatusError struct {
	Code int
}

func (e StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.Code)
}

// Detail is the short form used in outcome lines.
func (e StatusError) Detail() string {
	return fmt.Sprintf("status %d", e.Code)
}
