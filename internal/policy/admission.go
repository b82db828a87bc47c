// Package policy decides whether an extracted novel is kept.
package policy

import "SleeperScout/internal/domain"

// Thresholds are inclusive minimums for one stratum.
type Thresholds struct {
	MinFavorites int64
	MinEpisodes  int64
}

// Admission splits IDs at Pivot: IDs below it are older listings and use Old,
// the rest use New.
type Admission struct {
	Pivot int64
	Old   Thresholds
	New   Thresholds
}

// Verdict is the admission result.
type Verdict int

const (
	Admit Verdict = iota
	Reject
)

func (v Verdict) String() string {
	if v == Admit {
		return "admit"
	}
	return "reject"
}

// Decision carries the verdict, the rejection reason and the thresholds that
// were applied, so probes can explain themselves.
type Decision struct {
	Verdict    Verdict
	Reason     domain.RejectReason
	Thresholds Thresholds
}

// Admitted is shorthand for Verdict == Admit.
func (d Decision) Admitted() bool {
	return d.Verdict == Admit
}

// Default returns the stock strata.
func Default() Admission {
	return Admission{
		Pivot: 300000,
		Old:   Thresholds{MinFavorites: 100, MinEpisodes: 20},
		New:   Thresholds{MinFavorites: 30, MinEpisodes: 5},
	}
}

// ThresholdsFor returns the stratum minimums for id.
func (a Admission) ThresholdsFor(id int64) Thresholds {
	if id < a.Pivot {
		return a.Old
	}
	return a.New
}

// Decide classifies an extraction for id.
func (a Admission) Decide(ext domain.Extraction, id int64) Decision {
	th := a.ThresholdsFor(id)

	if ext.Failed() {
		return Decision{Verdict: Reject, Reason: domain.ReasonStructurallyInvalid, Thresholds: th}
	}
	// A page with favorites but no episodes was read inconsistently.
	if ext.EpisodeCount == 0 && ext.FavoriteCount > 0 {
		return Decision{Verdict: Reject, Reason: domain.ReasonStructurallyInvalid, Thresholds: th}
	}

	if ext.FavoriteCount < th.MinFavorites || ext.EpisodeCount < th.MinEpisodes {
		return Decision{Verdict: Reject, Reason: domain.ReasonLowSignal, Thresholds: th}
	}

	return Decision{Verdict: Admit, Thresholds: th}
}
