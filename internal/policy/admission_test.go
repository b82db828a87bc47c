package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"SleeperScout/internal/domain"
)

func resolved(fav, ep int64) domain.Extraction {
	return domain.Extraction{
		FavoriteCount:     fav,
		EpisodeCount:      ep,
		FavoritesResolved: true,
		EpisodesResolved:  true,
	}
}

func TestDecide(t *testing.T) {
	t.Parallel()

	a := Admission{
		Pivot: 1000,
		Old:   Thresholds{MinFavorites: 50, MinEpisodes: 5},
		New:   Thresholds{MinFavorites: 10, MinEpisodes: 2},
	}

	cases := []struct {
		name   string
		ext    domain.Extraction
		id     int64
		admit  bool
		reason domain.RejectReason
	}{
		{name: "nothing resolved", ext: domain.Extraction{}, id: 1, reason: domain.ReasonStructurallyInvalid},
		{name: "favorites without episodes", ext: resolved(80, 0), id: 1, reason: domain.ReasonStructurallyInvalid},
		{name: "below old minimum", ext: resolved(5, 2), id: 101, reason: domain.ReasonLowSignal},
		{name: "old admitted", ext: resolved(80, 10), id: 102, admit: true},
		{name: "minimums are inclusive", ext: resolved(50, 5), id: 999, admit: true},
		{name: "one counter short", ext: resolved(500, 4), id: 999, reason: domain.ReasonLowSignal},
		{name: "zero everything is low signal", ext: resolved(0, 0), id: 2000, reason: domain.ReasonLowSignal},
		{
			name:  "only episodes resolved",
			ext:   domain.Extraction{EpisodeCount: 40, EpisodesResolved: true, FavoriteCount: 0},
			id:    2000,
			admit: false, reason: domain.ReasonLowSignal,
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			d := a.Decide(tc.ext, tc.id)
			assert.Equal(t, tc.admit, d.Admitted())
			if !tc.admit {
				assert.Equal(t, tc.reason, d.Reason)
			}
		})
	}
}

func TestDecideStratification(t *testing.T) {
	t.Parallel()

	a := Admission{
		Pivot: 1000,
		Old:   Thresholds{MinFavorites: 50, MinEpisodes: 5},
		New:   Thresholds{MinFavorites: 10, MinEpisodes: 2},
	}
	between := resolved(20, 3)

	below := a.Decide(between, 999)
	atPivot := a.Decide(between, 1000)

	assert.False(t, below.Admitted())
	assert.Equal(t, domain.ReasonLowSignal, below.Reason)
	assert.Equal(t, a.Old, below.Thresholds)
	assert.True(t, atPivot.Admitted())
	assert.Equal(t, a.New, atPivot.Thresholds)
}

func TestDefault(t *testing.T) {
	t.Parallel()

	a := Default()
	assert.Equal(t, Thresholds{MinFavorites: 100, MinEpisodes: 20}, a.ThresholdsFor(299999))
	assert.Equal(t, Thresholds{MinFavorites: 30, MinEpisodes: 5}, a.ThresholdsFor(300000))
}
