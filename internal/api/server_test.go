package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SleeperScout/internal/domain"
	"SleeperScout/internal/infrastructure/storage"
	"SleeperScout/internal/metrics"
	"SleeperScout/internal/tags"
)

func newTestServer(t *testing.T) (*httptest.Server, *storage.Store) {
	t.Helper()
	ctx := context.Background()

	store, err := storage.Open(ctx, storage.DriverSQLite, filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	novels := []domain.NovelRecord{
		{ID: 1, Title: "잠든 용", Author: "가", FavoriteCount: 100, EpisodeCount: 10, Tags: []string{"현대판타지", "하렘"}},
		{ID: 2, Title: "숨은 탑", Author: "나", FavoriteCount: 300, EpisodeCount: 10, Tags: []string{"현판"}, IsMature: true},
		{ID: 3, Title: "늦은 꽃", Author: "다", FavoriteCount: 40, EpisodeCount: 20, Tags: []string{"집착"}, IsPremium: true},
	}
	for _, n := range novels {
		n.SourceURL = "https://novelpia.com/novel/" + strconv.FormatInt(n.ID, 10)
		require.NoError(t, store.UpsertAdmitted(ctx, n))
	}
	require.NoError(t, store.InsertRejected(ctx, 4, domain.ReasonNotFound))
	require.NoError(t, store.InsertRejected(ctx, 5, domain.ReasonLowSignal))

	srv := New(Deps{Reader: store, Dictionary: tags.New(nil), Metrics: metrics.New().Handler()})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, store
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestListNovelsSortedByRatio(t *testing.T) {
	ts, _ := newTestServer(t)

	var got []novelResponse
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/v1/novels", &got))
	require.Len(t, got, 3)
	assert.Equal(t, []int64{2, 1, 3}, []int64{got[0].ID, got[1].ID, got[2].ID})
	assert.Equal(t, 30.0, got[0].SleeperRatio)
	assert.Equal(t, []string{"Modern Fantasy", "Harem"}, got[1].TagsTranslated)
	assert.Equal(t, []string{"현대판타지", "하렘"}, got[1].Tags)

	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/v1/novels?mature=true", &got))
	require.Len(t, got, 1)
	assert.Equal(t, int64(2), got[0].ID)

	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/v1/novels?premium=1&limit=5", &got))
	require.Len(t, got, 1)
	assert.Equal(t, int64(3), got[0].ID)

	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/v1/novels?limit=1", &got))
	assert.Len(t, got, 1)

	assert.Equal(t, http.StatusBadRequest, getJSON(t, ts.URL+"/api/v1/novels?limit=abc", nil))
	assert.Equal(t, http.StatusBadRequest, getJSON(t, ts.URL+"/api/v1/novels?mature=maybe", nil))
}

func TestGetNovel(t *testing.T) {
	ts, _ := newTestServer(t)

	var got novelResponse
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/v1/novels/3", &got))
	assert.Equal(t, "늦은 꽃", got.Title)
	assert.Equal(t, 2.0, got.SleeperRatio)
	assert.True(t, got.IsPremium)

	assert.Equal(t, http.StatusNotFound, getJSON(t, ts.URL+"/api/v1/novels/4", nil))
	assert.Equal(t, http.StatusBadRequest, getJSON(t, ts.URL+"/api/v1/novels/x", nil))
}

func TestTagsMergedByTranslation(t *testing.T) {
	ts, _ := newTestServer(t)

	var got []tagResponse
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/v1/tags", &got))
	require.NotEmpty(t, got)
	assert.Equal(t, "Modern Fantasy", got[0].Tag)
	assert.Equal(t, int64(2), got[0].Count)
	assert.ElementsMatch(t, []string{"현대판타지", "현판"}, got[0].Tokens)

	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/v1/tags?limit=1", &got))
	assert.Len(t, got, 1)
}

func TestStatsAndExists(t *testing.T) {
	ts, _ := newTestServer(t)

	var stats statsResponse
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/v1/stats", &stats))
	assert.Equal(t, int64(3), stats.Admitted)
	assert.Equal(t, int64(1), stats.Rejected["not-found"])
	assert.Equal(t, int64(5), stats.Total)

	var exists map[string]any
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/v1/exists/4", &exists))
	assert.Equal(t, true, exists["exists"])
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/v1/exists/99", &exists))
	assert.Equal(t, false, exists["exists"])
}

func TestRejectedListing(t *testing.T) {
	ts, _ := newTestServer(t)

	var got []rejectedResponse
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/v1/rejected?reason=low-signal", &got))
	require.Len(t, got, 1)
	assert.Equal(t, int64(5), got[0].ID)
	assert.Nil(t, got[0].RetryAfter)

	assert.Equal(t, http.StatusBadRequest, getJSON(t, ts.URL+"/api/v1/rejected?reason=bogus", nil))
}

func TestHealthAndMetrics(t *testing.T) {
	ts, _ := newTestServer(t)

	var health map[string]string
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/healthz", &health))
	assert.Equal(t, "ok", health["status"])

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestNoWriteRoutes(t *testing.T) {
	ts, store := newTestServer(t)

	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/api/v1/novels/1", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	_, ok, err := store.GetNovel(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMetricsOnlyServer(t *testing.T) {
	ts := httptest.NewServer(New(Deps{Metrics: metrics.New().Handler()}).Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Equal(t, http.StatusNotFound, getJSON(t, ts.URL+"/api/v1/novels", nil))
}
