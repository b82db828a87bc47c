package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SleeperScout/internal/config"
	"SleeperScout/internal/domain"
	"SleeperScout/internal/ports"
	"SleeperScout/internal/tags"
	"SleeperScout/internal/usecase"
)

func novelPage(title string, fav, ep int) string {
	return fmt.Sprintf(`<html><head>
<meta property="og:title" content="%s - 노벨피아">
<meta name="description" content="작가 : 무명 | 선호작 %d | 회차 %d">
</head><body><div class="tags"><span class="tag">#판타지</span><span class="tag">#집착</span></div></body></html>`, title, fav, ep)
}

type upstream struct {
	hits  atomic.Int64
	mu    sync.Mutex
	pages map[string]func(w http.ResponseWriter)
}

func (u *upstream) set(id string, h func(http.ResponseWriter)) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.pages[id] = h
}

func (u *upstream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	u.hits.Add(1)
	id := strings.TrimPrefix(r.URL.Path, "/novel/")
	u.mu.Lock()
	h, ok := u.pages[id]
	u.mu.Unlock()
	if ok {
		h(w)
		return
	}
	http.NotFound(w, r)
}

func html(body string) func(http.ResponseWriter) {
	return func(w http.ResponseWriter) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(body))
	}
}

type fakeTranslator struct {
	calls  [][]string
	labels map[string]string
}

func (f *fakeTranslator) TranslateTags(_ context.Context, tokens []string) (map[string]string, error) {
	f.calls = append(f.calls, tokens)
	out := map[string]string{}
	for _, t := range tokens {
		if l, ok := f.labels[t]; ok {
			out[t] = l
		}
	}
	return out, nil
}

func newTestApp(t *testing.T, u *upstream) *Application {
	t.Helper()
	return newTestAppWith(t, u, nil)
}

func newTestAppWith(t *testing.T, u *upstream, tr ports.TagTranslator) *Application {
	t.Helper()

	ts := httptest.NewServer(u)
	t.Cleanup(ts.Close)

	cfg := config.Default()
	cfg.Database.DSN = filepath.Join(t.TempDir(), "scout.db")
	cfg.Source.BaseURL = ts.URL + "/novel/"
	cfg.Sweep.MinDelay, cfg.Sweep.MaxDelay = 0, 0
	cfg.Admission.Pivot = 1000
	cfg.Admission.Old = config.ThresholdsConfig{MinFavorites: 50, MinEpisodes: 5}
	cfg.Tags.DictionaryPath = filepath.Join(t.TempDir(), "tags.yaml")

	a, err := New(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), Options{HTTPClient: ts.Client(), Translator: tr})
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func TestSweepEndToEnd(t *testing.T) {
	u := &upstream{pages: map[string]func(http.ResponseWriter){
		"101": html(novelPage("작은 불씨", 5, 2)),
		"102": html(novelPage("잠든 용", 80, 10)),
		"103": html(`<html><head><title>점검 중</title></head><body><p>잠시 후 다시</p></body></html>`),
	}}
	a := newTestApp(t, u)
	ctx := context.Background()

	var lines []string
	report, err := a.Sweep(ctx, 100, 103, func(o domain.Outcome) { lines = append(lines, o.String()) })
	require.NoError(t, err)
	assert.Equal(t, []string{
		"100 REJECTED(not-found)",
		"101 REJECTED(low-signal)",
		"102 ADMITTED ratio=8.00",
		"103 REJECTED(structurally-invalid)",
	}, lines)
	assert.Equal(t, int64(103), report.LastCommitted)
	assert.Equal(t, int64(4), u.hits.Load())

	top, err := a.Top(ctx, ports.NovelFilter{})
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.Equal(t, "잠든 용", top[0].Title)
	assert.Equal(t, 8.0, top[0].SleeperRatio)

	report, err = a.Sweep(ctx, 100, 103, nil)
	require.NoError(t, err)
	assert.Equal(t, 4, report.Skipped)
	assert.Equal(t, int64(4), u.hits.Load(), "re-sweep must not fetch")

	rows, err := a.TagReport(ctx, 0, true)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "집착", rows[0].Tag)

	stats, err := a.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Admitted)
	assert.Equal(t, int64(1), stats.Rejected[domain.ReasonLowSignal])
}

func TestResetAdmittedAllowsReadmission(t *testing.T) {
	u := &upstream{pages: map[string]func(http.ResponseWriter){
		"102": html(novelPage("잠든 용", 80, 10)),
	}}
	a := newTestApp(t, u)
	ctx := context.Background()

	_, err := a.Sweep(ctx, 100, 102, nil)
	require.NoError(t, err)

	u.set("102", html(novelPage("잠든 용", 160, 10)))
	n, err := a.ResetAdmitted(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	hits := u.hits.Load()
	report, err := a.Sweep(ctx, 100, 102, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Admitted)
	assert.Equal(t, 2, report.Skipped, "known-dead IDs stay rejected")
	assert.Equal(t, hits+1, u.hits.Load())

	top, err := a.Top(ctx, ports.NovelFilter{})
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.Equal(t, 16.0, top[0].SleeperRatio)

	n, err = a.ResetRejected(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestHardBlockStopsSweep(t *testing.T) {
	u := &upstream{pages: map[string]func(http.ResponseWriter){
		"101": func(w http.ResponseWriter) { http.Error(w, "slow down", http.StatusTooManyRequests) },
		"102": html(novelPage("잠든 용", 80, 10)),
	}}
	a := newTestApp(t, u)

	report, err := a.Sweep(context.Background(), 100, 102, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, usecase.ErrSweepAborted))
	assert.True(t, errors.Is(err, domain.ErrHardBlock))
	assert.True(t, report.Blocked)
	assert.Equal(t, int64(100), report.LastCommitted)
	assert.Equal(t, int64(2), u.hits.Load())
}

func TestProbeDoesNotPersist(t *testing.T) {
	u := &upstream{pages: map[string]func(http.ResponseWriter){
		"102": html(novelPage("잠든 용", 80, 10)),
	}}
	a := newTestApp(t, u)
	ctx := context.Background()

	res, err := a.Probe(ctx, 102)
	require.NoError(t, err)
	assert.Equal(t, domain.PageOK, res.Class)
	assert.Equal(t, "잠든 용", res.Extraction.Title)
	assert.True(t, res.Decision.Admitted())

	stats, err := a.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Admitted)
}

func TestEnrichTagsMergesIntoDictionaryFile(t *testing.T) {
	u := &upstream{pages: map[string]func(http.ResponseWriter){
		"102": html(novelPage("잠든 용", 80, 10)),
	}}
	tr := &fakeTranslator{labels: map[string]string{"집착": "Obsession"}}
	a := newTestAppWith(t, u, tr)
	ctx := context.Background()

	_, err := a.Sweep(ctx, 102, 102, nil)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "enriched.yaml")
	require.NoError(t, tags.WriteFile(path, map[string]string{"계약": "Contract"}))

	res, err := a.EnrichTags(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Missing)
	assert.Equal(t, 1, res.Added)
	assert.Equal(t, [][]string{{"집착"}}, tr.calls)

	stored, err := tags.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"계약": "Contract", "집착": "Obsession"}, stored)
}

func TestEnrichTagsRequiresTranslator(t *testing.T) {
	a := newTestApp(t, &upstream{pages: map[string]func(http.ResponseWriter){}})

	_, err := a.EnrichTags(context.Background(), "")
	assert.ErrorIs(t, err, ErrTranslatorDisabled)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Sweep.MinDelay = 10
	cfg.Sweep.MaxDelay = 1

	_, err := New(context.Background(), cfg, nil, Options{})
	require.Error(t, err)
}
