// Package api serves the read-only reporting surface used by the dashboard.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"SleeperScout/internal/domain"
	"SleeperScout/internal/ports"
)

const (
	defaultNovelLimit = 100
	maxLimit          = 1000
)

// Deps wires the reporting server.
type Deps struct {
	Reader     ports.NovelReader
	Dictionary ports.Dictionary
	Metrics    http.Handler
	Logger     *slog.Logger
}

// Server exposes admitted novels, tag frequencies and counts. It never writes.
// Without a reader only /healthz and /metrics are mounted.
type Server struct {
	reader  ports.NovelReader
	dict    ports.Dictionary
	metrics http.Handler
	logger  *slog.Logger
	router  *chi.Mux
}

// New builds the server and its routes.
func New(deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s := &Server{
		reader:  deps.Reader,
		dict:    deps.Dictionary,
		metrics: deps.Metrics,
		logger:  logger.With("component", "api"),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}

	if s.reader == nil {
		s.router = r
		return s
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/novels", s.handleListNovels)
		r.Get("/novels/{id}", s.handleGetNovel)
		r.Get("/tags", s.handleTags)
		r.Get("/stats", s.handleStats)
		r.Get("/exists/{id}", s.handleExists)
		r.Get("/rejected", s.handleRejected)
	})

	s.router = r
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is cancelled, then drains for up to
// five seconds.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("listen %s: %w", addr, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

type novelResponse struct {
	ID                  int64     `json:"id"`
	Title               string    `json:"title"`
	Author              string    `json:"author"`
	FavoriteCount       int64     `json:"favoriteCount"`
	EpisodeCount        int64     `json:"episodeCount"`
	AlarmCount          int64     `json:"alarmCount"`
	ViewCount           int64     `json:"viewCount"`
	RecommendationCount int64     `json:"recommendationCount"`
	SleeperRatio        float64   `json:"sleeperRatio"`
	Tags                []string  `json:"tags"`
	TagsTranslated      []string  `json:"tagsTranslated"`
	IsMature            bool      `json:"isMature"`
	IsPremium           bool      `json:"isPremium"`
	IsCompleted         bool      `json:"isCompleted"`
	SourceURL           string    `json:"sourceUrl"`
	FirstSeenAt         time.Time `json:"firstSeenAt"`
	LastUpdated         time.Time `json:"lastUpdated"`
}

func (s *Server) toResponse(n domain.NovelRecord) novelResponse {
	tags := n.Tags
	if tags == nil {
		tags = []string{}
	}
	return novelResponse{
		ID:                  n.ID,
		Title:               n.Title,
		Author:              n.Author,
		FavoriteCount:       n.FavoriteCount,
		EpisodeCount:        n.EpisodeCount,
		AlarmCount:          n.AlarmCount,
		ViewCount:           n.ViewCount,
		RecommendationCount: n.RecommendationCount,
		SleeperRatio:        n.SleeperRatio,
		Tags:                tags,
		TagsTranslated:      s.translate(tags),
		IsMature:            n.IsMature,
		IsPremium:           n.IsPremium,
		IsCompleted:         n.IsCompleted,
		SourceURL:           n.SourceURL,
		FirstSeenAt:         n.FirstSeenAt,
		LastUpdated:         n.LastUpdated,
	}
}

func (s *Server) translate(tags []string) []string {
	out := make([]string, len(tags))
	for i, t := range tags {
		if s.dict != nil {
			out[i] = s.dict.Translate(t)
		} else {
			out[i] = t
		}
	}
	return out
}

// GET /api/v1/novels?mature=&premium=&limit=
func (s *Server) handleListNovels(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := parseLimit(q.Get("limit"), defaultNovelLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	mature, err := parseBool(q.Get("mature"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	premium, err := parseBool(q.Get("premium"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	novels, err := s.reader.ListNovels(r.Context(), ports.NovelFilter{
		MatureOnly:  mature,
		PremiumOnly: premium,
		Limit:       limit,
	})
	if err != nil {
		s.internalError(w, "list novels", err)
		return
	}

	out := make([]novelResponse, 0, len(novels))
	for _, n := range novels {
		out = append(out, s.toResponse(n))
	}
	writeJSON(w, http.StatusOK, out)
}

// GET /api/v1/novels/{id}
func (s *Server) handleGetNovel(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	novel, ok, err := s.reader.GetNovel(r.Context(), id)
	if err != nil {
		s.internalError(w, "get novel", err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("novel %d not admitted", id))
		return
	}
	writeJSON(w, http.StatusOK, s.toResponse(novel))
}

type tagResponse struct {
	Tag    string   `json:"tag"`
	Count  int64    `json:"count"`
	Tokens []string `json:"tokens"`
}

// GET /api/v1/tags?limit= merges tokens that share a translation.
func (s *Server) handleTags(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r.URL.Query().Get("limit"), 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	counts, err := s.reader.TagFrequencies(r.Context(), 0)
	if err != nil {
		s.internalError(w, "tag frequencies", err)
		return
	}

	merged := map[string]*tagResponse{}
	var order []string
	for _, c := range counts {
		label := c.Tag
		if s.dict != nil {
			label = s.dict.Translate(c.Tag)
		}
		entry, ok := merged[label]
		if !ok {
			entry = &tagResponse{Tag: label}
			merged[label] = entry
			order = append(order, label)
		}
		entry.Count += c.Count
		entry.Tokens = append(entry.Tokens, c.Tag)
	}

	out := make([]tagResponse, 0, len(order))
	for _, label := range order {
		out = append(out, *merged[label])
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Tag < out[j].Tag
	})
	if limit > 0 && uint64(len(out)) > limit {
		out = out[:limit]
	}
	writeJSON(w, http.StatusOK, out)
}

type statsResponse struct {
	Admitted int64            `json:"admitted"`
	Rejected map[string]int64 `json:"rejected"`
	Total    int64            `json:"total"`
}

// GET /api/v1/stats
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	counts, err := s.reader.Counts(r.Context())
	if err != nil {
		s.internalError(w, "counts", err)
		return
	}

	resp := statsResponse{Admitted: counts.Admitted, Rejected: map[string]int64{}, Total: counts.Admitted}
	for reason, n := range counts.Rejected {
		resp.Rejected[string(reason)] = n
		resp.Total += n
	}
	writeJSON(w, http.StatusOK, resp)
}

// GET /api/v1/exists/{id}
func (s *Server) handleExists(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	known, err := s.reader.Exists(r.Context(), id)
	if err != nil {
		s.internalError(w, "exists", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "exists": known})
}

type rejectedResponse struct {
	ID         int64      `json:"id"`
	Reason     string     `json:"reason"`
	RecordedAt time.Time  `json:"recordedAt"`
	Attempts   int        `json:"attempts"`
	RetryAfter *time.Time `json:"retryAfter,omitempty"`
}

// GET /api/v1/rejected?reason=&limit=
func (s *Server) handleRejected(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := parseLimit(q.Get("limit"), defaultNovelLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	reason := domain.RejectReason(q.Get("reason"))
	if reason != "" && !reason.Valid() {
		writeError(w, http.StatusBadRequest, fmt.Errorf("unknown reason %q", reason))
		return
	}

	rows, err := s.reader.ListRejected(r.Context(), reason, limit)
	if err != nil {
		s.internalError(w, "list rejected", err)
		return
	}

	out := make([]rejectedResponse, 0, len(rows))
	for _, row := range rows {
		out = append(out, rejectedResponse{
			ID:         row.ID,
			Reason:     string(row.Reason),
			RecordedAt: row.RecordedAt,
			Attempts:   row.Attempts,
			RetryAfter: row.RetryAfter,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) internalError(w http.ResponseWriter, op string, err error) {
	s.logger.Error("request failed", "op", op, "error", err)
	writeError(w, http.StatusInternalServerError, errors.New("internal error"))
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", raw)
	}
	return id, nil
}

func parseLimit(raw string, fallback uint64) (uint64, error) {
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid limit %q", raw)
	}
	if n > maxLimit {
		n = maxLimit
	}
	return n, nil
}

func parseBool(raw string) (bool, error) {
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid boolean %q", raw)
	}
	return v, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
