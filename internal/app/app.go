package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sort"

	"SleeperScout/internal/api"
	"SleeperScout/internal/config"
	"SleeperScout/internal/domain"
	"SleeperScout/internal/infrastructure/fetch"
	"SleeperScout/internal/infrastructure/llm"
	"SleeperScout/internal/infrastructure/parser"
	"SleeperScout/internal/infrastructure/scheduler"
	"SleeperScout/internal/infrastructure/storage"
	"SleeperScout/internal/infrastructure/telegram"
	"SleeperScout/internal/logging"
	"SleeperScout/internal/metrics"
	"SleeperScout/internal/policy"
	"SleeperScout/internal/ports"
	"SleeperScout/internal/tags"
	"SleeperScout/internal/usecase"
)

// Application wires configs to use cases and lifecycle orchestration.
type Application struct {
	cfg      config.Config
	logger   *slog.Logger
	store    *storage.Store
	dict     *tags.Dictionary
	metrics  *metrics.Collector
	pipeline *usecase.Pipeline
	sweep    *usecase.Sweep
	api      *api.Server

	translator ports.TagTranslator
}

// Options lets tests swap the upstream HTTP client and the tag translator.
type Options struct {
	HTTPClient *http.Client
	Translator ports.TagTranslator
}

// ErrTranslatorDisabled is returned by EnrichTags when no translator API key
// is configured.
var ErrTranslatorDisabled = errors.New("tag translator is not configured")

const enrichBatchSize = 50

// New opens the store (running migrations) and builds every component.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger, opts Options) (*Application, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if baseLogger == nil {
		baseLogger = logging.NewWithFormat(os.Stdout, cfg.Logging.Level, cfg.Logging.Format)
	}

	store, err := storage.Open(ctx, cfg.Database.Driver, cfg.Database.DSN,
		storage.WithRetryPolicy(storage.RetryPolicy{
			BaseBackoff: cfg.Retry.BaseBackoff,
			MaxAttempts: cfg.Retry.MaxAttempts,
		}),
		storage.WithLogger(logging.Component(baseLogger, "storage")),
	)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	dict, err := tags.Load(cfg.Tags.DictionaryPath)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("load tag dictionary: %w", err)
	}

	collector := metrics.New()

	fetcher := fetch.New(fetch.Config{
		BaseURL:        cfg.Source.BaseURL,
		UserAgent:      cfg.Source.UserAgent,
		AcceptLanguage: cfg.Source.AcceptLanguage,
		Timeout:        cfg.Source.Timeout,
		MaxBytes:       cfg.Source.MaxBytes,
	}, opts.HTTPClient, logging.Component(baseLogger, "fetch"))

	pipeline := usecase.NewPipeline(usecase.PipelineDeps{
		Store:     store,
		Fetcher:   fetcher,
		Extractor: parser.NewNovelExtractor(parser.DefaultMarkers(), logging.Component(baseLogger, "parser")),
		Policy:    admissionPolicy(cfg.Admission),
		Recorder:  collector,
		Pacer:     scheduler.NewJitterPacer(cfg.Sweep.MinDelay, cfg.Sweep.MaxDelay, logging.Component(baseLogger, "pacer")),
		Logger:    baseLogger,
	})

	var notifier ports.Notifier
	if cfg.Notifications.Telegram.Enabled() {
		notifier = telegram.NewNotifier(cfg.Notifications.Telegram.BotToken, cfg.Notifications.Telegram.ChatID)
	}

	translator := opts.Translator
	if translator == nil && cfg.Tags.Translator.Enabled() {
		translator = llm.NewTagTranslator(cfg.Tags.Translator, nil)
	}

	sweep := usecase.NewSweep(usecase.SweepDeps{
		Pipeline: pipeline,
		Notifier: notifier,
		Recorder: collector,
		Logger:   baseLogger,
	})

	server := api.New(api.Deps{
		Reader:     store,
		Dictionary: dict,
		Metrics:    collector.Handler(),
		Logger:     baseLogger,
	})

	return &Application{
		cfg:      cfg,
		logger:   baseLogger,
		store:    store,
		dict:     dict,
		metrics:  collector,
		pipeline: pipeline,
		sweep:    sweep,
		api:      server,

		translator: translator,
	}, nil
}

func admissionPolicy(c config.AdmissionConfig) policy.Admission {
	return policy.Admission{
		Pivot: c.Pivot,
		Old:   policy.Thresholds{MinFavorites: c.Old.MinFavorites, MinEpisodes: c.Old.MinEpisodes},
		New:   policy.Thresholds{MinFavorites: c.New.MinFavorites, MinEpisodes: c.New.MinEpisodes},
	}
}

// Close releases the store.
func (a *Application) Close() error {
	return a.store.Close()
}

// Sweep runs [start, end]; progress may be nil.
func (a *Application) Sweep(ctx context.Context, start, end int64, progress func(domain.Outcome)) (usecase.Report, error) {
	if progress != nil {
		a.sweep.OnProgress(progress)
	}
	return a.sweep.Run(ctx, start, end)
}

// Probe re-fetches one ID without writing.
func (a *Application) Probe(ctx context.Context, id int64) (usecase.ProbeResult, error) {
	return a.pipeline.Probe(ctx, id)
}

// ResetRejected empties the rejection ledger.
func (a *Application) ResetRejected(ctx context.Context) (int64, error) {
	n, err := a.store.ClearRejected(ctx)
	if err == nil {
		a.logger.Info("rejected ids cleared", "count", n)
	}
	return n, err
}

// ResetAdmitted empties the admitted table so a sweep can re-run with new
// thresholds.
func (a *Application) ResetAdmitted(ctx context.Context) (int64, error) {
	n, err := a.store.ClearAdmitted(ctx)
	if err == nil {
		a.logger.Info("admitted novels cleared", "count", n)
	}
	return n, err
}

// Top lists admitted novels by sleeper ratio.
func (a *Application) Top(ctx context.Context, filter ports.NovelFilter) ([]domain.NovelRecord, error) {
	return a.store.ListNovels(ctx, filter)
}

// TagRow is a tag frequency with its display translation.
type TagRow struct {
	Tag         string
	Translation string
	Count       int64
}

// TagReport returns tag frequencies. With missingOnly it keeps only tokens the
// dictionary cannot translate, for offline enrichment.
func (a *Application) TagReport(ctx context.Context, limit uint64, missingOnly bool) ([]TagRow, error) {
	counts, err := a.store.TagFrequencies(ctx, 0)
	if err != nil {
		return nil, err
	}

	var missing map[string]bool
	if missingOnly {
		tokens := make([]string, len(counts))
		for i, c := range counts {
			tokens[i] = c.Tag
		}
		missing = map[string]bool{}
		for _, t := range a.dict.Missing(tokens) {
			missing[t] = true
		}
	}

	var rows []TagRow
	for _, c := range counts {
		if missingOnly && !missing[c.Tag] {
			continue
		}
		rows = append(rows, TagRow{Tag: c.Tag, Translation: a.dict.Translate(c.Tag), Count: c.Count})
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Count > rows[j].Count })
	if limit > 0 && uint64(len(rows)) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

// Stats returns counts for both record classes.
func (a *Application) Stats(ctx context.Context) (ports.StoreCounts, error) {
	return a.store.Counts(ctx)
}

// MigrationStatus lists schema versions and whether each is applied.
func (a *Application) MigrationStatus(ctx context.Context) ([]storage.MigrationStatus, error) {
	return a.store.MigrationStatus(ctx)
}

// Serve runs the reporting API until ctx is cancelled.
func (a *Application) Serve(ctx context.Context, addr string) error {
	if addr == "" {
		addr = a.cfg.API.Addr
	}
	return a.api.ListenAndServe(ctx, addr)
}

// ServeMetrics exposes only /metrics, used alongside a running sweep.
func (a *Application) ServeMetrics(ctx context.Context, addr string) error {
	if addr == "" {
		return errors.New("metrics address is empty")
	}
	metricsOnly := api.New(api.Deps{Metrics: a.metrics.Handler(), Logger: a.logger})
	return metricsOnly.ListenAndServe(ctx, addr)
}

// EnrichResult summarizes one EnrichTags run.
type EnrichResult struct {
	Path    string
	Missing int
	Added   int
}

// EnrichTags asks the translator for every stored tag the dictionary cannot
// translate and merges the answers into the dictionary file at path (the
// configured dictionary when empty). Entries already in the file are kept.
// The running process keeps its loaded dictionary; restart to pick up the
// new entries.
func (a *Application) EnrichTags(ctx context.Context, path string) (EnrichResult, error) {
	if path == "" {
		path = a.cfg.Tags.DictionaryPath
	}
	res := EnrichResult{Path: path}
	if path == "" {
		return res, errors.New("no dictionary path configured")
	}
	if a.translator == nil {
		return res, ErrTranslatorDisabled
	}

	rows, err := a.TagReport(ctx, 0, true)
	if err != nil {
		return res, err
	}
	res.Missing = len(rows)
	if len(rows) == 0 {
		return res, nil
	}

	existing, err := tags.ReadFile(path)
	if err != nil {
		return res, err
	}

	for i := 0; i < len(rows); i += enrichBatchSize {
		batch := rows[i:min(i+enrichBatchSize, len(rows))]
		tokens := make([]string, len(batch))
		for j, r := range batch {
			tokens[j] = r.Tag
		}

		labels, err := a.translator.TranslateTags(ctx, tokens)
		if err != nil {
			return res, fmt.Errorf("translate tags: %w", err)
		}
		for token, label := range labels {
			if _, ok := existing[token]; ok {
				continue
			}
			existing[token] = label
			res.Added++
		}
	}

	if res.Added == 0 {
		return res, nil
	}
	if err := tags.WriteFile(path, existing); err != nil {
		return res, err
	}
	a.logger.Info("tag dictionary enriched", "path", path, "missing", res.Missing, "added", res.Added)
	return res, nil
}
