package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"SleeperScout/internal/domain"
	"SleeperScout/internal/policy"
	"SleeperScout/internal/ports"
)

// PipelineDeps wires all driven adapters into the per-ID pipeline.
type PipelineDeps struct {
	Store     ports.NovelStore
	Fetcher   ports.PageFetcher
	Extractor ports.Extractor
	Policy    policy.Admission
	Recorder  ports.OutcomeRecorder
	Pacer     ports.Pacer
	Logger    *slog.Logger
}

// Pipeline classifies one novel ID at a time: existence check, fetch,
// extraction, admission and a single write. It is not safe for concurrent
// use; sweeps are sequential.
type Pipeline struct {
	store     ports.NovelStore
	fetcher   ports.PageFetcher
	extractor ports.Extractor
	policy    policy.Admission
	recorder  ports.OutcomeRecorder
	pacer     ports.Pacer
	logger    *slog.Logger
	now       func() time.Time

	// fetched is set after the first paced fetch so the pacer only runs
	// between requests.
	fetched bool
}

// NewPipeline constructs the orchestration component.
func NewPipeline(deps PipelineDeps) *Pipeline {
	var logger *slog.Logger
	if deps.Logger != nil {
		logger = deps.Logger.With("component", "pipeline")
	}
	return &Pipeline{
		store:     deps.Store,
		fetcher:   deps.Fetcher,
		extractor: deps.Extractor,
		policy:    deps.Policy,
		recorder:  deps.Recorder,
		pacer:     deps.Pacer,
		logger:    logger,
		now:       time.Now,
	}
}

// Process runs one ID through the pipeline. The returned error is non-nil
// only for a hard block (wrapping domain.ErrHardBlock), a store failure or
// cancellation while pacing; everything else is expressed in the outcome.
func (p *Pipeline) Process(ctx context.Context, id int64) (domain.Outcome, error) {
	known, err := p.store.Exists(ctx, id)
	if err != nil {
		return domain.Outcome{}, fmt.Errorf("check %d: %w", id, err)
	}
	if known {
		return p.record(domain.Outcome{ID: id, Kind: domain.OutcomeSkipped}), nil
	}

	if p.pacer != nil && p.fetched {
		if err := p.pacer.Wait(ctx); err != nil {
			return domain.Outcome{}, fmt.Errorf("pace %d: %w", id, err)
		}
	}
	p.fetched = true

	page, err := p.fetch(ctx, id)
	if err != nil {
		return p.record(domain.Outcome{ID: id, Kind: domain.OutcomeError, Detail: errorDetail(err)}), nil
	}

	switch p.extractor.Classify(page) {
	case domain.PageBlocked:
		out := p.record(domain.Outcome{ID: id, Kind: domain.OutcomeError, Detail: "hard block"})
		return out, fmt.Errorf("fetch %d: %w", id, domain.ErrHardBlock)
	case domain.PageNotFound:
		return p.reject(ctx, id, domain.ReasonNotFound)
	case domain.PageUnexpected:
		detail := errorDetail(domain.StatusError{Code: page.StatusCode})
		return p.record(domain.Outcome{ID: id, Kind: domain.OutcomeError, Detail: detail}), nil
	}

	ext := p.extractor.Extract(page)
	decision := p.policy.Decide(ext, id)
	if !decision.Admitted() {
		p.debug("rejected by policy", "id", id, "reason", decision.Reason,
			"favorites", ext.FavoriteCount, "episodes", ext.EpisodeCount)
		return p.reject(ctx, id, decision.Reason)
	}

	rec := ext.ToRecord(id, page.URL)
	if err := p.store.UpsertAdmitted(ctx, rec); err != nil {
		return domain.Outcome{}, fmt.Errorf("admit %d: %w", id, err)
	}
	return p.record(domain.Outcome{ID: id, Kind: domain.OutcomeAdmitted, Ratio: rec.SleeperRatio}), nil
}

// ProbeResult is everything a surgical probe learned about one ID.
type ProbeResult struct {
	ID         int64
	URL        string
	FinalURL   string
	StatusCode int
	Class      domain.PageClass
	Extraction domain.Extraction
	Decision   policy.Decision
	Known      bool
	Ratio      float64
}

// Probe fetches and evaluates id without consulting the existence
// short-circuit and without writing anything.
func (p *Pipeline) Probe(ctx context.Context, id int64) (ProbeResult, error) {
	res := ProbeResult{ID: id}

	known, err := p.store.Exists(ctx, id)
	if err != nil {
		return res, fmt.Errorf("check %d: %w", id, err)
	}
	res.Known = known

	page, err := p.fetch(ctx, id)
	if err != nil {
		return res, fmt.Errorf("fetch %d: %w", id, err)
	}
	res.URL = page.URL
	res.FinalURL = page.FinalURL
	res.StatusCode = page.StatusCode
	res.Class = p.extractor.Classify(page)

	if res.Class != domain.PageOK {
		return res, nil
	}

	res.Extraction = p.extractor.Extract(page)
	res.Decision = p.policy.Decide(res.Extraction, id)
	res.Ratio = domain.SleeperRatio(res.Extraction.FavoriteCount, res.Extraction.EpisodeCount)
	return res, nil
}

func (p *Pipeline) fetch(ctx context.Context, id int64) (domain.Page, error) {
	started := p.now()
	page, err := p.fetcher.Fetch(ctx, id)
	if p.recorder != nil {
		p.recorder.ObserveFetch(p.now().Sub(started))
	}
	if err != nil && p.logger != nil {
		p.logger.Warn("fetch failed", "id", id, "error", err)
	}
	return page, err
}

func (p *Pipeline) reject(ctx context.Context, id int64, reason domain.RejectReason) (domain.Outcome, error) {
	if err := p.store.InsertRejected(ctx, id, reason); err != nil {
		return domain.Outcome{}, fmt.Errorf("reject %d: %w", id, err)
	}
	return p.record(domain.Outcome{ID: id, Kind: domain.OutcomeRejected, Reason: reason}), nil
}

func (p *Pipeline) record(o domain.Outcome) domain.Outcome {
	if p.recorder != nil {
		p.recorder.RecordOutcome(o)
	}
	return o
}

func (p *Pipeline) debug(msg string, args ...interface{}) {
	if p.logger == nil {
		return
	}
	p.logger.Debug(msg, args...)
}

type detailer interface {
	Detail() string
}

// errorDetail shortens err to the text shown in ERROR(detail).
func errorDetail(err error) string {
	var d detailer
	if errors.As(err, &d) {
		return d.Detail()
	}
	return err.Error()
}
