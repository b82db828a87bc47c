package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"SleeperScout/internal/domain"
	"SleeperScout/internal/ports"
)

var (
	// ErrSweepAborted is returned when a sweep stops before its end ID.
	ErrSweepAborted = errors.New("sweep aborted")
	// ErrInvalidRange rejects a sweep whose start is past its end.
	ErrInvalidRange = errors.New("invalid id range")
)

// SweepDeps wires the sweep runner.
type SweepDeps struct {
	Pipeline *Pipeline
	Notifier ports.Notifier
	Recorder ports.SweepRecorder
	Logger   *slog.Logger
}

// Sweep walks an inclusive ID range through the pipeline, one ID at a time.
type Sweep struct {
	pipeline *Pipeline
	notifier ports.Notifier
	recorder ports.SweepRecorder
	logger   *slog.Logger
	progress func(domain.Outcome)
	newRunID func() string
	now      func() time.Time
}

// NewSweep constructs the range runner.
func NewSweep(deps SweepDeps) *Sweep {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Sweep{
		pipeline: deps.Pipeline,
		notifier: deps.Notifier,
		recorder: deps.Recorder,
		logger:   logger.With("component", "sweep"),
		newRunID: func() string { return uuid.NewString() },
		now:      time.Now,
	}
}

// OnProgress registers a callback invoked after every ID.
func (s *Sweep) OnProgress(fn func(domain.Outcome)) {
	s.progress = fn
}

// Report summarizes one sweep.
type Report struct {
	RunID    string
	Start    int64
	End      int64
	Skipped  int
	Admitted int
	Rejected map[domain.RejectReason]int
	Errors   int
	// LastCommitted is the highest ID whose outcome is durably stored; a
	// restarted sweep can begin after it. Zero when nothing was committed.
	LastCommitted int64
	Aborted       bool
	Blocked       bool
	Elapsed       time.Duration
}

// Processed counts every ID that produced an outcome.
func (r Report) Processed() int {
	n := r.Skipped + r.Admitted + r.Errors
	for _, c := range r.Rejected {
		n += c
	}
	return n
}

// Result names how the sweep ended.
func (r Report) Result() string {
	switch {
	case r.Blocked:
		return "blocked"
	case r.Aborted:
		return "aborted"
	default:
		return "completed"
	}
}

func (r Report) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "sweep %d-%d %s: admitted %d, skipped %d, errors %d",
		r.Start, r.End, r.Result(), r.Admitted, r.Skipped, r.Errors)
	for _, reason := range []domain.RejectReason{
		domain.ReasonNotFound, domain.ReasonLowSignal, domain.ReasonStructurallyInvalid, domain.ReasonOther,
	} {
		if n := r.Rejected[reason]; n > 0 {
			fmt.Fprintf(&b, ", %s %d", reason, n)
		}
	}
	if r.LastCommitted > 0 {
		fmt.Fprintf(&b, ", last committed %d", r.LastCommitted)
	}
	return b.String()
}

func (r *Report) add(o domain.Outcome) {
	switch o.Kind {
	case domain.OutcomeSkipped:
		r.Skipped++
	case domain.OutcomeAdmitted:
		r.Admitted++
		r.LastCommitted = o.ID
	case domain.OutcomeRejected:
		r.Rejected[o.Reason]++
		r.LastCommitted = o.ID
	case domain.OutcomeError:
		r.Errors++
	}
}

// Run processes [start, end] in ascending order. It stops between IDs when
// ctx is cancelled or the upstream serves a hard block, returning the partial
// report and an error wrapping ErrSweepAborted. Store failures stop the
// sweep too, since later IDs could not be committed.
func (s *Sweep) Run(ctx context.Context, start, end int64) (Report, error) {
	if start > end {
		return Report{}, fmt.Errorf("%w: start %d > end %d", ErrInvalidRange, start, end)
	}
	if s.pipeline == nil {
		return Report{}, fmt.Errorf("sweep: pipeline not configured")
	}

	report := Report{
		RunID:    s.newRunID(),
		Start:    start,
		End:      end,
		Rejected: map[domain.RejectReason]int{},
	}
	log := s.logger.With("run_id", report.RunID)
	began := s.now()
	log.Info("sweep started", "start", start, "end", end)

	err := s.walk(ctx, log, &report)
	report.Elapsed = s.now().Sub(began)

	switch {
	case err == nil:
	case errors.Is(err, domain.ErrHardBlock):
		report.Aborted, report.Blocked = true, true
		log.Error("upstream hard block, sweep halted", "error", err, "last_committed", report.LastCommitted)
		s.notify(ctx, fmt.Sprintf("SleeperScout halted: hard block from upstream.\n%s", report))
		err = fmt.Errorf("%w: %w", ErrSweepAborted, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		report.Aborted = true
		log.Warn("sweep stopped", "error", err, "last_committed", report.LastCommitted)
		err = fmt.Errorf("%w: %w", ErrSweepAborted, err)
	default:
		report.Aborted = true
		log.Error("sweep failed", "error", err, "last_committed", report.LastCommitted)
		err = fmt.Errorf("%w: %w", ErrSweepAborted, err)
	}

	if s.recorder != nil {
		s.recorder.RecordSweep(report.Result())
	}
	log.Info("sweep finished", "result", report.Result(), "processed", report.Processed(),
		"admitted", report.Admitted, "skipped", report.Skipped, "errors", report.Errors,
		"elapsed", report.Elapsed.Round(time.Millisecond))
	if !report.Blocked {
		s.notify(ctx, report.String())
	}
	return report, err
}

func (s *Sweep) walk(ctx context.Context, log *slog.Logger, report *Report) error {
	for id := report.Start; id <= report.End; id++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		outcome, err := s.pipeline.Process(ctx, id)
		if outcome.Kind != "" {
			report.add(outcome)
			s.logOutcome(log, outcome)
			if s.progress != nil {
				s.progress(outcome)
			}
		}
		if err != nil {
			return err
		}

		if id == report.End {
			break
		}
	}
	return nil
}

func (s *Sweep) logOutcome(log *slog.Logger, o domain.Outcome) {
	switch o.Kind {
	case domain.OutcomeError:
		log.Warn("outcome", "id", o.ID, "kind", o.Kind, "detail", o.Detail)
	case domain.OutcomeSkipped:
		log.Debug("outcome", "id", o.ID, "kind", o.Kind)
	default:
		log.Info("outcome", "id", o.ID, "kind", o.Kind, "reason", o.Reason, "ratio", o.Ratio)
	}
}

// notify uses a detached context so an operator stop still gets reported.
func (s *Sweep) notify(ctx context.Context, msg string) {
	if s.notifier == nil {
		return
	}
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := s.notifier.PublishDigest(nctx, msg); err != nil {
		s.logger.Warn("notify failed", "error", err)
	}
}
