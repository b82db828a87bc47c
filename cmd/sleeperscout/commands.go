package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"golang.org/x/sync/errgroup"

	"SleeperScout/internal/app"
	"SleeperScout/internal/domain"
	"SleeperScout/internal/ports"
)

const exitBlocked = 2

func handleSweep(ctx context.Context, a *app.Application, args []string) int {
	fs := flag.NewFlagSet("sweep", flag.ExitOnError)
	start := fs.Int64("start", 0, "First novel ID (inclusive)")
	end := fs.Int64("end", 0, "Last novel ID (inclusive)")
	metricsAddr := fs.String("metrics-addr", "", "Serve /metrics on this address while sweeping")
	quiet := fs.Bool("quiet", false, "Do not print per-ID outcome lines")
	fs.Parse(args)

	if *start <= 0 || *end <= 0 {
		fmt.Fprintln(os.Stderr, "Error: -start and -end are required and must be positive")
		return 1
	}

	progress := func(o domain.Outcome) {
		if !*quiet {
			fmt.Println(o)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	sweepCtx, stopMetrics := context.WithCancel(gctx)
	defer stopMetrics()

	if *metricsAddr != "" {
		g.Go(func() error {
			return a.ServeMetrics(sweepCtx, *metricsAddr)
		})
	}

	var sweepErr error
	g.Go(func() error {
		defer stopMetrics()
		report, err := a.Sweep(sweepCtx, *start, *end, progress)
		if err == nil || report.RunID != "" {
			fmt.Println(report)
		}
		sweepErr = err
		return nil
	})

	if err := g.Wait(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	switch {
	case sweepErr == nil:
		return 0
	case errors.Is(sweepErr, domain.ErrHardBlock):
		fmt.Fprintln(os.Stderr, "Sweep halted: the source is serving a verification wall. Resume later from the last committed ID.")
		return exitBlocked
	default:
		fmt.Fprintf(os.Stderr, "Error: %v\n", sweepErr)
		return 1
	}
}

func handleProbe(ctx context.Context, a *app.Application, args []string) int {
	fs := flag.NewFlagSet("probe", flag.ExitOnError)
	id := fs.Int64("id", 0, "Novel ID to probe")
	fs.Parse(args)

	if *id <= 0 {
		fmt.Fprintln(os.Stderr, "Error: -id is required")
		return 1
	}

	res, err := a.Probe(ctx, *id)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "ID:\t%d\n", res.ID)
	fmt.Fprintf(w, "URL:\t%s\n", res.URL)
	if res.FinalURL != "" && res.FinalURL != res.URL {
		fmt.Fprintf(w, "Final URL:\t%s\n", res.FinalURL)
	}
	fmt.Fprintf(w, "Status:\t%d (%s)\n", res.StatusCode, res.Class)
	fmt.Fprintf(w, "Known:\t%t\n", res.Known)
	if res.Class == domain.PageOK {
		ext := res.Extraction
		fmt.Fprintf(w, "Title:\t%s\n", ext.Title)
		fmt.Fprintf(w, "Author:\t%s\n", ext.Author)
		fmt.Fprintf(w, "Favorites:\t%d%s\n", ext.FavoriteCount, unresolved(ext.FavoritesResolved))
		fmt.Fprintf(w, "Episodes:\t%d%s\n", ext.EpisodeCount, unresolved(ext.EpisodesResolved))
		fmt.Fprintf(w, "Alarms / Views / Recs:\t%d / %d / %d\n", ext.AlarmCount, ext.ViewCount, ext.RecommendationCount)
		fmt.Fprintf(w, "Tags:\t%s\n", strings.Join(ext.Tags, ", "))
		fmt.Fprintf(w, "Mature / Premium / Completed:\t%t / %t / %t\n", ext.IsMature, ext.IsPremium, ext.IsCompleted)
		fmt.Fprintf(w, "Ratio:\t%.2f\n", res.Ratio)
		th := res.Decision.Thresholds
		verdict := res.Decision.Verdict.String()
		if !res.Decision.Admitted() {
			verdict += " (" + string(res.Decision.Reason) + ")"
		}
		fmt.Fprintf(w, "Verdict:\t%s [min %d favorites, %d episodes]\n", verdict, th.MinFavorites, th.MinEpisodes)
	}
	w.Flush()
	return 0
}

func unresolved(ok bool) string {
	if ok {
		return ""
	}
	return " (unresolved)"
}

func handleReset(ctx context.Context, a *app.Application, args []string) int {
	fs := flag.NewFlagSet("reset", flag.ExitOnError)
	rejected := fs.Bool("rejected", false, "Delete every rejected ID")
	admitted := fs.Bool("admitted", false, "Delete every admitted novel")
	fs.Parse(args)

	if *rejected == *admitted {
		fmt.Fprintln(os.Stderr, "Error: pass exactly one of -rejected or -admitted")
		return 1
	}

	var (
		n   int64
		err error
	)
	if *rejected {
		n, err = a.ResetRejected(ctx)
	} else {
		n, err = a.ResetAdmitted(ctx)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Printf("Deleted %d records\n", n)
	return 0
}

func handleTop(ctx context.Context, a *app.Application, args []string) int {
	fs := flag.NewFlagSet("top", flag.ExitOnError)
	limit := fs.Uint64("limit", 20, "Number of novels to list")
	mature := fs.Bool("mature", false, "Only mature novels")
	premium := fs.Bool("premium", false, "Only premium novels")
	fs.Parse(args)

	novels, err := a.Top(ctx, ports.NovelFilter{MatureOnly: *mature, PremiumOnly: *premium, Limit: *limit})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if len(novels) == 0 {
		fmt.Println("No admitted novels yet.")
		return 0
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tRATIO\tFAV\tEP\tTITLE\tAUTHOR")
	for _, n := range novels {
		fmt.Fprintf(w, "%d\t%.2f\t%d\t%d\t%s\t%s\n", n.ID, n.SleeperRatio, n.FavoriteCount, n.EpisodeCount, n.Title, n.Author)
	}
	w.Flush()
	return 0
}

func handleTags(ctx context.Context, a *app.Application, args []string) int {
	fs := flag.NewFlagSet("tags", flag.ExitOnError)
	limit := fs.Uint64("limit", 30, "Number of tags to list (0 for all)")
	missing := fs.Bool("missing", false, "Only tags without a translation")
	fs.Parse(args)

	rows, err := a.TagReport(ctx, *limit, *missing)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "COUNT\tTAG\tTRANSLATION")
	for _, r := range rows {
		fmt.Fprintf(w, "%d\t%s\t%s\n", r.Count, r.Tag, r.Translation)
	}
	w.Flush()
	return 0
}

func handleEnrich(ctx context.Context, a *app.Application, args []string) int {
	fs := flag.NewFlagSet("enrich", flag.ExitOnError)
	out := fs.String("out", "", "Dictionary file to update (defaults to tags.dictionaryPath from config)")
	fs.Parse(args)

	res, err := a.EnrichTags(ctx, *out)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Printf("%d untranslated tags, %d added to %s\n", res.Missing, res.Added, res.Path)
	return 0
}

func handleStats(ctx context.Context, a *app.Application) int {
	counts, err := a.Stats(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "admitted\t%d\n", counts.Admitted)
	for _, reason := range []domain.RejectReason{
		domain.ReasonNotFound, domain.ReasonLowSignal, domain.ReasonStructurallyInvalid, domain.ReasonOther,
	} {
		fmt.Fprintf(w, "rejected (%s)\t%d\n", reason, counts.Rejected[reason])
	}
	w.Flush()
	return 0
}

func handleServe(ctx context.Context, a *app.Application, args []string) int {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	addr := fs.String("addr", "", "Listen address (defaults to api.addr from config)")
	fs.Parse(args)

	if err := a.Serve(ctx, *addr); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func handleMigrate(ctx context.Context, a *app.Application) int {
	status, err := a.MigrationStatus(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "VERSION\tNAME\tAPPLIED")
	for _, m := range status {
		applied := "no"
		if m.Applied {
			applied = m.AppliedAt.Format("2006-01-02 15:04:05")
		}
		fmt.Fprintf(w, "%d\t%s\t%s\n", m.Version, m.Name, applied)
	}
	w.Flush()
	return 0
}
