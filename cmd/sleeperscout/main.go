package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"SleeperScout/internal/app"
	"SleeperScout/internal/config"
	"SleeperScout/internal/logging"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	subcommand := os.Args[1]
	args := os.Args[2:]

	switch subcommand {
	case "help", "--help", "-h":
		printUsage()
		return
	case "sweep", "probe", "reset", "top", "tags", "enrich", "stats", "serve", "migrate":
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown command: %s\n\n", subcommand)
		printUsage()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.Load()
	logger := logging.NewWithFormat(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)

	application, err := app.New(ctx, cfg, logger, app.Options{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	code := run(ctx, application, subcommand, args)
	application.Close()
	os.Exit(code)
}

func run(ctx context.Context, a *app.Application, subcommand string, args []string) int {
	switch subcommand {
	case "sweep":
		return handleSweep(ctx, a, args)
	case "probe":
		return handleProbe(ctx, a, args)
	case "reset":
		return handleReset(ctx, a, args)
	case "top":
		return handleTop(ctx, a, args)
	case "tags":
		return handleTags(ctx, a, args)
	case "enrich":
		return handleEnrich(ctx, a, args)
	case "stats":
		return handleStats(ctx, a)
	case "serve":
		return handleServe(ctx, a, args)
	case "migrate":
		return handleMigrate(ctx, a)
	}
	return 1
}

func printUsage() {
	fmt.Println("sleeperscout - find under-read web novels by sweeping novel IDs")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  sleeperscout <command> [flags]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  sweep    -start N -end M [-metrics-addr :9100]   Classify an inclusive ID range")
	fmt.Println("  probe    -id N                                   Re-fetch one ID and show the verdict without saving")
	fmt.Println("  reset    -rejected | -admitted                   Clear one record class")
	fmt.Println("  top      [-limit N] [-mature] [-premium]         List admitted novels by sleeper ratio")
	fmt.Println("  tags     [-limit N] [-missing]                   Tag frequencies, or untranslated tags")
	fmt.Println("  enrich   [-out tags.yaml]                        Translate missing tags into the dictionary file")
	fmt.Println("  stats                                            Record counts")
	fmt.Println("  serve    [-addr :8080]                           Run the read-only reporting API")
	fmt.Println("  migrate                                          Apply and list schema migrations")
	fmt.Println("  help                                             Show this help message")
	fmt.Println()
	fmt.Println("Environment Variables:")
	fmt.Println("  SLEEPERSCOUT_CONFIG            Path to a YAML config file")
	fmt.Println("  SLEEPERSCOUT_DB_DRIVER         sqlite3 (default) or postgres")
	fmt.Println("  SLEEPERSCOUT_DB_DSN            Database path or connection string")
	fmt.Println("  SLEEPERSCOUT_BASE_URL          Novel page base URL")
	fmt.Println("  SLEEPERSCOUT_LOG_LEVEL         debug, info, warn or error")
	fmt.Println("  SLEEPERSCOUT_LOG_FORMAT        text or json")
	fmt.Println("  SLEEPERSCOUT_TELEGRAM_TOKEN    Bot token for sweep notifications")
	fmt.Println("  SLEEPERSCOUT_TELEGRAM_CHAT_ID  Chat receiving sweep notifications")
	fmt.Println("  SLEEPERSCOUT_TRANSLATOR_API_KEY  API key for the enrich command")
}
