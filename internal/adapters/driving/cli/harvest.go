package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	configfile "github.com/collabgraph/gitminer/internal/adapters/driven/config/file"
	"github.com/collabgraph/gitminer/internal/adapters/driven/sink"
	"github.com/collabgraph/gitminer/internal/adapters/driven/storage/sqlite"
	githubc "github.com/collabgraph/gitminer/internal/connectors/github"
	"github.com/collabgraph/gitminer/internal/core/domain"
	"github.com/collabgraph/gitminer/internal/core/ports/driven"
	"github.com/collabgraph/gitminer/internal/core/services"
	"github.com/collabgraph/gitminer/internal/logger"
)

var (
	flagTargets     string
	flagKinds       string
	flagOut         string
	flagFormat      string
	flagConcurrency int
	flagDB          string
	flagTokensFile  string
	flagRetryFailed bool
	flagTimeout     time.Duration
)

var harvestCmd = &cobra.Command{
	Use:   "harvest",
	Short: "Run or resume a harvest over a targets file",
	Long: `Harvests the configured entity kinds for every owner/repo listed in
the targets file (one per line). Units already completed in the
checkpoint database are skipped, so re-running the same command resumes
an interrupted harvest.`,
	RunE: runHarvest,
}

func init() {
	harvestCmd.Flags().StringVar(&flagTargets, "targets", "",
		"path to targets file, one owner/repo per line (required)")
	harvestCmd.Flags().StringVar(&flagKinds, "kinds", "",
		"comma-separated entity kinds (default: all)")
	harvestCmd.Flags().StringVar(&flagOut, "out", "harvest-out",
		"output directory (csv) or file (jsonl)")
	harvestCmd.Flags().StringVar(&flagFormat, "format", "csv",
		"output format: csv or jsonl")
	harvestCmd.Flags().IntVar(&flagConcurrency, "concurrency", 0,
		"max in-flight requests (default 8)")
	harvestCmd.Flags().StringVar(&flagDB, "db", "",
		"checkpoint database path (default ~/.gitminer/data/harvest.db)")
	harvestCmd.Flags().StringVar(&flagTokensFile, "tokens-file", "",
		"tokens file, one token per line (watched for changes)")
	harvestCmd.Flags().BoolVar(&flagRetryFailed, "retry-failed", false,
		"re-attempt units previously marked failed")
	harvestCmd.Flags().DurationVar(&flagTimeout, "request-timeout", 0,
		"per-request timeout (default 30s)")
	_ = harvestCmd.MarkFlagRequired("targets")
	rootCmd.AddCommand(harvestCmd)
}

func runHarvest(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	settings, err := loadSettings()
	if err != nil {
		return err
	}
	cfg := harvestConfig(settings)

	kinds, err := domain.ParseEntityKinds(flagKinds)
	if err != nil {
		return err
	}

	targets, err := readTargets(flagTargets)
	if err != nil {
		return err
	}

	seeds, err := services.SeedUnits(targets, kinds, cfg.PerPage)
	if err != nil {
		return err
	}

	// Credentials: environment first, then the tokens file.
	tokensFile := flagTokensFile
	if tokensFile == "" {
		tokensFile = settings.Paths.TokensFile
	}
	tokenSource := configfile.NewTokenSource(tokensFile)
	tokens, err := tokenSource.Tokens(ctx)
	if err != nil {
		return err
	}

	limiter := services.NewRateLimiter(cfg)
	pool, err := services.NewCredentialPool(tokens, limiter, cfg)
	if err != nil {
		return fmt.Errorf("set GITHUB_TOKEN_1..n, GITHUB_TOKEN or --tokens-file: %w", err)
	}
	cmd.Printf("Loaded %d credential(s)\n", pool.Size())

	// Tokens added to the file mid-run join the pool without restart.
	if err := tokenSource.Watch(ctx, func(tokens []string) {
		for _, token := range tokens {
			if pool.Add(token) {
				logger.Info("credential added from tokens file (pool size now %d)", pool.Size())
			}
		}
	}); err != nil {
		logger.Warn("tokens file watch disabled: %v", err)
	}

	dbPath := flagDB
	if dbPath == "" {
		dbPath = settings.Paths.Database
	}
	store, err := sqlite.NewStore(dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	recordSink, closeSink, err := openSink()
	if err != nil {
		return err
	}
	defer closeSink()

	pipeline := services.NewHarvestPipeline(
		githubc.NewFetcher(), store.CheckpointStore(), recordSink, pool, limiter, cfg)

	cmd.Printf("Harvesting %d unit(s) across %d target(s)...\n", len(seeds), len(targets))
	summary, err := pipeline.Run(ctx, seeds)
	printSummary(cmd, summary)
	if err != nil {
		return fmt.Errorf("harvest aborted: %w", err)
	}
	if summary.Cancelled {
		cmd.Println("Cancelled; progress is checkpointed, re-run to resume.")
	}
	return nil
}

// loadSettings reads the TOML config; flags override its values.
func loadSettings() (*configfile.Settings, error) {
	store, err := configfile.NewConfigStore(flagConfigDir)
	if err != nil {
		return nil, err
	}
	return store.Load()
}

// harvestConfig merges file settings and flags into the core config.
func harvestConfig(settings *configfile.Settings) services.Config {
	cfg := services.Config{
		MaxConcurrency:       settings.Harvest.Concurrency,
		MaxAttempts:          settings.Harvest.MaxAttempts,
		PerPage:              settings.Harvest.PerPage,
		SafetyMargin:         settings.Harvest.SafetyMargin,
		AuthFailureThreshold: settings.Harvest.AuthFailureThreshold,
		ProactiveRate:        settings.Harvest.ProactiveRate,
		RequestTimeout:       time.Duration(settings.Harvest.RequestTimeoutSecs) * time.Second,
		RetryFailed:          flagRetryFailed,
	}
	if flagConcurrency > 0 {
		cfg.MaxConcurrency = flagConcurrency
	}
	if flagTimeout > 0 {
		cfg.RequestTimeout = flagTimeout
	}
	return cfg
}

// readTargets loads the targets file: one owner/repo per line, blank
// lines and # comments skipped.
func readTargets(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening targets file: %w", err)
	}
	defer f.Close()

	var targets []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		targets = append(targets, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading targets file: %w", err)
	}
	if len(targets) == 0 {
		return nil, errors.New("targets file is empty")
	}
	return targets, nil
}

// openSink builds the record sink for the chosen format.
func openSink() (driven.RecordSink, func(), error) {
	switch flagFormat {
	case "csv":
		s, err := sink.NewCSVSink(flagOut)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	case "jsonl":
		s, err := sink.NewJSONLSink(flagOut)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("%w: unknown format %q", domain.ErrInvalidInput, flagFormat)
	}
}

// printSummary renders the run summary tables.
func printSummary(cmd *cobra.Command, summary *domain.Summary) {
	elapsed := summary.FinishedAt.Sub(summary.StartedAt).Round(time.Second)

	t := table.NewWriter()
	t.SetOutputMirror(cmd.OutOrStdout())
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Run", "Done", "Skipped", "Failed", "Pending", "Records", "Elapsed"})
	t.AppendRow(table.Row{
		summary.RunID[:8], summary.Done, summary.Skipped,
		summary.Failed, summary.Pending, summary.Records, elapsed,
	})
	t.Render()

	if len(summary.CredentialUsage) > 0 {
		u := table.NewWriter()
		u.SetOutputMirror(cmd.OutOrStdout())
		u.SetStyle(table.StyleLight)
		u.AppendHeader(table.Row{"Credential", "Requests"})
		ids := make([]string, 0, len(summary.CredentialUsage))
		for id := range summary.CredentialUsage {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			u.AppendRow(table.Row{id, summary.CredentialUsage[id]})
		}
		u.Render()
	}

	if len(summary.FailedKeys) > 0 {
		cmd.Println("Failed units:")
		keys := make([]string, 0, len(summary.FailedKeys))
		for key := range summary.FailedKeys {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			cmd.Printf("  %s: %s\n", key, summary.FailedKeys[key])
		}
		cmd.Println("Re-run with --retry-failed to attempt them again.")
	}
}
