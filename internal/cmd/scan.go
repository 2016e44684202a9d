package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gnssops/rinextank/internal/metrics"
	"github.com/gnssops/rinextank/internal/observability"
	"github.com/gnssops/rinextank/pkg/archivestore"
	"github.com/gnssops/rinextank/pkg/manifest"
	"github.com/gnssops/rinextank/pkg/match"
	"github.com/gnssops/rinextank/pkg/mirror"
	s3mirror "github.com/gnssops/rinextank/pkg/mirror/s3"
	"github.com/gnssops/rinextank/pkg/output"
	"github.com/gnssops/rinextank/pkg/repository"
	"github.com/gnssops/rinextank/pkg/rinex"
	"github.com/gnssops/rinextank/pkg/scanner"
	"github.com/gnssops/rinextank/pkg/scope"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan an archive and classify every file",
	Long: `Scan an archive tree (or its object-store mirror) and classify every
filename against the RINEX grammar. Classified entries are emitted as
JSONL records and, with --store, persisted to the archive database.

Unreadable subtrees never abort the scan; they are recorded per path
and counted in the summary. Use --strict to turn them into a failure.

Examples:
  rinextank scan --root /data/gnss/archive
  rinextank scan --manifest campaign.yaml --out results.jsonl
  rinextank scan --source s3://gnss-mirror/archive --region eu-west-1
  rinextank scan --root /data/gnss/archive --store sqlite:///var/lib/rinextank/archive.db
  rinextank scan --root /data/intake --repository /data/repo --quarantine`,
	RunE: runScan,
}

var (
	scanManifestPath string
	scanRoot         string
	scanSource       string
	scanInclude      []string
	scanExclude      []string
	scanHidden       bool
	scanConcurrency  int
	scanRateLimit    float64
	scanOut          string
	scanStoreDSN     string
	scanRepository   string
	scanQuarantine   bool
	scanDryRun       bool
	scanStrict       bool
	scanRegion       string
	scanEndpoint     string
	scanProfile      string
)

func init() {
	rootCmd.AddCommand(scanCmd)

	scanCmd.Flags().StringVarP(&scanManifestPath, "manifest", "m", "", "Campaign manifest (YAML or JSON)")
	scanCmd.Flags().StringVar(&scanRoot, "root", "", "Archive tree root (fs source)")
	scanCmd.Flags().StringVar(&scanSource, "source", "", "Archive source: fs or s3://bucket/prefix")
	scanCmd.Flags().StringSliceVar(&scanInclude, "include", nil, "Glob patterns paths must match")
	scanCmd.Flags().StringSliceVar(&scanExclude, "exclude", nil, "Glob patterns to skip")
	scanCmd.Flags().BoolVar(&scanHidden, "include-hidden", false, "Visit dot-prefixed files and directories")
	scanCmd.Flags().IntVar(&scanConcurrency, "concurrency", 0, "Directory reads or listings in flight (default 4)")
	scanCmd.Flags().Float64Var(&scanRateLimit, "rate-limit", 0, "Mirror listing requests per second (0 = unlimited)")
	scanCmd.Flags().StringVarP(&scanOut, "out", "o", "", "JSONL output path (default stdout)")
	scanCmd.Flags().StringVar(&scanStoreDSN, "store", "", "Archive database DSN")
	scanCmd.Flags().StringVar(&scanRepository, "repository", "", "Intake repository root")
	scanCmd.Flags().BoolVar(&scanQuarantine, "quarantine", false, "Move unclassifiable files into data_rejected (needs --repository)")
	scanCmd.Flags().BoolVar(&scanDryRun, "dry-run", false, "Validate configuration and show the plan without scanning")
	scanCmd.Flags().BoolVar(&scanStrict, "strict", false, "Treat traversal errors as failure")
	scanCmd.Flags().StringVar(&scanRegion, "region", "", "AWS region for s3 sources")
	scanCmd.Flags().StringVar(&scanEndpoint, "endpoint", "", "Custom S3 endpoint")
	scanCmd.Flags().StringVar(&scanProfile, "profile", "", "AWS credential profile")
}

func runScan(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	m, err := scanManifest()
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid scan configuration", err)
	}

	if scanQuarantine && m.Archive.Repository == "" {
		return exitError(foundry.ExitInvalidArgument, "Invalid scan configuration",
			fmt.Errorf("--quarantine requires a repository root"))
	}
	if scanQuarantine && m.Archive.Source != manifest.SourceFS {
		return exitError(foundry.ExitInvalidArgument, "Invalid scan configuration",
			fmt.Errorf("--quarantine only applies to fs sources"))
	}

	if scanDryRun {
		return showScanPlan(m)
	}

	return executeScan(ctx, m)
}

// scanManifest assembles the effective manifest: the --manifest file when
// given, overlaid with flag overrides, then defaulted and validated.
func scanManifest() (*manifest.Manifest, error) {
	var m *manifest.Manifest
	if scanManifestPath != "" {
		loaded, err := manifest.Load(scanManifestPath)
		if err != nil {
			return nil, err
		}
		m = loaded
	} else {
		m = &manifest.Manifest{Version: manifest.CurrentVersion}
	}

	if scanRoot != "" {
		m.Archive.Root = scanRoot
	}
	if scanSource != "" {
		if err := applySourceFlag(m, scanSource); err != nil {
			return nil, err
		}
	}
	if scanRegion != "" {
		m.Archive.Region = scanRegion
	}
	if scanEndpoint != "" {
		m.Archive.Endpoint = scanEndpoint
	}
	if scanProfile != "" {
		m.Archive.Profile = scanProfile
	}
	if scanRepository != "" {
		m.Archive.Repository = scanRepository
	}
	if len(scanInclude) > 0 {
		m.Filters.Include = scanInclude
	}
	if len(scanExclude) > 0 {
		m.Filters.Exclude = scanExclude
	}
	if scanHidden {
		m.Filters.IncludeHidden = true
	}
	if scanConcurrency > 0 {
		m.Limits.Concurrency = scanConcurrency
	}
	if scanRateLimit > 0 {
		m.Limits.RequestsPerSecond = scanRateLimit
	}
	if scanOut != "" {
		m.Output.Path = scanOut
	}
	if scanStoreDSN != "" {
		m.Store.DSN = scanStoreDSN
	}

	m.ApplyDefaults()
	if err := m.ValidateSemantics(); err != nil {
		return nil, err
	}
	return m, nil
}

// applySourceFlag interprets --source: the literal "fs", or an
// s3://bucket/prefix URI.
func applySourceFlag(m *manifest.Manifest, src string) error {
	if src == manifest.SourceFS {
		m.Archive.Source = manifest.SourceFS
		return nil
	}
	if !strings.HasPrefix(src, "s3://") {
		return fmt.Errorf("unsupported --source value %q (use fs or s3://bucket/prefix)", src)
	}
	rest := strings.TrimPrefix(src, "s3://")
	bucket, prefix, _ := strings.Cut(rest, "/")
	if bucket == "" {
		return fmt.Errorf("missing bucket in --source %q", src)
	}
	m.Archive.Source = manifest.SourceS3
	m.Archive.Bucket = bucket
	m.Archive.Root = prefix
	return nil
}

func showScanPlan(m *manifest.Manifest) error {
	fmt.Println("=== Scan Plan (dry-run) ===")
	fmt.Println()
	fmt.Printf("Source:      %s\n", m.Archive.Source)
	if m.Archive.Source == manifest.SourceS3 {
		fmt.Printf("Bucket:      %s\n", m.Archive.Bucket)
		if m.Archive.Region != "" {
			fmt.Printf("Region:      %s\n", m.Archive.Region)
		}
		if m.Archive.Endpoint != "" {
			fmt.Printf("Endpoint:    %s\n", m.Archive.Endpoint)
		}
		fmt.Printf("Prefix:      %s\n", m.Archive.Root)
	} else {
		fmt.Printf("Root:        %s\n", m.Archive.Root)
	}
	if m.Archive.Repository != "" {
		fmt.Printf("Repository:  %s\n", m.Archive.Repository)
	}
	if m.Campaign != nil {
		fmt.Println()
		fmt.Printf("Campaign:    %s\n", m.Campaign.Name)
		if len(m.Campaign.Networks) > 0 {
			fmt.Printf("  Networks:  %s\n", strings.Join(m.Campaign.Networks, ", "))
		}
		if len(m.Campaign.Stations) > 0 {
			fmt.Printf("  Stations:  %s\n", strings.Join(m.Campaign.Stations, ", "))
		}
		if len(m.Campaign.Years) > 0 {
			fmt.Printf("  Years:     %v\n", m.Campaign.Years)
		}
	}
	if len(m.Filters.Include) > 0 || len(m.Filters.Exclude) > 0 {
		fmt.Println()
		fmt.Println("Filters:")
		for _, p := range m.Filters.Include {
			fmt.Printf("  include: %s\n", p)
		}
		for _, p := range m.Filters.Exclude {
			fmt.Printf("  exclude: %s\n", p)
		}
	}
	fmt.Println()
	fmt.Printf("Concurrency: %d\n", m.Limits.Concurrency)
	if m.Limits.RequestsPerSecond > 0 {
		fmt.Printf("Rate Limit:  %.1f req/s\n", m.Limits.RequestsPerSecond)
	}
	if m.Store.DSN != "" {
		fmt.Printf("Store:       %s\n", m.Store.DSN)
	}
	out := m.Output.Path
	if out == "" || out == "-" {
		out = "stdout"
	}
	fmt.Printf("Output:      %s\n", out)
	fmt.Println()
	fmt.Println("Configuration validated. Remove --dry-run to execute.")
	return nil
}

func executeScan(ctx context.Context, m *manifest.Manifest) error {
	runID := uuid.NewString()

	writer, cleanup, err := createScanWriter(m, runID)
	if err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to create output", err)
	}
	defer cleanup()

	matcher, err := scanMatcher(m)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid filter patterns", err)
	}

	store, _, storeRunID, err := openScanStore(ctx, m)
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to open archive store", err)
	}
	if store != nil {
		defer func() { _ = store.Close() }()
		runID = storeRunID
	}

	var (
		quarantineMu    sync.Mutex
		quarantinePaths []string
	)
	cfg := scanner.Config{
		Concurrency:   m.Limits.Concurrency,
		RateLimit:     m.Limits.RequestsPerSecond,
		Matcher:       matcher,
		IncludeHidden: m.Filters.IncludeHidden,
		Logger:        observability.Logger(),
	}
	if scanQuarantine {
		cfg.OnUnclassified = func(path string) {
			quarantineMu.Lock()
			quarantinePaths = append(quarantinePaths, path)
			quarantineMu.Unlock()
		}
	}
	sc := scanner.New(cfg)

	observability.CLILogger.Info("Starting scan",
		zap.String("run_id", runID),
		zap.String("source", m.Archive.Source),
		zap.String("root", m.Archive.Root),
		zap.Int("concurrency", m.Limits.Concurrency))

	res, scanErr := runScanner(ctx, sc, m)
	if scanErr != nil && res == nil {
		if store != nil {
			_ = store.FinishRun(ctx, runID, archivestore.RunStatusFailed, 0, 0, scanErr.Error())
		}
		return exitError(foundry.ExitFileReadError, "Scan failed", scanErr)
	}
	if scanErr != nil {
		// Cancelled mid-run; record what we have and report the
		// interruption.
		finishScanRun(ctx, store, runID, archivestore.RunStatusFailed, res, scanErr.Error())
		return exitError(foundry.ExitSignalInt, "Scan cancelled", scanErr)
	}

	entries := res.Entries
	if m.Campaign != nil {
		entries, err = filterByCampaign(m.Campaign, entries)
		if err != nil {
			finishScanRun(ctx, store, runID, archivestore.RunStatusFailed, res, err.Error())
			return exitError(foundry.ExitInvalidArgument, "Campaign scope rejected the scan", err)
		}
	}

	for _, e := range entries {
		metrics.ObserveEntry(string(e.Kind))
		if err := writer.WriteEntry(ctx, e); err != nil {
			observability.CLILogger.Warn("Failed to write entry record", zap.Error(err))
		}
	}
	for _, te := range res.Errors {
		metrics.ObserveTraversalError()
		rec := &output.TraversalErrorRecord{Path: te.Path, Message: te.Err.Error()}
		if err := writer.WriteTraversalError(ctx, rec); err != nil {
			observability.CLILogger.Warn("Failed to write traversal error record", zap.Error(err))
		}
	}

	if store != nil {
		if err := store.UpsertEntries(ctx, runID, entries); err != nil {
			finishScanRun(ctx, store, runID, archivestore.RunStatusFailed, res, err.Error())
			return exitError(foundry.ExitExternalServiceUnavailable, "Failed to persist entries", err)
		}
	}

	rejected, quarantineErrs := quarantineFiles(ctx, m, quarantinePaths)

	stats := sc.Stats()
	metrics.ObserveScan(stats.Duration)
	sum := &output.SummaryRecord{
		Root:            m.Archive.Root,
		DirsVisited:     stats.DirsVisited,
		FilesSeen:       stats.FilesSeen,
		EntriesMatched:  int64(len(entries)),
		TraversalErrors: int64(len(res.Errors)),
		Duration:        stats.Duration,
		DurationHuman:   stats.Duration.Round(time.Millisecond).String(),
	}
	if matcher != nil {
		sum.Prefixes = matcher.Prefixes()
	}
	if err := writer.WriteSummary(ctx, sum); err != nil {
		observability.CLILogger.Warn("Failed to write summary record", zap.Error(err))
	}

	status := archivestore.RunStatusSuccess
	if len(res.Errors) > 0 || quarantineErrs > 0 {
		status = archivestore.RunStatusPartial
	}
	finishScanRun(ctx, store, runID, status, res, "")
	if store != nil {
		_ = store.AppendEvent(ctx, runID, "info",
			fmt.Sprintf("scan finished: %d entries, %d traversal errors", len(entries), len(res.Errors)))
	}

	observability.CLILogger.Info("Scan completed",
		zap.String("run_id", runID),
		zap.Int64("dirs_visited", stats.DirsVisited),
		zap.Int64("files_seen", stats.FilesSeen),
		zap.Int("entries", len(entries)),
		zap.Int("traversal_errors", len(res.Errors)),
		zap.Int("quarantined", rejected),
		zap.Duration("duration", stats.Duration))

	if scanStrict && (len(res.Errors) > 0 || quarantineErrs > 0) {
		return exitError(foundry.ExitFileReadError, "Scan completed with errors",
			fmt.Errorf("%d traversal errors, %d quarantine failures", len(res.Errors), quarantineErrs))
	}
	if len(res.Errors) > 0 {
		observability.CLILogger.Warn("Scan had traversal errors",
			zap.Int("count", len(res.Errors)))
	}
	return nil
}

func runScanner(ctx context.Context, sc *scanner.Scanner, m *manifest.Manifest) (*scanner.Result, error) {
	if m.Archive.Source == manifest.SourceS3 {
		mir, err := openScanMirror(ctx, m)
		if err != nil {
			return nil, err
		}
		defer func() { _ = mir.Close() }()
		return sc.ScanMirror(ctx, mir, m.Archive.Root)
	}
	return sc.Scan(ctx, m.Archive.Root)
}

func openScanMirror(ctx context.Context, m *manifest.Manifest) (mirror.Provider, error) {
	return s3mirror.New(ctx, s3mirror.Config{
		Bucket:   m.Archive.Bucket,
		Region:   m.Archive.Region,
		Endpoint: m.Archive.Endpoint,
		Profile:  m.Archive.Profile,
		// S3-compatible stores behind custom endpoints need path-style
		// addressing.
		ForcePathStyle: m.Archive.Endpoint != "",
	})
}

func scanMatcher(m *manifest.Manifest) (*match.Matcher, error) {
	if len(m.Filters.Include) == 0 && len(m.Filters.Exclude) == 0 {
		return nil, nil
	}
	return match.Compile(match.Config{
		Includes:      m.Filters.Include,
		Excludes:      m.Filters.Exclude,
		IncludeHidden: m.Filters.IncludeHidden,
	})
}

// openScanStore opens the archive store and begins the run record.
// Returns a nil store when no DSN is configured.
func openScanStore(ctx context.Context, m *manifest.Manifest) (*archivestore.Store, string, string, error) {
	if m.Store.DSN == "" {
		return nil, "", "", nil
	}
	store, err := archivestore.Open(ctx, m.Store.DSN)
	if err != nil {
		return nil, "", "", err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, "", "", err
	}

	scopeHash := ""
	if m.Campaign != nil {
		if scopeHash, err = scope.Hash(m.Campaign); err != nil {
			_ = store.Close()
			return nil, "", "", err
		}
	}
	runID, err := store.BeginRun(ctx, archivestore.RunKindScan, scopeHash)
	if err != nil {
		_ = store.Close()
		return nil, "", "", err
	}
	return store, scopeHash, runID, nil
}

func finishScanRun(ctx context.Context, store *archivestore.Store, runID string, status archivestore.RunStatus, res *scanner.Result, detail string) {
	if store == nil {
		return
	}
	var entries, errs int64
	if res != nil {
		entries = int64(len(res.Entries))
		errs = int64(len(res.Errors))
	}
	if err := store.FinishRun(ctx, runID, status, entries, errs, detail); err != nil {
		observability.CLILogger.Warn("Failed to finish run record", zap.Error(err))
	}
}

func filterByCampaign(c *scope.Campaign, entries []rinex.Entry) ([]rinex.Entry, error) {
	kept := entries[:0]
	for _, e := range entries {
		ok, err := c.Allows(e)
		if err != nil {
			return nil, err
		}
		if ok {
			kept = append(kept, e)
		}
	}
	return kept, nil
}

// quarantineFiles moves collected unclassifiable paths into the
// repository's data_rejected directory. Returns moved count and failure
// count.
func quarantineFiles(ctx context.Context, m *manifest.Manifest, paths []string) (int, int) {
	if !scanQuarantine || len(paths) == 0 {
		return 0, 0
	}
	layout := repository.NewLayout(m.Archive.Repository)
	if err := layout.Ensure(ctx); err != nil {
		observability.CLILogger.Warn("Failed to prepare repository layout", zap.Error(err))
		return 0, len(paths)
	}

	moved, failed := 0, 0
	for _, p := range paths {
		dest, err := layout.Reject(p)
		if err != nil {
			failed++
			observability.CLILogger.Warn("Failed to quarantine file",
				zap.String("path", p), zap.Error(err))
			continue
		}
		moved++
		observability.Logger().Info("quarantined file",
			zap.String("path", p), zap.String("dest", dest))
	}
	return moved, failed
}

// createScanWriter resolves the output destination: stdout, or a file.
func createScanWriter(m *manifest.Manifest, runID string) (output.Writer, func(), error) {
	dest := m.Output.Path
	source := m.Archive.Source

	if dest == "" || dest == "-" || dest == "stdout" {
		w := output.NewJSONLWriter(os.Stdout, runID, source)
		return w, func() { _ = w.Close() }, nil
	}

	path := strings.TrimPrefix(dest, "file:")
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("create output file %s: %w", path, err)
	}
	w := output.NewJSONLWriter(f, runID, source)
	cleanup := func() {
		_ = w.Close()
		_ = f.Close()
	}
	return w, cleanup, nil
}
