package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/gnssops/rinextank/pkg/archivestore"
)

var storeCmd = &cobra.Command{
	Use:   "store",
	Short: "Administer the archive database",
	Long: `Administer the archive database that persists classified entries and
run history.

The DSN selects the driver: postgres://... for PostgreSQL,
sqlite://path or a bare filesystem path for SQLite.

Examples:
  rinextank store migrate --dsn sqlite:///var/lib/rinextank/archive.db
  rinextank store stats --dsn postgres://rinextank@db.internal/archive
  rinextank store runs --dsn sqlite://archive.db --kind verify --limit 10`,
}

var (
	storeDSN       string
	storeRunsKind  string
	storeRunsLimit int
	storeJSON      bool
)

var storeMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE:  runStoreMigrate,
}

var storeStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show entry statistics",
	RunE:  runStoreStats,
}

var storeRunsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recorded runs",
	RunE:  runStoreRuns,
}

func init() {
	rootCmd.AddCommand(storeCmd)
	storeCmd.AddCommand(storeMigrateCmd)
	storeCmd.AddCommand(storeStatsCmd)
	storeCmd.AddCommand(storeRunsCmd)

	storeCmd.PersistentFlags().StringVar(&storeDSN, "dsn", "", "Archive database DSN (required)")
	storeCmd.PersistentFlags().BoolVar(&storeJSON, "json", false, "Emit JSON instead of a table")
	_ = storeCmd.MarkPersistentFlagRequired("dsn")

	storeRunsCmd.Flags().StringVar(&storeRunsKind, "kind", "", "Filter by run kind (scan|verify)")
	storeRunsCmd.Flags().IntVar(&storeRunsLimit, "limit", 20, "Maximum runs to list")
}

func openStore(ctx context.Context) (*archivestore.Store, error) {
	store, err := archivestore.Open(ctx, storeDSN)
	if err != nil {
		return nil, err
	}
	return store, nil
}

func runStoreMigrate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	store, err := openStore(ctx)
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to open store", err)
	}
	defer func() { _ = store.Close() }()

	if err := store.Migrate(ctx); err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Migration failed", err)
	}
	fmt.Printf("schema up to date (%s)\n", store.Driver())
	return nil
}

func runStoreStats(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	store, err := openStore(ctx)
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to open store", err)
	}
	defer func() { _ = store.Close() }()

	stats, err := store.EntryStats(ctx)
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to read stats", err)
	}

	if storeJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	}

	fmt.Printf("entries:    %d\n", stats.Total)
	fmt.Printf("stations:   %d\n", stats.Stations)
	fmt.Printf("unassigned: %d\n", stats.Unassigned)
	if len(stats.ByKind) > 0 {
		fmt.Println("by kind:")
		for kind, count := range stats.ByKind {
			fmt.Printf("  %-16s %d\n", kind, count)
		}
	}
	return nil
}

func runStoreRuns(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	kind := archivestore.RunKind(storeRunsKind)
	switch kind {
	case "", archivestore.RunKindScan, archivestore.RunKindVerify:
	default:
		return exitError(foundry.ExitInvalidArgument, "Invalid --kind value",
			fmt.Errorf("kind must be scan or verify"))
	}

	store, err := openStore(ctx)
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to open store", err)
	}
	defer func() { _ = store.Close() }()

	runs, err := store.ListRuns(ctx, kind, storeRunsLimit)
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to list runs", err)
	}

	if storeJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(runs)
	}

	if len(runs) == 0 {
		fmt.Println("no runs recorded")
		return nil
	}
	fmt.Printf("%-36s %-7s %-8s %-24s %8s %7s\n", "RUN", "KIND", "STATUS", "STARTED", "ENTRIES", "ERRORS")
	for _, r := range runs {
		fmt.Printf("%-36s %-7s %-8s %-24s %8d %7d\n",
			r.ID, r.Kind, r.Status, r.StartedAt.Format(time.RFC3339), r.Entries, r.Errors)
	}
	return nil
}
