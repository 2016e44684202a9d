package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/gnssops/rinextank/pkg/manifest"
	"github.com/gnssops/rinextank/pkg/preflight"
)

var preflightCmd = &cobra.Command{
	Use:   "preflight",
	Short: "Check the environment before a campaign run",
	Long: `Check that the environment a campaign manifest describes is ready:
archive root readable, repository layout present, store reachable,
output writable, mirror credentials valid, cluster head node
connectable.

Modes:
  plan   validate the manifest only, touch nothing
  check  read-safe environment checks (default)
  probe  check plus a one-shot cluster connect

Examples:
  rinextank preflight --manifest campaign.yaml
  rinextank preflight --manifest campaign.yaml --mode probe
  rinextank preflight --manifest campaign.yaml --json`,
	RunE: runPreflight,
}

var (
	preflightManifestPath string
	preflightMode         string
	preflightJSON         bool
	preflightTimeout      time.Duration
)

func init() {
	rootCmd.AddCommand(preflightCmd)

	preflightCmd.Flags().StringVarP(&preflightManifestPath, "manifest", "m", "", "Campaign manifest (required)")
	preflightCmd.Flags().StringVar(&preflightMode, "mode", "check", "Check depth (plan|check|probe)")
	preflightCmd.Flags().BoolVar(&preflightJSON, "json", false, "Emit the record as JSON")
	preflightCmd.Flags().DurationVar(&preflightTimeout, "connect-timeout", 0, "Cluster connect timeout for probe mode (default 5s)")

	_ = preflightCmd.MarkFlagRequired("manifest")
}

func runPreflight(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	m, err := manifest.Load(preflightManifestPath)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid manifest", err)
	}

	mode := preflight.Mode(preflightMode)
	switch mode {
	case preflight.ModePlan, preflight.ModeCheck, preflight.ModeProbe:
	default:
		return exitError(foundry.ExitInvalidArgument, "Invalid --mode value",
			fmt.Errorf("unsupported preflight mode: %s", preflightMode))
	}

	rec, err := preflight.Run(ctx, preflight.Config{
		Mode:           mode,
		Manifest:       m,
		ConnectTimeout: preflightTimeout,
	})
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Preflight could not run", err)
	}

	if preflightJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(rec); err != nil {
			return exitError(foundry.ExitFileWriteError, "Failed to encode record", err)
		}
	} else {
		printPreflightRecord(rec)
	}

	if !rec.OK {
		failed := rec.Failed()
		return exitError(foundry.ExitExternalServiceUnavailable, "Preflight failed",
			fmt.Errorf("%d of %d checks failed", len(failed), len(rec.Checks)))
	}
	return nil
}

func printPreflightRecord(rec *preflight.Record) {
	fmt.Printf("preflight %s (mode %s)\n\n", rec.StartedAt.Format(time.RFC3339), rec.Mode)
	for _, c := range rec.Checks {
		mark := "ok"
		if !c.OK {
			mark = "FAIL"
		}
		fmt.Printf("  %-22s %-6s %-30s %s\n", c.Name, mark, c.Target, c.Detail)
		if c.Err != "" {
			fmt.Printf("  %-22s %-6s %s\n", "", "", c.Err)
		}
	}
	fmt.Println()
	if rec.OK {
		fmt.Printf("all %d checks passed in %s\n", len(rec.Checks), rec.Elapsed.Round(time.Millisecond))
	} else {
		fmt.Printf("%d of %d checks failed\n", len(rec.Failed()), len(rec.Checks))
	}
}
