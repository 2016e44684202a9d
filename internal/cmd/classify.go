package cmd

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/gnssops/rinextank/pkg/rinex"
)

var classifyJSON bool

var classifyCmd = &cobra.Command{
	Use:   "classify <name>...",
	Short: "Classify RINEX filenames against the archive grammar",
	Long: `Classify one or more filenames against the RINEX naming grammar and
print what the scanner would record for each. A single "-" reads names
from stdin, one per line.

Examples:
  rinextank classify algo0320.21d.Z
  rinextank classify --json brmu0010.21o wtzr0320.21n bogus.txt
  find /archive -type f -printf '%f\n' | rinextank classify -`,
	Args: cobra.MinimumNArgs(1),
	RunE: runClassify,
}

func init() {
	rootCmd.AddCommand(classifyCmd)
	classifyCmd.Flags().BoolVar(&classifyJSON, "json", false, "Emit one JSON object per name")
}

func runClassify(cmd *cobra.Command, args []string) error {
	names := args
	if len(args) == 1 && args[0] == "-" {
		names = nil
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			if line := sc.Text(); line != "" {
				names = append(names, line)
			}
		}
		if err := sc.Err(); err != nil {
			return exitError(foundry.ExitFileReadError, "Failed to read names from stdin", err)
		}
	}

	unmatched := 0
	enc := json.NewEncoder(os.Stdout)
	for _, name := range names {
		entry, ok := rinex.Classify(name)
		if !ok {
			unmatched++
			if classifyJSON {
				_ = enc.Encode(map[string]any{"name": name, "matched": false})
			} else {
				fmt.Printf("%-40s no match\n", name)
			}
			continue
		}
		if classifyJSON {
			_ = enc.Encode(map[string]any{"name": name, "matched": true, "entry": entry})
		} else {
			fmt.Printf("%-40s %-14s station=%s doy=%03d session=%s year=%d\n",
				name, entry.Kind, entry.Station, entry.DayOfYear, entry.Session, entry.FullYear())
		}
	}

	if unmatched == len(names) && len(names) > 0 {
		return exitError(foundry.ExitInvalidArgument, "No name classified", fmt.Errorf("%d of %d names unmatched", unmatched, len(names)))
	}
	return nil
}
