package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("rinextank %s\n", versionInfo.Version)
		if versionInfo.Commit != "" {
			fmt.Printf("  commit:     %s\n", versionInfo.Commit)
		}
		if versionInfo.BuildDate != "" {
			fmt.Printf("  build date: %s\n", versionInfo.BuildDate)
		}
		fmt.Printf("  go version: %s\n", runtime.Version())
		fmt.Printf("  platform:   %s/%s\n", runtime.GOOS, runtime.GOARCH)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
