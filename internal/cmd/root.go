// Package cmd implements the rinextank command tree.
package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/gnssops/rinextank/internal/config"
	"github.com/gnssops/rinextank/internal/observability"
	"github.com/gnssops/rinextank/internal/server/handlers"
)

// VersionInfo carries the build stamp injected at link time.
type VersionInfo struct {
	Version   string
	Commit    string
	BuildDate string
}

var versionInfo = VersionInfo{Version: "dev"}

// SetVersionInfo installs the build stamp before Execute.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo = VersionInfo{Version: version, Commit: commit, BuildDate: buildDate}
	handlers.SetVersionInfo(version, commit, buildDate)
}

// AppIdentity pins the naming used for env vars and config discovery.
type AppIdentity struct {
	BinaryName string
	EnvPrefix  string
	ConfigName string
}

var appIdentity *AppIdentity

// GetAppIdentity returns the identity, or nil before initialization.
func GetAppIdentity() *AppIdentity {
	return appIdentity
}

func initIdentity() {
	appIdentity = &AppIdentity{
		BinaryName: "rinextank",
		EnvPrefix:  "RINEXTANK",
		ConfigName: "rinextank",
	}
}

var (
	rootLogLevel   string
	rootLogProfile string
	rootLogFile    string
)

var rootCmd = &cobra.Command{
	Use:   "rinextank",
	Short: "GNSS archive scanner and cluster verification coordinator",
	Long: `rinextank walks GNSS data archives, classifies RINEX filenames, and
verifies that the processing cluster behind an archive is usable.

Scans emit JSONL records and persist entries to the archive database.
Cluster verification probes every configured node over the message bus
and reduces the answers to a single verdict.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		initIdentity()
		setDefaults()
		return initLogging()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&rootLogLevel, "log-level", "info", "Log level (debug|info|warn|error)")
	rootCmd.PersistentFlags().StringVar(&rootLogProfile, "log-profile", "console", "Log output profile (structured|console)")
	rootCmd.PersistentFlags().StringVar(&rootLogFile, "log-file", "", "Duplicate logs to a rotating file")
}

// setDefaults seeds the global viper instance so commands that read
// config keys directly see the same defaults as the config loader.
func setDefaults() {
	viper.SetDefault("server.host", "localhost")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "30s")
	viper.SetDefault("server.idle_timeout", "120s")
	viper.SetDefault("server.shutdown_timeout", "10s")

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.profile", "structured")

	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.port", 9090)

	viper.SetDefault("health.enabled", true)

	viper.SetDefault("archive.source", "fs")

	viper.SetDefault("cluster.enabled", false)
	viper.SetDefault("cluster.ping_interval", "5s")
	viper.SetDefault("cluster.deadline", "60s")
	viper.SetDefault("cluster.subject_prefix", "rinextank")
	viper.SetDefault("cluster.purpose", "liveness")

	viper.SetDefault("workers", 4)

	viper.SetDefault("debug.enabled", false)
	viper.SetDefault("debug.pprof_enabled", false)
}

func initLogging() error {
	return observability.Init(config.LoggingConfig{
		Level:   rootLogLevel,
		Profile: rootLogProfile,
		File:    rootLogFile,
	})
}

// Execute runs the command tree and maps command errors to process exit
// codes. Only this function terminates the process.
func Execute() {
	defer observability.Sync()

	if err := rootCmd.Execute(); err != nil {
		code := 1
		var coded *exitCodeError
		if errors.As(err, &coded) {
			code = coded.code
		}
		observability.CLILogger.Error(err.Error())
		observability.Sync()
		os.Exit(code)
	}
}

// exitCodeError carries a process exit code alongside the cause.
type exitCodeError struct {
	code    int
	message string
	err     error
}

func (e *exitCodeError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.message, e.err)
	}
	return e.message
}

func (e *exitCodeError) Unwrap() error { return e.err }

// exitError creates an error that makes the CLI exit with the given
// code.
func exitError(code int, message string, err error) error {
	return &exitCodeError{code: code, message: message, err: err}
}

// ExitWithCode logs the error and terminates immediately. Reserved for
// unrecoverable situations inside Run-style commands.
func ExitWithCode(log *zap.Logger, code int, message string, err error) {
	if err != nil {
		log.Error(message, zap.Error(err))
	} else {
		log.Error(message)
	}
	observability.Sync()
	os.Exit(code)
}
