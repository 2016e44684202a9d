package cmd

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gnssops/rinextank/internal/observability"
	"github.com/gnssops/rinextank/pkg/archivestore"
)

var (
	doctorStoreDSN string
	doctorHeadNode string
	doctorS3       bool
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks",
	Long: `Run diagnostic checks on the environment and suggest fixes for common
issues.

Examples:
  rinextank doctor                                   # base environment check
  rinextank doctor --store sqlite://archive.db        # plus store check
  rinextank doctor --head-node nats://head:4222       # plus bus reachability
  rinextank doctor --s3                               # plus AWS credentials`,
	Run: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
	doctorCmd.Flags().StringVar(&doctorStoreDSN, "store", "", "Check the archive database at this DSN")
	doctorCmd.Flags().StringVar(&doctorHeadNode, "head-node", "", "Check message bus reachability at this address")
	doctorCmd.Flags().BoolVar(&doctorS3, "s3", false, "Check AWS credential resolution")
}

func runDoctor(cmd *cobra.Command, args []string) {
	log := observability.CLILogger

	bannerName := "doctor"
	if identity := GetAppIdentity(); identity != nil && identity.BinaryName != "" {
		bannerName = identity.BinaryName + " doctor"
	}
	log.Info("=== " + bannerName + " ===")
	log.Info("")
	log.Info("Running diagnostic checks...")
	log.Info("")

	total := 4
	if doctorStoreDSN != "" {
		total++
	}
	if doctorHeadNode != "" {
		total++
	}
	if doctorS3 {
		total++
	}

	allOK := true
	num := 1

	// Go version
	goVersion := runtime.Version()
	if goVersion >= "go1.23" {
		log.Info(fmt.Sprintf("[%d/%d] Checking Go version... ok %s", num, total, goVersion))
	} else {
		log.Warn(fmt.Sprintf("[%d/%d] Checking Go version... %s (recommended: go1.23+)", num, total, goVersion))
		allOK = false
	}
	num++

	// Schema tooling access
	version := crucible.GetVersion()
	if version.Gofulmen != "" {
		log.Info(fmt.Sprintf("[%d/%d] Checking schema tooling... ok gofulmen v%s", num, total, version.Gofulmen))
	} else {
		log.Error(fmt.Sprintf("[%d/%d] Checking schema tooling... cannot resolve gofulmen version", num, total))
		allOK = false
	}
	num++

	// Config directory
	configDir, err := os.UserConfigDir()
	if err != nil {
		log.Error(fmt.Sprintf("[%d/%d] Checking config directory... not found", num, total), zap.Error(err))
		allOK = false
	} else {
		log.Info(fmt.Sprintf("[%d/%d] Checking config directory... ok %s", num, total, configDir))
	}
	num++

	// Environment
	log.Info(fmt.Sprintf("[%d/%d] Checking environment... ok %s/%s", num, total, runtime.GOOS, runtime.GOARCH))
	num++

	if doctorStoreDSN != "" {
		if checkDoctorStore(cmd.Context(), num, total) {
			num++
		} else {
			num++
			allOK = false
		}
	}
	if doctorHeadNode != "" {
		if checkDoctorBus(num, total) {
			num++
		} else {
			num++
			allOK = false
		}
	}
	if doctorS3 {
		if !checkDoctorAWS(cmd.Context(), num, total) {
			allOK = false
		}
	}

	log.Info("")
	if allOK {
		log.Info(fmt.Sprintf("All checks passed. Your %s installation is healthy.", bannerName))
	} else {
		log.Warn("Some checks failed. Review the output above for details.")
	}
	log.Info("")
	log.Info("=== End Diagnostics ===")
}

func checkDoctorStore(ctx context.Context, num, total int) bool {
	log := observability.CLILogger

	store, err := archivestore.Open(ctx, doctorStoreDSN)
	if err != nil {
		log.Error(fmt.Sprintf("[%d/%d] Checking archive store... cannot open", num, total), zap.Error(err))
		return false
	}
	defer func() { _ = store.Close() }()

	if err := store.Ping(ctx); err != nil {
		log.Error(fmt.Sprintf("[%d/%d] Checking archive store... unreachable", num, total), zap.Error(err))
		return false
	}
	log.Info(fmt.Sprintf("[%d/%d] Checking archive store... ok (%s)", num, total, store.Driver()))
	return true
}

func checkDoctorBus(num, total int) bool {
	log := observability.CLILogger

	nc, err := nats.Connect(doctorHeadNode,
		nats.Name("rinextank-doctor"),
		nats.Timeout(5*time.Second),
		nats.RetryOnFailedConnect(false))
	if err != nil {
		log.Error(fmt.Sprintf("[%d/%d] Checking message bus... unreachable at %s", num, total, doctorHeadNode), zap.Error(err))
		return false
	}
	defer nc.Close()

	log.Info(fmt.Sprintf("[%d/%d] Checking message bus... ok %s (server %s)", num, total, doctorHeadNode, nc.ConnectedServerVersion()))
	return true
}

func checkDoctorAWS(ctx context.Context, num, total int) bool {
	log := observability.CLILogger

	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		log.Error(fmt.Sprintf("[%d/%d] Checking AWS credentials... cannot load config", num, total), zap.Error(err))
		printAWSCredentialsHelp()
		return false
	}
	creds, err := cfg.Credentials.Retrieve(ctx)
	if err != nil {
		log.Error(fmt.Sprintf("[%d/%d] Checking AWS credentials... cannot retrieve credentials", num, total), zap.Error(err))
		printAWSCredentialsHelp()
		return false
	}

	log.Info(fmt.Sprintf("[%d/%d] Checking AWS credentials... ok %s", num, total, maskAccessKey(creds.AccessKeyID)),
		zap.String("source", creds.Source))
	return true
}

// maskAccessKey masks all but the last 4 characters of an access key.
func maskAccessKey(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return "****" + key[len(key)-4:]
}

func printAWSCredentialsHelp() {
	log := observability.CLILogger
	log.Info("")
	log.Info("To configure AWS credentials:")
	log.Info("  1. Set AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY environment variables, or")
	log.Info("  2. Run 'aws configure' to set up a profile, or")
	log.Info("  3. Use an IAM role when running on AWS infrastructure")
	log.Info("")
	log.Info("For S3-compatible mirrors (MinIO, Wasabi, etc.), also set the endpoint")
	log.Info("in the manifest archive section or with --endpoint.")
	log.Info("")
}
