package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gnssops/rinextank/internal/config"
	"github.com/gnssops/rinextank/internal/observability"
	"github.com/gnssops/rinextank/internal/server"
	"github.com/gnssops/rinextank/internal/server/handlers"
	"github.com/gnssops/rinextank/pkg/archivestore"
	"github.com/gnssops/rinextank/pkg/repository"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP service",
	Long: `Run the HTTP service: health probes, version, Prometheus metrics, and
the read-only status API over the archive store.

Configuration comes from rinextank.yaml and RINEXTANK_* environment
variables; flags override both.

Examples:
  rinextank serve
  rinextank serve --port 9000 --store sqlite:///var/lib/rinextank/archive.db`,
	RunE: runServe,
}

var (
	serveHost     string
	servePort     int
	serveStoreDSN string
)

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveHost, "host", "", "Bind host (overrides config)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Bind port (overrides config)")
	serveCmd.Flags().StringVar(&serveStoreDSN, "store", "", "Archive database DSN (overrides config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	overrides := serveOverrides()
	cfg, err := config.Load(ctx, overrides)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}

	if err := observability.Init(cfg.Logging); err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid logging configuration", err)
	}
	log := observability.Logger()

	handlers.InitHealthManager(versionInfo.Version)
	manager := handlers.GetHealthManager()
	manager.RegisterChecker("identity", identityHealthChecker{
		binaryName: appIdentity.BinaryName,
		envPrefix:  appIdentity.EnvPrefix,
		configName: appIdentity.ConfigName,
	})

	var store *archivestore.Store
	if cfg.Store.DSN != "" {
		store, err = archivestore.Open(ctx, cfg.Store.DSN)
		if err != nil {
			return exitError(foundry.ExitExternalServiceUnavailable, "Failed to open archive store", err)
		}
		defer func() { _ = store.Close() }()
		if err := store.Migrate(ctx); err != nil {
			return exitError(foundry.ExitExternalServiceUnavailable, "Store migration failed", err)
		}
		manager.RegisterChecker("store", storeHealthChecker{store: store})
	}

	if cfg.Archive.Repository != "" {
		manager.RegisterChecker("repository", layoutHealthChecker{
			layout: repository.NewLayout(cfg.Archive.Repository),
		})
	}

	srv := server.New(cfg.Server.Host, cfg.Server.Port,
		server.WithStore(store),
		server.WithMetrics(cfg.Metrics.Enabled),
		server.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.IdleTimeout),
	)

	log.Info("starting http service",
		zap.String("host", cfg.Server.Host),
		zap.Int("port", cfg.Server.Port),
		zap.Bool("metrics", cfg.Metrics.Enabled),
		zap.Bool("store", store != nil))

	if err := srv.Start(ctx); err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "HTTP service failed", err)
	}

	log.Info("http service stopped")
	return nil
}

func serveOverrides() map[string]any {
	overrides := map[string]any{}
	if serveHost != "" {
		overrides["server"] = map[string]any{"host": serveHost}
	}
	if servePort > 0 {
		srv, _ := overrides["server"].(map[string]any)
		if srv == nil {
			srv = map[string]any{}
			overrides["server"] = srv
		}
		srv["port"] = servePort
	}
	if serveStoreDSN != "" {
		overrides["store"] = map[string]any{"dsn": serveStoreDSN}
	}
	return overrides
}

// storeHealthChecker pings the archive database.
type storeHealthChecker struct {
	store *archivestore.Store
}

func (c storeHealthChecker) CheckHealth(ctx context.Context) error {
	if c.store == nil {
		return fmt.Errorf("archive store not configured")
	}
	return c.store.Ping(ctx)
}

// layoutHealthChecker verifies the intake repository directories exist.
type layoutHealthChecker struct {
	layout repository.Layout
}

func (c layoutHealthChecker) CheckHealth(ctx context.Context) error {
	if !c.layout.Present() {
		return fmt.Errorf("repository layout missing under %s", c.layout.Root())
	}
	return nil
}

// identityHealthChecker guards against a misbuilt binary losing its
// naming, which would silently detach env and config discovery.
type identityHealthChecker struct {
	binaryName string
	envPrefix  string
	configName string
}

func (c identityHealthChecker) CheckHealth(ctx context.Context) error {
	if c.binaryName == "" {
		return fmt.Errorf("app identity missing binary name")
	}
	if c.envPrefix == "" {
		return fmt.Errorf("app identity missing env prefix")
	}
	if c.configName == "" {
		return fmt.Errorf("app identity missing config name")
	}
	return nil
}
