// Package config loads application configuration for the rinextank
// service surface and CLI.
//
// Precedence, highest first: runtime overrides passed to Load, then
// RINEXTANK_* environment variables, then a rinextank.yaml config file
// (cwd, project root, user config dir, /etc/rinextank), then defaults.
//
// Core packages never read configuration themselves; they receive typed
// values derived from the Config returned here.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Config is the full application configuration.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Health  HealthConfig  `mapstructure:"health"`
	Archive ArchiveConfig `mapstructure:"archive"`
	Cluster ClusterConfig `mapstructure:"cluster"`
	Store   StoreConfig   `mapstructure:"store"`
	Debug   DebugConfig   `mapstructure:"debug"`

	// Workers is the default scan concurrency.
	Workers int `mapstructure:"workers"`
}

// ServerConfig configures the HTTP service surface.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	// Level is the minimum level: debug, info, warn, error.
	Level string `mapstructure:"level"`

	// Profile selects the output shape: STRUCTURED (JSON) or CONSOLE.
	Profile string `mapstructure:"profile"`

	// File, when set, duplicates log output to a rotating file.
	File string `mapstructure:"file"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// HealthConfig configures health endpoints.
type HealthConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// ArchiveConfig carries archive defaults for commands that run without a
// campaign manifest.
type ArchiveConfig struct {
	Root       string   `mapstructure:"root"`
	Repository string   `mapstructure:"repository"`
	Source     string   `mapstructure:"source"`
	Include    []string `mapstructure:"include"`
	Exclude    []string `mapstructure:"exclude"`
}

// ClusterConfig carries cluster verification defaults.
type ClusterConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	HeadNode      string        `mapstructure:"head_node"`
	Nodes         []string      `mapstructure:"nodes"`
	PingInterval  time.Duration `mapstructure:"ping_interval"`
	Deadline      time.Duration `mapstructure:"deadline"`
	SubjectPrefix string        `mapstructure:"subject_prefix"`
	Purpose       string        `mapstructure:"purpose"`
}

// StoreConfig carries the archive database default.
type StoreConfig struct {
	DSN string `mapstructure:"dsn"`
}

// DebugConfig gates debug facilities.
type DebugConfig struct {
	Enabled      bool `mapstructure:"enabled"`
	PprofEnabled bool `mapstructure:"pprof_enabled"`
}

// identity pins the application naming used for env vars and config
// file discovery. Set on first Load.
type identity struct {
	AppName    string
	EnvPrefix  string
	ConfigName string
}

// envSpec maps one environment variable to a config path.
type envSpec struct {
	Name string
	Path string
}

var (
	configMu    sync.RWMutex
	appConfig   *Config
	appIdentity *identity
)

// Load reads configuration and caches it for GetConfig. Later maps in
// overrides win over earlier ones; overrides win over everything else.
func Load(ctx context.Context, overrides ...map[string]any) (*Config, error) {
	configMu.Lock()
	defer configMu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	appIdentity = &identity{
		AppName:    "rinextank",
		EnvPrefix:  "RINEXTANK",
		ConfigName: "rinextank",
	}

	v := viper.New()
	setDefaults(v)

	v.SetConfigName(appIdentity.ConfigName)
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if root, err := findProjectRoot(); err == nil {
		v.AddConfigPath(root)
	}
	for _, p := range getUserConfigPaths() {
		v.AddConfigPath(p)
	}
	v.AddConfigPath("/etc/" + appIdentity.AppName)

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine; a broken one is not.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	for _, spec := range getEnvSpecs() {
		if err := v.BindEnv(spec.Path, spec.Name); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", spec.Name, err)
		}
	}

	// Runtime overrides use Set, which outranks env vars and files.
	for _, o := range overrides {
		applyOverrides(v, "", o)
	}

	cfg := &Config{}
	decode := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(cfg, decode); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}

	appConfig = cfg
	return cfg, nil
}

// GetConfig returns the last loaded configuration, or nil before Load.
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

// applyOverrides flattens nested override maps into dotted keys.
func applyOverrides(v *viper.Viper, prefix string, values map[string]any) {
	for key, value := range values {
		full := key
		if prefix != "" {
			full = prefix + "." + key
		}
		if nested, ok := value.(map[string]any); ok {
			applyOverrides(v, full, nested)
			continue
		}
		v.Set(full, value)
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.profile", "STRUCTURED")
	v.SetDefault("logging.file", "")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)

	v.SetDefault("health.enabled", true)

	v.SetDefault("archive.source", "fs")

	v.SetDefault("cluster.enabled", false)
	v.SetDefault("cluster.ping_interval", "5s")
	v.SetDefault("cluster.deadline", "60s")
	v.SetDefault("cluster.subject_prefix", "rinextank")
	v.SetDefault("cluster.purpose", "liveness")

	v.SetDefault("workers", 4)

	v.SetDefault("debug.enabled", false)
	v.SetDefault("debug.pprof_enabled", false)
}

// validate applies the cross-field checks, once, here. Core packages
// receive values that already hold.
func validate(cfg *Config) error {
	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", cfg.Server.Port)
	}
	if cfg.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", cfg.Workers)
	}
	if cfg.Cluster.Enabled {
		if strings.TrimSpace(cfg.Cluster.HeadNode) == "" {
			return fmt.Errorf("cluster.head_node is required when cluster is enabled")
		}
		if len(cfg.Cluster.Nodes) == 0 {
			return fmt.Errorf("cluster.nodes must not be empty when cluster is enabled")
		}
	}
	return nil
}

// getEnvSpecs returns the environment variable mappings. Empty before
// the first Load establishes the application identity.
func getEnvSpecs() []envSpec {
	if appIdentity == nil {
		return nil
	}
	p := appIdentity.EnvPrefix + "_"
	return []envSpec{
		{Name: p + "HOST", Path: "server.host"},
		{Name: p + "PORT", Path: "server.port"},
		{Name: p + "READ_TIMEOUT", Path: "server.read_timeout"},
		{Name: p + "WRITE_TIMEOUT", Path: "server.write_timeout"},
		{Name: p + "IDLE_TIMEOUT", Path: "server.idle_timeout"},
		{Name: p + "SHUTDOWN_TIMEOUT", Path: "server.shutdown_timeout"},

		{Name: p + "LOG_LEVEL", Path: "logging.level"},
		{Name: p + "LOG_PROFILE", Path: "logging.profile"},
		{Name: p + "LOG_FILE", Path: "logging.file"},

		{Name: p + "METRICS_ENABLED", Path: "metrics.enabled"},
		{Name: p + "METRICS_PORT", Path: "metrics.port"},

		{Name: p + "HEALTH_ENABLED", Path: "health.enabled"},

		{Name: p + "ARCHIVE_ROOT", Path: "archive.root"},
		{Name: p + "REPOSITORY", Path: "archive.repository"},
		{Name: p + "ARCHIVE_SOURCE", Path: "archive.source"},

		{Name: p + "CLUSTER_ENABLED", Path: "cluster.enabled"},
		{Name: p + "HEAD_NODE", Path: "cluster.head_node"},
		{Name: p + "NODE_LIST", Path: "cluster.nodes"},
		{Name: p + "PING_INTERVAL", Path: "cluster.ping_interval"},
		{Name: p + "DEADLINE", Path: "cluster.deadline"},
		{Name: p + "SUBJECT_PREFIX", Path: "cluster.subject_prefix"},

		{Name: p + "STORE_DSN", Path: "store.dsn"},

		{Name: p + "WORKERS", Path: "workers"},

		{Name: p + "DEBUG", Path: "debug.enabled"},
		{Name: p + "PPROF_ENABLED", Path: "debug.pprof_enabled"},
	}
}

// getUserConfigPaths returns per-user config directories. Empty before
// the first Load establishes the application identity.
func getUserConfigPaths() []string {
	if appIdentity == nil {
		return nil
	}
	var paths []string
	if dir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(dir, appIdentity.AppName))
	}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, "."+appIdentity.AppName))
	}
	return paths
}

// findProjectRoot locates the repository root for config file discovery.
//
// In CI containers the checkout may sit outside $HOME, so explicit
// workspace variables are honored first when they are absolute, exist,
// and contain the working directory. Otherwise the root is found by
// walking up from cwd to the first directory holding go.mod or .git.
func findProjectRoot() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("determine working directory: %w", err)
	}

	if os.Getenv("CI") == "true" || os.Getenv("GITHUB_ACTIONS") == "true" {
		for _, name := range []string{"RINEXTANK_WORKSPACE_ROOT", "GITHUB_WORKSPACE", "CI_PROJECT_DIR", "WORKSPACE"} {
			boundary := os.Getenv(name)
			if boundary == "" || !filepath.IsAbs(boundary) {
				continue
			}
			info, err := os.Stat(boundary)
			if err != nil || !info.IsDir() {
				continue
			}
			if rel, err := filepath.Rel(boundary, cwd); err == nil && !strings.HasPrefix(rel, "..") {
				return boundary, nil
			}
		}
	}

	dir := cwd
	for {
		for _, marker := range []string{"go.mod", ".git"} {
			if _, err := os.Stat(filepath.Join(dir, marker)); err == nil {
				return dir, nil
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return cwd, nil
		}
		dir = parent
	}
}
