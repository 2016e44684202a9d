// Package manifest provides loading and validation of rinextank campaign
// manifests.
//
// A campaign manifest is a YAML or JSON file that configures one archive
// campaign end to end: where the archive lives (local tree or S3 mirror),
// which slice of it the campaign covers, scan behavior, the compute
// cluster to verify, and where results land.
//
// Manifests are validated against a JSON Schema to ensure correctness
// before execution. The schema enforces strict typing and disallows
// unknown properties.
//
// Example manifest (YAML):
//
//	version: "1.0"
//	archive:
//	  source: fs
//	  root: /data/gnss/archive
//	campaign:
//	  name: igs-2021-reprocessing
//	  networks: [igs]
//	  years: [2021]
//	cluster:
//	  enabled: true
//	  head_node: nats://head.cluster.internal:4222
//	  nodes: [proc-01, proc-02, proc-03]
//	store:
//	  dsn: postgres://rinextank@db.internal/archive
package manifest

import (
	"fmt"
	"strings"

	"github.com/gnssops/rinextank/pkg/scope"
)

// Manifest represents a validated campaign manifest.
//
// Required fields are Version and Archive. Campaign, Filters, Limits,
// Cluster, Store, and Output are optional with sensible defaults.
type Manifest struct {
	// Schema is an optional JSON Schema reference for editor support.
	Schema string `json:"$schema,omitempty" yaml:"$schema,omitempty"`

	// Version is the manifest schema version. Must be "1.0".
	Version string `json:"version" yaml:"version"`

	// Archive locates the archive to scan.
	Archive ArchiveConfig `json:"archive" yaml:"archive"`

	// Campaign narrows the scan to a slice of the archive. Optional;
	// absent means the whole tree.
	Campaign *scope.Campaign `json:"campaign,omitempty" yaml:"campaign,omitempty"`

	// Filters configures filename filtering (optional).
	Filters FiltersConfig `json:"filters,omitempty" yaml:"filters,omitempty"`

	// Limits configures scan throughput (optional).
	Limits LimitsConfig `json:"limits,omitempty" yaml:"limits,omitempty"`

	// Cluster configures the compute cluster to verify (optional).
	Cluster ClusterConfig `json:"cluster,omitempty" yaml:"cluster,omitempty"`

	// Store configures result persistence (optional).
	Store StoreConfig `json:"store,omitempty" yaml:"store,omitempty"`

	// Output configures JSONL record output (optional).
	Output OutputConfig `json:"output,omitempty" yaml:"output,omitempty"`
}

// Recognized archive sources.
const (
	// SourceFS scans a local filesystem tree.
	SourceFS = "fs"

	// SourceS3 scans an object-store mirror of the archive.
	SourceS3 = "s3"
)

// ArchiveConfig locates the archive to scan.
type ArchiveConfig struct {
	// Source is the archive backing: "fs" or "s3". Default: "fs".
	Source string `json:"source,omitempty" yaml:"source,omitempty"`

	// Root is the tree root for fs sources, or the key prefix for s3
	// sources. Required for fs sources.
	Root string `json:"root,omitempty" yaml:"root,omitempty"`

	// Repository is the intake repository root (data_in and siblings).
	// Optional; quarantine operations require it.
	Repository string `json:"repository,omitempty" yaml:"repository,omitempty"`

	// Bucket is the mirror bucket name. Required for s3 sources.
	Bucket string `json:"bucket,omitempty" yaml:"bucket,omitempty"`

	// Region is the AWS region (e.g., "us-east-1"). Optional.
	Region string `json:"region,omitempty" yaml:"region,omitempty"`

	// Endpoint is a custom endpoint URL for S3-compatible storage.
	// Optional. Example: "https://s3.wasabisys.com"
	Endpoint string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`

	// Profile is the AWS credential profile name. Optional.
	Profile string `json:"profile,omitempty" yaml:"profile,omitempty"`
}

// FiltersConfig configures filename filtering by glob patterns.
type FiltersConfig struct {
	// Include is a list of glob patterns relative paths must match.
	// Empty means every file is a candidate; the filename grammar still
	// decides what classifies.
	Include []string `json:"include,omitempty" yaml:"include,omitempty"`

	// Exclude is a list of glob patterns to skip. Optional.
	Exclude []string `json:"exclude,omitempty" yaml:"exclude,omitempty"`

	// IncludeHidden includes hidden files and directories (starting
	// with .). Default: false.
	IncludeHidden bool `json:"include_hidden,omitempty" yaml:"include_hidden,omitempty"`
}

// LimitsConfig configures scan throughput.
type LimitsConfig struct {
	// Concurrency is the number of directory reads or mirror listings
	// in flight. Default: 4.
	Concurrency int `json:"concurrency,omitempty" yaml:"concurrency,omitempty"`

	// RequestsPerSecond caps mirror listing calls (0 = unlimited).
	// Default: 0.
	RequestsPerSecond float64 `json:"requests_per_second,omitempty" yaml:"requests_per_second,omitempty"`
}

// ClusterConfig configures cluster verification.
type ClusterConfig struct {
	// Enabled gates verification. Campaigns on archives with no
	// processing cluster leave this false.
	Enabled bool `json:"enabled,omitempty" yaml:"enabled,omitempty"`

	// HeadNode is the messaging backend address, e.g.
	// "nats://head:4222". Required when enabled.
	HeadNode string `json:"head_node,omitempty" yaml:"head_node,omitempty"`

	// Nodes are the worker node names to verify. Required when enabled.
	Nodes []string `json:"nodes,omitempty" yaml:"nodes,omitempty"`

	// PingIntervalSeconds is the node announcement cadence. The
	// discovery settle delay is derived from it. Default: 5.
	PingIntervalSeconds int `json:"ping_interval_seconds,omitempty" yaml:"ping_interval_seconds,omitempty"`

	// DeadlineSeconds bounds the whole probe wait. Default: 60.
	DeadlineSeconds int `json:"deadline_seconds,omitempty" yaml:"deadline_seconds,omitempty"`

	// SubjectPrefix is the bus subject prefix. Default: "rinextank".
	SubjectPrefix string `json:"subject_prefix,omitempty" yaml:"subject_prefix,omitempty"`

	// Purpose prefixes probe job identifiers. Default: "liveness".
	Purpose string `json:"purpose,omitempty" yaml:"purpose,omitempty"`
}

// StoreConfig configures result persistence.
type StoreConfig struct {
	// DSN selects the archive database: postgres://..., sqlite://path,
	// or a bare filesystem path. Empty disables persistence.
	DSN string `json:"dsn,omitempty" yaml:"dsn,omitempty"`
}

// OutputConfig configures JSONL record output.
type OutputConfig struct {
	// Path is the JSONL destination. "-" or empty means stdout.
	Path string `json:"path,omitempty" yaml:"path,omitempty"`
}

// Default values for optional configuration fields.
const (
	// CurrentVersion is the only supported manifest schema version.
	CurrentVersion = "1.0"

	// DefaultSource is the archive source when none is given.
	DefaultSource = SourceFS

	// DefaultConcurrency is the default scan fan-out.
	DefaultConcurrency = 4

	// DefaultPingIntervalSeconds is the default cluster ping cadence.
	DefaultPingIntervalSeconds = 5

	// DefaultDeadlineSeconds is the default probe deadline.
	DefaultDeadlineSeconds = 60

	// DefaultSubjectPrefix is the default bus subject prefix.
	DefaultSubjectPrefix = "rinextank"

	// DefaultPurpose is the default probe job purpose.
	DefaultPurpose = "liveness"
)

// ApplyDefaults fills in default values for optional fields.
//
// This should be called after loading and validating the manifest so
// callers don't need to reason about zero values.
func (m *Manifest) ApplyDefaults() {
	if m.Archive.Source == "" {
		m.Archive.Source = DefaultSource
	}
	if m.Limits.Concurrency == 0 {
		m.Limits.Concurrency = DefaultConcurrency
	}
	// RequestsPerSecond: 0 is a valid value (unlimited), so no default needed.

	if m.Cluster.Enabled {
		if m.Cluster.PingIntervalSeconds == 0 {
			m.Cluster.PingIntervalSeconds = DefaultPingIntervalSeconds
		}
		if m.Cluster.DeadlineSeconds == 0 {
			m.Cluster.DeadlineSeconds = DefaultDeadlineSeconds
		}
		if m.Cluster.SubjectPrefix == "" {
			m.Cluster.SubjectPrefix = DefaultSubjectPrefix
		}
		if m.Cluster.Purpose == "" {
			m.Cluster.Purpose = DefaultPurpose
		}
	}
}

// ValidateSemantics applies the cross-field checks the schema cannot
// express. It is called by the loader after ApplyDefaults; callers
// constructing a Manifest in code should call it themselves.
func (m *Manifest) ValidateSemantics() error {
	switch m.Archive.Source {
	case SourceFS:
		if strings.TrimSpace(m.Archive.Root) == "" {
			return fmt.Errorf("archive.root is required when archive.source is %q", SourceFS)
		}
	case SourceS3:
		if strings.TrimSpace(m.Archive.Bucket) == "" {
			return fmt.Errorf("archive.bucket is required when archive.source is %q", SourceS3)
		}
	default:
		return fmt.Errorf("unsupported archive.source: %q", m.Archive.Source)
	}

	if m.Campaign != nil {
		if err := m.Campaign.Validate(); err != nil {
			return err
		}
	}

	if m.Cluster.Enabled {
		if strings.TrimSpace(m.Cluster.HeadNode) == "" {
			return fmt.Errorf("cluster.head_node is required when cluster is enabled")
		}
		if len(m.Cluster.Nodes) == 0 {
			return fmt.Errorf("cluster.nodes must not be empty when cluster is enabled")
		}
		seen := make(map[string]struct{}, len(m.Cluster.Nodes))
		for _, n := range m.Cluster.Nodes {
			if strings.TrimSpace(n) == "" {
				return fmt.Errorf("cluster.nodes: node names must not be empty")
			}
			if _, dup := seen[n]; dup {
				return fmt.Errorf("cluster.nodes: duplicate node name %q", n)
			}
			seen[n] = struct{}{}
		}
	}

	return nil
}
