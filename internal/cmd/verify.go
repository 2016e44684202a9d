package cmd

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gnssops/rinextank/internal/metrics"
	"github.com/gnssops/rinextank/internal/observability"
	"github.com/gnssops/rinextank/pkg/archivestore"
	"github.com/gnssops/rinextank/pkg/cluster"
	natsbackend "github.com/gnssops/rinextank/pkg/cluster/nats"
	"github.com/gnssops/rinextank/pkg/manifest"
	"github.com/gnssops/rinextank/pkg/output"
	"github.com/gnssops/rinextank/pkg/scope"
	"github.com/gnssops/rinextank/pkg/verify"
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify the processing cluster is usable",
	Long: `Verify that every configured cluster node answers a liveness probe
inside the deadline. The run connects to the head node's message bus,
discovers the nodes, submits one probe per node, and reduces the
answers to a single verdict: verified or failed.

The command exits zero only on a verified cluster.

Examples:
  rinextank verify --head-node nats://head:4222 --nodes proc-01,proc-02,proc-03
  rinextank verify --manifest campaign.yaml
  rinextank verify --manifest campaign.yaml --deadline 2m --out verdict.jsonl`,
	RunE: runVerify,
}

var (
	verifyManifestPath  string
	verifyHeadNode      string
	verifyNodes         []string
	verifyPingInterval  time.Duration
	verifyDeadline      time.Duration
	verifySubjectPrefix string
	verifyPurpose       string
	verifyStoreDSN      string
	verifyOut           string
)

func init() {
	rootCmd.AddCommand(verifyCmd)

	verifyCmd.Flags().StringVarP(&verifyManifestPath, "manifest", "m", "", "Campaign manifest (YAML or JSON)")
	verifyCmd.Flags().StringVar(&verifyHeadNode, "head-node", "", "Message bus address, e.g. nats://head:4222")
	verifyCmd.Flags().StringSliceVar(&verifyNodes, "nodes", nil, "Worker node names (CSV)")
	verifyCmd.Flags().DurationVar(&verifyPingInterval, "ping-interval", 0, "Node announcement cadence (default 5s)")
	verifyCmd.Flags().DurationVar(&verifyDeadline, "deadline", 0, "Shared probe deadline (default 60s)")
	verifyCmd.Flags().StringVar(&verifySubjectPrefix, "subject-prefix", "", "Bus subject prefix (default rinextank)")
	verifyCmd.Flags().StringVar(&verifyPurpose, "purpose", "", "Probe job purpose (default liveness)")
	verifyCmd.Flags().StringVar(&verifyStoreDSN, "store", "", "Archive database DSN for run history")
	verifyCmd.Flags().StringVarP(&verifyOut, "out", "o", "", "JSONL verdict output path (default none)")
}

func runVerify(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	m, err := verifyManifest()
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid verify configuration", err)
	}

	cfg := cluster.Config{
		HeadNode:     m.Cluster.HeadNode,
		Nodes:        m.Cluster.Nodes,
		PingInterval: time.Duration(m.Cluster.PingIntervalSeconds) * time.Second,
		AwaitTimeout: time.Duration(m.Cluster.DeadlineSeconds) * time.Second,
		Purpose:      m.Cluster.Purpose,
		ClientName:   "rinextank-verify",
	}
	backend := natsbackend.NewBackend(m.Cluster.SubjectPrefix)

	runner := verify.New(backend, cfg, observability.Logger())

	store, err := attachVerifyRecorder(ctx, runner, m)
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to open archive store", err)
	}
	if store != nil {
		defer func() { _ = store.Close() }()
	}

	observability.CLILogger.Info("Starting cluster verification",
		zap.String("head_node", cfg.HeadNode),
		zap.Strings("nodes", cfg.Nodes),
		zap.Duration("deadline", cfg.AwaitTimeout))

	v, err := runner.Run(ctx)
	if err != nil && v == nil {
		return exitError(foundry.ExitInvalidArgument, "Verification could not start", err)
	}

	observeVerdict(v)
	if verifyOut != "" {
		if werr := writeVerdict(ctx, m, v); werr != nil {
			observability.CLILogger.Warn("Failed to write verdict record", zap.Error(werr))
		}
	}
	printVerdict(v)

	if err != nil {
		return exitError(foundry.ExitSignalInt, "Verification cancelled", err)
	}
	if v.Overall != verify.Verified {
		return exitError(foundry.ExitExternalServiceUnavailable, "Cluster verification failed",
			fmt.Errorf("%s", v.Summary()))
	}
	return nil
}

// verifyManifest assembles the effective cluster configuration from the
// manifest (when given) and flag overrides.
func verifyManifest() (*manifest.Manifest, error) {
	var m *manifest.Manifest
	if verifyManifestPath != "" {
		loaded, err := manifest.Load(verifyManifestPath)
		if err != nil {
			return nil, err
		}
		m = loaded
	} else {
		m = &manifest.Manifest{Version: manifest.CurrentVersion}
	}

	m.Cluster.Enabled = true
	if verifyHeadNode != "" {
		m.Cluster.HeadNode = verifyHeadNode
	}
	if len(verifyNodes) > 0 {
		m.Cluster.Nodes = verifyNodes
	}
	if verifyPingInterval > 0 {
		m.Cluster.PingIntervalSeconds = int(verifyPingInterval / time.Second)
	}
	if verifyDeadline > 0 {
		m.Cluster.DeadlineSeconds = int(verifyDeadline / time.Second)
	}
	if verifySubjectPrefix != "" {
		m.Cluster.SubjectPrefix = verifySubjectPrefix
	}
	if verifyPurpose != "" {
		m.Cluster.Purpose = verifyPurpose
	}
	if verifyStoreDSN != "" {
		m.Store.DSN = verifyStoreDSN
	}

	m.ApplyDefaults()

	if m.Cluster.HeadNode == "" {
		return nil, fmt.Errorf("a head node is required (--head-node or manifest cluster.head_node)")
	}
	if len(m.Cluster.Nodes) == 0 {
		return nil, fmt.Errorf("at least one node is required (--nodes or manifest cluster.nodes)")
	}
	return m, nil
}

// attachVerifyRecorder wires run history persistence when a store DSN is
// configured.
func attachVerifyRecorder(ctx context.Context, runner *verify.Runner, m *manifest.Manifest) (*archivestore.Store, error) {
	if m.Store.DSN == "" {
		return nil, nil
	}
	store, err := archivestore.Open(ctx, m.Store.DSN)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	scopeHash := ""
	if m.Campaign != nil {
		if scopeHash, err = scope.Hash(m.Campaign); err != nil {
			_ = store.Close()
			return nil, err
		}
	}
	runner.WithRecorder(store.Recorder(scopeHash))
	return store, nil
}

func observeVerdict(v *verify.Verdict) {
	metrics.ObserveVerification(string(v.Overall))
	for node, res := range v.PerNode {
		metrics.ObserveNodeProbe(node, string(res.Outcome), res.Elapsed)
	}
}

func writeVerdict(ctx context.Context, m *manifest.Manifest, v *verify.Verdict) error {
	f, err := os.Create(verifyOut)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	w := output.NewJSONLWriter(f, uuid.NewString(), "cluster")
	defer func() { _ = w.Close() }()

	rec := &output.VerdictRecord{
		Overall:       string(v.Overall),
		FailedNode:    v.FailedNode,
		Cause:         v.Cause,
		StartedAt:     v.StartedAt,
		Duration:      v.Elapsed,
		DurationHuman: v.Elapsed.Round(time.Millisecond).String(),
	}
	reachability := make(map[string]string, len(v.Nodes))
	for _, n := range v.Nodes {
		reachability[n.Name] = string(n.Status)
	}
	for _, node := range m.Cluster.Nodes {
		res, ok := v.PerNode[node]
		if !ok {
			continue
		}
		rec.Nodes = append(rec.Nodes, output.NodeProbeRecord{
			Node:      node,
			JobID:     res.JobID,
			Status:    reachability[node],
			Outcome:   string(res.Outcome),
			Detail:    res.Detail,
			ElapsedMS: res.Elapsed.Milliseconds(),
		})
	}
	return w.WriteVerdict(ctx, rec)
}

// printVerdict renders the per-node table on stdout.
func printVerdict(v *verify.Verdict) {
	nodes := make([]string, 0, len(v.PerNode))
	for node := range v.PerNode {
		nodes = append(nodes, node)
	}
	sort.Strings(nodes)

	if len(nodes) > 0 {
		fmt.Printf("%-20s %-12s %-10s %s\n", "NODE", "OUTCOME", "ELAPSED", "DETAIL")
		fmt.Println(strings.Repeat("-", 60))
		for _, node := range nodes {
			res := v.PerNode[node]
			fmt.Printf("%-20s %-12s %-10s %s\n",
				node, res.Outcome, res.Elapsed.Round(time.Millisecond), res.Detail)
		}
		fmt.Println()
	}
	fmt.Println(v.Summary())
}
