package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gnssops/rinextank/pkg/cluster"
	"github.com/gnssops/rinextank/pkg/manifest"
	"github.com/gnssops/rinextank/pkg/output"
	"github.com/gnssops/rinextank/pkg/verify"
)

func resetVerifyFlags(t *testing.T) {
	t.Helper()
	origManifest, origHead, origNodes := verifyManifestPath, verifyHeadNode, verifyNodes
	origPing, origDeadline := verifyPingInterval, verifyDeadline
	origPrefix, origPurpose := verifySubjectPrefix, verifyPurpose
	origStore, origOut := verifyStoreDSN, verifyOut
	t.Cleanup(func() {
		verifyManifestPath, verifyHeadNode, verifyNodes = origManifest, origHead, origNodes
		verifyPingInterval, verifyDeadline = origPing, origDeadline
		verifySubjectPrefix, verifyPurpose = origPrefix, origPurpose
		verifyStoreDSN, verifyOut = origStore, origOut
	})
}

func TestVerifyManifestFlagAssembly(t *testing.T) {
	resetVerifyFlags(t)

	verifyManifestPath = ""
	verifyHeadNode = "nats://head:4222"
	verifyNodes = []string{"proc-01", "proc-02"}
	verifyPingInterval = 10 * time.Second
	verifyDeadline = 2 * time.Minute

	m, err := verifyManifest()
	require.NoError(t, err)

	assert.True(t, m.Cluster.Enabled)
	assert.Equal(t, "nats://head:4222", m.Cluster.HeadNode)
	assert.Equal(t, []string{"proc-01", "proc-02"}, m.Cluster.Nodes)
	assert.Equal(t, 10, m.Cluster.PingIntervalSeconds)
	assert.Equal(t, 120, m.Cluster.DeadlineSeconds)

	// Defaults fill the rest.
	assert.Equal(t, manifest.DefaultSubjectPrefix, m.Cluster.SubjectPrefix)
	assert.Equal(t, manifest.DefaultPurpose, m.Cluster.Purpose)
}

func TestVerifyManifestRequiresHeadNode(t *testing.T) {
	resetVerifyFlags(t)

	verifyManifestPath = ""
	verifyHeadNode = ""
	verifyNodes = []string{"proc-01"}

	_, err := verifyManifest()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "head node")
}

func TestVerifyManifestRequiresNodes(t *testing.T) {
	resetVerifyFlags(t)

	verifyManifestPath = ""
	verifyHeadNode = "nats://head:4222"
	verifyNodes = nil

	_, err := verifyManifest()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "node is required")
}

func TestWriteVerdict(t *testing.T) {
	resetVerifyFlags(t)

	verifyOut = filepath.Join(t.TempDir(), "verdict.jsonl")

	m := &manifest.Manifest{
		Cluster: manifest.ClusterConfig{Nodes: []string{"proc-01", "proc-02"}},
	}
	v := &verify.Verdict{
		Overall:    verify.Failed,
		FailedNode: "proc-02",
		Cause:      "node proc-02: timed_out: no reply",
		StartedAt:  time.Now().UTC(),
		Elapsed:    3 * time.Second,
		Nodes: []cluster.Node{
			{Name: "proc-01", Status: cluster.NodeReachable},
			{Name: "proc-02", Status: cluster.NodeReachable},
		},
		PerNode: map[string]cluster.Result{
			"proc-01": {JobID: "liveness-proc-01", Node: "proc-01", Outcome: cluster.OutcomeSuccess, Elapsed: time.Second},
			"proc-02": {JobID: "liveness-proc-02", Node: "proc-02", Outcome: cluster.OutcomeTimedOut, Detail: "no reply"},
		},
	}

	require.NoError(t, writeVerdict(context.Background(), m, v))

	f, err := os.Open(verifyOut)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	sc := bufio.NewScanner(f)
	require.True(t, sc.Scan())

	var rec output.Record
	require.NoError(t, json.Unmarshal(sc.Bytes(), &rec))
	assert.Equal(t, output.TypeVerdict, rec.Type)
	assert.Equal(t, "cluster", rec.Source)

	var vr output.VerdictRecord
	require.NoError(t, json.Unmarshal(rec.Data, &vr))
	assert.Equal(t, string(verify.Failed), vr.Overall)
	assert.Equal(t, "proc-02", vr.FailedNode)
	require.Len(t, vr.Nodes, 2)
	assert.Equal(t, "proc-01", vr.Nodes[0].Node)
	assert.Equal(t, string(cluster.OutcomeSuccess), vr.Nodes[0].Outcome)
	assert.Equal(t, string(cluster.NodeReachable), vr.Nodes[0].Status)
	assert.Equal(t, string(cluster.OutcomeTimedOut), vr.Nodes[1].Outcome)
}
