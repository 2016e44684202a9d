package natsbackend

import (
	"errors"
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gnssops/rinextank/pkg/cluster"
)

func TestNewBackend_DefaultPrefix(t *testing.T) {
	assert.Equal(t, DefaultSubjectPrefix, NewBackend("").prefix)
	assert.Equal(t, "gnss.prod", NewBackend("gnss.prod").prefix)
}

func TestSubjects(t *testing.T) {
	c := &conn{prefix: "rinextank"}

	assert.Equal(t, "rinextank.discover.lsf-01", c.discoverSubject("lsf-01"))
	assert.Equal(t, "rinextank.probe.lsf-01", c.probeSubject("lsf-01"))
}

func TestConnectOptions_Mapping(t *testing.T) {
	opts := connectOptions(cluster.ConnectOptions{
		Name:          "rinextank",
		MaxReconnects: 2,
	})
	// Name and MaxReconnects always apply; Timeout and ReconnectWait
	// only when set.
	assert.Len(t, opts, 2)

	opts = connectOptions(cluster.ConnectOptions{
		Name:          "rinextank",
		Timeout:       nats.DefaultTimeout,
		MaxReconnects: 2,
		ReconnectWait: nats.DefaultReconnectWait,
	})
	assert.Len(t, opts, 4)
}

func TestMapRequestError(t *testing.T) {
	err := mapRequestError(nats.ErrNoResponders)
	assert.True(t, errors.Is(err, cluster.ErrSubmissionRejected))

	plain := errors.New("socket closed")
	assert.Equal(t, plain, mapRequestError(plain))
	assert.False(t, errors.Is(mapRequestError(plain), cluster.ErrSubmissionRejected))
}

func TestDecodeReply(t *testing.T) {
	res, err := decodeReply([]byte(`{"status":"ok","detail":"uptime 42s"}`))
	require.NoError(t, err)
	assert.Equal(t, cluster.OutcomeSuccess, res.Outcome)
	assert.Equal(t, "uptime 42s", res.Detail)

	res, err = decodeReply([]byte(`{"status":"error","detail":"scratch volume missing"}`))
	require.NoError(t, err)
	assert.Equal(t, cluster.OutcomeFailure, res.Outcome)
	assert.Equal(t, "scratch volume missing", res.Detail)

	_, err = decodeReply([]byte(`not json`))
	assert.Error(t, err)
}
