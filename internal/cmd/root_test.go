package cmd

import (
	"errors"
	"fmt"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetVersionInfo(t *testing.T) {
	orig := versionInfo
	defer func() { versionInfo = orig }()

	tests := []struct {
		name      string
		version   string
		commit    string
		buildDate string
	}{
		{
			name:      "set all values",
			version:   "1.0.0",
			commit:    "abc123",
			buildDate: "2026-01-15",
		},
		{
			name:      "set dev version",
			version:   "dev",
			commit:    "HEAD",
			buildDate: "unknown",
		},
		{
			name:      "set empty values",
			version:   "",
			commit:    "",
			buildDate: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			SetVersionInfo(tt.version, tt.commit, tt.buildDate)

			assert.Equal(t, tt.version, versionInfo.Version)
			assert.Equal(t, tt.commit, versionInfo.Commit)
			assert.Equal(t, tt.buildDate, versionInfo.BuildDate)
		})
	}
}

func TestGetAppIdentity(t *testing.T) {
	orig := appIdentity
	defer func() { appIdentity = orig }()

	t.Run("returns nil before init", func(t *testing.T) {
		appIdentity = nil
		assert.Nil(t, GetAppIdentity())
	})

	t.Run("returns identity after init", func(t *testing.T) {
		initIdentity()
		identity := GetAppIdentity()
		require.NotNil(t, identity)
		assert.Equal(t, "rinextank", identity.BinaryName)
		assert.Equal(t, "RINEXTANK", identity.EnvPrefix)
		assert.Equal(t, "rinextank", identity.ConfigName)
	})
}

func TestSetDefaults(t *testing.T) {
	viper.Reset()
	defer viper.Reset()

	setDefaults()

	// Server defaults
	assert.Equal(t, "localhost", viper.GetString("server.host"))
	assert.Equal(t, 8080, viper.GetInt("server.port"))
	assert.Equal(t, "30s", viper.GetString("server.read_timeout"))
	assert.Equal(t, "30s", viper.GetString("server.write_timeout"))
	assert.Equal(t, "120s", viper.GetString("server.idle_timeout"))
	assert.Equal(t, "10s", viper.GetString("server.shutdown_timeout"))

	// Logging defaults
	assert.Equal(t, "info", viper.GetString("logging.level"))
	assert.Equal(t, "structured", viper.GetString("logging.profile"))

	// Metrics defaults
	assert.True(t, viper.GetBool("metrics.enabled"))
	assert.Equal(t, 9090, viper.GetInt("metrics.port"))

	// Health defaults
	assert.True(t, viper.GetBool("health.enabled"))

	// Archive and cluster defaults
	assert.Equal(t, "fs", viper.GetString("archive.source"))
	assert.False(t, viper.GetBool("cluster.enabled"))
	assert.Equal(t, "5s", viper.GetString("cluster.ping_interval"))
	assert.Equal(t, "60s", viper.GetString("cluster.deadline"))
	assert.Equal(t, "rinextank", viper.GetString("cluster.subject_prefix"))
	assert.Equal(t, "liveness", viper.GetString("cluster.purpose"))

	// Worker defaults
	assert.Equal(t, 4, viper.GetInt("workers"))

	// Debug defaults
	assert.False(t, viper.GetBool("debug.enabled"))
	assert.False(t, viper.GetBool("debug.pprof_enabled"))
}

func TestExitError(t *testing.T) {
	cause := errors.New("boom")
	err := exitError(7, "operation failed", cause)

	assert.EqualError(t, err, "operation failed: boom")
	assert.ErrorIs(t, err, cause)

	var coded *exitCodeError
	require.True(t, errors.As(err, &coded))
	assert.Equal(t, 7, coded.code)

	t.Run("unwraps through wrapping", func(t *testing.T) {
		wrapped := fmt.Errorf("outer: %w", err)
		var inner *exitCodeError
		require.True(t, errors.As(wrapped, &inner))
		assert.Equal(t, 7, inner.code)
	})

	t.Run("nil cause", func(t *testing.T) {
		err := exitError(3, "bare failure", nil)
		assert.EqualError(t, err, "bare failure")
	})
}
