package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	require.Equal(t, 1234, cfg.Server.Port)
	require.Equal(t, "info", cfg.Server.LogLevel)
	require.Equal(t, 30*time.Second, cfg.Relay.RoomGracePeriod)
	require.Equal(t, 64, cfg.Relay.SendBuffer)
	require.Equal(t, int64(1<<20), cfg.Relay.ReadLimitBytes)
	require.True(t, cfg.Monitoring.Prometheus.Enabled)
	require.Equal(t, "/metrics", cfg.Monitoring.Prometheus.Endpoint)
}

func TestLoadConfigHonoursPortEnv(t *testing.T) {
	t.Setenv("PORT", "4321")

	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)
	require.Equal(t, 4321, cfg.Server.Port)
}

func TestLoadConfigPrefixedEnvWinsOverDefaults(t *testing.T) {
	t.Setenv("SYNAPSE_RELAY_ROOM_GRACE_PERIOD", "100ms")
	t.Setenv("SYNAPSE_SERVER_LOG_LEVEL", "debug")

	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)
	require.Equal(t, 100*time.Millisecond, cfg.Relay.RoomGracePeriod)
	require.Equal(t, "debug", cfg.Server.LogLevel)
}
