package evkernelconfig

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFromEnv_Defaults(t *testing.T) {
	t.Setenv("EVKERNEL_POSTGRES_DSN", "")
	t.Setenv("EVKERNEL_NODE_ID", "")
	t.Setenv("EVKERNEL_MAX_REQUEUE", "")
	t.Setenv("EVKERNEL_DISABLE_RETRY", "")

	cfg := FromEnv()
	require.Empty(t, cfg.PostgresDSN)
	require.Empty(t, cfg.NodeID)
	require.Zero(t, cfg.MaxRequeue)
	require.False(t, cfg.DisableRetry)
}

func TestFromEnv_ReadsSetValues(t *testing.T) {
	t.Setenv("EVKERNEL_POSTGRES_DSN", "postgres://u:p@localhost:5432/evkernel")
	t.Setenv("EVKERNEL_NODE_ID", "node-test")
	t.Setenv("EVKERNEL_MAX_REQUEUE", "3")
	t.Setenv("EVKERNEL_DISABLE_RETRY", "true")

	cfg := FromEnv()
	require.Equal(t, "postgres://u:p@localhost:5432/evkernel", cfg.PostgresDSN)
	require.Equal(t, "node-test", cfg.NodeID)
	require.Equal(t, 3, cfg.MaxRequeue)
	require.True(t, cfg.DisableRetry)
}
