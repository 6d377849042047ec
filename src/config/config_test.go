package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 4096, cfg.PageSize)
	assert.Equal(t, 50, cfg.PoolSize)
	assert.Equal(t, 2*time.Second, cfg.DeadlockTimeout)
	assert.False(t, cfg.Steal)
	require.NoError(t, cfg.Validate())
}

func TestLoadReadsEnv(t *testing.T) {
	t.Setenv("HEAPDB_PAGE_SIZE", "1024")
	t.Setenv("HEAPDB_POOL_SIZE", "10")
	t.Setenv("HEAPDB_DEADLOCK_TIMEOUT", "500ms")
	t.Setenv("HEAPDB_STEAL", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 1024, cfg.PageSize)
	assert.Equal(t, 10, cfg.PoolSize)
	assert.Equal(t, 500*time.Millisecond, cfg.DeadlockTimeout)
	assert.True(t, cfg.Steal)
}

func TestValidateRejectsNonsense(t *testing.T) {
	cfg := Default()
	cfg.PageSize = 0
	require.Error(t, cfg.Validate())

	cfg = Default()
	cfg.PoolSize = -1
	require.Error(t, cfg.Validate())

	cfg = Default()
	cfg.DeadlockTimeout = 0
	require.Error(t, cfg.Validate())
}
