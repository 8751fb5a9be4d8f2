package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDeaconConfigDefaultsWhenMissing(t *testing.T) {
	root := t.TempDir()
	cfg, err := LoadDeaconConfig(root)
	require.NoError(t, err)
	assert.Equal(t, DefaultDeaconConfig(), cfg)
}

func TestLoadDeaconConfigMergesOverrides(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, SaveDeaconConfig(root, DeaconConfig{ConsecutiveFailures: 5}))

	cfg, err := LoadDeaconConfig(root)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.ConsecutiveFailures)
	assert.Equal(t, DefaultDeaconConfig().PatrolIntervalMs, cfg.PatrolIntervalMs, "unset fields keep their default")
}

func TestDeaconConfigDurationHelpers(t *testing.T) {
	cfg := DefaultDeaconConfig()
	assert.Equal(t, 30_000, int(cfg.PingTimeout().Milliseconds()))
	assert.Equal(t, 300_000, int(cfg.Cooldown().Milliseconds()))
}

func TestLoadRuntimeManifestDefaultsWhenMissing(t *testing.T) {
	m, err := LoadRuntimeManifest(filepath.Join(t.TempDir(), "runtimes.toml"))
	require.NoError(t, err)
	assert.Len(t, m.Runtimes, 4)
	assert.True(t, m.Runtimes["claude"].MultiModel)
}

func TestRuntimeManifestAdapterFallback(t *testing.T) {
	m := DefaultRuntimeManifest()
	assert.Equal(t, "cursor", m.Adapter("cursor").Name)
	assert.Equal(t, "claude", m.Adapter("unknown-variant").Name)
}
