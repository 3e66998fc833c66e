package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
	require.Equal(t, Default(), cfg)
}

func TestLoadParsesOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	data := `
profiles_dir = "/opt/scxhetero/profiles"

[defaults]
burst_threshold_ns = 5000000
slice_ns = 4000000
work_mode = true

[amd]
vcache_strategy = "manual"
gaming_threshold = 5
batch_threshold = 5

[intel]
prefer_p_cores_for_gaming = false
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "/opt/scxhetero/profiles", cfg.ProfilesDir)
	require.Equal(t, uint64(5000000), cfg.Defaults.BurstThresholdNs)
	require.True(t, cfg.Defaults.WorkMode)
	require.Equal(t, "manual", cfg.Amd.VCacheStrategy)
	require.Equal(t, 5, cfg.Amd.GamingThreshold)
	require.False(t, cfg.Intel.PreferPCoresForGaming)
}

func TestLoadMalformedFileReturnsDefaultsAndError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("this is not [valid toml"), 0644))

	cfg, err := Load(path)
	require.Error(t, err)
	require.Equal(t, Default(), cfg)
}
