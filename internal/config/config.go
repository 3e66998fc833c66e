// Package config loads the daemon's own TOML configuration file, as
// distinct from per-game profiles (internal/profiles) and the runtime
// control file (internal/control).
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Defaults holds the fallback tunables applied when no profile matches a
// task and no override arrives over the control file.
type Defaults struct {
	BurstThresholdNs uint64 `toml:"burst_threshold_ns"`
	SliceNs          uint64 `toml:"slice_ns"`
	WorkMode         bool   `toml:"work_mode"`
}

// Amd holds AMD-specific defaults, only consulted when the detected
// architecture is AmdZen.
type Amd struct {
	VCacheStrategy  string `toml:"vcache_strategy"` // "manual", "automatic", "follow_external"
	GamingThreshold int    `toml:"gaming_threshold"`
	BatchThreshold  int    `toml:"batch_threshold"`
}

// Intel holds Intel-hybrid-specific defaults, only consulted when the
// detected architecture is IntelHybrid.
type Intel struct {
	PreferPCoresForGaming bool `toml:"prefer_p_cores_for_gaming"`
}

// Config is the daemon's root TOML configuration.
type Config struct {
	Defaults Defaults `toml:"defaults"`
	Amd      Amd      `toml:"amd"`
	Intel    Intel    `toml:"intel"`

	// ProfilesDir is the directory scanned for *.toml GameProfile files.
	ProfilesDir string `toml:"profiles_dir"`

	// LogLevel and LogFile configure the ambient logger; not part of the
	// distilled spec's data model, but every daemon needs them.
	LogLevel string `toml:"log_level"`
	LogFile  string `toml:"log_file"`
}

// Default returns the configuration used when no file is present or it
// fails to parse, per the "config-parse-failure: warn, use defaults" rule.
func Default() Config {
	return Config{
		Defaults: Defaults{
			BurstThresholdNs: 3_000_000,
			SliceNs:          3_000_000,
			WorkMode:         false,
		},
		Amd: Amd{
			VCacheStrategy:  "automatic",
			GamingThreshold: 3,
			BatchThreshold:  3,
		},
		Intel: Intel{
			PreferPCoresForGaming: true,
		},
		ProfilesDir: "/etc/scxhetero/profiles",
		LogLevel:    "info",
		LogFile:     "",
	}
}

// Load reads and parses path, falling back to Default on any error. The
// caller is expected to log the returned error at warn and proceed with
// the returned (default) config, matching the config-parse-failure class.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	parsed := Default()
	if _, err := toml.Decode(string(data), &parsed); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return parsed, nil
}
