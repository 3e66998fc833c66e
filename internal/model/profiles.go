package model

// VCachePreference lets a GameProfile override the V-Cache Controller's
// automatic decision while the matched process is active.
type VCachePreference string

const (
	VCachePrefAuto      VCachePreference = "auto"
	VCachePrefCache     VCachePreference = "cache"
	VCachePrefFrequency VCachePreference = "frequency"
)

// SMTPreference lets a GameProfile hint the in-kernel program's SMT
// placement policy while the matched process is active.
type SMTPreference string

const (
	SMTPrefAuto        SMTPreference = "auto"
	SMTPrefPreferIdle  SMTPreference = "prefer_idle"
	SMTPrefAllowShared SMTPreference = "allow_shared"
)

// GameProfile is a user-authored TOML record matching one or more
// processes by executable pattern, Steam app id or /proc/<pid>/comm, and
// optionally overriding the default tunables while that process runs.
type GameProfile struct {
	Name string `toml:"name"`

	ExePattern  *string `toml:"exe_pattern,omitempty"`
	AppID       *uint64 `toml:"app_id,omitempty"`
	CommPattern *string `toml:"comm_pattern,omitempty"`

	BurstThresholdNs *uint64 `toml:"burst_threshold_ns,omitempty"`
	SliceNs          *uint64 `toml:"slice_ns,omitempty"`

	VCache VCachePreference `toml:"vcache,omitempty"`
	SMT    SMTPreference    `toml:"smt,omitempty"`
}

// Matches any selector at all (a profile with none of exe/app id/comm is
// invalid and rejected at load time, see internal/profiles).
func (p *GameProfile) HasSelector() bool {
	return p.ExePattern != nil || p.AppID != nil || p.CommPattern != nil
}

// ActiveProfileBindings tracks which profile, if any, currently governs
// each tracked PID. A PID absent from the map uses the default tunables.
type ActiveProfileBindings map[uint32]string
