package model

// ArchKind distinguishes the families of hardware the control plane has
// dedicated handling for. Anything not recognized degrades to Generic,
// which has no V-Cache handling but otherwise still classifies and
// schedules tasks. EPP management and turbo ranking follow the sysfs
// hybrid core lists and CPPC data, not Kind.
type ArchKind int

const (
	ArchGeneric ArchKind = iota
	ArchAmdZen
	ArchIntelHybrid
)

// Arch describes the detected CPU architecture variant. Only the fields
// relevant to Kind are meaningful; the rest are zero.
type Arch struct {
	Kind ArchKind

	// AMD Zen only.
	ZenGeneration int // 4 or 5; 0 if unknown.
	HasX3D        bool

	// Intel hybrid only.
	IntelGeneration int // e.g. 12, 13, 14; 0 if unknown.
}

// Topology is the process-wide singleton describing the host's CPU layout,
// as detected at startup. It never changes at runtime: a hot-plug or
// hetero-config change requires a restart, matching the in-kernel program's
// own assumption that cluster assignment is fixed for the process lifetime.
type Topology struct {
	NrCPUs       int
	ClusterCount int

	// StackedCacheCluster is the cluster id of the CCD with 3D V-Cache
	// stacked on it, if the host has one (AMD X3D parts only).
	StackedCacheCluster *uint32

	// FreqBiasedCluster is the cluster id of the non-stacked CCD, which
	// boosts higher. It is set (to cluster 1) only on Zen 5 X3D parts with
	// two or more clusters, and is nil otherwise.
	FreqBiasedCluster *uint32

	StackedCacheL3Bytes uint64
	SMTEnabled          bool

	Arch Arch

	// PCores and ECores hold the CPU ids this platform reports as
	// performance and efficiency cores. Both are empty on non-hybrid
	// parts (the whole CPU list behaves as if it were all P-cores).
	PCores []int
	ECores []int

	// TurboRanking maps CPU id to a 0-based rank among boost-favored
	// cores, lowest rank boosts highest. A CPU absent from the map has
	// no turbo ranking data.
	TurboRanking map[int]int

	// PerCPU holds the wire-format record for every CPU, indexed by CPU
	// id, ready to be pushed into the shared map verbatim.
	PerCPU []PerCpuContext
}

// HasStackedCache reports whether the host has a CCD with stacked V-Cache.
func (t *Topology) HasStackedCache() bool {
	return t.StackedCacheCluster != nil
}

// IsHybrid reports whether the host exposes distinct P-core/E-core sets.
func (t *Topology) IsHybrid() bool {
	return len(t.PCores) > 0 && len(t.ECores) > 0
}
