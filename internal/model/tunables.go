package model

import "time"

// RuntimeTunables is the 24-byte record the control plane pushes to the
// in-kernel program whenever reconciliation changes a value. Field order
// and the six bytes of trailing padding are load-bearing: the in-kernel
// side reads this as a raw struct in native endianness. GamingMode and
// WorkMode are both single-byte booleans on the wire.
type RuntimeTunables struct {
	BurstThresholdNs uint64
	SliceNs          uint64
	GamingMode       bool
	WorkMode         bool
	_                [6]uint8 // padding, keeps the record 24 bytes wide.
}

// VCacheMode is the hardware state of an X3D part's cache/frequency switch.
type VCacheMode uint8

const (
	VCacheModeUnknown VCacheMode = iota
	VCacheModeCache
	VCacheModeFrequency
)

func (m VCacheMode) String() string {
	switch m {
	case VCacheModeCache:
		return "cache"
	case VCacheModeFrequency:
		return "frequency"
	default:
		return "unknown"
	}
}

// VCacheStrategy selects how the V-Cache Controller decides when to flip
// VCacheMode.
type VCacheStrategy uint8

const (
	VCacheStrategyManual VCacheStrategy = iota
	VCacheStrategyAutomatic
	VCacheStrategyFollowExternal
)

// VCacheState is the V-Cache Controller's current decision state, including
// the hysteresis bookkeeping needed to avoid flapping between modes.
type VCacheState struct {
	Mode     VCacheMode
	Strategy VCacheStrategy

	// GamingThreshold/BatchThreshold are only meaningful under
	// VCacheStrategyAutomatic: a gaming-task count at or above
	// GamingThreshold nominates VCacheModeCache, a batch-task count at or
	// above BatchThreshold with zero gaming tasks nominates
	// VCacheModeFrequency.
	GamingThreshold int
	BatchThreshold  int

	// PendingMode and StableSince implement the 5-second stability
	// window: a nominated mode only takes effect once it has been the
	// continuous candidate since StableSince for at least the stability
	// duration. PendingMode is VCacheModeUnknown when nothing is pending.
	PendingMode VCacheMode
	StableSince time.Time

	// LastCheck is the last time the sysfs node was actually read,
	// enforcing the 500ms minimum poll interval.
	LastCheck time.Time
}
