// Package model defines the wire-level and in-memory records shared between
// the userspace control plane and the in-kernel scheduler program.
//
// Every fixed-layout struct in this package mirrors a BPF map value or ring
// buffer record exactly: field order, width and padding all matter, since
// they are read and written with the host's native byte order rather than
// through a tag-driven encoder.
package model

// PerCpuContext is the per-CPU record the in-kernel program consults when
// making placement and preemption decisions. It is 20 bytes wide and must
// not be reordered or padded differently than written here.
type PerCpuContext struct {
	ClusterID      uint32
	SubClusterID   uint32
	NumaNode       uint32
	SMTSibling     int32 // -1 if this CPU has no SMT sibling.
	IsStackedCache uint8 // 1 if this CPU sits under the stacked-cache (3D V-Cache) CCD.
	IsPerformance  uint8 // 1 if this is a performance (P-core) CPU on a hybrid part.
	IsTurboRanked  uint8 // 1 if this CPU is among the highest-boosting cores reported by the platform.
	_              uint8 // padding, kept explicit so the struct stays 20 bytes.
}

// NoSMTSibling is the sentinel SMTSibling value for a CPU with no sibling.
const NoSMTSibling int32 = -1
