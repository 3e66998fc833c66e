// Package bpfmap is the shared-map syncer: it opens the BPF maps the
// in-kernel scheduler program pins under bpffs and pushes the control
// plane's per-tick diffs into them.
//
// The in-kernel program is an external collaborator (its own loader pins
// its maps before this process starts); this package only opens maps by
// name and upserts/deletes keys, the same division of responsibility the
// ring-buffer exporter in the reference pack uses for its own BPF object.
package bpfmap

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"path/filepath"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/rlimit"

	"github.com/tesselslate/scxhetero/internal/errs"
	"github.com/tesselslate/scxhetero/internal/model"
)

// Map names as pinned by the in-kernel program's loader.
const (
	MapPerCPUContext   = "percpu_ctx"
	MapProcessClass    = "process_class"
	MapVCpuClass       = "vcpu_class"
	MapContainerClass  = "container_class"
	MapCgroupClass     = "cgroup_class"
	MapRuntimeTunables = "runtime_tunables"
	MapVCacheState     = "vcache_state"
	MapStatsCounters   = "stats_counters"
)

// StatsCounters mirrors the in-kernel program's single-entry counters
// record (key 0) that the Stats Exporter reads every tick. Every field
// except LatencyMinNs/LatencyMaxNs (running extremes) is a running total
// the kernel side only ever increments; the control plane
// derives averages, jitter and the late-frame percentage from these raw
// sums on read.
type StatsCounters struct {
	Enqueues       uint64
	Dispatches     uint64
	GamingTasks    uint64
	ClusterLocal   uint64
	ClusterCross   uint64
	SmtIdlePicks   uint64
	PreemptKicks   uint64
	LatencySumNs   uint64
	LatencyMinNs   uint64
	LatencyMaxNs   uint64
	LatencyCount   uint64
	GamingLatSumNs   uint64
	GamingLatSumSqNs uint64
	GamingLatCount   uint64
	LateFrameCount   uint64
	PreemptionCount  uint64
	Cluster0Tasks    uint64
	Cluster1Tasks    uint64
}

// requiredMaps lists every map name the control plane cannot operate
// without; absence of any of these is a fatal, kernel-feature-missing
// startup error.
var requiredMaps = []string{
	MapPerCPUContext,
	MapProcessClass,
	MapVCpuClass,
	MapContainerClass,
	MapCgroupClass,
	MapRuntimeTunables,
}

// Syncer owns the open BPF map handles and the native encoding used to
// translate model records into raw map values.
type Syncer struct {
	pinDir string
	maps   map[string]*ebpf.Map
}

// Open removes the memlock limit (required before any BPF object can be
// mapped in, per the kernel's bpf() syscall accounting) and opens every
// pinned map under pinDir, failing fast if a required map is missing.
func Open(pinDir string) (*Syncer, error) {
	if err := rlimit.RemoveMemlock(); err != nil {
		return nil, errs.Wrap(errs.ClassKernelFeatureMissing, fmt.Errorf("remove memlock rlimit: %w", err))
	}

	s := &Syncer{pinDir: pinDir, maps: map[string]*ebpf.Map{}}
	for _, name := range requiredMaps {
		m, err := ebpf.LoadPinnedMap(filepath.Join(pinDir, name), nil)
		if err != nil {
			return nil, errs.Wrap(errs.ClassKernelFeatureMissing,
				fmt.Errorf("load pinned map %s: %w: %w", name, err, errs.ErrKernelFeatureMissing))
		}
		s.maps[name] = m
	}
	// VCacheState is hardware-optional: its absence degrades the
	// V-Cache Controller to inert rather than failing startup.
	if m, err := ebpf.LoadPinnedMap(filepath.Join(pinDir, MapVCacheState), nil); err == nil {
		s.maps[MapVCacheState] = m
	}
	// StatsCounters is likewise optional: an older or stats-less build of
	// the in-kernel program may not pin it, in which case the Stats
	// Exporter just reports zeros for the counter-derived fields.
	if m, err := ebpf.LoadPinnedMap(filepath.Join(pinDir, MapStatsCounters), nil); err == nil {
		s.maps[MapStatsCounters] = m
	}
	return s, nil
}

// Close releases every open map handle.
func (s *Syncer) Close() error {
	var firstErr error
	for _, m := range s.maps {
		if err := m.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// HasVCacheMap reports whether the hardware-optional V-Cache state map was
// found at Open time.
func (s *Syncer) HasVCacheMap() bool {
	_, ok := s.maps[MapVCacheState]
	return ok
}

// WritePerCPUContext pushes the full topology-derived per-CPU table. This
// happens once at startup only: topology is fixed for the process
// lifetime, so there is nothing to diff on later ticks.
func (s *Syncer) WritePerCPUContext(ctxs []model.PerCpuContext) error {
	m := s.maps[MapPerCPUContext]
	for cpu, ctx := range ctxs {
		if err := m.Put(uint32(cpu), encode(ctx)); err != nil {
			return errs.Wrap(errs.ClassMapWrite, fmt.Errorf("put percpu_ctx[%d]: %w", cpu, err))
		}
	}
	return nil
}

// ClassDiff is an ordered set of key removals and additions for one
// classification map, applied removals-then-additions per tick. A key whose
// class changed appears only in Added and is overwritten in place.
type ClassDiff struct {
	Removed []uint64
	Added   map[uint64]model.TaskClass
}

// ApplyProcessClass applies diff to the process classification map (keyed
// by PID).
func (s *Syncer) ApplyProcessClass(diff ClassDiff) error {
	return s.applyU32Class(MapProcessClass, diff)
}

// ApplyVCpuClass applies diff to the vCPU-thread classification map (keyed
// by PID, one entry per vCPU thread).
func (s *Syncer) ApplyVCpuClass(diff ClassDiff) error { return s.applyU32Class(MapVCpuClass, diff) }

// ApplyContainerClass applies diff to the containerized-process
// classification map (keyed by PID).
func (s *Syncer) ApplyContainerClass(diff ClassDiff) error {
	return s.applyU32Class(MapContainerClass, diff)
}

// ApplyCgroupClass applies diff to the cgroup classification map (keyed by
// 64-bit cgroup id).
func (s *Syncer) ApplyCgroupClass(diff ClassDiff) error {
	m, ok := s.maps[MapCgroupClass]
	if !ok {
		return errs.Wrap(errs.ClassKernelFeatureMissing, errs.ErrKernelFeatureMissing)
	}
	for _, key := range diff.Removed {
		if err := m.Delete(key); err != nil && !isKeyNotExist(err) {
			return errs.Wrap(errs.ClassMapWrite, fmt.Errorf("delete cgroup_class[%d]: %w", key, err))
		}
	}
	for key, class := range diff.Added {
		if err := m.Put(key, uint32(class)); err != nil {
			return errs.Wrap(errs.ClassMapWrite, fmt.Errorf("put cgroup_class[%d]: %w", key, err))
		}
	}
	return nil
}

func (s *Syncer) applyU32Class(name string, diff ClassDiff) error {
	m, ok := s.maps[name]
	if !ok {
		return errs.Wrap(errs.ClassKernelFeatureMissing, errs.ErrKernelFeatureMissing)
	}
	for _, pid := range diff.Removed {
		if err := m.Delete(uint32(pid)); err != nil && !isKeyNotExist(err) {
			return errs.Wrap(errs.ClassMapWrite, fmt.Errorf("delete %s[%d]: %w", name, pid, err))
		}
	}
	for pid, class := range diff.Added {
		if err := m.Put(uint32(pid), uint32(class)); err != nil {
			return errs.Wrap(errs.ClassMapWrite, fmt.Errorf("put %s[%d]: %w", name, pid, err))
		}
	}
	return nil
}

// WriteRuntimeTunables pushes tunables to the single-entry runtime
// tunables map (key 0).
func (s *Syncer) WriteRuntimeTunables(t model.RuntimeTunables) error {
	m := s.maps[MapRuntimeTunables]
	if err := m.Put(uint32(0), encode(t)); err != nil {
		return errs.Wrap(errs.ClassMapWrite, fmt.Errorf("put runtime_tunables: %w", err))
	}
	return nil
}

// WriteVCacheMode pushes the current V-Cache mode to the single-entry
// vcache state map (key 0), a no-op if the hardware doesn't expose one.
func (s *Syncer) WriteVCacheMode(mode model.VCacheMode) error {
	m, ok := s.maps[MapVCacheState]
	if !ok {
		return nil
	}
	if err := m.Put(uint32(0), uint32(mode)); err != nil {
		return errs.Wrap(errs.ClassMapWrite, fmt.Errorf("put vcache_state: %w", err))
	}
	return nil
}

// ReadStatsCounters reads the single-entry counters record (key 0). ok is
// false when the map wasn't pinned (older in-kernel build) or the read
// failed, in which case the caller should report zeros rather than fail.
func (s *Syncer) ReadStatsCounters() (StatsCounters, bool) {
	m, ok := s.maps[MapStatsCounters]
	if !ok {
		return StatsCounters{}, false
	}
	raw := make([]byte, binary.Size(StatsCounters{}))
	if err := m.Lookup(uint32(0), &raw); err != nil {
		return StatsCounters{}, false
	}
	var counters StatsCounters
	if err := binary.Read(bytes.NewReader(raw), binary.NativeEndian, &counters); err != nil {
		return StatsCounters{}, false
	}
	return counters, true
}

func isKeyNotExist(err error) bool {
	return err == ebpf.ErrKeyNotExist
}

func encode(v any) []byte {
	buf := make([]byte, binary.Size(v))
	w := sliceWriter{buf: buf}
	_ = binary.Write(&w, binary.NativeEndian, v)
	return buf
}

// sliceWriter lets binary.Write fill a pre-sized buffer without an
// intermediate bytes.Buffer allocation.
type sliceWriter struct {
	buf []byte
	off int
}

func (w *sliceWriter) Write(p []byte) (int, error) {
	n := copy(w.buf[w.off:], p)
	w.off += n
	return n, nil
}
