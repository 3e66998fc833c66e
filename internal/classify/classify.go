// Package classify implements the five classifier scanners (process, VM,
// container, cgroup, GPU) that together decide each task's TaskClass every
// slow tick.
//
// Each scanner keeps its own previous-scan result and returns a diff
// against the current scan, so the shared-map syncer can apply ordered
// removals-then-additions without the syncer needing to know how any
// particular classifier reached its conclusions.
package classify

import (
	"os"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/tesselslate/scxhetero/internal/bpfmap"
	"github.com/tesselslate/scxhetero/internal/model"
)

// Set runs all five classifiers in the fixed order the in-kernel program's
// own precedence expects: process, then VM, then container, then cgroup,
// so a task visible to more than one scanner keeps the most specific
// classification (a vCPU thread is never re-labeled by the cgroup scanner).
type Set struct {
	log logrus.FieldLogger

	Process   *ProcessScanner
	VM        *VMScanner
	Container *ContainerScanner
	Cgroup    *CgroupScanner
	GPU       *GPUScanner

	// lastVmInfos/lastContainerInfos retain the most recent scan's
	// supplemental metadata (SPEC_FULL.md §C) for the Stats Exporter to
	// log, separate from the wire-contract diffs Tick applies.
	lastVmInfos        []model.VmInfo
	lastContainerInfos []model.ContainerInfo
}

func NewSet(log logrus.FieldLogger, profiles ProfileMatcher) *Set {
	log = log.WithField("component", "classify")
	return &Set{
		log:       log,
		Process:   NewProcessScanner(log, profiles),
		VM:        NewVMScanner(log),
		Container: NewContainerScanner(log),
		Cgroup:    NewCgroupScanner(log),
		GPU:       NewGPUScanner(log),
	}
}

// Tick runs every scanner once and applies their diffs to the shared maps
// in classifier-precedence order.
func (s *Set) Tick(syncer *bpfmap.Syncer) error {
	procDiff, err := s.Process.Scan()
	if err != nil {
		return err
	}
	if err := syncer.ApplyProcessClass(procDiff); err != nil {
		s.log.WithError(err).Debug("apply process class diff failed")
	}

	vmDiff, vmInfos := s.VM.Scan()
	if err := syncer.ApplyVCpuClass(vmDiff); err != nil {
		s.log.WithError(err).Debug("apply vcpu class diff failed")
	}
	s.lastVmInfos = vmInfos

	s.GPU.Scan() // updates GPU state; the container scanner below reads it this tick

	containerDiff, containerInfos := s.Container.Scan(s.GPU.Snapshot())
	if err := syncer.ApplyContainerClass(containerDiff); err != nil {
		s.log.WithError(err).Debug("apply container class diff failed")
	}
	s.lastContainerInfos = containerInfos

	cgroupDiff := s.Cgroup.Scan()
	if err := syncer.ApplyCgroupClass(cgroupDiff); err != nil {
		s.log.WithError(err).Debug("apply cgroup class diff failed")
	}

	return nil
}

// LastVmInfos returns the VM metadata gathered on the most recent Tick.
func (s *Set) LastVmInfos() []model.VmInfo { return s.lastVmInfos }

// LastContainerInfos returns the container metadata gathered on the most
// recent Tick.
func (s *Set) LastContainerInfos() []model.ContainerInfo { return s.lastContainerInfos }

// LastClassCounts aggregates every scanner's most recent tallies into one
// class->count map, the workload-dominance signal the V-Cache Controller
// and EPP Manager act on.
func (s *Set) LastClassCounts() map[model.TaskClass]int {
	out := map[model.TaskClass]int{}
	merge := func(counts map[model.TaskClass]int) {
		for class, n := range counts {
			out[class] += n
		}
	}
	merge(s.Process.Counts())
	merge(s.VM.Counts())
	merge(s.Container.Counts())
	merge(s.Cgroup.Counts())
	return out
}

// readProcCmdline returns the NUL-split argv of /proc/<pid>/cmdline, or nil
// if the process has already exited (a transient-I/O condition every
// scanner treats the same way: skip this PID this tick).
func readProcCmdline(pid int) []string {
	raw, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/cmdline")
	if err != nil {
		return nil
	}
	parts := strings.Split(string(raw), "\x00")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func readProcComm(pid int) string {
	raw, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/comm")
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(raw))
}

// countByClass tallies a classifier's keyed-by-PID current map by class,
// the shared basis for the PID-keyed scanners' Counts.
func countByClass(m map[uint32]model.TaskClass) map[model.TaskClass]int {
	out := map[model.TaskClass]int{}
	for _, class := range m {
		out[class]++
	}
	return out
}

// countByClassU64 is countByClass for the cgroup scanner, keyed by cgroup
// id rather than PID.
func countByClassU64(m map[uint64]model.TaskClass) map[model.TaskClass]int {
	out := map[model.TaskClass]int{}
	for _, class := range m {
		out[class]++
	}
	return out
}

func listPids() []int {
	entries, err := os.ReadDir("/proc")
	if err != nil {
		return nil
	}
	pids := make([]int, 0, len(entries))
	for _, e := range entries {
		if pid, err := strconv.Atoi(e.Name()); err == nil {
			pids = append(pids, pid)
		}
	}
	return pids
}
