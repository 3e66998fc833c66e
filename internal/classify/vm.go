package classify

import (
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/tesselslate/scxhetero/internal/bpfmap"
	"github.com/tesselslate/scxhetero/internal/model"
)

// hypervisorExeNames are the executables recognized as VM host processes.
var hypervisorExeNames = []string{"qemu-system", "qemu-kvm"}

// vcpuCommPattern matches qemu's vCPU thread names, e.g. "CPU 0/KVM". Other
// qemu threads (I/O, vhost, RCU, QMP, the main thread) don't match and are
// left out of the vCPU-PID classification map.
var vcpuCommPattern = regexp.MustCompile(`^CPU \d+/KVM$`)

// gameOSTokens mark a guest name as itself being (or resembling) a gaming
// OS install, independent of GPU passthrough.
var gameOSTokens = []string{"steamos", "bazzite", "winesapos"}

// windowsGameTokens corroborate a gaming guest when combined with GPU
// passthrough: a Windows version string or an explicit "gaming" tag.
var windowsGameTokens = []string{"win7", "win8", "win10", "win11", "windows", "gaming", "game"}

// mlKeywords mark a guest as an AI/ML workload by name.
var mlKeywords = []string{"ml", "ai", "cuda", "tensorflow", "pytorch", "llm", "ollama"}

// VMScanner finds running hypervisor processes, classifies their vCPU
// threads, and corroborates GPU passthrough both from the qemu command
// line and from the VFIO group device nodes the process holds open
// (SPEC_FULL.md §C.1).
type VMScanner struct {
	log  logrus.FieldLogger
	prev map[uint32]model.TaskClass
}

func NewVMScanner(log logrus.FieldLogger) *VMScanner {
	return &VMScanner{log: log.WithField("scanner", "vm"), prev: map[uint32]model.TaskClass{}}
}

// Scan returns the vCPU-thread class diff plus the VmInfo metadata
// gathered for every detected hypervisor this tick.
func (s *VMScanner) Scan() (bpfmap.ClassDiff, []model.VmInfo) {
	var infos []model.VmInfo
	current := map[uint32]model.TaskClass{}

	for _, pid := range listPids() {
		argv := readProcCmdline(pid)
		if len(argv) == 0 || !isHypervisor(argv[0]) {
			continue
		}
		hasGpuCmdline := hasPassthroughArg(argv)
		iommuGroups, hasGpuIommu := detectVfioIommuGroups(pid)

		var sources []string
		if hasGpuCmdline {
			sources = append(sources, "cmdline")
		}
		if hasGpuIommu {
			sources = append(sources, "iommu")
		}
		info := model.VmInfo{
			PID:                uint32(pid),
			Name:               parseVMName(argv),
			Hypervisor:         filepath.Base(argv[0]),
			HasGpuPassthrough:  hasGpuCmdline || hasGpuIommu,
			PassthroughSources: sources,
		}
		infos = append(infos, info)
		_ = iommuGroups

		class := classifyVM(info)
		for _, tid := range listVCPUThreads(pid) {
			current[uint32(tid)] = class
		}
	}

	diff := bpfmap.ClassDiff{Added: map[uint64]model.TaskClass{}}
	for pid := range s.prev {
		if _, still := current[pid]; !still {
			diff.Removed = append(diff.Removed, uint64(pid))
		}
	}
	for pid, class := range current {
		if old, existed := s.prev[pid]; !existed || old != class {
			diff.Added[uint64(pid)] = class
		}
	}
	s.prev = current
	return diff, infos
}

// Counts tallies the most recent scan's live vCPU-thread PIDs by class.
func (s *VMScanner) Counts() map[model.TaskClass]int {
	return countByClass(s.prev)
}

func isHypervisor(exe string) bool {
	base := filepath.Base(exe)
	for _, name := range hypervisorExeNames {
		if strings.HasPrefix(base, name) {
			return true
		}
	}
	return false
}

func hasPassthroughArg(argv []string) bool {
	for _, a := range argv {
		if strings.Contains(a, "vfio-pci") {
			return true
		}
	}
	return false
}

// parseVMName extracts the guest name from a "-name" argument, stripping
// the "guest=" key and any trailing ",key=val" qemu suboptions.
func parseVMName(argv []string) string {
	for i, a := range argv {
		if a != "-name" || i+1 >= len(argv) {
			continue
		}
		val := argv[i+1]
		if idx := strings.Index(val, ","); idx >= 0 {
			val = val[:idx]
		}
		return strings.TrimPrefix(val, "guest=")
	}
	return ""
}

// classifyVM applies the three-way workload rule: a guest name that itself
// suggests a gaming OS, or GPU passthrough corroborated by a Windows/game
// token in the name, is Gaming; an ML-flavored name is AI; anything else is
// Dev.
func classifyVM(info model.VmInfo) model.TaskClass {
	name := strings.ToLower(info.Name)
	switch {
	case containsAnyToken(name, gameOSTokens):
		return model.ClassVmGaming
	case info.HasGpuPassthrough && containsAnyToken(name, windowsGameTokens):
		return model.ClassVmGaming
	case containsAnyToken(name, mlKeywords):
		return model.ClassAI
	default:
		return model.ClassVmDev
	}
}

func containsAnyToken(haystack string, tokens []string) bool {
	for _, t := range tokens {
		if strings.Contains(haystack, t) {
			return true
		}
	}
	return false
}

// listVCPUThreads returns the thread ids of pid whose comm matches qemu's
// vCPU naming convention ("CPU N/KVM"), excluding every other qemu thread
// (I/O, vhost, RCU, QMP, main).
func listVCPUThreads(pid int) []int {
	taskDir := "/proc/" + strconv.Itoa(pid) + "/task"
	entries, err := os.ReadDir(taskDir)
	if err != nil {
		return nil
	}
	out := make([]int, 0, len(entries))
	for _, e := range entries {
		tid, err := strconv.Atoi(e.Name())
		if err != nil {
			continue
		}
		comm, err := os.ReadFile(filepath.Join(taskDir, e.Name(), "comm"))
		if err != nil {
			continue
		}
		if vcpuCommPattern.MatchString(strings.TrimSpace(string(comm))) {
			out = append(out, tid)
		}
	}
	return out
}

// detectVfioIommuGroups walks /proc/<pid>/fd looking for open vfio group
// device nodes, then reports whether any referenced IOMMU group contains a
// display-class PCI device, corroborating passthrough independent of the
// command line (a process could be launched by a wrapper that doesn't
// expose the raw -device argument). The devices' driver binding is not
// checked.
func detectVfioIommuGroups(pid int) (groups []string, hasGpu bool) {
	fdDir := "/proc/" + strconv.Itoa(pid) + "/fd"
	entries, err := os.ReadDir(fdDir)
	if err != nil {
		return nil, false
	}
	for _, e := range entries {
		target, err := os.Readlink(filepath.Join(fdDir, e.Name()))
		if err != nil || !strings.Contains(target, "vfio/") {
			continue
		}
		group := filepath.Base(target)
		groups = append(groups, group)
		if groupHasGpu(group) {
			hasGpu = true
		}
	}
	return groups, hasGpu
}

func groupHasGpu(group string) bool {
	devDir := filepath.Join("/sys/kernel/iommu_groups", group, "devices")
	entries, err := os.ReadDir(devDir)
	if err != nil {
		return false
	}
	for _, e := range entries {
		classRaw, err := os.ReadFile(filepath.Join(devDir, e.Name(), "class"))
		if err != nil {
			continue
		}
		// PCI display-controller class codes are 0x03xxxx.
		if strings.HasPrefix(strings.TrimSpace(string(classRaw)), "0x03") {
			return true
		}
	}
	return false
}
