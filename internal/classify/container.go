package classify

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/tesselslate/scxhetero/internal/bpfmap"
	"github.com/tesselslate/scxhetero/internal/model"
)

// ContainerScanner classifies processes running inside a container cgroup,
// distinguishing AI-workload containers (an NVIDIA_VISIBLE_DEVICES
// environment variable on the process while a GPU is present,
// SPEC_FULL.md §C.5) from plain background containers.
type ContainerScanner struct {
	log  logrus.FieldLogger
	prev map[uint32]model.TaskClass
}

func NewContainerScanner(log logrus.FieldLogger) *ContainerScanner {
	return &ContainerScanner{log: log.WithField("scanner", "container"), prev: map[uint32]model.TaskClass{}}
}

// Scan returns the container-class diff plus ContainerInfo metadata.
func (s *ContainerScanner) Scan(gpus GPUSnapshot) (bpfmap.ClassDiff, []model.ContainerInfo) {
	var infos []model.ContainerInfo
	current := map[uint32]model.TaskClass{}

	for _, pid := range listPids() {
		cgroupPath, cgroupID, ok := readCgroupPath(pid)
		if !ok {
			continue
		}
		runtime, ok := detectContainerRuntime(cgroupPath)
		if !ok {
			continue
		}
		nvidiaAvailable := nvidiaRuntimeAvailable(pid)
		class := model.ClassContainer
		if nvidiaAvailable && len(gpus.Discrete) > 0 {
			class = model.ClassAI
		}
		current[uint32(pid)] = class
		infos = append(infos, model.ContainerInfo{
			PID:      uint32(pid),
			CgroupID: cgroupID,
			Runtime:  runtime,
			Name:     containerNameFromPath(cgroupPath),
		})
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

// Counts tallies the most recent scan's live PIDs by class.
func (s *ContainerScanner) Counts() map[model.TaskClass]int {
	return countByClass(s.prev)
}

// readCgroupPath reads /proc/<pid>/cgroup (unified hierarchy, "0::<path>")
// and returns the path plus the cgroup directory's inode as its 64-bit id
// (0 if the directory cannot be stat'ed). No cgroup.id file is read.
func readCgroupPath(pid int) (path string, id uint64, ok bool) {
	raw, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/cgroup")
	if err != nil {
		return "", 0, false
	}
	for _, line := range strings.Split(strings.TrimSpace(string(raw)), "\n") {
		parts := strings.SplitN(line, ":", 3)
		if len(parts) != 3 || parts[0] != "0" {
			continue
		}
		path = parts[2]
		break
	}
	if path == "" {
		return "", 0, false
	}
	fullPath := filepath.Join("/sys/fs/cgroup", path)
	if info, err := os.Stat(fullPath); err == nil {
		id = inode(info)
	}
	return path, id, true
}

func detectContainerRuntime(cgroupPath string) (string, bool) {
	switch {
	case strings.Contains(cgroupPath, "docker"):
		return "docker", true
	case strings.Contains(cgroupPath, "libpod") || strings.Contains(cgroupPath, "podman"):
		return "podman", true
	case strings.Contains(cgroupPath, "containerd") || strings.Contains(cgroupPath, "cri-containerd"):
		return "containerd", true
	case strings.Contains(cgroupPath, "machine.slice") && strings.Contains(cgroupPath, ".scope"):
		return "containerd", true
	default:
		return "", false
	}
}

// containerNameFromPath extracts a short container id/name from a cgroup
// path's final scope component, best-effort only.
func containerNameFromPath(cgroupPath string) string {
	base := filepath.Base(cgroupPath)
	base = strings.TrimSuffix(base, ".scope")
	if idx := strings.LastIndex(base, "-"); idx != -1 {
		base = base[idx+1:]
	}
	if len(base) > 12 {
		base = base[:12]
	}
	return base
}

// nvidiaRuntimeAvailable reports whether this process's environment sets
// NVIDIA_VISIBLE_DEVICES, the variable the NVIDIA Container Runtime
// injects. No device cgroup or devices.list is read.
func nvidiaRuntimeAvailable(pid int) bool {
	raw, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/environ")
	if err != nil {
		return false
	}
	return strings.Contains(string(raw), "NVIDIA_VISIBLE_DEVICES")
}
