package model

// TaskClass is the classification assigned to a task, vCPU thread, container
// or cgroup. Values match the in-kernel program's enum exactly; 0 is
// reserved (unclassified, never written to a map).
type TaskClass uint32

const (
	ClassGaming      TaskClass = 1
	ClassInteractive TaskClass = 2
	ClassBatch       TaskClass = 3
	ClassAI          TaskClass = 4
	ClassVmDev       TaskClass = 5
	ClassVmGaming    TaskClass = 6
	ClassContainer   TaskClass = 7
)

func (c TaskClass) String() string {
	switch c {
	case ClassGaming:
		return "gaming"
	case ClassInteractive:
		return "interactive"
	case ClassBatch:
		return "batch"
	case ClassAI:
		return "ai"
	case ClassVmDev:
		return "vm-dev"
	case ClassVmGaming:
		return "vm-gaming"
	case ClassContainer:
		return "container"
	default:
		return "unclassified"
	}
}

// VmInfo records a detected virtual machine process, along with the
// supplemental GPU-passthrough corroboration gathered from IOMMU group
// enumeration (see SPEC_FULL.md §C.1). None of this rides the wire; only
// the PID->class assignment derived from it does.
type VmInfo struct {
	PID               uint32
	Name              string // parsed from -name, "" if the guest didn't set one.
	Hypervisor        string // executable base name, e.g. "qemu-system-x86_64" or "qemu-kvm".
	HasGpuPassthrough bool
	// PassthroughSources lists the distinct signals that corroborated
	// GPU passthrough: "cmdline" (vfio-pci device arg) and/or "iommu"
	// (the process holds a VFIO group whose IOMMU group contains a
	// display-class device).
	PassthroughSources []string
}

// ContainerInfo records a detected containerized task. Runtime and Name are
// supplemental metadata (SPEC_FULL.md §C.4); only PID->class is wire data.
type ContainerInfo struct {
	PID      uint32
	CgroupID uint64
	Runtime  string // "docker", "podman", "containerd", "" if unknown.
	Name     string // best-effort container name, "" if unresolved.
}

// CgroupClassification maps a cgroup id to the class tasks within it should
// inherit, for the in-kernel program to apply to any task it hasn't already
// classified individually.
type CgroupClassification struct {
	CgroupID uint64
	Class    TaskClass
}
