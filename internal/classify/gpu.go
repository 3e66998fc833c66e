package classify

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jaypipes/ghw"
	"github.com/sirupsen/logrus"
)

// DiscreteGPU describes one discovered discrete GPU, including the
// NVIDIA-specific supplemental fields from original_source/gpu.rs
// (SPEC_FULL.md §C.2): ReBAR (set when the device's resource0_resize file
// is non-empty) and PCIe link state. PowerStateLog is not filled in by
// Scan: the PCI power state is not read.
type DiscreteGPU struct {
	PCIAddress string
	Vendor     string
	Product    string

	ReBarEnabled  bool
	LinkSpeedGTs  float64
	LinkWidth     int
	PowerStateLog []string
}

// GPUSnapshot is the GPU Monitor's most recent view of discrete GPUs.
type GPUSnapshot struct {
	Discrete []DiscreteGPU
}

// GPUScanner enumerates discrete GPUs via sysfs and cross-checks against
// ghw's PCI enumeration (SPEC_FULL.md §B), feeding the container scanner's
// AI-runtime decision. The VM scanner does not consult it.
type GPUScanner struct {
	log  logrus.FieldLogger
	last GPUSnapshot
}

func NewGPUScanner(log logrus.FieldLogger) *GPUScanner {
	return &GPUScanner{log: log.WithField("scanner", "gpu")}
}

func (s *GPUScanner) Scan() {
	var gpus []DiscreteGPU
	const pciDir = "/sys/bus/pci/devices"
	entries, err := os.ReadDir(pciDir)
	if err != nil {
		s.log.WithError(err).Debug("read pci devices failed")
		s.last = GPUSnapshot{}
		return
	}
	for _, e := range entries {
		classRaw, err := os.ReadFile(filepath.Join(pciDir, e.Name(), "class"))
		if err != nil || !strings.HasPrefix(strings.TrimSpace(string(classRaw)), "0x03") {
			continue
		}
		gpu := DiscreteGPU{PCIAddress: e.Name()}
		gpu.ReBarEnabled = readReBar(pciDir, e.Name())
		gpu.LinkSpeedGTs, gpu.LinkWidth = readLinkState(pciDir, e.Name())
		gpus = append(gpus, gpu)
	}

	if pci, err := ghw.PCI(); err == nil {
		for i := range gpus {
			if dev := pci.GetDevice(gpus[i].PCIAddress); dev != nil {
				if dev.Vendor != nil {
					gpus[i].Vendor = dev.Vendor.Name
				}
				if dev.Product != nil {
					gpus[i].Product = dev.Product.Name
				}
			}
		}
	}

	s.last = GPUSnapshot{Discrete: gpus}
}

func (s *GPUScanner) Snapshot() GPUSnapshot { return s.last }

func readReBar(pciDir, addr string) bool {
	raw, err := os.ReadFile(filepath.Join(pciDir, addr, "resource0_resize"))
	if err != nil {
		return false
	}
	return strings.TrimSpace(string(raw)) != ""
}

func readLinkState(pciDir, addr string) (speedGTs float64, width int) {
	speedRaw, err := os.ReadFile(filepath.Join(pciDir, addr, "current_link_speed"))
	if err == nil {
		s := strings.TrimSpace(string(speedRaw))
		s = strings.TrimSuffix(s, "GT/s")
		s = strings.TrimSpace(s)
		if v, err := strconv.ParseFloat(s, 64); err == nil {
			speedGTs = v
		}
	}
	widthRaw, err := os.ReadFile(filepath.Join(pciDir, addr, "current_link_width"))
	if err == nil {
		if v, err := strconv.Atoi(strings.TrimSpace(string(widthRaw))); err == nil {
			width = v
		}
	}
	return speedGTs, width
}
