// Package epp manages each CPU's Energy Performance Preference (EPP) hint,
// snapshotting the pre-existing values at startup so they can be restored
// exactly on shutdown, the same "snapshot state we're about to touch, put
// it back on the way out" pattern the teacher's own affinity/cgroup setup
// follows for anything it mutates outside its own process.
package epp

import (
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

const eppNodeTemplate = "/sys/devices/system/cpu/cpu%d/cpufreq/energy_performance_preference"

// Preference is one of the values accepted by the kernel's EPP sysfs node.
type Preference string

const (
	PreferencePerformance        Preference = "performance"
	PreferenceBalancePerformance Preference = "balance_performance"
	PreferenceBalancePower       Preference = "balance_power"
	PreferencePower              Preference = "power"
)

// Manager tracks which CPUs have a writable EPP node and their original
// values, so Restore can undo every change this process made.
type Manager struct {
	log       logrus.FieldLogger
	original  map[int]string
	available map[int]bool
}

// New snapshots the current EPP value of every CPU 0..nrCPUs-1. CPUs
// without an EPP node (no HWP support, or a virtualized/older CPU) are
// simply absent from available, and every later call on them is a no-op:
// this is the hardware-feature-missing degrade path, not a fatal error.
func New(log logrus.FieldLogger, nrCPUs int) *Manager {
	m := &Manager{
		log:       log.WithField("component", "epp"),
		original:  map[int]string{},
		available: map[int]bool{},
	}
	for cpu := 0; cpu < nrCPUs; cpu++ {
		path := cpuEppPath(cpu)
		raw, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		m.original[cpu] = strings.TrimSpace(string(raw))
		m.available[cpu] = true
	}
	if len(m.available) == 0 {
		m.log.Debug("no EPP-capable cpus found, epp management disabled")
	}
	return m
}

func cpuEppPath(cpu int) string {
	return fmt.Sprintf(eppNodeTemplate, cpu)
}

// Set writes pref to every cpu in cpus that has an EPP node.
func (m *Manager) Set(cpus []int, pref Preference) error {
	var lastErr error
	for _, cpu := range cpus {
		if !m.available[cpu] {
			continue
		}
		if err := os.WriteFile(cpuEppPath(cpu), []byte(pref), 0644); err != nil {
			m.log.WithError(err).WithField("cpu", cpu).Debug("write epp failed")
			lastErr = err
		}
	}
	return lastErr
}

// Restore writes back every CPU's originally-observed EPP value. Called
// once, on shutdown.
func (m *Manager) Restore() {
	for cpu, val := range m.original {
		if err := os.WriteFile(cpuEppPath(cpu), []byte(val), 0644); err != nil {
			m.log.WithError(err).WithField("cpu", cpu).Warn("restore epp failed")
		}
	}
}
