// Package daemon wires every component into the single control loop: a
// fast-poll goroutine draining the event ring buffer, and a slow-tick
// goroutine running the classifiers, EPP manager, V-Cache controller,
// control interface and stats exporter in a fixed order every tick.
//
// There is deliberately no concurrency between classifiers or across the
// slow-tick stages: each stage's output can influence the next stage
// within the same tick (the GPU scanner before the container scanner,
// the classifiers before the V-Cache controller's workload signal), and
// serializing them keeps every per-tick map write ordering guarantee
// trivial to reason about.
package daemon

import (
	"context"
	"math"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tesselslate/scxhetero/internal/bpfmap"
	"github.com/tesselslate/scxhetero/internal/classify"
	"github.com/tesselslate/scxhetero/internal/config"
	"github.com/tesselslate/scxhetero/internal/control"
	"github.com/tesselslate/scxhetero/internal/epp"
	"github.com/tesselslate/scxhetero/internal/events"
	"github.com/tesselslate/scxhetero/internal/model"
	"github.com/tesselslate/scxhetero/internal/profiles"
	"github.com/tesselslate/scxhetero/internal/stats"
	"github.com/tesselslate/scxhetero/internal/vcache"
)

const (
	fastPollInterval = 100 * time.Millisecond
	slowTickInterval = 2 * time.Second
)

// Daemon owns every long-lived component and the shared shutdown flag.
type Daemon struct {
	log    logrus.FieldLogger
	cfg    config.Config
	topo   *model.Topology
	syncer *bpfmap.Syncer

	classifiers *classify.Set
	vcacheCtl   *vcache.Controller
	eppMgr      *epp.Manager
	controlIf   *control.Interface
	profileMgr  *profiles.Manager
	eventCons   *events.Consumer
	statsExp    *stats.Exporter

	tunables model.RuntimeTunables

	shuttingDown atomic.Bool
}

// Deps bundles every already-constructed component, so New stays a plain
// assignment and every constructor failure is handled at the call site in
// cmd/scxhetero, where it's clear which failure is fatal vs. degrade-only.
type Deps struct {
	Log         logrus.FieldLogger
	Config      config.Config
	Topology    *model.Topology
	Syncer      *bpfmap.Syncer
	Classifiers *classify.Set
	VCache      *vcache.Controller
	EPP         *epp.Manager
	Control     *control.Interface
	Profiles    *profiles.Manager
	Events      *events.Consumer
	Stats       *stats.Exporter
}

func New(d Deps) *Daemon {
	return &Daemon{
		log:         d.Log,
		cfg:         d.Config,
		topo:        d.Topology,
		syncer:      d.Syncer,
		classifiers: d.Classifiers,
		vcacheCtl:   d.VCache,
		eppMgr:      d.EPP,
		controlIf:   d.Control,
		profileMgr:  d.Profiles,
		eventCons:   d.Events,
		statsExp:    d.Stats,
		tunables: model.RuntimeTunables{
			BurstThresholdNs: d.Config.Defaults.BurstThresholdNs,
			SliceNs:          d.Config.Defaults.SliceNs,
			GamingMode:       true,
			WorkMode:         d.Config.Defaults.WorkMode,
		},
	}
}

// Run blocks until ctx is canceled, running the fast-poll and slow-tick
// loops concurrently. On return, every resource this process acquired
// (EPP snapshot, BPF map handles) has been released/restored.
func (d *Daemon) Run(ctx context.Context) error {
	defer d.shutdown()

	if err := d.syncer.WritePerCPUContext(d.topo.PerCPU); err != nil {
		return err
	}
	if err := d.syncer.WriteRuntimeTunables(d.tunables); err != nil {
		d.log.WithError(err).Debug("initial runtime tunables write failed")
	}

	errCh := make(chan error, 2)
	go func() {
		errCh <- d.eventCons.Run(ctx)
	}()
	go d.slowTickLoop(ctx)

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

func (d *Daemon) slowTickLoop(ctx context.Context) {
	ticker := time.NewTicker(slowTickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if d.shuttingDown.Load() {
				return
			}
			d.slowTick()
		}
	}
}

// slowTick runs one full reconciliation pass: classifiers (process, VM,
// container, cgroup in that precedence order, internal to classify.Set),
// then EPP, then V-Cache, then the control interface, then stats.
func (d *Daemon) slowTick() {
	if err := d.classifiers.Tick(d.syncer); err != nil {
		d.log.WithError(err).Debug("classifier tick failed")
	}

	gamingCount, batchCount := d.classCounts()
	gamingDominant := gamingCount > 0 && gamingCount >= batchCount

	if d.topo.IsHybrid() && d.eppMgr != nil {
		d.reconcileEPP(gamingDominant)
	}

	if d.vcacheCtl != nil {
		if err := d.vcacheCtl.Tick(gamingCount, batchCount, d.syncer); err != nil {
			d.log.WithError(err).Debug("vcache tick failed")
		}
		d.syncGamingModeFromVCache()
	}

	if overrides, changed := d.controlIf.Poll(); changed {
		d.applyOverrides(overrides)
	}

	d.exportStats()
}

// classCounts aggregates gaming-class (host, VM or container) and
// batch-class task counts this tick, the signal the EPP Manager and
// V-Cache Controller key their latency-favoring decisions on.
func (d *Daemon) classCounts() (gaming, batch int) {
	counts := d.classifiers.LastClassCounts()
	gaming = counts[model.ClassGaming] + counts[model.ClassVmGaming]
	batch = counts[model.ClassBatch] + counts[model.ClassAI]
	return gaming, batch
}

// syncGamingModeFromVCache maps the V-Cache Controller's observed hardware
// mode onto the runtime-tunable gaming-mode flag: Cache->true,
// Frequency->false, Unknown->true (the default, favoring latency until the
// mode is known).
func (d *Daemon) syncGamingModeFromVCache() {
	var gamingMode bool
	switch d.vcacheCtl.State().Mode {
	case model.VCacheModeFrequency:
		gamingMode = false
	default:
		gamingMode = true
	}
	if gamingMode == d.tunables.GamingMode {
		return
	}
	d.tunables.GamingMode = gamingMode
	if err := d.syncer.WriteRuntimeTunables(d.tunables); err != nil {
		d.log.WithError(err).Debug("sync gaming mode from vcache failed")
	}
}

func (d *Daemon) reconcileEPP(gamingDominant bool) {
	pref := epp.PreferenceBalancePerformance
	if gamingDominant {
		pref = epp.PreferencePerformance
	}
	if err := d.eppMgr.Set(d.topo.PCores, pref); err != nil {
		d.log.WithError(err).Debug("set epp failed")
	}
}

func (d *Daemon) applyOverrides(o *control.Overrides) {
	changed := false
	if o.BurstThresholdNs != nil {
		d.tunables.BurstThresholdNs = *o.BurstThresholdNs
		changed = true
	}
	if o.SliceNs != nil {
		d.tunables.SliceNs = *o.SliceNs
		changed = true
	}
	if o.GamingMode != nil {
		d.tunables.GamingMode = *o.GamingMode
		changed = true
	}
	if o.WorkMode != nil {
		d.tunables.WorkMode = *o.WorkMode
		changed = true
	}
	if !changed {
		return
	}
	if err := d.syncer.WriteRuntimeTunables(d.tunables); err != nil {
		d.log.WithError(err).Debug("apply control overrides failed")
	}
}

func (d *Daemon) exportStats() {
	d.logSupplementalMetadata()

	if d.statsExp == nil {
		return
	}
	counters := d.eventCons.Snapshot()
	row := stats.Row{
		TimestampMs: uint64(time.Now().UnixMilli()),
		GamingTasks: counters.ByKind[model.EventGamingDetected],
		Preemptions: counters.ByKind[model.EventPreemptKick],
	}
	if sc, ok := d.syncer.ReadStatsCounters(); ok {
		row.Cluster0Tasks = sc.Cluster0Tasks
		row.Cluster1Tasks = sc.Cluster1Tasks
		if sc.LatencyCount > 0 {
			row.LatencyAvgUs = nsToUs(float64(sc.LatencySumNs) / float64(sc.LatencyCount))
			row.LatencyMaxUs = nsToUs(float64(sc.LatencyMaxNs))
		}
		row.JitterUs = nsToUs(gamingLatencyJitterNs(sc))
		row.LatePct = float64(latePct(sc.LateFrameCount, sc.Dispatches))
	}
	if err := d.statsExp.Write(row); err != nil {
		d.log.WithError(err).Debug("write stats row failed")
	}
}

func nsToUs(ns float64) float64 { return ns / 1000 }

// gamingLatencyJitterNs computes sqrt(E[X^2] - E[X]^2) over the gaming-
// latency sum and sum-of-squares counters, saturating the variance at zero
// to guard against floating-point rounding pushing it slightly negative.
func gamingLatencyJitterNs(sc bpfmap.StatsCounters) float64 {
	if sc.GamingLatCount == 0 {
		return 0
	}
	n := float64(sc.GamingLatCount)
	mean := float64(sc.GamingLatSumNs) / n
	meanSq := float64(sc.GamingLatSumSqNs) / n
	variance := meanSq - mean*mean
	return math.Sqrt(math.Max(0, variance))
}

// latePct is late*100/total using integer division, ties rounding down.
func latePct(late, total uint64) uint64 {
	if total == 0 {
		return 0
	}
	return late * 100 / total
}

// logSupplementalMetadata emits debug-level detail for this tick's detected
// VMs and containers, the out-of-band metadata classification doesn't put
// on the wire (SPEC_FULL.md §C.1, §C.4).
func (d *Daemon) logSupplementalMetadata() {
	for _, vm := range d.classifiers.LastVmInfos() {
		d.log.WithFields(logrus.Fields{
			"pid":         vm.PID,
			"hypervisor":  vm.Hypervisor,
			"gpu_passthr": vm.HasGpuPassthrough,
			"sources":     vm.PassthroughSources,
		}).Debug("vm detected")
	}
	for _, c := range d.classifiers.LastContainerInfos() {
		d.log.WithFields(logrus.Fields{
			"pid":     c.PID,
			"runtime": c.Runtime,
			"name":    c.Name,
		}).Debug("container detected")
	}
}

// shutdown restores EPP to its pre-daemon values and releases kernel
// attachment handles, in that order, matching the teacher's own
// acquire-then-defer-release discipline for system resources.
func (d *Daemon) shutdown() {
	d.shuttingDown.Store(true)
	if d.eppMgr != nil {
		d.eppMgr.Restore()
	}
	if d.profileMgr != nil {
		_ = d.profileMgr.Close()
	}
	if d.eventCons != nil {
		_ = d.eventCons.Close()
	}
	if d.statsExp != nil {
		_ = d.statsExp.Close()
	}
	if d.syncer != nil {
		_ = d.syncer.Close()
	}
}
