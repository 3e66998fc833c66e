// Command scxhetero is the userspace control plane for the heterogeneous-
// CPU scheduler extension: it detects topology, classifies tasks, and
// reconciles shared BPF maps with the in-kernel scheduler program.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tesselslate/scxhetero/internal/bpfmap"
	"github.com/tesselslate/scxhetero/internal/classify"
	"github.com/tesselslate/scxhetero/internal/config"
	"github.com/tesselslate/scxhetero/internal/control"
	"github.com/tesselslate/scxhetero/internal/daemon"
	"github.com/tesselslate/scxhetero/internal/epp"
	"github.com/tesselslate/scxhetero/internal/errs"
	"github.com/tesselslate/scxhetero/internal/events"
	"github.com/tesselslate/scxhetero/internal/logging"
	"github.com/tesselslate/scxhetero/internal/model"
	"github.com/tesselslate/scxhetero/internal/profiles"
	"github.com/tesselslate/scxhetero/internal/stats"
	"github.com/tesselslate/scxhetero/internal/topology"
	"github.com/tesselslate/scxhetero/internal/vcache"
)

const (
	defaultConfigPath = "/etc/scxhetero/config.toml"
	bpfPinDir         = "/sys/fs/bpf/scx_hetero"
	controlFilePath   = "/run/scxhetero/control"
	statsCsvPath      = "/var/lib/scxhetero/scheduler_stats.csv"
)

func main() {
	var configPath string

	root := &cobra.Command{
		Use:   "scxhetero",
		Short: "Control plane for the heterogeneous-CPU sched_ext scheduler",
	}
	run := &cobra.Command{
		Use:   "run",
		Short: "Run the control plane daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(configPath)
		},
	}
	run.Flags().StringVar(&configPath, "config", defaultConfigPath, "path to the daemon TOML config")
	root.AddCommand(run)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runDaemon(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: %v, using defaults\n", err)
	}

	log, err := logging.New(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}

	topo := topology.NewDetector(log).Detect()

	syncer, err := bpfmap.Open(bpfPinDir)
	if err != nil {
		if errs.ClassOf(err) == errs.ClassKernelFeatureMissing {
			log.WithError(err).Fatal("required in-kernel feature unavailable")
		}
		return err
	}

	eventCons, err := events.Open(bpfPinDir, log, nil)
	if err != nil {
		log.WithError(err).Fatal("required in-kernel feature unavailable")
	}

	profileMgr := profiles.New(log, cfg.ProfilesDir)
	_ = profileMgr.Load()
	if err := profileMgr.Watch(); err != nil {
		log.WithError(err).Warn("profile directory watch failed, hot-reload disabled")
	}

	classifiers := classify.NewSet(log, profileMgr)

	var eppMgr *epp.Manager
	if topo.IsHybrid() {
		eppMgr = epp.New(log, topo.NrCPUs)
	}

	var vcacheCtl *vcache.Controller
	if topo.Arch.HasX3D {
		strategy := model.VCacheStrategyAutomatic
		if cfg.Amd.VCacheStrategy == "manual" {
			strategy = model.VCacheStrategyManual
		} else if cfg.Amd.VCacheStrategy == "follow_external" {
			strategy = model.VCacheStrategyFollowExternal
		}
		vcacheCtl = vcache.New(log, strategy, cfg.Amd.GamingThreshold, cfg.Amd.BatchThreshold)
	}

	controlIf := control.New(log, controlFilePath)
	if err := controlIf.EnsureExists(); err != nil {
		log.WithError(err).Warn("creating control file failed, control interface disabled")
	}
	if err := os.MkdirAll(filepath.Dir(controlFilePath), 0755); err != nil {
		log.WithError(err).Warn("creating control runtime directory failed")
	}

	statsExp, err := stats.New(log, statsCsvPath)
	if err != nil {
		log.WithError(err).Warn("opening stats csv failed, stats export disabled")
	}

	d := daemon.New(daemon.Deps{
		Log:         log,
		Config:      cfg,
		Topology:    topo,
		Syncer:      syncer,
		Classifiers: classifiers,
		VCache:      vcacheCtl,
		EPP:         eppMgr,
		Control:     controlIf,
		Profiles:    profileMgr,
		Events:      eventCons,
		Stats:       statsExp,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log.Info("scxhetero control plane starting")
	return d.Run(ctx)
}
