// Package vcache implements the V-Cache Controller: it reads and writes the
// AMD X3D platform driver's cache/frequency mode switch and decides when to
// flip it, with hysteresis so a brief workload blip doesn't cause mode
// flapping.
package vcache

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tesselslate/scxhetero/internal/bpfmap"
	"github.com/tesselslate/scxhetero/internal/model"
)

const driverGlob = "/sys/bus/platform/drivers/amd_x3d_vcache/AMDI*/amd_x3d_mode"

// stabilityWindow is the duration a candidate mode must hold continuously
// before the controller actually switches (spec §4.4, a design contract,
// not an implementation detail).
const stabilityWindow = 5 * time.Second

// pollRateLimit is the minimum interval between sysfs reads of the mode
// node (spec §4.4).
const pollRateLimit = 500 * time.Millisecond

// Controller owns the current VCacheState and the sysfs node path, once
// located. A host without the driver (non-X3D, or kernel missing the
// driver) runs with nodePath == "" and every method becomes a no-op,
// degrading per the hardware-feature-missing error class rather than
// failing startup.
type Controller struct {
	log      logrus.FieldLogger
	nodePath string
	state    model.VCacheState

	// now is time.Now by default; tests override it to exercise the
	// stability window and rate limit without sleeping.
	now func() time.Time
}

// New locates the sysfs node (if present) and builds a Controller seeded
// with the requested strategy and thresholds.
func New(log logrus.FieldLogger, strategy model.VCacheStrategy, gamingThreshold, batchThreshold int) *Controller {
	log = log.WithField("component", "vcache")
	nodePath := findNode(log)
	c := &Controller{
		log:      log,
		nodePath: nodePath,
		now:      time.Now,
		state: model.VCacheState{
			Mode:            model.VCacheModeUnknown,
			Strategy:        strategy,
			GamingThreshold: gamingThreshold,
			BatchThreshold:  batchThreshold,
		},
	}
	if nodePath != "" {
		c.refreshMode()
	}
	return c
}

// Available reports whether the host exposes the X3D mode-switch driver.
func (c *Controller) Available() bool { return c.nodePath != "" }

func findNode(log logrus.FieldLogger) string {
	matches, err := filepath.Glob(driverGlob)
	if err != nil || len(matches) == 0 {
		log.Debug("no amd_x3d_mode sysfs node found, vcache control disabled")
		return ""
	}
	return matches[0]
}

// refreshMode re-reads the sysfs node, skipping the read entirely if less
// than pollRateLimit has elapsed since the last one.
func (c *Controller) refreshMode() {
	now := c.now()
	if !c.state.LastCheck.IsZero() && now.Sub(c.state.LastCheck) < pollRateLimit {
		return
	}
	c.state.LastCheck = now

	raw, err := os.ReadFile(c.nodePath)
	if err != nil {
		c.log.WithError(err).Debug("read amd_x3d_mode failed")
		return
	}
	switch strings.ToLower(strings.TrimSpace(string(raw))) {
	case "cache":
		c.state.Mode = model.VCacheModeCache
	case "frequency":
		c.state.Mode = model.VCacheModeFrequency
	default:
		c.state.Mode = model.VCacheModeUnknown
	}
}

// State returns a copy of the controller's current state.
func (c *Controller) State() model.VCacheState { return c.state }

// SetMode writes mode to the sysfs node if it differs from the current
// mode, and pushes the new mode to the shared map. A write failure is
// logged at debug and the mode reverts to whatever refreshMode next reads,
// matching the map-write-failure error class.
func (c *Controller) SetMode(mode model.VCacheMode, syncer *bpfmap.Syncer) error {
	if !c.Available() {
		return nil
	}
	if mode == c.state.Mode {
		return nil
	}
	var text string
	switch mode {
	case model.VCacheModeCache:
		text = "cache"
	case model.VCacheModeFrequency:
		text = "frequency"
	default:
		return fmt.Errorf("cannot set vcache mode to unknown")
	}
	if err := os.WriteFile(c.nodePath, []byte(text), 0644); err != nil {
		c.log.WithError(err).Debug("write amd_x3d_mode failed")
		return err
	}
	c.state.Mode = mode
	if syncer != nil {
		return syncer.WriteVCacheMode(mode)
	}
	return nil
}

// Tick evaluates the controller's strategy against this tick's gaming and
// batch task counts and flips mode once a candidate has held continuously
// for the stability window. Under VCacheStrategyManual or FollowExternal,
// Tick only refreshes the observed mode (rate-limited) and never writes.
func (c *Controller) Tick(gamingCount, batchCount int, syncer *bpfmap.Syncer) error {
	if !c.Available() {
		return nil
	}
	if c.state.Strategy != model.VCacheStrategyAutomatic {
		c.refreshMode()
		return nil
	}

	switch {
	case gamingCount >= c.state.GamingThreshold:
		return c.considerCandidate(model.VCacheModeCache, syncer)
	case batchCount >= c.state.BatchThreshold && gamingCount == 0:
		return c.considerCandidate(model.VCacheModeFrequency, syncer)
	}
	// Neither threshold holds: spec says "otherwise no change", so an
	// already-pending candidate keeps accruing stability time rather
	// than being reset by a quiet tick.
	return nil
}

// considerCandidate restarts the stability timer when candidate is newly
// nominated, clears it once candidate matches the current mode, and
// switches mode once candidate has been pending continuously for at least
// stabilityWindow.
func (c *Controller) considerCandidate(candidate model.VCacheMode, syncer *bpfmap.Syncer) error {
	if candidate == c.state.Mode {
		c.state.PendingMode = model.VCacheModeUnknown
		c.state.StableSince = time.Time{}
		return nil
	}
	now := c.now()
	if c.state.PendingMode != candidate {
		c.state.PendingMode = candidate
		c.state.StableSince = now
		return nil
	}
	if now.Sub(c.state.StableSince) >= stabilityWindow {
		if err := c.SetMode(candidate, syncer); err != nil {
			return err
		}
		c.state.PendingMode = model.VCacheModeUnknown
		c.state.StableSince = time.Time{}
	}
	return nil
}
