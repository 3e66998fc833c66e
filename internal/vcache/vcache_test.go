package vcache

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/tesselslate/scxhetero/internal/model"
)

// fakeClock lets tests advance the stability/rate-limit clock deterministically
// instead of sleeping.
type fakeClock struct{ t time.Time }

func (f *fakeClock) now() time.Time      { return f.t }
func (f *fakeClock) advance(d time.Duration) { f.t = f.t.Add(d) }

func newTestController(t *testing.T, clock *fakeClock, strategy model.VCacheStrategy, gamingThreshold, batchThreshold int) *Controller {
	t.Helper()
	path := filepath.Join(t.TempDir(), "amd_x3d_mode")
	require.NoError(t, os.WriteFile(path, []byte("cache\n"), 0644))
	log := logrus.New()
	log.SetOutput(io.Discard)
	c := &Controller{
		log:      log.WithField("component", "vcache"),
		nodePath: path,
		now:      clock.now,
		state: model.VCacheState{
			Strategy:        strategy,
			GamingThreshold: gamingThreshold,
			BatchThreshold:  batchThreshold,
		},
	}
	c.refreshMode()
	return c
}

func TestAvailableFalseWithoutNode(t *testing.T) {
	c := &Controller{now: time.Now}
	require.False(t, c.Available())
	require.NoError(t, c.Tick(1, 0, nil))
}

func TestRefreshModeReadsInitialState(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	c := newTestController(t, clock, model.VCacheStrategyAutomatic, 3, 3)
	require.Equal(t, model.VCacheModeCache, c.State().Mode)
}

func TestRefreshModeIsRateLimited(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	c := newTestController(t, clock, model.VCacheStrategyFollowExternal, 3, 3)
	require.NoError(t, os.WriteFile(c.nodePath, []byte("frequency\n"), 0644))

	clock.advance(100 * time.Millisecond) // under the 500ms poll rate limit
	require.NoError(t, c.Tick(0, 0, nil))
	require.Equal(t, model.VCacheModeCache, c.State().Mode, "read should have been rate-limited")

	clock.advance(500 * time.Millisecond) // now past the limit
	require.NoError(t, c.Tick(0, 0, nil))
	require.Equal(t, model.VCacheModeFrequency, c.State().Mode)
}

func TestAutomaticStrategyDoesNotFlipBeforeStabilityWindow(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	c := newTestController(t, clock, model.VCacheStrategyAutomatic, 3, 3)
	require.NoError(t, c.SetMode(model.VCacheModeFrequency, nil))

	require.NoError(t, c.Tick(3, 0, nil))
	clock.advance(4 * time.Second) // under the 5s stability window
	require.NoError(t, c.Tick(3, 0, nil))
	require.Equal(t, model.VCacheModeFrequency, c.State().Mode, "should not flip before the stability window elapses")
}

func TestAutomaticStrategyFlipsAfterStabilityWindow(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	c := newTestController(t, clock, model.VCacheStrategyAutomatic, 3, 3)
	require.NoError(t, c.SetMode(model.VCacheModeFrequency, nil))

	require.NoError(t, c.Tick(3, 0, nil))
	clock.advance(6 * time.Second) // past the 5s stability window
	require.NoError(t, c.Tick(3, 0, nil))
	require.Equal(t, model.VCacheModeCache, c.State().Mode)
}

func TestOpposingSignalRestartsPendingCandidate(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	c := newTestController(t, clock, model.VCacheStrategyAutomatic, 3, 3)
	require.NoError(t, c.SetMode(model.VCacheModeFrequency, nil))

	require.NoError(t, c.Tick(3, 0, nil)) // nominate Cache, StableSince = t0
	require.Equal(t, model.VCacheModeCache, c.state.PendingMode)

	clock.advance(4 * time.Second)
	require.NoError(t, c.Tick(0, 3, nil)) // Frequency is already the current mode: pending Cache is cleared
	require.Equal(t, model.VCacheModeUnknown, c.state.PendingMode)

	clock.advance(4 * time.Second)
	require.NoError(t, c.Tick(3, 0, nil)) // nominate Cache afresh: timer restarts here
	clock.advance(4 * time.Second)        // only 4s since the restart, still short of 5s
	require.NoError(t, c.Tick(3, 0, nil))
	require.Equal(t, model.VCacheModeFrequency, c.State().Mode, "mode should not have flipped to Cache yet")
}

func TestManualStrategyNeverWrites(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	c := newTestController(t, clock, model.VCacheStrategyManual, 1, 1)
	require.NoError(t, c.Tick(5, 0, nil))
	require.Equal(t, model.VCacheModeCache, c.State().Mode, "manual strategy must not flip mode on its own")
}
