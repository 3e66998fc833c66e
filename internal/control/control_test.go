package control

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func newTestInterface(t *testing.T) (*Interface, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "control")
	log := logrus.New()
	log.SetOutput(os.Stderr)
	return New(log, path), path
}

func TestEnsureExistsCreatesWorldWritableFile(t *testing.T) {
	i, path := newTestInterface(t)
	require.NoError(t, i.EnsureExists())

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0666), info.Mode().Perm())

	// Calling it again on an existing file must not error or truncate.
	require.NoError(t, os.WriteFile(path, []byte("slice_ns=123\n"), 0666))
	require.NoError(t, i.EnsureExists())
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "slice_ns=123\n", string(data))
}

func TestPollReturnsNoChangeWithoutWrite(t *testing.T) {
	i, path := newTestInterface(t)
	require.NoError(t, os.WriteFile(path, []byte("slice_ns=100\n"), 0666))

	_, changed := i.Poll()
	require.True(t, changed)

	_, changed = i.Poll()
	require.False(t, changed, "second poll with no write must report no change")
}

func TestPollLastAssignmentWins(t *testing.T) {
	i, path := newTestInterface(t)
	require.NoError(t, os.WriteFile(path, []byte("slice_ns=100\nslice_ns=200\n"), 0666))

	out, changed := i.Poll()
	require.True(t, changed)
	require.NotNil(t, out.SliceNs)
	require.Equal(t, uint64(200), *out.SliceNs)
}

func TestPollSkipsMalformedLines(t *testing.T) {
	i, path := newTestInterface(t)
	require.NoError(t, os.WriteFile(path, []byte("not-a-kv-pair\nburst_threshold_ns=5000000\n"), 0666))

	out, changed := i.Poll()
	require.True(t, changed)
	require.NotNil(t, out.BurstThresholdNs)
	require.Equal(t, uint64(5000000), *out.BurstThresholdNs)
}

func TestPollDetectsRewriteByModTime(t *testing.T) {
	i, path := newTestInterface(t)
	require.NoError(t, os.WriteFile(path, []byte("gaming_mode=true\n"), 0666))
	_, changed := i.Poll()
	require.True(t, changed)

	// Force a distinct mtime, since some filesystems have coarse mtime
	// resolution that a fast test could otherwise race.
	future := time.Now().Add(2 * time.Second)
	require.NoError(t, os.WriteFile(path, []byte("gaming_mode=false\n"), 0666))
	require.NoError(t, os.Chtimes(path, future, future))

	out, changed := i.Poll()
	require.True(t, changed)
	require.NotNil(t, out.GamingMode)
	require.False(t, *out.GamingMode)
}

func TestParseControlBoolAcceptsFullGrammar(t *testing.T) {
	for _, tok := range []string{"true", "1", "yes", "on", "TRUE", "On"} {
		v, err := parseControlBool(tok)
		require.NoError(t, err, tok)
		require.True(t, v, tok)
	}
	for _, tok := range []string{"false", "0", "no", "off", "FALSE", "Off"} {
		v, err := parseControlBool(tok)
		require.NoError(t, err, tok)
		require.False(t, v, tok)
	}
	_, err := parseControlBool("maybe")
	require.Error(t, err)
}

func TestPollParsesWorkModeAsBool(t *testing.T) {
	i, path := newTestInterface(t)
	require.NoError(t, os.WriteFile(path, []byte("work_mode=on\n"), 0666))

	out, changed := i.Poll()
	require.True(t, changed)
	require.NotNil(t, out.WorkMode)
	require.True(t, *out.WorkMode)
}
