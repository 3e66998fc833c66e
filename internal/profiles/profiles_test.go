package profiles

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) (*Manager, string) {
	t.Helper()
	dir := t.TempDir()
	log := logrus.New()
	log.SetOutput(os.Stderr)
	return New(log, dir), dir
}

func writeProfile(t *testing.T, dir, name, toml string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(toml), 0644))
}

func TestLoadSkipsProfilesWithoutSelector(t *testing.T) {
	m, dir := newTestManager(t)
	writeProfile(t, dir, "bad.toml", "name = \"no-selector\"\n")
	writeProfile(t, dir, "good.toml", "name = \"minecraft\"\nexe_pattern = \"java\"\n")

	require.NoError(t, m.Load())
	require.Len(t, m.profiles, 1)

	_, ok := m.Match("/usr/bin/java", "java", nil)
	require.True(t, ok)
}

func TestMatchByExePattern(t *testing.T) {
	m, dir := newTestManager(t)
	writeProfile(t, dir, "csgo.toml", "name = \"csgo\"\nexe_pattern = \"csgo_linux64\"\n")
	require.NoError(t, m.Load())

	name, ok := m.Match("/home/user/.steam/csgo_linux64", "csgo_linux64", nil)
	require.True(t, ok)
	require.Equal(t, "csgo", name)

	_, ok = m.Match("/usr/bin/firefox", "firefox", nil)
	require.False(t, ok)
}

func TestMatchByAppID(t *testing.T) {
	m, dir := newTestManager(t)
	writeProfile(t, dir, "appid.toml", "name = \"by-appid\"\napp_id = 730\n")
	require.NoError(t, m.Load())

	id := uint64(730)
	name, ok := m.Match("/anything", "anything", &id)
	require.True(t, ok)
	require.Equal(t, "by-appid", name)
}

func TestBindAndUnbindRevertsToDefault(t *testing.T) {
	m, dir := newTestManager(t)
	writeProfile(t, dir, "p.toml", "name = \"p\"\nexe_pattern = \"x\"\n")
	require.NoError(t, m.Load())

	profile := m.Bind(123, "p")
	require.NotNil(t, profile)
	require.Equal(t, "p", m.Bindings()[123])

	m.Unbind(123)
	_, stillBound := m.Bindings()[123]
	require.False(t, stillBound)
}

func TestBindEmptyNameClearsBinding(t *testing.T) {
	m, _ := newTestManager(t)
	m.Bind(5, "")
	_, ok := m.Bindings()[5]
	require.False(t, ok)
}
