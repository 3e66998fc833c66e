// Package profiles implements the Profile Manager: it loads GameProfile
// TOML files from a directory, matches running processes against their
// selectors, and tracks which PID is currently bound to which profile.
//
// Directory hot-reload is a supplement beyond the distilled spec
// (SPEC_FULL.md §C.3), layered on top of the same fsnotify watcher the
// teacher's own log-directory watcher (internal/reset/thread_watcher.go)
// uses.
package profiles

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/tesselslate/scxhetero/internal/model"
)

// Manager owns the loaded profile set, an index for fast selector
// matching, and the active PID->profile bindings.
type Manager struct {
	log logrus.FieldLogger
	dir string

	mu       sync.RWMutex
	profiles map[string]*model.GameProfile
	bindings model.ActiveProfileBindings

	watcher *fsnotify.Watcher
}

func New(log logrus.FieldLogger, dir string) *Manager {
	return &Manager{
		log:      log.WithField("component", "profiles"),
		dir:      dir,
		profiles: map[string]*model.GameProfile{},
		bindings: model.ActiveProfileBindings{},
	}
}

// Load performs the initial directory scan. A missing or unreadable
// directory is a config-parse-failure: it's logged at warn and the
// manager proceeds with zero profiles loaded (every process then uses
// default tunables).
func (m *Manager) Load() error {
	if err := m.loadDirectory(); err != nil {
		m.log.WithError(err).Warn("loading profiles directory failed, continuing with no profiles")
		return err
	}
	return nil
}

func (m *Manager) loadDirectory() error {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return fmt.Errorf("read profiles dir %s: %w", m.dir, err)
	}
	loaded := map[string]*model.GameProfile{}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".toml") {
			continue
		}
		path := filepath.Join(m.dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			m.log.WithError(err).WithField("file", path).Warn("read profile file failed")
			continue
		}
		var p model.GameProfile
		if _, err := toml.Decode(string(data), &p); err != nil {
			m.log.WithError(err).WithField("file", path).Warn("parse profile file failed")
			continue
		}
		if p.Name == "" || !p.HasSelector() {
			m.log.WithField("file", path).Warn("profile missing name or selector, skipping")
			continue
		}
		loaded[p.Name] = &p
	}
	m.mu.Lock()
	m.profiles = loaded
	m.mu.Unlock()
	m.log.WithField("count", len(loaded)).Info("loaded game profiles")
	return nil
}

// Watch starts an fsnotify watch on the profiles directory, reloading on
// any create/write/remove/rename event. It returns immediately; the
// watch loop runs until ctx-independent Close is called (the daemon calls
// Close during shutdown alongside every other scoped resource).
func (m *Manager) Watch() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("new fsnotify watcher: %w", err)
	}
	if err := w.Add(m.dir); err != nil {
		_ = w.Close()
		return fmt.Errorf("watch profiles dir %s: %w", m.dir, err)
	}
	m.watcher = w
	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if !strings.HasSuffix(ev.Name, ".toml") {
					continue
				}
				if err := m.loadDirectory(); err != nil {
					m.log.WithError(err).Warn("profile hot-reload failed")
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				m.log.WithError(err).Debug("fsnotify watch error")
			}
		}
	}()
	return nil
}

// Close stops the directory watch, if running.
func (m *Manager) Close() error {
	if m.watcher == nil {
		return nil
	}
	return m.watcher.Close()
}

// Match implements classify.ProfileMatcher: it returns the first profile
// whose selector matches exe/comm/appID.
func (m *Manager) Match(exe, comm string, appID *uint64) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for name, p := range m.profiles {
		if p.AppID != nil && appID != nil && *p.AppID == *appID {
			return name, true
		}
		if p.ExePattern != nil && matchPattern(*p.ExePattern, exe) {
			return name, true
		}
		if p.CommPattern != nil && matchPattern(*p.CommPattern, comm) {
			return name, true
		}
	}
	return "", false
}

func matchPattern(pattern, value string) bool {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return strings.Contains(value, pattern)
	}
	return re.MatchString(value)
}

// Bind records that pid is now governed by profile, or clears the binding
// if profile == "" (revert to default tunables), returning the effective
// GameProfile or nil.
func (m *Manager) Bind(pid uint32, profile string) *model.GameProfile {
	m.mu.Lock()
	defer m.mu.Unlock()
	if profile == "" {
		delete(m.bindings, pid)
		return nil
	}
	m.bindings[pid] = profile
	return m.profiles[profile]
}

// Unbind removes any binding for pid (the process has exited or no longer
// matches any profile), reverting it to default tunables.
func (m *Manager) Unbind(pid uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.bindings, pid)
}

// Bindings returns a copy of the current PID->profile-name bindings.
func (m *Manager) Bindings() model.ActiveProfileBindings {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(model.ActiveProfileBindings, len(m.bindings))
	for k, v := range m.bindings {
		out[k] = v
	}
	return out
}
