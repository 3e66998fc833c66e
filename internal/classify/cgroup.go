package classify

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/tesselslate/scxhetero/internal/bpfmap"
	"github.com/tesselslate/scxhetero/internal/model"
)

// cgroupGamingHints are path substrings identifying a gaming launcher's
// per-instance scope, checked before the broader user.slice hint so a game
// running under a desktop session still classifies as Gaming rather than
// the session's generic Interactive default.
var cgroupGamingHints = []string{"steam-", "gaming.slice", "lutris-", "heroic-"}

// cgroupBatchHints are path substrings for background/system work.
var cgroupBatchHints = []string{"system.slice", "background"}

// classifyCgroupPath returns the class a leaf cgroup at path should inherit,
// or ok=false if the path matches no known hint (left unclassified; see
// spec boundary case for a bare user-<uid>.slice session root).
func classifyCgroupPath(path string) (model.TaskClass, bool) {
	for _, hint := range cgroupGamingHints {
		if strings.Contains(path, hint) {
			return model.ClassGaming, true
		}
	}
	for _, hint := range cgroupBatchHints {
		if strings.Contains(path, hint) {
			return model.ClassBatch, true
		}
	}
	if strings.Contains(path, "user.slice") && (strings.Contains(path, "app.slice") || strings.HasSuffix(path, ".scope")) {
		return model.ClassInteractive, true
	}
	return 0, false
}

// CgroupScanner walks the unified cgroup hierarchy and assigns a default
// class to every cgroup directory (leaf or not) whose path matches a known
// hint, for the
// in-kernel program to apply to any task not already classified
// individually.
type CgroupScanner struct {
	log  logrus.FieldLogger
	prev map[uint64]model.TaskClass
}

func NewCgroupScanner(log logrus.FieldLogger) *CgroupScanner {
	return &CgroupScanner{log: log.WithField("scanner", "cgroup"), prev: map[uint64]model.TaskClass{}}
}

// Counts tallies the most recent scan's matched cgroups by inherited class.
func (s *CgroupScanner) Counts() map[model.TaskClass]int {
	return countByClassU64(s.prev)
}

func (s *CgroupScanner) Scan() bpfmap.ClassDiff {
	current := map[uint64]model.TaskClass{}
	_ = filepath.WalkDir("/sys/fs/cgroup", func(path string, d os.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		if class, ok := classifyCgroupPath(path); ok {
			if info, err := d.Info(); err == nil {
				current[inode(info)] = class
			}
		}
		return nil
	})

	diff := bpfmap.ClassDiff{Added: map[uint64]model.TaskClass{}}
	for id := range s.prev {
		if _, still := current[id]; !still {
			diff.Removed = append(diff.Removed, id)
		}
	}
	for id, class := range current {
		if old, existed := s.prev[id]; !existed || old != class {
			diff.Added[id] = class
		}
	}
	s.prev = current
	return diff
}
