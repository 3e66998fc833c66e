// Package control implements the Control Interface: a world-writable
// UTF-8 "key=value" per line file polled by modification time rather than
// fsnotify, so a userspace tool can write tunable overrides without the
// daemon needing an inotify watch on a runtime directory it doesn't own.
package control

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Overrides is the parsed result of one control file read: any key not
// present keeps its previously-reconciled value (§6: "last-assignment-wins"
// within one read, stale keys from previous reads are not remembered here,
// that's the caller's job).
type Overrides struct {
	BurstThresholdNs *uint64
	SliceNs          *uint64
	GamingMode       *bool
	WorkMode         *bool
}

// Interface polls path's modification time and re-parses it only when it
// changes, avoiding a full read on every tick when nothing has been
// written.
type Interface struct {
	log     logrus.FieldLogger
	path    string
	modTime time.Time
}

func New(log logrus.FieldLogger, path string) *Interface {
	return &Interface{log: log.WithField("component", "control"), path: path}
}

// Path returns the control file path this interface polls.
func (i *Interface) Path() string { return i.path }

// EnsureExists creates the control file world-writable (0666) if absent,
// matching the contract a userspace client relies on to write to it
// without needing this process's privileges.
func (i *Interface) EnsureExists() error {
	if _, err := os.Stat(i.path); err == nil {
		return nil
	}
	f, err := os.OpenFile(i.path, os.O_CREATE|os.O_WRONLY, 0666)
	if err != nil {
		return fmt.Errorf("create control file %s: %w", i.path, err)
	}
	defer f.Close()
	return os.Chmod(i.path, 0666)
}

// Poll checks whether path's mtime has advanced since the last successful
// Poll and, if so, re-reads and parses it. It returns (nil, false) when
// nothing changed. A malformed line or invalid value is logged at warn and
// skipped while the remaining lines still apply; a failure to open or read
// the file is treated as "no change".
func (i *Interface) Poll() (*Overrides, bool) {
	info, err := os.Stat(i.path)
	if err != nil {
		return nil, false
	}
	if !info.ModTime().After(i.modTime) {
		return nil, false
	}
	i.modTime = info.ModTime()

	f, err := os.Open(i.path)
	if err != nil {
		i.log.WithError(err).Debug("open control file failed")
		return nil, false
	}
	defer f.Close()

	out := &Overrides{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		kv := strings.SplitN(line, "=", 2)
		if len(kv) != 2 {
			i.log.WithField("line", line).Warn("malformed control file line, skipping")
			continue
		}
		key := strings.TrimSpace(kv[0])
		val := strings.TrimSpace(kv[1])
		if err := applyKey(out, key, val); err != nil {
			i.log.WithFields(logrus.Fields{"key": key, "value": val}).WithError(err).Warn("invalid control file value, skipping")
		}
	}
	if err := scanner.Err(); err != nil {
		i.log.WithError(err).Warn("read control file failed")
		return nil, false
	}
	return out, true
}

// applyKey overwrites the field for key in out, so a repeated key within
// one file keeps only its last assignment.
func applyKey(out *Overrides, key, val string) error {
	switch key {
	case "burst_threshold_ns":
		v, err := strconv.ParseUint(val, 10, 64)
		if err != nil {
			return err
		}
		out.BurstThresholdNs = &v
	case "slice_ns":
		v, err := strconv.ParseUint(val, 10, 64)
		if err != nil {
			return err
		}
		out.SliceNs = &v
	case "gaming_mode":
		v, err := parseControlBool(val)
		if err != nil {
			return err
		}
		out.GamingMode = &v
	case "work_mode":
		v, err := parseControlBool(val)
		if err != nil {
			return err
		}
		out.WorkMode = &v
	default:
		return fmt.Errorf("unknown key %q", key)
	}
	return nil
}

// parseControlBool implements the control file's boolean grammar, which is
// both stricter and broader than strconv.ParseBool: only the tokens below
// are accepted (in any letter case), so "t"/"f" are rejected, but
// "yes"/"no"/"on"/"off" are accepted too.
func parseControlBool(val string) (bool, error) {
	switch strings.ToLower(val) {
	case "true", "1", "yes", "on":
		return true, nil
	case "false", "0", "no", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid boolean %q", val)
	}
}
