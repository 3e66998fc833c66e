package classify

import (
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/tesselslate/scxhetero/internal/bpfmap"
	"github.com/tesselslate/scxhetero/internal/model"
)

// ProfileMatcher is the subset of the Profile Manager the process scanner
// needs: given a candidate process, return the matched profile name (if
// any), so GameProfile matches drive Gaming classification the same way a
// built-in heuristic would.
type ProfileMatcher interface {
	Match(exe, comm string, appID *uint64) (profile string, ok bool)
}

// aiPatterns are executable/comm substrings that mark a process as an AI
// workload, widened from the single pattern list in the gaming detector to
// also cover the broader set original_source/container.rs checks for
// containerized AI workloads (SPEC_FULL.md §C).
var aiPatterns = []string{
	"python3.*torch", "ollama", "llama.cpp", "llama-server", "koboldcpp",
	"text-generation", "vllm", "tensorflow", "whisper", "stable-diffusion",
	"comfyui", "automatic1111",
}

// gamingPatterns are executable-path substrings that mark a process as a
// game or game launcher; an executable ending in ".exe" also counts.
var gamingPatterns = []string{"wine", "proton", "steam", "lutris", "heroic", "gamescope", "pressure-vessel"}

// batchPatterns mark a process as a background/batch workload.
var batchPatterns = []string{
	"makepkg", "cc1", "cc1plus", "ld", "rustc", "cargo", "go build", "ninja",
	"make", "tar", "zstd", "rsync", "borg",
}

// ProcessScanner classifies regular (non-VM, non-container) host processes
// by matching their executable path and command line against GameProfile
// selectors first, then the built-in gaming/AI/batch pattern lists.
type ProcessScanner struct {
	log      logrus.FieldLogger
	profiles ProfileMatcher
	prev     map[uint32]model.TaskClass
}

func NewProcessScanner(log logrus.FieldLogger, profiles ProfileMatcher) *ProcessScanner {
	return &ProcessScanner{
		log:      log.WithField("scanner", "process"),
		profiles: profiles,
		prev:     map[uint32]model.TaskClass{},
	}
}

// Scan re-derives the classification of every live PID and returns the
// diff against the previous scan.
func (s *ProcessScanner) Scan() (bpfmap.ClassDiff, error) {
	current := map[uint32]model.TaskClass{}
	for _, pid := range listPids() {
		argv := readProcCmdline(pid)
		if len(argv) == 0 {
			continue
		}
		comm := readProcComm(pid)
		class, ok := classifyOne(argv, comm, s.profiles)
		if ok {
			current[uint32(pid)] = class
		}
	}

	diff := bpfmap.ClassDiff{Added: map[uint64]model.TaskClass{}}
	for pid := range s.prev {
		if _, still := current[pid]; !still {
			diff.Removed = append(diff.Removed, uint64(pid))
		}
	}
	for pid, class := range current {
		if old, existed := s.prev[pid]; !existed || old != class {
			diff.Added[uint64(pid)] = class
		}
	}
	s.prev = current
	return diff, nil
}

// Counts tallies the most recent scan's live PIDs by class.
func (s *ProcessScanner) Counts() map[model.TaskClass]int {
	return countByClass(s.prev)
}

func classifyOne(argv []string, comm string, profiles ProfileMatcher) (model.TaskClass, bool) {
	exe := argv[0]
	lowerExe := strings.ToLower(exe)
	lowerComm := strings.ToLower(comm)
	lowerArgv := strings.ToLower(strings.Join(argv, " "))

	if profiles != nil {
		if _, ok := profiles.Match(exe, comm, nil); ok {
			return model.ClassGaming, true
		}
	}
	for _, p := range gamingPatterns {
		if strings.Contains(lowerExe, p) {
			return model.ClassGaming, true
		}
	}
	if strings.HasSuffix(lowerExe, ".exe") {
		return model.ClassGaming, true
	}
	for _, p := range aiPatterns {
		if strings.Contains(lowerArgv, p) || strings.Contains(lowerComm, p) {
			return model.ClassAI, true
		}
	}
	for _, p := range batchPatterns {
		if strings.Contains(lowerArgv, p) || strings.Contains(lowerComm, p) {
			return model.ClassBatch, true
		}
	}
	return 0, false
}
