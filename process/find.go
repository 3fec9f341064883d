package process

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	gopsutil "github.com/shirou/gopsutil/v4/process"
)

// MatchName reports whether a process name or executable path refers to name. Comparison ignores
// case and a trailing ".exe".
func MatchName(candidate, name string) bool {
	trim := func(s string) string {
		return strings.TrimSuffix(strings.ToLower(filepath.Base(s)), ".exe")
	}
	return candidate != "" && trim(candidate) == trim(name)
}

// FindByName returns the PID of the oldest running process whose name or executable matches
// name. The calling process is never returned.
func FindByName(name string) (ProcessID, error) {
	procs, err := gopsutil.Processes()
	if err != nil {
		return 0, fmt.Errorf("failed to list processes: %w", err)
	}

	self := int32(os.Getpid())
	type match struct {
		pid     int32
		created int64
	}
	var matches []match
	for _, p := range procs {
		if p.Pid == self {
			continue
		}
		n, err := p.Name()
		if err != nil {
			// exited while listing
			continue
		}
		if !MatchName(n, name) {
			exe, err := p.Exe()
			if err != nil || !MatchName(exe, name) {
				continue
			}
		}
		created, _ := p.CreateTime()
		matches = append(matches, match{pid: p.Pid, created: created})
	}

	if len(matches) == 0 {
		return 0, fmt.Errorf("no process found with name '%s'", name)
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].created != matches[j].created {
			return matches[i].created < matches[j].created
		}
		return matches[i].pid < matches[j].pid
	})
	return ProcessID(matches[0].pid), nil
}
