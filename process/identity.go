package process

import (
	"fmt"
	"path/filepath"

	gopsutil "github.com/shirou/gopsutil/v4/process"
)

// Identity tags a process instance. Two runs of the same program share Exe but never
// CreateTime, so a cached absolute address is only worth trying when both match.
type Identity struct {
	PID        ProcessID `json:"pid"`
	CreateTime int64     `json:"create_time"` // milliseconds since epoch
	Exe        string    `json:"exe"`
}

// SameInstance reports whether other describes the same running process.
func (id Identity) SameInstance(other Identity) bool {
	return id.PID == other.PID && id.CreateTime == other.CreateTime && id.Exe == other.Exe
}

// SameProgram reports whether other is a run of the same executable.
func (id Identity) SameProgram(other Identity) bool {
	return id.Exe != "" && id.Exe == other.Exe
}

// Identifier is implemented by processes that know their own identity, such as offline dumps.
type Identifier interface {
	Identity() (Identity, error)
}

// IdentityOf prefers the process's own Identifier and otherwise asks the OS.
func IdentityOf(p Process) (Identity, error) {
	if id, ok := p.(Identifier); ok {
		return id.Identity()
	}
	return Identify(p.GetPID())
}

// Identify builds the identity tag of a live process.
func Identify(pid ProcessID) (Identity, error) {
	p, err := gopsutil.NewProcess(int32(pid))
	if err != nil {
		return Identity{}, fmt.Errorf("failed to look up process %d: %w", pid, err)
	}

	created, err := p.CreateTime()
	if err != nil {
		return Identity{}, fmt.Errorf("failed to read create time of %d: %w", pid, err)
	}

	exe, err := p.Exe()
	if err != nil || exe == "" {
		// Exe needs more privileges than Name on some systems
		name, nerr := p.Name()
		if nerr != nil {
			return Identity{}, fmt.Errorf("failed to read name of %d: %w", pid, nerr)
		}
		exe = name
	}

	return Identity{
		PID:        pid,
		CreateTime: created,
		Exe:        filepath.Base(exe),
	}, nil
}
