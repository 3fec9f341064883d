//go:build linux

package process_linux

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"memlocate/process"
	"memlocate/process/memory_map"

	"github.com/Moonlight-Companies/gologger/coloransi"
	"github.com/Moonlight-Companies/gologger/logger"
	"golang.org/x/sys/unix"
)

// addresses below this are never mapped for user code
const minUserAddress = 0x10000

// LinuxProcess implements the process.Process interface for Linux systems
type LinuxProcess struct {
	pid process.ProcessID
	log *logger.Logger
	mm  []memory_map.MemoryMapItem
	exe string
	mu  sync.Mutex
}

var _ process.Process = (*LinuxProcess)(nil)

// New creates a new LinuxProcess instance
func New() *LinuxProcess {
	return &LinuxProcess{
		log: logger.NewLogger(coloransi.Color(coloransi.Red, coloransi.ColorOrange, "process-not-open")),
	}
}

// NewWithPID creates a new LinuxProcess instance and opens it with the given PID
func NewWithPID(pid process.ProcessID) (*LinuxProcess, error) {
	p := New()
	if err := p.Open(pid); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *LinuxProcess) Open(pid process.ProcessID) error {
	procPath := fmt.Sprintf("/proc/%d", pid)
	if _, err := os.Stat(procPath); os.IsNotExist(err) {
		return fmt.Errorf("process with PID %d does not exist", pid)
	}

	// The exe link only resolves while the process is alive; keep it for MainImage.
	exe, err := os.Readlink(procPath + "/exe")
	if err != nil {
		return fmt.Errorf("failed to resolve executable of %d: %w", pid, err)
	}

	p.mu.Lock()
	p.pid = pid
	p.exe = exe
	p.log = logger.NewLogger(coloransi.Color(coloransi.ColorPurple, coloransi.ColorOrange, fmt.Sprintf("process-%d", pid)))
	p.mu.Unlock()

	if err := p.UpdateMemoryMap(); err != nil {
		return fmt.Errorf("failed to initialize memory map: %w", err)
	}

	p.log.Infoln("Process opened", exe)

	return nil
}

func (p *LinuxProcess) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.pid = 0
	p.mm = nil
	p.exe = ""

	p.log.Infoln("Process closed")
	p.log = logger.NewLogger(coloransi.Color(coloransi.Red, coloransi.ColorOrange, "process-not-open"))

	return nil
}

// GetPID returns the process ID
func (p *LinuxProcess) GetPID() process.ProcessID {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pid
}

// Alive checks the process with signal 0.
func (p *LinuxProcess) Alive() error {
	pid := p.GetPID()
	if pid == 0 {
		return process.ErrProcessNotOpen
	}
	if err := unix.Kill(int(pid), 0); errors.Is(err, unix.ESRCH) {
		return process.ErrProcessLost
	}
	// EPERM still means the process exists
	return nil
}

func (p *LinuxProcess) UpdateMemoryMap() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pid == 0 {
		return process.ErrProcessNotOpen
	}

	mm, err := memory_map.NewLinuxMemoryMap().ReadMemoryMap(int(p.pid))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) || errors.Is(err, unix.ESRCH) {
			return fmt.Errorf("maps of %d vanished: %w", p.pid, process.ErrProcessLost)
		}
		return fmt.Errorf("failed to read memory map: %w", err)
	}

	// IsValidAddress2 requires the memory map to be sorted by address
	memory_map.Sort(mm)

	p.mm = mm
	return nil
}

func (p *LinuxProcess) IsValidAddress(addr process.ProcessMemoryAddress) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.isValidAddressInternal(addr)
}

// Internal helper function that assumes the mutex is already locked
func (p *LinuxProcess) isValidAddressInternal(addr process.ProcessMemoryAddress) bool {
	if addr < minUserAddress {
		return false
	}

	if item := memory_map.IsValidAddress2(uint64(addr), p.mm); item != nil {
		return item.IsReadable()
	}

	return false
}

// QueryRegion answers from the last memory map snapshot.
func (p *LinuxProcess) QueryRegion(addr process.ProcessMemoryAddress) (memory_map.MemoryMapItem, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.pid == 0 {
		return memory_map.MemoryMapItem{}, process.ErrProcessNotOpen
	}

	item, ok := memory_map.NextRegion(uint64(addr), p.mm)
	if !ok {
		return memory_map.MemoryMapItem{}, process.ErrEndOfAddressSpace
	}
	return item, nil
}

func (p *LinuxProcess) GetMemoryMap() ([]memory_map.MemoryMapItem, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.pid == 0 {
		return nil, process.ErrProcessNotOpen
	}

	// Make a copy of the memory map to prevent external modification
	result := make([]memory_map.MemoryMapItem, len(p.mm))
	copy(result, p.mm)

	return result, nil
}

// MainImage spans every mapping backed by the executable file.
func (p *LinuxProcess) MainImage() (process.Image, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.pid == 0 {
		return process.Image{}, process.ErrProcessNotOpen
	}

	base, end, ok := memory_map.SpanOf(p.exe, p.mm)
	if !ok {
		return process.Image{}, fmt.Errorf("no mapping backed by %s", p.exe)
	}

	return process.Image{
		Base: process.ProcessMemoryAddress(base),
		Size: process.ProcessMemorySize(end - base),
		Path: p.exe,
	}, nil
}
