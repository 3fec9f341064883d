//go:build windows

package process_windows

import (
	"errors"
	"fmt"
	"sync"
	"unsafe"

	"memlocate/process"
	"memlocate/process/memory_map"

	"github.com/Moonlight-Companies/gologger/coloransi"
	"github.com/Moonlight-Companies/gologger/logger"
	"golang.org/x/sys/windows"
)

const (
	memFree     = 0x10000
	stillActive = 259
)

// WindowsProcess implements the process.Process interface for Windows systems
type WindowsProcess struct {
	pid    process.ProcessID
	handle windows.Handle
	log    *logger.Logger
	mm     []memory_map.MemoryMapItem
	mu     sync.Mutex
}

var _ process.Process = (*WindowsProcess)(nil)

// New creates a new WindowsProcess instance
func New() *WindowsProcess {
	return &WindowsProcess{
		log: logger.NewLogger(coloransi.Color(coloransi.Red, coloransi.ColorOrange, "process-not-open")),
	}
}

// NewWithPID creates a new WindowsProcess instance and opens it with the given PID
func NewWithPID(pid process.ProcessID) (*WindowsProcess, error) {
	p := New()
	if err := p.Open(pid); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *WindowsProcess) Open(pid process.ProcessID) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	handle, err := windows.OpenProcess(windows.PROCESS_QUERY_INFORMATION|windows.PROCESS_VM_READ, false, uint32(pid))
	if err != nil {
		return fmt.Errorf("OpenProcess failed: %w", err)
	}

	p.pid = pid
	p.handle = handle
	p.log = logger.NewLogger(coloransi.Color(coloransi.ColorPurple, coloransi.ColorOrange, fmt.Sprintf("process-%d", pid)))

	if err := p.updateMemoryMapInternal(); err != nil {
		p.log.Warn("Failed to initialize memory map: ", err)
	}

	p.log.Infoln("Process opened")
	return nil
}

func (p *WindowsProcess) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.handle != 0 {
		if err := windows.CloseHandle(p.handle); err != nil {
			return fmt.Errorf("CloseHandle failed: %w", err)
		}
		p.handle = 0
	}

	p.pid = 0
	p.mm = nil
	p.log.Infoln("Process closed")
	p.log = logger.NewLogger(coloransi.Color(coloransi.Red, coloransi.ColorOrange, "process-not-open"))

	return nil
}

func (p *WindowsProcess) GetPID() process.ProcessID {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pid
}

func (p *WindowsProcess) Alive() error {
	p.mu.Lock()
	handle := p.handle
	p.mu.Unlock()

	if handle == 0 {
		return process.ErrProcessNotOpen
	}

	var code uint32
	if err := windows.GetExitCodeProcess(handle, &code); err != nil {
		return fmt.Errorf("GetExitCodeProcess failed: %w", err)
	}
	if code != stillActive {
		return process.ErrProcessLost
	}
	return nil
}

func (p *WindowsProcess) UpdateMemoryMap() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.updateMemoryMapInternal()
}

// updateMemoryMapInternal walks VirtualQueryEx from address zero up to the end of user space.
func (p *WindowsProcess) updateMemoryMapInternal() error {
	if p.handle == 0 {
		return process.ErrProcessNotOpen
	}

	var (
		mm   []memory_map.MemoryMapItem
		addr uintptr
	)
	for {
		item, err := query(p.handle, addr)
		if err != nil {
			break
		}
		if item.State != memory_map.StateFree {
			mm = append(mm, item)
		}
		next := uintptr(item.End())
		if next <= addr {
			break
		}
		addr = next
	}

	p.mm = mm
	return nil
}

// QueryRegion asks the kernel directly rather than the cached map.
func (p *WindowsProcess) QueryRegion(addr process.ProcessMemoryAddress) (memory_map.MemoryMapItem, error) {
	p.mu.Lock()
	handle := p.handle
	p.mu.Unlock()

	if handle == 0 {
		return memory_map.MemoryMapItem{}, process.ErrProcessNotOpen
	}

	item, err := query(handle, uintptr(addr))
	if errors.Is(err, windows.ERROR_INVALID_PARAMETER) {
		return memory_map.MemoryMapItem{}, process.ErrEndOfAddressSpace
	}
	return item, err
}

func query(handle windows.Handle, addr uintptr) (memory_map.MemoryMapItem, error) {
	var mbi windows.MemoryBasicInformation
	if err := windows.VirtualQueryEx(handle, addr, &mbi, unsafe.Sizeof(mbi)); err != nil {
		return memory_map.MemoryMapItem{}, err
	}

	state := memory_map.StateCommitted
	switch mbi.State {
	case windows.MEM_RESERVE:
		state = memory_map.StateReserved
	case memFree:
		state = memory_map.StateFree
	}

	return memory_map.MemoryMapItem{
		Address: uint64(mbi.BaseAddress),
		Size:    uint(mbi.RegionSize),
		Perms:   protectToPerms(mbi.Protect),
		State:   state,
	}, nil
}

// protectToPerms renders a PAGE_* value in the /proc maps notation.
func protectToPerms(protect uint32) string {
	perms := []byte("---p")
	switch protect &^ (windows.PAGE_GUARD | windows.PAGE_NOCACHE | windows.PAGE_WRITECOMBINE) {
	case windows.PAGE_READONLY:
		perms[0] = 'r'
	case windows.PAGE_READWRITE, windows.PAGE_WRITECOPY:
		perms[0], perms[1] = 'r', 'w'
	case windows.PAGE_EXECUTE:
		perms[2] = 'x'
	case windows.PAGE_EXECUTE_READ:
		perms[0], perms[2] = 'r', 'x'
	case windows.PAGE_EXECUTE_READWRITE, windows.PAGE_EXECUTE_WRITECOPY:
		perms[0], perms[1], perms[2] = 'r', 'w', 'x'
	}
	if protect&windows.PAGE_GUARD != 0 {
		return string(perms) + "g"
	}
	return string(perms)
}

func (p *WindowsProcess) IsValidAddress(addr process.ProcessMemoryAddress) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	item := memory_map.IsValidAddress2(uint64(addr), p.mm)
	return item != nil && item.State == memory_map.StateCommitted && item.IsReadable()
}

func (p *WindowsProcess) GetMemoryMap() ([]memory_map.MemoryMapItem, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.handle == 0 {
		return nil, process.ErrProcessNotOpen
	}
	result := make([]memory_map.MemoryMapItem, len(p.mm))
	copy(result, p.mm)
	return result, nil
}

// MainImage returns the first module reported by EnumProcessModules, which is the executable.
func (p *WindowsProcess) MainImage() (process.Image, error) {
	p.mu.Lock()
	handle := p.handle
	p.mu.Unlock()

	if handle == 0 {
		return process.Image{}, process.ErrProcessNotOpen
	}

	var (
		module windows.Handle
		needed uint32
	)
	if err := windows.EnumProcessModules(handle, &module, uint32(unsafe.Sizeof(module)), &needed); err != nil {
		return process.Image{}, fmt.Errorf("EnumProcessModules failed: %w", err)
	}

	var mi windows.ModuleInfo
	if err := windows.GetModuleInformation(handle, module, &mi, uint32(unsafe.Sizeof(mi))); err != nil {
		return process.Image{}, fmt.Errorf("GetModuleInformation failed: %w", err)
	}

	name := make([]uint16, windows.MAX_PATH)
	var path string
	if err := windows.GetModuleFileNameEx(handle, module, &name[0], windows.MAX_PATH); err == nil {
		path = windows.UTF16ToString(name)
	}

	return process.Image{
		Base: process.ProcessMemoryAddress(mi.BaseOfDll),
		Size: process.ProcessMemorySize(mi.SizeOfImage),
		Path: path,
	}, nil
}

func (p *WindowsProcess) ReadMemory(addr process.ProcessMemoryAddress, size process.ProcessMemorySize) ([]byte, error) {
	if size == 0 {
		return []byte{}, nil
	}

	p.mu.Lock()
	handle := p.handle
	p.mu.Unlock()

	if handle == 0 {
		return nil, process.ErrProcessNotOpen
	}

	buf := make([]byte, size)
	var bytesRead uintptr
	if err := windows.ReadProcessMemory(handle, uintptr(addr), &buf[0], uintptr(size), &bytesRead); err != nil {
		if p.Alive() == process.ErrProcessLost {
			return nil, process.ErrProcessLost
		}
		return nil, fmt.Errorf("ReadProcessMemory failed: %w", err)
	}

	if bytesRead != uintptr(size) {
		return nil, fmt.Errorf("read incomplete: expected %d, got %d", size, bytesRead)
	}

	return buf, nil
}
