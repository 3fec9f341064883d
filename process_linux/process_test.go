//go:build linux

package process_linux

import (
	"os"
	"testing"
	"unsafe"

	"memlocate/process"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadSelf(t *testing.T) {
	buf := []byte("memlocate reads its own memory")

	p, err := NewWithPID(process.ProcessID(os.Getpid()))
	require.NoError(t, err)
	defer p.Close()

	require.NoError(t, p.Alive())

	addr := process.ProcessMemoryAddress(uintptr(unsafe.Pointer(&buf[0])))
	data, err := p.ReadMemory(addr, process.ProcessMemorySize(len(buf)))
	require.NoError(t, err)
	assert.Equal(t, buf, data)

	_, err = p.ReadMemory(0x1000, 8)
	assert.ErrorIs(t, err, process.ErrAddressNotMapped)
}

func TestMainImageSelf(t *testing.T) {
	p, err := NewWithPID(process.ProcessID(os.Getpid()))
	require.NoError(t, err)
	defer p.Close()

	img, err := p.MainImage()
	require.NoError(t, err)
	assert.NotZero(t, img.Base)
	assert.NotZero(t, img.Size)

	exe, err := os.Executable()
	require.NoError(t, err)
	assert.Equal(t, exe, img.Path)
}

func TestClosed(t *testing.T) {
	p := New()
	assert.ErrorIs(t, p.Alive(), process.ErrProcessNotOpen)
	_, err := p.ReadMemory(0x400000, 8)
	assert.ErrorIs(t, err, process.ErrProcessNotOpen)
	_, err = p.QueryRegion(0)
	assert.ErrorIs(t, err, process.ErrProcessNotOpen)

	_, err = NewWithPID(0x7ffffff0)
	assert.Error(t, err)
}
