package process_blob

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"memlocate/process"
	"memlocate/process/memory_map"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlobBounds(t *testing.T) {
	b := NewProcessBlob(0x1000, []byte{1, 2, 3, 4, 5, 6, 7, 8})

	data, err := b.ReadMemory(0x1004, 4)
	require.NoError(t, err)
	assert.Equal(t, []byte{5, 6, 7, 8}, data)

	assert.False(t, b.Contains(0x0fff, 1))
	assert.False(t, b.Contains(0x1005, 4))
	_, err = b.ReadMemory(0x1005, 4)
	assert.ErrorIs(t, err, process.ErrAddressNotMapped)
}

func TestOverlayFallsBack(t *testing.T) {
	dump := NewProcessDump()
	dump.AddRegion(0x1000, []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}, "rw-p")

	// a stale copy of the first half only
	o := Overlay{Blob: NewProcessBlob(0x1000, []byte{0xAA, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA}), Fallback: dump}

	data, err := o.ReadMemory(0x1000, 4)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xAA, 0xAA, 0xAA, 0xAA}, data, "covered reads come from the blob")

	data, err = o.ReadMemory(0x1006, 4)
	require.NoError(t, err)
	assert.Equal(t, []byte{7, 8, 9, 10}, data, "straddling reads go live")

	_, err = Overlay{Blob: o.Blob}.ReadMemory(0x1006, 4)
	assert.ErrorIs(t, err, process.ErrAddressNotMapped)
}

func TestDumpReads(t *testing.T) {
	dump := NewProcessDump()
	dump.AddRegion(0x2000, make([]byte, 0x100), "rw-p")
	dump.AddRegion(0x1000, make([]byte, 0x100), "---p")

	require.NoError(t, dump.Poke(0x2010, []byte{0xde, 0xad}))
	data, err := dump.ReadMemory(0x2010, 2)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xde, 0xad}, data)

	data[0] = 0
	again, _ := dump.ReadMemory(0x2010, 2)
	assert.Equal(t, byte(0xde), again[0], "reads return copies")

	_, err = dump.ReadMemory(0x1000, 4)
	assert.ErrorIs(t, err, process.ErrAddressNotMapped, "unreadable region")
	_, err = dump.ReadMemory(0x3000, 4)
	assert.ErrorIs(t, err, process.ErrAddressNotMapped)
	_, err = dump.ReadMemory(0x20f0, 0x20)
	assert.Error(t, err, "read past region end")

	assert.Error(t, dump.Poke(0x20ff, []byte{1, 2}))
	assert.ErrorIs(t, dump.Poke(0x5000, []byte{1}), process.ErrAddressNotMapped)
}

func TestDumpQueryRegion(t *testing.T) {
	dump := NewProcessDump()
	dump.AddRegion(0x2000, make([]byte, 0x100), "rw-p")
	dump.AddRegion(0x8000, make([]byte, 0x100), "r--p")

	item, err := dump.QueryRegion(0x2100)
	require.NoError(t, err)
	assert.EqualValues(t, 0x8000, item.Address)

	_, err = dump.QueryRegion(0x8100)
	assert.ErrorIs(t, err, process.ErrEndOfAddressSpace)
}

func TestDumpLoseAfter(t *testing.T) {
	dump := NewProcessDump()
	dump.AddRegion(0x2000, make([]byte, 0x100), "rw-p")
	dump.LoseAfter(2)

	_, err := dump.ReadMemory(0x2000, 4)
	require.NoError(t, err)
	_, err = dump.ReadMemory(0x2000, 4)
	require.NoError(t, err)
	_, err = dump.ReadMemory(0x2000, 4)
	assert.ErrorIs(t, err, process.ErrProcessLost)

	assert.ErrorIs(t, dump.Alive(), process.ErrProcessLost)
	_, err = dump.QueryRegion(0)
	assert.ErrorIs(t, err, process.ErrProcessLost)
}

func TestDumpImage(t *testing.T) {
	dump := NewProcessDump()
	_, err := dump.MainImage()
	assert.Error(t, err)

	dump.AddRegion(0x400000, make([]byte, 0x1000), "r-xp")
	dump.AddRegion(0x401000, make([]byte, 0x1000), "rw-p")
	dump.AddRegion(0x10000000, make([]byte, 0x1000), "rw-p")
	dump.SetImage(0x400000, 0x2000, "/opt/game")

	img, err := dump.MainImage()
	require.NoError(t, err)
	assert.Equal(t, process.Image{Base: 0x400000, Size: 0x2000, Path: "/opt/game"}, img)

	mm, err := dump.GetMemoryMap()
	require.NoError(t, err)
	assert.Equal(t, "/opt/game", mm[1].Path)
	assert.Empty(t, mm[2].Path)
}

func TestSaveAndLoad(t *testing.T) {
	src := NewProcessDump()
	src.PID = 42
	heap := make([]byte, 0x100)
	copy(heap[0x10:], "payload")
	src.AddRegion(0x400000, make([]byte, 0x200), "r-xp")
	src.AddRegion(0x10000000, heap, "rw-p")
	src.AddRegion(0x20000000, make([]byte, 0x100), "---p")
	src.AddRegion(0x30000000, make([]byte, 0x1000), "rw-p")
	src.SetImage(0x400000, 0x200, "/opt/game")

	dir := filepath.Join(t.TempDir(), "snapshot")
	stats, err := SaveDump(context.Background(), src, dir, 0x800)
	require.NoError(t, err)
	assert.Equal(t, SaveStats{Saved: 2, NonReadable: 1, TooLarge: 1}, stats)

	_, err = os.Stat(filepath.Join(dir, "metadata.json"))
	require.NoError(t, err)

	loaded := NewProcessDump()
	require.NoError(t, loaded.Load(dir))
	assert.Equal(t, process.ProcessID(42), loaded.GetPID())

	img, err := loaded.MainImage()
	require.NoError(t, err)
	assert.EqualValues(t, 0x400000, img.Base)

	data, err := loaded.ReadMemory(0x10000010, 7)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))

	mm, err := loaded.GetMemoryMap()
	require.NoError(t, err)
	assert.Len(t, mm, 4, "the map keeps regions whose bytes were not saved")
	assert.Equal(t, memory_map.StateCommitted, mm[0].State)

	_, err = loaded.ReadMemory(0x30000000, 4)
	assert.Error(t, err, "oversized region has no bytes")
}

func TestSaveStopsOnProcessLoss(t *testing.T) {
	src := NewProcessDump()
	src.AddRegion(0x1000, make([]byte, 0x100), "rw-p")
	src.AddRegion(0x2000, make([]byte, 0x100), "rw-p")
	src.LoseAfter(1)

	_, err := SaveDump(context.Background(), src, t.TempDir(), 0)
	assert.ErrorIs(t, err, process.ErrProcessLost)
}
