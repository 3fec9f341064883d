package pointerchain

import (
	"context"
	"encoding/binary"
	"testing"

	"memlocate/process"
	"memlocate/process_blob"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	imageBase = process.ProcessMemoryAddress(0x400000)
	heapBase  = process.ProcessMemoryAddress(0x10000000)
	structure = heapBase + 0x5000
)

type space struct {
	dump  *process_blob.ProcessDump
	image []byte
	heap  []byte
}

func newSpace() *space {
	s := &space{
		dump:  process_blob.NewProcessDump(),
		image: make([]byte, 0x2000),
		heap:  make([]byte, 0x10000),
	}
	s.dump.AddRegion(imageBase, s.image, "rw-p")
	s.dump.AddRegion(heapBase, s.heap, "rw-p")
	s.dump.SetImage(imageBase, 0x2000, "/opt/target/bin")
	return s
}

func put(buf []byte, base, at, value process.ProcessMemoryAddress) {
	binary.LittleEndian.PutUint64(buf[at-base:], uint64(value))
}

func TestDirectStaticSlot(t *testing.T) {
	s := newSpace()
	put(s.image, imageBase, imageBase+0x100, structure-0x10)

	r := New(s.dump, WithMaxBackOffset(0x100))
	chains, err := r.FindStaticReferences(context.Background(), structure, 2)
	require.NoError(t, err)
	require.Len(t, chains, 1)
	assert.Equal(t, Descriptor{ModuleOffset: 0x100, FieldOffset: 0x10, PointerSize: 8}, chains[0])

	addr, err := chains[0].Resolve(s.dump, imageBase)
	require.NoError(t, err)
	assert.Equal(t, structure, addr)
}

func TestBackOffsetDisabledByDefault(t *testing.T) {
	s := newSpace()
	put(s.image, imageBase, imageBase+0x100, structure-0x10)

	chains, err := New(s.dump).FindStaticReferences(context.Background(), structure, 0)
	require.NoError(t, err)
	assert.Empty(t, chains)
}

func TestOneLevelOfIndirection(t *testing.T) {
	s := newSpace()
	obj := heapBase + 0x1000
	put(s.image, imageBase, imageBase+0x200, obj)
	put(s.heap, heapBase, obj+0x18, structure)

	r := New(s.dump, WithMaxBackOffset(0x100))

	chains, err := r.FindStaticReferences(context.Background(), structure, 0)
	require.NoError(t, err)
	assert.Empty(t, chains, "level 0 only finds the heap slot")

	chains, err = r.FindStaticReferences(context.Background(), structure, 2)
	require.NoError(t, err)
	require.Len(t, chains, 1)
	assert.Equal(t, Descriptor{ModuleOffset: 0x200, Offsets: []uint64{0x18}, PointerSize: 8}, chains[0])
	assert.Equal(t, "[[image+0x200]+0x18]+0x0", chains[0].String())

	addr, err := chains[0].Resolve(s.dump, imageBase)
	require.NoError(t, err)
	assert.Equal(t, structure, addr)
}

func TestChainsSortedShortestFirst(t *testing.T) {
	s := newSpace()
	put(s.image, imageBase, imageBase+0x300, structure)
	put(s.image, imageBase, imageBase+0x100, structure-0x20)

	chains, err := New(s.dump, WithMaxBackOffset(0x40)).FindStaticReferences(context.Background(), structure, 1)
	require.NoError(t, err)
	require.Len(t, chains, 2)
	assert.Equal(t, uint64(0x300), chains[0].ModuleOffset)
	assert.Equal(t, uint64(0x100), chains[1].ModuleOffset)
}

func TestVerifyRejects(t *testing.T) {
	s := newSpace()
	put(s.image, imageBase, imageBase+0x100, structure)

	r := New(s.dump, WithVerify(func(process.ProcessMemoryAddress) bool { return false }))
	chains, err := r.FindStaticReferences(context.Background(), structure, 1)
	require.NoError(t, err)
	assert.Empty(t, chains)
}

func TestNoMainImage(t *testing.T) {
	dump := process_blob.NewProcessDump()
	dump.AddRegion(heapBase, make([]byte, 0x1000), "rw-p")

	_, err := New(dump).FindStaticReferences(context.Background(), heapBase, 1)
	assert.Error(t, err)
}

func TestProcessLostDuringPass(t *testing.T) {
	s := newSpace()
	s.dump.LoseAfter(0)

	_, err := New(s.dump).FindStaticReferences(context.Background(), structure, 1)
	assert.ErrorIs(t, err, process.ErrProcessLost)
}

func TestResolveBrokenChain(t *testing.T) {
	s := newSpace()
	d := Descriptor{ModuleOffset: 0x200, Offsets: []uint64{0x18}, PointerSize: 8}

	_, err := d.Resolve(s.dump, imageBase)
	assert.ErrorIs(t, err, process.ErrInvalidPointer)
}

func TestDescriptorEqual(t *testing.T) {
	a := Descriptor{ModuleOffset: 1, Offsets: []uint64{2, 3}, FieldOffset: 4, PointerSize: 8}
	b := a
	b.Offsets = []uint64{2, 3}
	assert.True(t, a.Equal(b))
	b.Offsets = []uint64{2}
	assert.False(t, a.Equal(b))
}
