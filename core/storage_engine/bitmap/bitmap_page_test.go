package bitmap

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sushant-115/pagedb/core/storage_engine/page"
)

func TestBitmapSize(t *testing.T) {
	assert.Equal(t, 32704, BitmapSize)
}

func TestAllocateSequential(t *testing.T) {
	bp := New()
	for i := uint32(0); i < 10; i++ {
		offset, ok := bp.AllocatePage()
		require.True(t, ok)
		assert.Equal(t, i, offset)
		assert.False(t, bp.IsPageFree(i))
	}
	assert.Equal(t, uint32(10), bp.AllocatedCount())
	assert.Equal(t, uint32(10), bp.NextFreeHint())
	assert.True(t, bp.IsPageFree(10))
}

func TestDeAllocateLowersHint(t *testing.T) {
	bp := New()
	for i := 0; i < 8; i++ {
		_, ok := bp.AllocatePage()
		require.True(t, ok)
	}

	assert.True(t, bp.DeAllocatePage(3))
	assert.True(t, bp.IsPageFree(3))
	assert.Equal(t, uint32(3), bp.NextFreeHint())
	assert.Equal(t, uint32(7), bp.AllocatedCount())

	// freeing a higher slot keeps the lower hint
	assert.True(t, bp.DeAllocatePage(6))
	assert.Equal(t, uint32(3), bp.NextFreeHint())

	offset, ok := bp.AllocatePage()
	require.True(t, ok)
	assert.Equal(t, uint32(3), offset, "first fit reuses the lowest freed slot")

	// hint advances past allocated slots to the next hole
	assert.Equal(t, uint32(6), bp.NextFreeHint())
}

func TestDeAllocateFreeSlot(t *testing.T) {
	bp := New()
	assert.False(t, bp.DeAllocatePage(0))
	assert.False(t, bp.DeAllocatePage(BitmapSize))
	assert.Equal(t, uint32(0), bp.AllocatedCount())
}

func TestIsPageFreeOutOfRange(t *testing.T) {
	bp := New()
	assert.False(t, bp.IsPageFree(BitmapSize))
}

func TestAllocateFull(t *testing.T) {
	bp := New()
	for i := 0; i < BitmapSize; i++ {
		_, ok := bp.AllocatePage()
		require.True(t, ok)
	}
	_, ok := bp.AllocatePage()
	assert.False(t, ok)
	assert.Equal(t, uint32(BitmapSize), bp.NextFreeHint())

	require.True(t, bp.DeAllocatePage(BitmapSize-1))
	offset, ok := bp.AllocatePage()
	require.True(t, ok)
	assert.Equal(t, uint32(BitmapSize-1), offset)
}

func TestStaleHintIsVerified(t *testing.T) {
	bp := New()
	for i := 0; i < 4; i++ {
		_, ok := bp.AllocatePage()
		require.True(t, ok)
	}
	require.True(t, bp.DeAllocatePage(1))

	// point the hint at an allocated slot
	bp.nextFreePage = 2
	offset, ok := bp.AllocatePage()
	require.True(t, ok)
	assert.Equal(t, uint32(1), offset)
	assert.False(t, bp.IsPageFree(2))
}

func TestEncodeDecode(t *testing.T) {
	bp := New()
	for i := 0; i < 20; i++ {
		_, ok := bp.AllocatePage()
		require.True(t, ok)
	}
	require.True(t, bp.DeAllocatePage(9))

	buf := make([]byte, page.PageSize)
	bp.Encode(buf)

	assert.Equal(t, uint32(19), binary.LittleEndian.Uint32(buf[0:4]))
	assert.Equal(t, uint32(9), binary.LittleEndian.Uint32(buf[4:8]))
	assert.Equal(t, byte(0xff), buf[8], "slots 0..7 set")
	assert.Equal(t, byte(0xfd), buf[9], "slot 9 cleared")

	decoded := Decode(buf)
	assert.Equal(t, bp.AllocatedCount(), decoded.AllocatedCount())
	assert.Equal(t, bp.NextFreeHint(), decoded.NextFreeHint())
	assert.True(t, decoded.IsPageFree(9))
	assert.False(t, decoded.IsPageFree(10))
}

func TestDecodeZeroPage(t *testing.T) {
	bp := Decode(make([]byte, page.PageSize))
	assert.Equal(t, uint32(0), bp.AllocatedCount())
	offset, ok := bp.AllocatePage()
	require.True(t, ok)
	assert.Equal(t, uint32(0), offset)
}

func TestDecodeCorruptPanics(t *testing.T) {
	buf := make([]byte, page.PageSize)
	binary.LittleEndian.PutUint32(buf[0:4], 3)
	assert.Panics(t, func() { Decode(buf) })

	binary.LittleEndian.PutUint32(buf[0:4], BitmapSize+1)
	assert.Panics(t, func() { Decode(buf) })

	assert.Panics(t, func() { Decode(make([]byte, 10)) })
}
