// Package bitmap implements the per-extent allocation bitmap page.
//
// On-disk layout (little-endian), one page:
//
//	[0:4)   allocated page count
//	[4:8)   next free page hint
//	[8:)    one bit per data page of the extent; slot i is bit i%8 of byte i/8
package bitmap

import (
	"encoding/binary"
	"fmt"
	"math/bits"

	"github.com/sushant-115/pagedb/core/storage_engine/page"
)

const (
	headerSize = 8
	maxChars   = page.PageSize - headerSize

	// BitmapSize is the number of data pages tracked by one bitmap page.
	BitmapSize = 8 * maxChars
)

// BitmapPage is the decoded form of an extent's bitmap page.
type BitmapPage struct {
	pageAllocated uint32
	nextFreePage  uint32
	bytes         [maxChars]byte
}

// New returns an empty bitmap with every slot free.
func New() *BitmapPage {
	return &BitmapPage{}
}

// Decode parses a bitmap page. It panics if the buffer is structurally corrupt;
// the backing file is trusted.
func Decode(buf []byte) *BitmapPage {
	if len(buf) != page.PageSize {
		panic(fmt.Sprintf("bitmap: decode buffer has %d bytes, want %d", len(buf), page.PageSize))
	}
	bp := &BitmapPage{
		pageAllocated: binary.LittleEndian.Uint32(buf[0:4]),
		nextFreePage:  binary.LittleEndian.Uint32(buf[4:8]),
	}
	copy(bp.bytes[:], buf[headerSize:])

	if bp.pageAllocated > BitmapSize {
		panic(fmt.Sprintf("bitmap: corrupt page, allocated count %d exceeds %d", bp.pageAllocated, BitmapSize))
	}
	if set := bp.popCount(); set != bp.pageAllocated {
		panic(fmt.Sprintf("bitmap: corrupt page, %d bits set but allocated count is %d", set, bp.pageAllocated))
	}
	return bp
}

// Encode writes the bitmap into buf, which must be exactly one page.
func (bp *BitmapPage) Encode(buf []byte) {
	if len(buf) != page.PageSize {
		panic(fmt.Sprintf("bitmap: encode buffer has %d bytes, want %d", len(buf), page.PageSize))
	}
	binary.LittleEndian.PutUint32(buf[0:4], bp.pageAllocated)
	binary.LittleEndian.PutUint32(buf[4:8], bp.nextFreePage)
	copy(buf[headerSize:], bp.bytes[:])
}

// AllocatePage marks the first free slot as allocated and returns its offset.
// The next-free hint is tried first and verified; on a stale hint the bitmap
// is scanned linearly from slot 0.
func (bp *BitmapPage) AllocatePage() (uint32, bool) {
	if bp.pageAllocated >= BitmapSize {
		return 0, false
	}

	offset := bp.nextFreePage
	if offset >= BitmapSize || !bp.IsPageFree(offset) {
		found := false
		for i := uint32(0); i < BitmapSize; i++ {
			if bp.IsPageFree(i) {
				offset, found = i, true
				break
			}
		}
		if !found {
			return 0, false
		}
	}

	bp.bytes[offset/8] |= 1 << (offset % 8)
	bp.pageAllocated++

	next := offset + 1
	for ; next < BitmapSize; next++ {
		if bp.IsPageFree(next) {
			break
		}
	}
	bp.nextFreePage = next
	return offset, true
}

// DeAllocatePage frees the slot. It returns false if the slot was already free.
func (bp *BitmapPage) DeAllocatePage(offset uint32) bool {
	if offset >= BitmapSize || bp.IsPageFree(offset) {
		return false
	}
	bp.bytes[offset/8] &^= 1 << (offset % 8)
	bp.pageAllocated--
	if offset < bp.nextFreePage {
		bp.nextFreePage = offset
	}
	return true
}

// IsPageFree reports whether the slot is unallocated.
func (bp *BitmapPage) IsPageFree(offset uint32) bool {
	if offset >= BitmapSize {
		return false
	}
	return bp.bytes[offset/8]&(1<<(offset%8)) == 0
}

func (bp *BitmapPage) AllocatedCount() uint32 { return bp.pageAllocated }
func (bp *BitmapPage) NextFreeHint() uint32   { return bp.nextFreePage }

func (bp *BitmapPage) popCount() uint32 {
	var n int
	for _, b := range bp.bytes {
		n += bits.OnesCount8(b)
	}
	return uint32(n)
}
