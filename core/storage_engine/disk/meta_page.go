package disk

import (
	"encoding/binary"
	"fmt"

	"github.com/sushant-115/pagedb/core/storage_engine/bitmap"
	"github.com/sushant-115/pagedb/core/storage_engine/page"
)

const (
	metaHeaderSize = 8

	// MaxExtents is the number of per-extent counters that fit in the meta page.
	MaxExtents = (page.PageSize - metaHeaderSize) / 4

	// MaxValidPageID is the layout ceiling for allocated logical pages.
	MaxValidPageID = MaxExtents * bitmap.BitmapSize
)

// metaPage is the decoded form of physical page 0.
//
//	[0:4)        allocated page count
//	[4:8)        extent count
//	[8+4i:12+4i) used pages of extent i
type metaPage struct {
	numAllocatedPages uint32
	numExtents        uint32
	extentUsedPage    [MaxExtents]uint32
}

func decodeMetaPage(buf []byte) *metaPage {
	if len(buf) != page.PageSize {
		panic(fmt.Sprintf("disk: meta decode buffer has %d bytes, want %d", len(buf), page.PageSize))
	}
	m := &metaPage{
		numAllocatedPages: binary.LittleEndian.Uint32(buf[0:4]),
		numExtents:        binary.LittleEndian.Uint32(buf[4:8]),
	}
	if m.numExtents > MaxExtents {
		panic(fmt.Sprintf("disk: corrupt meta page, %d extents exceeds %d", m.numExtents, MaxExtents))
	}
	var total uint32
	for i := range m.extentUsedPage {
		off := metaHeaderSize + 4*i
		m.extentUsedPage[i] = binary.LittleEndian.Uint32(buf[off : off+4])
		if uint32(i) < m.numExtents {
			if m.extentUsedPage[i] > bitmap.BitmapSize {
				panic(fmt.Sprintf("disk: corrupt meta page, extent %d uses %d pages", i, m.extentUsedPage[i]))
			}
			total += m.extentUsedPage[i]
		}
	}
	if total != m.numAllocatedPages {
		panic(fmt.Sprintf("disk: corrupt meta page, extents hold %d pages but header says %d", total, m.numAllocatedPages))
	}
	return m
}

func (m *metaPage) encode(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:4], m.numAllocatedPages)
	binary.LittleEndian.PutUint32(buf[4:8], m.numExtents)
	for i, used := range m.extentUsedPage {
		off := metaHeaderSize + 4*i
		binary.LittleEndian.PutUint32(buf[off:off+4], used)
	}
}
