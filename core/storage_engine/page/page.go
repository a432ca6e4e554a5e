package page

import (
	"sync"
)

const (
	// PageSize is the size of every page in the backing file and every frame in the pool.
	PageSize = 4096

	// InvalidPageID marks a frame that is not bound to any logical page.
	InvalidPageID PageID = -1
)

// PageID is the caller-visible logical page identifier.
type PageID int32

// Page is an in-memory frame holding one logical page plus its pool bookkeeping.
// Pin count and dirty flag belong to the buffer pool and are only touched under
// its lock; the latch protects the content for callers.
type Page struct {
	id       PageID
	data     []byte
	pinCount int32
	isDirty  bool

	// latch protects data. Pool bookkeeping does not take it.
	latch sync.RWMutex
}

// NewPage creates an unbound frame with a zeroed buffer.
func NewPage() *Page {
	return &Page{
		id:   InvalidPageID,
		data: make([]byte, PageSize),
	}
}

// Reset unbinds the frame and zeroes its content.
func (p *Page) Reset() {
	p.id = InvalidPageID
	p.pinCount = 0
	p.isDirty = false
	p.ResetMemory()
}

// ResetMemory zeroes the content without touching metadata.
func (p *Page) ResetMemory() {
	clear(p.data)
}

func (p *Page) GetData() []byte            { return p.data }
func (p *Page) GetPageID() PageID          { return p.id }
func (p *Page) SetPageID(id PageID)        { p.id = id }
func (p *Page) IsDirty() bool              { return p.isDirty }
func (p *Page) SetDirty(dirty bool)        { p.isDirty = dirty }
func (p *Page) GetPinCount() int32         { return p.pinCount }
func (p *Page) SetPinCount(pinCount int32) { p.pinCount = pinCount }
func (p *Page) Pin()                       { p.pinCount++ }
func (p *Page) Unpin() {
	if p.pinCount > 0 {
		p.pinCount--
	}
}

// RLock acquires a read (shared) latch on the page content.
func (p *Page) RLock() {
	p.latch.RLock()
}

// RUnlock releases a read (shared) latch on the page content.
func (p *Page) RUnlock() {
	p.latch.RUnlock()
}

// WLock acquires a write (exclusive) latch on the page content.
func (p *Page) WLock() {
	p.latch.Lock()
}

func (p *Page) TryWLock() bool {
	return p.latch.TryLock()
}

// WUnlock releases a write (exclusive) latch on the page content.
func (p *Page) WUnlock() {
	p.latch.Unlock()
}
