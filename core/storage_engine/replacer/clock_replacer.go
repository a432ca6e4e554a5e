package replacer

import (
	"container/list"
	"fmt"
	"sync"
)

type clockEntry struct {
	frameID FrameID
	ref     bool
}

// ClockReplacer approximates LRU with a second-chance sweep over a ring of
// evictable frames. The hand keeps its position between Victim calls.
type ClockReplacer struct {
	mu       sync.Mutex
	capacity int
	ring     *list.List
	entries  map[FrameID]*list.Element
	hand     *list.Element // nil means the front of the ring
}

// NewClockReplacer creates a clock replacer holding at most capacity frames.
func NewClockReplacer(capacity int) *ClockReplacer {
	if capacity <= 0 {
		panic(fmt.Sprintf("replacer: invalid capacity %d", capacity))
	}
	return &ClockReplacer{
		capacity: capacity,
		ring:     list.New(),
		entries:  make(map[FrameID]*list.Element, capacity),
	}
}

func (c *ClockReplacer) Victim() (FrameID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ring.Len() == 0 {
		return 0, false
	}
	if c.hand == nil {
		c.hand = c.ring.Front()
	}
	for {
		entry := c.hand.Value.(*clockEntry)
		if entry.ref {
			entry.ref = false
			c.advance()
			continue
		}
		victim := c.hand
		c.hand = victim.Next()
		c.ring.Remove(victim)
		delete(c.entries, entry.frameID)
		return entry.frameID, true
	}
}

func (c *ClockReplacer) Pin(frameID FrameID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[frameID]
	if !ok {
		return
	}
	if elem == c.hand {
		c.hand = elem.Next()
	}
	c.ring.Remove(elem)
	delete(c.entries, frameID)
}

func (c *ClockReplacer) Unpin(frameID FrameID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[frameID]; ok || c.ring.Len() >= c.capacity {
		return
	}
	c.entries[frameID] = c.ring.PushBack(&clockEntry{frameID: frameID, ref: true})
}

func (c *ClockReplacer) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ring.Len()
}

// RefBit reports the reference bit of a tracked frame.
func (c *ClockReplacer) RefBit(frameID FrameID) (bool, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	elem, ok := c.entries[frameID]
	if !ok {
		return false, false
	}
	return elem.Value.(*clockEntry).ref, true
}

// advance moves the hand one step, wrapping at the back of the ring.
func (c *ClockReplacer) advance() {
	c.hand = c.hand.Next()
	if c.hand == nil {
		c.hand = c.ring.Front()
	}
}
