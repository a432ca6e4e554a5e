package replacer

import (
	"fmt"
	"sync"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// LRUReplacer evicts the least recently unpinned frame. Only a Pin followed by
// an Unpin refreshes a frame's position; repeated Unpins do not.
type LRUReplacer struct {
	mu       sync.Mutex
	capacity int
	lru      *simplelru.LRU[FrameID, struct{}]
}

// NewLRUReplacer creates an LRU replacer holding at most capacity frames.
func NewLRUReplacer(capacity int) *LRUReplacer {
	if capacity <= 0 {
		panic(fmt.Sprintf("replacer: invalid capacity %d", capacity))
	}
	lru, err := simplelru.NewLRU[FrameID, struct{}](capacity, nil)
	if err != nil {
		panic(fmt.Sprintf("replacer: %v", err))
	}
	return &LRUReplacer{capacity: capacity, lru: lru}
}

func (r *LRUReplacer) Victim() (FrameID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	frameID, _, ok := r.lru.RemoveOldest()
	return frameID, ok
}

func (r *LRUReplacer) Pin(frameID FrameID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lru.Remove(frameID)
}

func (r *LRUReplacer) Unpin(frameID FrameID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	// Contains does not touch recency, so a tracked frame keeps its place.
	if r.lru.Contains(frameID) || r.lru.Len() >= r.capacity {
		return
	}
	r.lru.Add(frameID, struct{}{})
}

func (r *LRUReplacer) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lru.Len()
}

// Frames returns the evictable frames from least to most recently unpinned.
func (r *LRUReplacer) Frames() []FrameID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lru.Keys()
}
