// Package replacer tracks which buffer pool frames are evictable and picks
// victims among them.
package replacer

import (
	"errors"
	"fmt"
	"strings"
)

// FrameID is an index into the buffer pool's frame array.
type FrameID int

const (
	PolicyLRU   = "lru"
	PolicyClock = "clock"
)

var ErrUnknownPolicy = errors.New("unknown replacement policy")

// Replacer defines the contract for page replacement policies over a bounded
// set of evictable frames.
type Replacer interface {
	// Victim removes and returns one evictable frame, or false if none is tracked.
	Victim() (FrameID, bool)
	// Pin makes the frame non-evictable. Untracked frames are ignored.
	Pin(frameID FrameID)
	// Unpin makes the frame evictable. Tracked frames are left where they are and
	// calls beyond capacity are dropped.
	Unpin(frameID FrameID)
	// Size returns the number of evictable frames.
	Size() int
}

// New builds the replacer named by policy.
func New(policy string, capacity int) (Replacer, error) {
	switch strings.ToLower(strings.TrimSpace(policy)) {
	case PolicyLRU, "":
		return NewLRUReplacer(capacity), nil
	case PolicyClock:
		return NewClockReplacer(capacity), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownPolicy, policy)
	}
}
