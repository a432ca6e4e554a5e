package replacer

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func victim(t *testing.T, r Replacer) FrameID {
	t.Helper()
	f, ok := r.Victim()
	require.True(t, ok)
	return f
}

func TestClockReplacerScenarios(t *testing.T) {
	const capacity = 4
	c := NewClockReplacer(capacity)

	assert.Equal(t, 0, c.Size())
	_, ok := c.Victim()
	assert.False(t, ok)

	for f := FrameID(0); f < capacity; f++ {
		c.Unpin(f)
		ref, tracked := c.RefBit(f)
		require.True(t, tracked)
		assert.True(t, ref, "unpin sets the reference bit")
	}
	assert.Equal(t, capacity, c.Size())

	c.Unpin(1)
	assert.Equal(t, capacity, c.Size(), "duplicate unpin is ignored")

	// one full sweep clears every bit, then 0 is taken
	assert.Equal(t, FrameID(0), victim(t, c))
	assert.Equal(t, 3, c.Size())
	for _, f := range []FrameID{1, 2, 3} {
		ref, _ := c.RefBit(f)
		assert.False(t, ref)
	}

	assert.Equal(t, FrameID(1), victim(t, c))
	assert.Equal(t, 2, c.Size())

	c.Pin(2)
	assert.Equal(t, 1, c.Size())

	c.Unpin(2)
	assert.Equal(t, 2, c.Size())

	assert.Equal(t, FrameID(3), victim(t, c))
	assert.Equal(t, 1, c.Size())

	assert.Equal(t, FrameID(2), victim(t, c))
	assert.Equal(t, 0, c.Size())

	_, ok = c.Victim()
	assert.False(t, ok)

	for f := FrameID(0); f < capacity+2; f++ {
		c.Unpin(f)
	}
	assert.Equal(t, capacity, c.Size())

	for {
		if _, ok := c.Victim(); !ok {
			break
		}
	}
	assert.Equal(t, 0, c.Size())
}

func TestClockReplacerHandPersists(t *testing.T) {
	c := NewClockReplacer(3)
	c.Unpin(0)
	c.Unpin(1)
	c.Unpin(2)

	assert.Equal(t, FrameID(0), victim(t, c))

	// hand now rests on 1; a fresh frame joins behind 2 with its bit set
	c.Unpin(0)
	assert.Equal(t, FrameID(1), victim(t, c))
	assert.Equal(t, FrameID(2), victim(t, c))
	assert.Equal(t, FrameID(0), victim(t, c))
}

func TestClockReplacerPinUnderHand(t *testing.T) {
	c := NewClockReplacer(3)
	c.Unpin(0)
	c.Unpin(1)
	c.Unpin(2)
	assert.Equal(t, FrameID(0), victim(t, c))

	// hand points at 1; pinning it moves the hand on to 2
	c.Pin(1)
	assert.Equal(t, FrameID(2), victim(t, c))
	assert.Equal(t, 0, c.Size())
}

func TestNewReplacer(t *testing.T) {
	r, err := New("LRU", 2)
	require.NoError(t, err)
	assert.IsType(t, &LRUReplacer{}, r)

	r, err = New("clock", 2)
	require.NoError(t, err)
	assert.IsType(t, &ClockReplacer{}, r)

	_, err = New("arc", 2)
	assert.ErrorIs(t, err, ErrUnknownPolicy)
}

func TestReplacersConcurrentUse(t *testing.T) {
	for _, policy := range []string{PolicyLRU, PolicyClock} {
		t.Run(policy, func(t *testing.T) {
			r, err := New(policy, 64)
			require.NoError(t, err)

			var wg sync.WaitGroup
			for w := 0; w < 8; w++ {
				wg.Add(1)
				go func(base int) {
					defer wg.Done()
					for i := 0; i < 8; i++ {
						f := FrameID(base*8 + i)
						r.Unpin(f)
						r.Pin(f)
						r.Unpin(f)
					}
				}(w)
			}
			wg.Wait()
			assert.Equal(t, 64, r.Size())

			seen := make(map[FrameID]bool)
			for r.Size() > 0 {
				f := victim(t, r)
				assert.False(t, seen[f], "frame %d returned twice", f)
				seen[f] = true
			}
			assert.Len(t, seen, 64)
		})
	}
}
