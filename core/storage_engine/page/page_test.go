package page

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewPageIsUnbound(t *testing.T) {
	p := NewPage()
	assert.Equal(t, InvalidPageID, p.GetPageID())
	assert.Len(t, p.GetData(), PageSize)
	assert.Equal(t, int32(0), p.GetPinCount())
	assert.False(t, p.IsDirty())
}

func TestPinUnpinNeverNegative(t *testing.T) {
	p := NewPage()
	p.Pin()
	p.Pin()
	assert.Equal(t, int32(2), p.GetPinCount())
	p.Unpin()
	p.Unpin()
	p.Unpin()
	assert.Equal(t, int32(0), p.GetPinCount())
}

func TestReset(t *testing.T) {
	p := NewPage()
	p.SetPageID(9)
	p.SetPinCount(3)
	p.SetDirty(true)
	copy(p.GetData(), "payload")

	p.Reset()
	assert.Equal(t, InvalidPageID, p.GetPageID())
	assert.Equal(t, int32(0), p.GetPinCount())
	assert.False(t, p.IsDirty())
	assert.Equal(t, make([]byte, PageSize), p.GetData())
}

func TestLatch(t *testing.T) {
	p := NewPage()
	p.RLock()
	assert.False(t, p.TryWLock(), "readers block writers")
	p.RUnlock()

	assert.True(t, p.TryWLock())
	p.WUnlock()
}
