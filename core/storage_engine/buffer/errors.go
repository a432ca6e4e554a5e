package buffer

import "errors"

// --- Error Definitions ---

var (
	ErrBufferPoolFull  = errors.New("buffer pool is full and no pages can be evicted")
	ErrOutOfSpace      = errors.New("disk manager has no free pages left")
	ErrPageNotFound    = errors.New("page not found in buffer pool")
	ErrPageNotPinned   = errors.New("page is not pinned")
	ErrPagePinned      = errors.New("page is pinned and cannot be deleted")
	ErrInvalidPageID   = errors.New("invalid page id")
	ErrInvalidPoolSize = errors.New("buffer pool size must be positive")
	ErrPoolClosed      = errors.New("buffer pool is closed")
)
