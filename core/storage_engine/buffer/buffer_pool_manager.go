// Package buffer caches logical pages from the disk manager in a fixed set of
// in-memory frames and hands them out pinned.
package buffer

import (
	"container/list"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"

	"github.com/sushant-115/pagedb/core/storage_engine/disk"
	"github.com/sushant-115/pagedb/core/storage_engine/page"
	"github.com/sushant-115/pagedb/core/storage_engine/replacer"
	internaltelemetry "github.com/sushant-115/pagedb/internal/telemetry"
)

// PageProvider is the page access contract consumed by higher layers such as
// indexes and table heaps. *BufferPoolManager implements it.
type PageProvider interface {
	NewPage() (*page.Page, page.PageID, error)
	FetchPage(pageID page.PageID) (*page.Page, error)
	UnpinPage(pageID page.PageID, isDirty bool) error
	DeletePage(pageID page.PageID) error
	FlushPage(pageID page.PageID) error
	AllocatePage() page.PageID
	DeallocatePage(pageID page.PageID)
	IsPageFree(pageID page.PageID) bool
}

var _ PageProvider = (*BufferPoolManager)(nil)

// Stats is a point-in-time snapshot of pool occupancy and counters.
type Stats struct {
	PoolSize   int
	Resident   int
	FreeFrames int
	Evictable  int
	Pinned     int
	Hits       uint64
	Misses     uint64
	Evictions  uint64
	Flushes    uint64
}

// HitRatio returns hits over all fetches, or 0 before the first fetch.
func (s Stats) HitRatio() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

type options struct {
	replacer replacer.Replacer
	policy   string
	logger   *zap.Logger
	meter    metric.Meter
}

// Option configures a BufferPoolManager.
type Option func(*options)

// WithReplacer installs a ready-made replacer. It takes precedence over
// WithReplacerPolicy.
func WithReplacer(r replacer.Replacer) Option {
	return func(o *options) { o.replacer = r }
}

// WithReplacerPolicy selects the replacer by name ("lru" or "clock").
func WithReplacerPolicy(policy string) Option {
	return func(o *options) { o.policy = policy }
}

func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithMeter records pool metrics on meter instead of a no-op meter.
func WithMeter(meter metric.Meter) Option {
	return func(o *options) { o.meter = meter }
}

// BufferPoolManager manages in-memory page frames on top of a DiskManager.
// A single mutex serializes every public operation, disk I/O included.
type BufferPoolManager struct {
	id          string
	diskManager *disk.DiskManager
	replacer    replacer.Replacer
	poolSize    int
	pages       []*page.Page                     // Page frames
	pageTable   map[page.PageID]replacer.FrameID // PageID to frame index
	freeList    *list.List                       // Frames not bound to any page, FIFO
	logger      *zap.Logger
	metrics     *internaltelemetry.BufferPoolMetrics
	mu          sync.Mutex
	closed      bool

	hits      uint64
	misses    uint64
	evictions uint64
	flushes   uint64
}

// NewBufferPoolManager creates a pool of poolSize frames over diskManager.
// Every frame starts on the free list.
func NewBufferPoolManager(poolSize int, diskManager *disk.DiskManager, opts ...Option) (*BufferPoolManager, error) {
	if poolSize <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPoolSize, poolSize)
	}
	if diskManager == nil {
		return nil, errors.New("buffer pool: disk manager cannot be nil")
	}

	o := options{policy: replacer.PolicyLRU}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.meter == nil {
		o.meter = noop.NewMeterProvider().Meter("pagedb")
	}

	policy := o.policy
	rep := o.replacer
	if rep == nil {
		var err error
		rep, err = replacer.New(policy, poolSize)
		if err != nil {
			return nil, err
		}
	} else {
		policy = "custom"
	}

	metrics, err := internaltelemetry.NewBufferPoolMetrics(o.meter, policy)
	if err != nil {
		return nil, fmt.Errorf("failed to create buffer pool metrics: %w", err)
	}

	id := uuid.NewString()
	bpm := &BufferPoolManager{
		id:          id,
		diskManager: diskManager,
		replacer:    rep,
		poolSize:    poolSize,
		pages:       make([]*page.Page, poolSize),
		pageTable:   make(map[page.PageID]replacer.FrameID, poolSize),
		freeList:    list.New(),
		logger:      o.logger.Named("buffer_pool").With(zap.String("pool_id", id)),
		metrics:     metrics,
	}
	for i := 0; i < poolSize; i++ {
		bpm.pages[i] = page.NewPage()
		bpm.freeList.PushBack(replacer.FrameID(i))
	}

	bpm.logger.Info("buffer pool initialized",
		zap.Int("pool_size", poolSize),
		zap.Int("page_size", page.PageSize),
		zap.String("replacer", policy),
	)
	return bpm, nil
}

// ID returns the pool's instance id.
func (bpm *BufferPoolManager) ID() string { return bpm.id }

func (bpm *BufferPoolManager) PoolSize() int { return bpm.poolSize }

// FetchPage returns the page pinned, reading it from disk when it is not
// resident. It fails with ErrBufferPoolFull when every frame is pinned.
func (bpm *BufferPoolManager) FetchPage(pageID page.PageID) (*page.Page, error) {
	if pageID < 0 || pageID >= disk.MaxValidPageID {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPageID, pageID)
	}

	bpm.mu.Lock()
	defer bpm.mu.Unlock()
	if bpm.closed {
		return nil, ErrPoolClosed
	}

	// 1. Check if page is already in the buffer pool
	if frameID, ok := bpm.pageTable[pageID]; ok {
		p := bpm.pages[frameID]
		bpm.pinInternal(frameID, p)
		bpm.hits++
		bpm.metrics.Hit()
		bpm.logger.Debug("page hit",
			zap.Int32("page_id", int32(pageID)),
			zap.Int("frame", int(frameID)),
			zap.Int32("pin_count", p.GetPinCount()),
		)
		return p, nil
	}

	// 2. Page not in pool, take a free frame or evict a victim
	frameID, ok := bpm.acquireFrameInternal()
	if !ok {
		bpm.logger.Warn("no frame available for fetch", zap.Int32("page_id", int32(pageID)))
		return nil, fmt.Errorf("%w: fetching page %d", ErrBufferPoolFull, pageID)
	}
	bpm.misses++
	bpm.metrics.Miss()

	// 3. Load page data from disk
	p := bpm.pages[frameID]
	if err := bpm.diskManager.ReadPage(pageID, p.GetData()); err != nil {
		bpm.logger.Error("read page failed, frame zero-filled",
			zap.Int32("page_id", int32(pageID)),
			zap.Int("frame", int(frameID)),
			zap.Error(err),
		)
		p.ResetMemory()
	}
	bpm.metrics.DiskRead()

	// 4. Bind the frame
	p.SetPageID(pageID)
	p.SetPinCount(1)
	p.SetDirty(false)
	bpm.pageTable[pageID] = frameID
	bpm.replacer.Pin(frameID)
	bpm.metrics.PinnedDelta(1)

	bpm.logger.Debug("page loaded",
		zap.Int32("page_id", int32(pageID)),
		zap.Int("frame", int(frameID)),
	)
	return p, nil
}

// NewPage allocates a fresh page on disk and binds it to a zeroed, pinned,
// dirty frame. If no frame is available the allocation is rolled back.
func (bpm *BufferPoolManager) NewPage() (*page.Page, page.PageID, error) {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()
	if bpm.closed {
		return nil, page.InvalidPageID, ErrPoolClosed
	}

	pageID := bpm.allocateFreshInternal()
	if pageID == page.InvalidPageID {
		bpm.logger.Warn("disk allocation exhausted")
		return nil, page.InvalidPageID, ErrOutOfSpace
	}

	frameID, ok := bpm.acquireFrameInternal()
	if !ok {
		// Roll back the disk allocation so the id is not leaked.
		bpm.diskManager.DeAllocatePage(pageID)
		bpm.logger.Warn("no frame available for new page, allocation rolled back",
			zap.Int32("page_id", int32(pageID)),
		)
		return nil, page.InvalidPageID, fmt.Errorf("%w: new page", ErrBufferPoolFull)
	}

	p := bpm.pages[frameID]
	p.ResetMemory()
	p.SetPageID(pageID)
	p.SetPinCount(1)
	p.SetDirty(true)
	bpm.pageTable[pageID] = frameID
	bpm.replacer.Pin(frameID)
	bpm.metrics.PinnedDelta(1)

	bpm.logger.Debug("new page",
		zap.Int32("page_id", int32(pageID)),
		zap.Int("frame", int(frameID)),
	)
	return p, pageID, nil
}

// UnpinPage drops one pin and ORs isDirty into the page's dirty flag. The frame
// becomes evictable when its pin count reaches zero.
func (bpm *BufferPoolManager) UnpinPage(pageID page.PageID, isDirty bool) error {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()
	if bpm.closed {
		return ErrPoolClosed
	}

	frameID, ok := bpm.pageTable[pageID]
	if !ok {
		return fmt.Errorf("%w: unpin page %d", ErrPageNotFound, pageID)
	}
	p := bpm.pages[frameID]
	if p.GetPinCount() <= 0 {
		bpm.logger.Warn("unpin of page with pin count 0", zap.Int32("page_id", int32(pageID)))
		return fmt.Errorf("%w: page %d", ErrPageNotPinned, pageID)
	}
	if isDirty {
		p.SetDirty(true)
	}
	p.Unpin()
	if p.GetPinCount() == 0 {
		bpm.replacer.Unpin(frameID)
		bpm.metrics.PinnedDelta(-1)
	}
	return nil
}

// DeletePage removes an unpinned page from the pool and frees it on disk.
// Deleting a page that is not resident succeeds without touching the disk.
func (bpm *BufferPoolManager) DeletePage(pageID page.PageID) error {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()
	if bpm.closed {
		return ErrPoolClosed
	}

	frameID, ok := bpm.pageTable[pageID]
	if !ok {
		return nil
	}
	p := bpm.pages[frameID]
	if p.GetPinCount() != 0 {
		bpm.logger.Warn("delete of pinned page",
			zap.Int32("page_id", int32(pageID)),
			zap.Int32("pin_count", p.GetPinCount()),
		)
		return fmt.Errorf("%w: page %d has pin count %d", ErrPagePinned, pageID, p.GetPinCount())
	}

	bpm.releaseFrameInternal(pageID, frameID)
	bpm.diskManager.DeAllocatePage(pageID)

	bpm.logger.Debug("page deleted",
		zap.Int32("page_id", int32(pageID)),
		zap.Int("frame", int(frameID)),
	)
	return nil
}

// FlushPage writes a resident page to disk and clears its dirty flag, whether
// or not it is pinned.
func (bpm *BufferPoolManager) FlushPage(pageID page.PageID) error {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()
	if bpm.closed {
		return ErrPoolClosed
	}

	frameID, ok := bpm.pageTable[pageID]
	if !ok {
		return fmt.Errorf("%w: flush page %d", ErrPageNotFound, pageID)
	}
	return bpm.flushFrameInternal(frameID)
}

// FlushAllPages flushes every resident page and syncs the file. It keeps going
// past failures and returns them joined.
func (bpm *BufferPoolManager) FlushAllPages() error {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()
	if bpm.closed {
		return ErrPoolClosed
	}
	return bpm.flushAllInternal()
}

func (bpm *BufferPoolManager) flushAllInternal() error {
	var errs error
	for _, frameID := range bpm.pageTable {
		if err := bpm.flushFrameInternal(frameID); err != nil {
			errs = errors.Join(errs, err)
		}
	}
	if err := bpm.diskManager.Sync(); err != nil {
		errs = errors.Join(errs, fmt.Errorf("sync: %w", err))
	}
	return errs
}

// flushFrameInternal must be called with bpm.mu held.
func (bpm *BufferPoolManager) flushFrameInternal(frameID replacer.FrameID) error {
	p := bpm.pages[frameID]
	if err := bpm.diskManager.WritePage(p.GetPageID(), p.GetData()); err != nil {
		bpm.logger.Error("flush page failed", zap.Int32("page_id", int32(p.GetPageID())), zap.Error(err))
		return fmt.Errorf("failed to flush page %d: %w", p.GetPageID(), err)
	}
	p.SetDirty(false)
	bpm.flushes++
	bpm.metrics.Flush()
	bpm.metrics.DiskWrite()
	return nil
}

// AllocatePage reserves a page on disk without bringing it into the pool.
func (bpm *BufferPoolManager) AllocatePage() page.PageID {
	return bpm.diskManager.AllocatePage()
}

// DeallocatePage frees a page on disk. A resident unpinned copy is dropped
// from the pool without being written back; a pinned page is left alone.
func (bpm *BufferPoolManager) DeallocatePage(pageID page.PageID) {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()

	if frameID, ok := bpm.pageTable[pageID]; ok {
		p := bpm.pages[frameID]
		if p.GetPinCount() != 0 {
			bpm.logger.Warn("deallocate of pinned page refused",
				zap.Int32("page_id", int32(pageID)),
				zap.Int32("pin_count", p.GetPinCount()),
			)
			return
		}
		bpm.releaseFrameInternal(pageID, frameID)
	}
	bpm.diskManager.DeAllocatePage(pageID)
}

func (bpm *BufferPoolManager) IsPageFree(pageID page.PageID) bool {
	return bpm.diskManager.IsPageFree(pageID)
}

// CheckAllUnpinned logs every frame that is still pinned and reports whether
// none are.
func (bpm *BufferPoolManager) CheckAllUnpinned() bool {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()

	allUnpinned := true
	for i, p := range bpm.pages {
		if p.GetPinCount() != 0 {
			allUnpinned = false
			bpm.logger.Warn("frame still pinned",
				zap.Int("frame", i),
				zap.Int32("page_id", int32(p.GetPageID())),
				zap.Int32("pin_count", p.GetPinCount()),
			)
		}
	}
	return allUnpinned
}

// PinnedPages returns the ids of resident pages with a non-zero pin count.
func (bpm *BufferPoolManager) PinnedPages() map[page.PageID]int32 {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()

	pinned := make(map[page.PageID]int32)
	for pageID, frameID := range bpm.pageTable {
		if n := bpm.pages[frameID].GetPinCount(); n != 0 {
			pinned[pageID] = n
		}
	}
	return pinned
}

func (bpm *BufferPoolManager) Stats() Stats {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()

	pinned := 0
	for _, frameID := range bpm.pageTable {
		if bpm.pages[frameID].GetPinCount() != 0 {
			pinned++
		}
	}
	return Stats{
		PoolSize:   bpm.poolSize,
		Resident:   len(bpm.pageTable),
		FreeFrames: bpm.freeList.Len(),
		Evictable:  bpm.replacer.Size(),
		Pinned:     pinned,
		Hits:       bpm.hits,
		Misses:     bpm.misses,
		Evictions:  bpm.evictions,
		Flushes:    bpm.flushes,
	}
}

// Close flushes every resident page and closes the disk manager. It is safe to
// call twice.
func (bpm *BufferPoolManager) Close() error {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()
	if bpm.closed {
		return nil
	}
	bpm.closed = true

	if !bpm.checkAllUnpinnedInternal() {
		bpm.logger.Warn("closing buffer pool with pinned pages")
	}
	errs := bpm.flushAllInternal()
	if err := bpm.diskManager.Close(); err != nil {
		errs = errors.Join(errs, fmt.Errorf("close disk manager: %w", err))
	}
	bpm.logger.Info("buffer pool closed",
		zap.Uint64("hits", bpm.hits),
		zap.Uint64("misses", bpm.misses),
		zap.Uint64("evictions", bpm.evictions),
		zap.Uint64("flushes", bpm.flushes),
	)
	return errs
}

func (bpm *BufferPoolManager) checkAllUnpinnedInternal() bool {
	for _, p := range bpm.pages {
		if p.GetPinCount() != 0 {
			return false
		}
	}
	return true
}

// allocateFreshInternal allocates a page id on disk that no pinned frame holds.
// Ids freed on disk behind the pool's back may still be cached: an unpinned
// stale copy is dropped, a pinned one keeps its id allocated and the next id is
// tried. It must be called with bpm.mu held.
func (bpm *BufferPoolManager) allocateFreshInternal() page.PageID {
	for {
		pageID := bpm.diskManager.AllocatePage()
		if pageID == page.InvalidPageID {
			return pageID
		}
		frameID, ok := bpm.pageTable[pageID]
		if !ok {
			return pageID
		}
		if bpm.pages[frameID].GetPinCount() == 0 {
			bpm.releaseFrameInternal(pageID, frameID)
			return pageID
		}
		bpm.logger.Warn("allocated page is pinned in the pool, keeping it allocated",
			zap.Int32("page_id", int32(pageID)),
			zap.Int("frame", int(frameID)),
		)
	}
}

// releaseFrameInternal unbinds an unpinned frame and returns it to the free
// list. It must be called with bpm.mu held.
func (bpm *BufferPoolManager) releaseFrameInternal(pageID page.PageID, frameID replacer.FrameID) {
	bpm.pages[frameID].Reset()
	// The frame goes back to the free list, so the replacer must stop offering it.
	bpm.replacer.Pin(frameID)
	bpm.freeList.PushBack(frameID)
	delete(bpm.pageTable, pageID)
}

// pinInternal must be called with bpm.mu held.
func (bpm *BufferPoolManager) pinInternal(frameID replacer.FrameID, p *page.Page) {
	if p.GetPinCount() == 0 {
		bpm.metrics.PinnedDelta(1)
	}
	p.Pin()
	bpm.replacer.Pin(frameID)
}

// acquireFrameInternal returns an unbound frame, taking the free list first and
// evicting a replacer victim otherwise. A dirty victim is written back; a
// failed write is logged and the frame is reused anyway.
// This method MUST be called with bpm.mu held.
func (bpm *BufferPoolManager) acquireFrameInternal() (replacer.FrameID, bool) {
	if e := bpm.freeList.Front(); e != nil {
		bpm.freeList.Remove(e)
		return e.Value.(replacer.FrameID), true
	}

	frameID, ok := bpm.replacer.Victim()
	if !ok {
		return 0, false
	}

	victim := bpm.pages[frameID]
	if victimID := victim.GetPageID(); victimID != page.InvalidPageID {
		if victim.IsDirty() {
			bpm.logger.Debug("flushing dirty victim",
				zap.Int32("page_id", int32(victimID)),
				zap.Int("frame", int(frameID)),
			)
			if err := bpm.diskManager.WritePage(victimID, victim.GetData()); err != nil {
				bpm.logger.Error("write back of victim failed",
					zap.Int32("page_id", int32(victimID)),
					zap.Error(err),
				)
			} else {
				bpm.flushes++
				bpm.metrics.Flush()
				bpm.metrics.DiskWrite()
			}
		}
		if bound, ok := bpm.pageTable[victimID]; ok && bound == frameID {
			delete(bpm.pageTable, victimID)
		}
		bpm.evictions++
		bpm.metrics.Evict()
		bpm.logger.Debug("evicted page",
			zap.Int32("page_id", int32(victimID)),
			zap.Int("frame", int(frameID)),
		)
	}
	victim.Reset()
	return frameID, true
}
