// Package disk owns the single backing file: the meta page at physical page 0,
// one bitmap page per extent, and the extents' data pages.
package disk

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/sushant-115/pagedb/core/storage_engine/bitmap"
	"github.com/sushant-115/pagedb/core/storage_engine/common"
	"github.com/sushant-115/pagedb/core/storage_engine/page"
)

const metaPageID int64 = 0

// DiskManager maps logical page ids onto the extent layout, allocates and frees
// them through the extent bitmaps, and performs raw page I/O.
type DiskManager struct {
	filePath  string
	file      *os.File
	meta      *metaPage
	pageLimit uint32
	logger    *zap.Logger
	mu        sync.Mutex
}

// Option configures a DiskManager.
type Option func(*DiskManager)

// WithPageLimit lowers the allocation ceiling below MaxValidPageID.
// Zero keeps the layout maximum.
func WithPageLimit(n uint32) Option {
	return func(dm *DiskManager) {
		if n > 0 && n < MaxValidPageID {
			dm.pageLimit = n
		}
	}
}

// NewDiskManager opens filePath, creating it and its parent directories if needed,
// and loads the meta page. A new file starts with an all-zero meta page.
func NewDiskManager(filePath string, logger *zap.Logger, opts ...Option) (*DiskManager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	dm := &DiskManager{
		filePath:  filePath,
		pageLimit: MaxValidPageID,
		logger:    logger.Named("disk_manager"),
	}
	for _, opt := range opts {
		opt(dm)
	}

	if dir := filepath.Dir(filePath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("%w: creating directory %s: %v", ErrIO, dir, err)
		}
	}
	file, err := os.OpenFile(filePath, os.O_RDWR|os.O_CREATE, 0666)
	if err != nil {
		return nil, fmt.Errorf("%w: opening file %s: %v", ErrIO, filePath, err)
	}
	dm.file = file

	buf := make([]byte, page.PageSize)
	if err := dm.readPhysicalPage(metaPageID, buf); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to read meta page: %w", err)
	}
	dm.meta = decodeMetaPage(buf)

	dm.logger.Info("disk manager opened",
		zap.String("path", filePath),
		zap.Uint32("extents", dm.meta.numExtents),
		zap.Uint32("allocated_pages", dm.meta.numAllocatedPages),
		zap.Uint32("page_limit", dm.pageLimit),
	)
	return dm, nil
}

// MapPageID translates a logical page id into its physical page number.
func MapPageID(logicalPageID page.PageID) int64 {
	extentIndex := int64(logicalPageID) / bitmap.BitmapSize
	extentOffset := int64(logicalPageID) % bitmap.BitmapSize
	return 1 + extentIndex*(1+bitmap.BitmapSize) + extentOffset
}

func bitmapPhysicalID(extentIndex uint32) int64 {
	return 1 + int64(extentIndex)*(1+bitmap.BitmapSize)
}

// ReadPage reads a logical page into pageData. Pages past the end of the file
// read as zeroes.
func (dm *DiskManager) ReadPage(pageID page.PageID, pageData []byte) error {
	if err := checkPageArgs(pageID, pageData); err != nil {
		return err
	}
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if dm.file == nil {
		return ErrFileClosed
	}
	if err := dm.readPhysicalPage(MapPageID(pageID), pageData); err != nil {
		dm.logger.Error("read page failed", zap.Int32("page_id", int32(pageID)), zap.Error(err))
		return err
	}
	return nil
}

// WritePage writes pageData at the logical page's physical location.
func (dm *DiskManager) WritePage(pageID page.PageID, pageData []byte) error {
	if err := checkPageArgs(pageID, pageData); err != nil {
		return err
	}
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if dm.file == nil {
		return ErrFileClosed
	}
	if err := dm.writePhysicalPage(MapPageID(pageID), pageData); err != nil {
		dm.logger.Error("write page failed", zap.Int32("page_id", int32(pageID)), zap.Error(err))
		return err
	}
	return nil
}

func checkPageArgs(pageID page.PageID, pageData []byte) error {
	if pageID < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidPageID, pageID)
	}
	if len(pageData) != page.PageSize {
		return fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidBufSize, len(pageData), page.PageSize)
	}
	return nil
}

// AllocatePage hands out the first free logical page, scanning extents in order
// and growing the file by one extent when all are full. It returns
// page.InvalidPageID once the allocation ceiling is reached.
func (dm *DiskManager) AllocatePage() page.PageID {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	return dm.allocatePageInternal()
}

func (dm *DiskManager) allocatePageInternal() page.PageID {
	if dm.file == nil {
		dm.logger.Warn("allocate on closed file")
		return page.InvalidPageID
	}
	if dm.meta.numAllocatedPages >= dm.pageLimit {
		dm.logger.Debug("allocation ceiling reached", zap.Uint32("allocated_pages", dm.meta.numAllocatedPages))
		return page.InvalidPageID
	}

	buf := make([]byte, page.PageSize)
	for extentIndex := uint32(0); extentIndex < dm.meta.numExtents; extentIndex++ {
		if dm.meta.extentUsedPage[extentIndex] >= bitmap.BitmapSize {
			continue
		}
		bitmapID := bitmapPhysicalID(extentIndex)
		if err := dm.readPhysicalPage(bitmapID, buf); err != nil {
			dm.logger.Error("read bitmap failed", zap.Uint32("extent", extentIndex), zap.Error(err))
			return page.InvalidPageID
		}
		bp := bitmap.Decode(buf)
		offset, ok := bp.AllocatePage()
		if !ok {
			continue
		}
		bp.Encode(buf)
		if err := dm.writePhysicalPage(bitmapID, buf); err != nil {
			dm.logger.Error("write bitmap failed", zap.Uint32("extent", extentIndex), zap.Error(err))
			return page.InvalidPageID
		}
		dm.meta.numAllocatedPages++
		dm.meta.extentUsedPage[extentIndex]++
		dm.writeMetaInternal()
		return page.PageID(extentIndex*bitmap.BitmapSize + offset)
	}

	if dm.meta.numExtents >= MaxExtents {
		return page.InvalidPageID
	}
	return dm.newExtentInternal()
}

// newExtentInternal appends an extent and allocates its slot 0. The data pages
// are materialized as a zero-filled (sparse) tail of the file.
func (dm *DiskManager) newExtentInternal() page.PageID {
	extentIndex := dm.meta.numExtents
	bitmapID := bitmapPhysicalID(extentIndex)

	bp := bitmap.New()
	offset, _ := bp.AllocatePage()
	buf := make([]byte, page.PageSize)
	bp.Encode(buf)
	if err := dm.writePhysicalPage(bitmapID, buf); err != nil {
		dm.logger.Error("write new bitmap failed", zap.Uint32("extent", extentIndex), zap.Error(err))
		return page.InvalidPageID
	}

	extentEnd := (bitmapID + 1 + bitmap.BitmapSize) * page.PageSize
	if fi, err := dm.file.Stat(); err != nil {
		dm.logger.Error("stat failed", zap.Error(err))
	} else if fi.Size() < extentEnd {
		if err := dm.file.Truncate(extentEnd); err != nil {
			dm.logger.Error("extend file failed", zap.Int64("size", extentEnd), zap.Error(err))
		}
	}

	dm.meta.extentUsedPage[extentIndex] = 1
	dm.meta.numExtents++
	dm.meta.numAllocatedPages++
	dm.writeMetaInternal()

	dm.logger.Debug("extent created", zap.Uint32("extent", extentIndex))
	return page.PageID(extentIndex*bitmap.BitmapSize + offset)
}

// DeAllocatePage frees a logical page. Unknown extents and already free pages
// are ignored.
func (dm *DiskManager) DeAllocatePage(pageID page.PageID) {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	if dm.file == nil || pageID < 0 {
		return
	}
	extentIndex := uint32(pageID) / bitmap.BitmapSize
	extentOffset := uint32(pageID) % bitmap.BitmapSize
	if extentIndex >= dm.meta.numExtents {
		return
	}

	buf := make([]byte, page.PageSize)
	bitmapID := bitmapPhysicalID(extentIndex)
	if err := dm.readPhysicalPage(bitmapID, buf); err != nil {
		dm.logger.Error("read bitmap failed", zap.Uint32("extent", extentIndex), zap.Error(err))
		return
	}
	bp := bitmap.Decode(buf)
	if !bp.DeAllocatePage(extentOffset) {
		return
	}
	bp.Encode(buf)
	if err := dm.writePhysicalPage(bitmapID, buf); err != nil {
		dm.logger.Error("write bitmap failed", zap.Uint32("extent", extentIndex), zap.Error(err))
		return
	}
	dm.meta.numAllocatedPages--
	dm.meta.extentUsedPage[extentIndex]--
	dm.writeMetaInternal()
}

// IsPageFree reports whether a logical page is allocatable. Pages in extents
// that were never created do not exist and report false.
func (dm *DiskManager) IsPageFree(pageID page.PageID) bool {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	if dm.file == nil || pageID < 0 {
		return false
	}
	extentIndex := uint32(pageID) / bitmap.BitmapSize
	if extentIndex >= dm.meta.numExtents {
		return false
	}
	buf := make([]byte, page.PageSize)
	if err := dm.readPhysicalPage(bitmapPhysicalID(extentIndex), buf); err != nil {
		dm.logger.Error("read bitmap failed", zap.Uint32("extent", extentIndex), zap.Error(err))
		return false
	}
	return bitmap.Decode(buf).IsPageFree(uint32(pageID) % bitmap.BitmapSize)
}

// AllocatedPages returns the number of allocated logical pages.
func (dm *DiskManager) AllocatedPages() uint32 {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	return dm.meta.numAllocatedPages
}

// ExtentCount returns the number of extents in the file.
func (dm *DiskManager) ExtentCount() uint32 {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	return dm.meta.numExtents
}

func (dm *DiskManager) FilePath() string { return dm.filePath }

// Backup persists the meta page and copies the whole file to dstPath, throttled
// to rateBytesPerSec. Allocation and page I/O block until the copy finishes.
// It returns the sha256 of the copy. Backing up onto the database file itself
// fails with common.ErrSameFile.
func (dm *DiskManager) Backup(ctx context.Context, dstPath string, rateBytesPerSec int64) (string, error) {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if dm.file == nil {
		return "", ErrFileClosed
	}
	dm.writeMetaInternal()
	if err := dm.file.Sync(); err != nil {
		return "", fmt.Errorf("%w: sync before backup: %v", ErrIO, err)
	}
	sum, err := common.CopyThrottled(ctx, dm.file, dstPath, rateBytesPerSec)
	if err != nil {
		return "", fmt.Errorf("backup to %s: %w", dstPath, err)
	}
	dm.logger.Info("backup written", zap.String("dst", dstPath), zap.String("sha256", sum))
	return sum, nil
}

// Sync flushes all buffered data to disk.
func (dm *DiskManager) Sync() error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if dm.file != nil {
		return dm.file.Sync()
	}
	return nil
}

// Close persists the meta page and closes the file. It is safe to call twice.
func (dm *DiskManager) Close() error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if dm.file == nil {
		return nil
	}
	dm.writeMetaInternal()
	var err error
	if e := dm.file.Sync(); e != nil {
		err = errors.Join(err, fmt.Errorf("sync file: %w", e))
	}
	if e := dm.file.Close(); e != nil {
		err = errors.Join(err, fmt.Errorf("close file: %w", e))
	}
	dm.file = nil
	dm.logger.Info("disk manager closed", zap.String("path", dm.filePath))
	return err
}

func (dm *DiskManager) writeMetaInternal() {
	buf := make([]byte, page.PageSize)
	dm.meta.encode(buf)
	if err := dm.writePhysicalPage(metaPageID, buf); err != nil {
		dm.logger.Error("write meta page failed", zap.Error(err))
	}
}

// readPhysicalPage zero-fills whatever lies beyond the end of the file.
func (dm *DiskManager) readPhysicalPage(physicalID int64, pageData []byte) error {
	offset := physicalID * page.PageSize
	n, err := dm.file.ReadAt(pageData, offset)
	if err != nil {
		if errors.Is(err, io.EOF) {
			clear(pageData[n:])
			return nil
		}
		return fmt.Errorf("%w: reading physical page %d at offset %d: %v", ErrIO, physicalID, offset, err)
	}
	return nil
}

func (dm *DiskManager) writePhysicalPage(physicalID int64, pageData []byte) error {
	offset := physicalID * page.PageSize
	if _, err := dm.file.WriteAt(pageData, offset); err != nil {
		return fmt.Errorf("%w: writing physical page %d at offset %d: %v", ErrIO, physicalID, offset, err)
	}
	return nil
}
