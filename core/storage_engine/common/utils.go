package common

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/time/rate"
)

// chunkSize: size of each read/write chunk
const chunkSize = 1024 * 1024 // 1 MiB

var bufPool = sync.Pool{
	New: func() interface{} { return make([]byte, chunkSize) },
}

// ErrSameFile is returned when the copy destination is the source file itself.
var ErrSameFile = errors.New("copy destination is the source file")

// CopyThrottled copies src into dstPath, limited to rateBytesPerSec (0 or less
// means unlimited). It returns the hex sha256 of the copied bytes. The copy is
// written to dstPath+".tmp" and renamed into place, so an existing dstPath is
// only replaced once the copy is complete. When src is a file, copying it onto
// itself fails with ErrSameFile.
func CopyThrottled(ctx context.Context, src io.ReaderAt, dstPath string, rateBytesPerSec int64) (string, error) {
	if err := checkNotSameFile(src, dstPath); err != nil {
		return "", err
	}
	if dir := filepath.Dir(dstPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return "", fmt.Errorf("create dst dir: %w", err)
		}
	}
	tmpPath := dstPath + ".tmp"
	dst, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return "", fmt.Errorf("open dst: %w", err)
	}

	sum, err := copyChunks(ctx, src, dst, rateBytesPerSec)
	if err == nil {
		if serr := dst.Sync(); serr != nil {
			err = fmt.Errorf("sync error: %w", serr)
		}
	}
	if cerr := dst.Close(); cerr != nil {
		err = errors.Join(err, fmt.Errorf("close dst: %w", cerr))
	}
	if err != nil {
		_ = os.Remove(tmpPath)
		return "", err
	}
	if err := os.Rename(tmpPath, dstPath); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("rename into place: %w", err)
	}
	return sum, nil
}

func checkNotSameFile(src io.ReaderAt, dstPath string) error {
	f, ok := src.(interface{ Stat() (os.FileInfo, error) })
	if !ok {
		return nil
	}
	dstInfo, err := os.Stat(dstPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("stat dst: %w", err)
	}
	srcInfo, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat src: %w", err)
	}
	if os.SameFile(srcInfo, dstInfo) {
		return fmt.Errorf("%w: %s", ErrSameFile, dstPath)
	}
	return nil
}

func copyChunks(ctx context.Context, src io.ReaderAt, dst io.Writer, rateBytesPerSec int64) (string, error) {
	var limiter *rate.Limiter
	if rateBytesPerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(rateBytesPerSec), chunkSize) // burst = chunkSize
	}

	sum := sha256.New()
	buf := bufPool.Get().([]byte)
	defer bufPool.Put(buf)

	var readOff int64
	for {
		n, rerr := src.ReadAt(buf[:chunkSize], readOff)
		if n > 0 {
			if limiter != nil {
				if err := limiter.WaitN(ctx, n); err != nil {
					return "", fmt.Errorf("rate limiter error: %w", err)
				}
			}
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return "", fmt.Errorf("write error: %w", werr)
			}
			sum.Write(buf[:n])
			readOff += int64(n)
		}

		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				break
			}
			return "", fmt.Errorf("read error: %w", rerr)
		}
	}
	return hex.EncodeToString(sum.Sum(nil)), nil
}
