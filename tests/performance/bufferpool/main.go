package main

import (
	"errors"
	"flag"
	"log"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/sushant-115/pagedb/core/storage_engine/buffer"
	"github.com/sushant-115/pagedb/core/storage_engine/disk"
	"github.com/sushant-115/pagedb/core/storage_engine/page"
	"github.com/sushant-115/pagedb/core/storage_engine/replacer"
	"github.com/sushant-115/pagedb/pkg/logger"
)

func main() {
	baseDataDir := flag.String("dir", filepath.Join(os.TempDir(), "pagedb-perf"), "scratch directory")
	poolSize := flag.Int("pool", 64, "buffer pool frames")
	numPages := flag.Int("pages", 1024, "pages in the working set")
	ops := flag.Int("ops", 200000, "fetch/unpin pairs per policy")
	maxWorkers := flag.Int("workers", 16, "concurrent workers")
	flag.Parse()

	zlogger, err := logger.New(logger.Config{Level: "error"})
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer zlogger.Sync()

	for _, policy := range []string{replacer.PolicyLRU, replacer.PolicyClock} {
		dbPath := filepath.Join(*baseDataDir, policy+".db")
		_ = os.Remove(dbPath)
		if err := runPolicy(dbPath, policy, *poolSize, *numPages, *ops, *maxWorkers, zlogger.Named("perf_"+policy)); err != nil {
			log.Fatalf("%s: %v", policy, err)
		}
	}
}

func runPolicy(dbPath, policy string, poolSize, numPages, ops, maxWorkers int, zlogger *zap.Logger) error {
	dm, err := disk.NewDiskManager(dbPath, zlogger)
	if err != nil {
		return err
	}
	bpm, err := buffer.NewBufferPoolManager(poolSize, dm,
		buffer.WithReplacerPolicy(policy),
		buffer.WithLogger(zlogger),
	)
	if err != nil {
		dm.Close()
		return err
	}
	defer bpm.Close()

	ids := make([]page.PageID, 0, numPages)
	for i := 0; i < numPages; i++ {
		p, id, err := bpm.NewPage()
		if err != nil {
			return err
		}
		p.WLock()
		copy(p.GetData(), []byte{byte(id), byte(id >> 8)})
		p.WUnlock()
		if err := bpm.UnpinPage(id, true); err != nil {
			return err
		}
		ids = append(ids, id)
	}

	// 80% of accesses land on the hottest 20% of pages.
	hot := max(1, numPages/5)
	pick := func(r *rand.Rand) page.PageID {
		if r.IntN(10) < 8 {
			return ids[r.IntN(hot)]
		}
		return ids[r.IntN(numPages)]
	}

	var poolFull, mismatches atomic.Int64
	wg := sync.WaitGroup{}
	sem := make(chan struct{}, maxWorkers)
	start := time.Now()
	for i := 0; i < ops; i++ {
		sem <- struct{}{}
		wg.Add(1)
		go func(seed uint64) {
			defer wg.Done()
			defer func() { <-sem }()
			r := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
			id := pick(r)
			p, err := bpm.FetchPage(id)
			if errors.Is(err, buffer.ErrBufferPoolFull) {
				poolFull.Add(1)
				return
			}
			if err != nil {
				zlogger.Error("fetch failed", zap.Int32("page_id", int32(id)), zap.Error(err))
				return
			}
			p.RLock()
			if p.GetData()[0] != byte(id) || p.GetData()[1] != byte(id>>8) {
				mismatches.Add(1)
			}
			p.RUnlock()
			if err := bpm.UnpinPage(id, false); err != nil {
				zlogger.Error("unpin failed", zap.Int32("page_id", int32(id)), zap.Error(err))
			}
		}(uint64(i))
	}
	wg.Wait()
	elapsed := time.Since(start)

	st := bpm.Stats()
	log.Printf("policy=%s pool=%d pages=%d ops=%d elapsed=%s ops/s=%.0f hit_ratio=%.3f evictions=%d flushes=%d pool_full=%d mismatches=%d",
		policy, poolSize, numPages, ops, elapsed, float64(ops)/elapsed.Seconds(),
		st.HitRatio(), st.Evictions, st.Flushes, poolFull.Load(), mismatches.Load())
	if !bpm.CheckAllUnpinned() {
		return errors.New("pages left pinned after run")
	}
	return nil
}
