package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/sushant-115/pagedb/core/storage_engine/buffer"
	"github.com/sushant-115/pagedb/core/storage_engine/disk"
	"github.com/sushant-115/pagedb/core/storage_engine/page"
)

const defaultReadLen = 64

var errUsage = errors.New("usage")

// shell runs CLI commands against one buffer pool.
type shell struct {
	bpm        *buffer.BufferPoolManager
	dm         *disk.DiskManager
	tracer     trace.Tracer
	logger     *zap.Logger
	out        io.Writer
	backupRate int64
}

var commandNames = []string{
	"new", "fetch", "unpin", "write", "read", "flush", "flushall", "delete",
	"free", "alloc", "dealloc", "stats", "pinned", "backup", "help", "exit", "quit",
}

// execute runs one command inside its own span and reports whether the shell
// should stop.
func (s *shell) execute(ctx context.Context, args []string) (quit bool) {
	if len(args) == 0 {
		return false
	}
	command := strings.ToLower(args[0])

	ctx, span := s.tracer.Start(ctx, "cli."+command,
		trace.WithAttributes(attribute.StringSlice("cli.args", args[1:])))
	defer span.End()

	quit, err := s.dispatch(ctx, command, args[1:])
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Debug("command failed", zap.String("command", command), zap.Error(err))
		fmt.Fprintf(s.out, "Error: %v\n", err)
	}
	return quit
}

func (s *shell) dispatch(ctx context.Context, command string, args []string) (bool, error) {
	switch command {
	case "new":
		_, id, err := s.bpm.NewPage()
		if err != nil {
			return false, err
		}
		fmt.Fprintf(s.out, "page %d created (pinned)\n", id)
	case "fetch":
		id, err := pageArg(args, 0, "fetch <id>")
		if err != nil {
			return false, err
		}
		p, err := s.bpm.FetchPage(id)
		if err != nil {
			return false, err
		}
		fmt.Fprintf(s.out, "page %d fetched, pin count %d\n", id, p.GetPinCount())
	case "unpin":
		id, err := pageArg(args, 0, "unpin <id> [dirty]")
		if err != nil {
			return false, err
		}
		dirty := len(args) > 1 && (args[1] == "dirty" || args[1] == "true")
		if err := s.bpm.UnpinPage(id, dirty); err != nil {
			return false, err
		}
		fmt.Fprintf(s.out, "page %d unpinned\n", id)
	case "write":
		return false, s.write(args)
	case "read":
		return false, s.read(args)
	case "flush":
		id, err := pageArg(args, 0, "flush <id>")
		if err != nil {
			return false, err
		}
		if err := s.bpm.FlushPage(id); err != nil {
			return false, err
		}
		fmt.Fprintf(s.out, "page %d flushed\n", id)
	case "flushall":
		if err := s.bpm.FlushAllPages(); err != nil {
			return false, err
		}
		fmt.Fprintln(s.out, "all resident pages flushed")
	case "delete":
		id, err := pageArg(args, 0, "delete <id>")
		if err != nil {
			return false, err
		}
		if err := s.bpm.DeletePage(id); err != nil {
			return false, err
		}
		fmt.Fprintf(s.out, "page %d deleted\n", id)
	case "free":
		id, err := pageArg(args, 0, "free <id>")
		if err != nil {
			return false, err
		}
		fmt.Fprintf(s.out, "page %d free: %t\n", id, s.bpm.IsPageFree(id))
	case "alloc":
		id := s.bpm.AllocatePage()
		if id == page.InvalidPageID {
			return false, buffer.ErrOutOfSpace
		}
		fmt.Fprintf(s.out, "page %d allocated\n", id)
	case "dealloc":
		id, err := pageArg(args, 0, "dealloc <id>")
		if err != nil {
			return false, err
		}
		s.bpm.DeallocatePage(id)
		fmt.Fprintf(s.out, "page %d deallocated\n", id)
	case "stats":
		s.printStats()
	case "pinned":
		if s.bpm.CheckAllUnpinned() {
			fmt.Fprintln(s.out, "no pinned pages")
			break
		}
		for id, n := range s.bpm.PinnedPages() {
			fmt.Fprintf(s.out, "page %d pin count %d\n", id, n)
		}
	case "backup":
		if len(args) < 1 {
			return false, fmt.Errorf("%w: backup <dst>", errUsage)
		}
		if err := s.bpm.FlushAllPages(); err != nil {
			return false, err
		}
		sum, err := s.dm.Backup(ctx, args[0], s.backupRate)
		if err != nil {
			return false, err
		}
		fmt.Fprintf(s.out, "backup written to %s sha256=%s\n", args[0], sum)
	case "help":
		s.printHelp()
	case "exit", "quit":
		fmt.Fprintln(s.out, "Exiting pagedb CLI.")
		return true, nil
	default:
		return false, fmt.Errorf("unknown command %q, type 'help' for a list of commands", command)
	}
	return false, nil
}

// write fetches the page, copies text at offset under the write latch and
// unpins it dirty.
func (s *shell) write(args []string) error {
	const usage = "write <id> <offset> <text>"
	id, err := pageArg(args, 0, usage)
	if err != nil {
		return err
	}
	if len(args) < 3 {
		return fmt.Errorf("%w: %s", errUsage, usage)
	}
	offset, err := strconv.Atoi(args[1])
	if err != nil || offset < 0 || offset >= page.PageSize {
		return fmt.Errorf("%w: offset must be in [0, %d)", errUsage, page.PageSize)
	}
	text := strings.Join(args[2:], " ")

	p, err := s.bpm.FetchPage(id)
	if err != nil {
		return err
	}
	p.WLock()
	n := copy(p.GetData()[offset:], text)
	p.WUnlock()
	if err := s.bpm.UnpinPage(id, true); err != nil {
		return err
	}
	fmt.Fprintf(s.out, "wrote %d bytes to page %d at offset %d\n", n, id, offset)
	return nil
}

// read prints the first n bytes of the page under the read latch.
func (s *shell) read(args []string) error {
	id, err := pageArg(args, 0, "read <id> [n]")
	if err != nil {
		return err
	}
	n := defaultReadLen
	if len(args) > 1 {
		n, err = strconv.Atoi(args[1])
		if err != nil || n <= 0 {
			return fmt.Errorf("%w: n must be a positive integer", errUsage)
		}
	}
	n = min(n, page.PageSize)

	p, err := s.bpm.FetchPage(id)
	if err != nil {
		return err
	}
	p.RLock()
	data := strings.TrimRight(string(p.GetData()[:n]), "\x00")
	p.RUnlock()
	if err := s.bpm.UnpinPage(id, false); err != nil {
		return err
	}
	fmt.Fprintf(s.out, "page %d: %q\n", id, data)
	return nil
}

func (s *shell) printStats() {
	st := s.bpm.Stats()
	fmt.Fprintf(s.out, "pool size:       %d\n", st.PoolSize)
	fmt.Fprintf(s.out, "resident:        %d\n", st.Resident)
	fmt.Fprintf(s.out, "free frames:     %d\n", st.FreeFrames)
	fmt.Fprintf(s.out, "evictable:       %d\n", st.Evictable)
	fmt.Fprintf(s.out, "pinned:          %d\n", st.Pinned)
	fmt.Fprintf(s.out, "hits/misses:     %d/%d (%.2f)\n", st.Hits, st.Misses, st.HitRatio())
	fmt.Fprintf(s.out, "evictions:       %d\n", st.Evictions)
	fmt.Fprintf(s.out, "flushes:         %d\n", st.Flushes)
	fmt.Fprintf(s.out, "allocated pages: %d\n", s.dm.AllocatedPages())
	fmt.Fprintf(s.out, "extents:         %d\n", s.dm.ExtentCount())
}

func (s *shell) printHelp() {
	fmt.Fprintln(s.out, "Commands:")
	fmt.Fprintln(s.out, "  new")
	fmt.Fprintln(s.out, "  fetch <id>")
	fmt.Fprintln(s.out, "  unpin <id> [dirty]")
	fmt.Fprintln(s.out, "  write <id> <offset> <text>")
	fmt.Fprintln(s.out, "  read <id> [n]")
	fmt.Fprintln(s.out, "  flush <id>")
	fmt.Fprintln(s.out, "  flushall")
	fmt.Fprintln(s.out, "  delete <id>")
	fmt.Fprintln(s.out, "  free <id>")
	fmt.Fprintln(s.out, "  alloc")
	fmt.Fprintln(s.out, "  dealloc <id>")
	fmt.Fprintln(s.out, "  stats")
	fmt.Fprintln(s.out, "  pinned")
	fmt.Fprintln(s.out, "  backup <dst>")
	fmt.Fprintln(s.out, "  help")
	fmt.Fprintln(s.out, "  exit / quit")
}

func pageArg(args []string, i int, usage string) (page.PageID, error) {
	if len(args) <= i {
		return page.InvalidPageID, fmt.Errorf("%w: %s", errUsage, usage)
	}
	v, err := strconv.ParseInt(args[i], 10, 32)
	if err != nil {
		return page.InvalidPageID, fmt.Errorf("%w: %s: bad page id %q", errUsage, usage, args[i])
	}
	return page.PageID(v), nil
}
