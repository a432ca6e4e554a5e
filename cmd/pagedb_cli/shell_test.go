package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"

	"github.com/sushant-115/pagedb/core/storage_engine/buffer"
	"github.com/sushant-115/pagedb/core/storage_engine/disk"
)

func setupShell(t *testing.T) (*shell, *bytes.Buffer, *tracetest.SpanRecorder) {
	t.Helper()
	dm, err := disk.NewDiskManager(filepath.Join(t.TempDir(), "cli.db"), zap.NewNop())
	require.NoError(t, err)
	bpm, err := buffer.NewBufferPoolManager(2, dm)
	require.NoError(t, err)
	t.Cleanup(func() { _ = bpm.Close() })

	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	out := &bytes.Buffer{}
	return &shell{
		bpm:    bpm,
		dm:     dm,
		tracer: provider.Tracer("test"),
		logger: zap.NewNop(),
		out:    out,
	}, out, recorder
}

func run1(sh *shell, out *bytes.Buffer, line string) string {
	out.Reset()
	sh.execute(context.Background(), strings.Fields(line))
	return out.String()
}

func TestShellPageLifecycle(t *testing.T) {
	sh, out, _ := setupShell(t)

	assert.Equal(t, "page 0 created (pinned)\n", run1(sh, out, "new"))
	assert.Equal(t, "page 0 unpinned\n", run1(sh, out, "unpin 0"))
	assert.Contains(t, run1(sh, out, "write 0 0 hello pagedb"), "wrote 12 bytes")
	assert.Equal(t, "page 0: \"hello pagedb\"\n", run1(sh, out, "read 0"))
	assert.Equal(t, "page 0: \"hello\"\n", run1(sh, out, "read 0 5"))
	assert.Equal(t, "page 0 flushed\n", run1(sh, out, "flush 0"))
	assert.Equal(t, "no pinned pages\n", run1(sh, out, "pinned"))

	assert.Equal(t, "page 0 fetched, pin count 1\n", run1(sh, out, "fetch 0"))
	assert.Equal(t, "page 0 pin count 1\n", run1(sh, out, "pinned"))
	assert.Contains(t, run1(sh, out, "delete 0"), "pinned")
	run1(sh, out, "unpin 0 dirty")
	assert.Equal(t, "page 0 deleted\n", run1(sh, out, "delete 0"))
	assert.Equal(t, "page 0 free: true\n", run1(sh, out, "free 0"))

	assert.Equal(t, "page 0 allocated\n", run1(sh, out, "alloc"))
	assert.Equal(t, "page 0 deallocated\n", run1(sh, out, "dealloc 0"))

	stats := run1(sh, out, "stats")
	assert.Contains(t, stats, "pool size:       2")
	assert.Contains(t, stats, "extents:         1")
}

func TestShellBackup(t *testing.T) {
	sh, out, _ := setupShell(t)
	run1(sh, out, "new")
	run1(sh, out, "unpin 0 dirty")

	dst := filepath.Join(t.TempDir(), "backup.db")
	assert.Contains(t, run1(sh, out, "backup "+dst), "sha256=")

	assert.Contains(t, run1(sh, out, "backup "+sh.dm.FilePath()), "source file")
	assert.Equal(t, "page 0 free: false\n", run1(sh, out, "free 0"))
}

func TestShellErrorsAreTraced(t *testing.T) {
	sh, out, recorder := setupShell(t)

	assert.Contains(t, run1(sh, out, "fetch"), "usage")
	assert.Contains(t, run1(sh, out, "unpin 3"), "not found")
	assert.Contains(t, run1(sh, out, "bogus"), "unknown command")

	spans := recorder.Ended()
	require.Len(t, spans, 3)
	assert.Equal(t, "cli.fetch", spans[0].Name())
	for _, s := range spans {
		assert.Equal(t, codes.Error, s.Status().Code)
	}
}

func TestShellExit(t *testing.T) {
	sh, _, _ := setupShell(t)
	assert.True(t, sh.execute(context.Background(), []string{"exit"}))
	assert.False(t, sh.execute(context.Background(), []string{"help"}))
	assert.False(t, sh.execute(context.Background(), nil))
}
