package common

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCopyThrottled(t *testing.T) {
	payload := bytes.Repeat([]byte("pagedb"), 300_000) // spans more than one chunk
	want := sha256.Sum256(payload)

	tests := []struct {
		name string
		rate int64
	}{
		{"Unlimited", 0},
		{"Throttled", 64 * 1024 * 1024},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dst := filepath.Join(t.TempDir(), "nested", "copy.db")

			sum, err := CopyThrottled(context.Background(), bytes.NewReader(payload), dst, tt.rate)
			require.NoError(t, err)
			assert.Equal(t, hex.EncodeToString(want[:]), sum)

			got, err := os.ReadFile(dst)
			require.NoError(t, err)
			assert.True(t, bytes.Equal(payload, got))
		})
	}
}

func TestCopyThrottledCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	dst := filepath.Join(t.TempDir(), "copy.db")
	_, err := CopyThrottled(ctx, bytes.NewReader(make([]byte, 4096)), dst, 1024)
	assert.Error(t, err)
}

func TestCopyThrottledRejectsSourceFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "live.db")
	payload := bytes.Repeat([]byte{0x5a}, 8192)
	require.NoError(t, os.WriteFile(path, payload, 0644))

	src, err := os.Open(path)
	require.NoError(t, err)
	defer src.Close()

	_, err = CopyThrottled(context.Background(), src, path, 0)
	assert.ErrorIs(t, err, ErrSameFile)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, payload, got, "source left intact")
}

func TestCopyThrottledFailureKeepsExistingDst(t *testing.T) {
	dir := t.TempDir()
	dst := filepath.Join(dir, "copy.db")
	require.NoError(t, os.WriteFile(dst, []byte("previous backup"), 0644))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := CopyThrottled(ctx, bytes.NewReader(make([]byte, 4096)), dst, 1024)
	require.Error(t, err)

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "previous backup", string(got))
	assert.NoFileExists(t, dst+".tmp")
}
