package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maponyatp/macscp/internal/queue"
	"github.com/maponyatp/macscp/internal/xfs"
)

type fakeEnqueuer struct {
	mu    sync.Mutex
	specs []queue.Spec
}

func (f *fakeEnqueuer) Add(ctx context.Context, spec queue.Spec) *queue.Task {
	f.mu.Lock()
	f.specs = append(f.specs, spec)
	f.mu.Unlock()
	return &queue.Task{}
}

func (f *fakeEnqueuer) snapshot() []queue.Spec {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]queue.Spec, len(f.specs))
	copy(out, f.specs)
	return out
}

func TestStartStopActive(t *testing.T) {
	dir := t.TempDir()
	enq := &fakeEnqueuer{}
	w := New(enq)
	require.NoError(t, w.Start(context.Background(), dir, "/remote"))
	assert.True(t, w.Active(dir))
	w.Stop(dir)
	assert.False(t, w.Active(dir))
}

func TestWriteEnqueuesAfterSettle(t *testing.T) {
	dir := t.TempDir()
	enq := &fakeEnqueuer{}
	w := New(enq)
	require.NoError(t, w.Start(context.Background(), dir, "/remote"))
	defer w.Stop(dir)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("hello"), 0o644))

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if len(enq.snapshot()) > 0 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	specs := enq.snapshot()
	require.Len(t, specs, 1)
	assert.Equal(t, xfs.Upload, specs[0].Direction)
	assert.Equal(t, "/remote/a.txt", specs[0].RemotePath)
}

func TestDotfilesAreIgnored(t *testing.T) {
	dir := t.TempDir()
	enq := &fakeEnqueuer{}
	w := New(enq)
	require.NoError(t, w.Start(context.Background(), dir, "/remote"))
	defer w.Stop(dir)

	require.NoError(t, os.WriteFile(filepath.Join(dir, ".hidden"), []byte("x"), 0o644))
	time.Sleep(1500 * time.Millisecond)
	assert.Empty(t, enq.snapshot())
}
