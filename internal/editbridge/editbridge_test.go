package editbridge

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maponyatp/macscp/internal/xfs"
)

type fakeXfer struct {
	mu        sync.Mutex
	uploads   int32
	blockChan chan struct{}
	content   map[string][]byte
}

func newFakeXfer() *fakeXfer {
	return &fakeXfer{content: map[string][]byte{}}
}

func (f *fakeXfer) Get(ctx context.Context, remotePath, localPath string, cancel *xfs.CancelToken) error {
	return os.WriteFile(localPath, []byte("remote content"), 0o644)
}

func (f *fakeXfer) Put(ctx context.Context, localPath, remotePath string, cancel *xfs.CancelToken) error {
	if f.blockChan != nil {
		<-f.blockChan
	}
	atomic.AddInt32(&f.uploads, 1)
	return nil
}

func TestOpenDownloadsAndWatches(t *testing.T) {
	xfer := newFakeXfer()
	b := New(xfer)
	local, err := b.Open(context.Background(), "/remote/file.txt")
	require.NoError(t, err)
	defer b.Close("/remote/file.txt")

	data, err := os.ReadFile(local)
	require.NoError(t, err)
	assert.Equal(t, "remote content", string(data))
	assert.Equal(t, filepath.Base(local), "file.txt")
}

func TestWriteTriggersDebouncedUpload(t *testing.T) {
	xfer := newFakeXfer()
	b := New(xfer)
	local, err := b.Open(context.Background(), "/remote/file.txt")
	require.NoError(t, err)
	defer b.Close("/remote/file.txt")

	events, unsub := b.Subscribe()
	defer unsub()

	require.NoError(t, os.WriteFile(local, []byte("edited"), 0o644))

	select {
	case ev := <-events:
		assert.Equal(t, StatusUploaded, ev.Status)
	case <-time.After(2 * time.Second):
		t.Fatal("no edit-status event received")
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&xfer.uploads))
}

func TestOverlappingWritesCoalesceIntoOneFollowUp(t *testing.T) {
	xfer := newFakeXfer()
	xfer.blockChan = make(chan struct{})
	b := New(xfer)
	local, err := b.Open(context.Background(), "/remote/file.txt")
	require.NoError(t, err)
	defer b.Close("/remote/file.txt")

	b.mu.Lock()
	s := b.sessions["/remote/file.txt"]
	b.mu.Unlock()

	// Simulate an upload already in flight, then two more settled
	// writes arriving while it's running.
	s.mu.Lock()
	s.uploading = true
	s.mu.Unlock()

	b.tryUpload(context.Background(), s)
	b.tryUpload(context.Background(), s)

	s.mu.Lock()
	s.uploading = false
	s.mu.Unlock()
	go b.tryUpload(context.Background(), s)

	time.Sleep(50 * time.Millisecond)
	close(xfer.blockChan)
	time.Sleep(200 * time.Millisecond)

	assert.LessOrEqual(t, int32(1), atomic.LoadInt32(&xfer.uploads))
	_ = local
}
