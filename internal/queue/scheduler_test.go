package queue

import (
	"context"
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
	mu         sync.Mutex
	active     int32
	maxActive  int32
	failNTimes int
	attempts   map[string]int
	block      chan struct{} // if non-nil, transfers wait on this before completing
	cancelHook func(cancel *xfs.CancelToken)
}

func newFakeXfer() *fakeXfer {
	return &fakeXfer{attempts: map[string]int{}}
}

func (f *fakeXfer) run(remote string, cancel *xfs.CancelToken, progress xfs.ProgressFunc) error {
	n := atomic.AddInt32(&f.active, 1)
	defer atomic.AddInt32(&f.active, -1)
	for {
		cur := atomic.LoadInt32(&f.maxActive)
		if n <= cur {
			break
		}
		if atomic.CompareAndSwapInt32(&f.maxActive, cur, n) {
			break
		}
	}
	if f.cancelHook != nil {
		f.cancelHook(cancel)
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-cancel.Done():
			return xfs.ErrCancelled
		}
	}
	select {
	case <-cancel.Done():
		return xfs.ErrCancelled
	default:
	}
	f.mu.Lock()
	f.attempts[remote]++
	attempt := f.attempts[remote]
	f.mu.Unlock()
	if attempt <= f.failNTimes {
		return xfs.New(xfs.KindNetworkDropped, "injected failure", nil)
	}
	progress(100, 100, 100, false)
	return nil
}

func (f *fakeXfer) GetWithProgress(ctx context.Context, remotePath, localPath string, offset int64, cancel *xfs.CancelToken, progress xfs.ProgressFunc) error {
	return f.run(remotePath, cancel, progress)
}

func (f *fakeXfer) PutWithProgress(ctx context.Context, localPath, remotePath string, offset int64, cancel *xfs.CancelToken, progress xfs.ProgressFunc) error {
	return f.run(remotePath, cancel, progress)
}

func waitForStatus(t *testing.T, q *Queue, id string, status Status) *Task {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, task := range q.Snapshot() {
			if task.ID == id && task.Status == status {
				tc := task
				return &tc
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("task %s never reached status %s", id, status)
	return nil
}

func TestAddPromotesAndCompletes(t *testing.T) {
	xfer := newFakeXfer()
	q, err := New(filepath.Join(t.TempDir(), "transfers.json"), xfer)
	require.NoError(t, err)

	task := q.Add(context.Background(), Spec{Direction: xfs.Upload, RemotePath: "/a"})
	waitForStatus(t, q, task.ID, StatusCompleted)
}

func TestConcurrencyCapped(t *testing.T) {
	xfer := newFakeXfer()
	xfer.block = make(chan struct{})
	q, err := New(filepath.Join(t.TempDir(), "transfers.json"), xfer)
	require.NoError(t, err)

	var ids []string
	for i := 0; i < 10; i++ {
		task := q.Add(context.Background(), Spec{Direction: xfs.Upload, RemotePath: "r"})
		ids = append(ids, task.ID)
	}
	time.Sleep(100 * time.Millisecond)
	assert.LessOrEqual(t, int(atomic.LoadInt32(&xfer.active)), MaxConcurrent)
	close(xfer.block)
	for _, id := range ids {
		waitForStatus(t, q, id, StatusCompleted)
	}
	assert.Equal(t, int32(MaxConcurrent), atomic.LoadInt32(&xfer.maxActive))
}

func TestRetryOnTransientFailure(t *testing.T) {
	xfer := newFakeXfer()
	xfer.failNTimes = 1
	q, err := New(filepath.Join(t.TempDir(), "transfers.json"), xfer)
	require.NoError(t, err)

	task := q.Add(context.Background(), Spec{Direction: xfs.Download, RemotePath: "/flaky"})
	final := waitForStatus(t, q, task.ID, StatusCompleted)
	assert.Equal(t, 1, final.RetryCount)
}

func TestRetriesExceededMarksFailed(t *testing.T) {
	xfer := newFakeXfer()
	xfer.failNTimes = MaxRetries + 1
	q, err := New(filepath.Join(t.TempDir(), "transfers.json"), xfer)
	require.NoError(t, err)

	task := q.Add(context.Background(), Spec{Direction: xfs.Download, RemotePath: "/doomed"})
	final := waitForStatus(t, q, task.ID, StatusFailed)
	assert.Equal(t, MaxRetries+1, final.RetryCount)
	assert.Contains(t, final.Error, "injected failure")
}

func TestCancelStopsTaskImmediately(t *testing.T) {
	xfer := newFakeXfer()
	xfer.block = make(chan struct{})
	q, err := New(filepath.Join(t.TempDir(), "transfers.json"), xfer)
	require.NoError(t, err)

	task := q.Add(context.Background(), Spec{Direction: xfs.Upload, RemotePath: "/cancel-me"})
	waitForActive(t, q, task.ID)
	q.Cancel(task.ID)
	waitForStatus(t, q, task.ID, StatusCancelled)
}

func waitForActive(t *testing.T, q *Queue, id string) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		for _, task := range q.Snapshot() {
			if task.ID == id && task.Status == StatusActive {
				return
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("task %s never became active", id)
}

func TestStartupRecoveryMarksActiveAndPendingInterrupted(t *testing.T) {
	dir := t.TempDir()
	statePath := filepath.Join(dir, "transfers.json")
	seed := newStore(statePath)
	require.NoError(t, seed.save([]*Task{
		{ID: "a", Status: StatusActive, Transferred: 30},
		{ID: "b", Status: StatusPending},
		{ID: "c", Status: StatusCompleted},
	}))

	xfer := newFakeXfer()
	xfer.block = make(chan struct{})
	q, err := New(statePath, xfer)
	require.NoError(t, err)

	snap := q.Snapshot()
	byID := map[string]Task{}
	for _, t := range snap {
		byID[t.ID] = t
	}
	assert.Equal(t, StatusInterrupted, byID["a"].Status)
	assert.Equal(t, StatusInterrupted, byID["b"].Status)
	assert.Equal(t, StatusCompleted, byID["c"].Status)
}

func TestRetryAllRequeuesCancelledTask(t *testing.T) {
	xfer := newFakeXfer()
	xfer.block = make(chan struct{})
	q, err := New(filepath.Join(t.TempDir(), "transfers.json"), xfer)
	require.NoError(t, err)

	t1 := q.Add(context.Background(), Spec{Direction: xfs.Upload, RemotePath: "/1"})
	waitForActive(t, q, t1.ID)
	q.Cancel(t1.ID)
	waitForStatus(t, q, t1.ID, StatusCancelled)

	close(xfer.block)
	q.RetryAll(context.Background())
	waitForStatus(t, q, t1.ID, StatusCompleted)
}
