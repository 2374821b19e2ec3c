package dispatch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maponyatp/macscp/internal/xfs"
)

type fakeBackend struct {
	protocol    xfs.Protocol
	connected   bool
	disconnects int
	listCalls   int
	stats       map[string]xfs.RemoteStat
	entries     map[string][]xfs.DirectoryEntry
}

func newFake(proto xfs.Protocol) *fakeBackend {
	return &fakeBackend{protocol: proto, stats: map[string]xfs.RemoteStat{}, entries: map[string][]xfs.DirectoryEntry{}}
}

func (f *fakeBackend) Protocol() xfs.Protocol { return f.protocol }
func (f *fakeBackend) Connect(ctx context.Context) error {
	f.connected = true
	return nil
}
func (f *fakeBackend) Disconnect() error { f.disconnects++; return nil }
func (f *fakeBackend) List(ctx context.Context, p string) ([]xfs.DirectoryEntry, error) {
	f.listCalls++
	return f.entries[p], nil
}
func (f *fakeBackend) Stat(ctx context.Context, p string) (xfs.RemoteStat, error) {
	return f.stats[p], nil
}
func (f *fakeBackend) Get(ctx context.Context, remote, local string, cancel *xfs.CancelToken) error {
	return nil
}
func (f *fakeBackend) Put(ctx context.Context, local, remote string, cancel *xfs.CancelToken) error {
	return nil
}
func (f *fakeBackend) GetWithProgress(ctx context.Context, remote, local string, offset int64, cancel *xfs.CancelToken, progress xfs.ProgressFunc) error {
	return nil
}
func (f *fakeBackend) PutWithProgress(ctx context.Context, local, remote string, offset int64, cancel *xfs.CancelToken, progress xfs.ProgressFunc) error {
	return nil
}
func (f *fakeBackend) ReadFile(ctx context.Context, remote string) ([]byte, error) { return nil, nil }
func (f *fakeBackend) WriteFile(ctx context.Context, remote string, data []byte) error {
	return nil
}
func (f *fakeBackend) ReadBuffer(ctx context.Context, remote string, max int64) ([]byte, error) {
	return nil, nil
}
func (f *fakeBackend) ExecCommand(ctx context.Context, command string) ([]byte, error) {
	return nil, xfs.ErrUnsupported
}
func (f *fakeBackend) SpawnShell(ctx context.Context, rows, cols int) (xfs.ShellChannel, error) {
	return nil, xfs.ErrUnsupported
}

func TestStatAndListBeforeConnectReturnsNotConnected(t *testing.T) {
	d := New()
	_, err := d.Stat(context.Background(), "/a")
	assert.ErrorIs(t, err, xfs.ErrNotConnected)
	_, err = d.List(context.Background(), "/a")
	assert.ErrorIs(t, err, xfs.ErrNotConnected)
}

func TestConnectTearsDownPriorBackend(t *testing.T) {
	d := New()
	first := newFake(xfs.ProtocolSFTP)
	second := newFake(xfs.ProtocolSFTP)
	require.NoError(t, d.Connect(context.Background(), first))
	require.NoError(t, d.Connect(context.Background(), second))
	assert.Equal(t, 1, first.disconnects)
	assert.True(t, second.connected)
}

func TestListIsCachedUntilInvalidated(t *testing.T) {
	d := New()
	fb := newFake(xfs.ProtocolSFTP)
	fb.entries["/dir"] = []xfs.DirectoryEntry{{Name: "a.txt"}}
	require.NoError(t, d.Connect(context.Background(), fb))

	_, err := d.List(context.Background(), "/dir")
	require.NoError(t, err)
	_, err = d.List(context.Background(), "/dir")
	require.NoError(t, err)
	assert.Equal(t, 1, fb.listCalls, "second call should be served from cache")

	require.NoError(t, d.WriteFile(context.Background(), "/dir/a.txt", []byte("x")))
	_, err = d.List(context.Background(), "/dir")
	require.NoError(t, err)
	assert.Equal(t, 2, fb.listCalls, "write should invalidate the cache")
}

func TestNormalizeStripsLeadingSlashForS3(t *testing.T) {
	d := &Dispatcher{protocol: xfs.ProtocolS3}
	assert.Equal(t, "a/b", d.normalize("/a/b"))
}

func TestNormalizeKeepsLeadingSlashForSFTP(t *testing.T) {
	d := &Dispatcher{protocol: xfs.ProtocolSFTP}
	assert.Equal(t, "/a/b", d.normalize("/a/b"))
}
