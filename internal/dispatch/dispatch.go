// Package dispatch owns the single active remote connection and
// routes every transfer-surface call to it, normalising paths and
// caching cheap metadata lookups the way a dual-pane remote browser
// issues them repeatedly. Adapted from the teacher's backend-agnostic
// Fs/Object split: here one Dispatcher plays the role rclone's fs.Fs
// plays per-backend, but against exactly one live connection at a time.
package dispatch

import (
	"context"
	"fmt"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"

	"github.com/maponyatp/macscp/internal/xfs"
)

var log = logrus.WithField("pkg", "dispatch")

const (
	statCacheTTL      = 2 * time.Second
	statCacheCleanup  = 10 * time.Second
	dragTempDirPrefix = "macscp-drag-"
)

// Dispatcher holds at most one active xfs.Backend. Connect tears down
// any prior connection before establishing a new one, so callers never
// accidentally multiplex two remote sessions through it.
type Dispatcher struct {
	mu       sync.RWMutex
	backend  xfs.Backend
	protocol xfs.Protocol

	cache *cache.Cache
}

// New returns a Dispatcher with no active connection.
func New() *Dispatcher {
	return &Dispatcher{cache: cache.New(statCacheTTL, statCacheCleanup)}
}

// Connect swaps in backend as the active connection, disconnecting any
// previous one first. The backend must already be unconnected; dialing
// is this call's job.
func (d *Dispatcher) Connect(ctx context.Context, backend xfs.Backend) error {
	d.mu.Lock()
	prior := d.backend
	d.mu.Unlock()
	if prior != nil {
		if err := prior.Disconnect(); err != nil {
			log.WithError(err).Warn("disconnecting prior backend")
		}
	}
	if err := backend.Connect(ctx); err != nil {
		return err
	}
	d.mu.Lock()
	d.backend = backend
	d.protocol = backend.Protocol()
	d.mu.Unlock()
	d.cache.Flush()
	return nil
}

func (d *Dispatcher) Disconnect() error {
	d.mu.Lock()
	b := d.backend
	d.backend = nil
	d.mu.Unlock()
	d.cache.Flush()
	if b == nil {
		return nil
	}
	return b.Disconnect()
}

func (d *Dispatcher) active() (xfs.Backend, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.backend == nil {
		return nil, xfs.ErrNotConnected
	}
	return d.backend, nil
}

// normalize applies the dispatcher's path convention, stripping the
// leading "/" when the active backend addresses by object key (S3)
// rather than hierarchical path.
func (d *Dispatcher) normalize(remotePath string) string {
	d.mu.RLock()
	proto := d.protocol
	d.mu.RUnlock()
	if proto == xfs.ProtocolS3 {
		return xfs.ToObjectKey(remotePath)
	}
	return xfs.NormalizePath(remotePath)
}

// invalidate drops every cached stat/list entry after a write. The
// cache has no reverse index from path to keys, so a write anywhere
// flushes everything rather than only the affected prefix.
func (d *Dispatcher) invalidate(remotePath string) {
	d.cache.Flush()
}

func (d *Dispatcher) List(ctx context.Context, remotePath string) ([]xfs.DirectoryEntry, error) {
	b, err := d.active()
	if err != nil {
		return nil, err
	}
	key := "list:" + d.normalize(remotePath)
	if cached, ok := d.cache.Get(key); ok {
		return cached.([]xfs.DirectoryEntry), nil
	}
	entries, err := b.List(ctx, d.normalize(remotePath))
	if err != nil {
		return nil, err
	}
	d.cache.SetDefault(key, entries)
	return entries, nil
}

func (d *Dispatcher) Stat(ctx context.Context, remotePath string) (xfs.RemoteStat, error) {
	b, err := d.active()
	if err != nil {
		return xfs.RemoteStat{}, err
	}
	key := "stat:" + d.normalize(remotePath)
	if cached, ok := d.cache.Get(key); ok {
		return cached.(xfs.RemoteStat), nil
	}
	stat, err := b.Stat(ctx, d.normalize(remotePath))
	if err != nil {
		return xfs.RemoteStat{}, err
	}
	d.cache.SetDefault(key, stat)
	return stat, nil
}

func (d *Dispatcher) Get(ctx context.Context, remotePath, localPath string, cancel *xfs.CancelToken) error {
	b, err := d.active()
	if err != nil {
		return err
	}
	return b.Get(ctx, d.normalize(remotePath), localPath, cancel)
}

func (d *Dispatcher) Put(ctx context.Context, localPath, remotePath string, cancel *xfs.CancelToken) error {
	b, err := d.active()
	if err != nil {
		return err
	}
	defer d.invalidate(remotePath)
	return b.Put(ctx, localPath, d.normalize(remotePath), cancel)
}

func (d *Dispatcher) GetWithProgress(ctx context.Context, remotePath, localPath string, offset int64, cancel *xfs.CancelToken, progress xfs.ProgressFunc) error {
	b, err := d.active()
	if err != nil {
		return err
	}
	return b.GetWithProgress(ctx, d.normalize(remotePath), localPath, offset, cancel, progress)
}

func (d *Dispatcher) PutWithProgress(ctx context.Context, localPath, remotePath string, offset int64, cancel *xfs.CancelToken, progress xfs.ProgressFunc) error {
	b, err := d.active()
	if err != nil {
		return err
	}
	defer d.invalidate(remotePath)
	return b.PutWithProgress(ctx, localPath, d.normalize(remotePath), offset, cancel, progress)
}

func (d *Dispatcher) ReadFile(ctx context.Context, remotePath string) ([]byte, error) {
	b, err := d.active()
	if err != nil {
		return nil, err
	}
	return b.ReadFile(ctx, d.normalize(remotePath))
}

func (d *Dispatcher) WriteFile(ctx context.Context, remotePath string, data []byte) error {
	b, err := d.active()
	if err != nil {
		return err
	}
	defer d.invalidate(remotePath)
	return b.WriteFile(ctx, d.normalize(remotePath), data)
}

func (d *Dispatcher) ReadBuffer(ctx context.Context, remotePath string, maxBytes int64) ([]byte, error) {
	b, err := d.active()
	if err != nil {
		return nil, err
	}
	return b.ReadBuffer(ctx, d.normalize(remotePath), maxBytes)
}

func (d *Dispatcher) ExecCommand(ctx context.Context, command string) ([]byte, error) {
	b, err := d.active()
	if err != nil {
		return nil, err
	}
	return b.ExecCommand(ctx, command)
}

func (d *Dispatcher) SpawnShell(ctx context.Context, rows, cols int) (xfs.ShellChannel, error) {
	b, err := d.active()
	if err != nil {
		return nil, err
	}
	return b.SpawnShell(ctx, rows, cols)
}

// StartDrag downloads remotePath into a fresh macscp-drag-* temp
// directory and returns the local path, for the OS-level
// drag-and-drop affordance a desktop file browser exposes. The caller
// owns cleanup; internal/tmpsweep reclaims anything left behind by a
// crash on the next process start.
func (d *Dispatcher) StartDrag(ctx context.Context, remotePath string) (string, error) {
	b, err := d.active()
	if err != nil {
		return "", err
	}
	dir, err := os.MkdirTemp("", dragTempDirPrefix+uuid.NewString())
	if err != nil {
		return "", xfs.New(xfs.KindInternal, "creating drag temp dir", err)
	}
	name := path.Base(strings.TrimSuffix(d.normalize(remotePath), "/"))
	if name == "" || name == "/" {
		name = "download"
	}
	localPath := fmt.Sprintf("%s/%s", dir, name)
	if err := b.Get(ctx, d.normalize(remotePath), localPath, xfs.NewCancelToken()); err != nil {
		_ = os.RemoveAll(dir)
		return "", err
	}
	return localPath, nil
}
