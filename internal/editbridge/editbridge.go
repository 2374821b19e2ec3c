// Package editbridge implements the external-edit round trip: download
// a remote file into a dedicated temp directory, hand it to whatever
// editor the caller opens, watch it for changes, and re-upload on
// settle. The per-file fsnotify watch and debounce mirror the same
// technique internal/watcher uses for whole directories, narrowed to a
// single path and a much shorter settle window.
package editbridge

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/maponyatp/macscp/internal/xfs"
)

var log = logrus.WithField("pkg", "editbridge")

// TempDirPrefix marks directories this bridge creates, so
// internal/tmpsweep can reclaim any left behind by a crash.
const TempDirPrefix = "macscp-edit-"

const settleWindow = 100 * time.Millisecond

// Status is the outcome reported on an edit session's event channel.
type Status string

const (
	StatusUploaded Status = "uploaded"
	StatusError    Status = "error"
)

// Event is one edit-status notification.
type Event struct {
	RemotePath string
	Status     Status
	Error      string
}

// Transferrer is the dispatcher capability the bridge needs.
type Transferrer interface {
	Get(ctx context.Context, remotePath, localPath string, cancel *xfs.CancelToken) error
	Put(ctx context.Context, localPath, remotePath string, cancel *xfs.CancelToken) error
}

type session struct {
	remotePath string
	localPath  string
	tempDir    string
	fsw        *fsnotify.Watcher

	mu        sync.Mutex
	timer     *time.Timer
	uploading bool
	pending   bool
	closed    bool
}

// Bridge manages one active edit session per remote path.
type Bridge struct {
	xfer Transferrer

	mu       sync.Mutex
	sessions map[string]*session
	subs     map[chan Event]struct{}
	subsMu   sync.Mutex
}

func New(xfer Transferrer) *Bridge {
	return &Bridge{
		xfer:     xfer,
		sessions: make(map[string]*session),
		subs:     make(map[chan Event]struct{}),
	}
}

// Subscribe returns a channel of edit-status events and an unsubscribe func.
func (b *Bridge) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 8)
	b.subsMu.Lock()
	b.subs[ch] = struct{}{}
	b.subsMu.Unlock()
	return ch, func() {
		b.subsMu.Lock()
		if _, ok := b.subs[ch]; ok {
			delete(b.subs, ch)
			close(ch)
		}
		b.subsMu.Unlock()
	}
}

func (b *Bridge) publish(ev Event) {
	b.subsMu.Lock()
	defer b.subsMu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Open downloads remotePath into a fresh temp directory, installs a
// watch on the downloaded file, and returns the local path to hand to
// an external editor.
func (b *Bridge) Open(ctx context.Context, remotePath string) (string, error) {
	tempDir, err := os.MkdirTemp("", TempDirPrefix+uuid.NewString())
	if err != nil {
		return "", xfs.New(xfs.KindInternal, "creating edit temp dir", err)
	}
	name := filepath.Base(remotePath)
	if name == "" || name == "/" || name == "." {
		name = "edited-file"
	}
	localPath := filepath.Join(tempDir, name)

	if err := b.xfer.Get(ctx, remotePath, localPath, xfs.NewCancelToken()); err != nil {
		_ = os.RemoveAll(tempDir)
		return "", err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		_ = os.RemoveAll(tempDir)
		return "", xfs.New(xfs.KindInternal, "creating edit watcher", err)
	}
	if err := fsw.Add(localPath); err != nil {
		_ = fsw.Close()
		_ = os.RemoveAll(tempDir)
		return "", xfs.New(xfs.KindInternal, "watching edited file", err)
	}

	s := &session{remotePath: remotePath, localPath: localPath, tempDir: tempDir, fsw: fsw}
	b.mu.Lock()
	b.sessions[remotePath] = s
	b.mu.Unlock()

	go b.run(ctx, s)
	log.WithField("remote", remotePath).WithField("local", localPath).Info("opened for external edit")
	return localPath, nil
}

// Close tears down the watch for remotePath and removes its temp
// directory. Callers are not required to call it; a crash-recovery
// sweep on process start reclaims anything left behind.
func (b *Bridge) Close(remotePath string) {
	b.mu.Lock()
	s, ok := b.sessions[remotePath]
	if ok {
		delete(b.sessions, remotePath)
	}
	b.mu.Unlock()
	if !ok {
		return
	}
	s.mu.Lock()
	s.closed = true
	if s.timer != nil {
		s.timer.Stop()
	}
	s.mu.Unlock()
	_ = s.fsw.Close()
	_ = os.RemoveAll(s.tempDir)
}

func (b *Bridge) run(ctx context.Context, s *session) {
	for {
		select {
		case event, ok := <-s.fsw.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			b.debounce(ctx, s)
		case _, ok := <-s.fsw.Errors:
			if !ok {
				return
			}
		}
	}
}

func (b *Bridge) debounce(ctx context.Context, s *session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(settleWindow, func() {
		b.tryUpload(ctx, s)
	})
}

// tryUpload enforces the re-entrancy rule: a write burst that arrives
// while an upload is already in flight coalesces into exactly one
// follow-up upload once the current one finishes, rather than firing a
// second upload concurrently.
func (b *Bridge) tryUpload(ctx context.Context, s *session) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if s.uploading {
		s.pending = true
		s.mu.Unlock()
		return
	}
	s.uploading = true
	s.mu.Unlock()

	err := s.xferUpload(ctx, b.xfer)

	s.mu.Lock()
	s.uploading = false
	rerun := s.pending
	s.pending = false
	s.mu.Unlock()

	if err != nil {
		b.publish(Event{RemotePath: s.remotePath, Status: StatusError, Error: err.Error()})
	} else {
		b.publish(Event{RemotePath: s.remotePath, Status: StatusUploaded})
	}

	if rerun {
		b.tryUpload(ctx, s)
	}
}

func (s *session) xferUpload(ctx context.Context, xfer Transferrer) error {
	return xfer.Put(ctx, s.localPath, s.remotePath, xfs.NewCancelToken())
}
