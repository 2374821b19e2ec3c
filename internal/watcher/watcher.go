// Package watcher mirrors local directory changes upstream: one
// recursive fsnotify watch per root, debounced per file, enqueuing an
// upload task on settle. fsnotify does not watch subdirectories
// created after the initial Add, so new directories are walked and
// added the moment their Create event arrives, the same recursive
// add-on-create technique the teacher's local backend ChangeNotify
// uses (ChangeNotify_other.go) for its own non-recursive fsnotify.Watcher.
package watcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/maponyatp/macscp/internal/queue"
	"github.com/maponyatp/macscp/internal/xfs"
)

var log = logrus.WithField("pkg", "watcher")

// settleWindow is how long a path must go quiet before the watcher
// considers a write finished and enqueues an upload.
const settleWindow = time.Second

// Enqueuer is the subset of the transfer queue the watcher drives.
type Enqueuer interface {
	Add(ctx context.Context, spec queue.Spec) *queue.Task
}

type rootWatch struct {
	localRoot  string
	remoteRoot string
	fsw        *fsnotify.Watcher

	mu      sync.Mutex
	timers  map[string]*time.Timer
	stopped bool
}

// Watcher manages one independent rootWatch per local path under watch.
type Watcher struct {
	mu    sync.Mutex
	roots map[string]*rootWatch

	enqueue Enqueuer
}

func New(enqueue Enqueuer) *Watcher {
	return &Watcher{roots: make(map[string]*rootWatch), enqueue: enqueue}
}

// Start installs a recursive watch on localRoot, mirroring its changes
// to remoteRoot via the queue. Starting an already-active root is a
// no-op.
func (w *Watcher) Start(ctx context.Context, localRoot, remoteRoot string) error {
	w.mu.Lock()
	if _, ok := w.roots[localRoot]; ok {
		w.mu.Unlock()
		return nil
	}
	w.mu.Unlock()

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return xfs.New(xfs.KindInternal, "creating filesystem watcher", err)
	}
	rw := &rootWatch{
		localRoot:  localRoot,
		remoteRoot: remoteRoot,
		fsw:        fsw,
		timers:     make(map[string]*time.Timer),
	}
	if err := addRecursive(fsw, localRoot); err != nil {
		_ = fsw.Close()
		return err
	}

	w.mu.Lock()
	w.roots[localRoot] = rw
	w.mu.Unlock()

	go w.run(ctx, rw)
	log.WithField("root", localRoot).Info("watching")
	return nil
}

// Stop tears down the watcher on localRoot, if any.
func (w *Watcher) Stop(localRoot string) {
	w.mu.Lock()
	rw, ok := w.roots[localRoot]
	if ok {
		delete(w.roots, localRoot)
	}
	w.mu.Unlock()
	if !ok {
		return
	}
	rw.mu.Lock()
	rw.stopped = true
	for _, timer := range rw.timers {
		timer.Stop()
	}
	rw.mu.Unlock()
	_ = rw.fsw.Close()
}

// Active reports whether localRoot currently has a live watch.
func (w *Watcher) Active(localRoot string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.roots[localRoot]
	return ok
}

func isDotfile(p string) bool {
	return strings.HasPrefix(filepath.Base(p), ".")
}

func addRecursive(fsw *fsnotify.Watcher, root string) error {
	return filepath.Walk(root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			if p != root && isDotfile(p) {
				return filepath.SkipDir
			}
			if err := fsw.Add(p); err != nil {
				return xfs.New(xfs.KindInternal, "adding watch for "+p, err)
			}
		}
		return nil
	})
}

func (w *Watcher) run(ctx context.Context, rw *rootWatch) {
	for {
		select {
		case event, ok := <-rw.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(ctx, rw, event)
		case err, ok := <-rw.fsw.Errors:
			if !ok {
				return
			}
			log.WithError(err).WithField("root", rw.localRoot).Warn("watch error")
		}
	}
}

func (w *Watcher) handleEvent(ctx context.Context, rw *rootWatch, event fsnotify.Event) {
	if isDotfile(event.Name) {
		return
	}
	if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
		return
	}
	info, err := os.Stat(event.Name)
	if err != nil {
		return // already gone by the time we looked; nothing to mirror
	}
	if info.IsDir() {
		if event.Op&fsnotify.Create != 0 {
			if err := addRecursive(rw.fsw, event.Name); err != nil {
				log.WithError(err).Warn("watching new subdirectory")
			}
		}
		return
	}
	w.debounce(ctx, rw, event.Name)
}

// debounce resets a per-path settle timer; the upload only fires once
// settleWindow has elapsed without another event on the same path, so
// a burst of writes to the same file produces exactly one upload.
func (w *Watcher) debounce(ctx context.Context, rw *rootWatch, localPath string) {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	if rw.stopped {
		return
	}
	if t, ok := rw.timers[localPath]; ok {
		t.Stop()
	}
	rw.timers[localPath] = time.AfterFunc(settleWindow, func() {
		rw.mu.Lock()
		delete(rw.timers, localPath)
		stopped := rw.stopped
		rw.mu.Unlock()
		if stopped {
			return
		}
		w.enqueueUpload(ctx, rw, localPath)
	})
}

func (w *Watcher) enqueueUpload(ctx context.Context, rw *rootWatch, localPath string) {
	info, err := os.Stat(localPath)
	if err != nil {
		return
	}
	rel, err := filepath.Rel(rw.localRoot, localPath)
	if err != nil {
		return
	}
	remotePath := xfs.JoinPath(rw.remoteRoot, filepath.ToSlash(rel))
	w.enqueue.Add(ctx, queue.Spec{
		Direction:  xfs.Upload,
		LocalPath:  localPath,
		RemotePath: remotePath,
		Name:       filepath.Base(localPath),
		Total:      info.Size(),
	})
}
