// Package syncengine produces a first-level directory diff between a
// local path and a remote path reached through the dispatcher. Listing
// both sides concurrently via errgroup mirrors the teacher's own
// internal parallelism for independent I/O (S3's paginated listing,
// SFTP's directory-walk helpers); here the two sides being compared
// are exactly that kind of independent work.
package syncengine

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/maponyatp/macscp/internal/xfs"
)

// Status classifies one entry's comparison result.
type Status string

const (
	OnlyLocal   Status = "only-local"
	OnlyRemote  Status = "only-remote"
	NewerLocal  Status = "newer-local"
	NewerRemote Status = "newer-remote"
	Same        Status = "same"
)

// mtimeTolerance is the window within which two modification times are
// considered equal rather than one being "newer".
const mtimeTolerance = time.Second

// Diff is one compared entry.
type Diff struct {
	Name       string
	LocalPath  string
	RemotePath string
	Status     Status

	LocalSize   int64
	RemoteSize  int64
	LocalMTime  time.Time
	RemoteMTime time.Time
}

// Lister is the dispatcher capability the engine needs: listing one
// remote directory's immediate children.
type Lister interface {
	List(ctx context.Context, remotePath string) ([]xfs.DirectoryEntry, error)
}

type localEntry struct {
	name  string
	isDir bool
	size  int64
	mtime time.Time
}

// Compare lists localDir and remoteDir concurrently and classifies
// their first-level children. Sub-directories are skipped from the
// output entirely (non-recursive, per spec); a name that is a
// directory on one side and a file on the other is also skipped since
// there is no meaningful size/time comparison to make.
func Compare(ctx context.Context, lister Lister, localDir, remoteDir string) ([]Diff, error) {
	var locals []localEntry
	var remotes []xfs.DirectoryEntry

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		entries, err := os.ReadDir(localDir)
		if err != nil {
			return xfs.New(xfs.KindInternal, "listing local directory", err)
		}
		for _, e := range entries {
			info, err := e.Info()
			if err != nil {
				return xfs.New(xfs.KindInternal, "statting local entry", err)
			}
			locals = append(locals, localEntry{
				name:  e.Name(),
				isDir: e.IsDir(),
				size:  info.Size(),
				mtime: info.ModTime().UTC(),
			})
		}
		return nil
	})
	g.Go(func() error {
		entries, err := lister.List(gctx, remoteDir)
		if err != nil {
			return err
		}
		remotes = entries
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	remoteByName := make(map[string]xfs.DirectoryEntry, len(remotes))
	for _, r := range remotes {
		remoteByName[r.Name] = r
	}

	seen := make(map[string]bool, len(locals))
	var diffs []Diff
	for _, l := range locals {
		seen[l.name] = true
		if l.isDir {
			continue
		}
		r, ok := remoteByName[l.name]
		if !ok {
			diffs = append(diffs, Diff{
				Name:       l.name,
				LocalPath:  filepath.Join(localDir, l.name),
				RemotePath: xfs.JoinPath(remoteDir, l.name),
				Status:     OnlyLocal,
				LocalSize:  l.size,
				LocalMTime: l.mtime,
			})
			continue
		}
		if r.IsDir {
			continue
		}
		diffs = append(diffs, classify(l, r, localDir, remoteDir))
	}
	for _, r := range remotes {
		if r.IsDir || seen[r.Name] {
			continue
		}
		diffs = append(diffs, Diff{
			Name:        r.Name,
			LocalPath:   filepath.Join(localDir, r.Name),
			RemotePath:  xfs.JoinPath(remoteDir, r.Name),
			Status:      OnlyRemote,
			RemoteSize:  r.Size,
			RemoteMTime: r.ModifiedAt,
		})
	}
	return diffs, nil
}

func classify(l localEntry, r xfs.DirectoryEntry, localDir, remoteDir string) Diff {
	d := Diff{
		Name:        l.name,
		LocalPath:   filepath.Join(localDir, l.name),
		RemotePath:  xfs.JoinPath(remoteDir, l.name),
		LocalSize:   l.size,
		RemoteSize:  r.Size,
		LocalMTime:  l.mtime,
		RemoteMTime: r.ModifiedAt,
	}
	delta := l.mtime.Sub(r.ModifiedAt)
	if delta < 0 {
		delta = -delta
	}
	switch {
	case delta > mtimeTolerance:
		if l.mtime.After(r.ModifiedAt) {
			d.Status = NewerLocal
		} else {
			d.Status = NewerRemote
		}
	case l.size != r.Size:
		// times tie within tolerance but sizes differ: local wins
		d.Status = NewerLocal
	default:
		d.Status = Same
	}
	return d
}
