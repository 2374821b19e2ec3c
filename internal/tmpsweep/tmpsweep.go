// Package tmpsweep reclaims the temp directories internal/editbridge
// and the drag-out path in internal/dispatch leave behind when a
// process is killed before it can clean up after itself.
package tmpsweep

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/maponyatp/macscp/internal/editbridge"
)

var log = logrus.WithField("pkg", "tmpsweep")

// DragTempDirPrefix marks temp directories created by Dispatcher.StartDrag.
const DragTempDirPrefix = "macscp-drag-"

// prefixes lists every temp-directory naming convention this sweep
// reclaims. editbridge.TempDirPrefix covers external-edit sessions;
// DragTempDirPrefix covers OS drag-and-drop staging.
var prefixes = []string{editbridge.TempDirPrefix, DragTempDirPrefix}

// Sweep removes every leftover macscp temp directory directly under the
// OS temp root. Call it once on process start, before any new edit or
// drag session can create one of its own, so a stale and a fresh
// directory are never mistaken for each other.
func Sweep() (int, error) {
	root := os.TempDir()
	entries, err := os.ReadDir(root)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if !hasKnownPrefix(entry.Name()) {
			continue
		}
		full := filepath.Join(root, entry.Name())
		if err := os.RemoveAll(full); err != nil {
			log.WithError(err).WithField("dir", full).Warn("failed to remove stale temp dir")
			continue
		}
		removed++
	}
	if removed > 0 {
		log.WithField("count", removed).Info("swept stale temp directories")
	}
	return removed, nil
}

func hasKnownPrefix(name string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}
