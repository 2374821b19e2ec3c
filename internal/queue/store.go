package queue

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// store persists the task list as a JSON array at path, writing
// through a temp file and rename so a crash mid-write never leaves a
// truncated transfers.json behind.
type store struct {
	path string
}

func newStore(path string) *store {
	return &store{path: path}
}

func (s *store) load() ([]*Task, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "reading transfers.json")
	}
	var tasks []*Task
	if err := json.Unmarshal(data, &tasks); err != nil {
		return nil, errors.Wrap(err, "parsing transfers.json")
	}
	return tasks, nil
}

func (s *store) save(tasks []*Task) error {
	data, err := json.MarshalIndent(tasks, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshalling transfers.json")
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, "creating queue state directory")
	}
	tmp, err := os.CreateTemp(dir, "transfers-*.json.tmp")
	if err != nil {
		return errors.Wrap(err, "creating temp transfers file")
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return errors.Wrap(err, "writing temp transfers file")
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return errors.Wrap(err, "closing temp transfers file")
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return errors.Wrap(err, "renaming temp transfers file into place")
	}
	return nil
}
