package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/maponyatp/macscp/internal/xfs"
)

var log = logrus.WithField("pkg", "queue")

const tickInterval = 500 * time.Millisecond

// Transferrer is the subset of the dispatcher's capability set the
// queue drives; a fake satisfies it in tests without a real backend.
type Transferrer interface {
	GetWithProgress(ctx context.Context, remotePath, localPath string, offset int64, cancel *xfs.CancelToken, progress xfs.ProgressFunc) error
	PutWithProgress(ctx context.Context, localPath, remotePath string, offset int64, cancel *xfs.CancelToken, progress xfs.ProgressFunc) error
}

// runState is the ephemeral, non-persisted bookkeeping kept alongside
// an active task: its cancel token and the window used for the
// ≥500ms moving-average speed calculation.
type runState struct {
	cancel        *xfs.CancelToken
	lastTickAt    time.Time
	lastTickBytes int64
}

// Queue is the single in-process FIFO transfer scheduler: at most
// MaxConcurrent tasks run at a time, state transitions are persisted,
// and every change is broadcast to subscribers as a full snapshot.
type Queue struct {
	mu      sync.Mutex
	tasks   []*Task
	running map[string]*runState

	xfer  Transferrer
	store *store
	hub   *Hub
}

// New loads any persisted tasks from statePath and rewrites ones left
// active or pending by a previous run to interrupted, per the
// startup-recovery contract. Call Start to let the scheduler begin
// promoting them.
func New(statePath string, xfer Transferrer) (*Queue, error) {
	st := newStore(statePath)
	tasks, err := st.load()
	if err != nil {
		return nil, err
	}
	for _, t := range tasks {
		if t.Status == StatusActive || t.Status == StatusPending {
			t.Status = StatusInterrupted
			t.Speed = 0
		}
	}
	return &Queue{
		tasks:   tasks,
		running: make(map[string]*runState),
		xfer:    xfer,
		store:   st,
		hub:     newHub(),
	}, nil
}

// Start kicks the scheduler so any interrupted/pending tasks loaded at
// construction begin promoting into free slots.
func (q *Queue) Start(ctx context.Context) {
	q.promote(ctx)
}

// Subscribe returns a channel of full-queue snapshots and an unsubscribe func.
func (q *Queue) Subscribe() (<-chan Snapshot, func()) {
	return q.hub.Subscribe()
}

// Snapshot returns the current queue state without subscribing.
func (q *Queue) Snapshot() Snapshot {
	q.mu.Lock()
	defer q.mu.Unlock()
	snap := make(Snapshot, len(q.tasks))
	for i, t := range q.tasks {
		snap[i] = *t
	}
	return snap
}

// Add admits a new task in pending state, persists it, and tries to
// promote it immediately if a slot is free.
func (q *Queue) Add(ctx context.Context, spec Spec) *Task {
	task := &Task{
		ID:         uuid.NewString(),
		Direction:  spec.Direction,
		LocalPath:  spec.LocalPath,
		RemotePath: spec.RemotePath,
		Name:       spec.Name,
		Total:      spec.Total,
		Status:     StatusPending,
		EnqueuedAt: time.Now(),
	}
	q.mu.Lock()
	q.tasks = append(q.tasks, task)
	q.mu.Unlock()
	q.persistAndPublish()
	q.promote(ctx)
	return task
}

// Cancel flips a non-terminal task to cancelled, firing its cancel
// token immediately if it is currently running.
func (q *Queue) Cancel(id string) {
	q.mu.Lock()
	task := q.findLocked(id)
	if task == nil || task.Status == StatusCompleted || task.Status == StatusCancelled || task.Status == StatusFailed {
		q.mu.Unlock()
		return
	}
	if rs, ok := q.running[id]; ok {
		rs.cancel.Cancel()
		delete(q.running, id)
	}
	task.Status = StatusCancelled
	q.mu.Unlock()
	q.persistAndPublish()
}

// Retry moves a failed, cancelled, or interrupted task back to pending
// and kicks the scheduler.
func (q *Queue) Retry(ctx context.Context, id string) {
	q.mu.Lock()
	task := q.findLocked(id)
	if task == nil {
		q.mu.Unlock()
		return
	}
	switch task.Status {
	case StatusFailed, StatusCancelled, StatusInterrupted:
		task.Status = StatusPending
		task.Error = ""
		task.RetryCount = 0
	}
	q.mu.Unlock()
	q.persistAndPublish()
	q.promote(ctx)
}

// RetryAll retries every failed, cancelled, or interrupted task.
func (q *Queue) RetryAll(ctx context.Context) {
	q.mu.Lock()
	var ids []string
	for _, t := range q.tasks {
		switch t.Status {
		case StatusFailed, StatusCancelled, StatusInterrupted:
			ids = append(ids, t.ID)
		}
	}
	q.mu.Unlock()
	for _, id := range ids {
		q.Retry(ctx, id)
	}
}

func (q *Queue) findLocked(id string) *Task {
	for _, t := range q.tasks {
		if t.ID == id {
			return t
		}
	}
	return nil
}

// promote starts as many ready tasks as there are free slots, walking
// the FIFO task list in enqueue order each time.
func (q *Queue) promote(ctx context.Context) {
	for {
		q.mu.Lock()
		if len(q.running) >= MaxConcurrent {
			q.mu.Unlock()
			return
		}
		var next *Task
		for _, t := range q.tasks {
			if t.Status == StatusPending || t.Status == StatusInterrupted {
				next = t
				break
			}
		}
		if next == nil {
			q.mu.Unlock()
			return
		}
		resumeOffset := int64(0)
		if next.Status == StatusInterrupted {
			resumeOffset = next.Transferred
		}
		next.Status = StatusActive
		next.Error = ""
		rs := &runState{cancel: xfs.NewCancelToken(), lastTickAt: time.Now(), lastTickBytes: next.Transferred}
		q.running[next.ID] = rs
		q.mu.Unlock()
		q.persistAndPublish()
		go q.run(ctx, next, rs, resumeOffset)
	}
}

func (q *Queue) run(ctx context.Context, task *Task, rs *runState, offset int64) {
	progress := q.progressFunc(task, rs)
	var err error
	if task.Direction == xfs.Upload {
		err = q.xfer.PutWithProgress(ctx, task.LocalPath, task.RemotePath, offset, rs.cancel, progress)
	} else {
		err = q.xfer.GetWithProgress(ctx, task.RemotePath, task.LocalPath, offset, rs.cancel, progress)
	}

	q.mu.Lock()
	delete(q.running, task.ID)
	switch {
	case task.Status == StatusCancelled:
		task.Speed = 0
	case err == nil:
		task.Status = StatusCompleted
		task.Transferred = task.Total
		task.RetryCount = 0
		task.Speed = 0
		task.Error = ""
	case xfs.KindOf(err) == xfs.KindCancelled:
		task.Status = StatusCancelled
		task.Speed = 0
	default:
		task.RetryCount++
		task.Speed = 0
		if task.RetryCount <= MaxRetries {
			task.Status = StatusPending
			task.Error = fmt.Sprintf("Retry %d/%d: %v", task.RetryCount, MaxRetries, err)
		} else {
			task.Status = StatusFailed
			task.Error = err.Error()
		}
	}
	q.mu.Unlock()
	q.persistAndPublish()
	q.promote(ctx)
}

// progressFunc returns the callback wired into the dispatcher call for
// task. It updates Transferred/Total on every invocation but only
// recomputes Speed and persists on a ≥500ms window, per spec's
// moving-average tick contract. reset (signalled once by backends that
// cannot truly resume, e.g. S3 uploads) restarts the window instead of
// computing a speed from a negative delta.
func (q *Queue) progressFunc(task *Task, rs *runState) xfs.ProgressFunc {
	return func(transferred, chunk, total int64, reset bool) {
		q.mu.Lock()
		now := time.Now()
		task.Transferred = transferred
		if total > 0 {
			task.Total = total
		}
		if reset {
			rs.lastTickAt = now
			rs.lastTickBytes = transferred
		}
		tick := now.Sub(rs.lastTickAt) >= tickInterval
		if tick {
			delta := transferred - rs.lastTickBytes
			dur := now.Sub(rs.lastTickAt).Seconds()
			if dur > 0 && delta >= 0 {
				task.Speed = int64(float64(delta) / dur)
			}
			rs.lastTickBytes = transferred
			rs.lastTickAt = now
		}
		q.mu.Unlock()
		if tick {
			q.persistAndPublish()
		}
	}
}

func (q *Queue) persistAndPublish() {
	q.mu.Lock()
	snap := make(Snapshot, len(q.tasks))
	tasksCopy := make([]*Task, len(q.tasks))
	for i, t := range q.tasks {
		tc := *t
		snap[i] = tc
		tasksCopy[i] = &tc
	}
	q.mu.Unlock()
	if err := q.store.save(tasksCopy); err != nil {
		log.WithError(err).Error("persisting transfer queue")
	}
	q.hub.publish(snap)
}
