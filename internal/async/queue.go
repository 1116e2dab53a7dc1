// Package async runs the incremental indexer: a three-level priority
// queue of per-file tasks, FIFO within a level, with bounded in-flight
// work and an observable activity snapshot.
package async

import (
	"container/list"
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// Priority levels, processed strictly high -> medium -> low.
type Priority int

const (
	PriorityHigh Priority = iota
	PriorityMedium
	PriorityLow
	priorityCount
)

// String implements fmt.Stringer.
func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityMedium:
		return "medium"
	default:
		return "low"
	}
}

// Task is one unit of re-index work for a file.
type Task struct {
	Path     string
	Priority Priority
	Run      func(ctx context.Context) error
}

// ActivitySnapshot reports queue state for observability.
type ActivitySnapshot struct {
	QueuedHigh   int       `json:"queued_high"`
	QueuedMedium int       `json:"queued_medium"`
	QueuedLow    int       `json:"queued_low"`
	InFlight     int       `json:"in_flight"`
	Processed    int64     `json:"processed"`
	Failed       int64     `json:"failed"`
	LastActivity time.Time `json:"last_activity"`
}

// Indexer is the per-workspace task queue. Per-file ordering is total: a
// task for a path waits until the prior task for that path completed.
type Indexer struct {
	mu       sync.Mutex
	queues   [priorityCount]*list.List
	inFile   map[string]bool // path -> task queued or running
	deferred map[string][]*Task

	sem      *semaphore.Weighted
	wake     chan struct{}
	done     chan struct{}
	inFlight int
	snapshot ActivitySnapshot
	started  bool
}

// NewIndexer creates an indexer with at most maxInFlight concurrent tasks.
func NewIndexer(maxInFlight int) *Indexer {
	if maxInFlight <= 0 {
		maxInFlight = 4
	}
	ix := &Indexer{
		inFile:   make(map[string]bool),
		deferred: make(map[string][]*Task),
		sem:      semaphore.NewWeighted(int64(maxInFlight)),
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	for i := range ix.queues {
		ix.queues[i] = list.New()
	}
	return ix
}

// Start begins processing until the context ends or Stop is called.
func (ix *Indexer) Start(ctx context.Context) {
	ix.mu.Lock()
	if ix.started {
		ix.mu.Unlock()
		return
	}
	ix.started = true
	ix.mu.Unlock()

	go ix.loop(ctx)
}

// Enqueue adds a task. Tasks for a path already in flight defer until the
// running task completes, keeping per-file operations totally ordered.
func (ix *Indexer) Enqueue(task *Task) {
	if task == nil || task.Run == nil {
		return
	}
	ix.mu.Lock()
	if ix.inFile[task.Path] {
		ix.deferred[task.Path] = append(ix.deferred[task.Path], task)
		ix.mu.Unlock()
		return
	}
	ix.inFile[task.Path] = true
	ix.queues[task.Priority].PushBack(task)
	ix.snapshot.LastActivity = time.Now()
	ix.mu.Unlock()

	ix.kick()
}

func (ix *Indexer) kick() {
	select {
	case ix.wake <- struct{}{}:
	default:
	}
}

func (ix *Indexer) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-ix.done:
			return
		case <-ix.wake:
		}

		for {
			task := ix.pop()
			if task == nil {
				break
			}
			if err := ix.sem.Acquire(ctx, 1); err != nil {
				return
			}

			ix.mu.Lock()
			ix.inFlight++
			ix.mu.Unlock()

			go func(t *Task) {
				defer ix.sem.Release(1)
				err := t.Run(ctx)

				ix.mu.Lock()
				ix.inFlight--
				ix.snapshot.Processed++
				if err != nil {
					ix.snapshot.Failed++
				}
				ix.snapshot.LastActivity = time.Now()

				// Release the per-file slot and promote a deferred task.
				delete(ix.inFile, t.Path)
				if queue := ix.deferred[t.Path]; len(queue) > 0 {
					next := queue[0]
					if len(queue) == 1 {
						delete(ix.deferred, t.Path)
					} else {
						ix.deferred[t.Path] = queue[1:]
					}
					ix.inFile[t.Path] = true
					ix.queues[next.Priority].PushBack(next)
				}
				ix.mu.Unlock()

				if err != nil && ctx.Err() == nil {
					slog.Warn("index_task_failed",
						slog.String("path", t.Path),
						slog.String("error", err.Error()))
				}
				ix.kick()
			}(task)
		}
	}
}

// pop takes the next task, strictly high before medium before low.
func (ix *Indexer) pop() *Task {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	for _, q := range ix.queues {
		if front := q.Front(); front != nil {
			q.Remove(front)
			return front.Value.(*Task)
		}
	}
	return nil
}

// GetActivitySnapshot returns the current queue state.
func (ix *Indexer) GetActivitySnapshot() ActivitySnapshot {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	snap := ix.snapshot
	snap.QueuedHigh = ix.queues[PriorityHigh].Len()
	snap.QueuedMedium = ix.queues[PriorityMedium].Len()
	snap.QueuedLow = ix.queues[PriorityLow].Len()
	snap.InFlight = ix.inFlight
	return snap
}

// Stop halts processing. Queued tasks are dropped; running tasks finish.
func (ix *Indexer) Stop() {
	ix.mu.Lock()
	if !ix.started {
		ix.mu.Unlock()
		return
	}
	ix.started = false
	ix.mu.Unlock()
	close(ix.done)
}
