// Package queue implements the Message Queue (spec.md §4.6): a bounded,
// cursor-addressed ring of patch batches that subscribers long-poll
// against. A subscriber whose cursor has fallen outside the retention
// window gets domerr.ErrWindowOverflow and must resync from a fresh Tree
// snapshot (handled by internal/session).
package queue

import (
	"context"
	"sync"
	"time"

	humanize "github.com/dustin/go-humanize"

	"github.com/jra3/domesync/internal/config"
	"github.com/jra3/domesync/internal/domerr"
	"github.com/jra3/domesync/internal/logging"
	"github.com/jra3/domesync/internal/snapshot"
)

// Entry is one published batch and the cursor it was assigned.
type Entry struct {
	Cursor uint64
	Batch  snapshot.Batch
}

// Queue is a bounded ring buffer of Entries (spec.md §4.6).
type Queue struct {
	mu     sync.Mutex
	window int
	entries []Entry

	nextCursor uint64
	notify     chan struct{}
	closed     bool

	log *logging.Logger
}

// New builds a Queue retaining up to cfg.Window batches.
func New(cfg config.QueueConfig, log *logging.Logger) *Queue {
	window := cfg.Window
	if window <= 0 {
		window = 256
	}
	return &Queue{
		window: window,
		notify: make(chan struct{}),
		log:    log,
	}
}

// Publish appends batch under a freshly assigned cursor, evicting the
// oldest entries beyond the retention window, and wakes every blocked
// subscriber (spec.md §4.6).
func (q *Queue) Publish(batch snapshot.Batch) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	cursor := q.nextCursor
	q.nextCursor++
	q.entries = append(q.entries, Entry{Cursor: cursor, Batch: batch})
	if len(q.entries) > q.window {
		q.entries = q.entries[len(q.entries)-q.window:]
	}
	ch := q.notify
	q.notify = make(chan struct{})
	q.mu.Unlock()
	close(ch)

	if q.log != nil {
		q.log.Printf("published batch cursor=%d patches=%s retained=%s/%s",
			cursor, humanize.Comma(int64(len(batch))), humanize.Comma(int64(len(q.entries))), humanize.Comma(int64(q.window)))
	}
}

// CurrentCursor returns the cursor that will be assigned to the next
// published batch.
func (q *Queue) CurrentCursor() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.nextCursor
}

// oldestCursorLocked returns the smallest cursor still retained, or
// q.nextCursor if the queue is empty. Caller must hold q.mu.
func (q *Queue) oldestCursorLocked() uint64 {
	if len(q.entries) == 0 {
		return q.nextCursor
	}
	return q.entries[0].Cursor
}

// SubscribeFrom returns every entry with Cursor >= from (spec.md §4.6): if
// any are already available, it returns immediately; otherwise it blocks
// until one is published, ctx is cancelled, or timeout elapses (a plain
// empty, nil-error result). A from cursor older than the retention
// window returns domerr.ErrWindowOverflow.
func (q *Queue) SubscribeFrom(ctx context.Context, from uint64, timeout time.Duration) ([]Entry, uint64, error) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return nil, from, domerr.ErrSessionTerminated
		}
		oldest := q.oldestCursorLocked()
		if from < oldest && from != q.nextCursor {
			q.mu.Unlock()
			return nil, 0, domerr.ErrWindowOverflow
		}
		if from < q.nextCursor {
			out := make([]Entry, 0, len(q.entries))
			for _, e := range q.entries {
				if e.Cursor >= from {
					out = append(out, e)
				}
			}
			cur := q.nextCursor
			q.mu.Unlock()
			return out, cur, nil
		}
		ch := q.notify
		q.mu.Unlock()

		select {
		case <-ch:
			continue
		case <-ctx.Done():
			return nil, from, ctx.Err()
		case <-time.After(timeout):
			return nil, from, nil
		}
	}
}

// Close terminates the queue: every waiter blocked in SubscribeFrom is
// woken with domerr.ErrSessionTerminated, and later Publish calls are
// dropped (spec.md §5: "Session teardown cancels all waiters with a
// terminal signal").
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	ch := q.notify
	q.mu.Unlock()
	close(ch)
}
