// Package session implements the Serve Session (spec.md §4.7): the
// externally facing composition of a VFS, a Snapshot Middleware, a Tree,
// a Change Processor, and a Message Queue, behind the five operations
// info/read/subscribe/write/open_file.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jra3/domesync/internal/config"
	"github.com/jra3/domesync/internal/diff"
	"github.com/jra3/domesync/internal/domerr"
	"github.com/jra3/domesync/internal/logging"
	"github.com/jra3/domesync/internal/middleware"
	"github.com/jra3/domesync/internal/processor"
	"github.com/jra3/domesync/internal/queue"
	"github.com/jra3/domesync/internal/snapshot"
	"github.com/jra3/domesync/internal/tree"
	"github.com/jra3/domesync/internal/vfs"
)

// Version and GitCommit are overridden at build time via -ldflags
// (spec.md §4.7 Info: "a version identifier").
var (
	Version   = "dev"
	GitCommit = "unknown"
)

// Info is the static description returned by Session.Info.
type Info struct {
	SessionID   string
	ProjectName string
	Version     string
	GitCommit   string
	RootID      uuid.UUID
}

// Session composes the engine and serves the five session operations
// (spec.md §4.7).
type Session struct {
	id uuid.UUID

	fs    vfs.FS
	mw    *middleware.Middleware
	tr    *tree.Tree
	q     *queue.Queue
	proc  *processor.Processor
	log   *logging.Logger

	projectName         string
	maxSubscribeTimeout time.Duration

	mu          sync.Mutex
	terminated  bool
	cancelRun   context.CancelFunc
	runDone     chan struct{}
}

// New constructs a Session rooted at projectPath. It computes the initial
// Snapshot synchronously so the Tree exists before Run is called (spec.md
// §3 Lifecycle).
func New(fs vfs.FS, projectPath string, cfg *config.Config, cache middleware.RecomputeCache, log *logging.Logger) (*Session, error) {
	var opts []middleware.Option
	if cache != nil {
		opts = append(opts, middleware.WithCache(cache))
	}
	mw := middleware.New(fs, opts...)

	ctx := context.Background()
	root, err := mw.Snapshot(ctx, projectPath)
	if err != nil {
		return nil, fmt.Errorf("session: initial snapshot: %w", err)
	}
	tr := tree.New(root)
	q := queue.New(cfg.Queue, log)
	// Cursor 0 is reserved as "before any batch" (spec.md §6): publish
	// the whole Tree as a single Added batch now, so it lands under
	// cursor 0 and every subscriber's first subscribe_from(0) sees it
	// before any real filesystem change is processed (scenario S1).
	q.Publish(snapshot.Batch{snapshot.Added(root, uuid.Nil, 0)})
	proc := processor.New(fs, mw, tr, q, cfg.Processor, log)

	return &Session{
		id:   uuid.New(),
		fs:   fs,
		mw:   mw,
		tr:   tr,
		q:    q,
		proc: proc,
		log:  log,

		projectName:         root.Name,
		maxSubscribeTimeout: cfg.Queue.MaxSubscribeTimeout,
	}, nil
}

// Run starts the Change Processor's event loop in the background. Call
// Close to stop it.
func (s *Session) Run(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancelRun = cancel
	s.runDone = make(chan struct{})
	done := s.runDone
	s.mu.Unlock()

	go func() {
		defer close(done)
		if err := s.proc.Run(runCtx); err != nil && runCtx.Err() == nil {
			s.log.Printf("processor stopped: %v", err)
		}
	}()
}

// Close terminates the session: every subsequent operation returns
// domerr.ErrSessionTerminated (spec.md §4.7).
func (s *Session) Close() error {
	s.mu.Lock()
	if s.terminated {
		s.mu.Unlock()
		return nil
	}
	s.terminated = true
	cancel := s.cancelRun
	done := s.runDone
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
	s.q.Close()
	return s.fs.Close()
}

func (s *Session) checkAlive() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.terminated {
		return domerr.ErrSessionTerminated
	}
	return nil
}

// GetInfo returns static session metadata (spec.md §4.7 info).
func (s *Session) GetInfo() (Info, error) {
	if err := s.checkAlive(); err != nil {
		return Info{}, err
	}
	return Info{
		SessionID:   s.id.String(),
		ProjectName: s.projectName,
		Version:     Version,
		GitCommit:   GitCommit,
		RootID:      s.tr.RootID(),
	}, nil
}

// Read returns the current Tree view for each requested identifier
// (spec.md §4.7 read).
func (s *Session) Read(ids []uuid.UUID) ([]tree.View, error) {
	if err := s.checkAlive(); err != nil {
		return nil, err
	}
	out := make([]tree.View, 0, len(ids))
	for _, id := range ids {
		v, err := s.tr.Get(id)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// SubscribeResult is what Subscribe returns: either a set of incremental
// batches plus the new cursor, or (on window overflow) a full resync
// batch that replaces the subscriber's entire view of the Tree (spec.md
// §4.6 "a subscriber that falls out of the window must resync").
type SubscribeResult struct {
	Cursor    uint64
	Batches   []snapshot.Batch
	Resync    bool
	FullState snapshot.Batch
}

// Subscribe long-polls the Message Queue from cursor (spec.md §4.7
// subscribe). Cursor 0 is reserved as "before any batch" (spec.md §6):
// New publishes a synthesized whole-Tree Added batch under cursor 0
// before the session ever starts processing filesystem changes, so a
// subscriber that calls Subscribe(ctx, 0, ...) always sees that batch
// first, satisfying the "first subscriber sees the whole Tree" scenario
// without this method needing to special-case cursor 0 itself. On
// domerr.ErrWindowOverflow it transparently resyncs the caller with the
// Tree's current full state as a single Added batch rooted at the
// Tree's root, spec.md §4.6's prescribed recovery.
func (s *Session) Subscribe(ctx context.Context, cursor uint64, timeout time.Duration) (SubscribeResult, error) {
	if err := s.checkAlive(); err != nil {
		return SubscribeResult{}, err
	}
	if s.maxSubscribeTimeout > 0 && timeout > s.maxSubscribeTimeout {
		timeout = s.maxSubscribeTimeout
	}
	entries, newCursor, err := s.q.SubscribeFrom(ctx, cursor, timeout)
	if err == nil {
		batches := make([]snapshot.Batch, 0, len(entries))
		for _, e := range entries {
			batches = append(batches, e.Batch)
		}
		return SubscribeResult{Cursor: newCursor, Batches: batches}, nil
	}
	if !errors.Is(err, domerr.ErrWindowOverflow) {
		return SubscribeResult{}, err
	}

	full, resyncErr := s.fullStateBatch()
	if resyncErr != nil {
		return SubscribeResult{}, resyncErr
	}
	return SubscribeResult{Cursor: s.q.CurrentCursor(), Resync: true, FullState: full}, nil
}

// fullStateBatch reconstructs the entire Tree as a single Added patch
// rooted at the Tree's root (spec.md §4.6 resync).
func (s *Session) fullStateBatch() (snapshot.Batch, error) {
	root := s.tr.RootID()
	snap, err := s.tr.Snapshot(root)
	if err != nil {
		return nil, err
	}
	return snapshot.Batch{snapshot.Added(snap, uuid.Nil, 0)}, nil
}

// Write validates and applies a caller-supplied patch batch directly to
// the Tree, then republishes it (spec.md §4.7 write). Used for edits
// that originate from a caller rather than the filesystem (e.g. an
// editor plugin pushing a rename).
func (s *Session) Write(batch snapshot.Batch) error {
	if err := s.checkAlive(); err != nil {
		return err
	}
	if err := diff.Apply(s.tr, batch); err != nil {
		return err
	}
	s.q.Publish(batch)
	return nil
}

// OpenFile returns the filesystem path backing id, for callers that want
// to open the real file an instance was produced from (spec.md §4.7
// open_file). Instances with no contributing path (virtual project
// nodes, sidecar-only composition) return ErrNoContributingPath.
func (s *Session) OpenFile(id uuid.UUID) (string, error) {
	if err := s.checkAlive(); err != nil {
		return "", err
	}
	v, err := s.tr.Get(id)
	if err != nil {
		return "", err
	}
	if len(v.ContributingPaths) == 0 {
		return "", domerr.ErrNoContributingPath
	}
	return v.ContributingPaths[0], nil
}
