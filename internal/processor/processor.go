// Package processor implements the Change Processor (spec.md §4.5): it
// debounces VFS events, recomputes the affected Snapshot Middleware
// output, diffs it against the Tree, applies the resulting patch batch,
// and republishes it to the Message Queue.
//
// The debounce-and-fan-out shape is grounded on jra3-linear-fuse's sync
// worker loop (batched writeback triggered off a timer, not every single
// event), adapted here to drive recompute instead of disk writeback; the
// concurrent per-root recompute fan-out uses golang.org/x/sync/errgroup
// the same way.
package processor

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/jra3/domesync/internal/config"
	"github.com/jra3/domesync/internal/diff"
	"github.com/jra3/domesync/internal/logging"
	"github.com/jra3/domesync/internal/middleware"
	"github.com/jra3/domesync/internal/snapshot"
	"github.com/jra3/domesync/internal/tree"
	"github.com/jra3/domesync/internal/vfs"
)

// Publisher receives a committed patch batch (spec.md §4.6). Implemented
// by internal/queue.Queue; declared here to keep processor free of a
// direct dependency on the queue's retention/window concerns.
type Publisher interface {
	Publish(batch snapshot.Batch)
}

// Processor wires a VFS, a Middleware, a Tree, and a Publisher together
// (spec.md §4.5).
type Processor struct {
	fs   vfs.FS
	mw   *middleware.Middleware
	tr   *tree.Tree
	pub  Publisher
	cfg  config.ProcessorConfig
	log  *logging.Logger
	lim  *rate.Limiter
}

// New builds a Processor. cfg.DebounceWindow, RetryAttempts, and
// RetryBackoff govern coalescing and the IO retry policy (spec.md §4.5).
func New(fs vfs.FS, mw *middleware.Middleware, tr *tree.Tree, pub Publisher, cfg config.ProcessorConfig, log *logging.Logger) *Processor {
	backoff := cfg.RetryBackoff
	if backoff <= 0 {
		backoff = 25 * time.Millisecond
	}
	return &Processor{
		fs:  fs,
		mw:  mw,
		tr:  tr,
		pub: pub,
		cfg: cfg,
		log: log,
		lim: rate.NewLimiter(rate.Every(backoff), 1),
	}
}

// Run drains fs.Subscribe(), debounces events within cfg.DebounceWindow
// into batches of affected paths, and processes each batch in turn. Run
// blocks until ctx is cancelled or the event channel closes.
func (p *Processor) Run(ctx context.Context) error {
	events := p.fs.Subscribe()
	pending := make(map[string]bool)
	var timer *time.Timer
	var timerC <-chan time.Time

	resetTimer := func() {
		if timer == nil {
			timer = time.NewTimer(p.cfg.DebounceWindow)
		} else {
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(p.cfg.DebounceWindow)
		}
		timerC = timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if p.mw.Ignored(ev.Path) {
				continue
			}
			pending[ev.Path] = true
			resetTimer()
		case <-timerC:
			timerC = nil
			if len(pending) == 0 {
				continue
			}
			paths := make([]string, 0, len(pending))
			for pth := range pending {
				paths = append(paths, pth)
			}
			pending = make(map[string]bool)
			if err := p.process(ctx, paths); err != nil {
				p.log.Printf("process batch: %v", err)
			}
		}
	}
}

// process resolves the distinct affected roots for paths, recomputes each
// concurrently, diffs every result against the Tree, and applies the
// union as one atomic batch (spec.md §4.5 Ordering, §2 "republishes a
// single patch batch").
func (p *Processor) process(ctx context.Context, paths []string) error {
	roots := p.resolveAffectedRoots(ctx, paths)
	if len(roots) == 0 {
		return nil
	}

	targets := make([]snapshot.Snapshot, len(roots))
	g, gctx := errgroup.WithContext(ctx)
	for i, rootID := range roots {
		i, rootID := i, rootID
		g.Go(func() error {
			target, err := p.recomputeWithRetry(gctx, rootID)
			if err != nil {
				return err
			}
			targets[i] = target
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	var full snapshot.Batch
	for i, rootID := range roots {
		b, err := diff.Diff(p.tr, rootID, targets[i])
		if err != nil {
			return err
		}
		full = append(full, b...)
	}
	if len(full) == 0 {
		return nil
	}
	if err := diff.Apply(p.tr, full); err != nil {
		return err
	}
	p.pub.Publish(full)
	return nil
}

// recomputeWithRetry re-snapshots rootID's representative path, making up
// to cfg.RetryAttempts attempts in all, paced by p.lim
// (spec.md §4.5 "bounded retry with backoff before giving up").
func (p *Processor) recomputeWithRetry(ctx context.Context, rootID uuid.UUID) (snapshot.Snapshot, error) {
	view, err := p.tr.Get(rootID)
	if err != nil {
		return snapshot.Snapshot{}, err
	}
	representative := ""
	if len(view.ContributingPaths) > 0 {
		representative = view.ContributingPaths[0]
	}

	attempts := p.cfg.RetryAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			if err := p.lim.Wait(ctx); err != nil {
				return snapshot.Snapshot{}, err
			}
		}
		snap, err := p.mw.Snapshot(ctx, representative)
		if err == nil {
			return snap, nil
		}
		lastErr = err
	}
	// Middleware recompute failures are non-fatal (spec.md §7
	// MiddlewareFailed): substitute an error snapshot rather than failing
	// the whole batch.
	p.log.Printf("recompute %q failed after %d attempts: %v", representative, attempts, lastErr)
	return snapshot.Error(view.ClassName, view.Name, representative), nil
}

// resolveAffectedRoots maps each changed path to the nearest Tree
// instance whose contributing paths already cover it, walking up parent
// directories until a match is found; the Tree's root is the fallback
// (spec.md §4.5: "an unrecognized path still affects its nearest
// represented ancestor"). Instances whose own backing path no longer
// exists are escalated to their parent, so a removed directory turns
// into a Removed patch from the parent's diff rather than an error
// snapshot in place (spec.md §8 S5). Results are deduplicated and any
// root that is a descendant of another resolved root is dropped: the
// ancestor's recompute already covers it, and diffing both would emit
// conflicting patches for the same identifiers.
func (p *Processor) resolveAffectedRoots(ctx context.Context, paths []string) []uuid.UUID {
	seen := make(map[uuid.UUID]bool)
	var ids []uuid.UUID
	for _, pth := range paths {
		id := p.escalateGone(ctx, p.resolveOne(pth))
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}

	var out []uuid.UUID
	for _, id := range ids {
		if !p.hasAncestorIn(id, seen) {
			out = append(out, id)
		}
	}
	return out
}

// escalateGone walks from id toward the root until it finds an instance
// whose representative contributing path still exists on the filesystem.
func (p *Processor) escalateGone(ctx context.Context, id uuid.UUID) uuid.UUID {
	for {
		view, err := p.tr.Get(id)
		if err != nil || !view.HasParent || len(view.ContributingPaths) == 0 {
			return id
		}
		if _, err := p.fs.Stat(ctx, view.ContributingPaths[0]); err == nil {
			return id
		}
		id = view.Parent
	}
}

// hasAncestorIn reports whether any strict ancestor of id is in set.
func (p *Processor) hasAncestorIn(id uuid.UUID, set map[uuid.UUID]bool) bool {
	for {
		view, err := p.tr.Get(id)
		if err != nil || !view.HasParent {
			return false
		}
		if set[view.Parent] {
			return true
		}
		id = view.Parent
	}
}

func (p *Processor) resolveOne(changed string) uuid.UUID {
	cur := changed
	for {
		if ids := p.tr.GetByPath(cur); len(ids) > 0 {
			return ids[0]
		}
		if cur == "" {
			return p.tr.RootID()
		}
		cur = parentDir(cur)
	}
}

func parentDir(p string) string {
	idx := strings.LastIndex(p, "/")
	if idx < 0 {
		return ""
	}
	return p[:idx]
}
