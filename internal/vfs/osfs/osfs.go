// Package osfs backs vfs.FS with the real filesystem, using fsnotify for
// change notification (SPEC_FULL.md §4.1 — fsnotify is the ecosystem's
// standard real-filesystem watcher for this shape of tool, per the
// other_examples/manifests survey).
package osfs

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/jra3/domesync/internal/domerr"
	"github.com/jra3/domesync/internal/vfs"
)

// FS is a vfs.FS backed by the real filesystem rooted at Root.
type FS struct {
	Root string

	watcher *fsnotify.Watcher
	cache   *vfs.ReadCache
	events  chan vfs.Event
	diags   chan error

	mu      sync.Mutex
	watched map[string]bool
}

// New creates an osfs.FS rooted at root and starts its fsnotify watcher.
func New(root string) (*FS, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, &domerr.IoError{Path: root, Cause: err}
	}

	f := &FS{
		Root:    root,
		watcher: w,
		cache:   vfs.NewReadCache(),
		events:  make(chan vfs.Event, 1024),
		diags:   make(chan error, 16),
		watched: make(map[string]bool),
	}

	if err := f.Watch(""); err != nil {
		w.Close()
		return nil, err
	}

	go f.pump()
	return f, nil
}

func (f *FS) abs(p string) string {
	if p == "" {
		return f.Root
	}
	return filepath.Join(f.Root, filepath.FromSlash(p))
}

func (f *FS) rel(abs string) string {
	r, err := filepath.Rel(f.Root, abs)
	if err != nil {
		return abs
	}
	if r == "." {
		return ""
	}
	return filepath.ToSlash(r)
}

func (f *FS) pump() {
	for {
		select {
		case ev, ok := <-f.watcher.Events:
			if !ok {
				close(f.events)
				return
			}
			f.handle(ev)
		case _, ok := <-f.watcher.Errors:
			if !ok {
				return
			}
			// Surfaced errors are not fatal to the session (spec.md §7);
			// a subsequent read of the affected path will return IoError.
		}
	}
}

func (f *FS) handle(ev fsnotify.Event) {
	p := f.rel(ev.Name)
	f.cache.Invalidate(p)

	var kind vfs.EventKind
	switch {
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		kind = vfs.Removed
	case ev.Has(fsnotify.Create):
		kind = vfs.Created
		// A newly created directory needs its own watch registered so its
		// children also generate events.
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			f.Watch(p)
		}
	case ev.Has(fsnotify.Write):
		kind = vfs.Written
	default:
		return
	}

	select {
	case f.events <- vfs.Event{Kind: kind, Path: p}:
	default:
		// Back-pressure: drop rather than block the fsnotify pump; the
		// Change Processor's next full recompute of the parent directory
		// will still observe the final state.
	}
}

func (f *FS) Read(ctx context.Context, p string) ([]byte, error) {
	if data, _, ok := f.cache.Get(p); ok {
		return data, nil
	}
	data, err := os.ReadFile(f.abs(p))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &domerr.IoError{Path: p, Cause: domerr.ErrNotFound}
		}
		return nil, &domerr.IoError{Path: p, Cause: err}
	}
	f.cache.Put(p, data)
	return data, nil
}

func (f *FS) ReadDir(ctx context.Context, p string) ([]vfs.DirEntry, error) {
	entries, err := os.ReadDir(f.abs(p))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &domerr.IoError{Path: p, Cause: domerr.ErrNotFound}
		}
		return nil, &domerr.IoError{Path: p, Cause: err}
	}

	out := make([]vfs.DirEntry, 0, len(entries))
	for _, e := range entries {
		kind := vfs.File
		switch {
		case e.Type()&fs.ModeSymlink != 0:
			if f.isCycle(filepath.Join(f.abs(p), e.Name())) {
				rel := e.Name()
				if p != "" {
					rel = p + "/" + e.Name()
				}
				f.diagnose(&domerr.IoError{Path: rel, Cause: domerr.ErrSymlinkCycle})
				continue
			}
			kind = vfs.Symlink
		case e.IsDir():
			kind = vfs.Dir
		}
		out = append(out, vfs.DirEntry{Name: e.Name(), Kind: kind})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (f *FS) Stat(ctx context.Context, p string) (vfs.Metadata, error) {
	info, err := os.Lstat(f.abs(p))
	if err != nil {
		if os.IsNotExist(err) {
			return vfs.Metadata{}, &domerr.IoError{Path: p, Cause: domerr.ErrNotFound}
		}
		return vfs.Metadata{}, &domerr.IoError{Path: p, Cause: err}
	}
	kind := vfs.File
	switch {
	case info.Mode()&os.ModeSymlink != 0:
		kind = vfs.Symlink
	case info.IsDir():
		kind = vfs.Dir
	}
	return vfs.Metadata{Kind: kind, LastModTime: info.ModTime().UnixNano()}, nil
}

// RealPath resolves every symlink component of p against the real
// filesystem.
func (f *FS) RealPath(ctx context.Context, p string) (string, error) {
	resolved, err := filepath.EvalSymlinks(f.abs(p))
	if err != nil {
		return "", &domerr.IoError{Path: p, Cause: err}
	}
	return f.rel(resolved), nil
}

func (f *FS) Subscribe() <-chan vfs.Event { return f.events }

// Diagnostics delivers non-fatal IoError-class conditions the FS has
// observed and routed around, currently symlink cycles refused during
// ReadDir (spec.md §7: recovered locally, reported out-of-band).
func (f *FS) Diagnostics() <-chan error { return f.diags }

func (f *FS) diagnose(err error) {
	select {
	case f.diags <- err:
	default:
	}
}

func (f *FS) Watch(p string) error {
	abs := f.abs(p)
	return filepath.WalkDir(abs, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil //nolint:nilerr // best-effort watch registration
		}
		if !d.IsDir() {
			return nil
		}
		f.mu.Lock()
		already := f.watched[path]
		f.watched[path] = true
		f.mu.Unlock()
		if already {
			return nil
		}
		return f.watcher.Add(path)
	})
}

func (f *FS) Unwatch(p string) error {
	abs := f.abs(p)
	f.mu.Lock()
	defer f.mu.Unlock()
	for path := range f.watched {
		if path == abs || strings.HasPrefix(path, abs+string(filepath.Separator)) {
			f.watcher.Remove(path)
			delete(f.watched, path)
		}
	}
	return nil
}

func (f *FS) Close() error {
	return f.watcher.Close()
}

var _ vfs.FS = (*FS)(nil)
