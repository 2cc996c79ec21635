// Package memfs is a deterministic in-memory vfs.FS backend used to drive
// domesync's tests without touching the real filesystem. Scenarios S1-S6
// in spec.md §8 are written against this backend.
package memfs

import (
	"context"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jra3/domesync/internal/domerr"
	"github.com/jra3/domesync/internal/vfs"
)

type node struct {
	kind    vfs.Kind
	data    []byte // File/Symlink content (symlink target for Symlink)
	modTime time.Time
}

// FS is an in-memory vfs.FS. The zero value is not usable; use New.
type FS struct {
	mu       sync.Mutex
	nodes    map[string]*node // path -> node, "" is the root directory
	watches  map[string]bool
	events   chan vfs.Event
	closed   bool
	readLog  *vfs.ReadCache
}

// New returns an empty in-memory filesystem rooted at "".
func New() *FS {
	f := &FS{
		nodes:   map[string]*node{"": {kind: vfs.Dir, modTime: time.Now()}},
		watches: make(map[string]bool),
		events:  make(chan vfs.Event, 256),
		readLog: vfs.NewReadCache(),
	}
	return f
}

func clean(p string) string {
	p = strings.Trim(path.Clean("/"+p), "/")
	if p == "." {
		return ""
	}
	return p
}

func parentOf(p string) string {
	idx := strings.LastIndex(p, "/")
	if idx < 0 {
		return ""
	}
	return p[:idx]
}

// resolveLocked resolves p through symlink nodes, always chasing
// intermediate components and chasing the final one only when followLast
// is set (open-style versus lstat-style lookup). Resolution gives up
// after a fixed hop budget, so a symlink cycle reads as NotFound, the
// same way the OS reports ELOOP. Caller must hold f.mu.
func (f *FS) resolveLocked(p string, followLast bool) (string, *node, bool) {
	const maxHops = 40
	if p == "" {
		n, ok := f.nodes[""]
		return "", n, ok
	}
	hops := 0
	parts := strings.Split(p, "/")
	cur := ""
	for i, part := range parts {
		if cur == "" {
			cur = part
		} else {
			cur = cur + "/" + part
		}
		last := i == len(parts)-1
		for {
			n, ok := f.nodes[cur]
			if !ok {
				return cur, nil, false
			}
			if n.kind != vfs.Symlink || (last && !followLast) {
				break
			}
			hops++
			if hops > maxHops {
				return cur, nil, false
			}
			cur = clean(string(n.data))
		}
	}
	n, ok := f.nodes[cur]
	return cur, n, ok
}

// ensureDirs creates any missing ancestor directory nodes for p.
func (f *FS) ensureDirs(p string) {
	cur := parentOf(p)
	var stack []string
	for cur != "" {
		if _, ok := f.nodes[cur]; ok {
			break
		}
		stack = append(stack, cur)
		cur = parentOf(cur)
	}
	for i := len(stack) - 1; i >= 0; i-- {
		f.nodes[stack[i]] = &node{kind: vfs.Dir, modTime: time.Now()}
	}
}

// WriteFile creates or overwrites a file, emitting Created or Written.
func (f *FS) WriteFile(p string, data []byte) {
	p = clean(p)
	f.mu.Lock()
	_, existed := f.nodes[p]
	f.ensureDirs(p)
	f.nodes[p] = &node{kind: vfs.File, data: append([]byte(nil), data...), modTime: time.Now()}
	f.readLog.Invalidate(p)
	f.mu.Unlock()

	if existed {
		f.emit(vfs.Event{Kind: vfs.Written, Path: p})
	} else {
		f.emit(vfs.Event{Kind: vfs.Created, Path: p})
	}
}

// Mkdir creates a directory node, emitting Created.
func (f *FS) Mkdir(p string) {
	p = clean(p)
	f.mu.Lock()
	f.ensureDirs(p)
	f.nodes[p] = &node{kind: vfs.Dir, modTime: time.Now()}
	f.mu.Unlock()
	f.emit(vfs.Event{Kind: vfs.Created, Path: p})
}

// Symlink creates a symlink node pointing at target, emitting Created.
func (f *FS) Symlink(p, target string) {
	p = clean(p)
	f.mu.Lock()
	f.ensureDirs(p)
	f.nodes[p] = &node{kind: vfs.Symlink, data: []byte(target), modTime: time.Now()}
	f.mu.Unlock()
	f.emit(vfs.Event{Kind: vfs.Created, Path: p})
}

// Remove deletes p and everything nested under it, emitting a single
// Removed event for p and none for the nested paths (the Change
// Processor only needs the root of the removal).
func (f *FS) Remove(p string) {
	p = clean(p)
	prefix := p + "/"
	f.mu.Lock()
	delete(f.nodes, p)
	for k := range f.nodes {
		if strings.HasPrefix(k, prefix) {
			delete(f.nodes, k)
		}
	}
	f.readLog.Invalidate(p)
	f.mu.Unlock()
	f.emit(vfs.Event{Kind: vfs.Removed, Path: p})
}

func (f *FS) emit(e vfs.Event) {
	f.mu.Lock()
	closed := f.closed
	f.mu.Unlock()
	if closed {
		return
	}
	select {
	case f.events <- e:
	default:
		// Slow consumer: drop rather than block the fixture driver.
		// Real drains happen fast enough in tests; production backends
		// (osfs) size their channel for the real event rate.
	}
}

func (f *FS) Read(ctx context.Context, p string) ([]byte, error) {
	p = clean(p)
	f.mu.Lock()
	rp, n, ok := f.resolveLocked(p, true)
	f.mu.Unlock()
	if !ok || n.kind == vfs.Dir {
		return nil, &domerr.IoError{Path: p, Cause: domerr.ErrNotFound}
	}
	if data, _, ok := f.readLog.Get(rp); ok {
		return data, nil
	}
	f.readLog.Put(rp, n.data)
	return n.data, nil
}

func (f *FS) ReadDir(ctx context.Context, p string) ([]vfs.DirEntry, error) {
	p = clean(p)
	f.mu.Lock()
	defer f.mu.Unlock()

	rp, n, ok := f.resolveLocked(p, true)
	if !ok || n.kind != vfs.Dir {
		return nil, &domerr.IoError{Path: p, Cause: domerr.ErrNotFound}
	}

	prefix := rp
	if prefix != "" {
		prefix += "/"
	}
	seen := make(map[string]vfs.Kind)
	for k, n := range f.nodes {
		if k == rp || !strings.HasPrefix(k, prefix) {
			continue
		}
		rest := k[len(prefix):]
		if idx := strings.Index(rest, "/"); idx >= 0 {
			name := rest[:idx]
			if _, ok := seen[name]; !ok {
				seen[name] = vfs.Dir
			}
			continue
		}
		seen[rest] = n.kind
	}

	entries := make([]vfs.DirEntry, 0, len(seen))
	for name, kind := range seen {
		entries = append(entries, vfs.DirEntry{Name: name, Kind: kind})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

func (f *FS) Stat(ctx context.Context, p string) (vfs.Metadata, error) {
	p = clean(p)
	f.mu.Lock()
	defer f.mu.Unlock()
	_, n, ok := f.resolveLocked(p, false)
	if !ok {
		return vfs.Metadata{}, &domerr.IoError{Path: p, Cause: domerr.ErrNotFound}
	}
	return vfs.Metadata{Kind: n.kind, LastModTime: n.modTime.UnixNano()}, nil
}

// RealPath resolves every symlink component of p.
func (f *FS) RealPath(ctx context.Context, p string) (string, error) {
	p = clean(p)
	f.mu.Lock()
	rp, _, ok := f.resolveLocked(p, true)
	f.mu.Unlock()
	if !ok {
		return "", &domerr.IoError{Path: p, Cause: domerr.ErrNotFound}
	}
	return rp, nil
}

func (f *FS) Subscribe() <-chan vfs.Event { return f.events }

func (f *FS) Watch(p string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.watches[clean(p)] = true
	return nil
}

func (f *FS) Unwatch(p string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.watches, clean(p))
	return nil
}

func (f *FS) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.events)
	}
	return nil
}

var _ vfs.FS = (*FS)(nil)
