// Package vfs defines the read-through filesystem abstraction consumed by
// the rest of domesync (spec.md §4.1). It is pluggable: package osfs
// backs it with the real filesystem and fsnotify; package memfs backs it
// with an in-memory map for deterministic tests.
package vfs

import "context"

// Kind classifies a filesystem entry.
type Kind int

const (
	File Kind = iota
	Dir
	Symlink
)

func (k Kind) String() string {
	switch k {
	case File:
		return "file"
	case Dir:
		return "dir"
	case Symlink:
		return "symlink"
	default:
		return "unknown"
	}
}

// DirEntry is one entry returned by ReadDir, sorted lexicographically by
// Name within a given ReadDir call.
type DirEntry struct {
	Name string
	Kind Kind
}

// Metadata describes a path without reading its contents.
type Metadata struct {
	Kind        Kind
	LastModTime int64 // unix nanoseconds
}

// EventKind classifies a change notification.
type EventKind int

const (
	Written EventKind = iota
	Created
	Removed
)

func (k EventKind) String() string {
	switch k {
	case Written:
		return "written"
	case Created:
		return "created"
	case Removed:
		return "removed"
	default:
		return "unknown"
	}
}

// Event is a single change notification. Events for nonexistent paths are
// permitted: a Removed may reference a path never seen (spec.md §4.1).
type Event struct {
	Kind EventKind
	Path string
}

// FS is the read-through view a Serve Session operates over. All
// implementations must provide the causal guarantee from spec.md §4.1: a
// read issued strictly after an event for that path observes the
// post-event content.
type FS interface {
	// Read returns the contents of path. Reads are cached by path; the
	// cache entry is invalidated by a Written/Created/Removed event for
	// that path or an ancestor directory.
	Read(ctx context.Context, path string) ([]byte, error)

	// ReadDir lists path's direct children, sorted lexicographically by name.
	ReadDir(ctx context.Context, path string) ([]DirEntry, error)

	// Stat returns metadata for path without reading its contents.
	// Symlinks are not followed for the final path component, so a
	// symlink entry reports Kind == Symlink.
	Stat(ctx context.Context, path string) (Metadata, error)

	// RealPath returns path with every symlink component resolved. The
	// middleware uses it to refuse recursion through a symlink that
	// resolves back into one of its own ancestors.
	RealPath(ctx context.Context, path string) (string, error)

	// Subscribe returns a channel of change events. The channel is closed
	// when the FS is closed. Multiple writes to the same path between
	// drains may be coalesced into a single Written event.
	Subscribe() <-chan Event

	// Watch enables event generation for path's subtree.
	Watch(path string) error

	// Unwatch disables event generation for path's subtree.
	Unwatch(path string) error

	// Close releases any underlying resources (watchers, goroutines).
	Close() error
}
