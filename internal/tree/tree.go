// Package tree implements the authoritative live Instance graph
// (spec.md §3, §4.3), an arena keyed by google/uuid identifiers,
// protected by a single lock in the style of ipfs-go-mfs's
// lock-protected Root/Directory, adapted to hold explicit parent/child
// identifier slices instead of a content-addressed DAG (see DESIGN.md).
package tree

import (
	"fmt"
	"iter"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/jra3/domesync/internal/domerr"
	"github.com/jra3/domesync/internal/snapshot"
)

// Instance is a node in the Tree (spec.md §3).
type Instance struct {
	ID         uuid.UUID
	ClassName  string
	Name       string
	Properties snapshot.PropertyMap
	Children   []uuid.UUID // ordered; order is significant (I1)

	Parent   uuid.UUID
	HasParent bool // false only for the root (spec.md §3)

	ContributingPaths []string
	Middleware        string
	Flags             snapshot.Flags
}

// Tree owns the Instance graph and maintains invariants I1-I4 (spec.md §3).
type Tree struct {
	mu        sync.RWMutex
	root      uuid.UUID
	nodes     map[uuid.UUID]*Instance
	pathIndex map[string]map[uuid.UUID]bool
}

// New constructs a Tree from the initial root snapshot (spec.md §3
// Lifecycle: "The Tree is constructed once at session start by applying
// the initial snapshot"). The root identifier is fixed for the Tree's
// lifetime (I4).
func New(root snapshot.Snapshot) *Tree {
	t := &Tree{
		nodes:     make(map[uuid.UUID]*Instance),
		pathIndex: make(map[string]map[uuid.UUID]bool),
	}
	rootID := uuid.New()
	t.root = rootID
	t.addSubtree(rootID, uuid.Nil, false, root)
	return t
}

// RootID returns the fixed root identifier (I4).
func (t *Tree) RootID() uuid.UUID {
	return t.root
}

// addSubtree installs snap and all of its descendants rooted at id,
// whose parent is `parent` (ignored when hasParent is false). Caller
// must hold the write lock.
func (t *Tree) addSubtree(id, parent uuid.UUID, hasParent bool, snap snapshot.Snapshot) {
	inst := &Instance{
		ID:                id,
		ClassName:         snap.ClassName,
		Name:              snap.Name,
		Properties:        snap.Properties.Clone(),
		Parent:            parent,
		HasParent:         hasParent,
		ContributingPaths: append([]string(nil), snap.ContributingPaths...),
		Middleware:        snap.Middleware,
		Flags:             snap.Flags,
	}
	t.nodes[id] = inst
	t.indexPaths(id, inst.ContributingPaths)

	for _, child := range snap.Children {
		childID := uuid.New()
		inst.Children = append(inst.Children, childID)
		t.addSubtree(childID, id, true, child)
	}
}

func (t *Tree) indexPaths(id uuid.UUID, paths []string) {
	for _, p := range paths {
		set, ok := t.pathIndex[p]
		if !ok {
			set = make(map[uuid.UUID]bool)
			t.pathIndex[p] = set
		}
		set[id] = true
	}
}

func (t *Tree) unindexPaths(id uuid.UUID, paths []string) {
	for _, p := range paths {
		set, ok := t.pathIndex[p]
		if !ok {
			continue
		}
		delete(set, id)
		if len(set) == 0 {
			delete(t.pathIndex, p)
		}
	}
}

// Insert allocates a new identifier and adds snap (and its descendants)
// as a child of parent at the given index, returning the new root
// identifier (spec.md §4.3).
func (t *Tree) Insert(parent uuid.UUID, index int, snap snapshot.Snapshot) (uuid.UUID, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	parentInst, ok := t.nodes[parent]
	if !ok {
		return uuid.Nil, fmt.Errorf("insert: parent %s: %w", parent, domerr.ErrNotFound)
	}

	id := uuid.New()
	t.addSubtree(id, parent, true, snap)

	if index < 0 || index > len(parentInst.Children)-1 {
		parentInst.Children = append(parentInst.Children, id)
	} else {
		children := make([]uuid.UUID, 0, len(parentInst.Children)+1)
		children = append(children, parentInst.Children[:index]...)
		children = append(children, id)
		children = append(children, parentInst.Children[index:]...)
		parentInst.Children = children
	}
	return id, nil
}

// Remove deletes id and all of its descendants (spec.md §4.3). Removing
// the root is rejected.
func (t *Tree) Remove(id uuid.UUID) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remove(id)
}

func (t *Tree) remove(id uuid.UUID) error {
	if id == t.root {
		return domerr.ErrRemoveRoot
	}
	inst, ok := t.nodes[id]
	if !ok {
		return fmt.Errorf("remove: %s: %w", id, domerr.ErrNotFound)
	}

	// Remove descendants bottom-up first.
	for _, child := range append([]uuid.UUID(nil), inst.Children...) {
		if err := t.remove(child); err != nil {
			return err
		}
	}

	if inst.HasParent {
		if parentInst, ok := t.nodes[inst.Parent]; ok {
			parentInst.Children = removeUUID(parentInst.Children, id)
		}
	}

	t.unindexPaths(id, inst.ContributingPaths)
	delete(t.nodes, id)
	return nil
}

func removeUUID(s []uuid.UUID, target uuid.UUID) []uuid.UUID {
	out := s[:0]
	for _, v := range s {
		if v != target {
			out = append(out, v)
		}
	}
	return out
}

// Update mutates id's property map, name, and class in place (spec.md
// §4.3). Property-delta entries holding an Unset remove the property.
func (t *Tree) Update(id uuid.UUID, delta snapshot.PropertyDelta, newName, newClass *string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	inst, ok := t.nodes[id]
	if !ok {
		return fmt.Errorf("update: %s: %w", id, domerr.ErrNotFound)
	}

	if inst.Properties == nil {
		inst.Properties = snapshot.PropertyMap{}
	}
	for k, v := range delta {
		if _, isUnset := v.(snapshot.Unset); isUnset {
			delete(inst.Properties, k)
			continue
		}
		inst.Properties[k] = v.(snapshot.Value)
	}

	if newName != nil {
		inst.Name = *newName
	}
	if newClass != nil {
		inst.ClassName = *newClass
	}
	return nil
}

// View is a read-only copy of an Instance, safe to retain after the
// Tree's lock is released.
type View struct {
	ID                uuid.UUID
	ClassName         string
	Name              string
	Properties        snapshot.PropertyMap
	Children          []uuid.UUID
	Parent            uuid.UUID
	HasParent         bool
	ContributingPaths []string
	Middleware        string
	Flags             snapshot.Flags
}

func toView(inst *Instance) View {
	return View{
		ID:                inst.ID,
		ClassName:         inst.ClassName,
		Name:              inst.Name,
		Properties:        inst.Properties.Clone(),
		Children:          append([]uuid.UUID(nil), inst.Children...),
		Parent:            inst.Parent,
		HasParent:         inst.HasParent,
		ContributingPaths: append([]string(nil), inst.ContributingPaths...),
		Middleware:        inst.Middleware,
		Flags:             inst.Flags,
	}
}

// Get returns a View of id: a copy of its current state (spec.md §4.3).
func (t *Tree) Get(id uuid.UUID) (View, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	inst, ok := t.nodes[id]
	if !ok {
		return View{}, fmt.Errorf("get: %s: %w", id, domerr.ErrNotFound)
	}
	return toView(inst), nil
}

// GetByPath returns the set of identifiers whose contributing paths
// include path (spec.md §4.3, the Path Index reverse lookup).
func (t *Tree) GetByPath(path string) []uuid.UUID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	set, ok := t.pathIndex[path]
	if !ok {
		return nil
	}
	out := make([]uuid.UUID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// Descendants returns a lazy sequence of id's descendants in document
// order (spec.md §4.3).
func (t *Tree) Descendants(id uuid.UUID) iter.Seq[uuid.UUID] {
	return func(yield func(uuid.UUID) bool) {
		t.mu.RLock()
		defer t.mu.RUnlock()
		var walk func(uuid.UUID) bool
		walk = func(cur uuid.UUID) bool {
			inst, ok := t.nodes[cur]
			if !ok {
				return true
			}
			for _, child := range inst.Children {
				if !yield(child) {
					return false
				}
				if !walk(child) {
					return false
				}
			}
			return true
		}
		walk(id)
	}
}

// Len returns the number of instances currently in the Tree (for metrics
// and tests).
func (t *Tree) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.nodes)
}

// Snapshot reconstructs an identity-free snapshot.Snapshot of id and its
// descendants as they currently exist in the Tree (used by the Serve
// Session's window-overflow resync path).
func (t *Tree) Snapshot(id uuid.UUID) (snapshot.Snapshot, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.snapshotLocked(id)
}

func (t *Tree) snapshotLocked(id uuid.UUID) (snapshot.Snapshot, error) {
	inst, ok := t.nodes[id]
	if !ok {
		return snapshot.Snapshot{}, fmt.Errorf("snapshot: %s: %w", id, domerr.ErrNotFound)
	}
	children := make([]snapshot.Snapshot, 0, len(inst.Children))
	for _, childID := range inst.Children {
		child, err := t.snapshotLocked(childID)
		if err != nil {
			return snapshot.Snapshot{}, err
		}
		children = append(children, child)
	}
	return snapshot.Snapshot{
		ClassName:         inst.ClassName,
		Name:              inst.Name,
		Properties:        inst.Properties.Clone(),
		Children:          children,
		ContributingPaths: append([]string(nil), inst.ContributingPaths...),
		Middleware:        inst.Middleware,
		Flags:             inst.Flags,
	}, nil
}
