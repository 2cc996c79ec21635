// Package snapshot defines the Snapshot value (spec.md §3): an immutable,
// identity-free description of an instance subtree, and the property
// Value variant type it is built from.
package snapshot

import "sort"

// Flags carries the boolean metadata a Snapshot's provenance can set
// (spec.md §3 "flags such as whether properties were explicitly set").
type Flags struct {
	// ExplicitProperties lists property names the filesystem input set
	// directly, as opposed to ones filled in by a default.
	ExplicitProperties map[string]bool
	// IgnoreUnknownChildren is set by a sidecar (spec.md §4.2) to suppress
	// diffing against filesystem children the middleware didn't produce.
	IgnoreUnknownChildren bool
	// Error marks a synthesized error snapshot (spec.md §4.2 Failure).
	Error bool
}

// Equal compares flags, ignoring ExplicitProperties key order (maps are
// never directly comparable with ==).
func (f Flags) Equal(other Flags) bool {
	if f.IgnoreUnknownChildren != other.IgnoreUnknownChildren || f.Error != other.Error {
		return false
	}
	if len(f.ExplicitProperties) != len(other.ExplicitProperties) {
		return false
	}
	for k, v := range f.ExplicitProperties {
		if other.ExplicitProperties[k] != v {
			return false
		}
	}
	return true
}

// Snapshot is an immutable description of an instance and its
// descendants as they should appear. Snapshots carry no identifier:
// positional identity only (spec.md §3).
type Snapshot struct {
	ClassName string
	Name      string
	Properties PropertyMap
	Children   []Snapshot

	// ContributingPaths are the filesystem paths whose existence
	// produced this node (spec.md §3). Order is insignificant; always
	// sorted for deterministic equality (spec.md §4.2 Determinism).
	ContributingPaths []string

	// Middleware names the rule that produced this snapshot (spec.md §3).
	Middleware string

	Flags Flags
}

// New returns a Snapshot with sorted, deduplicated contributing paths.
func New(className, name string, props PropertyMap, children []Snapshot, middleware string, paths ...string) Snapshot {
	return Snapshot{
		ClassName:         className,
		Name:              name,
		Properties:        props,
		Children:          children,
		ContributingPaths: sortedUnique(paths),
		Middleware:        middleware,
	}
}

func sortedUnique(paths []string) []string {
	if len(paths) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(paths))
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

// Error returns a synthesized error snapshot for path, preserving
// className where known so the Tree keeps its shape (spec.md §4.2
// Failure). The failure's cause is not part of the snapshot; reporting it
// is left to the caller (Snapshots must stay comparable).
func Error(className, name, path string) Snapshot {
	return Snapshot{
		ClassName:         className,
		Name:              name,
		Properties:        PropertyMap{},
		ContributingPaths: []string{path},
		Middleware:        "error",
		Flags:             Flags{Error: true},
	}
}

// Equal reports structural equality between two snapshots (spec.md §4.2
// Determinism: "Identical inputs yield identical snapshots").
func (s Snapshot) Equal(other Snapshot) bool {
	if s.ClassName != other.ClassName || s.Name != other.Name {
		return false
	}
	if !s.Properties.Equal(other.Properties) {
		return false
	}
	if !s.Flags.Equal(other.Flags) {
		return false
	}
	if len(s.Children) != len(other.Children) {
		return false
	}
	for i := range s.Children {
		if !s.Children[i].Equal(other.Children[i]) {
			return false
		}
	}
	return true
}
