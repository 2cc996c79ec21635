package snapshot

import "github.com/google/uuid"

// PatchKind tags the variant a Patch holds (spec.md §3).
type PatchKind int

const (
	PatchAdded PatchKind = iota
	PatchRemoved
	PatchUpdated
)

// Unset is the explicit "remove this property" marker used in an Updated
// patch's property delta (spec.md §3).
type Unset struct{}

// PropertyDelta maps a property name to either a new Value or Unset{}.
type PropertyDelta map[string]any

// Patch is one of Added | Removed | Updated (spec.md §3).
type Patch struct {
	Kind PatchKind

	// Added fields.
	Snapshot Snapshot
	Parent   uuid.UUID
	Index    int

	// Removed/Updated fields.
	ID uuid.UUID

	// Updated fields.
	Properties  PropertyDelta
	NewName     *string
	NewClass    *string
}

// Added builds an Added patch.
func Added(snap Snapshot, parent uuid.UUID, index int) Patch {
	return Patch{Kind: PatchAdded, Snapshot: snap, Parent: parent, Index: index}
}

// Removed builds a Removed patch.
func Removed(id uuid.UUID) Patch {
	return Patch{Kind: PatchRemoved, ID: id}
}

// Updated builds an Updated patch.
func Updated(id uuid.UUID, props PropertyDelta, newName, newClass *string) Patch {
	return Patch{Kind: PatchUpdated, ID: id, Properties: props, NewName: newName, NewClass: newClass}
}

// IsEmpty reports whether an Updated patch changes nothing (used to
// suppress no-op Updated patches from a Batch).
func (p Patch) IsEmpty() bool {
	return p.Kind == PatchUpdated && len(p.Properties) == 0 && p.NewName == nil && p.NewClass == nil
}

// Batch is an ordered list of Patches applied as a single atomic unit
// (spec.md §3). Order matters: parents of Added instances must precede
// their children (spec.md §4.5 Ordering).
type Batch []Patch
