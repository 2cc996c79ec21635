package diff

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/jra3/domesync/internal/domerr"
	"github.com/jra3/domesync/internal/snapshot"
	"github.com/jra3/domesync/internal/tree"
)

// Apply validates and then applies batch to tr as a single atomic unit
// (spec.md §4.4 Apply: "either the whole batch takes effect, or the Tree
// is left exactly as it was"). Validation failures never mutate tr.
func Apply(tr *tree.Tree, batch snapshot.Batch) error {
	if err := validate(tr, batch); err != nil {
		return err
	}
	for _, p := range batch {
		switch p.Kind {
		case snapshot.PatchAdded:
			if _, err := tr.Insert(p.Parent, p.Index, p.Snapshot); err != nil {
				return fmt.Errorf("apply added patch: %w", err)
			}
		case snapshot.PatchRemoved:
			if err := tr.Remove(p.ID); err != nil {
				return fmt.Errorf("apply removed patch: %w", err)
			}
		case snapshot.PatchUpdated:
			if err := tr.Update(p.ID, p.Properties, p.NewName, p.NewClass); err != nil {
				return fmt.Errorf("apply updated patch: %w", err)
			}
		}
	}
	return nil
}

// validate checks every patch against the Tree's current state before
// any mutation happens (spec.md §4.4, §7 BatchInvalid). Removed patches
// cascade, so validation tracks which identifiers each Removed would
// take with it: a later patch targeting one of them would fail mid-apply
// and must be rejected here instead.
func validate(tr *tree.Tree, batch snapshot.Batch) error {
	removed := make(map[uuid.UUID]bool)
	for _, p := range batch {
		switch p.Kind {
		case snapshot.PatchAdded:
			if removed[p.Parent] {
				return fmt.Errorf("%w: added patch parent %s removed earlier in batch", domerr.ErrBatchInvalid, p.Parent)
			}
			if _, err := tr.Get(p.Parent); err != nil {
				return fmt.Errorf("%w: added patch parent %s not found", domerr.ErrBatchInvalid, p.Parent)
			}
		case snapshot.PatchRemoved:
			if p.ID == tr.RootID() {
				return fmt.Errorf("%w: batch attempts to remove root", domerr.ErrBatchInvalid)
			}
			if removed[p.ID] {
				return fmt.Errorf("%w: removed patch target %s removed earlier in batch", domerr.ErrBatchInvalid, p.ID)
			}
			if _, err := tr.Get(p.ID); err != nil {
				return fmt.Errorf("%w: removed patch target %s not found", domerr.ErrBatchInvalid, p.ID)
			}
			removed[p.ID] = true
			for id := range tr.Descendants(p.ID) {
				removed[id] = true
			}
		case snapshot.PatchUpdated:
			if removed[p.ID] {
				return fmt.Errorf("%w: updated patch target %s removed earlier in batch", domerr.ErrBatchInvalid, p.ID)
			}
			if _, err := tr.Get(p.ID); err != nil {
				return fmt.Errorf("%w: updated patch target %s not found", domerr.ErrBatchInvalid, p.ID)
			}
		default:
			return fmt.Errorf("%w: unknown patch kind", domerr.ErrBatchInvalid)
		}
	}
	return nil
}
