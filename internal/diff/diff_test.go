package diff

import (
	"errors"
	"testing"

	"github.com/jra3/domesync/internal/domerr"
	"github.com/jra3/domesync/internal/snapshot"
	"github.com/jra3/domesync/internal/tree"
)

func rootSnap(children ...snapshot.Snapshot) snapshot.Snapshot {
	return snapshot.New("DataModel", "Root", snapshot.PropertyMap{}, children, "project", "default.project.json")
}

func scriptSnap(name, source, path string) snapshot.Snapshot {
	return snapshot.New("Script", name, snapshot.PropertyMap{"Source": snapshot.String(source)}, nil, "text", path)
}

func TestDiffAddedChild(t *testing.T) {
	tr := tree.New(rootSnap(scriptSnap("A", "1", "src/A.lua")))

	target := rootSnap(
		scriptSnap("A", "1", "src/A.lua"),
		scriptSnap("B", "2", "src/B.lua"),
	)
	batch, err := Diff(tr, tr.RootID(), target)
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	if len(batch) != 1 || batch[0].Kind != snapshot.PatchAdded || batch[0].Snapshot.Name != "B" {
		t.Fatalf("batch = %+v", batch)
	}

	if err := Apply(tr, batch); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if tr.Len() != 3 {
		t.Errorf("Len = %d, want 3", tr.Len())
	}
}

func TestDiffRemovedChild(t *testing.T) {
	tr := tree.New(rootSnap(scriptSnap("A", "1", "src/A.lua"), scriptSnap("B", "2", "src/B.lua")))
	target := rootSnap(scriptSnap("A", "1", "src/A.lua"))

	batch, err := Diff(tr, tr.RootID(), target)
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	if len(batch) != 1 || batch[0].Kind != snapshot.PatchRemoved {
		t.Fatalf("batch = %+v", batch)
	}
	if err := Apply(tr, batch); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if tr.Len() != 2 {
		t.Errorf("Len = %d, want 2", tr.Len())
	}
}

func TestDiffUpdatedProperty(t *testing.T) {
	tr := tree.New(rootSnap(scriptSnap("A", "1", "src/A.lua")))
	target := rootSnap(scriptSnap("A", "2", "src/A.lua"))

	batch, err := Diff(tr, tr.RootID(), target)
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	if len(batch) != 1 || batch[0].Kind != snapshot.PatchUpdated {
		t.Fatalf("batch = %+v", batch)
	}
	if err := Apply(tr, batch); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	root, _ := tr.Get(tr.RootID())
	child, _ := tr.Get(root.Children[0])
	if child.Properties["Source"].AsString() != "2" {
		t.Errorf("Source = %q, want 2", child.Properties["Source"].AsString())
	}
}

func TestDiffNoChangeEmptyBatch(t *testing.T) {
	tr := tree.New(rootSnap(scriptSnap("A", "1", "src/A.lua")))
	target := rootSnap(scriptSnap("A", "1", "src/A.lua"))

	batch, err := Diff(tr, tr.RootID(), target)
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	if len(batch) != 0 {
		t.Errorf("batch = %+v, want empty", batch)
	}
}

func TestDiffReorderedChildrenEmitsRemoveAddPair(t *testing.T) {
	tr := tree.New(rootSnap(scriptSnap("A", "1", "src/A.lua"), scriptSnap("B", "2", "src/B.lua")))
	target := rootSnap(
		scriptSnap("B", "2", "src/B.lua"),
		scriptSnap("A", "1", "src/A.lua"),
	)

	root, _ := tr.Get(tr.RootID())
	oldB := root.Children[1]

	batch, err := Diff(tr, tr.RootID(), target)
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	if len(batch) != 2 {
		t.Fatalf("batch = %+v, want 2 patches (Remove+Add for the reordered child)", batch)
	}
	if batch[0].Kind != snapshot.PatchRemoved || batch[0].ID != oldB {
		t.Fatalf("batch[0] = %+v, want Removed(%s)", batch[0], oldB)
	}
	if batch[1].Kind != snapshot.PatchAdded || batch[1].Snapshot.Name != "B" || batch[1].Index != 0 {
		t.Fatalf("batch[1] = %+v, want Added(B) at index 0", batch[1])
	}

	if err := Apply(tr, batch); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	newRoot, _ := tr.Get(tr.RootID())
	if len(newRoot.Children) != 2 {
		t.Fatalf("Children = %+v, want 2", newRoot.Children)
	}
	first, _ := tr.Get(newRoot.Children[0])
	second, _ := tr.Get(newRoot.Children[1])
	if first.Name != "B" || second.Name != "A" {
		t.Fatalf("children order = [%s, %s], want [B, A]", first.Name, second.Name)
	}

	result, err := tr.Snapshot(tr.RootID())
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if !result.Equal(target) {
		t.Fatalf("Snapshot(tr) = %+v, want structurally equal to target %+v", result, target)
	}
}

func TestDiffIgnoreUnknownChildrenSuppressesRemoval(t *testing.T) {
	tr := tree.New(rootSnap(
		scriptSnap("A", "1", "src/A.lua"),
		scriptSnap("B", "2", "src/B.lua"),
	))

	target := rootSnap(scriptSnap("A", "1", "src/A.lua"))
	target.Flags.IgnoreUnknownChildren = true

	batch, err := Diff(tr, tr.RootID(), target)
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	for _, p := range batch {
		if p.Kind == snapshot.PatchRemoved {
			t.Fatalf("batch = %+v, want no Removed patches with ignore-unknown-children set", batch)
		}
	}

	root, _ := tr.Get(tr.RootID())
	if len(root.Children) != 2 {
		t.Errorf("Children = %v, want B left in place", root.Children)
	}
}

func TestApplyRejectsPatchOnCascadeRemovedTarget(t *testing.T) {
	moduleSnap := snapshot.New("Folder", "Module", snapshot.PropertyMap{}, []snapshot.Snapshot{
		scriptSnap("Sub", "1", "src/Module/Sub.lua"),
	}, "directory", "src/Module")
	tr := tree.New(rootSnap(moduleSnap))

	root, _ := tr.Get(tr.RootID())
	moduleID := root.Children[0]
	moduleView, _ := tr.Get(moduleID)
	subID := moduleView.Children[0]

	bad := snapshot.Batch{
		snapshot.Removed(moduleID),
		snapshot.Updated(subID, snapshot.PropertyDelta{"Source": snapshot.String("2")}, nil, nil),
	}
	if err := Apply(tr, bad); !errors.Is(err, domerr.ErrBatchInvalid) {
		t.Fatalf("err = %v, want ErrBatchInvalid", err)
	}
	if _, err := tr.Get(moduleID); err != nil {
		t.Error("Tree mutated by rejected batch: Module is gone")
	}
}

func TestApplyRejectsInvalidBatch(t *testing.T) {
	tr := tree.New(rootSnap(scriptSnap("A", "1", "src/A.lua")))
	bogus := snapshot.Batch{snapshot.Removed(tr.RootID())}

	if err := Apply(tr, bogus); err == nil {
		t.Fatal("expected error removing root via batch")
	} else if !errors.Is(err, domerr.ErrBatchInvalid) {
		t.Errorf("error = %v, want ErrBatchInvalid", err)
	}
	if tr.Len() != 2 {
		t.Errorf("Tree mutated by invalid batch: Len = %d", tr.Len())
	}
}
