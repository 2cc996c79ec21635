package processor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jra3/domesync/internal/config"
	"github.com/jra3/domesync/internal/logging"
	"github.com/jra3/domesync/internal/middleware"
	"github.com/jra3/domesync/internal/snapshot"
	"github.com/jra3/domesync/internal/tree"
	"github.com/jra3/domesync/internal/vfs/memfs"
)

type fakePublisher struct {
	mu      sync.Mutex
	batches []snapshot.Batch
}

func (f *fakePublisher) Publish(b snapshot.Batch) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, b)
}

func (f *fakePublisher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.batches)
}

func TestProcessorPicksUpNewFile(t *testing.T) {
	fs := memfs.New()
	fs.WriteFile("default.project.json", []byte(`{"name": "Game", "tree": {"className": "DataModel", "$path": "src"}}`))
	fs.WriteFile("src/A.lua", []byte("return 1"))

	mw := middleware.New(fs)
	ctx := context.Background()
	initial, err := mw.Snapshot(ctx, "default.project.json")
	if err != nil {
		t.Fatalf("initial Snapshot: %v", err)
	}
	tr := tree.New(initial)

	pub := &fakePublisher{}
	cfg := config.ProcessorConfig{DebounceWindow: 20 * time.Millisecond, RetryAttempts: 2, RetryBackoff: 5 * time.Millisecond}
	proc := New(fs, mw, tr, pub, cfg, logging.New("test", logging.ModeNever))

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go proc.Run(runCtx)

	fs.WriteFile("src/B.lua", []byte("return 2"))

	deadline := time.Now().Add(2 * time.Second)
	for pub.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if pub.count() == 0 {
		t.Fatal("expected at least one published batch")
	}

	root, _ := tr.Get(tr.RootID())
	found := false
	for _, childID := range root.Children {
		v, _ := tr.Get(childID)
		if v.Name == "B" {
			found = true
		}
	}
	if !found {
		t.Error("expected B to be added to the Tree")
	}
}

func TestProcessorRemovedDirectoryCascades(t *testing.T) {
	fs := memfs.New()
	fs.WriteFile("default.project.json", []byte(`{"name": "Game", "tree": {"className": "DataModel", "$path": "src"}}`))
	fs.WriteFile("src/A.lua", []byte("return 1"))
	fs.WriteFile("src/Module/init.lua", []byte("return {}"))
	fs.WriteFile("src/Module/Sub.lua", []byte("return 2"))

	mw := middleware.New(fs)
	ctx := context.Background()
	initial, err := mw.Snapshot(ctx, "default.project.json")
	if err != nil {
		t.Fatalf("initial Snapshot: %v", err)
	}
	tr := tree.New(initial)

	moduleIDs := tr.GetByPath("src/Module")
	if len(moduleIDs) != 1 {
		t.Fatalf("GetByPath(src/Module) = %v, want 1 id", moduleIDs)
	}

	pub := &fakePublisher{}
	cfg := config.ProcessorConfig{DebounceWindow: 20 * time.Millisecond, RetryAttempts: 2, RetryBackoff: 5 * time.Millisecond}
	proc := New(fs, mw, tr, pub, cfg, logging.New("test", logging.ModeNever))

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go proc.Run(runCtx)

	fs.Remove("src/Module")

	deadline := time.Now().Add(2 * time.Second)
	for pub.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if pub.count() == 0 {
		t.Fatal("expected a published batch for the removal")
	}

	if _, err := tr.Get(moduleIDs[0]); err == nil {
		t.Error("expected Module to be removed from the Tree")
	}
	if ids := tr.GetByPath("src/Module/Sub.lua"); len(ids) != 0 {
		t.Errorf("GetByPath(Sub) after removal = %v, want empty", ids)
	}

	pub.mu.Lock()
	defer pub.mu.Unlock()
	sawRemoved := false
	for _, b := range pub.batches {
		for _, p := range b {
			if p.Kind == snapshot.PatchRemoved && p.ID == moduleIDs[0] {
				sawRemoved = true
			}
		}
	}
	if !sawRemoved {
		t.Error("expected a Removed patch for Module in a published batch")
	}
}
