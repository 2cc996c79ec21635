package session

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/jra3/domesync/internal/config"
	"github.com/jra3/domesync/internal/domerr"
	"github.com/jra3/domesync/internal/logging"
	"github.com/jra3/domesync/internal/snapshot"
	"github.com/jra3/domesync/internal/vfs/memfs"
)

func newTestSession(t *testing.T, fs *memfs.FS, projectPath string) *Session {
	t.Helper()
	cfg := config.Default()
	cfg.Processor.DebounceWindow = 10 * time.Millisecond
	cfg.Processor.RetryAttempts = 1
	cfg.Queue.Window = 8

	sess, err := New(fs, projectPath, cfg, nil, logging.New("test", logging.ModeNever))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { sess.Close() })
	return sess
}

func TestSessionInfoReadOpenFile(t *testing.T) {
	fs := memfs.New()
	fs.WriteFile("default.project.json", []byte(`{"name": "Game", "tree": {"className": "DataModel", "$path": "src"}}`))
	fs.WriteFile("src/Greeter.lua", []byte("print(1)"))

	sess := newTestSession(t, fs, "default.project.json")

	info, err := sess.GetInfo()
	if err != nil {
		t.Fatalf("GetInfo: %v", err)
	}
	if info.RootID != sess.tr.RootID() {
		t.Error("RootID mismatch between Info and Tree")
	}
	if info.ProjectName != "Game" {
		t.Errorf("ProjectName = %q, want Game", info.ProjectName)
	}

	rootView, err := sess.Read([]uuid.UUID{info.RootID})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(rootView) != 1 || len(rootView[0].Children) != 1 {
		t.Fatalf("rootView = %+v", rootView)
	}

	childID := rootView[0].Children[0]
	path, err := sess.OpenFile(childID)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	if path != "src/Greeter.lua" {
		t.Errorf("OpenFile = %q, want src/Greeter.lua", path)
	}
}

func TestSessionOpenFileNoContributingPath(t *testing.T) {
	fs := memfs.New()
	fs.WriteFile("default.project.json", []byte(`{"name": "Game", "tree": {"className": "DataModel", "children": {"Virtual": {"className": "Folder"}}}}`))

	sess := newTestSession(t, fs, "default.project.json")
	root, _ := sess.Read([]uuid.UUID{sess.tr.RootID()})
	childID := root[0].Children[0]

	if _, err := sess.OpenFile(childID); err == nil {
		t.Error("expected ErrNoContributingPath for a virtual project node")
	}
}

func TestSessionSubscribeCursorZeroYieldsWholeTreeBootstrap(t *testing.T) {
	fs := memfs.New()
	fs.WriteFile("default.project.json", []byte(`{"name": "Game", "tree": {"className": "DataModel", "$path": "src"}}`))
	fs.WriteFile("src/A.lua", []byte("return 1"))

	sess := newTestSession(t, fs, "default.project.json")

	result, err := sess.Subscribe(context.Background(), 0, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if len(result.Batches) != 1 {
		t.Fatalf("Batches = %+v, want exactly one synthesized batch", result.Batches)
	}
	batch := result.Batches[0]
	if len(batch) != 1 || batch[0].Kind != snapshot.PatchAdded {
		t.Fatalf("batch = %+v, want a single whole-tree Added patch", batch)
	}
	if result.Cursor == 0 {
		t.Error("Cursor returned alongside the bootstrap batch must not be 0: 0 stays reserved for \"before any batch\"")
	}
}

func TestSessionSubscribePublishesProcessorBatches(t *testing.T) {
	fs := memfs.New()
	fs.WriteFile("default.project.json", []byte(`{"name": "Game", "tree": {"className": "DataModel", "$path": "src"}}`))
	fs.WriteFile("src/A.lua", []byte("return 1"))

	sess := newTestSession(t, fs, "default.project.json")
	sess.Run(context.Background())

	bootstrap, err := sess.Subscribe(context.Background(), 0, 200*time.Millisecond)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	cursor := bootstrap.Cursor

	fs.WriteFile("src/B.lua", []byte("return 2"))

	deadline := time.Now().Add(2 * time.Second)
	var result SubscribeResult
	for time.Now().Before(deadline) {
		result, err = sess.Subscribe(context.Background(), cursor, 200*time.Millisecond)
		if err != nil {
			t.Fatalf("Subscribe: %v", err)
		}
		if len(result.Batches) > 0 {
			break
		}
	}
	if len(result.Batches) == 0 {
		t.Fatal("expected at least one batch from subscribe")
	}
}

func TestSessionWriteAndResyncOnOverflow(t *testing.T) {
	fs := memfs.New()
	fs.WriteFile("default.project.json", []byte(`{"name": "Game", "tree": {"className": "DataModel"}}`))
	sess := newTestSession(t, fs, "default.project.json")

	bootstrap, err := sess.Subscribe(context.Background(), 0, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	staleCursor := bootstrap.Cursor

	root := sess.tr.RootID()
	for i := 0; i < 20; i++ {
		name := "X"
		if err := sess.Write(snapshot.Batch{snapshot.Updated(root, snapshot.PropertyDelta{"Tag": snapshot.String(name)}, nil, nil)}); err != nil {
			t.Fatalf("Write %d: %v", i, err)
		}
	}

	result, err := sess.Subscribe(context.Background(), staleCursor, 200*time.Millisecond)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if !result.Resync {
		t.Fatal("expected a window-overflow resync for a cursor far behind the queue")
	}
	if len(result.FullState) != 1 || result.FullState[0].Kind != snapshot.PatchAdded {
		t.Errorf("FullState = %+v", result.FullState)
	}
}

func TestIdenticalFilesystemsProduceEqualTrees(t *testing.T) {
	build := func() *Session {
		fs := memfs.New()
		fs.WriteFile("default.project.json", []byte(`{"name": "Game", "tree": {"className": "DataModel", "$path": "src"}}`))
		fs.WriteFile("src/Greeter.lua", []byte("print(1)"))
		fs.WriteFile("src/Module/init.lua", []byte("return {}"))
		fs.WriteFile("src/Module/Sub.lua", []byte("return 1"))
		return newTestSession(t, fs, "default.project.json")
	}

	a, b := build(), build()
	snapA, err := a.tr.Snapshot(a.tr.RootID())
	if err != nil {
		t.Fatalf("Snapshot a: %v", err)
	}
	snapB, err := b.tr.Snapshot(b.tr.RootID())
	if err != nil {
		t.Fatalf("Snapshot b: %v", err)
	}
	if !snapA.Equal(snapB) {
		t.Errorf("trees differ:\n%+v\n%+v", snapA, snapB)
	}
}

func TestSessionCloseTerminatesOperations(t *testing.T) {
	fs := memfs.New()
	fs.WriteFile("default.project.json", []byte(`{"name": "Game", "tree": {"className": "DataModel"}}`))
	sess := newTestSession(t, fs, "default.project.json")

	if err := sess.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := sess.GetInfo(); err != domerr.ErrSessionTerminated {
		t.Errorf("GetInfo after Close = %v, want ErrSessionTerminated", err)
	}
}
