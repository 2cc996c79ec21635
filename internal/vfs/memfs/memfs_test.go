package memfs

import (
	"context"
	"testing"

	"github.com/jra3/domesync/internal/vfs"
)

func TestReadWriteAndEvents(t *testing.T) {
	ctx := context.Background()
	f := New()
	defer f.Close()

	f.WriteFile("src/Greeter.lua", []byte("print(1)"))

	data, err := f.Read(ctx, "src/Greeter.lua")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(data) != "print(1)" {
		t.Errorf("Read = %q, want print(1)", data)
	}

	ev := <-f.Subscribe()
	if ev.Kind != vfs.Created || ev.Path != "src/Greeter.lua" {
		t.Errorf("event = %+v, want Created src/Greeter.lua", ev)
	}

	f.WriteFile("src/Greeter.lua", []byte("print(2)"))
	ev = <-f.Subscribe()
	if ev.Kind != vfs.Written {
		t.Errorf("event kind = %v, want Written", ev.Kind)
	}

	data, err = f.Read(ctx, "src/Greeter.lua")
	if err != nil || string(data) != "print(2)" {
		t.Fatalf("Read after write = %q, %v", data, err)
	}
}

func TestReadDirSorted(t *testing.T) {
	ctx := context.Background()
	f := New()
	defer f.Close()

	f.WriteFile("src/B.lua", []byte("b"))
	f.WriteFile("src/A.lua", []byte("a"))
	f.Mkdir("src/Sub")
	for range 3 {
		<-f.Subscribe()
	}

	entries, err := f.ReadDir(ctx, "src")
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	want := []string{"A.lua", "B.lua", "Sub"}
	if len(entries) != len(want) {
		t.Fatalf("entries = %+v, want %v", entries, want)
	}
	for i, e := range entries {
		if e.Name != want[i] {
			t.Errorf("entries[%d].Name = %q, want %q", i, e.Name, want[i])
		}
	}
}

func TestSymlinkResolution(t *testing.T) {
	ctx := context.Background()
	f := New()
	defer f.Close()

	f.WriteFile("src/Real/Inner.lua", []byte("return 1"))
	f.Symlink("src/Alias", "src/Real")
	for range 2 {
		<-f.Subscribe()
	}

	meta, err := f.Stat(ctx, "src/Alias")
	if err != nil || meta.Kind != vfs.Symlink {
		t.Errorf("Stat = %+v, %v, want Symlink kind (lstat semantics)", meta, err)
	}

	entries, err := f.ReadDir(ctx, "src/Alias")
	if err != nil || len(entries) != 1 || entries[0].Name != "Inner.lua" {
		t.Errorf("ReadDir through link = %+v, %v", entries, err)
	}

	data, err := f.Read(ctx, "src/Alias/Inner.lua")
	if err != nil || string(data) != "return 1" {
		t.Errorf("Read through link = %q, %v", data, err)
	}

	rp, err := f.RealPath(ctx, "src/Alias/Inner.lua")
	if err != nil || rp != "src/Real/Inner.lua" {
		t.Errorf("RealPath = %q, %v, want src/Real/Inner.lua", rp, err)
	}

	f.Symlink("a", "b")
	f.Symlink("b", "a")
	<-f.Subscribe()
	<-f.Subscribe()
	if _, err := f.RealPath(ctx, "a"); err == nil {
		t.Error("expected a cyclic link chain to fail resolution")
	}
}

func TestRemoveCascade(t *testing.T) {
	ctx := context.Background()
	f := New()
	defer f.Close()

	f.Mkdir("src/Module")
	f.WriteFile("src/Module/init.lua", []byte("return {}"))
	f.WriteFile("src/Module/Sub.lua", []byte("return 1"))
	for range 3 {
		<-f.Subscribe()
	}

	f.Remove("src/Module")
	ev := <-f.Subscribe()
	if ev.Kind != vfs.Removed || ev.Path != "src/Module" {
		t.Errorf("event = %+v, want Removed src/Module", ev)
	}

	if _, err := f.Stat(ctx, "src/Module/Sub.lua"); err == nil {
		t.Error("expected Sub.lua to be gone after cascade remove")
	}
}
