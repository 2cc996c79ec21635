package middleware

import (
	"context"
	"fmt"
	"path"
	"sort"

	"github.com/jra3/domesync/internal/domerr"
	"github.com/jra3/domesync/internal/project"
	"github.com/jra3/domesync/internal/snapshot"
	"github.com/jra3/domesync/internal/vfs"
)

// projectRule handles the top-level ".project.json" file (spec.md §6).
type projectRule struct{}

func (projectRule) Name() string { return "project" }
func (projectRule) Produces() bool { return true }
func (projectRule) Match(kind vfs.Kind, name string) bool {
	return kind == vfs.File && isProjectFile(name)
}

func (projectRule) Apply(ctx context.Context, mw *Middleware, p string) (snapshot.Snapshot, error) {
	data, err := mw.fs.Read(ctx, p)
	if err != nil {
		return snapshot.Snapshot{}, err
	}
	proj, err := project.Parse(data)
	if err != nil {
		return snapshot.Snapshot{}, err
	}
	dir := path.Dir(p)
	if dir == "." {
		dir = ""
	}
	resolved := make([]string, 0, len(proj.IgnorePaths))
	for _, ig := range proj.IgnorePaths {
		resolved = append(resolved, path.Join(dir, ig))
	}
	mw.setIgnorePaths(resolved)
	return buildProjectNode(ctx, mw, proj.Tree, proj.Name, dir, p, true)
}

// buildProjectNode builds one project-tree node's snapshot. Only the root
// node and nodes bound via $path carry a contributing path: a purely
// declarative nested node (no $path) has nothing a caller could open
// (spec.md §4.7 OpenFile / ErrNoContributingPath).
func buildProjectNode(ctx context.Context, mw *Middleware, node project.Node, name, baseDir, ownerPath string, isRoot bool) (snapshot.Snapshot, error) {
	className := node.ClassName
	props := snapshot.PropertyMap{}
	var children []snapshot.Snapshot
	var paths []string
	if isRoot {
		paths = append(paths, ownerPath)
	}

	if node.Path != "" {
		bound, err := mw.Snapshot(ctx, path.Join(baseDir, node.Path))
		if err != nil {
			return snapshot.Snapshot{}, err
		}
		if className == "" {
			className = bound.ClassName
		}
		// The bound snapshot supplies the base properties (e.g. an init
		// file's Source); inline node properties layer over them below.
		props = bound.Properties.Clone()
		children = append(children, bound.Children...)
		paths = append(paths, bound.ContributingPaths...)
	}
	if className == "" {
		className = "Folder"
	}

	for k, raw := range node.Properties {
		v, err := project.ToValue(raw)
		if err != nil {
			return snapshot.Snapshot{}, fmt.Errorf("project node %q property %q: %w", name, k, err)
		}
		props[k] = v
	}

	childNames := make([]string, 0, len(node.Children))
	for childName := range node.Children {
		childNames = append(childNames, childName)
	}
	sort.Strings(childNames)
	for _, childName := range childNames {
		childSnap, err := buildProjectNode(ctx, mw, node.Children[childName], childName, baseDir, ownerPath, false)
		if err != nil {
			return snapshot.Snapshot{}, err
		}
		children = append(children, childSnap)
	}

	return snapshot.New(className, name, props, children, "project", paths...), nil
}

// metaRule classifies meta sidecar files so the registry can skip them as
// standalone recompute roots (spec.md §4.2): they never produce their own
// snapshot, only augment a sibling's.
type metaRule struct{}

func (metaRule) Name() string     { return "meta" }
func (metaRule) Produces() bool   { return false }
func (metaRule) Match(kind vfs.Kind, name string) bool {
	_, ok := isMetaFile(name)
	return kind == vfs.File && ok
}
func (metaRule) Apply(context.Context, *Middleware, string) (snapshot.Snapshot, error) {
	return snapshot.Snapshot{}, fmt.Errorf("meta sidecar has no standalone snapshot")
}

// modelRule handles ".model.<ext>" structured files (spec.md §4.2).
type modelRule struct{}

func (modelRule) Name() string   { return "model" }
func (modelRule) Produces() bool { return true }
func (modelRule) Match(kind vfs.Kind, name string) bool {
	_, ok := isModelFile(name)
	return kind == vfs.File && ok
}

func (modelRule) Apply(ctx context.Context, mw *Middleware, p string) (snapshot.Snapshot, error) {
	data, err := mw.fs.Read(ctx, p)
	if err != nil {
		return snapshot.Snapshot{}, err
	}
	snap, err := mw.codec.Decode(p, data)
	if err != nil {
		return snapshot.Snapshot{}, err
	}
	stem, _ := isModelFile(path.Base(p))
	snap.Name = stem
	return snap, nil
}

// textModuleRule handles recognized code files (spec.md §4.2).
type textModuleRule struct{}

func (textModuleRule) Name() string   { return "text" }
func (textModuleRule) Produces() bool { return true }
func (textModuleRule) Match(kind vfs.Kind, name string) bool {
	return kind == vfs.File && isCodeFile(name)
}

func (textModuleRule) Apply(ctx context.Context, mw *Middleware, p string) (snapshot.Snapshot, error) {
	data, err := mw.fs.Read(ctx, p)
	if err != nil {
		return snapshot.Snapshot{}, err
	}
	stem, class, _ := scriptClassForFilename(path.Base(p))
	props := snapshot.PropertyMap{"Source": snapshot.String(string(data))}
	return snapshot.New(class, stem, props, nil, "text", p), nil
}

// dataFileRule handles recognized plain-data files (spec.md §4.2).
type dataFileRule struct{}

func (dataFileRule) Name() string   { return "data" }
func (dataFileRule) Produces() bool { return true }
func (dataFileRule) Match(kind vfs.Kind, name string) bool {
	_, _, ok := isDataFile(name)
	return kind == vfs.File && ok
}

func (dataFileRule) Apply(ctx context.Context, mw *Middleware, p string) (snapshot.Snapshot, error) {
	data, err := mw.fs.Read(ctx, p)
	if err != nil {
		return snapshot.Snapshot{}, err
	}
	className, ext, _ := isDataFile(path.Base(p))
	name := trimExt(path.Base(p), ext)
	props := snapshot.PropertyMap{"Value": snapshot.String(string(data))}
	return snapshot.New(className, name, props, nil, "data", p), nil
}

// symlinkRule handles symlink entries by classifying the link's resolved
// target: a link to a directory is snapshotted as that directory, a link
// to a file is classified by the link's own name. Either way the produced
// instance is named after the link, not the target.
type symlinkRule struct{}

func (symlinkRule) Name() string   { return "symlink" }
func (symlinkRule) Produces() bool { return true }
func (symlinkRule) Match(kind vfs.Kind, name string) bool {
	return kind == vfs.Symlink
}

// Apply refuses a link whose canonical target is also the canonical
// location of one of the link's own ancestors: recursing through it
// would revisit that ancestor forever (spec.md §9: "detect and refuse to
// recurse through a previously visited inode"). The refusal surfaces as
// an error snapshot at the link's position, so the Tree keeps its shape.
func (symlinkRule) Apply(ctx context.Context, mw *Middleware, p string) (snapshot.Snapshot, error) {
	resolved, err := mw.fs.RealPath(ctx, p)
	if err != nil {
		return snapshot.Snapshot{}, err
	}
	dir := path.Dir(p)
	if dir == "." {
		dir = ""
	}
	for {
		ancestor, err := mw.fs.RealPath(ctx, dir)
		if err == nil && ancestor == resolved {
			return snapshot.Snapshot{}, &domerr.IoError{Path: p, Cause: domerr.ErrSymlinkCycle}
		}
		if dir == "" {
			break
		}
		dir = path.Dir(dir)
		if dir == "." {
			dir = ""
		}
	}

	if _, err := mw.fs.ReadDir(ctx, p); err == nil {
		return directoryRule{}.Apply(ctx, mw, p)
	}
	rule := mw.classify(vfs.File, path.Base(p))
	if rule == nil || !rule.Produces() {
		return snapshot.Snapshot{}, fmt.Errorf("no middleware rule produces a snapshot for symlink %q", p)
	}
	return rule.Apply(ctx, mw, p)
}

// directoryRule handles directories, with or without an "init" variant
// file (spec.md §4.2 directory rules).
type directoryRule struct{}

func (directoryRule) Name() string   { return "directory" }
func (directoryRule) Produces() bool { return true }
func (directoryRule) Match(kind vfs.Kind, name string) bool {
	return kind == vfs.Dir
}

func (directoryRule) Apply(ctx context.Context, mw *Middleware, p string) (snapshot.Snapshot, error) {
	entries, err := mw.fs.ReadDir(ctx, p)
	if err != nil {
		return snapshot.Snapshot{}, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })

	initEntry, _, initClass, hasInit := findInit(entries)
	className := "Folder"
	if hasInit {
		className = initClass
	}

	var children []snapshot.Snapshot
	for _, e := range entries {
		if hasInit && e.Name == initEntry {
			continue
		}
		if _, ok := isMetaFile(e.Name); ok {
			continue // consumed as a sidecar, never a standalone child
		}
		childPath := path.Join(p, e.Name)
		if mw.Ignored(childPath) {
			continue
		}
		childSnap, err := mw.Snapshot(ctx, childPath)
		if err != nil {
			continue // unrecognized entries are simply not represented
		}
		children = append(children, childSnap)
	}

	props := snapshot.PropertyMap{}
	paths := []string{p}
	if hasInit {
		initPath := path.Join(p, initEntry)
		data, err := mw.fs.Read(ctx, initPath)
		if err != nil {
			return snapshot.Snapshot{}, err
		}
		props["Source"] = snapshot.String(string(data))
		paths = append(paths, initPath)
	}

	name := path.Base(p)
	if name == "." || name == "" {
		name = "DataModel"
	}
	return snapshot.New(className, name, props, children, "directory", paths...), nil
}

func findInit(entries []vfs.DirEntry) (entryName, stem, className string, ok bool) {
	for _, e := range entries {
		if e.Kind != vfs.File {
			continue
		}
		s, class, match := scriptClassForFilename(e.Name)
		if match && s == "init" {
			return e.Name, s, class, true
		}
	}
	return "", "", "", false
}
