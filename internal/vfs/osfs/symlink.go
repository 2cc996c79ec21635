package osfs

import (
	"os"
	"path/filepath"
)

// isCycle reports whether the symlink at linkAbs resolves to its own
// containing directory or any ancestor of it up to the FS root, using
// os.SameFile for a portable inode identity comparison (spec.md §9:
// "detect and refuse to recurse through a previously visited inode").
// Recursing through such a link would revisit the directory it lives
// under and never terminate.
func (f *FS) isCycle(linkAbs string) bool {
	target, err := os.Stat(linkAbs) // follows the symlink
	if err != nil || !target.IsDir() {
		return false
	}

	dir := filepath.Dir(linkAbs)
	for {
		if info, err := os.Stat(dir); err == nil && os.SameFile(info, target) {
			return true
		}
		if dir == f.Root || dir == filepath.Dir(dir) {
			return false
		}
		dir = filepath.Dir(dir)
	}
}
