package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/jra3/domesync/internal/config"
	"github.com/jra3/domesync/internal/vfs"
	"github.com/jra3/domesync/internal/vfs/osfs"
)

// buildVFS resolves projectPath to a filesystem root plus the path of the
// project file relative to that root, and constructs the configured
// backend rooted there (SPEC_FULL.md §4.1: os backend for real serving,
// memory reserved for tests driving session.Session directly).
func buildVFS(cfg *config.Config, projectPath string) (vfs.FS, string, error) {
	switch cfg.VFS.Backend {
	case "", "os":
		abs, err := filepath.Abs(projectPath)
		if err != nil {
			return nil, "", err
		}
		root := filepath.Dir(abs)
		rel := filepath.Base(abs)
		fs, err := osfs.New(root)
		if err != nil {
			return nil, "", err
		}
		return fs, filepath.ToSlash(rel), nil
	default:
		return nil, "", fmt.Errorf("unsupported vfs backend %q for serve (use the os backend, or drive session.Session directly with memfs in tests)", cfg.VFS.Backend)
	}
}
