package workspace

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/otiai10/copy"

	"github.com/BDNK1/blockflow/internal/constants"
	"github.com/BDNK1/blockflow/internal/security"
)

// Workspace is the private temporary directory of one run.
type Workspace struct {
	Path string
	ID   string

	mu      sync.Mutex
	removed bool
}

// Create makes a new uniquely named directory under the system temp dir.
func Create(prefix string) (*Workspace, error) {
	id := uuid.NewString()
	path := filepath.Join(os.TempDir(), prefix+id[:8])

	if err := os.Mkdir(path, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create workspace directory at %q: %w", path, err)
	}

	return &Workspace{Path: path, ID: id}, nil
}

// File returns the path of name inside the workspace.
func (w *Workspace) File(name string) (string, error) {
	path := filepath.Join(w.Path, name)
	if err := security.ValidatePathWithinBoundary(w.Path, path); err != nil {
		return "", fmt.Errorf("invalid workspace file %q: %w", name, err)
	}
	return path, nil
}

// WriteFile writes data to name inside the workspace and returns its path.
func (w *Workspace) WriteFile(name string, data []byte, perm fs.FileMode) (string, error) {
	path, err := w.File(name)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, perm); err != nil {
		return "", fmt.Errorf("failed to write %q: %w", path, err)
	}
	return path, nil
}

// Remove deletes one file from the workspace. Missing files are ignored.
func (w *Workspace) Remove(name string) error {
	path, err := w.File(name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove %q: %w", path, err)
	}
	return nil
}

// LinkModules makes the snapshot's packages visible as the workspace's own
// node_modules. A symlink is tried first; where links are unavailable the
// tree is copied.
func (w *Workspace) LinkModules(snapshotDir string) (string, error) {
	src := filepath.Join(snapshotDir, constants.ModulesDir)
	if _, err := os.Stat(src); err != nil {
		return "", fmt.Errorf("snapshot modules not found at %q: %w", src, err)
	}
	abs, err := filepath.Abs(src)
	if err != nil {
		return "", err
	}

	dest, err := w.File(constants.ModulesDir)
	if err != nil {
		return "", err
	}
	if err := os.Symlink(abs, dest); err == nil {
		return dest, nil
	}

	opts := copy.Options{OnSymlink: func(string) copy.SymlinkAction { return copy.Deep }}
	if err := copy.Copy(abs, dest, opts); err != nil {
		return "", fmt.Errorf("failed to copy snapshot modules into workspace: %w", err)
	}
	return dest, nil
}

// Cleanup removes the workspace directory. Calling it again is a no-op.
func (w *Workspace) Cleanup() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.removed || w.Path == "" {
		return nil
	}

	if err := os.RemoveAll(w.Path); err != nil {
		return fmt.Errorf("failed to cleanup workspace at %q: %w", w.Path, err)
	}
	w.removed = true

	return nil
}
