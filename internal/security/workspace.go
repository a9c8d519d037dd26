// Package security enforces the host's two resource boundaries: the
// workspace filesystem scope and outbound network reachability.
package security

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"glyph-ide/internal/domain"
)

// Workspace confines guest filesystem requests to the workspace root.
// The root is updatable: the editor swaps it when the user opens a
// different project.
type Workspace struct {
	mu   sync.RWMutex
	root string // absolute, symlink-resolved
}

// NewWorkspace creates a guard rooted at the given directory.
func NewWorkspace(root string) (*Workspace, error) {
	resolved, err := resolveRoot(root)
	if err != nil {
		return nil, err
	}
	return &Workspace{root: resolved}, nil
}

func resolveRoot(root string) (string, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve workspace root: %w", err)
	}

	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", fmt.Errorf("eval symlinks for workspace root: %w", err)
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return "", fmt.Errorf("stat workspace root: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("workspace root %q is not a directory", resolved)
	}
	return resolved, nil
}

// Root returns the current workspace root.
func (w *Workspace) Root() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.root
}

// SetRoot points the guard at a new workspace directory.
func (w *Workspace) SetRoot(root string) error {
	resolved, err := resolveRoot(root)
	if err != nil {
		return err
	}
	w.mu.Lock()
	w.root = resolved
	w.mu.Unlock()
	return nil
}

// Resolve checks that a guest-requested path stays within the workspace
// after symlink resolution and returns the resolved host path. Relative
// paths are taken relative to the root; absolute paths must already lie
// under it. Traversal, absolute escapes, and symlink jumps all fail with
// ErrPathOutsideWorkspace.
func (w *Workspace) Resolve(requested string) (string, error) {
	w.mu.RLock()
	root := w.root
	w.mu.RUnlock()

	abs := requested
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(root, requested)
	}
	abs = filepath.Clean(abs)

	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		// Path doesn't exist yet - validate the parent directory instead.
		parent := filepath.Dir(abs)
		resolvedParent, err2 := filepath.EvalSymlinks(parent)
		if err2 != nil {
			return "", domain.NewDomainError("Workspace.Resolve", domain.ErrPathOutsideWorkspace, err2.Error())
		}
		resolved = filepath.Join(resolvedParent, filepath.Base(abs))
	}

	if !within(root, resolved) {
		return "", domain.NewDomainError("Workspace.Resolve", domain.ErrPathOutsideWorkspace,
			fmt.Sprintf("resolved %q is outside root %q", resolved, root))
	}

	return resolved, nil
}

func within(root, path string) bool {
	return path == root || strings.HasPrefix(path, root+string(os.PathSeparator))
}
