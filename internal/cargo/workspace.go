package cargo

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
)

// ErrLockfileNotFound is returned when neither the project directory nor any
// of its parents contains a Cargo.lock.
var ErrLockfileNotFound = errors.New("Cargo.lock not found in the given directory or any parent")

// WorkspaceData is the result of resolving one project directory: the pinned
// dependency set and the [workspace.package] metadata table found next to
// the lockfile, if any.
type WorkspaceData struct {
	Crates   map[Crate]struct{}
	Metadata map[string]any
}

// ResolveWorkspace walks from dir upward until it finds a Cargo.lock, parses
// it, and collects workspace metadata from the Cargo.toml sitting beside it.
func ResolveWorkspace(dir string) (WorkspaceData, error) {
	base, err := filepath.Abs(dir)
	if err != nil {
		return WorkspaceData{}, fmt.Errorf("resolving %s: %w", dir, err)
	}
	if resolved, err := filepath.EvalSymlinks(base); err == nil {
		base = resolved
	}

	for {
		ws, err := loadWorkspace(base)
		switch {
		case err == nil:
			return ws, nil
		case errors.Is(err, fs.ErrNotExist):
			parent := filepath.Dir(base)
			if parent == base {
				return WorkspaceData{}, fmt.Errorf("resolving %s: %w", dir, ErrLockfileNotFound)
			}
			base = parent
		default:
			return WorkspaceData{}, err
		}
	}
}

// loadWorkspace reads the Cargo.lock in base. A missing lockfile surfaces as
// fs.ErrNotExist so the caller can keep walking upward.
func loadWorkspace(base string) (WorkspaceData, error) {
	lockPath := filepath.Join(base, "Cargo.lock")
	f, err := os.Open(lockPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return WorkspaceData{}, err
		}
		return WorkspaceData{}, fmt.Errorf("opening %s: %w", lockPath, err)
	}
	defer f.Close()

	crates, err := ParseLockfile(f)
	if err != nil {
		return WorkspaceData{}, fmt.Errorf("%s: %w", lockPath, err)
	}
	meta, err := readWorkspaceMetadata(filepath.Join(base, "Cargo.toml"))
	if err != nil {
		return WorkspaceData{}, err
	}

	set := make(map[Crate]struct{}, len(crates))
	for _, c := range crates {
		set[c] = struct{}{}
	}
	return WorkspaceData{Crates: set, Metadata: meta}, nil
}

// readWorkspaceMetadata returns the [workspace.package] table of the given
// manifest, or an empty table when the manifest or the table is absent.
func readWorkspaceMetadata(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var doc struct {
		Workspace struct {
			Package map[string]any `toml:"package"`
		} `toml:"workspace"`
	}
	if err := toml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if doc.Workspace.Package == nil {
		return map[string]any{}, nil
	}
	return doc.Workspace.Package, nil
}
