// Package cargo reads Cargo lockfiles and manifests and models the pinned
// dependency set of a Rust workspace.
package cargo

import (
	"fmt"
	"sort"
)

const downloadURLBase = "https://crates.io/api/v1/crates"

// SourceKind classifies where a pinned dependency comes from.
type SourceKind string

const (
	// SourceRegistry marks crates served by the crates.io registry as
	// downloadable .crate files.
	SourceRegistry SourceKind = "registry"
	// SourceGit marks crates pinned to a git revision. They carry no
	// downloadable file and pass through fetch and repack untouched.
	SourceGit SourceKind = "git"
)

// Crate is one pinned dependency from a Cargo.lock. Crates are value types:
// two entries with the same name, version, checksum and source collapse to
// one when workspaces are merged.
type Crate struct {
	Name     string
	Version  string
	Checksum string
	Source   SourceKind
}

// FileBacked reports whether the crate resolves to a downloadable file.
func (c Crate) FileBacked() bool {
	return c.Source == SourceRegistry
}

// Filename returns the name of the .crate file in distdir.
func (c Crate) Filename() string {
	return fmt.Sprintf("%s-%s.crate", c.Name, c.Version)
}

// DownloadURL returns the crates.io download endpoint for the crate.
func (c Crate) DownloadURL() string {
	return fmt.Sprintf("%s/%s/%s/download", downloadURLBase, c.Name, c.Version)
}

// PackageDir returns the directory all of the crate's archive members must
// live under.
func (c Crate) PackageDir() string {
	return fmt.Sprintf("%s-%s", c.Name, c.Version)
}

func (c Crate) String() string {
	return fmt.Sprintf("%s-%s", c.Name, c.Version)
}

// FileBacked filters a crate list down to downloadable files, ordered by
// filename so consumers process them deterministically.
func FileBacked(crates []Crate) []Crate {
	files := make([]Crate, 0, len(crates))
	for _, c := range crates {
		if c.FileBacked() {
			files = append(files, c)
		}
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Filename() < files[j].Filename() })
	return files
}
