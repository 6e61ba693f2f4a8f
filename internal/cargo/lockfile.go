package cargo

import (
	"fmt"
	"io"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// Registry source strings understood as crates.io. Cargo writes the git form
// for lockfile v3 and the sparse form since the sparse index became the
// default.
var registrySources = map[string]bool{
	"registry+https://github.com/rust-lang/crates.io-index": true,
	"sparse+https://index.crates.io/":                       true,
}

type lockfileDoc struct {
	Version  int               `toml:"version"`
	Packages []lockfilePackage `toml:"package"`
}

type lockfilePackage struct {
	Name     string `toml:"name"`
	Version  string `toml:"version"`
	Source   string `toml:"source"`
	Checksum string `toml:"checksum"`
}

// ParseLockfile reads a Cargo.lock and returns the pinned dependency set.
// Entries without a source are the workspace's own members and are not
// dependencies, so they are dropped. Git-pinned entries are returned as
// non-file-backed crates.
func ParseLockfile(r io.Reader) ([]Crate, error) {
	var doc lockfileDoc
	if err := toml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("parsing Cargo.lock: %w", err)
	}
	if doc.Version != 3 && doc.Version != 4 {
		return nil, fmt.Errorf("unsupported Cargo.lock version %d (expected 3 or 4)", doc.Version)
	}

	crates := make([]Crate, 0, len(doc.Packages))
	for _, pkg := range doc.Packages {
		if pkg.Name == "" || pkg.Version == "" {
			return nil, fmt.Errorf("lockfile package entry missing name or version: %+v", pkg)
		}
		if pkg.Source == "" {
			// workspace member
			continue
		}

		switch {
		case registrySources[pkg.Source]:
			if pkg.Checksum == "" {
				return nil, fmt.Errorf("registry crate %s-%s has no checksum", pkg.Name, pkg.Version)
			}
			crates = append(crates, Crate{
				Name:     pkg.Name,
				Version:  pkg.Version,
				Checksum: pkg.Checksum,
				Source:   SourceRegistry,
			})
		case strings.HasPrefix(pkg.Source, "git+"):
			crates = append(crates, Crate{
				Name:    pkg.Name,
				Version: pkg.Version,
				Source:  SourceGit,
			})
		default:
			return nil, fmt.Errorf("unsupported crate source for %s-%s: %q", pkg.Name, pkg.Version, pkg.Source)
		}
	}
	return crates, nil
}
