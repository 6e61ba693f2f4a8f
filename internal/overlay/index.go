// Package overlay builds a JSON index of the ebuilds in a portage overlay,
// annotating each package with its category, versions, inherited eclasses
// and inferred implementation language.
package overlay

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/gentoo-infra/crate-vendor/internal/utils/logger"
)

// ebuildRe splits "<name>-<version>.ebuild"; the version is the part after
// the last hyphen that starts with a digit, so hyphenated package names
// stay intact.
var ebuildRe = regexp.MustCompile(`^(.+)-([0-9][^/]*)\.ebuild$`)

// eclassLanguages maps build-system eclasses to the language they imply.
var eclassLanguages = map[string]string{
	"go-module":        "go",
	"python-r1":        "python",
	"python-single-r1": "python",
	"cargo":            "rust",
	"cmake":            "cpp",
	"meson":            "cpp",
}

// Entry describes a single ebuild found under the overlay root.
type Entry struct {
	Category string   `json:"category"`
	Name     string   `json:"name"`
	Version  string   `json:"version"`
	Eclasses []string `json:"eclasses"`
	Language string   `json:"language"`
}

// PackageGroup aggregates every indexed version of one package. Category,
// eclasses and language come from the first entry seen for the name.
type PackageGroup struct {
	Category string   `json:"category"`
	Eclasses []string `json:"eclasses"`
	Language string   `json:"language"`
	Name     string   `json:"name"`
	Versions []string `json:"versions"`
}

// Scan walks root for files shaped <...>/<category>/<package>/<name>-<version>.ebuild
// and returns one Entry per conforming ebuild, sorted by category, name and
// raw version string. Files that do not fit the layout are skipped.
func Scan(root string) ([]Entry, error) {
	log := logger.Logger()

	var entries []Entry
	walk := func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".ebuild") {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		entry, ok, err := extractEntry(p, rel)
		if err != nil {
			return err
		}
		if !ok {
			log.Debugf("skipping %s: not <category>/<package>/<name>-<version>.ebuild", rel)
			return nil
		}
		entries = append(entries, entry)
		return nil
	}
	if err := filepath.WalkDir(root, walk); err != nil {
		return nil, fmt.Errorf("scanning %s: %w", root, err)
	}

	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.Category != b.Category {
			return a.Category < b.Category
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.Version < b.Version
	})
	return entries, nil
}

// extractEntry parses one ebuild path into an Entry. ok is false when the
// path or filename does not conform to the overlay layout.
func extractEntry(path, rel string) (Entry, bool, error) {
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) < 3 {
		return Entry{}, false, nil
	}
	category := parts[len(parts)-3]

	m := ebuildRe.FindStringSubmatch(parts[len(parts)-1])
	if m == nil {
		return Entry{}, false, nil
	}

	eclasses, err := readEclasses(path)
	if err != nil {
		return Entry{}, false, err
	}

	// eclasses are sorted, so the language pick is deterministic.
	var language string
	for _, e := range eclasses {
		if lang, ok := eclassLanguages[e]; ok {
			language = lang
			break
		}
	}

	return Entry{
		Category: category,
		Name:     m[1],
		Version:  m[2],
		Eclasses: eclasses,
		Language: language,
	}, true, nil
}

// readEclasses collects the deduplicated arguments of every inherit line.
func readEclasses(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	defer f.Close()

	set := map[string]struct{}{}
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 2 || fields[0] != "inherit" {
			continue
		}
		for _, e := range fields[1:] {
			set[e] = struct{}{}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	eclasses := make([]string, 0, len(set))
	for e := range set {
		eclasses = append(eclasses, e)
	}
	sort.Strings(eclasses)
	return eclasses, nil
}

// Group folds flat entries into one PackageGroup per package name with the
// versions in ascending package-version order and the groups sorted by name.
func Group(entries []Entry) []PackageGroup {
	byName := map[string]*PackageGroup{}
	for _, e := range entries {
		g, ok := byName[e.Name]
		if !ok {
			g = &PackageGroup{
				Category: e.Category,
				Eclasses: e.Eclasses,
				Language: e.Language,
				Name:     e.Name,
			}
			byName[e.Name] = g
		}
		g.Versions = append(g.Versions, e.Version)
	}

	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}
	sort.Strings(names)

	groups := make([]PackageGroup, 0, len(names))
	for _, name := range names {
		g := byName[name]
		sort.SliceStable(g.Versions, func(i, j int) bool {
			return CompareVersions(g.Versions[i], g.Versions[j]) < 0
		})
		groups = append(groups, *g)
	}
	return groups
}

// WriteIndex dumps the package groups as a JSON array to path.
func WriteIndex(path string, groups []PackageGroup) error {
	if groups == nil {
		groups = []PackageGroup{}
	}
	data, err := json.Marshal(groups)
	if err != nil {
		return fmt.Errorf("encoding index: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("writing index: %w", err)
	}
	return nil
}
