package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// VendorReport collects the crate files bundled during one run so operators
// can audit what went into an artifact without unpacking it.
type VendorReport struct {
	RunID string
	Items []string
}

// Add records one bundled file.
func (r *VendorReport) Add(item string) {
	r.Items = append(r.Items, item)
}

// WriteFile writes the report as a sorted list, one file per line, with the
// run id on the first line. The parent directory must already exist.
func (r *VendorReport) WriteFile(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("opening report file: %w", err)
	}
	defer f.Close()

	if _, err := fmt.Fprintf(f, "# crate bundle %s\n", r.RunID); err != nil {
		return fmt.Errorf("writing report header: %w", err)
	}

	items := make([]string, len(r.Items))
	copy(items, r.Items)
	sort.Strings(items)
	for _, item := range items {
		if _, err := fmt.Fprintln(f, item); err != nil {
			return fmt.Errorf("writing to report file: %w", err)
		}
	}
	return nil
}

// ReportPath derives the report location for an artifact, e.g.
// dist/foo-1.0-crates.tar.xz -> dist/foo-1.0-crates.tar.xz.list.
func ReportPath(artifactPath string) string {
	return filepath.Join(filepath.Dir(artifactPath), filepath.Base(artifactPath)+".list")
}
