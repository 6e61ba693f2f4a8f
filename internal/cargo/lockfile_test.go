package cargo

import (
	"strings"
	"testing"
)

const sampleLockfile = `
version = 3

[[package]]
name = "crate-tool"
version = "0.1.0"
dependencies = [
 "libc",
 "serde",
]

[[package]]
name = "libc"
version = "0.2.150"
source = "registry+https://github.com/rust-lang/crates.io-index"
checksum = "89d92a4743f9a61002fae18374ed11e7973f530cb3a3255fb354818118b2203c"

[[package]]
name = "serde"
version = "1.0.200"
source = "sparse+https://index.crates.io/"
checksum = "ddc6f9cc94d67c0e21aaf7eda3a010fd3af78ebf6e096aa6e2e13c79749cce4f"

[[package]]
name = "gitdep"
version = "1.2.0"
source = "git+https://github.com/example/gitdep.git?rev=4fe2f2b#4fe2f2b28c6c616ae6cd6e903c1819a2e64d5fc4"
`

func TestParseLockfile(t *testing.T) {
	crates, err := ParseLockfile(strings.NewReader(sampleLockfile))
	if err != nil {
		t.Fatalf("ParseLockfile failed: %v", err)
	}
	if len(crates) != 3 {
		t.Fatalf("expected 3 dependencies, got %d: %v", len(crates), crates)
	}

	byName := map[string]Crate{}
	for _, c := range crates {
		byName[c.Name] = c
	}

	libc, ok := byName["libc"]
	if !ok {
		t.Fatal("libc missing from parsed crates")
	}
	if !libc.FileBacked() {
		t.Error("expected registry crate to be file backed")
	}
	if libc.Checksum != "89d92a4743f9a61002fae18374ed11e7973f530cb3a3255fb354818118b2203c" {
		t.Errorf("unexpected checksum: %s", libc.Checksum)
	}

	if serde, ok := byName["serde"]; !ok || !serde.FileBacked() {
		t.Error("expected sparse registry crate to be file backed")
	}

	gitdep, ok := byName["gitdep"]
	if !ok {
		t.Fatal("gitdep missing from parsed crates")
	}
	if gitdep.FileBacked() {
		t.Error("expected git crate to not be file backed")
	}

	if _, ok := byName["crate-tool"]; ok {
		t.Error("workspace member must not appear as a dependency")
	}
}

func TestParseLockfileV4(t *testing.T) {
	lock := strings.Replace(sampleLockfile, "version = 3", "version = 4", 1)
	if _, err := ParseLockfile(strings.NewReader(lock)); err != nil {
		t.Fatalf("expected lockfile version 4 to parse, got %v", err)
	}
}

func TestParseLockfileUnsupportedVersion(t *testing.T) {
	lock := `
version = 2

[[package]]
name = "libc"
version = "0.2.150"
`
	if _, err := ParseLockfile(strings.NewReader(lock)); err == nil {
		t.Fatal("expected error for unsupported lockfile version")
	}
}

func TestParseLockfileUnknownSource(t *testing.T) {
	lock := `
version = 3

[[package]]
name = "libc"
version = "0.2.150"
source = "registry+https://example.com/private-index"
checksum = "89d92a4743f9a61002fae18374ed11e7973f530cb3a3255fb354818118b2203c"
`
	_, err := ParseLockfile(strings.NewReader(lock))
	if err == nil {
		t.Fatal("expected error for unsupported source")
	}
	if !strings.Contains(err.Error(), "unsupported crate source") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestParseLockfileRegistryCrateWithoutChecksum(t *testing.T) {
	lock := `
version = 3

[[package]]
name = "libc"
version = "0.2.150"
source = "registry+https://github.com/rust-lang/crates.io-index"
`
	if _, err := ParseLockfile(strings.NewReader(lock)); err == nil {
		t.Fatal("expected error for registry crate without checksum")
	}
}

func TestParseLockfileRejectsBadTOML(t *testing.T) {
	if _, err := ParseLockfile(strings.NewReader("version = [unclosed")); err == nil {
		t.Fatal("expected error for malformed TOML")
	}
}

func TestCrateAccessors(t *testing.T) {
	c := Crate{Name: "libc", Version: "0.2.150", Checksum: "aa", Source: SourceRegistry}
	if got := c.Filename(); got != "libc-0.2.150.crate" {
		t.Errorf("unexpected filename: %s", got)
	}
	if got := c.PackageDir(); got != "libc-0.2.150" {
		t.Errorf("unexpected package dir: %s", got)
	}
	if got := c.DownloadURL(); got != "https://crates.io/api/v1/crates/libc/0.2.150/download" {
		t.Errorf("unexpected download url: %s", got)
	}
}

func TestCratesCollapseInSets(t *testing.T) {
	a := Crate{Name: "libc", Version: "0.2.150", Checksum: "aa", Source: SourceRegistry}
	b := Crate{Name: "libc", Version: "0.2.150", Checksum: "aa", Source: SourceRegistry}
	set := map[Crate]struct{}{a: {}, b: {}}
	if len(set) != 1 {
		t.Fatalf("expected identical crates to collapse, got %d entries", len(set))
	}
}

func TestFileBackedSortsByFilename(t *testing.T) {
	crates := []Crate{
		{Name: "zeta", Version: "1.0.0", Checksum: "aa", Source: SourceRegistry},
		{Name: "alpha", Version: "2.0.0", Checksum: "bb", Source: SourceRegistry},
		{Name: "gitdep", Version: "1.0.0", Source: SourceGit},
	}
	files := FileBacked(crates)
	if len(files) != 2 {
		t.Fatalf("expected 2 file-backed crates, got %d", len(files))
	}
	if files[0].Name != "alpha" || files[1].Name != "zeta" {
		t.Fatalf("expected filename order, got %v", files)
	}
}
