package pipeline

import (
	"archive/tar"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/ulikunitz/xz"

	"github.com/gentoo-infra/crate-vendor/internal/cargo"
	"github.com/gentoo-infra/crate-vendor/internal/fetch"
	"github.com/gentoo-infra/crate-vendor/internal/repack"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("creating %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing %s: %v", rel, err)
	}
}

func makeCrateBytes(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for name, content := range files {
		hdr := &tar.Header{
			Name:    name,
			Mode:    0644,
			Size:    int64(len(content)),
			ModTime: time.Unix(1700000000, 0),
		}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("writing crate member: %v", err)
		}
		if _, err := tw.Write([]byte(content)); err != nil {
			t.Fatalf("writing crate member: %v", err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("closing crate tar: %v", err)
	}
	if err := gz.Close(); err != nil {
		t.Fatalf("closing crate gzip: %v", err)
	}
	return buf.Bytes()
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// crateServer serves crate bodies keyed by "<name>-<version>" on the
// registry download path shape.
func crateServer(t *testing.T, crates map[string][]byte, hits *atomic.Int64) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
		if len(parts) != 3 || parts[2] != "download" {
			http.NotFound(w, r)
			return
		}
		body, ok := crates[parts[0]+"-"+parts[1]]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testOptions(distdir string, srv *httptest.Server) Options {
	return Options{
		Distdir:        distdir,
		OutputTemplate: "{distdir}/{name}-{version}-crates.tar.xz",
		Prefix:         "cargo_home/gentoo",
		Compression:    repack.FormatXZ,
		Fetchers:       []string{"registry"},
		Fetch: fetch.Config{
			Concurrency: 2,
			RequestRate: 50,
			Retries:     2,
			HTTPClient:  srv.Client(),
			BaseURL:     srv.URL,
		},
	}
}

// readArtifact returns the set of member names in a tar.xz bundle.
func readArtifact(t *testing.T, path string) map[string]bool {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("opening artifact: %v", err)
	}
	defer f.Close()

	raw, err := xz.NewReader(f)
	if err != nil {
		t.Fatalf("decoding artifact: %v", err)
	}
	members := map[string]bool{}
	tr := tar.NewReader(raw)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("reading artifact: %v", err)
		}
		members[hdr.Name] = true
		if _, err := io.Copy(io.Discard, tr); err != nil {
			t.Fatalf("reading member %s: %v", hdr.Name, err)
		}
	}
	return members
}

func TestRunBundlesWorkspace(t *testing.T) {
	crateBody := makeCrateBytes(t, map[string]string{
		"libc-0.2.150/Cargo.toml": "[package]\nname = \"libc\"\n",
		"libc-0.2.150/src/lib.rs": "pub fn x() {}\n",
	})

	ws := t.TempDir()
	writeFile(t, ws, "Cargo.toml", `[workspace]
members = ["app-a", "app-b"]

[workspace.package]
version = "2.0.0"
`)
	writeFile(t, ws, "Cargo.lock", fmt.Sprintf(`version = 3

[[package]]
name = "app-a"
version = "2.0.0"

[[package]]
name = "libc"
version = "0.2.150"
source = "registry+https://github.com/rust-lang/crates.io-index"
checksum = "%s"
`, sha256Hex(crateBody)))
	writeFile(t, ws, "app-a/Cargo.toml", "[package]\nname = \"app-a\"\nversion = { workspace = true }\n")
	writeFile(t, ws, "app-b/Cargo.toml", "[package]\nname = \"app-b\"\nversion = \"9.9.9\"\n")

	var hits atomic.Int64
	srv := crateServer(t, map[string][]byte{"libc-0.2.150": crateBody}, &hits)

	distdir := filepath.Join(t.TempDir(), "distdir")
	artifact, err := Run(context.Background(),
		[]string{filepath.Join(ws, "app-a"), filepath.Join(ws, "app-b")},
		testOptions(distdir, srv))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	want := distdir + "/app-a-2.0.0-crates.tar.xz"
	if artifact != want {
		t.Fatalf("artifact must take its name from the first directory's metadata: expected %s, got %s", want, artifact)
	}

	// both members resolve to the same workspace, so the crate downloads once
	if hits.Load() != 1 {
		t.Errorf("expected exactly one download for the shared crate, got %d", hits.Load())
	}

	members := readArtifact(t, artifact)
	for _, name := range []string{
		"cargo_home/gentoo/libc-0.2.150/Cargo.toml",
		"cargo_home/gentoo/libc-0.2.150/src/lib.rs",
		"cargo_home/gentoo/libc-0.2.150/.cargo-checksum.json",
	} {
		if !members[name] {
			t.Errorf("artifact is missing %s (have %v)", name, members)
		}
	}

	report, err := os.ReadFile(artifact + ".list")
	if err != nil {
		t.Fatalf("the crate report must sit beside the artifact: %v", err)
	}
	if !strings.Contains(string(report), "libc-0.2.150.crate") {
		t.Errorf("report does not list the bundled crate:\n%s", report)
	}
}

func TestRunUnionsDirectories(t *testing.T) {
	shared := makeCrateBytes(t, map[string]string{"shared-0.3.0/lib.rs": "s\n"})
	onlyA := makeCrateBytes(t, map[string]string{"only-a-1.0.0/lib.rs": "a\n"})
	onlyB := makeCrateBytes(t, map[string]string{"only-b-1.0.0/lib.rs": "b\n"})

	lock := `version = 3

[[package]]
name = "shared"
version = "0.3.0"
source = "registry+https://github.com/rust-lang/crates.io-index"
checksum = "%s"

[[package]]
name = "%s"
version = "1.0.0"
source = "registry+https://github.com/rust-lang/crates.io-index"
checksum = "%s"
`
	dirA := t.TempDir()
	writeFile(t, dirA, "Cargo.toml", "[package]\nname = \"proj-a\"\nversion = \"0.1.0\"\n")
	writeFile(t, dirA, "Cargo.lock", fmt.Sprintf(lock, sha256Hex(shared), "only-a", sha256Hex(onlyA)))
	dirB := t.TempDir()
	writeFile(t, dirB, "Cargo.toml", "[package]\nname = \"proj-b\"\nversion = \"0.2.0\"\n")
	writeFile(t, dirB, "Cargo.lock", fmt.Sprintf(lock, sha256Hex(shared), "only-b", sha256Hex(onlyB)))

	var hits atomic.Int64
	srv := crateServer(t, map[string][]byte{
		"shared-0.3.0": shared,
		"only-a-1.0.0": onlyA,
		"only-b-1.0.0": onlyB,
	}, &hits)

	distdir := filepath.Join(t.TempDir(), "distdir")
	artifact, err := Run(context.Background(), []string{dirA, dirB}, testOptions(distdir, srv))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if want := distdir + "/proj-a-0.1.0-crates.tar.xz"; artifact != want {
		t.Fatalf("expected %s, got %s", want, artifact)
	}
	// the shared crate is de-duplicated across directories
	if hits.Load() != 3 {
		t.Errorf("expected 3 downloads for 3 distinct crates, got %d", hits.Load())
	}

	members := readArtifact(t, artifact)
	for _, name := range []string{
		"cargo_home/gentoo/shared-0.3.0/.cargo-checksum.json",
		"cargo_home/gentoo/only-a-1.0.0/.cargo-checksum.json",
		"cargo_home/gentoo/only-b-1.0.0/.cargo-checksum.json",
	} {
		if !members[name] {
			t.Errorf("artifact is missing %s (have %v)", name, members)
		}
	}
}

func TestRunMissingManifest(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "Cargo.lock", "version = 3\n")

	var hits atomic.Int64
	srv := crateServer(t, nil, &hits)

	_, err := Run(context.Background(), []string{dir}, testOptions(filepath.Join(t.TempDir(), "distdir"), srv))
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected a missing-manifest error, got %v", err)
	}
	if !strings.Contains(err.Error(), dir) {
		t.Errorf("error must name the offending directory: %v", err)
	}
}

func TestRunRejectsWorkspaceRootDirectory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "Cargo.lock", "version = 3\n")
	writeFile(t, dir, "Cargo.toml", "[workspace]\nmembers = [\"member-a\"]\n")

	var hits atomic.Int64
	srv := crateServer(t, nil, &hits)

	_, err := Run(context.Background(), []string{dir}, testOptions(filepath.Join(t.TempDir(), "distdir"), srv))
	var wsErr *cargo.WorkspaceManifestError
	if !errors.As(err, &wsErr) {
		t.Fatalf("expected a workspace-root error, got %v", err)
	}
}

func TestRunNoDirectories(t *testing.T) {
	distdir := filepath.Join(t.TempDir(), "distdir")

	var hits atomic.Int64
	srv := crateServer(t, nil, &hits)

	_, err := Run(context.Background(), nil, testOptions(distdir, srv))
	if !errors.Is(err, ErrMetadataMissing) {
		t.Fatalf("expected ErrMetadataMissing, got %v", err)
	}
	if _, statErr := os.Stat(distdir); !errors.Is(statErr, fs.ErrNotExist) {
		t.Error("a metadata failure must abort before any disk work")
	}
}

func TestRunChecksumMismatchAbortsBeforeRepack(t *testing.T) {
	crateBody := makeCrateBytes(t, map[string]string{
		"solo-dep-1.0.0/lib.rs": "x\n",
	})

	dir := t.TempDir()
	writeFile(t, dir, "Cargo.toml", "[package]\nname = \"solo\"\nversion = \"1.0.0\"\n")
	writeFile(t, dir, "Cargo.lock", `version = 3

[[package]]
name = "solo-dep"
version = "1.0.0"
source = "registry+https://github.com/rust-lang/crates.io-index"
checksum = "`+strings.Repeat("ab", 32)+`"
`)

	var hits atomic.Int64
	srv := crateServer(t, map[string][]byte{"solo-dep-1.0.0": crateBody}, &hits)

	distdir := filepath.Join(t.TempDir(), "distdir")
	_, err := Run(context.Background(), []string{dir}, testOptions(distdir, srv))
	if !errors.Is(err, fetch.ErrChecksumMismatch) {
		t.Fatalf("expected a checksum mismatch, got %v", err)
	}
	if _, statErr := os.Stat(filepath.Join(distdir, "solo-1.0.0-crates.tar.xz")); !errors.Is(statErr, fs.ErrNotExist) {
		t.Error("verification failures must abort before the artifact is written")
	}
}
