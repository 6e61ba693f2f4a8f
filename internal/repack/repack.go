// Package repack transcodes downloaded crate files into one offline bundle:
// every per-crate gzip layer is stripped, the contents are merged into a
// single tar stream and compressed exactly once.
package repack

import (
	"archive/tar"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"golang.org/x/sys/unix"

	"github.com/gentoo-infra/crate-vendor/internal/cargo"
	"github.com/gentoo-infra/crate-vendor/internal/utils/logger"
)

const progressInterval = 10 * time.Second

// PathEscapeError reports an archive member whose name would land outside
// its crate's package directory. Such a crate is malicious or corrupt and
// must never be packed.
type PathEscapeError struct {
	Member     string
	PackageDir string
}

func (e *PathEscapeError) Error() string {
	return fmt.Sprintf("refusing to pack member outside crate dir %s: %s", e.PackageDir, e.Member)
}

// Repack bundles the file-backed crates from distdir into a single
// compressed tarball at outputPath, each crate rooted under
// prefix/<name>-<version>/ with an injected .cargo-checksum.json. The
// output appears atomically: a temp file in the destination directory is
// renamed over outputPath only after the whole archive is written.
func Repack(ctx context.Context, crates []cargo.Crate, distdir, outputPath, prefix string, format Format) (err error) {
	log := logger.Logger()

	files := cargo.FileBacked(crates)
	prefix = strings.TrimSuffix(prefix, "/")

	outDir := filepath.Dir(outputPath)
	tmp, err := os.CreateTemp(outDir, "."+filepath.Base(outputPath)+".*")
	if err != nil {
		return fmt.Errorf("creating temporary bundle: %w", err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	// discover the current umask without changing it, then give the bundle
	// the permissions a regular file would get
	currentUmask := unix.Umask(0)
	unix.Umask(currentUmask)
	if err = tmp.Chmod(0666 &^ os.FileMode(currentUmask)); err != nil {
		return fmt.Errorf("setting bundle permissions: %w", err)
	}

	compressor, err := newCompressor(tmp, format)
	if err != nil {
		return err
	}
	tw := tar.NewWriter(compressor)

	start := time.Now()
	nextPing := start.Add(progressInterval)
	for i, crate := range files {
		if err = ctx.Err(); err != nil {
			return err
		}
		if now := time.Now(); now.After(nextPing) {
			log.Infof("processed %d/%d crates", i, len(files))
			nextPing = now.Add(progressInterval)
		}
		if err = addCrate(tw, crate, distdir, prefix); err != nil {
			return err
		}
	}

	if err = tw.Close(); err != nil {
		return fmt.Errorf("finalizing tar stream: %w", err)
	}
	if err = compressor.Close(); err != nil {
		return fmt.Errorf("finalizing %s stream: %w", format, err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("closing bundle: %w", err)
	}
	if err = os.Rename(tmp.Name(), outputPath); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("moving bundle into place: %w", err)
	}

	log.Infof("repacked %d crates in %s", len(files), time.Since(start).Round(time.Millisecond))
	return nil
}

// addCrate streams one crate's .tar.gz members into the bundle, re-rooted
// under prefix, and appends the cargo checksum manifest.
func addCrate(tw *tar.Writer, crate cargo.Crate, distdir, prefix string) error {
	log := logger.Logger()

	f, err := os.Open(filepath.Join(distdir, crate.Filename()))
	if err != nil {
		return fmt.Errorf("opening %s: %w", crate.Filename(), err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("%s: %w", crate.Filename(), err)
	}
	defer gz.Close()

	packageDir := crate.PackageDir()
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("reading %s: %w", crate.Filename(), err)
		}
		// let the writer pick the header format instead of inheriting
		// whatever the upstream crate was packed with
		hdr.Format = tar.FormatUnknown

		rooted, err := rootedName(hdr.Name, packageDir, prefix)
		if err != nil {
			return err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			hdr.Name = rooted + "/"
			if err := tw.WriteHeader(hdr); err != nil {
				return fmt.Errorf("writing %s: %w", hdr.Name, err)
			}
		case tar.TypeSymlink:
			// symlink targets resolve relative to the member at extraction
			// time, so only the name moves under the prefix
			hdr.Name = rooted
			if err := tw.WriteHeader(hdr); err != nil {
				return fmt.Errorf("writing %s: %w", hdr.Name, err)
			}
		case tar.TypeLink:
			// hard link targets are archive paths and must be re-rooted and
			// checked like member names
			target, err := rootedName(hdr.Linkname, packageDir, prefix)
			if err != nil {
				return err
			}
			hdr.Name = rooted
			hdr.Linkname = target
			if err := tw.WriteHeader(hdr); err != nil {
				return fmt.Errorf("writing %s: %w", hdr.Name, err)
			}
		case tar.TypeReg:
			hdr.Name = rooted
			if err := tw.WriteHeader(hdr); err != nil {
				return fmt.Errorf("writing %s: %w", hdr.Name, err)
			}
			if _, err := io.Copy(tw, tr); err != nil {
				return fmt.Errorf("copying %s: %w", hdr.Name, err)
			}
		default:
			log.Debugf("skipping non-regular member: %s", hdr.Name)
		}
	}

	return writeChecksumManifest(tw, crate, prefix)
}

// rootedName validates that a POSIX archive path stays inside the crate's
// package directory and returns it re-rooted under prefix.
func rootedName(member, packageDir, prefix string) (string, error) {
	clean := path.Clean(member)
	if clean != packageDir && !strings.HasPrefix(clean, packageDir+"/") {
		return "", &PathEscapeError{Member: member, PackageDir: packageDir}
	}
	return prefix + "/" + clean, nil
}

// writeChecksumManifest appends the .cargo-checksum.json cargo expects in
// every vendored crate directory.
func writeChecksumManifest(tw *tar.Writer, crate cargo.Crate, prefix string) error {
	manifest := struct {
		Package string            `json:"package"`
		Files   map[string]string `json:"files"`
	}{
		Package: crate.Checksum,
		Files:   map[string]string{},
	}
	data, err := json.Marshal(manifest)
	if err != nil {
		return fmt.Errorf("encoding checksum manifest: %w", err)
	}

	hdr := &tar.Header{
		Name:     fmt.Sprintf("%s/%s/.cargo-checksum.json", prefix, crate.PackageDir()),
		Typeflag: tar.TypeReg,
		Mode:     0644,
		Size:     int64(len(data)),
		ModTime:  time.Unix(0, 0),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("writing checksum manifest for %s: %w", crate, err)
	}
	if _, err := tw.Write(data); err != nil {
		return fmt.Errorf("writing checksum manifest for %s: %w", crate, err)
	}
	return nil
}
