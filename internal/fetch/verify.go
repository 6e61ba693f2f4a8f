package fetch

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/gentoo-infra/crate-vendor/internal/cargo"
	"github.com/gentoo-infra/crate-vendor/internal/utils/logger"
)

// VerifyCrates checks every file-backed crate in distdir against its pinned
// SHA-256 checksum. The first mismatch aborts with a ChecksumError; a crate
// that cannot be read at all is reported as is.
func VerifyCrates(crates []cargo.Crate, distdir string) error {
	log := logger.Logger()

	files := cargo.FileBacked(crates)
	for _, c := range files {
		actual, err := computeFileHash(filepath.Join(distdir, c.Filename()))
		if err != nil {
			return fmt.Errorf("verifying %s: %w", c.Filename(), err)
		}
		if !strings.EqualFold(actual, c.Checksum) {
			return &ChecksumError{Crate: c, Expected: c.Checksum, Actual: actual}
		}
	}
	log.Debugf("verified %d crate files", len(files))
	return nil
}

// computeFileHash streams the file through SHA-256 and returns the digest in
// hex.
func computeFileHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hashing %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
