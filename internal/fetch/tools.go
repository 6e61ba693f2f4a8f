package fetch

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/gentoo-infra/crate-vendor/internal/cargo"
	"github.com/gentoo-infra/crate-vendor/internal/utils/logger"
)

func init() {
	Register("aria2c", func(Config) Strategy { return &aria2Fetcher{bin: "aria2c"} })
	Register("wget", func(Config) Strategy { return &wgetFetcher{bin: "wget"} })
}

// missingFileBacked returns the file-backed crates not yet present in
// distdir, after checking their filenames are safe to write there.
func missingFileBacked(crates []cargo.Crate, distdir string) ([]cargo.Crate, error) {
	var missing []cargo.Crate
	for _, c := range cargo.FileBacked(crates) {
		if err := validateFilename(c.Filename()); err != nil {
			return nil, err
		}
		if info, err := os.Stat(filepath.Join(distdir, c.Filename())); err == nil && info.Size() > 0 {
			continue
		}
		missing = append(missing, c)
	}
	return missing, nil
}

// lookupTool resolves a fetcher binary. A missing binary means the strategy
// is unavailable rather than failed, so the chain can move on.
func lookupTool(bin string) (string, error) {
	path, err := exec.LookPath(bin)
	if err != nil {
		return "", fmt.Errorf("%s: %w", bin, ErrUnavailable)
	}
	return path, nil
}

// aria2Fetcher shells out to aria2c(1) with an input list of url/out pairs,
// letting it parallelize on its own.
type aria2Fetcher struct {
	bin string
}

func (f *aria2Fetcher) Name() string { return "aria2c" }

func (f *aria2Fetcher) Fetch(ctx context.Context, crates []cargo.Crate, distdir string) error {
	missing, err := missingFileBacked(crates, distdir)
	if err != nil {
		return err
	}
	// a warm cache needs no tool at all
	if len(missing) == 0 {
		return nil
	}
	path, err := lookupTool(f.bin)
	if err != nil {
		return err
	}

	inputList, err := os.CreateTemp("", "crate-vendor-aria2-*.txt")
	if err != nil {
		return fmt.Errorf("creating aria2c input list: %w", err)
	}
	defer os.Remove(inputList.Name())
	for _, c := range missing {
		if _, err := fmt.Fprintf(inputList, "%s\n  out=%s\n", c.DownloadURL(), c.Filename()); err != nil {
			inputList.Close()
			return fmt.Errorf("writing aria2c input list: %w", err)
		}
	}
	if err := inputList.Close(); err != nil {
		return fmt.Errorf("writing aria2c input list: %w", err)
	}

	log := logger.Logger()
	log.Debugf("fetching %d crates using %s", len(missing), path)

	cmd := exec.CommandContext(ctx, path,
		"--dir", distdir,
		"--input-file", inputList.Name(),
		"--auto-file-renaming=false",
		"--conditional-get=true",
	)
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("aria2c failed: %w", err)
	}
	return nil
}

// wgetFetcher downloads crates one by one with wget(1).
type wgetFetcher struct {
	bin string
}

func (f *wgetFetcher) Name() string { return "wget" }

func (f *wgetFetcher) Fetch(ctx context.Context, crates []cargo.Crate, distdir string) error {
	missing, err := missingFileBacked(crates, distdir)
	if err != nil {
		return err
	}
	if len(missing) == 0 {
		return nil
	}
	path, err := lookupTool(f.bin)
	if err != nil {
		return err
	}

	log := logger.Logger()
	for _, c := range missing {
		dest := filepath.Join(distdir, c.Filename())
		log.Debugf("fetching %s using %s", c.Filename(), path)

		cmd := exec.CommandContext(ctx, path, "-O", dest, c.DownloadURL())
		cmd.Stdout = os.Stderr
		cmd.Stderr = os.Stderr
		if err := cmd.Run(); err != nil {
			// wget leaves a partial file behind on failure
			_ = os.Remove(dest)
			return fmt.Errorf("wget failed for %s: %w", c.Filename(), err)
		}
	}
	return nil
}
