// Package pipeline drives a full bundling run: resolve every input
// directory's lockfile, fetch and verify the union of their crates, and
// repack the files into one artifact.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/gentoo-infra/crate-vendor/internal/cargo"
	"github.com/gentoo-infra/crate-vendor/internal/fetch"
	"github.com/gentoo-infra/crate-vendor/internal/repack"
	"github.com/gentoo-infra/crate-vendor/internal/utils/config"
	"github.com/gentoo-infra/crate-vendor/internal/utils/logger"
)

// ErrMetadataMissing means no input directory produced package metadata, so
// the artifact cannot be named.
var ErrMetadataMissing = errors.New("no package metadata discovered")

// Options configures one bundling run.
type Options struct {
	// Distdir is the crate cache directory, created if absent.
	Distdir string
	// OutputTemplate names the artifact; {name} and {version} are filled
	// from the first directory's package metadata, {distdir} from Distdir.
	OutputTemplate string
	// Prefix roots every member inside the artifact.
	Prefix string
	// Compression selects the artifact's compression filter.
	Compression repack.Format
	// Fetchers is the download strategy order.
	Fetchers []string
	// Fetch tunes the download phase.
	Fetch fetch.Config
}

// Run executes the pipeline over the input directories and returns the
// artifact path. Metadata problems in any directory abort the run before
// any network or disk work starts.
func Run(ctx context.Context, dirs []string, opts Options) (string, error) {
	log := logger.Logger()

	runID := uuid.NewString()
	log.Infof("starting bundle run %s", runID)

	crates := map[cargo.Crate]struct{}{}
	var meta *cargo.PackageMetadata
	for _, dir := range dirs {
		ws, err := cargo.ResolveWorkspace(dir)
		if err != nil {
			return "", err
		}
		for c := range ws.Crates {
			crates[c] = struct{}{}
		}

		m, err := cargo.ReadPackageMetadata(filepath.Join(dir, "Cargo.toml"), ws.Metadata)
		if err != nil {
			var wsErr *cargo.WorkspaceManifestError
			if errors.As(err, &wsErr) {
				log.Infof("run the bundler in one of the workspace members: %s",
					strings.Join(wsErr.Members, " "))
				return "", err
			}
			return "", fmt.Errorf("%s: %w", dir, err)
		}
		if meta == nil {
			meta = &m
		}
	}
	if meta == nil {
		return "", ErrMetadataMissing
	}

	if _, err := config.EnsureDir(opts.Distdir); err != nil {
		return "", err
	}
	artifact := strings.NewReplacer(
		"{name}", meta.Name,
		"{version}", meta.Version,
		"{distdir}", opts.Distdir,
	).Replace(opts.OutputTemplate)

	all := make([]cargo.Crate, 0, len(crates))
	for c := range crates {
		all = append(all, c)
	}
	log.Infof("bundling %d crates for %s-%s", len(cargo.FileBacked(all)), meta.Name, meta.Version)

	if err := fetch.Fetch(ctx, all, opts.Distdir, opts.Fetch, opts.Fetchers); err != nil {
		return "", err
	}
	if err := fetch.VerifyCrates(all, opts.Distdir); err != nil {
		return "", err
	}
	if err := repack.Repack(ctx, all, opts.Distdir, artifact, opts.Prefix, opts.Compression); err != nil {
		return "", err
	}

	writeReport(runID, artifact, all)
	return artifact, nil
}

// writeReport drops the bundled-crates list beside the artifact. A report
// problem never fails a run that already produced its artifact.
func writeReport(runID, artifact string, crates []cargo.Crate) {
	log := logger.Logger()

	report := logger.VendorReport{RunID: runID}
	for _, c := range cargo.FileBacked(crates) {
		report.Add(c.Filename())
	}
	path := logger.ReportPath(artifact)
	if err := report.WriteFile(path); err != nil {
		log.Warnf("could not write the crate report: %v", err)
		return
	}
	log.Debugf("crate report written to %s", path)
}
