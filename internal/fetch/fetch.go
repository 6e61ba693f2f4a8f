// Package fetch downloads the pinned crate files into distdir and verifies
// them against their lockfile checksums.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gentoo-infra/crate-vendor/internal/cargo"
	"github.com/gentoo-infra/crate-vendor/internal/utils/logger"
)

// Strategy is one way of getting crate files into distdir. A strategy must
// be idempotent: crate files already present in distdir are kept, not
// re-downloaded.
type Strategy interface {
	Name() string
	Fetch(ctx context.Context, crates []cargo.Crate, distdir string) error
}

// Config carries the per-run settings shared by all strategies.
type Config struct {
	// Concurrency bounds parallel downloads, RequestRate caps new requests
	// per second. Both must be positive.
	Concurrency int
	RequestRate int
	// Retries is the total number of attempts per crate, including the
	// first.
	Retries int
	// HTTPClient is used by the in-process strategy. nil means
	// http.DefaultClient.
	HTTPClient *http.Client
	// BaseURL overrides the crates.io download endpoint. Empty means the
	// real registry.
	BaseURL string
	// Progress receives the progress bar. nil means no progress output.
	Progress io.Writer
}

// Factory builds a strategy from the run configuration. Strategies register
// themselves under their command-line name.
type Factory func(cfg Config) Strategy

var factories = map[string]Factory{}

// Register adds a strategy factory under a unique name. It panics on
// duplicates, so collisions surface at startup rather than mid-run.
func Register(name string, f Factory) {
	if _, exists := factories[name]; exists {
		panic(fmt.Sprintf("fetch strategy %q registered twice", name))
	}
	factories[name] = f
}

// Fetch runs the named strategies in order until one of them completes.
// Strategies that report ErrUnavailable are skipped; any other error aborts
// the chain. It fails when every strategy is unavailable.
func Fetch(ctx context.Context, crates []cargo.Crate, distdir string, cfg Config, order []string) error {
	log := logger.Logger()

	for _, name := range order {
		factory, ok := factories[name]
		if !ok {
			return fmt.Errorf("unknown fetcher %q", name)
		}

		err := factory(cfg).Fetch(ctx, crates, distdir)
		if errors.Is(err, ErrUnavailable) {
			log.Debugf("fetcher %s is unavailable, trying the next one: %v", name, err)
			continue
		}
		if err != nil {
			return err
		}
		log.Debugf("fetcher %s completed", name)
		return nil
	}
	return fmt.Errorf("no supported fetcher found (tried %s)", strings.Join(order, ", "))
}

// validateFilename rejects crate names that could place the download outside
// distdir. Lockfiles are inputs, not trusted data.
func validateFilename(name string) error {
	if name == "" || name == "." || name == ".." {
		return fmt.Errorf("unsafe crate filename %q", name)
	}
	if strings.ContainsAny(name, `/\`) || filepath.IsAbs(name) {
		return fmt.Errorf("unsafe crate filename %q", name)
	}
	return nil
}
