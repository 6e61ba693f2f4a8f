package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/gentoo-infra/crate-vendor/internal/cargo"
	"github.com/gentoo-infra/crate-vendor/internal/utils/logger"
)

func init() {
	Register("registry", newRegistryFetcher)
}

const (
	initialRetryInterval = 500 * time.Millisecond
	copyBufferSize       = 64 * 1024
)

// registryFetcher downloads crate files straight from the registry over
// HTTP, with bounded concurrency, request rate limiting and per-crate
// retries. It is the default strategy; the external tool strategies only
// exist as fallbacks.
type registryFetcher struct {
	client      *http.Client
	baseURL     string
	concurrency int
	requestRate int
	retries     int
	progress    io.Writer
}

func newRegistryFetcher(cfg Config) Strategy {
	client := cfg.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	f := &registryFetcher{
		client:      client,
		baseURL:     cfg.BaseURL,
		concurrency: cfg.Concurrency,
		requestRate: cfg.RequestRate,
		retries:     cfg.Retries,
		progress:    cfg.Progress,
	}
	if f.concurrency < 1 {
		f.concurrency = 1
	}
	if f.requestRate < 1 {
		f.requestRate = 1
	}
	if f.retries < 1 {
		f.retries = 1
	}
	if f.progress == nil {
		f.progress = io.Discard
	}
	return f
}

func (f *registryFetcher) Name() string { return "registry" }

// Fetch downloads every file-backed crate missing from distdir. All units
// run to completion even when some fail, so one pass reports every broken
// download instead of the first one.
func (f *registryFetcher) Fetch(ctx context.Context, crates []cargo.Crate, distdir string) error {
	files := cargo.FileBacked(crates)
	if len(files) == 0 {
		return nil
	}

	bar := progressbar.NewOptions(len(files),
		progressbar.OptionSetWriter(f.progress),
		progressbar.OptionFullWidth(),
		progressbar.OptionShowDescriptionAtLineEnd(),
		progressbar.OptionSetDescription("downloading"),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionThrottle(100*time.Millisecond),
	)

	sem := semaphore.NewWeighted(int64(f.concurrency))
	limiter := rate.NewLimiter(rate.Limit(f.requestRate), f.requestRate)

	var wg sync.WaitGroup
	results := make([]*DownloadError, len(files))
	for i, crate := range files {
		wg.Add(1)
		go func(i int, crate cargo.Crate) {
			defer wg.Done()
			results[i] = f.fetchOne(ctx, crate, distdir, sem, limiter, bar)
		}(i, crate)
	}
	wg.Wait()
	_ = bar.Finish()

	var failures []*DownloadError
	for _, r := range results {
		if r != nil {
			failures = append(failures, r)
		}
	}
	if len(failures) > 0 {
		return &FetchError{Failures: failures}
	}
	return nil
}

// fetchOne is a single download unit: skip if present, then retry the
// download with exponential backoff until the attempt budget is spent.
func (f *registryFetcher) fetchOne(ctx context.Context, crate cargo.Crate, distdir string,
	sem *semaphore.Weighted, limiter *rate.Limiter, bar *progressbar.ProgressBar) *DownloadError {
	log := logger.Logger()
	defer func() { _ = bar.Add(1) }()

	fail := func(attempts int, err error) *DownloadError {
		return &DownloadError{Crate: crate, Attempts: attempts, Err: err}
	}

	if err := validateFilename(crate.Filename()); err != nil {
		return fail(0, err)
	}

	dest := filepath.Join(distdir, crate.Filename())
	if info, err := os.Stat(dest); err == nil && info.Size() > 0 {
		log.Debugf("%s already present, skipping", crate.Filename())
		return nil
	}

	if err := sem.Acquire(ctx, 1); err != nil {
		return fail(0, err)
	}
	defer sem.Release(1)

	bar.Describe(fmt.Sprintf("downloading %s", crate.Filename()))

	attempts := 0
	operation := func() error {
		attempts++
		if err := limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		err := f.downloadOnce(ctx, crate, dest)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return backoff.Permanent(context.Cause(ctx))
		}
		var transient *transientError
		if errors.As(err, &transient) {
			return err
		}
		return backoff.Permanent(err)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = initialRetryInterval
	policy.RandomizationFactor = 0
	policy.Multiplier = 2
	policy.MaxElapsedTime = 0

	notify := func(err error, wait time.Duration) {
		log.Debugf("retrying %s in %s: %v", crate.Filename(), wait, err)
	}
	err := backoff.RetryNotify(operation,
		backoff.WithContext(backoff.WithMaxRetries(policy, uint64(f.retries-1)), ctx), notify)
	if err != nil {
		return fail(attempts, err)
	}
	return nil
}

// downloadOnce performs one attempt. It streams into a .part file and
// renames on success; any failure removes the partial file so the cache
// never holds truncated crates.
func (f *registryFetcher) downloadOnce(ctx context.Context, crate cargo.Crate, dest string) (err error) {
	part := dest + ".part"
	defer func() {
		if err != nil {
			_ = os.Remove(part)
		}
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.urlFor(crate), http.NoBody)
	if err != nil {
		return err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return &transientError{err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case retryableStatus(resp.StatusCode):
		return &transientError{err: fmt.Errorf("bad status: %s", resp.Status)}
	default:
		return fmt.Errorf("bad status: %s", resp.Status)
	}

	out, err := os.OpenFile(part, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	buf := make([]byte, copyBufferSize)
	if _, err := io.CopyBuffer(out, resp.Body, buf); err != nil {
		_ = out.Close()
		return &transientError{err: err}
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Rename(part, dest)
}

func (f *registryFetcher) urlFor(crate cargo.Crate) string {
	if f.baseURL == "" {
		return crate.DownloadURL()
	}
	return fmt.Sprintf("%s/%s/%s/download", f.baseURL, crate.Name, crate.Version)
}

// retryableStatus reports whether an HTTP status is worth another attempt:
// throttling and transient server-side failures.
func retryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}
