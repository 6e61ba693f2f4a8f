package fetch

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gentoo-infra/crate-vendor/internal/cargo"
)

// ErrUnavailable marks a fetch strategy that cannot run on this host at all,
// typically because its external tool is not installed. The chain reacts by
// moving on to the next strategy; every other error is fatal.
var ErrUnavailable = errors.New("fetcher unavailable on this system")

// ErrChecksumMismatch is the sentinel wrapped by ChecksumError.
var ErrChecksumMismatch = errors.New("checksum mismatch")

// DownloadError reports the final failure of one download unit after all
// retry attempts were spent.
type DownloadError struct {
	Crate    cargo.Crate
	Attempts int
	Err      error
}

func (e *DownloadError) Error() string {
	if e.Attempts > 1 {
		return fmt.Sprintf("downloading %s: %v (after %d attempts)", e.Crate.Filename(), e.Err, e.Attempts)
	}
	return fmt.Sprintf("downloading %s: %v", e.Crate.Filename(), e.Err)
}

func (e *DownloadError) Unwrap() error { return e.Err }

// FetchError aggregates every failed download unit of one fetch pass. The
// pass always runs to completion so the caller learns about all failures at
// once instead of one per run.
type FetchError struct {
	Failures []*DownloadError
}

func (e *FetchError) Error() string {
	if len(e.Failures) == 1 {
		return e.Failures[0].Error()
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d downloads failed:", len(e.Failures))
	for _, f := range e.Failures {
		b.WriteString("\n  ")
		b.WriteString(f.Error())
	}
	return b.String()
}

// Unwrap exposes the individual failures to errors.Is and errors.As, so
// context cancellation stays detectable through the aggregate.
func (e *FetchError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f
	}
	return errs
}

// ChecksumError reports a crate file whose digest does not match the
// lockfile pin.
type ChecksumError struct {
	Crate    cargo.Crate
	Expected string
	Actual   string
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("%s: %v: expected %s, got %s",
		e.Crate.Filename(), ErrChecksumMismatch, e.Expected, e.Actual)
}

func (e *ChecksumError) Unwrap() error { return ErrChecksumMismatch }

// transientError marks a failed attempt worth retrying: a transport error or
// a retryable HTTP status.
type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }
