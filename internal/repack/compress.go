package repack

import (
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
)

// Format selects the compression filter wrapped around the bundle tar
// stream. The archive is compressed exactly once, whole; the per-crate
// gzip layers are stripped during repacking.
type Format string

const (
	FormatXZ   Format = "xz"
	FormatZstd Format = "zstd"
	FormatGzip Format = "gzip"
)

// ParseFormat maps a user-supplied name to a Format.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatXZ, FormatZstd, FormatGzip:
		return Format(s), nil
	default:
		return "", fmt.Errorf("unknown compression format %q (expected xz|zstd|gzip)", s)
	}
}

// Extension returns the conventional artifact suffix for the format.
func (f Format) Extension() string {
	switch f {
	case FormatZstd:
		return "tar.zst"
	case FormatGzip:
		return "tar.gz"
	default:
		return "tar.xz"
	}
}

func (f Format) String() string { return string(f) }

// newCompressor wraps w in the format's tightest encoder. Closing the
// returned writer flushes the filter but not w.
func newCompressor(w io.Writer, f Format) (io.WriteCloser, error) {
	switch f {
	case FormatXZ:
		// dictionary capacity on par with xz -9, CRC64 like the xz tool
		cfg := xz.WriterConfig{
			DictCap:  64 << 20,
			CheckSum: xz.CRC64,
		}
		enc, err := cfg.NewWriter(w)
		if err != nil {
			return nil, fmt.Errorf("creating xz writer: %w", err)
		}
		return enc, nil
	case FormatZstd:
		enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedBestCompression))
		if err != nil {
			return nil, fmt.Errorf("creating zstd writer: %w", err)
		}
		return enc, nil
	case FormatGzip:
		enc, err := gzip.NewWriterLevel(w, gzip.BestCompression)
		if err != nil {
			return nil, fmt.Errorf("creating gzip writer: %w", err)
		}
		return enc, nil
	default:
		return nil, fmt.Errorf("unknown compression format %q", f)
	}
}
