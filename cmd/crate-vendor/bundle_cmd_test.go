package main

import (
	"testing"

	"github.com/gentoo-infra/crate-vendor/internal/repack"
)

func TestResolveOutputTemplate(t *testing.T) {
	cases := []struct {
		explicit bool
		format   repack.Format
		want     string
	}{
		{false, repack.FormatXZ, defaultOutputTemplate},
		{false, repack.FormatZstd, "{distdir}/{name}-{version}-crates.tar.zst"},
		{false, repack.FormatGzip, "{distdir}/{name}-{version}-crates.tar.gz"},
		{true, repack.FormatZstd, defaultOutputTemplate},
	}
	for _, c := range cases {
		got := resolveOutputTemplate(defaultOutputTemplate, c.explicit, c.format)
		if got != c.want {
			t.Errorf("resolveOutputTemplate(explicit=%v, %s) = %q, expected %q",
				c.explicit, c.format, got, c.want)
		}
	}
}

func TestCompressionFlag(t *testing.T) {
	var f compressionFlag
	if err := f.Set("zstd"); err != nil || f.format != repack.FormatZstd {
		t.Errorf("Set(zstd) failed: %v (format %q)", err, f.format)
	}
	if err := f.Set("bzip2"); err == nil {
		t.Error("expected an error for an unsupported compression")
	}
	if f.String() != "zstd" {
		t.Errorf("a rejected value must not clobber the flag, got %q", f.String())
	}
}

func TestBundleCommandFlagDefaults(t *testing.T) {
	cmd := createBundleCommand()
	for flag, want := range map[string]string{
		"distdir":     "distdir",
		"output":      defaultOutputTemplate,
		"prefix":      "cargo_home/gentoo",
		"compression": "xz",
	} {
		f := cmd.Flags().Lookup(flag)
		if f == nil {
			t.Fatalf("flag --%s not registered", flag)
		}
		if f.DefValue != want {
			t.Errorf("--%s default: expected %q, got %q", flag, want, f.DefValue)
		}
	}
}
