package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/gentoo-infra/crate-vendor/internal/fetch"
	"github.com/gentoo-infra/crate-vendor/internal/pipeline"
	"github.com/gentoo-infra/crate-vendor/internal/repack"
	"github.com/gentoo-infra/crate-vendor/internal/utils/config"
	"github.com/gentoo-infra/crate-vendor/internal/utils/logger"
	"github.com/gentoo-infra/crate-vendor/internal/utils/network"
)

const defaultOutputTemplate = "{distdir}/{name}-{version}-crates.tar.xz"

var (
	bundleDistdir     string
	bundleOutput      string
	bundlePrefix      string
	bundleCompression = compressionFlag{format: repack.FormatXZ}
)

// createBundleCommand creates the bundle subcommand
func createBundleCommand() *cobra.Command {
	bundleCmd := &cobra.Command{
		Use:   "bundle [flags] DIRECTORY...",
		Short: "download and bundle the crates pinned by Cargo.lock",
		Long: `Bundle resolves the Cargo.lock of every DIRECTORY, downloads and
		verifies each pinned crate, and repacks them into one compressed
		tarball that cargo accepts as an offline vendor source.`,
		Args: cobra.MinimumNArgs(1),
		RunE: executeBundle,
	}

	bundleCmd.Flags().StringVarP(&bundleDistdir, "distdir", "d", "distdir",
		"Directory to cache downloaded crates")
	bundleCmd.Flags().StringVarP(&bundleOutput, "output", "o", defaultOutputTemplate,
		"Output path template; {name}, {version} and {distdir} are substituted")
	bundleCmd.Flags().StringVar(&bundlePrefix, "prefix", "cargo_home/gentoo",
		"Path prefix for members inside the tarball")
	bundleCmd.Flags().Var(&bundleCompression, "compression",
		"Tarball compression: xz, zstd or gzip")
	return bundleCmd
}

// executeBundle handles the bundle command execution logic
func executeBundle(cmd *cobra.Command, args []string) error {
	log := logger.Logger()
	cfg := config.GlConfig

	output := resolveOutputTemplate(bundleOutput,
		cmd.Flags().Changed("output"), bundleCompression.format)

	opts := pipeline.Options{
		Distdir:        bundleDistdir,
		OutputTemplate: output,
		Prefix:         bundlePrefix,
		Compression:    bundleCompression.format,
		Fetchers:       cfg.Fetchers,
		Fetch: fetch.Config{
			Concurrency: cfg.Concurrency,
			RequestRate: cfg.RequestRate,
			Retries:     cfg.Retries,
			HTTPClient:  network.NewSecureHTTPClient(),
			Progress:    cmd.ErrOrStderr(),
		},
	}

	artifact, err := pipeline.Run(cmd.Context(), args, opts)
	if err != nil {
		return err
	}
	log.Infof("crate bundle ready")
	fmt.Fprintln(cmd.OutOrStdout(), artifact)
	return nil
}

// resolveOutputTemplate keeps the default template's extension in sync with
// the chosen compression; an explicit --output always wins untouched.
func resolveOutputTemplate(template string, explicit bool, format repack.Format) string {
	if explicit || format == repack.FormatXZ {
		return template
	}
	return strings.TrimSuffix(template, repack.FormatXZ.Extension()) + format.Extension()
}

// compressionFlag is a pflag.Value confined to the supported tarball
// formats.
type compressionFlag struct {
	format repack.Format
}

var _ pflag.Value = (*compressionFlag)(nil)

func (f *compressionFlag) String() string { return f.format.String() }

func (f *compressionFlag) Set(value string) error {
	format, err := repack.ParseFormat(value)
	if err != nil {
		return err
	}
	f.format = format
	return nil
}

func (f *compressionFlag) Type() string { return "xz|zstd|gzip" }
