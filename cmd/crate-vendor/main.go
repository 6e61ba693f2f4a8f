package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/gentoo-infra/crate-vendor/internal/utils/config"
	"github.com/gentoo-infra/crate-vendor/internal/utils/logger"
)

var (
	configFile string
	logLevel   string
)

// createRootCommand wires the subcommands and the shared config/logging
// flags.
func createRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "crate-vendor",
		Short: "bundle pinned cargo crates for offline builds",
		Long: `crate-vendor reads Cargo.lock files, downloads and verifies every
		pinned crate, and repacks them into a single compressed tarball that
		cargo accepts as an offline vendor source.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: setupRun,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "",
		"Path to the configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"Log level: debug, info, warn or error")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false,
		"Shorthand for --log-level debug")

	rootCmd.AddCommand(createBundleCommand())
	rootCmd.AddCommand(createIndexCommand())
	return rootCmd
}

// setupRun loads the configuration and installs the logger before any
// subcommand runs.
func setupRun(cmd *cobra.Command, args []string) error {
	if _, err := config.Load(configFile); err != nil {
		return err
	}

	level := resolveRequestedLogLevel(cmd)
	if level == "" {
		level = config.GlConfig.Logging.Level
	}
	return logger.Setup(level)
}

// resolveRequestedLogLevel prefers the explicit --log-level flag and falls
// back to --verbose.
func resolveRequestedLogLevel(cmd *cobra.Command) string {
	if logLevel != "" {
		return logLevel
	}
	if cmd != nil {
		if on, err := cmd.Flags().GetBool("verbose"); err == nil && on {
			return "debug"
		}
	}
	return ""
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := createRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
