package main

import (
	"github.com/spf13/cobra"

	"github.com/gentoo-infra/crate-vendor/internal/overlay"
	"github.com/gentoo-infra/crate-vendor/internal/utils/logger"
)

var indexOutput string

// createIndexCommand creates the index subcommand
func createIndexCommand() *cobra.Command {
	indexCmd := &cobra.Command{
		Use:   "index [flags] [ROOT]",
		Short: "index the ebuilds of a portage overlay",
		Long: `Index walks an overlay tree, records every ebuild's category, name,
		version, inherited eclasses and inferred language, and writes the
		package groups as a JSON registry.`,
		Args: cobra.MaximumNArgs(1),
		RunE: executeIndex,
	}

	indexCmd.Flags().StringVarP(&indexOutput, "output", "o", "registry.json",
		"Output JSON file")
	return indexCmd
}

// executeIndex handles the index command execution logic
func executeIndex(cmd *cobra.Command, args []string) error {
	log := logger.Logger()

	root := "."
	if len(args) == 1 {
		root = args[0]
	}

	entries, err := overlay.Scan(root)
	if err != nil {
		return err
	}
	groups := overlay.Group(entries)
	if err := overlay.WriteIndex(indexOutput, groups); err != nil {
		return err
	}
	log.Infof("wrote %d package groups to %s", len(groups), indexOutput)
	return nil
}
