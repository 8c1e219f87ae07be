package main

import (
	"fmt"
	"path/filepath"

	"github.com/chazu/garnet/manifest"
	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init [name]",
	Short: "Create a garnet.toml in the current directory",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := filepath.Abs(".")
		if err != nil {
			return err
		}
		name := filepath.Base(dir)
		if len(args) == 1 {
			name = args[0]
		}
		if err := manifest.Default(name).Save(dir); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "created %s\n", filepath.Join(dir, manifest.FileName))
		return nil
	},
}
