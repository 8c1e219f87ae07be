package main

import (
	"fmt"

	"github.com/chazu/garnet/vm"
	"github.com/chazu/garnet/vm/iseqfile"
	"github.com/spf13/cobra"
)

var disasmCmd = &cobra.Command{
	Use:   "disasm <program.gbc>",
	Short: "Print the instructions of a compiled program",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		v := vm.NewVM()
		iseq, err := iseqfile.ReadFile(v, args[0])
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), vm.Disassemble(v, iseq))
		return nil
	},
}
