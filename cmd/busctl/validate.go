package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joshuapare/buskit/addr/assign"
	"github.com/joshuapare/buskit/internal/topology"
)

var validateCmd = &cobra.Command{
	Use:   "validate <topology.yaml>",
	Short: "Check the explicit addresses of a topology",
	Long: `Load a YAML topology and verify every explicitly configured address:
bounds, bus compatibility and double use. Nothing is assigned; devices
without addresses are ignored.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		def, caps, err := topology.Load(args[0])
		if err != nil {
			return err
		}
		if err := assign.ValidateAddresses(def, caps); err != nil {
			return err
		}
		if !quiet {
			fmt.Println("topology OK")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
