package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/joshuapare/buskit/addr"
	"github.com/joshuapare/buskit/addr/pci"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "Print the PCI controller model table",
	Long: `Print, for every PCI controller model, the connection type it needs on
its upstream bus and the slot window and connection types of the bus it
provides downstream.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		models := []addr.PCIControllerModel{
			addr.PCIModelPCIRoot,
			addr.PCIModelPCIBridge,
			addr.PCIModelPCIExpanderBus,
			addr.PCIModelDMIToPCIBridge,
			addr.PCIModelPCIeRoot,
			addr.PCIModelPCIeRootPort,
			addr.PCIModelPCIeSwitchUpstreamPort,
			addr.PCIModelPCIeSwitchDownstreamPort,
			addr.PCIModelPCIeExpanderBus,
		}

		w := tabwriter.NewWriter(os.Stdout, 2, 8, 2, ' ', 0)
		fmt.Fprintln(w, "MODEL\tUPSTREAM\tSLOTS\tACCEPTS\tHOTPLUG")
		for _, m := range models {
			var bus pci.Bus
			if err := bus.SetModel(m); err != nil {
				return err
			}
			fmt.Fprintf(w, "%s\t%s\t%d-%d\t%s\t%t\n",
				m,
				connectTypes(pci.ModelConnectType(m)),
				bus.MinSlot(), bus.MaxSlot(),
				connectTypes(bus.Flags()),
				bus.Flags()&pci.ConnectHotpluggable != 0)
		}
		return w.Flush()
	},
}

func connectTypes(flags pci.ConnectFlags) string {
	names := []struct {
		bit  pci.ConnectFlags
		name string
	}{
		{pci.ConnectTypePCIDevice, "pci"},
		{pci.ConnectTypePCIeDevice, "pcie"},
		{pci.ConnectTypeSwitchUpstream, "switch-upstream"},
		{pci.ConnectTypeSwitchDownstream, "switch-downstream"},
		{pci.ConnectTypeRootPort, "root-port"},
	}
	out := ""
	for _, n := range names {
		if flags&n.bit == 0 {
			continue
		}
		if out != "" {
			out += ","
		}
		out += n.name
	}
	if out == "" {
		return "none"
	}
	return out
}

func init() {
	rootCmd.AddCommand(modelsCmd)
}
