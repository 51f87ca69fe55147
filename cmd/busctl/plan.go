package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/joshuapare/buskit/addr"
	"github.com/joshuapare/buskit/addr/assign"
	"github.com/joshuapare/buskit/internal/topology"
)

var planCmd = &cobra.Command{
	Use:   "plan <topology.yaml>",
	Short: "Assign addresses to every device in a topology",
	Long: `Load a YAML topology, run the full assignment pipeline and print the
resulting device/address table. Controllers the engine had to add (PCI
bridges, virtio-serial controllers) appear in the output as well.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		def, caps, err := topology.Load(args[0])
		if err != nil {
			return err
		}
		if _, err := assign.AssignAddresses(def, caps); err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 2, 8, 2, ' ', 0)
		fmt.Fprintln(w, "DEVICE\tMODEL\tADDRESS")
		for _, dev := range def.Devices {
			fmt.Fprintf(w, "%s\t%s\t%s\n", deviceName(dev), dev.Model, addrString(&dev.Info))
		}
		return w.Flush()
	},
}

func deviceName(dev *addr.Device) string {
	if dev.Info.Alias != "" {
		return dev.Info.Alias
	}
	if dev.Controller != nil {
		return fmt.Sprintf("%s-controller-%d", dev.Class, dev.Controller.Index)
	}
	return dev.Class.String()
}

func addrString(info *addr.DeviceInfo) string {
	switch info.Type {
	case addr.AddrPCI:
		return "pci " + info.PCI.String()
	case addr.AddrCCW:
		return "ccw " + info.CCW.String()
	case addr.AddrVirtioSerial:
		return "virtio-serial " + info.Serial.String()
	case addr.AddrVIO:
		return "spapr-vio " + info.VIO.String()
	case addr.AddrVirtioS390:
		return "virtio-s390"
	case addr.AddrVirtioMMIO:
		return "virtio-mmio"
	}
	return "-"
}

func init() {
	rootCmd.AddCommand(planCmd)
}
