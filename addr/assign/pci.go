package assign

import (
	log "github.com/sirupsen/logrus"

	"github.com/joshuapare/buskit/addr"
	"github.com/joshuapare/buskit/addr/pci"
	"github.com/joshuapare/buskit/pkg/types"
)

// usb2Models lists the ICH9 USB2 controller models that share one slot as
// companion functions.
func isUSB2Controller(c *addr.ControllerDef) bool {
	if c.Type != addr.ControllerUSB {
		return false
	}
	switch c.Model {
	case "ich9-ehci1", "ich9-uhci1", "ich9-uhci2", "ich9-uhci3":
		return true
	}
	return false
}

// collectFlags derives the connection requirements a device places on its
// bus. Most devices want a hotpluggable conventional PCI slot; integrated
// chips and PCIe-capable devices differ.
func collectFlags(dev *addr.Device) pci.ConnectFlags {
	flags := pci.ConnectHotpluggable | pci.ConnectTypePCIDevice

	switch dev.Class {
	case addr.ClassController:
		switch dev.Controller.Type {
		case addr.ControllerPCI:
			flags = pci.ModelConnectType(dev.Controller.PCIModel)
		case addr.ControllerSATA:
			flags = pci.ConnectTypesEndpoint
		case addr.ControllerUSB:
			switch dev.Controller.Model {
			case "ehci", "ich9-ehci1", "ich9-uhci1", "ich9-uhci2", "ich9-uhci3",
				"vt82c686b-uhci", "pci-ohci":
				flags = pci.ConnectTypePCIDevice
			case "nec-xhci":
				flags = pci.ConnectTypesEndpoint
			}
		}
	case addr.ClassSound:
		switch dev.Model {
		case "ich6", "ich9":
			flags = pci.ConnectTypePCIDevice
		}
	case addr.ClassVideo:
		flags = pci.ConnectTypesEndpoint
	}
	return flags
}

// collectPCIAddress claims the address a device already carries. Records
// without a concrete PCI address are skipped. The two chips integrated
// into the i440fx at slot 1 are special: their addresses belong to the
// chipset reservation, so they only get a sanity check on bus 0.
func collectPCIAddress(set *pci.Set, dev *addr.Device) error {
	if !dev.Info.PCIAddressPresent() {
		return nil
	}
	a := dev.Info.PCI
	flags := collectFlags(dev)

	if dev.Class == addr.ClassController && a.Domain == 0 && a.Bus == 0 && a.Slot == 1 {
		c := dev.Controller
		integrated := (c.Type == addr.ControllerIDE && c.Index == 0 && a.Function == 1) ||
			(c.Type == addr.ControllerUSB && c.Index == 0 &&
				(c.Model == "piix3-uhci" || c.Model == "") && a.Function == 2)
		if integrated {
			// The whole slot is reserved by the chipset pass; just check
			// that bus 0 can host conventional PCI at all.
			if set.NumBuses() > 0 &&
				set.Bus(0).Flags()&pci.ConnectTypePCIDevice == 0 {
				return types.EngineErrorf(types.ErrKindInternal,
					"Bus 0 must be PCI for integrated PIIX3 USB or IDE controllers")
			}
			return nil
		}
	}

	entireSlot := a.Function == 0 && !a.MultiFunction
	return set.ReserveAddr(a, flags, entireSlot, true)
}

// newAddrSet builds a PCI address set sized to nbuses, shapes each bus
// after the controller that provides it, and claims every address the
// definition already names.
func newAddrSet(def *addr.DomainDef, nbuses uint, dryRun bool) (*pci.Set, error) {
	set := pci.NewSet(nbuses, dryRun)

	for _, dev := range def.Controllers(addr.ControllerPCI) {
		idx := dev.Controller.Index
		if idx >= nbuses {
			return nil, types.EngineErrorf(types.ErrKindInternal,
				"PCI controller index %d larger than the address set size", idx)
		}
		if err := set.Bus(idx).SetModel(dev.Controller.PCIModel); err != nil {
			return nil, err
		}
	}

	err := def.ForEachDevice(func(dev *addr.Device) error {
		return collectPCIAddress(set, dev)
	})
	if err != nil {
		return nil, err
	}
	return set, nil
}

// ensureRootBus appends the machine's root PCI controller when the
// definition declares none.
func ensureRootBus(def *addr.DomainDef) {
	if def.FindController(addr.ControllerPCI, 0) != nil {
		return
	}
	model := addr.PCIModelPCIRoot
	if def.IsQ35() {
		model = addr.PCIModelPCIeRoot
	}
	def.MaybeAddController(addr.ControllerPCI, 0, model)
	log.WithField("model", model.String()).Debug("adding implicit root PCI controller")
}

// AssignPCIAddresses runs the PCI passes. When the binary supports
// bridges a dry-run sizing pass first grows the bus topology as far as
// the devices need, adds the matching bridge controllers to the
// definition, and keeps spare hotpluggable slots for them; the real pass
// then assigns final addresses on the correctly sized set and fills in
// generated controller options.
func AssignPCIAddresses(def *addr.DomainDef, caps types.Caps) (*pci.Set, error) {
	if !def.SupportsPCI(caps.GPEXObject) {
		return nil, nil
	}
	// s390 guests have no PCI topology in this engine's scope; their
	// virtio devices ride the channel subsystem or the legacy bus.
	if def.Arch == "s390" || def.Arch == "s390x" {
		return nil, nil
	}
	ensureRootBus(def)

	maxIdx := -1
	for _, dev := range def.Controllers(addr.ControllerPCI) {
		if int(dev.Controller.Index) > maxIdx {
			maxIdx = int(dev.Controller.Index)
		}
	}
	nbuses := uint(maxIdx + 1)

	bridgeFlags := pci.ConnectHotpluggable | pci.ConnectTypePCIDevice

	if nbuses > 0 && caps.PCIBridge {
		dry, err := newAddrSet(def, nbuses, true)
		if err != nil {
			return nil, err
		}
		if err := validateChipsets(def, caps, dry); err != nil {
			return nil, err
		}

		busesReserved := true
		for i := uint(0); i < dry.NumBuses(); i++ {
			if !dry.Bus(i).FullyReserved() {
				busesReserved = false
				break
			}
		}
		// Keep a slot free for a bridge the user might hotplug later.
		var spare addr.DeviceInfo
		if !busesReserved {
			if err := dry.ReserveNextSlot(&spare, bridgeFlags); err != nil {
				return nil, err
			}
		}

		if err := assignDevicePCISlots(def, caps, dry); err != nil {
			return nil, err
		}

		for i := uint(1); i < dry.NumBuses(); i++ {
			_, added := def.MaybeAddController(addr.ControllerPCI, i, dry.Bus(i).Model())
			if added {
				// The new bridge itself needs an address on the final set.
				if err := dry.ReserveNextSlot(&spare, bridgeFlags); err != nil {
					return nil, err
				}
			}
		}
		nbuses = dry.NumBuses()
	} else if maxIdx > 0 {
		return nil, types.ConfigErrorf(types.ErrKindUnsupportedTopology,
			"PCI bridges are not supported by this binary")
	}

	set, err := newAddrSet(def, nbuses, false)
	if err != nil {
		return nil, err
	}
	if err := validateChipsets(def, caps, set); err != nil {
		return nil, err
	}
	if err := assignDevicePCISlots(def, caps, set); err != nil {
		return nil, err
	}
	if err := fillControllerOptions(def); err != nil {
		return nil, err
	}
	return set, nil
}

// fillControllerOptions completes the generated options of every PCI
// controller from its final address, and checks the structural rule that
// a bridge's index must exceed the number of the bus it sits on.
func fillControllerOptions(def *addr.DomainDef) error {
	for _, dev := range def.Controllers(addr.ControllerPCI) {
		c := dev.Controller
		a := dev.Info.PCI

		switch c.PCIModel {
		case addr.PCIModelPCIBridge:
			if c.ChassisNr == -1 {
				c.ChassisNr = int(c.Index)
			}
			if c.Index <= a.Bus {
				return types.ConfigErrorf(types.ErrKindUnsupportedTopology,
					"failed to create PCI bridge on bus %d: too many devices with fixed addresses", a.Bus)
			}
		case addr.PCIModelPCIeRootPort:
			if c.Chassis == -1 {
				c.Chassis = int(c.Index)
			}
			if c.Port == -1 {
				c.Port = int(a.Slot<<3 + a.Function)
			}
		case addr.PCIModelPCIeSwitchDownstreamPort:
			if c.Chassis == -1 {
				c.Chassis = int(c.Index)
			}
			if c.Port == -1 {
				c.Port = int(a.Slot)
			}
		case addr.PCIModelPCIExpanderBus, addr.PCIModelPCIeExpanderBus:
			if c.BusNr == -1 {
				c.BusNr = findNewBusNr(def)
			}
			if c.BusNr == -1 {
				return types.ConfigErrorf(types.ErrKindCapacityExhausted,
					"No free bus numbers left for an expander bus")
			}
		}

		if c.ModelName == "" {
			c.ModelName = defaultControllerModelName(c.PCIModel)
		}
	}
	return nil
}

// findNewBusNr picks a bus number for a new expander bus: two below the
// lowest number already claimed, leaving room for the expander's own root
// bus. Bus 0 belongs to the machine's root, so anything at or below 2
// means the space is gone.
func findNewBusNr(def *addr.DomainDef) int {
	lowest := 256
	for _, dev := range def.Controllers(addr.ControllerPCI) {
		if nr := dev.Controller.BusNr; nr >= 0 && nr < lowest {
			lowest = nr
		}
	}
	if lowest <= 2 {
		return -1
	}
	return lowest - 2
}

// defaultControllerModelName maps a controller model to the device name
// the machine type implements it with.
func defaultControllerModelName(model addr.PCIControllerModel) string {
	switch model {
	case addr.PCIModelPCIBridge:
		return "pci-bridge"
	case addr.PCIModelDMIToPCIBridge:
		return "i82801b11-bridge"
	case addr.PCIModelPCIeRootPort:
		return "ioh3420"
	case addr.PCIModelPCIeSwitchUpstreamPort:
		return "x3130-upstream"
	case addr.PCIModelPCIeSwitchDownstreamPort:
		return "xio3130-downstream"
	case addr.PCIModelPCIExpanderBus:
		return "pxb"
	case addr.PCIModelPCIeExpanderBus:
		return "pxb-pcie"
	}
	return ""
}
