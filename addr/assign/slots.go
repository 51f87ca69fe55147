package assign

import (
	"github.com/joshuapare/buskit/addr"
	"github.com/joshuapare/buskit/addr/pci"
	"github.com/joshuapare/buskit/pkg/types"
)

// assignDevicePCISlots walks the definition in a fixed class order and
// gives every device that still wants a PCI address the next free
// compatible slot. The order is part of the contract: it keeps layouts
// stable across runs and across definitions that only append devices.
func assignDevicePCISlots(def *addr.DomainDef, caps types.Caps, set *pci.Set) error {
	flags := pci.ConnectHotpluggable | pci.ConnectTypePCIDevice

	// PCI controllers other than the roots, which own their bus rather
	// than occupy one.
	for _, dev := range def.Controllers(addr.ControllerPCI) {
		model := dev.Controller.PCIModel
		if model == addr.PCIModelPCIRoot || model == addr.PCIModelPCIeRoot ||
			!dev.Info.PCIAddressWanted() {
			continue
		}
		if err := set.ReserveNextSlot(&dev.Info, pci.ModelConnectType(model)); err != nil {
			return err
		}
	}

	for _, dev := range def.Devices {
		if dev.Class == addr.ClassFilesystem && dev.Info.PCIAddressWanted() {
			if err := set.ReserveNextSlot(&dev.Info, flags); err != nil {
				return err
			}
		}
	}

	for _, dev := range def.Devices {
		if dev.Class != addr.ClassNet || dev.Model == "hostdev" ||
			!dev.Info.PCIAddressWanted() {
			continue
		}
		if err := set.ReserveNextSlot(&dev.Info, flags); err != nil {
			return err
		}
	}

	for _, dev := range def.Devices {
		if dev.Class != addr.ClassSound || !dev.Info.PCIAddressWanted() {
			continue
		}
		switch dev.Model {
		case "sb16", "pcspk", "usb":
			// Not PCI devices.
			continue
		}
		if err := set.ReserveNextSlot(&dev.Info, collectFlags(dev)); err != nil {
			return err
		}
	}

	if err := assignControllerSlots(def, set); err != nil {
		return err
	}

	for _, dev := range def.Devices {
		if dev.Class != addr.ClassDisk || dev.Model != "virtio" {
			continue
		}
		switch dev.Info.Type {
		case addr.AddrCCW, addr.AddrVirtioS390:
			continue
		case addr.AddrVirtioMMIO:
			if caps.VirtioMMIO {
				continue
			}
		case addr.AddrNone, addr.AddrPCI:
		default:
			return types.ConfigErrorf(types.ErrKindInvalidAddress,
				"virtio disk cannot have an address of type '%s'", dev.Info.Type)
		}
		if !dev.Info.PCIAddressWanted() {
			continue
		}
		if err := set.ReserveNextSlot(&dev.Info, flags); err != nil {
			return err
		}
	}

	for _, dev := range def.Devices {
		if dev.Class == addr.ClassHostdev && dev.Info.PCIAddressWanted() {
			if err := set.ReserveNextSlot(&dev.Info, flags); err != nil {
				return err
			}
		}
	}

	for _, dev := range def.Devices {
		if dev.Class == addr.ClassMemballoon && dev.Model == "virtio" &&
			dev.Info.PCIAddressWanted() {
			if err := set.ReserveNextSlot(&dev.Info, flags); err != nil {
				return err
			}
		}
	}

	for _, dev := range def.Devices {
		if dev.Class == addr.ClassRNG && dev.Model == "virtio" &&
			dev.Info.PCIAddressWanted() {
			if err := set.ReserveNextSlot(&dev.Info, flags); err != nil {
				return err
			}
		}
	}

	for _, dev := range def.Devices {
		if dev.Class == addr.ClassWatchdog && dev.Model == "i6300esb" &&
			dev.Info.PCIAddressWanted() {
			if err := set.ReserveNextSlot(&dev.Info, flags); err != nil {
				return err
			}
		}
	}

	first := true
	for _, dev := range def.Devices {
		if dev.Class != addr.ClassVideo {
			continue
		}
		primary := first
		first = false
		if !dev.Info.PCIAddressWanted() {
			continue
		}
		if !primary && dev.Model != "qxl" {
			return types.ConfigErrorf(types.ErrKindUnsupportedTopology,
				"non-primary video device must be type of 'qxl'")
		}
		if err := set.ReserveNextSlot(&dev.Info, collectFlags(dev)); err != nil {
			return err
		}
	}

	for _, dev := range def.Devices {
		if dev.Class == addr.ClassShmem && dev.Info.PCIAddressWanted() {
			if err := set.ReserveNextSlot(&dev.Info, flags); err != nil {
				return err
			}
		}
	}

	for _, dev := range def.Devices {
		if dev.Class == addr.ClassInput && dev.Model == "virtio" &&
			dev.Info.PCIAddressWanted() {
			if err := set.ReserveNextSlot(&dev.Info, flags); err != nil {
				return err
			}
		}
	}

	for _, dev := range def.Devices {
		if dev.Class == addr.ClassSerial && dev.Model == "pci-serial" &&
			dev.Info.PCIAddressWanted() {
			if err := set.ReserveNextSlot(&dev.Info, flags); err != nil {
				return err
			}
		}
	}

	return nil
}

// assignControllerSlots handles the non-PCI controllers. The ICH9 USB2
// controllers are the odd case: the four models of one group (same
// controller index) are companion functions of a single slot, so the
// first of the group to be placed finds the slot and the rest join it at
// their model's fixed function.
func assignControllerSlots(def *addr.DomainDef, set *pci.Set) error {
	for _, dev := range def.Devices {
		if dev.Class != addr.ClassController {
			continue
		}
		c := dev.Controller
		switch {
		case c.Type == addr.ControllerPCI:
			continue // placed before everything else
		case c.Type == addr.ControllerUSB && c.Model == "none":
			continue
		case c.Type == addr.ControllerFDC, c.Type == addr.ControllerCCID:
			continue // not PCI devices
		case c.Type == addr.ControllerIDE && c.Index == 0:
			continue // integrated, pinned by the chipset pass
		}
		if !dev.Info.PCIAddressWanted() {
			continue
		}

		if isUSB2Controller(c) {
			if err := assignUSB2CompanionAddr(def, set, dev); err != nil {
				return err
			}
			continue
		}
		if err := set.ReserveNextSlot(&dev.Info, collectFlags(dev)); err != nil {
			return err
		}
	}
	return nil
}

func usb2CompanionFunction(model string) (fn uint, multi bool) {
	switch model {
	case "ich9-ehci1":
		return 7, false
	case "ich9-uhci1":
		return 0, true
	case "ich9-uhci2":
		return 1, false
	case "ich9-uhci3":
		return 2, false
	}
	return 0, false
}

func assignUSB2CompanionAddr(def *addr.DomainDef, set *pci.Set, dev *addr.Device) error {
	c := dev.Controller
	flags := collectFlags(dev)

	var a addr.PCIAddr
	found := false
	for _, other := range def.Devices {
		if other.Class != addr.ClassController || other.Controller == nil {
			continue
		}
		oc := other.Controller
		if isUSB2Controller(oc) && oc.Index == c.Index &&
			other.Info.PCIAddressPresent() {
			a = other.Info.PCI
			found = true
			break
		}
	}

	a.Function, a.MultiFunction = usb2CompanionFunction(c.Model)

	if !found {
		// First of the group: pick the slot and anchor the continuation at
		// its function 0, so unrelated searches don't land mid-slot.
		slot, err := set.NextSlot(flags)
		if err != nil {
			return err
		}
		a.Domain = slot.Domain
		a.Bus = slot.Bus
		a.Slot = slot.Slot
		anchor := a
		anchor.Function = 0
		anchor.MultiFunction = false
		set.SetLastAddr(anchor, flags)
	}

	if err := set.ReserveAddr(a, flags, false, true); err != nil {
		return err
	}
	dev.Info.Type = addr.AddrPCI
	dev.Info.PCI = a
	return nil
}
