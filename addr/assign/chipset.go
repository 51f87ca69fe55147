package assign

import (
	"github.com/joshuapare/buskit/addr"
	"github.com/joshuapare/buskit/addr/pci"
	"github.com/joshuapare/buskit/pkg/types"
)

// validateChipsets applies the fixed bus-0 layout the machine's chipset
// dictates before any free-slot assignment happens.
func validateChipsets(def *addr.DomainDef, caps types.Caps, set *pci.Set) error {
	switch {
	case def.IsI440FX():
		return validatePIIX3(def, caps, set)
	case def.IsQ35():
		return validateQ35(def, caps, set)
	}
	return nil
}

func primaryVideo(def *addr.DomainDef) *addr.Device {
	for _, dev := range def.Devices {
		if dev.Class == addr.ClassVideo {
			return dev
		}
	}
	return nil
}

// validatePIIX3 pins the i440fx integrated devices: the first IDE
// controller and first PIIX3 USB controller live on functions of slot 1,
// the whole of which belongs to the southbridge, and primary video sits
// at slot 2 unless the binary can place it elsewhere.
func validatePIIX3(def *addr.DomainDef, caps types.Caps, set *pci.Set) error {
	flags := pci.ConnectHotpluggable | pci.ConnectTypePCIDevice

	for _, dev := range def.Controllers(addr.ControllerIDE) {
		if dev.Controller.Index != 0 {
			continue
		}
		want := addr.PCIAddr{Slot: 1, Function: 1}
		if dev.Info.PCIAddressPresent() {
			if dev.Info.PCI != want {
				return types.ConfigErrorf(types.ErrKindInvalidAddress,
					"Primary IDE controller must have PCI address 0:0:1.1")
			}
		} else {
			dev.Info.Type = addr.AddrPCI
			dev.Info.PCI = want
		}
	}
	for _, dev := range def.Controllers(addr.ControllerUSB) {
		c := dev.Controller
		if c.Index != 0 || (c.Model != "piix3-uhci" && c.Model != "") {
			continue
		}
		want := addr.PCIAddr{Slot: 1, Function: 2}
		if dev.Info.PCIAddressPresent() {
			if dev.Info.PCI != want {
				return types.ConfigErrorf(types.ErrKindInvalidAddress,
					"PIIX3 USB controller must have PCI address 0:0:1.2")
			}
		} else {
			dev.Info.Type = addr.AddrPCI
			dev.Info.PCI = want
		}
	}

	// Slot 1: ISA bridge, IDE, USB, power management, all southbridge.
	if set.NumBuses() > 0 {
		if err := set.ReserveSlot(addr.PCIAddr{Slot: 1}, flags); err != nil {
			return err
		}
	}

	if video := primaryVideo(def); video != nil {
		if err := placePrimaryVideo(def, caps, set, video, 2, flags); err != nil {
			return err
		}
	}
	return nil
}

// validateQ35 pins the q35 integrated devices on the pcie-root bus: SATA
// at 1f.2, the first USB2 controller group at slot 1d (or 1a), the
// dmi-to-pci bridge at 1e, the ISA bridge and SMBus on slot 1f, and
// primary video at slot 1.
func validateQ35(def *addr.DomainDef, caps types.Caps, set *pci.Set) error {
	// Everything placed here rides the pcie-root as if configured by the
	// user, since the integrated chips are conventional PCI.
	flags := pci.ConnectTypesEndpoint

	for _, dev := range def.Controllers(addr.ControllerSATA) {
		if dev.Controller.Index != 0 {
			continue
		}
		want := addr.PCIAddr{Slot: 0x1F, Function: 2}
		if dev.Info.PCIAddressPresent() {
			if dev.Info.PCI != want {
				return types.ConfigErrorf(types.ErrKindInvalidAddress,
					"Primary SATA controller must have PCI address 0:0:1f.2")
			}
		} else {
			dev.Info.Type = addr.AddrPCI
			dev.Info.PCI = want
		}
	}

	for _, dev := range def.Controllers(addr.ControllerUSB) {
		if dev.Controller.Model != "ich9-uhci1" || !dev.Info.PCIAddressWanted() {
			continue
		}
		// First group at 1d, second at 1a; function 0 with multifunction on
		// so the companions can follow.
		a := addr.PCIAddr{Slot: 0x1D, MultiFunction: true}
		if set.SlotInUse(a) {
			a.Slot = 0x1A
			if set.SlotInUse(a) {
				continue
			}
		}
		if err := set.ReserveAddr(a, flags, false, true); err != nil {
			return err
		}
		dev.Info.Type = addr.AddrPCI
		dev.Info.PCI = a
	}

	for _, dev := range def.Controllers(addr.ControllerPCI) {
		if dev.Controller.PCIModel != addr.PCIModelDMIToPCIBridge ||
			!dev.Info.PCIAddressWanted() {
			continue
		}
		a := addr.PCIAddr{Slot: 0x1E}
		if set.SlotInUse(a) {
			continue
		}
		if err := set.ReserveSlot(a, flags); err != nil {
			return err
		}
		dev.Info.Type = addr.AddrPCI
		dev.Info.PCI = a
	}

	// Slot 1f: function 0 is the ISA bridge, function 3 the SMBus; neither
	// appears in the definition.
	if set.NumBuses() > 0 {
		isa := addr.PCIAddr{Slot: 0x1F, MultiFunction: true}
		if err := set.ReserveAddr(isa, flags, false, false); err != nil {
			return err
		}
		smbus := addr.PCIAddr{Slot: 0x1F, Function: 3}
		if err := set.ReserveAddr(smbus, flags, false, false); err != nil {
			return err
		}
	}

	if video := primaryVideo(def); video != nil {
		if err := placePrimaryVideo(def, caps, set, video, 1, flags); err != nil {
			return err
		}
	}
	return nil
}

// placePrimaryVideo puts the primary video device at the chipset's fixed
// slot. When that slot is taken, a binary that can address video freely
// gets the next open slot instead; otherwise the fixed slot is mandatory.
func placePrimaryVideo(def *addr.DomainDef, caps types.Caps, set *pci.Set, video *addr.Device, slot uint, flags pci.ConnectFlags) error {
	want := addr.PCIAddr{Slot: slot}

	if video.Info.PCIAddressWanted() {
		if set.SlotInUse(want) {
			if !caps.PrimaryVideoDevice {
				return types.ConfigErrorf(types.ErrKindAddressInUse,
					"PCI address 0:0:%x.0 is in use, the machine needs it for primary video", slot)
			}
			return set.ReserveNextSlot(&video.Info, flags)
		}
		if err := set.ReserveSlot(want, flags); err != nil {
			return err
		}
		video.Info.Type = addr.AddrPCI
		video.Info.PCI = want
		return nil
	}

	if !caps.PrimaryVideoDevice && video.Info.PCI != want {
		return types.ConfigErrorf(types.ErrKindInvalidAddress,
			"Primary video card must have PCI address 0:0:%x.0", slot)
	}
	return nil
}
