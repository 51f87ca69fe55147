package assign

import (
	log "github.com/sirupsen/logrus"

	"github.com/joshuapare/buskit/addr"
	"github.com/joshuapare/buskit/addr/ccw"
	"github.com/joshuapare/buskit/addr/pci"
	"github.com/joshuapare/buskit/addr/serial"
	"github.com/joshuapare/buskit/addr/vio"
	"github.com/joshuapare/buskit/pkg/types"
)

// Sets bundles the allocator state built while assigning a definition.
// Callers keep it alive for the lifetime of the machine so that hotplug
// and unplug can reserve and release against the same occupancy.
type Sets struct {
	PCI    *pci.Set
	CCW    *ccw.Set
	Serial *serial.Set
}

// AssignAddresses runs every assignment pass over def and returns the
// resulting allocator sets. On return each device record that needed an
// address carries one, and any controllers the passes had to add are
// appended to the definition.
func AssignAddresses(def *addr.DomainDef, caps types.Caps) (*Sets, error) {
	sets := &Sets{}
	var err error

	if sets.Serial, err = AssignVirtioSerialAddresses(def); err != nil {
		return nil, err
	}
	if err = AssignSpaprVIOAddresses(def, caps); err != nil {
		return nil, err
	}
	if sets.CCW, err = AssignS390Addresses(def, caps); err != nil {
		return nil, err
	}
	AssignVirtioMMIOAddresses(def, caps)
	if sets.PCI, err = AssignPCIAddresses(def, caps); err != nil {
		return nil, err
	}
	return sets, nil
}

// Release frees whatever address the record carries, against the matching
// set. Address types without persistent sets (VIO, virtio-mmio) have
// nothing to free.
func (s *Sets) Release(info *addr.DeviceInfo) error {
	switch info.Type {
	case addr.AddrPCI:
		if s.PCI != nil && info.PCIAddressPresent() {
			return s.PCI.ReleaseSlot(info.PCI)
		}
	case addr.AddrCCW:
		if s.CCW != nil {
			s.CCW.Release(info.CCW)
		}
	case addr.AddrVirtioSerial:
		if s.Serial != nil {
			return s.Serial.Release(info)
		}
	}
	return nil
}

// EnsurePCIAddress reserves an address for a hotplugged device: the one
// it already carries, or the next free hotpluggable slot.
func (s *Sets) EnsurePCIAddress(dev *addr.Device) error {
	if s.PCI == nil {
		return types.EngineErrorf(types.ErrKindInvalidAddress,
			"no PCI address set exists for this machine")
	}
	return s.PCI.EnsureAddr(&dev.Info)
}

// AssignVirtioSerialAddresses gives every virtio channel and console a
// controller/port pair: explicit addresses are claimed first, then
// channels fill regular ports and consoles may take port 0.
func AssignVirtioSerialAddresses(def *addr.DomainDef) (*serial.Set, error) {
	set := serial.NewSet()
	if err := set.AddControllersFromDef(def); err != nil {
		return nil, err
	}

	// Claim everything already placed before assigning the rest.
	err := def.ForEachDevice(func(dev *addr.Device) error {
		return set.Reserve(&dev.Info)
	})
	if err != nil {
		return nil, err
	}

	for _, dev := range def.Devices {
		if dev.Class != addr.ClassChannel || dev.Model != "virtio" ||
			dev.Info.SerialAddressComplete() {
			continue
		}
		if err := set.AutoAssign(def, &dev.Info, false); err != nil {
			return nil, err
		}
	}
	for _, dev := range def.Devices {
		if dev.Class != addr.ClassConsole || dev.Model != "virtio" ||
			dev.Info.SerialAddressComplete() {
			continue
		}
		if err := set.AutoAssign(def, &dev.Info, true); err != nil {
			return nil, err
		}
	}
	return set, nil
}

// defaultSCSIControllerModel fills in the model of a SCSI controller that
// doesn't declare one: pseries machines get the paravirtual VIO adapter,
// everything else takes whichever emulated adapter the capabilities
// offer.
func defaultSCSIControllerModel(def *addr.DomainDef, caps types.Caps, cont *addr.ControllerDef) error {
	if cont.Model != "" {
		return nil
	}
	switch {
	case def.IsPSeries():
		cont.Model = "ibmvscsi"
	case caps.SCSILsi:
		cont.Model = "lsilogic"
	case caps.VirtioSCSI:
		cont.Model = "virtio-scsi"
	default:
		return types.EngineErrorf(types.ErrKindInternal,
			"Unable to determine model for SCSI controller")
	}
	return nil
}

// AssignSpaprVIOAddresses places the paravirtual devices of a pseries
// machine on the VIO bus. Device classes with a VIO personality are
// switched to register addressing first; each then gets a conflict-free
// register starting from its class default.
func AssignSpaprVIOAddresses(def *addr.DomainDef, caps types.Caps) error {
	for _, dev := range def.Devices {
		switch dev.Class {
		case addr.ClassNet:
			if dev.Model == "spapr-vlan" {
				dev.Info.Type = addr.AddrVIO
			}
			if err := assignVIO(def, &dev.Info, vio.RegNet); err != nil {
				return err
			}
		case addr.ClassController:
			if dev.Controller.Type != addr.ControllerSCSI {
				continue
			}
			if err := defaultSCSIControllerModel(def, caps, dev.Controller); err != nil {
				return err
			}
			if dev.Controller.Model == "ibmvscsi" {
				dev.Info.Type = addr.AddrVIO
			}
			if err := assignVIO(def, &dev.Info, vio.RegSCSI); err != nil {
				return err
			}
		case addr.ClassSerial:
			if def.IsPSeries() {
				dev.Info.Type = addr.AddrVIO
			}
			if err := assignVIO(def, &dev.Info, vio.RegSerial); err != nil {
				return err
			}
		case addr.ClassNVRAM:
			if def.IsPSeries() {
				dev.Info.Type = addr.AddrVIO
			}
			if err := assignVIO(def, &dev.Info, vio.RegNVRAM); err != nil {
				return err
			}
		}
	}
	return nil
}

// assignVIO runs the register allocator only for records that address the
// VIO bus; everything else passes through untouched.
func assignVIO(def *addr.DomainDef, info *addr.DeviceInfo, defaultReg uint64) error {
	if info.Type != addr.AddrVIO {
		return nil
	}
	return vio.Assign(def, info, defaultReg)
}

// PrimeVirtioAddresses declares every address-less virtio device to be
// of the given address type, so the later passes route it to the right
// allocator.
func PrimeVirtioAddresses(def *addr.DomainDef, t addr.AddressType) {
	for _, dev := range def.Devices {
		if dev.Info.Type != addr.AddrNone {
			continue
		}
		virtio := false
		switch dev.Class {
		case addr.ClassDisk, addr.ClassNet, addr.ClassMemballoon,
			addr.ClassRNG, addr.ClassInput:
			virtio = dev.Model == "virtio"
		case addr.ClassFilesystem:
			virtio = true
		case addr.ClassController:
			virtio = dev.Controller.Type == addr.ControllerVirtioSerial ||
				(dev.Controller.Type == addr.ControllerSCSI &&
					dev.Controller.Model == "virtio-scsi")
		}
		if virtio {
			dev.Info.Type = t
		}
	}
}

// AssignS390Addresses handles the s390 transports: machines with a
// channel subsystem get CCW addresses validated and allocated, older
// binaries fall back to the legacy s390 virtio bus, which has no
// addresses to allocate at all.
func AssignS390Addresses(def *addr.DomainDef, caps types.Caps) (*ccw.Set, error) {
	if def.IsS390CCW() && caps.VirtioCCW {
		PrimeVirtioAddresses(def, addr.AddrCCW)

		set := ccw.NewSet()
		// Claim explicit addresses before allocating the rest, so a late
		// explicit device can't collide with an early automatic one.
		err := def.ForEachDevice(func(dev *addr.Device) error {
			if dev.Info.Type != addr.AddrCCW {
				return nil
			}
			return set.Assign(&dev.Info, false)
		})
		if err != nil {
			return nil, err
		}
		err = def.ForEachDevice(func(dev *addr.Device) error {
			if dev.Info.Type != addr.AddrCCW {
				return nil
			}
			return set.Assign(&dev.Info, true)
		})
		if err != nil {
			return nil, err
		}
		return set, nil
	}

	if caps.VirtioS390 {
		PrimeVirtioAddresses(def, addr.AddrVirtioS390)
	}
	return nil, nil
}

// AssignVirtioMMIOAddresses primes virtio devices on ARM machines whose
// binary offers the mmio transport. The transport has no address space to
// manage; marking the type is the whole job.
func AssignVirtioMMIOAddresses(def *addr.DomainDef, caps types.Caps) {
	if !def.IsARM() || !caps.VirtioMMIO {
		return
	}
	if !def.IsVirt() && def.Machine != "vexpress-a9" && def.Machine != "vexpress-a15" {
		return
	}
	PrimeVirtioAddresses(def, addr.AddrVirtioMMIO)
	log.Debug("primed virtio devices for virtio-mmio")
}
