package pci

import (
	"github.com/joshuapare/buskit/addr"
	"github.com/joshuapare/buskit/pkg/types"
)

const (
	// SlotLast is the highest slot number on any bus.
	SlotLast = 31
	// FunctionLast is the highest function number within a slot.
	FunctionLast = 7

	// slotFull marks every function of a slot reserved.
	slotFull = 0xFF
)

// Bus tracks the occupancy and connection rules of one bus in a set. Each
// slot is a byte with one bit per function.
type Bus struct {
	model addr.PCIControllerModel

	// flags describe what this bus accepts from devices.
	flags ConnectFlags

	// minSlot..maxSlot is the window of slots available to devices. Buses
	// whose slot 0 carries an integrated chip start at 1.
	minSlot uint
	maxSlot uint

	slots [SlotLast + 1]uint8
}

// SetModel configures the bus shape for the given controller model:
// which connection types it accepts, whether it is hotpluggable, and the
// usable slot window.
func (b *Bus) SetModel(model addr.PCIControllerModel) error {
	switch model {
	case addr.PCIModelPCIRoot, addr.PCIModelPCIBridge:
		b.flags = ConnectHotpluggable | ConnectTypePCIDevice
		b.minSlot = 1
		b.maxSlot = SlotLast
	case addr.PCIModelPCIExpanderBus:
		b.flags = ConnectHotpluggable | ConnectTypePCIDevice
		b.minSlot = 0
		b.maxSlot = SlotLast
	case addr.PCIModelPCIeRoot:
		b.flags = ConnectTypePCIeDevice | ConnectTypeRootPort
		b.minSlot = 1
		b.maxSlot = SlotLast
	case addr.PCIModelDMIToPCIBridge:
		b.flags = ConnectTypePCIDevice
		b.minSlot = 0
		b.maxSlot = SlotLast
	case addr.PCIModelPCIeRootPort, addr.PCIModelPCIeSwitchDownstreamPort:
		// Provides a single hotpluggable PCIe slot.
		b.flags = ConnectHotpluggable | ConnectTypePCIeDevice | ConnectTypeSwitchUpstream
		b.minSlot = 0
		b.maxSlot = 0
	case addr.PCIModelPCIeSwitchUpstreamPort:
		b.flags = ConnectTypeSwitchDownstream
		b.minSlot = 0
		b.maxSlot = SlotLast
	case addr.PCIModelPCIeExpanderBus:
		b.flags = ConnectTypeRootPort | ConnectTypeSwitchUpstream
		b.minSlot = 0
		b.maxSlot = 0
	default:
		return types.EngineErrorf(types.ErrKindInternal,
			"invalid PCI controller model %d", int(model))
	}
	b.model = model
	return nil
}

// Model returns the controller model the bus was shaped after.
func (b *Bus) Model() addr.PCIControllerModel { return b.model }

// Flags returns the bus connection flags.
func (b *Bus) Flags() ConnectFlags { return b.flags }

// MinSlot and MaxSlot bound the usable slot window.
func (b *Bus) MinSlot() uint { return b.minSlot }
func (b *Bus) MaxSlot() uint { return b.maxSlot }

// FullyReserved reports whether every slot in the window is completely
// occupied.
func (b *Bus) FullyReserved() bool {
	for s := b.minSlot; s <= b.maxSlot; s++ {
		if b.slots[s] != slotFull {
			return false
		}
	}
	return true
}
