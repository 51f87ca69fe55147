package pci

import (
	"github.com/joshuapare/buskit/addr"
	"github.com/joshuapare/buskit/pkg/types"
)

// ConnectFlags describe what a bus accepts and what a device needs. A
// device may connect to a bus when their type bits intersect and, if the
// device requires hotplug, the bus offers it.
type ConnectFlags uint

const (
	// ConnectHotpluggable: the device must be hot-unpluggable / the bus
	// supports hotplug.
	ConnectHotpluggable ConnectFlags = 1 << iota
	// ConnectTypePCIDevice: a conventional PCI endpoint.
	ConnectTypePCIDevice
	// ConnectTypePCIeDevice: a PCI Express endpoint.
	ConnectTypePCIeDevice
	// ConnectTypeSwitchUpstream: an upstream port of a PCIe switch.
	ConnectTypeSwitchUpstream
	// ConnectTypeSwitchDownstream: a downstream port of a PCIe switch.
	ConnectTypeSwitchDownstream
	// ConnectTypeRootPort: a pcie-root-port, which plugs only into
	// pcie-root or a pcie-expander-bus.
	ConnectTypeRootPort
)

// ConnectTypesMask selects the connection-type bits, leaving hotplug out.
const ConnectTypesMask = ConnectTypePCIDevice | ConnectTypePCIeDevice |
	ConnectTypeSwitchUpstream | ConnectTypeSwitchDownstream | ConnectTypeRootPort

// ConnectTypesEndpoint selects the two endpoint types.
const ConnectTypesEndpoint = ConnectTypePCIDevice | ConnectTypePCIeDevice

// ModelConnectType returns the flags a PCI controller of the given model
// needs on its upstream bus. Root buses have no upstream and return 0.
func ModelConnectType(model addr.PCIControllerModel) ConnectFlags {
	switch model {
	case addr.PCIModelPCIRoot, addr.PCIModelPCIeRoot:
		return 0
	case addr.PCIModelPCIBridge, addr.PCIModelPCIExpanderBus:
		return ConnectTypePCIDevice
	case addr.PCIModelDMIToPCIBridge, addr.PCIModelPCIeExpanderBus:
		return ConnectTypePCIeDevice
	case addr.PCIModelPCIeRootPort:
		return ConnectTypeRootPort
	case addr.PCIModelPCIeSwitchUpstreamPort:
		return ConnectTypeSwitchUpstream
	case addr.PCIModelPCIeSwitchDownstreamPort:
		return ConnectTypeSwitchDownstream
	}
	return 0
}

// checkFlagsCompatible decides whether a device with devFlags may connect
// to a bus with busFlags. a is the device address, used in error messages.
//
// fromConfig relaxes the check for user-supplied addresses: hotplug
// becomes a preference rather than a requirement, and an endpoint device
// is allowed on either endpoint bus type, since users routinely place
// plain PCI devices on PCIe buses and the other way around.
//
// With reportError false the mismatch is reported by the bool alone, for
// callers scanning many buses.
func checkFlagsCompatible(a addr.PCIAddr, busFlags, devFlags ConnectFlags, fromConfig, reportError bool) (bool, error) {
	origin := types.OriginOf(fromConfig)

	if fromConfig {
		// Widen the endpoint types on the bus side.
		if busFlags&ConnectTypesEndpoint != 0 {
			busFlags |= ConnectTypesEndpoint
		}
		// A bus that requires hotplug still accepts devices that don't
		// advertise it.
		if devFlags&ConnectHotpluggable != 0 {
			busFlags |= ConnectHotpluggable
		}
	}

	if busFlags&devFlags&ConnectTypesMask == 0 {
		if !reportError {
			return false, nil
		}
		if devFlags&ConnectTypePCIDevice != 0 {
			return false, types.Newf(types.ErrKindIncompatibleBus, origin,
				"PCI bus is not compatible with the device at %s. Device requires a standard PCI slot, which is not provided by bus %04x:%02x",
				a, a.Domain, a.Bus)
		}
		if devFlags&ConnectTypePCIeDevice != 0 {
			return false, types.Newf(types.ErrKindIncompatibleBus, origin,
				"PCI bus is not compatible with the device at %s. Device requires a PCI Express slot, which is not provided by bus %04x:%02x",
				a, a.Domain, a.Bus)
		}
		// A controller model whose upstream requirement isn't endpoint-shaped
		// should have been placed by the tables, not by a scan; reaching here
		// means the tables are wrong.
		return false, types.EngineErrorf(types.ErrKindInternal,
			"The device at %s has no connection types compatible with its bus", a)
	}

	if busFlags&ConnectHotpluggable == 0 && devFlags&ConnectHotpluggable != 0 {
		if !reportError {
			return false, nil
		}
		return false, types.Newf(types.ErrKindIncompatibleBus, origin,
			"PCI bus at %04x:%02x does not support hotplug, but the device at %s requires it",
			a.Domain, a.Bus, a)
	}

	return true, nil
}
