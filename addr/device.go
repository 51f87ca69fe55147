package addr

import "strings"

// AddressType says which address form a device carries (or has been
// declared to need, before assignment fills it in).
type AddressType int

const (
	AddrNone AddressType = iota
	AddrPCI
	AddrCCW
	AddrVirtioSerial
	AddrVIO
	AddrVirtioS390
	AddrVirtioMMIO
)

func (t AddressType) String() string {
	switch t {
	case AddrNone:
		return "none"
	case AddrPCI:
		return "pci"
	case AddrCCW:
		return "ccw"
	case AddrVirtioSerial:
		return "virtio-serial"
	case AddrVIO:
		return "spapr-vio"
	case AddrVirtioS390:
		return "virtio-s390"
	case AddrVirtioMMIO:
		return "virtio-mmio"
	}
	return "unknown"
}

// DeviceInfo is the per-device address record every allocator mutates.
// Exactly one of the address fields is meaningful, selected by Type.
type DeviceInfo struct {
	Type   AddressType
	PCI    PCIAddr
	CCW    CCWAddr
	Serial SerialAddr
	VIO    VIOAddr

	Alias string
}

// PCIAddressPresent reports whether the device already carries a concrete
// PCI address.
func (i *DeviceInfo) PCIAddressPresent() bool {
	return i.Type == AddrPCI && !i.PCI.IsZero()
}

// PCIAddressWanted reports whether the device still needs a PCI address
// assigned: either no address type was declared at all, or PCI was
// declared without a concrete address.
func (i *DeviceInfo) PCIAddressWanted() bool {
	return i.Type == AddrNone || (i.Type == AddrPCI && i.PCI.IsZero())
}

// SerialAddressComplete reports whether the device carries a usable
// virtio-serial address. Port 0 never counts: it is the implicit console
// port and marks "not yet assigned" everywhere else.
func (i *DeviceInfo) SerialAddressComplete() bool {
	return i.Type == AddrVirtioSerial && i.Serial.Port != 0
}

// DeviceClass groups devices by their role in the topology; the
// orchestrator derives allocator choice and compatibility flags from it.
type DeviceClass int

const (
	ClassDisk DeviceClass = iota
	ClassNet
	ClassController
	ClassFilesystem
	ClassConsole
	ClassChannel
	ClassMemballoon
	ClassRNG
	ClassVideo
	ClassSound
	ClassHostdev
	ClassWatchdog
	ClassSerial
	ClassInput
	ClassShmem
	ClassNVRAM
)

func (c DeviceClass) String() string {
	switch c {
	case ClassDisk:
		return "disk"
	case ClassNet:
		return "net"
	case ClassController:
		return "controller"
	case ClassFilesystem:
		return "filesystem"
	case ClassConsole:
		return "console"
	case ClassChannel:
		return "channel"
	case ClassMemballoon:
		return "memballoon"
	case ClassRNG:
		return "rng"
	case ClassVideo:
		return "video"
	case ClassSound:
		return "sound"
	case ClassHostdev:
		return "hostdev"
	case ClassWatchdog:
		return "watchdog"
	case ClassSerial:
		return "serial"
	case ClassInput:
		return "input"
	case ClassShmem:
		return "shmem"
	case ClassNVRAM:
		return "nvram"
	}
	return "unknown"
}

// ControllerType distinguishes the controller families the engine cares
// about. Only PCI and virtio-serial controllers feed allocator state; the
// rest matter for slot-assignment ordering and chipset quirks.
type ControllerType int

const (
	ControllerPCI ControllerType = iota
	ControllerVirtioSerial
	ControllerSCSI
	ControllerUSB
	ControllerIDE
	ControllerSATA
	ControllerFDC
	ControllerCCID
)

// PCIControllerModel is the closed set of PCI controller roles. Both
// lookup tables (upstream connect type, downstream bus shape) enumerate
// every member; a value outside the set is an engine bug.
type PCIControllerModel int

const (
	PCIModelNone PCIControllerModel = iota
	PCIModelPCIRoot
	PCIModelPCIBridge
	PCIModelPCIExpanderBus
	PCIModelDMIToPCIBridge
	PCIModelPCIeRoot
	PCIModelPCIeRootPort
	PCIModelPCIeSwitchUpstreamPort
	PCIModelPCIeSwitchDownstreamPort
	PCIModelPCIeExpanderBus
)

func (m PCIControllerModel) String() string {
	switch m {
	case PCIModelNone:
		return "none"
	case PCIModelPCIRoot:
		return "pci-root"
	case PCIModelPCIBridge:
		return "pci-bridge"
	case PCIModelPCIExpanderBus:
		return "pci-expander-bus"
	case PCIModelDMIToPCIBridge:
		return "dmi-to-pci-bridge"
	case PCIModelPCIeRoot:
		return "pcie-root"
	case PCIModelPCIeRootPort:
		return "pcie-root-port"
	case PCIModelPCIeSwitchUpstreamPort:
		return "pcie-switch-upstream-port"
	case PCIModelPCIeSwitchDownstreamPort:
		return "pcie-switch-downstream-port"
	case PCIModelPCIeExpanderBus:
		return "pcie-expander-bus"
	}
	return "invalid"
}

// ControllerDef describes one controller instance. The option fields use
// -1 for "not set"; build controllers with NewController so the defaults
// come out right.
type ControllerDef struct {
	Type     ControllerType
	PCIModel PCIControllerModel // when Type == ControllerPCI
	Model    string             // non-PCI model name: "ich9-uhci1", "ibmvscsi", ...
	Index    uint

	// Ports is the virtio-serial port count; -1 means the default.
	Ports int

	// Auto-generated controller options, filled during PCI assignment.
	ModelName string
	ChassisNr int
	Chassis   int
	Port      int
	BusNr     int
}

// Device is one entry in a domain definition. Controllers are devices too
// (they occupy addresses on their upstream bus); for those Controller is
// non-nil.
type Device struct {
	Class      DeviceClass
	Model      string
	Controller *ControllerDef
	Info       DeviceInfo
}

// NewController builds a controller device with option fields unset.
func NewController(t ControllerType, idx uint) *Device {
	return &Device{
		Class: ClassController,
		Controller: &ControllerDef{
			Type:      t,
			Index:     idx,
			Ports:     -1,
			ChassisNr: -1,
			Chassis:   -1,
			Port:      -1,
			BusNr:     -1,
		},
	}
}

// DomainDef is the device topology the allocators run over. The engine
// mutates device address records in place; the definition itself is owned
// and serialized by the caller.
type DomainDef struct {
	Machine string
	Arch    string

	Devices []*Device
}

// ForEachDevice visits every device in definition order and stops at the
// first callback error, which it returns.
func (d *DomainDef) ForEachDevice(fn func(*Device) error) error {
	for _, dev := range d.Devices {
		if err := fn(dev); err != nil {
			return err
		}
	}
	return nil
}

// Controllers returns the controller devices of the given type, in
// definition order.
func (d *DomainDef) Controllers(t ControllerType) []*Device {
	var out []*Device
	for _, dev := range d.Devices {
		if dev.Controller != nil && dev.Controller.Type == t {
			out = append(out, dev)
		}
	}
	return out
}

// FindController returns the controller of the given type and index, or
// nil.
func (d *DomainDef) FindController(t ControllerType, idx uint) *Device {
	for _, dev := range d.Devices {
		if dev.Controller != nil && dev.Controller.Type == t && dev.Controller.Index == idx {
			return dev
		}
	}
	return nil
}

// MaybeAddController adds a controller of the given type and index unless
// one already exists. It reports whether a controller was added and
// returns the (new or existing) controller device.
func (d *DomainDef) MaybeAddController(t ControllerType, idx uint, model PCIControllerModel) (*Device, bool) {
	if dev := d.FindController(t, idx); dev != nil {
		return dev, false
	}
	dev := NewController(t, idx)
	dev.Controller.PCIModel = model
	d.Devices = append(d.Devices, dev)
	return dev, true
}

// Machine-type predicates. The machine string is the only thing that
// identifies chipset behavior, same as the external declarative format.

// IsS390CCW reports an s390 channel-subsystem machine.
func (d *DomainDef) IsS390CCW() bool {
	return strings.HasPrefix(d.Machine, "s390-ccw")
}

// IsVirt reports an ARM "virt" machine.
func (d *DomainDef) IsVirt() bool {
	return d.Machine == "virt" || strings.HasPrefix(d.Machine, "virt-")
}

// IsQ35 reports a q35 chipset machine.
func (d *DomainDef) IsQ35() bool {
	return d.Machine == "q35" || strings.HasPrefix(d.Machine, "pc-q35")
}

// IsI440FX reports an i440fx (pc) chipset machine.
func (d *DomainDef) IsI440FX() bool {
	return d.Machine == "pc" ||
		strings.HasPrefix(d.Machine, "pc-0.") ||
		strings.HasPrefix(d.Machine, "pc-1.") ||
		strings.HasPrefix(d.Machine, "pc-i440") ||
		strings.HasPrefix(d.Machine, "rhel")
}

// IsPSeries reports a ppc64 pseries machine, the only home of VIO
// register addressing.
func (d *DomainDef) IsPSeries() bool {
	return (d.Arch == "ppc64" || d.Arch == "ppc64le") &&
		strings.HasPrefix(d.Machine, "pseries")
}

// IsARM reports an ARM guest architecture.
func (d *DomainDef) IsARM() bool {
	return d.Arch == "armv7l" || d.Arch == "aarch64"
}

// SupportsPCI reports whether the machine has a PCI bus at all. Non-ARM
// machines always do; ARM needs either the versatilepb board or a virt
// machine with a generic PCIe host bridge.
func (d *DomainDef) SupportsPCI(gpexObject bool) bool {
	if !d.IsARM() {
		return true
	}
	if d.Machine == "versatilepb" {
		return true
	}
	return d.IsVirt() && gpexObject
}
