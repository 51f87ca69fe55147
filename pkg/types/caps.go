package types

// Caps lists the hypervisor features that influence address assignment.
// The engine performs no discovery: callers probe their binary however
// they like and hand the results in here.
type Caps struct {
	// VirtioCCW: the binary exposes virtio devices on the channel
	// subsystem (s390 virtio-ccw).
	VirtioCCW bool
	// VirtioS390: legacy s390 virtio transport, used only when VirtioCCW
	// is unavailable.
	VirtioS390 bool
	// VirtioMMIO: ARM virtio-mmio transport.
	VirtioMMIO bool
	// PCIBridge: the binary can instantiate pci-bridge controllers, which
	// gates automatic bus growth beyond bus 0.
	PCIBridge bool
	// PrimaryVideoDevice: video can be placed like an ordinary device
	// instead of insisting on its fixed chipset slot.
	PrimaryVideoDevice bool
	// GPEXObject: generic PCIe host bridge, required for PCI on ARM virt
	// machines.
	GPEXObject bool

	// SCSI controller model availability, consulted when a SCSI
	// controller's model is left unset.
	SCSILsi    bool
	VirtioSCSI bool
}
