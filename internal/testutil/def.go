// Package testutil builds domain definitions for tests. The builders
// return devices in declaration order, which matters: assignment walks
// the definition in order and the expected addresses depend on it.
package testutil

import "github.com/joshuapare/buskit/addr"

// NewDef returns a definition for the given machine with no devices.
func NewDef(machine, arch string) *addr.DomainDef {
	return &addr.DomainDef{Machine: machine, Arch: arch}
}

// I440FXDef returns a pc-machine definition with its implicit pci-root.
func I440FXDef() *addr.DomainDef {
	def := NewDef("pc", "x86_64")
	AddPCIController(def, 0, addr.PCIModelPCIRoot)
	return def
}

// Q35Def returns a q35 definition with its implicit pcie-root.
func Q35Def() *addr.DomainDef {
	def := NewDef("q35", "x86_64")
	AddPCIController(def, 0, addr.PCIModelPCIeRoot)
	return def
}

// AddPCIController appends a PCI controller of the given model and index.
func AddPCIController(def *addr.DomainDef, idx uint, model addr.PCIControllerModel) *addr.Device {
	dev := addr.NewController(addr.ControllerPCI, idx)
	dev.Controller.PCIModel = model
	def.Devices = append(def.Devices, dev)
	return dev
}

// AddController appends a non-PCI controller.
func AddController(def *addr.DomainDef, t addr.ControllerType, idx uint, model string) *addr.Device {
	dev := addr.NewController(t, idx)
	dev.Controller.Model = model
	def.Devices = append(def.Devices, dev)
	return dev
}

// AddDevice appends a plain device of the given class and model.
func AddDevice(def *addr.DomainDef, class addr.DeviceClass, model string) *addr.Device {
	dev := &addr.Device{Class: class, Model: model}
	def.Devices = append(def.Devices, dev)
	return dev
}

// AddVirtioDisk appends a virtio disk.
func AddVirtioDisk(def *addr.DomainDef) *addr.Device {
	return AddDevice(def, addr.ClassDisk, "virtio")
}

// AddVirtioNet appends a virtio network interface.
func AddVirtioNet(def *addr.DomainDef) *addr.Device {
	return AddDevice(def, addr.ClassNet, "virtio")
}

// AddVirtioChannel appends a virtio channel (regular port consumer).
func AddVirtioChannel(def *addr.DomainDef) *addr.Device {
	return AddDevice(def, addr.ClassChannel, "virtio")
}

// AddVirtioConsole appends a virtio console (may take port 0).
func AddVirtioConsole(def *addr.DomainDef) *addr.Device {
	return AddDevice(def, addr.ClassConsole, "virtio")
}

// WithPCIAddr places an explicit PCI address on the device and returns
// it, for fixture chaining.
func WithPCIAddr(dev *addr.Device, bus, slot, function uint) *addr.Device {
	dev.Info.Type = addr.AddrPCI
	dev.Info.PCI = addr.PCIAddr{Bus: bus, Slot: slot, Function: function}
	return dev
}

// WithCCWAddr places an explicit CCW address on the device.
func WithCCWAddr(dev *addr.Device, cssid, ssid, devno uint) *addr.Device {
	dev.Info.Type = addr.AddrCCW
	dev.Info.CCW = addr.CCWAddr{CSSID: cssid, SSID: ssid, DevNo: devno, Assigned: true}
	return dev
}

// WithVIOReg places an explicit VIO register on the device.
func WithVIOReg(dev *addr.Device, reg uint64) *addr.Device {
	dev.Info.Type = addr.AddrVIO
	dev.Info.VIO = addr.VIOAddr{Reg: reg, HasReg: true, Explicit: true}
	return dev
}
