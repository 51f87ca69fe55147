// Package topology loads domain definitions and capability flags from
// the YAML description format the CLI consumes. It is a thin mapping
// layer: every enum in the model has a stable string form here, and
// unknown strings fail loading rather than defaulting.
package topology

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/joshuapare/buskit/addr"
	"github.com/joshuapare/buskit/pkg/types"
)

// Doc is the top-level YAML document.
type Doc struct {
	Machine string   `yaml:"machine"`
	Arch    string   `yaml:"arch"`
	Caps    CapsDoc  `yaml:"caps"`
	Devices []DevDoc `yaml:"devices"`
}

// CapsDoc mirrors types.Caps with YAML field names.
type CapsDoc struct {
	VirtioCCW          bool `yaml:"virtio-ccw"`
	VirtioS390         bool `yaml:"virtio-s390"`
	VirtioMMIO         bool `yaml:"virtio-mmio"`
	PCIBridge          bool `yaml:"pci-bridge"`
	PrimaryVideoDevice bool `yaml:"primary-video-device"`
	GPEXObject         bool `yaml:"gpex-object"`
	SCSILsi            bool `yaml:"scsi-lsi"`
	VirtioSCSI         bool `yaml:"virtio-scsi"`
}

// DevDoc is one device entry.
type DevDoc struct {
	Class      string   `yaml:"class"`
	Model      string   `yaml:"model,omitempty"`
	Alias      string   `yaml:"alias,omitempty"`
	Controller *CtrlDoc `yaml:"controller,omitempty"`
	Address    *AddrDoc `yaml:"address,omitempty"`
}

// CtrlDoc holds the controller-specific fields.
type CtrlDoc struct {
	Type  string `yaml:"type"`
	Model string `yaml:"model,omitempty"`
	Index uint   `yaml:"index"`
	Ports *int   `yaml:"ports,omitempty"`
}

// AddrDoc is an explicit device address of any type.
type AddrDoc struct {
	Type string `yaml:"type"`

	// pci
	Bus           uint `yaml:"bus,omitempty"`
	Slot          uint `yaml:"slot,omitempty"`
	Function      uint `yaml:"function,omitempty"`
	MultiFunction bool `yaml:"multifunction,omitempty"`

	// ccw
	CSSID uint `yaml:"cssid,omitempty"`
	SSID  uint `yaml:"ssid,omitempty"`
	DevNo uint `yaml:"devno,omitempty"`

	// virtio-serial
	Controller uint `yaml:"controller,omitempty"`
	Port       uint `yaml:"port,omitempty"`

	// spapr-vio
	Reg *uint64 `yaml:"reg,omitempty"`
}

var deviceClasses = map[string]addr.DeviceClass{
	"disk":       addr.ClassDisk,
	"net":        addr.ClassNet,
	"controller": addr.ClassController,
	"filesystem": addr.ClassFilesystem,
	"console":    addr.ClassConsole,
	"channel":    addr.ClassChannel,
	"memballoon": addr.ClassMemballoon,
	"rng":        addr.ClassRNG,
	"video":      addr.ClassVideo,
	"sound":      addr.ClassSound,
	"hostdev":    addr.ClassHostdev,
	"watchdog":   addr.ClassWatchdog,
	"serial":     addr.ClassSerial,
	"input":      addr.ClassInput,
	"shmem":      addr.ClassShmem,
	"nvram":      addr.ClassNVRAM,
}

var controllerTypes = map[string]addr.ControllerType{
	"pci":           addr.ControllerPCI,
	"virtio-serial": addr.ControllerVirtioSerial,
	"scsi":          addr.ControllerSCSI,
	"usb":           addr.ControllerUSB,
	"ide":           addr.ControllerIDE,
	"sata":          addr.ControllerSATA,
	"fdc":           addr.ControllerFDC,
	"ccid":          addr.ControllerCCID,
}

var pciModels = map[string]addr.PCIControllerModel{
	"pci-root":                    addr.PCIModelPCIRoot,
	"pci-bridge":                  addr.PCIModelPCIBridge,
	"pci-expander-bus":            addr.PCIModelPCIExpanderBus,
	"dmi-to-pci-bridge":           addr.PCIModelDMIToPCIBridge,
	"pcie-root":                   addr.PCIModelPCIeRoot,
	"pcie-root-port":              addr.PCIModelPCIeRootPort,
	"pcie-switch-upstream-port":   addr.PCIModelPCIeSwitchUpstreamPort,
	"pcie-switch-downstream-port": addr.PCIModelPCIeSwitchDownstreamPort,
	"pcie-expander-bus":           addr.PCIModelPCIeExpanderBus,
}

// Load reads and parses a topology file.
func Load(path string) (*addr.DomainDef, types.Caps, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, types.Caps{}, err
	}
	return Parse(raw)
}

// Parse builds a definition and capability set from YAML bytes.
func Parse(raw []byte) (*addr.DomainDef, types.Caps, error) {
	var doc Doc
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, types.Caps{}, fmt.Errorf("parsing topology: %w", err)
	}

	def := &addr.DomainDef{Machine: doc.Machine, Arch: doc.Arch}
	for i := range doc.Devices {
		dev, err := buildDevice(&doc.Devices[i])
		if err != nil {
			return nil, types.Caps{}, fmt.Errorf("device %d: %w", i, err)
		}
		def.Devices = append(def.Devices, dev)
	}

	caps := types.Caps{
		VirtioCCW:          doc.Caps.VirtioCCW,
		VirtioS390:         doc.Caps.VirtioS390,
		VirtioMMIO:         doc.Caps.VirtioMMIO,
		PCIBridge:          doc.Caps.PCIBridge,
		PrimaryVideoDevice: doc.Caps.PrimaryVideoDevice,
		GPEXObject:         doc.Caps.GPEXObject,
		SCSILsi:            doc.Caps.SCSILsi,
		VirtioSCSI:         doc.Caps.VirtioSCSI,
	}
	return def, caps, nil
}

func buildDevice(d *DevDoc) (*addr.Device, error) {
	class, ok := deviceClasses[d.Class]
	if !ok {
		return nil, fmt.Errorf("unknown device class %q", d.Class)
	}

	var dev *addr.Device
	if class == addr.ClassController {
		if d.Controller == nil {
			return nil, fmt.Errorf("controller device needs a controller block")
		}
		ct, ok := controllerTypes[d.Controller.Type]
		if !ok {
			return nil, fmt.Errorf("unknown controller type %q", d.Controller.Type)
		}
		dev = addr.NewController(ct, d.Controller.Index)
		if ct == addr.ControllerPCI {
			model, ok := pciModels[d.Controller.Model]
			if !ok {
				return nil, fmt.Errorf("unknown PCI controller model %q", d.Controller.Model)
			}
			dev.Controller.PCIModel = model
		} else {
			dev.Controller.Model = d.Controller.Model
		}
		if d.Controller.Ports != nil {
			dev.Controller.Ports = *d.Controller.Ports
		}
	} else {
		dev = &addr.Device{Class: class}
	}
	dev.Model = d.Model
	dev.Info.Alias = d.Alias

	if d.Address != nil {
		if err := applyAddress(dev, d.Address); err != nil {
			return nil, err
		}
	}
	return dev, nil
}

func applyAddress(dev *addr.Device, a *AddrDoc) error {
	switch a.Type {
	case "pci":
		dev.Info.Type = addr.AddrPCI
		dev.Info.PCI = addr.PCIAddr{
			Bus:           a.Bus,
			Slot:          a.Slot,
			Function:      a.Function,
			MultiFunction: a.MultiFunction,
		}
	case "ccw":
		dev.Info.Type = addr.AddrCCW
		dev.Info.CCW = addr.CCWAddr{
			CSSID:    a.CSSID,
			SSID:     a.SSID,
			DevNo:    a.DevNo,
			Assigned: true,
		}
	case "virtio-serial":
		dev.Info.Type = addr.AddrVirtioSerial
		dev.Info.Serial = addr.SerialAddr{Controller: a.Controller, Port: a.Port}
	case "spapr-vio":
		dev.Info.Type = addr.AddrVIO
		if a.Reg != nil {
			dev.Info.VIO = addr.VIOAddr{Reg: *a.Reg, HasReg: true, Explicit: true}
		}
	default:
		return fmt.Errorf("unknown address type %q", a.Type)
	}
	return nil
}
