package assign

import (
	"github.com/joshuapare/buskit/addr"
	"github.com/joshuapare/buskit/addr/ccw"
	"github.com/joshuapare/buskit/addr/serial"
	"github.com/joshuapare/buskit/pkg/types"
)

// ValidateAddresses checks the explicit addresses of a definition without
// assigning anything: every address the user wrote must be in range, on a
// compatible bus, and free of double use. The definition is not modified.
func ValidateAddresses(def *addr.DomainDef, caps types.Caps) error {
	serialSet := serial.NewSet()
	if err := serialSet.AddControllersFromDef(def); err != nil {
		return err
	}
	err := def.ForEachDevice(func(dev *addr.Device) error {
		return serialSet.Reserve(&dev.Info)
	})
	if err != nil {
		return err
	}

	ccwSet := ccw.NewSet()
	err = def.ForEachDevice(func(dev *addr.Device) error {
		if dev.Info.Type != addr.AddrCCW || !dev.Info.CCW.Assigned {
			return nil
		}
		return ccwSet.Assign(&dev.Info, false)
	})
	if err != nil {
		return err
	}

	if !def.SupportsPCI(caps.GPEXObject) {
		return nil
	}
	maxIdx := -1
	for _, dev := range def.Controllers(addr.ControllerPCI) {
		if int(dev.Controller.Index) > maxIdx {
			maxIdx = int(dev.Controller.Index)
		}
	}
	if maxIdx < 0 {
		return nil
	}
	if maxIdx > 0 && !caps.PCIBridge {
		return types.ConfigErrorf(types.ErrKindUnsupportedTopology,
			"PCI bridges are not supported by this binary")
	}
	// Building the set claims every explicit PCI address, so conflicts and
	// bound violations surface here.
	_, err = newAddrSet(def, uint(maxIdx+1), false)
	return err
}
