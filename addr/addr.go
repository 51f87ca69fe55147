package addr

import "fmt"

// PCIAddr is a segmented bus address: domain (segment), bus, slot and
// function. Only domain 0 is modeled. MultiFunction mirrors the device's
// multifunction declaration; it decides whether a reservation consumes the
// whole slot or a single function.
type PCIAddr struct {
	Domain   uint
	Bus      uint
	Slot     uint
	Function uint

	MultiFunction bool
}

// String renders the canonical SSSS:BB:DD.F form used in error messages
// and external representations.
func (a PCIAddr) String() string {
	return fmt.Sprintf("%04x:%02x:%02x.%x", a.Domain, a.Bus, a.Slot, a.Function)
}

// IsZero reports whether every address component is zero. A zeroed PCI
// address on a device means "not yet placed"; 0000:00:00.0 itself is the
// host bridge and never a valid device address.
func (a PCIAddr) IsZero() bool {
	return a.Domain == 0 && a.Bus == 0 && a.Slot == 0 && a.Function == 0
}

// CCWAddr is a channel-subsystem address: channel-subsystem id, subchannel
// set id and device number. Assigned distinguishes "carries a real address"
// from the zero value, since 0.0.0000 is itself a valid address.
type CCWAddr struct {
	CSSID uint
	SSID  uint
	DevNo uint

	Assigned bool
}

// String renders the canonical C.S.DDDD form.
func (a CCWAddr) String() string {
	return fmt.Sprintf("%x.%x.%04x", a.CSSID, a.SSID, a.DevNo)
}

// SerialAddr addresses a port on a virtio-serial controller. Bus is always
// 0; it exists because the external representation carries it.
type SerialAddr struct {
	Controller uint
	Bus        uint
	Port       uint
}

func (a SerialAddr) String() string {
	return fmt.Sprintf("%d:%d", a.Controller, a.Port)
}

// VIOAddr is a scalar register address. HasReg distinguishes an explicit
// or already-assigned register from "pick one for me"; Explicit records
// whether the value came from user configuration, which makes conflicts
// terminal instead of retryable.
type VIOAddr struct {
	Reg      uint64
	HasReg   bool
	Explicit bool
}

func (a VIOAddr) String() string {
	s := fmt.Sprintf("%#x", a.Reg)
	if a.Explicit {
		s += " (explicit)"
	}
	return s
}
