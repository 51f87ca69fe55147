package pci

import (
	log "github.com/sirupsen/logrus"

	"github.com/joshuapare/buskit/addr"
	"github.com/joshuapare/buskit/pkg/types"
)

// Set is the segmented address allocator: an ordered list of buses, each
// with a per-slot function bitmap. A set built with dryRun performs
// sizing runs; it grows new buses on demand instead of failing, and
// next-slot reservations don't write addresses back to devices.
//
// lastAddr/lastFlags remember the previous next-slot result so that a run
// of devices with identical connection needs continues scanning where it
// stopped instead of re-walking the whole set.
type Set struct {
	buses  []Bus
	dryRun bool

	lastAddr  addr.PCIAddr
	lastFlags ConnectFlags
}

// NewSet builds a set with nbuses unconfigured buses. Callers shape each
// bus with Bus(i).SetModel before reserving anything on it.
func NewSet(nbuses uint, dryRun bool) *Set {
	return &Set{
		buses:  make([]Bus, nbuses),
		dryRun: dryRun,
	}
}

// Bus returns the i'th bus for shaping or inspection; i must be below
// NumBuses.
func (s *Set) Bus(i uint) *Bus { return &s.buses[i] }

// NumBuses returns the current bus count, including grown buses.
func (s *Set) NumBuses() uint { return uint(len(s.buses)) }

// DryRun reports whether this is a sizing set.
func (s *Set) DryRun() bool { return s.dryRun }

// SetLastAddr overrides the continuation point for the next NextSlot
// search. Used when a reservation made outside ReserveNextSlot should
// still anchor follow-up searches, e.g. the first USB companion
// controller of a group.
func (s *Set) SetLastAddr(a addr.PCIAddr, flags ConnectFlags) {
	s.lastAddr = a
	s.lastFlags = flags
}

// Validate checks that a names a reachable, in-window address on a bus
// compatible with devFlags. It does not look at occupancy.
func (s *Set) Validate(a addr.PCIAddr, devFlags ConnectFlags, fromConfig bool) error {
	origin := types.OriginOf(fromConfig)

	if len(s.buses) == 0 {
		return types.Newf(types.ErrKindInvalidAddress, origin, "No PCI buses available")
	}
	if a.Domain != 0 {
		return types.Newf(types.ErrKindInvalidAddress, origin,
			"Invalid PCI address %s. Only PCI domain 0 is available", a)
	}
	if a.Bus >= uint(len(s.buses)) {
		return types.Newf(types.ErrKindInvalidAddress, origin,
			"Invalid PCI address %s. Only PCI buses up to %d are available", a, len(s.buses)-1)
	}

	bus := &s.buses[a.Bus]
	if _, err := checkFlagsCompatible(a, bus.flags, devFlags, fromConfig, true); err != nil {
		return err
	}

	if a.Slot < bus.minSlot {
		return types.Newf(types.ErrKindInvalidAddress, origin,
			"Invalid PCI address %s. slot must be >= %d", a, bus.minSlot)
	}
	if a.Slot > bus.maxSlot {
		return types.Newf(types.ErrKindInvalidAddress, origin,
			"Invalid PCI address %s. slot must be <= %d", a, bus.maxSlot)
	}
	if a.Function > FunctionLast {
		return types.Newf(types.ErrKindInvalidAddress, origin,
			"Invalid PCI address %s. function must be <= %d", a, FunctionLast)
	}
	return nil
}

// Grow appends enough pci-bridge-shaped buses for a.Bus to exist. Only a
// device that can ride a conventional PCI bus can trigger growth, since
// the grown buses are bridges.
func (s *Set) Grow(a addr.PCIAddr, devFlags ConnectFlags) error {
	add := int(a.Bus) - len(s.buses) + 1
	if add <= 0 {
		return nil
	}
	if devFlags&ConnectTypePCIDevice == 0 {
		return types.ConfigErrorf(types.ErrKindUnsupportedTopology,
			"Cannot automatically add a new PCI bus for a device with connect flags %#x", uint(devFlags))
	}

	i := len(s.buses)
	s.buses = append(s.buses, make([]Bus, add)...)
	for ; i < len(s.buses); i++ {
		if err := s.buses[i].SetModel(addr.PCIModelPCIBridge); err != nil {
			return err
		}
	}
	log.WithFields(log.Fields{"added": add, "nbuses": len(s.buses)}).
		Debug("grew PCI address set")
	return nil
}

// SlotInUse reports whether any function of the addressed slot is
// reserved.
func (s *Set) SlotInUse(a addr.PCIAddr) bool {
	return s.buses[a.Bus].slots[a.Slot] != 0
}

// ReserveAddr marks a single function, or with reserveEntireSlot the
// whole slot, as in use. On a dry-run set the bus is grown first if a
// points past the end.
func (s *Set) ReserveAddr(a addr.PCIAddr, devFlags ConnectFlags, reserveEntireSlot, fromConfig bool) error {
	if s.dryRun {
		if err := s.Grow(a, devFlags); err != nil {
			return err
		}
	}
	if err := s.Validate(a, devFlags, fromConfig); err != nil {
		return err
	}
	origin := types.OriginOf(fromConfig)

	bus := &s.buses[a.Bus]
	if reserveEntireSlot {
		if bus.slots[a.Slot] != 0 {
			return types.Newf(types.ErrKindAddressInUse, origin,
				"Attempted double use of PCI slot %s (may need \"multifunction='on'\" for device on function 0)", a)
		}
		bus.slots[a.Slot] = slotFull
		log.WithField("addr", a.String()).Debug("reserving PCI slot")
	} else {
		if bus.slots[a.Slot]&(1<<a.Function) != 0 {
			if a.Function == 0 {
				return types.Newf(types.ErrKindAddressInUse, origin,
					"Attempted double use of PCI address %s", a)
			}
			return types.Newf(types.ErrKindAddressInUse, origin,
				"Attempted double use of PCI address %s (may need \"multifunction='on'\" for device on function 0)", a)
		}
		bus.slots[a.Slot] |= 1 << a.Function
		log.WithField("addr", a.String()).Debug("reserving PCI address")
	}
	return nil
}

// ReserveSlot reserves the whole slot named by a.
func (s *Set) ReserveSlot(a addr.PCIAddr, devFlags ConnectFlags) error {
	return s.ReserveAddr(a, devFlags, true, false)
}

// ReleaseAddr frees a single function.
func (s *Set) ReleaseAddr(a addr.PCIAddr) error {
	if a.Bus >= uint(len(s.buses)) || a.Slot > SlotLast || a.Function > FunctionLast {
		return types.EngineErrorf(types.ErrKindInvalidAddress,
			"Cannot release PCI address %s outside the set", a)
	}
	s.buses[a.Bus].slots[a.Slot] &^= 1 << a.Function
	return nil
}

// ReleaseSlot frees the whole slot named by a.
func (s *Set) ReleaseSlot(a addr.PCIAddr) error {
	// The connection check already passed when the slot was reserved; any
	// connection type validates here.
	if err := s.Validate(a, ConnectTypesMask, false); err != nil {
		return err
	}
	s.buses[a.Bus].slots[a.Slot] = 0
	return nil
}

// NextSlot finds the lowest free, compatible slot. When the search is for
// the same connection flags as the previous one it continues after the
// last result, and on exhaustion makes a second pass over the buses it
// skipped. A dry-run set grows a new bus instead of failing.
func (s *Set) NextSlot(devFlags ConnectFlags) (addr.PCIAddr, error) {
	var a addr.PCIAddr

	if len(s.buses) == 0 {
		return a, types.EngineErrorf(types.ErrKindInvalidAddress, "No PCI buses available")
	}

	if devFlags == s.lastFlags {
		a = s.lastAddr
		a.Function = 0
		a.Slot++
		if a.Slot > s.buses[a.Bus].maxSlot {
			a.Bus++
			if a.Bus < uint(len(s.buses)) {
				a.Slot = s.buses[a.Bus].minSlot
			}
		}
	} else {
		a.Slot = s.buses[0].minSlot
	}

	for a.Bus < uint(len(s.buses)) {
		if ok, _ := checkFlagsCompatible(a, s.buses[a.Bus].flags, devFlags, false, false); !ok {
			log.WithField("bus", a.Bus).Debug("PCI bus is not compatible with the device")
		} else {
			for ; a.Slot <= s.buses[a.Bus].maxSlot; a.Slot++ {
				if !s.SlotInUse(a) {
					return s.foundSlot(a)
				}
			}
		}
		a.Bus++
		if a.Bus < uint(len(s.buses)) {
			a.Slot = s.buses[a.Bus].minSlot
		}
	}

	if s.dryRun {
		// a already names the first slot past the end; grow to reach it.
		if err := s.Grow(a, devFlags); err != nil {
			return addr.PCIAddr{}, err
		}
		a.Slot = s.buses[a.Bus].minSlot
		return s.foundSlot(a)
	}

	if devFlags == s.lastFlags {
		// The forward search started mid-set; check the buses before the
		// continuation point.
		for a.Bus = 0; a.Bus <= s.lastAddr.Bus; a.Bus++ {
			a.Slot = s.buses[a.Bus].minSlot
			if ok, _ := checkFlagsCompatible(a, s.buses[a.Bus].flags, devFlags, false, false); !ok {
				continue
			}
			for ; a.Slot <= s.buses[a.Bus].maxSlot; a.Slot++ {
				if !s.SlotInUse(a) {
					return s.foundSlot(a)
				}
			}
		}
	}

	return addr.PCIAddr{}, types.ConfigErrorf(types.ErrKindCapacityExhausted,
		"No more available PCI slots")
}

func (s *Set) foundSlot(a addr.PCIAddr) (addr.PCIAddr, error) {
	log.WithField("addr", a.String()).Debug("found free PCI slot")
	return a, nil
}

// ReserveNextSlot finds the next free slot for devFlags, reserves it
// whole, and unless this is a dry run writes the address into info. The
// result becomes the continuation point for the next search either way.
func (s *Set) ReserveNextSlot(info *addr.DeviceInfo, devFlags ConnectFlags) error {
	a, err := s.NextSlot(devFlags)
	if err != nil {
		return err
	}
	if err := s.ReserveSlot(a, devFlags); err != nil {
		return err
	}
	if !s.dryRun {
		info.Type = addr.AddrPCI
		info.PCI = a
	}
	s.lastAddr = a
	s.lastFlags = devFlags
	return nil
}

// EnsureAddr gives a hotplugged device a usable address: the one it
// already carries, validated and reserved, or the next free hotpluggable
// slot.
func (s *Set) EnsureAddr(info *addr.DeviceInfo) error {
	devFlags := ConnectHotpluggable | ConnectTypePCIDevice

	if info.PCIAddressPresent() {
		if info.PCI.Function != 0 {
			return types.EngineErrorf(types.ErrKindInvalidAddress,
				"Only PCI device addresses with function=0 are supported")
		}
		if err := s.Validate(info.PCI, devFlags, true); err != nil {
			return err
		}
		return s.ReserveSlot(info.PCI, devFlags)
	}
	return s.ReserveNextSlot(info, devFlags)
}
