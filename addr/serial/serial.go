// Package serial implements the per-controller port allocator for
// virtio-serial devices. Every controller owns a fixed-width port bitmap;
// assignment scans controllers in index order and can append a new
// controller to the definition when every existing one is full.
//
// Port 0 is reserved for implicit console targets. It is never tracked in
// the bitmaps, and a device record with port 0 counts as not yet
// assigned.
package serial

import (
	"sort"

	"github.com/bits-and-blooms/bitset"
	log "github.com/sirupsen/logrus"

	"github.com/joshuapare/buskit/addr"
	"github.com/joshuapare/buskit/pkg/types"
)

// DefaultPorts is the port count of a controller that doesn't declare
// one.
const DefaultPorts = 31

type controller struct {
	idx    uint
	nports uint
	ports  *bitset.BitSet
}

// Set tracks port occupancy across the virtio-serial controllers of one
// definition, ordered by controller index.
type Set struct {
	controllers []*controller
}

// NewSet returns an empty set.
func NewSet() *Set {
	return &Set{}
}

// AddController registers a controller with the given index and port
// count; ports < 0 selects the default. Indexes must be unique.
func (s *Set) AddController(idx uint, ports int) error {
	if ports < 0 {
		ports = DefaultPorts
	}
	pos := sort.Search(len(s.controllers), func(i int) bool {
		return s.controllers[i].idx >= idx
	})
	if pos < len(s.controllers) && s.controllers[pos].idx == idx {
		return types.EngineErrorf(types.ErrKindInternal,
			"virtio-serial controller with index %d already exists in the address set", idx)
	}
	c := &controller{
		idx:    idx,
		nports: uint(ports),
		ports:  bitset.New(uint(ports)),
	}
	s.controllers = append(s.controllers, nil)
	copy(s.controllers[pos+1:], s.controllers[pos:])
	s.controllers[pos] = c
	return nil
}

// AddControllersFromDef registers every virtio-serial controller the
// definition declares.
func (s *Set) AddControllersFromDef(def *addr.DomainDef) error {
	for _, dev := range def.Controllers(addr.ControllerVirtioSerial) {
		if err := s.AddController(dev.Controller.Index, dev.Controller.Ports); err != nil {
			return err
		}
	}
	return nil
}

func (s *Set) find(idx uint) *controller {
	pos := sort.Search(len(s.controllers), func(i int) bool {
		return s.controllers[i].idx >= idx
	})
	if pos < len(s.controllers) && s.controllers[pos].idx == idx {
		return s.controllers[pos]
	}
	return nil
}

// lowestUnusedIndex returns the smallest controller index not yet in the
// set. The list is sorted, so the first gap wins.
func (s *Set) lowestUnusedIndex() uint {
	var idx uint
	for _, c := range s.controllers {
		if c.idx != idx {
			break
		}
		idx++
	}
	return idx
}

// Reserve claims the port named by info. Records without a complete
// address are skipped: port 0 belongs to implicit consoles and is never
// tracked.
func (s *Set) Reserve(info *addr.DeviceInfo) error {
	if !info.SerialAddressComplete() {
		return nil
	}
	a := info.Serial
	c := s.find(a.Controller)
	if c == nil {
		return types.ConfigErrorf(types.ErrKindInvalidAddress,
			"virtio-serial controller %d is not available", a.Controller)
	}
	if a.Port >= c.nports {
		return types.ConfigErrorf(types.ErrKindInvalidAddress,
			"virtio-serial controller %d does not have port %d", a.Controller, a.Port)
	}
	if c.ports.Test(a.Port) {
		return types.ConfigErrorf(types.ErrKindAddressInUse,
			"virtio-serial port %s is already in use", a)
	}
	c.ports.Set(a.Port)
	log.WithField("addr", a.String()).Debug("reserving virtio-serial port")
	return nil
}

// next finds the first free port across all controllers. allowZero admits
// port 0, for console targets. When every controller is full and def is
// non-nil, a new controller is appended to the definition (and the set)
// at the lowest unused index.
func (s *Set) next(def *addr.DomainDef, allowZero bool) (addr.SerialAddr, error) {
	var start uint = 1
	if allowZero {
		start = 0
	}

	if len(s.controllers) == 0 && def == nil {
		return addr.SerialAddr{}, types.ConfigErrorf(types.ErrKindInvalidAddress,
			"no virtio-serial controllers are available")
	}

	for _, c := range s.controllers {
		if port, ok := c.ports.NextClear(start); ok && port < c.nports {
			return addr.SerialAddr{Controller: c.idx, Port: port}, nil
		}
	}

	if def != nil {
		idx := s.lowestUnusedIndex()
		dev, added := def.MaybeAddController(addr.ControllerVirtioSerial, idx, addr.PCIModelNone)
		if added {
			log.WithField("index", idx).Debug("adding virtio-serial controller")
		}
		if err := s.AddController(idx, dev.Controller.Ports); err != nil {
			return addr.SerialAddr{}, err
		}
		return addr.SerialAddr{Controller: idx, Port: start}, nil
	}

	return addr.SerialAddr{}, types.ConfigErrorf(types.ErrKindCapacityExhausted,
		"Unable to find a free virtio-serial port")
}

// nextFromController finds the first free regular port on one specific
// controller.
func (s *Set) nextFromController(idx uint) (addr.SerialAddr, error) {
	c := s.find(idx)
	if c == nil {
		return addr.SerialAddr{}, types.ConfigErrorf(types.ErrKindInvalidAddress,
			"virtio-serial controller %d is not available", idx)
	}
	if port, ok := c.ports.NextClear(1); ok && port < c.nports {
		return addr.SerialAddr{Controller: idx, Port: port}, nil
	}
	return addr.SerialAddr{}, types.ConfigErrorf(types.ErrKindCapacityExhausted,
		"Unable to find a free port on virtio-serial controller %d", idx)
}

// AutoAssign completes info's virtio-serial address and reserves it. A
// complete record is simply claimed. A record that names a controller but
// no port gets that controller's next free port. A record with no address
// at all gets the set-wide search, which can grow a new controller
// through def. allowZero is set for console targets, which may take
// port 0.
func (s *Set) AutoAssign(def *addr.DomainDef, info *addr.DeviceInfo, allowZero bool) error {
	if info.SerialAddressComplete() {
		return s.Reserve(info)
	}

	var (
		a   addr.SerialAddr
		err error
	)
	if info.Type == addr.AddrVirtioSerial {
		a, err = s.nextFromController(info.Serial.Controller)
	} else {
		a, err = s.next(def, allowZero)
	}
	if err != nil {
		return err
	}

	info.Type = addr.AddrVirtioSerial
	info.Serial = a
	return s.Reserve(info)
}

// Release frees the port named by info, if any.
func (s *Set) Release(info *addr.DeviceInfo) error {
	if !info.SerialAddressComplete() {
		return nil
	}
	a := info.Serial
	c := s.find(a.Controller)
	if c == nil {
		return nil
	}
	if a.Port >= c.nports {
		return types.ConfigErrorf(types.ErrKindInvalidAddress,
			"virtio-serial controller %d does not have port %d", a.Controller, a.Port)
	}
	c.ports.Clear(a.Port)
	return nil
}
