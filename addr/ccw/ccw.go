// Package ccw implements the sequential channel-subsystem allocator: a
// monotonically advancing cursor over device numbers plus a used-set of
// every address handed out or claimed explicitly.
package ccw

import (
	log "github.com/sirupsen/logrus"

	"github.com/joshuapare/buskit/addr"
	"github.com/joshuapare/buskit/pkg/types"
)

const (
	// VirtioCSSID is the channel-subsystem id all virtio devices live in.
	VirtioCSSID = 0xfe
	// MaxDevNo is the highest device number in a subchannel set.
	MaxDevNo = 0xffff
)

type key struct {
	cssid uint
	ssid  uint
	devno uint
}

func keyOf(a addr.CCWAddr) key {
	return key{cssid: a.CSSID, ssid: a.SSID, devno: a.DevNo}
}

// Set tracks CCW address occupancy. next is the cursor: the candidate for
// the following automatic assignment, advanced past anything already used.
type Set struct {
	used map[key]struct{}
	next addr.CCWAddr
}

// NewSet returns an empty set with the cursor at the first virtio device
// number, fe.0.0000.
func NewSet() *Set {
	return &Set{
		used: map[key]struct{}{},
		next: addr.CCWAddr{CSSID: VirtioCSSID},
	}
}

// Validate checks the component ranges of an explicit address.
func (s *Set) Validate(a addr.CCWAddr) error {
	if a.DevNo > MaxDevNo {
		return types.ConfigErrorf(types.ErrKindInvalidAddress,
			"Invalid CCW address %s. devno must be <= %#04x", a, MaxDevNo)
	}
	return nil
}

// Assign gives info a CCW address. With autoassign false the device must
// already carry one; it is validated and claimed, and a claim of a used
// address fails. With autoassign true a device without an address gets
// the lowest free device number at the cursor. A device that already has
// what the call would give it is left alone.
func (s *Set) Assign(info *addr.DeviceInfo, autoassign bool) error {
	switch {
	case !autoassign && info.CCW.Assigned:
		if err := s.Validate(info.CCW); err != nil {
			return err
		}
		if _, ok := s.used[keyOf(info.CCW)]; ok {
			return types.ConfigErrorf(types.ErrKindAddressInUse,
				"The CCW devno '%s' is in use already", info.CCW)
		}
	case autoassign && !info.CCW.Assigned:
		for {
			if _, ok := s.used[keyOf(s.next)]; !ok {
				break
			}
			if s.next.DevNo >= MaxDevNo {
				return types.ConfigErrorf(types.ErrKindCapacityExhausted,
					"There are no more free CCW devnos")
			}
			s.next.DevNo++
		}
		info.Type = addr.AddrCCW
		info.CCW = s.next
		info.CCW.Assigned = true
		log.WithField("addr", info.CCW.String()).Debug("assigned CCW address")
	default:
		return nil
	}
	s.used[keyOf(info.CCW)] = struct{}{}
	return nil
}

// Release frees the address and, when it sits below the cursor in the
// same subchannel set, rewinds the cursor so the number is handed out
// again.
func (s *Set) Release(a addr.CCWAddr) {
	if !a.Assigned {
		return
	}
	delete(s.used, keyOf(a))
	if s.next.CSSID == a.CSSID && s.next.SSID == a.SSID && s.next.DevNo > a.DevNo {
		s.next.DevNo = a.DevNo
	}
}

// InUse reports whether the address is claimed.
func (s *Set) InUse(a addr.CCWAddr) bool {
	_, ok := s.used[keyOf(a)]
	return ok
}
