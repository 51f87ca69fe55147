// Package vio implements the conflict-probing scalar allocator for
// spapr-VIO register addresses. There is no persistent set: occupancy is
// whatever the definition's other devices currently claim, indexed once
// per assignment.
package vio

import (
	log "github.com/sirupsen/logrus"

	"github.com/joshuapare/buskit/addr"
	"github.com/joshuapare/buskit/pkg/types"
)

// Default starting registers per device class, and the probing stride.
const (
	RegNet    = 0x1000
	RegSCSI   = 0x2000
	RegNVRAM  = 0x3000
	RegSerial = 0x30000000

	regStride = 0x1000
)

// collectRegs indexes every register claimed by a device other than the
// one being assigned. Identity, not value, excludes the device: two
// records may legitimately carry the same register mid-assignment.
func collectRegs(def *addr.DomainDef, except *addr.DeviceInfo) map[uint64]struct{} {
	regs := make(map[uint64]struct{})
	for _, dev := range def.Devices {
		if &dev.Info == except {
			continue
		}
		if dev.Info.Type == addr.AddrVIO && dev.Info.VIO.HasReg {
			regs[dev.Info.VIO.Reg] = struct{}{}
		}
	}
	return regs
}

// Assign gives info a conflict-free register. A record without one starts
// at defaultReg and probes upward in fixed strides until a free value
// appears; registers the user supplied are not negotiable, so a conflict
// on an explicit value fails instead of probing.
func Assign(def *addr.DomainDef, info *addr.DeviceInfo, defaultReg uint64) error {
	info.Type = addr.AddrVIO
	if !info.VIO.HasReg {
		info.VIO.Reg = defaultReg
		info.VIO.HasReg = true
		info.VIO.Explicit = false
	}

	regs := collectRegs(def, info)
	for {
		if _, taken := regs[info.VIO.Reg]; !taken {
			break
		}
		if info.VIO.Explicit {
			return types.ConfigErrorf(types.ErrKindRegisterConflict,
				"spapr-vio address %#x already in use", info.VIO.Reg)
		}
		info.VIO.Reg += regStride
	}

	log.WithField("reg", info.VIO.String()).Debug("assigned spapr-vio address")
	return nil
}
