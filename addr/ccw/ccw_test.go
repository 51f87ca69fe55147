package ccw

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joshuapare/buskit/addr"
	"github.com/joshuapare/buskit/pkg/types"
)

func Test_Assign_AutoThenExplicitConflict(t *testing.T) {
	s := NewSet()

	var a addr.DeviceInfo
	require.NoError(t, s.Assign(&a, true))
	require.Equal(t, "fe.0.0000", a.CCW.String())
	require.True(t, a.CCW.Assigned)

	// The same address configured explicitly on a second device collides.
	b := addr.DeviceInfo{
		Type: addr.AddrCCW,
		CCW:  addr.CCWAddr{CSSID: VirtioCSSID, DevNo: 0, Assigned: true},
	}
	err := s.Assign(&b, false)
	require.ErrorIs(t, err, types.ErrAddressInUse)

	// The next automatic assignment advances past the used number.
	var c addr.DeviceInfo
	require.NoError(t, s.Assign(&c, true))
	require.Equal(t, "fe.0.0001", c.CCW.String())
}

func Test_Assign_SkipsExplicitHoles(t *testing.T) {
	s := NewSet()

	exp := addr.DeviceInfo{
		Type: addr.AddrCCW,
		CCW:  addr.CCWAddr{CSSID: VirtioCSSID, DevNo: 1, Assigned: true},
	}
	require.NoError(t, s.Assign(&exp, false))

	var a, b addr.DeviceInfo
	require.NoError(t, s.Assign(&a, true))
	require.Equal(t, uint(0), a.CCW.DevNo)
	require.NoError(t, s.Assign(&b, true))
	require.Equal(t, uint(2), b.CCW.DevNo)
}

func Test_Release_RewindsCursor(t *testing.T) {
	s := NewSet()

	infos := make([]addr.DeviceInfo, 3)
	for i := range infos {
		require.NoError(t, s.Assign(&infos[i], true))
	}
	require.Equal(t, uint(2), infos[2].CCW.DevNo)

	s.Release(infos[0].CCW)

	// The freed low number is reused before new ground is broken.
	var next addr.DeviceInfo
	require.NoError(t, s.Assign(&next, true))
	require.Equal(t, uint(0), next.CCW.DevNo)
}

func Test_Release_OtherSubchannelSetKeepsCursor(t *testing.T) {
	s := NewSet()

	var a addr.DeviceInfo
	require.NoError(t, s.Assign(&a, true))

	// An explicit address in a different subchannel set doesn't move the
	// cursor when released.
	other := addr.DeviceInfo{
		Type: addr.AddrCCW,
		CCW:  addr.CCWAddr{CSSID: 0, SSID: 1, DevNo: 0, Assigned: true},
	}
	require.NoError(t, s.Assign(&other, false))
	s.Release(other.CCW)

	var next addr.DeviceInfo
	require.NoError(t, s.Assign(&next, true))
	require.Equal(t, addr.CCWAddr{CSSID: VirtioCSSID, DevNo: 1, Assigned: true}, next.CCW)
}

func Test_Assign_Exhaustion(t *testing.T) {
	s := NewSet()

	// Claim the whole tail of the device-number space, then park the
	// cursor at the last free number.
	for devno := uint(1); devno <= MaxDevNo; devno++ {
		s.used[key{cssid: VirtioCSSID, devno: devno}] = struct{}{}
	}

	var a addr.DeviceInfo
	require.NoError(t, s.Assign(&a, true))
	require.Equal(t, uint(0), a.CCW.DevNo)

	var b addr.DeviceInfo
	err := s.Assign(&b, true)
	require.ErrorIs(t, err, types.ErrCapacityExhausted)
}

func Test_Validate_DevNoBound(t *testing.T) {
	s := NewSet()
	err := s.Validate(addr.CCWAddr{CSSID: VirtioCSSID, DevNo: MaxDevNo + 1})
	require.ErrorIs(t, err, types.ErrInvalidAddress)
}

func Test_AddrString_Format(t *testing.T) {
	a := addr.CCWAddr{CSSID: 0xfe, SSID: 0, DevNo: 0x12}
	require.Equal(t, fmt.Sprintf("%x.%x.%04x", 0xfe, 0, 0x12), a.String())
	require.Equal(t, "fe.0.0012", a.String())
}
