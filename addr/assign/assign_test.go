package assign

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joshuapare/buskit/addr"
	"github.com/joshuapare/buskit/addr/vio"
	"github.com/joshuapare/buskit/internal/testutil"
	"github.com/joshuapare/buskit/pkg/types"
)

func Test_VirtioSerial_ChannelsThenConsole(t *testing.T) {
	def := testutil.NewDef("pc", "x86_64")
	testutil.AddController(def, addr.ControllerVirtioSerial, 0, "")
	console := testutil.AddVirtioConsole(def)
	ch1 := testutil.AddVirtioChannel(def)
	ch2 := testutil.AddVirtioChannel(def)

	_, err := AssignVirtioSerialAddresses(def)
	require.NoError(t, err)

	require.Equal(t, addr.SerialAddr{Controller: 0, Port: 1}, ch1.Info.Serial)
	require.Equal(t, addr.SerialAddr{Controller: 0, Port: 2}, ch2.Info.Serial)
	require.Equal(t, addr.SerialAddr{Controller: 0, Port: 0}, console.Info.Serial)
	require.Equal(t, addr.AddrVirtioSerial, console.Info.Type)
}

func Test_VirtioSerial_ExplicitPortsClaimedFirst(t *testing.T) {
	def := testutil.NewDef("pc", "x86_64")
	testutil.AddController(def, addr.ControllerVirtioSerial, 0, "")
	ch1 := testutil.AddVirtioChannel(def)
	ch2 := testutil.AddVirtioChannel(def)
	ch2.Info.Type = addr.AddrVirtioSerial
	ch2.Info.Serial = addr.SerialAddr{Controller: 0, Port: 1}

	_, err := AssignVirtioSerialAddresses(def)
	require.NoError(t, err)

	// The later device's explicit port wins; the earlier one flows around
	// it.
	require.Equal(t, addr.SerialAddr{Controller: 0, Port: 2}, ch1.Info.Serial)
	require.Equal(t, addr.SerialAddr{Controller: 0, Port: 1}, ch2.Info.Serial)
}

func Test_SpaprVIO_ClassDefaults(t *testing.T) {
	def := testutil.NewDef("pseries", "ppc64")
	net := testutil.AddDevice(def, addr.ClassNet, "spapr-vlan")
	scsi := testutil.AddController(def, addr.ControllerSCSI, 0, "")
	serialDev := testutil.AddDevice(def, addr.ClassSerial, "")
	nvram := testutil.AddDevice(def, addr.ClassNVRAM, "")

	require.NoError(t, AssignSpaprVIOAddresses(def, types.Caps{}))

	require.Equal(t, "ibmvscsi", scsi.Controller.Model)
	require.Equal(t, uint64(vio.RegNet), net.Info.VIO.Reg)
	require.Equal(t, uint64(vio.RegSCSI), scsi.Info.VIO.Reg)
	require.Equal(t, uint64(vio.RegSerial), serialDev.Info.VIO.Reg)
	require.Equal(t, uint64(vio.RegNVRAM), nvram.Info.VIO.Reg)
}

func Test_SpaprVIO_SCSIModelFromCaps(t *testing.T) {
	def := testutil.NewDef("pc", "x86_64")
	scsi := testutil.AddController(def, addr.ControllerSCSI, 0, "")

	require.NoError(t, AssignSpaprVIOAddresses(def, types.Caps{VirtioSCSI: true}))
	require.Equal(t, "virtio-scsi", scsi.Controller.Model)
	// Not a VIO device off pseries.
	require.Equal(t, addr.AddrNone, scsi.Info.Type)

	bare := testutil.NewDef("pc", "x86_64")
	testutil.AddController(bare, addr.ControllerSCSI, 0, "")
	err := AssignSpaprVIOAddresses(bare, types.Caps{})
	require.ErrorIs(t, err, types.ErrInternal)
}

func Test_S390_CCWAssignment(t *testing.T) {
	def := testutil.NewDef("s390-ccw-virtio", "s390x")
	fixed := testutil.AddVirtioDisk(def)
	testutil.WithCCWAddr(fixed, 0xfe, 0, 1)
	auto := testutil.AddVirtioDisk(def)
	net := testutil.AddVirtioNet(def)

	sets, err := AssignAddresses(def, types.Caps{VirtioCCW: true})
	require.NoError(t, err)
	require.NotNil(t, sets.CCW)
	require.Nil(t, sets.PCI)

	require.Equal(t, "fe.0.0001", fixed.Info.CCW.String())
	require.Equal(t, "fe.0.0000", auto.Info.CCW.String())
	require.Equal(t, "fe.0.0002", net.Info.CCW.String())
}

func Test_S390_LegacyTransportPrimesOnly(t *testing.T) {
	def := testutil.NewDef("s390-virtio", "s390")
	disk := testutil.AddVirtioDisk(def)

	sets, err := AssignAddresses(def, types.Caps{VirtioS390: true})
	require.NoError(t, err)
	require.Nil(t, sets.CCW)
	require.Equal(t, addr.AddrVirtioS390, disk.Info.Type)
}

func Test_VirtioMMIO_PrimedOnARMVirt(t *testing.T) {
	def := testutil.NewDef("virt", "aarch64")
	disk := testutil.AddVirtioDisk(def)

	AssignVirtioMMIOAddresses(def, types.Caps{VirtioMMIO: true})
	require.Equal(t, addr.AddrVirtioMMIO, disk.Info.Type)

	// Without the capability the device stays unaddressed.
	other := testutil.NewDef("virt", "aarch64")
	disk2 := testutil.AddVirtioDisk(other)
	AssignVirtioMMIOAddresses(other, types.Caps{})
	require.Equal(t, addr.AddrNone, disk2.Info.Type)
}

func Test_Release_AndHotplugReuse(t *testing.T) {
	def := testutil.I440FXDef()
	disk := testutil.AddVirtioDisk(def)

	sets, err := AssignAddresses(def, types.Caps{PCIBridge: true})
	require.NoError(t, err)
	freed := disk.Info.PCI

	require.NoError(t, sets.Release(&disk.Info))

	// A hotplugged device naming the freed address gets it back.
	replacement := &addr.Device{Class: addr.ClassDisk, Model: "virtio"}
	replacement.Info.Type = addr.AddrPCI
	replacement.Info.PCI = freed
	require.NoError(t, sets.EnsurePCIAddress(replacement))

	// And a second claim of the same slot fails again.
	dup := &addr.Device{Class: addr.ClassDisk, Model: "virtio"}
	dup.Info.Type = addr.AddrPCI
	dup.Info.PCI = freed
	require.ErrorIs(t, sets.EnsurePCIAddress(dup), types.ErrAddressInUse)
}

func Test_ValidateAddresses_ReportsConflicts(t *testing.T) {
	def := testutil.I440FXDef()
	d1 := testutil.AddVirtioDisk(def)
	testutil.WithPCIAddr(d1, 0, 4, 0)
	d2 := testutil.AddVirtioDisk(def)
	testutil.WithPCIAddr(d2, 0, 4, 0)

	err := ValidateAddresses(def, types.Caps{PCIBridge: true})
	require.ErrorIs(t, err, types.ErrAddressInUse)

	ok := testutil.I440FXDef()
	d3 := testutil.AddVirtioDisk(ok)
	testutil.WithPCIAddr(d3, 0, 4, 0)
	require.NoError(t, ValidateAddresses(ok, types.Caps{PCIBridge: true}))
}
