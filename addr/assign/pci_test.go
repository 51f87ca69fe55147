package assign

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joshuapare/buskit/addr"
	"github.com/joshuapare/buskit/internal/testutil"
	"github.com/joshuapare/buskit/pkg/types"
)

func Test_PCI_I440FXLayout(t *testing.T) {
	def := testutil.I440FXDef()
	ide := testutil.AddController(def, addr.ControllerIDE, 0, "")
	usb := testutil.AddController(def, addr.ControllerUSB, 0, "piix3-uhci")
	video := testutil.AddDevice(def, addr.ClassVideo, "cirrus")
	net := testutil.AddVirtioNet(def)
	disk1 := testutil.AddVirtioDisk(def)
	disk2 := testutil.AddVirtioDisk(def)

	_, err := AssignAddresses(def, types.Caps{PCIBridge: true})
	require.NoError(t, err)

	require.Equal(t, addr.PCIAddr{Slot: 1, Function: 1}, ide.Info.PCI)
	require.Equal(t, addr.PCIAddr{Slot: 1, Function: 2}, usb.Info.PCI)
	require.Equal(t, addr.PCIAddr{Slot: 2}, video.Info.PCI)
	require.Equal(t, addr.PCIAddr{Slot: 3}, net.Info.PCI)
	require.Equal(t, addr.PCIAddr{Slot: 4}, disk1.Info.PCI)
	require.Equal(t, addr.PCIAddr{Slot: 5}, disk2.Info.PCI)
}

func Test_PCI_I440FXRejectsMisplacedIDE(t *testing.T) {
	def := testutil.I440FXDef()
	ide := testutil.AddController(def, addr.ControllerIDE, 0, "")
	testutil.WithPCIAddr(ide, 0, 3, 0)

	_, err := AssignAddresses(def, types.Caps{PCIBridge: true})
	require.ErrorIs(t, err, types.ErrInvalidAddress)
}

func Test_PCI_Q35Layout(t *testing.T) {
	def := testutil.Q35Def()
	dmi := testutil.AddPCIController(def, 1, addr.PCIModelDMIToPCIBridge)
	bridge := testutil.AddPCIController(def, 2, addr.PCIModelPCIBridge)
	sata := testutil.AddController(def, addr.ControllerSATA, 0, "")
	ehci := testutil.AddController(def, addr.ControllerUSB, 0, "ich9-ehci1")
	uhci1 := testutil.AddController(def, addr.ControllerUSB, 0, "ich9-uhci1")
	uhci2 := testutil.AddController(def, addr.ControllerUSB, 0, "ich9-uhci2")
	uhci3 := testutil.AddController(def, addr.ControllerUSB, 0, "ich9-uhci3")
	video := testutil.AddDevice(def, addr.ClassVideo, "qxl")

	_, err := AssignAddresses(def, types.Caps{PCIBridge: true, PrimaryVideoDevice: true})
	require.NoError(t, err)

	require.Equal(t, addr.PCIAddr{Slot: 0x1F, Function: 2}, sata.Info.PCI)
	require.Equal(t, addr.PCIAddr{Slot: 0x1E}, dmi.Info.PCI)
	require.Equal(t, addr.PCIAddr{Slot: 1}, video.Info.PCI)

	// The USB2 group shares slot 1d as companion functions.
	require.Equal(t, addr.PCIAddr{Slot: 0x1D, MultiFunction: true}, uhci1.Info.PCI)
	require.Equal(t, addr.PCIAddr{Slot: 0x1D, Function: 7}, ehci.Info.PCI)
	require.Equal(t, addr.PCIAddr{Slot: 0x1D, Function: 1}, uhci2.Info.PCI)
	require.Equal(t, addr.PCIAddr{Slot: 0x1D, Function: 2}, uhci3.Info.PCI)

	// The plain bridge can't sit on the pcie-root; it lands behind the
	// dmi-to-pci bridge.
	require.Equal(t, addr.PCIAddr{Bus: 1, Slot: 0}, bridge.Info.PCI)

	// Generated controller options.
	require.Equal(t, 2, bridge.Controller.ChassisNr)
	require.Equal(t, "pci-bridge", bridge.Controller.ModelName)
	require.Equal(t, "i82801b11-bridge", dmi.Controller.ModelName)
}

func Test_PCI_Q35SecondUSB2GroupFallsBack(t *testing.T) {
	def := testutil.Q35Def()
	first := testutil.AddController(def, addr.ControllerUSB, 0, "ich9-uhci1")
	second := testutil.AddController(def, addr.ControllerUSB, 1, "ich9-uhci1")

	_, err := AssignAddresses(def, types.Caps{})
	require.NoError(t, err)

	require.Equal(t, uint(0x1D), first.Info.PCI.Slot)
	require.Equal(t, uint(0x1A), second.Info.PCI.Slot)
}

func Test_PCI_BridgeSizing(t *testing.T) {
	def := testutil.I440FXDef()
	var disks []*addr.Device
	for i := 0; i < 32; i++ {
		disks = append(disks, testutil.AddVirtioDisk(def))
	}

	_, err := AssignAddresses(def, types.Caps{PCIBridge: true})
	require.NoError(t, err)

	// The sizing pass added a bridge for the overflow.
	bridge := def.FindController(addr.ControllerPCI, 1)
	require.NotNil(t, bridge)
	require.Equal(t, addr.PCIModelPCIBridge, bridge.Controller.PCIModel)
	require.Equal(t, addr.PCIAddr{Slot: 2}, bridge.Info.PCI)
	require.Equal(t, 1, bridge.Controller.ChassisNr)

	// Bus 0 offers slots 3..31 after the southbridge and the bridge
	// itself; the rest spill onto bus 1.
	for i, disk := range disks {
		if i < 29 {
			require.Equal(t, addr.PCIAddr{Slot: uint(3 + i)}, disk.Info.PCI, fmt.Sprintf("disk %d", i))
		} else {
			require.Equal(t, addr.PCIAddr{Bus: 1, Slot: uint(i - 28)}, disk.Info.PCI, fmt.Sprintf("disk %d", i))
		}
	}
}

func Test_PCI_BridgesNeedCapability(t *testing.T) {
	def := testutil.I440FXDef()
	testutil.AddPCIController(def, 1, addr.PCIModelPCIBridge)

	_, err := AssignAddresses(def, types.Caps{})
	require.ErrorIs(t, err, types.ErrUnsupportedTopology)
}

func Test_PCI_ImplicitRootAdded(t *testing.T) {
	def := testutil.NewDef("pc", "x86_64")
	disk := testutil.AddVirtioDisk(def)

	_, err := AssignAddresses(def, types.Caps{PCIBridge: true})
	require.NoError(t, err)

	root := def.FindController(addr.ControllerPCI, 0)
	require.NotNil(t, root)
	require.Equal(t, addr.PCIModelPCIRoot, root.Controller.PCIModel)
	require.Equal(t, addr.AddrPCI, disk.Info.Type)
}

func Test_PCI_SecondaryVideoMustBeQXL(t *testing.T) {
	def := testutil.I440FXDef()
	testutil.AddDevice(def, addr.ClassVideo, "cirrus")
	testutil.AddDevice(def, addr.ClassVideo, "cirrus")

	_, err := AssignAddresses(def, types.Caps{PCIBridge: true})
	require.ErrorIs(t, err, types.ErrUnsupportedTopology)
}

func Test_PCI_ExpanderBusNumbers(t *testing.T) {
	def := testutil.I440FXDef()
	pxb := testutil.AddPCIController(def, 1, addr.PCIModelPCIExpanderBus)

	_, err := AssignAddresses(def, types.Caps{PCIBridge: true})
	require.NoError(t, err)

	require.Equal(t, 254, pxb.Controller.BusNr)
	require.Equal(t, "pxb", pxb.Controller.ModelName)
}
