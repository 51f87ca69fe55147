package pci

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joshuapare/buskit/addr"
	"github.com/joshuapare/buskit/pkg/types"
)

func Test_ModelConnectType_Table(t *testing.T) {
	cases := []struct {
		model addr.PCIControllerModel
		want  ConnectFlags
	}{
		{addr.PCIModelPCIRoot, 0},
		{addr.PCIModelPCIeRoot, 0},
		{addr.PCIModelPCIBridge, ConnectTypePCIDevice},
		{addr.PCIModelPCIExpanderBus, ConnectTypePCIDevice},
		{addr.PCIModelDMIToPCIBridge, ConnectTypePCIeDevice},
		{addr.PCIModelPCIeExpanderBus, ConnectTypePCIeDevice},
		{addr.PCIModelPCIeRootPort, ConnectTypeRootPort},
		{addr.PCIModelPCIeSwitchUpstreamPort, ConnectTypeSwitchUpstream},
		{addr.PCIModelPCIeSwitchDownstreamPort, ConnectTypeSwitchDownstream},
	}
	for _, c := range cases {
		require.Equal(t, c.want, ModelConnectType(c.model), c.model.String())
	}
}

func Test_BusSetModel_Windows(t *testing.T) {
	cases := []struct {
		model            addr.PCIControllerModel
		minSlot, maxSlot uint
		hotplug          bool
	}{
		{addr.PCIModelPCIRoot, 1, 31, true},
		{addr.PCIModelPCIBridge, 1, 31, true},
		{addr.PCIModelPCIExpanderBus, 0, 31, true},
		{addr.PCIModelPCIeRoot, 1, 31, false},
		{addr.PCIModelDMIToPCIBridge, 0, 31, false},
		{addr.PCIModelPCIeRootPort, 0, 0, true},
		{addr.PCIModelPCIeSwitchDownstreamPort, 0, 0, true},
		{addr.PCIModelPCIeSwitchUpstreamPort, 0, 31, false},
		{addr.PCIModelPCIeExpanderBus, 0, 0, false},
	}
	for _, c := range cases {
		var b Bus
		require.NoError(t, b.SetModel(c.model), c.model.String())
		require.Equal(t, c.minSlot, b.MinSlot(), c.model.String())
		require.Equal(t, c.maxSlot, b.MaxSlot(), c.model.String())
		require.Equal(t, c.hotplug, b.Flags()&ConnectHotpluggable != 0, c.model.String())
	}

	var b Bus
	require.ErrorIs(t, b.SetModel(addr.PCIModelNone), types.ErrInternal)
}

func Test_FlagsCompatible_TypeMismatch(t *testing.T) {
	s := NewSet(1, false)
	require.NoError(t, s.Bus(0).SetModel(addr.PCIModelPCIeRoot))

	// A conventional PCI endpoint computed by the engine cannot land on a
	// pcie-root bus.
	err := s.Validate(addr.PCIAddr{Slot: 1}, ConnectTypePCIDevice, false)
	require.ErrorIs(t, err, types.ErrIncompatibleBus)

	// The same address from user configuration is accepted: endpoint types
	// widen for explicit placement.
	require.NoError(t, s.Validate(addr.PCIAddr{Slot: 1}, ConnectTypePCIDevice, true))
}

func Test_FlagsCompatible_Hotplug(t *testing.T) {
	s := NewSet(1, false)
	require.NoError(t, s.Bus(0).SetModel(addr.PCIModelDMIToPCIBridge))

	// dmi-to-pci-bridge offers no hotplug.
	err := s.Validate(addr.PCIAddr{Slot: 1}, ConnectHotpluggable|ConnectTypePCIDevice, false)
	require.ErrorIs(t, err, types.ErrIncompatibleBus)

	// From config, a hotplug requirement is a preference, not a hard rule.
	require.NoError(t, s.Validate(addr.PCIAddr{Slot: 1}, ConnectHotpluggable|ConnectTypePCIDevice, true))
}
