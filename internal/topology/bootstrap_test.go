package topology_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gve-sw/gve-devnet-meraki-mv-offline-debugger/internal/meraki"
	"github.com/gve-sw/gve-devnet-meraki-mv-offline-debugger/internal/models"
	"github.com/gve-sw/gve-devnet-meraki-mv-offline-debugger/internal/topology"
)

type fakeDashboard struct {
	networks []meraki.Network
	topos    map[string]*meraki.LinkLayerTopology
	devices  map[string]*meraki.DeviceInfo
	byMAC    map[string]*meraki.DeviceInfo
}

func (f *fakeDashboard) ListNetworks(ctx context.Context) ([]meraki.Network, error) {
	if f.networks == nil {
		return nil, fmt.Errorf("dashboard unreachable")
	}
	return f.networks, nil
}

func (f *fakeDashboard) GetLinkLayerTopology(ctx context.Context, networkID string) (*meraki.LinkLayerTopology, error) {
	topo, ok := f.topos[networkID]
	if !ok {
		return nil, fmt.Errorf("no link layer topology for %s", networkID)
	}
	return topo, nil
}

func (f *fakeDashboard) GetDevice(ctx context.Context, serial string) (*meraki.DeviceInfo, error) {
	d, ok := f.devices[serial]
	if !ok {
		return nil, fmt.Errorf("unknown device %s", serial)
	}
	return d, nil
}

func (f *fakeDashboard) FindDeviceByMAC(ctx context.Context, mac string) (*meraki.DeviceInfo, error) {
	return f.byMAC[mac], nil
}

func (f *fakeDashboard) DeviceStatus(ctx context.Context, serial string) (models.DeviceStatus, string, error) {
	return models.StatusUp, "", nil
}

func deviceLink(serialA, serialB string) meraki.TopologyLink {
	var link meraki.TopologyLink
	link.Ends = make([]struct {
		Node struct {
			Type      string `json:"type"`
			DerivedID string `json:"derivedId"`
		} `json:"node"`
		Device struct {
			Serial string `json:"serial"`
		} `json:"device"`
	}, 2)
	link.Ends[0].Node.Type = "device"
	link.Ends[0].Device.Serial = serialA
	link.Ends[1].Node.Type = "device"
	link.Ends[1].Device.Serial = serialB
	return link
}

func TestBuildFromDashboard_DerivesTree(t *testing.T) {
	dash := &fakeDashboard{
		networks: []meraki.Network{{ID: "N_1", Name: "HQ"}},
		topos: map[string]*meraki.LinkLayerTopology{
			"N_1": {Links: []meraki.TopologyLink{
				deviceLink("C1", "S1"),
				deviceLink("S1", "R1"),
			}},
		},
		devices: map[string]*meraki.DeviceInfo{
			"C1": {Serial: "C1", Name: "Lobby Cam", Model: "MV12", MAC: "aa:bb:cc:00:11:22"},
			"S1": {Serial: "S1", Name: "Core Switch", Model: "MS250"},
			"R1": {Serial: "R1", Name: "Edge", Model: "MX84"},
		},
	}

	store, err := topology.BuildFromDashboard(context.Background(), dash, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 3, store.Size())

	chain, err := store.ResolveParentChain("C1")
	require.NoError(t, err)
	require.Len(t, chain, 2)
	assert.Equal(t, "S1", chain[0].Serial)
	assert.Equal(t, "R1", chain[1].Serial)

	camera, err := store.Get("C1")
	require.NoError(t, err)
	assert.Equal(t, models.KindCamera, camera.Kind)
	assert.Equal(t, "aa:bb:cc:00:11:22", camera.MAC)
}

func TestBuildFromDashboard_DashboardUnreachableIsFatal(t *testing.T) {
	_, err := topology.BuildFromDashboard(context.Background(), &fakeDashboard{}, zap.NewNop())
	assert.Error(t, err)
}

func TestBuildFromDashboard_EmptyTopologyIsFatal(t *testing.T) {
	dash := &fakeDashboard{
		networks: []meraki.Network{{ID: "N_1", Name: "HQ"}},
		topos:    map[string]*meraki.LinkLayerTopology{},
	}
	_, err := topology.BuildFromDashboard(context.Background(), dash, zap.NewNop())
	assert.Error(t, err)
}

func TestBuildFromDashboard_SkipsNonTreeDevices(t *testing.T) {
	dash := &fakeDashboard{
		networks: []meraki.Network{{ID: "N_1", Name: "HQ"}},
		topos: map[string]*meraki.LinkLayerTopology{
			"N_1": {Links: []meraki.TopologyLink{
				deviceLink("C1", "S1"),
				deviceLink("S1", "R1"),
				deviceLink("AP1", "S1"),
			}},
		},
		devices: map[string]*meraki.DeviceInfo{
			"C1":  {Serial: "C1", Model: "MV12"},
			"S1":  {Serial: "S1", Model: "MS250"},
			"R1":  {Serial: "R1", Model: "MX84"},
			"AP1": {Serial: "AP1", Model: "MR46"},
		},
	}

	store, err := topology.BuildFromDashboard(context.Background(), dash, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 3, store.Size())
	_, err = store.Get("AP1")
	assert.ErrorIs(t, err, topology.ErrNotFound)
}
