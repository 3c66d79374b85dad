package topology

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/gve-sw/gve-devnet-meraki-mv-offline-debugger/internal/meraki"
	"github.com/gve-sw/gve-devnet-meraki-mv-offline-debugger/internal/models"
)

// Dashboard is the slice of the dashboard API the bootstrap needs.
type Dashboard interface {
	ListNetworks(ctx context.Context) ([]meraki.Network, error)
	GetLinkLayerTopology(ctx context.Context, networkID string) (*meraki.LinkLayerTopology, error)
	GetDevice(ctx context.Context, serial string) (*meraki.DeviceInfo, error)
	FindDeviceByMAC(ctx context.Context, mac string) (*meraki.DeviceInfo, error)
	DeviceStatus(ctx context.Context, serial string) (models.DeviceStatus, string, error)
}

// BuildFromDashboard walks every network's link-layer topology and derives
// the router -> switch -> camera forest. A dashboard that cannot be reached
// is fatal: running against an empty or partial topology silently is worse
// than not starting.
func BuildFromDashboard(ctx context.Context, dash Dashboard, logger *zap.Logger) (*Store, error) {
	networks, err := dash.ListNetworks(ctx)
	if err != nil {
		return nil, fmt.Errorf("topology bootstrap failed: %w", err)
	}

	devices := make(map[string]*models.Device)
	for _, net := range networks {
		topo, err := dash.GetLinkLayerTopology(ctx, net.ID)
		if err != nil {
			// Some network types have no link-layer topology; skip them.
			logger.Debug("Skipping network without link layer topology",
				zap.String("network_id", net.ID),
				zap.Error(err),
			)
			continue
		}

		for _, link := range topo.Links {
			serials := resolveLinkSerials(ctx, dash, topo, link, logger)
			if len(serials) < 2 {
				continue
			}
			a, err := describeDevice(ctx, dash, devices, serials[0], net.ID)
			if err != nil {
				logger.Warn("Failed to describe device", zap.String("serial", serials[0]), zap.Error(err))
				continue
			}
			b, err := describeDevice(ctx, dash, devices, serials[1], net.ID)
			if err != nil {
				logger.Warn("Failed to describe device", zap.String("serial", serials[1]), zap.Error(err))
				continue
			}
			linkParent(a, b)
		}
	}

	records := make([]models.Device, 0, len(devices))
	for _, d := range devices {
		if d.Kind == "" {
			// Devices outside the camera/switch/router tiers are not part
			// of the remediation tree.
			continue
		}
		records = append(records, *d)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("topology bootstrap produced no devices")
	}

	store, integrity := Build(records, logger)
	for _, err := range integrity {
		logger.Warn("Topology integrity violation", zap.Error(err))
	}
	if store.Size() == 0 {
		return nil, fmt.Errorf("topology bootstrap produced no valid devices")
	}

	logger.Info("Topology bootstrap complete",
		zap.Int("devices", store.Size()),
		zap.Int("integrity_errors", len(integrity)),
	)
	return store, nil
}

// resolveLinkSerials extracts the device serials on both ends of a link.
// Discovered (cross-network) nodes are resolved through their MAC.
func resolveLinkSerials(ctx context.Context, dash Dashboard, topo *meraki.LinkLayerTopology, link meraki.TopologyLink, logger *zap.Logger) []string {
	var serials []string
	for _, end := range link.Ends {
		switch end.Node.Type {
		case "device":
			if end.Device.Serial != "" {
				serials = append(serials, end.Device.Serial)
			}
		case "discovered":
			for _, node := range topo.Nodes {
				if node.DerivedID != end.Node.DerivedID || node.MAC == "" {
					continue
				}
				device, err := dash.FindDeviceByMAC(ctx, node.MAC)
				if err != nil {
					logger.Warn("Failed to resolve discovered node", zap.String("mac", node.MAC), zap.Error(err))
					break
				}
				if device != nil {
					serials = append(serials, device.Serial)
				}
				break
			}
		}
	}
	return serials
}

func describeDevice(ctx context.Context, dash Dashboard, devices map[string]*models.Device, serial, networkID string) (*models.Device, error) {
	if d, ok := devices[serial]; ok {
		return d, nil
	}

	info, err := dash.GetDevice(ctx, serial)
	if err != nil {
		return nil, err
	}
	status, mac, err := dash.DeviceStatus(ctx, serial)
	if err != nil {
		return nil, err
	}
	if mac == "" {
		mac = info.MAC
	}

	d := &models.Device{
		Serial:    serial,
		Name:      info.Name,
		MAC:       mac,
		Kind:      kindForModel(info.Model),
		NetworkID: networkID,
		Status:    status,
	}
	devices[serial] = d
	return d, nil
}

// kindForModel maps a dashboard model string to a tier. MV are cameras, MS
// switches and MX security appliances acting as the tree roots.
func kindForModel(model string) models.DeviceKind {
	switch {
	case strings.Contains(model, "MV"):
		return models.KindCamera
	case strings.Contains(model, "MS"):
		return models.KindSwitch
	case strings.Contains(model, "MX"):
		return models.KindRouter
	}
	return ""
}

// linkParent records the parent relation implied by one topology link.
func linkParent(a, b *models.Device) {
	switch {
	case a.Kind == models.KindCamera && b.Kind == models.KindSwitch:
		a.ParentSerial = b.Serial
	case b.Kind == models.KindCamera && a.Kind == models.KindSwitch:
		b.ParentSerial = a.Serial
	case a.Kind == models.KindSwitch && b.Kind == models.KindRouter:
		a.ParentSerial = b.Serial
	case b.Kind == models.KindSwitch && a.Kind == models.KindRouter:
		b.ParentSerial = a.Serial
	}
}
