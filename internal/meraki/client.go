package meraki

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/gve-sw/gve-devnet-meraki-mv-offline-debugger/internal/models"
)

// Client talks to the Meraki dashboard API.
type Client struct {
	httpClient *resty.Client
	orgID      string
	logger     *zap.Logger
}

// Network is one dashboard network.
type Network struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// DeviceInfo is the dashboard device record.
type DeviceInfo struct {
	Serial    string `json:"serial"`
	Name      string `json:"name"`
	Model     string `json:"model"`
	MAC       string `json:"mac"`
	NetworkID string `json:"networkId"`
}

// DeviceStatusInfo is one entry of the org-wide device statuses listing.
type DeviceStatusInfo struct {
	Serial string `json:"serial"`
	Status string `json:"status"`
	MAC    string `json:"mac"`
}

// SwitchPortStatus is the live status of one switch port, including the
// LLDP/CDP neighbor used to map a camera MAC to its serving port.
type SwitchPortStatus struct {
	PortID   string   `json:"portId"`
	Enabled  bool     `json:"enabled"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
	LLDP     struct {
		ChassisID string `json:"chassisId"`
	} `json:"lldp"`
	CDP struct {
		DeviceID string `json:"deviceId"`
	} `json:"cdp"`
}

// TopologyLink is one link of the network link-layer topology.
type TopologyLink struct {
	Ends []struct {
		Node struct {
			Type      string `json:"type"`
			DerivedID string `json:"derivedId"`
		} `json:"node"`
		Device struct {
			Serial string `json:"serial"`
		} `json:"device"`
	} `json:"ends"`
}

// LinkLayerTopology is the link-layer topology response for one network.
type LinkLayerTopology struct {
	Links []TopologyLink `json:"links"`
	Nodes []struct {
		DerivedID string `json:"derivedId"`
		MAC       string `json:"mac"`
	} `json:"nodes"`
}

// NewClient creates a dashboard API client.
func NewClient(baseURL, apiKey, orgID string, logger *zap.Logger) *Client {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(30 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(1 * time.Second).
		SetRetryMaxWaitTime(5 * time.Second).
		SetHeader("Authorization", "Bearer "+apiKey).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &Client{
		httpClient: client,
		orgID:      orgID,
		logger:     logger,
	}
}

// ListNetworks returns all networks of the configured organization.
func (c *Client) ListNetworks(ctx context.Context) ([]Network, error) {
	var networks []Network
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetResult(&networks).
		Get(fmt.Sprintf("/organizations/%s/networks", c.orgID))
	if err != nil {
		return nil, fmt.Errorf("failed to list networks: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("list networks returned %d: %s", resp.StatusCode(), resp.String())
	}
	return networks, nil
}

// GetLinkLayerTopology returns the link-layer topology of one network.
func (c *Client) GetLinkLayerTopology(ctx context.Context, networkID string) (*LinkLayerTopology, error) {
	var topo LinkLayerTopology
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetResult(&topo).
		Get(fmt.Sprintf("/networks/%s/topology/linkLayer", networkID))
	if err != nil {
		return nil, fmt.Errorf("failed to get link layer topology: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("link layer topology returned %d: %s", resp.StatusCode(), resp.String())
	}
	return &topo, nil
}

// GetDevice returns the dashboard record of one device.
func (c *Client) GetDevice(ctx context.Context, serial string) (*DeviceInfo, error) {
	var device DeviceInfo
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetResult(&device).
		Get(fmt.Sprintf("/devices/%s", serial))
	if err != nil {
		return nil, fmt.Errorf("failed to get device %s: %w", serial, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("get device %s returned %d: %s", serial, resp.StatusCode(), resp.String())
	}
	return &device, nil
}

// FindDeviceByMAC looks a device up by MAC across the organization. Used to
// resolve cross-network topology nodes that only advertise a MAC.
func (c *Client) FindDeviceByMAC(ctx context.Context, mac string) (*DeviceInfo, error) {
	var devices []DeviceInfo
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetQueryParam("mac", mac).
		SetResult(&devices).
		Get(fmt.Sprintf("/organizations/%s/devices", c.orgID))
	if err != nil {
		return nil, fmt.Errorf("failed to find device by mac %s: %w", mac, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("find device by mac returned %d: %s", resp.StatusCode(), resp.String())
	}
	if len(devices) == 0 {
		return nil, nil
	}
	return &devices[0], nil
}

// DeviceStatus returns the live status and MAC of one device. The dashboard
// reports "online", "alerting", "offline" or "dormant"; online and alerting
// both count as up.
func (c *Client) DeviceStatus(ctx context.Context, serial string) (models.DeviceStatus, string, error) {
	var statuses []DeviceStatusInfo
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetQueryParam("serials[]", serial).
		SetResult(&statuses).
		Get(fmt.Sprintf("/organizations/%s/devices/statuses", c.orgID))
	if err != nil {
		return "", "", fmt.Errorf("failed to get device status for %s: %w", serial, err)
	}
	if resp.IsError() {
		return "", "", fmt.Errorf("device statuses returned %d: %s", resp.StatusCode(), resp.String())
	}
	if len(statuses) == 0 {
		return "", "", fmt.Errorf("no status reported for device %s", serial)
	}

	if statuses[0].Status == "online" || statuses[0].Status == "alerting" {
		return models.StatusUp, statuses[0].MAC, nil
	}
	return models.StatusDown, statuses[0].MAC, nil
}

// GetSwitchPortStatuses returns the live port statuses of a switch.
func (c *Client) GetSwitchPortStatuses(ctx context.Context, switchSerial string) ([]SwitchPortStatus, error) {
	var ports []SwitchPortStatus
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetResult(&ports).
		Get(fmt.Sprintf("/devices/%s/switch/ports/statuses", switchSerial))
	if err != nil {
		return nil, fmt.Errorf("failed to get port statuses for %s: %w", switchSerial, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("port statuses for %s returned %d: %s", switchSerial, resp.StatusCode(), resp.String())
	}
	return ports, nil
}

// FindCameraPort locates the switch port the camera hangs off by matching
// the camera MAC against LLDP chassis ids and CDP device ids. An empty port
// id with a nil error means no port advertises the camera.
func (c *Client) FindCameraPort(ctx context.Context, switchSerial, cameraMAC string) (string, error) {
	ports, err := c.GetSwitchPortStatuses(ctx, switchSerial)
	if err != nil {
		return "", err
	}

	// CDP reports the MAC without separators.
	strippedMAC := strings.ReplaceAll(cameraMAC, ":", "")
	for _, port := range ports {
		if port.LLDP.ChassisID != "" && strings.EqualFold(port.LLDP.ChassisID, cameraMAC) {
			return port.PortID, nil
		}
		if port.CDP.DeviceID != "" && strings.EqualFold(port.CDP.DeviceID, strippedMAC) {
			return port.PortID, nil
		}
	}
	return "", nil
}

// CyclePort power-cycles one port of a switch.
func (c *Client) CyclePort(ctx context.Context, switchSerial, portID string) error {
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(map[string]any{"ports": []string{portID}}).
		Post(fmt.Sprintf("/devices/%s/switch/ports/cycle", switchSerial))
	if err != nil {
		return fmt.Errorf("failed to cycle port %s on %s: %w", portID, switchSerial, err)
	}
	if resp.IsError() {
		return fmt.Errorf("cycle port %s on %s returned %d: %s", portID, switchSerial, resp.StatusCode(), resp.String())
	}
	return nil
}

// PortDiagnostics returns the errors and warnings currently reported on a
// switch port, used to enrich escalation tickets.
func (c *Client) PortDiagnostics(ctx context.Context, switchSerial, portID string) ([]string, []string, error) {
	ports, err := c.GetSwitchPortStatuses(ctx, switchSerial)
	if err != nil {
		return nil, nil, err
	}
	for _, port := range ports {
		if port.PortID == portID {
			return port.Errors, port.Warnings, nil
		}
	}
	return nil, nil, nil
}
