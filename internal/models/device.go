package models

import "time"

// DeviceKind identifies the tier a device occupies in the topology tree.
type DeviceKind string

const (
	KindRouter DeviceKind = "router"
	KindSwitch DeviceKind = "switch"
	KindCamera DeviceKind = "camera"
)

// DeviceStatus is the last known reachability of a device.
type DeviceStatus string

const (
	StatusUp   DeviceStatus = "up"
	StatusDown DeviceStatus = "down"
)

// Device is one node of the router -> switch -> camera forest.
// ParentSerial is empty for routers.
type Device struct {
	Serial             string       `json:"serial"`
	Name               string       `json:"name,omitempty"`
	MAC                string       `json:"mac,omitempty"`
	Kind               DeviceKind   `json:"kind"`
	ParentSerial       string       `json:"parent_serial,omitempty"`
	NetworkID          string       `json:"network_id,omitempty"`
	Status             DeviceStatus `json:"status"`
	LastStatusChangeAt time.Time    `json:"last_status_change_at"`
}
