package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// EventKind is the canonical alert variant. Unknown webhook alert types are
// rejected at the boundary instead of falling through.
type EventKind string

const (
	EventCameraDown             EventKind = "camera_down"
	EventCameraCriticalHardware EventKind = "camera_critical_hardware"
	EventSwitchDown             EventKind = "switch_down"
	EventRouterDown             EventKind = "router_down"
	EventCameraUp               EventKind = "camera_up"
	EventSwitchUp               EventKind = "switch_up"
	EventRouterUp               EventKind = "router_up"
)

// Meraki webhook alertType strings.
const (
	alertCamerasDown    = "cameras went down"
	alertCameraHardware = "Camera may have critical hardware failure"
	alertSwitchesDown   = "switches went down"
	alertRoutersDown    = "appliances went down"
	alertCamerasUp      = "cameras came up"
	alertSwitchesUp     = "switches came up"
	alertRoutersUp      = "appliances came up"
)

// WebhookPayload is the raw alert body delivered by the dashboard.
type WebhookPayload struct {
	SharedSecret   string    `json:"sharedSecret"`
	AlertID        string    `json:"alertId"`
	AlertType      string    `json:"alertType"`
	OrganizationID string    `json:"organizationId"`
	NetworkID      string    `json:"networkId"`
	NetworkName    string    `json:"networkName"`
	DeviceSerial   string    `json:"deviceSerial"`
	DeviceName     string    `json:"deviceName"`
	OccurredAt     time.Time `json:"occurredAt"`
}

// AlertEvent is the normalized alert consumed by the dispatcher.
type AlertEvent struct {
	Kind         EventKind `json:"kind"`
	DeviceSerial string    `json:"device_serial"`
	DeviceName   string    `json:"device_name"`
	NetworkID    string    `json:"network_id"`
	NetworkName  string    `json:"network_name"`
	AlertID      string    `json:"alert_id"`
	AlertType    string    `json:"alert_type"`
	ReceivedAt   time.Time `json:"received_at"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// ParseWebhook decodes a webhook body.
func ParseWebhook(body []byte) (*WebhookPayload, error) {
	var payload WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode webhook payload: %w", err)
	}
	if strings.TrimSpace(payload.DeviceSerial) == "" {
		return nil, fmt.Errorf("webhook payload missing deviceSerial")
	}
	return &payload, nil
}

// Normalize maps the webhook alertType to a canonical event.
func (p *WebhookPayload) Normalize(receivedAt time.Time) (*AlertEvent, error) {
	var kind EventKind
	switch p.AlertType {
	case alertCamerasDown:
		kind = EventCameraDown
	case alertCameraHardware:
		kind = EventCameraCriticalHardware
	case alertSwitchesDown:
		kind = EventSwitchDown
	case alertRoutersDown:
		kind = EventRouterDown
	case alertCamerasUp:
		kind = EventCameraUp
	case alertSwitchesUp:
		kind = EventSwitchUp
	case alertRoutersUp:
		kind = EventRouterUp
	default:
		return nil, fmt.Errorf("unknown alertType: %q", p.AlertType)
	}

	return &AlertEvent{
		Kind:         kind,
		DeviceSerial: p.DeviceSerial,
		DeviceName:   p.DeviceName,
		NetworkID:    p.NetworkID,
		NetworkName:  p.NetworkName,
		AlertID:      p.AlertID,
		AlertType:    p.AlertType,
		ReceivedAt:   receivedAt,
		OccurredAt:   p.OccurredAt,
	}, nil
}

// IsRecovery reports whether the event is a came-up notification.
func (e *AlertEvent) IsRecovery() bool {
	switch e.Kind {
	case EventCameraUp, EventSwitchUp, EventRouterUp:
		return true
	}
	return false
}
