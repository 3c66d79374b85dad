package models

import "time"

// TicketStatus is the lifecycle state of an incident ticket.
type TicketStatus string

const (
	TicketOpen     TicketStatus = "open"
	TicketResolved TicketStatus = "resolved"
)

// Ticket is one incident record. At most one open ticket exists per root
// device unless duplicate tickets are explicitly allowed.
type Ticket struct {
	ID               string       `json:"ticket_id"`
	RootDeviceSerial string       `json:"root_device_serial"`
	RootDeviceKind   DeviceKind   `json:"root_device_kind"`
	AlertType        string       `json:"alert_type"`
	NetworkName      string       `json:"network_name,omitempty"`
	AffectedCameras  []string     `json:"affected_cameras"`
	Description      string       `json:"description,omitempty"`
	Status           TicketStatus `json:"status"`
	SinkRef          string       `json:"sink_ref,omitempty"`
	CreatedAt        time.Time    `json:"created_at"`
	ResolvedAt       *time.Time   `json:"resolved_at,omitempty"`
}

// Covers reports whether the ticket already accounts for the given camera,
// either as root or in its affected set.
func (t *Ticket) Covers(cameraSerial string) bool {
	if t.RootDeviceSerial == cameraSerial {
		return true
	}
	for _, s := range t.AffectedCameras {
		if s == cameraSerial {
			return true
		}
	}
	return false
}
