package models

import "time"

// SessionState is the remediation state machine position for one camera.
type SessionState string

const (
	SessionPendingFirstCheck  SessionState = "pending_first_check"
	SessionRemediating        SessionState = "remediating"
	SessionPendingSecondCheck SessionState = "pending_second_check"
	SessionEscalated          SessionState = "escalated"
)

// Session tracks one camera's remediation attempt. At most one session is
// active per camera serial; a second down alert coalesces into it.
type Session struct {
	CameraSerial string       `json:"camera_serial"`
	CameraName   string       `json:"camera_name,omitempty"`
	NetworkName  string       `json:"network_name,omitempty"`
	AlertID      string       `json:"alert_id,omitempty"`
	State        SessionState `json:"state"`
	AttemptCount int          `json:"attempt_count"`
	SwitchSerial string       `json:"switch_serial,omitempty"`
	SwitchPort   string       `json:"switch_port,omitempty"`
	LastError    string       `json:"last_error,omitempty"`
	StartedAt    time.Time    `json:"started_at"`
}
