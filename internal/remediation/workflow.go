package remediation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/gve-sw/gve-devnet-meraki-mv-offline-debugger/internal/auditlog"
	"github.com/gve-sw/gve-devnet-meraki-mv-offline-debugger/internal/models"
	"github.com/gve-sw/gve-devnet-meraki-mv-offline-debugger/internal/scheduler"
	"github.com/gve-sw/gve-devnet-meraki-mv-offline-debugger/internal/topology"
)

// TaskCheck is the scheduler task type for deferred status checks.
const TaskCheck = "remediation_check"

// Stages of the check-then-remediate cycle.
const (
	stageFirstCheck  = 1
	stageSecondCheck = 2
)

// CheckPayload re-enters the state machine by camera serial when a deferred
// check fires.
type CheckPayload struct {
	Serial string `json:"serial"`
	Stage  int    `json:"stage"`
}

// Dashboard is the slice of the vendor API the workflow needs.
type Dashboard interface {
	DeviceStatus(ctx context.Context, serial string) (models.DeviceStatus, string, error)
	FindCameraPort(ctx context.Context, switchSerial, cameraMAC string) (string, error)
	CyclePort(ctx context.Context, switchSerial, portID string) error
	PortDiagnostics(ctx context.Context, switchSerial, portID string) ([]string, []string, error)
}

// Escalation is the terminal failure outcome of a session, handed to the
// ticket aggregator.
type Escalation struct {
	CameraSerial string
	CameraName   string
	NetworkName  string
	AlertID      string
	AlertType    string
	SwitchSerial string
	SwitchPort   string
	PortErrors   []string
	PortWarnings []string
	APIError     string
}

// Escalator receives escalations; implemented by the ticket aggregator.
type Escalator interface {
	OnEscalation(ctx context.Context, esc Escalation) error
}

// TaskQueue is the slice of the scheduler the workflow uses.
type TaskQueue interface {
	Enqueue(ctx context.Context, taskType string, payload any, delay time.Duration) error
}

// Workflow runs the per-camera remediation state machine:
// Idle -> PendingFirstCheck -> (Up: Idle) | (Down: Remediating)
// -> PendingSecondCheck -> (Up: Idle) | (Down: Escalated).
type Workflow struct {
	sessions  *SessionStore
	topo      *topology.Store
	dash      Dashboard
	queue     TaskQueue
	escalator Escalator
	audit     *auditlog.Manager
	delay     time.Duration
	logger    *zap.Logger
}

// NewWorkflow creates the remediation workflow.
func NewWorkflow(
	sessions *SessionStore,
	topo *topology.Store,
	dash Dashboard,
	queue TaskQueue,
	escalator Escalator,
	audit *auditlog.Manager,
	delay time.Duration,
	logger *zap.Logger,
) *Workflow {
	return &Workflow{
		sessions:  sessions,
		topo:      topo,
		dash:      dash,
		queue:     queue,
		escalator: escalator,
		audit:     audit,
		delay:     delay,
		logger:    logger,
	}
}

// OnCameraDown starts a session for the camera, or coalesces into the one
// already running. The timer of an existing session is not restarted.
func (w *Workflow) OnCameraDown(ctx context.Context, event *models.AlertEvent) error {
	if err := w.topo.SetStatus(event.DeviceSerial, models.StatusDown); err != nil {
		if !errors.Is(err, topology.ErrNotFound) {
			return err
		}
		w.logger.Warn("Down alert for camera outside the topology",
			zap.String("serial", event.DeviceSerial),
		)
		return nil
	}

	session := &models.Session{
		CameraSerial: event.DeviceSerial,
		CameraName:   event.DeviceName,
		NetworkName:  event.NetworkName,
		AlertID:      event.AlertID,
		State:        models.SessionPendingFirstCheck,
		StartedAt:    time.Now(),
	}
	created, err := w.sessions.Create(ctx, session)
	if err != nil {
		return err
	}
	if !created {
		w.logger.Info("Coalescing down alert into active session",
			zap.String("serial", event.DeviceSerial),
		)
		w.audit.For(event.DeviceSerial).Info("down alert coalesced into active session")
		return nil
	}

	w.audit.RunStamp(event.DeviceSerial)
	w.audit.For(event.DeviceSerial).Info("remediation session started",
		zap.Duration("first_check_in", w.delay),
	)

	return w.queue.Enqueue(ctx, TaskCheck, CheckPayload{
		Serial: event.DeviceSerial,
		Stage:  stageFirstCheck,
	}, w.delay)
}

// OnCriticalHardware bypasses the check-and-remediate loop: a camera
// reporting a hardware fault goes straight to ticketing.
func (w *Workflow) OnCriticalHardware(ctx context.Context, event *models.AlertEvent) error {
	w.audit.RunStamp(event.DeviceSerial)
	w.audit.For(event.DeviceSerial).Info("critical hardware failure, escalating immediately")

	esc := Escalation{
		CameraSerial: event.DeviceSerial,
		CameraName:   event.DeviceName,
		NetworkName:  event.NetworkName,
		AlertID:      event.AlertID,
		AlertType:    event.AlertType,
	}
	if chain, err := w.topo.ResolveParentChain(event.DeviceSerial); err == nil && len(chain) > 0 {
		esc.SwitchSerial = chain[0].Serial
	}
	return w.escalator.OnEscalation(ctx, esc)
}

// HandleCheck re-enters the state machine when a deferred check fires. A
// check whose session has gone is stale and self-nullifies.
func (w *Workflow) HandleCheck(ctx context.Context, task scheduler.Task) error {
	var payload CheckPayload
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		return fmt.Errorf("failed to unmarshal check payload: %w", err)
	}

	session, err := w.sessions.Get(ctx, payload.Serial)
	if err != nil {
		if errors.Is(err, ErrNoSession) {
			w.logger.Debug("Stale check, no active session",
				zap.String("serial", payload.Serial),
			)
			return nil
		}
		return err
	}

	audit := w.audit.For(payload.Serial)

	// A prior escalation attempt that failed mid-flight left the session in
	// the terminal state; finish the hand-off instead of re-checking.
	if session.State == models.SessionEscalated {
		return w.escalate(ctx, session)
	}

	audit.Info("checking camera status", zap.Int("stage", payload.Stage))
	status, mac, err := w.dash.DeviceStatus(ctx, payload.Serial)
	if err != nil {
		audit.Error("status check failed", zap.Error(err))
		return err
	}

	if status == models.StatusUp {
		audit.Info("camera is back online, closing session")
		if err := w.topo.SetStatus(payload.Serial, models.StatusUp); err != nil {
			w.logger.Warn("Failed to record recovery", zap.String("serial", payload.Serial), zap.Error(err))
		}
		return w.sessions.Delete(ctx, payload.Serial)
	}

	if payload.Stage == stageFirstCheck {
		return w.remediate(ctx, session, mac, audit)
	}
	return w.escalateStillDown(ctx, session, audit)
}

// remediate cycles the camera's serving switch port and schedules the second
// check. Any failure along the way is treated identically to "still down":
// logged, folded into the session and left for the second check to observe.
// The action itself is never retried.
func (w *Workflow) remediate(ctx context.Context, session *models.Session, cameraMAC string, audit *zap.Logger) error {
	audit.Info("camera still offline, attempting port cycle")
	session.State = models.SessionRemediating
	session.AttemptCount++

	chain, err := w.topo.ResolveParentChain(session.CameraSerial)
	if err != nil || len(chain) == 0 {
		audit.Error("unable to resolve serving switch", zap.Error(err))
		if err != nil {
			session.LastError = err.Error()
		}
	} else {
		session.SwitchSerial = chain[0].Serial
		port, err := w.dash.FindCameraPort(ctx, session.SwitchSerial, cameraMAC)
		switch {
		case err != nil:
			audit.Error("unable to find switch port", zap.Error(err))
			session.LastError = err.Error()
		case port == "":
			audit.Error("no switch port advertises the camera",
				zap.String("switch_serial", session.SwitchSerial),
			)
		default:
			session.SwitchPort = port
			audit.Info("cycling switch port",
				zap.String("switch_serial", session.SwitchSerial),
				zap.String("switch_port", port),
			)
			if err := w.dash.CyclePort(ctx, session.SwitchSerial, port); err != nil {
				audit.Error("port cycle failed", zap.Error(err))
				session.LastError = err.Error()
			} else {
				audit.Info("port cycled successfully")
			}
		}
	}

	session.State = models.SessionPendingSecondCheck
	if err := w.sessions.Update(ctx, session); err != nil {
		return err
	}

	audit.Info("second check scheduled", zap.Duration("in", w.delay))
	return w.queue.Enqueue(ctx, TaskCheck, CheckPayload{
		Serial: session.CameraSerial,
		Stage:  stageSecondCheck,
	}, w.delay)
}

// escalateStillDown marks the session terminal and hands it to ticketing.
func (w *Workflow) escalateStillDown(ctx context.Context, session *models.Session, audit *zap.Logger) error {
	audit.Error("camera still offline after remediation, escalating")
	session.State = models.SessionEscalated
	if err := w.sessions.Update(ctx, session); err != nil {
		return err
	}
	return w.escalate(ctx, session)
}

func (w *Workflow) escalate(ctx context.Context, session *models.Session) error {
	esc := Escalation{
		CameraSerial: session.CameraSerial,
		CameraName:   session.CameraName,
		NetworkName:  session.NetworkName,
		AlertID:      session.AlertID,
		AlertType:    "cameras went down",
		SwitchSerial: session.SwitchSerial,
		SwitchPort:   session.SwitchPort,
		APIError:     session.LastError,
	}
	if session.SwitchSerial != "" && session.SwitchPort != "" {
		portErrors, portWarnings, err := w.dash.PortDiagnostics(ctx, session.SwitchSerial, session.SwitchPort)
		if err != nil {
			w.audit.For(session.CameraSerial).Warn("failed to collect port diagnostics", zap.Error(err))
		} else {
			esc.PortErrors = portErrors
			esc.PortWarnings = portWarnings
		}
	}

	if err := w.escalator.OnEscalation(ctx, esc); err != nil {
		return err
	}
	return w.sessions.Delete(ctx, session.CameraSerial)
}
