package tickets

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gve-sw/gve-devnet-meraki-mv-offline-debugger/internal/auditlog"
	"github.com/gve-sw/gve-devnet-meraki-mv-offline-debugger/internal/models"
	"github.com/gve-sw/gve-devnet-meraki-mv-offline-debugger/internal/remediation"
	"github.com/gve-sw/gve-devnet-meraki-mv-offline-debugger/internal/scheduler"
	"github.com/gve-sw/gve-devnet-meraki-mv-offline-debugger/internal/topology"
)

// Scheduler task types for sink pushes. Sink failures are retried by the
// scheduler; for creates the CSV ledger written at creation time is the
// fallback record.
const (
	TaskSinkCreate  = "ticket_sink_create"
	TaskSinkResolve = "ticket_sink_resolve"
)

// SinkCreatePayload carries the full ticket so the push needs no read back.
type SinkCreatePayload struct {
	Ticket models.Ticket `json:"ticket"`
}

// SinkResolvePayload carries only the ticket id: the sink ref is read at run
// time, so a resolve queued while the create push is still pending retries
// until the ref lands.
type SinkResolvePayload struct {
	TicketID string `json:"ticket_id"`
	Comment  string `json:"comment"`
}

// Store is the ticket persistence surface the aggregator and sweeper use.
type Store interface {
	CreateTicket(ctx context.Context, t *models.Ticket) error
	GetTicketByID(ctx context.Context, ticketID string) (*models.Ticket, error)
	GetOpenTicketByRoot(ctx context.Context, rootSerial string) (*models.Ticket, error)
	FindOpenTicketCovering(ctx context.Context, cameraSerial string, ancestorSerials []string) (*models.Ticket, error)
	MergeAffectedCameras(ctx context.Context, ticketID string, serials []string) error
	ListOpenTickets(ctx context.Context) ([]models.Ticket, error)
	ResolveTicket(ctx context.Context, ticketID string, resolvedAt time.Time) (bool, error)
	SetSinkRef(ctx context.Context, ticketID, sinkRef string) error
}

// Sink is the external ticketing system.
type Sink interface {
	CreateIncident(ctx context.Context, t *models.Ticket) (string, error)
	ResolveIncident(ctx context.Context, sinkRef, comment string) error
}

// Ledger is the local durable ticket backup.
type Ledger interface {
	Append(t *models.Ticket) error
}

// TaskQueue is the slice of the scheduler the aggregator uses.
type TaskQueue interface {
	Enqueue(ctx context.Context, taskType string, payload any, delay time.Duration) error
}

// Aggregator turns a burst of down alerts into the minimum set of tickets:
// one open ticket per root device, with downstream cameras folded into its
// affected set.
type Aggregator struct {
	store           Store
	topo            *topology.Store
	queue           TaskQueue
	sink            Sink
	ledger          Ledger
	audit           *auditlog.Manager
	allowDuplicates bool
	sinkEnabled     bool
	logger          *zap.Logger
}

// NewAggregator creates the ticket aggregator.
func NewAggregator(
	store Store,
	topo *topology.Store,
	queue TaskQueue,
	sink Sink,
	ledger Ledger,
	audit *auditlog.Manager,
	allowDuplicates bool,
	sinkEnabled bool,
	logger *zap.Logger,
) *Aggregator {
	return &Aggregator{
		store:           store,
		topo:            topo,
		queue:           queue,
		sink:            sink,
		ledger:          ledger,
		audit:           audit,
		allowDuplicates: allowDuplicates,
		sinkEnabled:     sinkEnabled,
		logger:          logger,
	}
}

// OnDeviceDown handles a switch or router down alert: compute the downstream
// cameras and open one ticket, or merge into the ticket already covering
// this branch of the tree.
func (a *Aggregator) OnDeviceDown(ctx context.Context, event *models.AlertEvent) error {
	device, err := a.topo.Get(event.DeviceSerial)
	if err != nil {
		// Unknown devices are excluded from aggregation; everything else
		// keeps flowing.
		a.logger.Warn("Down alert for device outside the topology",
			zap.String("serial", event.DeviceSerial),
		)
		return nil
	}

	affected := a.downstreamCameras(device)

	if !a.allowDuplicates {
		existing, err := a.store.GetOpenTicketByRoot(ctx, device.Serial)
		if err != nil {
			return err
		}
		if existing == nil {
			// Alerts can arrive leaf-to-root: a switch alert following its
			// router's alert merges into the router ticket instead of
			// opening a second one.
			existing, err = a.ancestorTicket(ctx, device.Serial)
			if err != nil {
				return err
			}
		}
		if existing == nil {
			// Root-to-leaf order is just as possible: a router alert after a
			// child switch already has a ticket folds into that ticket.
			existing, err = a.descendantTicket(ctx, device)
			if err != nil {
				return err
			}
		}
		if existing != nil {
			return a.merge(ctx, existing, device.Serial, affected)
		}
	}

	ticket := &models.Ticket{
		ID:               uuid.New().String(),
		RootDeviceSerial: device.Serial,
		RootDeviceKind:   device.Kind,
		AlertType:        event.AlertType,
		NetworkName:      event.NetworkName,
		AffectedCameras:  affected,
		Description: fmt.Sprintf("%s %s (%s) went down, %d downstream camera(s) impacted",
			device.Kind, deviceLabel(device.Name, device.Serial), device.Serial, len(affected)),
		Status:    models.TicketOpen,
		CreatedAt: time.Now(),
	}
	return a.open(ctx, ticket)
}

// OnEscalation handles a camera whose remediation failed, or a critical
// hardware fast path. The camera merges into any open ticket that already
// covers it (by ancestry or affected set) before a camera-only ticket is
// considered.
func (a *Aggregator) OnEscalation(ctx context.Context, esc remediation.Escalation) error {
	var ancestors []string
	if chain, err := a.topo.ResolveParentChain(esc.CameraSerial); err == nil {
		for _, d := range chain {
			ancestors = append(ancestors, d.Serial)
		}
	} else {
		a.logger.Warn("Failed to resolve ancestors for escalated camera",
			zap.String("serial", esc.CameraSerial),
			zap.Error(err),
		)
	}

	if !a.allowDuplicates {
		covering, err := a.store.FindOpenTicketCovering(ctx, esc.CameraSerial, ancestors)
		if err != nil {
			return err
		}
		if covering != nil {
			return a.merge(ctx, covering, esc.CameraSerial, []string{esc.CameraSerial})
		}
	}

	ticket := &models.Ticket{
		ID:               uuid.New().String(),
		RootDeviceSerial: esc.CameraSerial,
		RootDeviceKind:   models.KindCamera,
		AlertType:        esc.AlertType,
		NetworkName:      esc.NetworkName,
		AffectedCameras:  []string{esc.CameraSerial},
		Description:      escalationDescription(esc),
		Status:           models.TicketOpen,
		CreatedAt:        time.Now(),
	}
	return a.open(ctx, ticket)
}

// HandleSinkCreate is the scheduler handler pushing a ticket to the sink.
func (a *Aggregator) HandleSinkCreate(ctx context.Context, task scheduler.Task) error {
	var payload SinkCreatePayload
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		return fmt.Errorf("failed to unmarshal sink payload: %w", err)
	}

	sinkRef, err := a.sink.CreateIncident(ctx, &payload.Ticket)
	if err != nil {
		return err
	}
	if err := a.store.SetSinkRef(ctx, payload.Ticket.ID, sinkRef); err != nil {
		// The incident exists; losing the back-reference is not worth a
		// duplicate incident on retry.
		a.logger.Error("Failed to record sink ref",
			zap.String("ticket_id", payload.Ticket.ID),
			zap.Error(err),
		)
	}
	a.audit.For(payload.Ticket.RootDeviceSerial).Info("incident created in ticket sink",
		zap.String("ticket_id", payload.Ticket.ID),
		zap.String("sink_ref", sinkRef),
	)
	return nil
}

// HandleSinkResolve is the scheduler handler resolving an incident in the
// sink. The sink ref is looked up at run time: a ticket whose create push is
// still queued has no ref yet, which is a retryable condition, not a skip.
func (a *Aggregator) HandleSinkResolve(ctx context.Context, task scheduler.Task) error {
	var payload SinkResolvePayload
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		return fmt.Errorf("failed to unmarshal sink resolve payload: %w", err)
	}

	ticket, err := a.store.GetTicketByID(ctx, payload.TicketID)
	if err != nil {
		return err
	}
	if ticket == nil {
		a.logger.Warn("Sink resolve for unknown ticket",
			zap.String("ticket_id", payload.TicketID),
		)
		return nil
	}
	if ticket.SinkRef == "" {
		return fmt.Errorf("ticket %s has no sink ref yet", ticket.ID)
	}

	if err := a.sink.ResolveIncident(ctx, ticket.SinkRef, payload.Comment); err != nil {
		return err
	}
	a.audit.For(ticket.RootDeviceSerial).Info("incident resolved in ticket sink",
		zap.String("ticket_id", ticket.ID),
		zap.String("sink_ref", ticket.SinkRef),
	)
	return nil
}

// HandleSinkResolveExhausted runs when sink resolve retries are spent. The
// incident stays open in the sink for manual closure.
func (a *Aggregator) HandleSinkResolveExhausted(ctx context.Context, task scheduler.Task, err error) {
	var payload SinkResolvePayload
	if jsonErr := json.Unmarshal(task.Payload, &payload); jsonErr != nil {
		a.logger.Error("Sink resolve failed and payload is unreadable", zap.Error(jsonErr))
		return
	}
	a.logger.Error("Ticket sink unreachable, incident left open for manual closure",
		zap.String("ticket_id", payload.TicketID),
		zap.Error(err),
	)
	if ticket, lookupErr := a.store.GetTicketByID(ctx, payload.TicketID); lookupErr == nil && ticket != nil {
		a.audit.For(ticket.RootDeviceSerial).Error("ticket sink unreachable, incident needs manual closure",
			zap.String("ticket_id", ticket.ID),
			zap.String("sink_ref", ticket.SinkRef),
			zap.Error(err),
		)
	}
}

// HandleSinkExhausted runs when sink retries are spent. The ledger entry
// written at creation time remains the durable record.
func (a *Aggregator) HandleSinkExhausted(ctx context.Context, task scheduler.Task, err error) {
	var payload SinkCreatePayload
	if jsonErr := json.Unmarshal(task.Payload, &payload); jsonErr != nil {
		a.logger.Error("Sink push failed and payload is unreadable", zap.Error(jsonErr))
		return
	}
	a.logger.Error("Ticket sink unreachable, incident preserved in local ledger only",
		zap.String("ticket_id", payload.Ticket.ID),
		zap.Error(err),
	)
	a.audit.For(payload.Ticket.RootDeviceSerial).Error("ticket sink unreachable, see local ledger",
		zap.String("ticket_id", payload.Ticket.ID),
		zap.Error(err),
	)
}

func (a *Aggregator) open(ctx context.Context, ticket *models.Ticket) error {
	if err := a.store.CreateTicket(ctx, ticket); err != nil {
		return err
	}
	if err := a.ledger.Append(ticket); err != nil {
		a.logger.Error("Failed to write ticket ledger",
			zap.String("ticket_id", ticket.ID),
			zap.Error(err),
		)
	}
	a.audit.For(ticket.RootDeviceSerial).Info("ticket opened",
		zap.String("ticket_id", ticket.ID),
		zap.Int("affected_cameras", len(ticket.AffectedCameras)),
	)
	a.logger.Info("Ticket opened",
		zap.String("ticket_id", ticket.ID),
		zap.String("root_serial", ticket.RootDeviceSerial),
		zap.Int("affected_cameras", len(ticket.AffectedCameras)),
	)

	if !a.sinkEnabled {
		return nil
	}
	return a.queue.Enqueue(ctx, TaskSinkCreate, SinkCreatePayload{Ticket: *ticket}, 0)
}

func (a *Aggregator) merge(ctx context.Context, ticket *models.Ticket, serial string, cameras []string) error {
	if len(cameras) > 0 {
		if err := a.store.MergeAffectedCameras(ctx, ticket.ID, cameras); err != nil {
			return err
		}
	}
	a.audit.For(serial).Info("alert merged into existing ticket",
		zap.String("ticket_id", ticket.ID),
		zap.String("ticket_root", ticket.RootDeviceSerial),
	)
	a.logger.Info("Alert merged into existing ticket",
		zap.String("serial", serial),
		zap.String("ticket_id", ticket.ID),
	)
	return nil
}

// ancestorTicket returns the open ticket of the nearest alerting ancestor.
func (a *Aggregator) ancestorTicket(ctx context.Context, serial string) (*models.Ticket, error) {
	chain, err := a.topo.ResolveParentChain(serial)
	if err != nil {
		return nil, nil
	}
	for _, ancestor := range chain {
		ticket, err := a.store.GetOpenTicketByRoot(ctx, ancestor.Serial)
		if err != nil {
			return nil, err
		}
		if ticket != nil {
			return ticket, nil
		}
	}
	return nil, nil
}

// descendantTicket returns the open ticket of the first alerting descendant.
// The descendant keeps the ticket root; the wider outage just widens its
// affected set.
func (a *Aggregator) descendantTicket(ctx context.Context, device models.Device) (*models.Ticket, error) {
	var descendants []string
	for _, child := range a.topo.ChildrenOf(device.Serial) {
		if child.Kind == models.KindCamera {
			continue
		}
		descendants = append(descendants, child.Serial)
		if device.Kind == models.KindRouter && child.Kind == models.KindSwitch {
			for _, grandchild := range a.topo.ChildrenOf(child.Serial) {
				if grandchild.Kind != models.KindCamera {
					descendants = append(descendants, grandchild.Serial)
				}
			}
		}
	}
	for _, serial := range descendants {
		ticket, err := a.store.GetOpenTicketByRoot(ctx, serial)
		if err != nil {
			return nil, err
		}
		if ticket != nil {
			return ticket, nil
		}
	}
	return nil, nil
}

// downstreamCameras resolves every camera served by the device: one hop for
// a switch, two for a router.
func (a *Aggregator) downstreamCameras(device models.Device) []string {
	var serials []string
	switch device.Kind {
	case models.KindSwitch:
		for _, child := range a.topo.ChildrenOf(device.Serial) {
			if child.Kind == models.KindCamera {
				serials = append(serials, child.Serial)
			}
		}
	case models.KindRouter:
		for _, child := range a.topo.ChildrenOf(device.Serial) {
			if child.Kind != models.KindSwitch {
				continue
			}
			for _, grandchild := range a.topo.ChildrenOf(child.Serial) {
				if grandchild.Kind == models.KindCamera {
					serials = append(serials, grandchild.Serial)
				}
			}
		}
	}
	return serials
}

func escalationDescription(esc remediation.Escalation) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Camera %s (%s) offline after remediation", deviceLabel(esc.CameraName, esc.CameraSerial), esc.CameraSerial)
	if esc.SwitchSerial != "" {
		fmt.Fprintf(&b, "; upstream switch %s", esc.SwitchSerial)
	}
	if esc.SwitchPort != "" {
		fmt.Fprintf(&b, " port %s", esc.SwitchPort)
	}
	if len(esc.PortErrors) > 0 {
		fmt.Fprintf(&b, "; port errors: %s", strings.Join(esc.PortErrors, ", "))
	}
	if len(esc.PortWarnings) > 0 {
		fmt.Fprintf(&b, "; port warnings: %s", strings.Join(esc.PortWarnings, ", "))
	}
	if esc.APIError != "" {
		fmt.Fprintf(&b, "; API error: %s", esc.APIError)
	}
	return b.String()
}

func deviceLabel(name, serial string) string {
	if name != "" {
		return name
	}
	return serial
}
