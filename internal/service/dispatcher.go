package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/gve-sw/gve-devnet-meraki-mv-offline-debugger/internal/models"
	"github.com/gve-sw/gve-devnet-meraki-mv-offline-debugger/internal/remediation"
	"github.com/gve-sw/gve-devnet-meraki-mv-offline-debugger/internal/tickets"
	"github.com/gve-sw/gve-devnet-meraki-mv-offline-debugger/internal/topology"
)

// Dispatcher fans normalized alert events out to the remediation workflow
// (cameras) and the ticket aggregator (switches and routers). Recoveries
// only update the topology; the sweeper owns ticket resolution.
type Dispatcher struct {
	workflow   *remediation.Workflow
	aggregator *tickets.Aggregator
	topo       *topology.Store
	logger     *zap.Logger
}

func NewDispatcher(
	workflow *remediation.Workflow,
	aggregator *tickets.Aggregator,
	topo *topology.Store,
	logger *zap.Logger,
) *Dispatcher {
	return &Dispatcher{
		workflow:   workflow,
		aggregator: aggregator,
		topo:       topo,
		logger:     logger,
	}
}

// Dispatch routes one event.
func (d *Dispatcher) Dispatch(ctx context.Context, event *models.AlertEvent) error {
	d.logger.Info("Alert received",
		zap.String("kind", string(event.Kind)),
		zap.String("serial", event.DeviceSerial),
		zap.String("network", event.NetworkName),
	)

	switch event.Kind {
	case models.EventCameraDown:
		return d.workflow.OnCameraDown(ctx, event)

	case models.EventCameraCriticalHardware:
		return d.workflow.OnCriticalHardware(ctx, event)

	case models.EventSwitchDown, models.EventRouterDown:
		if err := d.markStatus(event.DeviceSerial, models.StatusDown); err != nil {
			return err
		}
		return d.aggregator.OnDeviceDown(ctx, event)

	case models.EventCameraUp, models.EventSwitchUp, models.EventRouterUp:
		return d.markStatus(event.DeviceSerial, models.StatusUp)
	}

	return fmt.Errorf("unroutable event kind %q", event.Kind)
}

func (d *Dispatcher) markStatus(serial string, status models.DeviceStatus) error {
	err := d.topo.SetStatus(serial, status)
	if err == nil {
		return nil
	}
	if errors.Is(err, topology.ErrNotFound) {
		d.logger.Warn("Status alert for device outside the topology",
			zap.String("serial", serial),
		)
		return nil
	}
	return err
}
