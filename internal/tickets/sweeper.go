package tickets

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/gve-sw/gve-devnet-meraki-mv-offline-debugger/internal/auditlog"
	"github.com/gve-sw/gve-devnet-meraki-mv-offline-debugger/internal/models"
	"github.com/gve-sw/gve-devnet-meraki-mv-offline-debugger/internal/topology"
)

// Sweeper periodically auto-resolves open tickets whose root device has
// stayed up for the configured grace period.
type Sweeper struct {
	store       Store
	topo        *topology.Store
	queue       TaskQueue
	audit       *auditlog.Manager
	grace       time.Duration
	interval    time.Duration
	sinkEnabled bool
	logger      *zap.Logger
}

// NewSweeper creates the lifecycle sweeper.
func NewSweeper(
	store Store,
	topo *topology.Store,
	queue TaskQueue,
	audit *auditlog.Manager,
	grace time.Duration,
	interval time.Duration,
	sinkEnabled bool,
	logger *zap.Logger,
) *Sweeper {
	return &Sweeper{
		store:       store,
		topo:        topo,
		queue:       queue,
		audit:       audit,
		grace:       grace,
		interval:    interval,
		sinkEnabled: sinkEnabled,
		logger:      logger,
	}
}

// Run sweeps on a fixed interval until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.SweepOnce(ctx, time.Now()); err != nil {
				s.logger.Error("Ticket sweep failed", zap.Error(err))
			}
		}
	}
}

// SweepOnce scans open tickets. A ticket resolves when its root device has
// been continuously up for at least the grace period; re-scanning a ticket
// that already resolved is a no-op.
func (s *Sweeper) SweepOnce(ctx context.Context, now time.Time) error {
	open, err := s.store.ListOpenTickets(ctx)
	if err != nil {
		return fmt.Errorf("failed to list open tickets: %w", err)
	}

	for _, ticket := range open {
		device, err := s.topo.Get(ticket.RootDeviceSerial)
		if err != nil {
			s.logger.Warn("Open ticket for device outside the topology",
				zap.String("ticket_id", ticket.ID),
				zap.String("serial", ticket.RootDeviceSerial),
			)
			continue
		}

		if device.Status != models.StatusUp {
			continue
		}
		if now.Sub(device.LastStatusChangeAt) < s.grace {
			continue
		}

		if s.sinkEnabled {
			// Queue the sink resolve before resolving locally: if the
			// enqueue fails the ticket stays open and the next sweep
			// retries, so the external incident cannot be orphaned.
			payload := SinkResolvePayload{
				TicketID: ticket.ID,
				Comment: fmt.Sprintf(
					"Automatically resolved: the underlying device has been online for %s.",
					s.grace,
				),
			}
			if err := s.queue.Enqueue(ctx, TaskSinkResolve, payload, 0); err != nil {
				s.logger.Error("Failed to queue sink resolve",
					zap.String("ticket_id", ticket.ID),
					zap.Error(err),
				)
				continue
			}
		}

		resolved, err := s.store.ResolveTicket(ctx, ticket.ID, now)
		if err != nil {
			s.logger.Error("Failed to resolve ticket",
				zap.String("ticket_id", ticket.ID),
				zap.Error(err),
			)
			continue
		}
		if !resolved {
			// Someone else resolved it between the scan and the update.
			continue
		}

		s.audit.For(ticket.RootDeviceSerial).Info("ticket auto-resolved",
			zap.String("ticket_id", ticket.ID),
			zap.Duration("up_for", now.Sub(device.LastStatusChangeAt)),
		)
		s.logger.Info("Ticket auto-resolved",
			zap.String("ticket_id", ticket.ID),
			zap.String("root_serial", ticket.RootDeviceSerial),
		)
	}
	return nil
}
