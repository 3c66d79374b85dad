package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/gve-sw/gve-devnet-meraki-mv-offline-debugger/internal/models"
)

// TicketsRepository persists incident tickets.
type TicketsRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewTicketsRepository(db *sql.DB, logger *zap.Logger) *TicketsRepository {
	return &TicketsRepository{db: db, logger: logger}
}

const ticketColumns = `ticket_id, root_device_serial, root_device_kind, alert_type,
		network_name, affected_cameras, description, status, sink_ref, created_at, resolved_at`

// CreateTicket inserts a new ticket.
func (r *TicketsRepository) CreateTicket(ctx context.Context, t *models.Ticket) error {
	if t.ID == "" {
		return fmt.Errorf("ticket_id is required")
	}

	query := `
		INSERT INTO tickets (` + ticketColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := r.db.ExecContext(ctx, query,
		t.ID,
		t.RootDeviceSerial,
		string(t.RootDeviceKind),
		t.AlertType,
		t.NetworkName,
		pq.Array(t.AffectedCameras),
		t.Description,
		string(t.Status),
		nullString(t.SinkRef),
		t.CreatedAt,
		t.ResolvedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create ticket: %w", err)
	}
	return nil
}

// GetTicketByID returns the ticket with the given id, or nil when none
// exists.
func (r *TicketsRepository) GetTicketByID(ctx context.Context, ticketID string) (*models.Ticket, error) {
	query := `
		SELECT ` + ticketColumns + `
		FROM tickets
		WHERE ticket_id = $1`

	t, err := r.scanOne(r.db.QueryRowContext(ctx, query, ticketID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get ticket %s: %w", ticketID, err)
	}
	return t, nil
}

// GetOpenTicketByRoot returns the open ticket for a root device, or nil when
// none exists.
func (r *TicketsRepository) GetOpenTicketByRoot(ctx context.Context, rootSerial string) (*models.Ticket, error) {
	query := `
		SELECT ` + ticketColumns + `
		FROM tickets
		WHERE root_device_serial = $1 AND status = 'open'
		ORDER BY created_at
		LIMIT 1`

	t, err := r.scanOne(r.db.QueryRowContext(ctx, query, rootSerial))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get open ticket for %s: %w", rootSerial, err)
	}
	return t, nil
}

// FindOpenTicketCovering returns an open ticket that already accounts for
// the camera: either rooted at one of its ancestors, rooted at the camera
// itself, or listing it in the affected set. nil when no such ticket exists.
func (r *TicketsRepository) FindOpenTicketCovering(ctx context.Context, cameraSerial string, ancestorSerials []string) (*models.Ticket, error) {
	roots := append([]string{cameraSerial}, ancestorSerials...)

	query := `
		SELECT ` + ticketColumns + `
		FROM tickets
		WHERE status = 'open'
		  AND (root_device_serial = ANY($1) OR $2 = ANY(affected_cameras))
		ORDER BY created_at
		LIMIT 1`

	t, err := r.scanOne(r.db.QueryRowContext(ctx, query, pq.Array(roots), cameraSerial))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find covering ticket for %s: %w", cameraSerial, err)
	}
	return t, nil
}

// MergeAffectedCameras unions serials into the ticket's affected set. The
// union happens in a single UPDATE so concurrent merges cannot lose entries.
func (r *TicketsRepository) MergeAffectedCameras(ctx context.Context, ticketID string, serials []string) error {
	query := `
		UPDATE tickets
		SET affected_cameras = ARRAY(
			SELECT DISTINCT unnest(affected_cameras || $2::text[])
		)
		WHERE ticket_id = $1 AND status = 'open'`

	result, err := r.db.ExecContext(ctx, query, ticketID, pq.Array(serials))
	if err != nil {
		return fmt.Errorf("failed to merge affected cameras: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to merge affected cameras: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("open ticket %s not found", ticketID)
	}
	return nil
}

// ListOpenTickets returns all open tickets, oldest first.
func (r *TicketsRepository) ListOpenTickets(ctx context.Context) ([]models.Ticket, error) {
	return r.list(ctx, `
		SELECT `+ticketColumns+`
		FROM tickets
		WHERE status = 'open'
		ORDER BY created_at`)
}

// ListTickets returns all tickets, newest first.
func (r *TicketsRepository) ListTickets(ctx context.Context) ([]models.Ticket, error) {
	return r.list(ctx, `
		SELECT `+ticketColumns+`
		FROM tickets
		ORDER BY created_at DESC`)
}

// ResolveTicket transitions an open ticket to resolved. Returns false when
// the ticket was already resolved (or gone), making re-scans a no-op.
func (r *TicketsRepository) ResolveTicket(ctx context.Context, ticketID string, resolvedAt time.Time) (bool, error) {
	query := `
		UPDATE tickets
		SET status = 'resolved', resolved_at = $2
		WHERE ticket_id = $1 AND status = 'open'`

	result, err := r.db.ExecContext(ctx, query, ticketID, resolvedAt)
	if err != nil {
		return false, fmt.Errorf("failed to resolve ticket %s: %w", ticketID, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to resolve ticket %s: %w", ticketID, err)
	}
	return rows > 0, nil
}

// SetSinkRef records the external ticketing-system id once the sink call
// succeeds.
func (r *TicketsRepository) SetSinkRef(ctx context.Context, ticketID, sinkRef string) error {
	query := `UPDATE tickets SET sink_ref = $2 WHERE ticket_id = $1`
	if _, err := r.db.ExecContext(ctx, query, ticketID, sinkRef); err != nil {
		return fmt.Errorf("failed to set sink ref on %s: %w", ticketID, err)
	}
	return nil
}

func (r *TicketsRepository) list(ctx context.Context, query string) ([]models.Ticket, error) {
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list tickets: %w", err)
	}
	defer rows.Close()

	var tickets []models.Ticket
	for rows.Next() {
		t, err := r.scanOne(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ticket: %w", err)
		}
		tickets = append(tickets, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list tickets: %w", err)
	}
	return tickets, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *TicketsRepository) scanOne(row rowScanner) (*models.Ticket, error) {
	var t models.Ticket
	var kind, status string
	var networkName, description, sinkRef sql.NullString
	var resolvedAt sql.NullTime

	err := row.Scan(
		&t.ID,
		&t.RootDeviceSerial,
		&kind,
		&t.AlertType,
		&networkName,
		pq.Array(&t.AffectedCameras),
		&description,
		&status,
		&sinkRef,
		&t.CreatedAt,
		&resolvedAt,
	)
	if err != nil {
		return nil, err
	}

	t.RootDeviceKind = models.DeviceKind(kind)
	t.Status = models.TicketStatus(status)
	t.NetworkName = networkName.String
	t.Description = description.String
	t.SinkRef = sinkRef.String
	if resolvedAt.Valid {
		t.ResolvedAt = &resolvedAt.Time
	}
	return &t, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
