package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gve-sw/gve-devnet-meraki-mv-offline-debugger/internal/models"
)

func setupMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *TicketsRepository) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	repo := NewTicketsRepository(db, zap.NewNop())
	return db, mock, repo
}

func ticketRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"ticket_id", "root_device_serial", "root_device_kind", "alert_type",
		"network_name", "affected_cameras", "description", "status",
		"sink_ref", "created_at", "resolved_at",
	})
}

func TestCreateTicket_Success(t *testing.T) {
	db, mock, repo := setupMockDB(t)
	defer db.Close()

	ticket := &models.Ticket{
		ID:               "ticket-1",
		RootDeviceSerial: "S1",
		RootDeviceKind:   models.KindSwitch,
		AlertType:        "switches went down",
		NetworkName:      "HQ",
		AffectedCameras:  []string{"C1", "C2"},
		Description:      "switch S1 went down",
		Status:           models.TicketOpen,
		CreatedAt:        time.Now(),
	}

	mock.ExpectExec(`INSERT INTO tickets`).
		WithArgs(
			ticket.ID, ticket.RootDeviceSerial, "switch", ticket.AlertType,
			ticket.NetworkName, pq.Array(ticket.AffectedCameras), ticket.Description,
			"open", nil, ticket.CreatedAt, nil,
		).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.CreateTicket(context.Background(), ticket))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateTicket_MissingID(t *testing.T) {
	db, _, repo := setupMockDB(t)
	defer db.Close()

	err := repo.CreateTicket(context.Background(), &models.Ticket{})
	assert.Error(t, err)
}

func TestGetTicketByID_Found(t *testing.T) {
	db, mock, repo := setupMockDB(t)
	defer db.Close()

	rows := ticketRows().AddRow(
		"ticket-1", "S1", "switch", "switches went down",
		"HQ", pq.Array([]string{"C1"}), "switch S1 went down", "resolved",
		"INC001", time.Now(), time.Now(),
	)
	mock.ExpectQuery(`SELECT .+ FROM tickets`).
		WithArgs("ticket-1").
		WillReturnRows(rows)

	ticket, err := repo.GetTicketByID(context.Background(), "ticket-1")
	require.NoError(t, err)
	require.NotNil(t, ticket)
	assert.Equal(t, "INC001", ticket.SinkRef)
	assert.Equal(t, models.TicketResolved, ticket.Status)
}

func TestGetTicketByID_NotFound(t *testing.T) {
	db, mock, repo := setupMockDB(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT .+ FROM tickets`).
		WithArgs("gone").
		WillReturnRows(ticketRows())

	ticket, err := repo.GetTicketByID(context.Background(), "gone")
	require.NoError(t, err)
	assert.Nil(t, ticket)
}

func TestGetOpenTicketByRoot_Found(t *testing.T) {
	db, mock, repo := setupMockDB(t)
	defer db.Close()

	created := time.Now()
	rows := ticketRows().AddRow(
		"ticket-1", "S1", "switch", "switches went down",
		"HQ", pq.Array([]string{"C1", "C2"}), "switch S1 went down", "open",
		nil, created, nil,
	)
	mock.ExpectQuery(`SELECT .+ FROM tickets`).
		WithArgs("S1").
		WillReturnRows(rows)

	ticket, err := repo.GetOpenTicketByRoot(context.Background(), "S1")
	require.NoError(t, err)
	require.NotNil(t, ticket)
	assert.Equal(t, "ticket-1", ticket.ID)
	assert.Equal(t, models.KindSwitch, ticket.RootDeviceKind)
	assert.Equal(t, []string{"C1", "C2"}, ticket.AffectedCameras)
	assert.Nil(t, ticket.ResolvedAt)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetOpenTicketByRoot_NotFound(t *testing.T) {
	db, mock, repo := setupMockDB(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT .+ FROM tickets`).
		WithArgs("S9").
		WillReturnRows(ticketRows())

	ticket, err := repo.GetOpenTicketByRoot(context.Background(), "S9")
	require.NoError(t, err)
	assert.Nil(t, ticket)
}

func TestFindOpenTicketCovering_MatchesAncestor(t *testing.T) {
	db, mock, repo := setupMockDB(t)
	defer db.Close()

	rows := ticketRows().AddRow(
		"ticket-1", "R1", "router", "appliances went down",
		"HQ", pq.Array([]string{"C1"}), "router R1 went down", "open",
		nil, time.Now(), nil,
	)
	mock.ExpectQuery(`SELECT .+ FROM tickets`).
		WithArgs(pq.Array([]string{"C1", "S1", "R1"}), "C1").
		WillReturnRows(rows)

	ticket, err := repo.FindOpenTicketCovering(context.Background(), "C1", []string{"S1", "R1"})
	require.NoError(t, err)
	require.NotNil(t, ticket)
	assert.Equal(t, "R1", ticket.RootDeviceSerial)
}

func TestMergeAffectedCameras_Success(t *testing.T) {
	db, mock, repo := setupMockDB(t)
	defer db.Close()

	mock.ExpectExec(`UPDATE tickets`).
		WithArgs("ticket-1", pq.Array([]string{"C3"})).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.MergeAffectedCameras(context.Background(), "ticket-1", []string{"C3"}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMergeAffectedCameras_TicketGone(t *testing.T) {
	db, mock, repo := setupMockDB(t)
	defer db.Close()

	mock.ExpectExec(`UPDATE tickets`).
		WithArgs("ticket-9", pq.Array([]string{"C3"})).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.MergeAffectedCameras(context.Background(), "ticket-9", []string{"C3"})
	assert.Error(t, err)
}

func TestResolveTicket_OpenTicket(t *testing.T) {
	db, mock, repo := setupMockDB(t)
	defer db.Close()

	resolvedAt := time.Now()
	mock.ExpectExec(`UPDATE tickets`).
		WithArgs("ticket-1", resolvedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	resolved, err := repo.ResolveTicket(context.Background(), "ticket-1", resolvedAt)
	require.NoError(t, err)
	assert.True(t, resolved)
}

func TestResolveTicket_AlreadyResolved(t *testing.T) {
	db, mock, repo := setupMockDB(t)
	defer db.Close()

	resolvedAt := time.Now()
	mock.ExpectExec(`UPDATE tickets`).
		WithArgs("ticket-1", resolvedAt).
		WillReturnResult(sqlmock.NewResult(0, 0))

	resolved, err := repo.ResolveTicket(context.Background(), "ticket-1", resolvedAt)
	require.NoError(t, err)
	assert.False(t, resolved)
}

func TestListOpenTickets(t *testing.T) {
	db, mock, repo := setupMockDB(t)
	defer db.Close()

	rows := ticketRows().
		AddRow("ticket-1", "S1", "switch", "switches went down", "HQ",
			pq.Array([]string{"C1"}), "d1", "open", nil, time.Now(), nil).
		AddRow("ticket-2", "C3", "camera", "cameras went down", "HQ",
			pq.Array([]string{"C3"}), "d2", "open", "INC001", time.Now(), nil)

	mock.ExpectQuery(`SELECT .+ FROM tickets`).WillReturnRows(rows)

	tickets, err := repo.ListOpenTickets(context.Background())
	require.NoError(t, err)
	require.Len(t, tickets, 2)
	assert.Equal(t, "ticket-1", tickets[0].ID)
	assert.Equal(t, "INC001", tickets[1].SinkRef)
}

func TestSetSinkRef(t *testing.T) {
	db, mock, repo := setupMockDB(t)
	defer db.Close()

	mock.ExpectExec(`UPDATE tickets SET sink_ref`).
		WithArgs("ticket-1", "INC001").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.SetSinkRef(context.Background(), "ticket-1", "INC001"))
	assert.NoError(t, mock.ExpectationsWereMet())
}
