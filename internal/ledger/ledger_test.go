package ledger_test

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gve-sw/gve-devnet-meraki-mv-offline-debugger/internal/ledger"
	"github.com/gve-sw/gve-devnet-meraki-mv-offline-debugger/internal/models"
)

func readRecords(t *testing.T, path string) [][]string {
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return records
}

func TestAppend_WritesHeaderOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tickets.csv")
	l := ledger.New(path)

	createdAt := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	ticket := &models.Ticket{
		ID:               "ticket-1",
		RootDeviceSerial: "S1",
		RootDeviceKind:   models.KindSwitch,
		AlertType:        "switches went down",
		NetworkName:      "HQ",
		AffectedCameras:  []string{"C1", "C2"},
		Description:      "switch S1 went down",
		Status:           models.TicketOpen,
		CreatedAt:        createdAt,
	}
	require.NoError(t, l.Append(ticket))

	ticket.ID = "ticket-2"
	require.NoError(t, l.Append(ticket))

	records := readRecords(t, path)
	require.Len(t, records, 3)
	assert.Equal(t, "Ticket ID", records[0][1])
	assert.Equal(t, "ticket-1", records[1][1])
	assert.Equal(t, "ticket-2", records[2][1])
	assert.Equal(t, "C1 C2", records[1][6])
	assert.Equal(t, "open", records[1][7])
	assert.Equal(t, "2026-03-14 09:30:00", records[1][0])
}

func TestAppend_StampsTicketCreationTime(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tickets.csv")

	// A write that happens long after the ticket was created still records
	// the original incident time.
	createdAt := time.Now().Add(-48 * time.Hour)
	require.NoError(t, ledger.New(path).Append(&models.Ticket{
		ID:               "ticket-1",
		RootDeviceSerial: "S1",
		Status:           models.TicketOpen,
		CreatedAt:        createdAt,
	}))

	records := readRecords(t, path)
	require.Len(t, records, 2)
	assert.Equal(t, createdAt.UTC().Format("2006-01-02 15:04:05"), records[1][0])
}

func TestAppend_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tickets.csv")

	require.NoError(t, ledger.New(path).Append(&models.Ticket{
		ID: "ticket-1", RootDeviceSerial: "S1", Status: models.TicketOpen,
	}))
	// A fresh ledger on the same file appends instead of rewriting.
	require.NoError(t, ledger.New(path).Append(&models.Ticket{
		ID: "ticket-2", RootDeviceSerial: "S2", Status: models.TicketOpen,
	}))

	records := readRecords(t, path)
	require.Len(t, records, 3)
	assert.Equal(t, "ticket-2", records[2][1])
}
