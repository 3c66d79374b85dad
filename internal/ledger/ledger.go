package ledger

import (
	"encoding/csv"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/gve-sw/gve-devnet-meraki-mv-offline-debugger/internal/models"
)

var header = []string{
	"Timestamp",
	"Ticket ID",
	"Alert Type",
	"Network",
	"Root Device Serial",
	"Root Device Kind",
	"Affected Camera Serials",
	"Status",
	"Description",
}

// Ledger is the append-only local backup of every ticket, kept so incidents
// survive a ticket-sink outage and can be replayed manually.
type Ledger struct {
	mu   sync.Mutex
	path string
}

func New(path string) *Ledger {
	return &Ledger{path: path}
}

// Append writes one ticket record, creating the file with a header row on
// first use.
func (l *Ledger) Append(t *models.Ticket) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	_, statErr := os.Stat(l.path)
	writeHeader := os.IsNotExist(statErr)

	file, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open ticket ledger: %w", err)
	}
	defer file.Close()

	w := csv.NewWriter(file)
	if writeHeader {
		if err := w.Write(header); err != nil {
			return fmt.Errorf("failed to write ledger header: %w", err)
		}
	}

	// Stamp the ticket's own creation time so a delayed write still records
	// when the incident actually happened.
	record := []string{
		t.CreatedAt.UTC().Format("2006-01-02 15:04:05"),
		t.ID,
		t.AlertType,
		t.NetworkName,
		t.RootDeviceSerial,
		string(t.RootDeviceKind),
		strings.Join(t.AffectedCameras, " "),
		string(t.Status),
		t.Description,
	}
	if err := w.Write(record); err != nil {
		return fmt.Errorf("failed to write ledger record: %w", err)
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("failed to flush ticket ledger: %w", err)
	}
	return nil
}
