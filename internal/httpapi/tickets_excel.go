package httpapi

import (
	"fmt"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/gve-sw/gve-devnet-meraki-mv-offline-debugger/internal/models"
)

// TicketsExportHeader is the export column layout.
var TicketsExportHeader = []string{
	"Ticket ID",
	"Root Device Serial",
	"Root Device Kind",
	"Alert Type",
	"Network",
	"Affected Camera Serials",
	"Status",
	"Sink Ref",
	"Created At",
	"Resolved At",
}

// GenerateTicketsExport builds an xlsx workbook from the ticket list.
func GenerateTicketsExport(tickets []models.Ticket) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	sheetName := "Tickets"
	index, err := f.NewSheet(sheetName)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	f.DeleteSheet("Sheet1")
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"#E6F3FF"},
			Pattern: 1,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	for col, title := range TicketsExportHeader {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return nil, err
		}
		if err := f.SetCellValue(sheetName, cell, title); err != nil {
			return nil, err
		}
		if err := f.SetCellStyle(sheetName, cell, cell, headerStyle); err != nil {
			return nil, err
		}
	}

	for row, t := range tickets {
		resolvedAt := ""
		if t.ResolvedAt != nil {
			resolvedAt = t.ResolvedAt.Format(time.RFC3339)
		}
		values := []any{
			t.ID,
			t.RootDeviceSerial,
			string(t.RootDeviceKind),
			t.AlertType,
			t.NetworkName,
			strings.Join(t.AffectedCameras, ", "),
			string(t.Status),
			t.SinkRef,
			t.CreatedAt.Format(time.RFC3339),
			resolvedAt,
		}
		for col, value := range values {
			cell, err := excelize.CoordinatesToCellName(col+1, row+2)
			if err != nil {
				return nil, err
			}
			if err := f.SetCellValue(sheetName, cell, value); err != nil {
				return nil, err
			}
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}
	return buf.Bytes(), nil
}
