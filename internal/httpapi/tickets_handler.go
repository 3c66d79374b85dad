package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/gve-sw/gve-devnet-meraki-mv-offline-debugger/internal/models"
)

// TicketReader is the read-only ticket surface the API exposes.
type TicketReader interface {
	ListTickets(ctx context.Context) ([]models.Ticket, error)
	ListOpenTickets(ctx context.Context) ([]models.Ticket, error)
}

// TicketsHandler serves the ticket listing and export endpoints.
type TicketsHandler struct {
	store  TicketReader
	logger *zap.Logger
}

func NewTicketsHandler(store TicketReader, logger *zap.Logger) *TicketsHandler {
	return &TicketsHandler{store: store, logger: logger}
}

// List handles GET /api/v1/tickets. ?status=open narrows to open tickets.
func (h *TicketsHandler) List(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	tickets, err := h.load(r)
	if err != nil {
		h.logger.Error("Failed to list tickets", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("failed to list tickets"))
		return
	}
	if tickets == nil {
		tickets = []models.Ticket{}
	}
	writeJSON(w, http.StatusOK, Ok(tickets))
}

// Export handles GET /api/v1/tickets/export, returning an xlsx workbook.
func (h *TicketsHandler) Export(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	tickets, err := h.load(r)
	if err != nil {
		h.logger.Error("Failed to export tickets", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("failed to export tickets"))
		return
	}

	data, err := GenerateTicketsExport(tickets)
	if err != nil {
		h.logger.Error("Failed to generate tickets workbook", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("failed to generate export"))
		return
	}

	filename := "tickets-" + time.Now().Format("20060102-150405") + ".xlsx"
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (h *TicketsHandler) load(r *http.Request) ([]models.Ticket, error) {
	if strings.EqualFold(r.URL.Query().Get("status"), "open") {
		return h.store.ListOpenTickets(r.Context())
	}
	return h.store.ListTickets(r.Context())
}
