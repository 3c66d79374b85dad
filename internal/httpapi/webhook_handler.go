package httpapi

import (
	"context"
	"crypto/subtle"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/gve-sw/gve-devnet-meraki-mv-offline-debugger/internal/models"
)

// maxWebhookBody bounds the inbound payload size.
const maxWebhookBody = 1 << 20

// Dispatcher routes normalized alert events.
type Dispatcher interface {
	Dispatch(ctx context.Context, event *models.AlertEvent) error
}

// WebhookHandler receives dashboard alert webhooks. It authenticates the
// shared secret, normalizes the payload and hands it to the dispatcher; the
// multi-minute remediation work never runs on this path.
type WebhookHandler struct {
	dispatcher     Dispatcher
	sharedSecret   string
	targetNetworks []string
	logger         *zap.Logger
}

func NewWebhookHandler(dispatcher Dispatcher, sharedSecret string, targetNetworks []string, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{
		dispatcher:     dispatcher,
		sharedSecret:   sharedSecret,
		targetNetworks: targetNetworks,
		logger:         logger,
	}
}

// Receive handles POST /alerts.
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("failed to read request body"))
		return
	}

	payload, err := models.ParseWebhook(body)
	if err != nil {
		h.logger.Warn("Rejecting malformed webhook", zap.Error(err))
		writeJSON(w, http.StatusBadRequest, Fail("malformed webhook payload"))
		return
	}

	// Unauthenticated payloads are rejected before any state change.
	if subtle.ConstantTimeCompare([]byte(payload.SharedSecret), []byte(h.sharedSecret)) != 1 {
		h.logger.Warn("Rejecting webhook with bad shared secret",
			zap.String("serial", payload.DeviceSerial),
		)
		writeJSON(w, http.StatusUnauthorized, Fail("shared secret mismatch"))
		return
	}

	if len(h.targetNetworks) > 0 && !h.networkAllowed(payload.NetworkName) {
		h.logger.Info("Ignoring webhook for untracked network",
			zap.String("network", payload.NetworkName),
		)
		writeJSON(w, http.StatusOK, Ok("network not tracked, alert ignored"))
		return
	}

	event, err := payload.Normalize(time.Now())
	if err != nil {
		h.logger.Warn("Rejecting webhook with unknown alert type",
			zap.String("alert_type", payload.AlertType),
		)
		writeJSON(w, http.StatusBadRequest, Fail(err.Error()))
		return
	}

	if err := h.dispatcher.Dispatch(r.Context(), event); err != nil {
		h.logger.Error("Failed to dispatch alert",
			zap.String("serial", event.DeviceSerial),
			zap.String("kind", string(event.Kind)),
			zap.Error(err),
		)
		writeJSON(w, http.StatusInternalServerError, Fail("failed to process alert"))
		return
	}

	writeJSON(w, http.StatusAccepted, Ok("alert accepted"))
}

func (h *WebhookHandler) networkAllowed(name string) bool {
	for _, n := range h.targetNetworks {
		if n == name {
			return true
		}
	}
	return false
}
