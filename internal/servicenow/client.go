package servicenow

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/gve-sw/gve-devnet-meraki-mv-offline-debugger/internal/models"
)

// Client creates and resolves incident records in ServiceNow.
type Client struct {
	httpClient *resty.Client
	username   string
	logger     *zap.Logger

	mu         sync.Mutex
	callerName string
}

type incidentRecord struct {
	SysID  string `json:"sys_id"`
	Number string `json:"number"`
	State  string `json:"state"`
}

type tableResponse[T any] struct {
	Result T `json:"result"`
}

// NewClient creates a ServiceNow table-API client.
func NewClient(instance, username, password string, logger *zap.Logger) *Client {
	client := resty.New().
		SetBaseURL(instance).
		SetBasicAuth(username, password).
		SetTimeout(15 * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &Client{
		httpClient: client,
		username:   username,
		logger:     logger,
	}
}

// caller resolves and caches the display name of the integration user.
func (c *Client) caller(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.callerName != "" {
		return c.callerName, nil
	}

	var response tableResponse[[]struct {
		Name string `json:"name"`
	}]
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetQueryParam("sysparm_query", "user_name="+c.username).
		SetResult(&response).
		Get("/api/now/table/sys_user")
	if err != nil {
		return "", fmt.Errorf("failed to look up caller: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("caller lookup returned %d: %s", resp.StatusCode(), resp.String())
	}
	if len(response.Result) == 0 {
		return "", fmt.Errorf("caller %s not found", c.username)
	}

	c.callerName = response.Result[0].Name
	return c.callerName, nil
}

// severity maps an alert type to ServiceNow impact/urgency, mirroring how
// operations triages these incident classes.
func severity(alertType string) (impact, urgency string) {
	switch alertType {
	case "cameras went down":
		return "2", "3"
	case "switches went down":
		return "2", "2"
	case "appliances went down":
		return "2", "1"
	case "Camera may have critical hardware failure":
		return "2", "1"
	}
	return "3", "3"
}

// CreateIncident opens an incident for the ticket and returns its sys_id.
func (c *Client) CreateIncident(ctx context.Context, t *models.Ticket) (string, error) {
	caller, err := c.caller(ctx)
	if err != nil {
		return "", err
	}

	impact, urgency := severity(t.AlertType)
	detail, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal ticket: %w", err)
	}

	shortDescription := t.AlertType + " (" + t.RootDeviceSerial + ")"
	description := t.Description
	if description != "" {
		description += "\n\n"
	}
	description += "Full ticket record:\n" + string(detail)

	body := map[string]string{
		"caller_id":         caller,
		"impact":            impact,
		"urgency":           urgency,
		"category":          "Network",
		"short_description": shortDescription,
		"description":       description,
	}

	var response tableResponse[incidentRecord]
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&response).
		Post("/api/now/table/incident")
	if err != nil {
		return "", fmt.Errorf("failed to create incident: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("create incident returned %d: %s", resp.StatusCode(), resp.String())
	}

	c.logger.Info("ServiceNow incident created",
		zap.String("ticket_id", t.ID),
		zap.String("incident_number", response.Result.Number),
	)
	return response.Result.SysID, nil
}

// ResolveIncident marks an incident resolved with an automated comment.
// Already-resolved incidents are left alone.
func (c *Client) ResolveIncident(ctx context.Context, sysID, comment string) error {
	var lookup tableResponse[[]incidentRecord]
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetQueryParam("sys_id", sysID).
		SetResult(&lookup).
		Get("/api/now/table/incident")
	if err != nil {
		return fmt.Errorf("failed to look up incident %s: %w", sysID, err)
	}
	if resp.IsError() {
		return fmt.Errorf("incident lookup returned %d: %s", resp.StatusCode(), resp.String())
	}
	if len(lookup.Result) == 0 || lookup.Result[0].State == "7" {
		c.logger.Info("Incident gone or already closed, skipping resolve",
			zap.String("sys_id", sysID),
		)
		return nil
	}

	caller, err := c.caller(ctx)
	if err != nil {
		return err
	}

	body := map[string]string{
		"caller_id": caller,
		"state":     "6",
		"comments":  strings.TrimSpace(comment),
	}
	resp, err = c.httpClient.R().
		SetContext(ctx).
		SetBody(body).
		Put("/api/now/table/incident/" + sysID)
	if err != nil {
		return fmt.Errorf("failed to resolve incident %s: %w", sysID, err)
	}
	if resp.IsError() {
		return fmt.Errorf("resolve incident returned %d: %s", resp.StatusCode(), resp.String())
	}

	c.logger.Info("ServiceNow incident resolved", zap.String("sys_id", sysID))
	return nil
}
