package servicenow

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gve-sw/gve-devnet-meraki-mv-offline-debugger/internal/models"
)

func TestSeverity(t *testing.T) {
	cases := []struct {
		alertType string
		impact    string
		urgency   string
	}{
		{"cameras went down", "2", "3"},
		{"switches went down", "2", "2"},
		{"appliances went down", "2", "1"},
		{"Camera may have critical hardware failure", "2", "1"},
		{"something else", "3", "3"},
	}
	for _, tc := range cases {
		impact, urgency := severity(tc.alertType)
		assert.Equal(t, tc.impact, impact, tc.alertType)
		assert.Equal(t, tc.urgency, urgency, tc.alertType)
	}
}

type snowFake struct {
	t             *testing.T
	incidentState string
	created       map[string]string
	resolved      map[string]string
	callerLookups int
}

func (f *snowFake) handler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.URL.Path == "/api/now/table/sys_user":
		f.callerLookups++
		_ = json.NewEncoder(w).Encode(map[string]any{
			"result": []map[string]string{{"name": "MV Debugger"}},
		})
	case r.URL.Path == "/api/now/table/incident" && r.Method == http.MethodPost:
		require.NoError(f.t, json.NewDecoder(r.Body).Decode(&f.created))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"result": map[string]string{"sys_id": "sys-1", "number": "INC0001"},
		})
	case r.URL.Path == "/api/now/table/incident" && r.Method == http.MethodGet:
		_ = json.NewEncoder(w).Encode(map[string]any{
			"result": []map[string]string{{"sys_id": "sys-1", "state": f.incidentState}},
		})
	case r.URL.Path == "/api/now/table/incident/sys-1" && r.Method == http.MethodPut:
		require.NoError(f.t, json.NewDecoder(r.Body).Decode(&f.resolved))
		_ = json.NewEncoder(w).Encode(map[string]any{"result": map[string]string{}})
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func newFakeInstance(t *testing.T) (*Client, *snowFake) {
	fake := &snowFake{t: t, incidentState: "2"}
	server := httptest.NewServer(http.HandlerFunc(fake.handler))
	t.Cleanup(server.Close)
	return NewClient(server.URL, "svc-user", "svc-pass", zap.NewNop()), fake
}

func TestCreateIncident(t *testing.T) {
	client, fake := newFakeInstance(t)

	sysID, err := client.CreateIncident(context.Background(), &models.Ticket{
		ID:               "ticket-1",
		RootDeviceSerial: "S1",
		RootDeviceKind:   models.KindSwitch,
		AlertType:        "switches went down",
		Description:      "switch S1 went down",
		Status:           models.TicketOpen,
		CreatedAt:        time.Now(),
	})
	require.NoError(t, err)
	assert.Equal(t, "sys-1", sysID)

	assert.Equal(t, "MV Debugger", fake.created["caller_id"])
	assert.Equal(t, "2", fake.created["impact"])
	assert.Equal(t, "2", fake.created["urgency"])
	assert.Equal(t, "switches went down (S1)", fake.created["short_description"])
	assert.Contains(t, fake.created["description"], "switch S1 went down")
}

func TestCreateIncident_CallerCached(t *testing.T) {
	client, fake := newFakeInstance(t)
	ctx := context.Background()

	ticket := &models.Ticket{ID: "ticket-1", RootDeviceSerial: "S1", AlertType: "switches went down"}
	_, err := client.CreateIncident(ctx, ticket)
	require.NoError(t, err)
	_, err = client.CreateIncident(ctx, ticket)
	require.NoError(t, err)

	assert.Equal(t, 1, fake.callerLookups)
}

func TestResolveIncident(t *testing.T) {
	client, fake := newFakeInstance(t)

	require.NoError(t, client.ResolveIncident(context.Background(), "sys-1", "device back online"))
	assert.Equal(t, "6", fake.resolved["state"])
	assert.Equal(t, "device back online", fake.resolved["comments"])
}

func TestResolveIncident_AlreadyClosedSkipped(t *testing.T) {
	client, fake := newFakeInstance(t)
	fake.incidentState = "7"

	require.NoError(t, client.ResolveIncident(context.Background(), "sys-1", "device back online"))
	assert.Empty(t, fake.resolved)
}
