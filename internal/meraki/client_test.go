package meraki_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gve-sw/gve-devnet-meraki-mv-offline-debugger/internal/meraki"
	"github.com/gve-sw/gve-devnet-meraki-mv-offline-debugger/internal/models"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *meraki.Client {
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return meraki.NewClient(server.URL, "test-key", "org-1", zap.NewNop())
}

func writeBody(t *testing.T, w http.ResponseWriter, body any) {
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(body))
}

func TestDeviceStatus_OnlineAndAlertingAreUp(t *testing.T) {
	cases := []struct {
		dashboard string
		want      models.DeviceStatus
	}{
		{"online", models.StatusUp},
		{"alerting", models.StatusUp},
		{"offline", models.StatusDown},
		{"dormant", models.StatusDown},
	}

	for _, tc := range cases {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/organizations/org-1/devices/statuses", r.URL.Path)
			writeBody(t, w, []map[string]string{
				{"serial": "Q2AB-1111-AAAA", "status": tc.dashboard, "mac": "aa:bb:cc:00:11:22"},
			})
		})

		status, mac, err := client.DeviceStatus(context.Background(), "Q2AB-1111-AAAA")
		require.NoError(t, err, tc.dashboard)
		assert.Equal(t, tc.want, status, tc.dashboard)
		assert.Equal(t, "aa:bb:cc:00:11:22", mac)
	}
}

func TestDeviceStatus_NoStatusReported(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeBody(t, w, []map[string]string{})
	})

	_, _, err := client.DeviceStatus(context.Background(), "Q2AB-1111-AAAA")
	assert.Error(t, err)
}

func portStatusesHandler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeBody(t, w, []map[string]any{
			{
				"portId": "3",
				"lldp":   map[string]string{"chassisId": "11:22:33:44:55:66"},
			},
			{
				"portId":   "4",
				"errors":   []string{"Port errors detected"},
				"warnings": []string{"SFP warning"},
				"cdp":      map[string]string{"deviceId": "aabbcc001122"},
			},
		})
	}
}

func TestFindCameraPort_MatchesLLDPChassisID(t *testing.T) {
	client := newTestClient(t, portStatusesHandler(t))

	port, err := client.FindCameraPort(context.Background(), "Q2SW-1111-AAAA", "11:22:33:44:55:66")
	require.NoError(t, err)
	assert.Equal(t, "3", port)
}

func TestFindCameraPort_MatchesCDPWithStrippedMAC(t *testing.T) {
	client := newTestClient(t, portStatusesHandler(t))

	port, err := client.FindCameraPort(context.Background(), "Q2SW-1111-AAAA", "AA:BB:CC:00:11:22")
	require.NoError(t, err)
	assert.Equal(t, "4", port)
}

func TestFindCameraPort_NoMatch(t *testing.T) {
	client := newTestClient(t, portStatusesHandler(t))

	port, err := client.FindCameraPort(context.Background(), "Q2SW-1111-AAAA", "ff:ff:ff:ff:ff:ff")
	require.NoError(t, err)
	assert.Empty(t, port)
}

func TestPortDiagnostics(t *testing.T) {
	client := newTestClient(t, portStatusesHandler(t))

	errs, warns, err := client.PortDiagnostics(context.Background(), "Q2SW-1111-AAAA", "4")
	require.NoError(t, err)
	assert.Equal(t, []string{"Port errors detected"}, errs)
	assert.Equal(t, []string{"SFP warning"}, warns)
}

func TestCyclePort_SendsPortList(t *testing.T) {
	var gotBody map[string]any
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/devices/Q2SW-1111-AAAA/switch/ports/cycle", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		writeBody(t, w, map[string]any{"ports": []string{"4"}})
	})

	require.NoError(t, client.CyclePort(context.Background(), "Q2SW-1111-AAAA", "4"))
	assert.Equal(t, []any{"4"}, gotBody["ports"])
}

func TestCyclePort_ErrorStatus(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	})

	err := client.CyclePort(context.Background(), "Q2SW-1111-AAAA", "4")
	assert.Error(t, err)
}
