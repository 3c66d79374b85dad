package auditlog_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gve-sw/gve-devnet-meraki-mv-offline-debugger/internal/auditlog"
)

func TestFor_WritesPerSerialFile(t *testing.T) {
	dir := t.TempDir()
	m, err := auditlog.New(dir)
	require.NoError(t, err)

	m.For("Q2AB-1111-AAAA").Info("remediation session started")
	m.For("Q2AB-2222-BBBB").Info("ticket opened")
	m.Close()

	data, err := os.ReadFile(filepath.Join(dir, "Q2AB-1111-AAAA.log"))
	require.NoError(t, err)

	var entry map[string]any
	line := strings.SplitN(strings.TrimSpace(string(data)), "\n", 2)[0]
	require.NoError(t, json.Unmarshal([]byte(line), &entry))
	assert.Equal(t, "remediation session started", entry["msg"])
	assert.Equal(t, "Q2AB-1111-AAAA", entry["serial"])

	_, err = os.Stat(filepath.Join(dir, "Q2AB-2222-BBBB.log"))
	assert.NoError(t, err)
}

func TestFor_ReturnsSameLogger(t *testing.T) {
	m, err := auditlog.New(t.TempDir())
	require.NoError(t, err)
	defer m.Close()

	assert.Same(t, m.For("Q2AB-1111-AAAA"), m.For("Q2AB-1111-AAAA"))
}

func TestRunStamp_AppendsAcrossRuns(t *testing.T) {
	dir := t.TempDir()

	m, err := auditlog.New(dir)
	require.NoError(t, err)
	m.RunStamp("Q2AB-1111-AAAA")
	m.Close()

	m, err = auditlog.New(dir)
	require.NoError(t, err)
	m.RunStamp("Q2AB-1111-AAAA")
	m.Close()

	data, err := os.ReadFile(filepath.Join(dir, "Q2AB-1111-AAAA.log"))
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(string(data), "==== new run ===="))
}
