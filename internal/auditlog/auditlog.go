package auditlog

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Manager hands out one append-only log stream per alerting device serial.
// Every state transition and external call outcome for a device lands in
// its own file for audit and debugging.
type Manager struct {
	dir string

	mu      sync.Mutex
	loggers map[string]*zap.Logger
	files   []*os.File
}

// New creates the audit log directory if needed.
func New(dir string) (*Manager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create audit log dir: %w", err)
	}
	return &Manager{
		dir:     dir,
		loggers: make(map[string]*zap.Logger),
	}, nil
}

// For returns the log stream of one device serial, creating it on first use.
// A stream that cannot be opened degrades to a no-op logger rather than
// failing the workflow.
func (m *Manager) For(serial string) *zap.Logger {
	m.mu.Lock()
	defer m.mu.Unlock()

	if l, ok := m.loggers[serial]; ok {
		return l
	}

	path := filepath.Join(m.dir, serial+".log")
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		l := zap.NewNop()
		m.loggers[serial] = l
		return l
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "timestamp"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.AddSync(file),
		zapcore.InfoLevel,
	)
	l := zap.New(core).With(zap.String("serial", serial))

	m.loggers[serial] = l
	m.files = append(m.files, file)
	return l
}

// RunStamp marks the start of a new workflow run in the device's stream.
func (m *Manager) RunStamp(serial string) {
	m.For(serial).Info("==== new run ====")
}

// Close flushes and closes every open stream.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.loggers {
		_ = l.Sync()
	}
	for _, f := range m.files {
		_ = f.Close()
	}
	m.loggers = make(map[string]*zap.Logger)
	m.files = nil
}
