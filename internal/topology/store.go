package topology

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gve-sw/gve-devnet-meraki-mv-offline-debugger/internal/models"
)

var (
	ErrNotFound = errors.New("device not found")
	// ErrDepthExceeded reports a parent chain deeper than the fixed
	// router -> switch -> camera tree allows.
	ErrDepthExceeded = errors.New("parent chain exceeds tree depth")
)

// maxParentHops is the depth bound of the 3-tier tree: a camera resolves
// through at most a switch and a router.
const maxParentHops = 2

// IntegrityError describes a malformed parent/child relationship found while
// building the topology. The offending device is excluded; the rest of the
// topology still loads.
type IntegrityError struct {
	Serial string
	Reason string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("topology integrity error for %s: %s", e.Serial, e.Reason)
}

// Store holds the device graph and per-device last known status. Reads and
// writes are keyed by serial; status updates are last-write-wins per device.
type Store struct {
	mu      sync.RWMutex
	devices map[string]*models.Device
	// children is derived once at build time; the tree shape never changes
	// between bootstraps.
	children map[string][]string
	logger   *zap.Logger
}

// Build validates the device records and constructs a store. Cameras must
// hang off a known switch and switches off a known router (or no parent for
// a standalone switch). Violations are returned as IntegrityErrors and the
// offending devices excluded. An empty resulting topology is an error: the
// service must not run against a topology that silently loaded nothing.
func Build(devices []models.Device, logger *zap.Logger) (*Store, []error) {
	s := &Store{
		devices:  make(map[string]*models.Device, len(devices)),
		children: make(map[string][]string),
		logger:   logger,
	}

	bySerial := make(map[string]models.Device, len(devices))
	for _, d := range devices {
		bySerial[d.Serial] = d
	}

	var integrity []error
	for _, d := range devices {
		if err := validate(d, bySerial); err != nil {
			integrity = append(integrity, err)
			logger.Warn("Excluding device from topology",
				zap.String("serial", d.Serial),
				zap.Error(err),
			)
			continue
		}
		dev := d
		if dev.LastStatusChangeAt.IsZero() {
			dev.LastStatusChangeAt = time.Now()
		}
		s.devices[dev.Serial] = &dev
		if dev.ParentSerial != "" {
			s.children[dev.ParentSerial] = append(s.children[dev.ParentSerial], dev.Serial)
		}
	}

	return s, integrity
}

func validate(d models.Device, bySerial map[string]models.Device) error {
	switch d.Kind {
	case models.KindRouter:
		if d.ParentSerial != "" {
			return &IntegrityError{Serial: d.Serial, Reason: "router must not have a parent"}
		}
	case models.KindSwitch:
		if d.ParentSerial != "" {
			parent, ok := bySerial[d.ParentSerial]
			if !ok {
				return &IntegrityError{Serial: d.Serial, Reason: "switch parent " + d.ParentSerial + " is unknown"}
			}
			if parent.Kind != models.KindRouter {
				return &IntegrityError{Serial: d.Serial, Reason: "switch parent " + d.ParentSerial + " is not a router"}
			}
		}
	case models.KindCamera:
		if d.ParentSerial == "" {
			return &IntegrityError{Serial: d.Serial, Reason: "camera has no parent switch"}
		}
		parent, ok := bySerial[d.ParentSerial]
		if !ok {
			return &IntegrityError{Serial: d.Serial, Reason: "camera parent " + d.ParentSerial + " is unknown"}
		}
		if parent.Kind != models.KindSwitch {
			return &IntegrityError{Serial: d.Serial, Reason: "camera parent " + d.ParentSerial + " is not a switch"}
		}
	default:
		return &IntegrityError{Serial: d.Serial, Reason: fmt.Sprintf("unknown device kind %q", d.Kind)}
	}
	return nil
}

// Size returns the number of devices in the store.
func (s *Store) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.devices)
}

// Get returns a copy of the device record.
func (s *Store) Get(serial string) (models.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.devices[serial]
	if !ok {
		return models.Device{}, fmt.Errorf("%w: %s", ErrNotFound, serial)
	}
	return *d, nil
}

// SetStatus records the last known status of a device. The change timestamp
// only moves on actual transitions so the sweeper can measure how long a
// device has been continuously up.
func (s *Store) SetStatus(serial string, status models.DeviceStatus) error {
	return s.SetStatusAt(serial, status, time.Now())
}

// SetStatusAt is SetStatus with an explicit observation time.
func (s *Store) SetStatusAt(serial string, status models.DeviceStatus, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.devices[serial]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, serial)
	}
	if d.Status != status {
		d.Status = status
		d.LastStatusChangeAt = at
	}
	return nil
}

// ChildrenOf returns copies of the devices directly attached to serial.
func (s *Store) ChildrenOf(serial string) []models.Device {
	s.mu.RLock()
	defer s.mu.RUnlock()
	serials := s.children[serial]
	out := make([]models.Device, 0, len(serials))
	for _, cs := range serials {
		if d, ok := s.devices[cs]; ok {
			out = append(out, *d)
		}
	}
	return out
}

// ResolveParentChain returns the ancestors of serial, nearest first, up to
// the root. A chain deeper than the fixed tree depth is a data-integrity
// error, not something to silently truncate.
func (s *Store) ResolveParentChain(serial string) ([]models.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.devices[serial]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, serial)
	}

	var chain []models.Device
	current := d
	for hops := 0; current.ParentSerial != ""; hops++ {
		if hops >= maxParentHops {
			return nil, fmt.Errorf("%w: %s", ErrDepthExceeded, serial)
		}
		parent, ok := s.devices[current.ParentSerial]
		if !ok {
			return nil, fmt.Errorf("%w: %s (parent of %s)", ErrNotFound, current.ParentSerial, current.Serial)
		}
		chain = append(chain, *parent)
		current = parent
	}
	return chain, nil
}
