package device

import (
	"fmt"
	"sync"
)

// Registry holds every device of the process by name.
//
// Devices register once at startup and stay for the process lifetime.
// The registry is used for lookups when wiring triggers and for the
// periodic dump of pending requests.
//
// All public methods are thread-safe.
type Registry struct {
	mu      sync.RWMutex
	devices map[string]*Device
	order   []string
	logger  Logger
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		devices: make(map[string]*Device),
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// Register adds d. Names must be unique.
func (r *Registry) Register(d *Device) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.devices[d.Name()]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateDevice, d.Name())
	}
	r.devices[d.Name()] = d
	r.order = append(r.order, d.Name())
	return nil
}

// Get returns the device with the given name.
func (r *Registry) Get(name string) (*Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.devices[name]
	return d, ok
}

// All returns the devices in registration order.
func (r *Registry) All() []*Device {
	r.mu.RLock()
	defer r.mu.RUnlock()

	devices := make([]*Device, 0, len(r.order))
	for _, name := range r.order {
		devices = append(devices, r.devices[name])
	}
	return devices
}

// Pending returns a queue snapshot per device.
func (r *Registry) Pending() []Snapshot {
	devices := r.All()
	snaps := make([]Snapshot, 0, len(devices))
	for _, d := range devices {
		snaps = append(snaps, d.Queue().Snapshot())
	}
	return snaps
}

// LogPending logs every request still running or queued. Requests that
// stay here across several checks point at a wedged device.
func (r *Registry) LogPending() {
	for _, snap := range r.Pending() {
		if snap.Running != nil {
			r.logger.Debug("running request",
				"device", snap.Device,
				"message", snap.Running.Message,
				"sent", snap.Running.Sent,
				"age", snap.Running.Age,
			)
		}
		for _, q := range snap.Queued {
			r.logger.Debug("open request",
				"device", snap.Device,
				"message", q.Message,
				"age", q.Age,
			)
		}
	}
}

// Close closes all devices in reverse registration order.
func (r *Registry) Close() error {
	devices := r.All()
	var firstErr error
	for i := len(devices) - 1; i >= 0; i-- {
		if err := devices[i].Close(); err != nil {
			r.logger.Warn("closing device", "device", devices[i].Name(), "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
