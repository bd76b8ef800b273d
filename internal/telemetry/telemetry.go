// Package telemetry fans device and automation activity out to metrics,
// InfluxDB, the journal and the MQTT bridge.
//
// Telemetry implements both device.Observer and automation.Observer. Its
// callbacks run on queue and dispatcher goroutines, so every sink it calls
// must return without waiting on I/O.
package telemetry

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/halirc/internal/automation"
	"github.com/nerrad567/halirc/internal/device"
	"github.com/nerrad567/halirc/internal/infrastructure/metrics"
	"github.com/nerrad567/halirc/internal/journal"
	"github.com/nerrad567/halirc/internal/message"
)

// Logger defines the logging interface used by telemetry.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// PointWriter is satisfied by *influxdb.Client.
type PointWriter interface {
	WriteRequest(device, command string, latency time.Duration, retries int, ok bool)
	WritePacing(device string, wait time.Duration)
	WriteEvent(source, command string, at time.Time)
	WriteAction(name string, duration time.Duration, ok bool)
}

// Recorder is satisfied by *journal.Recorder.
type Recorder interface {
	Record(e journal.Entry)
}

// Publisher mirrors activity to a message bus. Satisfied by *bridge.Bridge.
type Publisher interface {
	PublishEvent(ev automation.Event)
	PublishAction(occ *automation.Occurrence, err error)
}

// Sinks are the optional outputs besides metrics. Nil sinks are skipped.
type Sinks struct {
	Points    PointWriter
	Journal   Recorder
	Publisher Publisher
}

// Config configures a Telemetry.
type Config struct {
	Metrics *metrics.Metrics
	Sinks   Sinks
	Logger  Logger
}

// Telemetry is the observer handed to devices and the dispatcher.
type Telemetry struct {
	cfg Config

	mu    sync.RWMutex
	sinks Sinks
}

var (
	_ device.Observer     = (*Telemetry)(nil)
	_ automation.Observer = (*Telemetry)(nil)
)

// New creates a Telemetry for cfg.
func New(cfg Config) *Telemetry {
	if cfg.Logger == nil {
		cfg.Logger = noopLogger{}
	}
	return &Telemetry{cfg: cfg, sinks: cfg.Sinks}
}

// Attach replaces the sinks. Devices report to t from construction on,
// while InfluxDB, the journal and the bridge connect later at startup.
func (t *Telemetry) Attach(s Sinks) {
	t.mu.Lock()
	t.sinks = s
	t.mu.Unlock()
}

func (t *Telemetry) current() Sinks {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.sinks
}

// IsTimeout reports whether err is a device or action timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, device.ErrTimeout) || errors.Is(err, automation.ErrActionTimeout)
}

func decoded(msg message.Message) string {
	if msg == nil {
		return ""
	}
	return msg.Decoded()
}

func command(msg message.Message) string {
	if msg == nil {
		return ""
	}
	return msg.Command()
}

// RequestFinished records a finished device request. Failed requests are
// journaled, successful ones only counted.
func (t *Telemetry) RequestFinished(dev string, req *device.Request, err error) {
	latency := req.Latency()
	retries := req.Retries()
	sinks := t.current()

	if t.cfg.Metrics != nil {
		t.cfg.Metrics.ObserveRequest(dev, metrics.Result(err, IsTimeout), latency, retries)
	}
	if sinks.Points != nil {
		sinks.Points.WriteRequest(dev, command(req.Message), latency, retries, err == nil)
	}
	if err == nil {
		return
	}

	t.cfg.Logger.Debug("request failed", "device", dev, "request", req.String(), "error", err)
	if sinks.Journal != nil {
		sinks.Journal.Record(journal.Entry{
			Kind:    journal.KindRequest,
			Source:  dev,
			Subject: decoded(req.Message),
			Error:   err.Error(),
			Details: map[string]any{
				"request_id": req.ID,
				"retries":    retries,
			},
		})
	}
}

// PacingWaited records a pacing delay.
func (t *Telemetry) PacingWaited(dev string, wait time.Duration) {
	sinks := t.current()
	if t.cfg.Metrics != nil {
		t.cfg.Metrics.ObservePacing(dev, wait)
	}
	if sinks.Points != nil {
		sinks.Points.WritePacing(dev, wait)
	}
}

// EventReceived records an event routed through the Hal.
func (t *Telemetry) EventReceived(ev automation.Event) {
	sinks := t.current()
	if t.cfg.Metrics != nil {
		t.cfg.Metrics.ObserveEvent(ev.Source)
	}
	if sinks.Points != nil {
		sinks.Points.WriteEvent(ev.Source, decoded(ev.Message), ev.When)
	}
	if sinks.Journal != nil {
		sinks.Journal.Record(journal.Entry{
			Kind:      journal.KindEvent,
			Source:    ev.Source,
			Subject:   decoded(ev.Message),
			CreatedAt: ev.When,
		})
	}
	if sinks.Publisher != nil {
		sinks.Publisher.PublishEvent(ev)
	}
}

// ActionStarted logs the start of an action.
func (t *Telemetry) ActionStarted(occ *automation.Occurrence) {
	t.cfg.Logger.Debug("action started", "action", occ.Name, "args", occ.Args, "event", occ.Event.String())
}

// ActionFinished records a finished, failed or cleared action.
func (t *Telemetry) ActionFinished(occ *automation.Occurrence, err error) {
	var duration time.Duration
	if !occ.StartedAt.IsZero() {
		duration = time.Since(occ.StartedAt)
	}
	sinks := t.current()

	if t.cfg.Metrics != nil {
		t.cfg.Metrics.ObserveAction(occ.Name, duration, err)
	}
	if sinks.Points != nil {
		sinks.Points.WriteAction(occ.Name, duration, err == nil)
	}
	if sinks.Journal != nil {
		entry := journal.Entry{
			Kind:    journal.KindAction,
			Source:  occ.Name,
			Subject: strings.Join(occ.Args, " "),
			Details: map[string]any{
				"occurrence_id": occ.ID,
				"event":         occ.Event.String(),
				"duration_ms":   duration.Milliseconds(),
			},
		}
		if err != nil {
			entry.Error = err.Error()
		}
		sinks.Journal.Record(entry)
	}
	if sinks.Publisher != nil {
		sinks.Publisher.PublishAction(occ, err)
	}
}
