package automation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Dispatcher defaults.
const (
	DefaultDebounce         = 500 * time.Millisecond
	DefaultActionTimeout    = 10 * time.Second
	DefaultWatchdogInterval = time.Second
)

// Logger defines the logging interface used by the automation package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Observer receives automation activity for metrics and journaling.
// Implementations must not block.
type Observer interface {
	EventReceived(ev Event)
	ActionStarted(occ *Occurrence)
	ActionFinished(occ *Occurrence, err error)
}

type noopObserver struct{}

func (noopObserver) EventReceived(Event)               {}
func (noopObserver) ActionStarted(*Occurrence)         {}
func (noopObserver) ActionFinished(*Occurrence, error) {}

// Occurrence is one scheduled execution of an action.
type Occurrence struct {
	ID     string
	Name   string
	Event  Event
	Action Action
	Args   []string

	// Trigger is nil for timers and remote commands.
	Trigger *Trigger

	QueuedAt  time.Time
	StartedAt time.Time

	cancel context.CancelFunc
}

func (o *Occurrence) String() string {
	if len(o.Args) == 0 {
		return fmt.Sprintf("%s (%s)", o.Name, o.Event)
	}
	return fmt.Sprintf("%s %v (%s)", o.Name, o.Args, o.Event)
}

// DispatcherConfig holds the dispatcher settings.
type DispatcherConfig struct {
	// Debounce suppresses a non-repeatable trigger matching again within
	// this time of its previous execution.
	Debounce time.Duration

	// ActionTimeout is how long an action may run before the watchdog
	// clears it.
	ActionTimeout time.Duration

	// WatchdogInterval is how often RunWatchdog checks the running action.
	WatchdogInterval time.Duration

	Logger   Logger
	Observer Observer
}

// Dispatcher runs actions one at a time in the order they were queued.
//
// A failed action discards everything queued behind it. An action that
// runs longer than ActionTimeout is cleared by the watchdog so the rest
// of the system does not stall.
//
// Thread Safety: all methods are safe for concurrent use.
type Dispatcher struct {
	cfg    DispatcherConfig
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	running  *Occurrence
	queued   []*Occurrence
	previous *Occurrence
	closed   bool
}

// NewDispatcher creates an idle dispatcher.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	if cfg.Debounce == 0 {
		cfg.Debounce = DefaultDebounce
	}
	if cfg.ActionTimeout <= 0 {
		cfg.ActionTimeout = DefaultActionTimeout
	}
	if cfg.WatchdogInterval <= 0 {
		cfg.WatchdogInterval = DefaultWatchdogInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = noopLogger{}
	}
	if cfg.Observer == nil {
		cfg.Observer = noopObserver{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{cfg: cfg, ctx: ctx, cancel: cancel}
}

// Execute queues the action of t for ev unless it is debounced. It
// reports whether an occurrence was queued.
func (d *Dispatcher) Execute(t *Trigger, ev Event) bool {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return false
	}
	if !t.MayRepeat && d.previous != nil && d.previous.Trigger == t &&
		ev.When.Sub(d.previous.Event.When) < d.cfg.Debounce {
		d.mu.Unlock()
		d.cfg.Logger.Debug("action ignored, repeated too fast", "trigger", t.Name, "event", ev.String())
		return false
	}
	occ := d.newOccurrence(t.Name, ev, t.Action, t.Args)
	occ.Trigger = t
	d.queued = append(d.queued, occ)
	d.previous = occ
	d.mu.Unlock()

	d.cfg.Logger.Debug("action queued", "occurrence", occ.ID, "action", occ.String())
	d.run()
	return true
}

// Enqueue queues an action without debouncing. Timers and remote
// commands use it.
func (d *Dispatcher) Enqueue(name string, ev Event, action Action, args ...string) *Occurrence {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	occ := d.newOccurrence(name, ev, action, args)
	d.queued = append(d.queued, occ)
	d.mu.Unlock()

	d.cfg.Logger.Debug("action queued", "occurrence", occ.ID, "action", occ.String())
	d.run()
	return occ
}

func (d *Dispatcher) newOccurrence(name string, ev Event, action Action, args []string) *Occurrence {
	return &Occurrence{
		ID:       uuid.NewString(),
		Name:     name,
		Event:    ev,
		Action:   action,
		Args:     args,
		QueuedAt: time.Now(),
	}
}

// run starts the next queued occurrence if nothing is running.
func (d *Dispatcher) run() {
	d.mu.Lock()
	if d.closed || d.running != nil || len(d.queued) == 0 {
		d.mu.Unlock()
		return
	}
	occ := d.queued[0]
	d.queued[0] = nil
	d.queued = d.queued[1:]

	ctx, cancel := context.WithCancel(d.ctx)
	occ.cancel = cancel
	occ.StartedAt = time.Now()
	d.running = occ
	d.mu.Unlock()

	d.cfg.Logger.Debug("action start", "occurrence", occ.ID, "action", occ.String())
	d.cfg.Observer.ActionStarted(occ)

	go func() {
		err := d.invoke(ctx, occ)
		d.finished(occ, err)
	}()
}

// invoke runs the action, turning a panic into an error.
func (d *Dispatcher) invoke(ctx context.Context, occ *Occurrence) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("action %s panicked: %v", occ.Name, r)
		}
	}()
	return occ.Action(ctx, occ.Event, occ.Args...)
}

// finished handles the completion of occ. Completions for an occurrence
// that is no longer running are ignored.
func (d *Dispatcher) finished(occ *Occurrence, err error) {
	d.mu.Lock()
	if d.running != occ {
		d.mu.Unlock()
		d.cfg.Logger.Debug("late action completion ignored", "occurrence", occ.ID, "error", err)
		return
	}
	d.running = nil
	occ.cancel()
	var discarded []*Occurrence
	if err != nil {
		discarded = d.queued
		d.queued = nil
	}
	d.mu.Unlock()

	duration := time.Since(occ.StartedAt)
	if err != nil {
		d.cfg.Logger.Error("action failed, discarding queued actions",
			"occurrence", occ.ID,
			"action", occ.String(),
			"error", err,
			"discarded", len(discarded),
			"duration_ms", duration.Milliseconds(),
		)
	} else {
		d.cfg.Logger.Debug("action done",
			"occurrence", occ.ID,
			"action", occ.String(),
			"duration_ms", duration.Milliseconds(),
		)
	}
	d.cfg.Observer.ActionFinished(occ, err)

	d.run()
}

// Check clears the running occurrence if it exceeded ActionTimeout at
// now. It reports whether it cleared one. The cleared action's context
// is cancelled; device requests it pushed stay queued.
func (d *Dispatcher) Check(now time.Time) bool {
	d.mu.Lock()
	occ := d.running
	if occ == nil || now.Sub(occ.StartedAt) < d.cfg.ActionTimeout {
		d.mu.Unlock()
		return false
	}
	d.running = nil
	occ.cancel()
	d.mu.Unlock()

	d.cfg.Logger.Error("action cancelled, took too long",
		"occurrence", occ.ID,
		"action", occ.String(),
		"running_for", now.Sub(occ.StartedAt).String(),
	)
	d.cfg.Observer.ActionFinished(occ, fmt.Errorf("%w: %s", ErrActionTimeout, occ.Name))

	d.run()
	return true
}

// RunWatchdog calls Check every WatchdogInterval until ctx is done.
func (d *Dispatcher) RunWatchdog(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.WatchdogInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			d.Check(now)
		}
	}
}

// Close cancels the running action and drops everything queued.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	dropped := d.queued
	d.queued = nil
	d.mu.Unlock()

	d.cancel()
	for _, occ := range dropped {
		d.cfg.Observer.ActionFinished(occ, ErrDispatcherClosed)
	}
}

// OccurrenceInfo describes an occurrence for diagnostics.
type OccurrenceInfo struct {
	ID      string    `json:"id"`
	Name    string    `json:"name"`
	Event   string    `json:"event"`
	Args    []string  `json:"args,omitempty"`
	Queued  time.Time `json:"queued_at"`
	Started time.Time `json:"started_at,omitempty"`
}

// DispatcherSnapshot describes the dispatcher state.
type DispatcherSnapshot struct {
	Running *OccurrenceInfo  `json:"running,omitempty"`
	Queued  []OccurrenceInfo `json:"queued"`
}

// Snapshot returns the current dispatcher state.
func (d *Dispatcher) Snapshot() DispatcherSnapshot {
	d.mu.Lock()
	defer d.mu.Unlock()

	snap := DispatcherSnapshot{Queued: make([]OccurrenceInfo, 0, len(d.queued))}
	if d.running != nil {
		info := d.running.info()
		snap.Running = &info
	}
	for _, occ := range d.queued {
		snap.Queued = append(snap.Queued, occ.info())
	}
	return snap
}

func (o *Occurrence) info() OccurrenceInfo {
	return OccurrenceInfo{
		ID:      o.ID,
		Name:    o.Name,
		Event:   o.Event.String(),
		Args:    o.Args,
		Queued:  o.QueuedAt,
		Started: o.StartedAt,
	}
}
