package automation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/halirc/internal/message"
)

// DefaultTimerInterval is how often timers are evaluated.
const DefaultTimerInterval = 20 * time.Second

// PendingReporter logs requests still waiting on devices.
type PendingReporter interface {
	LogPending()
}

// Config holds the Hal settings.
type Config struct {
	HistorySize   int
	TimerInterval time.Duration

	// CheckQueues logs pending device requests on every timer tick.
	CheckQueues bool
	Pending     PendingReporter

	Dispatcher DispatcherConfig

	Logger   Logger
	Observer Observer
}

// Hal routes events to triggers and runs timers.
//
// Every event is appended to the history, then each trigger is matched
// against the history in registration order. Matching triggers hand
// their action to the Dispatcher.
type Hal struct {
	cfg        Config
	dispatcher *Dispatcher
	history    *History

	mu       sync.Mutex
	triggers []*Trigger
	timers   []*Timer
}

// New creates a Hal with its own dispatcher.
func New(cfg Config) *Hal {
	if cfg.TimerInterval <= 0 {
		cfg.TimerInterval = DefaultTimerInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = noopLogger{}
	}
	if cfg.Observer == nil {
		cfg.Observer = noopObserver{}
	}
	if cfg.Dispatcher.Logger == nil {
		cfg.Dispatcher.Logger = cfg.Logger
	}
	if cfg.Dispatcher.Observer == nil {
		cfg.Dispatcher.Observer = cfg.Observer
	}
	return &Hal{
		cfg:        cfg,
		dispatcher: NewDispatcher(cfg.Dispatcher),
		history:    NewHistory(cfg.HistorySize),
	}
}

// Dispatcher returns the action dispatcher.
func (h *Hal) Dispatcher() *Dispatcher { return h.dispatcher }

// History returns the recent events, oldest first.
func (h *Hal) History() []Event { return h.history.Events() }

// Emit wraps msg from source into an event and routes it.
func (h *Hal) Emit(source string, msg message.Message) {
	h.EventReceived(NewEvent(source, msg))
}

// EventReceived is the entry point for all events.
func (h *Hal) EventReceived(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.cfg.Logger.Debug("event received", "event", ev.String(), "id", ev.ID)
	h.cfg.Observer.EventReceived(ev)

	events := h.history.Append(ev)
	for _, t := range h.triggers {
		if !t.Matches(events) {
			continue
		}
		h.dispatcher.Execute(t, ev)
		if t.StopIfMatch {
			break
		}
	}
}

// AddTrigger registers a trigger running action with args when the
// newest events match patterns.
func (h *Hal) AddTrigger(name string, patterns []Pattern, action Action, args ...string) (*Trigger, error) {
	return h.addTrigger(false, name, patterns, action, args)
}

// AddRepeatableTrigger is AddTrigger without debouncing, for buttons
// that are held down such as volume.
func (h *Hal) AddRepeatableTrigger(name string, patterns []Pattern, action Action, args ...string) (*Trigger, error) {
	return h.addTrigger(true, name, patterns, action, args)
}

func (h *Hal) addTrigger(mayRepeat bool, name string, patterns []Pattern, action Action, args []string) (*Trigger, error) {
	t, err := NewTrigger(name, patterns, action, args...)
	if err != nil {
		return nil, err
	}
	t.MayRepeat = mayRepeat
	h.mu.Lock()
	h.triggers = append(h.triggers, t)
	h.mu.Unlock()
	return t, nil
}

// AddTimer registers an action that runs whenever schedule matches.
func (h *Hal) AddTimer(name string, action Action, schedule Schedule, args ...string) (*Timer, error) {
	if action == nil {
		return nil, fmt.Errorf("%w: timer %q", ErrNoAction, name)
	}
	if err := schedule.Validate(); err != nil {
		return nil, fmt.Errorf("timer %q: %w", name, err)
	}
	t := &Timer{Name: name, Schedule: schedule, Action: action, Args: args}
	h.mu.Lock()
	h.timers = append(h.timers, t)
	h.mu.Unlock()
	return t, nil
}

// Triggers returns the registered triggers in evaluation order.
func (h *Hal) Triggers() []*Trigger {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*Trigger(nil), h.triggers...)
}

// Timers returns the registered timers.
func (h *Hal) Timers() []*Timer {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*Timer(nil), h.timers...)
}

// CheckTimers queues the action of every timer due at now.
func (h *Hal) CheckTimers(now time.Time) int {
	fired := 0
	for _, t := range h.Timers() {
		if !t.Due(now) {
			continue
		}
		ev := Event{ID: t.Name + "@" + now.Format(time.RFC3339), Source: "timer", When: now}
		h.cfg.Logger.Debug("timer fired", "timer", t.Name, "schedule", t.Schedule.String())
		h.dispatcher.Enqueue(t.Name, ev, t.Action, t.Args...)
		fired++
	}
	return fired
}

// Run evaluates timers every TimerInterval and runs the dispatcher
// watchdog until ctx is cancelled. The dispatcher is closed on return.
func (h *Hal) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		h.dispatcher.RunWatchdog(ctx)
	}()

	h.cfg.Logger.Info("hal running",
		"triggers", len(h.Triggers()),
		"timers", len(h.Timers()),
		"timer_interval", h.cfg.TimerInterval.String(),
	)

	h.tick(time.Now())
	ticker := time.NewTicker(h.cfg.TimerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			h.dispatcher.Close()
			h.cfg.Logger.Info("hal stopped")
			return nil
		case now := <-ticker.C:
			h.tick(now)
		}
	}
}

func (h *Hal) tick(now time.Time) {
	h.CheckTimers(now)
	if h.cfg.CheckQueues && h.cfg.Pending != nil {
		h.cfg.Pending.LogPending()
	}
}
