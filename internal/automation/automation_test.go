package automation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/halirc/internal/message"
)

// ─── Helpers ────────────────────────────────────────────────────────

func msg(decoded string) message.Message {
	return message.NewBase(message.Fields{Decoded: decoded, Encoded: decoded, Command: decoded})
}

func eventAt(source, decoded string, when time.Time) Event {
	return Event{ID: decoded, Source: source, Message: msg(decoded), When: when}
}

// recorder is an Action that records calls and can be held open.
type recorder struct {
	mu      sync.Mutex
	calls   []string
	started chan string
	release chan struct{}
	err     error
}

func newRecorder() *recorder {
	return &recorder{started: make(chan string, 100)}
}

func (r *recorder) action(name string) Action {
	return func(ctx context.Context, ev Event, args ...string) error {
		r.mu.Lock()
		r.calls = append(r.calls, name)
		release := r.release
		err := r.err
		r.mu.Unlock()

		r.started <- name
		if release != nil {
			select {
			case <-release:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return err
	}
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func (r *recorder) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

// waitStarted waits for the next action start.
func waitStarted(t *testing.T, r *recorder) string {
	t.Helper()
	select {
	case name := <-r.started:
		return name
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for action start")
		return ""
	}
}

// waitIdle waits until the dispatcher has nothing running or queued.
func waitIdle(t *testing.T, d *Dispatcher) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		snap := d.Snapshot()
		if snap.Running == nil && len(snap.Queued) == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("dispatcher did not become idle")
}

// mockObserver records finished occurrences.
type mockObserver struct {
	mu       sync.Mutex
	events   int
	finished []error
}

func (m *mockObserver) EventReceived(Event) {
	m.mu.Lock()
	m.events++
	m.mu.Unlock()
}

func (m *mockObserver) ActionStarted(*Occurrence) {}

func (m *mockObserver) ActionFinished(_ *Occurrence, err error) {
	m.mu.Lock()
	m.finished = append(m.finished, err)
	m.mu.Unlock()
}

func (m *mockObserver) errs() []error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]error(nil), m.finished...)
}

// ─── Trigger matching ───────────────────────────────────────────────

func TestTrigger_Matches(t *testing.T) {
	t0 := time.Now()
	down := Pattern{Source: "lirc", Message: msg("ButtonDown")}
	up := Pattern{Source: "lirc", Message: msg("ButtonUp")}
	anySource := Pattern{Message: msg("ButtonDown")}

	tests := []struct {
		name     string
		patterns []Pattern
		history  []Event
		want     bool
	}{
		{
			name:     "single pattern matches newest",
			patterns: []Pattern{down},
			history:  []Event{eventAt("lirc", "ButtonUp", t0), eventAt("lirc", "ButtonDown", t0)},
			want:     true,
		},
		{
			name:     "single pattern ignores older events",
			patterns: []Pattern{down},
			history:  []Event{eventAt("lirc", "ButtonDown", t0), eventAt("lirc", "ButtonUp", t0)},
			want:     false,
		},
		{
			name:     "sequence within max time",
			patterns: []Pattern{down, up},
			history:  []Event{eventAt("lirc", "ButtonDown", t0), eventAt("lirc", "ButtonUp", t0.Add(900*time.Millisecond))},
			want:     true,
		},
		{
			name:     "sequence too slow",
			patterns: []Pattern{down, up},
			history:  []Event{eventAt("lirc", "ButtonDown", t0), eventAt("lirc", "ButtonUp", t0.Add(1500*time.Millisecond))},
			want:     false,
		},
		{
			name:     "history shorter than patterns",
			patterns: []Pattern{down, up},
			history:  []Event{eventAt("lirc", "ButtonUp", t0)},
			want:     false,
		},
		{
			name:     "wrong source",
			patterns: []Pattern{down},
			history:  []Event{eventAt("denon", "ButtonDown", t0)},
			want:     false,
		},
		{
			name:     "empty source matches any",
			patterns: []Pattern{anySource},
			history:  []Event{eventAt("denon", "ButtonDown", t0)},
			want:     true,
		},
		{
			name:     "nil message matches any message from source",
			patterns: []Pattern{{Source: "denon"}},
			history:  []Event{eventAt("denon", "MV50", t0)},
			want:     true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			trig, err := NewTrigger("t", tt.patterns, func(context.Context, Event, ...string) error { return nil })
			if err != nil {
				t.Fatalf("NewTrigger() error = %v", err)
			}
			if got := trig.Matches(tt.history); got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewTrigger_Errors(t *testing.T) {
	noop := func(context.Context, Event, ...string) error { return nil }
	if _, err := NewTrigger("t", nil, noop); !errors.Is(err, ErrNoPattern) {
		t.Errorf("no patterns error = %v, want ErrNoPattern", err)
	}
	if _, err := NewTrigger("t", []Pattern{{Source: "x"}}, nil); !errors.Is(err, ErrNoAction) {
		t.Errorf("no action error = %v, want ErrNoAction", err)
	}
}

func TestHistory_Bounded(t *testing.T) {
	h := NewHistory(3)
	now := time.Now()
	for _, s := range []string{"a", "b", "c", "d", "e"} {
		h.Append(eventAt("x", s, now))
	}
	events := h.Events()
	if len(events) != 3 || events[0].ID != "c" || events[2].ID != "e" {
		t.Errorf("Events() = %v, want [c d e]", events)
	}
}

// ─── Dispatcher ─────────────────────────────────────────────────────

func TestDispatcher_Debounce(t *testing.T) {
	tests := []struct {
		name      string
		mayRepeat bool
		gap       time.Duration
		want      int
	}{
		{"repeat within debounce runs once", false, 100 * time.Millisecond, 1},
		{"repeat after debounce runs twice", false, 600 * time.Millisecond, 2},
		{"repeatable trigger runs twice", true, 100 * time.Millisecond, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := newRecorder()
			d := NewDispatcher(DispatcherConfig{})
			defer d.Close()

			trig, _ := NewTrigger("vol", []Pattern{{Source: "lirc"}}, rec.action("vol"))
			trig.MayRepeat = tt.mayRepeat

			t0 := time.Now()
			d.Execute(trig, eventAt("lirc", "VolUp", t0))
			d.Execute(trig, eventAt("lirc", "VolUp", t0.Add(tt.gap)))
			waitIdle(t, d)

			if got := rec.count(); got != tt.want {
				t.Errorf("actions run = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestDispatcher_DebounceOnlySameTrigger(t *testing.T) {
	rec := newRecorder()
	d := NewDispatcher(DispatcherConfig{})
	defer d.Close()

	a, _ := NewTrigger("a", []Pattern{{Source: "lirc"}}, rec.action("a"))
	b, _ := NewTrigger("b", []Pattern{{Source: "lirc"}}, rec.action("b"))

	t0 := time.Now()
	d.Execute(a, eventAt("lirc", "x", t0))
	d.Execute(b, eventAt("lirc", "x", t0))
	waitIdle(t, d)

	if got := rec.names(); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("actions = %v, want [a b]", got)
	}
}

func TestDispatcher_SingleFlight(t *testing.T) {
	rec := newRecorder()
	rec.release = make(chan struct{})
	d := NewDispatcher(DispatcherConfig{})
	defer d.Close()

	ev := eventAt("timer", "tick", time.Now())
	d.Enqueue("first", ev, rec.action("first"))
	d.Enqueue("second", ev, rec.action("second"))

	if got := waitStarted(t, rec); got != "first" {
		t.Fatalf("first started = %q", got)
	}
	snap := d.Snapshot()
	if snap.Running == nil || snap.Running.Name != "first" || len(snap.Queued) != 1 {
		t.Fatalf("Snapshot() = %+v, want first running and one queued", snap)
	}
	if rec.count() != 1 {
		t.Fatalf("second action started while first running")
	}

	close(rec.release)
	if got := waitStarted(t, rec); got != "second" {
		t.Errorf("next started = %q, want second", got)
	}
	waitIdle(t, d)
}

func TestDispatcher_FailureDiscardsQueue(t *testing.T) {
	rec := newRecorder()
	obs := &mockObserver{}
	d := NewDispatcher(DispatcherConfig{Observer: obs})
	defer d.Close()

	failing := make(chan struct{})
	failAction := func(ctx context.Context, ev Event, args ...string) error {
		<-failing
		return errors.New("device went away")
	}

	ev := eventAt("timer", "tick", time.Now())
	d.Enqueue("fails", ev, failAction)
	d.Enqueue("discarded", ev, rec.action("discarded"))
	close(failing)
	waitIdle(t, d)

	if rec.count() != 0 {
		t.Errorf("queued action ran after failure")
	}
	if errs := obs.errs(); len(errs) != 1 || errs[0] == nil {
		t.Errorf("finished = %v, want one failure", errs)
	}

	// New work runs normally afterwards.
	d.Enqueue("later", ev, rec.action("later"))
	waitIdle(t, d)
	if rec.count() != 1 {
		t.Errorf("action after failure did not run")
	}
}

func TestDispatcher_Watchdog(t *testing.T) {
	rec := newRecorder()
	obs := &mockObserver{}
	d := NewDispatcher(DispatcherConfig{ActionTimeout: 50 * time.Millisecond, Observer: obs})
	defer d.Close()

	stuckCtx := make(chan context.Context, 1)
	stuck := func(ctx context.Context, ev Event, args ...string) error {
		stuckCtx <- ctx
		<-ctx.Done()
		return ctx.Err()
	}

	ev := eventAt("timer", "tick", time.Now())
	d.Enqueue("stuck", ev, stuck)
	d.Enqueue("next", ev, rec.action("next"))

	ctx := <-stuckCtx
	if d.Check(time.Now()) {
		t.Fatal("Check() cleared an action before the timeout")
	}
	if !d.Check(time.Now().Add(time.Second)) {
		t.Fatal("Check() did not clear the stuck action")
	}
	if got := waitStarted(t, rec); got != "next" {
		t.Errorf("next started = %q", got)
	}
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Error("stuck action context not cancelled")
	}
	waitIdle(t, d)

	// The late error from the stuck action must not discard anything.
	errs := obs.errs()
	if len(errs) < 1 || !errors.Is(errs[0], ErrActionTimeout) {
		t.Errorf("first finished error = %v, want ErrActionTimeout", errs)
	}
}

func TestDispatcher_RunWatchdog(t *testing.T) {
	d := NewDispatcher(DispatcherConfig{
		ActionTimeout:    30 * time.Millisecond,
		WatchdogInterval: 10 * time.Millisecond,
	})
	defer d.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.RunWatchdog(ctx)

	block := make(chan struct{})
	defer close(block)
	d.Enqueue("stuck", eventAt("timer", "x", time.Now()), func(context.Context, Event, ...string) error {
		<-block
		return nil
	})
	waitIdle(t, d)
}

func TestDispatcher_PanicIsFailure(t *testing.T) {
	obs := &mockObserver{}
	d := NewDispatcher(DispatcherConfig{Observer: obs})
	defer d.Close()

	d.Enqueue("boom", eventAt("timer", "x", time.Now()), func(context.Context, Event, ...string) error {
		panic("boom")
	})
	waitIdle(t, d)

	if errs := obs.errs(); len(errs) != 1 || errs[0] == nil {
		t.Errorf("finished = %v, want one error", errs)
	}
}

// ─── Hal ────────────────────────────────────────────────────────────

func TestHal_ButtonDownScenario(t *testing.T) {
	rec := newRecorder()
	hal := New(Config{})
	defer hal.Dispatcher().Close()

	down := Pattern{Source: "lirc", Message: msg("ButtonDown")}
	if _, err := hal.AddTrigger("double", []Pattern{down, down}, rec.action("double")); err != nil {
		t.Fatalf("AddTrigger() error = %v", err)
	}

	t0 := time.Now()
	for i := 0; i < 3; i++ {
		hal.EventReceived(eventAt("lirc", "ButtonDown", t0.Add(time.Duration(i)*100*time.Millisecond)))
	}
	waitIdle(t, hal.Dispatcher())

	if got := rec.count(); got != 1 {
		t.Errorf("actions run = %d, want 1", got)
	}
}

func TestHal_MatchOrderAndStopIfMatch(t *testing.T) {
	rec := newRecorder()
	hal := New(Config{})
	defer hal.Dispatcher().Close()

	p := []Pattern{{Source: "lirc", Message: msg("Power")}}
	if _, err := hal.AddTrigger("first", p, rec.action("first")); err != nil {
		t.Fatal(err)
	}
	stop, err := hal.AddTrigger("second", p, rec.action("second"))
	if err != nil {
		t.Fatal(err)
	}
	stop.StopIfMatch = true
	if _, err := hal.AddTrigger("third", p, rec.action("third")); err != nil {
		t.Fatal(err)
	}

	hal.Emit("lirc", msg("Power"))
	waitIdle(t, hal.Dispatcher())

	got := rec.names()
	if len(got) != 2 || got[0] != "first" || got[1] != "second" {
		t.Errorf("actions = %v, want [first second]", got)
	}
}

func TestHal_AddRepeatableTrigger(t *testing.T) {
	hal := New(Config{})
	defer hal.Dispatcher().Close()

	trig, err := hal.AddRepeatableTrigger("vol", []Pattern{{Source: "lirc"}}, newRecorder().action("vol"))
	if err != nil {
		t.Fatalf("AddRepeatableTrigger() error = %v", err)
	}
	if !trig.MayRepeat {
		t.Error("MayRepeat = false")
	}
}

func TestHal_ObserverSeesEvents(t *testing.T) {
	obs := &mockObserver{}
	hal := New(Config{Observer: obs})
	defer hal.Dispatcher().Close()

	hal.Emit("denon", msg("MV50"))
	hal.Emit("denon", msg("MV51"))

	if obs.events != 2 {
		t.Errorf("observed events = %d, want 2", obs.events)
	}
	if len(hal.History()) != 2 {
		t.Errorf("History() = %d events, want 2", len(hal.History()))
	}
}

// ─── Timers ─────────────────────────────────────────────────────────

func TestWeekday(t *testing.T) {
	tests := []struct {
		date string
		want int
	}{
		{"2026-10-12", 0}, // Monday
		{"2026-10-15", 3},
		{"2026-10-18", 6}, // Sunday
	}
	for _, tt := range tests {
		day, _ := time.Parse("2006-01-02", tt.date)
		if got := Weekday(day); got != tt.want {
			t.Errorf("Weekday(%s) = %d, want %d", tt.date, got, tt.want)
		}
	}
}

func TestSchedule_Validate(t *testing.T) {
	tests := []struct {
		name     string
		schedule Schedule
		wantErr  bool
	}{
		{"empty", Schedule{}, false},
		{"valid", Schedule{Minute: Field{0, 30}, Hour: Field{7}, Weekday: Field{0, 6}}, false},
		{"minute out of range", Schedule{Minute: Field{60}}, true},
		{"weekday out of range", Schedule{Weekday: Field{7}}, true},
		{"day zero", Schedule{Day: Field{0}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.schedule.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidSchedule) {
				t.Errorf("Validate() error = %v, want ErrInvalidSchedule", err)
			}
		})
	}
}

func TestTimer_Due(t *testing.T) {
	at := time.Date(2026, 10, 15, 7, 30, 0, 0, time.Local)
	timer := &Timer{Name: "wake", Schedule: Schedule{Minute: Field{30}, Hour: Field{7}}}

	if timer.Due(at.Add(-time.Minute)) {
		t.Error("Due() at 07:29 = true")
	}
	if !timer.Due(at) {
		t.Fatal("Due() at 07:30 = false")
	}
	if timer.Due(at.Add(20 * time.Second)) {
		t.Error("Due() fired twice within the same minute")
	}
	if !timer.Due(at.Add(24 * time.Hour)) {
		t.Error("Due() next day = false")
	}
}

func TestHal_CheckTimers(t *testing.T) {
	rec := newRecorder()
	hal := New(Config{})
	defer hal.Dispatcher().Close()

	if _, err := hal.AddTimer("always", rec.action("always"), Schedule{}); err != nil {
		t.Fatalf("AddTimer() error = %v", err)
	}
	if _, err := hal.AddTimer("never", rec.action("never"), Schedule{Month: Field{13}}); err == nil {
		t.Error("AddTimer() with invalid schedule error = nil")
	}

	now := time.Now()
	if got := hal.CheckTimers(now); got != 1 {
		t.Errorf("CheckTimers() = %d, want 1", got)
	}
	if got := hal.CheckTimers(now.Add(20 * time.Second)); got != 0 {
		t.Errorf("CheckTimers() again = %d, want 0", got)
	}
	waitIdle(t, hal.Dispatcher())
	if rec.count() != 1 {
		t.Errorf("timer action ran %d times, want 1", rec.count())
	}
}

// mockPending counts LogPending calls.
type mockPending struct {
	mu    sync.Mutex
	calls int
}

func (m *mockPending) LogPending() {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
}

func TestHal_RunChecksQueues(t *testing.T) {
	pending := &mockPending{}
	hal := New(Config{TimerInterval: 10 * time.Millisecond, CheckQueues: true, Pending: pending})

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	if err := hal.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	pending.mu.Lock()
	defer pending.mu.Unlock()
	if pending.calls < 2 {
		t.Errorf("LogPending calls = %d, want at least 2", pending.calls)
	}
}
