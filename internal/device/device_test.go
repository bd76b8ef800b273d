package device

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/halirc/internal/message"
)

// ─── Test doubles ───────────────────────────────────────────────────

// lineCodec uses the first two characters as command. A trailing "?"
// makes a question.
type lineCodec struct{}

func (lineCodec) build(s string) (message.Message, error) {
	if len(s) < 2 {
		return nil, message.ErrUndecodable
	}
	question := strings.HasSuffix(s, "?")
	value := strings.TrimSuffix(s[2:], "?")
	return message.NewBase(message.Fields{
		Decoded:  s,
		Encoded:  s,
		Command:  s[:2],
		Value:    value,
		Question: question,
	}), nil
}

func (c lineCodec) Decode(s string) (message.Message, error) { return c.build(s) }
func (c lineCodec) Parse(s string) (message.Message, error)  { return c.build(s) }
func (c lineCodec) Question(cmd string) (message.Message, error) {
	return c.build(cmd + "?")
}

type write struct {
	data string
	at   time.Time
}

// fakeTransport records writes and optionally answers them.
type fakeTransport struct {
	mu           sync.Mutex
	writes       []write
	receiver     func(string)
	disconnected bool
	openErr      error
	respond      func(data string) []string
	notify       chan struct{}
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{notify: make(chan struct{}, 100)}
}

func (f *fakeTransport) Open(context.Context) error { return f.openErr }

func (f *fakeTransport) Write(data []byte) error {
	f.mu.Lock()
	f.writes = append(f.writes, write{data: string(data), at: time.Now()})
	respond := f.respond
	receiver := f.receiver
	f.mu.Unlock()

	f.notify <- struct{}{}
	if respond != nil && receiver != nil {
		for _, line := range respond(strings.TrimSuffix(string(data), "\r")) {
			receiver(line)
		}
	}
	return nil
}

func (f *fakeTransport) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.disconnected
}

func (f *fakeTransport) SetReceiver(fn func(string)) {
	f.mu.Lock()
	f.receiver = fn
	f.mu.Unlock()
}

func (f *fakeTransport) Close() error { return nil }

func (f *fakeTransport) written() []write {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]write(nil), f.writes...)
}

func (f *fakeTransport) data() []string {
	var out []string
	for _, w := range f.written() {
		out = append(out, w.data)
	}
	return out
}

// waitWrites blocks until n writes happened.
func waitWrites(t *testing.T, f *fakeTransport, n int) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for len(f.written()) < n {
		select {
		case <-f.notify:
		case <-deadline:
			t.Fatalf("timed out waiting for %d writes, got %v", n, f.data())
		}
	}
}

// recordingSink collects emitted events.
type recordingSink struct {
	mu     sync.Mutex
	events []string
}

func (s *recordingSink) Emit(source string, msg message.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, source+":"+msg.Decoded())
}

func (s *recordingSink) all() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.events...)
}

// echoAnswers answers a question "XY?" with "XY" + value.
func echoAnswers(value string) func(string) []string {
	return func(data string) []string {
		if strings.HasSuffix(data, "?") {
			return []string{strings.TrimSuffix(data, "?") + value}
		}
		return []string{data}
	}
}

func newTestDevice(t *testing.T, ft *fakeTransport, mutate func(*Config)) *Device {
	t.Helper()
	cfg := Config{
		Name:      "amp",
		Codec:     lineCodec{},
		Transport: ft,
		EOL:       "\r",
		Timeout:   50 * time.Millisecond,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	dev, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { dev.Close() })
	return dev
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// ─── Construction ───────────────────────────────────────────────────

func TestNew_RequiredFields(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"missing name", Config{Codec: lineCodec{}, Transport: newFakeTransport()}},
		{"missing codec", Config{Name: "x", Transport: newFakeTransport()}},
		{"missing transport", Config{Name: "x", Codec: lineCodec{}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.cfg); err == nil {
				t.Error("New() error = nil, want error")
			}
		})
	}
}

// ─── Queue behaviour ────────────────────────────────────────────────

func TestQueue_FIFO(t *testing.T) {
	ft := newFakeTransport()
	dev := newTestDevice(t, ft, nil)
	ctx := testContext(t)

	var reqs []*Request
	for _, cmd := range []string{"MV50", "MUON", "SIDVD"} {
		msg, err := dev.Message(cmd)
		if err != nil {
			t.Fatalf("Message(%q) error = %v", cmd, err)
		}
		reqs = append(reqs, dev.Enqueue(msg, FireAndForget))
	}
	for _, r := range reqs {
		if _, err := r.Wait(ctx); err != nil {
			t.Fatalf("Wait() error = %v", err)
		}
	}

	want := []string{"MV50\r", "MUON\r", "SIDVD\r"}
	got := ft.data()
	if len(got) != len(want) {
		t.Fatalf("writes = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("write[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestQueue_AnswerCompletesRequest(t *testing.T) {
	ft := newFakeTransport()
	ft.respond = echoAnswers("45")
	dev := newTestDevice(t, ft, nil)

	answer, err := dev.Ask(testContext(t), "MV")
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if answer.Value() != "45" {
		t.Errorf("answer value = %q, want %q", answer.Value(), "45")
	}
	if dev.Queue().Running() != nil {
		t.Error("Running() != nil after answer")
	}
}

func TestQueue_RetryThenTimeout(t *testing.T) {
	ft := newFakeTransport()
	dev := newTestDevice(t, ft, func(c *Config) { c.Timeout = 20 * time.Millisecond })

	_, err := dev.Push(testContext(t), "MV50")
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Push() error = %v, want ErrTimeout", err)
	}
	if got := len(ft.written()); got != 1+DefaultMaxRetries {
		t.Errorf("writes = %d, want %d", got, 1+DefaultMaxRetries)
	}
}

func TestQueue_NoRetries(t *testing.T) {
	ft := newFakeTransport()
	dev := newTestDevice(t, ft, func(c *Config) {
		c.Timeout = 20 * time.Millisecond
		c.MaxRetries = -1
	})

	if _, err := dev.Push(testContext(t), "MV50"); !errors.Is(err, ErrTimeout) {
		t.Fatalf("Push() error = %v, want ErrTimeout", err)
	}
	if got := len(ft.written()); got != 1 {
		t.Errorf("writes = %d, want 1", got)
	}
}

func TestQueue_FailureClearsQueue(t *testing.T) {
	ft := newFakeTransport()
	dev := newTestDevice(t, ft, func(c *Config) {
		c.Timeout = 30 * time.Millisecond
		c.MaxRetries = -1
	})
	ctx := testContext(t)

	first, _ := dev.Message("PWON")
	second, _ := dev.Message("MV50")
	r1 := dev.Enqueue(first, 0)
	r2 := dev.Enqueue(second, 0)

	if _, err := r1.Wait(ctx); !errors.Is(err, ErrTimeout) {
		t.Errorf("first error = %v, want ErrTimeout", err)
	}
	if _, err := r2.Wait(ctx); !errors.Is(err, ErrQueueCleared) {
		t.Errorf("second error = %v, want ErrQueueCleared", err)
	}
	if got := ft.data(); len(got) != 1 || got[0] != "PWON\r" {
		t.Errorf("writes = %v, want only PWON", got)
	}

	// The queue accepts new work afterwards.
	ft.mu.Lock()
	ft.respond = echoAnswers("")
	ft.mu.Unlock()
	if _, err := dev.Push(ctx, "MUON"); err != nil {
		t.Errorf("Push() after clear error = %v", err)
	}
}

func TestQueue_Pacing(t *testing.T) {
	const gap = 60 * time.Millisecond
	ft := newFakeTransport()
	dev := newTestDevice(t, ft, func(c *Config) {
		c.Delay = func(prev, next *Request) time.Duration {
			if prev.Message.Command() == "PW" {
				return gap
			}
			return 0
		}
	})
	ctx := testContext(t)

	if err := dev.PushFireAndForget(ctx, "PWON"); err != nil {
		t.Fatalf("PushFireAndForget() error = %v", err)
	}
	if err := dev.PushFireAndForget(ctx, "MV50"); err != nil {
		t.Fatalf("PushFireAndForget() error = %v", err)
	}

	w := ft.written()
	if len(w) != 2 {
		t.Fatalf("writes = %d, want 2", len(w))
	}
	if elapsed := w[1].at.Sub(w[0].at); elapsed < gap {
		t.Errorf("gap between writes = %v, want >= %v", elapsed, gap)
	}
}

func TestQueue_PacingCountsIdleTime(t *testing.T) {
	const (
		gap  = 300 * time.Millisecond
		idle = 150 * time.Millisecond
	)
	ft := newFakeTransport()
	dev := newTestDevice(t, ft, func(c *Config) {
		c.Delay = func(prev, next *Request) time.Duration {
			if prev.Message.Command() == "PW" && next.Message.Command() == "MV" {
				return gap
			}
			return 0
		}
	})
	ctx := testContext(t)

	if err := dev.PushFireAndForget(ctx, "PWON"); err != nil {
		t.Fatalf("PushFireAndForget(PWON) error = %v", err)
	}
	time.Sleep(idle)
	pushed := time.Now()
	if err := dev.PushFireAndForget(ctx, "MV50"); err != nil {
		t.Fatalf("PushFireAndForget(MV50) error = %v", err)
	}

	w := ft.written()
	if len(w) != 2 {
		t.Fatalf("writes = %d, want 2", len(w))
	}
	if between := w[1].at.Sub(w[0].at); between < gap {
		t.Errorf("MV written %v after PW, want >= %v", between, gap)
	}
	// Only the rest of the gap is waited for, not the whole delay again.
	if waited := w[1].at.Sub(pushed); waited >= gap-idle/3 {
		t.Errorf("MV waited %v after its push, want about %v", waited, gap-idle)
	}
}

func TestQueue_NotConnected(t *testing.T) {
	ft := newFakeTransport()
	ft.disconnected = true
	dev := newTestDevice(t, ft, nil)

	if _, err := dev.Push(testContext(t), "MV50"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Push() error = %v, want ErrNotConnected", err)
	}
	if len(ft.written()) != 0 {
		t.Error("disconnected transport was written to")
	}
}

func TestQueue_OpenError(t *testing.T) {
	ft := newFakeTransport()
	ft.openErr = errors.New("no such port")
	dev := newTestDevice(t, ft, nil)

	if _, err := dev.Push(testContext(t), "MV50"); !errors.Is(err, ErrTransport) {
		t.Errorf("Push() error = %v, want ErrTransport", err)
	}
}

func TestQueue_Close(t *testing.T) {
	ft := newFakeTransport()
	dev := newTestDevice(t, ft, func(c *Config) { c.Timeout = time.Minute })
	ctx := testContext(t)

	msg, _ := dev.Message("MV50")
	running := dev.Enqueue(msg, 0)
	waitWrites(t, ft, 1)
	queued := dev.Enqueue(msg, 0)

	dev.Close()

	for _, r := range []*Request{running, queued} {
		if _, err := r.Wait(ctx); !errors.Is(err, ErrClosed) {
			t.Errorf("Wait() error = %v, want ErrClosed", err)
		}
	}
	late := dev.Enqueue(msg, 0)
	if _, err := late.Wait(ctx); !errors.Is(err, ErrClosed) {
		t.Errorf("push after close error = %v, want ErrClosed", err)
	}
}

func TestQueue_Snapshot(t *testing.T) {
	ft := newFakeTransport()
	dev := newTestDevice(t, ft, func(c *Config) { c.Timeout = time.Minute })

	msg, _ := dev.Message("MV50")
	dev.Enqueue(msg, 0)
	waitWrites(t, ft, 1)
	dev.Enqueue(msg, 0)

	snap := dev.Queue().Snapshot()
	if snap.Device != "amp" {
		t.Errorf("Device = %q, want %q", snap.Device, "amp")
	}
	if snap.Running == nil || !snap.Running.Sent {
		t.Errorf("Running = %+v, want sent request", snap.Running)
	}
	if len(snap.Queued) != 1 {
		t.Errorf("Queued = %d, want 1", len(snap.Queued))
	}
}

// ─── Pacing computation ─────────────────────────────────────────────

func TestPacingWait(t *testing.T) {
	now := time.Now()
	sentReq := func(cmd string, ago time.Duration) *Request {
		msg, _ := lineCodec{}.Decode(cmd)
		r := NewRequest("amp", msg, 0)
		r.markSent(now.Add(-ago))
		return r
	}
	unsent := func(cmd string) *Request {
		msg, _ := lineCodec{}.Decode(cmd)
		return NewRequest("amp", msg, 0)
	}
	delay := func(prev, next *Request) time.Duration {
		switch prev.Message.Command() {
		case "PW":
			return 1500 * time.Millisecond
		case "MV":
			return 20 * time.Millisecond
		}
		return 0
	}

	tests := []struct {
		name    string
		history []*Request
		want    time.Duration
	}{
		{"empty history", nil, 0},
		{"power recently sent", []*Request{sentReq("PWON", 500 * time.Millisecond)}, time.Second},
		{"power long ago", []*Request{sentReq("PWON", 2 * time.Second)}, 0},
		{
			"older power dominates newer short delay",
			[]*Request{sentReq("PWON", 100 * time.Millisecond), sentReq("MV50", 10 * time.Millisecond)},
			1400 * time.Millisecond,
		},
		{"unsent entries ignored", []*Request{unsent("PWON")}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next := unsent("MV40")
			got, _ := PacingWait(append(tt.history, next), next, delay, now)
			if got != tt.want {
				t.Errorf("PacingWait() = %v, want %v", got, tt.want)
			}
		})
	}
}

// ─── Receive ────────────────────────────────────────────────────────

func TestDevice_UnsolicitedEmitted(t *testing.T) {
	ft := newFakeTransport()
	sink := &recordingSink{}
	dev := newTestDevice(t, ft, func(c *Config) { c.Events = sink })

	dev.Receive("MV33")

	got := sink.all()
	if len(got) != 1 || got[0] != "amp:MV33" {
		t.Errorf("events = %v, want [amp:MV33]", got)
	}
}

func TestDevice_AnswerNotEmitted(t *testing.T) {
	ft := newFakeTransport()
	ft.respond = echoAnswers("45")
	sink := &recordingSink{}
	dev := newTestDevice(t, ft, func(c *Config) { c.Events = sink })

	if _, err := dev.Ask(testContext(t), "MV"); err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if got := sink.all(); len(got) != 0 {
		t.Errorf("events = %v, want none", got)
	}
}

func TestDevice_AnswersAsEvents(t *testing.T) {
	ft := newFakeTransport()
	ft.respond = echoAnswers("45")
	sink := &recordingSink{}
	dev := newTestDevice(t, ft, func(c *Config) {
		c.Events = sink
		c.AnswersAsEvents = true
	})

	if _, err := dev.Ask(testContext(t), "MV"); err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if got := sink.all(); len(got) != 1 || got[0] != "amp:MV45" {
		t.Errorf("events = %v, want [amp:MV45]", got)
	}
}

func TestDevice_DropUnsolicited(t *testing.T) {
	ft := newFakeTransport()
	sink := &recordingSink{}
	dev := newTestDevice(t, ft, func(c *Config) {
		c.Events = sink
		c.DropUnsolicited = true
	})

	dev.Receive("MV33")
	if got := sink.all(); len(got) != 0 {
		t.Errorf("events = %v, want none", got)
	}
}

func TestDevice_UnsentRequestIgnoresAnswer(t *testing.T) {
	ft := newFakeTransport()
	sink := &recordingSink{}
	dev := newTestDevice(t, ft, func(c *Config) {
		c.Events = sink
		c.Delay = func(_, _ *Request) time.Duration { return time.Second }
	})
	ctx := testContext(t)

	if err := dev.PushFireAndForget(ctx, "PWON"); err != nil {
		t.Fatalf("PushFireAndForget() error = %v", err)
	}
	q, _ := dev.Message("MV?")
	req := dev.Enqueue(q, time.Minute)

	// The question is still pacing, so this status line is an event.
	dev.Receive("MV20")
	if req.Completed() {
		t.Error("unsent request completed by status line")
	}
	if got := sink.all(); len(got) != 1 {
		t.Errorf("events = %v, want one", got)
	}
}

// ─── Send ───────────────────────────────────────────────────────────

func TestDevice_SendSkipsEqualValue(t *testing.T) {
	ft := newFakeTransport()
	ft.respond = echoAnswers("50")
	dev := newTestDevice(t, ft, nil)

	if err := dev.Send(testContext(t), "MV50"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if got := ft.data(); len(got) != 1 || got[0] != "MV?\r" {
		t.Errorf("writes = %v, want only the question", got)
	}
}

func TestDevice_SendDifferentValue(t *testing.T) {
	ft := newFakeTransport()
	ft.respond = echoAnswers("40")
	dev := newTestDevice(t, ft, nil)

	if err := dev.Send(testContext(t), "MV50"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	want := []string{"MV?\r", "MV50\r"}
	got := ft.data()
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("writes = %v, want %v", got, want)
	}
}

// fakeOutlet records switch calls.
type fakeOutlet struct {
	mu    sync.Mutex
	calls []string
}

func (o *fakeOutlet) SwitchOn(context.Context) error  { o.record("on"); return nil }
func (o *fakeOutlet) SwitchOff(context.Context) error { o.record("off"); return nil }

func (o *fakeOutlet) record(s string) {
	o.mu.Lock()
	o.calls = append(o.calls, s)
	o.mu.Unlock()
}

func TestDevice_PowerWithOutlet(t *testing.T) {
	ft := newFakeTransport()
	outlet := &fakeOutlet{}
	dev := newTestDevice(t, ft, func(c *Config) {
		c.Outlet = outlet
		c.PowerOnCommands = []string{"SI"}
	})
	ft.respond = echoAnswers("DVD")

	var order []string
	dev.SetPower(
		func(context.Context) error { order = append(order, "power-on"); return nil },
		func(context.Context) error { order = append(order, "standby"); return nil },
	)
	ctx := testContext(t)

	if err := dev.Send(ctx, "SIDVD"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if err := dev.Standby(ctx); err != nil {
		t.Fatalf("Standby() error = %v", err)
	}

	if len(outlet.calls) != 2 || outlet.calls[0] != "on" || outlet.calls[1] != "off" {
		t.Errorf("outlet calls = %v, want [on off]", outlet.calls)
	}
	if len(order) != 2 || order[0] != "power-on" || order[1] != "standby" {
		t.Errorf("power calls = %v, want [power-on standby]", order)
	}
}
