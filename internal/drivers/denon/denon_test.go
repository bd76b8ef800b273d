package denon

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/halirc/internal/automation"
	"github.com/nerrad567/halirc/internal/device"
	"github.com/nerrad567/halirc/internal/drivers"
	"github.com/nerrad567/halirc/internal/drivers/drivertest"
	"github.com/nerrad567/halirc/internal/message"
)

// ─── Helpers ────────────────────────────────────────────────────────

// receiver simulates a Denon: it answers questions from its state and
// echoes every command it accepts.
type receiver struct {
	mu    sync.Mutex
	state map[string]string
}

func (r *receiver) respond(line string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	cmd := line[:2]
	if strings.HasSuffix(line, "?") {
		return []string{cmd + r.state[cmd]}
	}
	value := line[2:]
	switch value {
	case "UP", "DOWN":
		return []string{cmd + r.state[cmd]}
	}
	r.state[cmd] = value
	return []string{line}
}

type sink struct {
	mu     sync.Mutex
	events []string
}

func (s *sink) Emit(source string, msg message.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, source+":"+msg.String())
}

func (s *sink) list() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.events...)
}

func newTestDenon(t *testing.T, state map[string]string) (*Denon, *drivertest.Transport, *sink) {
	t.Helper()
	r := &receiver{state: state}
	tr := drivertest.New(eol, r.respond)
	events := &sink{}
	d, err := New(drivers.Options{Transport: tr, Timeout: 200 * time.Millisecond, Events: events}, Config{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { d.Device().Close() })
	return d, tr, events
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// ─── Codec ──────────────────────────────────────────────────────────

func TestCodec(t *testing.T) {
	tests := []struct {
		input    string
		command  string
		value    string
		question bool
		encoded  string
	}{
		{"MV50", "MV", "50", false, "MV50"},
		{"PWSTANDBY", "PW", "STANDBY", false, "PWSTANDBY"},
		{"MV", "MV", "", true, "MV?"},
		{"SI?", "SI", "", true, "SI?"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			msg, err := Codec{}.Decode(tt.input)
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if msg.Command() != tt.command || msg.Value() != tt.value || msg.IsQuestion() != tt.question {
				t.Errorf("got %q/%q/%v, want %q/%q/%v",
					msg.Command(), msg.Value(), msg.IsQuestion(), tt.command, tt.value, tt.question)
			}
			if msg.Encoded() != tt.encoded {
				t.Errorf("Encoded() = %q, want %q", msg.Encoded(), tt.encoded)
			}
		})
	}

	if _, err := (Codec{}).Parse("M"); err == nil {
		t.Error("Parse(\"M\") error = nil")
	}
}

// ─── Delay ──────────────────────────────────────────────────────────

func request(t *testing.T, s string) *device.Request {
	t.Helper()
	msg, err := Codec{}.Decode(s)
	if err != nil {
		t.Fatalf("Decode(%q) error = %v", s, err)
	}
	return device.NewRequest("denon", msg, 0)
}

func TestDelay(t *testing.T) {
	tests := []struct {
		prev, next string
		want       time.Duration
	}{
		{"PWON", "MV50", 1500 * time.Millisecond},
		{"PWON", "PW", 1500 * time.Millisecond},
		{"MV50", "PWON", 20 * time.Millisecond},
		{"MV50", "MV", 50 * time.Millisecond},
		{"MV", "MV50", 0},
		{"PW", "MV50", 0},
		{"MV50", "SICD", 0},
	}
	for _, tt := range tests {
		t.Run(tt.prev+"_"+tt.next, func(t *testing.T) {
			if got := Delay(request(t, tt.prev), request(t, tt.next)); got != tt.want {
				t.Errorf("Delay() = %v, want %v", got, tt.want)
			}
		})
	}
}

// ─── Driver ─────────────────────────────────────────────────────────

func TestPowerThenVolumeIsPaced(t *testing.T) {
	d, tr, _ := newTestDenon(t, map[string]string{"PW": "STANDBY", "MV": "30"})
	ctx := testContext(t)

	if _, err := d.Device().Push(ctx, "PWON"); err != nil {
		t.Fatalf("Push(PWON) error = %v", err)
	}
	time.Sleep(500 * time.Millisecond)
	if _, err := d.Device().Push(ctx, "MV50"); err != nil {
		t.Fatalf("Push(MV50) error = %v", err)
	}

	times := tr.WriteTimes()
	if len(times) != 2 {
		t.Fatalf("writes = %v", tr.Writes())
	}
	if gap := times[1].Sub(times[0]); gap < 1500*time.Millisecond {
		t.Errorf("MV written %v after PW, want at least 1.5s", gap)
	}
}

func TestSendSkipsRelativeQuestion(t *testing.T) {
	d, tr, _ := newTestDenon(t, map[string]string{"MV": "30"})
	if err := d.Send(testContext(t), "MVUP"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if got := tr.Writes(); len(got) != 1 || got[0] != "MVUP" {
		t.Errorf("writes = %v, want [MVUP]", got)
	}
}

func TestMuteToggles(t *testing.T) {
	d, tr, _ := newTestDenon(t, map[string]string{"PW": "ON", "MV": "50"})
	ctx := testContext(t)

	if err := d.Mute(ctx); err != nil {
		t.Fatalf("Mute() error = %v", err)
	}
	if err := d.Mute(ctx); err != nil {
		t.Fatalf("second Mute() error = %v", err)
	}

	want := []string{"PW?", "MV?", "MV?", "MV20", "PW?", "MV?", "MV50"}
	if got := tr.Writes(); strings.Join(got, " ") != strings.Join(want, " ") {
		t.Errorf("writes = %v, want %v", got, want)
	}
}

func TestMuteWhenQuietRaisesVolume(t *testing.T) {
	d, tr, _ := newTestDenon(t, map[string]string{"PW": "ON", "MV": "18"})
	if err := d.Mute(testContext(t)); err != nil {
		t.Fatalf("Mute() error = %v", err)
	}
	writes := tr.Writes()
	if writes[len(writes)-1] != "MV40" {
		t.Errorf("last write = %q, want MV40", writes[len(writes)-1])
	}
	if d.mutedVolume != "" {
		t.Errorf("mutedVolume = %q, want empty", d.mutedVolume)
	}
}

func TestVolumeIgnoredInStandby(t *testing.T) {
	d, tr, _ := newTestDenon(t, map[string]string{"PW": "STANDBY", "MV": "50"})
	if err := d.Volume(testContext(t), "60"); err != nil {
		t.Fatalf("Volume() error = %v", err)
	}
	if got := tr.Writes(); len(got) != 1 || got[0] != "PW?" {
		t.Errorf("writes = %v, want [PW?]", got)
	}
}

func TestUnsolicitedBecomesEvent(t *testing.T) {
	_, tr, events := newTestDenon(t, map[string]string{})
	tr.Deliver("MV45")
	if got := events.list(); len(got) != 1 || got[0] != "denon:MV:45" {
		t.Errorf("events = %v", got)
	}
}

func TestActions(t *testing.T) {
	d, tr, _ := newTestDenon(t, map[string]string{"SI": "TV"})
	actions := d.Actions()
	for _, name := range []string{"push", "send", "ask", "blind", "poweron", "standby", "mute", "volume", "querystatus"} {
		if actions[name] == nil {
			t.Errorf("action %q missing", name)
		}
	}

	if err := actions["send"](testContext(t), automation.Event{}, "SIDVD"); err != nil {
		t.Fatalf("send error = %v", err)
	}
	if got := tr.Writes(); strings.Join(got, " ") != "SI? SIDVD" {
		t.Errorf("writes = %v", got)
	}
	if err := actions["send"](testContext(t), automation.Event{}); err == nil {
		t.Error("send without argument succeeded")
	}
}
