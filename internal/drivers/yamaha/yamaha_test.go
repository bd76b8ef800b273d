package yamaha

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

// amp answers questions from its state and reports every change.
type amp struct {
	mu    sync.Mutex
	state map[string]string
}

func (a *amp) respond(line string) []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	cmd, value, _ := strings.Cut(line, "=")
	if value != "?" {
		a.state[cmd] = value
	}
	return []string{cmd + "=" + a.state[cmd]}
}

type sink struct {
	mu     sync.Mutex
	events []string
}

func (s *sink) Emit(source string, msg message.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, msg.String())
}

func (s *sink) list() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.events...)
}

func newTestYamaha(t *testing.T, state map[string]string) (*Yamaha, *drivertest.Transport, *sink) {
	t.Helper()
	a := &amp{state: state}
	tr := drivertest.New(eol, a.respond)
	events := &sink{}
	y, err := New(drivers.Options{Transport: tr, Timeout: 200 * time.Millisecond, Events: events}, Config{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { y.Device().Close() })
	return y, tr, events
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// ─── Codec ──────────────────────────────────────────────────────────

func TestCodec(t *testing.T) {
	q, err := Codec{}.Question("@MAIN:PWR")
	if err != nil {
		t.Fatalf("Question() error = %v", err)
	}
	if q.Encoded() != "@MAIN:PWR=?" || !q.IsQuestion() || q.Command() != "@MAIN:PWR" {
		t.Errorf("question = %q question=%v command=%q", q.Encoded(), q.IsQuestion(), q.Command())
	}

	set, _ := Codec{}.Decode("@MAIN:VOL=-35.5")
	if set.Value() != "-35.5" || set.IsQuestion() || set.String() != "@MAIN:VOL=-35.5" {
		t.Errorf("set = %q value %q", set.String(), set.Value())
	}

	if _, err := (Codec{}).Parse("garbage"); err == nil {
		t.Error("Parse(garbage) error = nil")
	}
}

func TestAnswerMatchesOnlyQuestions(t *testing.T) {
	answer, _ := Codec{}.Parse("@MAIN:VOL=-40.0")

	q, _ := Codec{}.Question("@MAIN:VOL")
	if !q.AnswerMatches(answer) {
		t.Error("question not answered")
	}
	set, _ := Codec{}.Decode("@MAIN:VOL=-40.0")
	if set.AnswerMatches(answer) {
		t.Error("setting a value must not be answered")
	}
	other, _ := Codec{}.Question("@MAIN:PWR")
	if other.AnswerMatches(answer) {
		t.Error("different command answered")
	}
}

func TestDelay(t *testing.T) {
	req := func(s string) *device.Request {
		msg, _ := Codec{}.Decode(s)
		return device.NewRequest("yamaha", msg, 0)
	}
	tests := []struct {
		prev string
		want time.Duration
	}{
		{"@MAIN:PWR=On", time.Second},
		{"@MAIN:PWR=?", 50 * time.Millisecond},
		{"@MAIN:VOL=-30.0", 50 * time.Millisecond},
	}
	for _, tt := range tests {
		if got := Delay(req(tt.prev), req("@MAIN:VOL=?")); got != tt.want {
			t.Errorf("Delay(%s) = %v, want %v", tt.prev, got, tt.want)
		}
	}
}

// ─── Driver ─────────────────────────────────────────────────────────

func TestMuteToggles(t *testing.T) {
	y, tr, _ := newTestYamaha(t, map[string]string{power: "On", volume: "-30.0"})
	ctx := testContext(t)

	if err := y.Mute(ctx); err != nil {
		t.Fatalf("Mute() error = %v", err)
	}
	if err := y.Mute(ctx); err != nil {
		t.Fatalf("second Mute() error = %v", err)
	}

	want := []string{"@MAIN:PWR=?", "@MAIN:VOL=?", "@MAIN:VOL=-55.0", "@MAIN:PWR=?", "@MAIN:VOL=-30.0"}
	if got := tr.Writes(); strings.Join(got, " ") != strings.Join(want, " ") {
		t.Errorf("writes = %v, want %v", got, want)
	}
	if v, _ := y.Status(volume); v != "-30.0" {
		t.Errorf("Status(volume) = %q, want -30.0", v)
	}
}

func TestMuteWhenQuietRaisesVolume(t *testing.T) {
	y, tr, _ := newTestYamaha(t, map[string]string{power: "On", volume: "-60.5"})
	if err := y.Mute(testContext(t)); err != nil {
		t.Fatalf("Mute() error = %v", err)
	}
	writes := tr.Writes()
	if last := writes[len(writes)-1]; last != "@MAIN:VOL=-40.0" {
		t.Errorf("last write = %q", last)
	}
}

func TestVolumeInStandby(t *testing.T) {
	y, tr, _ := newTestYamaha(t, map[string]string{power: "Standby"})
	if err := y.Volume(testContext(t), "-20.0"); err != nil {
		t.Fatalf("Volume() error = %v", err)
	}
	if got := tr.Writes(); len(got) != 1 {
		t.Errorf("writes = %v, want only the power question", got)
	}
}

func TestAnswersBecomeEvents(t *testing.T) {
	y, _, events := newTestYamaha(t, map[string]string{power: "On"})
	if _, err := y.Device().Ask(testContext(t), power); err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if got := events.list(); len(got) != 1 || got[0] != "@MAIN:PWR=On" {
		t.Errorf("events = %v", got)
	}
}

// ─── Actions ────────────────────────────────────────────────────────

func TestPushAction(t *testing.T) {
	tests := []struct {
		name  string
		cmd   string
		wrote string
	}{
		{"setting is not answered", "@MAIN:INP=HDMI1", "@MAIN:INP=HDMI1"},
		{"question waits for the answer", "@MAIN:PWR", "@MAIN:PWR=?"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			y, tr, _ := newTestYamaha(t, map[string]string{"@MAIN:PWR": "On"})
			push := y.Actions()["push"]

			// A push waiting for an answer that never comes would fail
			// with device.ErrTimeout after the retries.
			if err := push(testContext(t), automation.Event{}, tt.cmd); err != nil {
				t.Fatalf("push(%s) error = %v", tt.cmd, err)
			}
			writes := tr.Writes()
			if len(writes) != 1 || strings.TrimSpace(writes[0]) != tt.wrote {
				t.Errorf("writes = %q, want [%s]", writes, tt.wrote)
			}
		})
	}
}
