package gembird

import (
	"context"
	"errors"
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

const banner = "Accessing Gembird #0 USB device 002"

// strip simulates sispmctl output.
type strip struct {
	mu    sync.Mutex
	state [Outlets + 1]string
}

func (s *strip) respond(args string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	fields := strings.Fields(args)
	n := int(fields[1][0] - '0')
	switch fields[0] {
	case "-o":
		s.state[n] = "on"
	case "-f":
		s.state[n] = "off"
	case "-g":
		return []string{banner + "\nStatus of outlet " + fields[1] + ":\t" + s.state[n]}
	}
	return []string{banner + "\nSwitched outlet " + fields[1] + " " + s.state[n]}
}

func newTestGembird(t *testing.T) (*Gembird, *drivertest.Transport, *strip) {
	t.Helper()
	s := &strip{state: [Outlets + 1]string{"", "off", "off", "off", "off"}}
	tr := drivertest.New("", s.respond)
	g, err := New(drivers.Options{Transport: tr, Timeout: 200 * time.Millisecond}, Config{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { g.Device().Close() })
	return g, tr, s
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// ─── Codec ──────────────────────────────────────────────────────────

func TestCodec_Decode(t *testing.T) {
	tests := []struct {
		decoded  string
		encoded  string
		question bool
	}{
		{"outlet1:on", "-o 1", false},
		{"outlet4:off", "-f 4", false},
		{"outlet2", "-g 2", true},
	}
	for _, tt := range tests {
		t.Run(tt.decoded, func(t *testing.T) {
			msg, err := Codec{}.Decode(tt.decoded)
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if msg.Encoded() != tt.encoded || msg.IsQuestion() != tt.question {
				t.Errorf("got %q question=%v, want %q question=%v", msg.Encoded(), msg.IsQuestion(), tt.encoded, tt.question)
			}
		})
	}

	for _, bad := range []string{"outlet5:on", "outlet1:dim", "socket1:on", "outlet"} {
		if _, err := (Codec{}).Decode(bad); err == nil {
			t.Errorf("Decode(%q) error = nil", bad)
		}
	}
}

func TestCodec_Parse(t *testing.T) {
	tests := []struct {
		output  string
		decoded string
	}{
		{banner + "\nStatus of outlet 3:\ton", "outlet3:on"},
		{banner + "\nSwitched outlet 1 off", "outlet1:off"},
	}
	for _, tt := range tests {
		msg, err := Codec{}.Parse(tt.output)
		if err != nil {
			t.Fatalf("Parse(%q) error = %v", tt.output, err)
		}
		if msg.Decoded() != tt.decoded {
			t.Errorf("Decoded() = %q, want %q", msg.Decoded(), tt.decoded)
		}
	}
	if _, err := (Codec{}).Parse(banner); !errors.Is(err, message.ErrUndecodable) {
		t.Errorf("Parse(banner only) error = %v", err)
	}
}

func TestDelay(t *testing.T) {
	on, _ := Codec{}.Decode("outlet1:on")
	ask, _ := Codec{}.Decode("outlet1")
	next := device.NewRequest("gembird", ask, 0)
	if got := Delay(device.NewRequest("gembird", on, 0), next); got != 700*time.Millisecond {
		t.Errorf("Delay(after switch) = %v", got)
	}
	if got := Delay(device.NewRequest("gembird", ask, 0), next); got != 0 {
		t.Errorf("Delay(after question) = %v", got)
	}
}

// ─── Driver ─────────────────────────────────────────────────────────

func TestOutletSwitchesOnlyWhenNeeded(t *testing.T) {
	g, tr, s := newTestGembird(t)
	out, err := g.Outlet(2)
	if err != nil {
		t.Fatalf("Outlet() error = %v", err)
	}
	ctx := testContext(t)

	if err := out.SwitchOn(ctx); err != nil {
		t.Fatalf("SwitchOn() error = %v", err)
	}
	if err := out.SwitchOn(ctx); err != nil {
		t.Fatalf("second SwitchOn() error = %v", err)
	}
	want := []string{"-g 2", "-o 2", "-g 2"}
	if got := tr.Writes(); strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("writes = %v, want %v", got, want)
	}
	if s.state[2] != "on" {
		t.Errorf("outlet 2 = %q", s.state[2])
	}
}

func TestOutletRange(t *testing.T) {
	g, _, _ := newTestGembird(t)
	if _, err := g.Outlet(5); !errors.Is(err, device.ErrNoOutlet) {
		t.Errorf("Outlet(5) error = %v, want ErrNoOutlet", err)
	}
}

func TestActions(t *testing.T) {
	g, _, s := newTestGembird(t)
	actions := g.Actions()
	if err := actions["on"](testContext(t), automation.Event{}, "3"); err != nil {
		t.Fatalf("on error = %v", err)
	}
	if s.state[3] != "on" {
		t.Errorf("outlet 3 = %q", s.state[3])
	}
	if err := actions["off"](testContext(t), automation.Event{}, "x"); err == nil {
		t.Error("off with bad outlet succeeded")
	}
}
