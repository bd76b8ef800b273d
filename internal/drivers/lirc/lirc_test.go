package lirc

import (
	"errors"
	"sync"
	"testing"

	"github.com/nerrad567/halirc/internal/drivers"
	"github.com/nerrad567/halirc/internal/drivers/drivertest"
	"github.com/nerrad567/halirc/internal/message"
	"github.com/nerrad567/halirc/internal/transport"
)

func decode(t *testing.T, s string) Message {
	t.Helper()
	msg, err := Codec{}.Decode(s)
	if err != nil {
		t.Fatalf("Decode(%q) error = %v", s, err)
	}
	return msg.(Message)
}

func TestCodec_Decode(t *testing.T) {
	tests := []struct {
		input                  string
		remote, button, repeat string
		decoded                string
	}{
		{"AcerP1165.Up.01", "AcerP1165", "Up", "01", "AcerP1165.Up.01"},
		{"AcerP1165.Up", "AcerP1165", "Up", "00", "AcerP1165.Up.00"},
		{"AcerP1165", "AcerP1165", "", "00", "AcerP1165..00"},
		{`"My.remote".Power`, "My.remote", "Power", "00", `"My.remote".Power.00`},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			m := decode(t, tt.input)
			if m.Remote() != tt.remote || m.Button() != tt.button || m.Repeat() != tt.repeat {
				t.Errorf("got %q/%q/%q, want %q/%q/%q", m.Remote(), m.Button(), m.Repeat(), tt.remote, tt.button, tt.repeat)
			}
			if m.Decoded() != tt.decoded {
				t.Errorf("Decoded() = %q, want %q", m.Decoded(), tt.decoded)
			}
		})
	}

	for _, bad := range []string{"", `"unterminated`, ".Up", "a.b.c.d"} {
		if _, err := (Codec{}).Decode(bad); err == nil {
			t.Errorf("Decode(%q) error = nil", bad)
		}
	}
}

func TestCodec_Parse(t *testing.T) {
	msg, err := Codec{}.Parse("0000000000f40bf0 01 KEY_UP sony")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	m := msg.(Message)
	if m.Remote() != "sony" || m.Button() != "KEY_UP" || m.Repeat() != "01" {
		t.Errorf("parsed %q", m.Decoded())
	}
	if m.Encoded() != "01 KEY_UP sony" {
		t.Errorf("Encoded() = %q", m.Encoded())
	}

	if _, err := (Codec{}).Parse("too short"); !errors.Is(err, message.ErrUndecodable) {
		t.Errorf("Parse(short) error = %v", err)
	}
	if _, err := (Codec{}).Question("sony"); !errors.Is(err, transport.ErrReadOnly) {
		t.Errorf("Question() error = %v", err)
	}
}

func TestMatches(t *testing.T) {
	press, _ := Codec{}.Parse("0000000000f40bf0 00 KEY_UP sony")
	repeat, _ := Codec{}.Parse("0000000000f40bf0 01 KEY_UP sony")

	tests := []struct {
		pattern string
		event   message.Message
		want    bool
	}{
		{"sony.KEY_UP", press, true},
		{"sony.KEY_UP", repeat, false},
		{"sony.KEY_UP.01", repeat, true},
		{"sony", press, true},
		{"sony.KEY_DOWN", press, false},
		{"acer.KEY_UP", press, false},
	}
	for _, tt := range tests {
		t.Run(tt.pattern, func(t *testing.T) {
			if got := message.Matches(tt.event, decode(t, tt.pattern)); got != tt.want {
				t.Errorf("Matches(%s, %s) = %v, want %v", tt.event.Decoded(), tt.pattern, got, tt.want)
			}
		})
	}
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

func TestButtonsBecomeEvents(t *testing.T) {
	tr := drivertest.New("\n", nil)
	events := &sink{}
	l, err := New(drivers.Options{Transport: tr, Events: events}, Config{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer l.Device().Close()

	tr.Deliver("0000000000f40bf0 00 KEY_OK sony")
	tr.Deliver("garbage")

	events.mu.Lock()
	defer events.mu.Unlock()
	if len(events.events) != 1 || events.events[0] != "lirc:sony.KEY_OK.00" {
		t.Errorf("events = %v", events.events)
	}
	if len(l.Actions()) != 0 {
		t.Error("lirc offers actions")
	}
}
