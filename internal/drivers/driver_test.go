package drivers

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/halirc/internal/automation"
	"github.com/nerrad567/halirc/internal/device"
	"github.com/nerrad567/halirc/internal/drivers/drivertest"
	"github.com/nerrad567/halirc/internal/message"
)

// kvCodec uses "key=value"; a bare key is a question.
type kvCodec struct{}

func (kvCodec) Decode(s string) (message.Message, error) {
	key, value, _ := strings.Cut(s, "=")
	if key == "" {
		return nil, message.ErrUndecodable
	}
	return message.NewBase(message.Fields{
		Decoded: s, Encoded: s, Command: key, Value: value, Question: value == "",
	}), nil
}

func (c kvCodec) Parse(s string) (message.Message, error)      { return c.Decode(s) }
func (c kvCodec) Question(key string) (message.Message, error) { return c.Decode(key) }

func newTestDevice(t *testing.T) (*device.Device, *drivertest.Transport) {
	t.Helper()
	state := map[string]string{"vol": "10", "pwr": "off"}
	tr := drivertest.New("\n", func(line string) []string {
		key, value, _ := strings.Cut(line, "=")
		if value == "" {
			return []string{key + "=" + state[key]}
		}
		state[key] = value
		return []string{line}
	})
	opts := Options{Name: "kv", Transport: tr, Timeout: 200 * time.Millisecond}
	dc := opts.DeviceConfig("default", nil)
	dc.Codec = kvCodec{}
	dc.EOL = "\n"
	dev, err := device.New(dc)
	if err != nil {
		t.Fatalf("device.New() error = %v", err)
	}
	t.Cleanup(func() { dev.Close() })
	return dev, tr
}

func TestOptions_DeviceConfig(t *testing.T) {
	dc := Options{}.DeviceConfig("denon", nil)
	if dc.Name != "denon" {
		t.Errorf("Name = %q, want default", dc.Name)
	}
	dc = Options{Name: "living"}.DeviceConfig("denon", nil)
	if dc.Name != "living" {
		t.Errorf("Name = %q, want living", dc.Name)
	}
}

func TestActions(t *testing.T) {
	dev, tr := newTestDevice(t)
	actions := Actions(dev)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	tests := []struct {
		action string
		arg    string
		writes []string
	}{
		{"send", "vol=10", []string{"vol"}},
		{"send", "vol=12", []string{"vol", "vol=12"}},
		{"push", "vol=12", []string{"vol=12"}},
		{"ask", "pwr", []string{"pwr"}},
		{"blind", "pwr=on", []string{"pwr=on"}},
	}
	for _, tt := range tests {
		t.Run(tt.action+"_"+tt.arg, func(t *testing.T) {
			before := len(tr.Writes())
			if err := actions[tt.action](ctx, automation.Event{}, tt.arg); err != nil {
				t.Fatalf("%s error = %v", tt.action, err)
			}
			got := tr.Writes()[before:]
			if strings.Join(got, " ") != strings.Join(tt.writes, " ") {
				t.Errorf("writes = %v, want %v", got, tt.writes)
			}
		})
	}
}

func TestLastArg(t *testing.T) {
	if got, err := LastArg("send", []string{"first", "last"}); err != nil || got != "last" {
		t.Errorf("LastArg() = %q, %v", got, err)
	}
	if _, err := LastArg("send", nil); !errors.Is(err, ErrMissingArgument) {
		t.Errorf("LastArg(nil) error = %v", err)
	}
}

func TestMerge(t *testing.T) {
	called := ""
	base := map[string]automation.Action{
		"send": func(context.Context, automation.Event, ...string) error { called = "base"; return nil },
		"ask":  func(context.Context, automation.Event, ...string) error { return nil },
	}
	merged := Merge(base, map[string]automation.Action{
		"send": func(context.Context, automation.Event, ...string) error { called = "override"; return nil },
	})
	_ = merged["send"](context.Background(), automation.Event{})
	if called != "override" || merged["ask"] == nil {
		t.Errorf("Merge() kept %q, ask present %v", called, merged["ask"] != nil)
	}
}
