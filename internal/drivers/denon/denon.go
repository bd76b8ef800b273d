// Package denon drives Denon AV receivers (AVR 2805 and similar) over
// their RS-232 port.
//
// The receiver reports every change on its own, including those made
// with its remote or front knobs, so unsolicited lines become events.
package denon

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/halirc/internal/automation"
	"github.com/nerrad567/halirc/internal/device"
	"github.com/nerrad567/halirc/internal/drivers"
	"github.com/nerrad567/halirc/internal/message"
	"github.com/nerrad567/halirc/internal/transport"
)

// Defaults for a Denon receiver.
const (
	DefaultName = "denon"
	DefaultPort = "/dev/denon"
	eol         = "\r"
)

// statusCommands are queried by querystatus.
var statusCommands = []string{"PW", "TP", "MU", "SI", "MV", "MS", "TF", "CV", "Z2", "TM", "ZM"}

// Codec translates Denon messages. Both forms are the wire form: two
// letters command followed by the value. A bare command is a question.
type Codec struct{}

func (Codec) build(s string) (message.Message, error) {
	s = strings.TrimSuffix(s, "?")
	if len(s) < 2 {
		return nil, fmt.Errorf("%w: denon %q", message.ErrUndecodable, s)
	}
	if len(s) == 2 {
		return message.NewBase(message.Fields{
			Decoded:  s + "?",
			Encoded:  s + "?",
			Command:  s,
			Question: true,
		}), nil
	}
	return message.NewBase(message.Fields{
		Decoded: s,
		Encoded: s,
		Command: s[:2],
		Value:   s[2:],
	}), nil
}

func (c Codec) Decode(decoded string) (message.Message, error) { return c.build(decoded) }
func (c Codec) Parse(encoded string) (message.Message, error)  { return c.build(encoded) }

func (c Codec) Question(command string) (message.Message, error) {
	if len(command) < 2 {
		return nil, fmt.Errorf("%w: denon command %q", message.ErrUnknownCommand, command)
	}
	return c.build(command[:2])
}

// delays after a non-question, keyed by "prevnext" with ".." as wildcard.
var delays = map[string]time.Duration{
	"PW..": 1500 * time.Millisecond,
	"..PW": 20 * time.Millisecond,
}

// Delay returns the pacing the receiver needs between prev and next.
//
// After a power change it needs 1.5s before accepting anything else. A
// question directly after setting the same command needs a short moment
// for the new value to settle.
func Delay(prev, next *device.Request) time.Duration {
	p, n := prev.Message, next.Message
	cmd1, cmd2 := p.Command(), n.Command()
	if cmd1 == "" {
		return 0
	}
	if cmd1 == cmd2 && !p.IsQuestion() && n.IsQuestion() {
		return 50 * time.Millisecond
	}
	if p.IsQuestion() {
		return 0
	}
	var result time.Duration
	for _, key := range []string{cmd1 + cmd2, cmd1 + "..", ".." + cmd2} {
		if d, ok := delays[key]; ok && d > result {
			result = d
		}
	}
	return result
}

// Config holds the Denon specific settings.
type Config struct {
	// Port is the serial device. Default: /dev/denon.
	Port     string
	BaudRate int
}

// Denon is a Denon receiver.
type Denon struct {
	dev *device.Device

	mu          sync.Mutex
	mutedVolume string
}

// New creates the driver and its serial connection. The port is opened
// with the first request.
func New(opts drivers.Options, cfg Config) (*Denon, error) {
	if cfg.Port == "" {
		cfg.Port = DefaultPort
	}
	var tr device.Transport
	if opts.Transport == nil {
		tr = transport.NewSerial(transport.SerialConfig{
			Port:      cfg.Port,
			BaudRate:  cfg.BaudRate,
			Delimiter: eol,
			Logger:    opts.Logger,
		})
	}
	dc := opts.DeviceConfig(DefaultName, tr)
	dc.Codec = Codec{}
	dc.EOL = eol
	dc.Delay = Delay

	dev, err := device.New(dc)
	if err != nil {
		return nil, err
	}
	d := &Denon{dev: dev}
	dev.SetPower(d.powerOn, d.standby)
	return d, nil
}

// Device returns the underlying device.
func (d *Denon) Device() *device.Device { return d.dev }

// Actions returns the common actions plus mute, volume and querystatus.
func (d *Denon) Actions() map[string]automation.Action {
	return drivers.Merge(drivers.Actions(d.dev), map[string]automation.Action{
		"send": func(ctx context.Context, _ automation.Event, args ...string) error {
			cmd, err := drivers.LastArg("send", args)
			if err != nil {
				return err
			}
			return d.Send(ctx, cmd)
		},
		"mute": func(ctx context.Context, _ automation.Event, _ ...string) error {
			return d.Mute(ctx)
		},
		"volume": func(ctx context.Context, _ automation.Event, args ...string) error {
			value, err := drivers.LastArg("volume", args)
			if err != nil {
				return err
			}
			return d.Volume(ctx, value)
		},
		"querystatus": func(ctx context.Context, _ automation.Event, args ...string) error {
			full := len(args) > 0 && args[len(args)-1] == "full"
			return d.QueryStatus(ctx, full)
		},
	})
}

// Send sets a value unless the receiver already has it. Relative volume
// steps are always sent since the receiver never reports UP or DOWN.
func (d *Denon) Send(ctx context.Context, cmd string) error {
	if cmd == "MVUP" || cmd == "MVDOWN" {
		_, err := d.dev.Push(ctx, cmd)
		return err
	}
	return d.dev.Send(ctx, cmd)
}

func (d *Denon) powerOn(ctx context.Context) error {
	return d.dev.Send(ctx, "PWON")
}

func (d *Denon) standby(ctx context.Context) error {
	d.mu.Lock()
	d.mutedVolume = ""
	d.mu.Unlock()
	return d.dev.Send(ctx, "PWSTANDBY")
}

// poweredOn asks whether the receiver is on.
func (d *Denon) poweredOn(ctx context.Context) (bool, error) {
	answer, err := d.dev.Ask(ctx, "PW")
	if err != nil {
		return false, err
	}
	return answer.Value() == "ON", nil
}

// Mute toggles between the current volume and a low volume. The volume
// before muting is remembered and restored by the next call.
func (d *Denon) Mute(ctx context.Context) error {
	on, err := d.poweredOn(ctx)
	if err != nil || !on {
		return err
	}

	d.mu.Lock()
	restore := d.mutedVolume
	d.mutedVolume = ""
	d.mu.Unlock()
	if restore != "" {
		return d.dev.Send(ctx, "MV"+restore)
	}

	current, err := d.dev.Ask(ctx, "MV")
	if err != nil {
		return err
	}
	newVolume := "20"
	if current.Value() < "25" {
		// already quiet when we started
		newVolume = "40"
	} else {
		d.mu.Lock()
		d.mutedVolume = current.Value()
		d.mu.Unlock()
	}
	return d.dev.Send(ctx, "MV"+newVolume)
}

// Volume sets the volume to value (UP, DOWN or a level) if the receiver
// is on. While muted it unmutes instead.
func (d *Denon) Volume(ctx context.Context, value string) error {
	on, err := d.poweredOn(ctx)
	if err != nil || !on {
		return err
	}
	d.mu.Lock()
	muted := d.mutedVolume != ""
	d.mu.Unlock()
	if muted {
		return d.Mute(ctx)
	}
	return d.Send(ctx, "MV"+value)
}

// QueryStatus asks for the known status commands. With full it tries
// every two letter command, which finds commands not listed yet.
func (d *Denon) QueryStatus(ctx context.Context, full bool) error {
	commands := statusCommands
	if full {
		commands = allCommands()
	}
	for _, cmd := range commands {
		if _, err := d.dev.Ask(ctx, cmd); err != nil {
			return err
		}
	}
	return nil
}

func allCommands() []string {
	const letters = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	const second = letters + "1234567890"
	out := make([]string, 0, len(letters)*len(second))
	for _, a := range letters {
		for _, b := range second {
			out = append(out, string(a)+string(b))
		}
	}
	return out
}
