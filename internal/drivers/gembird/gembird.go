// Package gembird switches the outlets of a Gembird USB power strip
// through the sispmctl program.
package gembird

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/nerrad567/halirc/internal/automation"
	"github.com/nerrad567/halirc/internal/device"
	"github.com/nerrad567/halirc/internal/drivers"
	"github.com/nerrad567/halirc/internal/message"
	"github.com/nerrad567/halirc/internal/transport"
)

// Defaults for a Gembird power strip.
const (
	DefaultName   = "gembird"
	DefaultDevice = "/dev/steckerleiste"
	DefaultBinary = "sispmctl"

	// Outlets is the number of switchable outlets.
	Outlets = 4
)

// Codec translates between "outlet1:on" and sispmctl arguments.
//
//	outlet1:on   -o 1
//	outlet1:off  -f 1
//	outlet1      -g 1 (question)
//
// sispmctl output is parsed from its second line, e.g.
// "Status of outlet 1:\ton" or "Switched outlet 1 off".
type Codec struct{}

// Decode accepts "outletN:on", "outletN:off" or "outletN".
func (Codec) Decode(decoded string) (message.Message, error) {
	name, state, hasState := strings.Cut(decoded, ":")
	outlet, err := parseOutlet(name)
	if err != nil {
		return nil, err
	}
	if !hasState {
		return build(outlet, "", true), nil
	}
	if state != "on" && state != "off" {
		return nil, fmt.Errorf("%w: gembird state %q", message.ErrUndecodable, state)
	}
	return build(outlet, state, false), nil
}

// Parse reads the output of one sispmctl call.
func (Codec) Parse(encoded string) (message.Message, error) {
	lines := strings.Split(encoded, "\n")
	if len(lines) < 2 {
		return nil, fmt.Errorf("%w: gembird output %q", message.ErrUndecodable, encoded)
	}
	parts := strings.Fields(lines[1])
	if len(parts) < 2 {
		return nil, fmt.Errorf("%w: gembird output %q", message.ErrUndecodable, encoded)
	}
	state := parts[len(parts)-1]
	if state != "on" && state != "off" {
		return nil, fmt.Errorf("%w: gembird state %q", message.ErrUndecodable, state)
	}
	outlet, err := strconv.Atoi(strings.TrimSuffix(parts[len(parts)-2], ":"))
	if err != nil || outlet < 1 || outlet > Outlets {
		return nil, fmt.Errorf("%w: gembird outlet in %q", message.ErrUndecodable, lines[1])
	}
	return build(outlet, state, false), nil
}

// Question asks for the state of an outlet.
func (c Codec) Question(command string) (message.Message, error) {
	name, _, _ := strings.Cut(command, ":")
	return c.Decode(name)
}

func parseOutlet(name string) (int, error) {
	n, err := strconv.Atoi(strings.TrimPrefix(name, "outlet"))
	if !strings.HasPrefix(name, "outlet") || err != nil || n < 1 || n > Outlets {
		return 0, fmt.Errorf("%w: gembird %q", message.ErrUnknownCommand, name)
	}
	return n, nil
}

func build(outlet int, state string, question bool) message.Message {
	command := "outlet" + strconv.Itoa(outlet)
	flag := "-g"
	decoded := command
	switch state {
	case "on":
		flag, decoded = "-o", command+":on"
	case "off":
		flag, decoded = "-f", command+":off"
	}
	return message.NewBase(message.Fields{
		Decoded:  decoded,
		Encoded:  flag + " " + strconv.Itoa(outlet),
		Command:  command,
		Value:    state,
		Question: question,
	})
}

// Delay gives the strip time to switch; it fails commands sent too soon.
func Delay(prev, _ *device.Request) time.Duration {
	if !prev.Message.IsQuestion() {
		return 700 * time.Millisecond
	}
	return 0
}

// Config holds the Gembird specific settings.
type Config struct {
	// Device is passed to sispmctl -d. Default: /dev/steckerleiste.
	Device string

	// Binary defaults to sispmctl.
	Binary string
}

// Gembird is a Gembird power strip.
type Gembird struct {
	dev *device.Device
}

// New creates the driver.
func New(opts drivers.Options, cfg Config) (*Gembird, error) {
	if cfg.Device == "" {
		cfg.Device = DefaultDevice
	}
	if cfg.Binary == "" {
		cfg.Binary = DefaultBinary
	}
	var tr device.Transport
	if opts.Transport == nil {
		tr = transport.NewExec(transport.ExecConfig{
			Binary: cfg.Binary,
			Args:   []string{"-d", cfg.Device},
			Logger: opts.Logger,
		})
	}
	dc := opts.DeviceConfig(DefaultName, tr)
	dc.Codec = Codec{}
	dc.Delay = Delay

	dev, err := device.New(dc)
	if err != nil {
		return nil, err
	}
	return &Gembird{dev: dev}, nil
}

// Device returns the underlying device.
func (g *Gembird) Device() *device.Device { return g.dev }

// Actions returns the common actions plus on and off, which take the
// outlet number.
func (g *Gembird) Actions() map[string]automation.Action {
	return drivers.Merge(drivers.Actions(g.dev), map[string]automation.Action{
		"on": func(ctx context.Context, _ automation.Event, args ...string) error {
			return g.switchArg(ctx, "on", args)
		},
		"off": func(ctx context.Context, _ automation.Event, args ...string) error {
			return g.switchArg(ctx, "off", args)
		},
	})
}

func (g *Gembird) switchArg(ctx context.Context, state string, args []string) error {
	arg, err := drivers.LastArg(state, args)
	if err != nil {
		return err
	}
	n, err := strconv.Atoi(arg)
	if err != nil {
		return fmt.Errorf("%w: outlet %q", message.ErrUnknownCommand, arg)
	}
	return g.Switch(ctx, n, state == "on")
}

// Switch sets an outlet unless it already has the wanted state.
func (g *Gembird) Switch(ctx context.Context, outlet int, on bool) error {
	state := "off"
	if on {
		state = "on"
	}
	return g.dev.Send(ctx, fmt.Sprintf("outlet%d:%s", outlet, state))
}

// Outlet returns a device.Outlet for one outlet of the strip.
func (g *Gembird) Outlet(n int) (device.Outlet, error) {
	if n < 1 || n > Outlets {
		return nil, fmt.Errorf("%w: gembird has no outlet %d", device.ErrNoOutlet, n)
	}
	return outlet{g: g, n: n}, nil
}

type outlet struct {
	g *Gembird
	n int
}

func (o outlet) SwitchOn(ctx context.Context) error  { return o.g.Switch(ctx, o.n, true) }
func (o outlet) SwitchOff(ctx context.Context) error { return o.g.Switch(ctx, o.n, false) }
