// Package pioneer drives Pioneer Blu-ray players over their LAN control
// port.
//
// The player answers every command with a single line that carries no
// command identifier ("R" or "E04"), so any line answers the running
// request. It never reports anything on its own.
package pioneer

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/nerrad567/halirc/internal/automation"
	"github.com/nerrad567/halirc/internal/device"
	"github.com/nerrad567/halirc/internal/drivers"
	"github.com/nerrad567/halirc/internal/message"
	"github.com/nerrad567/halirc/internal/transport"
)

// Defaults for a Pioneer player.
const (
	DefaultName = "pioneer"
	DefaultPort = 8102
	eol         = "\r\n"
)

// Message is a Pioneer command or answer. Its command and value are
// both the whole line.
type Message struct {
	message.Base
}

// AnswerMatches accepts any line: the player answers in order.
func (Message) AnswerMatches(candidate message.Message) bool { return candidate != nil }

// Codec builds Pioneer messages. A command starting with "?" is a
// status question.
type Codec struct{}

func (Codec) build(s string) (message.Message, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("%w: pioneer empty line", message.ErrUndecodable)
	}
	question := strings.HasPrefix(s, "?")
	value := s
	if question {
		value = ""
	}
	return Message{Base: message.NewBase(message.Fields{
		Decoded:  s,
		Encoded:  s,
		Command:  s,
		Value:    value,
		Question: question,
	})}, nil
}

func (c Codec) Decode(decoded string) (message.Message, error)   { return c.build(decoded) }
func (c Codec) Parse(encoded string) (message.Message, error)    { return c.build(encoded) }
func (c Codec) Question(command string) (message.Message, error) { return c.build(command) }

// Delay gives the player five seconds to boot after power on.
func Delay(prev, _ *device.Request) time.Duration {
	if prev.Message.Command() == "PN" {
		return 5 * time.Second
	}
	return 0
}

// Config holds the Pioneer specific settings.
type Config struct {
	Host string
	Port int

	// IdleTimeout closes the connection when unused. The player accepts
	// only one client at a time.
	IdleTimeout time.Duration
}

// Pioneer is a Pioneer player.
type Pioneer struct {
	dev *device.Device
}

// New creates the driver. The connection is made with the first request.
func New(opts drivers.Options, cfg Config) (*Pioneer, error) {
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	var tr device.Transport
	if opts.Transport == nil {
		if cfg.Host == "" {
			return nil, fmt.Errorf("pioneer: host is required")
		}
		tr = transport.NewTelnet(transport.TelnetConfig{
			Address:     net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
			Delimiter:   eol,
			IdleTimeout: cfg.IdleTimeout,
			Logger:      opts.Logger,
		})
	}
	dc := opts.DeviceConfig(DefaultName, tr)
	dc.Codec = Codec{}
	dc.EOL = eol
	dc.Delay = Delay
	dc.DropUnsolicited = true

	dev, err := device.New(dc)
	if err != nil {
		return nil, err
	}
	p := &Pioneer{dev: dev}
	dev.SetPower(p.send("PN"), p.send("PF"))
	return p, nil
}

// Device returns the underlying device.
func (p *Pioneer) Device() *device.Device { return p.dev }

// Actions returns the common actions plus play. send pushes
// unconditionally since the player cannot report most values.
func (p *Pioneer) Actions() map[string]automation.Action {
	return drivers.Merge(drivers.Actions(p.dev), map[string]automation.Action{
		"send": func(ctx context.Context, _ automation.Event, args ...string) error {
			cmd, err := drivers.LastArg("send", args)
			if err != nil {
				return err
			}
			_, err = p.dev.Push(ctx, cmd)
			return err
		},
		"play": func(ctx context.Context, _ automation.Event, _ ...string) error {
			return p.Play(ctx)
		},
	})
}

func (p *Pioneer) send(cmd string) device.PowerFunc {
	return func(ctx context.Context) error {
		_, err := p.dev.Push(ctx, cmd)
		return err
	}
}

// Play starts playback. An open tray is closed instead, which starts
// playback with auto play enabled in the player setup.
func (p *Pioneer) Play(ctx context.Context) error {
	status, err := p.dev.Ask(ctx, "?P")
	if err != nil {
		return err
	}
	cmd := "PL"
	if status.Value() == "P00" {
		cmd = "CO"
	}
	_, err = p.dev.Push(ctx, cmd)
	return err
}
