// Package vdr drives the VDR media center through its SVDRP port.
//
// SVDRP serves one client at a time, so the connection is closed after
// a few idle seconds and reopened with the next request.
package vdr

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/halirc/internal/automation"
	"github.com/nerrad567/halirc/internal/device"
	"github.com/nerrad567/halirc/internal/drivers"
	"github.com/nerrad567/halirc/internal/message"
	"github.com/nerrad567/halirc/internal/transport"
)

// Defaults for a VDR.
const (
	DefaultName        = "vdr"
	DefaultHost        = "localhost"
	DefaultPort        = 6419
	DefaultIdleTimeout = 5 * time.Second

	eol       = "\r\n"
	greeting  = "220 "
	closeLine = "221 "
)

// replyOK lists the SVDRP reply codes that are not errors.
var replyOK = map[string]bool{"250": true, "354": true, "550": true, "900": true, "910": true}

// Message is an SVDRP command or reply.
//
// Plugin commands ("plug softhddevice stat") use the first three words
// as command; all others the first word. The rest is the value.
type Message struct {
	message.Base
}

// AnswerMatches accepts any reply: SVDRP answers strictly in order.
func (Message) AnswerMatches(candidate message.Message) bool { return candidate != nil }

// Codec builds SVDRP messages. Both forms are the wire form.
type Codec struct{}

// build creates a message. Replies carry their code as status when it
// signals an error.
func (Codec) build(s string, reply bool) (message.Message, error) {
	parts := strings.Fields(s)
	if len(parts) == 0 {
		return nil, fmt.Errorf("%w: vdr empty line", message.ErrUndecodable)
	}
	n := 1
	if strings.EqualFold(parts[0], "plug") {
		n = min(3, len(parts))
	}
	status := message.DefaultStatus
	if reply && !replyOK[parts[0]] {
		status = parts[0]
	}
	value := strings.Join(parts[n:], " ")
	return Message{Base: message.NewBase(message.Fields{
		Decoded:  s,
		Encoded:  s,
		Command:  strings.Join(parts[:n], " "),
		Value:    value,
		Question: !reply && value == "",
		Status:   status,
	})}, nil
}

func (c Codec) Decode(decoded string) (message.Message, error)   { return c.build(decoded, false) }
func (c Codec) Parse(encoded string) (message.Message, error)    { return c.build(encoded, true) }
func (c Codec) Question(command string) (message.Message, error) { return c.build(command, false) }

// Config holds the VDR specific settings.
type Config struct {
	Host        string
	Port        int
	IdleTimeout time.Duration
}

// VDR is a VDR instance.
type VDR struct {
	dev *device.Device

	mu          sync.Mutex
	prevChannel string
}

// New creates the driver. The connection is made with the first request.
func New(opts drivers.Options, cfg Config) (*VDR, error) {
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	var tr device.Transport
	if opts.Transport == nil {
		tr = transport.NewTelnet(transport.TelnetConfig{
			Address:     net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
			Delimiter:   eol,
			Greeting:    greeting,
			CloseLine:   closeLine,
			IdleTimeout: cfg.IdleTimeout,
			QuitCommand: "quit",
			Logger:      opts.Logger,
		})
	}
	dc := opts.DeviceConfig(DefaultName, tr)
	dc.Codec = Codec{}
	dc.EOL = eol
	dc.DropUnsolicited = true

	dev, err := device.New(dc)
	if err != nil {
		return nil, err
	}
	return &VDR{dev: dev}, nil
}

// Device returns the underlying device.
func (v *VDR) Device() *device.Device { return v.dev }

// Actions returns the common actions plus channel, prevchannel and
// softhddevice. send pushes unconditionally.
func (v *VDR) Actions() map[string]automation.Action {
	return drivers.Merge(drivers.Actions(v.dev), map[string]automation.Action{
		"send": func(ctx context.Context, _ automation.Event, args ...string) error {
			cmd, err := drivers.LastArg("send", args)
			if err != nil {
				return err
			}
			_, err = v.dev.Push(ctx, cmd)
			return err
		},
		"channel": func(ctx context.Context, _ automation.Event, args ...string) error {
			channel, err := drivers.LastArg("channel", args)
			if err != nil {
				return err
			}
			return v.GotoChannel(ctx, channel)
		},
		"prevchannel": func(ctx context.Context, _ automation.Event, _ ...string) error {
			return v.PrevChannel(ctx)
		},
		"softhddevice": func(ctx context.Context, _ automation.Event, _ ...string) error {
			return v.ToggleSofthddevice(ctx)
		},
	})
}

// Channel returns the number and name of the current channel. Both are
// empty if VDR does not report one.
func (v *VDR) Channel(ctx context.Context) (number, name string, err error) {
	answer, err := v.dev.Push(ctx, "chan")
	if err != nil {
		return "", "", err
	}
	parts := strings.Fields(answer.Decoded())
	if len(parts) < 2 || parts[0] != "250" {
		return "", "", nil
	}
	return parts[1], strings.Join(parts[2:], " "), nil
}

// GotoChannel switches to channel, given as number or name, unless it
// is already tuned. The channel left is remembered for PrevChannel.
func (v *VDR) GotoChannel(ctx context.Context, channel string) error {
	number, name, err := v.Channel(ctx)
	if err != nil {
		return err
	}
	if channel == number || channel == name {
		return nil
	}
	v.mu.Lock()
	v.prevChannel = number
	v.mu.Unlock()
	_, err = v.dev.Push(ctx, "chan "+channel)
	return err
}

// PrevChannel returns to the channel before the last GotoChannel.
func (v *VDR) PrevChannel(ctx context.Context) error {
	v.mu.Lock()
	prev := v.prevChannel
	v.mu.Unlock()
	if prev == "" {
		return nil
	}
	return v.GotoChannel(ctx, prev)
}

// ToggleSofthddevice suspends or resumes the softhddevice output.
func (v *VDR) ToggleSofthddevice(ctx context.Context) error {
	status, err := v.dev.Ask(ctx, "plug softhddevice stat")
	if err != nil {
		return err
	}
	var cmd string
	switch {
	case strings.HasSuffix(status.Value(), "NOT_SUSPENDED"):
		cmd = "plug softhddevice susp"
	case strings.HasSuffix(status.Value(), "SUSPEND_NORMAL"):
		cmd = "plug softhddevice resu"
	default:
		v.dev.Logger().Debug("unexpected softhddevice status", "device", v.dev.Name(), "answer", status.Decoded())
		return nil
	}
	_, err = v.dev.Push(ctx, cmd)
	return err
}
