// Package yamaha drives Yamaha AV receivers through their YNCA port.
//
// Messages look like "@MAIN:VOL=-35.5". A question has the value "?".
// The receiver drops idle clients, so a keepalive line is written every
// ten seconds, and it reports every change, which becomes an event even
// when it answers a request.
package yamaha

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

// Defaults for a Yamaha receiver.
const (
	DefaultName      = "yamaha"
	DefaultPort      = 50000
	DefaultKeepAlive = 10 * time.Second

	eol           = "\r\n"
	keepAliveLine = "@SYS:INPNAMEPHONO=PHONO"
	power         = "@MAIN:PWR"
	volume        = "@MAIN:VOL"
)

// Message is a YNCA message.
type Message struct {
	message.Base
}

// AnswerMatches accepts an answer only for a question with the same
// command. Commands that set a value are not answered.
func (m Message) AnswerMatches(candidate message.Message) bool {
	return m.Base.AnswerMatches(candidate) && m.IsQuestion()
}

// String returns the wire form.
func (m Message) String() string { return m.Encoded() }

// Codec builds YNCA messages. Both forms are the wire form.
type Codec struct{}

func (Codec) build(s string) (message.Message, error) {
	if !strings.HasPrefix(s, "@") {
		return nil, fmt.Errorf("%w: yamaha %q", message.ErrUndecodable, s)
	}
	command, value, ok := strings.Cut(s, "=")
	if !ok {
		value = "?"
		s += "=?"
	}
	question := value == "?"
	if question {
		value = ""
	}
	return Message{Base: message.NewBase(message.Fields{
		Decoded:  s,
		Encoded:  s,
		Command:  command,
		Value:    value,
		Question: question,
	})}, nil
}

func (c Codec) Decode(decoded string) (message.Message, error) { return c.build(decoded) }
func (c Codec) Parse(encoded string) (message.Message, error)  { return c.build(encoded) }

func (c Codec) Question(command string) (message.Message, error) {
	command, _, _ = strings.Cut(command, "=")
	return c.build(command + "=?")
}

// Delay waits a second after switching power and 50ms otherwise. The
// manual asks for 100ms between commands; the transmission time covers
// the rest.
func Delay(prev, _ *device.Request) time.Duration {
	if !prev.Message.IsQuestion() && prev.Message.Command() == power {
		return time.Second
	}
	return 50 * time.Millisecond
}

// Config holds the Yamaha specific settings.
type Config struct {
	Host      string
	Port      int
	KeepAlive time.Duration
}

// Yamaha is a Yamaha receiver.
type Yamaha struct {
	dev *device.Device

	mu          sync.Mutex
	mutedVolume float64
	muted       bool
	status      map[string]string
	events      device.EventSink
}

// New creates the driver. The connection is made with the first request
// and kept open by the keepalive.
func New(opts drivers.Options, cfg Config) (*Yamaha, error) {
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.KeepAlive == 0 {
		cfg.KeepAlive = DefaultKeepAlive
	}
	var tr device.Transport
	if opts.Transport == nil {
		if cfg.Host == "" {
			return nil, fmt.Errorf("yamaha: host is required")
		}
		tr = transport.NewTelnet(transport.TelnetConfig{
			Address:       net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
			Delimiter:     eol,
			KeepAlive:     cfg.KeepAlive,
			KeepAliveLine: keepAliveLine,
			Logger:        opts.Logger,
		})
	}

	y := &Yamaha{status: make(map[string]string), events: opts.Events}
	dc := opts.DeviceConfig(DefaultName, tr)
	dc.Codec = Codec{}
	dc.EOL = eol
	dc.Delay = Delay
	dc.AnswersAsEvents = true
	dc.Events = y

	dev, err := device.New(dc)
	if err != nil {
		return nil, err
	}
	y.dev = dev
	dev.SetPower(
		func(ctx context.Context) error { return y.Send(ctx, power+"=On") },
		func(ctx context.Context) error { return y.Send(ctx, power+"=Standby") },
	)
	return y, nil
}

// Emit records the reported value and forwards the event.
func (y *Yamaha) Emit(source string, msg message.Message) {
	if !msg.IsQuestion() {
		y.mu.Lock()
		y.status[msg.Command()] = msg.Value()
		y.mu.Unlock()
	}
	if y.events != nil {
		y.events.Emit(source, msg)
	}
}

// Status returns the last value the receiver reported for command.
func (y *Yamaha) Status(command string) (string, bool) {
	y.mu.Lock()
	defer y.mu.Unlock()
	v, ok := y.status[command]
	return v, ok
}

// Device returns the underlying device.
func (y *Yamaha) Device() *device.Device { return y.dev }

// Actions returns the common actions plus volume and mute. push and
// send both go through Send, as the receiver answers only questions.
func (y *Yamaha) Actions() map[string]automation.Action {
	return drivers.Merge(drivers.Actions(y.dev), map[string]automation.Action{
		"push": func(ctx context.Context, _ automation.Event, args ...string) error {
			cmd, err := drivers.LastArg("push", args)
			if err != nil {
				return err
			}
			return y.Send(ctx, cmd)
		},
		"send": func(ctx context.Context, _ automation.Event, args ...string) error {
			cmd, err := drivers.LastArg("send", args)
			if err != nil {
				return err
			}
			return y.Send(ctx, cmd)
		},
		"volume": func(ctx context.Context, _ automation.Event, args ...string) error {
			value, err := drivers.LastArg("volume", args)
			if err != nil {
				return err
			}
			return y.Volume(ctx, value)
		},
		"mute": func(ctx context.Context, _ automation.Event, _ ...string) error {
			return y.Mute(ctx)
		},
	})
}

// Send writes cmd. Questions wait for their answer, everything else is
// written blind since the receiver does not answer it.
func (y *Yamaha) Send(ctx context.Context, cmd string) error {
	msg, err := y.dev.Message(cmd)
	if err != nil {
		return err
	}
	if msg.IsQuestion() {
		_, err = y.dev.PushMessage(ctx, msg)
		return err
	}
	_, err = y.dev.Enqueue(msg, device.FireAndForget).Wait(ctx)
	return err
}

func (y *Yamaha) poweredOn(ctx context.Context) (bool, error) {
	answer, err := y.dev.Ask(ctx, power)
	if err != nil {
		return false, err
	}
	return answer != nil && answer.Value() == "On", nil
}

// Volume sets the volume if the receiver is on. While muted it unmutes
// instead.
func (y *Yamaha) Volume(ctx context.Context, value string) error {
	on, err := y.poweredOn(ctx)
	if err != nil || !on {
		return err
	}
	y.mu.Lock()
	muted := y.muted
	y.mu.Unlock()
	if muted {
		return y.Mute(ctx)
	}
	return y.Send(ctx, volume+"="+value)
}

// Mute toggles between the current volume and -55dB. A receiver already
// below -50dB is raised to -40dB instead.
func (y *Yamaha) Mute(ctx context.Context) error {
	on, err := y.poweredOn(ctx)
	if err != nil || !on {
		return err
	}

	y.mu.Lock()
	restore, muted := y.mutedVolume, y.muted
	y.muted = false
	y.mu.Unlock()
	if muted {
		return y.Send(ctx, volume+"="+formatDB(restore))
	}

	current, err := y.dev.Ask(ctx, volume)
	if err != nil {
		return err
	}
	db, err := strconv.ParseFloat(current.Value(), 64)
	if err != nil {
		return fmt.Errorf("%w: %s %q", drivers.ErrBadValue, volume, current.Value())
	}
	target := -55.0
	if db < -50.1 {
		// already quiet when we started
		target = -40.0
	} else {
		y.mu.Lock()
		y.mutedVolume, y.muted = db, true
		y.mu.Unlock()
	}
	return y.Send(ctx, volume+"="+formatDB(target))
}

func formatDB(v float64) string { return strconv.FormatFloat(v, 'f', 1, 64) }
