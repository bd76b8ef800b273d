// Package lirc receives remote control buttons from the lircd socket.
//
// The human form of a button is remote.button.repeat. Button and repeat
// may be omitted: an omitted button matches any button, an omitted
// repeat means "00", the first press. A part containing a dot is
// written in double quotes:
//
//	AcerP1165.Up.01
//	AcerP1165
//	"My other remote".Power
package lirc

import (
	"context"
	"fmt"
	"strings"

	"github.com/nerrad567/halirc/internal/automation"
	"github.com/nerrad567/halirc/internal/device"
	"github.com/nerrad567/halirc/internal/drivers"
	"github.com/nerrad567/halirc/internal/message"
	"github.com/nerrad567/halirc/internal/transport"
)

// Defaults for lircd.
const (
	DefaultName   = "lirc"
	DefaultSocket = "/var/run/lirc/lircd"

	firstPress = "00"
)

// Message is one button press.
type Message struct {
	message.Base
	remote string
	button string
	repeat string
}

// Remote returns the remote control name.
func (m Message) Remote() string { return m.remote }

// Button returns the button name, empty for any button.
func (m Message) Button() string { return m.button }

// Repeat returns the repeat counter as sent by lircd, "00" for the
// first press.
func (m Message) Repeat() string { return m.repeat }

// String returns the human form.
func (m Message) String() string { return m.Decoded() }

// Matches compares part by part. An empty part on either side matches
// anything.
func (m Message) Matches(other message.Message) bool {
	o, ok := other.(Message)
	if !ok {
		return false
	}
	pairs := [][2]string{{m.remote, o.remote}, {m.button, o.button}, {m.repeat, o.repeat}}
	for _, p := range pairs {
		if p[0] != "" && p[1] != "" && p[0] != p[1] {
			return false
		}
	}
	return true
}

// Codec translates between lircd lines and the human form.
type Codec struct{}

// Decode parses remote.button.repeat.
func (Codec) Decode(decoded string) (message.Message, error) {
	parts, err := splitParts(decoded)
	if err != nil {
		return nil, err
	}
	return build(parts[0], parts[1], parts[2]), nil
}

// Parse reads a lircd line: "<code> <repeat> <button> <remote>".
func (Codec) Parse(encoded string) (message.Message, error) {
	parts := strings.Fields(encoded)
	if len(parts) != 4 || strings.Contains(encoded, `"`) {
		return nil, fmt.Errorf("%w: lirc %q", message.ErrUndecodable, encoded)
	}
	return build(parts[3], parts[2], parts[1]), nil
}

// Question is not supported: lircd only reports.
func (Codec) Question(command string) (message.Message, error) {
	return nil, fmt.Errorf("%w: lirc cannot answer %q", transport.ErrReadOnly, command)
}

func build(remote, button, repeat string) Message {
	parts := []string{remote, button, repeat}
	quoted := make([]string, len(parts))
	for i, p := range parts {
		if strings.Contains(p, ".") {
			p = `"` + p + `"`
		}
		quoted[i] = p
	}
	decoded := strings.Join(quoted, ".")
	return Message{
		Base: message.NewBase(message.Fields{
			Decoded: decoded,
			Encoded: strings.Join([]string{repeat, button, remote}, " "),
			Command: decoded,
		}),
		remote: remote,
		button: button,
		repeat: repeat,
	}
}

// splitParts splits the human form into remote, button and repeat.
func splitParts(s string) ([3]string, error) {
	var parts []string
	rest := s
	for rest != "" {
		if rest[0] == '"' {
			end := strings.IndexByte(rest[1:], '"')
			if end < 0 {
				return [3]string{}, fmt.Errorf("%w: lirc unterminated quote in %q", message.ErrUndecodable, s)
			}
			parts = append(parts, rest[1:end+1])
			rest = rest[end+2:]
			if rest != "" {
				if rest[0] != '.' {
					return [3]string{}, fmt.Errorf("%w: lirc %q", message.ErrUndecodable, s)
				}
				rest = rest[1:]
			}
			continue
		}
		part, tail, found := strings.Cut(rest, ".")
		parts = append(parts, part)
		rest = tail
		if found && rest == "" {
			parts = append(parts, "")
		}
	}
	if len(parts) == 0 || parts[0] == "" {
		return [3]string{}, fmt.Errorf("%w: lirc needs a remote in %q", message.ErrUndecodable, s)
	}
	if len(parts) > 3 {
		return [3]string{}, fmt.Errorf("%w: lirc has too many parts in %q", message.ErrUndecodable, s)
	}
	out := [3]string{"", "", firstPress}
	copy(out[:], parts)
	if out[2] == "" {
		out[2] = firstPress
	}
	return out, nil
}

// Config holds the lirc specific settings.
type Config struct {
	Socket string
}

// Lirc is the lircd event source.
type Lirc struct {
	dev *device.Device
}

// New creates the driver and connects to lircd.
func New(opts drivers.Options, cfg Config) (*Lirc, error) {
	if cfg.Socket == "" {
		cfg.Socket = DefaultSocket
	}
	var tr device.Transport
	if opts.Transport == nil {
		tr = transport.NewUnix(transport.UnixConfig{Path: cfg.Socket, Logger: opts.Logger})
	}
	dc := opts.DeviceConfig(DefaultName, tr)
	dc.Codec = Codec{}

	dev, err := device.New(dc)
	if err != nil {
		return nil, err
	}
	return &Lirc{dev: dev}, nil
}

// Device returns the underlying device.
func (l *Lirc) Device() *device.Device { return l.dev }

// Open connects to lircd. Buttons arrive without any request, so the
// socket is opened at startup.
func (l *Lirc) Open(ctx context.Context) error {
	return l.dev.Open(ctx)
}

// Actions returns none: lircd cannot send.
func (l *Lirc) Actions() map[string]automation.Action {
	return map[string]automation.Action{}
}
