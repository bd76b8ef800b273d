// Package lgtv drives LG flat screens over their RS-232 port.
package lgtv

import (
	"context"
	"sync"
	"time"

	"github.com/nerrad567/halirc/internal/automation"
	"github.com/nerrad567/halirc/internal/device"
	"github.com/nerrad567/halirc/internal/drivers"
	"github.com/nerrad567/halirc/internal/transport"
)

// Defaults for an LG TV.
const (
	DefaultName = "lgtv"
	DefaultPort = "/dev/LGPlasma"

	// DefaultIdleStandby is how long the screen may stay muted before the
	// TV goes to standby.
	DefaultIdleStandby = 300 * time.Second

	eol       = "\r"
	delimiter = "x"
)

// Delay keeps the TV alone while it powers on or off. Commands sent
// during that time are ignored, answered with garbage or hang the
// serial interface.
func Delay(prev, _ *device.Request) time.Duration {
	switch prev.Message.Decoded() {
	case "power:on":
		return 6 * time.Second
	case "power:off":
		return 8 * time.Second
	}
	return 0
}

// Config holds the LG specific settings.
type Config struct {
	Port     string
	BaudRate int

	// IdleStandby switches the TV off after the screen was muted this
	// long. Default: 5 minutes.
	IdleStandby time.Duration
}

// LGTV is an LG TV.
type LGTV struct {
	dev *device.Device
	cfg Config

	mu         sync.Mutex
	videoMuted time.Time
	companion  device.PowerFunc
}

// New creates the driver and its serial connection.
func New(opts drivers.Options, cfg Config) (*LGTV, error) {
	if cfg.Port == "" {
		cfg.Port = DefaultPort
	}
	if cfg.IdleStandby == 0 {
		cfg.IdleStandby = DefaultIdleStandby
	}
	var tr device.Transport
	if opts.Transport == nil {
		tr = transport.NewSerial(transport.SerialConfig{
			Port:      cfg.Port,
			BaudRate:  cfg.BaudRate,
			Delimiter: delimiter,
			Logger:    opts.Logger,
		})
	}
	dc := opts.DeviceConfig(DefaultName, tr)
	dc.Codec = Codec{}
	dc.EOL = eol
	dc.Delay = Delay
	dc.PowerOnCommands = []string{"input"}

	dev, err := device.New(dc)
	if err != nil {
		return nil, err
	}
	l := &LGTV{dev: dev, cfg: cfg}
	dev.SetPower(l.powerOn, l.standby)
	return l, nil
}

// Device returns the underlying device.
func (l *LGTV) Device() *device.Device { return l.dev }

// SetCompanion installs the power-on of the device that plays the TV's
// sound. It is switched on whenever the screen is unmuted.
func (l *LGTV) SetCompanion(fn device.PowerFunc) {
	l.mu.Lock()
	l.companion = fn
	l.mu.Unlock()
}

// Actions returns the common actions plus init, mutescreen and aspect.
func (l *LGTV) Actions() map[string]automation.Action {
	return drivers.Merge(drivers.Actions(l.dev), map[string]automation.Action{
		"init": func(ctx context.Context, _ automation.Event, _ ...string) error {
			return l.Init(ctx)
		},
		"mutescreen": func(ctx context.Context, ev automation.Event, args ...string) error {
			muteButton, err := drivers.LastArg("mutescreen", args)
			if err != nil {
				return err
			}
			return l.MuteScreen(ctx, buttonOf(ev), muteButton)
		},
		"aspect": func(ctx context.Context, _ automation.Event, args ...string) error {
			if len(args) == 0 {
				return drivers.ErrMissingArgument
			}
			return l.Aspect(ctx, args)
		},
	})
}

// buttonOf returns the remote control button of an event, if any.
func buttonOf(ev automation.Event) string {
	if b, ok := ev.Message.(interface{ Button() string }); ok {
		return b.Button()
	}
	return ""
}

// Init prepares the TV for watching through the media center.
func (l *LGTV) Init(ctx context.Context) error {
	l.mu.Lock()
	l.videoMuted = time.Time{}
	l.mu.Unlock()
	for _, cmd := range []string{"power:on", "volume:0", "aspect:scan", "mutescreen:off"} {
		if err := l.dev.Send(ctx, cmd); err != nil {
			return err
		}
	}
	return nil
}

func (l *LGTV) powerOn(ctx context.Context) error {
	if err := l.dev.Send(ctx, "power:on"); err != nil {
		return err
	}
	return l.dev.Send(ctx, "mutescreen:off")
}

func (l *LGTV) standby(ctx context.Context) error {
	return l.dev.Send(ctx, "power:off")
}

// MuteScreen blanks the screen when button is muteButton and makes it
// visible again for any other button. A TV that is off is initialized.
// After IdleStandby with a blank screen the TV goes to standby.
func (l *LGTV) MuteScreen(ctx context.Context, button, muteButton string) error {
	power, err := l.dev.Ask(ctx, "power")
	if err != nil {
		return err
	}
	if power.Value() != "on" {
		return l.Init(ctx)
	}

	screen, err := l.dev.Ask(ctx, "mutescreen")
	if err != nil {
		return err
	}
	want := "off"
	if screen.Value() != "on" && button == muteButton {
		want = "on"
	}
	if screen.Value() == want {
		return nil
	}

	if want == "on" {
		l.mu.Lock()
		l.videoMuted = time.Now()
		l.mu.Unlock()
		time.AfterFunc(l.cfg.IdleStandby, l.standbyIfUnused)
		_, err := l.dev.Push(ctx, "mutescreen:on")
		return err
	}

	l.mu.Lock()
	companion := l.companion
	l.mu.Unlock()
	if companion != nil {
		if err := companion(ctx); err != nil {
			l.dev.Logger().Warn("powering on companion failed", "device", l.dev.Name(), "error", err)
		}
	}
	return l.Init(ctx)
}

func (l *LGTV) standbyIfUnused() {
	l.mu.Lock()
	muted := l.videoMuted
	l.mu.Unlock()
	if muted.IsZero() || time.Since(muted)+time.Second <= l.cfg.IdleStandby {
		return
	}
	l.dev.Logger().Info("screen muted too long, standby", "device", l.dev.Name(), "since", muted)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := l.dev.Standby(ctx); err != nil {
		l.dev.Logger().Error("standby failed", "device", l.dev.Name(), "error", err)
	}
}

// Aspect switches to the entry of cycle after the current aspect
// ratio, or to the first one.
func (l *LGTV) Aspect(ctx context.Context, cycle []string) error {
	current, err := l.dev.Ask(ctx, "aspect")
	if err != nil {
		return err
	}
	next := cycle[0]
	for i, v := range cycle {
		if v == current.Value() {
			next = cycle[(i+1)%len(cycle)]
			break
		}
	}
	_, err = l.dev.Push(ctx, "aspect:"+next)
	return err
}
