package drivers

import (
	"context"
	"fmt"
	"time"

	"github.com/nerrad567/halirc/internal/automation"
	"github.com/nerrad567/halirc/internal/device"
)

// Driver is a configured device together with the actions it offers to
// triggers and timers.
type Driver interface {
	Device() *device.Device
	Actions() map[string]automation.Action
}

// Options are the settings every driver accepts.
type Options struct {
	// Name identifies the device. Each driver has a default.
	Name string

	// Transport replaces the driver's own connection. Tests use it to
	// inject fakes.
	Transport device.Transport

	// Outlet powers the device, if it is plugged into a switchable socket.
	Outlet device.Outlet

	// Timeout overrides the answer timeout.
	Timeout time.Duration

	Events   device.EventSink
	Logger   device.Logger
	Observer device.Observer
}

// DeviceConfig fills the fields of a device.Config that come from opts.
func (o Options) DeviceConfig(defaultName string, tr device.Transport) device.Config {
	name := o.Name
	if name == "" {
		name = defaultName
	}
	if o.Transport != nil {
		tr = o.Transport
	}
	return device.Config{
		Name:      name,
		Transport: tr,
		Timeout:   o.Timeout,
		Outlet:    o.Outlet,
		Events:    o.Events,
		Logger:    o.Logger,
		Observer:  o.Observer,
	}
}

// Actions returns the actions every driver offers. The last argument
// is the human readable command:
//
//	push     send unconditionally and wait for the answer
//	send     send only if the device reports a different value
//	ask      ask for the current value
//	blind    send without waiting for an answer
//	poweron  switch outlet and device on
//	standby  put the device to standby and switch its outlet off
func Actions(d *device.Device) map[string]automation.Action {
	return map[string]automation.Action{
		"push": func(ctx context.Context, _ automation.Event, args ...string) error {
			cmd, err := LastArg("push", args)
			if err != nil {
				return err
			}
			_, err = d.Push(ctx, cmd)
			return err
		},
		"send": func(ctx context.Context, _ automation.Event, args ...string) error {
			cmd, err := LastArg("send", args)
			if err != nil {
				return err
			}
			return d.Send(ctx, cmd)
		},
		"ask": func(ctx context.Context, _ automation.Event, args ...string) error {
			cmd, err := LastArg("ask", args)
			if err != nil {
				return err
			}
			_, err = d.Ask(ctx, cmd)
			return err
		},
		"blind": func(ctx context.Context, _ automation.Event, args ...string) error {
			cmd, err := LastArg("blind", args)
			if err != nil {
				return err
			}
			return d.PushFireAndForget(ctx, cmd)
		},
		"poweron": func(ctx context.Context, _ automation.Event, _ ...string) error {
			return d.PowerOn(ctx)
		},
		"standby": func(ctx context.Context, _ automation.Event, _ ...string) error {
			return d.Standby(ctx)
		},
	}
}

// Merge returns base with the entries of override added or replaced.
func Merge(base, override map[string]automation.Action) map[string]automation.Action {
	for name, action := range override {
		base[name] = action
	}
	return base
}

// LastArg returns the last action argument.
func LastArg(action string, args []string) (string, error) {
	if len(args) == 0 || args[len(args)-1] == "" {
		return "", fmt.Errorf("%w: %s", ErrMissingArgument, action)
	}
	return args[len(args)-1], nil
}
