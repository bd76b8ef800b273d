package app

import (
	"fmt"

	"github.com/nerrad567/halirc/internal/device"
	"github.com/nerrad567/halirc/internal/drivers"
	"github.com/nerrad567/halirc/internal/drivers/denon"
	"github.com/nerrad567/halirc/internal/drivers/gembird"
	"github.com/nerrad567/halirc/internal/drivers/lgtv"
	"github.com/nerrad567/halirc/internal/drivers/lirc"
	"github.com/nerrad567/halirc/internal/drivers/pioneer"
	"github.com/nerrad567/halirc/internal/drivers/vdr"
	"github.com/nerrad567/halirc/internal/drivers/yamaha"
	"github.com/nerrad567/halirc/internal/infrastructure/config"
)

// TransportFactory returns a transport replacing the driver's own
// connection, or nil to keep it. Tests use it to run without hardware.
type TransportFactory func(dc config.DeviceConfig) device.Transport

// newDriver creates one driver from its configuration.
func newDriver(dc config.DeviceConfig, opts drivers.Options) (drivers.Driver, error) {
	switch dc.Driver {
	case config.DriverDenon:
		return denon.New(opts, denon.Config{Port: dc.Port, BaudRate: dc.BaudRate})
	case config.DriverGembird:
		return gembird.New(opts, gembird.Config{Device: dc.USBDevice, Binary: dc.Binary})
	case config.DriverLGTV:
		return lgtv.New(opts, lgtv.Config{Port: dc.Port, BaudRate: dc.BaudRate, IdleStandby: dc.IdleTimeout})
	case config.DriverLirc:
		return lirc.New(opts, lirc.Config{Socket: dc.Socket})
	case config.DriverPioneer:
		return pioneer.New(opts, pioneer.Config{Host: dc.Host, Port: dc.TCPPort, IdleTimeout: dc.IdleTimeout})
	case config.DriverVDR:
		return vdr.New(opts, vdr.Config{Host: dc.Host, Port: dc.TCPPort, IdleTimeout: dc.IdleTimeout})
	case config.DriverYamaha:
		return yamaha.New(opts, yamaha.Config{Host: dc.Host, Port: dc.TCPPort, KeepAlive: dc.KeepAlive})
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, dc.Driver)
	}
}

// buildDrivers creates every configured device and registers it. Power
// strips are built first so that other devices can take an outlet, and
// companions are linked once everything exists.
func (a *App) buildDrivers(devices []config.DeviceConfig, base drivers.Options, transports TransportFactory) error {
	ordered := make([]config.DeviceConfig, 0, len(devices))
	for _, dc := range devices {
		if dc.Driver == config.DriverGembird {
			ordered = append(ordered, dc)
		}
	}
	for _, dc := range devices {
		if dc.Driver != config.DriverGembird {
			ordered = append(ordered, dc)
		}
	}

	for _, dc := range ordered {
		opts := base
		opts.Name = dc.DeviceName()
		if dc.Timeout > 0 {
			opts.Timeout = dc.Timeout
		}
		if transports != nil {
			opts.Transport = transports(dc)
		}
		if dc.Outlet != "" {
			outlet, err := a.outlet(dc)
			if err != nil {
				return err
			}
			opts.Outlet = outlet
		}

		drv, err := newDriver(dc, opts)
		if err != nil {
			return fmt.Errorf("device %q: %w", opts.Name, err)
		}
		if err := a.registry.Register(drv.Device()); err != nil {
			return fmt.Errorf("device %q: %w", opts.Name, err)
		}
		a.drivers[opts.Name] = drv
		a.order = append(a.order, opts.Name)
	}

	for _, dc := range devices {
		if dc.Companion == "" {
			continue
		}
		tv, ok := a.drivers[dc.DeviceName()].(*lgtv.LGTV)
		if !ok {
			return fmt.Errorf("device %q: only lgtv supports a companion", dc.DeviceName())
		}
		companion, ok := a.drivers[dc.Companion]
		if !ok {
			return fmt.Errorf("device %q: companion %q is not configured", dc.DeviceName(), dc.Companion)
		}
		tv.SetCompanion(companion.Device().PowerOn)
	}
	return nil
}

func (a *App) outlet(dc config.DeviceConfig) (device.Outlet, error) {
	name, n, err := dc.OutletRef()
	if err != nil {
		return nil, fmt.Errorf("device %q: %w", dc.DeviceName(), err)
	}
	strip, ok := a.drivers[name].(*gembird.Gembird)
	if !ok {
		return nil, fmt.Errorf("device %q: %w: %q is not a gembird", dc.DeviceName(), device.ErrNoOutlet, name)
	}
	outlet, err := strip.Outlet(n)
	if err != nil {
		return nil, fmt.Errorf("device %q: %w", dc.DeviceName(), err)
	}
	return outlet, nil
}
