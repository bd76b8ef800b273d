// Package app builds halirc from its configuration and runs it.
//
// Build creates the devices, the Hal and every trigger and timer without
// touching hardware or the network, so that a configuration can be
// checked offline. Run then opens the devices, connects the optional
// services (SQLite journal, InfluxDB, MQTT bridge, HTTP API) and routes
// events until its context is cancelled.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/halirc/internal/api"
	"github.com/nerrad567/halirc/internal/automation"
	"github.com/nerrad567/halirc/internal/bridge"
	"github.com/nerrad567/halirc/internal/device"
	"github.com/nerrad567/halirc/internal/drivers"
	"github.com/nerrad567/halirc/internal/infrastructure/config"
	"github.com/nerrad567/halirc/internal/infrastructure/database"
	"github.com/nerrad567/halirc/internal/infrastructure/influxdb"
	"github.com/nerrad567/halirc/internal/infrastructure/logging"
	"github.com/nerrad567/halirc/internal/infrastructure/metrics"
	"github.com/nerrad567/halirc/internal/infrastructure/mqtt"
	"github.com/nerrad567/halirc/internal/journal"
	"github.com/nerrad567/halirc/internal/osd"
	"github.com/nerrad567/halirc/internal/telemetry"
)

const (
	openTimeout   = 10 * time.Second
	pruneInterval = time.Hour
)

// Options adjust Build for tests.
type Options struct {
	// Transports replaces device connections.
	Transports TransportFactory
}

// App owns the devices, the Hal and the services around them.
type App struct {
	cfg     *config.Config
	log     *logging.Logger
	version string

	registry *device.Registry
	drivers  map[string]drivers.Driver
	order    []string
	actions  map[string]map[string]automation.Action

	hal       *automation.Hal
	metrics   *metrics.Metrics
	telemetry *telemetry.Telemetry
	osd       *osd.Writer

	// Set by Run.
	db       *database.DB
	recorder *journal.Recorder
	influx   *influxdb.Client
	mqtt     *mqtt.Client
	bridge   *bridge.Bridge
	api      *api.Server
}

// Build creates the application described by cfg. Nothing is opened.
func Build(cfg *config.Config, log *logging.Logger, version string, opts Options) (*App, error) {
	a := &App{
		cfg:      cfg,
		log:      log,
		version:  version,
		registry: device.NewRegistry(),
		drivers:  make(map[string]drivers.Driver),
		actions:  make(map[string]map[string]automation.Action),
		metrics:  metrics.New(),
	}
	a.registry.SetLogger(log.Component("registry"))
	a.telemetry = telemetry.New(telemetry.Config{Metrics: a.metrics, Logger: log.Component("telemetry")})

	a.hal = automation.New(automation.Config{
		HistorySize:   cfg.Hal.HistorySize,
		TimerInterval: cfg.Hal.TimerInterval,
		CheckQueues:   cfg.Hal.CheckQueues,
		Pending:       a.registry,
		Dispatcher: automation.DispatcherConfig{
			Debounce:         cfg.Hal.Debounce,
			ActionTimeout:    cfg.Hal.ActionTimeout,
			WatchdogInterval: cfg.Hal.WatchdogInterval,
		},
		Logger:   log.Component("hal"),
		Observer: a.telemetry,
	})

	base := drivers.Options{
		Events:   a.hal,
		Logger:   log.Component("device"),
		Observer: a.telemetry,
	}
	if err := a.buildDrivers(cfg.Devices, base, opts.Transports); err != nil {
		a.closeDevices()
		return nil, err
	}
	for name, drv := range a.drivers {
		a.actions[name] = drv.Actions()
	}

	if cfg.OSD.Enabled {
		a.osd = osd.New(osd.Config{
			Binary:      cfg.OSD.Binary,
			Display:     cfg.OSD.Display,
			Font:        cfg.OSD.Font,
			IdleTimeout: cfg.OSD.IdleTimeout,
		}, log.Component("osd"))
	}

	if err := a.addRules(cfg.Triggers, cfg.Timers); err != nil {
		a.closeDevices()
		return nil, err
	}
	return a, nil
}

// Hal returns the event router.
func (a *App) Hal() *automation.Hal { return a.hal }

// Registry returns the device registry.
func (a *App) Registry() *device.Registry { return a.registry }

// Metrics returns the Prometheus collectors.
func (a *App) Metrics() *metrics.Metrics { return a.metrics }

// Addr returns the API listen address once Run has started it.
func (a *App) Addr() string {
	if a.api == nil {
		return ""
	}
	return a.api.Addr()
}

// Run opens the devices and services and routes events until ctx is
// done. Devices that cannot be opened are retried by their queues on the
// next request; lircd is reconnected by its transport.
func (a *App) Run(ctx context.Context) error {
	defer a.close()

	a.openDevices(ctx)

	if err := a.startServices(ctx); err != nil {
		return err
	}

	var wg sync.WaitGroup
	run := func(fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
		}()
	}

	if a.recorder != nil {
		run(func() { a.recorder.Run(ctx) })
		if a.cfg.Database.Retention > 0 {
			run(func() { a.pruneJournal(ctx) })
		}
	}
	run(func() {
		a.telemetry.Sample(ctx, telemetry.Sources{
			Devices:    a.registry.All,
			Dispatcher: a.hal.Dispatcher().Snapshot,
			Dropped:    a.journalDropped,
		}, telemetry.DefaultSampleInterval)
	})
	if a.bridge != nil {
		if err := a.bridge.Start(ctx); err != nil {
			a.log.Error("MQTT bridge failed to start", "error", err)
		}
	}

	a.log.Info("halirc running",
		"devices", len(a.order),
		"triggers", len(a.hal.Triggers()),
		"timers", len(a.hal.Timers()),
	)
	err := a.hal.Run(ctx)
	wg.Wait()
	return err
}

func (a *App) openDevices(ctx context.Context) {
	for _, name := range a.order {
		openCtx, cancel := context.WithTimeout(ctx, openTimeout)
		err := a.drivers[name].Device().Open(openCtx)
		cancel()
		if err != nil {
			a.log.Warn("device not available", "device", name, "error", err)
			continue
		}
		a.log.Info("device opened", "device", name)
	}
}

// startServices connects the configured services and attaches them to
// telemetry. Only the journal database is required once enabled.
func (a *App) startServices(ctx context.Context) error {
	var sinks telemetry.Sinks
	health := map[string]api.HealthChecker{}
	var repo journal.Repository

	if a.cfg.Database.Enabled {
		db, err := database.Open(database.Config{
			Path:        a.cfg.Database.Path,
			WALMode:     a.cfg.Database.WALMode,
			BusyTimeout: a.cfg.Database.BusyTimeout,
		})
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		a.db = db
		if err := db.Migrate(ctx); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}
		a.log.Info("journal database ready", "path", a.cfg.Database.Path)

		sqliteRepo := journal.NewSQLiteRepository(db.DB)
		repo = sqliteRepo
		a.recorder = journal.NewRecorder(sqliteRepo, a.log.Component("journal"), journal.DefaultBufferSize)
		sinks.Journal = a.recorder
		health["database"] = db
	}

	if a.cfg.InfluxDB.Enabled {
		influx, err := influxdb.Connect(ctx, a.cfg.InfluxDB)
		if err != nil {
			a.log.Warn("InfluxDB unavailable, continuing without points", "error", err)
		} else {
			a.influx = influx
			influx.SetOnError(func(err error) {
				a.log.Error("InfluxDB write error", "error", err)
			})
			sinks.Points = influx
			health["influxdb"] = influx
			a.log.Info("InfluxDB connected", "url", a.cfg.InfluxDB.URL, "bucket", a.cfg.InfluxDB.Bucket)
		}
	}

	if a.cfg.MQTT.Enabled {
		if err := a.connectMQTT(); err != nil {
			a.log.Warn("MQTT unavailable, continuing without bridge", "error", err)
		} else {
			sinks.Publisher = a.bridge
			health["mqtt"] = a.mqtt
		}
	}

	a.telemetry.Attach(sinks)

	if a.cfg.API.Enabled {
		srv, err := api.New(api.Deps{
			Config:   a.cfg.API,
			Logger:   a.log.Component("api"),
			Registry: a.registry,
			Hal:      a.hal,
			Resolve:  a.Resolve,
			Journal:  repo,
			Metrics:  a.metrics,
			DB:       a.db,
			Bridge:   a.bridge,
			Health:   health,
			Version:  a.version,
		})
		if err != nil {
			return fmt.Errorf("creating API server: %w", err)
		}
		if err := srv.Start(ctx); err != nil {
			return fmt.Errorf("starting API server: %w", err)
		}
		a.api = srv
	}
	return nil
}

func (a *App) connectMQTT() error {
	client, err := mqtt.Connect(a.cfg.MQTT)
	if err != nil {
		return err
	}
	client.SetLogger(a.log.Component("mqtt"))
	client.SetOnConnect(func() { a.log.Info("MQTT connected") })
	client.SetOnDisconnect(func(err error) { a.log.Warn("MQTT disconnected", "error", err) })

	b, err := bridge.New(bridge.Options{
		MQTT:       client,
		Topics:     client.Topics(),
		QoS:        byte(a.cfg.MQTT.QoS), //nolint:gosec // validated 0..2
		Dispatcher: a.hal.Dispatcher(),
		Resolve:    a.Resolve,
		Devices:    a.stateSources,
		Logger:     a.log.Component("bridge"),
	})
	if err != nil {
		_ = client.Close()
		return err
	}
	a.mqtt = client
	a.bridge = b
	return nil
}

func (a *App) stateSources() []bridge.StateSource {
	devices := a.registry.All()
	out := make([]bridge.StateSource, len(devices))
	for i, d := range devices {
		out[i] = d
	}
	return out
}

func (a *App) journalDropped() uint64 {
	if a.recorder == nil {
		return 0
	}
	return a.recorder.Dropped()
}

func (a *App) pruneJournal(ctx context.Context) {
	repo := journal.NewSQLiteRepository(a.db.DB)
	prune := func() {
		n, err := repo.Prune(ctx, time.Now().Add(-a.cfg.Database.Retention))
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				a.log.Warn("journal prune failed", "error", err)
			}
			return
		}
		if n > 0 {
			a.log.Info("journal pruned", "removed", n)
		}
	}

	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	prune()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			prune()
		}
	}
}

// close stops everything Run started, in reverse order.
func (a *App) close() {
	if a.api != nil {
		if err := a.api.Close(); err != nil {
			a.log.Error("error closing API server", "error", err)
		}
	}
	if a.bridge != nil {
		a.bridge.Stop()
	}
	if a.mqtt != nil {
		a.log.Info("disconnecting from MQTT")
		if err := a.mqtt.Close(); err != nil {
			a.log.Error("error closing MQTT", "error", err)
		}
	}
	a.telemetry.Attach(telemetry.Sinks{})
	if a.recorder != nil {
		a.recorder.Close()
	}
	if a.influx != nil {
		if err := a.influx.Close(); err != nil {
			a.log.Error("error closing InfluxDB", "error", err)
		}
	}
	if a.osd != nil {
		if err := a.osd.Close(); err != nil {
			a.log.Debug("error stopping osd_cat", "error", err)
		}
	}
	a.closeDevices()
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.Error("error closing database", "error", err)
		}
	}
}

func (a *App) closeDevices() {
	if err := a.registry.Close(); err != nil {
		a.log.Warn("error closing devices", "error", err)
	}
}

// Close releases the devices of an App that was built but never run.
func (a *App) Close() {
	a.hal.Dispatcher().Close()
	a.closeDevices()
}
