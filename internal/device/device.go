package device

import (
	"context"
	"fmt"
	"time"

	"github.com/nerrad567/halirc/internal/message"
)

// Logger defines the logging interface used by devices and queues.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// EventSink receives messages a device produced on its own, such as a
// receiver reporting a volume change made with its front knob.
type EventSink interface {
	Emit(source string, msg message.Message)
}

// Outlet switches the power socket a device is plugged into.
type Outlet interface {
	SwitchOn(ctx context.Context) error
	SwitchOff(ctx context.Context) error
}

// PowerFunc switches a device on or to standby.
type PowerFunc func(ctx context.Context) error

// Config holds the settings for a Device.
type Config struct {
	// Name identifies the device in triggers, logs and metrics.
	Name string

	Codec     message.Codec
	Transport Transport

	// EOL terminates every written message.
	EOL string

	// Delay computes the pacing between two requests.
	Delay DelayFunc

	// Timeout is the default answer timeout. Zero means DefaultTimeout.
	Timeout time.Duration

	// HistorySize and MaxRetries are passed to the queue.
	HistorySize int
	MaxRetries  int

	// AnswersAsEvents also emits answers to the event sink.
	AnswersAsEvents bool

	// DropUnsolicited logs unsolicited lines instead of emitting them.
	DropUnsolicited bool

	// PowerOnCommands lists commands that need the device powered on
	// before Send.
	PowerOnCommands []string

	// Outlet is switched on before PowerOn and off after Standby.
	Outlet Outlet

	Events   EventSink
	Logger   Logger
	Observer Observer
}

// Device is one appliance: its codec, its transport and the queue that
// serializes all exchanges with it.
//
// Device methods that wait for an answer block the calling goroutine;
// they are meant to be called from actions.
type Device struct {
	cfg     Config
	queue   *Queue
	powerOn PowerFunc
	standby PowerFunc
}

// New creates a device and installs itself as the transport receiver.
//
// Parameters:
//   - cfg: Device configuration; Name, Codec and Transport are required
//
// Returns:
//   - *Device: Device ready to accept requests
//   - error: If required fields are missing
func New(cfg Config) (*Device, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("device: name is required")
	}
	if cfg.Codec == nil {
		return nil, fmt.Errorf("device %s: codec is required", cfg.Name)
	}
	if cfg.Transport == nil {
		return nil, fmt.Errorf("device %s: transport is required", cfg.Name)
	}
	if cfg.Logger == nil {
		cfg.Logger = noopLogger{}
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}

	d := &Device{cfg: cfg}
	d.queue = NewQueue(QueueConfig{
		Device:      cfg.Name,
		Transport:   cfg.Transport,
		EOL:         cfg.EOL,
		Delay:       cfg.Delay,
		HistorySize: cfg.HistorySize,
		MaxRetries:  cfg.MaxRetries,
		Logger:      cfg.Logger,
		Observer:    cfg.Observer,
	})
	d.powerOn = func(ctx context.Context) error { return nil }
	d.standby = func(ctx context.Context) error { return nil }
	cfg.Transport.SetReceiver(d.Receive)
	return d, nil
}

// Name returns the device name.
func (d *Device) Name() string { return d.cfg.Name }

// Queue returns the request queue.
func (d *Device) Queue() *Queue { return d.queue }

// Pending returns the number of unfinished requests, the running one included.
func (d *Device) Pending() int {
	n := d.queue.Len()
	if d.queue.Running() != nil {
		n++
	}
	return n
}

// Connected reports whether the transport is usable.
func (d *Device) Connected() bool { return d.cfg.Transport.Connected() }

// Open opens the transport without sending anything. Devices that only
// report, like remote control receivers, are opened at startup.
func (d *Device) Open(ctx context.Context) error { return d.cfg.Transport.Open(ctx) }

// Logger returns the device logger.
func (d *Device) Logger() Logger { return d.cfg.Logger }

// SetPower installs the driver's power handlers used by PowerOn and Standby.
func (d *Device) SetPower(on, standby PowerFunc) {
	if on != nil {
		d.powerOn = on
	}
	if standby != nil {
		d.standby = standby
	}
}

// Message decodes a human readable command with the device codec.
func (d *Device) Message(decoded string) (message.Message, error) {
	return message.New(d.cfg.Codec, decoded, "")
}

// Receive handles one line read from the device. A line answering the
// running request completes it; any other line is emitted as an event.
func (d *Device) Receive(line string) {
	msg, err := message.New(d.cfg.Codec, "", line)
	if err != nil {
		d.cfg.Logger.Warn("unreadable data from device", "device", d.cfg.Name, "data", line, "error", err)
		return
	}
	d.cfg.Logger.Debug("read", "device", d.cfg.Name, "message", msg.String())
	if msg.Status() != message.DefaultStatus {
		d.cfg.Logger.Error("device reports failure", "device", d.cfg.Name, "status", msg.Status(), "data", line)
	}

	answered := d.queue.Answer(msg)
	if answered && !d.cfg.AnswersAsEvents {
		return
	}
	if !answered && d.cfg.DropUnsolicited {
		d.cfg.Logger.Error("device sent data without being asked", "device", d.cfg.Name, "data", line)
		return
	}
	if d.cfg.Events != nil {
		d.cfg.Events.Emit(d.cfg.Name, msg)
	}
}

// Enqueue pushes msg and returns the request without waiting.
func (d *Device) Enqueue(msg message.Message, timeout time.Duration) *Request {
	if timeout == 0 {
		timeout = d.cfg.Timeout
	}
	return d.queue.Push(NewRequest(d.cfg.Name, msg, timeout))
}

// PushMessage sends msg unconditionally and waits for the answer.
func (d *Device) PushMessage(ctx context.Context, msg message.Message) (message.Message, error) {
	return d.Enqueue(msg, 0).Wait(ctx)
}

// Push sends a human readable command unconditionally and waits for the answer.
func (d *Device) Push(ctx context.Context, decoded string) (message.Message, error) {
	msg, err := d.Message(decoded)
	if err != nil {
		return nil, err
	}
	return d.PushMessage(ctx, msg)
}

// PushFireAndForget sends a command and returns once it is written.
func (d *Device) PushFireAndForget(ctx context.Context, decoded string) error {
	msg, err := d.Message(decoded)
	if err != nil {
		return err
	}
	_, err = d.Enqueue(msg, FireAndForget).Wait(ctx)
	return err
}

// Ask asks the device for the current value of command.
func (d *Device) Ask(ctx context.Context, command string) (message.Message, error) {
	msg, err := d.cfg.Codec.Question(command)
	if err != nil {
		return nil, err
	}
	return d.PushMessage(ctx, msg)
}

// Send asks the device for the current value and only sends the command
// when the value differs. Commands listed in PowerOnCommands power the
// device on first.
func (d *Device) Send(ctx context.Context, decoded string) error {
	msg, err := d.Message(decoded)
	if err != nil {
		return err
	}
	if d.needsPower(msg.Command()) {
		if err := d.PowerOn(ctx); err != nil {
			return err
		}
	}
	return d.SendMessage(ctx, msg)
}

// SendMessage is Send for an already decoded message, without power handling.
func (d *Device) SendMessage(ctx context.Context, msg message.Message) error {
	current, err := d.Ask(ctx, msg.Command())
	if err != nil {
		return err
	}
	if current != nil && current.Value() == msg.Value() {
		d.cfg.Logger.Debug("value already set", "device", d.cfg.Name, "message", msg.String())
		return nil
	}
	_, err = d.PushMessage(ctx, msg)
	return err
}

func (d *Device) needsPower(command string) bool {
	for _, c := range d.cfg.PowerOnCommands {
		if c == command {
			return true
		}
	}
	return false
}

// PowerOn switches the outlet on, if any, then powers the device on.
func (d *Device) PowerOn(ctx context.Context) error {
	if d.cfg.Outlet != nil {
		if err := d.cfg.Outlet.SwitchOn(ctx); err != nil {
			return fmt.Errorf("switching outlet for %s on: %w", d.cfg.Name, err)
		}
	}
	return d.powerOn(ctx)
}

// Standby puts the device to standby, then switches its outlet off.
func (d *Device) Standby(ctx context.Context) error {
	if err := d.standby(ctx); err != nil {
		return err
	}
	if d.cfg.Outlet != nil {
		if err := d.cfg.Outlet.SwitchOff(ctx); err != nil {
			return fmt.Errorf("switching outlet for %s off: %w", d.cfg.Name, err)
		}
	}
	return nil
}

// Close fails all pending requests and closes the transport.
func (d *Device) Close() error {
	d.queue.Close()
	return d.cfg.Transport.Close()
}
