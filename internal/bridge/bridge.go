package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/halirc/internal/automation"
	"github.com/nerrad567/halirc/internal/infrastructure/mqtt"
	"github.com/nerrad567/halirc/internal/message"
)

// Bridge defaults.
const (
	// DefaultBufferSize bounds the outbound publish buffer.
	DefaultBufferSize = 256

	// DefaultStateInterval is how often device states are republished.
	DefaultStateInterval = 30 * time.Second

	// EventSource is the event source of remote commands.
	EventSource = "mqtt"
)

// MQTTClient is the subset of *mqtt.Client the bridge uses.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	IsConnected() bool
}

// Enqueuer is satisfied by *automation.Dispatcher.
type Enqueuer interface {
	Enqueue(name string, ev automation.Event, action automation.Action, args ...string) *automation.Occurrence
}

// ActionResolver looks up the action named action of device.
type ActionResolver func(device, action string) (automation.Action, bool)

// Logger defines the logging interface used by the bridge.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Options holds the bridge dependencies.
type Options struct {
	MQTT       MQTTClient
	Topics     mqtt.Topics
	QoS        byte
	Dispatcher Enqueuer
	Resolve    ActionResolver

	// Devices lists the devices whose state is published. Optional.
	Devices func() []StateSource

	BufferSize    int
	StateInterval time.Duration
	Logger        Logger
}

type outbound struct {
	topic    string
	payload  []byte
	retained bool
}

// Bridge translates between MQTT and the Hal.
//
// Thread Safety: all methods are safe for concurrent use.
type Bridge struct {
	opts Options
	out  chan outbound

	published atomic.Uint64
	dropped   atomic.Uint64
	commands  atomic.Uint64

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	logger   Logger
	loggerMu sync.RWMutex
}

// New creates a bridge. Call Start to subscribe and begin publishing.
func New(opts Options) (*Bridge, error) {
	if opts.MQTT == nil {
		return nil, ErrMQTTRequired
	}
	if opts.Dispatcher == nil {
		return nil, ErrDispatcherRequired
	}
	if opts.Resolve == nil {
		opts.Resolve = func(string, string) (automation.Action, bool) { return nil, false }
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultBufferSize
	}
	if opts.StateInterval <= 0 {
		opts.StateInterval = DefaultStateInterval
	}
	return &Bridge{
		opts:   opts,
		out:    make(chan outbound, opts.BufferSize),
		done:   make(chan struct{}),
		logger: opts.Logger,
	}, nil
}

// Start subscribes to remote commands and starts the publisher and the
// state reporter.
func (b *Bridge) Start(ctx context.Context) error {
	topic := b.opts.Topics.AllCommands()
	if err := b.opts.MQTT.Subscribe(topic, b.opts.QoS, b.handleCommand); err != nil {
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	b.logInfo("subscribed to commands", "topic", topic)

	b.wg.Add(1)
	go b.publishLoop(ctx)

	if b.opts.Devices != nil {
		b.wg.Add(1)
		go b.stateLoop(ctx)
	}
	return nil
}

// Stop ends the background goroutines. Messages still buffered are dropped.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)
		b.wg.Wait()
		b.logInfo("bridge stopped", "published", b.published.Load(), "dropped", b.dropped.Load())
	})
}

// PublishEvent queues ev for publishing on its event topic.
func (b *Bridge) PublishEvent(ev automation.Event) {
	b.enqueue(b.opts.Topics.Event(ev.Source), NewEventMessage(ev), false)
}

// PublishAction queues the result of occ for publishing.
func (b *Bridge) PublishAction(occ *automation.Occurrence, err error) {
	b.enqueue(b.opts.Topics.Action(), NewActionMessage(occ, err), false)
}

func (b *Bridge) enqueue(topic string, v any, retained bool) {
	payload, err := json.Marshal(v)
	if err != nil {
		b.logError("failed to marshal payload", err)
		return
	}
	select {
	case b.out <- outbound{topic: topic, payload: payload, retained: retained}:
	default:
		b.dropped.Add(1)
	}
}

func (b *Bridge) publishLoop(ctx context.Context) {
	defer b.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.done:
			return
		case o := <-b.out:
			if !b.opts.MQTT.IsConnected() {
				b.dropped.Add(1)
				continue
			}
			if err := b.opts.MQTT.Publish(o.topic, o.payload, b.opts.QoS, o.retained); err != nil {
				b.dropped.Add(1)
				b.logError("publish failed", err)
				continue
			}
			b.published.Add(1)
		}
	}
}

// handleCommand decodes a remote command and queues it on the dispatcher.
func (b *Bridge) handleCommand(topic string, payload []byte) error {
	dev, ok := b.opts.Topics.CommandDevice(topic)
	if !ok {
		return fmt.Errorf("%w: topic %s", ErrInvalidCommand, topic)
	}
	b.commands.Add(1)

	var cmd CommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		b.ack(dev, cmd, AckFailed, "", fmt.Errorf("%w: %w", ErrInvalidCommand, err))
		return nil
	}
	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	}
	if cmd.Action == "" {
		b.ack(dev, cmd, AckFailed, "", fmt.Errorf("%w: action is empty", ErrInvalidCommand))
		return nil
	}

	action, ok := b.opts.Resolve(dev, cmd.Action)
	if !ok {
		b.ack(dev, cmd, AckFailed, "", fmt.Errorf("%w: %s.%s", ErrUnknownAction, dev, cmd.Action))
		return nil
	}

	name := dev + "." + cmd.Action
	msg := message.NewBase(message.Fields{
		Decoded: strings.TrimSpace(name + " " + strings.Join(cmd.Args, " ")),
		Command: name,
		Value:   strings.Join(cmd.Args, " "),
	})
	occ := b.opts.Dispatcher.Enqueue(name, automation.NewEvent(EventSource, msg), action, cmd.Args...)

	b.logInfo("remote command queued",
		"command_id", cmd.ID,
		"action", name,
		"args", cmd.Args,
		"source", cmd.Source)
	b.ack(dev, cmd, AckQueued, occurrenceID(occ), nil)
	return nil
}

func occurrenceID(occ *automation.Occurrence) string {
	if occ == nil {
		return ""
	}
	return occ.ID
}

func (b *Bridge) ack(dev string, cmd CommandMessage, status AckStatus, occurrence string, err error) {
	ack := AckMessage{
		CommandID:  cmd.ID,
		Device:     dev,
		Action:     cmd.Action,
		Status:     status,
		Occurrence: occurrence,
		Timestamp:  time.Now().UTC(),
	}
	if err != nil {
		ack.Error = err.Error()
		b.logWarn("remote command rejected", "device", dev, "action", cmd.Action, "error", err)
	}
	b.enqueue(b.opts.Topics.Ack(dev), ack, false)
}

// Stats reports bridge counters.
type Stats struct {
	Connected bool   `json:"connected"`
	Published uint64 `json:"published"`
	Dropped   uint64 `json:"dropped"`
	Commands  uint64 `json:"commands"`
}

// Stats returns the current counters.
func (b *Bridge) Stats() Stats {
	return Stats{
		Connected: b.opts.MQTT.IsConnected(),
		Published: b.published.Load(),
		Dropped:   b.dropped.Load(),
		Commands:  b.commands.Load(),
	}
}

// SetLogger sets the logger for the bridge.
func (b *Bridge) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()
}

func (b *Bridge) getLogger() Logger {
	b.loggerMu.RLock()
	defer b.loggerMu.RUnlock()
	return b.logger
}

func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

func (b *Bridge) logWarn(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}

func (b *Bridge) logError(msg string, err error) {
	if logger := b.getLogger(); logger != nil {
		logger.Error(msg, "error", err)
	}
}
