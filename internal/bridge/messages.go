package bridge

import (
	"time"

	"github.com/nerrad567/halirc/internal/automation"
)

// CommandMessage asks halirc to run a device action.
// Topic: {prefix}/command/{device}
type CommandMessage struct {
	// ID correlates the acknowledgment. Generated when empty.
	ID string `json:"id"`

	// Action is the driver action name, e.g. "volume" or "power".
	Action string `json:"action"`

	Args []string `json:"args,omitempty"`

	// Source names the sender for logs, e.g. "homeassistant".
	Source string `json:"source,omitempty"`
}

// AckStatus is the acknowledgment state of a command.
type AckStatus string

// Acknowledgment states.
const (
	AckQueued AckStatus = "queued"
	AckFailed AckStatus = "failed"
)

// AckMessage answers a CommandMessage.
// Topic: {prefix}/ack/{device}
type AckMessage struct {
	CommandID string    `json:"command_id"`
	Device    string    `json:"device"`
	Action    string    `json:"action"`
	Status    AckStatus `json:"status"`

	// Occurrence is the dispatcher occurrence ID when Status is queued.
	Occurrence string `json:"occurrence,omitempty"`

	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// EventMessage mirrors an event routed through the Hal.
// Topic: {prefix}/event/{source}
type EventMessage struct {
	ID        string    `json:"id"`
	Source    string    `json:"source"`
	Message   string    `json:"message"`
	Command   string    `json:"command,omitempty"`
	Value     string    `json:"value,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewEventMessage builds the payload for ev.
func NewEventMessage(ev automation.Event) EventMessage {
	msg := EventMessage{
		ID:        ev.ID,
		Source:    ev.Source,
		Timestamp: ev.When.UTC(),
	}
	if ev.Message != nil {
		msg.Message = ev.Message.Decoded()
		msg.Command = ev.Message.Command()
		msg.Value = ev.Message.Value()
	}
	return msg
}

// ActionMessage reports a finished action.
// Topic: {prefix}/action
type ActionMessage struct {
	Occurrence string    `json:"occurrence"`
	Name       string    `json:"name"`
	Event      string    `json:"event"`
	Args       []string  `json:"args,omitempty"`
	OK         bool      `json:"ok"`
	Error      string    `json:"error,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// NewActionMessage builds the payload for a finished occurrence.
func NewActionMessage(occ *automation.Occurrence, err error) ActionMessage {
	msg := ActionMessage{
		Occurrence: occ.ID,
		Name:       occ.Name,
		Event:      occ.Event.String(),
		Args:       occ.Args,
		OK:         err == nil,
		Timestamp:  time.Now().UTC(),
	}
	if err != nil {
		msg.Error = err.Error()
	}
	return msg
}

// StateMessage is the retained connection state of a device.
// Topic: {prefix}/device/{device}/state
type StateMessage struct {
	Device    string    `json:"device"`
	Connected bool      `json:"connected"`
	Pending   int       `json:"pending"`
	Timestamp time.Time `json:"timestamp"`
}
