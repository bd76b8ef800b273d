package mqtt

import "strings"

// DefaultTopicPrefix is the root of every halirc topic.
const DefaultTopicPrefix = "halirc"

// Topics builds halirc topic names below a prefix.
//
//	halirc/status                  online/offline, retained
//	halirc/event/{source}          every routed event
//	halirc/action                  every finished action
//	halirc/device/{device}/state   connected state, retained
//	halirc/command/{device}        remote commands into the dispatcher
//	halirc/ack/{device}            acknowledgment of a remote command
type Topics struct {
	Prefix string
}

func (t Topics) prefix() string {
	if t.Prefix == "" {
		return DefaultTopicPrefix
	}
	return t.Prefix
}

func (t Topics) join(parts ...string) string {
	return t.prefix() + "/" + strings.Join(parts, "/")
}

// Status returns the retained online status topic, also used for the LWT.
func (t Topics) Status() string { return t.join("status") }

// Event returns the topic events from source are published on.
func (t Topics) Event(source string) string { return t.join("event", source) }

// Action returns the topic finished actions are published on.
func (t Topics) Action() string { return t.join("action") }

// DeviceState returns the retained state topic of a device.
func (t Topics) DeviceState(device string) string { return t.join("device", device, "state") }

// Command returns the topic remote commands for device arrive on.
func (t Topics) Command(device string) string { return t.join("command", device) }

// Ack returns the topic command acknowledgments for device go to.
func (t Topics) Ack(device string) string { return t.join("ack", device) }

// AllCommands matches Command for every device.
func (t Topics) AllCommands() string { return t.join("command", "+") }

// CommandDevice extracts the device from a Command topic.
func (t Topics) CommandDevice(topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, t.join("command")+"/")
	if !ok || rest == "" || strings.Contains(rest, "/") {
		return "", false
	}
	return rest, true
}
