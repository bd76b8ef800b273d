// Package bridge connects the Hal to MQTT in both directions.
//
// Outbound, every routed event, every finished action and the connection
// state of each device are published below the configured topic prefix.
// Publishing goes through a bounded buffer drained by a single goroutine,
// so the queue and dispatcher goroutines that report activity never wait
// on the broker.
//
// Inbound, commands arriving on {prefix}/command/{device} are resolved to
// a driver action and queued on the action dispatcher, where they run
// single-flight with trigger and timer actions. Each command is
// acknowledged on {prefix}/ack/{device}; its result follows on
// {prefix}/action with the same occurrence ID.
//
//	mosquitto_pub -t halirc/command/denon -m '{"id":"1","action":"volume","args":["UP"]}'
package bridge
