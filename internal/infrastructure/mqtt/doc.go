// Package mqtt connects halirc to an MQTT broker.
//
// The broker is optional. When mqtt.enabled is set, halirc announces itself
// with a retained status message (and an offline LWT), mirrors routed
// events and finished actions, and accepts remote commands that are fed
// into the action dispatcher like any other occurrence.
//
//	halirc/status                 {"status":"online",...}
//	halirc/event/lirc             {"source":"lirc","message":"sony.KEY_UP.00",...}
//	halirc/command/denon          {"action":"volume","args":["UP"]}
//
// The prefix is taken from mqtt.topic_prefix.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(client.Topics().AllCommands(), 1,
//	    func(topic string, payload []byte) error {
//	        device, _ := client.Topics().CommandDevice(topic)
//	        return handle(device, payload)
//	    })
package mqtt
