// Package device serializes the exchanges with one appliance.
//
// Every physical device (receiver, TV, disc player, power strip) gets one
// Device. The Device owns a Queue, and all commands for the appliance go
// through it, whoever sends them.
//
// # Architecture
//
//	┌──────────────┐  Push/Ask/Send   ┌──────────────────────────────────┐
//	│   actions    │─────────────────▶│              Device              │
//	└──────────────┘                  │                                  │
//	                                  │  ┌────────────────────────────┐  │
//	                                  │  │           Queue            │  │
//	                                  │  │ • one running request      │  │
//	                                  │  │ • FIFO of queued requests  │  │
//	                                  │  │ • history for pacing       │  │
//	                                  │  └─────────────┬──────────────┘  │
//	                                  └────────────────│─────────────────┘
//	                                                   ▼
//	                                  ┌──────────────────────────────────┐
//	                                  │    Transport (serial/telnet)     │
//	                                  └──────────────────────────────────┘
//
// # Request lifecycle
//
// A request is queued, then running. Before it is written the queue waits
// until every recently sent request has had the delay the driver's
// DelayFunc asks for. Once written, a request either:
//
//   - completes at once when it is fire-and-forget,
//   - completes with the first line whose message answers it,
//   - is re-sent after its timeout, at most MaxRetries times,
//   - or fails. A failure drains the queue, because later requests usually
//     depend on the one that failed.
//
// Lines that answer nothing are handed to the EventSink.
//
// # Usage
//
//	dev, err := device.New(device.Config{
//	    Name:      "denon",
//	    Codec:     denon.Codec{},
//	    Transport: transport.NewSerial(serialCfg),
//	    EOL:       "\r",
//	    Delay:     denon.Delay,
//	    Events:    hal,
//	})
//	if err != nil {
//	    return err
//	}
//
//	// Only sends MV50 if the volume is not already 50.
//	if err := dev.Send(ctx, "MV50"); err != nil {
//	    return err
//	}
package device
