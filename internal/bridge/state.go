package bridge

import (
	"context"
	"time"
)

// StateSource is satisfied by *device.Device.
type StateSource interface {
	Name() string
	Connected() bool
	Pending() int
}

// PublishStates queues a retained state message for every device.
func (b *Bridge) PublishStates() {
	if b.opts.Devices == nil {
		return
	}
	now := time.Now().UTC()
	for _, dev := range b.opts.Devices() {
		state := StateMessage{
			Device:    dev.Name(),
			Connected: dev.Connected(),
			Pending:   dev.Pending(),
			Timestamp: now,
		}
		b.enqueue(b.opts.Topics.DeviceState(dev.Name()), state, true)
	}
}

func (b *Bridge) stateLoop(ctx context.Context) {
	defer b.wg.Done()

	ticker := time.NewTicker(b.opts.StateInterval)
	defer ticker.Stop()

	b.PublishStates()
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.done:
			return
		case <-ticker.C:
			b.PublishStates()
		}
	}
}
