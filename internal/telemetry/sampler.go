package telemetry

import (
	"context"
	"time"

	"github.com/nerrad567/halirc/internal/automation"
	"github.com/nerrad567/halirc/internal/device"
)

// DefaultSampleInterval is how often Sample refreshes the gauges.
const DefaultSampleInterval = 5 * time.Second

// Sources are the components whose state is sampled into gauges.
type Sources struct {
	Devices    func() []*device.Device
	Dispatcher func() automation.DispatcherSnapshot
	Dropped    func() uint64
}

// Sample refreshes queue depth, dispatcher backlog and journal drops
// every interval until ctx is done.
func (t *Telemetry) Sample(ctx context.Context, src Sources, interval time.Duration) {
	if t.cfg.Metrics == nil {
		return
	}
	if interval <= 0 {
		interval = DefaultSampleInterval
	}

	var lastDropped uint64
	sample := func() {
		if src.Devices != nil {
			for _, d := range src.Devices() {
				t.cfg.Metrics.SetQueueDepth(d.Name(), d.Queue().Len())
			}
		}
		if src.Dispatcher != nil {
			t.cfg.Metrics.SetDispatcherPending(len(src.Dispatcher().Queued))
		}
		if src.Dropped != nil {
			dropped := src.Dropped()
			t.cfg.Metrics.AddJournalDropped(dropped - lastDropped)
			lastDropped = dropped
		}
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	sample()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sample()
		}
	}
}
