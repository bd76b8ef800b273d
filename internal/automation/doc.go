// Package automation routes events to actions.
//
// Events come from remote controls (lirc), from devices reporting on
// their own, from timers and from remote commands. The Hal keeps a
// rolling history of them and matches every registered Trigger against
// its tail. A matching trigger hands its Action to the Dispatcher.
//
// Architecture:
//
//	┌──────────────────────────────────────────────────────────┐
//	│                      Hal (hal.go)                        │
//	│  ┌──────────────┐    ┌──────────────┐   ┌─────────────┐  │
//	│  │   History    │───▶│   Triggers   │   │   Timers    │  │
//	│  │  (event.go)  │    │ (trigger.go) │   │ (timer.go)  │  │
//	│  └──────────────┘    └──────┬───────┘   └──────┬──────┘  │
//	│                             ▼                  ▼         │
//	│  ┌────────────────────────────────────────────────────┐  │
//	│  │              Dispatcher (dispatcher.go)            │  │
//	│  │  1. Debounce non-repeatable triggers (500ms)       │  │
//	│  │  2. Queue occurrences FIFO                         │  │
//	│  │  3. Run one action at a time                       │  │
//	│  │  4. On failure drop the queued occurrences         │  │
//	│  │  5. Watchdog clears actions running over 10s       │  │
//	│  └────────────────────────────────────────────────────┘  │
//	└──────────────────────────────────────────────────────────┘
//
// # Thread Safety
//
// Hal and Dispatcher are safe for concurrent use. Actions run on their
// own goroutine and may block on device requests.
//
// # Usage
//
//	hal := automation.New(automation.Config{Logger: log})
//	_, err := hal.AddTrigger("tv-on",
//	    []automation.Pattern{{Source: "lirc", Message: powerButton}},
//	    tvOn)
//
//	go hal.Run(ctx)
package automation
