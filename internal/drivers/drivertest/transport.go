// Package drivertest provides an in-memory device transport for driver tests.
package drivertest

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Transport records every write and answers through a Respond function.
type Transport struct {
	// Respond returns the lines the device sends back for one write. The
	// data is passed without line terminator.
	Respond func(data string) []string

	// EOL is stripped from written data before Respond sees it.
	EOL string

	mu       sync.Mutex
	writes   []string
	times    []time.Time
	receiver func(string)
	notify   chan struct{}
}

// New creates a transport answering with respond, which may be nil.
func New(eol string, respond func(string) []string) *Transport {
	return &Transport{EOL: eol, Respond: respond, notify: make(chan struct{}, 256)}
}

func (t *Transport) Open(context.Context) error { return nil }
func (t *Transport) Connected() bool            { return true }
func (t *Transport) Close() error               { return nil }

func (t *Transport) SetReceiver(fn func(string)) {
	t.mu.Lock()
	t.receiver = fn
	t.mu.Unlock()
}

func (t *Transport) Write(data []byte) error {
	line := strings.TrimSuffix(string(data), t.EOL)
	t.mu.Lock()
	t.writes = append(t.writes, line)
	t.times = append(t.times, time.Now())
	respond := t.Respond
	t.mu.Unlock()

	select {
	case t.notify <- struct{}{}:
	default:
	}
	if respond != nil {
		for _, answer := range respond(line) {
			t.Deliver(answer)
		}
	}
	return nil
}

// Deliver hands line to the receiver as if the device had sent it.
func (t *Transport) Deliver(line string) {
	t.mu.Lock()
	fn := t.receiver
	t.mu.Unlock()
	if fn != nil {
		fn(line)
	}
}

// Writes returns the written lines without terminator.
func (t *Transport) Writes() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.writes...)
}

// WriteTimes returns when each line was written.
func (t *Transport) WriteTimes() []time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]time.Time(nil), t.times...)
}

// WaitWrites blocks until n lines were written or timeout passes. It
// reports whether enough writes happened.
func (t *Transport) WaitWrites(n int, timeout time.Duration) bool {
	deadline := time.After(timeout)
	for len(t.Writes()) < n {
		select {
		case <-t.notify:
		case <-deadline:
			return false
		case <-time.After(10 * time.Millisecond):
		}
	}
	return true
}
