package transport

import (
	"bufio"
	"bytes"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Default intervals shared by the reconnecting transports.
const (
	// defaultReconnectInterval is the initial delay between reconnection attempts.
	defaultReconnectInterval = 2 * time.Second

	// maxReconnectInterval caps the reconnection backoff.
	maxReconnectInterval = time.Minute

	// maxLineLength bounds a single line read from a device.
	maxLineLength = 64 * 1024
)

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Stats holds operational statistics of a transport.
type Stats struct {
	LinesRx      uint64
	BytesTx      uint64
	Reconnects   uint64
	LastActivity time.Time
	Connected    bool
}

// counters is embedded by every transport.
type counters struct {
	linesRx      atomic.Uint64
	bytesTx      atomic.Uint64
	reconnects   atomic.Uint64
	lastActivity atomic.Int64
}

func (c *counters) rx() {
	c.linesRx.Add(1)
	c.lastActivity.Store(time.Now().UnixNano())
}

func (c *counters) tx(n int) {
	c.bytesTx.Add(uint64(n))
	c.lastActivity.Store(time.Now().UnixNano())
}

func (c *counters) stats(connected bool) Stats {
	s := Stats{
		LinesRx:    c.linesRx.Load(),
		BytesTx:    c.bytesTx.Load(),
		Reconnects: c.reconnects.Load(),
		Connected:  connected,
	}
	if ns := c.lastActivity.Load(); ns != 0 {
		s.LastActivity = time.Unix(0, ns)
	}
	return s
}

// closeOnce wraps a channel with sync.Once to prevent double-close panics.
type closeOnce struct {
	ch   chan struct{}
	once sync.Once
}

func newCloseOnce() *closeOnce {
	return &closeOnce{ch: make(chan struct{})}
}

func (c *closeOnce) Close() {
	c.once.Do(func() { close(c.ch) })
}

func (c *closeOnce) Done() <-chan struct{} {
	return c.ch
}

func (c *closeOnce) IsClosed() bool {
	select {
	case <-c.ch:
		return true
	default:
		return false
	}
}

// receiver holds the line callback of a transport.
type receiver struct {
	mu sync.RWMutex
	fn func(string)
}

func (r *receiver) set(fn func(string)) {
	r.mu.Lock()
	r.fn = fn
	r.mu.Unlock()
}

func (r *receiver) deliver(line string) {
	r.mu.RLock()
	fn := r.fn
	r.mu.RUnlock()
	if fn != nil {
		fn(line)
	}
}

// splitOn returns a bufio.SplitFunc cutting at delim. The delimiter is
// not part of the token.
func splitOn(delim []byte) bufio.SplitFunc {
	return func(data []byte, atEOF bool) (int, []byte, error) {
		if atEOF && len(data) == 0 {
			return 0, nil, nil
		}
		if i := bytes.Index(data, delim); i >= 0 {
			return i + len(delim), data[:i], nil
		}
		if atEOF {
			return len(data), data, nil
		}
		return 0, nil, nil
	}
}

// readLines calls fn for every non-empty line in r until r fails. The
// lines are trimmed of surrounding whitespace.
func readLines(r io.Reader, delim string, fn func(string)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), maxLineLength)
	scanner.Split(splitOn([]byte(delim)))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fn(line)
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return io.EOF
}

// nextBackoff grows backoff by half up to maxReconnectInterval.
func nextBackoff(backoff time.Duration) time.Duration {
	next := time.Duration(float64(backoff) * 1.5)
	if next > maxReconnectInterval {
		return maxReconnectInterval
	}
	return next
}
