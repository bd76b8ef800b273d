package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// UnixConfig holds the settings for a receive-only unix socket.
type UnixConfig struct {
	// Path is the socket path, e.g. "/var/run/lirc/lircd".
	Path string

	// Delimiter ends every line. Default: "\n".
	Delimiter string

	// ReconnectInterval is the initial delay between reconnection attempts.
	ReconnectInterval time.Duration

	Logger Logger
}

// Unix reads lines from a unix stream socket. It never writes: the lircd
// socket only reports remote control buttons.
type Unix struct {
	cfg UnixConfig

	mu   sync.Mutex
	conn net.Conn

	recv receiver
	done *closeOnce
	wg   sync.WaitGroup

	reconnecting atomic.Bool
	counters
}

// NewUnix creates a unix socket transport.
func NewUnix(cfg UnixConfig) *Unix {
	if cfg.Delimiter == "" {
		cfg.Delimiter = "\n"
	}
	if cfg.ReconnectInterval == 0 {
		cfg.ReconnectInterval = defaultReconnectInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = noopLogger{}
	}
	return &Unix{cfg: cfg, done: newCloseOnce()}
}

// SetReceiver installs the line callback.
func (u *Unix) SetReceiver(fn func(string)) { u.recv.set(fn) }

// Open connects to the socket unless connected.
func (u *Unix) Open(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.conn != nil {
		return nil
	}
	return u.dialLocked(ctx)
}

func (u *Unix) dialLocked(ctx context.Context) error {
	if u.done.IsClosed() {
		return ErrClosed
	}
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "unix", u.cfg.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNoDevice, u.cfg.Path)
		}
		return fmt.Errorf("connecting %s: %w", u.cfg.Path, err)
	}
	u.conn = conn
	u.cfg.Logger.Info("unix socket connected", "path", u.cfg.Path)

	u.wg.Add(1)
	go u.readLoop(conn)
	return nil
}

func (u *Unix) readLoop(conn net.Conn) {
	defer u.wg.Done()

	err := readLines(conn, u.cfg.Delimiter, func(line string) {
		u.rx()
		u.cfg.Logger.Debug("unix read", "path", u.cfg.Path, "line", line)
		u.recv.deliver(line)
	})
	if u.done.IsClosed() {
		return
	}
	u.cfg.Logger.Warn("unix socket connection lost", "path", u.cfg.Path, "error", err)

	u.mu.Lock()
	if u.conn == conn {
		_ = u.conn.Close()
		u.conn = nil
	}
	u.mu.Unlock()
	u.reconnect()
}

func (u *Unix) reconnect() {
	if !u.reconnecting.CompareAndSwap(false, true) {
		return
	}
	defer u.reconnecting.Store(false)

	backoff := u.cfg.ReconnectInterval
	for attempt := 1; ; attempt++ {
		select {
		case <-u.done.Done():
			return
		case <-time.After(backoff):
		}

		u.mu.Lock()
		if u.conn != nil {
			u.mu.Unlock()
			return
		}
		err := u.dialLocked(context.Background())
		u.mu.Unlock()

		if err == nil {
			u.reconnects.Add(1)
			u.cfg.Logger.Info("unix socket reconnected", "path", u.cfg.Path, "attempts", attempt)
			return
		}
		if errors.Is(err, ErrClosed) {
			return
		}
		u.cfg.Logger.Debug("unix socket reconnect failed", "path", u.cfg.Path, "attempt", attempt, "error", err)
		backoff = nextBackoff(backoff)
	}
}

// Write always fails.
func (u *Unix) Write([]byte) error {
	return fmt.Errorf("%w: %s", ErrReadOnly, u.cfg.Path)
}

// Connected reports whether the socket is connected.
func (u *Unix) Connected() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.conn != nil
}

// Stats returns operational statistics.
func (u *Unix) Stats() Stats { return u.stats(u.Connected()) }

// Close closes the socket and stops reconnecting.
func (u *Unix) Close() error {
	u.done.Close()
	u.mu.Lock()
	var err error
	if u.conn != nil {
		err = u.conn.Close()
		u.conn = nil
	}
	u.mu.Unlock()
	u.wg.Wait()
	return err
}
