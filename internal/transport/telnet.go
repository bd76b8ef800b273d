package transport

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"
)

// Telnet defaults.
const (
	defaultDialTimeout     = 5 * time.Second
	defaultGreetingTimeout = 5 * time.Second
	defaultWriteTimeout    = 5 * time.Second
)

// Telnet protocol bytes.
const (
	telnetSE   = 240
	telnetSB   = 250
	telnetWILL = 251
	telnetWONT = 252
	telnetDO   = 253
	telnetDONT = 254
	telnetIAC  = 255
)

// TelnetConfig holds the settings for a line based TCP connection.
type TelnetConfig struct {
	// Address is host:port.
	Address string

	// Delimiter ends lines in both directions. Default: "\r\n".
	Delimiter string

	// Greeting, if set, is the prefix of the line the server sends when
	// it is ready. Open waits for it and it is not delivered.
	Greeting string

	// CloseLine, if set, is the prefix of the line the server sends
	// before closing the connection on its own.
	CloseLine string

	// IdleTimeout closes the connection after this long without traffic.
	// Zero keeps it open.
	IdleTimeout time.Duration

	// QuitCommand is written before an idle close.
	QuitCommand string

	// KeepAlive writes KeepAliveLine at this interval while connected.
	KeepAlive     time.Duration
	KeepAliveLine string

	DialTimeout     time.Duration
	GreetingTimeout time.Duration

	Logger Logger
}

// Telnet is a line based TCP client that refuses all telnet option
// negotiation.
//
// The connection is made on Open and may be closed again after
// IdleTimeout; the next Open reconnects. Some servers (VDR's SVDRP)
// accept only one client at a time, so holding the connection would lock
// out everybody else.
//
// Thread Safety: all methods are safe for concurrent use.
type Telnet struct {
	cfg TelnetConfig

	mu    sync.Mutex
	conn  net.Conn
	ready bool
	idle  *time.Timer

	dial func(ctx context.Context, network, address string) (net.Conn, error)

	recv receiver
	done *closeOnce
	wg   sync.WaitGroup
	counters
}

// NewTelnet creates a telnet transport. Nothing is dialled until Open.
func NewTelnet(cfg TelnetConfig) *Telnet {
	if cfg.Delimiter == "" {
		cfg.Delimiter = "\r\n"
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	if cfg.GreetingTimeout == 0 {
		cfg.GreetingTimeout = defaultGreetingTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = noopLogger{}
	}
	var dialer net.Dialer
	return &Telnet{cfg: cfg, done: newCloseOnce(), dial: dialer.DialContext}
}

// SetReceiver installs the line callback.
func (t *Telnet) SetReceiver(fn func(string)) { t.recv.set(fn) }

// Open connects unless connected and waits for the greeting if one is
// configured.
func (t *Telnet) Open(ctx context.Context) error {
	if t.done.IsClosed() {
		return ErrClosed
	}
	t.mu.Lock()
	open := t.conn != nil
	t.mu.Unlock()
	if open {
		return nil
	}

	// Dial unlocked; Write and Connected must not wait for the network.
	dialCtx, cancel := context.WithTimeout(ctx, t.cfg.DialTimeout)
	defer cancel()
	conn, err := t.dial(dialCtx, "tcp", t.cfg.Address)
	if err != nil {
		return fmt.Errorf("%w: dialling %s: %w", ErrNoDevice, t.cfg.Address, err)
	}

	t.mu.Lock()
	switch {
	case t.done.IsClosed():
		t.mu.Unlock()
		_ = conn.Close()
		return ErrClosed
	case t.conn != nil:
		// A concurrent Open won.
		t.mu.Unlock()
		_ = conn.Close()
		return nil
	}
	greeted := make(chan struct{})
	t.conn = conn
	t.ready = t.cfg.Greeting == ""
	t.touchLocked()
	t.wg.Add(1)
	go t.readLoop(conn, greeted)
	if t.cfg.KeepAlive > 0 && t.cfg.KeepAliveLine != "" {
		t.wg.Add(1)
		go t.keepAlive(conn)
	}
	t.mu.Unlock()

	t.cfg.Logger.Debug("telnet connected", "address", t.cfg.Address)
	if t.cfg.Greeting == "" {
		return nil
	}

	timer := time.NewTimer(t.cfg.GreetingTimeout)
	defer timer.Stop()
	select {
	case <-greeted:
		return nil
	case <-timer.C:
		t.drop(conn)
		return fmt.Errorf("%w: %s", ErrNoGreeting, t.cfg.Address)
	case <-ctx.Done():
		t.drop(conn)
		return ctx.Err()
	}
}

func (t *Telnet) readLoop(conn net.Conn, greeted chan struct{}) {
	defer t.wg.Done()

	var greetOnce sync.Once
	r := &telnetReader{
		r: bufio.NewReader(conn),
		reply: func(b []byte) {
			_ = conn.SetWriteDeadline(time.Now().Add(defaultWriteTimeout))
			_, _ = conn.Write(b)
		},
	}
	err := readLines(r, t.cfg.Delimiter, func(line string) {
		t.rx()
		t.cfg.Logger.Debug("telnet read", "address", t.cfg.Address, "line", line)
		switch {
		case t.cfg.Greeting != "" && strings.HasPrefix(line, t.cfg.Greeting):
			greetOnce.Do(func() {
				t.mu.Lock()
				if t.conn == conn {
					t.ready = true
				}
				t.mu.Unlock()
				close(greeted)
			})
			return
		case t.cfg.CloseLine != "" && strings.HasPrefix(line, t.cfg.CloseLine):
			t.cfg.Logger.Error("server closes connection", "address", t.cfg.Address, "line", line)
			t.drop(conn)
			return
		}
		t.touch()
		t.recv.deliver(line)
	})
	t.drop(conn)
	t.cfg.Logger.Debug("telnet disconnected", "address", t.cfg.Address, "reason", err)
}

func (t *Telnet) keepAlive(conn net.Conn) {
	defer t.wg.Done()
	ticker := time.NewTicker(t.cfg.KeepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-t.done.Done():
			return
		case <-ticker.C:
		}
		t.mu.Lock()
		current := t.conn == conn
		t.mu.Unlock()
		if !current {
			return
		}
		t.cfg.Logger.Debug("telnet keepalive", "address", t.cfg.Address)
		if err := t.Write([]byte(t.cfg.KeepAliveLine + t.cfg.Delimiter)); err != nil {
			t.cfg.Logger.Warn("telnet keepalive failed", "address", t.cfg.Address, "error", err)
		}
	}
}

// touch re-arms the idle timer.
func (t *Telnet) touch() {
	t.mu.Lock()
	t.touchLocked()
	t.mu.Unlock()
}

func (t *Telnet) touchLocked() {
	if t.cfg.IdleTimeout <= 0 {
		return
	}
	if t.idle == nil {
		t.idle = time.AfterFunc(t.cfg.IdleTimeout, t.idleClose)
		return
	}
	t.idle.Reset(t.cfg.IdleTimeout)
}

func (t *Telnet) idleClose() {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return
	}
	t.cfg.Logger.Debug("closing idle telnet connection", "address", t.cfg.Address)
	if t.cfg.QuitCommand != "" {
		_ = conn.SetWriteDeadline(time.Now().Add(defaultWriteTimeout))
		_, _ = conn.Write([]byte(t.cfg.QuitCommand + t.cfg.Delimiter))
	}
	t.drop(conn)
}

// drop closes conn if it is still the current connection.
func (t *Telnet) drop(conn net.Conn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != conn {
		return
	}
	_ = t.conn.Close()
	t.conn = nil
	t.ready = false
}

// Write writes data to the connection.
func (t *Telnet) Write(data []byte) error {
	t.mu.Lock()
	conn := t.conn
	t.touchLocked()
	t.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("%w: %s", ErrNotOpen, t.cfg.Address)
	}
	_ = conn.SetWriteDeadline(time.Now().Add(defaultWriteTimeout))
	n, err := conn.Write(data)
	t.tx(n)
	if err != nil {
		return fmt.Errorf("writing %s: %w", t.cfg.Address, err)
	}
	return nil
}

// Connected reports whether the connection is up and greeted.
func (t *Telnet) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn != nil && t.ready
}

// Stats returns operational statistics.
func (t *Telnet) Stats() Stats { return t.stats(t.Connected()) }

// Close closes the connection.
func (t *Telnet) Close() error {
	t.done.Close()
	t.mu.Lock()
	if t.idle != nil {
		t.idle.Stop()
	}
	var err error
	if t.conn != nil {
		err = t.conn.Close()
		t.conn = nil
	}
	t.mu.Unlock()
	t.wg.Wait()
	return err
}

// telnetReader strips telnet commands from the stream and refuses every
// option the server offers or asks for.
type telnetReader struct {
	r     *bufio.Reader
	reply func([]byte)
}

func (t *telnetReader) Read(p []byte) (int, error) {
	n := 0
	for n < len(p) {
		if n > 0 && t.r.Buffered() == 0 {
			break
		}
		b, err := t.r.ReadByte()
		if err != nil {
			if n > 0 {
				return n, nil
			}
			return 0, err
		}
		if b != telnetIAC {
			p[n] = b
			n++
			continue
		}
		cmd, err := t.r.ReadByte()
		if err != nil {
			return n, err
		}
		switch cmd {
		case telnetIAC:
			p[n] = telnetIAC
			n++
		case telnetDO, telnetDONT, telnetWILL, telnetWONT:
			opt, err := t.r.ReadByte()
			if err != nil {
				return n, err
			}
			switch cmd {
			case telnetDO:
				t.reply([]byte{telnetIAC, telnetWONT, opt})
			case telnetWILL:
				t.reply([]byte{telnetIAC, telnetDONT, opt})
			}
		case telnetSB:
			if err := t.skipSubnegotiation(); err != nil {
				return n, err
			}
		}
	}
	return n, nil
}

func (t *telnetReader) skipSubnegotiation() error {
	prevIAC := false
	for {
		b, err := t.r.ReadByte()
		if err != nil {
			return err
		}
		if prevIAC && b == telnetSE {
			return nil
		}
		prevIAC = b == telnetIAC && !prevIAC
	}
}
