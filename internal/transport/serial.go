package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"go.bug.st/serial"
)

// SerialConfig holds serial port settings.
type SerialConfig struct {
	// Port is the device node, e.g. "/dev/denon".
	Port string

	// BaudRate defaults to 9600.
	BaudRate int

	// Delimiter ends every line read from the device. Default: "\r".
	Delimiter string

	// ReconnectInterval is the initial delay between reconnection attempts.
	// Default: 2 seconds.
	ReconnectInterval time.Duration

	Logger Logger
}

type portOpener func(name string, mode *serial.Mode) (io.ReadWriteCloser, error)

func openSerialPort(name string, mode *serial.Mode) (io.ReadWriteCloser, error) {
	return serial.Open(name, mode)
}

// Serial is a line based serial port connection.
//
// When the port disappears (USB adapters come and go with the device's
// power) the read loop keeps trying to reopen it with exponential
// backoff, so unsolicited lines are received without any write. Open
// also tries once on its own when the port is down.
//
// Thread Safety: all methods are safe for concurrent use.
type Serial struct {
	cfg  SerialConfig
	mode *serial.Mode
	open portOpener

	mu   sync.Mutex
	port io.ReadWriteCloser

	recv receiver
	done *closeOnce
	wg   sync.WaitGroup

	reconnecting atomic.Bool
	counters
}

// NewSerial creates a serial transport. The port is opened on first use.
func NewSerial(cfg SerialConfig) *Serial {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = 9600
	}
	if cfg.Delimiter == "" {
		cfg.Delimiter = "\r"
	}
	if cfg.ReconnectInterval == 0 {
		cfg.ReconnectInterval = defaultReconnectInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = noopLogger{}
	}
	return &Serial{
		cfg: cfg,
		mode: &serial.Mode{
			BaudRate: cfg.BaudRate,
			DataBits: 8,
			Parity:   serial.NoParity,
			StopBits: serial.OneStopBit,
		},
		open: openSerialPort,
		done: newCloseOnce(),
	}
}

// SetReceiver installs the line callback.
func (s *Serial) SetReceiver(fn func(string)) { s.recv.set(fn) }

// Open opens the port unless it is already open.
func (s *Serial) Open(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port != nil {
		return nil
	}
	return s.openLocked()
}

func (s *Serial) openLocked() error {
	if s.done.IsClosed() {
		return ErrClosed
	}
	port, err := s.open(s.cfg.Port, s.mode)
	if err != nil {
		var portErr *serial.PortError
		if errors.As(err, &portErr) && portErr.Code() == serial.PortNotFound {
			return fmt.Errorf("%w: %s", ErrNoDevice, s.cfg.Port)
		}
		return fmt.Errorf("opening %s: %w", s.cfg.Port, err)
	}
	s.port = port
	s.cfg.Logger.Info("serial port opened", "port", s.cfg.Port, "baud", s.cfg.BaudRate)

	s.wg.Add(1)
	go s.readLoop(port)
	return nil
}

// readLoop delivers lines until the port fails, then reconnects.
func (s *Serial) readLoop(port io.ReadWriteCloser) {
	defer s.wg.Done()

	err := readLines(port, s.cfg.Delimiter, func(line string) {
		s.rx()
		s.cfg.Logger.Debug("serial read", "port", s.cfg.Port, "line", line)
		s.recv.deliver(line)
	})
	if s.done.IsClosed() {
		return
	}
	s.cfg.Logger.Warn("serial connection lost", "port", s.cfg.Port, "error", err)
	s.drop(port)
	s.reconnect()
}

// drop closes port if it is still the current one.
func (s *Serial) drop(port io.ReadWriteCloser) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port == port {
		_ = s.port.Close()
		s.port = nil
	}
}

// reconnect reopens the port with exponential backoff until it succeeds,
// someone else reopened it, or the transport is closed.
func (s *Serial) reconnect() {
	if !s.reconnecting.CompareAndSwap(false, true) {
		return
	}
	defer s.reconnecting.Store(false)

	backoff := s.cfg.ReconnectInterval
	for attempt := 1; ; attempt++ {
		select {
		case <-s.done.Done():
			return
		case <-time.After(backoff):
		}

		s.mu.Lock()
		if s.port != nil {
			s.mu.Unlock()
			return
		}
		err := s.openLocked()
		s.mu.Unlock()

		if err == nil {
			s.reconnects.Add(1)
			s.cfg.Logger.Info("serial port reconnected", "port", s.cfg.Port, "attempts", attempt)
			return
		}
		if errors.Is(err, ErrClosed) {
			return
		}
		s.cfg.Logger.Debug("serial reconnect failed", "port", s.cfg.Port, "attempt", attempt, "error", err)
		backoff = nextBackoff(backoff)
	}
}

// Write writes data to the port.
func (s *Serial) Write(data []byte) error {
	s.mu.Lock()
	port := s.port
	s.mu.Unlock()
	if port == nil {
		return fmt.Errorf("%w: %s", ErrNotOpen, s.cfg.Port)
	}
	n, err := port.Write(data)
	s.tx(n)
	if err != nil {
		return fmt.Errorf("writing %s: %w", s.cfg.Port, err)
	}
	return nil
}

// Connected reports whether the port is open.
func (s *Serial) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port != nil
}

// Stats returns operational statistics.
func (s *Serial) Stats() Stats { return s.stats(s.Connected()) }

// Close closes the port and stops reconnecting.
func (s *Serial) Close() error {
	s.done.Close()
	s.mu.Lock()
	var err error
	if s.port != nil {
		err = s.port.Close()
		s.port = nil
	}
	s.mu.Unlock()
	s.wg.Wait()
	return err
}
