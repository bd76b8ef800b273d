// Package osd shows short text lines on the television through osd_cat.
package osd

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/halirc/internal/automation"
	"github.com/nerrad567/halirc/internal/process"
)

// Defaults for osd_cat.
const (
	DefaultBinary      = "/usr/bin/osd_cat"
	DefaultDisplay     = ":0"
	DefaultFont        = "-*-helvetica-*-r-*-*-*-240-*-*-*-*-*-*"
	DefaultIdleTimeout = 5 * time.Second
)

// Config holds the OSD settings.
type Config struct {
	Binary  string
	Display string
	Font    string

	// IdleTimeout closes osd_cat's input after the last line. osd_cat
	// then exits once the line has been shown.
	IdleTimeout time.Duration
}

// Process is what the writer needs from the supervised osd_cat.
type Process interface {
	Start(ctx context.Context) error
	Write(line string) error
	CloseInput() error
	IsRunning() bool
	Stop() error
}

// Writer writes lines to osd_cat, starting it when needed.
type Writer struct {
	cfg  Config
	proc Process

	mu   sync.Mutex
	idle *time.Timer
}

// Args returns the osd_cat arguments for cfg.
func Args(cfg Config) []string {
	return []string{
		"--align=center",
		"--outline=5",
		"--lines=1",
		"--delay=2",
		"--offset=10",
		"--font=" + cfg.Font,
	}
}

func (c *Config) applyDefaults() {
	if c.Binary == "" {
		c.Binary = DefaultBinary
	}
	if c.Display == "" {
		c.Display = DefaultDisplay
	}
	if c.Font == "" {
		c.Font = DefaultFont
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
}

// New creates a writer supervising osd_cat.
func New(cfg Config, logger process.Logger) *Writer {
	cfg.applyDefaults()
	pc := process.DefaultConfig("osd_cat", cfg.Binary, Args(cfg))
	pc.Env = []string{"DISPLAY=" + cfg.Display}
	mgr := process.NewManager(pc)
	if logger != nil {
		mgr.SetLogger(logger)
	}
	return NewWithProcess(cfg, mgr)
}

// NewWithProcess creates a writer around an existing process.
func NewWithProcess(cfg Config, proc Process) *Writer {
	cfg.applyDefaults()
	return &Writer{cfg: cfg, proc: proc}
}

// Write shows line. It starts osd_cat when it is not running and
// restarts the idle timer.
func (w *Writer) Write(ctx context.Context, line string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.write(ctx, line); err != nil {
		if !errors.Is(err, process.ErrNotRunning) {
			return err
		}
		// osd_cat ended between the check and the write
		if err := w.write(ctx, line); err != nil {
			return err
		}
	}

	if w.idle != nil {
		w.idle.Stop()
	}
	w.idle = time.AfterFunc(w.cfg.IdleTimeout, w.closeIdle)
	return nil
}

func (w *Writer) write(ctx context.Context, line string) error {
	if !w.proc.IsRunning() {
		if err := w.proc.Start(context.WithoutCancel(ctx)); err != nil {
			return err
		}
	}
	return w.proc.Write(line)
}

func (w *Writer) closeIdle() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.idle = nil
	_ = w.proc.CloseInput()
}

// Close stops osd_cat.
func (w *Writer) Close() error {
	w.mu.Lock()
	if w.idle != nil {
		w.idle.Stop()
		w.idle = nil
	}
	w.mu.Unlock()
	return w.proc.Stop()
}

// Action returns the "osd" action, which shows its arguments joined by
// spaces.
func (w *Writer) Action() automation.Action {
	return func(ctx context.Context, _ automation.Event, args ...string) error {
		return w.Write(ctx, strings.Join(args, " "))
	}
}
