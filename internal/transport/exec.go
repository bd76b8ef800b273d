package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"
)

const defaultExecTimeout = 10 * time.Second

// ExecConfig holds the settings for a command line driven device.
type ExecConfig struct {
	// Binary is the program to run, looked up in PATH.
	Binary string

	// Args are passed before the written arguments, e.g. ["-d", "/dev/steckerleiste"].
	Args []string

	// Timeout bounds one invocation. Default: 10 seconds.
	Timeout time.Duration

	Logger Logger
}

// Exec runs Binary once per write. The written data is split into
// arguments; the whole stdout is delivered as one record and every
// stderr line is logged as an error.
type Exec struct {
	cfg ExecConfig

	mu   sync.Mutex
	path string

	recv receiver
	done *closeOnce
	wg   sync.WaitGroup
	counters
}

// NewExec creates an exec transport.
func NewExec(cfg ExecConfig) *Exec {
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultExecTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = noopLogger{}
	}
	return &Exec{cfg: cfg, done: newCloseOnce()}
}

// SetReceiver installs the output callback.
func (e *Exec) SetReceiver(fn func(string)) { e.recv.set(fn) }

// Open looks up the binary.
func (e *Exec) Open(context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.done.IsClosed() {
		return ErrClosed
	}
	if e.path != "" {
		return nil
	}
	path, err := exec.LookPath(e.cfg.Binary)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrNoDevice, e.cfg.Binary, err)
	}
	e.path = path
	return nil
}

// Write starts one invocation. Its output arrives through the receiver.
func (e *Exec) Write(data []byte) error {
	e.mu.Lock()
	path := e.path
	e.mu.Unlock()
	if path == "" {
		return fmt.Errorf("%w: %s", ErrNotOpen, e.cfg.Binary)
	}
	if e.done.IsClosed() {
		return ErrClosed
	}

	args := append(append([]string(nil), e.cfg.Args...), strings.Fields(string(data))...)
	e.tx(len(data))
	e.wg.Add(1)
	go e.run(path, args)
	return nil
}

func (e *Exec) run(path string, args []string) {
	defer e.wg.Done()

	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.Timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	e.cfg.Logger.Debug("exec", "binary", e.cfg.Binary, "args", args)
	err := cmd.Run()

	for _, line := range strings.Split(stderr.String(), "\n") {
		if strings.TrimSpace(line) == "" {
			// the rest is the copyright banner
			break
		}
		e.cfg.Logger.Error("exec stderr", "binary", e.cfg.Binary, "line", line)
	}
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			e.cfg.Logger.Error("exec failed", "binary", e.cfg.Binary, "error", err)
			return
		}
		e.cfg.Logger.Warn("exec exited", "binary", e.cfg.Binary, "code", exitErr.ExitCode())
	}

	if out := strings.TrimSpace(stdout.String()); out != "" {
		e.rx()
		e.recv.deliver(out)
	}
}

// Connected reports whether the binary was found.
func (e *Exec) Connected() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.path != "" && !e.done.IsClosed()
}

// Stats returns operational statistics.
func (e *Exec) Stats() Stats { return e.stats(e.Connected()) }

// Close waits for running invocations.
func (e *Exec) Close() error {
	e.done.Close()
	e.wg.Wait()
	return nil
}
