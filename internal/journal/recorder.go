package journal

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultBufferSize is the number of entries Record holds before dropping.
const DefaultBufferSize = 256

// writeTimeout bounds a single insert.
const writeTimeout = 5 * time.Second

// Logger defines the logging interface used by the recorder.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Recorder writes entries in the background so that callers on the event
// path never wait for SQLite.
type Recorder struct {
	repo    Repository
	logger  Logger
	entries chan Entry
	dropped atomic.Uint64

	closeOnce sync.Once
	done      chan struct{}
}

// NewRecorder creates a recorder with room for size pending entries.
func NewRecorder(repo Repository, logger Logger, size int) *Recorder {
	if size <= 0 {
		size = DefaultBufferSize
	}
	if logger == nil {
		logger = noopLogger{}
	}
	return &Recorder{
		repo:    repo,
		logger:  logger,
		entries: make(chan Entry, size),
		done:    make(chan struct{}),
	}
}

// Record queues e for writing. When the buffer is full the entry is
// dropped and counted.
func (r *Recorder) Record(e Entry) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	select {
	case <-r.done:
		r.dropped.Add(1)
	case r.entries <- e:
	default:
		r.dropped.Add(1)
	}
}

// Dropped returns how many entries were lost to a full buffer.
func (r *Recorder) Dropped() uint64 {
	return r.dropped.Load()
}

// Run writes queued entries until ctx is done or Close is called, then
// flushes what is left.
func (r *Recorder) Run(ctx context.Context) {
	for {
		select {
		case e := <-r.entries:
			r.write(e)
		case <-ctx.Done():
			r.flush()
			return
		case <-r.done:
			r.flush()
			return
		}
	}
}

func (r *Recorder) flush() {
	for {
		select {
		case e := <-r.entries:
			r.write(e)
		default:
			return
		}
	}
}

func (r *Recorder) write(e Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := r.repo.Create(ctx, &e); err != nil {
		r.logger.Warn("journal write failed", "kind", e.Kind, "source", e.Source, "error", err)
	}
}

// Close stops Run after it has written the pending entries.
func (r *Recorder) Close() {
	r.closeOnce.Do(func() { close(r.done) })
}
