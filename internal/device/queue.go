package device

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/halirc/internal/message"
)

// DefaultHistorySize is how many recent requests a queue keeps for
// pacing decisions, not counting the newest one.
const DefaultHistorySize = 20

// DelayFunc returns the minimum time the device needs between prev having
// been sent and next being sent. prev is never nil.
type DelayFunc func(prev, next *Request) time.Duration

// NoDelay is the default DelayFunc.
func NoDelay(_, _ *Request) time.Duration { return 0 }

// Observer receives request outcomes for metrics and journaling.
// Implementations must not block.
type Observer interface {
	RequestFinished(device string, req *Request, err error)
	PacingWaited(device string, wait time.Duration)
}

type noopObserver struct{}

func (noopObserver) RequestFinished(string, *Request, error) {}
func (noopObserver) PacingWaited(string, time.Duration)      {}

// QueueConfig holds the settings for a per-device queue.
type QueueConfig struct {
	// Device is the device name used in logs and errors.
	Device string

	// Transport carries the encoded messages.
	Transport Transport

	// EOL is appended to every encoded message on write.
	EOL string

	// Delay computes device-specific pacing. Defaults to NoDelay.
	Delay DelayFunc

	// HistorySize bounds the pacing history. Defaults to DefaultHistorySize.
	HistorySize int

	// MaxRetries bounds re-sends after a timeout. Defaults to DefaultMaxRetries.
	// Use a negative value for no retries.
	MaxRetries int

	Logger   Logger
	Observer Observer
}

// Queue serializes the requests for one device.
//
// At most one request is running at any time; queued requests are sent
// in push order. Before each send the queue waits out the longest pacing
// delay still required by any recently sent request.
//
// All methods are safe for concurrent use.
type Queue struct {
	cfg    QueueConfig
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	running *Request
	queued  []*Request
	history []*Request
	closed  bool

	wg sync.WaitGroup
}

// NewQueue creates a queue. It sends nothing until the first Push.
func NewQueue(cfg QueueConfig) *Queue {
	if cfg.Delay == nil {
		cfg.Delay = NoDelay
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = DefaultHistorySize
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.Logger == nil {
		cfg.Logger = noopLogger{}
	}
	if cfg.Observer == nil {
		cfg.Observer = noopObserver{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		cfg:    cfg,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Push appends req to the queue and starts it if the device is idle.
// It returns req for chaining.
func (q *Queue) Push(req *Request) *Request {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		req.complete(nil, ErrClosed)
		return req
	}
	q.queued = append(q.queued, req)
	if len(q.history) > q.cfg.HistorySize {
		q.history = append([]*Request(nil), q.history[len(q.history)-q.cfg.HistorySize:]...)
	}
	q.history = append(q.history, req)
	q.mu.Unlock()

	q.cfg.Logger.Debug("request queued", "device", q.cfg.Device, "request", req.String())
	q.run()
	return req
}

// run starts the next queued request if nothing is running.
func (q *Queue) run() {
	q.mu.Lock()
	if q.closed || q.running != nil || len(q.queued) == 0 {
		q.mu.Unlock()
		return
	}
	req := q.queued[0]
	q.queued[0] = nil
	q.queued = q.queued[1:]
	q.running = req
	attempt := req.nextAttempt(false)
	q.wg.Add(1)
	q.mu.Unlock()

	go q.send(req, attempt)
}

// send opens the transport, waits out the pacing delay and writes the
// request. It runs in its own goroutine per attempt.
func (q *Queue) send(req *Request, attempt int) {
	defer q.wg.Done()

	if err := q.cfg.Transport.Open(q.ctx); err != nil {
		q.fail(req, fmt.Errorf("%w: opening %s: %w", ErrTransport, q.cfg.Device, err))
		return
	}
	if !q.cfg.Transport.Connected() {
		q.fail(req, fmt.Errorf("%w: %s", ErrNotConnected, q.cfg.Device))
		return
	}

	if wait, after := q.pacingWait(req); wait > 0 {
		q.cfg.Logger.Debug("pacing before send",
			"device", q.cfg.Device,
			"wait", wait,
			"after", after.Message.String(),
			"next", req.Message.String(),
		)
		q.cfg.Observer.PacingWaited(q.cfg.Device, wait)

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-q.ctx.Done():
			timer.Stop()
			q.fail(req, ErrClosed)
			return
		}
	}

	q.mu.Lock()
	if q.running != req || req.Completed() || req.currentAttempt() != attempt {
		q.mu.Unlock()
		return
	}
	req.markSent(time.Now())
	q.mu.Unlock()

	data := []byte(req.Message.Encoded() + q.cfg.EOL)
	q.cfg.Logger.Debug("write", "device", q.cfg.Device, "data", fmt.Sprintf("%q", data))
	if err := q.cfg.Transport.Write(data); err != nil {
		q.fail(req, fmt.Errorf("%w: writing %s: %w", ErrTransport, q.cfg.Device, err))
		return
	}

	if req.IsFireAndForget() {
		q.finish(req, nil)
		return
	}

	time.AfterFunc(req.Timeout, func() { q.timedOut(req, attempt) })
}

// pacingWait computes the wait for req against the current history.
func (q *Queue) pacingWait(req *Request) (time.Duration, *Request) {
	q.mu.Lock()
	history := append([]*Request(nil), q.history...)
	q.mu.Unlock()
	return PacingWait(history, req, q.cfg.Delay, time.Now())
}

// PacingWait returns how long next must still wait before it may be sent,
// and the request that imposes the wait.
//
// Every request in history that has been sent contributes
// delay(candidate, next) minus the time elapsed since it was sent. The
// result is the largest positive remainder, or zero.
func PacingWait(history []*Request, next *Request, delay DelayFunc, now time.Time) (time.Duration, *Request) {
	var (
		wait  time.Duration
		after *Request
	)
	for _, prev := range history {
		if prev == nil || prev == next {
			continue
		}
		sent := prev.SentAt()
		if sent.IsZero() {
			continue
		}
		d := delay(prev, next)
		if d <= 0 {
			continue
		}
		if rest := d - now.Sub(sent); rest > wait {
			wait = rest
			after = prev
		}
	}
	return wait, after
}

// timedOut re-sends req or fails it once the retries are used up. Checks
// for a completed request or an older attempt do nothing.
func (q *Queue) timedOut(req *Request, attempt int) {
	q.mu.Lock()
	if q.closed || q.running != req || req.Completed() || req.currentAttempt() != attempt {
		q.mu.Unlock()
		return
	}
	retries := req.Retries()
	if retries < q.cfg.MaxRetries {
		next := req.nextAttempt(true)
		q.wg.Add(1)
		q.mu.Unlock()

		q.cfg.Logger.Warn("request timed out, resending",
			"device", q.cfg.Device,
			"request", req.String(),
			"retry", retries+1,
		)
		go q.send(req, next)
		return
	}
	q.mu.Unlock()

	q.fail(req, fmt.Errorf("%w: %s after %d retries", ErrTimeout, req, retries))
}

// Answer completes the running request if msg answers it. It reports
// whether msg was consumed as an answer.
//
// A request that has not been written yet accepts no answer.
func (q *Queue) Answer(msg message.Message) bool {
	q.mu.Lock()
	req := q.running
	if req == nil || req.Completed() || req.SentAt().IsZero() || !req.Message.AnswerMatches(msg) {
		q.mu.Unlock()
		return false
	}
	req.markAnswered(time.Now())
	req.complete(msg, nil)
	q.running = nil
	q.mu.Unlock()

	q.cfg.Logger.Debug("got answer", "device", q.cfg.Device, "request", req.String(), "answer", msg.String())
	q.cfg.Observer.RequestFinished(q.cfg.Device, req, nil)

	// Start the next request outside of the caller's stack.
	go q.run()
	return true
}

// finish completes a fire-and-forget request after its write.
func (q *Queue) finish(req *Request, answer message.Message) {
	q.mu.Lock()
	if !req.complete(answer, nil) {
		q.mu.Unlock()
		return
	}
	if q.running == req {
		q.running = nil
	}
	q.mu.Unlock()

	q.cfg.Observer.RequestFinished(q.cfg.Device, req, nil)
	q.run()
}

// fail completes req with err and drains the queue: pending requests may
// depend on the state the failed one was supposed to establish.
func (q *Queue) fail(req *Request, err error) {
	q.mu.Lock()
	if !req.complete(nil, err) {
		q.mu.Unlock()
		return
	}
	if q.running == req {
		q.running = nil
	}
	drained := q.queued
	q.queued = nil
	q.mu.Unlock()

	q.cfg.Logger.Error("request failed, clearing queue",
		"device", q.cfg.Device,
		"request", req.String(),
		"error", err,
		"cleared", len(drained),
	)
	q.cfg.Observer.RequestFinished(q.cfg.Device, req, err)

	for _, pending := range drained {
		clearErr := fmt.Errorf("%w: %s", ErrQueueCleared, q.cfg.Device)
		if pending.complete(nil, clearErr) {
			q.cfg.Observer.RequestFinished(q.cfg.Device, pending, clearErr)
		}
	}

	q.run()
}

// Close fails the running and all queued requests with ErrClosed and
// waits for in-flight sends to return.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	pending := q.queued
	if q.running != nil {
		pending = append([]*Request{q.running}, pending...)
	}
	q.running = nil
	q.queued = nil
	q.mu.Unlock()

	for _, req := range pending {
		req.complete(nil, ErrClosed)
	}
	q.cancel()
	q.wg.Wait()
}

// Running returns the request in flight, or nil.
func (q *Queue) Running() *Request {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.running
}

// Len returns the number of queued requests, not counting the running one.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queued)
}

// RequestInfo describes a pending request for diagnostics.
type RequestInfo struct {
	ID      string        `json:"id"`
	Message string        `json:"message"`
	Sent    bool          `json:"sent"`
	Age     time.Duration `json:"age"`
	Retries int           `json:"retries"`
}

// Snapshot describes the queue state for diagnostics.
type Snapshot struct {
	Device  string        `json:"device"`
	Running *RequestInfo  `json:"running,omitempty"`
	Queued  []RequestInfo `json:"queued"`
	History int           `json:"history"`
}

// Snapshot returns the current queue state.
func (q *Queue) Snapshot() Snapshot {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()
	snap := Snapshot{
		Device:  q.cfg.Device,
		Queued:  make([]RequestInfo, 0, len(q.queued)),
		History: len(q.history),
	}
	if q.running != nil {
		info := describe(q.running, now)
		snap.Running = &info
	}
	for _, req := range q.queued {
		snap.Queued = append(snap.Queued, describe(req, now))
	}
	return snap
}

func describe(req *Request, now time.Time) RequestInfo {
	info := RequestInfo{
		ID:      req.ID,
		Message: req.Message.String(),
		Retries: req.Retries(),
	}
	if sent := req.SentAt(); !sent.IsZero() {
		info.Sent = true
		info.Age = now.Sub(sent)
	} else {
		info.Age = now.Sub(req.CreatedAt())
	}
	return info
}
