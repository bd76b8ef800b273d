package influxdb

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/halirc/internal/infrastructure/config"
)

var (
	// ErrDisabled is returned by Connect when influxdb.enabled is false.
	ErrDisabled = errors.New("influxdb: disabled in configuration")

	// ErrConnectionFailed is returned when the server does not answer the
	// first ping.
	ErrConnectionFailed = errors.New("influxdb: connection failed")

	// ErrClosed is returned by HealthCheck after Close.
	ErrClosed = errors.New("influxdb: closed")
)

// Measurement names.
const (
	MeasurementRequest = "device_request"
	MeasurementPacing  = "device_pacing"
	MeasurementEvent   = "hal_event"
	MeasurementAction  = "hal_action"
)

const (
	pingTimeout          = 5 * time.Second
	defaultBatchSize     = 100
	defaultFlushInterval = 10 // seconds
)

// Client writes halirc timing points: request latencies and retries,
// pacing waits, action durations and event counts. Every point carries
// the tag service=halirc.
//
// Writes never block the caller. Points are batched by the client
// library and dropped silently once Close has been called.
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	closed   atomic.Bool

	mu      sync.RWMutex
	onError func(err error)
}

func options(cfg config.InfluxDBConfig) *influxdb2.Options {
	batch, flush := cfg.BatchSize, cfg.FlushInterval
	if batch <= 0 {
		batch = defaultBatchSize
	}
	if flush <= 0 {
		flush = defaultFlushInterval
	}
	// #nosec G115 -- both positive
	return influxdb2.DefaultOptions().
		SetBatchSize(uint(batch)).
		SetFlushInterval(uint(flush) * uint(time.Second/time.Millisecond)).
		AddDefaultTag("service", "halirc")
}

// Connect pings the server and starts the batching write API.
func Connect(ctx context.Context, cfg config.InfluxDBConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}
	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, options(cfg))
	if err := ping(ctx, client); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %s: %w", ErrConnectionFailed, cfg.URL, err)
	}

	c := &Client{client: client, writeAPI: client.WriteAPI(cfg.Org, cfg.Bucket)}
	go c.forwardErrors(c.writeAPI.Errors())
	return c, nil
}

func ping(ctx context.Context, client influxdb2.Client) error {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	healthy, err := client.Ping(ctx)
	if err != nil {
		return err
	}
	if !healthy {
		return errors.New("server not healthy")
	}
	return nil
}

// forwardErrors runs until the write API closes its error channel.
func (c *Client) forwardErrors(errs <-chan error) {
	for err := range errs {
		c.mu.RLock()
		callback := c.onError
		c.mu.RUnlock()
		if callback != nil {
			callback(err)
		}
	}
}

// SetOnError sets the callback for asynchronous write failures.
func (c *Client) SetOnError(callback func(err error)) {
	c.mu.Lock()
	c.onError = callback
	c.mu.Unlock()
}

// HealthCheck pings the server.
func (c *Client) HealthCheck(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if err := ping(ctx, c.client); err != nil {
		return fmt.Errorf("influxdb health check: %w", err)
	}
	return nil
}

// Flush sends the buffered points now.
func (c *Client) Flush() {
	if c.writeAPI != nil && !c.closed.Load() {
		c.writeAPI.Flush()
	}
}

// Close flushes pending points and closes the client. Safe to call twice.
func (c *Client) Close() error {
	if c.client == nil || c.closed.Swap(true) {
		return nil
	}
	c.writeAPI.Flush()
	c.client.Close()
	return nil
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// WriteRequest records one finished device request. latency is zero for
// an unanswered request.
func (c *Client) WriteRequest(device, command string, latency time.Duration, retries int, ok bool) {
	c.write(MeasurementRequest,
		map[string]string{"device": device, "command": command},
		map[string]any{"latency_ms": ms(latency), "retries": retries, "ok": ok},
		time.Now(),
	)
}

// WritePacing records how long a request waited for the device delay.
func (c *Client) WritePacing(device string, wait time.Duration) {
	c.write(MeasurementPacing,
		map[string]string{"device": device},
		map[string]any{"wait_ms": ms(wait)},
		time.Now(),
	)
}

// WriteEvent records one routed event at the time it happened.
func (c *Client) WriteEvent(source, command string, at time.Time) {
	c.write(MeasurementEvent,
		map[string]string{"source": source, "command": command},
		map[string]any{"count": 1},
		at,
	)
}

// WriteAction records one finished action.
func (c *Client) WriteAction(name string, duration time.Duration, ok bool) {
	c.write(MeasurementAction,
		map[string]string{"action": name},
		map[string]any{"duration_ms": ms(duration), "ok": ok},
		time.Now(),
	)
}

func (c *Client) write(measurement string, tags map[string]string, fields map[string]any, at time.Time) {
	if c.closed.Load() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, at))
}
