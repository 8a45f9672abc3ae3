package usage

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonwraymond/inferops/clock"
	"github.com/jonwraymond/inferops/observe"
)

// Sink persists usage records.
//
// Contract:
//   - Concurrency: Write is called from a single worker goroutine.
//   - Context: Write must honor cancellation and deadlines.
//   - Errors: returned errors are logged by the Accountant and never reach
//     the caller of Record.
type Sink interface {
	Write(ctx context.Context, rec Record) error
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(ctx context.Context, rec Record) error

// Write calls f.
func (f SinkFunc) Write(ctx context.Context, rec Record) error { return f(ctx, rec) }

// AccountantConfig configures an Accountant.
type AccountantConfig struct {
	// QueueSize bounds the number of records waiting for the sink.
	// Default: 1024
	QueueSize int

	// WriteTimeout bounds each sink write.
	// Default: 5s
	WriteTimeout time.Duration

	// Clock stamps records that arrive without a Timestamp.
	// Default: clock.Real
	Clock clock.Clock

	Logger  observe.Logger
	Metrics observe.Metrics
}

func (c *AccountantConfig) applyDefaults() {
	if c.QueueSize <= 0 {
		c.QueueSize = 1024
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	c.Clock = clock.OrReal(c.Clock)
	if c.Logger == nil {
		c.Logger = observe.NopLogger()
	}
	if c.Metrics == nil {
		c.Metrics = observe.NoopMetrics()
	}
}

// Accountant records usage without blocking the request path.
type Accountant struct {
	sink    Sink
	cfg     AccountantConfig
	queue   chan Record
	done    chan struct{}
	stop    chan struct{}
	mu      sync.RWMutex
	closed  bool
	dropped atomic.Int64
	written atomic.Int64
}

// NewAccountant starts an Accountant writing to sink.
func NewAccountant(sink Sink, cfg AccountantConfig) (*Accountant, error) {
	if sink == nil {
		return nil, ErrNilSink
	}
	cfg.applyDefaults()

	a := &Accountant{
		sink:  sink,
		cfg:   cfg,
		queue: make(chan Record, cfg.QueueSize),
		done:  make(chan struct{}),
		stop:  make(chan struct{}),
	}
	go a.run()
	return a, nil
}

// Record enqueues rec. It never blocks; when the queue is full the record
// is dropped and logged. Records after Close are dropped.
func (a *Accountant) Record(ctx context.Context, rec Record) {
	if rec.CallID == "" {
		rec.CallID = NewCallID()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = a.cfg.Clock.Now().UTC()
	}

	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		a.drop(ctx, rec, "accountant closed")
		return
	}

	select {
	case a.queue <- rec:
	default:
		a.drop(ctx, rec, "queue full")
	}
}

func (a *Accountant) drop(ctx context.Context, rec Record, reason string) {
	a.dropped.Add(1)
	a.cfg.Metrics.RecordUsageDropped(ctx)
	a.cfg.Logger.Warn(ctx, "usage record dropped",
		observe.F("reason", reason),
		observe.F("call_id", rec.CallID),
		observe.F("outcome", string(rec.Outcome)),
	)
}

func (a *Accountant) run() {
	defer close(a.done)
	for {
		select {
		case rec := <-a.queue:
			a.write(rec)
		case <-a.stop:
			for {
				select {
				case rec := <-a.queue:
					a.write(rec)
				default:
					return
				}
			}
		}
	}
}

func (a *Accountant) write(rec Record) {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.WriteTimeout)
	defer cancel()

	if err := a.sink.Write(ctx, rec); err != nil {
		a.cfg.Logger.Warn(ctx, "usage write failed",
			observe.F("call_id", rec.CallID),
			observe.F("error", err),
		)
		return
	}
	a.written.Add(1)
}

// Stats returns the number of records written and dropped so far.
func (a *Accountant) Stats() (written, dropped int64) {
	return a.written.Load(), a.dropped.Load()
}

// Close stops accepting records and waits for queued records to be
// written, or for ctx to end.
func (a *Accountant) Close(ctx context.Context) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return ErrClosed
	}
	a.closed = true
	close(a.stop)
	a.mu.Unlock()

	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("usage: drain: %w", ctx.Err())
	}
}
