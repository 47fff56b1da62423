package progress

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Defaults applied by NewHub for Config fields left at their zero value.
const (
	DefaultBufferSize     = 4096
	DefaultMaxBatchEvents = 1000
	DefaultMaxBatchWait   = 500 * time.Millisecond
	DefaultSinkTimeout    = 10 * time.Second
)

// dropWarnInterval caps how often the hub logs about discarded events.
const dropWarnInterval = 5 * time.Second

// Config tunes how the Hub buffers and batches events before handing them to
// sinks. The zero value is usable; NewHub fills in defaults.
type Config struct {
	// BufferSize is the capacity of the channel between Emit and the
	// batching goroutine.
	BufferSize int
	// MaxBatchEvents flushes the pending batch once it reaches this size.
	MaxBatchEvents int
	// MaxBatchWait bounds how long a partial batch waits before it is
	// flushed anyway.
	MaxBatchWait time.Duration
	// SinkTimeout bounds each sink's Consume call during a flush.
	SinkTimeout time.Duration
	// BaseContext is the parent for sink contexts. Background when nil.
	BaseContext context.Context
	// Logger receives warnings about dropped events and failing sinks.
	Logger *zap.Logger
}

func (c Config) normalized() Config {
	if c.BufferSize <= 0 {
		c.BufferSize = DefaultBufferSize
	}
	if c.MaxBatchEvents <= 0 {
		c.MaxBatchEvents = DefaultMaxBatchEvents
	}
	if c.MaxBatchWait <= 0 {
		c.MaxBatchWait = DefaultMaxBatchWait
	}
	if c.SinkTimeout <= 0 {
		c.SinkTimeout = DefaultSinkTimeout
	}
	if c.BaseContext == nil {
		c.BaseContext = context.Background()
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

// Hub fans crawl events out to a set of sinks. Emit is safe from any
// goroutine and never blocks; a single background goroutine owns batching,
// so each sink sees batches sequentially.
type Hub struct {
	cfg    Config
	sinks  []Sink
	queue  chan Event
	quit   chan struct{}
	done   chan struct{}
	logger *zap.Logger

	dropped  atomic.Int64
	warnGate logThrottle
	closing  atomic.Bool
	once     sync.Once
	flushCtx context.Context
}

// NewHub starts the batching goroutine and returns a Hub ready for Emit.
func NewHub(cfg Config, sinks ...Sink) *Hub {
	cfg = cfg.normalized()
	h := &Hub{
		cfg:      cfg,
		sinks:    append([]Sink(nil), sinks...),
		queue:    make(chan Event, cfg.BufferSize),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
		logger:   cfg.Logger,
		warnGate: logThrottle{every: dropWarnInterval},
	}
	go h.run()
	return h
}

// Emit queues evt for delivery. A nil hub and events arriving after Close
// are ignored. When the buffer is full the event is discarded rather than
// slowing the crawl; discards are counted and reported at most once per
// dropWarnInterval.
func (h *Hub) Emit(evt Event) {
	if h == nil || h.closing.Load() {
		return
	}
	if err := evt.Validate(); err != nil {
		h.logger.Debug("dropping malformed progress event", zap.Error(err))
		return
	}
	select {
	case h.queue <- evt:
	default:
		h.dropped.Add(1)
		if h.warnGate.allow(time.Now()) {
			h.logger.Warn("progress buffer full, discarding events",
				zap.Int64("discarded", h.dropped.Swap(0)))
		}
	}
}

// Close stops intake, delivers everything still buffered, closes the sinks,
// and waits for the batching goroutine to exit. ctx bounds the wait and is
// also handed to sink Close calls. Calls after the first wait on the same
// shutdown.
func (h *Hub) Close(ctx context.Context) error {
	if h == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	h.once.Do(func() {
		h.closing.Store(true)
		h.flushCtx = ctx
		close(h.quit)
	})
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("progress hub shutdown: %w", ctx.Err())
	}
}

func (h *Hub) run() {
	defer close(h.done)
	batch := make([]Event, 0, h.cfg.MaxBatchEvents)
	timer := time.NewTimer(h.cfg.MaxBatchWait)
	disarm(timer)
	armed := false
	for {
		select {
		case evt := <-h.queue:
			batch = append(batch, evt)
			if len(batch) >= h.cfg.MaxBatchEvents {
				batch = h.deliver(batch)
				if armed {
					disarm(timer)
					armed = false
				}
			} else if !armed {
				// The timer runs from the first event of a batch, so a
				// trickle of events cannot postpone delivery forever.
				timer.Reset(h.cfg.MaxBatchWait)
				armed = true
			}
		case <-timer.C:
			armed = false
			batch = h.deliver(batch)
		case <-h.quit:
			if armed {
				disarm(timer)
			}
			h.shutdown(batch)
			return
		}
	}
}

// shutdown consumes whatever Emit queued before quit closed, delivers the
// final batch, and closes every sink.
func (h *Hub) shutdown(batch []Event) {
	for {
		select {
		case evt := <-h.queue:
			batch = append(batch, evt)
			if len(batch) >= h.cfg.MaxBatchEvents {
				batch = h.deliver(batch)
			}
		default:
			h.deliver(batch)
			ctx := h.flushCtx
			if ctx == nil {
				ctx = context.Background()
			}
			for _, sink := range h.sinks {
				if sink == nil {
					continue
				}
				if err := sink.Close(ctx); err != nil {
					h.logger.Warn("progress sink close failed", zap.Error(err))
				}
			}
			return
		}
	}
}

// deliver hands a copy of batch to every sink and returns the slice reset to
// length zero for reuse. Sink errors are logged, never propagated; one bad
// sink must not starve the others.
func (h *Hub) deliver(batch []Event) []Event {
	if len(batch) == 0 {
		return batch
	}
	snapshot := append([]Event(nil), batch...)
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		ctx, cancel := h.sinkContext()
		if err := sink.Consume(ctx, snapshot); err != nil {
			h.logger.Warn("progress sink consume failed", zap.Error(err))
		}
		cancel()
	}
	return batch[:0]
}

func (h *Hub) sinkContext() (context.Context, context.CancelFunc) {
	if h.cfg.SinkTimeout <= 0 {
		return h.cfg.BaseContext, func() {}
	}
	return context.WithTimeout(h.cfg.BaseContext, h.cfg.SinkTimeout)
}

// disarm stops timer and clears any stale tick so a later Reset starts clean.
func disarm(timer *time.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
}

// logThrottle admits at most one caller per interval. Lock free so the Emit
// fast path never serializes on logging.
type logThrottle struct {
	every time.Duration
	next  atomic.Int64
}

func (t *logThrottle) allow(now time.Time) bool {
	if t == nil || t.every <= 0 {
		return true
	}
	deadline := t.next.Load()
	if now.UnixNano() < deadline {
		return false
	}
	return t.next.CompareAndSwap(deadline, now.Add(t.every).UnixNano())
}
