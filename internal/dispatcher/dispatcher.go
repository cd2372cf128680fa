package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/Rijam/BossChecklist/pkg/streaming"
)

var (
	// ErrUnhandled is returned for a packet type with no registered handler.
	ErrUnhandled = errors.New("no handler for message type")
	// ErrQueueFull is returned when a non-blocking buffered handler drops a packet.
	ErrQueueFull = errors.New("queue full")
	// ErrClosed is returned by Dispatch after Close.
	ErrClosed = errors.New("dispatcher closed")
)

// Event is one packet received from a peer.
type Event struct {
	Sender   string
	Packet   streaming.Packet
	Received time.Time
}

// HandlerFunc processes an event.
type HandlerFunc func(Event) error

// Logger interface for pluggable logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Option configures handler registration.
type Option func(*config)

type config struct {
	bufferSize int
	blocking   bool
	logged     bool
}

// Buffered makes the handler async with a queue of the given size.
// Packets of one type are still handled in arrival order.
func Buffered(size int) Option {
	return func(c *config) {
		c.bufferSize = size
	}
}

// Blocking makes a buffered handler block when the queue is full instead of dropping.
func Blocking() Option {
	return func(c *config) {
		c.blocking = true
	}
}

// Logged adds debug logging to the handler.
func Logged() Option {
	return func(c *config) {
		c.logged = true
	}
}

// Dispatcher routes packets to the handler registered for their type.
type Dispatcher struct {
	handlers map[streaming.MessageType]HandlerFunc
	logger   Logger

	queueSize metric.Int64ObservableGauge
	processed metric.Int64Counter
	failed    metric.Int64Counter
	dropped   metric.Int64Counter

	mu      sync.RWMutex
	closed  bool
	buffers map[streaming.MessageType]chan Event
	workers sync.WaitGroup
}

// New creates a Dispatcher. Metrics go to the global OTel meter, which is a
// no-op unless a provider has been installed.
func New(logger Logger) (*Dispatcher, error) {
	d := &Dispatcher{
		handlers: make(map[streaming.MessageType]HandlerFunc),
		buffers:  make(map[streaming.MessageType]chan Event),
		logger:   logger,
	}

	m := meter()

	var err error

	d.queueSize, err = m.Int64ObservableGauge(
		"dispatcher.queue.size",
		metric.WithDescription("Current number of packets in queue"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating queue size gauge: %w", err)
	}

	_, err = m.RegisterCallback(
		func(ctx context.Context, o metric.Observer) error {
			d.mu.RLock()
			defer d.mu.RUnlock()
			for typ, buf := range d.buffers {
				o.ObserveInt64(d.queueSize, int64(len(buf)),
					metric.WithAttributes(typeAttr(typ)))
			}
			return nil
		},
		d.queueSize,
	)
	if err != nil {
		return nil, fmt.Errorf("registering queue callback: %w", err)
	}

	d.processed, err = m.Int64Counter(
		"dispatcher.packets.processed",
		metric.WithDescription("Total packets handled"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating processed counter: %w", err)
	}

	d.failed, err = m.Int64Counter(
		"dispatcher.packets.failed",
		metric.WithDescription("Total packets whose handler returned an error"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating failed counter: %w", err)
	}

	d.dropped, err = m.Int64Counter(
		"dispatcher.packets.dropped",
		metric.WithDescription("Total packets dropped due to full queue"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating dropped counter: %w", err)
	}

	return d, nil
}

func typeAttr(typ streaming.MessageType) attribute.KeyValue {
	return attribute.String("message_type", typ.String())
}

// Register adds a handler for the given message type. Registering a type
// twice replaces the earlier handler. Register must not be called after
// Dispatch has started.
func (d *Dispatcher) Register(typ streaming.MessageType, h HandlerFunc, opts ...Option) {
	cfg := &config{}
	for _, opt := range opts {
		opt(cfg)
	}

	handler := d.withMetrics(typ, h)

	if cfg.logged {
		handler = d.withLogging(typ, handler)
	}

	if cfg.bufferSize > 0 {
		handler = d.withBuffer(typ, cfg.bufferSize, cfg.blocking, handler)
	}

	d.handlers[typ] = handler
}

// Dispatch routes an event to its registered handler. For buffered
// handlers the returned error only reports whether the packet was queued.
func (d *Dispatcher) Dispatch(e Event) error {
	h, ok := d.handlers[e.Packet.Type]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnhandled, e.Packet.Type)
	}
	if e.Received.IsZero() {
		e.Received = time.Now()
	}
	return h(e)
}

// HasHandler returns true if a handler is registered for the type.
func (d *Dispatcher) HasHandler(typ streaming.MessageType) bool {
	_, ok := d.handlers[typ]
	return ok
}

// Close stops accepting packets and waits for buffered handlers to drain.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	for _, buf := range d.buffers {
		close(buf)
	}
	d.mu.Unlock()

	d.workers.Wait()
}

func (d *Dispatcher) withMetrics(typ streaming.MessageType, h HandlerFunc) HandlerFunc {
	attrs := metric.WithAttributes(typeAttr(typ))
	return func(e Event) error {
		err := h(e)
		if err != nil {
			d.failed.Add(context.Background(), 1, attrs)
		}
		d.processed.Add(context.Background(), 1, attrs)
		return err
	}
}

func (d *Dispatcher) withBuffer(typ streaming.MessageType, size int, blocking bool, h HandlerFunc) HandlerFunc {
	buffer := make(chan Event, size)

	d.mu.Lock()
	d.buffers[typ] = buffer
	d.mu.Unlock()

	d.workers.Add(1)
	go func() {
		defer d.workers.Done()
		for e := range buffer {
			_ = h(e)
		}
	}()

	attrs := metric.WithAttributes(typeAttr(typ))

	return func(e Event) error {
		// The read lock keeps Close from closing the channel mid-send.
		d.mu.RLock()
		defer d.mu.RUnlock()
		if d.closed {
			return ErrClosed
		}

		if blocking {
			buffer <- e
			return nil
		}

		select {
		case buffer <- e:
			return nil
		default:
			d.dropped.Add(context.Background(), 1, attrs)
			return fmt.Errorf("%w: %s", ErrQueueFull, typ)
		}
	}
}

func (d *Dispatcher) withLogging(typ streaming.MessageType, h HandlerFunc) HandlerFunc {
	return func(e Event) error {
		start := time.Now()
		d.logger.Debug("handling packet", "type", typ.String(), "sender", e.Sender, "boss", e.Packet.BossKey, "bytes", len(e.Packet.Body))

		err := h(e)

		if err != nil {
			d.logger.Error("packet failed", "type", typ.String(), "sender", e.Sender, "duration", time.Since(start), "error", err)
		} else {
			d.logger.Debug("packet complete", "type", typ.String(), "sender", e.Sender, "duration", time.Since(start))
		}

		return err
	}
}
