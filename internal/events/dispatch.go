package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"topup/internal/metrics"
)

var ErrDispatcherClosed = errors.New("event dispatcher closed")

// Handler consumes one event. Recorder and KafkaPublisher implement it.
type Handler interface {
	Handle(ctx context.Context, event Event) error
}

// Dispatcher hands an event off without reporting failure to the caller.
type Dispatcher interface {
	Dispatch(ctx context.Context, event Event)
}

// AsyncDispatcher runs a Handler on a bounded pool of goroutines.
type AsyncDispatcher struct {
	handler Handler
	logger  *zap.Logger
	timeout time.Duration
	name    string

	mu     sync.RWMutex
	closed bool
	queue  chan Event
	wg     sync.WaitGroup
}

func NewAsyncDispatcher(name string, handler Handler, workers, buffer int, timeout time.Duration, logger *zap.Logger) *AsyncDispatcher {
	if workers <= 0 {
		workers = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &AsyncDispatcher{
		handler: handler,
		logger:  logger,
		timeout: timeout,
		name:    name,
		queue:   make(chan Event, buffer),
	}
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.run()
	}
	return d
}

func (d *AsyncDispatcher) run() {
	defer d.wg.Done()
	for event := range d.queue {
		d.handle(event)
	}
}

func (d *AsyncDispatcher) handle(event Event) {
	ctx := context.Background()
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}
	if err := d.handler.Handle(ctx, event); err != nil {
		metrics.EventDispatchErrors.WithLabelValues(d.name).Inc()
		d.logger.Error("system event dispatch failed",
			zap.String("dispatcher", d.name),
			zap.String("key", event.IdempotencyKey),
			zap.String("event_type", event.Type),
			zap.Error(err),
		)
	}
}

// Dispatch enqueues the event. When the queue is full the event is handled
// on the calling goroutine so nothing is dropped.
func (d *AsyncDispatcher) Dispatch(_ context.Context, event Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		metrics.EventDispatchErrors.WithLabelValues(d.name).Inc()
		d.logger.Error("system event dropped", zap.String("key", event.IdempotencyKey), zap.Error(ErrDispatcherClosed))
		return
	}
	select {
	case d.queue <- event:
	default:
		d.logger.Warn("event queue full, handling inline", zap.String("dispatcher", d.name))
		d.handle(event)
	}
}

// Close stops accepting events and waits for queued ones to finish.
func (d *AsyncDispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		MaxAttempts:  5,
		BatchTimeout: 10 * time.Millisecond,
	}
}

// KafkaPublisher writes events to a topic keyed by idempotency key so that
// redeliveries of one event land on the same partition.
type KafkaPublisher struct {
	writer MessageWriter
}

func NewKafkaPublisher(writer MessageWriter) *KafkaPublisher {
	return &KafkaPublisher{writer: writer}
}

func (p *KafkaPublisher) Handle(ctx context.Context, event Event) error {
	if err := event.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.IdempotencyKey),
		Value: payload,
		Time:  time.Now().UTC(),
	})
}
