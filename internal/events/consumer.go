package events

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

func NewKafkaReader(brokers []string, topic, groupID string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
}

// Consumer feeds queued events into a Handler. Offsets are committed only
// after the handler succeeds, so delivery is at least once.
type Consumer struct {
	reader     MessageReader
	handler    Handler
	logger     *zap.Logger
	maxBackoff time.Duration
}

func NewConsumer(reader MessageReader, handler Handler, logger *zap.Logger) *Consumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Consumer{reader: reader, handler: handler, logger: logger, maxBackoff: 30 * time.Second}
}

// Run blocks until ctx is cancelled or the reader fails permanently.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		var event Event
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			c.logger.Error("undecodable event message, skipping",
				zap.Int("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
				zap.Error(err),
			)
		} else if err := c.handleWithRetry(ctx, event); err != nil {
			return nil
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

// handleWithRetry only gives up when ctx is done. Invalid events are
// logged and treated as handled.
func (c *Consumer) handleWithRetry(ctx context.Context, event Event) error {
	backoff := 100 * time.Millisecond
	for {
		err := c.handler.Handle(ctx, event)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrMissingKey) || errors.Is(err, ErrMissingType) || errors.Is(err, ErrInvalidSeverity) {
			c.logger.Error("invalid event, skipping", zap.String("key", event.IdempotencyKey), zap.Error(err))
			return nil
		}
		c.logger.Warn("event handling failed, retrying",
			zap.String("key", event.IdempotencyKey),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		backoff *= 2
		if backoff > c.maxBackoff {
			backoff = c.maxBackoff
		}
	}
}
