package cdc

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/openbook/matching-engine/internal/models"
)

const defaultBackoff = 2 * time.Second

// ConsumerConfig holds the Kafka wiring for the order-event topic.
type ConsumerConfig struct {
	Brokers []string
	Topic   string
	GroupID string
	// Backoff is the fixed delay before retrying after a consume error.
	Backoff time.Duration
}

// Consumer reads order CDC events from Kafka and submits inserts to the
// matching scheduler. Consume errors are retried with a fixed backoff;
// malformed messages are logged and skipped so one poison message cannot
// wedge the partition.
type Consumer struct {
	reader  *kafka.Reader
	submit  func(*models.Order)
	backoff time.Duration
	log     *zap.Logger
}

func NewConsumer(cfg ConsumerConfig, submit func(*models.Order), log *zap.Logger) *Consumer {
	if cfg.Backoff <= 0 {
		cfg.Backoff = defaultBackoff
	}
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  cfg.Brokers,
			Topic:    cfg.Topic,
			GroupID:  cfg.GroupID,
			MinBytes: 1,
			MaxBytes: 10e6,
		}),
		submit:  submit,
		backoff: cfg.Backoff,
		log:     log,
	}
}

// Run consumes until the context ends.
func (c *Consumer) Run(ctx context.Context) error {
	cfg := c.reader.Config()
	c.log.Info("cdc consumer started",
		zap.Strings("brokers", cfg.Brokers),
		zap.String("topic", cfg.Topic),
		zap.String("group_id", cfg.GroupID))
	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.log.Error("kafka read failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.backoff):
			}
			continue
		}

		order, op, err := DecodeOrderEvent(msg.Value)
		if err != nil {
			c.log.Warn("skipping undecodable event",
				zap.String("topic", msg.Topic),
				zap.Int64("offset", msg.Offset),
				zap.Error(err))
			continue
		}
		if op != OpCreate {
			c.log.Debug("dropping non-insert event",
				zap.String("op", op),
				zap.Int64("offset", msg.Offset))
			continue
		}
		c.submit(order)
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
