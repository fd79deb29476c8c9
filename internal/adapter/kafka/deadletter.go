package kafka

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/couchcryptid/weather-data-pipeline/internal/config"
	"github.com/couchcryptid/weather-data-pipeline/internal/domain"
	kafkago "github.com/segmentio/kafka-go"
)

// Header keys set on dead-lettered messages.
const (
	HeaderError           = "error"
	HeaderSourceTopic     = "source_topic"
	HeaderSourcePartition = "source_partition"
	HeaderSourceOffset    = "source_offset"
)

// DeadLetterWriter copies messages the storage consumer had to give up on to a
// separate topic, preserving key and value.
type DeadLetterWriter struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewDeadLetterWriter creates a synchronous producer for cfg.KafkaDLQTopic.
func NewDeadLetterWriter(cfg *config.Config, logger *slog.Logger) *DeadLetterWriter {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaDLQTopic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &DeadLetterWriter{writer: w, logger: logger}
}

// DeadLetter publishes msg with the failure reason and its source position.
func (d *DeadLetterWriter) DeadLetter(ctx context.Context, msg domain.Message, cause error) error {
	if err := d.writer.WriteMessages(ctx, deadLetterMessage(msg, cause)); err != nil {
		return fmt.Errorf("write dead letter for partition %d offset %d: %w", msg.Partition, msg.Offset, err)
	}
	d.logger.Debug("dead-lettered message", "partition", msg.Partition, "offset", msg.Offset, "error", cause)
	return nil
}

// Close closes the dead-letter writer.
func (d *DeadLetterWriter) Close() error {
	return d.writer.Close()
}

func deadLetterMessage(msg domain.Message, cause error) kafkago.Message {
	reason := "unknown"
	if cause != nil {
		reason = cause.Error()
	}
	return kafkago.Message{
		Key:   msg.Key,
		Value: msg.Value,
		Headers: []kafkago.Header{
			{Key: HeaderError, Value: []byte(reason)},
			{Key: HeaderSourceTopic, Value: []byte(msg.Topic)},
			{Key: HeaderSourcePartition, Value: []byte(strconv.Itoa(msg.Partition))},
			{Key: HeaderSourceOffset, Value: []byte(strconv.FormatInt(msg.Offset, 10))},
		},
	}
}
