package kafka

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/weather-data-pipeline/internal/config"
	"github.com/couchcryptid/weather-data-pipeline/internal/domain"
	kafkago "github.com/segmentio/kafka-go"
)

// Reader consumes the weather topic as a member of a consumer group.
type Reader struct {
	reader    *kafkago.Reader
	manualAck bool
	logger    *slog.Logger
	groupID   string
	topic     string
}

// NewReader creates a consumer in the storage group. Offsets are committed
// only through the Commit func of each fetched message.
func NewReader(cfg *config.Config, logger *slog.Logger) *Reader {
	return newReader(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaGroupID, 0, true, logger)
}

// NewMonitorReader creates a consumer in the monitoring group. It commits its
// own offsets periodically and never touches the storage group's offsets.
func NewMonitorReader(cfg *config.Config, logger *slog.Logger) *Reader {
	return newReader(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaMonitorGroupID, time.Second, false, logger)
}

func newReader(brokers []string, topic, groupID string, commitInterval time.Duration, manualAck bool, logger *slog.Logger) *Reader {
	r := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: commitInterval,
		StartOffset:    kafkago.FirstOffset,
	})
	return &Reader{
		reader:    r,
		manualAck: manualAck,
		logger:    logger,
		groupID:   groupID,
		topic:     topic,
	}
}

// Fetch blocks until the next message is available. For the storage group the
// returned message carries a Commit func; for the monitoring group the offset
// is committed in the background and Commit is nil.
func (r *Reader) Fetch(ctx context.Context) (domain.Message, error) {
	if !r.manualAck {
		msg, err := r.reader.ReadMessage(ctx)
		if err != nil {
			return domain.Message{}, fmt.Errorf("read message: %w", err)
		}
		return mapMessage(msg), nil
	}

	msg, err := r.reader.FetchMessage(ctx)
	if err != nil {
		return domain.Message{}, fmt.Errorf("fetch message: %w", err)
	}
	m := mapMessage(msg)
	m.Commit = func(ctx context.Context) error {
		if err := r.reader.CommitMessages(ctx, msg); err != nil {
			return fmt.Errorf("commit offset %d on partition %d: %w", msg.Offset, msg.Partition, err)
		}
		return nil
	}
	return m, nil
}

// Close leaves the consumer group.
func (r *Reader) Close() error {
	r.logger.Info("closing kafka reader", "group_id", r.groupID, "topic", r.topic)
	return r.reader.Close()
}

// mapMessage converts a kafka-go message into a domain Message.
func mapMessage(msg kafkago.Message) domain.Message {
	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	return domain.Message{
		Key:       msg.Key,
		Value:     msg.Value,
		Headers:   headers,
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Offset:    msg.Offset,
		Timestamp: msg.Time,
	}
}
