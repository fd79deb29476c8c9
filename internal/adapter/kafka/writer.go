package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/weather-data-pipeline/internal/config"
	"github.com/couchcryptid/weather-data-pipeline/internal/domain"
	kafkago "github.com/segmentio/kafka-go"
)

// ErrWriterClosed is returned by Publish after Close.
var ErrWriterClosed = errors.New("kafka writer closed")

// Writer publishes weather records to the configured topic, keyed by city.
// Publishing is asynchronous: each record carries its own completion callback
// and the number of unacknowledged records is bounded by a fixed slot pool.
type Writer struct {
	writer *kafkago.Writer
	slots  chan struct{}
	done   chan struct{}
	logger *slog.Logger
}

// NewWriter creates an async, key-hashed producer for cfg.KafkaTopic.
func NewWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	w := &Writer{
		slots:  make(chan struct{}, cfg.KafkaMaxInFlight),
		done:   make(chan struct{}),
		logger: logger,
	}
	w.writer = &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaTopic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
		Async:        true,
		BatchTimeout: 10 * time.Millisecond,
		Completion:   w.complete,
	}
	return w
}

// Publish hands rec to the producer and returns once it is buffered. It blocks
// while every in-flight slot is taken. onDone, when non-nil, is called exactly
// once with the broker's verdict; it is not called if Publish returns an error.
func (w *Writer) Publish(ctx context.Context, rec domain.Record, onDone func(error)) error {
	msg, err := recordToMessage(rec)
	if err != nil {
		return err
	}
	msg.WriterData = onDone

	select {
	case w.slots <- struct{}{}:
	case <-w.done:
		return ErrWriterClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := w.writer.WriteMessages(ctx, msg); err != nil {
		<-w.slots
		return fmt.Errorf("publish record for %s: %w", rec.City, err)
	}
	return nil
}

// InFlight is the number of records buffered but not yet acknowledged.
func (w *Writer) InFlight() int {
	return len(w.slots)
}

// Close flushes buffered records, waits for their completions and releases the
// connection pool.
func (w *Writer) Close() error {
	close(w.done)
	return w.writer.Close()
}

// complete runs on the writer's delivery goroutine for every acknowledged or
// failed batch.
func (w *Writer) complete(messages []kafkago.Message, err error) {
	if err != nil {
		w.logger.Error("publish failed", "error", err, "messages", len(messages))
	}
	for i := range messages {
		<-w.slots
		if onDone, ok := messages[i].WriterData.(func(error)); ok && onDone != nil {
			onDone(err)
		}
	}
}

// recordToMessage encodes a record as a message keyed by its city as written.
// Ordering holds per spelling: "Arusha" and "ARUSHA" may land on different
// partitions.
func recordToMessage(rec domain.Record) (kafkago.Message, error) {
	value, err := domain.EncodeRecord(rec)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize weather record: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(rec.City),
		Value: value,
	}, nil
}
