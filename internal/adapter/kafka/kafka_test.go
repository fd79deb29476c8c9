package kafka

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/couchcryptid/weather-data-pipeline/internal/config"
	"github.com/couchcryptid/weather-data-pipeline/internal/domain"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestMapMessage(t *testing.T) {
	now := time.Now()
	msg := kafkago.Message{
		Key:       []byte("Mbeya"),
		Value:     []byte(`{"city":"Mbeya"}`),
		Topic:     "weather-data",
		Partition: 2,
		Offset:    42,
		Time:      now,
		Headers: []kafkago.Header{
			{Key: "source", Value: []byte("csv")},
		},
	}

	m := mapMessage(msg)

	assert.Equal(t, []byte("Mbeya"), m.Key)
	assert.JSONEq(t, `{"city":"Mbeya"}`, string(m.Value))
	assert.Equal(t, "weather-data", m.Topic)
	assert.Equal(t, 2, m.Partition)
	assert.Equal(t, int64(42), m.Offset)
	assert.Equal(t, now, m.Timestamp)
	assert.Equal(t, "csv", m.Headers["source"])
	assert.Nil(t, m.Commit)
}

func TestRecordToMessage(t *testing.T) {
	rec := domain.Record{
		Timestamp:   time.Date(2024, time.March, 15, 8, 0, 0, 0, time.UTC),
		City:        "Mbeya",
		Temperature: 18.5,
		Humidity:    75.0,
		Rainfall:    0.2,
		WindSpeed:   12.5,
		Pressure:    1015.3,
	}

	msg, err := recordToMessage(rec)
	require.NoError(t, err)

	assert.Equal(t, []byte("Mbeya"), msg.Key)
	assert.Equal(t,
		`{"timestamp":"2024-03-15T08:00:00","city":"Mbeya","temperature":18.5,"humidity":75.0,"rainfall":0.20,"windSpeed":12.5,"pressure":1015.3}`,
		string(msg.Value))
	assert.Empty(t, msg.Headers)
	assert.Empty(t, msg.Topic, "topic is set on the writer")
}

func TestRecordToMessage_KeyKeepsSpelling(t *testing.T) {
	rec := domain.Record{
		Timestamp: time.Date(2024, time.March, 15, 8, 0, 0, 0, time.UTC),
		City:      "ARUSHA",
		Humidity:  70,
		Pressure:  1010,
	}

	msg, err := recordToMessage(rec)
	require.NoError(t, err)
	assert.Equal(t, []byte("ARUSHA"), msg.Key)
}

func TestDeadLetterMessage(t *testing.T) {
	src := domain.Message{
		Key:       []byte("Arusha"),
		Value:     []byte("not-json{{{"),
		Topic:     "weather-data",
		Partition: 3,
		Offset:    1017,
	}

	msg := deadLetterMessage(src, errors.New("decode payload: invalid character"))

	assert.Equal(t, src.Key, msg.Key)
	assert.Equal(t, src.Value, msg.Value)
	headers := map[string]string{}
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Equal(t, map[string]string{
		HeaderError:           "decode payload: invalid character",
		HeaderSourceTopic:     "weather-data",
		HeaderSourcePartition: "3",
		HeaderSourceOffset:    "1017",
	}, headers)
}

func TestDeadLetterMessage_NilCause(t *testing.T) {
	msg := deadLetterMessage(domain.Message{}, nil)
	require.NotEmpty(t, msg.Headers)
	assert.Equal(t, HeaderError, msg.Headers[0].Key)
	assert.Equal(t, []byte("unknown"), msg.Headers[0].Value)
}

func testWriter(maxInFlight int) *Writer {
	cfg := &config.Config{
		KafkaBrokers:     []string{"localhost:9092"},
		KafkaTopic:       "weather-data",
		KafkaMaxInFlight: maxInFlight,
	}
	return NewWriter(cfg, discardLogger())
}

func TestWriterComplete_ReleasesSlotsAndCallsBack(t *testing.T) {
	w := testWriter(2)
	w.slots <- struct{}{}
	w.slots <- struct{}{}

	var got []error
	cb := func(err error) { got = append(got, err) }
	sendErr := errors.New("broker unavailable")

	w.complete([]kafkago.Message{{WriterData: cb}, {WriterData: cb}}, sendErr)

	assert.Equal(t, 0, w.InFlight())
	assert.Equal(t, []error{sendErr, sendErr}, got)
}

func TestWriterComplete_NilCallback(t *testing.T) {
	w := testWriter(1)
	w.slots <- struct{}{}

	var onDone func(error)
	w.complete([]kafkago.Message{{WriterData: onDone}}, nil)

	assert.Equal(t, 0, w.InFlight())
}

func TestWriterPublish_BlocksWhenSlotsExhausted(t *testing.T) {
	w := testWriter(1)
	w.slots <- struct{}{}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := w.Publish(ctx, domain.NewTestRecord(), nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, w.InFlight())
}

func TestWriterPublish_AfterClose(t *testing.T) {
	w := testWriter(1)
	w.slots <- struct{}{}
	require.NoError(t, w.Close())

	err := w.Publish(context.Background(), domain.NewTestRecord(), nil)
	assert.ErrorIs(t, err, ErrWriterClosed)
}

func TestEnsureTopic_NoBrokers(t *testing.T) {
	err := EnsureTopic(context.Background(), nil, "weather-data", 6)
	assert.Error(t, err)
}
