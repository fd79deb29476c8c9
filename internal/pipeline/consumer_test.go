package pipeline_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/couchcryptid/weather-data-pipeline/internal/config"
	"github.com/couchcryptid/weather-data-pipeline/internal/domain"
	"github.com/couchcryptid/weather-data-pipeline/internal/observability"
	"github.com/couchcryptid/weather-data-pipeline/internal/pipeline"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- mocks ---

// eventLog records persist and commit calls in the order they happen.
type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, fmt.Sprintf(format, args...))
}

func (l *eventLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

type mockFetcher struct {
	mu   sync.Mutex
	msgs []domain.Message
	next int
}

func (m *mockFetcher) Fetch(ctx context.Context) (domain.Message, error) {
	m.mu.Lock()
	if m.next < len(m.msgs) {
		msg := m.msgs[m.next]
		m.next++
		m.mu.Unlock()
		return msg, nil
	}
	m.mu.Unlock()
	// block until context cancelled to simulate waiting for messages
	<-ctx.Done()
	return domain.Message{}, ctx.Err()
}

var (
	errTransient = errors.New("connection reset by peer")
	errPermanent = errors.New("value too long for type character varying(50)")
)

type mockSink struct {
	log *eventLog

	mu         sync.Mutex
	failures   map[string][]error // city -> errors for successive attempts, then success
	alwaysFail map[string]error
	attempts   int
	rows       []domain.Row
	processed  int64
	errors     int64
}

func (m *mockSink) Persist(_ context.Context, rec domain.Record) (domain.Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts++
	if err, ok := m.alwaysFail[rec.City]; ok {
		return domain.Row{}, err
	}
	if errs := m.failures[rec.City]; len(errs) > 0 {
		m.failures[rec.City] = errs[1:]
		return domain.Row{}, errs[0]
	}
	row := domain.Row{ID: int64(len(m.rows) + 1), Record: rec}
	m.rows = append(m.rows, row)
	m.processed++
	m.log.add("persist %s %s", rec.City, rec.Timestamp.Format("15:04"))
	return row, nil
}

func (m *mockSink) IsTransient(err error) bool { return errors.Is(err, errTransient) }

func (m *mockSink) CountError() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors++
}

func (m *mockSink) counts() (processed, errs int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.processed, m.errors
}

func (m *mockSink) persisted() []domain.Row {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Row(nil), m.rows...)
}

type mockDLQ struct {
	mu   sync.Mutex
	msgs []domain.Message
}

func (m *mockDLQ) DeadLetter(_ context.Context, msg domain.Message, _ error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.msgs = append(m.msgs, msg)
	return nil
}

func (m *mockDLQ) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.msgs)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestMetrics() *observability.Metrics {
	// Use a fresh registry to avoid "already registered" panics in tests.
	return observability.NewMetricsForTesting()
}

func payload(city string, hour int) []byte {
	rec := domain.Record{
		Timestamp:   time.Date(2024, time.March, 15, hour, 0, 0, 0, time.UTC),
		City:        city,
		Temperature: 20,
		Humidity:    70,
		Rainfall:    0,
		WindSpeed:   5,
		Pressure:    1010,
	}
	b, err := domain.EncodeRecord(rec)
	if err != nil {
		panic(err)
	}
	return b
}

func message(log *eventLog, partition int, offset int64, value []byte) domain.Message {
	return domain.Message{
		Value:     value,
		Topic:     "weather-data",
		Partition: partition,
		Offset:    offset,
		Commit: func(context.Context) error {
			log.add("commit %d/%d", partition, offset)
			return nil
		},
	}
}

func newConsumer(f pipeline.Fetcher, s pipeline.RecordSink, dlq pipeline.DeadLetterer) (*pipeline.Consumer, *observability.Metrics) {
	return newConsumerWith(&config.Config{BatchSize: 50, ConsumerMaxParked: 1000}, f, s, dlq)
}

func newConsumerWith(cfg *config.Config, f pipeline.Fetcher, s pipeline.RecordSink, dlq pipeline.DeadLetterer) (*pipeline.Consumer, *observability.Metrics) {
	m := newTestMetrics()
	c := pipeline.NewConsumer(f, s, dlq, cfg, discardLogger(), m)
	pipeline.SetBackoff(c, time.Millisecond, 5*time.Millisecond)
	return c, m
}

// runUntil runs c until cond holds, then stops it and waits for Run to return.
func runUntil(t *testing.T, c *pipeline.Consumer, cond func() bool) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- c.Run(ctx) }()

	require.Eventually(t, cond, 5*time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("consumer did not stop")
	}
}

// --- tests ---

func TestConsumer_CommitsAfterPersist(t *testing.T) {
	log := &eventLog{}
	f := &mockFetcher{msgs: []domain.Message{message(log, 0, 7, payload("Mbeya", 8))}}
	s := &mockSink{log: log}
	c, m := newConsumer(f, s, nil)

	runUntil(t, c, func() bool { return len(log.snapshot()) == 2 })

	assert.Equal(t, []string{"persist Mbeya 08:00", "commit 0/7"}, log.snapshot())
	processed, errs := s.counts()
	assert.Equal(t, int64(1), processed)
	assert.Zero(t, errs)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MessagesConsumed))
	assert.Zero(t, testutil.ToFloat64(m.ConsumerRunning))
}

func TestConsumer_PoisonMessageIsDroppedAndCommitted(t *testing.T) {
	log := &eventLog{}
	f := &mockFetcher{msgs: []domain.Message{
		message(log, 0, 1, []byte("not-json{{{")),
		message(log, 0, 2, []byte(`{"timestamp":"2024-03-15T08:00:00","city":"Mbeya"}`)),
		message(log, 0, 3, payload("Mbeya", 9)),
	}}
	s := &mockSink{log: log}
	dlq := &mockDLQ{}
	c, m := newConsumer(f, s, dlq)

	runUntil(t, c, func() bool { return len(log.snapshot()) == 4 })

	assert.Equal(t, []string{"commit 0/1", "commit 0/2", "persist Mbeya 09:00", "commit 0/3"}, log.snapshot())
	processed, errs := s.counts()
	assert.Equal(t, int64(1), processed)
	assert.Equal(t, int64(2), errs)
	assert.Equal(t, 2, dlq.count())
	assert.Equal(t, 2.0, testutil.ToFloat64(m.DecodeErrors))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.DeadLetters))
}

func TestConsumer_PreservesOrderWithinPartition(t *testing.T) {
	log := &eventLog{}
	var msgs []domain.Message
	cities := []struct {
		city      string
		partition int
	}{{"Arusha", 0}, {"Dodoma", 1}, {"Moshi", 2}}
	for hour := range 20 {
		for _, c := range cities {
			msgs = append(msgs, message(log, c.partition, int64(hour), payload(c.city, hour)))
		}
	}
	f := &mockFetcher{msgs: msgs}
	s := &mockSink{log: log}
	c, _ := newConsumer(f, s, nil)

	runUntil(t, c, func() bool { p, _ := s.counts(); return p == int64(len(msgs)) })

	lastID := map[string]int64{}
	lastHour := map[string]int{}
	for _, row := range s.persisted() {
		hour := row.Timestamp.Hour()
		if prev, ok := lastHour[row.City]; ok {
			assert.Greater(t, hour, prev, "rows for %s persisted out of order", row.City)
			assert.Greater(t, row.ID, lastID[row.City])
		}
		lastHour[row.City] = hour
		lastID[row.City] = row.ID
	}
	assert.Len(t, lastHour, 3)
}

func TestConsumer_TransientFailureWithholdsCommitUntilPersisted(t *testing.T) {
	log := &eventLog{}
	f := &mockFetcher{msgs: []domain.Message{
		message(log, 0, 1, payload("Arusha", 8)),
		message(log, 0, 2, payload("Arusha", 9)),
	}}
	s := &mockSink{log: log, failures: map[string][]error{
		"Arusha": {errTransient, errTransient},
	}}
	c, _ := newConsumer(f, s, nil)

	runUntil(t, c, func() bool { return len(log.snapshot()) == 4 })

	assert.Equal(t, []string{
		"persist Arusha 08:00", "commit 0/1",
		"persist Arusha 09:00", "commit 0/2",
	}, log.snapshot())
	processed, errs := s.counts()
	assert.Equal(t, int64(2), processed)
	assert.Equal(t, int64(1), errs, "a retried message counts as one error")
}

func TestConsumer_PermanentFailureIsDeadLetteredAndCommitted(t *testing.T) {
	log := &eventLog{}
	f := &mockFetcher{msgs: []domain.Message{
		message(log, 0, 1, payload("Tanga", 8)),
		message(log, 0, 2, payload("Mbeya", 8)),
	}}
	s := &mockSink{log: log, failures: map[string][]error{"Tanga": {errPermanent}}}
	dlq := &mockDLQ{}
	c, _ := newConsumer(f, s, dlq)

	runUntil(t, c, func() bool { return len(log.snapshot()) == 3 })

	assert.Equal(t, []string{"commit 0/1", "persist Mbeya 08:00", "commit 0/2"}, log.snapshot())
	assert.Equal(t, 1, dlq.count())
	_, errs := s.counts()
	assert.Equal(t, int64(1), errs)
}

func TestConsumer_ShutdownLeavesFailingMessageUncommitted(t *testing.T) {
	log := &eventLog{}
	f := &mockFetcher{msgs: []domain.Message{message(log, 0, 1, payload("Arusha", 8))}}
	s := &mockSink{log: log, alwaysFail: map[string]error{"Arusha": errTransient}}
	c, _ := newConsumer(f, s, nil)

	runUntil(t, c, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.attempts >= 2
	})

	assert.Empty(t, log.snapshot(), "offset must not be committed for an unpersisted message")
	processed, errs := s.counts()
	assert.Zero(t, processed)
	assert.Equal(t, int64(1), errs)
}

func TestConsumer_ContextCancellation(t *testing.T) {
	f := &mockFetcher{}
	s := &mockSink{log: &eventLog{}}
	c, _ := newConsumer(f, s, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, c.Run(ctx))
	assert.Error(t, c.CheckReadiness(context.Background()))
}

type flakyFetcher struct {
	mockFetcher
	failMu sync.Mutex
	fails  int
}

func (f *flakyFetcher) Fetch(ctx context.Context) (domain.Message, error) {
	f.failMu.Lock()
	if f.fails > 0 {
		f.fails--
		f.failMu.Unlock()
		return domain.Message{}, errors.New("broker not available")
	}
	f.failMu.Unlock()
	return f.mockFetcher.Fetch(ctx)
}

func TestConsumer_FetchErrorsBackOffAndRecover(t *testing.T) {
	log := &eventLog{}
	f := &flakyFetcher{fails: 3}
	f.msgs = []domain.Message{message(log, 4, 0, payload("Iringa", 8))}
	s := &mockSink{log: log}
	c, _ := newConsumer(f, s, nil)

	runUntil(t, c, func() bool { return len(log.snapshot()) == 2 })

	assert.Equal(t, []string{"persist Iringa 08:00", "commit 4/0"}, log.snapshot())
}

func TestConsumer_ReadyWhileRunning(t *testing.T) {
	c, _ := newConsumer(&mockFetcher{}, &mockSink{log: &eventLog{}}, nil)
	runUntil(t, c, func() bool { return c.CheckReadiness(context.Background()) == nil })
}

func TestConsumer_StuckPartitionDoesNotBlockOthers(t *testing.T) {
	log := &eventLog{}
	f := &mockFetcher{msgs: []domain.Message{
		message(log, 0, 1, payload("Arusha", 8)),
		message(log, 0, 2, payload("Arusha", 9)),
		message(log, 0, 3, payload("Arusha", 10)),
		message(log, 1, 1, payload("Mbeya", 8)),
	}}
	s := &mockSink{log: log, alwaysFail: map[string]error{"Arusha": errTransient}}
	c, m := newConsumerWith(&config.Config{BatchSize: 1, ConsumerMaxParked: 10}, f, s, nil)

	runUntil(t, c, func() bool {
		return len(s.persisted()) == 1 && testutil.ToFloat64(m.ConsumerParked) == 1
	})

	rows := s.persisted()
	assert.Equal(t, "Mbeya", rows[0].City)
	assert.Equal(t, []string{"persist Mbeya 08:00", "commit 1/1"}, log.snapshot())
}

func TestConsumer_ParkedMessagesKeepPartitionOrder(t *testing.T) {
	log := &eventLog{}
	var msgs []domain.Message
	for hour := 1; hour <= 6; hour++ {
		msgs = append(msgs, message(log, 0, int64(hour), payload("Arusha", hour)))
	}
	f := &mockFetcher{msgs: msgs}
	s := &mockSink{log: log, failures: map[string][]error{
		"Arusha": {errTransient, errTransient, errTransient},
	}}
	c, _ := newConsumerWith(&config.Config{BatchSize: 1, ConsumerMaxParked: 100}, f, s, nil)

	runUntil(t, c, func() bool { return len(log.snapshot()) == 12 })

	var want []string
	for hour := 1; hour <= 6; hour++ {
		want = append(want, fmt.Sprintf("persist Arusha %02d:00", hour), fmt.Sprintf("commit 0/%d", hour))
	}
	assert.Equal(t, want, log.snapshot())
}

func TestConsumer_SpentParkingBudgetPausesFetch(t *testing.T) {
	log := &eventLog{}
	f := &mockFetcher{msgs: []domain.Message{
		message(log, 0, 1, payload("Arusha", 8)),
		message(log, 0, 2, payload("Arusha", 9)),
		message(log, 0, 3, payload("Arusha", 10)),
		message(log, 0, 4, payload("Arusha", 11)),
		message(log, 1, 1, payload("Mbeya", 8)),
	}}
	s := &mockSink{log: log, alwaysFail: map[string]error{"Arusha": errTransient}}
	c, _ := newConsumerWith(&config.Config{BatchSize: 1, ConsumerMaxParked: 1}, f, s, nil)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- c.Run(ctx) }()

	assert.Never(t, func() bool { return len(s.persisted()) > 0 }, 200*time.Millisecond, 10*time.Millisecond)
	cancel()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("consumer did not stop while waiting for parking budget")
	}
	assert.Empty(t, log.snapshot())
}

func TestMonitor_CountsMessages(t *testing.T) {
	f := &mockFetcher{msgs: []domain.Message{
		{Value: payload("Mbeya", 8)},
		{Value: []byte("garbage")},
	}}
	m := newTestMetrics()
	mon := pipeline.NewMonitor(f, discardLogger(), m)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- mon.Run(ctx) }()

	require.Eventually(t, func() bool { return testutil.ToFloat64(m.MonitorMessages) == 2 }, 5*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-errCh)
}
