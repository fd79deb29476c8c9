package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/weather-data-pipeline/internal/config"
	"github.com/couchcryptid/weather-data-pipeline/internal/domain"
	"github.com/couchcryptid/weather-data-pipeline/internal/observability"
)

// Fetcher reads the next message from the bus.
type Fetcher interface {
	Fetch(ctx context.Context) (domain.Message, error)
}

// RecordSink persists decoded records and owns the consumer counters.
type RecordSink interface {
	Persist(ctx context.Context, rec domain.Record) (domain.Row, error)
	IsTransient(err error) bool
	CountError()
}

// DeadLetterer keeps a copy of a message the consumer is about to give up on.
type DeadLetterer interface {
	DeadLetter(ctx context.Context, msg domain.Message, cause error) error
}

// Consumer moves messages from the bus into the sink. Each partition gets its
// own lane: a goroutine that handles that partition's messages strictly in
// fetch order, committing each offset only after its row has committed.
//
// A lane holds up to BatchSize messages. Further messages for a lane that is
// behind, for example one retrying a failed insert, are parked on it against a
// budget shared by all lanes, so the fetch loop keeps feeding the other
// partitions. Only when the budget is spent does the fetch loop wait.
type Consumer struct {
	fetcher   Fetcher
	sink      RecordSink
	dlq       DeadLetterer
	logger    *slog.Logger
	metrics   *observability.Metrics
	laneDepth int
	parking   chan struct{}

	initialBackoff time.Duration
	maxBackoff     time.Duration

	running atomic.Bool
	lanes   map[int]*lane
	wg      sync.WaitGroup
}

// NewConsumer creates a Consumer. dlq may be nil to disable dead-lettering.
func NewConsumer(f Fetcher, s RecordSink, dlq DeadLetterer, cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics) *Consumer {
	return &Consumer{
		fetcher:        f,
		sink:           s,
		dlq:            dlq,
		logger:         logger,
		metrics:        metrics,
		laneDepth:      max(cfg.BatchSize, 1),
		parking:        make(chan struct{}, max(cfg.ConsumerMaxParked, 1)),
		initialBackoff: initialBackoff,
		maxBackoff:     maxBackoff,
	}
}

// CheckReadiness returns nil while the fetch loop is running.
func (c *Consumer) CheckReadiness(_ context.Context) error {
	if !c.running.Load() {
		return errors.New("consumer is not running")
	}
	return nil
}

// Run fetches until ctx is cancelled, then lets every lane finish the message
// it is working on before returning. Queued messages that were never started
// stay uncommitted and are redelivered to the group.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("consumer started", "lane_depth", c.laneDepth, "max_parked", cap(c.parking))
	c.running.Store(true)
	c.metrics.ConsumerRunning.Set(1)
	defer func() {
		c.running.Store(false)
		c.metrics.ConsumerRunning.Set(0)
		c.metrics.ConsumerParked.Set(0)
	}()

	c.lanes = make(map[int]*lane)
	retry := newBackoff(c.initialBackoff, c.maxBackoff)

	for {
		msg, err := c.fetcher.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			c.logger.Error("fetch failed", "error", err)
			if !retry.wait(ctx) {
				break
			}
			continue
		}
		retry.reset()
		c.metrics.MessagesConsumed.Inc()

		if !c.dispatch(ctx, msg) {
			break
		}
	}

	c.wg.Wait()
	c.logger.Info("consumer stopped", "reason", ctx.Err())
	return nil
}

// dispatch hands msg to its partition's lane, parking it when the lane is
// full. It returns false if ctx ended while waiting for parking budget.
func (c *Consumer) dispatch(ctx context.Context, msg domain.Message) bool {
	l := c.lane(ctx, msg.Partition)
	if l.push(msg, c.laneDepth) {
		return true
	}

	select {
	case c.parking <- struct{}{}:
	default:
		c.logger.Warn("parking budget spent, fetch paused",
			"partition", msg.Partition, "max_parked", cap(c.parking))
		select {
		case c.parking <- struct{}{}:
		case <-ctx.Done():
			return false
		}
	}
	c.metrics.ConsumerParked.Inc()
	if l.park(msg) {
		c.logger.Warn("partition lane backed up, parking messages",
			"partition", msg.Partition, "offset", msg.Offset)
	}
	return true
}

// lane returns the lane for partition, starting its goroutine on first use.
func (c *Consumer) lane(ctx context.Context, partition int) *lane {
	if l, ok := c.lanes[partition]; ok {
		return l
	}
	l := &lane{wake: make(chan struct{}, 1)}
	c.lanes[partition] = l
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.logger.Debug("partition lane started", "partition", partition)
		for {
			msg, ok := c.next(ctx, l)
			if !ok {
				return
			}
			c.handle(ctx, msg)
		}
	}()
	return l
}

// next blocks until l has a message or ctx ends. Taking a message out of the
// parked range returns one unit of parking budget.
func (c *Consumer) next(ctx context.Context, l *lane) (domain.Message, bool) {
	for {
		if ctx.Err() != nil {
			return domain.Message{}, false
		}
		msg, unparked, ok := l.pop()
		if ok {
			if unparked {
				<-c.parking
				c.metrics.ConsumerParked.Dec()
			}
			return msg, true
		}
		select {
		case <-l.wake:
		case <-ctx.Done():
			return domain.Message{}, false
		}
	}
}

// lane is one partition's FIFO. Only the fetch loop appends, only the lane
// goroutine removes.
type lane struct {
	wake chan struct{}

	mu      sync.Mutex
	backlog []domain.Message
	parked  int
}

// push appends msg if the lane holds fewer than depth messages.
func (l *lane) push(msg domain.Message, depth int) bool {
	l.mu.Lock()
	if len(l.backlog) >= depth {
		l.mu.Unlock()
		return false
	}
	l.backlog = append(l.backlog, msg)
	l.mu.Unlock()
	l.signal()
	return true
}

// park appends msg beyond the lane's depth. It reports whether the lane had
// nothing parked before.
func (l *lane) park(msg domain.Message) bool {
	l.mu.Lock()
	l.backlog = append(l.backlog, msg)
	l.parked++
	first := l.parked == 1
	l.mu.Unlock()
	l.signal()
	return first
}

// pop removes the oldest message. unparked is true when a parked slot was
// freed by the removal.
func (l *lane) pop() (msg domain.Message, unparked, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.backlog) == 0 {
		return domain.Message{}, false, false
	}
	msg = l.backlog[0]
	l.backlog[0] = domain.Message{}
	l.backlog = l.backlog[1:]
	if l.parked > 0 {
		l.parked--
		unparked = true
	}
	return msg, unparked, true
}

func (l *lane) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// handle takes one message to a terminal outcome: persisted and committed,
// dropped and committed, or abandoned uncommitted on shutdown.
func (c *Consumer) handle(ctx context.Context, msg domain.Message) {
	decoded := domain.DecodeRecord(msg.Value)
	if !decoded.OK() {
		c.logger.Warn("dropping undecodable message",
			"error", decoded.Err,
			"partition", msg.Partition,
			"offset", msg.Offset,
		)
		c.metrics.DecodeErrors.Inc()
		c.sink.CountError()
		c.deadLetter(ctx, msg, decoded.Err)
		c.commit(ctx, msg)
		return
	}
	rec := decoded.Record

	// The transaction and offset commit run to completion once started; ctx
	// only stops the retry loop between attempts.
	work := context.WithoutCancel(ctx)
	retry := newBackoff(c.initialBackoff, c.maxBackoff)
	counted := false
	for {
		row, err := c.sink.Persist(work, rec)
		if err == nil {
			c.logger.Debug("row persisted",
				"id", row.ID, "city", rec.City, "partition", msg.Partition, "offset", msg.Offset)
			c.commit(work, msg)
			return
		}

		if !counted {
			c.sink.CountError()
			counted = true
		}

		if !c.sink.IsTransient(err) {
			c.logger.Error("dropping unpersistable message",
				"error", err, "city", rec.City, "partition", msg.Partition, "offset", msg.Offset)
			c.deadLetter(work, msg, err)
			c.commit(work, msg)
			return
		}

		c.logger.Warn("persist failed, retrying",
			"error", err, "city", rec.City, "partition", msg.Partition, "offset", msg.Offset,
			"retry_in", retry.current)
		if !retry.wait(ctx) {
			c.logger.Warn("leaving message for redelivery",
				"city", rec.City, "partition", msg.Partition, "offset", msg.Offset)
			return
		}
	}
}

func (c *Consumer) deadLetter(ctx context.Context, msg domain.Message, cause error) {
	if c.dlq == nil {
		return
	}
	if err := c.dlq.DeadLetter(context.WithoutCancel(ctx), msg, cause); err != nil {
		c.logger.Error("dead letter failed", "error", err, "partition", msg.Partition, "offset", msg.Offset)
		return
	}
	c.metrics.DeadLetters.Inc()
}

// commit acknowledges the message offset if a commit function is available.
func (c *Consumer) commit(ctx context.Context, msg domain.Message) {
	if msg.Commit == nil {
		return
	}
	if err := msg.Commit(context.WithoutCancel(ctx)); err != nil {
		c.logger.Warn("commit offset failed", "error", err,
			"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset)
	}
}
