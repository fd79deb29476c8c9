package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/weather-data-pipeline/internal/config"
	"github.com/couchcryptid/weather-data-pipeline/internal/csvfile"
	"github.com/couchcryptid/weather-data-pipeline/internal/domain"
	"github.com/couchcryptid/weather-data-pipeline/internal/observability"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// maxTrackedJobs bounds how many finished jobs are kept in memory.
const maxTrackedJobs = 100

// ErrShuttingDown is returned by Start once Shutdown has been called.
var ErrShuttingDown = errors.New("ingestor is shutting down")

// Publisher hands records to the bus. onDone is called once per accepted
// record with the broker's verdict.
type Publisher interface {
	Publish(ctx context.Context, rec domain.Record, onDone func(error)) error
}

// JobStore shares job snapshots beyond this process.
type JobStore interface {
	Save(ctx context.Context, status domain.JobStatus) error
	Load(ctx context.Context, id string) (domain.JobStatus, error)
}

// Ingestor launches ingest jobs that stream a CSV file onto the bus.
type Ingestor struct {
	publisher     Publisher
	store         JobStore
	clock         clockwork.Clock
	logger        *slog.Logger
	metrics       *observability.Metrics
	progressEvery int64

	base    context.Context
	stopAll context.CancelFunc
	running sync.WaitGroup
	closed  atomic.Bool

	mu   sync.Mutex
	jobs map[string]*Job
}

// NewIngestor creates an Ingestor. store may be nil, in which case job status
// is only available from this process.
func NewIngestor(publisher Publisher, store JobStore, cfg *config.Config, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *Ingestor {
	base, cancel := context.WithCancel(context.Background())
	return &Ingestor{
		publisher:     publisher,
		store:         store,
		clock:         clock,
		logger:        logger,
		metrics:       metrics,
		progressEvery: int64(cfg.ProgressInterval),
		base:          base,
		stopAll:       cancel,
		jobs:          make(map[string]*Job),
	}
}

// Start opens path and begins streaming it in the background. Failing to
// open the file is reported here; everything after that is reported through
// the returned Job. ctx only bounds the synchronous part of the call.
func (i *Ingestor) Start(ctx context.Context, path string) (*Job, error) {
	if i.closed.Load() {
		return nil, ErrShuttingDown
	}

	reader, err := csvfile.Open(path, i.logger)
	if err != nil {
		return nil, err
	}

	jobCtx, cancel := context.WithCancel(i.base)
	job := &Job{
		id:        uuid.NewString(),
		path:      reader.Path(),
		startedAt: i.clock.Now().UTC(),
		state:     domain.JobRunning,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	i.track(job)
	i.save(ctx, job)

	i.logger.Info("ingest started", "job_id", job.id, "path", job.path)
	i.running.Add(1)
	go func() {
		defer i.running.Done()
		defer cancel()
		i.run(jobCtx, job, reader)
	}()
	return job, nil
}

// Status returns the snapshot of job id, from memory or the shared store.
func (i *Ingestor) Status(ctx context.Context, id string) (domain.JobStatus, error) {
	i.mu.Lock()
	job, ok := i.jobs[id]
	i.mu.Unlock()
	if ok {
		return job.Status(), nil
	}
	if i.store == nil {
		return domain.JobStatus{}, domain.ErrJobNotFound
	}
	return i.store.Load(ctx, id)
}

// PublishTestRecord publishes the fixed sample record and waits for the
// broker to acknowledge it.
func (i *Ingestor) PublishTestRecord(ctx context.Context) (domain.Record, error) {
	rec := domain.NewTestRecord()
	result := make(chan error, 1)
	if err := i.publisher.Publish(ctx, rec, func(err error) { result <- err }); err != nil {
		return domain.Record{}, err
	}
	select {
	case err := <-result:
		if err != nil {
			return domain.Record{}, fmt.Errorf("publish test record: %w", err)
		}
		i.metrics.MessagesPublished.Inc()
		i.logger.Info("test record published", "city", rec.City, "timestamp", rec.Timestamp.Format(domain.WireTimeLayout))
		return rec, nil
	case <-ctx.Done():
		return domain.Record{}, ctx.Err()
	}
}

// CheckReadiness fails once the ingestor has begun shutting down.
func (i *Ingestor) CheckReadiness(_ context.Context) error {
	if i.closed.Load() {
		return ErrShuttingDown
	}
	return nil
}

// Shutdown stops every running job and waits for them to drain, or for ctx.
func (i *Ingestor) Shutdown(ctx context.Context) error {
	i.closed.Store(true)
	i.stopAll()

	done := make(chan struct{})
	go func() {
		i.running.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for ingest jobs: %w", ctx.Err())
	}
}

func (i *Ingestor) track(job *Job) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if len(i.jobs) >= maxTrackedJobs {
		for id, j := range i.jobs {
			if j.Status().State.Terminal() {
				delete(i.jobs, id)
			}
		}
	}
	i.jobs[job.id] = job
}

func (i *Ingestor) save(ctx context.Context, job *Job) {
	if i.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := i.store.Save(ctx, job.Status()); err != nil {
		i.logger.Warn("save job status failed", "job_id", job.id, "error", err)
	}
}

// run drives one job: the reader feeds the publisher on this goroutine, then
// the job waits for every accepted record's delivery verdict.
func (i *Ingestor) run(ctx context.Context, job *Job, reader *csvfile.Reader) {
	defer close(job.done)
	i.metrics.IngestJobsRunning.Inc()
	defer i.metrics.IngestJobsRunning.Dec()

	var (
		inflight    sync.WaitGroup
		publishErr  error
		interrupted bool
	)
	for rec := range reader.Records(ctx) {
		job.read.Add(1)
		job.skipped.Store(reader.Skipped())
		i.metrics.RecordsRead.Inc()

		inflight.Add(1)
		err := i.publisher.Publish(ctx, rec, func(err error) {
			defer inflight.Done()
			i.delivered(job, rec, err)
		})
		if err != nil {
			inflight.Done()
			if ctx.Err() != nil {
				interrupted = true
			} else {
				publishErr = err
			}
			break
		}

		if n := job.accepted.Add(1); n%i.progressEvery == 0 {
			i.logger.Info("ingest checkpoint", "job_id", job.id, "records", n)
			i.save(ctx, job)
		}
	}
	job.skipped.Store(reader.Skipped())
	i.metrics.RowsSkipped.Add(float64(reader.Skipped()))

	job.setState(domain.JobDraining, nil, nil)
	i.save(ctx, job)
	inflight.Wait()

	readErr := reader.Err()
	var (
		final domain.JobState
		cause error
	)
	switch {
	case publishErr != nil:
		final, cause = domain.JobFailed, publishErr
	case interrupted || errors.Is(readErr, context.Canceled):
		final, cause = domain.JobCancelled, context.Canceled
	case readErr != nil:
		final, cause = domain.JobFailed, readErr
	default:
		final = domain.JobCompleted
	}
	finished := i.clock.Now().UTC()
	job.setState(final, &finished, cause)
	i.save(ctx, job)

	st := job.Status()
	attrs := []any{
		"job_id", st.ID,
		"state", st.State,
		"records", st.Read,
		"published", st.Published,
		"failed", st.Failed,
		"skipped", st.Skipped,
		"duration", finished.Sub(st.StartedAt),
	}
	switch final {
	case domain.JobFailed:
		i.logger.Error("ingest finished", append(attrs, "error", cause)...)
	case domain.JobCancelled:
		i.logger.Warn("ingest finished", attrs...)
	default:
		i.logger.Info("ingest finished", attrs...)
	}
}

// delivered runs on the producer's completion path.
func (i *Ingestor) delivered(job *Job, rec domain.Record, err error) {
	if err != nil {
		job.failed.Add(1)
		i.metrics.PublishErrors.Inc()
		i.logger.Warn("delivery failed", "job_id", job.id, "city", rec.City, "error", err)
		return
	}
	job.published.Add(1)
	i.metrics.MessagesPublished.Inc()
}

// Job is the handle of one ingest run.
type Job struct {
	id        string
	path      string
	startedAt time.Time
	cancel    context.CancelFunc
	done      chan struct{}

	read      atomic.Int64
	accepted  atomic.Int64
	skipped   atomic.Int64
	published atomic.Int64
	failed    atomic.Int64

	mu         sync.Mutex
	state      domain.JobState
	finishedAt *time.Time
	err        error
}

// ID is the job's unique identifier.
func (j *Job) ID() string { return j.id }

// Done is closed once the job has reached a terminal state.
func (j *Job) Done() <-chan struct{} { return j.done }

// Cancel stops reading; records already accepted are still drained.
func (j *Job) Cancel() { j.cancel() }

// Wait blocks until the job finishes or ctx ends, and returns the latest snapshot.
func (j *Job) Wait(ctx context.Context) (domain.JobStatus, error) {
	select {
	case <-j.done:
		return j.Status(), nil
	case <-ctx.Done():
		return j.Status(), ctx.Err()
	}
}

// Status returns a snapshot of the job's progress.
func (j *Job) Status() domain.JobStatus {
	j.mu.Lock()
	defer j.mu.Unlock()
	st := domain.JobStatus{
		ID:         j.id,
		Path:       j.path,
		State:      j.state,
		Read:       j.read.Load(),
		Skipped:    j.skipped.Load(),
		Published:  j.published.Load(),
		Failed:     j.failed.Load(),
		StartedAt:  j.startedAt,
		FinishedAt: j.finishedAt,
	}
	if j.err != nil {
		st.Error = j.err.Error()
	}
	return st
}

func (j *Job) setState(state domain.JobState, finishedAt *time.Time, err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.state = state
	j.finishedAt = finishedAt
	j.err = err
}
