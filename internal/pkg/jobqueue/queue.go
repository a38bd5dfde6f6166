package jobqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"

	"github.com/ManuelReschke/Redirector/internal/pkg/apperror"
	"github.com/ManuelReschke/Redirector/internal/pkg/mapping"
	"github.com/ManuelReschke/Redirector/internal/pkg/metrics"
)

const (
	// Redis key prefix, followed by the queue name
	KeyPrefix = "jobqueue:"

	maxTxRetries = 10
	dequeueWait  = time.Second
	finishWait   = 10 * time.Second
)

// errSkipped means the job was not in the state the transition expects.
var errSkipped = errors.New("job state changed")

// Handler runs a job and returns the committed mapping set
type Handler func(ctx context.Context, job *Job) ([]mapping.Pair, error)

// Option configures a Queue
type Option func(*Queue)

// WithClock replaces time.Now, used by tests
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

func WithMetrics(rec metrics.Recorder) Option {
	return func(q *Queue) {
		if rec != nil {
			q.metrics = rec
		}
	}
}

// WithFinishHook runs fn once a job reached a terminal state
func WithFinishHook(fn func(ctx context.Context, job *Job)) Option {
	return func(q *Queue) { q.onFinish = fn }
}

// Queue is the job registry and worker pool of one named queue. Job records
// are JSON strings with a TTL; ids come from a per-queue INCR sequence.
type Queue struct {
	client   *redis.Client
	cfg      Config
	handler  Handler
	onFinish func(ctx context.Context, job *Job)
	metrics  metrics.Recorder
	now      func() time.Time

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// NewQueue creates a queue that runs handler for every dequeued job
func NewQueue(client *redis.Client, cfg Config, handler Handler, opts ...Option) *Queue {
	if cfg.Workers <= 0 {
		cfg.Workers = 3
	}
	q := &Queue{
		client:  client,
		cfg:     cfg,
		handler: handler,
		metrics: metrics.Nop{},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Name returns the queue name jobs are addressed by
func (q *Queue) Name() string {
	return q.cfg.Queue
}

func (q *Queue) key(suffix string) string {
	return KeyPrefix + q.cfg.Queue + ":" + suffix
}

func (q *Queue) jobKey(id int64) string {
	return q.key("job:" + strconv.FormatInt(id, 10))
}

func (q *Queue) pendingKey() string    { return q.key("pending") }
func (q *Queue) processingKey() string { return q.key("processing") }
func (q *Queue) statsKey() string      { return q.key("stats") }
func (q *Queue) seqKey() string        { return q.key("seq") }

// Start starts the workers and the stuck-job sweeper
func (q *Queue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.running {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	q.cancel = cancel
	q.running = true
	log.Infof("[JobQueue] Starting %d workers on queue %s", q.cfg.Workers, q.cfg.Queue)

	for i := 0; i < q.cfg.Workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, i)
	}

	q.wg.Add(1)
	go q.stuckSweeper(ctx)
}

// Stop stops the workers and waits for running jobs to finish
func (q *Queue) Stop() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.running {
		return
	}

	log.Info("[JobQueue] Stopping workers...")
	q.cancel()
	q.running = false
	q.wg.Wait()
	log.Info("[JobQueue] All workers stopped")
}

// IsRunning returns whether the workers are started
func (q *Queue) IsRunning() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.running
}

func (q *Queue) worker(ctx context.Context, id int) {
	defer q.wg.Done()
	log.Infof("[JobQueue] Worker %d started", id)

	for {
		select {
		case <-ctx.Done():
			log.Infof("[JobQueue] Worker %d stopping", id)
			return
		default:
		}

		if _, err := q.processNext(ctx, dequeueWait); err != nil {
			if ctx.Err() != nil {
				continue
			}
			log.Errorf("[JobQueue] Worker %d: error dequeuing job: %v", id, err)
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
		}
	}
}

// Enqueue assigns the next id and stores the job as queued
func (q *Queue) Enqueue(ctx context.Context, job *Job) (*Job, error) {
	id, err := q.client.Incr(ctx, q.seqKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to allocate job id: %w", err)
	}

	now := q.now()
	job.Queue = q.cfg.Queue
	job.ID = id
	job.Status = JobStatusQueued
	job.CreatedAt = now
	job.UpdatedAt = now

	jobData, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job: %w", err)
	}

	pipe := q.client.TxPipeline()
	pipe.Set(ctx, q.jobKey(id), jobData, q.cfg.Retention)
	pipe.LPush(ctx, q.pendingKey(), id)
	pipe.HIncrBy(ctx, q.statsKey(), string(JobStatusQueued), 1)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to enqueue job: %w", err)
	}

	q.metrics.RecordJobSubmitted(q.cfg.Queue, string(job.Source.Kind))
	log.Infof("[JobQueue] Enqueued job %s/%d (redirect %s, source %s)", q.cfg.Queue, id, job.RedirectID, job.Source.Kind)
	return job, nil
}

// Get returns the stored job; redis.Nil when unknown or expired.
func (q *Queue) Get(ctx context.Context, id int64) (*Job, error) {
	data, err := q.client.Get(ctx, q.jobKey(id)).Bytes()
	if err != nil {
		return nil, err
	}
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job %d: %w", id, err)
	}
	return &job, nil
}

// transition applies mutate to the stored job under WATCH. mutate returns
// false to leave the job untouched, which yields errSkipped. extra adds
// commands to the same MULTI block.
func (q *Queue) transition(ctx context.Context, id int64, mutate func(*Job) bool, extra func(redis.Pipeliner, *Job)) (*Job, error) {
	key := q.jobKey(id)
	var out *Job

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			return err
		}
		var job Job
		if err := json.Unmarshal(data, &job); err != nil {
			return fmt.Errorf("failed to unmarshal job %d: %w", id, err)
		}
		out = &job
		if !mutate(&job) {
			return errSkipped
		}
		encoded, err := json.Marshal(&job)
		if err != nil {
			return fmt.Errorf("failed to marshal job %d: %w", id, err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, encoded, q.cfg.Retention)
			if extra != nil {
				extra(pipe, &job)
			}
			return nil
		})
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := q.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return out, err
	}
	return nil, fmt.Errorf("job %d: too many concurrent updates", id)
}

// terminalOps counts the outcome and releases the processing slot together
// with the terminal write.
func (q *Queue) terminalOps(ctx context.Context) func(redis.Pipeliner, *Job) {
	return func(pipe redis.Pipeliner, job *Job) {
		pipe.HIncrBy(ctx, q.statsKey(), string(job.Status), 1)
		pipe.LRem(ctx, q.processingKey(), 0, strconv.FormatInt(job.ID, 10))
	}
}

// processNext moves one job from pending to processing and runs it. It
// returns false when nothing was queued within wait.
func (q *Queue) processNext(ctx context.Context, wait time.Duration) (bool, error) {
	result, err := q.client.BRPopLPush(ctx, q.pendingKey(), q.processingKey(), wait).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	id, err := strconv.ParseInt(result, 10, 64)
	if err != nil {
		q.client.LRem(ctx, q.processingKey(), 0, result)
		return true, fmt.Errorf("invalid job id %q in queue %s", result, q.cfg.Queue)
	}
	q.process(id)
	return true, nil
}

func (q *Queue) process(id int64) {
	ctx, cancel := context.WithTimeout(context.Background(), q.cfg.JobTimeout)
	defer cancel()

	job, err := q.start(ctx, id)
	switch {
	case errors.Is(err, redis.Nil):
		log.Warnf("[JobQueue] Job %s/%d data not found, dropping", q.cfg.Queue, id)
		q.removeFromProcessing(ctx, id)
		return
	case errors.Is(err, errSkipped):
		log.Infof("[JobQueue] Job %s/%d is already %s, dropping", q.cfg.Queue, id, job.Status)
		q.removeFromProcessing(ctx, id)
		return
	case err != nil:
		// left in processing for the sweeper
		log.Errorf("[JobQueue] Failed to start job %s/%d: %v", q.cfg.Queue, id, err)
		return
	}

	log.Infof("[JobQueue] Processing job %s/%d (redirect %s)", q.cfg.Queue, id, job.RedirectID)
	result, runErr := q.handler(ctx, job)
	q.finish(id, result, runErr)
}

// start moves a queued job to running.
func (q *Queue) start(ctx context.Context, id int64) (*Job, error) {
	return q.transition(ctx, id, func(j *Job) bool {
		if j.Status != JobStatusQueued {
			return false
		}
		j.MarkAsRunning(q.now())
		return true
	}, nil)
}

// finish records the outcome of a running job. A job the sweeper already
// failed keeps that state.
func (q *Queue) finish(id int64, result []mapping.Pair, runErr error) *Job {
	ctx, cancel := context.WithTimeout(context.Background(), finishWait)
	defer cancel()

	now := q.now()
	job, err := q.transition(ctx, id, func(j *Job) bool {
		if j.Status != JobStatusRunning {
			return false
		}
		if runErr != nil {
			j.MarkAsFailed(now, jobErrorOf(runErr))
		} else {
			j.MarkAsSucceeded(now, result)
		}
		return true
	}, q.terminalOps(ctx))

	switch {
	case errors.Is(err, errSkipped):
		log.Warnf("[JobQueue] Job %s/%d finished after it was marked %s", q.cfg.Queue, id, job.Status)
		q.removeFromProcessing(ctx, id)
		return job
	case err != nil:
		log.Errorf("[JobQueue] Failed to record outcome of job %s/%d: %v", q.cfg.Queue, id, err)
		return nil
	}

	if job.Status == JobStatusFailed {
		log.Warnf("[JobQueue] Job %s/%d failed: %s", q.cfg.Queue, id, job.Error.Message)
	} else {
		log.Infof("[JobQueue] Job %s/%d succeeded with %d mappings", q.cfg.Queue, id, len(job.Result))
	}
	q.finished(ctx, job)
	return job
}

func (q *Queue) finished(ctx context.Context, job *Job) {
	q.metrics.RecordJobFinished(q.cfg.Queue, string(job.Status))
	if q.onFinish != nil {
		q.onFinish(ctx, job)
	}
}

func jobErrorOf(err error) *JobError {
	return &JobError{
		Kind:    string(apperror.KindOf(err)),
		Message: apperror.Message(err),
		Line:    mapping.LineOf(err),
	}
}

// stuckSweeper periodically scans the processing list for jobs a crashed
// worker left behind
func (q *Queue) stuckSweeper(ctx context.Context) {
	defer q.wg.Done()
	log.Infof("[JobQueue] Stuck sweeper running (stuckAfter=%s, interval=%s)", q.cfg.StuckAfter, q.cfg.SweepInterval)
	ticker := time.NewTicker(q.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("[JobQueue] Stuck sweeper stopping")
			return
		case <-ticker.C:
			q.sweepOnce(ctx)
		}
	}
}

// sweepOnce fails running jobs older than StuckAfter with kind Interrupted.
// They are never re-run. Jobs still queued in the processing list were
// never started and go back to pending.
func (q *Queue) sweepOnce(ctx context.Context) int {
	ids, err := q.client.LRange(ctx, q.processingKey(), 0, -1).Result()
	if err != nil {
		log.Errorf("[JobQueue] Sweeper LRange error: %v", err)
		return 0
	}

	swept := 0
	now := q.now()
	for _, raw := range ids {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			_ = q.client.LRem(ctx, q.processingKey(), 0, raw).Err()
			continue
		}
		job, err := q.Get(ctx, id)
		if err != nil {
			if !errors.Is(err, redis.Nil) {
				log.Errorf("[JobQueue] Sweeper Get error for %d: %v", id, err)
				continue
			}
			q.removeFromProcessing(ctx, id)
			continue
		}
		if job.IsTerminal() {
			q.removeFromProcessing(ctx, id)
			continue
		}
		if now.Sub(job.runningSince()) <= q.cfg.StuckAfter {
			continue
		}

		if job.Status == JobStatusQueued {
			log.Warnf("[JobQueue] Requeueing job %s/%d that was never started", q.cfg.Queue, id)
			pipe := q.client.TxPipeline()
			pipe.LRem(ctx, q.processingKey(), 0, raw)
			pipe.RPush(ctx, q.pendingKey(), raw)
			if _, err := pipe.Exec(ctx); err != nil {
				log.Errorf("[JobQueue] Failed to requeue job %d: %v", id, err)
				continue
			}
			swept++
			continue
		}

		failed, err := q.transition(ctx, id, func(j *Job) bool {
			if j.Status != JobStatusRunning {
				return false
			}
			j.MarkAsFailed(now, &JobError{
				Kind:    ErrorKindInterrupted,
				Message: fmt.Sprintf("job did not finish within %s", q.cfg.StuckAfter),
			})
			return true
		}, q.terminalOps(ctx))
		if errors.Is(err, errSkipped) {
			continue
		}
		if err != nil {
			log.Errorf("[JobQueue] Failed to interrupt job %d: %v", id, err)
			continue
		}
		log.Warnf("[JobQueue] Interrupted stuck job %s/%d, running for %s", q.cfg.Queue, id, now.Sub(job.runningSince()))
		q.finished(ctx, failed)
		swept++
	}
	return swept
}

// removeFromProcessing drops one entry for id; another worker may still hold
// a second one.
func (q *Queue) removeFromProcessing(ctx context.Context, id int64) {
	if err := q.client.LRem(ctx, q.processingKey(), 1, strconv.FormatInt(id, 10)).Err(); err != nil {
		log.Errorf("[JobQueue] Failed to remove job %d from processing queue: %v", id, err)
	}
}

// GetJobStats returns the per-status counters of this queue
func (q *Queue) GetJobStats(ctx context.Context) (map[JobStatus]int64, error) {
	stats, err := q.client.HGetAll(ctx, q.statsKey()).Result()
	if err != nil {
		return nil, err
	}

	result := make(map[JobStatus]int64, len(stats))
	for status, count := range stats {
		n, err := strconv.ParseInt(count, 10, 64)
		if err != nil {
			continue
		}
		result[JobStatus(status)] = n
	}
	return result, nil
}

// GetQueueSize returns the number of jobs waiting for a worker
func (q *Queue) GetQueueSize(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.pendingKey()).Result()
}

// GetProcessingSize returns the number of jobs held by workers
func (q *Queue) GetProcessingSize(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.processingKey()).Result()
}
