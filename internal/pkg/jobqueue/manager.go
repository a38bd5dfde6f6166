// Package jobqueue imports redirect mapping tables in the background. Jobs
// are addressed by (queue, id) and polled by clients until they reach
// succeeded or failed.
package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"

	"github.com/ManuelReschke/Redirector/app/models"
	"github.com/ManuelReschke/Redirector/app/repository"
	"github.com/ManuelReschke/Redirector/internal/pkg/apperror"
	"github.com/ManuelReschke/Redirector/internal/pkg/mapping"
	"github.com/ManuelReschke/Redirector/internal/pkg/storage"
)

// Manager accepts mapping uploads, runs them on the queue and answers
// status queries.
type Manager struct {
	queue     *Queue
	stager    storage.Stager
	redirects repository.RedirectRepository
}

// NewManager wires the queue workers to the stager and the redirect store
func NewManager(client *redis.Client, cfg *Config, stager storage.Stager, redirects repository.RedirectRepository, opts ...Option) *Manager {
	m := &Manager{
		stager:    stager,
		redirects: redirects,
	}
	opts = append(opts, WithFinishHook(m.cleanup))
	m.queue = NewQueue(client, *cfg, m.process, opts...)
	return m
}

// Start starts the background workers
func (m *Manager) Start() {
	m.queue.Start()
}

// Stop stops the workers after their current job
func (m *Manager) Stop() {
	m.queue.Stop()
	log.Info("[JobQueue Manager] Stopped successfully")
}

func (m *Manager) Queue() *Queue {
	return m.queue
}

// SubmitFromFile stages the file and enqueues an import. A file that cannot
// be read fails with JobSubmissionError and leaves no job behind.
func (m *Manager) SubmitFromFile(ctx context.Context, applicationID, redirectID, filePath string) (*Job, error) {
	const op = "jobs.submit_file"

	if _, err := m.redirects.Get(ctx, applicationID, redirectID); err != nil {
		return nil, err
	}

	f, err := os.Open(filePath)
	if err != nil {
		return nil, apperror.JobSubmission(op, fmt.Errorf("failed to open mapping file: %w", err))
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, apperror.JobSubmission(op, fmt.Errorf("failed to stat mapping file: %w", err))
	}
	if info.IsDir() {
		return nil, apperror.JobSubmission(op, fmt.Errorf("%s is a directory", filepath.Base(filePath)))
	}

	name := filepath.Base(filePath)
	key, err := m.stager.Stage(ctx, f, name)
	if err != nil {
		return nil, apperror.JobSubmission(op, err)
	}

	job, err := m.queue.Enqueue(ctx, &Job{
		ApplicationID: applicationID,
		RedirectID:    redirectID,
		Source:        Source{Kind: SourceFile, Key: key, Name: name},
	})
	if err != nil {
		if rmErr := m.stager.Remove(ctx, key); rmErr != nil {
			log.Warnf("[JobQueue Manager] Failed to remove staged file %s: %v", key, rmErr)
		}
		return nil, apperror.JobSubmission(op, err)
	}
	return job, nil
}

// SubmitFromPayload enqueues an import of an inline document. The document
// is validated by the worker like a file.
func (m *Manager) SubmitFromPayload(ctx context.Context, applicationID, redirectID string, doc mapping.Document) (*Job, error) {
	const op = "jobs.submit_payload"

	if _, err := m.redirects.Get(ctx, applicationID, redirectID); err != nil {
		return nil, err
	}

	job, err := m.queue.Enqueue(ctx, &Job{
		ApplicationID: applicationID,
		RedirectID:    redirectID,
		Source:        Source{Kind: SourcePayload, Payload: &doc},
	})
	if err != nil {
		return nil, apperror.JobSubmission(op, err)
	}
	return job, nil
}

// GetJob returns the job if it exists and belongs to the redirect
func (m *Manager) GetJob(ctx context.Context, queue string, jobID int64, applicationID, redirectID string) (*Job, error) {
	const op = "jobs.get"

	if queue != m.queue.Name() || jobID <= 0 {
		return nil, apperror.NotFound(op, "Job does not exist.")
	}
	job, err := m.queue.Get(ctx, jobID)
	if errors.Is(err, redis.Nil) {
		return nil, apperror.NotFound(op, "Job does not exist.")
	}
	if err != nil {
		return nil, apperror.StoreRead(op, err)
	}
	if !job.OwnedBy(applicationID, redirectID) {
		return nil, apperror.NotFound(op, "Job does not exist.")
	}
	return job, nil
}

// GetCurrentMapping returns the committed mapping table of the redirect
func (m *Manager) GetCurrentMapping(ctx context.Context, applicationID, redirectID string) ([]mapping.Pair, error) {
	if _, err := m.redirects.Get(ctx, applicationID, redirectID); err != nil {
		return nil, err
	}
	rows, err := m.redirects.ListMappings(ctx, redirectID)
	if err != nil {
		return nil, err
	}
	pairs := make([]mapping.Pair, len(rows))
	for i, row := range rows {
		pairs[i] = mapping.Pair{From: row.FromHost, To: row.ToHost}
	}
	return pairs, nil
}

// Stats returns the per-status counters of the queue
func (m *Manager) Stats(ctx context.Context) (map[JobStatus]int64, error) {
	return m.queue.GetJobStats(ctx)
}

// process loads and validates the whole table before touching the store,
// so a failed job never changes the committed mapping.
func (m *Manager) process(ctx context.Context, job *Job) ([]mapping.Pair, error) {
	if _, err := m.redirects.Get(ctx, job.ApplicationID, job.RedirectID); err != nil {
		return nil, err
	}

	pairs, err := m.load(ctx, job)
	if err != nil {
		return nil, err
	}

	rows := make([]models.RedirectMapping, len(pairs))
	for i, p := range pairs {
		rows[i] = models.RedirectMapping{FromHost: p.From, ToHost: p.To}
	}
	if err := m.redirects.ReplaceMappings(ctx, job.RedirectID, rows); err != nil {
		return nil, err
	}
	return pairs, nil
}

func (m *Manager) load(ctx context.Context, job *Job) ([]mapping.Pair, error) {
	const op = "jobs.load_source"

	switch job.Source.Kind {
	case SourcePayload:
		if job.Source.Payload == nil {
			return nil, apperror.Validation(op, "job has no payload")
		}
		return job.Source.Payload.Pairs()
	case SourceFile:
		rc, err := m.stager.Open(ctx, job.Source.Key)
		if errors.Is(err, storage.ErrNotFound) {
			return nil, apperror.NotFound(op, "Uploaded mapping file no longer exists.")
		}
		if err != nil {
			return nil, apperror.StoreRead(op, err)
		}
		defer rc.Close()
		return mapping.Parse(rc, job.Source.Key)
	default:
		return nil, apperror.Validation(op, "unknown source kind %q", job.Source.Kind)
	}
}

// cleanup removes the staged upload of a finished job
func (m *Manager) cleanup(ctx context.Context, job *Job) {
	if job.Source.Kind != SourceFile || job.Source.Key == "" {
		return
	}
	if err := m.stager.Remove(ctx, job.Source.Key); err != nil {
		log.Warnf("[JobQueue Manager] Failed to remove staged file %s of job %s/%d: %v", job.Source.Key, job.Queue, job.ID, err)
	}
}
