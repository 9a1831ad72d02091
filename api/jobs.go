package api

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/docsage/docsage/pkg/domain"
)

// Job states.
const (
	JobQueued    = "queued"
	JobRunning   = "running"
	JobCompleted = "completed"
	JobFailed    = "failed"
)

// Job is one asynchronous ingest run.
type Job struct {
	ID         string               `json:"job_id"`
	Status     string               `json:"status"`
	Spec       domain.SourceSpec    `json:"spec"`
	Report     *domain.IngestReport `json:"report,omitempty"`
	Error      string               `json:"error,omitempty"`
	CreatedAt  time.Time            `json:"created_at"`
	FinishedAt *time.Time           `json:"finished_at,omitempty"`
}

// Ingester runs one ingest pass; satisfied by the ingestion orchestrator.
type Ingester interface {
	Ingest(ctx context.Context, spec domain.SourceSpec) (*domain.IngestReport, error)
}

// JobManager runs ingest jobs off-request and keeps their state for polling.
// Jobs are tied to the manager's base context, so shutdown cancels them.
type JobManager struct {
	ingester Ingester
	baseCtx  context.Context
	log      zerolog.Logger

	mu   sync.RWMutex
	jobs map[string]*Job
	wg   sync.WaitGroup
}

// NewJobManager creates a job manager whose jobs are cancelled when baseCtx
// is.
func NewJobManager(baseCtx context.Context, ingester Ingester, log zerolog.Logger) *JobManager {
	return &JobManager{
		ingester: ingester,
		baseCtx:  baseCtx,
		log:      log.With().Str("component", "ingest-jobs").Logger(),
		jobs:     make(map[string]*Job),
	}
}

// Start enqueues a job and returns its id immediately.
func (m *JobManager) Start(spec domain.SourceSpec) string {
	job := &Job{
		ID:        uuid.NewString(),
		Status:    JobQueued,
		Spec:      spec,
		CreatedAt: time.Now().UTC(),
	}
	m.mu.Lock()
	m.jobs[job.ID] = job
	m.mu.Unlock()

	m.wg.Add(1)
	go m.runJob(job)
	return job.ID
}

// Get returns a snapshot of the job, or nil when unknown.
func (m *JobManager) Get(id string) *Job {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil
	}
	clone := *job
	return &clone
}

// Wait blocks until all running jobs finish, used on shutdown.
func (m *JobManager) Wait() { m.wg.Wait() }

func (m *JobManager) runJob(job *Job) {
	defer m.wg.Done()

	m.setStatus(job.ID, JobRunning, nil, "")
	m.log.Info().Str("job_id", job.ID).Str("source_type", string(job.Spec.SourceType)).Msg("ingest job started")

	report, err := m.ingester.Ingest(m.baseCtx, job.Spec)
	if err != nil {
		m.log.Error().Err(err).Str("job_id", job.ID).Msg("ingest job failed")
		m.setStatus(job.ID, JobFailed, report, err.Error())
		return
	}
	m.log.Info().Str("job_id", job.ID).Str("status", report.Status).Msg("ingest job finished")
	m.setStatus(job.ID, JobCompleted, report, "")
}

func (m *JobManager) setStatus(id, status string, report *domain.IngestReport, errMsg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return
	}
	job.Status = status
	job.Report = report
	job.Error = errMsg
	if status == JobCompleted || status == JobFailed {
		now := time.Now().UTC()
		job.FinishedAt = &now
	}
}
