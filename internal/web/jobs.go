package web

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"immich-deduper/internal/indexer"
)

// JobStatus represents the status of an async indexing job.
type JobStatus string

const (
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// ErrJobRunning is returned when an index job is requested while another
// one is still active. The index is a single-writer resource.
var ErrJobRunning = errors.New("an indexing job is already running")

// IndexJob tracks one asynchronous indexing run.
type IndexJob struct {
	id        string
	status    JobStatus
	progress  indexer.ProgressInfo
	result    *indexer.Result
	err       string
	startedAt time.Time
	doneAt    *time.Time

	cancel context.CancelFunc
	mu     sync.RWMutex
}

// JobView is a serializable snapshot of a job's state.
type JobView struct {
	ID          string               `json:"id"`
	Status      JobStatus            `json:"status"`
	Progress    indexer.ProgressInfo `json:"progress"`
	Result      *indexer.Result      `json:"result,omitempty"`
	Error       string               `json:"error,omitempty"`
	StartedAt   time.Time            `json:"startedAt"`
	CompletedAt *time.Time           `json:"completedAt,omitempty"`
}

func (j *IndexJob) setProgress(info indexer.ProgressInfo) {
	j.mu.Lock()
	j.progress = info
	j.mu.Unlock()
}

func (j *IndexJob) finish(result *indexer.Result, err error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	now := time.Now()
	j.doneAt = &now
	j.result = result

	switch {
	case errors.Is(err, context.Canceled):
		j.status = JobStatusCancelled
	case err != nil:
		j.status = JobStatusFailed
		j.err = err.Error()
	default:
		j.status = JobStatusCompleted
	}
}

// Snapshot returns a copy safe to serialize while the job is running.
func (j *IndexJob) Snapshot() JobView {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return JobView{
		ID:          j.id,
		Status:      j.status,
		Progress:    j.progress,
		Result:      j.result,
		Error:       j.err,
		StartedAt:   j.startedAt,
		CompletedAt: j.doneAt,
	}
}

// Cancel requests cancellation. The job stops before its next asset.
func (j *IndexJob) Cancel() {
	j.cancel()
}

// JobManager tracks indexing jobs and enforces that at most one runs at a
// time.
type JobManager struct {
	mu   sync.Mutex
	jobs map[string]*IndexJob
}

func NewJobManager() *JobManager {
	return &JobManager{jobs: make(map[string]*IndexJob)}
}

// Start launches run in a goroutine under a fresh job. Returns
// ErrJobRunning if another job is still active.
func (m *JobManager) Start(run func(ctx context.Context, job *IndexJob)) (*IndexJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, j := range m.jobs {
		if j.Snapshot().Status == JobStatusRunning {
			return nil, ErrJobRunning
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	job := &IndexJob{
		id:        uuid.New().String(),
		status:    JobStatusRunning,
		startedAt: time.Now(),
		cancel:    cancel,
	}
	m.jobs[job.id] = job

	go func() {
		defer cancel()
		run(ctx, job)
	}()

	return job, nil
}

// Get returns a job by ID, or nil.
func (m *JobManager) Get(id string) *IndexJob {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.jobs[id]
}
