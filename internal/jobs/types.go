package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/dvloznov/finance-sync/internal/remote"
)

// JobType represents the type of job to be executed.
type JobType string

const (
	// JobTypeBulkWrite represents one physical write to the remote store.
	JobTypeBulkWrite JobType = "bulk_write"
)

// JobStatus represents the current status of a job.
type JobStatus string

const (
	// JobStatusPending indicates the job is waiting to be processed.
	JobStatusPending JobStatus = "pending"
	// JobStatusRunning indicates the job is currently being processed.
	JobStatusRunning JobStatus = "running"
	// JobStatusCompleted indicates the job completed successfully.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates the job failed.
	JobStatusFailed JobStatus = "failed"
	// JobStatusRetrying indicates the job failed and is being retried.
	JobStatusRetrying JobStatus = "retrying"
)

// ErrTransient marks handler errors that are retried without using up MaxRetries,
// such as writes attempted while offline.
var ErrTransient = errors.New("transient failure")

// ErrJobNotFound is returned by a JobStore for unknown job ids.
var ErrJobNotFound = errors.New("job not found")

// BulkWriteJob carries at most remote.MaxWritesInBatch operations to the remote store.
type BulkWriteJob struct {
	// JobID is the unique identifier for this job.
	JobID string `json:"job_id"`

	// Label tells where the write came from (e.g. "recurrence", "import").
	Label string `json:"label,omitempty"`

	// Ops are applied together in one physical write.
	Ops []remote.WriteOp `json:"ops"`

	// Status is the current status of the job.
	Status JobStatus `json:"status"`

	// CreatedAt is when the job was created.
	CreatedAt time.Time `json:"created_at"`

	// StartedAt is when the job started processing.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// CompletedAt is when the job completed (success or failure).
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Error contains error details if the job failed.
	Error string `json:"error,omitempty"`

	// Attempts counts every execution, including transient failures.
	Attempts int `json:"attempts"`

	// RetryCount is the number of times this job has been retried.
	RetryCount int `json:"retry_count"`

	// MaxRetries is the maximum number of retries allowed.
	MaxRetries int `json:"max_retries"`
}

// Job is a generic interface for all job types.
type Job interface {
	// GetID returns the unique job identifier.
	GetID() string

	// GetType returns the job type.
	GetType() JobType

	// GetStatus returns the current job status.
	GetStatus() JobStatus
}

// GetID implements the Job interface.
func (j *BulkWriteJob) GetID() string {
	return j.JobID
}

// GetType implements the Job interface.
func (j *BulkWriteJob) GetType() JobType {
	return JobTypeBulkWrite
}

// GetStatus implements the Job interface.
func (j *BulkWriteJob) GetStatus() JobStatus {
	return j.Status
}

// Publisher defines the interface for publishing jobs to a queue.
type Publisher interface {
	// PublishBulkWrite publishes a bulk write job.
	PublishBulkWrite(ctx context.Context, job *BulkWriteJob) error

	// Close closes the publisher and releases resources.
	Close() error
}

// Consumer defines the interface for consuming jobs from a queue.
type Consumer interface {
	// Start begins consuming jobs from the queue.
	// The handler function is called for each job received.
	Start(ctx context.Context, handler JobHandler) error

	// Stop stops consuming jobs and waits for in-flight jobs to complete.
	Stop(ctx context.Context) error
}

// JobHandler is a function that processes a job.
// It should return an error if the job failed and should be retried.
type JobHandler func(ctx context.Context, job Job) error

// JobStore defines the interface for storing and retrieving job status.
type JobStore interface {
	// SaveJob saves or updates a job's state.
	SaveJob(ctx context.Context, job *BulkWriteJob) error

	// GetJob retrieves a job by ID.
	GetJob(ctx context.Context, jobID string) (*BulkWriteJob, error)

	// ListJobs retrieves jobs with optional filtering.
	ListJobs(ctx context.Context, filter JobFilter) ([]*BulkWriteJob, error)

	// UpdateJobStatus updates the status of a job.
	UpdateJobStatus(ctx context.Context, jobID string, status JobStatus, errorMsg string) error
}

// JobFilter defines filtering criteria for listing jobs.
type JobFilter struct {
	// Label filters jobs by origin.
	Label string

	// Status filters jobs by status.
	Status JobStatus

	// Limit limits the number of results.
	Limit int

	// Offset for pagination.
	Offset int
}
