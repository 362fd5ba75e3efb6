// Package async provides the job record store and work queue for fnpulse.
//
// A single SQLite table holds both: a job row is the durable record, and rows
// in status queued form the FIFO. Workers in separate processes claim rows
// with a guarded update, so no job is delivered twice.
package async

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/teranos/fnpulse/errors"
	"github.com/teranos/fnpulse/internal/util"
	"github.com/teranos/fnpulse/pulse/sandbox"
)

// JobStatus represents the current state of a job
type JobStatus string

const (
	JobStatusQueued   JobStatus = "queued"
	JobStatusRunning  JobStatus = "running"
	JobStatusFinished JobStatus = "finished"
	JobStatusFailed   JobStatus = "failed"
)

// AllStatuses lists every status in lifecycle order
var AllStatuses = []JobStatus{JobStatusQueued, JobStatusRunning, JobStatusFinished, JobStatusFailed}

// IsValidStatus returns true if the status string is a valid JobStatus
func IsValidStatus(s string) bool {
	switch JobStatus(s) {
	case JobStatusQueued, JobStatusRunning, JobStatusFinished, JobStatusFailed:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further transition is allowed
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusFinished || s == JobStatusFailed
}

// Default job sources
const (
	SourceAPI    = "api"
	SourceCLI    = "cli"
	SourceUpload = "upload"
)

// Meta is the execution metadata recorded with a job.
// ExecutionTime and Cost are set together with the terminal status.
type Meta struct {
	ExecutionTime *float64        `json:"execution_time"`
	Retries       int             `json:"retries"`
	Success       bool            `json:"success"`
	Cost          *float64        `json:"cost"`
	WorkerTag     string          `json:"worker_tag,omitempty"`
	Result        json.RawMessage `json:"result,omitempty"` // finished only
	Error         string          `json:"error,omitempty"`  // failed only
}

// Job is one function invocation moving through
// queued → running → finished | failed.
type Job struct {
	ID          string          `json:"id"`
	Function    string          `json:"function"`
	Payload     json.RawMessage `json:"payload"`
	Runtime     sandbox.Runtime `json:"runtime"`
	Filename    string          `json:"filename"`
	Source      string          `json:"source"` // "api", "cli", "upload", "trigger:<id>"
	Status      JobStatus       `json:"status"`
	Meta        Meta            `json:"meta"`
	CreatedAt   time.Time       `json:"created_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// JobSpec is what a client submits
type JobSpec struct {
	Function string
	Payload  json.RawMessage
	Runtime  sandbox.Runtime
	Filename string
	Source   string
}

// NewJob validates spec and builds a queued job with a fresh id.
// Missing runtime, filename, payload and source get their defaults.
func NewJob(spec JobSpec) (*Job, error) {
	if spec.Function == "" {
		return nil, errors.NewInvalidRequestError("function name required")
	}

	runtime, err := sandbox.ParseRuntime(string(spec.Runtime))
	if err != nil {
		return nil, err
	}

	payload := spec.Payload
	if len(payload) == 0 || string(payload) == "null" {
		payload = json.RawMessage(`{}`)
	}
	var obj map[string]interface{}
	if err := json.Unmarshal(payload, &obj); err != nil {
		return nil, errors.NewInvalidRequestError("payload must be a JSON object")
	}

	filename := spec.Filename
	if filename == "" {
		filename = sandbox.DefaultFilename(spec.Function, runtime)
	}

	source := spec.Source
	if source == "" {
		source = SourceAPI
	}

	now := time.Now().UTC()
	return &Job{
		ID:        uuid.NewString(),
		Function:  spec.Function,
		Payload:   payload,
		Runtime:   runtime,
		Filename:  filename,
		Source:    source,
		Status:    JobStatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Invocation returns what the executor needs to run this job
func (j *Job) Invocation() sandbox.Invocation {
	return sandbox.Invocation{
		JobID:    j.ID,
		Function: j.Function,
		Payload:  j.Payload,
		Runtime:  j.Runtime,
		Filename: j.Filename,
	}
}

// Finish marks the job finished with the executor's outcome
func (j *Job) Finish(outcome *sandbox.Outcome) {
	now := time.Now().UTC()
	j.Status = JobStatusFinished
	j.Meta.Success = true
	j.Meta.Result = outcome.Result
	j.Meta.Error = ""
	j.recordOutcome(outcome)
	j.CompletedAt = &now
	j.UpdatedAt = now
}

// Fail marks the job failed. The outcome still carries timing and cost.
func (j *Job) Fail(outcome *sandbox.Outcome, err error) {
	now := time.Now().UTC()
	j.Status = JobStatusFailed
	j.Meta.Success = false
	j.Meta.Result = nil
	j.Meta.Error = err.Error()
	j.recordOutcome(outcome)
	j.CompletedAt = &now
	j.UpdatedAt = now
}

func (j *Job) recordOutcome(outcome *sandbox.Outcome) {
	if outcome == nil {
		outcome = &sandbox.Outcome{Cost: sandbox.Cost(0)}
	}
	j.Meta.ExecutionTime = util.Ptr(outcome.ExecutionTime)
	j.Meta.Cost = util.Ptr(outcome.Cost)
}

// StatusView is the client-facing status of a job
type StatusView struct {
	JobID         string          `json:"job_id"`
	Status        JobStatus       `json:"status"`
	ExecutionTime *float64        `json:"execution_time"`
	Retries       int             `json:"retries"`
	Cost          *float64        `json:"cost"`
	Result        json.RawMessage `json:"result,omitempty"`
	Error         string          `json:"error,omitempty"`
}

// StatusView projects the job onto the status surface. Result appears only
// for finished jobs and error only for failed ones.
func (j *Job) StatusView() StatusView {
	v := StatusView{
		JobID:         j.ID,
		Status:        j.Status,
		ExecutionTime: j.Meta.ExecutionTime,
		Retries:       j.Meta.Retries,
		Cost:          j.Meta.Cost,
	}
	switch j.Status {
	case JobStatusFinished:
		v.Result = j.Meta.Result
	case JobStatusFailed:
		v.Error = j.Meta.Error
	}
	return v
}
