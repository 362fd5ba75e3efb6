package async

import (
	"database/sql"
	"encoding/json"
)

// JobScanArgs holds the nullable columns scanned from a jobs row
type JobScanArgs struct {
	ExecutionTime sql.NullFloat64
	Cost          sql.NullFloat64
	Success       bool
	Result        sql.NullString
	Payload       string
	StartedAt     sql.NullTime
	CompletedAt   sql.NullTime
}

// GetJobScanArgs returns a JobScanArgs struct with all variables ready for scanning
func GetJobScanArgs() *JobScanArgs {
	return &JobScanArgs{}
}

// GetJobScanTargets returns scan destinations in the order of
// StandardJobSelectColumns
func GetJobScanTargets(job *Job, args *JobScanArgs) []interface{} {
	return []interface{}{
		&job.ID,
		&job.Function,
		&args.Payload,
		&job.Runtime,
		&job.Filename,
		&job.Source,
		&job.Status,
		&args.ExecutionTime,
		&job.Meta.Retries,
		&args.Success,
		&args.Cost,
		&job.Meta.WorkerTag,
		&args.Result,
		&job.Meta.Error,
		&job.CreatedAt,
		&args.StartedAt,
		&args.CompletedAt,
		&job.UpdatedAt,
	}
}

// ProcessJobScanArgs copies the scanned nullable columns into job
func ProcessJobScanArgs(job *Job, args *JobScanArgs) {
	job.Payload = json.RawMessage(args.Payload)
	job.Meta.Success = args.Success

	if args.ExecutionTime.Valid {
		v := args.ExecutionTime.Float64
		job.Meta.ExecutionTime = &v
	}
	if args.Cost.Valid {
		v := args.Cost.Float64
		job.Meta.Cost = &v
	}
	if args.Result.Valid {
		job.Meta.Result = json.RawMessage(args.Result.String)
	}
	if args.StartedAt.Valid {
		t := args.StartedAt.Time
		job.StartedAt = &t
	}
	if args.CompletedAt.Valid {
		t := args.CompletedAt.Time
		job.CompletedAt = &t
	}
}

// rowScanner is satisfied by *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanJob scans a single job from a row
func scanJob(row rowScanner) (*Job, error) {
	var job Job
	args := GetJobScanArgs()
	if err := row.Scan(GetJobScanTargets(&job, args)...); err != nil {
		return nil, err
	}
	ProcessJobScanArgs(&job, args)
	return &job, nil
}

// StandardJobSelectColumns returns the standard column list for job SELECT queries
func StandardJobSelectColumns() string {
	return `id, function, payload, runtime, filename, source, status,
		execution_time, retries, success, cost, worker_tag, result, error,
		created_at, started_at, completed_at, updated_at`
}
