package server

import (
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/teranos/fnpulse/errors"
	"github.com/teranos/fnpulse/logger"
	"github.com/teranos/fnpulse/pulse/async"
	"github.com/teranos/fnpulse/pulse/sandbox"
)

const (
	// DefaultMaxUploadSize applies when no upload limit is configured
	DefaultMaxUploadSize = 10 << 20

	// Default and max limits for job listing queries
	defaultJobLimit = 50
	maxJobLimit     = 500
)

// uploadNamePattern admits plain script names only
var uploadNamePattern = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9_.-]*$`)

// SubmitRequest is the body of POST /submit
type SubmitRequest struct {
	Function string          `json:"function"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	Runtime  string          `json:"runtime,omitempty"`
	Filename string          `json:"filename,omitempty"`
}

// HandleSubmit enqueues a job. POST /submit → {job_id}
func (s *Server) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}

	var req SubmitRequest
	if err := readJSON(w, r, &req); err != nil {
		return
	}

	job, err := s.queue.Enqueue(r.Context(), async.JobSpec{
		Function: req.Function,
		Payload:  req.Payload,
		Runtime:  sandbox.Runtime(req.Runtime),
		Filename: req.Filename,
		Source:   async.SourceAPI,
	})
	if err != nil {
		writeErrorFor(w, s.logger, err, "")
		return
	}

	logger.AddPulseSymbol(s.logger).Infow("Job submitted",
		logger.FieldJobID, shortID(job.ID),
		logger.FieldFunction, job.Function,
		logger.FieldRuntime, job.Runtime)

	writeJSON(w, http.StatusOK, map[string]string{"job_id": job.ID})
}

// HandleUpload stores an uploaded script in the functions directory and
// enqueues it. POST /upload (multipart: file, runtime, payload, function)
// → {job_id, filename}
func (s *Server) HandleUpload(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	if s.functionsDir == "" {
		writeErrorFor(w, s.logger, errors.Mark(errors.New("no functions directory configured"), ErrServiceUnavailable), "")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	if err := r.ParseMultipartForm(s.maxUpload); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid upload: "+err.Error())
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file required")
		return
	}
	defer file.Close()

	filename, runtime, err := uploadTarget(header.Filename, r.FormValue("runtime"))
	if err != nil {
		writeErrorFor(w, s.logger, err, "")
		return
	}

	function := r.FormValue("function")
	if function == "" {
		function = strings.TrimSuffix(filename, filepath.Ext(filename))
	}

	var payload json.RawMessage
	if p := r.FormValue("payload"); p != "" {
		payload = json.RawMessage(p)
	}

	if err := s.storeUpload(file, filename); err != nil {
		writeErrorFor(w, s.logger, err, "")
		return
	}

	job, err := s.queue.Enqueue(r.Context(), async.JobSpec{
		Function: function,
		Payload:  payload,
		Runtime:  runtime,
		Filename: filename,
		Source:   async.SourceUpload,
	})
	if err != nil {
		writeErrorFor(w, s.logger, err, "")
		return
	}

	logger.AddPulseSymbol(s.logger).Infow("Function uploaded",
		logger.FieldJobID, shortID(job.ID),
		logger.FieldFilename, filename,
		logger.FieldRuntime, runtime)

	writeJSON(w, http.StatusOK, map[string]string{
		"job_id":   job.ID,
		"filename": filename,
	})
}

// uploadTarget sanitizes the client filename and settles the runtime.
// Only container scripts may be uploaded; the extension must agree with
// the runtime, which is inferred from the extension when omitted.
func uploadTarget(clientName, runtimeName string) (string, sandbox.Runtime, error) {
	name := filepath.Base(strings.ReplaceAll(clientName, `\`, "/"))
	if !uploadNamePattern.MatchString(name) {
		return "", "", errors.NewInvalidRequestError("invalid filename: %q", clientName)
	}

	ext := strings.ToLower(filepath.Ext(name))
	var inferred sandbox.Runtime
	switch ext {
	case sandbox.RuntimePython.Extension():
		inferred = sandbox.RuntimePython
	case sandbox.RuntimeNode.Extension():
		inferred = sandbox.RuntimeNode
	default:
		return "", "", errors.NewInvalidRequestError("only .py and .js files can be uploaded")
	}

	if runtimeName == "" {
		return name, inferred, nil
	}
	runtime, err := sandbox.ParseRuntime(runtimeName)
	if err != nil {
		return "", "", err
	}
	if runtime != inferred {
		return "", "", errors.NewInvalidRequestError("%s files cannot run on the %s runtime", ext, runtime)
	}
	return name, runtime, nil
}

// storeUpload writes src to the functions directory atomically, so a
// worker never reads a half-written script
func (s *Server) storeUpload(src io.Reader, filename string) error {
	if err := os.MkdirAll(s.functionsDir, 0755); err != nil {
		return errors.Wrapf(err, "failed to create functions directory %s", s.functionsDir)
	}

	tmp, err := os.CreateTemp(s.functionsDir, ".upload-*")
	if err != nil {
		return errors.Wrap(err, "failed to create upload file")
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		return errors.Wrap(err, "failed to write upload")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "failed to write upload")
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return errors.Wrap(err, "failed to set upload permissions")
	}

	dest := filepath.Join(s.functionsDir, filename)
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return errors.Wrapf(err, "failed to store %s", filename)
	}
	return nil
}

// HandleStatus serves the status surface. GET /status/{job_id}
func (s *Server) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	jobID := r.PathValue("job_id")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "Missing job ID")
		return
	}

	job, err := s.queue.GetJob(r.Context(), jobID)
	if err != nil {
		writeErrorFor(w, s.logger, err, "Job not found")
		return
	}

	writeJSON(w, http.StatusOK, job.StatusView())
}

// JobsResponse is the body of GET /jobs
type JobsResponse struct {
	Jobs  []*async.Job `json:"jobs"`
	Count int          `json:"count"`
}

// HandleJobs lists recent jobs, newest first. GET /jobs?status=&limit=
func (s *Server) HandleJobs(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	var status *async.JobStatus
	if v := r.URL.Query().Get("status"); v != "" {
		if !async.IsValidStatus(v) {
			writeError(w, http.StatusBadRequest, "Invalid status: "+v)
			return
		}
		st := async.JobStatus(v)
		status = &st
	}
	limit := parseIntQueryParam(r, "limit", defaultJobLimit, 1, maxJobLimit)

	jobs, err := s.queue.ListJobs(r.Context(), status, limit)
	if err != nil {
		writeErrorFor(w, s.logger, err, "")
		return
	}
	if jobs == nil {
		jobs = []*async.Job{}
	}

	writeJSON(w, http.StatusOK, JobsResponse{Jobs: jobs, Count: len(jobs)})
}
