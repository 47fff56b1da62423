package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mirrorlab/sitemirror/internal/crawler"
)

// JobStore keeps jobs and their run results in process memory. It backs
// serve mode on single node deployments and stands in for a database in
// tests.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]*jobEntry
}

type jobEntry struct {
	job    crawler.Job
	result *crawler.Result
}

// NewJobStore returns an empty store.
func NewJobStore() *JobStore {
	return &JobStore{jobs: make(map[string]*jobEntry)}
}

// CreateJob registers a freshly accepted job. Job ids must be unique.
func (s *JobStore) CreateJob(_ context.Context, job crawler.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.jobs[job.ID]; dup {
		return fmt.Errorf("job %q already exists", job.ID)
	}
	s.jobs[job.ID] = &jobEntry{job: job}
	return nil
}

// UpdateJobStatus moves a job through its lifecycle, stamping Started on the
// first transition to running and Finished on any terminal status.
func (s *JobStore) UpdateJobStatus(
	_ context.Context,
	jobID string,
	status crawler.JobStatus,
	errText string,
	counters crawler.JobCounters,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("unknown job %q", jobID)
	}
	entry.job.Status = status
	entry.job.ErrorText = errText
	entry.job.Counters = counters
	now := time.Now().UTC()
	if status == crawler.JobStatusRunning && entry.job.Started == nil {
		started := now
		entry.job.Started = &started
	}
	if terminalStatus(status) {
		finished := now
		entry.job.Finished = &finished
	}
	return nil
}

// SaveResult attaches the run output to an existing job.
func (s *JobStore) SaveResult(_ context.Context, jobID string, result crawler.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("unknown job %q", jobID)
	}
	entry.result = &result
	return nil
}

// GetJob returns the current job row.
func (s *JobStore) GetJob(_ context.Context, jobID string) (crawler.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.jobs[jobID]
	if !ok {
		return crawler.Job{}, fmt.Errorf("unknown job %q", jobID)
	}
	return entry.job, nil
}

// GetResult returns the run output saved for a job, or an error when the
// job is unknown or has not produced one yet.
func (s *JobStore) GetResult(_ context.Context, jobID string) (crawler.Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.jobs[jobID]
	if !ok || entry.result == nil {
		return crawler.Result{}, fmt.Errorf("no result recorded for job %q", jobID)
	}
	return *entry.result, nil
}

func terminalStatus(status crawler.JobStatus) bool {
	switch status {
	case crawler.JobStatusSucceeded, crawler.JobStatusFailed, crawler.JobStatusCanceled:
		return true
	}
	return false
}
