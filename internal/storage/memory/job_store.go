package memory

import (
	"context"
	"fmt"
	"maps"
	"sync"

	"github.com/JakeFAU/affiliate-crawler/internal/crawler"
)

// JobStore keeps search jobs and their records in memory.
type JobStore struct {
	mu      sync.RWMutex
	jobs    map[string]crawler.SearchJob
	records map[string][]crawler.ProductRecord
}

// NewJobStore constructs a JobStore.
func NewJobStore() *JobStore {
	return &JobStore{
		jobs:    make(map[string]crawler.SearchJob),
		records: make(map[string][]crawler.ProductRecord),
	}
}

// CreateJob stores a new job.
func (s *JobStore) CreateJob(_ context.Context, job crawler.SearchJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("create job %s: %w", job.ID, crawler.ErrJobExists)
	}
	s.jobs[job.ID] = cloneJob(job)
	return nil
}

// UpdateJob replaces a stored job. A job in a terminal status only accepts
// an update that keeps the same status.
func (s *JobStore) UpdateJob(_ context.Context, job crawler.SearchJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.jobs[job.ID]
	if !ok {
		return fmt.Errorf("update job %s: %w", job.ID, crawler.ErrJobNotFound)
	}
	if current.Status.IsTerminal() && job.Status != current.Status {
		return fmt.Errorf("update job %s to %s: %w", job.ID, job.Status, crawler.ErrJobFinal)
	}
	s.jobs[job.ID] = cloneJob(job)
	return nil
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(_ context.Context, jobID string) (crawler.SearchJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return crawler.SearchJob{}, fmt.Errorf("get job %s: %w", jobID, crawler.ErrJobNotFound)
	}
	return cloneJob(job), nil
}

// AppendRecords adds records to a job.
func (s *JobStore) AppendRecords(_ context.Context, jobID string, records []crawler.ProductRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[jobID]; !ok {
		return fmt.Errorf("append records %s: %w", jobID, crawler.ErrJobNotFound)
	}
	s.records[jobID] = append(s.records[jobID], records...)
	return nil
}

// ListRecords returns a copy of a job's records.
func (s *JobStore) ListRecords(_ context.Context, jobID string) ([]crawler.ProductRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.jobs[jobID]; !ok {
		return nil, fmt.Errorf("list records %s: %w", jobID, crawler.ErrJobNotFound)
	}
	records := s.records[jobID]
	out := make([]crawler.ProductRecord, len(records))
	copy(out, records)
	return out, nil
}

func cloneJob(job crawler.SearchJob) crawler.SearchJob {
	job.Parameters.Keywords = append([]string(nil), job.Parameters.Keywords...)
	job.Parameters.Formats = append([]string(nil), job.Parameters.Formats...)
	job.ExportURIs = maps.Clone(job.ExportURIs)
	return job
}
