package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/noah-isme/scholarflow-api/internal/models"
	appErrors "github.com/noah-isme/scholarflow-api/pkg/errors"
)

// ReportJobRepository tracks export jobs for the lifetime of the process.
type ReportJobRepository struct {
	mu   sync.RWMutex
	jobs map[string]models.ReportJob
}

// NewReportJobRepository constructs an empty repository.
func NewReportJobRepository() *ReportJobRepository {
	return &ReportJobRepository{jobs: make(map[string]models.ReportJob)}
}

// Create stores a new job.
func (r *ReportJobRepository) Create(_ context.Context, job *models.ReportJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.jobs[job.ID]; exists {
		return appErrors.Clone(appErrors.ErrConflict, "report job already exists")
	}
	r.jobs[job.ID] = *job
	return nil
}

// FindByID returns a copy of the job.
func (r *ReportJobRepository) FindByID(_ context.Context, id string) (*models.ReportJob, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "report job not found")
	}
	return &job, nil
}

// Update applies mutate to the stored job under the write lock.
func (r *ReportJobRepository) Update(_ context.Context, id string, mutate func(*models.ReportJob)) (*models.ReportJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "report job not found")
	}
	mutate(&job)
	r.jobs[id] = job
	return &job, nil
}

// DeleteFinishedBefore drops terminal jobs finished before cutoff and returns their ids.
func (r *ReportJobRepository) DeleteFinishedBefore(_ context.Context, cutoff time.Time) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var removed []string
	for id, job := range r.jobs {
		if job.FinishedAt != nil && job.FinishedAt.Before(cutoff) {
			delete(r.jobs, id)
			removed = append(removed, id)
		}
	}
	sort.Strings(removed)
	return removed
}
