// Package memory holds single-process backends for the domain repositories.
package memory

import (
	"context"
	"sort"
	"sync"

	"timed-dispatch/internal/domain"
)

type jobRepository struct {
	mu   sync.RWMutex
	jobs map[string]domain.Job
}

// NewJobRepository returns a JobRepository that lives for the life of the process.
func NewJobRepository() domain.JobRepository {
	return &jobRepository{jobs: make(map[string]domain.Job)}
}

func (r *jobRepository) Save(_ context.Context, job *domain.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[job.Name] = cloneJob(job)
	return nil
}

func (r *jobRepository) Delete(_ context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[name]; !ok {
		return domain.ErrJobNotFound
	}
	delete(r.jobs, name)
	return nil
}

func (r *jobRepository) Get(_ context.Context, name string) (*domain.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[name]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	out := cloneJob(&job)
	return &out, nil
}

func (r *jobRepository) List(_ context.Context) ([]*domain.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	jobs := make([]*domain.Job, 0, len(r.jobs))
	for _, job := range r.jobs {
		out := cloneJob(&job)
		jobs = append(jobs, &out)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].Name < jobs[j].Name })
	return jobs, nil
}

// cloneJob copies the job so callers never share the stored RetryPolicy.
func cloneJob(job *domain.Job) domain.Job {
	out := *job
	if job.RetryPolicy != nil {
		rp := *job.RetryPolicy
		out.RetryPolicy = &rp
	}
	return out
}
