package repo

import (
	"context"
	"sort"
	"sync"
	"time"

	"quizgen/internal/domain"
)

// JobRepositoryMemory is an in-process domain.JobStore. Each job has its own
// mutex so locked sections on different jobs run in parallel.
type JobRepositoryMemory struct {
	mu    sync.Mutex
	jobs  map[string]*domain.GenerationJob
	locks map[string]*sync.Mutex
}

// NewMemoryJobRepository returns an empty in-memory store.
func NewMemoryJobRepository() *JobRepositoryMemory {
	return &JobRepositoryMemory{
		jobs:  make(map[string]*domain.GenerationJob),
		locks: make(map[string]*sync.Mutex),
	}
}

func (r *JobRepositoryMemory) Create(_ context.Context, job *domain.GenerationJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.jobs[job.ID]; exists {
		return domain.ErrValidation
	}
	r.jobs[job.ID] = job.Clone()
	r.locks[job.ID] = &sync.Mutex{}
	return nil
}

func (r *JobRepositoryMemory) Get(_ context.Context, jobID string) (*domain.GenerationJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return job.Clone(), nil
}

func (r *JobRepositoryMemory) WithJobForUpdate(ctx context.Context, jobID string, fn func(job *domain.GenerationJob) error) error {
	r.mu.Lock()
	lock, ok := r.locks[jobID]
	r.mu.Unlock()
	if !ok {
		return domain.ErrNotFound
	}

	lock.Lock()
	defer lock.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	job, err := r.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if err := fn(job); err != nil {
		return err
	}
	r.mu.Lock()
	r.jobs[jobID] = job.Clone()
	r.mu.Unlock()
	return nil
}

func (r *JobRepositoryMemory) ClaimNextPending(_ context.Context, staleAfter time.Duration) (*domain.GenerationJob, error) {
	cutoff := time.Now().UTC().Add(-staleAfter)
	for _, id := range r.idsByCreatedAt() {
		r.mu.Lock()
		lock := r.locks[id]
		r.mu.Unlock()
		if !lock.TryLock() {
			continue
		}
		r.mu.Lock()
		job := r.jobs[id]
		claimed := job.Status == domain.JobStatusPending && !job.CreatedAt.After(cutoff)
		if claimed {
			job.Status = domain.JobStatusProcessing
			job.UpdatedAt = time.Now().UTC()
		}
		snapshot := job.Clone()
		r.mu.Unlock()
		lock.Unlock()
		if claimed {
			return snapshot, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *JobRepositoryMemory) ListBillingStuck(_ context.Context, limit int) ([]*domain.GenerationJob, error) {
	var out []*domain.GenerationJob
	for _, id := range r.idsByCreatedAt() {
		r.mu.Lock()
		job := r.jobs[id]
		if job.Status.IsTerminal() && billingUnsettled(job) {
			out = append(out, job.Clone())
		}
		r.mu.Unlock()
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (r *JobRepositoryMemory) idsByCreatedAt() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.jobs))
	for id := range r.jobs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return r.jobs[ids[i]].CreatedAt.Before(r.jobs[ids[j]].CreatedAt)
	})
	return ids
}

var _ domain.JobStore = (*JobRepositoryMemory)(nil)

func billingUnsettled(job *domain.GenerationJob) bool {
	switch job.BillingState {
	case domain.BillingStateReserved:
		return true
	case domain.BillingStateCommitted:
		return job.LastBillingError != ""
	}
	return false
}
