package memory

import (
	"context"
	"fmt"
	"sync"

	"timed-dispatch/internal/domain"
)

// DefaultHistoryLimit caps the records kept per job.
const DefaultHistoryLimit = 1000

type executionRepository struct {
	mu    sync.RWMutex
	limit int
	// per job, in insertion order (oldest first)
	byJob map[string][]*domain.ExecutionRecord
	index map[string]*domain.ExecutionRecord
}

// NewExecutionRepository keeps at most limit records per job; limit <= 0 uses DefaultHistoryLimit.
func NewExecutionRepository(limit int) domain.ExecutionRepository {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &executionRepository{
		limit: limit,
		byJob: make(map[string][]*domain.ExecutionRecord),
		index: make(map[string]*domain.ExecutionRecord),
	}
}

func indexKey(jobName, id string) string { return jobName + "/" + id }

// Save inserts a new record or overwrites one with the same job and ID in place.
func (r *executionRepository) Save(_ context.Context, record *domain.ExecutionRecord) error {
	if err := record.Validate(); err != nil {
		return fmt.Errorf("invalid execution record: %w", err)
	}
	rec := *record

	r.mu.Lock()
	defer r.mu.Unlock()
	key := indexKey(rec.JobName, rec.ID)
	if existing, ok := r.index[key]; ok {
		*existing = rec
		return nil
	}

	stored := &rec
	records := append(r.byJob[rec.JobName], stored)
	if len(records) > r.limit {
		evicted := records[0]
		delete(r.index, indexKey(evicted.JobName, evicted.ID))
		records = records[1:]
	}
	r.byJob[rec.JobName] = records
	r.index[key] = stored
	return nil
}

func (r *executionRepository) ListByJobName(_ context.Context, jobName string, page, pageSize int) ([]*domain.ExecutionRecord, error) {
	if page < 1 || pageSize < 1 {
		return nil, fmt.Errorf("invalid page %d / page size %d", page, pageSize)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	records := r.byJob[jobName]
	out := make([]*domain.ExecutionRecord, 0, pageSize)
	for i := (page - 1) * pageSize; i < page*pageSize && i < len(records); i++ {
		rec := *records[len(records)-1-i]
		out = append(out, &rec)
	}
	return out, nil
}

func (r *executionRepository) Get(_ context.Context, jobName, executionID string) (*domain.ExecutionRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stored, ok := r.index[indexKey(jobName, executionID)]
	if !ok {
		return nil, fmt.Errorf("execution record %s/%s: %w", jobName, executionID, domain.ErrExecutionNotFound)
	}
	rec := *stored
	return &rec, nil
}
