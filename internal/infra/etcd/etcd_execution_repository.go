// internal/infra/etcd/etcd_execution_repository.go
package etcd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"timed-dispatch/internal/domain"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// etcdExecutionRepository keeps execution history, one key per firing.
type etcdExecutionRepository struct {
	client *clientv3.Client
	logger *slog.Logger
	tracer trace.Tracer
}

// NewEtcdExecutionRepository stores execution records under ExecutionHistoryDir/{job}/{execution}.
func NewEtcdExecutionRepository(client *clientv3.Client, logger *slog.Logger) domain.ExecutionRepository {
	return &etcdExecutionRepository{
		client: client,
		logger: logger.With("component", "etcd-execution-repo"),
		tracer: otel.Tracer("timed-dispatch-etcd-execution-repo"),
	}
}

// Save validates and writes record. The running and final writes of one
// firing share a key, so the final write replaces the running one.
func (r *etcdExecutionRepository) Save(ctx context.Context, record *domain.ExecutionRecord) error {
	ctx, span := r.tracer.Start(ctx, "repo.etcd.SaveExecution")
	defer span.End()

	if err := record.Validate(); err != nil {
		return fmt.Errorf("invalid execution record: %w", err)
	}
	recordJSON, err := json.Marshal(record)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to marshal execution record")
		return fmt.Errorf("failed to marshal execution record %s to JSON: %w", record.ID, err)
	}

	key := executionKey(record.JobName, record.ID)
	span.SetAttributes(
		attribute.String("execution.id", record.ID),
		attribute.String("job.name", record.JobName),
		attribute.String("etcd.key", key),
	)

	if _, err := r.client.Put(ctx, key, string(recordJSON)); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to put execution record to etcd")
		return fmt.Errorf("failed to save execution record %s to etcd: %w", record.ID, err)
	}
	return nil
}

// Get reads one record. A missing key returns an error wrapping domain.ErrExecutionNotFound.
func (r *etcdExecutionRepository) Get(ctx context.Context, jobName, executionID string) (*domain.ExecutionRecord, error) {
	ctx, span := r.tracer.Start(ctx, "repo.etcd.GetExecution")
	defer span.End()
	span.SetAttributes(
		attribute.String("job.name", jobName),
		attribute.String("execution.id", executionID),
	)

	resp, err := r.client.Get(ctx, executionKey(jobName, executionID))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to get execution record from etcd")
		return nil, fmt.Errorf("failed to get execution record %s/%s from etcd: %w", jobName, executionID, err)
	}
	if len(resp.Kvs) == 0 {
		return nil, fmt.Errorf("execution record %s/%s: %w", jobName, executionID, domain.ErrExecutionNotFound)
	}

	var record domain.ExecutionRecord
	if err := json.Unmarshal(resp.Kvs[0].Value, &record); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to unmarshal execution record %s/%s from JSON: %w", jobName, executionID, err)
	}
	return &record, nil
}

// ListByJobName pages through a job's records, newest first by create revision.
// A record rewritten at completion keeps its original create revision.
func (r *etcdExecutionRepository) ListByJobName(ctx context.Context, jobName string, page, pageSize int) ([]*domain.ExecutionRecord, error) {
	ctx, span := r.tracer.Start(ctx, "repo.etcd.ListExecutions")
	defer span.End()
	span.SetAttributes(
		attribute.String("job.name", jobName),
		attribute.Int("page", page),
		attribute.Int("page_size", pageSize),
	)
	if page < 1 || pageSize < 1 {
		return nil, fmt.Errorf("invalid page %d / page size %d", page, pageSize)
	}

	// etcd limits by key count, not offset, so fetch up to the end of the page and slice.
	endIdx := page * pageSize
	resp, err := r.client.Get(ctx, executionPrefix(jobName),
		clientv3.WithPrefix(),
		clientv3.WithSort(clientv3.SortByCreateRevision, clientv3.SortDescend),
		clientv3.WithLimit(int64(endIdx)),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to list execution records from etcd")
		return nil, fmt.Errorf("failed to list execution records for job %s from etcd: %w", jobName, err)
	}

	records := make([]*domain.ExecutionRecord, 0, pageSize)
	for i := (page - 1) * pageSize; i < len(resp.Kvs) && i < endIdx; i++ {
		kv := resp.Kvs[i]
		var record domain.ExecutionRecord
		if err := json.Unmarshal(kv.Value, &record); err != nil {
			r.logger.Warn("failed to unmarshal execution record from etcd", "key", string(kv.Key), "error", err)
			continue
		}
		records = append(records, &record)
	}
	span.SetAttributes(attribute.Int("records_returned", len(records)))
	return records, nil
}
