// internal/infra/etcd/etcd_job_repository.go
package etcd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"

	"timed-dispatch/internal/domain"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// etcdJobRepository keeps one JSON document per job at JobSaveDir/{name}.
type etcdJobRepository struct {
	client *clientv3.Client
	logger *slog.Logger
	tracer trace.Tracer
}

// NewEtcdJobRepository stores job definitions as JSON under JobSaveDir.
func NewEtcdJobRepository(client *clientv3.Client, logger *slog.Logger) domain.JobRepository {
	return &etcdJobRepository{
		client: client,
		logger: logger.With("component", "etcd-job-repo"),
		tracer: otel.Tracer("timed-dispatch-etcd-job-repo"),
	}
}

// Save writes job under its name, overwriting any previous definition.
func (r *etcdJobRepository) Save(ctx context.Context, job *domain.Job) error {
	ctx, span := r.tracer.Start(ctx, "repo.etcd.SaveJob")
	defer span.End()

	jobJSON, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job to JSON: %w", err)
	}

	key := jobKey(job.Name)
	span.SetAttributes(
		attribute.String("job.name", job.Name),
		attribute.String("etcd.key", key),
	)

	if _, err := r.client.Put(ctx, key, string(jobJSON)); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to put job to etcd")
		return fmt.Errorf("failed to save job %s to etcd: %w", job.Name, err)
	}
	return nil
}

// Delete removes a job. Deleting a missing job returns domain.ErrJobNotFound.
func (r *etcdJobRepository) Delete(ctx context.Context, name string) error {
	ctx, span := r.tracer.Start(ctx, "repo.etcd.DeleteJob")
	defer span.End()
	span.SetAttributes(attribute.String("job.name", name))

	resp, err := r.client.Delete(ctx, jobKey(name))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to delete job from etcd")
		return fmt.Errorf("failed to delete job %s from etcd: %w", name, err)
	}
	if resp.Deleted == 0 {
		return domain.ErrJobNotFound
	}
	return nil
}

// Get reads one job. A missing key returns domain.ErrJobNotFound.
func (r *etcdJobRepository) Get(ctx context.Context, name string) (*domain.Job, error) {
	ctx, span := r.tracer.Start(ctx, "repo.etcd.GetJob")
	defer span.End()
	span.SetAttributes(attribute.String("job.name", name))

	resp, err := r.client.Get(ctx, jobKey(name))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to get job from etcd")
		return nil, fmt.Errorf("failed to get job %s from etcd: %w", name, err)
	}
	if len(resp.Kvs) == 0 {
		return nil, domain.ErrJobNotFound
	}

	var job domain.Job
	if err := json.Unmarshal(resp.Kvs[0].Value, &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job %s from JSON: %w", name, err)
	}
	return &job, nil
}

// List returns every stored job sorted by name. Undecodable entries are logged and skipped.
func (r *etcdJobRepository) List(ctx context.Context) ([]*domain.Job, error) {
	ctx, span := r.tracer.Start(ctx, "repo.etcd.ListJobs")
	defer span.End()

	resp, err := r.client.Get(ctx, JobSaveDir, clientv3.WithPrefix())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to list jobs from etcd")
		return nil, fmt.Errorf("failed to list jobs from etcd: %w", err)
	}
	span.SetAttributes(attribute.Int("etcd.kv_count", len(resp.Kvs)))

	jobs := make([]*domain.Job, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var job domain.Job
		if err := json.Unmarshal(kv.Value, &job); err != nil {
			r.logger.Warn("failed to unmarshal job from etcd", "key", string(kv.Key), "error", err)
			continue
		}
		jobs = append(jobs, &job)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].Name < jobs[j].Name })
	return jobs, nil
}
