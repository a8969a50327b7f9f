// internal/infra/http/http_task_executor.go
package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"timed-dispatch/internal/domain"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const maxOutputBytes = 1024

// errServerStatus marks 5xx responses, which are retried.
var errServerStatus = errors.New("server error status")

type httpTaskExecutor struct {
	client *http.Client
	tracer trace.Tracer
}

// NewHttpTaskExecutor returns an executor that calls job.Executor.URL.
// A nil client gets a default one with a 15s timeout.
func NewHttpTaskExecutor(client *http.Client) domain.TaskExecutor {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &httpTaskExecutor{
		client: client,
		tracer: otel.Tracer("timed-dispatch-http-executor"),
	}
}

// Execute performs the request, retrying timeouts and 5xx responses per the job's RetryPolicy.
func (e *httpTaskExecutor) Execute(ctx context.Context, job *domain.Job) (string, error) {
	ctx, span := e.tracer.Start(ctx, "executor.http.Execute",
		trace.WithAttributes(
			attribute.String("job.name", job.Name),
			attribute.String("http.method", job.Executor.Method),
			attribute.String("http.url", job.Executor.URL),
		))
	defer span.End()

	maxRetries := 0
	var backoff time.Duration
	if job.RetryPolicy != nil {
		maxRetries = job.RetryPolicy.MaxRetries
		backoff = job.RetryPolicy.Backoff
	}

	var output string
	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		output, err = e.doExecute(ctx, job)
		if err == nil {
			return output, nil
		}
		span.AddEvent("attempt_failed", trace.WithAttributes(
			attribute.Int("attempt", attempt+1),
			attribute.String("error", err.Error()),
		))
		if !retriable(err) {
			break
		}
		if attempt == maxRetries {
			break
		}
		select {
		case <-ctx.Done():
			span.SetStatus(codes.Error, "retry aborted")
			return output, fmt.Errorf("retry aborted after attempt %d: %w", attempt+1, ctx.Err())
		case <-time.After(backoff):
		}
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, "http job failed")
	if maxRetries > 0 {
		return output, fmt.Errorf("job failed after %d retries: %w", maxRetries, err)
	}
	return output, err
}

func retriable(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, errServerStatus)
}

func (e *httpTaskExecutor) doExecute(ctx context.Context, job *domain.Job) (string, error) {
	method := job.Executor.Method
	if method == "" {
		method = http.MethodGet
	}
	req, err := http.NewRequestWithContext(ctx, method, job.Executor.URL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create http request: %w", err)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, maxOutputBytes))

	if resp.StatusCode >= 500 {
		return string(bodyBytes), fmt.Errorf("http request returned %s: %w", resp.Status, errServerStatus)
	}
	if resp.StatusCode >= 400 {
		return string(bodyBytes), fmt.Errorf("http request returned 4xx client error: %s", resp.Status)
	}
	return string(bodyBytes), nil
}
