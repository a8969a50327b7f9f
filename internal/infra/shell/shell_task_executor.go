// internal/infra/shell/shell_task_executor.go
package shell

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"time"

	"timed-dispatch/internal/domain"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DefaultTimeout bounds a single shell command.
const DefaultTimeout = 30 * time.Second

type shellTaskExecutor struct {
	timeout time.Duration
	logger  *slog.Logger
	tracer  trace.Tracer
}

// NewShellTaskExecutor returns an executor running job.Executor.Command with bash -c.
// A non-positive timeout means DefaultTimeout.
func NewShellTaskExecutor(timeout time.Duration, logger *slog.Logger) domain.TaskExecutor {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &shellTaskExecutor{
		timeout: timeout,
		logger:  logger.With("executor_type", "shell"),
		tracer:  otel.Tracer("timed-dispatch-shell-executor"),
	}
}

// Execute runs the command and returns stdout, prefixed by stderr when there is any.
func (e *shellTaskExecutor) Execute(ctx context.Context, job *domain.Job) (string, error) {
	ctx, span := e.tracer.Start(ctx, "executor.shell.Execute",
		trace.WithAttributes(
			attribute.String("job.name", job.Name),
			attribute.String("job.command", job.Executor.Command),
		))
	defer span.End()

	e.logger.Debug("executing shell command", "command", job.Executor.Command, "job_name", job.Name)

	execCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, "bash", "-c", job.Executor.Command)
	cmd.WaitDelay = time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	output := stdout.String()
	if errOutput := stderr.String(); errOutput != "" {
		span.SetAttributes(attribute.String("shell.stderr", errOutput))
		if output != "" {
			output = fmt.Sprintf("[STDERR]:\n%s\n[STDOUT]:\n%s", errOutput, output)
		} else {
			output = fmt.Sprintf("[STDERR]:\n%s", errOutput)
		}
	}

	if err != nil {
		if execCtx.Err() == context.DeadlineExceeded {
			err = fmt.Errorf("timed out after %s: %w", e.timeout, err)
		}
		span.SetStatus(codes.Error, "shell command failed")
		span.RecordError(err)
		return output, fmt.Errorf("shell command failed: %w", err)
	}
	return output, nil
}
