// internal/api/http/job_handler.go
package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"timed-dispatch/internal/domain"
	"timed-dispatch/internal/queue"
	"timed-dispatch/internal/usecase"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// JobHandler serves the /jobs/ API.
type JobHandler struct {
	service  *usecase.JobService
	logger   *slog.Logger
	validate *validator.Validate
	tracer   trace.Tracer
}

// NewJobHandler creates a JobHandler with the cron and duration validators registered.
func NewJobHandler(service *usecase.JobService, logger *slog.Logger) *JobHandler {
	validate := validator.New()

	_ = validate.RegisterValidation("cron", func(fl validator.FieldLevel) bool {
		_, err := domain.CronParser.Parse(fl.Field().String())
		return err == nil
	})

	_ = validate.RegisterValidation("duration", func(fl validator.FieldLevel) bool {
		_, err := time.ParseDuration(fl.Field().String())
		return err == nil
	})

	return &JobHandler{
		service:  service,
		logger:   logger.With("component", "job-handler"),
		validate: validate,
		tracer:   otel.Tracer("timed-dispatch-api"),
	}
}

// RegisterRoutes registers job-related routes to the http.ServeMux.
func (h *JobHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("/jobs/", instrument(h.tracer, jobRoute, http.HandlerFunc(h.handleJobs)))
}

// jobRoute collapses job names and execution IDs into placeholders for metric labels.
func jobRoute(r *http.Request) string {
	parts := splitJobPath(r.URL.Path)
	switch {
	case len(parts) == 0:
		return "/jobs/"
	case len(parts) == 1:
		return "/jobs/{name}"
	case len(parts) == 2:
		return "/jobs/{name}/" + parts[1]
	default:
		return "/jobs/{name}/" + parts[1] + "/{id}"
	}
}

// splitJobPath turns /jobs/my-job/history into ["my-job", "history"].
func splitJobPath(p string) []string {
	rest := strings.Trim(strings.TrimPrefix(p, "/jobs"), "/")
	if rest == "" {
		return nil
	}
	return strings.Split(rest, "/")
}

func (h *JobHandler) handleJobs(w http.ResponseWriter, r *http.Request) {
	parts := splitJobPath(r.URL.Path)

	var jobName, action, id string
	if len(parts) > 0 {
		jobName = parts[0]
	}
	if len(parts) > 1 {
		action = parts[1]
	}
	if len(parts) > 2 {
		id = parts[2]
	}
	if len(parts) > 3 {
		http.NotFound(w, r)
		return
	}

	switch r.Method {
	case http.MethodGet:
		switch {
		case jobName == "":
			h.handleListJobs(w, r)
		case action == "":
			h.handleGetJob(w, r, jobName)
		case action == "history" && id == "":
			h.handleGetJobHistory(w, r, jobName)
		case action == "history":
			h.handleGetExecution(w, r, jobName, id)
		default:
			http.NotFound(w, r)
		}
	case http.MethodPost, http.MethodPut:
		switch {
		case jobName == "" || (action == "" && r.Method == http.MethodPut):
			h.handleSaveJob(w, r, jobName)
		case action == "trigger" && id == "" && r.Method == http.MethodPost:
			h.handleTriggerJob(w, r, jobName)
		default:
			http.NotFound(w, r)
		}
	case http.MethodDelete:
		if jobName != "" && action == "" {
			h.handleDeleteJob(w, r, jobName)
		} else {
			writeError(w, http.StatusBadRequest, "job name is required for deletion")
		}
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleSaveJob creates or replaces a job. For PUT /jobs/{name} the body name must match the path.
func (h *JobHandler) handleSaveJob(w http.ResponseWriter, r *http.Request, pathName string) {
	ctx, span := h.tracer.Start(r.Context(), "handler.SaveJob")
	defer span.End()

	var req SaveJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		span.SetStatus(codes.Error, "Failed to decode request body")
		span.RecordError(err)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if pathName != "" {
		if req.Name == "" {
			req.Name = pathName
		} else if req.Name != pathName {
			writeError(w, http.StatusBadRequest, "job name in body does not match path")
			return
		}
	}

	if err := h.validate.Struct(req); err != nil {
		span.SetStatus(codes.Error, "Validation failed")
		span.RecordError(err)
		var details []string
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			for _, fe := range validationErrors {
				details = append(details, "Field '"+fe.Field()+"' failed on the '"+fe.Tag()+"' tag.")
			}
		}
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":   "Validation failed",
			"details": details,
		})
		return
	}

	job := req.ToDomainJob()
	span.SetAttributes(attribute.String("job.name", job.Name))
	if err := job.Validate(); err != nil {
		span.SetStatus(codes.Error, "Invalid job")
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.service.Save(ctx, job); err != nil {
		span.SetStatus(codes.Error, "Failed to save job in service")
		span.RecordError(err)
		h.logger.Error("error saving job", "job_name", job.Name, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	status := http.StatusCreated
	if r.Method == http.MethodPut {
		status = http.StatusOK
	}
	writeJSON(w, status, job)
}

func (h *JobHandler) handleDeleteJob(w http.ResponseWriter, r *http.Request, name string) {
	ctx, span := h.tracer.Start(r.Context(), "handler.DeleteJob")
	defer span.End()
	span.SetAttributes(attribute.String("job.name", name))

	if err := h.service.Delete(ctx, name); err != nil {
		span.SetStatus(codes.Error, "Failed to delete job in service")
		span.RecordError(err)
		if errors.Is(err, domain.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		h.logger.Error("error deleting job", "job_name", name, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *JobHandler) handleGetJob(w http.ResponseWriter, r *http.Request, name string) {
	ctx, span := h.tracer.Start(r.Context(), "handler.GetJob")
	defer span.End()
	span.SetAttributes(attribute.String("job.name", name))

	job, err := h.service.Get(ctx, name)
	if err != nil {
		span.SetStatus(codes.Error, "Failed to get job from service")
		span.RecordError(err)
		if errors.Is(err, domain.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		h.logger.Error("error getting job", "job_name", name, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (h *JobHandler) handleListJobs(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "handler.ListJobs")
	defer span.End()

	jobs, err := h.service.List(ctx)
	if err != nil {
		span.SetStatus(codes.Error, "Failed to list jobs from service")
		span.RecordError(err)
		h.logger.Error("error listing jobs", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

// handleGetJobHistory serves GET /jobs/{name}/history?page=&pageSize=.
func (h *JobHandler) handleGetJobHistory(w http.ResponseWriter, r *http.Request, name string) {
	ctx, span := h.tracer.Start(r.Context(), "handler.GetJobHistory")
	defer span.End()
	span.SetAttributes(attribute.String("job.name", name))

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("pageSize"))
	if pageSize <= 0 || pageSize > maxPageSize {
		pageSize = defaultPageSize
	}
	span.SetAttributes(attribute.Int("page", page), attribute.Int("page_size", pageSize))

	history, err := h.service.ListHistory(ctx, name, page, pageSize)
	if err != nil {
		span.SetStatus(codes.Error, "Failed to list job history")
		span.RecordError(err)
		h.logger.Error("error listing job history", "job_name", name, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, history)
}

func (h *JobHandler) handleGetExecution(w http.ResponseWriter, r *http.Request, name, executionID string) {
	ctx, span := h.tracer.Start(r.Context(), "handler.GetExecution")
	defer span.End()
	span.SetAttributes(attribute.String("job.name", name), attribute.String("execution.id", executionID))

	record, err := h.service.GetExecution(ctx, name, executionID)
	if err != nil {
		span.SetStatus(codes.Error, "Failed to get execution")
		span.RecordError(err)
		if errors.Is(err, domain.ErrExecutionNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		h.logger.Error("error getting execution", "job_name", name, "execution_id", executionID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// handleTriggerJob serves POST /jobs/{name}/trigger: a ready task is enqueued now.
func (h *JobHandler) handleTriggerJob(w http.ResponseWriter, r *http.Request, name string) {
	ctx, span := h.tracer.Start(r.Context(), "handler.TriggerJob")
	defer span.End()
	span.SetAttributes(attribute.String("job.name", name))

	if err := h.service.Trigger(ctx, name); err != nil {
		span.SetStatus(codes.Error, "Failed to trigger job")
		span.RecordError(err)
		switch {
		case errors.Is(err, domain.ErrJobNotFound):
			writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, queue.ErrShutdown):
			writeError(w, http.StatusServiceUnavailable, "dispatcher is shutting down")
		default:
			h.logger.Error("error triggering job", "job_name", name, "error", err)
			writeError(w, http.StatusInternalServerError, "internal server error")
		}
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "enqueued", "job": name})
}
