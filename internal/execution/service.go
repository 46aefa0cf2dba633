// Package execution runs accepted tasks asynchronously and reports their
// outcome to the task repository.
package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/xymarket/node/internal/metrics"
	"github.com/xymarket/node/internal/models"
	"github.com/xymarket/node/internal/task"
)

// TaskRunner is the contract the engine executes tasks through. Run must
// honor ctx: the engine sets a deadline matching the task's expiry.
type TaskRunner interface {
	Run(ctx context.Context, req models.ExecutionRequest) (*RunResult, error)
}

// RunResult is what a runner produces for a completed task.
type RunResult struct {
	Output    any
	ToolsUsed []string
}

// Failure lets runners fail a task with a stable error type instead of the
// Go type name of whatever went wrong.
type Failure struct {
	Kind    string
	Message string
}

func (f *Failure) Error() string { return f.Message }

// Service is the async task engine behind POST /execute.
type Service interface {
	// CreateTask stores the task, schedules it on a worker goroutine and
	// returns the accepted envelope immediately.
	CreateTask(ctx context.Context, req models.ExecutionRequest) (*models.ExecutionResult, error)
	// GetTaskStatus returns the current envelope for the id/secret pair.
	GetTaskStatus(taskID, buyerSecret string) (*models.ExecutionResult, error)
	// Shutdown waits for in-flight workers until ctx expires.
	Shutdown(ctx context.Context) error
}

type service struct {
	repo    *task.Repository
	runner  TaskRunner
	logger  *slog.Logger
	metrics *metrics.Metrics

	wg sync.WaitGroup
}

var _ Service = (*service)(nil)

// NewService wires the engine. metrics may be nil in tests.
func NewService(repo *task.Repository, runner TaskRunner, logger *slog.Logger, m *metrics.Metrics) Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &service{repo: repo, runner: runner, logger: logger, metrics: m}
}

func (s *service) CreateTask(ctx context.Context, req models.ExecutionRequest) (*models.ExecutionResult, error) {
	t := s.repo.Create(req, 0)

	s.logger.Info("task accepted",
		slog.String("task_id", t.TaskID),
		slog.Any("request", req),
	)
	if s.metrics != nil {
		s.metrics.TasksCreated.Inc()
	}

	s.wg.Add(1)
	go s.runTask(t)

	return t.ToExecutionResult(), nil
}

func (s *service) GetTaskStatus(taskID, buyerSecret string) (*models.ExecutionResult, error) {
	t, err := s.repo.Get(taskID, buyerSecret)
	if err != nil {
		return nil, err
	}
	return t.ToExecutionResult(), nil
}

func (s *service) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("execution shutdown: %w", ctx.Err())
	}
}

// runTask executes one task on its own goroutine. The worker context is
// detached from the HTTP request and bounded by the task deadline, so the
// caller disconnecting never cancels the work.
func (s *service) runTask(t *models.Task) {
	defer s.wg.Done()

	started := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error("task runner panicked",
				slog.String("task_id", t.TaskID),
				slog.Any("panic", rec),
			)
			s.finish(t.TaskID, started, task.Update{
				Status: models.TaskStatusFailed,
				Error:  &models.TaskError{Type: "Panic", Message: fmt.Sprint(rec)},
			})
		}
	}()

	ctx, cancel := context.WithDeadline(context.Background(), t.ExpiresAt)
	defer cancel()

	result, err := s.runner.Run(ctx, t.ExecutionRequest)
	if err != nil {
		taskErr := classifyError(err)
		s.logger.Warn("task failed",
			slog.String("task_id", t.TaskID),
			slog.String("error_type", taskErr.Type),
			slog.String("error", taskErr.Message),
		)
		s.finish(t.TaskID, started, task.Update{
			Status: models.TaskStatusFailed,
			Error:  taskErr,
		})
		return
	}

	tools := dedupeTools(result.ToolsUsed)
	s.finish(t.TaskID, started, task.Update{
		Status: models.TaskStatusDone,
		Result: map[string]any{
			"status":     "completed",
			"message":    "Task executed by agent",
			"result":     result.Output,
			"tools_used": tools,
		},
		ToolsUsed: tools,
	})
	s.logger.Info("task completed",
		slog.String("task_id", t.TaskID),
		slog.Duration("duration", time.Since(started)),
	)
}

func (s *service) finish(taskID string, started time.Time, up task.Update) {
	elapsed := time.Since(started)
	ms := elapsed.Milliseconds()
	up.ExecutionTimeMS = &ms

	if err := s.repo.Update(taskID, up); err != nil {
		// The janitor beat the worker to the deadline; the late result
		// is dropped and the stored failure stands.
		if errors.Is(err, task.ErrTerminal) {
			s.logger.Warn("late task result dropped", slog.String("task_id", taskID))
			return
		}
		s.logger.Error("task update failed", slog.String("task_id", taskID), slog.String("error", err.Error()))
		return
	}

	if s.metrics != nil {
		s.metrics.TasksCompleted.WithLabelValues(string(up.Status)).Inc()
		s.metrics.TaskDuration.Observe(elapsed.Seconds())
	}
}

// classifyError maps a runner error to the stored task error. A *Failure
// keeps its declared kind; everything else is typed by its Go error type.
func classifyError(err error) *models.TaskError {
	var f *Failure
	if errors.As(err, &f) {
		return &models.TaskError{Type: f.Kind, Message: f.Message}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &models.TaskError{Type: "DeadlineExceeded", Message: "Task deadline exceeded"}
	}
	return &models.TaskError{Type: errorTypeName(err), Message: err.Error()}
}

func errorTypeName(err error) string {
	t := reflect.TypeOf(err)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil || t.Name() == "" {
		return "Error"
	}
	return t.Name()
}

// dedupeTools drops repeated tool names, keeping first-seen order.
func dedupeTools(tools []string) []string {
	out := make([]string, 0, len(tools))
	seen := make(map[string]struct{}, len(tools))
	for _, tool := range tools {
		if _, ok := seen[tool]; ok {
			continue
		}
		seen[tool] = struct{}{}
		out = append(out, tool)
	}
	return out
}
