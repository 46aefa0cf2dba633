// Package task holds the in-memory task store. Records live for the
// process lifetime only; restarts forget every task by design.
package task

import (
	"crypto/subtle"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/xymarket/node/internal/models"
)

var (
	// ErrNotFound is returned when no task matches the id/secret pair.
	// Unknown ids and wrong secrets are indistinguishable to callers.
	ErrNotFound = errors.New("task not found")

	// ErrTerminal is returned when an update would overwrite a task that
	// already reached done or failed.
	ErrTerminal = errors.New("task already in terminal state")
)

// Config tunes repository behavior.
type Config struct {
	// DefaultDeadline is applied when Create is called with a zero deadline.
	DefaultDeadline time.Duration

	// AllowTerminalOverwrite re-enables updates to finished tasks. Off by
	// default; only legacy deployments that relied on re-running tasks
	// should turn this on.
	AllowTerminalOverwrite bool
}

// Repository is a mutex-guarded map of tasks keyed by task id.
type Repository struct {
	mu     sync.RWMutex
	tasks  map[string]*models.Task
	cfg    Config
	logger *slog.Logger

	now func() time.Time
}

// NewRepository returns an empty repository.
func NewRepository(cfg Config, logger *slog.Logger) *Repository {
	if cfg.DefaultDeadline <= 0 {
		cfg.DefaultDeadline = 300 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Repository{
		tasks:  make(map[string]*models.Task),
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// Create registers a new in_progress task and returns a snapshot of it.
// Both the task id and the buyer secret are fresh UUIDs.
func (r *Repository) Create(req models.ExecutionRequest, deadline time.Duration) *models.Task {
	if deadline <= 0 {
		deadline = r.cfg.DefaultDeadline
	}
	now := r.now()
	t := &models.Task{
		TaskID:           uuid.NewString(),
		BuyerSecret:      uuid.NewString(),
		Status:           models.TaskStatusInProgress,
		CreatedAt:        now,
		ExpiresAt:        now.Add(deadline),
		ExecutionRequest: req,
	}

	r.mu.Lock()
	r.tasks[t.TaskID] = t
	r.mu.Unlock()

	r.logger.Info("task created",
		slog.String("task_id", t.TaskID),
		slog.Time("deadline_at", t.ExpiresAt),
	)
	return snapshot(t)
}

// Get returns a snapshot of the task when both the id and the buyer secret
// match. The secret comparison is constant-time and a mismatch reports the
// same ErrNotFound as an unknown id.
func (r *Repository) Get(taskID, buyerSecret string) (*models.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tasks[taskID]
	if !ok || subtle.ConstantTimeCompare([]byte(t.BuyerSecret), []byte(buyerSecret)) != 1 {
		return nil, ErrNotFound
	}
	return snapshot(t), nil
}

// Update carries the mutable fields of a task. Nil fields are left as-is;
// Status is applied whenever non-empty.
type Update struct {
	Status          models.TaskStatus
	Result          map[string]any
	Error           *models.TaskError
	ExecutionTimeMS *int64
	ToolsUsed       []string
}

// Update applies up to the stored task. Updating an unknown id is a no-op:
// workers may outlive a sweep and their late result is simply dropped.
// Updating a terminal task returns ErrTerminal unless overwrites are
// enabled in the config.
func (r *Repository) Update(taskID string, up Update) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tasks[taskID]
	if !ok {
		r.logger.Warn("update for unknown task dropped", slog.String("task_id", taskID))
		return nil
	}
	if t.Status.Terminal() && !r.cfg.AllowTerminalOverwrite {
		return ErrTerminal
	}

	if up.Status != "" {
		t.Status = up.Status
	}
	if up.Result != nil {
		t.Result = up.Result
	}
	if up.Error != nil {
		t.Error = up.Error
	}
	if up.ExecutionTimeMS != nil {
		t.ExecutionTimeMS = up.ExecutionTimeMS
	}
	if up.ToolsUsed != nil {
		t.ToolsUsed = up.ToolsUsed
	}
	return nil
}

// SweepExpired fails every in_progress task whose deadline has passed and
// returns how many were failed.
func (r *Repository) SweepExpired(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	swept := 0
	for _, t := range r.tasks {
		if t.Status != models.TaskStatusInProgress || now.Before(t.ExpiresAt) {
			continue
		}
		t.Status = models.TaskStatusFailed
		t.Error = &models.TaskError{
			Type:    "DeadlineExceeded",
			Message: "Task deadline exceeded",
		}
		swept++
		r.logger.Info("task deadline exceeded",
			slog.String("task_id", t.TaskID),
			slog.Time("deadline_at", t.ExpiresAt),
		)
	}
	return swept
}

// Len reports how many tasks the repository currently holds.
func (r *Repository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tasks)
}

// snapshot deep-copies t so callers never alias repository state.
func snapshot(t *models.Task) *models.Task {
	c := *t
	if t.Result != nil {
		c.Result = make(map[string]any, len(t.Result))
		for k, v := range t.Result {
			c.Result[k] = v
		}
	}
	if t.Error != nil {
		e := *t.Error
		c.Error = &e
	}
	if t.ExecutionTimeMS != nil {
		ms := *t.ExecutionTimeMS
		c.ExecutionTimeMS = &ms
	}
	if t.ToolsUsed != nil {
		c.ToolsUsed = append([]string(nil), t.ToolsUsed...)
	}
	return &c
}
