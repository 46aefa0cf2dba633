package seller

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/xymarket/node/internal/models"
	"github.com/xymarket/node/internal/task"
)

// ExecutionService is the slice of the execution engine the handlers need.
type ExecutionService interface {
	CreateTask(ctx context.Context, req models.ExecutionRequest) (*models.ExecutionResult, error)
	GetTaskStatus(taskID, buyerSecret string) (*models.ExecutionResult, error)
}

// Handler serves the seller node's REST endpoints.
type Handler struct {
	Exec        ExecutionService
	PricingPath string
	Logger      *slog.Logger
}

func NewHandler(exec ExecutionService, pricingPath string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{Exec: exec, PricingPath: pricingPath, Logger: logger}
}

// --- POST /execute ---

// ExecuteTask accepts a task and responds 202 with the initial envelope
// before the runner starts.
func (h *Handler) ExecuteTask(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "failed to read request body")
		return
	}

	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid JSON body")
		return
	}
	if err := ValidateExecuteBody(generic); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error())
		return
	}

	var req models.ExecutionRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid JSON body")
		return
	}

	res, err := h.Exec.CreateTask(r.Context(), req)
	if err != nil {
		h.Logger.Error("task creation failed", "error", err)
		writeError(w, http.StatusInternalServerError, "EXECUTION_FAILED", "Failed to start task execution")
		return
	}

	writeJSON(w, http.StatusAccepted, res)
}

// --- GET /tasks/{task_id} ---

// GetTaskStatus returns the task envelope for callers presenting the
// buyer secret issued at creation.
func (h *Handler) GetTaskStatus(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("task_id")
	secret := r.Header.Get("X-Buyer-Secret")
	if secret == "" {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "X-Buyer-Secret header is required")
		return
	}

	res, err := h.Exec.GetTaskStatus(taskID, secret)
	if err != nil {
		if errors.Is(err, task.ErrNotFound) {
			writeError(w, http.StatusNotFound, "TASK_NOT_FOUND", "Task not found or invalid secret: "+taskID)
			return
		}
		h.Logger.Error("task lookup failed", "task_id", taskID, "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load task")
		return
	}

	writeJSON(w, http.StatusOK, res)
}

// --- GET /pricing ---

// GetPricing discloses the pricing table. The file is read on every
// request so operators can edit prices without a restart; all outcomes
// are 200 so buyers can always probe.
func (h *Handler) GetPricing(w http.ResponseWriter, _ *http.Request) {
	raw, err := os.ReadFile(h.PricingPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			writeJSON(w, http.StatusOK, map[string]any{
				"error":   "Pricing configuration not found",
				"pricing": map[string]any{},
			})
			return
		}
		h.Logger.Error("pricing config read failed", "path", h.PricingPath, "error", err)
		writeJSON(w, http.StatusOK, map[string]any{
			"error":   "Failed to load pricing configuration",
			"pricing": map[string]any{},
		})
		return
	}

	var pricing map[string]any
	if err := yaml.Unmarshal(raw, &pricing); err != nil {
		h.Logger.Error("pricing config parse failed", "path", h.PricingPath, "error", err)
		writeJSON(w, http.StatusOK, map[string]any{
			"error":   "Failed to load pricing configuration",
			"pricing": map[string]any{},
		})
		return
	}
	if pricing == nil {
		pricing = map[string]any{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"pricing": pricing})
}

// --- GET /health ---

func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "seller"})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"error_code": code, "message": message})
}
