package registry

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/xymarket/node/internal/models"
)

type Handler struct {
	svc Service
	log *slog.Logger
}

func NewHandler(svc Service, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{svc: svc, log: log}
}

// --- POST /register ---

func (h *Handler) RegisterAgent(w http.ResponseWriter, r *http.Request) {
	var req models.RegistrationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid JSON body")
		return
	}

	resp, err := h.svc.Register(r.Context(), &req)
	if err != nil {
		var conflict *ConflictError
		switch {
		case errors.As(err, &conflict):
			writeError(w, http.StatusConflict, "AGENT_ALREADY_REGISTERED", conflict.Message)
		case errors.Is(err, ErrValidation):
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error())
		default:
			h.log.Error("agent registration failed", slog.Any("error", err))
			writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to register agent")
		}
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// --- GET /register/new_entries ---

// NewEntries lists registered agents for buyer-side discovery. Bad or
// missing pagination parameters fall back to limit=100, offset=0.
func (h *Handler) NewEntries(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 100)
	offset := queryInt(r, "offset", 0)

	agents, err := h.svc.ListAgents(r.Context(), limit, offset)
	if err != nil {
		h.log.Error("agent listing failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list agents")
		return
	}
	if agents == nil {
		agents = []*models.AgentProfile{}
	}
	writeJSON(w, http.StatusOK, agents)
}

// --- GET /health ---

func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "marketplace"})
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"error_code": code, "message": message})
}
