package seller

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/xymarket/node/internal/models"
	"github.com/xymarket/node/internal/task"
)

// ---------------------------------------------------------------------------
// Mocks
// ---------------------------------------------------------------------------

// --- ExecutionService mock ---

type mockExec struct {
	created   []models.ExecutionRequest
	createRes *models.ExecutionResult
	createErr error
	statusRes *models.ExecutionResult
	statusErr error
	gotID     string
	gotSecret string
}

func (m *mockExec) CreateTask(_ context.Context, req models.ExecutionRequest) (*models.ExecutionResult, error) {
	m.created = append(m.created, req)
	return m.createRes, m.createErr
}

func (m *mockExec) GetTaskStatus(taskID, buyerSecret string) (*models.ExecutionResult, error) {
	m.gotID, m.gotSecret = taskID, buyerSecret
	return m.statusRes, m.statusErr
}

func acceptedEnvelope() *models.ExecutionResult {
	return &models.ExecutionResult{
		TaskID:      "task-1",
		BuyerSecret: "secret-1",
		Status:      models.TaskStatusInProgress,
		CreatedAt:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		DeadlineAt:  time.Date(2026, 3, 1, 12, 5, 0, 0, time.UTC),
		Data:        map[string]any{"tools_used": []string{}},
	}
}

func newTestHandler(exec *mockExec, pricingPath string) *Handler {
	return NewHandler(exec, pricingPath, nil)
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body: %v (%s)", err, rec.Body.String())
	}
	return body
}

// =====================================================================
// POST /execute
// =====================================================================

func TestExecuteTaskAccepted(t *testing.T) {
	exec := &mockExec{createRes: acceptedEnvelope()}
	h := newTestHandler(exec, "")

	body := `{"task_description":"find moon landing transcripts","context":{"mission":"apollo 11"},"secrets":{"api_key":"k"}}`
	req := httptest.NewRequest(http.MethodPost, "/execute", strings.NewReader(body))
	rec := httptest.NewRecorder()

	h.ExecuteTask(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp models.ExecutionResult
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.TaskID != "task-1" || resp.BuyerSecret != "secret-1" {
		t.Fatalf("unexpected envelope: %+v", resp)
	}
	if resp.Status != models.TaskStatusInProgress {
		t.Fatalf("expected in_progress, got %s", resp.Status)
	}

	if len(exec.created) != 1 {
		t.Fatalf("expected one CreateTask call, got %d", len(exec.created))
	}
	got := exec.created[0]
	if got.TaskDescription != "find moon landing transcripts" {
		t.Fatalf("unexpected request: %+v", got)
	}
	if got.Secrets["api_key"] != "k" {
		t.Fatalf("secrets not forwarded: %+v", got.Secrets)
	}
}

func TestExecuteTaskMalformedJSON(t *testing.T) {
	h := newTestHandler(&mockExec{}, "")

	req := httptest.NewRequest(http.MethodPost, "/execute", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	h.ExecuteTask(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
	if body := decodeError(t, rec); body["error_code"] != "INVALID_REQUEST" {
		t.Fatalf("unexpected error_code %q", body["error_code"])
	}
}

func TestExecuteTaskSchemaViolations(t *testing.T) {
	cases := map[string]string{
		"missing description": `{"context":{}}`,
		"empty description":   `{"task_description":""}`,
		"wrong type":          `{"task_description":42}`,
		"bad secrets":         `{"task_description":"x","secrets":{"k":1}}`,
		"bad context":         `{"task_description":"x","context":"nope"}`,
	}
	for name, body := range cases {
		exec := &mockExec{}
		h := newTestHandler(exec, "")
		req := httptest.NewRequest(http.MethodPost, "/execute", strings.NewReader(body))
		rec := httptest.NewRecorder()
		h.ExecuteTask(rec, req)

		if rec.Code != http.StatusUnprocessableEntity {
			t.Fatalf("%s: expected 422, got %d: %s", name, rec.Code, rec.Body.String())
		}
		if resp := decodeError(t, rec); resp["error_code"] != "VALIDATION_ERROR" {
			t.Fatalf("%s: unexpected error_code %q", name, resp["error_code"])
		}
		if len(exec.created) != 0 {
			t.Fatalf("%s: CreateTask must not be called", name)
		}
	}
}

func TestExecuteTaskEngineFailure(t *testing.T) {
	exec := &mockExec{createErr: errors.New("engine down")}
	h := newTestHandler(exec, "")

	req := httptest.NewRequest(http.MethodPost, "/execute", strings.NewReader(`{"task_description":"x"}`))
	rec := httptest.NewRecorder()
	h.ExecuteTask(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d: %s", rec.Code, rec.Body.String())
	}
	if body := decodeError(t, rec); body["error_code"] != "EXECUTION_FAILED" {
		t.Fatalf("unexpected error_code %q", body["error_code"])
	}
}

// =====================================================================
// GET /tasks/{task_id}
// =====================================================================

func TestGetTaskStatusOK(t *testing.T) {
	exec := &mockExec{statusRes: acceptedEnvelope()}
	h := newTestHandler(exec, "")

	req := httptest.NewRequest(http.MethodGet, "/tasks/task-1", nil)
	req.SetPathValue("task_id", "task-1")
	req.Header.Set("X-Buyer-Secret", "secret-1")
	rec := httptest.NewRecorder()
	h.GetTaskStatus(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if exec.gotID != "task-1" || exec.gotSecret != "secret-1" {
		t.Fatalf("handler passed %q/%q", exec.gotID, exec.gotSecret)
	}
}

func TestGetTaskStatusMissingHeader(t *testing.T) {
	h := newTestHandler(&mockExec{}, "")

	req := httptest.NewRequest(http.MethodGet, "/tasks/task-1", nil)
	req.SetPathValue("task_id", "task-1")
	rec := httptest.NewRecorder()
	h.GetTaskStatus(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeError(t, rec)
	if body["error_code"] != "VALIDATION_ERROR" {
		t.Fatalf("unexpected error_code %q", body["error_code"])
	}
	if body["message"] != "X-Buyer-Secret header is required" {
		t.Fatalf("unexpected message %q", body["message"])
	}
}

func TestGetTaskStatusNotFound(t *testing.T) {
	exec := &mockExec{statusErr: task.ErrNotFound}
	h := newTestHandler(exec, "")

	req := httptest.NewRequest(http.MethodGet, "/tasks/ghost", nil)
	req.SetPathValue("task_id", "ghost")
	req.Header.Set("X-Buyer-Secret", "wrong")
	rec := httptest.NewRecorder()
	h.GetTaskStatus(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeError(t, rec)
	if body["error_code"] != "TASK_NOT_FOUND" {
		t.Fatalf("unexpected error_code %q", body["error_code"])
	}
	if body["message"] != "Task not found or invalid secret: ghost" {
		t.Fatalf("unexpected message %q", body["message"])
	}
}

func TestGetTaskStatusInternalError(t *testing.T) {
	exec := &mockExec{statusErr: errors.New("store corrupted")}
	h := newTestHandler(exec, "")

	req := httptest.NewRequest(http.MethodGet, "/tasks/task-1", nil)
	req.SetPathValue("task_id", "task-1")
	req.Header.Set("X-Buyer-Secret", "secret-1")
	rec := httptest.NewRecorder()
	h.GetTaskStatus(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d: %s", rec.Code, rec.Body.String())
	}
	if body := decodeError(t, rec); body["error_code"] != "INTERNAL_ERROR" {
		t.Fatalf("unexpected error_code %q", body["error_code"])
	}
}

// =====================================================================
// GET /pricing
// =====================================================================

func TestGetPricingServesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tool_pricing.yaml")
	contents := "get_weather_forecast:\n  - chain_id: 8453\n    token_address: \"0xabc\"\n    token_amount: 1000\n"
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write pricing: %v", err)
	}
	h := newTestHandler(&mockExec{}, path)

	rec := httptest.NewRecorder()
	h.GetPricing(rec, httptest.NewRequest(http.MethodGet, "/pricing", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, hasErr := body["error"]; hasErr {
		t.Fatalf("unexpected error field: %v", body)
	}
	pricing, ok := body["pricing"].(map[string]any)
	if !ok {
		t.Fatalf("unexpected pricing: %+v", body["pricing"])
	}
	if _, ok := pricing["get_weather_forecast"]; !ok {
		t.Fatalf("missing operation in pricing: %+v", pricing)
	}
}

func TestGetPricingMissingFile(t *testing.T) {
	h := newTestHandler(&mockExec{}, filepath.Join(t.TempDir(), "absent.yaml"))

	rec := httptest.NewRecorder()
	h.GetPricing(rec, httptest.NewRequest(http.MethodGet, "/pricing", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["error"] != "Pricing configuration not found" {
		t.Fatalf("unexpected error: %v", body["error"])
	}
	if pricing, ok := body["pricing"].(map[string]any); !ok || len(pricing) != 0 {
		t.Fatalf("expected empty pricing, got %+v", body["pricing"])
	}
}

func TestGetPricingParseFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tool_pricing.yaml")
	if err := os.WriteFile(path, []byte("{{not yaml"), 0o644); err != nil {
		t.Fatalf("write pricing: %v", err)
	}
	h := newTestHandler(&mockExec{}, path)

	rec := httptest.NewRecorder()
	h.GetPricing(rec, httptest.NewRequest(http.MethodGet, "/pricing", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["error"] != "Failed to load pricing configuration" {
		t.Fatalf("unexpected error: %v", body["error"])
	}
}

// =====================================================================
// Health & demo endpoints
// =====================================================================

func TestHealth(t *testing.T) {
	h := newTestHandler(&mockExec{}, "")

	rec := httptest.NewRecorder()
	h.Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" || body["service"] != "seller" {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestAdminLogs(t *testing.T) {
	h := newTestHandler(&mockExec{}, "")

	rec := httptest.NewRecorder()
	h.AdminLogs(rec, httptest.NewRequest(http.MethodGet, "/api/admin/logs", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body struct {
		Logs []map[string]string `json:"logs"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Logs) == 0 {
		t.Fatal("expected canned log entries")
	}
	last := body.Logs[len(body.Logs)-1]
	if last["message"] != "Glad you have read this message" {
		t.Fatalf("unexpected final entry: %+v", last)
	}
}

func TestForecast(t *testing.T) {
	h := newTestHandler(&mockExec{}, "")

	req := httptest.NewRequest(http.MethodPost, "/hybrid/forecast", strings.NewReader(`{"location":"tokyo"}`))
	rec := httptest.NewRecorder()
	h.Forecast(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["ok"] != true {
		t.Fatalf("expected ok:true, got %+v", body)
	}
	forecast, ok := body["forecast"].(map[string]any)
	if !ok || forecast["location"] != "tokyo" {
		t.Fatalf("unexpected forecast: %+v", body["forecast"])
	}
}
