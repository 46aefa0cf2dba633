package seller

import (
	"encoding/json"
	"net/http"
	"strings"
)

// Demo endpoints. They exist so a fresh node has something priced to sell;
// deployments replace or drop them.

// --- GET /api/admin/logs ---

// AdminLogs serves a canned operator log feed behind the get_admin_logs
// operation id.
func (h *Handler) AdminLogs(w http.ResponseWriter, _ *http.Request) {
	h.Logger.Info("paid admin logs endpoint accessed")
	writeJSON(w, http.StatusOK, map[string]any{
		"logs": []map[string]string{
			{
				"timestamp": "2025-01-01T00:00:00Z",
				"level":     "INFO",
				"message":   "Server started",
			},
			{
				"timestamp": "2025-01-01T00:01:00Z",
				"level":     "INFO",
				"message":   "Glad you have read this message",
			},
		},
	})
}

// --- POST /hybrid/forecast ---

type forecastRequest struct {
	Location string `json:"location"`
}

// Forecast serves the get_weather_forecast operation with a deterministic
// payload so paid calls are reproducible.
func (h *Handler) Forecast(w http.ResponseWriter, r *http.Request) {
	var req forecastRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	location := strings.TrimSpace(req.Location)
	if location == "" {
		location = "anywhere"
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"forecast": map[string]any{
			"location":      location,
			"condition":     "clear",
			"temperature_c": 21,
		},
	})
}
