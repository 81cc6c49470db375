package gateway

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/soyeahso/chanhub/internal/domain"
	"github.com/soyeahso/chanhub/internal/routing"
)

// HealthResponse is returned by /health. Unauthenticated callers only
// see Status.
type HealthResponse struct {
	Status   string         `json:"status"`
	Version  string         `json:"version,omitempty"`
	State    string         `json:"state,omitempty"`
	UptimeMs int64          `json:"uptimeMs,omitempty"`
	Channels int            `json:"channels,omitempty"`
	Messages *routing.Stats `json:"messages,omitempty"`
}

// ChannelsResponse is returned by /channels.
type ChannelsResponse struct {
	State    string                 `json:"state"`
	Channels []domain.ChannelStatus `json:"channels"`
}

// ProbeResult is one adapter's entry in /channels/health.
type ProbeResult struct {
	Name      string `json:"name"`
	Healthy   bool   `json:"healthy"`
	LatencyMs int64  `json:"latencyMs"`
	Error     string `json:"error,omitempty"`
}

// ChannelsHealthResponse is returned by /channels/health.
type ChannelsHealthResponse struct {
	CheckedAt time.Time     `json:"checkedAt"`
	Healthy   bool          `json:"healthy"`
	Channels  []ProbeResult `json:"channels"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// handleNotFound returns a 404 for unknown routes.
func handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, map[string]string{
		"error": "not found",
		"path":  r.URL.Path,
	})
}
