package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/soyeahso/chanhub/internal/channel"
	"github.com/soyeahso/chanhub/internal/domain"
)

// probeTimeout caps an on-demand /channels/health probe on top of the
// registry's per-adapter health timeout.
const probeTimeout = 30 * time.Second

// registerHTTPRoutes sets up all HTTP routes on the server mux.
func (s *Server) registerHTTPRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /channels", s.requireAuth(s.handleChannels))
	mux.HandleFunc("GET /channels/health", s.requireAuth(s.handleChannelsHealth))

	mux.HandleFunc("/", handleNotFound)
}

func (s *Server) registryState() channel.State {
	if s.channels == nil {
		return channel.StateUninitialized
	}
	return s.channels.State()
}

// handleHealth reports liveness. Callers without a valid token only get
// the status field.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	state := s.registryState()
	resp := HealthResponse{Status: "ok"}
	code := http.StatusOK
	if s.channels != nil && state != channel.StateRunning {
		resp.Status = state.String()
		code = http.StatusServiceUnavailable
	}

	if s.authorized(r) {
		resp.Version = s.version
		resp.State = state.String()
		resp.UptimeMs = s.uptime().Milliseconds()
		if s.channels != nil {
			resp.Channels = s.channels.Count()
		}
		if s.router != nil {
			st := s.router.Stats()
			resp.Messages = &st
		}
	}
	writeJSON(w, code, resp)
}

func (s *Server) handleChannels(w http.ResponseWriter, r *http.Request) {
	statuses := []domain.ChannelStatus{}
	if s.channels != nil {
		statuses = s.channels.Status()
	}
	writeJSON(w, http.StatusOK, ChannelsResponse{
		State:    s.registryState().String(),
		Channels: statuses,
	})
}

// handleChannelsHealth probes every running adapter now, or with ?cached=1
// returns the monitor's last results.
func (s *Server) handleChannelsHealth(w http.ResponseWriter, r *http.Request) {
	if s.channels == nil {
		writeJSON(w, http.StatusOK, ChannelsHealthResponse{Healthy: true, Channels: []ProbeResult{}})
		return
	}

	var (
		at      time.Time
		results []domain.HealthResult
	)
	if r.URL.Query().Get("cached") != "" && s.monitor != nil {
		at, results = s.monitor.Last()
	}
	if at.IsZero() {
		ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
		defer cancel()
		at = time.Now()
		results = s.channels.Probe(ctx)
	}

	resp := ChannelsHealthResponse{
		CheckedAt: at,
		Healthy:   true,
		Channels:  make([]ProbeResult, 0, len(results)),
	}
	for _, res := range results {
		if !res.Healthy {
			resp.Healthy = false
		}
		resp.Channels = append(resp.Channels, ProbeResult{
			Name:      res.Name,
			Healthy:   res.Healthy,
			LatencyMs: res.Latency.Milliseconds(),
			Error:     res.Error(),
		})
	}

	code := http.StatusOK
	if !resp.Healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}
