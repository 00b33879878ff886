package httpserver

import (
	"net/http"
	"time"

	"github.com/groexpert13/sheet/internal/health"
	"github.com/groexpert13/sheet/internal/httpserver/protocol"
	"github.com/groexpert13/sheet/internal/metrics"
	"github.com/groexpert13/sheet/internal/version"
)

type healthEndpoint struct {
	server *Server
}

func newHealthEndpoint(server *Server) protocol.Endpoint {
	return &healthEndpoint{server: server}
}

func (e *healthEndpoint) Name() string { return "health" }

func (e *healthEndpoint) Routes() []protocol.EndpointRoute {
	return []protocol.EndpointRoute{
		{Method: http.MethodGet, Path: "/health", Handler: http.HandlerFunc(e.server.HandleHealth)},
	}
}

// HandleHealth reports liveness. With a checker configured the ledger
// database is pinged; ?deep=1 also checks the upstream API.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status":              "ok",
		"time":                time.Now().UTC().Format(time.RFC3339),
		"version":             version.Version,
		"upstream_configured": s.relay.Ready() == nil,
		"ledger":              s.ledgerBackend,
	}
	status := http.StatusOK
	if s.health != nil {
		deep := r.URL.Query().Get("deep")
		report := s.health.Check(r.Context(), deep == "1" || deep == "true")
		body["status"] = string(report.Status)
		body["components"] = report.Components
		if report.Status == health.StatusUnhealthy {
			status = http.StatusServiceUnavailable
		}
	}
	s.respondJSON(w, status, body)
}

type metricsEndpoint struct {
	server *Server
}

func newMetricsEndpoint(server *Server) protocol.Endpoint {
	return &metricsEndpoint{server: server}
}

func (e *metricsEndpoint) Name() string { return "metrics" }

func (e *metricsEndpoint) Routes() []protocol.EndpointRoute {
	return []protocol.EndpointRoute{
		{Method: http.MethodGet, Path: "/metrics", Handler: http.HandlerFunc(e.server.HandleMetrics)},
	}
}

func (s *Server) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(metrics.FormatPrometheus(s.metrics.GetSnapshot())))
}
