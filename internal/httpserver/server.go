// Package httpserver exposes the relay over HTTP.
package httpserver

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/groexpert13/sheet/internal/health"
	"github.com/groexpert13/sheet/internal/httpserver/protocol"
	"github.com/groexpert13/sheet/internal/ledger"
	"github.com/groexpert13/sheet/internal/logging"
	"github.com/groexpert13/sheet/internal/metrics"
	"github.com/groexpert13/sheet/internal/ratelimit"
	"github.com/groexpert13/sheet/internal/relay"
)

const defaultMaxBodyBytes = 4 << 20

var defaultEndpointKeys = []string{"chat", "turns", "health", "metrics"}

// Config carries the Server's dependencies. Relay is required.
type Config struct {
	Relay   *relay.Relay
	Ledger  ledger.Store
	Metrics *metrics.Collector
	Logger  *logging.Logger
	// RateLimit, when set, bounds how fast one client can start chat turns.
	RateLimit *ratelimit.Limiter
	// Health, when set, adds dependency checks to /health.
	Health *health.Checker
	// LedgerBackend names the ledger in health output (sqlite, postgres, off).
	LedgerBackend string
	// MaxBodyBytes caps the chat request body. Zero means 4 MiB.
	MaxBodyBytes int64
	// Endpoints selects the registered bundles; empty registers all of them.
	Endpoints []string
}

// Server exposes the chat relay and its operational endpoints.
type Server struct {
	relay         *relay.Relay
	ledger        ledger.Store
	metrics       *metrics.Collector
	logger        *logging.Logger
	health        *health.Checker
	limiter       *ratelimit.Middleware
	ledgerBackend string
	maxBodyBytes  int64
	endpointKeys  []string
}

// New constructs a Server.
func New(cfg Config) *Server {
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = defaultMaxBodyBytes
	}
	backend := cfg.LedgerBackend
	if backend == "" {
		backend = "off"
		if cfg.Ledger != nil {
			backend = "on"
		}
	}
	var limiter *ratelimit.Middleware
	if cfg.RateLimit != nil {
		limiter = ratelimit.NewMiddleware(cfg.RateLimit, cfg.Logger)
		if cfg.Metrics != nil {
			limiter.OnLimited = func(*http.Request) { cfg.Metrics.Rejected("rate_limited") }
		}
	}
	return &Server{
		relay:         cfg.Relay,
		ledger:        cfg.Ledger,
		metrics:       cfg.Metrics,
		logger:        cfg.Logger,
		health:        cfg.Health,
		limiter:       limiter,
		ledgerBackend: backend,
		maxBodyBytes:  maxBody,
		endpointKeys:  normalizeEndpointKeys(cfg.Endpoints, defaultEndpointKeys),
	}
}

// Router returns a configured chi router for embedding in HTTP servers.
func (s *Server) Router() http.Handler {
	r := s.newBaseRouter()
	s.registerEndpointKeys(r, s.endpointKeys...)
	return r
}

func (s *Server) newBaseRouter() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	return r
}

func (s *Server) registerEndpoints(r chi.Router, endpoints ...protocol.Endpoint) {
	for _, ep := range endpoints {
		if ep == nil {
			continue
		}
		s.logger.Debugf("registering endpoint %s", ep.Name())
		for _, route := range ep.Routes() {
			r.Method(route.Method, route.Path, route.Handler)
		}
	}
}

func (s *Server) registerEndpointKeys(r chi.Router, keys ...string) int {
	var endpoints []protocol.Endpoint
	for _, key := range keys {
		if ep := s.endpointByKey(key); ep != nil {
			endpoints = append(endpoints, ep)
		} else {
			s.logger.Warnf("endpoint %s unavailable, skipping registration", key)
		}
	}
	s.registerEndpoints(r, endpoints...)
	return len(endpoints)
}

func (s *Server) endpointByKey(key string) protocol.Endpoint {
	switch key {
	case "chat", "ai":
		return newChatEndpoint(s)
	case "turns", "ledger":
		if s.ledger == nil {
			return nil
		}
		return newTurnsEndpoint(s)
	case "health", "status":
		return newHealthEndpoint(s)
	case "metrics":
		if s.metrics == nil {
			return nil
		}
		return newMetricsEndpoint(s)
	default:
		return nil
	}
}

func normalizeEndpointKeys(list []string, defaults []string) []string {
	if len(list) == 0 {
		list = defaults
	}
	seen := make(map[string]struct{}, len(list))
	out := make([]string, 0, len(list))
	for _, key := range list {
		key = strings.ToLower(strings.TrimSpace(key))
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	return out
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload any) {
	if payload == nil {
		w.WriteHeader(status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) respondError(w http.ResponseWriter, status int, msg string) {
	s.respondJSON(w, status, map[string]any{"error": msg})
}

// respondText writes the plain-text error bodies the chat endpoint promises.
func (s *Server) respondText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}
