package httpserver

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/groexpert13/sheet/internal/httpserver/protocol"
	"github.com/groexpert13/sheet/internal/ledger"
)

const (
	defaultTurnsLimit = 20
	maxTurnsLimit     = 200
)

type turnsEndpoint struct {
	server *Server
}

func newTurnsEndpoint(server *Server) protocol.Endpoint {
	return &turnsEndpoint{server: server}
}

func (e *turnsEndpoint) Name() string { return "turns" }

func (e *turnsEndpoint) Routes() []protocol.EndpointRoute {
	return []protocol.EndpointRoute{
		{Method: http.MethodGet, Path: "/api/ai/turns", Handler: http.HandlerFunc(e.server.HandleTurns)},
	}
}

// HandleTurns lists a user's recent relayed turns with their totals.
func (s *Server) HandleTurns(w http.ResponseWriter, r *http.Request) {
	user := strings.TrimSpace(r.URL.Query().Get("user"))
	if user == "" {
		user = ledger.DefaultUser
	}
	limit := defaultTurnsLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxTurnsLimit)
	}

	entries, err := s.ledger.ListRecent(r.Context(), user, limit)
	if err != nil {
		s.logger.Errorf("list turns for %s: %v", user, err)
		s.respondError(w, http.StatusInternalServerError, "ledger unavailable")
		return
	}
	summary, err := s.ledger.Summary(r.Context(), user)
	if err != nil {
		s.logger.Errorf("summarise turns for %s: %v", user, err)
		s.respondError(w, http.StatusInternalServerError, "ledger unavailable")
		return
	}
	if entries == nil {
		entries = []ledger.Entry{}
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"user":    user,
		"summary": summary,
		"turns":   entries,
	})
}
