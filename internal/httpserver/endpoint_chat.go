package httpserver

import (
	"net/http"

	"github.com/groexpert13/sheet/internal/httpserver/protocol"
	"github.com/groexpert13/sheet/internal/relay"
)

type chatEndpoint struct {
	server *Server
}

func newChatEndpoint(server *Server) protocol.Endpoint {
	return &chatEndpoint{server: server}
}

func (e *chatEndpoint) Name() string { return "chat" }

func (e *chatEndpoint) Routes() []protocol.EndpointRoute {
	return []protocol.EndpointRoute{
		{Method: http.MethodPost, Path: "/api/ai", Handler: e.server.limiter.Wrap(http.HandlerFunc(e.server.HandleChat))},
	}
}

// HandleChat relays one chat turn. Checks run in a fixed order:
// configuration, body decoding, then the upstream call. Until the upstream
// accepts, failures are a single plain-text response; after that the answer
// streams and failures show up inline.
func (s *Server) HandleChat(w http.ResponseWriter, r *http.Request) {
	if err := s.relay.Ready(); err != nil {
		s.relay.Reject(err)
		s.respondText(w, relay.StatusCode(err), relay.Detail(err))
		return
	}

	req, err := relay.Decode(http.MaxBytesReader(w, r.Body, s.maxBodyBytes))
	if err != nil {
		s.relay.Reject(err)
		s.respondText(w, relay.StatusCode(err), relay.Detail(err))
		return
	}

	stream, err := s.relay.Open(r.Context(), req)
	if err != nil {
		s.respondText(w, relay.StatusCode(err), relay.Detail(err))
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/plain; charset=utf-8")
	h.Set("Cache-Control", "no-cache")
	h.Set("X-Accel-Buffering", "no")
	h.Set("X-Turn-ID", stream.TurnID())
	w.WriteHeader(http.StatusOK)

	res := stream.Pump(newFlushSink(w))
	if res.Err != nil {
		s.logger.Infof("turn %s ended %s: %v", res.TurnID, res.Outcome, res.Err)
	}
}
