package testutil

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"
)

type IPv4Server struct {
	URL       string
	listener  net.Listener
	server    *http.Server
	transport *http.Transport
	client    *http.Client
}

// NewIPv4Server starts an HTTP server bound to the IPv4 loopback interface.
func NewIPv4Server(t *testing.T, handler http.Handler) *IPv4Server {
	t.Helper()
	if handler == nil {
		handler = http.NewServeMux()
	}
	l, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Skipf("skipping test: tcp4 loopback unavailable (%v)", err)
	}
	transport := &http.Transport{}
	s := &IPv4Server{
		URL:       "http://" + l.Addr().String(),
		listener:  l,
		server:    &http.Server{Handler: handler},
		transport: transport,
		client:    &http.Client{Transport: transport},
	}
	go func() {
		if err := s.server.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.Logf("IPv4Server serve error: %v", err)
		}
	}()
	t.Cleanup(s.Close)
	return s
}

// Client returns an HTTP client configured for the server.
func (s *IPv4Server) Client() *http.Client {
	return s.client
}

// Close shuts down the underlying server and frees resources. Safe to call twice.
func (s *IPv4Server) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = s.server.Shutdown(ctx)
	s.transport.CloseIdleConnections()
}

// Upstream is a scripted stand-in for the Responses API. With Status unset
// or 200 it writes Lines as an event stream, one flush per line; any other
// Status is answered with Body as a plain error response.
type Upstream struct {
	Status int
	Body   string
	Lines  []string
	// Delay is slept between lines.
	Delay time.Duration
	// Abort hijacks the connection after the lines are written and closes it
	// without terminating the chunked body, so readers see a broken stream.
	Abort bool

	mu       sync.Mutex
	requests []CapturedRequest
}

// CapturedRequest is what the Upstream saw of one call.
type CapturedRequest struct {
	Header http.Header
	Body   string
}

// Requests returns every request received so far.
func (u *Upstream) Requests() []CapturedRequest {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]CapturedRequest(nil), u.requests...)
}

func (u *Upstream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var sb strings.Builder
	if r.Body != nil {
		buf := make([]byte, 4096)
		for {
			n, err := r.Body.Read(buf)
			sb.Write(buf[:n])
			if err != nil {
				break
			}
		}
	}
	u.mu.Lock()
	u.requests = append(u.requests, CapturedRequest{Header: r.Header.Clone(), Body: sb.String()})
	u.mu.Unlock()

	if u.Status != 0 && u.Status != http.StatusOK {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(u.Status)
		_, _ = w.Write([]byte(u.Body))
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	flusher, _ := w.(http.Flusher)
	for _, line := range u.Lines {
		if _, err := w.Write([]byte(line + "\n")); err != nil {
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
		if u.Delay > 0 {
			time.Sleep(u.Delay)
		}
	}
	if u.Abort {
		if hj, ok := w.(http.Hijacker); ok {
			if conn, _, err := hj.Hijack(); err == nil {
				_ = conn.Close()
			}
		}
	}
}
