package httpserver

import (
	"errors"
	"net/http"
	"sync"
)

var errSinkClosed = errors.New("response stream closed")

// flushSink pushes every write to the client immediately so the answer
// renders as it arrives.
type flushSink struct {
	w       http.ResponseWriter
	flusher http.Flusher

	mu     sync.Mutex
	closed bool
}

func newFlushSink(w http.ResponseWriter) *flushSink {
	f, _ := w.(http.Flusher)
	return &flushSink{w: w, flusher: f}
}

func (s *flushSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, errSinkClosed
	}
	n, err := s.w.Write(p)
	if err != nil {
		return n, err
	}
	if s.flusher != nil {
		s.flusher.Flush()
	}
	return n, nil
}

// Close ends the sink. The response itself completes when the handler returns.
func (s *flushSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
