package relay

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/groexpert13/sheet/internal/ledger"
	"github.com/groexpert13/sheet/internal/metrics"
	"github.com/groexpert13/sheet/internal/upstream"
)

const readBufferSize = 8192

// Marker names as they appear in the emitted text and in Result.Markers.
const (
	MarkerError       = "error"
	MarkerWarning     = "warning"
	MarkerStreamError = "stream-error"
)

const connectionLost = "connection lost"

// Sink is the outbound side of a turn. Pump closes it exactly once.
type Sink interface {
	io.Writer
	Close() error
}

// Result summarises one pumped stream.
type Result struct {
	TurnID       string
	Outcome      ledger.Outcome
	Bytes        int64
	TextDeltas   int64
	Refusals     int64
	Markers      []string // in emission order
	SkippedLines int64
	IgnoredLines int64
	// Err is the read or write error that ended the stream early, if any.
	Err      error
	Duration time.Duration
}

// Stream is an open upstream answer for one turn.
type Stream struct {
	relay   *Relay
	parent  context.Context
	ctx     context.Context
	cancel  context.CancelFunc
	body    io.ReadCloser
	entry   ledger.Entry
	input   []upstream.InputMessage
	started time.Time

	once sync.Once
}

// TurnID identifies the turn in logs and the ledger.
func (s *Stream) TurnID() string { return s.entry.TurnID }

// Pump copies the answer text to sink until the upstream ends, fails, or the
// client goes away. Both sink and the upstream body are closed before Pump
// returns. Only the first call on a Stream does any work; later calls just
// close their sink.
func (s *Stream) Pump(sink Sink) Result {
	ran := false
	var res Result
	s.once.Do(func() {
		ran = true
		res = s.pump(sink)
		s.relay.finish(s, res)
	})
	if !ran {
		_ = sink.Close()
		return Result{TurnID: s.entry.TurnID, Outcome: ledger.OutcomeClientGone}
	}
	return res
}

// Close abandons a Stream that will not be pumped.
func (s *Stream) Close() {
	s.once.Do(func() {
		s.release()
		s.relay.finish(s, Result{TurnID: s.entry.TurnID, Outcome: ledger.OutcomeClientGone, Duration: time.Since(s.started)})
	})
}

func (s *Stream) release() {
	s.cancel()
	_ = s.body.Close()
}

func (s *Stream) pump(sink Sink) (res Result) {
	defer s.release()
	defer func() { _ = sink.Close() }()

	res.TurnID = s.entry.TurnID
	defer func() { res.Duration = time.Since(s.started) }()

	w := &emitter{sink: sink, res: &res}
	var lines upstream.LineSplitter
	buf := make([]byte, readBufferSize)
	for {
		n, err := s.body.Read(buf)
		if n > 0 {
			for _, line := range lines.Feed(buf[:n]) {
				if !s.handleLine(line, w) {
					res.Outcome = ledger.OutcomeClientGone
					res.Err = w.err
					return res
				}
			}
		}
		if err == nil {
			continue
		}
		if errors.Is(err, io.EOF) {
			// A trailing line without a newline is not a complete event.
			if pending := lines.Pending(); pending > 0 {
				s.relay.logger.Debugf("turn %s: dropped %d bytes of unterminated trailing line", res.TurnID, pending)
			}
			res.Outcome = ledger.OutcomeCompleted
			return res
		}
		res.Err = err
		if s.parent.Err() != nil {
			res.Outcome = ledger.OutcomeClientGone
			return res
		}
		res.Outcome = ledger.OutcomeDisconnected
		msg := err.Error()
		if msg == "" {
			msg = connectionLost
		}
		s.relay.logger.Warnf("turn %s: upstream read failed: %v", res.TurnID, err)
		if w.marker(MarkerStreamError, msg) {
			return res
		}
		res.Outcome = ledger.OutcomeClientGone
		return res
	}
}

// handleLine emits whatever line contributes and reports whether the sink is
// still accepting writes.
func (s *Stream) handleLine(line string, w *emitter) bool {
	ev, status := upstream.ParseLine(line)
	switch status {
	case upstream.LineIgnored, upstream.LineDone:
		w.res.IgnoredLines++
		return true
	case upstream.LineMalformed:
		w.res.SkippedLines++
		s.relay.logger.Debugf("turn %s: skipped malformed line (%d bytes)", s.entry.TurnID, len(line))
		return true
	}

	switch ev.Kind {
	case upstream.KindTextDelta:
		w.res.TextDeltas++
		return w.text(ev.Text)
	case upstream.KindRefusalDelta:
		w.res.Refusals++
		return w.text(ev.Text)
	case upstream.KindError:
		return w.marker(MarkerError, ev.Text)
	case upstream.KindWarning:
		return w.marker(MarkerWarning, ev.Text)
	default:
		return true
	}
}

type emitter struct {
	sink Sink
	res  *Result
	err  error
}

func (e *emitter) text(s string) bool {
	if s == "" {
		return true
	}
	n, err := io.WriteString(e.sink, s)
	e.res.Bytes += int64(n)
	if err != nil {
		e.err = err
		return false
	}
	return true
}

func (e *emitter) marker(name, msg string) bool {
	e.res.Markers = append(e.res.Markers, name)
	return e.text("\n[" + name + "] " + msg)
}

func (r *Relay) finish(s *Stream, res Result) {
	if r.metrics != nil {
		r.metrics.TurnFinished(string(res.Outcome), res.Duration)
		r.metrics.RecordStream(metrics.StreamStats{
			Bytes:        res.Bytes,
			TextDeltas:   res.TextDeltas,
			Refusals:     res.Refusals,
			Markers:      countMarkers(res.Markers),
			SkippedLines: res.SkippedLines,
			IgnoredLines: res.IgnoredLines,
		})
	}
	if res.SkippedLines > 0 {
		r.logger.Infof("turn %s: skipped %d malformed upstream lines", res.TurnID, res.SkippedLines)
	}
	r.logger.Debugf("turn %s: %s after %v (%d bytes, %d deltas)", res.TurnID, res.Outcome, res.Duration, res.Bytes, res.TextDeltas+res.Refusals)

	entry := s.entry
	entry.Outcome = res.Outcome
	entry.OutputBytes = res.Bytes
	entry.Deltas = res.TextDeltas + res.Refusals
	entry.Markers = res.Markers
	entry.SkippedLines = res.SkippedLines
	entry.DurationMS = res.Duration.Milliseconds()
	r.record(entry, s.input)
}

func countMarkers(markers []string) map[string]int64 {
	if len(markers) == 0 {
		return nil
	}
	out := make(map[string]int64, len(markers))
	for _, m := range markers {
		out[m]++
	}
	return out
}
