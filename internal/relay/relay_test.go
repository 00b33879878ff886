package relay

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"testing/iotest"
	"time"

	"github.com/groexpert13/sheet/internal/ledger"
	"github.com/groexpert13/sheet/internal/metrics"
	"github.com/groexpert13/sheet/internal/testutil"
	"github.com/groexpert13/sheet/internal/upstream"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

// bodyClient answers every call with 200 and the given body.
func bodyClient(body func() io.Reader) *http.Client {
	return &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: http.StatusOK,
			Header:     http.Header{"Content-Type": []string{"text/event-stream"}},
			Body:       io.NopCloser(body()),
			Request:    r,
		}, nil
	})}
}

type recordingSink struct {
	mu       sync.Mutex
	sb       strings.Builder
	closes   int
	writes   int
	failFrom int // writes numbered >= failFrom fail; 0 disables
	onWrite  func()
}

func (s *recordingSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	s.writes++
	n := s.writes
	s.mu.Unlock()
	if s.failFrom > 0 && n >= s.failFrom {
		return 0, errors.New("broken pipe")
	}
	s.mu.Lock()
	s.sb.Write(p)
	s.mu.Unlock()
	if s.onWrite != nil {
		s.onWrite()
	}
	return len(p), nil
}

func (s *recordingSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	return nil
}

func (s *recordingSink) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sb.String()
}

type memoryLedger struct {
	mu      sync.Mutex
	entries []ledger.Entry
}

func (m *memoryLedger) Record(_ context.Context, e ledger.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

func (m *memoryLedger) Summary(context.Context, string) (ledger.Summary, error) {
	return ledger.Summary{}, nil
}

func (m *memoryLedger) ListRecent(context.Context, string, int) ([]ledger.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ledger.Entry(nil), m.entries...), nil
}

func (m *memoryLedger) Close() error { return nil }

func (m *memoryLedger) all() []ledger.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ledger.Entry(nil), m.entries...)
}

func helloRequest() ChatRequest {
	return ChatRequest{Messages: []Message{{Role: "user", Content: "hello"}}}
}

func newTestRelay(hc *http.Client, baseURL string, led ledger.Store, col *metrics.Collector) *Relay {
	return New(Config{
		Upstream: upstream.New(upstream.Config{APIKey: "sk-test", BaseURL: baseURL, HTTPClient: hc}),
		Metrics:  col,
		Ledger:   led,
	})
}

func pumpBody(t *testing.T, body func() io.Reader) (Result, *recordingSink, *memoryLedger) {
	t.Helper()
	led := &memoryLedger{}
	r := newTestRelay(bodyClient(body), "http://upstream.invalid/v1", led, metrics.NewCollector())
	stream, err := r.Open(context.Background(), helloRequest())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	sink := &recordingSink{}
	res := stream.Pump(sink)
	r.Wait()
	return res, sink, led
}

func lines(ls ...string) func() io.Reader {
	return func() io.Reader { return strings.NewReader(strings.Join(ls, "\n") + "\n") }
}

func TestPump_SkipsMalformedLine(t *testing.T) {
	res, sink, _ := pumpBody(t, lines(
		`data: {"type":"response.output_text.delta","delta":"hi"}`,
		`data: {not json`,
		`data: [DONE]`,
	))
	if got := sink.String(); got != "hi" {
		t.Fatalf("output = %q, want %q", got, "hi")
	}
	if res.SkippedLines != 1 || res.Outcome != ledger.OutcomeCompleted {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestPump_ConcatenatesDeltasAndIgnoresOtherLines(t *testing.T) {
	res, sink, _ := pumpBody(t, lines(
		`event: response.output_text.delta`,
		`data: {"type":"response.output_text.delta","delta":"Hel"}`,
		``,
		`: keepalive`,
		`data: {"type":"response.created","response":{"id":"r1"}}`,
		`data: {"type":"response.output_text.delta","delta":"lo"}`,
		`data: {"type":"response.output_text.delta","delta":42}`,
		`data: [DONE]`,
		`data: {"type":"response.refusal.delta","delta":"!"}`,
	))
	if got := sink.String(); got != "Hello!" {
		t.Fatalf("output = %q", got)
	}
	if res.TextDeltas != 2 || res.Refusals != 1 || res.IgnoredLines != 4 {
		t.Fatalf("unexpected counts %+v", res)
	}
	if res.Bytes != int64(len("Hello!")) {
		t.Fatalf("bytes = %d", res.Bytes)
	}
}

func TestPump_OneByteReadsKeepUTF8Intact(t *testing.T) {
	_, sink, _ := pumpBody(t, func() io.Reader {
		return iotest.OneByteReader(strings.NewReader(
			`data: {"type":"response.output_text.delta","delta":"Привет, "}` + "\n" +
				`data: {"type":"response.output_text.delta","delta":"мир 👋"}` + "\n"))
	})
	if got := sink.String(); got != "Привет, мир 👋" {
		t.Fatalf("output = %q", got)
	}
}

func TestPump_ErrorAndWarningMarkers(t *testing.T) {
	res, sink, led := pumpBody(t, lines(
		`data: {"type":"response.output_text.delta","delta":"ok"}`,
		`data: {"type":"response.error","error":{"message":"boom"}}`,
		`data: {"type":"error"}`,
		`data: {"type":"warning","warning":"careful"}`,
		`data: {"type":"warning","warning":""}`,
	))
	want := "ok\n[error] boom\n[error] Model error\n[warning] careful"
	if got := sink.String(); got != want {
		t.Fatalf("output = %q, want %q", got, want)
	}
	if strings.Join(res.Markers, ",") != "error,error,warning" {
		t.Fatalf("markers = %v", res.Markers)
	}
	entries := led.all()
	if len(entries) != 1 || entries[0].Outcome != ledger.OutcomeCompleted || len(entries[0].Markers) != 3 {
		t.Fatalf("ledger = %+v", entries)
	}
}

func TestPump_DropsUnterminatedTrailingLine(t *testing.T) {
	_, sink, _ := pumpBody(t, func() io.Reader {
		return strings.NewReader(`data: {"type":"response.output_text.delta","delta":"A"}` + "\n" +
			`data: {"type":"response.output_text.delta","delta":"B"}`)
	})
	if got := sink.String(); got != "A" {
		t.Fatalf("output = %q", got)
	}
}

func TestPump_ReadFailureAppendsStreamError(t *testing.T) {
	res, sink, led := pumpBody(t, func() io.Reader {
		return io.MultiReader(
			lines(`data: {"type":"response.output_text.delta","delta":"A"}`,
				`data: {"type":"response.output_text.delta","delta":"B"}`)(),
			iotest.ErrReader(errors.New("connection reset by peer")),
		)
	})
	if got := sink.String(); got != "AB\n[stream-error] connection reset by peer" {
		t.Fatalf("output = %q", got)
	}
	if res.Outcome != ledger.OutcomeDisconnected || sink.closes != 1 {
		t.Fatalf("outcome = %s closes = %d", res.Outcome, sink.closes)
	}
	if entries := led.all(); len(entries) != 1 || entries[0].Outcome != ledger.OutcomeDisconnected {
		t.Fatalf("ledger = %+v", entries)
	}
}

func TestPump_EmptyReadErrorSaysConnectionLost(t *testing.T) {
	_, sink, _ := pumpBody(t, func() io.Reader { return iotest.ErrReader(errors.New("")) })
	if got := sink.String(); got != "\n[stream-error] connection lost" {
		t.Fatalf("output = %q", got)
	}
}

func TestPump_EmptySuccessStreamsNothing(t *testing.T) {
	res, sink, _ := pumpBody(t, func() io.Reader { return strings.NewReader("") })
	if sink.String() != "" || res.Outcome != ledger.OutcomeCompleted || sink.closes != 1 {
		t.Fatalf("unexpected result %+v output=%q closes=%d", res, sink.String(), sink.closes)
	}
}

func TestPump_StopsWhenSinkFails(t *testing.T) {
	reads := 0
	var mu sync.Mutex
	led := &memoryLedger{}
	r := newTestRelay(bodyClient(func() io.Reader {
		return readerFunc(func(p []byte) (int, error) {
			mu.Lock()
			defer mu.Unlock()
			reads++
			if reads > 100 {
				return 0, io.EOF
			}
			return copy(p, `data: {"type":"response.output_text.delta","delta":"x"}`+"\n"), nil
		})
	}), "http://upstream.invalid/v1", led, nil)
	stream, err := r.Open(context.Background(), helloRequest())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	sink := &recordingSink{failFrom: 3}
	res := stream.Pump(sink)
	if res.Outcome != ledger.OutcomeClientGone || res.Err == nil {
		t.Fatalf("unexpected result %+v", res)
	}
	mu.Lock()
	defer mu.Unlock()
	if reads != 3 {
		t.Fatalf("expected reading to stop after the failed write, got %d reads", reads)
	}
	if sink.closes != 1 {
		t.Fatalf("sink closed %d times", sink.closes)
	}
}

type readerFunc func([]byte) (int, error)

func (f readerFunc) Read(p []byte) (int, error) { return f(p) }

type closeCounter struct {
	io.Reader
	mu     sync.Mutex
	closes int
}

func (c *closeCounter) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closes++
	return nil
}

func TestPump_ClosesEverythingOnce(t *testing.T) {
	body := &closeCounter{Reader: strings.NewReader(`data: {"type":"response.output_text.delta","delta":"A"}` + "\n")}
	hc := &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		return &http.Response{StatusCode: http.StatusOK, Header: http.Header{}, Body: body, Request: r}, nil
	})}
	r := newTestRelay(hc, "http://upstream.invalid/v1", nil, nil)
	stream, err := r.Open(context.Background(), helloRequest())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	first := &recordingSink{}
	stream.Pump(first)
	second := &recordingSink{}
	if res := stream.Pump(second); res.Bytes != 0 {
		t.Fatalf("second pump produced output: %+v", res)
	}
	stream.Close()

	body.mu.Lock()
	defer body.mu.Unlock()
	if body.closes != 1 || first.closes != 1 || second.closes != 1 {
		t.Fatalf("closes: body=%d first=%d second=%d", body.closes, first.closes, second.closes)
	}
	if first.String() != "A" {
		t.Fatalf("output = %q", first.String())
	}
}

func TestOpen_SendsAssembledRequest(t *testing.T) {
	up := &testutil.Upstream{Lines: []string{`data: [DONE]`}}
	srv := testutil.NewIPv4Server(t, up)
	r := newTestRelay(srv.Client(), srv.URL, nil, nil)

	stream, err := r.Open(context.Background(), ChatRequest{
		Messages: []Message{
			{Role: "user", Content: "q1"},
			{Role: "assistant", Content: "a1"},
			{Role: "system", Content: "q2"},
		},
		Diagnostic: map[string]any{"intro": map[string]any{"company": "Acme"}, "secret": "x"},
		Lang:       "en",
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	stream.Pump(&recordingSink{})

	reqs := up.Requests()
	if len(reqs) != 1 {
		t.Fatalf("expected one upstream call, got %d", len(reqs))
	}
	var sent upstream.ResponseRequest
	if err := json.Unmarshal([]byte(reqs[0].Body), &sent); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if sent.Model != "gpt-4.1-mini" || !sent.Stream {
		t.Fatalf("model/stream = %q/%v", sent.Model, sent.Stream)
	}
	if sent.Metadata["app"] != "marketing-diagnostic" || sent.Metadata["user"] != "anonymous" {
		t.Fatalf("metadata = %v", sent.Metadata)
	}
	if len(sent.Input) != 5 {
		t.Fatalf("expected 5 input blocks, got %d", len(sent.Input))
	}
	if !strings.Contains(sent.Input[0].Content[0].Text, "(en)") {
		t.Fatalf("system text does not carry the language: %q", sent.Input[0].Content[0].Text)
	}
	ctxText := sent.Input[1].Content[0].Text
	if !strings.Contains(ctxText, `"company":"Acme"`) || strings.Contains(ctxText, "secret") {
		t.Fatalf("context block not compacted: %q", ctxText)
	}
	wantRoles := []string{"system", "user", "user", "assistant", "user"}
	wantKinds := []string{"input_text", "input_text", "input_text", "output_text", "input_text"}
	for i, m := range sent.Input {
		if m.Role != wantRoles[i] || m.Content[0].Type != wantKinds[i] {
			t.Fatalf("block %d = %s/%s", i, m.Role, m.Content[0].Type)
		}
	}
}

func TestOpen_UpstreamRejection(t *testing.T) {
	up := &testutil.Upstream{Status: http.StatusTooManyRequests, Body: "rate limited"}
	srv := testutil.NewIPv4Server(t, up)
	led := &memoryLedger{}
	col := metrics.NewCollector()
	r := newTestRelay(srv.Client(), srv.URL, led, col)

	stream, err := r.Open(context.Background(), helloRequest())
	if stream != nil {
		t.Fatal("expected no stream on rejection")
	}
	var rej *upstream.RejectionError
	if !errors.As(err, &rej) || rej.Status != http.StatusTooManyRequests {
		t.Fatalf("expected rejection error, got %v", err)
	}
	if StatusCode(err) != http.StatusBadGateway || Detail(err) != "rate limited" {
		t.Fatalf("status/detail = %d/%q", StatusCode(err), Detail(err))
	}
	r.Wait()
	entries := led.all()
	if len(entries) != 1 || entries[0].Outcome != ledger.OutcomeRejected || entries[0].Status != http.StatusTooManyRequests {
		t.Fatalf("ledger = %+v", entries)
	}
	snap := col.GetSnapshot()
	if snap.UpstreamStatus["429"] != 1 || snap.Rejections["upstream_status"] != 1 {
		t.Fatalf("metrics = %+v", snap)
	}
}

func TestOpen_UnreachableUpstream(t *testing.T) {
	hc := &http.Client{Transport: roundTripFunc(func(*http.Request) (*http.Response, error) {
		return nil, errors.New("dial tcp: connection refused")
	})}
	r := newTestRelay(hc, "http://upstream.invalid/v1", nil, nil)
	_, err := r.Open(context.Background(), helloRequest())
	if !errors.Is(err, ErrUpstreamUnavailable) || StatusCode(err) != http.StatusBadGateway {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestOpen_RequiresConfiguration(t *testing.T) {
	r := New(Config{Upstream: upstream.New(upstream.Config{})})
	if !errors.Is(r.Ready(), ErrConfiguration) {
		t.Fatal("expected configuration error")
	}
	_, err := r.Open(context.Background(), helloRequest())
	if StatusCode(err) != http.StatusInternalServerError || Detail(err) != "Missing OPENAI_API_KEY" {
		t.Fatalf("status/detail = %d/%q", StatusCode(err), Detail(err))
	}
}

func TestPump_ClientCancellationWritesNoMarker(t *testing.T) {
	up := &testutil.Upstream{
		Lines: []string{
			`data: {"type":"response.output_text.delta","delta":"A"}`,
			`data: {"type":"response.output_text.delta","delta":"B"}`,
			`data: {"type":"response.output_text.delta","delta":"C"}`,
		},
		Delay: 200 * time.Millisecond,
	}
	srv := testutil.NewIPv4Server(t, up)
	r := newTestRelay(srv.Client(), srv.URL, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stream, err := r.Open(ctx, helloRequest())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	sink := &recordingSink{onWrite: cancel}
	res := stream.Pump(sink)
	if res.Outcome != ledger.OutcomeClientGone {
		t.Fatalf("outcome = %s", res.Outcome)
	}
	if got := sink.String(); got != "A" {
		t.Fatalf("output = %q", got)
	}
}

func TestPump_TimeoutEndsWithStreamError(t *testing.T) {
	up := &testutil.Upstream{
		Lines: []string{
			`data: {"type":"response.output_text.delta","delta":"A"}`,
			`data: {"type":"response.output_text.delta","delta":"B"}`,
		},
		Delay: 700 * time.Millisecond,
	}
	srv := testutil.NewIPv4Server(t, up)
	r := New(Config{
		Upstream: upstream.New(upstream.Config{APIKey: "sk-test", BaseURL: srv.URL, HTTPClient: srv.Client()}),
		Timeout:  300 * time.Millisecond,
	})
	stream, err := r.Open(context.Background(), helloRequest())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	sink := &recordingSink{}
	res := stream.Pump(sink)
	if res.Outcome != ledger.OutcomeDisconnected {
		t.Fatalf("outcome = %s", res.Outcome)
	}
	if got := sink.String(); !strings.HasPrefix(got, "A\n[stream-error] ") {
		t.Fatalf("output = %q", got)
	}
}

func TestPump_AbortedUpstreamConnection(t *testing.T) {
	up := &testutil.Upstream{
		Lines: []string{
			`data: {"type":"response.output_text.delta","delta":"A"}`,
			`data: {"type":"response.output_text.delta","delta":"B"}`,
		},
		Abort: true,
	}
	srv := testutil.NewIPv4Server(t, up)
	r := newTestRelay(srv.Client(), srv.URL, nil, nil)
	stream, err := r.Open(context.Background(), helloRequest())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	sink := &recordingSink{}
	res := stream.Pump(sink)
	if got := sink.String(); !strings.HasPrefix(got, "AB\n[stream-error] ") {
		t.Fatalf("output = %q", got)
	}
	if res.Outcome != ledger.OutcomeDisconnected || sink.closes != 1 {
		t.Fatalf("outcome = %s closes = %d", res.Outcome, sink.closes)
	}
}

func TestPump_SlowTokenEstimateDoesNotHoldTheResponse(t *testing.T) {
	release := make(chan struct{})
	estimating := make(chan struct{}, 1)
	led := &memoryLedger{}
	r := New(Config{
		Upstream: upstream.New(upstream.Config{
			APIKey:     "sk-test",
			BaseURL:    "http://upstream.invalid/v1",
			HTTPClient: bodyClient(lines(`data: {"type":"response.output_text.delta","delta":"hi"}`)),
		}),
		Ledger: led,
		EstimateTokens: func(model, text string) int64 {
			estimating <- struct{}{}
			<-release
			return 42
		},
	})
	stream, err := r.Open(context.Background(), helloRequest())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	sink := &recordingSink{}
	done := make(chan Result, 1)
	go func() { done <- stream.Pump(sink) }()

	var res Result
	select {
	case res = <-done:
	case <-time.After(2 * time.Second):
		close(release)
		t.Fatal("Pump waited for the token estimate")
	}
	if sink.String() != "hi" || sink.closes != 1 || res.Outcome != ledger.OutcomeCompleted {
		t.Fatalf("output = %q closes = %d outcome = %s", sink.String(), sink.closes, res.Outcome)
	}
	<-estimating
	if n := len(led.all()); n != 0 {
		t.Fatalf("ledger written before the estimate finished: %d entries", n)
	}

	close(release)
	r.Wait()
	entries := led.all()
	if len(entries) != 1 || entries[0].InputTokens != 42 {
		t.Fatalf("ledger = %+v", entries)
	}
}

func TestOpen_RejectionDoesNotWaitForTokenEstimate(t *testing.T) {
	up := &testutil.Upstream{Status: http.StatusUnauthorized, Body: "bad key"}
	srv := testutil.NewIPv4Server(t, up)
	release := make(chan struct{})
	led := &memoryLedger{}
	r := New(Config{
		Upstream: upstream.New(upstream.Config{APIKey: "sk-test", BaseURL: srv.URL, HTTPClient: srv.Client()}),
		Ledger:   led,
		EstimateTokens: func(model, text string) int64 {
			<-release
			return 7
		},
	})

	opened := make(chan error, 1)
	go func() {
		_, err := r.Open(context.Background(), helloRequest())
		opened <- err
	}()
	select {
	case err := <-opened:
		if StatusCode(err) != http.StatusBadGateway {
			t.Fatalf("status = %d", StatusCode(err))
		}
	case <-time.After(2 * time.Second):
		close(release)
		t.Fatal("Open waited for the token estimate")
	}

	close(release)
	r.Wait()
	if entries := led.all(); len(entries) != 1 || entries[0].InputTokens != 7 {
		t.Fatalf("ledger = %+v", entries)
	}
}
