package httpserver

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/groexpert13/sheet/internal/health"
	"github.com/groexpert13/sheet/internal/ledger"
	"github.com/groexpert13/sheet/internal/ledger/sqlite"
	"github.com/groexpert13/sheet/internal/metrics"
	"github.com/groexpert13/sheet/internal/ratelimit"
	"github.com/groexpert13/sheet/internal/relay"
	"github.com/groexpert13/sheet/internal/testutil"
	"github.com/groexpert13/sheet/internal/upstream"
)

const helloBody = `{"messages":[{"role":"user","content":"hello"}],"diagnostic":{},"user":"anna@example.com","lang":"en"}`

type fixture struct {
	server  *Server
	up      *testutil.Upstream
	metrics *metrics.Collector
	ledger  ledger.Store
}

func newFixture(t *testing.T, apiKey string, up *testutil.Upstream) *fixture {
	t.Helper()
	srv := testutil.NewIPv4Server(t, up)
	store, err := sqlite.New(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("sqlite.New: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	col := metrics.NewCollector()
	rl := relay.New(relay.Config{
		Upstream: upstream.New(upstream.Config{APIKey: apiKey, BaseURL: srv.URL, HTTPClient: srv.Client()}),
		Metrics:  col,
		Ledger:   store,
	})
	t.Cleanup(rl.Wait)
	return &fixture{
		server:  New(Config{Relay: rl, Ledger: store, Metrics: col, LedgerBackend: "sqlite", MaxBodyBytes: 1024}),
		up:      up,
		metrics: col,
		ledger:  store,
	}
}

func (f *fixture) do(method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	f.server.Router().ServeHTTP(rec, req)
	return rec
}

func deltaLines(parts ...string) []string {
	out := make([]string, 0, len(parts)+1)
	for _, p := range parts {
		b, _ := json.Marshal(map[string]string{"type": "response.output_text.delta", "delta": p})
		out = append(out, "data: "+string(b))
	}
	return append(out, "data: [DONE]")
}

func TestHandleChat_StreamsPlainText(t *testing.T) {
	f := newFixture(t, "sk-test", &testutil.Upstream{Lines: deltaLines("Hel", "lo")})

	rec := f.do(http.MethodPost, "/api/ai", helloBody)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%q", rec.Code, rec.Body.String())
	}
	if got := rec.Body.String(); got != "Hello" {
		t.Fatalf("body = %q", got)
	}
	h := rec.Header()
	if h.Get("Content-Type") != "text/plain; charset=utf-8" || h.Get("Cache-Control") != "no-cache" {
		t.Fatalf("unexpected headers %v", h)
	}
	if h.Get("X-Accel-Buffering") != "no" || h.Get("X-Turn-ID") == "" {
		t.Fatalf("missing streaming headers %v", h)
	}
	if !rec.Flushed {
		t.Fatal("expected the response to be flushed")
	}

	var sent upstream.ResponseRequest
	if err := json.Unmarshal([]byte(f.up.Requests()[0].Body), &sent); err != nil {
		t.Fatalf("decode upstream body: %v", err)
	}
	if sent.Metadata["user"] != "anna@example.com" {
		t.Fatalf("metadata = %v", sent.Metadata)
	}
}

func TestHandleChat_Errors(t *testing.T) {
	tests := []struct {
		name   string
		apiKey string
		up     *testutil.Upstream
		body   string
		status int
		want   string
	}{
		{name: "missing key wins over bad json", body: `{`, status: http.StatusInternalServerError, want: "Missing OPENAI_API_KEY"},
		{name: "invalid json", apiKey: "sk", body: `{`, status: http.StatusBadRequest, want: "Invalid JSON"},
		{name: "no messages", apiKey: "sk", body: `{"diagnostic":{}}`, status: http.StatusBadRequest, want: "messages[] required"},
		{name: "empty messages", apiKey: "sk", body: `{"messages":[]}`, status: http.StatusBadRequest, want: "messages[] required"},
		{name: "too large", apiKey: "sk", body: `{"messages":["` + strings.Repeat("x", 2048) + `"]}`, status: http.StatusRequestEntityTooLarge, want: "Request too large"},
		{
			name:   "upstream rejection",
			apiKey: "sk",
			up:     &testutil.Upstream{Status: http.StatusUnauthorized, Body: `{"error":{"message":"bad key"}}`},
			body:   helloBody,
			status: http.StatusBadGateway,
			want:   `{"error":{"message":"bad key"}}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			up := tt.up
			if up == nil {
				up = &testutil.Upstream{}
			}
			f := newFixture(t, tt.apiKey, up)
			rec := f.do(http.MethodPost, "/api/ai", tt.body)
			if rec.Code != tt.status || rec.Body.String() != tt.want {
				t.Fatalf("got %d %q, want %d %q", rec.Code, rec.Body.String(), tt.status, tt.want)
			}
			if ct := rec.Header().Get("Content-Type"); ct != "text/plain; charset=utf-8" {
				t.Fatalf("content type = %q", ct)
			}
			if tt.status != http.StatusBadGateway && len(up.Requests()) != 0 {
				t.Fatal("upstream must not be called for rejected requests")
			}
		})
	}
}

func TestHandleHealth(t *testing.T) {
	f := newFixture(t, "", &testutil.Upstream{})
	rec := f.do(http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var payload map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload["status"] != "ok" || payload["upstream_configured"] != false || payload["ledger"] != "sqlite" {
		t.Fatalf("unexpected payload %v", payload)
	}
}

func TestHandleHealth_WithChecker(t *testing.T) {
	f := newFixture(t, "sk-test", &testutil.Upstream{})
	store := f.ledger.(*sqlite.Store)
	f.server.health = health.New(health.Config{LedgerDB: store.DB(), MaxDatabaseLatency: time.Minute})

	rec := f.do(http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var payload struct {
		Status     string `json:"status"`
		Components []struct {
			Name   string `json:"name"`
			Status string `json:"status"`
		} `json:"components"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.Status != "healthy" || len(payload.Components) != 1 || payload.Components[0].Name != "ledger_db" {
		t.Fatalf("unexpected payload %+v", payload)
	}

	_ = store.Close()
	rec = f.do(http.MethodGet, "/health", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("closed ledger: status = %d", rec.Code)
	}
}

func TestHandleChat_RateLimited(t *testing.T) {
	f := newFixture(t, "sk-test", &testutil.Upstream{Lines: deltaLines("ok")})
	limiter := ratelimit.NewLimiter(ratelimit.Config{TurnsPerMinute: 1, Burst: 1})
	t.Cleanup(func() { _ = limiter.Close() })
	f.server = New(Config{Relay: f.server.relay, Metrics: f.metrics, RateLimit: limiter})

	if rec := f.do(http.MethodPost, "/api/ai", helloBody); rec.Code != http.StatusOK {
		t.Fatalf("first turn: status = %d", rec.Code)
	}
	rec := f.do(http.MethodPost, "/api/ai", helloBody)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second turn: status = %d", rec.Code)
	}
	if got := f.metrics.GetSnapshot().Rejections["rate_limited"]; got != 1 {
		t.Fatalf("rate_limited rejections = %d", got)
	}
	if n := len(f.up.Requests()); n != 1 {
		t.Fatalf("upstream saw %d requests", n)
	}
}

func TestMetricsAndTurnsAfterChat(t *testing.T) {
	f := newFixture(t, "sk-test", &testutil.Upstream{Lines: []string{
		`data: {"type":"response.output_text.delta","delta":"ok"}`,
		`data: {oops`,
		`data: {"type":"warning","warning":"slow"}`,
	}})
	if rec := f.do(http.MethodPost, "/api/ai", helloBody); rec.Body.String() != "ok\n[warning] slow" {
		t.Fatalf("chat body = %q", rec.Body.String())
	}

	rec := f.do(http.MethodGet, "/metrics", "")
	body := rec.Body.String()
	for _, want := range []string{
		`relay_turns_total{outcome="completed"} 1`,
		`relay_markers_total{marker="warning"} 1`,
		`relay_skipped_lines_total 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics missing %q:\n%s", want, body)
		}
	}

	f.server.relay.Wait()
	rec = f.do(http.MethodGet, "/api/ai/turns?user=anna@example.com&limit=5", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("turns status = %d", rec.Code)
	}
	var payload struct {
		Summary ledger.Summary `json:"summary"`
		Turns   []ledger.Entry `json:"turns"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(payload.Turns) != 1 || payload.Turns[0].SkippedLines != 1 || payload.Turns[0].OutputBytes != int64(len("ok\n[warning] slow")) {
		t.Fatalf("turns = %+v", payload.Turns)
	}
	if payload.Summary.Turns != 1 {
		t.Fatalf("summary = %+v", payload.Summary)
	}

	if rec := f.do(http.MethodGet, "/api/ai/turns?limit=zero", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad limit status = %d", rec.Code)
	}
}
