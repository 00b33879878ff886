// Package health reports whether the relay's dependencies are usable.
package health

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// Status represents the health status of a component.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// Pinger is satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// CheckResult holds the result of a health check.
type CheckResult struct {
	Status    Status        `json:"status"`
	Message   string        `json:"message,omitempty"`
	Latency   time.Duration `json:"latency_ms"`
	Timestamp time.Time     `json:"timestamp"`
	Error     string        `json:"error,omitempty"`
}

// Component represents a system component that can be health-checked.
type Component struct {
	Name string `json:"name"`
	Type string `json:"type"` // database, http
	CheckResult
}

// HealthStatus represents the overall health of the relay.
type HealthStatus struct {
	Status     Status      `json:"status"`
	Timestamp  time.Time   `json:"timestamp"`
	Components []Component `json:"components"`
}

// Config holds health checker configuration.
type Config struct {
	// LedgerDB is pinged on every check when set.
	LedgerDB Pinger
	// UpstreamURL is requested only on deep checks.
	UpstreamURL string
	HTTPClient  *http.Client

	DBTimeout          time.Duration
	HTTPTimeout        time.Duration
	MaxDatabaseLatency time.Duration
}

// Checker performs health checks on the relay's dependencies.
type Checker struct {
	ledgerDB    Pinger
	upstreamURL string
	httpClient  *http.Client

	dbTimeout          time.Duration
	httpTimeout        time.Duration
	maxDatabaseLatency time.Duration
}

// New creates a new health checker.
func New(cfg Config) *Checker {
	if cfg.DBTimeout == 0 {
		cfg.DBTimeout = 2 * time.Second
	}
	if cfg.HTTPTimeout == 0 {
		cfg.HTTPTimeout = 5 * time.Second
	}
	if cfg.MaxDatabaseLatency == 0 {
		cfg.MaxDatabaseLatency = 100 * time.Millisecond
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	return &Checker{
		ledgerDB:           cfg.LedgerDB,
		upstreamURL:        cfg.UpstreamURL,
		httpClient:         hc,
		dbTimeout:          cfg.DBTimeout,
		httpTimeout:        cfg.HTTPTimeout,
		maxDatabaseLatency: cfg.MaxDatabaseLatency,
	}
}

// Check runs the checks concurrently. deep adds a reachability check of the
// upstream API.
func (c *Checker) Check(ctx context.Context, deep bool) HealthStatus {
	var wg sync.WaitGroup
	results := make(chan Component, 2)

	if c.ledgerDB != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- c.checkDatabase(ctx, "ledger_db", c.ledgerDB)
		}()
	}
	if deep && c.upstreamURL != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- c.checkHTTPEndpoint(ctx, "openai_api", c.upstreamURL)
		}()
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	components := make([]Component, 0, 2)
	for comp := range results {
		components = append(components, comp)
	}
	return overall(components)
}

func (c *Checker) checkDatabase(ctx context.Context, name string, db Pinger) Component {
	comp := Component{Name: name, Type: "database", CheckResult: CheckResult{Timestamp: time.Now()}}

	dbCtx, cancel := context.WithTimeout(ctx, c.dbTimeout)
	defer cancel()
	start := time.Now()
	err := db.PingContext(dbCtx)
	comp.Latency = time.Since(start)

	switch {
	case err != nil:
		comp.Status = StatusUnhealthy
		comp.Error = err.Error()
		comp.Message = "Database unreachable"
	case comp.Latency > c.maxDatabaseLatency:
		comp.Status = StatusDegraded
		comp.Message = fmt.Sprintf("High latency: %v", comp.Latency)
	default:
		comp.Status = StatusHealthy
		comp.Message = "Connected"
	}
	return comp
}

// checkHTTPEndpoint treats any HTTP answer, even 4xx/5xx, as reachable.
func (c *Checker) checkHTTPEndpoint(ctx context.Context, name, url string) Component {
	comp := Component{Name: name, Type: "http", CheckResult: CheckResult{Timestamp: time.Now()}}

	httpCtx, cancel := context.WithTimeout(ctx, c.httpTimeout)
	defer cancel()
	start := time.Now()
	req, err := http.NewRequestWithContext(httpCtx, http.MethodGet, url, nil)
	if err != nil {
		comp.Status = StatusUnhealthy
		comp.Error = err.Error()
		return comp
	}
	resp, err := c.httpClient.Do(req)
	comp.Latency = time.Since(start)
	if err != nil {
		comp.Status = StatusDegraded
		comp.Error = err.Error()
		comp.Message = "Endpoint unreachable"
		return comp
	}
	_ = resp.Body.Close()
	comp.Status = StatusHealthy
	comp.Message = fmt.Sprintf("Reachable (HTTP %d)", resp.StatusCode)
	return comp
}

// overall degrades on any problem; an unreachable database is fatal because
// turns could not be recorded.
func overall(components []Component) HealthStatus {
	status := StatusHealthy
	critical := false
	for _, comp := range components {
		switch comp.Status {
		case StatusUnhealthy:
			if comp.Type == "database" {
				critical = true
			}
			status = StatusDegraded
		case StatusDegraded:
			status = StatusDegraded
		}
	}
	if critical {
		status = StatusUnhealthy
	}
	return HealthStatus{Status: status, Timestamp: time.Now(), Components: components}
}
