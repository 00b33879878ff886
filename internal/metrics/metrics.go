package metrics

import (
	"sync"
	"time"
)

// Collector tracks relay counters in memory and exports them in Prometheus
// text format. Counters are keyed by small fixed label sets.
type Collector struct {
	mu sync.RWMutex

	// Turn metrics
	turnsByOutcome map[string]int64 // completed, disconnected, client_gone
	rejections     map[string]int64 // pre-flight failures by reason
	turnsInFlight  int64
	turnDurationMS int64

	// Stream content metrics
	outputBytes  int64
	deltasByKind map[string]int64 // text_delta, refusal_delta
	markers      map[string]int64 // error, warning, stream-error
	skippedLines int64            // malformed data lines dropped silently
	ignoredLines int64            // non-data lines and [DONE]

	// Upstream metrics
	upstreamStatus  map[string]int64 // rejected calls by HTTP status
	upstreamLatency int64            // total time to first byte in ms

	startTime time.Time
}

// NewCollector creates a new metrics collector.
func NewCollector() *Collector {
	return &Collector{
		turnsByOutcome: make(map[string]int64),
		rejections:     make(map[string]int64),
		deltasByKind:   make(map[string]int64),
		markers:        make(map[string]int64),
		upstreamStatus: make(map[string]int64),
		startTime:      time.Now(),
	}
}

// TurnStarted increments in-flight turns.
func (c *Collector) TurnStarted() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.turnsInFlight++
}

// TurnFinished records a completed relay stream.
func (c *Collector) TurnFinished(outcome string, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.turnsInFlight--
	c.turnsByOutcome[outcome]++
	c.turnDurationMS += duration.Milliseconds()
}

// Rejected records a request that never opened a stream.
func (c *Collector) Rejected(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rejections[reason]++
}

// UpstreamRejected records a non-success upstream status.
func (c *Collector) UpstreamRejected(status string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.upstreamStatus[status]++
}

// UpstreamOpened records how long the provider took to answer.
func (c *Collector) UpstreamOpened(latency time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.upstreamLatency += latency.Milliseconds()
}

// StreamStats is the per-turn content tally reported after a stream ends.
type StreamStats struct {
	Bytes        int64
	TextDeltas   int64
	Refusals     int64
	Markers      map[string]int64
	SkippedLines int64
	IgnoredLines int64
}

// RecordStream folds one stream's tallies into the totals.
func (c *Collector) RecordStream(s StreamStats) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.outputBytes += s.Bytes
	if s.TextDeltas > 0 {
		c.deltasByKind["text_delta"] += s.TextDeltas
	}
	if s.Refusals > 0 {
		c.deltasByKind["refusal_delta"] += s.Refusals
	}
	for k, v := range s.Markers {
		c.markers[k] += v
	}
	c.skippedLines += s.SkippedLines
	c.ignoredLines += s.IgnoredLines
}

// Snapshot is a point-in-time copy of all metrics.
type Snapshot struct {
	Uptime          int64
	TurnsByOutcome  map[string]int64
	Rejections      map[string]int64
	TurnsInFlight   int64
	TurnDurationMS  int64
	OutputBytes     int64
	DeltasByKind    map[string]int64
	Markers         map[string]int64
	SkippedLines    int64
	IgnoredLines    int64
	UpstreamStatus  map[string]int64
	UpstreamLatency int64
}

// GetSnapshot returns a snapshot of current metrics.
func (c *Collector) GetSnapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return Snapshot{
		Uptime:          int64(time.Since(c.startTime).Seconds()),
		TurnsByOutcome:  copyMap(c.turnsByOutcome),
		Rejections:      copyMap(c.rejections),
		TurnsInFlight:   c.turnsInFlight,
		TurnDurationMS:  c.turnDurationMS,
		OutputBytes:     c.outputBytes,
		DeltasByKind:    copyMap(c.deltasByKind),
		Markers:         copyMap(c.markers),
		SkippedLines:    c.skippedLines,
		IgnoredLines:    c.ignoredLines,
		UpstreamStatus:  copyMap(c.upstreamStatus),
		UpstreamLatency: c.upstreamLatency,
	}
}

func copyMap(m map[string]int64) map[string]int64 {
	result := make(map[string]int64, len(m))
	for k, v := range m {
		result[k] = v
	}
	return result
}
