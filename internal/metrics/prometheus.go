package metrics

import (
	"fmt"
	"sort"
	"strings"
)

// FormatPrometheus formats metrics in Prometheus text format.
// See: https://prometheus.io/docs/instrumenting/exposition_formats/
func FormatPrometheus(snap Snapshot) string {
	var sb strings.Builder

	gauge(&sb, "relay_uptime_seconds", "Time since the relay started", snap.Uptime)
	gauge(&sb, "relay_turns_in_flight", "Chat turns currently streaming", snap.TurnsInFlight)
	labelled(&sb, "relay_turns_total", "Finished chat turns by outcome", "outcome", snap.TurnsByOutcome)
	counter(&sb, "relay_turn_duration_ms_total", "Total streaming time in milliseconds", snap.TurnDurationMS)
	labelled(&sb, "relay_rejections_total", "Requests refused before a stream was opened", "reason", snap.Rejections)
	labelled(&sb, "relay_upstream_rejections_total", "Upstream calls answered with a non-success status", "status", snap.UpstreamStatus)
	counter(&sb, "relay_upstream_latency_ms_total", "Total upstream time to response headers in milliseconds", snap.UpstreamLatency)
	counter(&sb, "relay_output_bytes_total", "Bytes relayed to clients", snap.OutputBytes)
	labelled(&sb, "relay_deltas_total", "Relayed delta events by kind", "kind", snap.DeltasByKind)
	labelled(&sb, "relay_markers_total", "Inline markers written to client streams", "marker", snap.Markers)
	counter(&sb, "relay_skipped_lines_total", "Malformed upstream data lines dropped", snap.SkippedLines)
	counter(&sb, "relay_ignored_lines_total", "Upstream lines without payload (comments, keepalives, sentinel)", snap.IgnoredLines)

	return sb.String()
}

func gauge(sb *strings.Builder, name, help string, v int64) {
	fmt.Fprintf(sb, "# HELP %s %s\n# TYPE %s gauge\n%s %d\n\n", name, help, name, name, v)
}

func counter(sb *strings.Builder, name, help string, v int64) {
	fmt.Fprintf(sb, "# HELP %s %s\n# TYPE %s counter\n%s %d\n\n", name, help, name, name, v)
}

func labelled(sb *strings.Builder, name, help, label string, values map[string]int64) {
	fmt.Fprintf(sb, "# HELP %s %s\n# TYPE %s counter\n", name, help, name)
	for _, k := range sortedKeys(values) {
		fmt.Fprintf(sb, "%s{%s=\"%s\"} %d\n", name, label, k, values[k])
	}
	sb.WriteString("\n")
}

func sortedKeys[T any](m map[string]T) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
