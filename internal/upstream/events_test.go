package upstream

import "testing"

func TestParseLine(t *testing.T) {
	tests := []struct {
		name   string
		line   string
		status LineStatus
		kind   Kind
		text   string
	}{
		{name: "comment", line: ": keepalive", status: LineIgnored},
		{name: "event field", line: "event: response.output_text.delta", status: LineIgnored},
		{name: "blank", line: "", status: LineIgnored},
		{name: "no space after prefix", line: `data:{"type":"warning","warning":"w"}`, status: LineIgnored},
		{name: "done", line: "data: [DONE]", status: LineDone},
		{name: "done padded", line: "  data:   [DONE]  \r", status: LineDone},
		{name: "malformed", line: "data: {not json", status: LineMalformed},
		{name: "text delta", line: `data: {"type":"response.output_text.delta","delta":"hi"}`, status: LineEvent, kind: KindTextDelta, text: "hi"},
		{name: "text delta keeps spaces", line: `data: {"type":"response.output_text.delta","delta":" a "}`, status: LineEvent, kind: KindTextDelta, text: " a "},
		{name: "non-string delta", line: `data: {"type":"response.output_text.delta","delta":5}`, status: LineEvent, kind: KindOther},
		{name: "refusal", line: `data: {"type":"response.refusal.delta","delta":"no"}`, status: LineEvent, kind: KindRefusalDelta, text: "no"},
		{name: "error nested", line: `data: {"type":"response.error","error":{"message":"boom"}}`, status: LineEvent, kind: KindError, text: "boom"},
		{name: "error default", line: `data: {"type":"response.error"}`, status: LineEvent, kind: KindError, text: "Model error"},
		{name: "error top-level", line: `data: {"type":"error","message":"quota"}`, status: LineEvent, kind: KindError, text: "quota"},
		{name: "warning", line: `data: {"type":"warning","warning":"slow"}`, status: LineEvent, kind: KindWarning, text: "slow"},
		{name: "empty warning", line: `data: {"type":"warning","warning":""}`, status: LineEvent, kind: KindOther},
		{name: "other", line: `data: {"type":"response.completed","response":{}}`, status: LineEvent, kind: KindOther},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, status := ParseLine(tt.line)
			if status != tt.status {
				t.Fatalf("status = %v, want %v", status, tt.status)
			}
			if status != LineEvent {
				return
			}
			if ev.Kind != tt.kind {
				t.Fatalf("kind = %s, want %s", ev.Kind, tt.kind)
			}
			if ev.Text != tt.text {
				t.Fatalf("text = %q, want %q", ev.Text, tt.text)
			}
		})
	}
}
