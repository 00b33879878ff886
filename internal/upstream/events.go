package upstream

import (
	"encoding/json"
	"strings"
)

const (
	dataPrefix   = "data: "
	doneSentinel = "[DONE]"
)

// Kind tags an upstream event. The set is closed: anything the relay does
// not surface decodes as KindOther.
type Kind int

const (
	KindOther Kind = iota
	KindTextDelta
	KindRefusalDelta
	KindError
	KindWarning
)

func (k Kind) String() string {
	switch k {
	case KindTextDelta:
		return "text_delta"
	case KindRefusalDelta:
		return "refusal_delta"
	case KindError:
		return "error"
	case KindWarning:
		return "warning"
	default:
		return "other"
	}
}

// Event is one decoded upstream event. Text carries the delta for the
// delta kinds and the message for error and warning.
type Event struct {
	Kind Kind
	Type string
	Text string
}

// LineStatus classifies a raw protocol line.
type LineStatus int

const (
	// LineIgnored is any line without the data prefix (comments, keepalives,
	// "event:" fields, blank separators).
	LineIgnored LineStatus = iota
	// LineDone is the termination sentinel. It does not end the read loop.
	LineDone
	// LineMalformed is a data line whose payload is not a JSON event.
	LineMalformed
	// LineEvent carries a decoded Event.
	LineEvent
)

const defaultModelError = "Model error"

type wireEvent struct {
	Type    string          `json:"type"`
	Delta   json.RawMessage `json:"delta"`
	Error   json.RawMessage `json:"error"`
	Message json.RawMessage `json:"message"`
	Warning json.RawMessage `json:"warning"`
}

// ParseLine classifies one protocol line and decodes its event.
func ParseLine(line string) (Event, LineStatus) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, dataPrefix) {
		return Event{}, LineIgnored
	}
	payload := strings.TrimSpace(trimmed[len(dataPrefix):])
	if payload == doneSentinel {
		return Event{}, LineDone
	}
	var w wireEvent
	if err := json.Unmarshal([]byte(payload), &w); err != nil {
		return Event{}, LineMalformed
	}
	return decodeEvent(w), LineEvent
}

func decodeEvent(w wireEvent) Event {
	ev := Event{Kind: KindOther, Type: w.Type}
	switch w.Type {
	case "response.output_text.delta":
		if s, ok := rawString(w.Delta); ok {
			ev.Kind, ev.Text = KindTextDelta, s
		}
	case "response.refusal.delta":
		if s, ok := rawString(w.Delta); ok {
			ev.Kind, ev.Text = KindRefusalDelta, s
		}
	case "response.error", "error":
		ev.Kind, ev.Text = KindError, errorMessage(w)
	case "warning":
		if s, ok := rawString(w.Warning); ok && s != "" {
			ev.Kind, ev.Text = KindWarning, s
		}
	}
	return ev
}

func errorMessage(w wireEvent) string {
	var nested struct {
		Message string `json:"message"`
	}
	if len(w.Error) > 0 && json.Unmarshal(w.Error, &nested) == nil && nested.Message != "" {
		return nested.Message
	}
	if s, ok := rawString(w.Message); ok && s != "" {
		return s
	}
	return defaultModelError
}

func rawString(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}
