package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Message is one chat turn as received from the client.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the decoded body of a relay call.
type ChatRequest struct {
	Messages   []Message
	Diagnostic any
	User       string
	Lang       string
}

// Decode reads a ChatRequest. Invalid JSON yields ErrMalformedRequest; a
// missing, non-list or empty messages field yields ErrValidation. Any other
// top-level value is treated as an object without fields.
func Decode(r io.Reader) (ChatRequest, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var body any
	if err := dec.Decode(&body); err != nil {
		return ChatRequest{}, fmt.Errorf("%w: %w", ErrMalformedRequest, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return ChatRequest{}, fmt.Errorf("%w: trailing data after request body", ErrMalformedRequest)
	}

	fields, _ := body.(map[string]any)
	list, ok := fields["messages"].([]any)
	if !ok {
		return ChatRequest{}, fmt.Errorf("%w: messages must be a list", ErrValidation)
	}
	if len(list) == 0 {
		return ChatRequest{}, fmt.Errorf("%w: messages is empty", ErrValidation)
	}

	req := ChatRequest{
		Messages:   make([]Message, 0, len(list)),
		Diagnostic: fields["diagnostic"],
		User:       textOf(fields["user"]),
	}
	if lang, ok := fields["lang"].(string); ok {
		req.Lang = strings.TrimSpace(lang)
	}
	for _, item := range list {
		m, _ := item.(map[string]any)
		role, _ := m["role"].(string)
		req.Messages = append(req.Messages, Message{Role: role, Content: textOf(m["content"])})
	}
	return req, nil
}

// textOf coerces a decoded JSON value to message text. Absent, null, false,
// zero and empty values become the empty string; composite values keep
// their JSON form.
func textOf(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		if t {
			return "true"
		}
		return ""
	case json.Number:
		if f, err := t.Float64(); err == nil && f == 0 {
			return ""
		}
		return t.String()
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	}
}
