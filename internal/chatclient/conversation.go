package chatclient

import (
	"sync"
	"time"

	"github.com/groexpert13/sheet/internal/history"
)

// Roles used in a conversation.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn as the client shows it.
type Message struct {
	Role    string    `json:"role"`
	Content string    `json:"content"`
	At      time.Time `json:"at"`
}

// Conversation is an ordered, append-only transcript. Only the newest
// assistant entry is ever changed, and only while its answer streams in.
// It is safe for concurrent use.
type Conversation struct {
	mu       sync.RWMutex
	messages []Message
}

// Messages returns a copy of the transcript.
func (c *Conversation) Messages() []Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Message(nil), c.messages...)
}

// Len returns the number of messages.
func (c *Conversation) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.messages)
}

// Append adds m and returns its index.
func (c *Conversation) Append(m Message) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, m)
	return len(c.messages) - 1
}

// extend appends text to the message at i.
func (c *Conversation) extend(i int, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i >= 0 && i < len(c.messages) {
		c.messages[i].Content += text
	}
}

// fillIfEmpty sets the content at i when nothing was written to it and
// returns the final message.
func (c *Conversation) fillIfEmpty(i int, text string) Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i < 0 || i >= len(c.messages) {
		return Message{}
	}
	if c.messages[i].Content == "" {
		c.messages[i].Content = text
	}
	return c.messages[i]
}

// Trim keeps only the last max messages.
func (c *Conversation) Trim(max int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if max >= 0 && len(c.messages) > max {
		c.messages = append([]Message(nil), c.messages[len(c.messages)-max:]...)
	}
}

// Clear drops every message.
func (c *Conversation) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = nil
}

func (c *Conversation) replace(records []history.Record) {
	msgs := make([]Message, len(records))
	for i, r := range records {
		msgs[i] = Message{Role: r.Role, Content: r.Content, At: r.At}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = msgs
}

func (c *Conversation) records() []history.Record {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]history.Record, len(c.messages))
	for i, m := range c.messages {
		out[i] = history.Record{Role: m.Role, Content: m.Content, At: m.At}
	}
	return out
}
