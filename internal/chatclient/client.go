// Package chatclient talks to the relay: it keeps the conversation, sends
// each turn with a fresh diagnostic snapshot and renders the answer as it
// streams in.
package chatclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/groexpert13/sheet/internal/history"
	"github.com/groexpert13/sheet/internal/logging"
	"github.com/groexpert13/sheet/internal/version"
)

var (
	// ErrBlankMessage is returned when Send gets only whitespace.
	ErrBlankMessage = errors.New("chatclient: blank message")
	// ErrBusy is returned when Send is called while a turn is streaming.
	ErrBusy = errors.New("chatclient: a reply is still streaming")
)

const readChunkSize = 4096

// SnapshotFunc returns the current diagnostic data. It is called once per turn.
type SnapshotFunc func() (any, error)

// Config wires a Client. RelayURL is required.
type Config struct {
	RelayURL   string
	HTTPClient *http.Client
	User       string
	Lang       string
	Snapshot   SnapshotFunc
	// History persists the transcript between runs. Optional.
	History      history.Store
	HistoryLimit int
	Logger       *logging.Logger
}

// Client sends chat turns to the relay.
type Client struct {
	relayURL   string
	httpClient *http.Client
	user       string
	lang       string
	snapshot   SnapshotFunc
	history    history.Store
	limit      int
	logger     *logging.Logger

	conv Conversation

	mu      sync.Mutex
	sending bool
}

// New validates cfg and builds a Client with an empty conversation.
func New(cfg Config) (*Client, error) {
	u, err := url.Parse(strings.TrimSpace(cfg.RelayURL))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("chatclient: invalid relay url %q", cfg.RelayURL)
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	limit := cfg.HistoryLimit
	if limit <= 0 {
		limit = history.DefaultLimit
	}
	return &Client{
		relayURL:   u.String(),
		httpClient: hc,
		user:       strings.TrimSpace(cfg.User),
		lang:       strings.TrimSpace(cfg.Lang),
		snapshot:   cfg.Snapshot,
		history:    cfg.History,
		limit:      limit,
		logger:     cfg.Logger,
	}, nil
}

// HistoryKey is where this client's transcript is stored.
func (c *Client) HistoryKey() string { return history.Key(c.user) }

// Lang is the language sent with every turn.
func (c *Client) Lang() string { return c.lang }

// Messages returns a copy of the conversation.
func (c *Client) Messages() []Message { return c.conv.Messages() }

// Restore loads the stored transcript, replacing the in-memory one.
func (c *Client) Restore(ctx context.Context) error {
	if c.history == nil {
		return nil
	}
	records, err := c.history.Load(ctx, c.HistoryKey())
	if err != nil {
		return fmt.Errorf("load chat history: %w", err)
	}
	c.conv.replace(records)
	c.conv.Trim(c.limit)
	return nil
}

// Reset clears the conversation and its stored transcript.
func (c *Client) Reset(ctx context.Context) error {
	c.conv.Clear()
	if c.history == nil {
		return nil
	}
	if err := c.history.Reset(ctx, c.HistoryKey()); err != nil {
		return fmt.Errorf("reset chat history: %w", err)
	}
	return nil
}

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type wireRequest struct {
	Messages   []wireMessage `json:"messages"`
	Diagnostic any           `json:"diagnostic"`
	User       *string       `json:"user"`
	Lang       string        `json:"lang,omitempty"`
}

// Send runs one turn. The answer is appended to the conversation as it
// arrives and each decoded piece is passed to onChunk, which may be nil.
// Transport failures end up inline in the answer as a connection-error
// marker; the returned error only reports misuse.
func (c *Client) Send(ctx context.Context, text string, onChunk func(string)) (Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Message{}, ErrBlankMessage
	}
	c.mu.Lock()
	if c.sending {
		c.mu.Unlock()
		return Message{}, ErrBusy
	}
	c.sending = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.sending = false
		c.mu.Unlock()
	}()

	now := time.Now()
	c.conv.Append(Message{Role: RoleUser, Content: text, At: now})
	payload := c.payload(c.conv.Messages())
	idx := c.conv.Append(Message{Role: RoleAssistant, At: now})

	emit := func(s string) {
		c.conv.extend(idx, s)
		if onChunk != nil {
			onChunk(s)
		}
	}
	if err := c.stream(ctx, payload, emit); err != nil {
		msg := err.Error()
		if msg == "" {
			msg = "failed"
		}
		emit("\n[connection-error] " + msg)
	}

	final := c.conv.fillIfEmpty(idx, Fallback(c.lang))
	c.persist(ctx)
	return final, nil
}

func (c *Client) payload(msgs []Message) wireRequest {
	req := wireRequest{
		Messages:   make([]wireMessage, len(msgs)),
		Diagnostic: map[string]any{},
		Lang:       c.lang,
	}
	for i, m := range msgs {
		req.Messages[i] = wireMessage{Role: m.Role, Content: m.Content}
	}
	if c.user != "" {
		user := c.user
		req.User = &user
	}
	if c.snapshot != nil {
		snap, err := c.snapshot()
		if err != nil {
			c.logger.Warnf("read diagnostic snapshot: %v", err)
		} else if snap != nil {
			req.Diagnostic = snap
		}
	}
	return req
}

// stream posts payload and feeds the decoded body to emit. Whatever the
// status, the body is the text to show.
func (c *Client) stream(ctx context.Context, payload wireRequest, emit func(string)) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.relayURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		c.logger.Debugf("relay answered %d", resp.StatusCode)
	}

	r := transform.NewReader(resp.Body, unicode.UTF8.NewDecoder())
	buf := make([]byte, readChunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			emit(string(buf[:n]))
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func (c *Client) persist(ctx context.Context) {
	if c.history == nil {
		return
	}
	// The turn's own context may already be cancelled.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := c.history.Save(ctx, c.HistoryKey(), history.Tail(c.conv.records(), c.limit)); err != nil {
		c.logger.Warnf("save chat history: %v", err)
	}
}
