// Package relay turns a chat request into one streamed model answer.
// It forwards the conversation and a compacted diagnostic snapshot to the
// Responses API and re-emits only the answer text, with inline markers for
// model errors, warnings and broken upstream connections.
package relay

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/groexpert13/sheet/internal/diagnostic"
	"github.com/groexpert13/sheet/internal/ledger"
	"github.com/groexpert13/sheet/internal/logging"
	"github.com/groexpert13/sheet/internal/metrics"
	"github.com/groexpert13/sheet/internal/prompt"
	"github.com/groexpert13/sheet/internal/upstream"
)

const ledgerWriteTimeout = 5 * time.Second

// Config wires a Relay. Only Upstream is required.
type Config struct {
	Upstream *upstream.Client
	Profile  *prompt.Profile
	// Timeout bounds a whole turn, from the upstream call to the last byte.
	// Zero disables the bound.
	Timeout time.Duration
	Logger  *logging.Logger
	Metrics *metrics.Collector
	Ledger  ledger.Store
	// EstimateTokens sizes the assembled input for the ledger. It runs
	// after the response has ended. Nil skips it.
	EstimateTokens func(model, text string) int64
}

// Relay opens upstream streams for chat requests. It is safe for concurrent use.
type Relay struct {
	upstream *upstream.Client
	profile  *prompt.Profile
	timeout  time.Duration
	logger   *logging.Logger
	metrics  *metrics.Collector
	ledger   ledger.Store
	estimate func(model, text string) int64

	pending sync.WaitGroup
}

// New builds a Relay from cfg.
func New(cfg Config) *Relay {
	profile := cfg.Profile
	if profile == nil {
		profile = prompt.DefaultProfile()
	}
	client := cfg.Upstream
	if client == nil {
		client = upstream.New(upstream.Config{})
	}
	return &Relay{
		upstream: client,
		profile:  profile,
		timeout:  cfg.Timeout,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
		ledger:   cfg.Ledger,
		estimate: cfg.EstimateTokens,
	}
}

// Ready reports ErrConfiguration when no provider credential is set.
func (r *Relay) Ready() error {
	if !r.upstream.Configured() {
		return ErrConfiguration
	}
	return nil
}

// Profile returns the prompt profile in use.
func (r *Relay) Profile() *prompt.Profile { return r.profile }

// Reject records a request that failed before Open was reached.
func (r *Relay) Reject(err error) {
	if r.metrics != nil {
		r.metrics.Rejected(reason(err))
	}
	r.logger.Debugf("request rejected (%d): %v", StatusCode(err), err)
}

// Open calls the provider for req. On success the caller must Pump or Close
// the returned Stream. On failure no stream exists and the error maps to a
// status through StatusCode.
func (r *Relay) Open(ctx context.Context, req ChatRequest) (*Stream, error) {
	if err := r.Ready(); err != nil {
		r.Reject(err)
		return nil, err
	}
	if len(req.Messages) == 0 {
		err := fmt.Errorf("%w: messages is empty", ErrValidation)
		r.Reject(err)
		return nil, err
	}

	lang := r.profile.Lang(req.Lang)
	history := make([]prompt.Message, len(req.Messages))
	for i, m := range req.Messages {
		history[i] = prompt.Message{Role: m.Role, Content: m.Content}
	}
	input, err := r.profile.Assemble(lang, diagnostic.Project(req.Diagnostic), history)
	if err != nil {
		r.Reject(err)
		return nil, err
	}

	user := strings.TrimSpace(req.User)
	if user == "" {
		user = ledger.DefaultUser
	}
	turnID := uuid.NewString()
	entry := ledger.Entry{
		TurnID:   turnID,
		User:     user,
		Model:    r.profile.Model,
		Lang:     lang,
		Messages: len(req.Messages),
	}

	var turnCtx context.Context
	var cancel context.CancelFunc
	if r.timeout > 0 {
		turnCtx, cancel = context.WithTimeout(ctx, r.timeout)
	} else {
		turnCtx, cancel = context.WithCancel(ctx)
	}

	start := time.Now()
	body, err := r.upstream.Stream(turnCtx, upstream.ResponseRequest{
		Model:    r.profile.Model,
		Stream:   true,
		Input:    input,
		Metadata: map[string]string{"app": r.profile.AppName, "user": user},
	})
	if err != nil {
		cancel()
		var rej *upstream.RejectionError
		if errors.As(err, &rej) {
			r.logger.Errorf("turn %s: upstream rejected with status %d: %s", turnID, rej.Status, rej.Detail)
			if r.metrics != nil {
				r.metrics.UpstreamRejected(strconv.Itoa(rej.Status))
			}
			entry.Status = rej.Status
		} else {
			r.logger.Errorf("turn %s: upstream call failed: %v", turnID, err)
			err = fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
			entry.Status = http.StatusBadGateway
		}
		r.Reject(err)
		entry.Outcome = ledger.OutcomeRejected
		entry.DurationMS = time.Since(start).Milliseconds()
		r.record(entry, input)
		return nil, err
	}

	if r.metrics != nil {
		r.metrics.UpstreamOpened(time.Since(start))
		r.metrics.TurnStarted()
	}
	r.logger.Debugf("turn %s: stream opened for %s (%d messages, lang=%s)", turnID, user, len(req.Messages), lang)
	entry.Status = http.StatusOK
	return &Stream{
		relay:   r,
		parent:  ctx,
		ctx:     turnCtx,
		cancel:  cancel,
		body:    body,
		entry:   entry,
		input:   input,
		started: start,
	}, nil
}

func (r *Relay) inputTokens(input []upstream.InputMessage) int64 {
	if r.estimate == nil {
		return 0
	}
	var sb strings.Builder
	for _, m := range input {
		for _, part := range m.Content {
			sb.WriteString(part.Text)
			sb.WriteByte('\n')
		}
	}
	return r.estimate(r.profile.Model, sb.String())
}

// record sizes and stores entry in the background so a slow tokenizer or
// ledger never holds a response open.
func (r *Relay) record(entry ledger.Entry, input []upstream.InputMessage) {
	if r.ledger == nil {
		return
	}
	r.pending.Add(1)
	go func() {
		defer r.pending.Done()
		entry.InputTokens = r.inputTokens(input)
		ctx, cancel := context.WithTimeout(context.Background(), ledgerWriteTimeout)
		defer cancel()
		if err := r.ledger.Record(ctx, entry); err != nil {
			r.logger.Warnf("turn %s: ledger record failed: %v", entry.TurnID, err)
		}
	}()
}

// Wait blocks until every ledger write started so far has finished. Call it
// after the HTTP server has shut down and before closing the ledger.
func (r *Relay) Wait() {
	r.pending.Wait()
}
