// Package inference drives a model service: it shapes conversations for the
// model's capability, retries transient failures and accounts for usage.
package inference

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/joss/genie/internal/domain"
	"github.com/joss/genie/internal/logging"
	"github.com/joss/genie/internal/tokens"
	"github.com/joss/genie/pkg/llm"
)

// Options configure one call.
type Options struct {
	Model       string
	Temperature float64
	MaxTokens   int
	Stop        []string
	// Timeout bounds a single attempt. Zero means no per-attempt limit.
	Timeout time.Duration
	// Step labels the ledger record and log events.
	Step string
}

// Completion is the outcome of a streamed call.
type Completion struct {
	Text  string
	Usage domain.TokenUsage
	// DroppedImages counts image parts removed for a text-only model.
	DroppedImages int
}

// Client is safe for concurrent use.
type Client struct {
	provider llm.Provider
	prices   domain.PriceTable
	policy   RetryPolicy
	ledger   *domain.Ledger
	logger   *logging.Logger
	defaults Options

	countersMu sync.Mutex
	counters   map[string]tokens.TextCounter
	counterFn  func(model string) tokens.TextCounter
}

// Option configures a Client.
type Option func(*Client)

// WithPriceTable replaces the default price table.
func WithPriceTable(t domain.PriceTable) Option {
	return func(c *Client) { c.prices = t }
}

// WithRetryPolicy replaces the default retry policy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *Client) { c.policy = p }
}

// WithLedger records every successful call into l.
func WithLedger(l *domain.Ledger) Option {
	return func(c *Client) { c.ledger = l }
}

// WithLogger sets the logger used for retry and drop events.
func WithLogger(l *logging.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithDefaults fills unset call options.
func WithDefaults(o Options) Option {
	return func(c *Client) { c.defaults = o }
}

// WithTextCounter overrides the per-model tokenizer.
func WithTextCounter(fn func(model string) tokens.TextCounter) Option {
	return func(c *Client) { c.counterFn = fn }
}

// New creates a client over p.
func New(p llm.Provider, opts ...Option) *Client {
	c := &Client{
		provider: p,
		prices:   domain.DefaultPriceTable(),
		policy:   DefaultRetryPolicy(),
		logger:   logging.New("inference"),
		counters: make(map[string]tokens.TextCounter),
		counterFn: func(model string) tokens.TextCounter {
			return tokens.NewCounter(model)
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Ledger returns the ledger calls are recorded into, if any.
func (c *Client) Ledger() *domain.Ledger { return c.ledger }

// Model resolves a model identifier against the client's price table.
func (c *Client) Model(id string) domain.Model {
	return c.prices.Resolve(id)
}

func (c *Client) merge(o Options) Options {
	if o.Model == "" {
		o.Model = c.defaults.Model
	}
	if o.Temperature == 0 {
		o.Temperature = c.defaults.Temperature
	}
	if o.MaxTokens == 0 {
		o.MaxTokens = c.defaults.MaxTokens
	}
	if o.Stop == nil {
		o.Stop = c.defaults.Stop
	}
	if o.Timeout == 0 {
		o.Timeout = c.defaults.Timeout
	}
	return o
}

// Complete runs the conversation and returns the whole reply.
func (c *Client) Complete(ctx context.Context, conv []domain.Message, opts Options) (string, domain.TokenUsage, error) {
	res, err := c.Stream(ctx, conv, opts, nil)
	if err != nil {
		return "", domain.TokenUsage{}, err
	}
	return res.Text, res.Usage, nil
}

// Stream runs the conversation, handing text chunks to onChunk in arrival
// order. onChunk may be nil. Once a chunk has been delivered the call is no
// longer retried.
func (c *Client) Stream(ctx context.Context, conv []domain.Message, opts Options, onChunk func(string) error) (Completion, error) {
	opts = c.merge(opts)
	if opts.Model == "" {
		return Completion{}, errors.New("inference: model is required")
	}
	if len(conv) == 0 {
		return Completion{}, errors.New("inference: empty conversation")
	}
	if ctx.Err() != nil {
		return Completion{}, ctx.Err()
	}

	model := c.prices.Resolve(opts.Model)
	capability := CapabilityFor(model)
	prep := capability.prepare(conv)
	logger := c.logger.Ctx(ctx).WithStep(opts.Step)
	if prep.dropped > 0 {
		logger.Warn("images_dropped", map[string]interface{}{
			"model":  model.ID,
			"images": prep.dropped,
		}, nil)
	}

	req := &llm.ChatRequest{
		Model:        model.ID,
		Messages:     prep.messages,
		MaxTokens:    opts.MaxTokens,
		Temperature:  opts.Temperature,
		Stop:         opts.Stop,
		SystemPrompt: prep.system,
	}

	var (
		attempts  int
		delivered bool
		lastErr   error
		result    streamResult
	)
	op := func() error {
		attempts++
		res, err := c.attempt(ctx, req, opts.Timeout, onChunk, &delivered)
		if err == nil {
			result = res
			return nil
		}
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		var cbErr *ErrCallback
		if errors.As(err, &cbErr) {
			return backoff.Permanent(err)
		}
		if !isTransient(err) {
			return backoff.Permanent(fatal(err))
		}
		if delivered {
			return backoff.Permanent(&TransientServiceError{Attempts: attempts, Err: err})
		}
		lastErr = err
		return err
	}
	notify := func(err error, wait time.Duration) {
		logger.Warn("inference_retry", map[string]interface{}{
			"model":   model.ID,
			"attempt": attempts,
			"wait_ms": wait.Milliseconds(),
		}, err)
	}

	start := time.Now()
	if err := backoff.RetryNotify(op, c.policy.backOff(ctx, &lastErr), notify); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Completion{}, ctxErr
		}
		var tse *TransientServiceError
		var ape *AuthOrPolicyError
		var cbe *ErrCallback
		if !errors.As(err, &tse) && !errors.As(err, &ape) && !errors.As(err, &cbe) && isTransient(err) {
			err = &TransientServiceError{Attempts: attempts, Err: err}
		}
		logger.TimedEvent("inference_failed", start, map[string]interface{}{
			"model":    model.ID,
			"attempts": attempts,
		}, err)
		return Completion{}, err
	}

	usage := c.usage(model, req, prep.images, result)
	if c.ledger != nil {
		if err := c.ledger.Record(opts.Step, usage); err != nil {
			return Completion{}, err
		}
	}
	logger.TimedEvent("inference_complete", start, map[string]interface{}{
		"model":      model.ID,
		"capability": capability.String(),
		"attempts":   attempts,
		"tokens":     usage.TotalTokens(),
	}, nil)

	return Completion{Text: result.text, Usage: usage, DroppedImages: prep.dropped}, nil
}

type streamResult struct {
	text     string
	reported *domain.Usage
}

func (c *Client) attempt(ctx context.Context, req *llm.ChatRequest, timeout time.Duration, onChunk func(string) error, delivered *bool) (streamResult, error) {
	var (
		attemptCtx context.Context
		cancel     context.CancelFunc
	)
	if timeout > 0 {
		attemptCtx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		attemptCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	events, err := c.provider.Chat(attemptCtx, req)
	if err != nil {
		return streamResult{}, err
	}

	var (
		sb        strings.Builder
		res       streamResult
		streamErr error
		done      bool
	)
	for ev := range events {
		switch ev.Type {
		case domain.StreamEventText:
			sb.WriteString(ev.Content)
			if onChunk == nil || ev.Content == "" || streamErr != nil {
				continue
			}
			*delivered = true
			if err := onChunk(ev.Content); err != nil {
				streamErr = &ErrCallback{Err: err}
				cancel()
			}
		case domain.StreamEventUsage:
			res.reported = ev.Usage
		case domain.StreamEventError:
			if streamErr == nil {
				streamErr = ev.Error
			}
		case domain.StreamEventDone:
			done = true
			if ev.Usage != nil {
				res.reported = ev.Usage
			}
		}
	}
	if streamErr != nil {
		return streamResult{}, streamErr
	}
	if !done {
		if err := attemptCtx.Err(); err != nil {
			return streamResult{}, err
		}
		return streamResult{}, ErrIncompleteStream
	}
	res.text = sb.String()
	return res, nil
}

// usage prefers provider-reported counts and fills the rest locally. Image
// tokens are always computed locally and taken out of the reported prompt
// count so they are not charged twice.
func (c *Client) usage(model domain.Model, req *llm.ChatRequest, images []domain.ImagePart, res streamResult) domain.TokenUsage {
	u := domain.TokenUsage{Model: model.ID}

	coster := tokens.CosterFor(model.Family)
	for _, img := range images {
		n, err := tokens.ImageTokens(coster, img)
		if err != nil {
			c.logger.Debug("image_size_unknown", map[string]interface{}{"path": img.Path})
		}
		u.ImageTokens += n
	}

	counter := c.counter(model.ID)
	if res.reported != nil && res.reported.InputTokens > 0 {
		u.PromptTokens = res.reported.InputTokens - u.ImageTokens
		if u.PromptTokens < 0 {
			u.PromptTokens = 0
		}
	} else {
		conv := req.Messages
		if req.SystemPrompt != "" {
			conv = append([]domain.Message{domain.System(req.SystemPrompt)}, conv...)
		}
		u.PromptTokens = tokens.CountConversation(counter, conv)
	}
	if res.reported != nil && res.reported.OutputTokens > 0 {
		u.CompletionTokens = res.reported.OutputTokens
	} else {
		u.CompletionTokens = counter.Count(res.text)
	}

	u.Cost = model.Cost(u)
	return u
}

func (c *Client) counter(model string) tokens.TextCounter {
	c.countersMu.Lock()
	defer c.countersMu.Unlock()
	if tc, ok := c.counters[model]; ok {
		return tc
	}
	tc := c.counterFn(model)
	c.counters[model] = tc
	return tc
}
