// Package agent sequences the generation and improvement workflows: it
// picks the prompts, calls the model, turns replies into file sets and
// records every exchange in the session log.
package agent

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/joss/genie/internal/domain"
	"github.com/joss/genie/internal/inference"
	"github.com/joss/genie/internal/lint"
	"github.com/joss/genie/internal/logging"
	"github.com/joss/genie/internal/templates"
	"github.com/joss/genie/pkg/llm"
)

// DefaultClarifyRounds caps the clarify conversation.
const DefaultClarifyRounds = 3

// Config selects the workflow variant.
type Config struct {
	Model       string
	Temperature float64
	MaxTokens   int
	// Timeout bounds each model call attempt.
	Timeout time.Duration

	// Lite sends only the file format template as system prompt.
	Lite bool
	// Clarify asks the model for open questions before generating.
	Clarify       bool
	ClarifyRounds int
	// Entrypoint generates run.sh after the code.
	Entrypoint bool

	// Overrides replace embedded templates by name.
	Overrides templates.Set
}

// Clarifier answers the model's clarifying questions. ok=false means the
// user declines to answer and the model should make its own assumptions.
type Clarifier interface {
	Answer(ctx context.Context, question string) (answer string, ok bool, err error)
}

// ClarifierFunc adapts a function to Clarifier.
type ClarifierFunc func(ctx context.Context, question string) (string, bool, error)

func (f ClarifierFunc) Answer(ctx context.Context, question string) (string, bool, error) {
	return f(ctx, question)
}

// Agent runs one workflow at a time for a session. Not safe for concurrent
// use.
type Agent struct {
	session   *Session
	client    *inference.Client
	cfg       Config
	clarifier Clarifier
	linter    *lint.Linter
	logger    *logging.Logger
	m         *machine

	// OnChunk receives streamed reply text as it arrives.
	OnChunk func(step, chunk string)
	// OnState is called on every state change.
	OnState func(State)
}

// Option configures an Agent.
type Option func(*Agent)

// WithClarifier sets who answers clarifying questions.
func WithClarifier(c Clarifier) Option {
	return func(a *Agent) { a.clarifier = c }
}

// WithLinter runs formatters over produced files.
func WithLinter(l *lint.Linter) Option {
	return func(a *Agent) { a.linter = l }
}

// WithChunkHandler streams reply text to fn.
func WithChunkHandler(fn func(step, chunk string)) Option {
	return func(a *Agent) { a.OnChunk = fn }
}

// New builds an agent whose inference client records into the session
// ledger. Extra inference options (retry policy, price table) are applied
// after the ledger is bound.
func New(session *Session, provider llm.Provider, cfg Config, inferenceOpts []inference.Option, opts ...Option) *Agent {
	if cfg.ClarifyRounds <= 0 {
		cfg.ClarifyRounds = DefaultClarifyRounds
	}
	clientOpts := append([]inference.Option{
		inference.WithLogger(session.Logger()),
	}, inferenceOpts...)
	clientOpts = append(clientOpts, inference.WithLedger(session.Ledger))

	a := &Agent{
		session: session,
		client:  inference.New(provider, clientOpts...),
		cfg:     cfg,
		logger:  session.Logger(),
		m:       newMachine(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.m.onEnter = func(s State) {
		a.logger.Debug("state_enter", map[string]interface{}{"state": string(s)})
		if a.OnState != nil {
			a.OnState(s)
		}
	}
	return a
}

// State is the current workflow state.
func (a *Agent) State() State { return a.m.state }

// Reset returns a finished agent to IDLE for another workflow.
func (a *Agent) Reset() {
	onEnter := a.m.onEnter
	a.m = newMachine()
	a.m.onEnter = onEnter
}

// Client exposes the inference client bound to the session ledger.
func (a *Agent) Client() *inference.Client { return a.client }

// call runs one model exchange and records it. The recorded conversation
// includes the reply.
func (a *Agent) call(ctx context.Context, step string, msgs []domain.Message) (string, error) {
	ctx = logging.WithTrace(ctx, a.session.ID.String(), step)
	opts := inference.Options{
		Model:       a.cfg.Model,
		Temperature: a.cfg.Temperature,
		MaxTokens:   a.cfg.MaxTokens,
		Timeout:     a.cfg.Timeout,
		Step:        step,
	}
	comp, err := a.client.Stream(ctx, msgs, opts, func(chunk string) error {
		if a.OnChunk != nil {
			a.OnChunk(step, chunk)
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	reply := strings.TrimSpace(comp.Text)
	logged := append(append([]domain.Message(nil), msgs...), domain.Assistant(reply))
	if err := a.session.record(ctx, step, logged, comp.Usage); err != nil {
		return reply, err
	}
	return reply, nil
}

// fail moves to FAILED and wraps err. Errors that are already a
// *WorkflowError keep their state and step.
func (a *Agent) fail(res *Result, step string, err error) (*Result, error) {
	from := a.m.state
	if !from.Terminal() {
		_ = a.m.to(StateFailed)
	}
	a.finish(res)
	a.logger.WithStep(step).Error("workflow_failed", map[string]interface{}{"state": string(from)}, err)

	var we *WorkflowError
	if errors.As(err, &we) {
		return res, err
	}
	return res, &WorkflowError{State: from, Step: step, Err: err}
}

func (a *Agent) finish(res *Result) {
	res.History = a.m.History()
	res.Usage = a.session.Ledger.Total()
}

func (a *Agent) mode(improve bool) templates.Mode {
	switch {
	case improve && a.cfg.Lite:
		return templates.ModeLiteImprove
	case improve:
		return templates.ModeImprove
	case a.cfg.Lite:
		return templates.ModeLiteGenerate
	default:
		return templates.ModeGenerate
	}
}
