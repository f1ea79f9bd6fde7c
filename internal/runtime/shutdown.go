// Package runtime ties process signals to a cancellable context and runs
// registered cleanups when a command ends.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joss/genie/internal/logging"
)

// ShutdownFunc releases one resource.
type ShutdownFunc func(ctx context.Context) error

// DefaultShutdownTimeout bounds all cleanups together.
const DefaultShutdownTimeout = 30 * time.Second

type namedHandler struct {
	name string
	fn   ShutdownFunc
}

// ShutdownManager cancels its context on SIGINT/SIGTERM and runs cleanup
// handlers once, last registered first.
type ShutdownManager struct {
	mu       sync.Mutex
	handlers []namedHandler
	timeout  time.Duration
	ctx      context.Context
	cancel   context.CancelFunc
	once     sync.Once
	err      error
	logger   *logging.Logger
}

// NewShutdownManager derives the managed context from parent.
func NewShutdownManager(parent context.Context, timeout time.Duration) *ShutdownManager {
	ctx, cancel := context.WithCancel(parent)
	return &ShutdownManager{
		timeout: timeout,
		ctx:     ctx,
		cancel:  cancel,
		logger:  logging.New("runtime"),
	}
}

// Register adds a cleanup handler.
func (m *ShutdownManager) Register(name string, fn ShutdownFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, namedHandler{name: name, fn: fn})
}

// RegisterCloser registers c.Close.
func (m *ShutdownManager) RegisterCloser(name string, c interface{ Close() error }) {
	m.Register(name, func(context.Context) error { return c.Close() })
}

// Context is cancelled when a signal arrives or Shutdown runs.
func (m *ShutdownManager) Context() context.Context {
	return m.ctx
}

// ListenForSignals cancels the context on SIGINT or SIGTERM. The returned
// function stops listening.
func (m *ShutdownManager) ListenForSignals() (stop func()) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
	done := make(chan struct{})

	logging.SafeGo("runtime", func() {
		select {
		case sig := <-sigChan:
			m.logger.Warn("signal_received", map[string]interface{}{"signal": sig.String()}, nil)
			m.cancel()
		case <-done:
		}
	})
	return func() {
		signal.Stop(sigChan)
		close(done)
	}
}

// Shutdown cancels the context and runs every handler in reverse order of
// registration. Later calls return the first result.
func (m *ShutdownManager) Shutdown() error {
	m.once.Do(func() {
		m.cancel()
		m.err = m.run()
	})
	return m.err
}

func (m *ShutdownManager) run() error {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	m.mu.Lock()
	handlers := append([]namedHandler(nil), m.handlers...)
	m.mu.Unlock()

	var errs []error
	for i := len(handlers) - 1; i >= 0; i-- {
		h := handlers[i]
		if ctx.Err() != nil {
			errs = append(errs, fmt.Errorf("%s: shutdown timed out after %v", h.name, m.timeout))
			continue
		}
		start := time.Now()
		err := h.fn(ctx)
		m.logger.TimedEvent("shutdown_handler", start, map[string]interface{}{"handler": h.name}, err)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", h.name, err))
		}
	}
	return errors.Join(errs...)
}
