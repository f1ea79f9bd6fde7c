package logging

import (
	"context"

	"github.com/oklog/ulid/v2"
)

type traceKey struct{}

// Trace ties log events to one model exchange: the session it belongs to,
// the pipeline step and a per-call request ID.
type Trace struct {
	Session   string
	Step      string
	RequestID string
}

// NewRequestID returns a ULID, so IDs sort in call order.
func NewRequestID() string {
	return ulid.Make().String()
}

// WithTrace starts a new exchange in ctx with a fresh request ID. An empty
// session keeps the one already carried by ctx.
func WithTrace(ctx context.Context, session, step string) context.Context {
	parent := TraceFrom(ctx)
	if session == "" {
		session = parent.Session
	}
	return context.WithValue(ctx, traceKey{}, Trace{
		Session:   session,
		Step:      step,
		RequestID: NewRequestID(),
	})
}

// TraceFrom returns the trace carried by ctx, or the zero Trace.
func TraceFrom(ctx context.Context) Trace {
	t, _ := ctx.Value(traceKey{}).(Trace)
	return t
}
