package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewRequestID(t *testing.T) {
	id1 := NewRequestID()
	id2 := NewRequestID()

	assert.Len(t, id1, 26)
	assert.NotEqual(t, id1, id2)
	assert.Less(t, id1, id2, "IDs sort in creation order")
}

func TestWithTrace(t *testing.T) {
	ctx := WithTrace(context.Background(), "s-1", "gen_code")
	tr := TraceFrom(ctx)
	assert.Equal(t, "s-1", tr.Session)
	assert.Equal(t, "gen_code", tr.Step)
	assert.NotEmpty(t, tr.RequestID)

	next := TraceFrom(WithTrace(ctx, "", "gen_entrypoint"))
	assert.Equal(t, "s-1", next.Session, "session is inherited")
	assert.Equal(t, "gen_entrypoint", next.Step)
	assert.NotEqual(t, tr.RequestID, next.RequestID)
}

func TestTraceFromEmpty(t *testing.T) {
	assert.Equal(t, Trace{}, TraceFrom(context.Background()))
}
