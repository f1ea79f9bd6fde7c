package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func capture(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() {
		SetOutput(io.Discard)
		SetLevel(LevelInfo)
	})
	return &buf
}

func lines(t *testing.T, buf *bytes.Buffer) []Event {
	t.Helper()
	var events []Event
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var e Event
		require.NoError(t, json.Unmarshal([]byte(line), &e), line)
		events = append(events, e)
	}
	return events
}

func TestLoggerContext(t *testing.T) {
	buf := capture(t)

	logger := New("agent").WithSession("s-1").WithStep("gen_code")
	logger.Info("step_started", map[string]interface{}{"files": 3})

	events := lines(t, buf)
	require.Len(t, events, 1)
	e := events[0]
	assert.Equal(t, LevelInfo, e.Level)
	assert.Equal(t, "agent", e.Component)
	assert.Equal(t, "step_started", e.Event)
	assert.Equal(t, "s-1", e.Session)
	assert.Equal(t, "gen_code", e.Step)
	assert.Equal(t, float64(3), e.Extra["files"])
}

func TestLoggerDerivationDoesNotMutate(t *testing.T) {
	base := New("agent")
	_ = base.WithSession("s-1")
	assert.Empty(t, base.session)
}

func TestLoggerTrace(t *testing.T) {
	buf := capture(t)

	ctx := WithTrace(context.Background(), "s-9", "improve")
	New("inference").Ctx(ctx).Warn("inference_retry", nil, errors.New("rate limited"))

	events := lines(t, buf)
	require.Len(t, events, 1)
	assert.Equal(t, TraceFrom(ctx).RequestID, events[0].RequestID)
	assert.Equal(t, "s-9", events[0].Session)
	assert.Equal(t, "improve", events[0].Step)
	assert.Equal(t, LevelWarn, events[0].Level)
	assert.Equal(t, "rate limited", events[0].Error)
}

func TestLevelFilter(t *testing.T) {
	buf := capture(t)
	SetLevel(LevelWarn)

	logger := New("x")
	logger.Debug("d", nil)
	logger.Info("i", nil)
	logger.Warn("w", nil, nil)
	logger.Error("e", nil, nil)

	events := lines(t, buf)
	require.Len(t, events, 2)
	assert.Equal(t, "w", events[0].Event)
	assert.Equal(t, "e", events[1].Event)
}

func TestTimedEvent(t *testing.T) {
	buf := capture(t)

	start := time.Now().Add(-50 * time.Millisecond)
	New("agent").TimedEvent("step_finished", start, nil, nil)
	New("agent").TimedEvent("step_failed", start, nil, errors.New("no files"))

	events := lines(t, buf)
	require.Len(t, events, 2)
	assert.GreaterOrEqual(t, events[0].Duration, int64(50))
	assert.Equal(t, LevelInfo, events[0].Level)
	assert.Equal(t, LevelError, events[1].Level)
	assert.Equal(t, "no files", events[1].Error)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLevel("debug"))
	assert.Equal(t, LevelError, ParseLevel("error"))
	assert.Equal(t, LevelInfo, ParseLevel("verbose"))
	assert.Equal(t, LevelInfo, ParseLevel(""))
}
