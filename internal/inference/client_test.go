package inference

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"net"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joss/genie/internal/domain"
	"github.com/joss/genie/internal/logging"
	"github.com/joss/genie/internal/provider"
	"github.com/joss/genie/internal/testutil"
	"github.com/joss/genie/internal/tokens"
	"github.com/joss/genie/pkg/llm"
)

func TestMain(m *testing.M) {
	logging.SetOutput(io.Discard)
	os.Exit(m.Run())
}

func fastPolicy(attempts int) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     attempts,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
		MaxElapsed:      5 * time.Second,
		Multiplier:      2,
	}
}

func heuristic(string) tokens.TextCounter { return tokens.Heuristic{} }

func newClient(p llm.Provider, opts ...Option) *Client {
	base := []Option{
		WithRetryPolicy(fastPolicy(3)),
		WithTextCounter(heuristic),
		WithDefaults(Options{Model: "gpt-4o"}),
	}
	return New(p, append(base, opts...)...)
}

func conv() []domain.Message {
	return []domain.Message{domain.System("be brief"), domain.User("write hello world")}
}

func TestComplete_ProviderUsage(t *testing.T) {
	mock := testutil.NewMockProvider(testutil.Reply("hello", 100, 20))
	ledger := domain.NewLedger()
	c := newClient(mock, WithLedger(ledger))

	text, usage, err := c.Complete(context.Background(), conv(), Options{Step: "gen_code"})
	require.NoError(t, err)
	assert.Equal(t, "hello", text)
	assert.Equal(t, 100, usage.PromptTokens)
	assert.Equal(t, 20, usage.CompletionTokens)
	assert.Equal(t, "gpt-4o", usage.Model)
	assert.InDelta(t, c.Model("gpt-4o").Cost(usage), usage.Cost, 1e-12)
	assert.Greater(t, usage.Cost, 0.0)

	records := ledger.Records()
	require.Len(t, records, 1)
	assert.Equal(t, "gen_code", records[0].Step)
	assert.Equal(t, usage, ledger.Total())

	reqs := mock.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "be brief", reqs[0].SystemPrompt)
	require.Len(t, reqs[0].Messages, 1)
	assert.Equal(t, domain.RoleUser, reqs[0].Messages[0].Role)
}

func TestComplete_LocalCounting(t *testing.T) {
	mock := testutil.NewMockProvider(testutil.Chunks("hel", "lo"))
	c := newClient(mock)

	_, usage, err := c.Complete(context.Background(), conv(), Options{})
	require.NoError(t, err)
	assert.Equal(t, tokens.Heuristic{}.Count("hello"), usage.CompletionTokens)
	assert.Equal(t, tokens.CountConversation(tokens.Heuristic{}, conv()), usage.PromptTokens)
}

func TestComplete_RetriesTransient(t *testing.T) {
	mock := testutil.NewMockProvider(
		testutil.Fail(&provider.APIError{Provider: "openai", StatusCode: 429}),
		testutil.Fail(&provider.APIError{Provider: "openai", StatusCode: 503}),
		testutil.Reply("ok", 10, 1),
	)
	c := newClient(mock)

	text, _, err := c.Complete(context.Background(), conv(), Options{})
	require.NoError(t, err)
	assert.Equal(t, "ok", text)
	assert.Equal(t, 3, mock.CallCount())
}

func TestComplete_ExhaustedRetries(t *testing.T) {
	mock := testutil.NewMockProvider(
		testutil.Fail(&provider.APIError{Provider: "anthropic", StatusCode: 529, Type: "overloaded_error"}),
	)
	ledger := domain.NewLedger()
	c := newClient(mock, WithLedger(ledger))

	_, _, err := c.Complete(context.Background(), conv(), Options{})
	var tse *TransientServiceError
	require.ErrorAs(t, err, &tse)
	assert.Equal(t, 3, tse.Attempts)
	assert.Equal(t, 3, mock.CallCount())
	assert.Empty(t, ledger.Records())

	var apiErr *provider.APIError
	assert.ErrorAs(t, err, &apiErr)
}

func TestComplete_FatalNotRetried(t *testing.T) {
	tests := []struct {
		name string
		err  *provider.APIError
	}{
		{"unauthorized", &provider.APIError{StatusCode: 401}},
		{"forbidden", &provider.APIError{StatusCode: 403}},
		{"bad request", &provider.APIError{StatusCode: 400}},
		{"unknown model", &provider.APIError{StatusCode: 404}},
		{"content policy", &provider.APIError{StatusCode: 400, Type: "content_policy_violation"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := testutil.NewMockProvider(testutil.Fail(tt.err))
			c := newClient(mock)

			_, _, err := c.Complete(context.Background(), conv(), Options{})
			var ape *AuthOrPolicyError
			require.ErrorAs(t, err, &ape)
			assert.Equal(t, tt.err.StatusCode, ape.StatusCode)
			assert.Equal(t, 1, mock.CallCount())
		})
	}
}

func TestStream_ChunksInOrder(t *testing.T) {
	mock := testutil.NewMockProvider(testutil.Chunks("a", "b", "c"))
	c := newClient(mock)

	var got []string
	res, err := c.Stream(context.Background(), conv(), Options{}, func(s string) error {
		got = append(got, s)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, got)
	assert.Equal(t, "abc", res.Text)
}

func TestStream_NoRetryAfterDelivery(t *testing.T) {
	mock := testutil.NewMockProvider(
		testutil.Cut(&provider.StreamError{Err: io.ErrUnexpectedEOF}, "partial"),
		testutil.Reply("never", 1, 1),
	)
	c := newClient(mock)

	var got []string
	_, err := c.Stream(context.Background(), conv(), Options{}, func(s string) error {
		got = append(got, s)
		return nil
	})
	var tse *TransientServiceError
	require.ErrorAs(t, err, &tse)
	assert.Equal(t, 1, mock.CallCount())
	assert.Equal(t, []string{"partial"}, got)
}

func TestStream_RetryBeforeDelivery(t *testing.T) {
	mock := testutil.NewMockProvider(
		testutil.Cut(&provider.StreamError{Err: io.ErrUnexpectedEOF}),
		testutil.Chunks("fine"),
	)
	c := newClient(mock)

	res, err := c.Stream(context.Background(), conv(), Options{}, func(string) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, "fine", res.Text)
	assert.Equal(t, 2, mock.CallCount())
}

func TestStream_IncompleteIsRetried(t *testing.T) {
	mock := testutil.NewMockProvider(
		testutil.Response{Events: []domain.StreamEvent{{Type: domain.StreamEventText, Content: "x"}}},
		testutil.Reply("done", 1, 1),
	)
	c := newClient(mock)

	text, _, err := c.Complete(context.Background(), conv(), Options{})
	require.NoError(t, err)
	assert.Equal(t, "done", text)
}

func TestStream_CallbackError(t *testing.T) {
	mock := testutil.NewMockProvider(testutil.Chunks("a", "b"))
	c := newClient(mock)

	stop := errors.New("stop")
	_, err := c.Stream(context.Background(), conv(), Options{}, func(string) error { return stop })
	assert.ErrorIs(t, err, stop)
	var cbErr *ErrCallback
	assert.ErrorAs(t, err, &cbErr)
	assert.Equal(t, 1, mock.CallCount())
}

func TestComplete_Cancelled(t *testing.T) {
	mock := testutil.NewMockProvider(testutil.Fail(&provider.APIError{StatusCode: 500}))
	ledger := domain.NewLedger()
	c := newClient(mock, WithLedger(ledger), WithRetryPolicy(RetryPolicy{
		MaxAttempts:     5,
		InitialInterval: time.Hour,
		MaxInterval:     time.Hour,
		MaxElapsed:      2 * time.Hour,
	}))

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	_, _, err := c.Complete(ctx, conv(), Options{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, ledger.Records())
}

// hangProvider blocks its first call until the attempt is cancelled.
type hangProvider struct {
	calls atomic.Int32
}

func (h *hangProvider) ID() string             { return "hang" }
func (h *hangProvider) Name() string           { return "Hang" }
func (h *hangProvider) Models() []domain.Model { return nil }
func (h *hangProvider) Chat(ctx context.Context, _ *llm.ChatRequest) (<-chan domain.StreamEvent, error) {
	n := h.calls.Add(1)
	events := make(chan domain.StreamEvent, 3)
	if n == 1 {
		go func() {
			defer close(events)
			<-ctx.Done()
			events <- domain.StreamEvent{Type: domain.StreamEventError, Error: &provider.StreamError{Err: ctx.Err()}}
		}()
		return events, nil
	}
	events <- domain.StreamEvent{Type: domain.StreamEventText, Content: "late"}
	events <- domain.StreamEvent{Type: domain.StreamEventDone, Done: true}
	close(events)
	return events, nil
}

func TestComplete_AttemptTimeoutIsTransient(t *testing.T) {
	p := &hangProvider{}
	c := newClient(p)

	text, _, err := c.Complete(context.Background(), conv(), Options{Timeout: 20 * time.Millisecond})
	require.NoError(t, err)
	assert.Equal(t, "late", text)
	assert.Equal(t, int32(2), p.calls.Load())
}

func pngBase64(t *testing.T, w, h int) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))))
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func imageConv(t *testing.T) []domain.Message {
	img := domain.ImagePart{Base64: pngBase64(t, 512, 512), MediaType: "image/png", Path: "ui.png"}
	return []domain.Message{
		domain.User("build this"),
		{Role: domain.RoleUser, Parts: []domain.Part{img}},
	}
}

func TestCapability_TextOnlyStripsImages(t *testing.T) {
	mock := testutil.NewMockProvider(testutil.Reply("ok", 50, 5))
	c := newClient(mock)

	res, err := c.Stream(context.Background(), imageConv(t), Options{Model: "gpt-3.5-turbo"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.DroppedImages)
	assert.Zero(t, res.Usage.ImageTokens)

	req := mock.Requests()[0]
	assert.False(t, domain.HasImages(req.Messages))
	require.Len(t, req.Messages, 1, "consecutive user messages collapse")
	assert.Equal(t, "build this", req.Messages[0].Text())
}

func TestCapability_VisionKeepsImages(t *testing.T) {
	mock := testutil.NewMockProvider(testutil.Reply("ok", 1000, 5))
	c := newClient(mock)

	res, err := c.Stream(context.Background(), imageConv(t), Options{Model: "gpt-4o"}, nil)
	require.NoError(t, err)
	assert.Zero(t, res.DroppedImages)
	assert.Equal(t, 85+170, res.Usage.ImageTokens)
	assert.Equal(t, 1000-255, res.Usage.PromptTokens)

	req := mock.Requests()[0]
	assert.True(t, domain.HasImages(req.Messages))
	assert.Len(t, req.Messages, 2)
}

func TestCapabilityFor(t *testing.T) {
	assert.Equal(t, VisionChatCompletion, CapabilityFor(domain.Model{Vision: true}))
	assert.Equal(t, ChatCompletion, CapabilityFor(domain.Model{}))
	assert.Equal(t, "vision_chat_completion", VisionChatCompletion.String())
}

func TestValidation(t *testing.T) {
	c := New(testutil.NewMockProvider())
	_, _, err := c.Complete(context.Background(), conv(), Options{})
	assert.Error(t, err, "model required")

	_, _, err = c.Complete(context.Background(), nil, Options{Model: "gpt-4o"})
	assert.Error(t, err)
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"rate limit", &provider.APIError{StatusCode: 429}, true},
		{"timeout status", &provider.APIError{StatusCode: 408}, true},
		{"server", &provider.APIError{StatusCode: 502}, true},
		{"overloaded", &provider.APIError{StatusCode: 529}, true},
		{"rate limit type on 400", &provider.APIError{StatusCode: 400, Type: "rate_limit_error"}, true},
		{"auth", &provider.APIError{StatusCode: 401}, false},
		{"unprocessable", &provider.APIError{StatusCode: 422}, false},
		{"policy", &provider.APIError{StatusCode: 400, Type: "content_filter"}, false},
		{"stream cut", &provider.StreamError{Err: io.ErrUnexpectedEOF}, true},
		{"network", &net.OpError{Op: "dial", Err: errors.New("refused")}, true},
		{"deadline", fmt.Errorf("send: %w", context.DeadlineExceeded), true},
		{"incomplete", ErrIncompleteStream, true},
		{"other", errors.New("marshal failed"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isTransient(tt.err))
		})
	}
}

func TestRetryAfterHint(t *testing.T) {
	var last error = &provider.APIError{StatusCode: 429, RetryAfter: time.Second}
	bo := fastPolicy(5).backOff(context.Background(), &last)
	assert.Equal(t, 2*time.Millisecond, bo.NextBackOff(), "hint is capped by MaxInterval")

	p := fastPolicy(5)
	p.MaxInterval = 0
	bo = p.backOff(context.Background(), &last)
	assert.Equal(t, time.Second, bo.NextBackOff())
}
