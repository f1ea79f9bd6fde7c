package domain

// StreamEvent represents events during message streaming
type StreamEvent struct {
	Type    StreamEventType `json:"type"`
	Content string          `json:"content,omitempty"`
	Error   error           `json:"-"`
	Done    bool            `json:"done,omitempty"`
	Usage   *Usage          `json:"usage,omitempty"`
}

type StreamEventType string

const (
	StreamEventText  StreamEventType = "text"
	StreamEventDone  StreamEventType = "done"
	StreamEventError StreamEventType = "error"
	StreamEventUsage StreamEventType = "usage"
)

// Usage is the token count a provider reports for one response.
type Usage struct {
	InputTokens  int `json:"inputTokens"`
	OutputTokens int `json:"outputTokens"`
}
