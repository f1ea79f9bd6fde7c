package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/joss/genie/internal/domain"
	"github.com/joss/genie/internal/logging"
	"github.com/joss/genie/pkg/llm"
)

const (
	anthropicAPIURL  = "https://api.anthropic.com/v1/messages"
	anthropicVersion = "2023-06-01"

	anthropicDefaultMaxTokens = 8192
	// status used when the stream reports overload mid-response
	statusOverloaded = 529
)

type Anthropic struct {
	apiKey  string
	baseURL string
	client  HTTPClient
}

func NewAnthropic(apiKey, baseURLOverride string) *Anthropic {
	return NewAnthropicWithClient(apiKey, baseURLOverride, &http.Client{})
}

func NewAnthropicWithClient(apiKey, baseURLOverride string, client HTTPClient) *Anthropic {
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	baseURL := anthropicAPIURL
	if baseURLOverride != "" {
		baseURL = strings.TrimSuffix(baseURLOverride, "/")
		if !strings.HasSuffix(baseURL, "/messages") {
			baseURL += "/messages"
		}
	}
	return &Anthropic{
		apiKey:  apiKey,
		baseURL: baseURL,
		client:  client,
	}
}

func (a *Anthropic) ID() string   { return "anthropic" }
func (a *Anthropic) Name() string { return "Anthropic" }

func (a *Anthropic) Models() []domain.Model {
	return familyModels(domain.FamilyAnthropic)
}

type anthropicRequest struct {
	Model         string             `json:"model"`
	MaxTokens     int                `json:"max_tokens"`
	System        string             `json:"system,omitempty"`
	Messages      []anthropicMessage `json:"messages"`
	Stream        bool               `json:"stream"`
	Temperature   float64            `json:"temperature"`
	StopSequences []string           `json:"stop_sequences,omitempty"`
}

type anthropicMessage struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type contentPart struct {
	Type   string       `json:"type"`
	Text   string       `json:"text,omitempty"`
	Source *imageSource `json:"source,omitempty"`
}

type imageSource struct {
	Type      string `json:"type"`       // "base64"
	MediaType string `json:"media_type"` // "image/png", "image/jpeg", etc
	Data      string `json:"data"`       // base64 encoded
}

type streamEvent struct {
	Type  string          `json:"type"`
	Delta json.RawMessage `json:"delta,omitempty"`
	Usage *anthropicUsage `json:"usage,omitempty"`
	// message_start carries the prompt token count
	Message *struct {
		Usage *anthropicUsage `json:"usage,omitempty"`
	} `json:"message,omitempty"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

func (a *Anthropic) buildRequest(req *llm.ChatRequest) anthropicRequest {
	msgs := make([]anthropicMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		var content []contentPart
		for _, p := range m.Parts {
			switch part := p.(type) {
			case domain.TextPart:
				content = append(content, contentPart{Type: "text", Text: part.Text})
			case domain.ImagePart:
				content = append(content, contentPart{
					Type: "image",
					Source: &imageSource{
						Type:      "base64",
						MediaType: part.MediaType,
						Data:      part.Base64,
					},
				})
			}
		}
		if len(content) > 0 {
			msgs = append(msgs, anthropicMessage{
				Role:    string(m.Role),
				Content: content,
			})
		}
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = anthropicDefaultMaxTokens
	}

	return anthropicRequest{
		Model:         req.Model,
		MaxTokens:     maxTokens,
		System:        req.SystemPrompt,
		Messages:      msgs,
		Stream:        true,
		Temperature:   req.Temperature,
		StopSequences: req.Stop,
	}
}

func (a *Anthropic) Chat(ctx context.Context, req *llm.ChatRequest) (<-chan domain.StreamEvent, error) {
	jsonBody, err := json.Marshal(a.buildRequest(req))
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", a.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		apiErr := readError(a.Name(), resp)
		apiErr.Type = anthropicErrorType(apiErr.Body)
		return nil, apiErr
	}

	events := make(chan domain.StreamEvent, 100)
	logging.SafeGo("provider.anthropic", func() { a.streamResponse(ctx, resp, events) })
	return events, nil
}

func (a *Anthropic) streamResponse(ctx context.Context, resp *http.Response, events chan<- domain.StreamEvent) {
	defer close(events)
	defer resp.Body.Close()

	var usage domain.Usage

	stopped, err := scanSSE(resp.Body, func(data string) bool {
		var event streamEvent
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			return true
		}

		switch event.Type {
		case "message_start":
			if event.Message != nil && event.Message.Usage != nil {
				usage.InputTokens = event.Message.Usage.InputTokens
			}

		case "content_block_delta":
			var delta struct {
				Type string `json:"type"`
				Text string `json:"text"`
			}
			if json.Unmarshal(event.Delta, &delta) == nil && delta.Type == "text_delta" && delta.Text != "" {
				return emit(ctx, events, domain.StreamEvent{
					Type:    domain.StreamEventText,
					Content: delta.Text,
				})
			}

		case "message_delta":
			// Final usage stats
			if event.Usage != nil {
				usage.OutputTokens = event.Usage.OutputTokens
				if event.Usage.InputTokens > 0 {
					usage.InputTokens = event.Usage.InputTokens
				}
			}

		case "message_stop":
			u := usage
			emit(ctx, events, domain.StreamEvent{Type: domain.StreamEventUsage, Usage: &u})
			emit(ctx, events, domain.StreamEvent{Type: domain.StreamEventDone, Done: true})
			return false

		case "error":
			apiErr := &APIError{Provider: a.Name(), StatusCode: http.StatusInternalServerError}
			if event.Error != nil {
				apiErr.Type = event.Error.Type
				apiErr.Body = event.Error.Message
				if event.Error.Type == "overloaded_error" {
					apiErr.StatusCode = statusOverloaded
				}
			}
			emit(ctx, events, domain.StreamEvent{Type: domain.StreamEventError, Error: apiErr})
			return false
		}
		return true
	})
	if stopped {
		return
	}
	emitCut(ctx, events, err)
}

func anthropicErrorType(body string) string {
	var parsed struct {
		Error struct {
			Type string `json:"type"`
		} `json:"error"`
	}
	if json.Unmarshal([]byte(body), &parsed) != nil {
		return ""
	}
	return parsed.Error.Type
}

var _ llm.Provider = (*Anthropic)(nil)
