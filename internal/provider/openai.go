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

const openaiAPIURL = "https://api.openai.com/v1/chat/completions"

type OpenAI struct {
	id      string
	apiKey  string
	baseURL string
	client  HTTPClient
	// azure endpoints authenticate with an api-key header
	azure bool
}

func NewOpenAI(apiKey string, baseURLOverride string) *OpenAI {
	return NewOpenAIWithClient(apiKey, baseURLOverride, &http.Client{})
}

func NewOpenAIWithClient(apiKey string, baseURLOverride string, client HTTPClient) *OpenAI {
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	baseURL := baseURLOverride
	if baseURL == "" {
		baseURL = os.Getenv("OPENAI_BASE_URL")
	}
	if baseURL == "" {
		baseURL = openaiAPIURL
	} else {
		baseURL = strings.TrimSuffix(baseURL, "/")
		if !strings.HasSuffix(baseURL, "/chat/completions") {
			if strings.HasSuffix(baseURL, "/v1") {
				baseURL = baseURL + "/chat/completions"
			} else {
				baseURL = baseURL + "/v1/chat/completions"
			}
		}
	}
	return &OpenAI{
		id:      "openai",
		apiKey:  apiKey,
		baseURL: baseURL,
		client:  client,
	}
}

// NewOpenAICompatible targets any server speaking the chat completions
// protocol at exactly baseURL.
func NewOpenAICompatible(apiKey, baseURL string) *OpenAI {
	return NewOpenAICompatibleWithClient(apiKey, baseURL, &http.Client{})
}

func NewOpenAICompatibleWithClient(apiKey, baseURL string, client HTTPClient) *OpenAI {
	return &OpenAI{
		id:      "openai",
		apiKey:  apiKey,
		baseURL: baseURL,
		client:  client,
	}
}

// NewAzureOpenAI targets an Azure OpenAI deployment. The model name of each
// request is ignored by Azure; the deployment decides.
func NewAzureOpenAI(apiKey, endpoint, deployment, apiVersion string, client HTTPClient) *OpenAI {
	if apiKey == "" {
		apiKey = os.Getenv("AZURE_OPENAI_API_KEY")
	}
	if apiVersion == "" {
		apiVersion = "2024-02-01"
	}
	if client == nil {
		client = &http.Client{}
	}
	url := fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s",
		strings.TrimSuffix(endpoint, "/"), deployment, apiVersion)
	return &OpenAI{
		id:      "azure",
		apiKey:  apiKey,
		baseURL: url,
		client:  client,
		azure:   true,
	}
}

func (o *OpenAI) ID() string { return o.id }

func (o *OpenAI) Name() string {
	if o.azure {
		return "Azure OpenAI"
	}
	return "OpenAI"
}

func (o *OpenAI) Models() []domain.Model {
	return familyModels(domain.FamilyOpenAI)
}

type openaiRequest struct {
	Model               string            `json:"model"`
	Messages            []openaiMessage   `json:"messages"`
	Stream              bool              `json:"stream"`
	StreamOptions       *openaiStreamOpts `json:"stream_options,omitempty"`
	MaxTokens           int               `json:"max_tokens,omitempty"`
	MaxCompletionTokens int               `json:"max_completion_tokens,omitempty"`
	Temperature         *float64          `json:"temperature,omitempty"`
	Stop                []string          `json:"stop,omitempty"`
}

type openaiStreamOpts struct {
	IncludeUsage bool `json:"include_usage"`
}

type openaiMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type openaiContentPart struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	ImageURL *openaiImageURL `json:"image_url,omitempty"`
}

type openaiImageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"` // "auto", "low", "high"
}

func (o *OpenAI) buildRequest(req *llm.ChatRequest) openaiRequest {
	msgs := make([]openaiMessage, 0, len(req.Messages)+1)

	if req.SystemPrompt != "" {
		msgs = append(msgs, openaiMessage{Role: "system", Content: req.SystemPrompt})
	}

	for _, m := range req.Messages {
		var contentParts []openaiContentPart
		hasImage := false

		for _, p := range m.Parts {
			switch part := p.(type) {
			case domain.TextPart:
				contentParts = append(contentParts, openaiContentPart{
					Type: "text",
					Text: part.Text,
				})
			case domain.ImagePart:
				hasImage = true
				detail := part.Detail
				if detail == "" {
					detail = "auto"
				}
				contentParts = append(contentParts, openaiContentPart{
					Type: "image_url",
					ImageURL: &openaiImageURL{
						URL:    part.DataURL(),
						Detail: detail,
					},
				})
			}
		}

		msg := openaiMessage{Role: string(m.Role)}
		// Use array format when there are images, string when just text
		switch {
		case hasImage || len(contentParts) > 1:
			msg.Content = contentParts
		case len(contentParts) == 1:
			msg.Content = contentParts[0].Text
		default:
			continue
		}
		msgs = append(msgs, msg)
	}

	body := openaiRequest{
		Model:         req.Model,
		Messages:      msgs,
		Stream:        true,
		StreamOptions: &openaiStreamOpts{IncludeUsage: true},
		Stop:          req.Stop,
	}

	if req.MaxTokens > 0 {
		// Newer O1/GPT-5 models require max_completion_tokens
		if strings.HasPrefix(req.Model, "o1") || strings.HasPrefix(req.Model, "gpt-5") {
			body.MaxCompletionTokens = req.MaxTokens
		} else {
			body.MaxTokens = req.MaxTokens
		}
	}

	// reasoning models reject any temperature other than the default
	if !strings.HasPrefix(req.Model, "o1") {
		t := req.Temperature
		body.Temperature = &t
	}
	return body
}

func (o *OpenAI) Chat(ctx context.Context, req *llm.ChatRequest) (<-chan domain.StreamEvent, error) {
	jsonBody, err := json.Marshal(o.buildRequest(req))
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	if o.azure {
		httpReq.Header.Set("api-key", o.apiKey)
	} else {
		httpReq.Header.Set("Authorization", "Bearer "+o.apiKey)
	}

	resp, err := o.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		apiErr := readError(o.Name(), resp)
		apiErr.Type = openaiErrorType(apiErr.Body)
		return nil, apiErr
	}

	events := make(chan domain.StreamEvent, 100)
	logging.SafeGo("provider.openai", func() { o.streamResponse(ctx, resp, events) })
	return events, nil
}

type openaiStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Usage *openaiUsage `json:"usage,omitempty"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
	} `json:"error,omitempty"`
}

type openaiUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

func (o *OpenAI) streamResponse(ctx context.Context, resp *http.Response, events chan<- domain.StreamEvent) {
	defer close(events)
	defer resp.Body.Close()

	finished := false
	stopped, err := scanSSE(resp.Body, func(data string) bool {
		if data == "[DONE]" {
			emit(ctx, events, domain.StreamEvent{Type: domain.StreamEventDone, Done: true})
			return false
		}

		var chunk openaiStreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return true
		}

		if chunk.Error != nil {
			emit(ctx, events, domain.StreamEvent{
				Type: domain.StreamEventError,
				Error: &APIError{
					Provider:   o.Name(),
					StatusCode: http.StatusInternalServerError,
					Type:       chunk.Error.Type,
					Body:       chunk.Error.Message,
				},
			})
			return false
		}

		// Usage arrives in a final chunk with empty choices when
		// stream_options.include_usage is set.
		if chunk.Usage != nil {
			if !emit(ctx, events, domain.StreamEvent{
				Type: domain.StreamEventUsage,
				Usage: &domain.Usage{
					InputTokens:  chunk.Usage.PromptTokens,
					OutputTokens: chunk.Usage.CompletionTokens,
				},
			}) {
				return false
			}
		}

		for _, choice := range chunk.Choices {
			if choice.Delta.Content != "" {
				if !emit(ctx, events, domain.StreamEvent{
					Type:    domain.StreamEventText,
					Content: choice.Delta.Content,
				}) {
					return false
				}
			}
			if choice.FinishReason != nil && *choice.FinishReason != "" {
				finished = true
			}
		}
		return true
	})
	if stopped {
		return
	}
	// some compatible servers close the body after finish_reason without [DONE]
	if finished && err == nil {
		emit(ctx, events, domain.StreamEvent{Type: domain.StreamEventDone, Done: true})
		return
	}
	emitCut(ctx, events, err)
}

// openaiErrorType extracts error.type (or error.code) from an error body.
func openaiErrorType(body string) string {
	var parsed struct {
		Error struct {
			Type string `json:"type"`
			Code any    `json:"code"`
		} `json:"error"`
	}
	if json.Unmarshal([]byte(body), &parsed) != nil {
		return ""
	}
	if code, ok := parsed.Error.Code.(string); ok && code != "" {
		return code
	}
	return parsed.Error.Type
}

var _ llm.Provider = (*OpenAI)(nil)
