package domain

import (
	"errors"
	"maps"
	"slices"
	"strings"
	"time"
)

// ErrEmptyPrompt is returned when a prompt has neither text nor images.
var ErrEmptyPrompt = errors.New("prompt has no text and no images")

// Prompt is a task request: instruction text plus optional images.
// Values are immutable; accessors return copies.
type Prompt struct {
	text             string
	images           []ImagePart
	metadata         map[string]string
	entrypointPrompt string
}

// PromptOption configures a Prompt at construction.
type PromptOption func(*Prompt)

// WithImages attaches images in order.
func WithImages(images ...ImagePart) PromptOption {
	return func(p *Prompt) { p.images = append(p.images, images...) }
}

// WithMetadata sets a metadata key.
func WithMetadata(key, value string) PromptOption {
	return func(p *Prompt) { p.metadata[key] = value }
}

// WithEntrypointPrompt overrides the instruction used for the entrypoint step.
func WithEntrypointPrompt(text string) PromptOption {
	return func(p *Prompt) { p.entrypointPrompt = text }
}

// NewPrompt builds and validates a Prompt.
func NewPrompt(text string, opts ...PromptOption) (Prompt, error) {
	p := Prompt{text: text, metadata: map[string]string{}}
	for _, opt := range opts {
		opt(&p)
	}
	if err := p.Validate(); err != nil {
		return Prompt{}, err
	}
	return p, nil
}

// Validate checks the text-or-images invariant.
func (p Prompt) Validate() error {
	if strings.TrimSpace(p.text) == "" && len(p.images) == 0 {
		return ErrEmptyPrompt
	}
	return nil
}

func (p Prompt) Text() string { return p.text }
func (p Prompt) Images() []ImagePart { return slices.Clone(p.images) }
func (p Prompt) Metadata() map[string]string { return maps.Clone(p.metadata) }
func (p Prompt) EntrypointPrompt() string { return p.entrypointPrompt }

// WithText returns a copy of the prompt with different text.
func (p Prompt) WithText(text string) Prompt {
	q := p
	q.text = text
	q.images = slices.Clone(p.images)
	q.metadata = maps.Clone(p.metadata)
	return q
}

// Message renders the prompt as a user message: text first, then images.
func (p Prompt) Message() Message {
	parts := make([]Part, 0, 1+len(p.images))
	if p.text != "" {
		parts = append(parts, TextPart{Text: p.text})
	}
	for _, img := range p.images {
		parts = append(parts, img)
	}
	return Message{Role: RoleUser, Parts: parts, Timestamp: time.Now().UTC()}
}
