// Package tokens counts prompt and completion tokens with tiktoken-go and
// prices image attachments with per-vendor formulas.
package tokens

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/joss/genie/internal/domain"
)

const (
	defaultEncoding = "cl100k_base"

	// Chat framing: every message is wrapped in role markers, and the
	// reply is primed with an assistant header.
	perMessageTokens = 4
	replyTokens      = 2
)

// TextCounter counts tokens in plain text.
type TextCounter interface {
	Count(text string) int
}

// Counter provides token counting for messages and text using the encoding
// of one model. The encoding is loaded lazily; if it cannot be loaded (the
// BPE ranks are fetched on first use) a 4-chars-per-token estimate is used.
type Counter struct {
	model string
	enc   *tiktoken.Tiktoken
	once  sync.Once
	err   error
}

// NewCounter returns a counter for the model's encoding.
func NewCounter(model string) *Counter {
	return &Counter{model: model}
}

// Global counter instance
var defaultCounter = &Counter{}

// Count returns the number of tokens in the given text.
func Count(text string) int {
	return defaultCounter.Count(text)
}

// CountMessages returns total tokens for a slice of messages.
func CountMessages(msgs []domain.Message) int {
	return CountConversation(defaultCounter, msgs)
}

// Count returns the number of tokens in the given text.
func (c *Counter) Count(text string) int {
	c.init()
	if c.err != nil || c.enc == nil {
		return Heuristic{}.Count(text)
	}
	return len(c.enc.Encode(text, nil, nil))
}

// Err reports why the tokenizer fell back to the estimate, if it did.
func (c *Counter) Err() error {
	c.init()
	return c.err
}

func (c *Counter) init() {
	c.once.Do(func() {
		if c.model != "" {
			if enc, err := tiktoken.EncodingForModel(c.model); err == nil {
				c.enc = enc
				return
			}
		}
		c.enc, c.err = tiktoken.GetEncoding(defaultEncoding)
	})
}

// Heuristic estimates 1 token per 4 characters.
type Heuristic struct{}

func (Heuristic) Count(text string) int {
	return (len(text) + 3) / 4
}

// CountMessage returns text tokens for a single message including framing.
// Image parts are priced separately by an ImageCoster.
func CountMessage(c TextCounter, msg domain.Message) int {
	tokens := perMessageTokens
	for _, part := range msg.Parts {
		if p, ok := part.(domain.TextPart); ok {
			tokens += c.Count(p.Text)
		}
	}
	return tokens
}

// CountConversation returns the prompt tokens of a conversation, including
// the reply priming tokens.
func CountConversation(c TextCounter, msgs []domain.Message) int {
	if len(msgs) == 0 {
		return 0
	}
	total := replyTokens
	for _, msg := range msgs {
		total += CountMessage(c, msg)
	}
	return total
}
