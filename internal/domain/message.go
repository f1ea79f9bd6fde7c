// Package domain defines the values that flow through the generation pipeline:
// prompts, conversation messages, token usage and model pricing.
package domain

import (
	"encoding/json"
	"strings"
	"time"
)

// Message is one turn of a conversation.
type Message struct {
	Role      Role      `json:"role"`
	Parts     []Part    `json:"parts"`
	Timestamp time.Time `json:"timestamp"`
}

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Part represents content within a message
type Part interface {
	PartType() string
}

type TextPart struct {
	Text string `json:"text"`
}

func (p TextPart) PartType() string { return PartTypeText }

// ImagePart is an image attachment. Detail is a provider hint ("low", "high", "auto").
type ImagePart struct {
	Base64    string `json:"base64"`
	MediaType string `json:"mediaType"`
	Detail    string `json:"detail,omitempty"`
	Path      string `json:"path,omitempty"`
}

func (p ImagePart) PartType() string { return PartTypeImage }

// DataURL renders the image as a data: URL.
func (p ImagePart) DataURL() string {
	return "data:" + p.MediaType + ";base64," + p.Base64
}

// NewText builds a single-part text message.
func NewText(role Role, text string) Message {
	return Message{Role: role, Parts: []Part{TextPart{Text: text}}, Timestamp: time.Now().UTC()}
}

// System, User and Assistant are shorthands for NewText.
func System(text string) Message { return NewText(RoleSystem, text) }
func User(text string) Message { return NewText(RoleUser, text) }
func Assistant(text string) Message { return NewText(RoleAssistant, text) }

// Text concatenates the text parts of the message.
func (m Message) Text() string {
	var sb strings.Builder
	for _, p := range m.Parts {
		if t, ok := p.(TextPart); ok {
			sb.WriteString(t.Text)
		}
	}
	return sb.String()
}

// Images returns the image attachments in order.
func (m Message) Images() []ImagePart {
	var out []ImagePart
	for _, p := range m.Parts {
		if img, ok := p.(ImagePart); ok {
			out = append(out, img)
		}
	}
	return out
}

// HasImages reports whether any message in the conversation carries an image.
func HasImages(msgs []Message) bool {
	for _, m := range msgs {
		if len(m.Images()) > 0 {
			return true
		}
	}
	return false
}

// StripImages returns a copy of the conversation without image parts and the
// number of images removed. Messages left without parts are dropped.
func StripImages(msgs []Message) ([]Message, int) {
	out := make([]Message, 0, len(msgs))
	removed := 0
	for _, m := range msgs {
		parts := make([]Part, 0, len(m.Parts))
		for _, p := range m.Parts {
			if _, ok := p.(ImagePart); ok {
				removed++
				continue
			}
			parts = append(parts, p)
		}
		if len(parts) == 0 {
			continue
		}
		m.Parts = parts
		out = append(out, m)
	}
	return out, removed
}

// CollapseMessages merges consecutive messages that share a role into one,
// joining their text with a blank line. Order is otherwise preserved.
// Text-only chat backends reject or mishandle back-to-back user turns.
func CollapseMessages(msgs []Message) []Message {
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		if n := len(out); n > 0 && out[n-1].Role == m.Role {
			prev := out[n-1]
			merged := make([]Part, 0, len(prev.Parts)+len(m.Parts))
			merged = append(merged, prev.Parts...)
			if prev.Text() != "" && m.Text() != "" {
				merged = append(merged, TextPart{Text: "\n\n"})
			}
			merged = append(merged, m.Parts...)
			out[n-1].Parts = mergeText(merged)
			continue
		}
		out = append(out, m)
	}
	return out
}

// mergeText folds adjacent text parts together.
func mergeText(parts []Part) []Part {
	out := make([]Part, 0, len(parts))
	for _, p := range parts {
		t, ok := p.(TextPart)
		if n := len(out); ok && n > 0 {
			if prev, ok := out[n-1].(TextPart); ok {
				out[n-1] = TextPart{Text: prev.Text + t.Text}
				continue
			}
		}
		out = append(out, p)
	}
	return out
}

// MarshalJSON writes parts with their type tag.
func (m Message) MarshalJSON() ([]byte, error) {
	parts, err := MarshalParts(m.Parts)
	if err != nil {
		return nil, err
	}
	return json.Marshal(struct {
		Role      Role            `json:"role"`
		Parts     json.RawMessage `json:"parts"`
		Timestamp time.Time       `json:"timestamp"`
	}{m.Role, parts, m.Timestamp})
}

// UnmarshalJSON restores typed parts.
func (m *Message) UnmarshalJSON(data []byte) error {
	var raw struct {
		Role      Role            `json:"role"`
		Parts     json.RawMessage `json:"parts"`
		Timestamp time.Time       `json:"timestamp"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	m.Role = raw.Role
	m.Timestamp = raw.Timestamp
	m.Parts = nil
	if len(raw.Parts) == 0 || string(raw.Parts) == "null" {
		return nil
	}
	parts, err := UnmarshalParts(raw.Parts)
	if err != nil {
		return err
	}
	m.Parts = parts
	return nil
}
