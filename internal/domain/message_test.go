package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageJSON(t *testing.T) {
	msg := Message{
		Role: RoleUser,
		Parts: []Part{
			TextPart{Text: "describe this"},
			ImagePart{Base64: "aGVsbG8=", MediaType: "image/png", Detail: "low"},
		},
	}

	data, err := json.Marshal(msg)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"type":"image"`)

	var got Message
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, msg.Role, got.Role)
	assert.Equal(t, msg.Parts, got.Parts)
}

func TestUnmarshalPartUnknown(t *testing.T) {
	_, err := UnmarshalPart([]byte(`{"type":"tool_call"}`))
	assert.Error(t, err)
}

func TestCollapseMessages(t *testing.T) {
	msgs := []Message{
		System("sys"),
		User("files"),
		User("instructions"),
		Assistant("ok"),
		User("more"),
	}

	got := CollapseMessages(msgs)
	require.Len(t, got, 4)
	assert.Equal(t, RoleSystem, got[0].Role)
	assert.Equal(t, "files\n\ninstructions", got[1].Text())
	assert.Len(t, got[1].Parts, 1)
	assert.Equal(t, "ok", got[2].Text())
	assert.Equal(t, "more", got[3].Text())

	// input untouched
	assert.Equal(t, "files", msgs[1].Text())
}

func TestStripImages(t *testing.T) {
	msgs := []Message{
		{Role: RoleUser, Parts: []Part{TextPart{Text: "a"}, ImagePart{Base64: "x", MediaType: "image/png"}}},
		{Role: RoleUser, Parts: []Part{ImagePart{Base64: "y", MediaType: "image/png"}}},
	}
	assert.True(t, HasImages(msgs))

	got, removed := StripImages(msgs)
	assert.Equal(t, 2, removed)
	require.Len(t, got, 1)
	assert.False(t, HasImages(got))
	assert.Equal(t, "a", got[0].Text())
}

func TestNewPrompt(t *testing.T) {
	_, err := NewPrompt("   ")
	assert.ErrorIs(t, err, ErrEmptyPrompt)

	img := ImagePart{Base64: "x", MediaType: "image/jpeg"}
	p, err := NewPrompt("", WithImages(img))
	require.NoError(t, err)
	assert.Len(t, p.Images(), 1)

	p, err = NewPrompt("build a calculator", WithImages(img), WithMetadata("template", "generate"))
	require.NoError(t, err)

	msg := p.Message()
	assert.Equal(t, RoleUser, msg.Role)
	require.Len(t, msg.Parts, 2)
	assert.Equal(t, TextPart{Text: "build a calculator"}, msg.Parts[0])

	meta := p.Metadata()
	meta["template"] = "changed"
	assert.Equal(t, "generate", p.Metadata()["template"])

	q := p.WithText("other")
	assert.Equal(t, "build a calculator", p.Text())
	assert.Equal(t, "other", q.Text())
}
