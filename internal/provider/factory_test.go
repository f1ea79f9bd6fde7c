package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joss/genie/pkg/llm"
)

func TestFactory_Create(t *testing.T) {
	f := NewFactory()

	tests := []struct {
		name    string
		pt      ProviderType
		opts    []ConfigOption
		wantID  string
		wantErr bool
	}{
		{"anthropic", ProviderAnthropic, []ConfigOption{WithAPIKey("test-key")}, "anthropic", false},
		{"openai", ProviderOpenAI, []ConfigOption{WithAPIKey("test-key")}, "openai", false},
		{"azure", ProviderAzure, []ConfigOption{WithAPIKey("k"), WithBaseURL("https://x.openai.azure.com"), WithDeployment("d")}, "azure", false},
		{"unknown", ProviderType("unknown"), nil, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := f.Create(tt.pt, tt.opts...)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantID, p.ID())
		})
	}
}

func TestFactory_CreateByID(t *testing.T) {
	f := NewFactory()

	tests := []struct {
		id      string
		wantID  string
		wantErr bool
	}{
		{"anthropic", "anthropic", false},
		{"claude", "anthropic", false},
		{"openai", "openai", false},
		{"gpt", "openai", false},
		{"gemini", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			p, err := f.CreateByID(tt.id, WithAPIKey("test"))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantID, p.ID())
		})
	}
}

func TestFactory_Caching(t *testing.T) {
	f := NewFactory()

	p1, err := f.Create(ProviderOpenAI, WithAPIKey("same"))
	require.NoError(t, err)
	p2, err := f.Create(ProviderOpenAI, WithAPIKey("same"))
	require.NoError(t, err)
	assert.Same(t, p1, p2)

	f.Clear()
	p3, err := f.Create(ProviderOpenAI, WithAPIKey("same"))
	require.NoError(t, err)
	assert.NotSame(t, p1, p3)
}

func TestForModel(t *testing.T) {
	assert.Equal(t, ProviderAnthropic, ForModel("claude-3-5-haiku"))
	assert.Equal(t, ProviderOpenAI, ForModel("gpt-4o"))
	assert.Equal(t, ProviderOpenAI, ForModel("o1-mini"))
}

func TestRegistry(t *testing.T) {
	r := llm.NewRegistry()
	r.Register(NewOpenAI("k", ""))
	r.Register(NewAnthropic("k", ""))

	list := r.List()
	require.Len(t, list, 2)
	assert.Equal(t, "anthropic", list[0].ID())

	p, ok := r.ForModel("gpt-4o")
	require.True(t, ok)
	assert.Equal(t, "openai", p.ID())

	_, ok = r.Get("missing")
	assert.False(t, ok)
}
