package domain

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedgerMonotonic(t *testing.T) {
	l := NewLedger()
	calls := []TokenUsage{
		{Model: "gpt-4o", PromptTokens: 100, CompletionTokens: 50, Cost: 0.75},
		{Model: "gpt-4o", PromptTokens: 10, CompletionTokens: 5, ImageTokens: 85, Cost: 0.25},
		{Model: "gpt-4o", PromptTokens: 0, CompletionTokens: 0, Cost: 0},
	}

	var want float64
	prev := l.Cost()
	for i, u := range calls {
		require.NoError(t, l.Record("step", u))
		want += u.Cost
		assert.InDelta(t, want, l.Cost(), 1e-9, "after call %d", i)
		assert.GreaterOrEqual(t, l.Cost(), prev)
		prev = l.Cost()
	}

	total := l.Total()
	assert.Equal(t, 110, total.PromptTokens)
	assert.Equal(t, 55, total.CompletionTokens)
	assert.Equal(t, 85, total.ImageTokens)
	assert.Len(t, l.Records(), 3)
}

func TestLedgerRejectsNegative(t *testing.T) {
	l := NewLedger()
	require.NoError(t, l.Record("a", TokenUsage{Cost: 1}))

	err := l.Record("b", TokenUsage{Cost: -0.5})
	assert.ErrorIs(t, err, ErrNegativeUsage)
	assert.Equal(t, 1.0, l.Cost())
	assert.Len(t, l.Records(), 1)
}

func TestLedgerConcurrentReaders(t *testing.T) {
	l := NewLedger()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = l.Record("s", TokenUsage{PromptTokens: 1, Cost: 0.01})
		}()
		go func() {
			defer wg.Done()
			_ = l.Total()
		}()
	}
	wg.Wait()
	assert.Equal(t, 20, l.Total().PromptTokens)
}

func TestPriceTableLookup(t *testing.T) {
	table := DefaultPriceTable()

	tests := []struct {
		id     string
		wantID string
		found  bool
	}{
		{"gpt-4o", "gpt-4o", true},
		{"gpt-4o-2024-08-06", "gpt-4o", true},
		{"gpt-4o-mini-2024-07-18", "gpt-4o-mini", true},
		{"claude-sonnet-4-20250514", "claude-sonnet-4", true},
		{"llama-3", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			m, ok := table.Lookup(tt.id)
			assert.Equal(t, tt.found, ok)
			assert.Equal(t, tt.wantID, m.ID)
		})
	}
}

func TestModelCost(t *testing.T) {
	m := Model{ID: "x", InputCost: 0.01, OutputCost: 0.03}

	cost := m.Cost(TokenUsage{PromptTokens: 1000, CompletionTokens: 500, ImageTokens: 1000})
	// images billed at the input rate when no image rate is set
	assert.InDelta(t, 0.01+0.015+0.01, cost, 1e-9)

	m.ImageCost = 0.02
	cost = m.Cost(TokenUsage{ImageTokens: 500})
	assert.InDelta(t, 0.01, cost, 1e-9)
}

func TestResolveUnknownModel(t *testing.T) {
	m := DefaultPriceTable().Resolve("claude-next")
	assert.Equal(t, FamilyAnthropic, m.Family)
	assert.True(t, m.Vision)
	assert.Zero(t, m.InputCost)

	m = DefaultPriceTable().Resolve("local-model")
	assert.Equal(t, FamilyOpenAI, m.Family)
	assert.False(t, m.Vision)
}

func TestFormatCost(t *testing.T) {
	assert.Equal(t, "<$0.01", FormatCost(0.001))
	assert.Equal(t, "$1.25", FormatCost(1.25))
	assert.Equal(t, "999", FormatTokens(999))
	assert.Equal(t, "1.5k", FormatTokens(1500))
}
