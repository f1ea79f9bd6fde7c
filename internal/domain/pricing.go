package domain

import "strings"

// Model describes a model identifier and its price per 1000 tokens.
type Model struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Family      string  `json:"family"`
	ContextSize int     `json:"contextSize"`
	Vision      bool    `json:"vision"`
	InputCost   float64 `json:"inputCost"`  // USD per 1000 prompt tokens
	OutputCost  float64 `json:"outputCost"` // USD per 1000 completion tokens
	ImageCost   float64 `json:"imageCost"`  // USD per 1000 image tokens, 0 = input rate
}

// Model families select image token formulas and wire formats.
const (
	FamilyOpenAI    = "openai"
	FamilyAnthropic = "anthropic"
)

// PriceTable maps model identifiers to pricing. Lookups fall back to the
// longest registered prefix so dated snapshots ("gpt-4o-2024-08-06") resolve.
type PriceTable map[string]Model

// DefaultPriceTable returns the built-in static table.
func DefaultPriceTable() PriceTable {
	models := []Model{
		{ID: "gpt-4o", Name: "GPT-4o", Family: FamilyOpenAI, ContextSize: 128000, Vision: true, InputCost: 0.0025, OutputCost: 0.01},
		{ID: "gpt-4o-mini", Name: "GPT-4o Mini", Family: FamilyOpenAI, ContextSize: 128000, Vision: true, InputCost: 0.00015, OutputCost: 0.0006},
		{ID: "gpt-4-turbo", Name: "GPT-4 Turbo", Family: FamilyOpenAI, ContextSize: 128000, Vision: true, InputCost: 0.01, OutputCost: 0.03},
		{ID: "gpt-4-vision-preview", Name: "GPT-4 Vision", Family: FamilyOpenAI, ContextSize: 128000, Vision: true, InputCost: 0.01, OutputCost: 0.03},
		{ID: "gpt-4", Name: "GPT-4", Family: FamilyOpenAI, ContextSize: 8192, InputCost: 0.03, OutputCost: 0.06},
		{ID: "gpt-3.5-turbo", Name: "GPT-3.5 Turbo", Family: FamilyOpenAI, ContextSize: 16385, InputCost: 0.0005, OutputCost: 0.0015},
		{ID: "o1", Name: "o1", Family: FamilyOpenAI, ContextSize: 200000, Vision: true, InputCost: 0.015, OutputCost: 0.06},
		{ID: "o1-mini", Name: "o1 Mini", Family: FamilyOpenAI, ContextSize: 128000, InputCost: 0.003, OutputCost: 0.012},
		{ID: "claude-sonnet-4", Name: "Claude Sonnet 4", Family: FamilyAnthropic, ContextSize: 200000, Vision: true, InputCost: 0.003, OutputCost: 0.015},
		{ID: "claude-opus-4", Name: "Claude Opus 4", Family: FamilyAnthropic, ContextSize: 200000, Vision: true, InputCost: 0.015, OutputCost: 0.075},
		{ID: "claude-3-5-sonnet", Name: "Claude 3.5 Sonnet", Family: FamilyAnthropic, ContextSize: 200000, Vision: true, InputCost: 0.003, OutputCost: 0.015},
		{ID: "claude-3-5-haiku", Name: "Claude 3.5 Haiku", Family: FamilyAnthropic, ContextSize: 200000, Vision: true, InputCost: 0.0008, OutputCost: 0.004},
		{ID: "claude-3-opus", Name: "Claude 3 Opus", Family: FamilyAnthropic, ContextSize: 200000, Vision: true, InputCost: 0.015, OutputCost: 0.075},
	}
	t := make(PriceTable, len(models))
	for _, m := range models {
		t[m.ID] = m
	}
	return t
}

// Lookup resolves a model id exactly, then by longest prefix.
func (t PriceTable) Lookup(id string) (Model, bool) {
	if m, ok := t[id]; ok {
		return m, true
	}
	var best Model
	found := false
	for key, m := range t {
		if strings.HasPrefix(id, key) && len(key) > len(best.ID) {
			best, found = m, true
		}
	}
	return best, found
}

// Resolve returns the table entry for id, or a zero-priced model whose family
// and vision flag are guessed from the name.
func (t PriceTable) Resolve(id string) Model {
	if m, ok := t.Lookup(id); ok {
		m.ID = id
		return m
	}
	return Model{ID: id, Name: id, Family: GuessFamily(id), Vision: GuessVision(id)}
}

// Cost prices a usage record with this model's rates.
func (m Model) Cost(u TokenUsage) float64 {
	imageRate := m.ImageCost
	if imageRate == 0 {
		imageRate = m.InputCost
	}
	return float64(u.PromptTokens)*m.InputCost/1000 +
		float64(u.CompletionTokens)*m.OutputCost/1000 +
		float64(u.ImageTokens)*imageRate/1000
}

// GuessFamily infers the vendor family from a model name.
func GuessFamily(id string) string {
	if strings.HasPrefix(id, "claude") {
		return FamilyAnthropic
	}
	return FamilyOpenAI
}

// GuessVision applies the naming heuristics for vision-capable models.
func GuessVision(id string) bool {
	for _, marker := range []string{"gpt-4o", "claude", "gpt-4-turbo", "vision-preview"} {
		if strings.Contains(id, marker) {
			return true
		}
	}
	return false
}
