// Package llm defines the contract between the inference client and the
// vendor adapters that speak to a model service.
package llm

import (
	"context"
	"sort"
	"sync"

	"github.com/joss/genie/internal/domain"
)

// Provider is the interface all LLM providers must implement
type Provider interface {
	ID() string
	Name() string
	Models() []domain.Model

	// Chat sends messages and returns a streaming response. The channel is
	// always closed; a failure after the request was accepted arrives as a
	// StreamEventError.
	Chat(ctx context.Context, req *ChatRequest) (<-chan domain.StreamEvent, error)
}

// ChatRequest represents a request to the LLM
type ChatRequest struct {
	Model        string
	Messages     []domain.Message
	MaxTokens    int
	Temperature  float64
	Stop         []string
	SystemPrompt string
}

// ProviderRegistry holds all available providers
type ProviderRegistry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

func NewRegistry() *ProviderRegistry {
	return &ProviderRegistry{
		providers: make(map[string]Provider),
	}
}

func (r *ProviderRegistry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.ID()] = p
}

func (r *ProviderRegistry) Get(id string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[id]
	return p, ok
}

// List returns providers sorted by ID.
func (r *ProviderRegistry) List() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]Provider, 0, len(r.providers))
	for _, p := range r.providers {
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID() < result[j].ID() })
	return result
}

// ForModel returns the first registered provider that lists the model.
func (r *ProviderRegistry) ForModel(model string) (Provider, bool) {
	for _, p := range r.List() {
		for _, m := range p.Models() {
			if m.ID == model {
				return p, true
			}
		}
	}
	return nil, false
}
