package domain

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// TokenUsage is the accounting record for one inference call.
type TokenUsage struct {
	Model            string  `json:"model"`
	PromptTokens     int     `json:"promptTokens"`
	CompletionTokens int     `json:"completionTokens"`
	ImageTokens      int     `json:"imageTokens,omitempty"`
	Cost             float64 `json:"cost"`
}

// TotalTokens is the sum of prompt, completion and image tokens.
func (u TokenUsage) TotalTokens() int {
	return u.PromptTokens + u.CompletionTokens + u.ImageTokens
}

// Add combines two TokenUsage values. The model of the receiver is kept
// unless it is empty.
func (u *TokenUsage) Add(other TokenUsage) {
	if u.Model == "" {
		u.Model = other.Model
	}
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.ImageTokens += other.ImageTokens
	u.Cost += other.Cost
}

// ErrNegativeUsage is returned when a record would decrease a cumulative total.
var ErrNegativeUsage = errors.New("usage record has negative tokens or cost")

// StepUsage is one ledger line.
type StepUsage struct {
	Step      string     `json:"step"`
	Usage     TokenUsage `json:"usage"`
	Timestamp time.Time  `json:"timestamp"`
}

// Ledger accumulates usage for one session. Totals only grow.
type Ledger struct {
	mu      sync.RWMutex
	total   TokenUsage
	records []StepUsage
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{}
}

// Record appends a usage record under the given step name.
func (l *Ledger) Record(step string, u TokenUsage) error {
	if u.PromptTokens < 0 || u.CompletionTokens < 0 || u.ImageTokens < 0 || u.Cost < 0 {
		return ErrNegativeUsage
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.total.Add(u)
	l.records = append(l.records, StepUsage{Step: step, Usage: u, Timestamp: time.Now().UTC()})
	return nil
}

// Total returns the cumulative usage.
func (l *Ledger) Total() TokenUsage {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.total
}

// Cost returns the cumulative monetary cost.
func (l *Ledger) Cost() float64 {
	return l.Total().Cost
}

// Records returns a copy of the per-call records in order.
func (l *Ledger) Records() []StepUsage {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]StepUsage, len(l.records))
	copy(out, l.records)
	return out
}

// FormatCost returns a human-readable cost string
func FormatCost(cost float64) string {
	if cost < 0.01 {
		return "<$0.01"
	}
	return fmt.Sprintf("$%.2f", cost)
}

// FormatTokens returns a human-readable token count
func FormatTokens(tokens int) string {
	if tokens < 1000 {
		return fmt.Sprintf("%d", tokens)
	}
	return fmt.Sprintf("%.1fk", float64(tokens)/1000)
}
