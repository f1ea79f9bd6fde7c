package render

import (
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/joss/genie/internal/domain"
	"github.com/joss/genie/internal/logstore"
	"github.com/joss/genie/pkg/llm"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205")).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	totalStyle  = cellStyle.Bold(true)
)

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("62"))).
		Headers(headers...)
}

func usageTable(rows [][]string) string {
	last := len(rows) - 1
	t := newTable("STEP", "MODEL", "PROMPT", "COMPLETION", "IMAGE", "COST").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerStyle
			case row == last:
				return totalStyle
			}
			return cellStyle
		})
	return t.String()
}

func usageRow(step string, u domain.TokenUsage) []string {
	return []string{
		step,
		u.Model,
		strconv.Itoa(u.PromptTokens),
		strconv.Itoa(u.CompletionTokens),
		strconv.Itoa(u.ImageTokens),
		strconv.FormatFloat(u.Cost, 'f', 4, 64),
	}
}

// UsageTable renders one row per ledger record plus a total row.
func UsageTable(records []domain.StepUsage) string {
	rows := make([][]string, 0, len(records)+1)
	var total domain.TokenUsage
	for _, r := range records {
		rows = append(rows, usageRow(r.Step, r.Usage))
		total.Add(r.Usage)
	}
	rows = append(rows, usageRow("total", total))
	return usageTable(rows)
}

// EntriesTable renders stored log entries the same way.
func EntriesTable(entries []logstore.Entry) string {
	records := make([]domain.StepUsage, len(entries))
	for i, e := range entries {
		records[i] = domain.StepUsage{Step: e.Step, Usage: e.Usage, Timestamp: e.CreatedAt}
	}
	return UsageTable(records)
}

// ModelsTable lists every model of the given providers with its context
// size and price per 1000 tokens.
func ModelsTable(providers []llm.Provider) string {
	var rows [][]string
	for _, p := range providers {
		for _, m := range p.Models() {
			vision := "no"
			if m.Vision {
				vision = "yes"
			}
			rows = append(rows, []string{
				p.ID(),
				m.ID,
				strconv.Itoa(m.ContextSize),
				vision,
				strconv.FormatFloat(m.InputCost, 'f', -1, 64),
				strconv.FormatFloat(m.OutputCost, 'f', -1, 64),
			})
		}
	}
	t := newTable("PROVIDER", "MODEL", "CONTEXT", "VISION", "INPUT/1K", "OUTPUT/1K").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	return t.String()
}
