package logstore

import (
	"bytes"
	"encoding/csv"
	"strconv"
)

var usageHeader = []string{
	"step_name",
	"prompt_tokens_in_step",
	"completion_tokens_in_step",
	"image_tokens_in_step",
	"total_tokens_in_step",
	"cost_in_step",
	"total_prompt_tokens",
	"total_completion_tokens",
	"total_tokens",
	"total_cost",
}

// UsageCSV renders one row per entry with running totals.
func UsageCSV(entries []Entry) (string, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(usageHeader); err != nil {
		return "", err
	}

	var prompt, completion, total int
	var cost float64
	for _, e := range entries {
		u := e.Usage
		prompt += u.PromptTokens + u.ImageTokens
		completion += u.CompletionTokens
		total += u.TotalTokens()
		cost += u.Cost
		row := []string{
			e.Step,
			strconv.Itoa(u.PromptTokens),
			strconv.Itoa(u.CompletionTokens),
			strconv.Itoa(u.ImageTokens),
			strconv.Itoa(u.TotalTokens()),
			strconv.FormatFloat(u.Cost, 'f', 6, 64),
			strconv.Itoa(prompt),
			strconv.Itoa(completion),
			strconv.Itoa(total),
			strconv.FormatFloat(cost, 'f', 6, 64),
		}
		if err := w.Write(row); err != nil {
			return "", err
		}
	}
	w.Flush()
	return buf.String(), w.Error()
}
