package engine

import (
	"encoding/json"
	"strings"
)

// Table is the serialized payload of one output table.
type Table struct {
	Title   string     `json:"title"`
	Columns []string   `json:"columns"`
	Rows    [][]string `json:"rows"`
	Notes   []string   `json:"notes,omitempty"`
}

// AddRow appends a row of cells.
func (t *Table) AddRow(cells ...string) { t.Rows = append(t.Rows, cells) }

// Markdown renders the table as a GitHub-flavored Markdown table.
func (t Table) Markdown() string {
	var b strings.Builder
	if len(t.Columns) > 0 {
		b.WriteString("| ")
		for i, c := range t.Columns {
			if i > 0 {
				b.WriteString(" | ")
			}
			b.WriteString(safeCell(c))
		}
		b.WriteString(" |\n| ")
		for i := range t.Columns {
			if i > 0 {
				b.WriteString(" | ")
			}
			b.WriteString("---")
		}
		b.WriteString(" |\n")
	}
	for _, r := range t.Rows {
		b.WriteString("| ")
		for i := range t.Columns {
			if i > 0 {
				b.WriteString(" | ")
			}
			if i < len(r) {
				b.WriteString(safeCell(r[i]))
			}
		}
		b.WriteString(" |\n")
	}
	for _, n := range t.Notes {
		b.WriteString("\n- ")
		b.WriteString(n)
	}
	return b.String()
}

// RenderPayload renders a stored table payload, falling back to the raw JSON.
func RenderPayload(payload []byte) string {
	var t Table
	if err := json.Unmarshal(payload, &t); err != nil || len(t.Columns) == 0 {
		return "```json\n" + string(payload) + "\n```"
	}
	return t.Markdown()
}

func safeCell(s string) string { return strings.ReplaceAll(strings.ReplaceAll(s, "\n", " "), "|", "/") }
