package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Tree is the read-side view of the log: runs → groups → tables.
type Tree struct {
	Runs []RunNode `json:"runs"`
}

type RunNode struct {
	RunRecord
	Groups []GroupNode `json:"groups"`
}

type GroupNode struct {
	ResultGroup
	Tables []OutputTable `json:"tables"`
}

// BuildTree reads the whole log. When only is non-empty, just that run is loaded.
// Tables inside a group are ordered by ComponentTag, then insertion order.
func BuildTree(ctx context.Context, r Reader, only RunID) (*Tree, error) {
	runs, err := r.Runs(ctx)
	if err != nil {
		return nil, err
	}
	t := &Tree{}
	for _, run := range runs {
		if only != "" && run.ID != only {
			continue
		}
		rn := RunNode{RunRecord: run}
		groups, err := r.Groups(ctx, run.ID)
		if err != nil {
			return nil, err
		}
		for _, g := range groups {
			tables, err := r.Tables(ctx, g.ID)
			if err != nil {
				return nil, err
			}
			sort.SliceStable(tables, func(i, j int) bool {
				if tables[i].ComponentTag != tables[j].ComponentTag {
					return tables[i].ComponentTag < tables[j].ComponentTag
				}
				return tables[i].Seq < tables[j].Seq
			})
			rn.Groups = append(rn.Groups, GroupNode{ResultGroup: g, Tables: tables})
		}
		t.Runs = append(t.Runs, rn)
	}
	if only != "" && len(t.Runs) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRun, only)
	}
	return t, nil
}

// TableCount is the number of tables across the tree.
func (t *Tree) TableCount() int {
	n := 0
	for _, r := range t.Runs {
		for _, g := range r.Groups {
			n += len(g.Tables)
		}
	}
	return n
}

// Markdown renders the tree. render formats one table body; nil prints the raw JSON payload.
func (t *Tree) Markdown(render func(OutputTable) string) string {
	if render == nil {
		render = rawPayload
	}
	var b strings.Builder
	for _, r := range t.Runs {
		fmt.Fprintf(&b, "## %s\n\n", r.Text)
		fmt.Fprintf(&b, "_run %s · %s_\n\n", r.ID, r.CreatedAt.Format("2006-01-02 15:04:05"))
		for _, g := range r.Groups {
			fmt.Fprintf(&b, "### %s\n\n", g.Title)
			if g.Note != "" {
				b.WriteString(g.Note + "\n\n")
			}
			if len(g.Tables) == 0 {
				b.WriteString("(no tables)\n\n")
			}
			for _, tb := range g.Tables {
				fmt.Fprintf(&b, "#### %s\n\n", tb.Title)
				b.WriteString(strings.TrimRight(render(tb), "\n"))
				b.WriteString("\n\n")
			}
		}
	}
	return b.String()
}

func rawPayload(t OutputTable) string {
	var v any
	if err := json.Unmarshal(t.Payload, &v); err != nil {
		return string(t.Payload)
	}
	out, _ := json.MarshalIndent(v, "", "  ")
	return "```json\n" + string(out) + "\n```"
}
