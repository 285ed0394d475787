package series

import (
	"fmt"
	"strings"

	"github.com/KaramelBytes/statloom-cli/internal/dataset"
)

// Selection names the columns an analysis reads. Numeric columns are coerced
// to numbers; the optional Label column is read as text.
type Selection struct {
	Numeric []string `json:"numeric"`
	Label   string   `json:"label,omitempty"`
}

// Extract builds an analysis window from ds using automatic number format detection.
func Extract(ds *dataset.Dataset, sel Selection) (*Window, error) {
	return ExtractFormat(ds, sel, dataset.NumberFormat{})
}

// ExtractFormat builds an analysis window from ds.
//
// The window ends at the last row where any selected column has a value; when
// no row qualifies it covers row 0 only. Trailing gaps are trimmed per series;
// gaps inside a series and series of different lengths are rejected.
func ExtractFormat(ds *dataset.Dataset, sel Selection, nf dataset.NumberFormat) (*Window, error) {
	if ds == nil {
		return nil, &InvalidInputError{Row: -1, Reason: "no dataset"}
	}
	if len(sel.Numeric) == 0 && sel.Label == "" {
		return nil, &InvalidInputError{Row: -1, Reason: "no columns selected"}
	}
	type picked struct {
		name string
		idx  int
	}
	var nums []picked
	seen := map[string]bool{}
	for _, n := range sel.Numeric {
		c, ok := ds.Column(n)
		if !ok {
			return nil, &InvalidInputError{Column: n, Row: -1, Reason: "column not found"}
		}
		if seen[c.Name] {
			continue
		}
		seen[c.Name] = true
		nums = append(nums, picked{name: c.Name, idx: c.ColumnIndex})
	}
	var label *picked
	if sel.Label != "" {
		c, ok := ds.Column(sel.Label)
		if !ok {
			return nil, &InvalidInputError{Column: sel.Label, Row: -1, Reason: "column not found"}
		}
		label = &picked{name: c.Name, idx: c.ColumnIndex}
	}

	all := append([]picked(nil), nums...)
	if label != nil {
		all = append(all, *label)
	}
	last := 0
	for r := ds.RowCount() - 1; r > 0; r-- {
		found := false
		for _, p := range all {
			if strings.TrimSpace(ds.Cell(r, p.idx)) != "" {
				found = true
				break
			}
		}
		if found {
			last = r
			break
		}
	}

	w := &Window{numbers: map[string][]float64{}, labels: map[string][]string{}, length: -1}
	var first string
	check := func(name string, n int) error {
		if w.length < 0 {
			w.length, first = n, name
			return nil
		}
		if n != w.length {
			return &InvalidInputError{Column: name, Row: -1,
				Reason: fmt.Sprintf("series length %d differs from %q (%d); missing values inside a series are not supported", n, first, w.length)}
		}
		return nil
	}
	for _, p := range nums {
		vals := make([]float64, 0, last+1)
		end := -1
		for r := 0; r <= last; r++ {
			if _, ok := dataset.ParseNumber(ds.Cell(r, p.idx), nf); ok {
				end = r
			}
		}
		for r := 0; r <= end; r++ {
			raw := ds.Cell(r, p.idx)
			v, ok := dataset.ParseNumber(raw, nf)
			if !ok {
				reason := "missing value"
				if strings.TrimSpace(raw) != "" {
					reason = fmt.Sprintf("non-numeric value %q", raw)
				}
				return nil, &InvalidInputError{Column: p.name, Row: r, Reason: reason}
			}
			vals = append(vals, v)
		}
		w.names = append(w.names, p.name)
		w.numbers[p.name] = vals
		if err := check(p.name, len(vals)); err != nil {
			return nil, err
		}
	}
	if label != nil {
		end := -1
		for r := 0; r <= last; r++ {
			if strings.TrimSpace(ds.Cell(r, label.idx)) != "" {
				end = r
			}
		}
		vals := make([]string, 0, end+1)
		for r := 0; r <= end; r++ {
			v := strings.TrimSpace(ds.Cell(r, label.idx))
			if v == "" {
				return nil, &InvalidInputError{Column: label.name, Row: r, Reason: "missing label"}
			}
			vals = append(vals, v)
		}
		w.label = label.name
		w.labels[label.name] = vals
		if err := check(label.name, len(vals)); err != nil {
			return nil, err
		}
	}
	return w, nil
}
