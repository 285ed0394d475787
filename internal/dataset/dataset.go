package dataset

import (
	"errors"
	"fmt"
	"strings"
)

// Kind is the interpretation applied to a column's text cells.
type Kind string

const (
	KindNumeric Kind = "numeric"
	KindString  Kind = "string"
	KindDate    Kind = "date"
)

// Measure is the measurement level of a variable.
type Measure string

const (
	MeasureScale   Measure = "scale"
	MeasureOrdinal Measure = "ordinal"
	MeasureNominal Measure = "nominal"
)

var (
	ErrColumnExists   = errors.New("column already exists")
	ErrColumnNotFound = errors.New("column not found")
)

// ColumnDescriptor describes one variable of the dataset. ColumnIndex is assigned
// when the column is defined and never reused, even after deletion.
type ColumnDescriptor struct {
	Name        string  `json:"name"`
	ColumnIndex int     `json:"column_index"`
	Type        Kind    `json:"type"`
	Label       string  `json:"label,omitempty"`
	Measure     Measure `json:"measure,omitempty"`
	Width       int     `json:"width,omitempty"`
	Decimals    int     `json:"decimals,omitempty"`
	Deleted     bool    `json:"deleted,omitempty"`
}

// Dataset is the shared, possibly ragged table of text cells plus its column
// descriptors. Rows may be shorter than the descriptor list; missing trailing
// cells read as empty.
type Dataset struct {
	Name    string             `json:"name,omitempty"`
	Columns []ColumnDescriptor `json:"columns"`
	Rows    [][]string         `json:"rows"`
}

// New returns an empty dataset.
func New(name string) *Dataset {
	return &Dataset{Name: name}
}

// RowCount returns the number of rows.
func (d *Dataset) RowCount() int { return len(d.Rows) }

// NextColumnIndex is the index the next defined column will receive.
func (d *Dataset) NextColumnIndex() int { return len(d.Columns) }

// Cell returns the raw text at (row, col), or "" when the row is shorter.
func (d *Dataset) Cell(row, col int) string {
	if row < 0 || row >= len(d.Rows) || col < 0 {
		return ""
	}
	r := d.Rows[row]
	if col >= len(r) {
		return ""
	}
	return r[col]
}

// SetCell writes a value, extending the row with empty cells if needed.
func (d *Dataset) SetCell(row, col int, value string) {
	for len(d.Rows) <= row {
		d.Rows = append(d.Rows, nil)
	}
	r := d.Rows[row]
	if len(r) <= col {
		tmp := make([]string, col+1)
		copy(tmp, r)
		r = tmp
	}
	r[col] = value
	d.Rows[row] = r
}

// Column looks up a live column by name (case-insensitive).
func (d *Dataset) Column(name string) (ColumnDescriptor, bool) {
	name = strings.TrimSpace(name)
	for _, c := range d.Columns {
		if !c.Deleted && strings.EqualFold(c.Name, name) {
			return c, true
		}
	}
	return ColumnDescriptor{}, false
}

// LiveColumns returns descriptors that have not been deleted, in index order.
func (d *Dataset) LiveColumns() []ColumnDescriptor {
	out := make([]ColumnDescriptor, 0, len(d.Columns))
	for _, c := range d.Columns {
		if !c.Deleted {
			out = append(out, c)
		}
	}
	return out
}

// DefineColumn registers a new descriptor. The ColumnIndex on the input is
// ignored; the returned descriptor carries the assigned index.
func (d *Dataset) DefineColumn(desc ColumnDescriptor) (ColumnDescriptor, error) {
	desc.Name = strings.TrimSpace(desc.Name)
	if desc.Name == "" {
		return ColumnDescriptor{}, errors.New("column name is required")
	}
	if _, ok := d.Column(desc.Name); ok {
		return ColumnDescriptor{}, fmt.Errorf("%w: %s", ErrColumnExists, desc.Name)
	}
	if desc.Type == "" {
		desc.Type = KindNumeric
	}
	desc.ColumnIndex = d.NextColumnIndex()
	desc.Deleted = false
	d.Columns = append(d.Columns, desc)
	return desc, nil
}

// RenameColumn changes a live column's name.
func (d *Dataset) RenameColumn(oldName, newName string) error {
	newName = strings.TrimSpace(newName)
	if newName == "" {
		return errors.New("column name is required")
	}
	cur, ok := d.Column(oldName)
	if !ok {
		return fmt.Errorf("%w: %s", ErrColumnNotFound, oldName)
	}
	if other, ok := d.Column(newName); ok && other.ColumnIndex != cur.ColumnIndex {
		return fmt.Errorf("%w: %s", ErrColumnExists, newName)
	}
	d.Columns[cur.ColumnIndex].Name = newName
	return nil
}

// DeleteColumn logically deletes a column. Its cells are cleared and its index
// stays reserved.
func (d *Dataset) DeleteColumn(name string) error {
	cur, ok := d.Column(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrColumnNotFound, name)
	}
	d.Columns[cur.ColumnIndex].Deleted = true
	for i, r := range d.Rows {
		if cur.ColumnIndex < len(r) {
			d.Rows[i][cur.ColumnIndex] = ""
		}
	}
	return nil
}

// Clone returns a deep copy of the dataset.
func (d *Dataset) Clone() *Dataset {
	out := &Dataset{Name: d.Name}
	out.Columns = append([]ColumnDescriptor(nil), d.Columns...)
	out.Rows = make([][]string, len(d.Rows))
	for i, r := range d.Rows {
		out.Rows[i] = append([]string(nil), r...)
	}
	return out
}

// CheckInvariants verifies that descriptor indexes match their position and
// that no two live descriptors share a name.
func (d *Dataset) CheckInvariants() error {
	seen := map[string]int{}
	for i, c := range d.Columns {
		if c.ColumnIndex != i {
			return fmt.Errorf("column %q has index %d at position %d", c.Name, c.ColumnIndex, i)
		}
		if c.Deleted {
			continue
		}
		key := strings.ToLower(c.Name)
		if j, ok := seen[key]; ok {
			return fmt.Errorf("columns %d and %d share the name %q", j, i, c.Name)
		}
		seen[key] = i
	}
	return nil
}
