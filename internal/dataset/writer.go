package dataset

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Packing selects where an appended series lands in each row.
type Packing int

const (
	// PackIndexed writes each value at the new column's index.
	PackIndexed Packing = iota
	// PackFirstEmpty writes each value into the first empty cell of its row,
	// scanning left to right. Kept for compatibility with datasets produced by
	// the legacy workbench; it can fill gaps left by other columns.
	PackFirstEmpty
)

// Overflow selects what happens when a series is longer than the dataset.
type Overflow int

const (
	OverflowReject Overflow = iota
	OverflowExtend
)

// ErrSeriesOverflow is returned when a series has more values than the dataset has rows
// and the writer is configured to reject it.
var ErrSeriesOverflow = errors.New("series is longer than the dataset")

// ParsePacking maps a config value to a Packing.
func ParsePacking(s string) (Packing, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "indexed":
		return PackIndexed, nil
	case "first-empty", "first_empty":
		return PackFirstEmpty, nil
	}
	return PackIndexed, fmt.Errorf("invalid column packing: %s (use indexed or first-empty)", s)
}

// ParseOverflow maps a config value to an Overflow policy.
func ParseOverflow(s string) (Overflow, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "reject":
		return OverflowReject, nil
	case "extend":
		return OverflowExtend, nil
	}
	return OverflowReject, fmt.Errorf("invalid series overflow policy: %s (use reject or extend)", s)
}

// Writer appends computed series to a dataset as new columns and pushes each
// append to the backing Store. A Writer must only be used from one goroutine
// at a time per dataset.
type Writer struct {
	store    Store
	packing  Packing
	overflow Overflow
}

// WriterOption configures a Writer.
type WriterOption func(*Writer)

func WithPacking(p Packing) WriterOption   { return func(w *Writer) { w.packing = p } }
func WithOverflow(o Overflow) WriterOption { return func(w *Writer) { w.overflow = o } }

// NewWriter returns a Writer. store may be nil, in which case appends are in-memory only.
func NewWriter(store Store, opts ...WriterOption) *Writer {
	w := &Writer{store: store}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Derived is one computed series destined for a new column.
type Derived struct {
	Descriptor ColumnDescriptor
	Values     []string
	// Extend overrides the writer's overflow policy for this series (forecast tails).
	Extend bool
}

// AppendColumn registers desc as a new column and writes values into it.
// Shorter series are padded with empty cells so every row gets a slot, and
// every row ends up at least ColumnIndex+1 long. The dataset is only modified
// once the store accepted the write.
func (w *Writer) AppendColumn(ctx context.Context, ds *Dataset, values []string, desc ColumnDescriptor) (ColumnDescriptor, error) {
	return w.append(ctx, ds, Derived{Descriptor: desc, Values: values})
}

// AppendColumns appends each series in order. Descriptors are registered one at a
// time so each append sees the correct next index. It stops at the first failure
// and returns the columns appended so far.
func (w *Writer) AppendColumns(ctx context.Context, ds *Dataset, series []Derived) ([]ColumnDescriptor, error) {
	out := make([]ColumnDescriptor, 0, len(series))
	for _, s := range series {
		c, err := w.append(ctx, ds, s)
		if err != nil {
			return out, err
		}
		out = append(out, c)
	}
	return out, nil
}

func (w *Writer) append(ctx context.Context, ds *Dataset, d Derived) (ColumnDescriptor, error) {
	if ds == nil {
		return ColumnDescriptor{}, errors.New("nil dataset")
	}
	if err := ctx.Err(); err != nil {
		return ColumnDescriptor{}, err
	}
	rows := ds.RowCount()
	if len(d.Values) > rows && w.overflow != OverflowExtend && !d.Extend {
		return ColumnDescriptor{}, &StoreError{Op: "append", Err: fmt.Errorf("%w: %q has %d values for %d rows", ErrSeriesOverflow, d.Descriptor.Name, len(d.Values), rows)}
	}

	next := ds.Clone()
	col, err := next.DefineColumn(d.Descriptor)
	if err != nil {
		return ColumnDescriptor{}, err
	}
	for len(next.Rows) < len(d.Values) {
		next.Rows = append(next.Rows, nil)
	}
	cells := make([]CellUpdate, 0, len(next.Rows))
	for i := range next.Rows {
		v := ""
		if i < len(d.Values) {
			v = d.Values[i]
		}
		row := next.Rows[i]
		if len(row) < col.ColumnIndex+1 {
			tmp := make([]string, col.ColumnIndex+1)
			copy(tmp, row)
			row = tmp
		}
		slot := col.ColumnIndex
		if w.packing == PackFirstEmpty {
			for j, cell := range row {
				if cell == "" {
					slot = j
					break
				}
			}
		}
		row[slot] = v
		next.Rows[i] = row
		cells = append(cells, CellUpdate{Column: slot, Row: i, Value: v})
	}

	if w.store != nil {
		if err := w.store.Upsert(ctx, []ColumnDescriptor{col}, cells); err != nil {
			var se *StoreError
			if errors.As(err, &se) {
				return ColumnDescriptor{}, err
			}
			return ColumnDescriptor{}, &StoreError{Op: "upsert", Err: err}
		}
	}
	*ds = *next
	return col, nil
}

// UniqueName returns base, or base with a numeric suffix, such that no live
// column of ds already uses it.
func UniqueName(ds *Dataset, base string) string {
	base = strings.TrimSpace(base)
	if _, ok := ds.Column(base); !ok {
		return base
	}
	for i := 2; ; i++ {
		cand := fmt.Sprintf("%s_%d", base, i)
		if _, ok := ds.Column(cand); !ok {
			return cand
		}
	}
}
