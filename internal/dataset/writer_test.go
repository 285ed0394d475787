package dataset

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func twelveRowDataset() *Dataset {
	ds := New("sales")
	_, _ = ds.DefineColumn(ColumnDescriptor{Name: "month", Type: KindString})
	_, _ = ds.DefineColumn(ColumnDescriptor{Name: "sales"})
	for i := 0; i < 12; i++ {
		ds.Rows = append(ds.Rows, []string{fmt.Sprintf("m%02d", i+1), fmt.Sprintf("%d", 100+i)})
	}
	return ds
}

func TestAppendColumnPadsShortSeries(t *testing.T) {
	ds := twelveRowDataset()
	vals := make([]string, 10)
	for i := range vals {
		vals[i] = fmt.Sprintf("%d", i)
	}
	w := NewWriter(nil)
	col, err := w.AppendColumn(context.Background(), ds, vals, ColumnDescriptor{Name: "smoothed"})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if col.ColumnIndex != 2 {
		t.Fatalf("column index = %d want 2", col.ColumnIndex)
	}
	for i, row := range ds.Rows {
		if len(row) < col.ColumnIndex+1 {
			t.Fatalf("row %d too short: %d", i, len(row))
		}
		if row[0] != fmt.Sprintf("m%02d", i+1) || row[1] != fmt.Sprintf("%d", 100+i) {
			t.Fatalf("row %d original values changed: %#v", i, row)
		}
	}
	if ds.Rows[10][2] != "" || ds.Rows[11][2] != "" {
		t.Fatalf("rows 10 and 11 should hold the empty filler, got %q %q", ds.Rows[10][2], ds.Rows[11][2])
	}
	if ds.Rows[9][2] != "9" {
		t.Fatalf("row 9 = %q", ds.Rows[9][2])
	}
}

func TestAppendColumnsIncrementsIndexes(t *testing.T) {
	ds := twelveRowDataset()
	w := NewWriter(nil)
	cols, err := w.AppendColumns(context.Background(), ds, []Derived{
		{Descriptor: ColumnDescriptor{Name: "seasonal"}, Values: []string{"1"}},
		{Descriptor: ColumnDescriptor{Name: "trend"}, Values: []string{"2"}},
		{Descriptor: ColumnDescriptor{Name: "irregular"}, Values: []string{"3"}},
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	for i, c := range cols {
		if c.ColumnIndex != 2+i {
			t.Fatalf("col %s index %d want %d", c.Name, c.ColumnIndex, 2+i)
		}
	}
	if got := ds.Rows[0][2:]; got[0] != "1" || got[1] != "2" || got[2] != "3" {
		t.Fatalf("row 0 derived cells = %#v", got)
	}
	if err := ds.CheckInvariants(); err != nil {
		t.Fatalf("invariants: %v", err)
	}
}

func TestAppendColumnRaggedRowsAreExtended(t *testing.T) {
	ds := New("r")
	_, _ = ds.DefineColumn(ColumnDescriptor{Name: "a"})
	_, _ = ds.DefineColumn(ColumnDescriptor{Name: "b"})
	ds.Rows = [][]string{{"1", "2"}, {"3"}, {}}
	col, err := NewWriter(nil).AppendColumn(context.Background(), ds, []string{"x", "y", "z"}, ColumnDescriptor{Name: "c"})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	for i, row := range ds.Rows {
		if len(row) < col.ColumnIndex+1 {
			t.Fatalf("row %d length %d", i, len(row))
		}
	}
	if ds.Rows[1][2] != "y" || ds.Rows[1][1] != "" || ds.Rows[2][2] != "z" {
		t.Fatalf("unexpected rows: %#v", ds.Rows)
	}
}

func TestAppendColumnFirstEmptyPacking(t *testing.T) {
	ds := New("r")
	_, _ = ds.DefineColumn(ColumnDescriptor{Name: "a"})
	_, _ = ds.DefineColumn(ColumnDescriptor{Name: "b"})
	ds.Rows = [][]string{{"1", "2"}, {"3"}}
	w := NewWriter(nil, WithPacking(PackFirstEmpty))
	if _, err := w.AppendColumn(context.Background(), ds, []string{"x", "y"}, ColumnDescriptor{Name: "c"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	// row 1 had a gap at index 1, which the legacy packing reuses
	if ds.Rows[0][2] != "x" || ds.Rows[1][1] != "y" || ds.Rows[1][2] != "" {
		t.Fatalf("unexpected packing: %#v", ds.Rows)
	}
}

func TestAppendColumnOverflow(t *testing.T) {
	ds := twelveRowDataset()
	long := make([]string, 15)
	for i := range long {
		long[i] = "1"
	}
	_, err := NewWriter(nil).AppendColumn(context.Background(), ds, long, ColumnDescriptor{Name: "forecast"})
	if !errors.Is(err, ErrSeriesOverflow) {
		t.Fatalf("expected ErrSeriesOverflow, got %v", err)
	}
	var se *StoreError
	if !errors.As(err, &se) || se.Op != "append" {
		t.Fatalf("overflow should be a store error, got %T", err)
	}
	if len(ds.Columns) != 2 || ds.RowCount() != 12 {
		t.Fatalf("dataset must be untouched on rejection")
	}
	col, err := NewWriter(nil, WithOverflow(OverflowExtend)).AppendColumn(context.Background(), ds, long, ColumnDescriptor{Name: "forecast"})
	if err != nil {
		t.Fatalf("extend: %v", err)
	}
	if ds.RowCount() != 15 || ds.Rows[14][col.ColumnIndex] != "1" || ds.Rows[14][0] != "" {
		t.Fatalf("unexpected extended rows: %#v", ds.Rows[14])
	}
}

type failingStore struct{ MemoryStore }

func (f *failingStore) Upsert(context.Context, []ColumnDescriptor, []CellUpdate) error {
	return errors.New("disk full")
}

func TestAppendColumnStoreFailureLeavesDatasetUntouched(t *testing.T) {
	ds := twelveRowDataset()
	w := NewWriter(&failingStore{})
	_, err := w.AppendColumn(context.Background(), ds, []string{"1"}, ColumnDescriptor{Name: "x"})
	var se *StoreError
	if !errors.As(err, &se) {
		t.Fatalf("expected StoreError, got %v", err)
	}
	if len(ds.Columns) != 2 || len(ds.Rows[0]) != 2 {
		t.Fatalf("dataset changed after failed store write")
	}
}

func TestAppendColumnPushesToStore(t *testing.T) {
	ds := twelveRowDataset()
	store := NewMemoryStore(ds)
	w := NewWriter(store)
	if _, err := w.AppendColumn(context.Background(), ds, []string{"5", "6"}, ColumnDescriptor{Name: "x"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	persisted, err := store.Load(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(persisted.Columns) != 3 || persisted.Cell(1, 2) != "6" || persisted.Cell(11, 2) != "" {
		t.Fatalf("store not updated: cols=%d rows=%#v", len(persisted.Columns), persisted.Rows[:2])
	}
}

func TestUniqueName(t *testing.T) {
	ds := twelveRowDataset()
	if got := UniqueName(ds, "trend"); got != "trend" {
		t.Fatalf("got %s", got)
	}
	if got := UniqueName(ds, "sales"); got != "sales_2" {
		t.Fatalf("got %s", got)
	}
}
