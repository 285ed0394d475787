package series

import (
	"errors"
	"reflect"
	"strconv"
	"testing"

	"github.com/KaramelBytes/statloom-cli/internal/dataset"
)

var months = []string{"Jan", "Feb", "Mar", "Apr", "May", "Jun", "Jul", "Aug", "Sep", "Oct", "Nov", "Dec"}

func salesDataset(t *testing.T) *dataset.Dataset {
	t.Helper()
	ds := dataset.New("sales")
	if _, err := ds.DefineColumn(dataset.ColumnDescriptor{Name: "month", Type: dataset.KindString}); err != nil {
		t.Fatal(err)
	}
	if _, err := ds.DefineColumn(dataset.ColumnDescriptor{Name: "sales", Type: dataset.KindNumeric}); err != nil {
		t.Fatal(err)
	}
	for i, m := range months {
		ds.Rows = append(ds.Rows, []string{m, strconv.Itoa(100 + i*3)})
	}
	return ds
}

func TestExtractFullyPopulated(t *testing.T) {
	ds := salesDataset(t)
	w, err := Extract(ds, Selection{Numeric: []string{"sales"}, Label: "month"})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if w.Len() != 12 {
		t.Fatalf("len = %d", w.Len())
	}
	sales, _ := w.Numbers("sales")
	labels, _ := w.Labels("month")
	if len(sales) != 12 || len(labels) != 12 || sales[11] != 133 || labels[0] != "Jan" {
		t.Fatalf("unexpected series: %v %v", sales, labels)
	}
	if err := Validate(w, MinLength(8)); err != nil {
		t.Fatalf("minLength(8) should pass: %v", err)
	}
}

func TestExtractIsIdempotent(t *testing.T) {
	ds := salesDataset(t)
	sel := Selection{Numeric: []string{"sales"}, Label: "month"}
	a, err := Extract(ds, sel)
	if err != nil {
		t.Fatal(err)
	}
	b, err := Extract(ds, sel)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("windows differ")
	}
}

func TestExtractTrimsSparseTail(t *testing.T) {
	ds := salesDataset(t)
	// two trailing rows with nothing selected, plus a row that only has an unselected column
	ds.Rows = append(ds.Rows, []string{}, []string{"", ""})
	if _, err := ds.DefineColumn(dataset.ColumnDescriptor{Name: "other"}); err != nil {
		t.Fatal(err)
	}
	ds.SetCell(15, 2, "x")
	w, err := Extract(ds, Selection{Numeric: []string{"sales"}, Label: "month"})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if w.Len() != 12 {
		t.Fatalf("len = %d", w.Len())
	}
}

func TestExtractUnknownColumn(t *testing.T) {
	ds := salesDataset(t)
	_, err := Extract(ds, Selection{Numeric: []string{"profit"}})
	var ie *InvalidInputError
	if !errors.As(err, &ie) || ie.Column != "profit" {
		t.Fatalf("expected InvalidInputError for profit, got %v", err)
	}
}

func TestExtractRejectsInteriorHole(t *testing.T) {
	ds := salesDataset(t)
	ds.Rows[4][1] = ""
	_, err := Extract(ds, Selection{Numeric: []string{"sales"}, Label: "month"})
	var ie *InvalidInputError
	if !errors.As(err, &ie) || ie.Column != "sales" || ie.Row != 4 {
		t.Fatalf("expected hole at row 4, got %v", err)
	}
}

func TestExtractRejectsNonNumericInside(t *testing.T) {
	ds := salesDataset(t)
	ds.Rows[2][1] = "n/a"
	_, err := Extract(ds, Selection{Numeric: []string{"sales"}})
	var ie *InvalidInputError
	if !errors.As(err, &ie) || ie.Row != 2 {
		t.Fatalf("expected InvalidInputError at row 2, got %v", err)
	}
}

func TestExtractUnequalLengthsFail(t *testing.T) {
	ds := salesDataset(t)
	// dependent ends two rows early while labels continue
	ds.Rows[10] = ds.Rows[10][:1]
	ds.Rows[11] = ds.Rows[11][:1]
	_, err := Extract(ds, Selection{Numeric: []string{"sales"}, Label: "month"})
	var ie *InvalidInputError
	if !errors.As(err, &ie) {
		t.Fatalf("expected InvalidInputError, got %v", err)
	}
}

func TestExtractEmptyDatasetDefaultsToFirstRow(t *testing.T) {
	ds := dataset.New("empty")
	if _, err := ds.DefineColumn(dataset.ColumnDescriptor{Name: "y"}); err != nil {
		t.Fatal(err)
	}
	w, err := Extract(ds, Selection{Numeric: []string{"y"}})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if w.Len() != 0 {
		t.Fatalf("len = %d", w.Len())
	}
	if err := Validate(w, MinLength(1)); err == nil {
		t.Fatalf("minLength must catch the empty window")
	}
}

func TestExtractSeriesAlwaysEqualLength(t *testing.T) {
	ds := salesDataset(t)
	if _, err := ds.DefineColumn(dataset.ColumnDescriptor{Name: "cost"}); err != nil {
		t.Fatal(err)
	}
	for cut := 0; cut <= 12; cut++ {
		d := ds.Clone()
		for r := 0; r < cut; r++ {
			d.SetCell(r, 2, strconv.Itoa(r))
		}
		w, err := Extract(d, Selection{Numeric: []string{"sales", "cost"}, Label: "month"})
		if err != nil {
			var ie *InvalidInputError
			if !errors.As(err, &ie) {
				t.Fatalf("cut %d: unexpected error type %T", cut, err)
			}
			continue
		}
		for _, n := range w.Names() {
			v, _ := w.Numbers(n)
			if len(v) != w.Len() {
				t.Fatalf("cut %d: %s has %d values, window %d", cut, n, len(v), w.Len())
			}
		}
	}
}

func TestWindowAccessorsReturnCopies(t *testing.T) {
	w := NewWindow(map[string][]float64{"a": {1, 2}}, []string{"a"}, "t", []string{"x", "y"})
	v, _ := w.Numbers("a")
	v[0] = 99
	again, _ := w.Numbers("a")
	if again[0] != 1 {
		t.Fatalf("window mutated through accessor")
	}
	c := w.Clone()
	if !reflect.DeepEqual(c, w) {
		t.Fatalf("clone differs")
	}
}

func TestWindowLookupsIgnoreCase(t *testing.T) {
	w, err := Extract(salesDataset(t), Selection{Numeric: []string{"Sales"}, Label: "MONTH"})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if got := w.Names(); len(got) != 1 || got[0] != "sales" || w.Label() != "month" {
		t.Fatalf("stored names = %v %q", got, w.Label())
	}
	if v, ok := w.Numbers("Sales"); !ok || len(v) != 12 {
		t.Fatalf("Numbers(Sales) = %v %v", v, ok)
	}
	if l, ok := w.Labels("Month"); !ok || l[0] != "Jan" {
		t.Fatalf("Labels(Month) = %v %v", l, ok)
	}
	if err := Validate(w, EqualLength("Sales", "Month")); err != nil {
		t.Fatalf("equalLength with mixed case: %v", err)
	}
	if _, ok := w.Numbers("cost"); ok {
		t.Fatalf("unknown series must not resolve")
	}
}
