package pipeline

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/KaramelBytes/statloom-cli/internal/dataset"
	"github.com/KaramelBytes/statloom-cli/internal/dispatch"
	"github.com/KaramelBytes/statloom-cli/internal/engine"
	"github.com/KaramelBytes/statloom-cli/internal/ledger"
	"github.com/KaramelBytes/statloom-cli/internal/series"
)

func seasonalDataset(t *testing.T, n int) *dataset.Dataset {
	t.Helper()
	ds := dataset.New("sales")
	for _, c := range []dataset.ColumnDescriptor{
		{Name: "month", Type: dataset.KindString},
		{Name: "sales", Type: dataset.KindNumeric},
		{Name: "ads", Type: dataset.KindNumeric},
	} {
		if _, err := ds.DefineColumn(c); err != nil {
			t.Fatal(err)
		}
	}
	pattern := []float64{3, -1, 4, -6}
	for i := 0; i < n; i++ {
		v := 50 + 2*float64(i) + pattern[i%4]
		ds.Rows = append(ds.Rows, []string{"m" + strconv.Itoa(i+1), strconv.FormatFloat(v, 'f', -1, 64), strconv.Itoa(i%5 + i)})
	}
	return ds
}

type fixture struct {
	wb     *Workbench
	store  *ledger.MemoryStore
	tables *dataset.MemoryStore
	events *eventLog
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) Notify(e Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) types() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []string
	for _, e := range l.events {
		out = append(out, e.Type)
	}
	return out
}

func newFixture(t *testing.T, ds *dataset.Dataset, eng engine.Engine) *fixture {
	t.Helper()
	f := &fixture{store: ledger.NewMemoryStore(), tables: dataset.NewMemoryStore(ds), events: &eventLog{}}
	if eng == nil {
		eng = engine.NewLocal()
	}
	wb, err := New(Config{
		Dataset:  ds,
		Writer:   dataset.NewWriter(f.tables),
		Ledger:   ledger.New(f.store, nil),
		Engine:   eng,
		Notifier: f.events,
	})
	if err != nil {
		t.Fatal(err)
	}
	f.wb = wb
	return f
}

func (f *fixture) tree(t *testing.T) *ledger.Tree {
	t.Helper()
	tree, err := ledger.BuildTree(context.Background(), f.store, "")
	if err != nil {
		t.Fatal(err)
	}
	return tree
}

func TestRunIsolatesFailingTask(t *testing.T) {
	f := newFixture(t, seasonalDataset(t, 16), nil)
	out, err := f.wb.Run(context.Background(), KindDiscriminant, Selection{Dependent: []string{"sales", "ads"}, Label: "month"}, Options{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	rep := out.Wait()
	if rep.Tables != 2 || len(rep.Failed) != 1 {
		t.Fatalf("tables=%d failed=%v", rep.Tables, rep.Failed)
	}
	var te *dispatch.TaskError
	if !errors.As(rep.Errors, &te) || Classify(rep.Errors) != CategoryTask {
		t.Fatalf("expected task error, got %v", rep.Errors)
	}
	tree := f.tree(t)
	if len(tree.Runs) != 1 || len(tree.Runs[0].Groups) != 1 || len(tree.Runs[0].Groups[0].Tables) != 2 {
		t.Fatalf("unexpected tree: %+v", tree)
	}
	if !strings.Contains(UserMessage(rep.Errors), "not supported") {
		t.Fatalf("message = %q", UserMessage(rep.Errors))
	}
}

func TestRunThreeTasksOneFails(t *testing.T) {
	eng := engine.Func(func(ctx context.Context, req engine.Request) (*engine.Output, error) {
		if req.Name == "ads" {
			panic("engine crashed")
		}
		return engine.NewLocal().Compute(ctx, req)
	})
	ds := seasonalDataset(t, 12)
	if _, err := ds.DefineColumn(dataset.ColumnDescriptor{Name: "cost"}); err != nil {
		t.Fatal(err)
	}
	for i := range ds.Rows {
		ds.SetCell(i, 3, strconv.Itoa(10+i))
	}
	f := newFixture(t, ds, eng)
	out, err := f.wb.Run(context.Background(), KindDescribe, Selection{Dependent: []string{"sales", "ads", "cost"}}, Options{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	rep := out.Wait()
	if rep.Groups != 3 || rep.Tables != 2 || len(rep.Failed) != 1 || !strings.HasPrefix(rep.Failed[0], "1/") {
		t.Fatalf("report = %+v", rep)
	}
	var te *dispatch.TaskError
	if !errors.As(rep.Errors, &te) || !te.Panicked {
		t.Fatalf("expected panicked task, got %v", rep.Errors)
	}
	if !strings.Contains(out.Text, "Descriptives of sales, ads, cost: sales: n=12") {
		t.Fatalf("run text not seeded from primary: %q", out.Text)
	}
}

func TestRunDecompositionWritesColumnsBack(t *testing.T) {
	ds := seasonalDataset(t, 16)
	orig := ds.Clone()
	f := newFixture(t, ds, nil)
	out, err := f.wb.Run(context.Background(), KindDecomposition,
		Selection{Dependent: []string{"sales"}, Label: "month"}, Options{Period: 4, Save: true})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	out.Wait()
	if len(out.Columns) != 3 {
		t.Fatalf("columns = %+v", out.Columns)
	}
	for i, name := range []string{"sales_seasonal", "sales_trend", "sales_irregular"} {
		c := out.Columns[i]
		if c.Name != name || c.ColumnIndex != 3+i {
			t.Fatalf("column %d = %+v", i, c)
		}
	}
	got := f.wb.Dataset()
	for r := range got.Rows {
		if len(got.Rows[r]) < 6 {
			t.Fatalf("row %d too short: %d", r, len(got.Rows[r]))
		}
		for c := 0; c < 3; c++ {
			if got.Cell(r, c) != orig.Cell(r, c) {
				t.Fatalf("existing cell (%d,%d) changed", r, c)
			}
		}
	}
	if got.Cell(0, 4) != "" || got.Cell(2, 4) == "" || got.Cell(15, 4) != "" {
		t.Fatalf("trend column should be empty outside its centered window")
	}
	persisted, _ := f.tables.Load(context.Background())
	if len(persisted.Columns) != 6 || persisted.Cell(2, 4) != got.Cell(2, 4) {
		t.Fatalf("columns were not pushed to the tabular store")
	}
	types := f.events.types()
	if types[0] != EventRunStarted || types[len(types)-1] != EventRunCompleted {
		t.Fatalf("events = %v", types)
	}
}

func TestRunForecastExtendsDataset(t *testing.T) {
	f := newFixture(t, seasonalDataset(t, 12), nil)
	out, err := f.wb.Run(context.Background(), KindARIMA,
		Selection{Dependent: []string{"sales"}, Label: "month"}, Options{P: 1, Horizon: 2, Save: true})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	out.Wait()
	got := f.wb.Dataset()
	if got.RowCount() != 14 {
		t.Fatalf("rows = %d", got.RowCount())
	}
	fc, ok := got.Column("sales_fc")
	if !ok || got.Cell(13, fc.ColumnIndex) == "" || got.Cell(11, fc.ColumnIndex) != "" {
		t.Fatalf("forecast column not written past the window")
	}
	if err := got.CheckInvariants(); err != nil {
		t.Fatal(err)
	}
}

func TestRunValidationAbortsBeforeDispatch(t *testing.T) {
	var calls int32
	eng := engine.Func(func(context.Context, engine.Request) (*engine.Output, error) {
		atomic.AddInt32(&calls, 1)
		return &engine.Output{}, nil
	})
	f := newFixture(t, seasonalDataset(t, 12), eng)
	_, err := f.wb.Run(context.Background(), KindDecomposition, Selection{Dependent: []string{"sales"}, Label: "month"}, Options{Period: 4})
	var ve *series.ValidationError
	if !errors.As(err, &ve) || !strings.Contains(ve.Message, "length less than 4× periodicity") {
		t.Fatalf("expected periodicity failure, got %v", err)
	}
	if Classify(err) != CategoryValidation || !strings.HasPrefix(UserMessage(err), "Precondition periodicity failed") {
		t.Fatalf("classification: %s %q", Classify(err), UserMessage(err))
	}
	if atomic.LoadInt32(&calls) != 0 {
		t.Fatalf("engine called %d times", calls)
	}
	if runs, _ := f.store.Runs(context.Background()); len(runs) != 0 {
		t.Fatalf("no run should be recorded")
	}
}

func TestRunSelectionErrors(t *testing.T) {
	f := newFixture(t, seasonalDataset(t, 12), nil)
	cases := []struct {
		kind Kind
		sel  Selection
		opt  Options
	}{
		{KindARIMA, Selection{Dependent: []string{"sales"}}, Options{}},
		{KindDescribe, Selection{}, Options{}},
		{KindRegression, Selection{Dependent: []string{"sales"}}, Options{}},
		{KindDecomposition, Selection{Dependent: []string{"sales"}, Label: "month"}, Options{}},
		{"cluster", Selection{Dependent: []string{"sales"}}, Options{}},
	}
	for _, tc := range cases {
		_, err := f.wb.Run(context.Background(), tc.kind, tc.sel, tc.opt)
		if Classify(err) != CategorySelection {
			t.Fatalf("%s: expected selection error, got %v", tc.kind, err)
		}
		if !strings.HasPrefix(UserMessage(err), "Selection: ") {
			t.Fatalf("message = %q", UserMessage(err))
		}
	}
}

func TestRunInvalidInputLeavesDatasetUntouched(t *testing.T) {
	ds := seasonalDataset(t, 12)
	ds.Rows[5][1] = ""
	f := newFixture(t, ds, nil)
	before := f.wb.Dataset()
	_, err := f.wb.Run(context.Background(), KindSmoothing, Selection{Dependent: []string{"sales"}, Label: "month"}, Options{Save: true})
	if Classify(err) != CategoryInvalidInput {
		t.Fatalf("expected invalid input, got %v", err)
	}
	after := f.wb.Dataset()
	if len(after.Columns) != len(before.Columns) {
		t.Fatalf("dataset modified")
	}
}

type failingLedger struct{ *ledger.MemoryStore }

func (failingLedger) CreateRun(context.Context, string) (ledger.RunID, error) {
	return "", errors.New("disk full")
}

func TestRunPersistenceErrorIsFatal(t *testing.T) {
	ds := seasonalDataset(t, 12)
	wb, err := New(Config{Dataset: ds, Ledger: ledger.New(failingLedger{ledger.NewMemoryStore()}, nil), Engine: engine.NewLocal()})
	if err != nil {
		t.Fatal(err)
	}
	_, err = wb.Run(context.Background(), KindDescribe, Selection{Dependent: []string{"sales"}}, Options{})
	var pe *ledger.PersistenceError
	if !errors.As(err, &pe) || Classify(err) != CategoryPersistence {
		t.Fatalf("expected persistence error, got %v", err)
	}
}

func TestSecondaryTasksPersistInBackground(t *testing.T) {
	release := make(chan struct{})
	eng := engine.Func(func(ctx context.Context, req engine.Request) (*engine.Output, error) {
		if req.Method == engine.MethodDescribe {
			<-release
		}
		return engine.NewLocal().Compute(ctx, req)
	})
	f := newFixture(t, seasonalDataset(t, 12), eng)
	out, err := f.wb.Run(context.Background(), KindARIMA, Selection{Dependent: []string{"sales"}, Label: "month"}, Options{P: 1, Save: true})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	select {
	case <-out.Done():
		t.Fatalf("run must not wait for the secondary task")
	default:
	}
	close(release)
	rep := out.Wait()
	if rep.Tables != 3 || rep.Errors != nil {
		t.Fatalf("report = %+v", rep)
	}
	if len(rep.Columns) != 1 || rep.Columns[0] != "sales_fit" {
		t.Fatalf("columns = %v", rep.Columns)
	}
}

func TestRegressionRun(t *testing.T) {
	f := newFixture(t, seasonalDataset(t, 12), nil)
	out, err := f.wb.Run(context.Background(), KindRegression,
		Selection{Dependent: []string{"sales"}, Independent: []string{"ads"}}, Options{Save: true})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	rep := out.Wait()
	if rep.Tables != 3 || len(rep.Columns) != 2 {
		t.Fatalf("report = %+v", rep)
	}
}

func TestRunMixedCaseSelection(t *testing.T) {
	f := newFixture(t, seasonalDataset(t, 12), nil)
	out, err := f.wb.Run(context.Background(), KindSmoothing,
		Selection{Dependent: []string{"Sales"}, Label: "Month"}, Options{Save: true})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	rep := out.Wait()
	if rep.Errors != nil || rep.Groups != 1 {
		t.Fatalf("report = %+v", rep)
	}
	if len(rep.Columns) != 1 || rep.Columns[0] != "sales_ma" {
		t.Fatalf("columns = %v", rep.Columns)
	}
	if !strings.Contains(out.Text, "of sales by month") {
		t.Fatalf("text should use stored names: %q", out.Text)
	}

	out, err = f.wb.Run(context.Background(), KindRegression,
		Selection{Dependent: []string{"SALES"}, Independent: []string{"Ads"}}, Options{})
	if err != nil {
		t.Fatalf("regression: %v", err)
	}
	if rep := out.Wait(); rep.Errors != nil {
		t.Fatalf("regression errors: %v", rep.Errors)
	}
}

func TestRunDeduplicatesDependents(t *testing.T) {
	f := newFixture(t, seasonalDataset(t, 12), nil)
	out, err := f.wb.Run(context.Background(), KindSmoothing,
		Selection{Dependent: []string{"sales", "SALES", " sales "}, Label: "month"}, Options{Save: true})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	rep := out.Wait()
	if rep.Groups != 1 || len(rep.Columns) != 1 || rep.Columns[0] != "sales_ma" {
		t.Fatalf("report = %+v", rep)
	}
	if _, ok := f.wb.Dataset().Column("sales_ma_2"); ok {
		t.Fatalf("duplicate dependent was written twice")
	}
}

func TestRunWriteBackOverflowCompletesRun(t *testing.T) {
	eng := engine.Func(func(ctx context.Context, req engine.Request) (*engine.Output, error) {
		if req.Method != engine.MethodMovingAverage {
			return engine.NewLocal().Compute(ctx, req)
		}
		long := make([]float64, len(req.Series)+3)
		return &engine.Output{
			Tables: []engine.Table{{Title: "Smoothed"}},
			Series: []engine.NamedSeries{{Name: "smoothed", Values: long}},
		}, nil
	})
	f := newFixture(t, seasonalDataset(t, 12), eng)
	out, err := f.wb.Run(context.Background(), KindSmoothing,
		Selection{Dependent: []string{"sales"}, Label: "month"}, Options{Save: true})
	if !errors.Is(err, dataset.ErrSeriesOverflow) {
		t.Fatalf("expected overflow, got %v", err)
	}
	if Classify(err) != CategoryPersistence || !strings.HasPrefix(UserMessage(err), "Could not write columns back") {
		t.Fatalf("classification: %s %q", Classify(err), UserMessage(err))
	}
	if out == nil {
		t.Fatalf("outcome must be returned with the error")
	}
	out.Wait()
	types := f.events.types()
	if types[0] != EventRunStarted || types[len(types)-1] != EventRunCompleted {
		t.Fatalf("events = %v", types)
	}
	if f.wb.Dataset().RowCount() != 12 {
		t.Fatalf("dataset must not grow on rejected overflow")
	}
}
