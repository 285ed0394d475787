package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sourcegraph/conc"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/KaramelBytes/statloom-cli/internal/dataset"
	"github.com/KaramelBytes/statloom-cli/internal/dispatch"
	"github.com/KaramelBytes/statloom-cli/internal/engine"
	"github.com/KaramelBytes/statloom-cli/internal/ledger"
	"github.com/KaramelBytes/statloom-cli/internal/series"
)

// Event types sent to a Notifier.
const (
	EventRunStarted     = "run.started"
	EventTableRecorded  = "table.recorded"
	EventTaskFailed     = "task.failed"
	EventColumnsWritten = "columns.written"
	EventRunCompleted   = "run.completed"
)

// Event is a progress notification for the UI surface.
type Event struct {
	Type    string    `json:"type"`
	Kind    Kind      `json:"kind"`
	RunID   string    `json:"run_id,omitempty"`
	Tag     string    `json:"tag,omitempty"`
	Message string    `json:"message,omitempty"`
	Time    time.Time `json:"time"`
}

// Notifier receives events. It is called from several goroutines.
type Notifier interface {
	Notify(Event)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Event)

func (f NotifierFunc) Notify(e Event) { f(e) }

// Config wires a Workbench. Dataset, Ledger and Engine are required.
type Config struct {
	Dataset    *dataset.Dataset
	Writer     *dataset.Writer
	Ledger     *ledger.Ledger
	Engine     engine.Engine
	Dispatcher *dispatch.Dispatcher
	Logger     *zap.Logger
	Notifier   Notifier
	Number     dataset.NumberFormat
}

// Workbench runs analyses against one shared dataset. Runs are serialized so
// the dataset only ever has one writer.
type Workbench struct {
	mu         sync.Mutex
	ds         *dataset.Dataset
	writer     *dataset.Writer
	ledger     *ledger.Ledger
	engine     engine.Engine
	dispatcher *dispatch.Dispatcher
	log        *zap.Logger
	notify     Notifier
	number     dataset.NumberFormat
}

// New returns a Workbench.
func New(cfg Config) (*Workbench, error) {
	if cfg.Dataset == nil || cfg.Ledger == nil || cfg.Engine == nil {
		return nil, errors.New("workbench needs a dataset, a ledger and an engine")
	}
	w := &Workbench{
		ds:         cfg.Dataset,
		writer:     cfg.Writer,
		ledger:     cfg.Ledger,
		engine:     cfg.Engine,
		dispatcher: cfg.Dispatcher,
		log:        cfg.Logger,
		notify:     cfg.Notifier,
		number:     cfg.Number,
	}
	if w.writer == nil {
		w.writer = dataset.NewWriter(nil)
	}
	if w.dispatcher == nil {
		w.dispatcher = dispatch.New(dispatch.WithLogger(w.log))
	}
	if w.log == nil {
		w.log = zap.NewNop()
	}
	if w.notify == nil {
		w.notify = NotifierFunc(func(Event) {})
	}
	return w, nil
}

// Dataset returns a snapshot of the shared dataset.
func (w *Workbench) Dataset() *dataset.Dataset {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.ds.Clone()
}

// Report is the final account of a run once every task finished.
type Report struct {
	RunID   ledger.RunID `json:"run_id"`
	Kind    Kind         `json:"kind"`
	Text    string       `json:"text"`
	Groups  int          `json:"groups"`
	Tables  int          `json:"tables"`
	Columns []string     `json:"columns,omitempty"`
	Failed  []string     `json:"failed,omitempty"`
	// Errors holds task failures and background persistence failures.
	Errors error `json:"-"`
}

// Outcome is returned once the coordinating flow finished. Secondary tasks
// may still be running; Wait joins them.
type Outcome struct {
	RunID   ledger.RunID
	Text    string
	Columns []dataset.ColumnDescriptor

	done   chan struct{}
	mu     sync.Mutex
	report Report
}

// Done is closed when every task of the run has finished and persisted.
func (o *Outcome) Done() <-chan struct{} { return o.done }

// Wait blocks until every task finished and returns the report.
func (o *Outcome) Wait() *Report {
	<-o.done
	o.mu.Lock()
	defer o.mu.Unlock()
	r := o.report
	return &r
}

// Messages renders every recorded failure for display.
func (r *Report) Messages() []string {
	var out []string
	for _, err := range multierr.Errors(r.Errors) {
		out = append(out, taskMessage(err))
	}
	return out
}

func (o *Outcome) setColumns(cols []dataset.ColumnDescriptor) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.Columns = cols
	for _, c := range cols {
		o.report.Columns = append(o.report.Columns, c.Name)
	}
}

func (o *Outcome) addTables(n int) {
	o.mu.Lock()
	o.report.Tables += n
	o.mu.Unlock()
}

func (o *Outcome) addError(tag string, err error) {
	o.mu.Lock()
	if tag != "" {
		o.report.Failed = append(o.report.Failed, tag)
	}
	o.report.Errors = multierr.Append(o.report.Errors, err)
	o.mu.Unlock()
}

type boundTask struct {
	key   string
	group int
	plan  taskPlan
}

// Run executes one analysis: selection checks, extraction and validation are
// synchronous and create nothing on failure. Then every task is dispatched,
// the primary task is awaited to seed the run record, and the remaining
// tasks persist their own tables in the background. Derived series are
// written back from this goroutine once their tasks completed. When writing a
// column fails the outcome is returned together with the error.
func (w *Workbench) Run(ctx context.Context, kind Kind, sel Selection, opt Options) (*Outcome, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	p, err := planFor(kind, w.storedNames(sel), opt)
	if err != nil {
		return nil, err
	}

	win, err := series.ExtractFormat(w.ds, p.extract, w.number)
	if err != nil {
		return nil, err
	}
	if err := series.Validate(win, p.rules...); err != nil {
		return nil, err
	}

	var bound []boundTask
	var tasks []dispatch.Task[*engine.Output]
	for gi, g := range p.groups {
		for _, tp := range g.tasks {
			key := fmt.Sprintf("%d/%s", gi, tp.tag)
			req, err := w.request(win, tp)
			if err != nil {
				return nil, err
			}
			bound = append(bound, boundTask{key: key, group: gi, plan: tp})
			eng := w.engine
			tasks = append(tasks, dispatch.Task[*engine.Output]{
				Tag: key,
				Run: func(ctx context.Context) (*engine.Output, error) { return eng.Compute(ctx, req) },
			})
		}
	}
	if len(tasks) == 0 {
		return nil, &SelectionError{Field: "analysis", Message: "nothing to compute"}
	}

	// tasks run to completion even if the caller goes away
	bg := context.WithoutCancel(ctx)
	batch := dispatch.Dispatch(bg, w.dispatcher, tasks)
	futures := batch.Futures()

	primary, err := await(ctx, futures[0])
	if err != nil {
		return nil, err
	}
	text := p.description
	if primary.Err == nil && primary.Value != nil && primary.Value.Summary != "" {
		text = p.description + ": " + primary.Value.Summary
	}

	runID, err := w.ledger.BeginRun(ctx, text)
	if err != nil {
		return nil, err
	}
	out := &Outcome{RunID: runID, Text: text, done: make(chan struct{}), report: Report{RunID: runID, Kind: kind, Text: text}}
	w.emit(Event{Type: EventRunStarted, Kind: kind, RunID: string(runID), Message: text})

	groupIDs := make([]ledger.GroupID, len(p.groups))
	for gi, g := range p.groups {
		id, err := w.ledger.BeginGroup(ctx, runID, g.title, g.note)
		if err != nil {
			return nil, err
		}
		groupIDs[gi] = id
	}
	out.report.Groups = len(groupIDs)

	if err := w.persist(ctx, kind, out, groupIDs[bound[0].group], bound[0], primary); err != nil {
		return nil, err
	}

	var wg conc.WaitGroup
	for i := 1; i < len(bound); i++ {
		bt, f, gid := bound[i], futures[i], groupIDs[bound[i].group]
		wg.Go(func() {
			if err := w.persist(bg, kind, out, gid, bt, f.Wait()); err != nil {
				w.log.Error("background persistence failed", zap.String("task", bt.key), zap.Error(err))
				out.addError("", err)
			}
		})
	}

	if opt.Save {
		cols, err := w.writeBack(ctx, win, bound, futures)
		out.setColumns(cols)
		if err != nil {
			go func() {
				wg.Wait()
				w.emit(Event{Type: EventRunCompleted, Kind: kind, RunID: string(runID), Message: "write back failed: " + UserMessage(err)})
				close(out.done)
			}()
			return out, err
		}
		if len(cols) > 0 {
			w.emit(Event{Type: EventColumnsWritten, Kind: kind, RunID: string(runID), Message: fmt.Sprintf("%d column(s)", len(cols))})
		}
	}

	go func() {
		wg.Wait()
		w.emit(Event{Type: EventRunCompleted, Kind: kind, RunID: string(runID)})
		close(out.done)
	}()
	return out, nil
}

func await(ctx context.Context, f *dispatch.Future[*engine.Output]) (dispatch.Result[*engine.Output], error) {
	select {
	case <-f.Done():
		return f.Wait(), nil
	case <-ctx.Done():
		return dispatch.Result[*engine.Output]{}, ctx.Err()
	}
}

// storedNames rewrites the selected column names to the dataset's spelling.
// Unknown names are kept so extraction reports them.
func (w *Workbench) storedNames(sel Selection) Selection {
	resolve := func(name string) string {
		if c, ok := w.ds.Column(name); ok {
			return c.Name
		}
		return name
	}
	out := Selection{Label: sel.Label}
	if sel.Label != "" {
		out.Label = resolve(sel.Label)
	}
	for _, d := range sel.Dependent {
		out.Dependent = append(out.Dependent, resolve(d))
	}
	for _, x := range sel.Independent {
		out.Independent = append(out.Independent, resolve(x))
	}
	return out
}

// request builds the engine request for one task from private copies of the window.
func (w *Workbench) request(win *series.Window, tp taskPlan) (engine.Request, error) {
	ys, ok := win.Numbers(tp.dependent)
	if !ok {
		return engine.Request{}, &series.InvalidInputError{Column: tp.dependent, Row: -1, Reason: "not part of the analysis window"}
	}
	req := engine.Request{Method: tp.method, Name: tp.dependent, Series: ys, Params: map[string]float64{}}
	for k, v := range tp.params {
		req.Params[k] = v
	}
	if l := win.Label(); l != "" {
		req.Label = l
		req.Labels, _ = win.Labels(l)
	}
	for _, c := range tp.covariates {
		xs, ok := win.Numbers(c)
		if !ok {
			return engine.Request{}, &series.InvalidInputError{Column: c, Row: -1, Reason: "not part of the analysis window"}
		}
		req.Covariates = append(req.Covariates, engine.NamedSeries{Name: c, Values: xs})
	}
	return req, nil
}

// persist records the tables of one finished task, or its failure.
func (w *Workbench) persist(ctx context.Context, kind Kind, out *Outcome, gid ledger.GroupID, bt boundTask, res dispatch.Result[*engine.Output]) error {
	if res.Err != nil {
		w.log.Warn("analysis task failed", zap.String("task", bt.key), zap.Duration("elapsed", res.Elapsed), zap.Error(res.Err))
		out.addError(bt.key, res.Err)
		w.emit(Event{Type: EventTaskFailed, Kind: kind, RunID: string(out.RunID), Tag: bt.plan.tag, Message: taskMessage(res.Err)})
		return nil
	}
	if res.Value == nil {
		return nil
	}
	for i, t := range res.Value.Tables {
		title := t.Title
		if title == "" {
			title = bt.plan.title
		}
		tag := fmt.Sprintf("%s.%02d", bt.plan.tag, i+1)
		if _, err := w.ledger.RecordTable(ctx, gid, title, t, tag); err != nil {
			return err
		}
		out.addTables(1)
		w.emit(Event{Type: EventTableRecorded, Kind: kind, RunID: string(out.RunID), Tag: tag, Message: title})
	}
	return nil
}

// writeBack appends derived series in plan order. Only the coordinating
// goroutine mutates the dataset, after the producing task completed.
func (w *Workbench) writeBack(ctx context.Context, win *series.Window, bound []boundTask, futures []*dispatch.Future[*engine.Output]) ([]dataset.ColumnDescriptor, error) {
	var cols []dataset.ColumnDescriptor
	for i, bt := range bound {
		if len(bt.plan.writeBack) == 0 {
			continue
		}
		res, err := await(ctx, futures[i])
		if err != nil {
			return cols, err
		}
		if res.Err != nil || res.Value == nil {
			continue
		}
		for _, wb := range bt.plan.writeBack {
			ns, ok := res.Value.Find(wb.series)
			if !ok || len(ns.Values) == 0 {
				continue
			}
			values := make([]string, ns.End())
			for j, v := range ns.Values {
				values[ns.Offset+j] = dataset.FormatNumber(v, -1)
			}
			base := bt.plan.dependent + "_" + wb.suffix
			desc := dataset.ColumnDescriptor{
				Name:     dataset.UniqueName(w.ds, base),
				Type:     dataset.KindNumeric,
				Label:    fmt.Sprintf("%s (%s)", bt.plan.title, wb.series),
				Measure:  dataset.MeasureScale,
				Width:    8,
				Decimals: 3,
			}
			c, err := w.writer.AppendColumns(ctx, w.ds, []dataset.Derived{{Descriptor: desc, Values: values, Extend: wb.extend}})
			cols = append(cols, c...)
			if err != nil {
				w.log.Error("write back failed", zap.String("column", desc.Name), zap.Error(err))
				return cols, err
			}
			w.log.Debug("column appended", zap.String("column", desc.Name), zap.Int("index", c[0].ColumnIndex), zap.Int("rows", win.Len()))
		}
	}
	return cols, nil
}

func (w *Workbench) emit(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}
	w.notify.Notify(e)
}
