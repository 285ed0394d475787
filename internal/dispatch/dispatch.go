package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/sourcegraph/conc/panics"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"
)

// Task is one independent computation. Run receives a context that carries the
// per-task deadline, if one is configured.
type Task[T any] struct {
	Tag string
	Run func(ctx context.Context) (T, error)
}

// Result is what a task produced. Err is a *TaskError when the task failed.
type Result[T any] struct {
	Tag     string
	Value   T
	Err     error
	Elapsed time.Duration
}

// Future is the completion handle of a single task.
type Future[T any] struct {
	tag  string
	done chan struct{}
	res  Result[T]
}

func (f *Future[T]) Tag() string { return f.tag }

// Done is closed once the task finished.
func (f *Future[T]) Done() <-chan struct{} { return f.done }

// Wait blocks until the task finished and returns its result.
func (f *Future[T]) Wait() Result[T] {
	<-f.done
	return f.res
}

// Result returns the result without blocking; ok is false while the task runs.
func (f *Future[T]) Result() (Result[T], bool) {
	select {
	case <-f.done:
		return f.res, true
	default:
		return Result[T]{}, false
	}
}

// Batch is the set of tasks started by one Dispatch call.
type Batch[T any] struct {
	futures []*Future[T]
	results chan Result[T]
}

// Results streams results in completion order. The channel is closed after the last task.
func (b *Batch[T]) Results() <-chan Result[T] { return b.results }

// Future returns the handle of the first task with the given tag.
func (b *Batch[T]) Future(tag string) (*Future[T], bool) {
	for _, f := range b.futures {
		if f.tag == tag {
			return f, true
		}
	}
	return nil, false
}

// Futures returns every handle in task order.
func (b *Batch[T]) Futures() []*Future[T] { return append([]*Future[T](nil), b.futures...) }

// Wait blocks until every task finished and returns the results in task order.
func (b *Batch[T]) Wait() []Result[T] {
	out := make([]Result[T], len(b.futures))
	for i, f := range b.futures {
		out[i] = f.Wait()
	}
	return out
}

// Dispatcher runs batches of independent tasks.
type Dispatcher struct {
	maxWorkers int
	timeout    time.Duration
	log        *zap.Logger
	metrics    *Metrics
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithMaxWorkers bounds the number of tasks running at once; n <= 0 runs every task on its own goroutine.
func WithMaxWorkers(n int) Option { return func(d *Dispatcher) { d.maxWorkers = n } }

// WithTaskTimeout gives every task a deadline; 0 disables it.
func WithTaskTimeout(t time.Duration) Option { return func(d *Dispatcher) { d.timeout = t } }

func WithLogger(l *zap.Logger) Option { return func(d *Dispatcher) { d.log = l } }

func WithMetrics(m *Metrics) Option { return func(d *Dispatcher) { d.metrics = m } }

// New returns a Dispatcher. Without options every task gets its own goroutine and no deadline.
func New(opts ...Option) *Dispatcher {
	d := &Dispatcher{log: zap.NewNop()}
	for _, o := range opts {
		o(d)
	}
	if d.log == nil {
		d.log = zap.NewNop()
	}
	return d
}

// Dispatch starts every task and returns immediately. Failures, panics and
// timeouts are isolated to the task that produced them.
func Dispatch[T any](ctx context.Context, d *Dispatcher, tasks []Task[T]) *Batch[T] {
	if d == nil {
		d = New()
	}
	b := &Batch[T]{
		futures: make([]*Future[T], len(tasks)),
		results: make(chan Result[T], len(tasks)),
	}
	for i, t := range tasks {
		b.futures[i] = &Future[T]{tag: t.Tag, done: make(chan struct{})}
	}
	go func() {
		p := pool.New()
		if d.maxWorkers > 0 {
			p = p.WithMaxGoroutines(d.maxWorkers)
		}
		for i := range tasks {
			t, f := tasks[i], b.futures[i]
			p.Go(func() {
				res := runTask(ctx, d, t)
				f.res = res
				close(f.done)
				b.results <- res
			})
		}
		p.Wait()
		close(b.results)
	}()
	return b
}

func runTask[T any](ctx context.Context, d *Dispatcher, t Task[T]) Result[T] {
	start := time.Now()
	res := Result[T]{Tag: t.Tag}
	outcome := "ok"

	switch {
	case t.Run == nil:
		res.Err = &TaskError{Tag: t.Tag, Err: errors.New("task has no function")}
	case ctx.Err() != nil:
		res.Err = &TaskError{Tag: t.Tag, Err: ctx.Err()}
	default:
		res.Value, res.Err = call(ctx, d.timeout, t)
	}
	res.Elapsed = time.Since(start)

	var te *TaskError
	if errors.As(res.Err, &te) {
		switch {
		case te.Panicked:
			outcome = "panicked"
		case te.TimedOut:
			outcome = "timeout"
		default:
			outcome = "failed"
		}
		d.log.Warn("task failed", zap.String("tag", t.Tag), zap.Duration("elapsed", res.Elapsed), zap.Error(te.Err))
	} else {
		d.log.Debug("task done", zap.String("tag", t.Tag), zap.Duration("elapsed", res.Elapsed))
	}
	d.metrics.observe(outcome, res.Elapsed.Seconds())
	return res
}

func call[T any](ctx context.Context, timeout time.Duration, t Task[T]) (T, error) {
	run := func(c context.Context) (val T, err error) {
		var pc panics.Catcher
		pc.Try(func() { val, err = t.Run(c) })
		if r := pc.Recovered(); r != nil {
			return val, &TaskError{Tag: t.Tag, Err: r.AsError(), Panicked: true}
		}
		if err != nil {
			return val, &TaskError{Tag: t.Tag, Err: err}
		}
		return val, nil
	}
	if timeout <= 0 {
		return run(ctx)
	}

	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	type out struct {
		val T
		err error
	}
	ch := make(chan out, 1)
	go func() {
		v, err := run(tctx)
		ch <- out{v, err}
	}()
	select {
	case o := <-ch:
		var te *TaskError
		if errors.As(o.err, &te) && errors.Is(o.err, context.DeadlineExceeded) {
			te.TimedOut = true
		}
		return o.val, o.err
	case <-tctx.Done():
		// the task goroutine is abandoned; its late result is dropped
		var zero T
		err := tctx.Err()
		return zero, &TaskError{Tag: t.Tag, Err: err, TimedOut: errors.Is(err, context.DeadlineExceeded)}
	}
}
