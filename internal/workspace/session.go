package workspace

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/KaramelBytes/statloom-cli/internal/config"
	"github.com/KaramelBytes/statloom-cli/internal/dataset"
	"github.com/KaramelBytes/statloom-cli/internal/dispatch"
	"github.com/KaramelBytes/statloom-cli/internal/engine"
	"github.com/KaramelBytes/statloom-cli/internal/ledger"
	"github.com/KaramelBytes/statloom-cli/internal/pipeline"
)

// Session is a workspace opened for running analyses.
type Session struct {
	Workspace *Workspace
	Workbench *pipeline.Workbench
	Results   Results
	// Registry holds the dispatcher metrics of this session.
	Registry *prometheus.Registry
}

// Close releases the result store.
func (s *Session) Close() error {
	if s == nil || s.Results == nil {
		return nil
	}
	return s.Results.Close()
}

// EngineConfig maps global configuration onto engine knobs.
func EngineConfig(c *config.Global) engine.Config {
	base, max := c.RetryDelays()
	return engine.Config{
		HTTPTimeout: c.HTTPTimeout(),
		RetryMax:    c.RetryMaxAttempts,
		BaseDelay:   base,
		MaxDelay:    max,
		BaseURL:     c.RemoteEngineURL,
		APIKey:      c.RemoteAPIKey,
	}
}

// Open loads the dataset and result log and wires a Workbench around them.
// notify may be nil.
func (w *Workspace) Open(ctx context.Context, c *config.Global, log *zap.Logger, notify pipeline.Notifier) (*Session, error) {
	if c == nil {
		return nil, fmt.Errorf("no configuration loaded")
	}
	if log == nil {
		log = zap.NewNop()
	}
	name := c.DefaultEngine
	if name == "" {
		name = engine.NameLocal
	}
	eng, ok := engine.GetEngine(name, EngineConfig(c))
	if !ok {
		return nil, fmt.Errorf("unknown engine: %s (available: %v)", name, engine.Names())
	}
	packing, err := dataset.ParsePacking(c.ColumnPacking)
	if err != nil {
		return nil, err
	}
	overflow, err := dataset.ParseOverflow(c.SeriesOverflow)
	if err != nil {
		return nil, err
	}

	store := w.DatasetStore()
	ds, err := store.Load(ctx)
	if err != nil {
		return nil, err
	}
	if err := ds.CheckInvariants(); err != nil {
		return nil, fmt.Errorf("dataset %s: %w", store.Path(), err)
	}
	results, err := w.OpenResults()
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	d := dispatch.New(
		dispatch.WithMaxWorkers(c.MaxWorkers),
		dispatch.WithTaskTimeout(c.TaskTimeout()),
		dispatch.WithLogger(log),
		dispatch.WithMetrics(dispatch.NewMetrics(reg)),
	)
	wb, err := pipeline.New(pipeline.Config{
		Dataset:    ds,
		Writer:     dataset.NewWriter(store, dataset.WithPacking(packing), dataset.WithOverflow(overflow)),
		Ledger:     ledger.New(results, log),
		Engine:     eng,
		Dispatcher: d,
		Logger:     log.With(zap.String("workspace", w.Name)),
		Notifier:   notify,
	})
	if err != nil {
		_ = results.Close()
		return nil, err
	}
	log.Debug("workspace opened",
		zap.String("dir", w.rootDir),
		zap.String("engine", name),
		zap.String("result_store", w.ResultStore),
		zap.Int("rows", ds.RowCount()))
	return &Session{Workspace: w, Workbench: wb, Results: results, Registry: reg}, nil
}
