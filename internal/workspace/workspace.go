package workspace

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/KaramelBytes/statloom-cli/internal/dataset"
	"github.com/KaramelBytes/statloom-cli/internal/ledger"
	"github.com/KaramelBytes/statloom-cli/internal/utils"
)

const (
	metaFileName    = "workspace.json"
	datasetFileName = "dataset.json"
	resultsJSONName = "results.json"
	resultsDBName   = "results.db"
)

// Result store backends.
const (
	ResultStoreFile   = "file"
	ResultStoreSQLite = "sqlite"
)

// Workspace is a directory holding one shared dataset and one result log.
type Workspace struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	ResultStore string    `json:"result_store"`
	Source      string    `json:"source,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	// Not serialized: on-disk location of the workspace.json
	rootDir string `json:"-"`
}

// New constructs an in-memory workspace. Call Save() to persist.
func New(name, description, rootDir, resultStore string) (*Workspace, error) {
	rs, err := ParseResultStore(resultStore)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	return &Workspace{
		ID:          uuid.NewString(),
		Name:        name,
		Description: description,
		ResultStore: rs,
		CreatedAt:   now,
		UpdatedAt:   now,
		rootDir:     rootDir,
	}, nil
}

// ParseResultStore maps a config value to a result store backend.
func ParseResultStore(s string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "file", "json":
		return ResultStoreFile, nil
	case "sqlite", "db":
		return ResultStoreSQLite, nil
	}
	return "", fmt.Errorf("invalid result store: %s (use file or sqlite)", s)
}

// Load reads workspace.json from dir.
func Load(dir string) (*Workspace, error) {
	path := filepath.Join(dir, metaFileName)
	var w Workspace
	if err := utils.ReadJSON(path, &w); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("workspace not found at %s: %w", path, err)
		}
		return nil, fmt.Errorf("read workspace: %w", err)
	}
	if w.ResultStore == "" {
		w.ResultStore = ResultStoreFile
	}
	w.rootDir = dir
	return &w, nil
}

// RootDir returns the on-disk workspace directory path.
func (w *Workspace) RootDir() string { return w.rootDir }

// Save writes workspace.json using atomic write.
func (w *Workspace) Save() error {
	if w.rootDir == "" {
		return errors.New("workspace root directory not set")
	}
	if err := utils.EnsureDir(w.rootDir); err != nil {
		return fmt.Errorf("ensure dir: %w", err)
	}
	w.UpdatedAt = time.Now()
	return utils.WriteJSON(filepath.Join(w.rootDir, metaFileName), w)
}

// DatasetStore returns the tabular store backing the shared dataset.
func (w *Workspace) DatasetStore() *dataset.FileStore {
	return dataset.NewFileStore(filepath.Join(w.rootDir, datasetFileName))
}

// Import reads a CSV/TSV or XLSX file and replaces the workspace dataset with it.
// sheet selects an XLSX sheet by name; empty means the first sheet.
func (w *Workspace) Import(ctx context.Context, path string, opt dataset.ImportOptions, sheet string) (*dataset.Dataset, error) {
	var (
		ds  *dataset.Dataset
		err error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		ds, err = dataset.ImportXLSX(path, opt, sheet, 0)
	case ".csv", ".tsv", ".txt":
		ds, err = dataset.ImportCSV(path, opt)
	default:
		return nil, fmt.Errorf("unsupported dataset file: %s (use .csv, .tsv or .xlsx)", filepath.Base(path))
	}
	if err != nil {
		return nil, err
	}
	if err := w.DatasetStore().Replace(ctx, ds); err != nil {
		return nil, err
	}
	w.Source = path
	if err := w.Save(); err != nil {
		return nil, err
	}
	return ds, nil
}

// Results is an opened result store.
type Results interface {
	ledger.ReadWriter
	Close() error
}

type fileResults struct{ *ledger.FileStore }

func (fileResults) Close() error { return nil }

// OpenResults opens the workspace's result log with its configured backend.
func (w *Workspace) OpenResults() (Results, error) {
	switch w.ResultStore {
	case ResultStoreSQLite:
		s, err := ledger.OpenSQLite(filepath.Join(w.rootDir, resultsDBName))
		if err != nil {
			return nil, err
		}
		return s, nil
	case ResultStoreFile, "":
		return fileResults{ledger.NewFileStore(filepath.Join(w.rootDir, resultsJSONName))}, nil
	}
	return nil, fmt.Errorf("invalid result store: %s", w.ResultStore)
}
