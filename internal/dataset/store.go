package dataset

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sync"

	"github.com/KaramelBytes/statloom-cli/internal/utils"
)

// CellUpdate is one {column, row, value} triple pushed to a Store.
type CellUpdate struct {
	Column int    `json:"column"`
	Row    int    `json:"row"`
	Value  string `json:"value"`
}

// Store is the persistent tabular store behind the shared dataset.
type Store interface {
	Load(ctx context.Context) (*Dataset, error)
	Replace(ctx context.Context, ds *Dataset) error
	// Upsert registers or updates the given descriptors and applies the cell triples.
	Upsert(ctx context.Context, cols []ColumnDescriptor, cells []CellUpdate) error
}

// StoreError reports a rejected write or read against the tabular store.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("dataset store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func applyUpsert(ds *Dataset, cols []ColumnDescriptor, cells []CellUpdate) {
	for _, c := range cols {
		for len(ds.Columns) <= c.ColumnIndex {
			ds.Columns = append(ds.Columns, ColumnDescriptor{ColumnIndex: len(ds.Columns), Deleted: true})
		}
		ds.Columns[c.ColumnIndex] = c
	}
	for _, u := range cells {
		ds.SetCell(u.Row, u.Column, u.Value)
	}
}

// MemoryStore keeps the dataset in memory. Useful for tests and the HTTP
// surface when no workspace directory is attached.
type MemoryStore struct {
	mu sync.Mutex
	ds *Dataset
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns a store seeded with a copy of ds (may be nil).
func NewMemoryStore(ds *Dataset) *MemoryStore {
	s := &MemoryStore{ds: New("")}
	if ds != nil {
		s.ds = ds.Clone()
	}
	return s
}

func (s *MemoryStore) Load(_ context.Context) (*Dataset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ds.Clone(), nil
}

func (s *MemoryStore) Replace(_ context.Context, ds *Dataset) error {
	if ds == nil {
		return &StoreError{Op: "replace", Err: errors.New("nil dataset")}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ds = ds.Clone()
	return nil
}

func (s *MemoryStore) Upsert(_ context.Context, cols []ColumnDescriptor, cells []CellUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	applyUpsert(s.ds, cols, cells)
	return nil
}

// FileStore persists the dataset as a single JSON document, rewritten
// atomically on every change.
type FileStore struct {
	mu   sync.Mutex
	path string
}

var _ Store = (*FileStore)(nil)

// NewFileStore returns a store backed by the JSON file at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the backing file path.
func (s *FileStore) Path() string { return s.path }

func (s *FileStore) load() (*Dataset, error) {
	var ds Dataset
	if err := utils.ReadJSON(s.path, &ds); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return New(""), nil
		}
		return nil, err
	}
	return &ds, nil
}

func (s *FileStore) Load(ctx context.Context) (*Dataset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ds, err := s.load()
	if err != nil {
		return nil, &StoreError{Op: "load", Err: err}
	}
	return ds, nil
}

func (s *FileStore) Replace(ctx context.Context, ds *Dataset) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if ds == nil {
		return &StoreError{Op: "replace", Err: errors.New("nil dataset")}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := utils.WriteJSON(s.path, ds); err != nil {
		return &StoreError{Op: "replace", Err: err}
	}
	return nil
}

func (s *FileStore) Upsert(ctx context.Context, cols []ColumnDescriptor, cells []CellUpdate) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ds, err := s.load()
	if err != nil {
		return &StoreError{Op: "upsert", Err: err}
	}
	applyUpsert(ds, cols, cells)
	if err := utils.WriteJSON(s.path, ds); err != nil {
		return &StoreError{Op: "upsert", Err: err}
	}
	return nil
}
