package ledger

import (
	"context"
	"errors"
	"io/fs"
	"sync"

	"github.com/KaramelBytes/statloom-cli/internal/utils"
)

// FileStore persists the result log as one JSON document. Each append
// rewrites the file atomically, so a crash leaves the previous log intact.
type FileStore struct {
	mu   sync.Mutex
	path string
}

var _ ReadWriter = (*FileStore)(nil)

func NewFileStore(path string) *FileStore { return &FileStore{path: path} }

func (s *FileStore) load() (*document, error) {
	var d document
	if err := utils.ReadJSON(s.path, &d); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &document{}, nil
		}
		return nil, err
	}
	return &d, nil
}

// update loads the log, applies fn and writes it back when fn succeeds.
func (s *FileStore) update(ctx context.Context, fn func(d *document) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.load()
	if err != nil {
		return err
	}
	if err := fn(d); err != nil {
		return err
	}
	return utils.WriteJSON(s.path, d)
}

func (s *FileStore) read(fn func(d *document)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.load()
	if err != nil {
		return err
	}
	fn(d)
	return nil
}

func (s *FileStore) CreateRun(ctx context.Context, text string) (RunID, error) {
	var id RunID
	err := s.update(ctx, func(d *document) error {
		id = d.addRun(text).ID
		return nil
	})
	return id, err
}

func (s *FileStore) CreateGroup(ctx context.Context, runID RunID, title, note string) (GroupID, error) {
	var id GroupID
	err := s.update(ctx, func(d *document) error {
		g, err := d.addGroup(runID, title, note)
		id = g.ID
		return err
	})
	return id, err
}

func (s *FileStore) CreateTable(ctx context.Context, groupID GroupID, title string, payload []byte, tag string) (TableID, error) {
	var id TableID
	err := s.update(ctx, func(d *document) error {
		t, err := d.addTable(groupID, title, payload, tag)
		id = t.ID
		return err
	})
	return id, err
}

func (s *FileStore) Runs(context.Context) ([]RunRecord, error) {
	var out []RunRecord
	err := s.read(func(d *document) { out = d.Runs })
	return out, err
}

func (s *FileStore) Groups(_ context.Context, runID RunID) ([]ResultGroup, error) {
	var out []ResultGroup
	err := s.read(func(d *document) { out = d.groups(runID) })
	return out, err
}

func (s *FileStore) Tables(_ context.Context, groupID GroupID) ([]OutputTable, error) {
	var out []OutputTable
	err := s.read(func(d *document) { out = d.tables(groupID) })
	return out, err
}
