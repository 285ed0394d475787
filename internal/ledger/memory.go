package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// document is the whole result log; MemoryStore and FileStore share it.
type document struct {
	Runs   []RunRecord   `json:"runs"`
	Groups []ResultGroup `json:"groups"`
	Tables []OutputTable `json:"tables"`
	Seq    int64         `json:"seq"`
}

func (d *document) next() int64 {
	d.Seq++
	return d.Seq
}

func (d *document) addRun(text string) RunRecord {
	r := RunRecord{ID: RunID(uuid.NewString()), Text: text, CreatedAt: time.Now().UTC(), Seq: d.next()}
	d.Runs = append(d.Runs, r)
	return r
}

func (d *document) addGroup(runID RunID, title, note string) (ResultGroup, error) {
	found := false
	for _, r := range d.Runs {
		if r.ID == runID {
			found = true
			break
		}
	}
	if !found {
		return ResultGroup{}, fmt.Errorf("%w: %s", ErrUnknownRun, runID)
	}
	g := ResultGroup{ID: GroupID(uuid.NewString()), RunID: runID, Title: title, Note: note, CreatedAt: time.Now().UTC(), Seq: d.next()}
	d.Groups = append(d.Groups, g)
	return g, nil
}

func (d *document) addTable(groupID GroupID, title string, payload []byte, tag string) (OutputTable, error) {
	found := false
	for _, g := range d.Groups {
		if g.ID == groupID {
			found = true
			break
		}
	}
	if !found {
		return OutputTable{}, fmt.Errorf("%w: %s", ErrUnknownGroup, groupID)
	}
	t := OutputTable{
		ID: TableID(uuid.NewString()), GroupID: groupID, Title: title,
		Payload: append([]byte(nil), payload...), ComponentTag: tag,
		CreatedAt: time.Now().UTC(), Seq: d.next(),
	}
	d.Tables = append(d.Tables, t)
	return t, nil
}

func (d *document) groups(runID RunID) []ResultGroup {
	var out []ResultGroup
	for _, g := range d.Groups {
		if g.RunID == runID {
			out = append(out, g)
		}
	}
	return out
}

func (d *document) tables(groupID GroupID) []OutputTable {
	var out []OutputTable
	for _, t := range d.Tables {
		if t.GroupID == groupID {
			out = append(out, t)
		}
	}
	return out
}

// MemoryStore keeps the result log in memory.
type MemoryStore struct {
	mu  sync.Mutex
	doc document
}

var _ ReadWriter = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

func (s *MemoryStore) CreateRun(ctx context.Context, text string) (RunID, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.addRun(text).ID, nil
}

func (s *MemoryStore) CreateGroup(ctx context.Context, runID RunID, title, note string) (GroupID, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	g, err := s.doc.addGroup(runID, title, note)
	return g.ID, err
}

func (s *MemoryStore) CreateTable(ctx context.Context, groupID GroupID, title string, payload []byte, tag string) (TableID, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.doc.addTable(groupID, title, payload, tag)
	return t.ID, err
}

func (s *MemoryStore) Runs(context.Context) ([]RunRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]RunRecord(nil), s.doc.Runs...), nil
}

func (s *MemoryStore) Groups(_ context.Context, runID RunID) ([]ResultGroup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.groups(runID), nil
}

func (s *MemoryStore) Tables(_ context.Context, groupID GroupID) ([]OutputTable, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.tables(groupID), nil
}
