package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

type (
	RunID   string
	GroupID string
	TableID string
)

// RunRecord is the one-line description of an analysis invocation.
type RunRecord struct {
	ID        RunID     `json:"id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
	Seq       int64     `json:"seq"`
}

// ResultGroup is one logical analysis inside a run.
type ResultGroup struct {
	ID        GroupID   `json:"id"`
	RunID     RunID     `json:"run_id"`
	Title     string    `json:"title"`
	Note      string    `json:"note,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	Seq       int64     `json:"seq"`
}

// OutputTable is one serialized result table. Tables of a group may be created
// in any order; ComponentTag gives them a stable display order.
type OutputTable struct {
	ID           TableID         `json:"id"`
	GroupID      GroupID         `json:"group_id"`
	Title        string          `json:"title"`
	Payload      json.RawMessage `json:"payload"`
	ComponentTag string          `json:"component_tag"`
	CreatedAt    time.Time       `json:"created_at"`
	Seq          int64           `json:"seq"`
}

var (
	ErrUnknownRun   = errors.New("unknown run")
	ErrUnknownGroup = errors.New("unknown group")
)

// Store is the append-only result store. Every call is durable before it returns.
type Store interface {
	CreateRun(ctx context.Context, text string) (RunID, error)
	CreateGroup(ctx context.Context, runID RunID, title, note string) (GroupID, error)
	CreateTable(ctx context.Context, groupID GroupID, title string, payload []byte, tag string) (TableID, error)
}

// Reader lists stored records in insertion order.
type Reader interface {
	Runs(ctx context.Context) ([]RunRecord, error)
	Groups(ctx context.Context, runID RunID) ([]ResultGroup, error)
	Tables(ctx context.Context, groupID GroupID) ([]OutputTable, error)
}

// ReadWriter is a store that can also be read back.
type ReadWriter interface {
	Store
	Reader
}

// PersistenceError reports a write the result store rejected. It is fatal for
// the run that issued it.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("result store %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Ledger records the run → group → table hierarchy. It is safe for
// concurrent use as long as the underlying Store is.
type Ledger struct {
	store Store
	log   *zap.Logger
}

// New returns a Ledger writing to store.
func New(store Store, log *zap.Logger) *Ledger {
	if log == nil {
		log = zap.NewNop()
	}
	return &Ledger{store: store, log: log}
}

// BeginRun appends a run record.
func (l *Ledger) BeginRun(ctx context.Context, description string) (RunID, error) {
	id, err := l.store.CreateRun(ctx, description)
	if err != nil {
		l.log.Error("create run", zap.Error(err))
		return "", &PersistenceError{Op: "create run", Err: err}
	}
	l.log.Debug("run created", zap.String("run", string(id)))
	return id, nil
}

// BeginGroup appends a result group owned by runID.
func (l *Ledger) BeginGroup(ctx context.Context, runID RunID, title, note string) (GroupID, error) {
	id, err := l.store.CreateGroup(ctx, runID, title, note)
	if err != nil {
		l.log.Error("create group", zap.String("run", string(runID)), zap.Error(err))
		return "", &PersistenceError{Op: "create group", Err: err}
	}
	return id, nil
}

// RecordTable appends an output table owned by groupID. payload is stored as
// is when it already is JSON bytes, otherwise it is marshaled.
func (l *Ledger) RecordTable(ctx context.Context, groupID GroupID, title string, payload any, tag string) (TableID, error) {
	var raw []byte
	switch p := payload.(type) {
	case json.RawMessage:
		raw = p
	case []byte:
		raw = p
	default:
		b, err := json.Marshal(payload)
		if err != nil {
			return "", &PersistenceError{Op: "encode table", Err: err}
		}
		raw = b
	}
	if !json.Valid(raw) {
		return "", &PersistenceError{Op: "encode table", Err: errors.New("payload is not valid JSON")}
	}
	id, err := l.store.CreateTable(ctx, groupID, title, raw, tag)
	if err != nil {
		l.log.Error("create table", zap.String("group", string(groupID)), zap.String("tag", tag), zap.Error(err))
		return "", &PersistenceError{Op: "create table", Err: err}
	}
	return id, nil
}
