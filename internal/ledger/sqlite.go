package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

const schema = `
CREATE TABLE IF NOT EXISTS result_runs (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	id         TEXT NOT NULL UNIQUE,
	text       TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS result_groups (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	id         TEXT NOT NULL UNIQUE,
	run_id     TEXT NOT NULL REFERENCES result_runs(id),
	title      TEXT NOT NULL,
	note       TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS output_tables (
	seq           INTEGER PRIMARY KEY AUTOINCREMENT,
	id            TEXT NOT NULL UNIQUE,
	group_id      TEXT NOT NULL REFERENCES result_groups(id),
	title         TEXT NOT NULL,
	payload       TEXT NOT NULL,
	component_tag TEXT NOT NULL,
	created_at    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_groups_run ON result_groups(run_id);
CREATE INDEX IF NOT EXISTS idx_tables_group ON output_tables(group_id);
`

// SQLiteStore keeps the result log in a SQLite database. A single connection
// is shared behind a mutex.
type SQLiteStore struct {
	mu   sync.Mutex
	conn *sqlite.Conn
}

var _ ReadWriter = (*SQLiteStore)(nil)

// OpenSQLite opens (creating if needed) the database at path and applies the schema.
func OpenSQLite(path string) (*SQLiteStore, error) {
	conn, err := sqlite.OpenConn(path, sqlite.OpenCreate, sqlite.OpenReadWrite, sqlite.OpenWAL)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	for _, pragma := range []string{"PRAGMA foreign_keys = ON", "PRAGMA synchronous = NORMAL"} {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	if err := sqlitex.ExecuteScript(conn, schema, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLiteStore{conn: conn}, nil
}

// Close releases the connection.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.Close()
}

func now() string { return time.Now().UTC().Format(time.RFC3339Nano) }

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func (s *SQLiteStore) exists(table, id string) (bool, error) {
	var n int64
	err := sqlitex.Execute(s.conn, "SELECT COUNT(*) FROM "+table+" WHERE id = ?", &sqlitex.ExecOptions{
		Args: []any{id},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			n = stmt.ColumnInt64(0)
			return nil
		},
	})
	return n > 0, err
}

func (s *SQLiteStore) CreateRun(ctx context.Context, text string) (RunID, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.NewString()
	err := sqlitex.Execute(s.conn, "INSERT INTO result_runs (id, text, created_at) VALUES (?, ?, ?)",
		&sqlitex.ExecOptions{Args: []any{id, text, now()}})
	if err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}
	return RunID(id), nil
}

func (s *SQLiteStore) CreateGroup(ctx context.Context, runID RunID, title, note string) (GroupID, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ok, err := s.exists("result_runs", string(runID))
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownRun, runID)
	}
	id := uuid.NewString()
	err = sqlitex.Execute(s.conn, "INSERT INTO result_groups (id, run_id, title, note, created_at) VALUES (?, ?, ?, ?, ?)",
		&sqlitex.ExecOptions{Args: []any{id, string(runID), title, note, now()}})
	if err != nil {
		return "", fmt.Errorf("insert group: %w", err)
	}
	return GroupID(id), nil
}

func (s *SQLiteStore) CreateTable(ctx context.Context, groupID GroupID, title string, payload []byte, tag string) (TableID, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ok, err := s.exists("result_groups", string(groupID))
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownGroup, groupID)
	}
	id := uuid.NewString()
	err = sqlitex.Execute(s.conn,
		"INSERT INTO output_tables (id, group_id, title, payload, component_tag, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		&sqlitex.ExecOptions{Args: []any{id, string(groupID), title, string(payload), tag, now()}})
	if err != nil {
		return "", fmt.Errorf("insert table: %w", err)
	}
	return TableID(id), nil
}

func (s *SQLiteStore) Runs(context.Context) ([]RunRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []RunRecord
	err := sqlitex.Execute(s.conn, "SELECT seq, id, text, created_at FROM result_runs ORDER BY seq", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			out = append(out, RunRecord{
				Seq:       stmt.ColumnInt64(0),
				ID:        RunID(stmt.ColumnText(1)),
				Text:      stmt.ColumnText(2),
				CreatedAt: parseTime(stmt.ColumnText(3)),
			})
			return nil
		},
	})
	return out, err
}

func (s *SQLiteStore) Groups(_ context.Context, runID RunID) ([]ResultGroup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ResultGroup
	err := sqlitex.Execute(s.conn,
		"SELECT seq, id, run_id, title, note, created_at FROM result_groups WHERE run_id = ? ORDER BY seq",
		&sqlitex.ExecOptions{
			Args: []any{string(runID)},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				out = append(out, ResultGroup{
					Seq:       stmt.ColumnInt64(0),
					ID:        GroupID(stmt.ColumnText(1)),
					RunID:     RunID(stmt.ColumnText(2)),
					Title:     stmt.ColumnText(3),
					Note:      stmt.ColumnText(4),
					CreatedAt: parseTime(stmt.ColumnText(5)),
				})
				return nil
			},
		})
	return out, err
}

func (s *SQLiteStore) Tables(_ context.Context, groupID GroupID) ([]OutputTable, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []OutputTable
	err := sqlitex.Execute(s.conn,
		"SELECT seq, id, group_id, title, payload, component_tag, created_at FROM output_tables WHERE group_id = ? ORDER BY seq",
		&sqlitex.ExecOptions{
			Args: []any{string(groupID)},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				out = append(out, OutputTable{
					Seq:          stmt.ColumnInt64(0),
					ID:           TableID(stmt.ColumnText(1)),
					GroupID:      GroupID(stmt.ColumnText(2)),
					Title:        stmt.ColumnText(3),
					Payload:      []byte(stmt.ColumnText(4)),
					ComponentTag: stmt.ColumnText(5),
					CreatedAt:    parseTime(stmt.ColumnText(6)),
				})
				return nil
			},
		})
	return out, err
}
