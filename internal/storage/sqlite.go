package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	logx "respbot/pkg/logx"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS state (
    id         INTEGER PRIMARY KEY CHECK (id = 1),
    doc        TEXT NOT NULL,
    updated_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS audit (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    at         TEXT NOT NULL,
    action     TEXT NOT NULL,
    slot       TEXT NOT NULL,
    actor_id   INTEGER,
    actor_name TEXT,
    detail     TEXT
);
CREATE INDEX IF NOT EXISTS audit_at ON audit(at);
`

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &sqliteStore{db: db, log: log}, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) SaveState(ctx context.Context, st State) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	doc, err := json.Marshal(st)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO state(id, doc, updated_at) VALUES(1, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET doc=excluded.doc, updated_at=excluded.updated_at`,
		string(doc), time.Now().UTC().Format(time.RFC3339Nano),
	)
	return err
}

func (s *sqliteStore) LoadState(ctx context.Context) (State, bool, error) {
	if s == nil || s.db == nil {
		return State{}, false, ErrClosed
	}
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM state WHERE id = 1`).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return State{}, false, nil
	}
	if err != nil {
		return State{}, false, err
	}
	var st State
	if err := json.Unmarshal([]byte(doc), &st); err != nil {
		return State{}, false, fmt.Errorf("state row is corrupt: %w", err)
	}
	if st.Version != StateVersion {
		return State{}, false, fmt.Errorf("state row has unsupported version %d", st.Version)
	}
	return st, true, nil
}

func (s *sqliteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(at, action, slot, actor_id, actor_name, detail)
		 VALUES(?,?,?,?,?,?)`,
		e.At.UTC().Format(time.RFC3339Nano), e.Action, e.Slot,
		e.ActorID, nullStr(e.ActorName), nullStr(e.Detail),
	)
	return err
}

func (s *sqliteStore) PruneAudit(ctx context.Context, olderThan time.Time) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM audit WHERE at < ?`,
		olderThan.UTC().Format(time.RFC3339Nano))
	return err
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
