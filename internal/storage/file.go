package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "respbot/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.state.json  (whole snapshot, replaced atomically)
//   - <prefix>.audit.jsonl (append-only JSON Lines)
//
// Snapshot writes go through a temp file plus rename so a crash mid-write
// leaves the previous snapshot intact.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	statePath string
	auditPath string
	auditFile *os.File
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	auditPath := prefix + ".audit.jsonl"
	af, err := os.OpenFile(auditPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}

	return &fileStore{
		log:       log,
		statePath: prefix + ".state.json",
		auditPath: auditPath,
		auditFile: af,
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return nil
	}
	err := s.auditFile.Close()
	s.auditFile = nil
	return err
}

func (s *fileStore) SaveState(ctx context.Context, st State) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.statePath + ".tmp"
	if err := os.WriteFile(tmp, append(b, '\n'), 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.statePath)
}

func (s *fileStore) LoadState(ctx context.Context) (State, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := os.ReadFile(s.statePath)
	if errors.Is(err, os.ErrNotExist) {
		return State{}, false, nil
	}
	if err != nil {
		return State{}, false, err
	}

	var st State
	if err := json.Unmarshal(b, &st); err != nil {
		return State{}, false, fmt.Errorf("state file %s is corrupt: %w", s.statePath, err)
	}
	if st.Version != StateVersion {
		return State{}, false, fmt.Errorf("state file %s has unsupported version %d", s.statePath, st.Version)
	}
	return st, true, nil
}

func (s *fileStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return ErrClosed
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	return json.NewEncoder(s.auditFile).Encode(e)
}

// PruneAudit rewrites the audit log keeping only entries at or after the
// cutoff. Unparseable lines are dropped as well.
func (s *fileStore) PruneAudit(ctx context.Context, olderThan time.Time) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return ErrClosed
	}

	in, err := os.Open(s.auditPath)
	if err != nil {
		return err
	}

	tmp := s.auditPath + ".tmp"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		_ = in.Close()
		return err
	}

	kept, dropped := 0, 0
	sc := bufio.NewScanner(in)
	enc := json.NewEncoder(out)
	for sc.Scan() {
		var e AuditEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil || e.At.Before(olderThan) {
			dropped++
			continue
		}
		if err := enc.Encode(e); err != nil {
			_ = in.Close()
			_ = out.Close()
			return err
		}
		kept++
	}
	_ = in.Close()
	if err := sc.Err(); err != nil {
		_ = out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}

	// Swap under the same lock the appender uses, then reopen for append.
	if err := s.auditFile.Close(); err != nil {
		s.auditFile = nil
		return err
	}
	if err := os.Rename(tmp, s.auditPath); err != nil {
		s.auditFile = nil
		return err
	}
	af, err := os.OpenFile(s.auditPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		s.auditFile = nil
		return err
	}
	s.auditFile = af

	s.log.Debug("audit pruned", logx.Int("kept", kept), logx.Int("dropped", dropped))
	return nil
}
