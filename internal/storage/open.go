package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "respbot/pkg/logx"
)

// Store is the persistence API the scheduler talks to. SaveState replaces
// the whole snapshot; partial updates are not supported on purpose, the
// state document is small and whole-file replacement keeps recovery trivial.
type Store interface {
	SaveState(ctx context.Context, st State) error
	LoadState(ctx context.Context) (State, bool, error)
	AppendAudit(ctx context.Context, e AuditEntry) error
	PruneAudit(ctx context.Context, olderThan time.Time) error
	Close() error
}

// Open initializes the configured store. An empty driver means "file";
// persistence is not optional, claims must survive restarts.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" {
		driver = "file"
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
