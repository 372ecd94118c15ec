package storage

import (
	"context"
	"errors"
	"strings"

	logx "github.com/himecorleone/course-registration-system/pkg/logx"
)

// Store is the attempt-history persistence API.
type Store interface {
	// AppendAttempt persists one attempt record. An empty ID is filled in.
	AppendAttempt(ctx context.Context, rec AttemptRecord) error
	// RecentAttempts returns up to limit records, newest first. An empty
	// account matches all accounts.
	RecentAttempts(ctx context.Context, account string, limit int) ([]AttemptRecord, error)
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
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
