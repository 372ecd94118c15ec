package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free file backend (append-only jsonl)
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// AttemptRecord is one persisted course attempt.
// Keep it compact and schema-stable.
type AttemptRecord struct {
	ID       string        `json:"id"`
	Account  string        `json:"account"`
	CourseID string        `json:"course_id"`
	Status   string        `json:"status"`
	Reason   string        `json:"reason,omitempty"`
	Trigger  string        `json:"trigger"` // "startup", "timer" or "manual"
	At       time.Time     `json:"at"`
	Took     time.Duration `json:"took"`
}
